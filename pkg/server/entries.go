package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/cwbridge/cwbridge/pkg/coordinator"
	"github.com/cwbridge/cwbridge/pkg/integration"
	"github.com/cwbridge/cwbridge/pkg/log"
	"github.com/cwbridge/cwbridge/pkg/storage"
	"github.com/cwbridge/cwbridge/pkg/types"
)

const dateLayout = "2006-01-02"

// defaultPushesRange is how far back the rank push history goes when no start
// is given.
const defaultPushesRange = 30 * 24 * time.Hour

// writeEntryError maps an integration error to a status code.
func writeEntryError(w http.ResponseWriter, r *http.Request, msg string, err error) {
	ctx := r.Context()
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, storage.ErrEntryNotFound):
		code = http.StatusNotFound
	case errors.Is(err, integration.ErrEntryNotLoaded):
		code = http.StatusConflict
	case errors.Is(err, coordinator.ErrInvalidAuth):
		code = http.StatusUnauthorized
	default:
		var ufe *coordinator.UpdateFailedError
		if errors.As(err, &ufe) {
			code = http.StatusBadGateway
		}
	}
	if code == http.StatusInternalServerError {
		log.Ctx(ctx).ErrorContext(ctx, msg, slog.Any("error", err))
	} else {
		log.Ctx(ctx).WarnContext(ctx, msg, slog.Any("error", err))
	}
	writeJSONError(w, msg+": "+err.Error(), code)
}

func (s *Server) handleListEntries(w http.ResponseWriter, r *http.Request) {
	entries, err := s.integration.Entries(r.Context())
	if err != nil {
		writeEntryError(w, r, "failed to list entries", err)
		return
	}
	writeJSON(w, entries)
}

func (s *Server) handleEntryState(w http.ResponseWriter, r *http.Request) {
	status, err := s.integration.Status(r.PathValue("entryID"))
	if err != nil {
		writeEntryError(w, r, "failed to get entry", err)
		return
	}
	writeJSON(w, status)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	entryID := r.PathValue("entryID")
	ctx := log.WithEntry(r.Context(), entryID)
	resp, err := s.integration.Refresh(ctx, entryID)
	if err != nil {
		writeEntryError(w, r.WithContext(ctx), "refresh failed", err)
		return
	}
	writeJSON(w, resp)
}

func (s *Server) handleSetOptions(w http.ResponseWriter, r *http.Request) {
	entryID := r.PathValue("entryID")
	ctx := log.WithEntry(r.Context(), entryID)

	var opts types.Options
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(&opts); err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to decode options", slog.Any("error", err))
		writeJSONError(w, "invalid options", http.StatusBadRequest)
		return
	}

	entry, err := s.integration.SetOptions(ctx, entryID, opts)
	if err != nil {
		writeEntryError(w, r.WithContext(ctx), "failed to update options", err)
		return
	}
	writeJSON(w, entry.Options)
}

func (s *Server) handleRankPushes(w http.ResponseWriter, r *http.Request) {
	entryID := r.PathValue("entryID")
	loc := s.integration.Location()

	end := time.Now().In(loc)
	if v := r.URL.Query().Get("end"); v != "" {
		d, err := time.ParseInLocation(dateLayout, v, loc)
		if err != nil {
			writeJSONError(w, "invalid end date", http.StatusBadRequest)
			return
		}
		// the end date is inclusive
		end = d.AddDate(0, 0, 1)
	}
	start := end.Add(-defaultPushesRange)
	if v := r.URL.Query().Get("start"); v != "" {
		d, err := time.ParseInLocation(dateLayout, v, loc)
		if err != nil {
			writeJSONError(w, "invalid start date", http.StatusBadRequest)
			return
		}
		start = d
	}
	if !start.Before(end) {
		writeJSONError(w, "start must be before end", http.StatusBadRequest)
		return
	}

	pushes, err := s.integration.RankPushes(r.Context(), entryID, start, end)
	if err != nil {
		writeEntryError(w, r, "failed to get rank pushes", err)
		return
	}
	if pushes == nil {
		pushes = []types.RankPush{}
	}
	writeJSON(w, pushes)
}
