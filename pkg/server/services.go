package server

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/cwbridge/cwbridge/pkg/log"
)

type serviceRequest struct {
	EntryID   string `json:"entry_id"`
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
}

// decodeServiceRequest reads the service call body and resolves the entry it
// targets. It writes the error response itself and returns false on failure.
func (s *Server) decodeServiceRequest(w http.ResponseWriter, r *http.Request) (serviceRequest, bool) {
	ctx := r.Context()
	var req serviceRequest
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	// an empty body targets the only configured entry
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		log.Ctx(ctx).WarnContext(ctx, "failed to decode service call", slog.Any("error", err))
		writeJSONError(w, "invalid request", http.StatusBadRequest)
		return req, false
	}
	entryID, err := s.integration.ResolveEntryID(req.EntryID)
	if err != nil {
		writeJSONError(w, err.Error(), http.StatusBadRequest)
		return req, false
	}
	req.EntryID = entryID
	return req, true
}

func (s *Server) handleUpdateHistory(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeServiceRequest(w, r)
	if !ok {
		return
	}
	ctx := log.WithEntry(r.Context(), req.EntryID)

	loc := s.integration.Location()
	start, err := time.ParseInLocation(dateLayout, req.StartDate, loc)
	if err != nil {
		writeJSONError(w, "invalid start_date", http.StatusBadRequest)
		return
	}
	end, err := time.ParseInLocation(dateLayout, req.EndDate, loc)
	if err != nil {
		writeJSONError(w, "invalid end_date", http.StatusBadRequest)
		return
	}
	if end.Before(start) {
		writeJSONError(w, "end_date is before start_date", http.StatusBadRequest)
		return
	}

	res, err := s.integration.UpdateHistory(ctx, req.EntryID, start, end)
	if err != nil {
		writeEntryError(w, r.WithContext(ctx), "update_history failed", err)
		return
	}
	log.Ctx(ctx).InfoContext(ctx, "update_history done", slog.String("status", res.Status), slog.Int("stored", res.StoredItems))
	writeJSON(w, res)
}

func (s *Server) handlePushRank(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeServiceRequest(w, r)
	if !ok {
		return
	}
	ctx := log.WithEntry(r.Context(), req.EntryID)

	res, err := s.integration.PushRank(ctx, req.EntryID)
	if err != nil {
		writeEntryError(w, r.WithContext(ctx), "push_checkwatt_rank failed", err)
		return
	}
	log.Ctx(ctx).InfoContext(ctx, "push_checkwatt_rank done", slog.String("result", res.Result))
	writeJSON(w, res)
}
