package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/cwbridge/cwbridge/pkg/coordinator"
	"github.com/cwbridge/cwbridge/pkg/integration"
	"github.com/cwbridge/cwbridge/pkg/storage"
	"github.com/cwbridge/cwbridge/pkg/types"
)

func newTestServer() (*Server, *mockIntegration) {
	mi := &mockIntegration{}
	return &Server{
		integration: mi,
		bypassAuth:  true,
		serverName:  "cwbridge-test",
	}, mi
}

func doRequest(t *testing.T, h http.Handler, method, url string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, url, &buf)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestHealthz(t *testing.T) {
	srv, _ := newTestServer()
	w := doRequest(t, srv.setupHandler(), http.MethodGet, "/healthz", nil)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", w.Body.String())
	assert.Equal(t, "cwbridge-test", w.Header().Get("Server"))
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "default-src 'none'; frame-ancestors 'none'", w.Header().Get("Content-Security-Policy"))
	assert.Equal(t, "no-referrer", w.Header().Get("Referrer-Policy"))
	assert.Equal(t, "no-store", w.Header().Get("Cache-Control"))
	assert.Empty(t, w.Header().Get("X-Frame-Options"))
}

func TestSecurityHeadersOnErrors(t *testing.T) {
	srv, _ := newTestServer()
	srv.bypassAuth = false
	w := doRequest(t, srv.setupHandler(), http.MethodGet, "/api/entries", nil)

	// rejected before reaching a handler
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "default-src 'none'; frame-ancestors 'none'", w.Header().Get("Content-Security-Policy"))
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
}

func TestListEntries(t *testing.T) {
	srv, mi := newTestServer()
	mi.On("Entries", mock.Anything).Return([]integration.EntryStatus{
		{ID: "e1", Title: "CheckWatt", State: integration.StateLoaded},
		{ID: "e2", State: integration.StateReauthRequired},
	}, nil)

	w := doRequest(t, srv.setupHandler(), http.MethodGet, "/api/entries", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var got []integration.EntryStatus
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	require.Len(t, got, 2)
	assert.Equal(t, "e1", got[0].ID)
	assert.Equal(t, integration.StateReauthRequired, got[1].State)
}

func TestEntryState(t *testing.T) {
	srv, mi := newTestServer()
	mi.On("Status", "e1").Return(integration.EntryStatus{
		ID:    "e1",
		State: integration.StateLoaded,
		Data:  map[string]any{"id": "cust-1"},
	}, nil)
	mi.On("Status", "missing").Return(integration.EntryStatus{}, fmt.Errorf("%w: missing", storage.ErrEntryNotFound))

	t.Run("Known", func(t *testing.T) {
		w := doRequest(t, srv.setupHandler(), http.MethodGet, "/api/entries/e1/state", nil)
		require.Equal(t, http.StatusOK, w.Code)
		var got integration.EntryStatus
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
		assert.Equal(t, "cust-1", got.Data["id"])
	})

	t.Run("Unknown", func(t *testing.T) {
		w := doRequest(t, srv.setupHandler(), http.MethodGet, "/api/entries/missing/state", nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.Contains(t, w.Body.String(), "entry not found")
	})
}

func TestRefresh(t *testing.T) {
	srv, mi := newTestServer()
	mi.On("Refresh", mock.Anything, "e1").Return(types.Response{ID: "cust-1", DisplayName: "Jane"}, nil)
	mi.On("Refresh", mock.Anything, "e2").Return(types.Response{}, fmt.Errorf("%w: e2", integration.ErrEntryNotLoaded))
	mi.On("Refresh", mock.Anything, "e3").Return(types.Response{}, &coordinator.UpdateFailedError{Step: "customer details", Err: assert.AnError})
	mi.On("Refresh", mock.Anything, "e4").Return(types.Response{}, coordinator.ErrInvalidAuth)

	w := doRequest(t, srv.setupHandler(), http.MethodPost, "/api/entries/e1/refresh", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var got types.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, "Jane", got.DisplayName)

	w = doRequest(t, srv.setupHandler(), http.MethodPost, "/api/entries/e2/refresh", nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = doRequest(t, srv.setupHandler(), http.MethodPost, "/api/entries/e3/refresh", nil)
	assert.Equal(t, http.StatusBadGateway, w.Code)

	w = doRequest(t, srv.setupHandler(), http.MethodPost, "/api/entries/e4/refresh", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = doRequest(t, srv.setupHandler(), http.MethodGet, "/api/entries/e1/refresh", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestSetOptions(t *testing.T) {
	srv, mi := newTestServer()
	opts := types.Options{ShowDetails: true, PushToRank: true, RankName: "Jane"}
	mi.On("SetOptions", mock.Anything, "e1", opts).Return(types.ConfigEntry{ID: "e1", Options: opts}, nil)

	w := doRequest(t, srv.setupHandler(), http.MethodPost, "/api/entries/e1/options", map[string]any{
		"show_details":    true,
		"push_to_cw_rank": true,
		"cwr_name":        "Jane",
	})
	require.Equal(t, http.StatusOK, w.Code)
	var got types.Options
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, opts, got)

	req := httptest.NewRequest(http.MethodPost, "/api/entries/e1/options", bytes.NewBufferString("{"))
	rec := httptest.NewRecorder()
	srv.setupHandler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	mi.AssertNumberOfCalls(t, "SetOptions", 1)
}

func TestRankPushes(t *testing.T) {
	srv, mi := newTestServer()
	start := time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 4, 11, 0, 0, 0, 0, time.UTC)
	mi.On("RankPushes", mock.Anything, "e1", start, end).Return([]types.RankPush{
		{ID: "p1", Timestamp: time.Date(2024, 4, 10, 11, 5, 0, 0, time.UTC), TodayNetIncome: 12.5, Success: true},
	}, nil)
	mi.On("RankPushes", mock.Anything, "e2", mock.Anything, mock.Anything).Return(nil, nil)

	w := doRequest(t, srv.setupHandler(), http.MethodGet, "/api/entries/e1/pushes?start=2024-04-01&end=2024-04-10", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var got []types.RankPush
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	require.Len(t, got, 1)
	assert.Equal(t, 12.5, got[0].TodayNetIncome)

	w = doRequest(t, srv.setupHandler(), http.MethodGet, "/api/entries/e2/pushes", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, "[]", w.Body.String())

	w = doRequest(t, srv.setupHandler(), http.MethodGet, "/api/entries/e1/pushes?start=yesterday", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doRequest(t, srv.setupHandler(), http.MethodGet, "/api/entries/e1/pushes?start=2024-04-10&end=2024-04-01", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestUpdateHistoryService(t *testing.T) {
	srv, mi := newTestServer()
	start := time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 4, 9, 0, 0, 0, 0, time.UTC)
	mi.On("ResolveEntryID", "").Return("e1", nil)
	mi.On("ResolveEntryID", "e1").Return("e1", nil)
	mi.On("UpdateHistory", mock.Anything, "e1", start, end).Return(coordinator.HistoryResult{
		StartDate:   "2024-04-01",
		EndDate:     "2024-04-09",
		Status:      coordinator.StatusPushSucceeded,
		StoredItems: 9,
		TotalItems:  9,
	}, nil)

	t.Run("Success", func(t *testing.T) {
		w := doRequest(t, srv.setupHandler(), http.MethodPost, "/api/services/update_history", map[string]string{
			"start_date": "2024-04-01",
			"end_date":   "2024-04-09",
		})
		require.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{
			"start_date": "2024-04-01",
			"end_date": "2024-04-09",
			"status": "Data successfully sent to CheckWattRank",
			"stored_items": 9,
			"total_items": 9
		}`, w.Body.String())
	})

	t.Run("Invalid Date", func(t *testing.T) {
		w := doRequest(t, srv.setupHandler(), http.MethodPost, "/api/services/update_history", map[string]string{
			"entry_id":   "e1",
			"start_date": "2024-04-01",
			"end_date":   "april",
		})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("Reversed Range", func(t *testing.T) {
		w := doRequest(t, srv.setupHandler(), http.MethodPost, "/api/services/update_history", map[string]string{
			"entry_id":   "e1",
			"start_date": "2024-04-09",
			"end_date":   "2024-04-01",
		})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	mi.AssertNumberOfCalls(t, "UpdateHistory", 1)
}

func TestPushRankService(t *testing.T) {
	srv, mi := newTestServer()
	mi.On("ResolveEntryID", "").Return("", fmt.Errorf("entry_id required, 2 entries configured"))
	mi.On("ResolveEntryID", "e1").Return("e1", nil)
	mi.On("ResolveEntryID", "e2").Return("e2", nil)
	mi.On("PushRank", mock.Anything, "e1").Return(coordinator.PushResult{Result: coordinator.StatusPushSucceeded}, nil)
	mi.On("PushRank", mock.Anything, "e2").Return(coordinator.PushResult{}, coordinator.ErrInvalidAuth)

	w := doRequest(t, srv.setupHandler(), http.MethodPost, "/api/services/push_checkwatt_rank", map[string]string{"entry_id": "e1"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"result": "Data successfully sent to CheckWattRank"}`, w.Body.String())

	w = doRequest(t, srv.setupHandler(), http.MethodPost, "/api/services/push_checkwatt_rank", map[string]string{"entry_id": "e2"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// an empty body needs exactly one configured entry
	w = doRequest(t, srv.setupHandler(), http.MethodPost, "/api/services/push_checkwatt_rank", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "entry_id required")
}
