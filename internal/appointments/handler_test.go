package appointments

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/appointment-saga/internal/saga"
	"github.com/wolfman30/appointment-saga/pkg/logging"
)

func newTestRouter(store RecordStore, dispatcher Dispatcher) http.Handler {
	svc := NewService(store, dispatcher, logging.Discard())
	h := NewHandler(svc, NewValidator([]string{"PE", "CL"}), logging.Discard())
	r := chi.NewRouter()
	r.Mount("/appointments", h.Routes())
	return r
}

func decodeResponse(t *testing.T, rec *httptest.ResponseRecorder) (Response, map[string]any) {
	t.Helper()
	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	var raw map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &raw))
	return resp, raw
}

func TestHandlerCreate(t *testing.T) {
	store := NewMemoryRecordStore()
	router := newTestRouter(store, &stubDispatcher{})

	req := httptest.NewRequest(http.MethodPost, "/appointments", strings.NewReader(`{"ownerId":"12345","scheduleId":100,"countryCode":"PE"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	resp, raw := decodeResponse(t, rec)
	assert.True(t, resp.Success)
	data := raw["data"].(map[string]any)
	assert.Equal(t, "pending", data["status"])
	assert.NotEmpty(t, data["appointmentId"])
	assert.Nil(t, raw["error"])
}

func TestHandlerCreate_ValidationFailure(t *testing.T) {
	router := newTestRouter(NewMemoryRecordStore(), &stubDispatcher{})

	req := httptest.NewRequest(http.MethodPost, "/appointments", strings.NewReader(`{"ownerId":"1234","scheduleId":100,"countryCode":"PE"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	resp, _ := decodeResponse(t, rec)
	assert.False(t, resp.Success)
	assert.Equal(t, "ownerId must be a 5-digit string", resp.Error)
}

func TestHandlerCreate_DispatchFailure(t *testing.T) {
	store := NewMemoryRecordStore()
	router := newTestRouter(store, &stubDispatcher{err: errors.New("queue down")})

	req := httptest.NewRequest(http.MethodPost, "/appointments", strings.NewReader(`{"ownerId":"12345","scheduleId":100,"countryCode":"CL"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	resp, raw := decodeResponse(t, rec)
	assert.False(t, resp.Success)
	assert.Equal(t, DispatchFailureMessage, resp.Error)
	data := raw["data"].(map[string]any)
	assert.Equal(t, "failed", data["status"])

	stored, err := store.Get(context.Background(), data["appointmentId"].(string))
	require.NoError(t, err)
	assert.Equal(t, saga.StatusFailed, stored.Status)
}

func TestHandlerGet(t *testing.T) {
	store := NewMemoryRecordStore()
	require.NoError(t, store.Create(context.Background(), &saga.Record{ID: "a-1", OwnerID: "12345", Status: saga.StatusCompleted}))
	router := newTestRouter(store, &stubDispatcher{})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/appointments/a-1", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	_, raw := decodeResponse(t, rec)
	assert.Equal(t, "completed", raw["data"].(map[string]any)["status"])

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/appointments/missing", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandlerListByOwner(t *testing.T) {
	store := NewMemoryRecordStore()
	require.NoError(t, store.Create(context.Background(), &saga.Record{ID: "a-1", OwnerID: "12345", Status: saga.StatusPending}))
	router := newTestRouter(store, &stubDispatcher{})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/appointments/owner/12345", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	_, raw := decodeResponse(t, rec)
	listing := raw["data"].(map[string]any)
	assert.Equal(t, "12345", listing["ownerId"])
	assert.Equal(t, float64(1), listing["count"])
	assert.Len(t, listing["appointments"], 1)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/appointments/owner/99999", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	_, raw = decodeResponse(t, rec)
	assert.Equal(t, []any{}, raw["data"].(map[string]any)["appointments"])

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/appointments/owner/abc", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
