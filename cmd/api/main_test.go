package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"comms-intel-go/internal/insights"
	"comms-intel-go/internal/pipeline"
	"comms-intel-go/internal/store"
	"comms-intel-go/internal/textgen"
	"comms-intel-go/internal/types"
)

func newTestMux(t *testing.T) (*http.ServeMux, *store.Store) {
	t.Helper()
	st, err := store.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	mock := textgen.NewMock()
	return newMux(st, pipeline.New(st, mock, 2), insights.NewSelector(mock)), st
}

func seedEmail(t *testing.T, st *store.Store) {
	t.Helper()
	require.NoError(t, st.UpsertSourceRecords(context.Background(), []types.SourceRecord{
		{ID: "e1", OriginKind: types.OriginEmail,
			RawPayloadRef: "Could you tell me the price of the new model?",
			CustomerID:    "c-1",
			ReceivedAt:    time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)},
	}))
}

func TestEnrichEndpoint(t *testing.T) {
	mux, st := newTestMux(t)
	seedEmail(t, st)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/enrich", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var report pipeline.RunReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Equal(t, 1, report.Sources)
	assert.Equal(t, 1, report.Flattened)
	assert.Empty(t, report.Failures)
}

func TestEnrichErrorKeepsJSONContentType(t *testing.T) {
	st, err := store.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	mock := textgen.NewMock()
	mux := newMux(st, pipeline.New(st, mock, 2), insights.NewSelector(mock))

	// a closed store makes the run fail before any stage
	require.NoError(t, st.Close())

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/enrich", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
}

func TestEnrichRejectsGet(t *testing.T) {
	mux, _ := newTestMux(t)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/enrich", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestStatsIncludesClassificationBreakdown(t *testing.T) {
	mux, st := newTestMux(t)
	seedEmail(t, st)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/enrich", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/stats", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp statsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.TotalRecords)
	assert.Equal(t, map[string]int{"Inquiry": 1}, resp.Classifications)
}

func TestInsightsUnknownGroup(t *testing.T) {
	mux, _ := newTestMux(t)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/insights?group=nope", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
