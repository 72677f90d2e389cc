package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shotforge/internal/catalog"
	"shotforge/internal/domain"
	"shotforge/internal/http/handlers"
	"shotforge/internal/infra"
	"shotforge/internal/orchestrator"
)

type fakeOrchestrator struct {
	submitted [][]domain.JobSpec
	submitErr error
	batches   map[string]*domain.Batch
	jobs      map[string]*domain.Job
	canceled  []string
	events    chan domain.JobEvent
}

func newFakeOrchestrator() *fakeOrchestrator {
	return &fakeOrchestrator{
		batches: map[string]*domain.Batch{},
		jobs:    map[string]*domain.Job{},
		events:  make(chan domain.JobEvent, 8),
	}
}

func (f *fakeOrchestrator) SubmitBatch(_ context.Context, specs []domain.JobSpec) (*orchestrator.BatchReceipt, error) {
	if f.submitErr != nil {
		return nil, f.submitErr
	}
	f.submitted = append(f.submitted, specs)
	ids := make([]string, 0, len(specs))
	for _, s := range specs {
		ids = append(ids, s.ID)
	}
	return &orchestrator.BatchReceipt{BatchID: "batch-1", JobIDs: ids}, nil
}

func (f *fakeOrchestrator) GetBatch(_ context.Context, id string) (*domain.Batch, error) {
	b, ok := f.batches[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return b, nil
}

func (f *fakeOrchestrator) ListJobs(_ context.Context, batchID string) ([]*domain.Job, error) {
	b, ok := f.batches[batchID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	var out []*domain.Job
	for _, id := range b.JobIDs {
		if j, ok := f.jobs[id]; ok {
			out = append(out, j)
		}
	}
	return out, nil
}

func (f *fakeOrchestrator) CancelBatch(id string) error {
	if _, ok := f.batches[id]; !ok {
		return domain.ErrNotFound
	}
	f.canceled = append(f.canceled, id)
	return nil
}

func (f *fakeOrchestrator) GetJob(_ context.Context, id string) (*domain.Job, error) {
	j, ok := f.jobs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return j, nil
}

func (f *fakeOrchestrator) RetryJob(_ context.Context, id string) (*orchestrator.BatchReceipt, error) {
	j, ok := f.jobs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if j.State != domain.JobStateFailed {
		return nil, domain.ErrInvalidTransition
	}
	return &orchestrator.BatchReceipt{BatchID: "batch-2", JobIDs: []string{id}}, nil
}

func (f *fakeOrchestrator) Subscribe(string) (<-chan domain.JobEvent, func()) {
	return f.events, func() {}
}

func newTestRouter(orch *fakeOrchestrator) http.Handler {
	app := handlers.NewApp(orch, catalog.Default(), nil)
	cfg := &infra.Config{RateLimitPerMin: 1000, CORSAllowedOrigins: []string{"*"}}
	return NewRouter(app, cfg)
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	rec := do(t, newTestRouter(newFakeOrchestrator()), http.MethodGet, "/v1/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestModelsListsCatalog(t *testing.T) {
	rec := do(t, newTestRouter(newFakeOrchestrator()), http.MethodGet, "/v1/models", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var payload struct {
		Items []catalog.Model `json:"items"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&payload))
	assert.NotEmpty(t, payload.Items)
}

func TestCreateBatch(t *testing.T) {
	orch := newFakeOrchestrator()
	h := newTestRouter(orch)

	rec := do(t, h, http.MethodPost, "/v1/batches/", `{"jobs":[{"id":"shot-1","model":"nano-banana-pro","prompt":"a cat"}]}`)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	assert.Equal(t, "/v1/batches/batch-1", rec.Header().Get("Location"))
	require.Len(t, orch.submitted, 1)
	assert.Equal(t, "shot-1", orch.submitted[0][0].ID)

	var receipt orchestrator.BatchReceipt
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&receipt))
	assert.Equal(t, []string{"shot-1"}, receipt.JobIDs)
}

func TestCreateBatchRejectsBadInput(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{name: "malformed json", body: `{"jobs":`, want: "bad_request"},
		{name: "unknown field", body: `{"jobs":[],"extra":1}`, want: "bad_request"},
		{name: "empty batch", body: `{"jobs":[]}`, want: "validation"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := do(t, newTestRouter(newFakeOrchestrator()), http.MethodPost, "/v1/batches/", tc.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Contains(t, rec.Body.String(), tc.want)
		})
	}
}

func TestCreateBatchMapsValidationErrors(t *testing.T) {
	orch := newFakeOrchestrator()
	orch.submitErr = domain.Errorf(domain.KindValidation, "submit batch", "duplicate job id %q", "a")
	rec := do(t, newTestRouter(orch), http.MethodPost, "/v1/batches/", `{"jobs":[{"id":"a","model":"m","prompt":"p"}]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	orch.submitErr = domain.ErrClosed
	rec = do(t, newTestRouter(orch), http.MethodPost, "/v1/batches/", `{"jobs":[{"id":"a","model":"m","prompt":"p"}]}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestGetBatchAndJobs(t *testing.T) {
	orch := newFakeOrchestrator()
	orch.batches["b1"] = &domain.Batch{ID: "b1", JobIDs: []string{"shot-1"}}
	orch.jobs["shot-1"] = &domain.Job{ID: "shot-1", BatchID: "b1", State: domain.JobStateGenerating, Progress: 40}
	h := newTestRouter(orch)

	rec := do(t, h, http.MethodGet, "/v1/batches/b1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var payload struct {
		Batch domain.Batch `json:"batch"`
		Jobs  []domain.Job `json:"jobs"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&payload))
	assert.Equal(t, "b1", payload.Batch.ID)
	require.Len(t, payload.Jobs, 1)
	assert.Equal(t, 40, payload.Jobs[0].Progress)

	rec = do(t, h, http.MethodGet, "/v1/batches/missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, h, http.MethodGet, "/v1/jobs/shot-1", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = do(t, h, http.MethodGet, "/v1/jobs/missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCancelBatch(t *testing.T) {
	orch := newFakeOrchestrator()
	orch.batches["b1"] = &domain.Batch{ID: "b1"}
	h := newTestRouter(orch)

	rec := do(t, h, http.MethodDelete, "/v1/batches/b1", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"b1"}, orch.canceled)

	rec = do(t, h, http.MethodDelete, "/v1/batches/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRetryJob(t *testing.T) {
	orch := newFakeOrchestrator()
	orch.jobs["failed"] = &domain.Job{ID: "failed", State: domain.JobStateFailed}
	orch.jobs["running"] = &domain.Job{ID: "running", State: domain.JobStateGenerating}
	h := newTestRouter(orch)

	rec := do(t, h, http.MethodPost, "/v1/jobs/failed/retry", "")
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "/v1/batches/batch-2", rec.Header().Get("Location"))

	rec = do(t, h, http.MethodPost, "/v1/jobs/running/retry", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestBatchEventsStreamsUntilSettled(t *testing.T) {
	orch := newFakeOrchestrator()
	orch.batches["b1"] = &domain.Batch{ID: "b1"}
	srv := httptest.NewServer(newTestRouter(orch))
	defer srv.Close()

	orch.events <- domain.JobEvent{Type: domain.EventState, JobID: "shot-1", BatchID: "b1", State: domain.JobStateGenerating, Progress: 25}
	orch.events <- domain.JobEvent{Type: domain.EventBatchSettled, BatchID: "b1"}
	close(orch.events)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/batches/b1/events"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	assert.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var got []domain.EventType
	for {
		var ev domain.JobEvent
		if err := conn.ReadJSON(&ev); err != nil {
			assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "unexpected error: %v", err)
			break
		}
		got = append(got, ev.Type)
	}
	assert.Equal(t, []domain.EventType{domain.EventState, domain.EventBatchSettled}, got)
}

func TestBatchEventsUnknownBatch(t *testing.T) {
	rec := do(t, newTestRouter(newFakeOrchestrator()), http.MethodGet, "/v1/batches/nope/events", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCORSPreflight(t *testing.T) {
	req := httptest.NewRequest(http.MethodOptions, "/v1/batches/", bytes.NewReader(nil))
	req.Header.Set("Origin", "https://studio.example")
	rec := httptest.NewRecorder()
	newTestRouter(newFakeOrchestrator()).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}
