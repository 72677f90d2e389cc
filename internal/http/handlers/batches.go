package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"shotforge/internal/domain"
)

const maxBatchBody = 1 << 20

type createBatchRequest struct {
	Jobs []domain.JobSpec `json:"jobs" validate:"required,min=1,max=200"`
}

type batchResponse struct {
	Batch *domain.Batch `json:"batch"`
	Jobs  []*domain.Job `json:"jobs"`
}

// CreateBatch registers a batch and answers before any job is dispatched.
func (a *App) CreateBatch(w http.ResponseWriter, r *http.Request) {
	var req createBatchRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBatchBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	if err := a.validate.Struct(req); err != nil {
		a.error(w, http.StatusBadRequest, "validation", err.Error())
		return
	}
	receipt, err := a.Orchestrator.SubmitBatch(r.Context(), req.Jobs)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	w.Header().Set("Location", "/v1/batches/"+receipt.BatchID)
	a.json(w, http.StatusAccepted, receipt)
}

func (a *App) GetBatch(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	batch, err := a.Orchestrator.GetBatch(r.Context(), id)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	jobs, err := a.Orchestrator.ListJobs(r.Context(), id)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusOK, batchResponse{Batch: batch, Jobs: jobs})
}

func (a *App) CancelBatch(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := a.Orchestrator.CancelBatch(id); err != nil {
		a.fail(w, r, err)
		return
	}
	batch, err := a.Orchestrator.GetBatch(r.Context(), id)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusOK, map[string]any{"batch": batch})
}
