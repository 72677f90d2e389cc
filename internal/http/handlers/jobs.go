package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

func (a *App) GetJob(w http.ResponseWriter, r *http.Request) {
	job, err := a.Orchestrator.GetJob(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusOK, job)
}

// RetryJob starts a fresh attempt of a failed job in a new batch.
func (a *App) RetryJob(w http.ResponseWriter, r *http.Request) {
	receipt, err := a.Orchestrator.RetryJob(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	w.Header().Set("Location", "/v1/batches/"+receipt.BatchID)
	a.json(w, http.StatusAccepted, receipt)
}
