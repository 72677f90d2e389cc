package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"shotforge/internal/catalog"
	"shotforge/internal/domain"
	"shotforge/internal/infra"
	"shotforge/internal/orchestrator"
)

// Orchestrator is the part of the job orchestrator the API drives.
type Orchestrator interface {
	SubmitBatch(ctx context.Context, specs []domain.JobSpec) (*orchestrator.BatchReceipt, error)
	GetBatch(ctx context.Context, id string) (*domain.Batch, error)
	ListJobs(ctx context.Context, batchID string) ([]*domain.Job, error)
	CancelBatch(id string) error
	GetJob(ctx context.Context, id string) (*domain.Job, error)
	RetryJob(ctx context.Context, id string) (*orchestrator.BatchReceipt, error)
	Subscribe(batchID string) (<-chan domain.JobEvent, func())
}

type App struct {
	Orchestrator Orchestrator
	Catalog      *catalog.Catalog
	Logger       *infra.Logger
	Upgrader     websocket.Upgrader
	validate     *validator.Validate
}

func NewApp(orch Orchestrator, cat *catalog.Catalog, logger *infra.Logger) *App {
	if logger == nil {
		discard := zerolog.New(io.Discard)
		logger = &discard
	}
	return &App{
		Orchestrator: orch,
		Catalog:      cat,
		Logger:       logger,
		Upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		validate: validator.New(),
	}
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, status int, code, message string) {
	a.json(w, status, map[string]string{"error": code, "message": message})
}

// fail maps orchestrator errors onto HTTP responses.
func (a *App) fail(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		a.error(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, domain.ErrValidation):
		a.error(w, http.StatusBadRequest, "validation", err.Error())
	case errors.Is(err, domain.ErrInvalidTransition):
		a.error(w, http.StatusConflict, "conflict", err.Error())
	case errors.Is(err, domain.ErrClosed), errors.Is(err, orchestrator.ErrNotStarted):
		a.error(w, http.StatusServiceUnavailable, "unavailable", "orchestrator is not running")
	default:
		a.Logger.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		a.error(w, http.StatusInternalServerError, "internal", "internal error")
	}
}
