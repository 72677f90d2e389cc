package derived

import (
	"context"
	"io"

	"github.com/rs/zerolog"

	"shotforge/internal/infra"
	"shotforge/internal/storage"
)

// ArtifactWriter persists artifact bytes under a key.
type ArtifactWriter interface {
	Write(ctx context.Context, key string, data []byte) (string, error)
}

// Recorder keeps a copy of every generated artifact in a store. Store
// failures are logged; the artifact is still returned.
type Recorder struct {
	next   Generator
	store  ArtifactWriter
	logger *infra.Logger
}

func NewRecorder(next Generator, store ArtifactWriter, logger *infra.Logger) *Recorder {
	if logger == nil {
		discard := zerolog.New(io.Discard)
		logger = &discard
	}
	return &Recorder{next: next, store: store, logger: logger}
}

func (r *Recorder) Generate(ctx context.Context, req Request) (string, error) {
	out, err := r.next.Generate(ctx, req)
	if err != nil {
		return "", err
	}
	key, werr := r.store.Write(ctx, storage.ArtifactKey(req.JobID, req.AttemptID), []byte(out))
	if werr != nil {
		r.logger.Warn().Err(werr).Str("job_id", req.JobID).Msg("derived: persist artifact failed")
		return out, nil
	}
	r.logger.Debug().Str("job_id", req.JobID).Str("key", key).Msg("derived: artifact stored")
	return out, nil
}
