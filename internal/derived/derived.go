package derived

import (
	"context"
	"errors"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"shotforge/internal/infra"
)

// DefaultMaxLength caps a motion prompt, in runes.
const DefaultMaxLength = 200

const defaultMotion = "slow camera push-in"

// ErrEmptyArtifact is returned when a generator produced nothing usable.
var ErrEmptyArtifact = errors.New("derived: empty artifact")

// Request is the input for one derived artifact: the first landed result of
// a job plus its shot context.
type Request struct {
	JobID          string
	AttemptID      string
	ResultRef      string
	Prompt         string
	ScriptID       string
	ShotNumber     int
	WorkStyle      string
	WorkBackground string
}

// Generator produces a derived text artifact from a result.
type Generator interface {
	Generate(ctx context.Context, req Request) (string, error)
}

// Fallback tries primary and uses secondary when primary fails.
type Fallback struct {
	primary   Generator
	secondary Generator
	logger    *infra.Logger
}

// NewFallback chains two generators.
func NewFallback(primary, secondary Generator, logger *infra.Logger) *Fallback {
	if logger == nil {
		discard := zerolog.New(io.Discard)
		logger = &discard
	}
	return &Fallback{primary: primary, secondary: secondary, logger: logger}
}

func (f *Fallback) Generate(ctx context.Context, req Request) (string, error) {
	out, err := f.primary.Generate(ctx, req)
	if err == nil {
		return out, nil
	}
	if ctx.Err() != nil {
		return "", err
	}
	f.logger.Warn().Err(err).Str("job_id", req.JobID).Msg("derived: primary generator failed; using fallback")
	return f.secondary.Generate(ctx, req)
}

// cleanMotion strips quoting and labels a model tends to add, then truncates.
func cleanMotion(raw string, maxLen int) string {
	out := strings.TrimSpace(raw)
	out = strings.Trim(out, "\"'`")
	if idx := strings.Index(strings.ToLower(out), "motion:"); idx >= 0 {
		out = strings.TrimSpace(out[idx+len("motion:"):])
	}
	if maxLen > 0 && utf8.RuneCountInString(out) > maxLen {
		out = string([]rune(out)[:maxLen])
	}
	return strings.TrimSpace(out)
}

var (
	_ Generator = (*Fallback)(nil)
	_ Generator = (*StaticGenerator)(nil)
	_ Generator = (*GeminiGenerator)(nil)
	_ Generator = (*Recorder)(nil)
)
