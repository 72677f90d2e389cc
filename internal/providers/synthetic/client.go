package synthetic

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/url"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"shotforge/internal/domain"
	"shotforge/internal/infra"
	"shotforge/internal/provider"
)

const defaultSteps = 3

// Options configures the in-process provider.
type Options struct {
	// Grid makes finished imagine tasks report a 2x2 preview with upscale handles.
	Grid   bool
	Steps  int
	Logger *infra.Logger
}

// Client is a deterministic provider that needs no credentials. Every task
// reports pending, then processing, then completes after Steps polls.
type Client struct {
	grid   bool
	steps  int
	logger *infra.Logger

	mu    sync.Mutex
	tasks map[string]*task
}

type task struct {
	model    string
	seed     string
	polls    int
	quadrant int
}

// NewClient returns a ready client.
func NewClient(opts Options) *Client {
	steps := opts.Steps
	if steps <= 0 {
		steps = defaultSteps
	}
	logger := opts.Logger
	if logger == nil {
		discard := zerolog.New(io.Discard)
		logger = &discard
	}
	return &Client{grid: opts.Grid, steps: steps, logger: logger, tasks: make(map[string]*task)}
}

// Name identifies the provider in logs and routing.
func (c *Client) Name() string {
	if c.grid {
		return "synthetic-grid"
	}
	return "synthetic"
}

// Submit registers a task keyed by a deterministic seed of the request.
func (c *Client) Submit(ctx context.Context, req provider.GenerationRequest) (provider.Submission, error) {
	if err := req.Validate(); err != nil {
		return provider.Submission{}, err
	}
	if err := ctx.Err(); err != nil {
		return provider.Submission{}, domain.NewError(domain.KindCanceled, "synthetic submit", err)
	}
	seed := deterministicSeed(req.RequestID, req.Model, req.Prompt, req.Resolution, req.AspectRatio)
	id := "syn-" + seed
	c.mu.Lock()
	c.tasks[id] = &task{model: req.Model, seed: seed, quadrant: -1}
	c.mu.Unlock()
	c.logger.Debug().Str("task_id", id).Str("model", req.Model).Msg("synthetic: task submitted")
	return provider.Submission{TaskID: id}, nil
}

// SubmitUpscale registers a child task for one quadrant.
func (c *Client) SubmitUpscale(ctx context.Context, parentTaskID string, handle provider.SubResultHandle) (provider.Submission, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	parent, ok := c.tasks[parentTaskID]
	if !ok {
		return provider.Submission{}, domain.Errorf(domain.KindProvider, "synthetic upscale", "unknown task %s", parentTaskID)
	}
	id := fmt.Sprintf("%s-u%d", parentTaskID, handle.Index+1)
	c.tasks[id] = &task{model: parent.model, seed: parent.seed, quadrant: handle.Index}
	return provider.Submission{TaskID: id}, nil
}

// Poll advances the task by one step.
func (c *Client) Poll(ctx context.Context, taskID string) (provider.TaskStatus, error) {
	if err := ctx.Err(); err != nil {
		return provider.TaskStatus{}, domain.NewError(domain.KindCanceled, "synthetic poll", err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.tasks[taskID]
	if !ok {
		return provider.TaskStatus{}, domain.Errorf(domain.KindProvider, "synthetic poll", "unknown task %s", taskID)
	}
	t.polls++
	out := provider.TaskStatus{TaskID: taskID}
	switch {
	case t.polls == 1 && c.steps > 1:
		out.Status = provider.StatusPending
	case t.polls < c.steps:
		out.Status = provider.StatusProcessing
		out.Progress = t.polls * 100 / c.steps
	default:
		out.Status = provider.StatusCompleted
		out.Progress = 100
		switch {
		case t.quadrant >= 0:
			out.ResultRef = assetURL(t.model, t.seed, t.quadrant+1)
		case c.grid:
			out.ResultRef = assetURL(t.model, t.seed, 0)
			out.IsGridPreview = true
			for i := range 4 {
				out.SubResults = append(out.SubResults, provider.SubResultHandle{Index: i, Ref: fmt.Sprintf("U%d", i+1)})
			}
		default:
			out.ResultRef = assetURL(t.model, t.seed, 1)
		}
	}
	return out, nil
}

func assetURL(model, seed string, index int) string {
	return fmt.Sprintf("synthetic://%s/%s/%02d.png", url.PathEscape(strings.ToLower(model)), seed, index)
}

func deterministicSeed(parts ...any) string {
	hasher := sha256.New()
	for _, part := range parts {
		hasher.Write([]byte(fmt.Sprintf("%v", part)))
		hasher.Write([]byte{'|'})
	}
	return hex.EncodeToString(hasher.Sum(nil))[:16]
}

var _ provider.GridClient = (*Client)(nil)
