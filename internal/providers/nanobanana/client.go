package nanobanana

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"shotforge/internal/domain"
	"shotforge/internal/infra"
	"shotforge/internal/provider"
)

// ErrMissingAPIKey indicates that the client was configured without credentials.
var ErrMissingAPIKey = errors.New("nanobanana: api key is required")

// Options configures the flat draw API client.
type Options struct {
	APIKey            string
	BaseURL           string
	Endpoint          string
	HTTPClient        *http.Client
	RequestsPerSecond int
	Logger            *infra.Logger
	Now               func() time.Time
}

// Client submits draw tasks and reads their results. Every task yields a
// single result.
type Client struct {
	endpoint string
	caller   *provider.JSONCaller
	logger   *infra.Logger
	now      func() time.Time

	mu        sync.Mutex
	submitted map[string]time.Time
}

type drawRequest struct {
	Model       string `json:"model"`
	Prompt      string `json:"prompt"`
	AspectRatio string `json:"aspect_ratio,omitempty"`
	Size        string `json:"size,omitempty"`
	Duration    int    `json:"duration,omitempty"`
	Image       string `json:"image,omitempty"`
	ImageURL    string `json:"image_url,omitempty"`
}

type taskRef struct {
	TaskID    string `json:"task_id"`
	TaskIDAlt string `json:"taskId"`
	ID        string `json:"id"`
}

type drawResponse struct {
	taskRef
	Code int     `json:"code"`
	Msg  string  `json:"msg"`
	Data taskRef `json:"data"`
}

func (r drawResponse) taskID() string {
	for _, id := range []string{r.TaskID, r.TaskIDAlt, r.Data.TaskID, r.Data.TaskIDAlt, r.ID, r.Data.ID} {
		if id = strings.TrimSpace(id); id != "" {
			return id
		}
	}
	return ""
}

type resultRequest struct {
	TaskID string `json:"task_id"`
}

type resultResponse struct {
	TaskID        string `json:"task_id"`
	Status        string `json:"status"`
	ImageURL      string `json:"image_url"`
	VideoURL      string `json:"video_url"`
	Progress      int    `json:"progress"`
	FailureReason string `json:"failure_reason"`
	Error         string `json:"error"`
}

// NewClient constructs a client with defaults applied.
func NewClient(opts Options) (*Client, error) {
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, ErrMissingAPIKey
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://grsai.dakka.com.cn"
	}
	endpoint := strings.Trim(opts.Endpoint, "/")
	if endpoint == "" {
		endpoint = "nano-banana"
	}
	logger := opts.Logger
	if logger == nil {
		discard := zerolog.New(io.Discard)
		logger = &discard
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	key := strings.TrimSpace(opts.APIKey)
	return &Client{
		endpoint: endpoint,
		caller: provider.NewJSONCaller(provider.HTTPOptions{
			BaseURL:           baseURL,
			Headers:           map[string]string{"Authorization": "Bearer " + key},
			HTTPClient:        opts.HTTPClient,
			RequestsPerSecond: opts.RequestsPerSecond,
			Logger:            logger,
		}),
		logger:    logger,
		now:       now,
		submitted: make(map[string]time.Time),
	}, nil
}

// Name identifies the provider in logs and routing.
func (c *Client) Name() string { return "nanobanana" }

// Submit starts one draw task.
func (c *Client) Submit(ctx context.Context, req provider.GenerationRequest) (provider.Submission, error) {
	if err := req.Validate(); err != nil {
		return provider.Submission{}, err
	}
	body := drawRequest{
		Model:       req.Model,
		Prompt:      req.Prompt,
		AspectRatio: req.AspectRatio,
		Size:        req.Resolution,
		Duration:    req.Duration,
	}
	path := "/v1/draw/" + c.endpoint
	if ref := req.ReferenceImage; ref != "" {
		path += "-image-to-image"
		if strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") {
			body.ImageURL = ref
		} else {
			body.Image = ref
		}
	}

	var resp drawResponse
	if err := c.caller.Do(ctx, http.MethodPost, path, body, &resp); err != nil {
		return provider.Submission{}, provider.ClassifyTransport("nanobanana submit", err)
	}
	if resp.Code < 0 {
		return provider.Submission{}, domain.Errorf(domain.KindProvider, "nanobanana submit", "%s (code %d)", resp.Msg, resp.Code)
	}
	taskID := resp.taskID()
	if taskID == "" {
		return provider.Submission{}, domain.Errorf(domain.KindProvider, "nanobanana submit", "response carried no task id")
	}
	c.mu.Lock()
	c.submitted[taskID] = c.now()
	c.mu.Unlock()

	c.logger.Debug().
		Str("task_id", taskID).
		Str("model", req.Model).
		Bool("image_to_image", req.ReferenceImage != "").
		Msg("nanobanana: task submitted")
	return provider.Submission{TaskID: taskID}, nil
}

// Poll reads the current state of a task.
func (c *Client) Poll(ctx context.Context, taskID string) (provider.TaskStatus, error) {
	var resp resultResponse
	if err := c.caller.Do(ctx, http.MethodPost, "/v1/draw/result", resultRequest{TaskID: taskID}, &resp); err != nil {
		return provider.TaskStatus{}, provider.ClassifyTransport("nanobanana poll", err)
	}
	out := provider.TaskStatus{TaskID: taskID, Progress: resp.Progress}
	ref := strings.TrimSpace(resp.ImageURL)
	if ref == "" {
		ref = strings.TrimSpace(resp.VideoURL)
	}

	switch status := strings.ToLower(strings.TrimSpace(resp.Status)); status {
	case "completed", "succeeded", "success":
		if ref == "" {
			out.Status = provider.StatusProcessing
			out.Progress = max(out.Progress, 90)
			return out, nil
		}
		out.Status = provider.StatusCompleted
		out.ResultRef = ref
		out.Progress = 100
		c.forget(taskID)
	case "failed", "failure", "error":
		out.Status = provider.StatusFailed
		out.Message = firstNonEmpty(resp.FailureReason, resp.Error, "task failed")
		c.forget(taskID)
	case "processing", "running":
		out.Status = provider.StatusProcessing
		if out.Progress == 0 {
			out.Progress = c.estimate(taskID, status)
		}
	default:
		out.Status = provider.StatusPending
		if out.Progress == 0 {
			out.Progress = c.estimate(taskID, status)
		}
	}
	return out, nil
}

// estimate synthesizes progress from elapsed time when the API reports none.
func (c *Client) estimate(taskID, status string) int {
	c.mu.Lock()
	started, ok := c.submitted[taskID]
	c.mu.Unlock()
	if !ok {
		return 10
	}
	elapsed := c.now().Sub(started).Seconds()
	switch status {
	case "processing", "running":
		return min(95, max(20, int(elapsed/60*100)))
	case "created", "queued":
		return min(20, max(10, int(elapsed)))
	default:
		return 10
	}
}

func (c *Client) forget(taskID string) {
	c.mu.Lock()
	delete(c.submitted, taskID)
	c.mu.Unlock()
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

func (c *Client) String() string {
	return fmt.Sprintf("nanobanana(%s)", c.endpoint)
}

var _ provider.Client = (*Client)(nil)
