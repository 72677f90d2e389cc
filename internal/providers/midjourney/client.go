package midjourney

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"shotforge/internal/domain"
	"shotforge/internal/infra"
	"shotforge/internal/provider"
)

// ErrMissingAPIKey indicates that the client was configured without credentials.
var ErrMissingAPIKey = errors.New("midjourney: api key is required")

var (
	aspectFlag   = regexp.MustCompile(`(?i)--ar\s+\d+:\d+`)
	upscaleLabel = regexp.MustCompile(`^U([1-4])$`)
)

const (
	codeSubmitted = 1
	codeQueued    = 22

	upscaleRenderingProgress = 75
)

// Options configures the grid API client.
type Options struct {
	APIKey            string
	BaseURL           string
	BotType           string
	HTTPClient        *http.Client
	RequestsPerSecond int
	Logger            *infra.Logger
}

// Client drives imagine tasks, which finish as a 2x2 grid preview, and the
// per-quadrant upscale tasks that materialize individual results.
type Client struct {
	botType string
	caller  *provider.JSONCaller
	logger  *infra.Logger
}

type imagineRequest struct {
	Prompt      string   `json:"prompt"`
	BotType     string   `json:"botType"`
	Base64Array []string `json:"base64Array"`
	NotifyHook  string   `json:"notifyHook"`
	State       string   `json:"state"`
}

type changeRequest struct {
	CustomID   string `json:"customId"`
	TaskID     string `json:"taskId,omitempty"`
	NotifyHook string `json:"notifyHook"`
	State      string `json:"state"`
}

type submitResponse struct {
	Code        int    `json:"code"`
	Description string `json:"description"`
	Result      string `json:"result"`
}

type button struct {
	CustomID string `json:"customId"`
	Label    string `json:"label"`
}

type fetchResponse struct {
	ID         string   `json:"id"`
	Action     string   `json:"action"`
	Status     string   `json:"status"`
	Progress   string   `json:"progress"`
	ImageURL   string   `json:"imageUrl"`
	ImageURLs  []string `json:"imageUrls"`
	Buttons    []button `json:"buttons"`
	FailReason string   `json:"failReason"`
}

func (r fetchResponse) image() string {
	if u := strings.TrimSpace(r.ImageURL); u != "" {
		return u
	}
	for _, u := range r.ImageURLs {
		if u = strings.TrimSpace(u); u != "" {
			return u
		}
	}
	return ""
}

// NewClient constructs a client with defaults applied.
func NewClient(opts Options) (*Client, error) {
	key := strings.TrimSpace(opts.APIKey)
	if key == "" {
		return nil, ErrMissingAPIKey
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.302.ai"
	}
	botType := strings.TrimSpace(opts.BotType)
	if botType == "" {
		botType = "MID_JOURNEY"
	}
	logger := opts.Logger
	if logger == nil {
		discard := zerolog.New(io.Discard)
		logger = &discard
	}
	return &Client{
		botType: botType,
		caller: provider.NewJSONCaller(provider.HTTPOptions{
			BaseURL:           baseURL,
			Headers:           map[string]string{"mj-api-secret": key},
			HTTPClient:        opts.HTTPClient,
			RequestsPerSecond: opts.RequestsPerSecond,
			Logger:            logger,
		}),
		logger: logger,
	}, nil
}

// Name identifies the provider in logs and routing.
func (c *Client) Name() string { return "midjourney" }

// Submit starts an imagine task. The aspect ratio travels inside the prompt.
func (c *Client) Submit(ctx context.Context, req provider.GenerationRequest) (provider.Submission, error) {
	if err := req.Validate(); err != nil {
		return provider.Submission{}, err
	}
	if req.ReferenceImage != "" {
		return provider.Submission{}, domain.Errorf(domain.KindValidation, "midjourney submit", "reference images are not supported")
	}
	body := imagineRequest{
		Prompt:      withAspect(req.Prompt, req.AspectRatio),
		BotType:     c.botType,
		Base64Array: []string{},
		State:       req.RequestID,
	}
	return c.submit(ctx, "/mj/submit/imagine", body)
}

// SubmitUpscale materializes one quadrant of a finished grid.
func (c *Client) SubmitUpscale(ctx context.Context, parentTaskID string, handle provider.SubResultHandle) (provider.Submission, error) {
	if strings.TrimSpace(handle.Ref) == "" {
		return provider.Submission{}, domain.Errorf(domain.KindProvider, "midjourney upscale", "empty handle for quadrant %d", handle.Index+1)
	}
	return c.submit(ctx, "/mj/submit/change", changeRequest{CustomID: handle.Ref, TaskID: parentTaskID})
}

func (c *Client) submit(ctx context.Context, path string, body any) (provider.Submission, error) {
	op := "midjourney " + strings.TrimPrefix(path, "/mj/submit/")
	var resp submitResponse
	if err := c.caller.Do(ctx, http.MethodPost, path, body, &resp); err != nil {
		return provider.Submission{}, provider.ClassifyTransport(op, err)
	}
	if resp.Code != codeSubmitted && resp.Code != codeQueued {
		return provider.Submission{}, domain.Errorf(domain.KindProvider, op, "%s (code %d)", resp.Description, resp.Code)
	}
	taskID := strings.TrimSpace(resp.Result)
	if taskID == "" {
		return provider.Submission{}, domain.Errorf(domain.KindProvider, op, "response carried no task id")
	}
	c.logger.Debug().
		Str("task_id", taskID).
		Bool("queued", resp.Code == codeQueued).
		Msg(op + ": task submitted")
	return provider.Submission{TaskID: taskID}, nil
}

// Poll fetches a task. A finished imagine task is reported as a grid preview
// carrying its upscale handles in quadrant order.
func (c *Client) Poll(ctx context.Context, taskID string) (provider.TaskStatus, error) {
	var resp fetchResponse
	if err := c.caller.Do(ctx, http.MethodGet, "/mj/task/"+url.PathEscape(taskID)+"/fetch", nil, &resp); err != nil {
		return provider.TaskStatus{}, provider.ClassifyTransport("midjourney fetch", err)
	}
	out := provider.TaskStatus{TaskID: taskID, Progress: ParseProgress(resp.Progress)}
	img := resp.image()
	isUpscale := strings.EqualFold(resp.Action, "UPSCALE")
	handles := upscaleHandles(resp.Buttons)

	switch strings.ToUpper(strings.TrimSpace(resp.Status)) {
	case "SUCCESS":
		switch {
		case img == "":
			out.Status = provider.StatusProcessing
			out.Progress = max(out.Progress, upscaleRenderingProgress)
		case !isUpscale && len(resp.Buttons) > 0:
			out.Status = provider.StatusCompleted
			out.ResultRef = img
			out.IsGridPreview = true
			out.SubResults = handles
			out.Progress = 100
		default:
			out.Status = provider.StatusCompleted
			out.ResultRef = img
			out.Progress = 100
		}
	case "FAILURE":
		out.Status = provider.StatusFailed
		out.Message = resp.FailReason
		if out.Message == "" {
			out.Message = "task failed"
		}
	case "IN_PROGRESS":
		out.Status = provider.StatusProcessing
	default:
		out.Status = provider.StatusPending
	}
	return out, nil
}

// ParseProgress reads progress strings such as "45%". Unparseable input is 0.
func ParseProgress(raw string) int {
	raw = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(raw), "%"))
	if raw == "" {
		return 0
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0
	}
	return min(max(n, 0), 100)
}

func withAspect(prompt, aspect string) string {
	prompt = strings.TrimSpace(prompt)
	if aspectFlag.MatchString(prompt) {
		return prompt
	}
	if aspect == "" || aspect == "auto" {
		aspect = "16:9"
	}
	return prompt + " --ar " + aspect
}

func upscaleHandles(buttons []button) []provider.SubResultHandle {
	var out []provider.SubResultHandle
	for _, b := range buttons {
		m := upscaleLabel.FindStringSubmatch(strings.TrimSpace(b.Label))
		if m == nil {
			continue
		}
		ref := strings.TrimSpace(b.CustomID)
		if ref == "" {
			continue
		}
		idx, _ := strconv.Atoi(m[1])
		out = append(out, provider.SubResultHandle{Index: idx - 1, Ref: ref})
	}
	slices.SortFunc(out, func(a, b provider.SubResultHandle) int { return a.Index - b.Index })
	return slices.CompactFunc(out, func(a, b provider.SubResultHandle) bool { return a.Index == b.Index })
}

var _ provider.GridClient = (*Client)(nil)
