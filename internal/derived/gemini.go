package derived

import (
	"context"
	"fmt"
	"io"
	"mime"
	"path"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/genai"

	"shotforge/internal/infra"
)

const (
	defaultGeminiModel = "gemini-2.5-flash"
	systemInstruction  = "You write short camera and subject motion prompts for image-to-video models. " +
		"Answer with the motion prompt only."
)

// GeminiOptions configures the Gemini-backed generator.
type GeminiOptions struct {
	APIKey      string
	Model       string
	Temperature float32
	Timeout     time.Duration
	MaxLength   int
	Logger      *infra.Logger
}

// GeminiGenerator asks Gemini for a motion prompt describing how the shot
// should move when animated.
type GeminiGenerator struct {
	client      *genai.Client
	model       string
	temperature float32
	timeout     time.Duration
	maxLength   int
	logger      *infra.Logger
}

// NewGeminiGenerator connects to the Gemini API.
func NewGeminiGenerator(ctx context.Context, opts GeminiOptions) (*GeminiGenerator, error) {
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, fmt.Errorf("derived: gemini api key is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  opts.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("derived: init genai client: %w", err)
	}
	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = defaultGeminiModel
	}
	temperature := opts.Temperature
	if temperature <= 0 {
		temperature = 0.7
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	maxLength := opts.MaxLength
	if maxLength <= 0 {
		maxLength = DefaultMaxLength
	}
	logger := opts.Logger
	if logger == nil {
		discard := zerolog.New(io.Discard)
		logger = &discard
	}
	return &GeminiGenerator{
		client:      client,
		model:       model,
		temperature: temperature,
		timeout:     timeout,
		maxLength:   maxLength,
		logger:      logger,
	}, nil
}

func (g *GeminiGenerator) Generate(ctx context.Context, req Request) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	parts := []*genai.Part{genai.NewPartFromText(buildInstruction(req))}
	if strings.HasPrefix(req.ResultRef, "http://") || strings.HasPrefix(req.ResultRef, "https://") {
		parts = append(parts, genai.NewPartFromURI(req.ResultRef, imageMIME(req.ResultRef)))
	}
	contents := []*genai.Content{{Role: genai.RoleUser, Parts: parts}}
	config := &genai.GenerateContentConfig{
		Temperature:       genai.Ptr(g.temperature),
		SystemInstruction: genai.NewContentFromText(systemInstruction, genai.RoleUser),
	}

	started := time.Now()
	resp, err := g.client.Models.GenerateContent(ctx, g.model, contents, config)
	if err != nil {
		return "", fmt.Errorf("derived: gemini generate: %w", err)
	}
	out := cleanMotion(resp.Text(), g.maxLength)
	if out == "" {
		return "", ErrEmptyArtifact
	}
	g.logger.Debug().
		Str("job_id", req.JobID).
		Str("model", g.model).
		Dur("duration", time.Since(started)).
		Msg("derived: motion prompt generated")
	return out, nil
}

func buildInstruction(req Request) string {
	var b strings.Builder
	b.WriteString("Describe the motion for this storyboard shot as a single short prompt.\n")
	if req.ShotNumber > 0 {
		fmt.Fprintf(&b, "Shot number: %d\n", req.ShotNumber)
	}
	if req.Prompt != "" {
		fmt.Fprintf(&b, "Image prompt: %s\n", req.Prompt)
	}
	if req.WorkStyle != "" {
		fmt.Fprintf(&b, "Style: %s\n", req.WorkStyle)
	}
	if req.WorkBackground != "" {
		fmt.Fprintf(&b, "Setting: %s\n", req.WorkBackground)
	}
	b.WriteString("Keep it under 40 words and describe camera movement first.")
	return b.String()
}

func imageMIME(ref string) string {
	u := ref
	if i := strings.IndexAny(u, "?#"); i >= 0 {
		u = u[:i]
	}
	if t := mime.TypeByExtension(strings.ToLower(path.Ext(u))); strings.HasPrefix(t, "image/") {
		return t
	}
	return "image/png"
}
