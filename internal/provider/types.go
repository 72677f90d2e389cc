package provider

import (
	"context"

	"github.com/go-playground/validator/v10"

	"shotforge/internal/domain"
)

// Status is the provider-reported state of one task.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// GenerationRequest is the normalized request handed to any provider.
type GenerationRequest struct {
	Model          string `validate:"required"`
	Prompt         string `validate:"required"`
	Resolution     string
	AspectRatio    string
	Quantity       int    `validate:"gte=1,lte=4"`
	Duration       int    `validate:"gte=0"`
	ReferenceImage string `validate:"omitempty,uri"`
	RequestID      string
}

var requestValidator = validator.New()

// Validate rejects requests that must never reach the network.
func (r GenerationRequest) Validate() error {
	if err := requestValidator.Struct(r); err != nil {
		return domain.NewError(domain.KindValidation, "provider request", err)
	}
	return nil
}

// RequestFromSpec builds the request for one provider task of spec. Flat
// multi-quantity jobs submit one task per slot, so quantity is per task.
func RequestFromSpec(spec domain.JobSpec, quantity int, requestID string) GenerationRequest {
	req := GenerationRequest{
		Model:       spec.Model,
		Prompt:      spec.Prompt,
		Resolution:  spec.Resolution,
		AspectRatio: spec.AspectRatio,
		Quantity:    quantity,
		Duration:    spec.Duration,
		RequestID:   requestID,
	}
	if len(spec.ReferenceImages) > 0 {
		req.ReferenceImage = spec.ReferenceImages[0]
	}
	return req
}

// Submission is the provider's acknowledgement of a request.
type Submission struct {
	TaskID string
}

// SubResultHandle addresses one quadrant of a grid preview.
type SubResultHandle struct {
	Index int
	Ref   string
}

// TaskStatus is one poll observation.
type TaskStatus struct {
	TaskID        string
	Status        Status
	Progress      int
	ResultRef     string
	IsGridPreview bool
	SubResults    []SubResultHandle
	Message       string
}

// Client is the contract every provider implements.
type Client interface {
	Name() string
	Submit(ctx context.Context, req GenerationRequest) (Submission, error)
	Poll(ctx context.Context, taskID string) (TaskStatus, error)
}

// GridClient is implemented by providers whose completions are grid previews.
type GridClient interface {
	Client
	SubmitUpscale(ctx context.Context, parentTaskID string, handle SubResultHandle) (Submission, error)
}
