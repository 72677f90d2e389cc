package domain

import (
	"slices"
	"time"

	"github.com/go-playground/validator/v10"
)

// JobState enumerates the lifecycle of one generation attempt.
type JobState string

const (
	JobStateIdle       JobState = "idle"
	JobStateSubmitting JobState = "submitting"
	JobStateGenerating JobState = "generating"
	JobStateCompleted  JobState = "completed"
	JobStateFailed     JobState = "failed"
)

// IsTerminal reports whether no further transition can happen within the attempt.
func (s JobState) IsTerminal() bool {
	return s == JobStateCompleted || s == JobStateFailed
}

// IsActive reports whether the attempt holds provider capacity.
func (s JobState) IsActive() bool {
	return s == JobStateSubmitting || s == JobStateGenerating
}

// ShotContext carries the shot metadata forwarded to derived-artifact generation.
type ShotContext struct {
	ScriptID       string `json:"script_id,omitempty"`
	ShotNumber     int    `json:"shot_number,omitempty" validate:"gte=0"`
	WorkStyle      string `json:"work_style,omitempty"`
	WorkBackground string `json:"work_background,omitempty"`
}

// JobSpec is the caller-side description of a unit of work.
type JobSpec struct {
	ID              string      `json:"id" validate:"required,max=128"`
	Model           string      `json:"model" validate:"required"`
	Quantity        int         `json:"quantity,omitempty" validate:"omitempty,oneof=1 2 4"`
	Prompt          string      `json:"prompt" validate:"required"`
	Resolution      string      `json:"resolution,omitempty"`
	AspectRatio     string      `json:"aspect_ratio,omitempty"`
	Duration        int         `json:"duration,omitempty" validate:"gte=0"`
	ReferenceImages []string    `json:"reference_images,omitempty" validate:"omitempty,dive,required"`
	Context         ShotContext `json:"context"`
	// ExistingResults are results kept from a previous attempt. A spec carrying
	// any is settled immediately and never resubmitted.
	ExistingResults []string `json:"existing_results,omitempty" validate:"omitempty,dive,required"`
}

// JobError records the classification of a failed attempt.
type JobError struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

// Job is the tracked state of one shot's generation attempt.
type Job struct {
	ID        string   `json:"id"`
	BatchID   string   `json:"batch_id"`
	AttemptID string   `json:"attempt_id"`
	Spec      JobSpec  `json:"spec"`
	Model     string   `json:"model"`
	Quantity  int      `json:"quantity"`
	State     JobState `json:"state"`
	Progress  int      `json:"progress"`
	TaskIDs   []string `json:"task_ids"`
	// Results is a fixed slot array; an empty string is an empty slot.
	Results         []string  `json:"results"`
	FailedSlots     []int     `json:"failed_slots,omitempty"`
	Partial         bool      `json:"partial,omitempty"`
	Degraded        bool      `json:"degraded,omitempty"`
	Error           *JobError `json:"error,omitempty"`
	DerivedArtifact string    `json:"derived_artifact,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// NewJob builds an idle job for the given spec.
func NewJob(spec JobSpec, batchID string, now time.Time) *Job {
	quantity := spec.Quantity
	if quantity <= 0 {
		quantity = 1
	}
	return &Job{
		ID:        spec.ID,
		BatchID:   batchID,
		Spec:      spec,
		Model:     spec.Model,
		Quantity:  quantity,
		State:     JobStateIdle,
		Results:   make([]string, quantity),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Clone returns a deep copy safe to hand to other goroutines.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	out := *j
	out.Spec.ReferenceImages = slices.Clone(j.Spec.ReferenceImages)
	out.Spec.ExistingResults = slices.Clone(j.Spec.ExistingResults)
	out.TaskIDs = slices.Clone(j.TaskIDs)
	out.Results = slices.Clone(j.Results)
	out.FailedSlots = slices.Clone(j.FailedSlots)
	if j.Error != nil {
		e := *j.Error
		out.Error = &e
	}
	return &out
}

// FilledSlots counts populated result slots.
func (j *Job) FilledSlots() int {
	n := 0
	for _, r := range j.Results {
		if r != "" {
			n++
		}
	}
	return n
}

// HasResult reports whether at least one slot holds a result.
func (j *Job) HasResult() bool {
	return j.FilledSlots() > 0
}

// PopulatedResults returns the non-empty slots in slot order.
func (j *Job) PopulatedResults() []string {
	out := make([]string, 0, len(j.Results))
	for _, r := range j.Results {
		if r != "" {
			out = append(out, r)
		}
	}
	return out
}

// SlotResolved reports whether the slot is filled or recorded as failed.
func (j *Job) SlotResolved(slot int) bool {
	if slot < 0 || slot >= len(j.Results) {
		return true
	}
	return j.Results[slot] != "" || slices.Contains(j.FailedSlots, slot)
}

// AllSlotsResolved reports whether every slot is filled or failed.
func (j *Job) AllSlotsResolved() bool {
	for i := range j.Results {
		if !j.SlotResolved(i) {
			return false
		}
	}
	return true
}

var specValidator = validator.New()

// Validate checks the structural constraints of the spec. Model capability
// rules are applied separately by the catalog.
func (s JobSpec) Validate() error {
	if err := specValidator.Struct(s); err != nil {
		return NewError(KindValidation, "validate "+s.ID, err)
	}
	return nil
}
