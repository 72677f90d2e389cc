package domain

import (
	"slices"
	"time"
)

// BatchClass is the Completion Aggregator's verdict on a batch.
type BatchClass string

const (
	BatchPending BatchClass = "pending"
	BatchUsable  BatchClass = "usable"
	BatchFailed  BatchClass = "failed"
)

// Batch groups jobs submitted by one SubmitBatch call.
type Batch struct {
	ID        string        `json:"id"`
	JobIDs    []string      `json:"job_ids"`
	CreatedAt time.Time     `json:"created_at"`
	Settled   bool          `json:"settled"`
	SettledAt *time.Time    `json:"settled_at,omitempty"`
	Outcome   *BatchOutcome `json:"outcome,omitempty"`
}

// JobFailure is the per-job diagnostic surfaced at settlement.
type JobFailure struct {
	JobID   string    `json:"job_id"`
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

// BatchOutcome is delivered once per batch when every job is terminal.
type BatchOutcome struct {
	BatchID    string       `json:"batch_id"`
	Class      BatchClass   `json:"class"`
	AnySuccess bool         `json:"any_success"`
	Jobs       []Job        `json:"jobs"`
	Succeeded  []string     `json:"succeeded"`
	Failures   []JobFailure `json:"failures,omitempty"`
}

// ResultRef addresses one populated slot for downstream consumers.
type ResultRef struct {
	JobID           string `json:"job_id"`
	ShotNumber      int    `json:"shot_number,omitempty"`
	Slot            int    `json:"slot"`
	Ref             string `json:"ref"`
	Prompt          string `json:"prompt"`
	DerivedArtifact string `json:"derived_artifact,omitempty"`
}

// Results flattens every populated slot of the successful jobs.
func (o BatchOutcome) Results() []ResultRef {
	var out []ResultRef
	for _, j := range o.Jobs {
		if j.State != JobStateCompleted {
			continue
		}
		for slot, ref := range j.Results {
			if ref == "" {
				continue
			}
			out = append(out, ResultRef{
				JobID:           j.ID,
				ShotNumber:      j.Spec.Context.ShotNumber,
				Slot:            slot,
				Ref:             ref,
				Prompt:          j.Spec.Prompt,
				DerivedArtifact: j.DerivedArtifact,
			})
		}
	}
	return out
}

// Clone returns a deep copy of the batch.
func (b *Batch) Clone() *Batch {
	if b == nil {
		return nil
	}
	out := *b
	out.JobIDs = slices.Clone(b.JobIDs)
	if b.SettledAt != nil {
		at := *b.SettledAt
		out.SettledAt = &at
	}
	if b.Outcome != nil {
		o := *b.Outcome
		o.Jobs = slices.Clone(b.Outcome.Jobs)
		o.Succeeded = slices.Clone(b.Outcome.Succeeded)
		o.Failures = slices.Clone(b.Outcome.Failures)
		out.Outcome = &o
	}
	return &out
}
