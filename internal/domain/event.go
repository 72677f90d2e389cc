package domain

import "time"

// EventType enumerates job events exchanged between workers and the event loop.
type EventType string

const (
	EventAccepted     EventType = "accepted"
	EventProgress     EventType = "progress"
	EventFanOut       EventType = "fan_out"
	EventSlotFilled   EventType = "slot_filled"
	EventSlotFailed   EventType = "slot_failed"
	EventDegraded     EventType = "degraded"
	EventFailed       EventType = "failed"
	EventArtifact     EventType = "artifact"
	// EventState is published to subscribers after any applied event.
	EventState        EventType = "state"
	// EventBatchSettled is the last event a batch subscriber receives.
	EventBatchSettled EventType = "batch_settled"
)

// JobEvent is a single observation about one attempt of one job. Workers never
// mutate jobs directly; they send events that are applied in order.
type JobEvent struct {
	Type      EventType `json:"type"`
	JobID     string    `json:"job_id"`
	AttemptID string    `json:"attempt_id"`
	BatchID   string    `json:"batch_id,omitempty"`
	TaskID    string    `json:"task_id,omitempty"`
	TaskIDs   []string  `json:"task_ids,omitempty"`
	Slot      int       `json:"slot"`
	Ref       string    `json:"ref,omitempty"`
	Progress  int       `json:"progress"`
	Artifact  string    `json:"artifact,omitempty"`
	Err       *JobError `json:"error,omitempty"`
	State     JobState  `json:"state,omitempty"`
	At        time.Time `json:"at"`
}
