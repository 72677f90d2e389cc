package domain

import (
	"fmt"
	"slices"
	"time"
)

// Begin moves the job into Submitting for a fresh attempt. Terminal jobs may
// begin again; the previous attempt's slots, error and progress are dropped.
func (j *Job) Begin(attemptID string, now time.Time) error {
	if j.State.IsActive() {
		return fmt.Errorf("%w: begin from %s", ErrInvalidTransition, j.State)
	}
	if j.Quantity <= 0 {
		j.Quantity = 1
	}
	j.AttemptID = attemptID
	j.State = JobStateSubmitting
	j.Progress = 0
	j.Error = nil
	j.TaskIDs = nil
	j.Results = make([]string, j.Quantity)
	j.FailedSlots = nil
	j.Partial = false
	j.Degraded = false
	j.DerivedArtifact = ""
	j.UpdatedAt = now
	return nil
}

// Accept records a provider task id. The first accepted task moves the job to
// Generating.
func (j *Job) Accept(taskID string, progress int, now time.Time) error {
	switch j.State {
	case JobStateSubmitting:
		j.State = JobStateGenerating
	case JobStateGenerating:
	default:
		return fmt.Errorf("%w: accept in %s", ErrInvalidTransition, j.State)
	}
	if taskID != "" && !slices.Contains(j.TaskIDs, taskID) {
		j.TaskIDs = append(j.TaskIDs, taskID)
	}
	j.ObserveProgress(progress, now)
	return nil
}

// AppendTasks records fan-out child task ids after the parent grid finished.
func (j *Job) AppendTasks(taskIDs []string, now time.Time) error {
	if j.State != JobStateGenerating {
		return fmt.Errorf("%w: append tasks in %s", ErrInvalidTransition, j.State)
	}
	for _, id := range taskIDs {
		if id != "" && !slices.Contains(j.TaskIDs, id) {
			j.TaskIDs = append(j.TaskIDs, id)
		}
	}
	j.UpdatedAt = now
	return nil
}

// ObserveProgress applies a non-terminal progress report. Progress never moves
// backwards and stays below 100 until completion.
func (j *Job) ObserveProgress(progress int, now time.Time) bool {
	if j.State.IsTerminal() {
		return false
	}
	progress = min(max(progress, 0), 99)
	if progress <= j.Progress {
		return false
	}
	j.Progress = progress
	j.UpdatedAt = now
	return true
}

// FillSlot writes a result into its assigned slot. It reports whether this was
// the first result of the attempt. Filling an already populated slot is
// rejected so that two writers can never share a slot.
func (j *Job) FillSlot(slot int, ref string, now time.Time) (bool, error) {
	if j.State != JobStateGenerating {
		return false, fmt.Errorf("%w: fill slot in %s", ErrInvalidTransition, j.State)
	}
	if slot < 0 || slot >= len(j.Results) {
		return false, fmt.Errorf("%w: slot %d out of range (%d)", ErrInvalidTransition, slot, len(j.Results))
	}
	if ref == "" {
		return false, fmt.Errorf("%w: empty result for slot %d", ErrInvalidTransition, slot)
	}
	if j.Results[slot] != "" {
		return false, fmt.Errorf("%w: slot %d already filled", ErrInvalidTransition, slot)
	}
	first := !j.HasResult()
	j.Results[slot] = ref
	j.UpdatedAt = now
	return first, nil
}

// FailSlot records that the writer assigned to slot gave up. A slot may fail
// before any task was accepted when its own submission was rejected.
func (j *Job) FailSlot(slot int, now time.Time) error {
	if !j.State.IsActive() {
		return fmt.Errorf("%w: fail slot in %s", ErrInvalidTransition, j.State)
	}
	if slot < 0 || slot >= len(j.Results) || j.Results[slot] != "" {
		return fmt.Errorf("%w: slot %d cannot fail", ErrInvalidTransition, slot)
	}
	if !slices.Contains(j.FailedSlots, slot) {
		j.FailedSlots = append(j.FailedSlots, slot)
		slices.Sort(j.FailedSlots)
	}
	j.UpdatedAt = now
	return nil
}

// Degrade collapses the job to a single slot holding ref. Used when a grid
// preview cannot be split into sub-results.
func (j *Job) Degrade(ref string, now time.Time) error {
	if j.State != JobStateGenerating {
		return fmt.Errorf("%w: degrade in %s", ErrInvalidTransition, j.State)
	}
	j.Quantity = 1
	j.Results = []string{ref}
	j.FailedSlots = nil
	j.Degraded = true
	j.UpdatedAt = now
	return nil
}

// Complete moves the job to Completed. Every slot must be filled unless
// allowPartial is set, in which case at least one must be.
func (j *Job) Complete(allowPartial bool, now time.Time) error {
	if j.State != JobStateGenerating {
		return fmt.Errorf("%w: complete in %s", ErrInvalidTransition, j.State)
	}
	filled := j.FilledSlots()
	switch {
	case filled == len(j.Results):
		j.Partial = false
	case allowPartial && filled > 0:
		j.Partial = true
	default:
		return fmt.Errorf("%w: %d of %d slots filled", ErrInvalidTransition, filled, len(j.Results))
	}
	j.State = JobStateCompleted
	j.Progress = 100
	j.UpdatedAt = now
	return nil
}

// Fail moves the job to Failed. It returns false when the job is already
// terminal, leaving it untouched.
func (j *Job) Fail(jobErr *JobError, now time.Time) bool {
	if j.State.IsTerminal() || j.State == JobStateIdle {
		return false
	}
	if jobErr == nil {
		jobErr = &JobError{Kind: KindProvider, Message: ErrProvider.Error()}
	}
	j.State = JobStateFailed
	j.Progress = 0
	j.Error = jobErr
	j.UpdatedAt = now
	return true
}

// SettleWithExisting marks a job carried over with results from a prior
// attempt as completed without contacting a provider.
func (j *Job) SettleWithExisting(results []string, now time.Time) {
	j.Results = slices.Clone(results)
	j.Quantity = len(results)
	j.State = JobStateCompleted
	j.Progress = 100
	j.Error = nil
	j.UpdatedAt = now
}
