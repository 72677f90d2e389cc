package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newGeneratingJob(t *testing.T, quantity int) *Job {
	t.Helper()
	now := time.Now()
	j := NewJob(JobSpec{ID: "shot-1", Model: "nano-banana-pro", Quantity: quantity, Prompt: "p"}, "batch-1", now)
	require.NoError(t, j.Begin("attempt-1", now))
	require.NoError(t, j.Accept("task-1", 10, now))
	return j
}

func TestBeginResetsAttempt(t *testing.T) {
	now := time.Now()
	j := NewJob(JobSpec{ID: "shot-1", Model: "m", Quantity: 2, Prompt: "p"}, "b", now)
	j.Error = &JobError{Kind: KindProvider, Message: "old"}
	j.Progress = 40

	require.NoError(t, j.Begin("a1", now))
	assert.Equal(t, JobStateSubmitting, j.State)
	assert.Equal(t, 0, j.Progress)
	assert.Nil(t, j.Error)
	assert.Equal(t, []string{"", ""}, j.Results)

	assert.ErrorIs(t, j.Begin("a2", now), ErrInvalidTransition)
}

func TestProgressIsMonotonic(t *testing.T) {
	j := newGeneratingJob(t, 1)
	now := time.Now()

	assert.True(t, j.ObserveProgress(40, now))
	assert.False(t, j.ObserveProgress(20, now))
	assert.Equal(t, 40, j.Progress)
	assert.True(t, j.ObserveProgress(150, now))
	assert.Equal(t, 99, j.Progress, "non-terminal progress stays below 100")
}

func TestFillSlotRejectsDoubleWrite(t *testing.T) {
	j := newGeneratingJob(t, 4)
	now := time.Now()

	first, err := j.FillSlot(2, "img://c", now)
	require.NoError(t, err)
	assert.True(t, first)

	first, err = j.FillSlot(0, "img://a", now)
	require.NoError(t, err)
	assert.False(t, first)

	_, err = j.FillSlot(2, "img://other", now)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, "img://c", j.Results[2])

	_, err = j.FillSlot(4, "img://x", now)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestCompleteRequiresEverySlot(t *testing.T) {
	j := newGeneratingJob(t, 2)
	now := time.Now()
	_, err := j.FillSlot(0, "img://a", now)
	require.NoError(t, err)

	assert.ErrorIs(t, j.Complete(false, now), ErrInvalidTransition)
	require.NoError(t, j.Complete(true, now))
	assert.Equal(t, JobStateCompleted, j.State)
	assert.True(t, j.Partial)
	assert.Equal(t, 100, j.Progress)
}

func TestCompleteWithoutResultsFailsEvenWhenPartialAllowed(t *testing.T) {
	j := newGeneratingJob(t, 2)
	assert.ErrorIs(t, j.Complete(true, time.Now()), ErrInvalidTransition)
}

func TestTerminalStatesAreFinal(t *testing.T) {
	j := newGeneratingJob(t, 1)
	now := time.Now()
	_, err := j.FillSlot(0, "img://a", now)
	require.NoError(t, err)
	require.NoError(t, j.Complete(false, now))

	assert.False(t, j.Fail(&JobError{Kind: KindTimeout}, now))
	assert.Equal(t, JobStateCompleted, j.State)
	assert.False(t, j.ObserveProgress(10, now))
	assert.Equal(t, 100, j.Progress)
	assert.ErrorIs(t, j.Accept("t2", 0, now), ErrInvalidTransition)
}

func TestFailResetsProgress(t *testing.T) {
	j := newGeneratingJob(t, 1)
	now := time.Now()
	j.ObserveProgress(60, now)

	require.True(t, j.Fail(&JobError{Kind: KindTimeout, Message: "generation timed out"}, now))
	assert.Equal(t, JobStateFailed, j.State)
	assert.Equal(t, 0, j.Progress)
	assert.Equal(t, KindTimeout, j.Error.Kind)
	assert.False(t, j.Fail(&JobError{Kind: KindProvider}, now))
	assert.Equal(t, KindTimeout, j.Error.Kind)
}

func TestDegradeCollapsesToSingleSlot(t *testing.T) {
	j := newGeneratingJob(t, 4)
	now := time.Now()
	require.NoError(t, j.Degrade("grid://preview", now))
	require.NoError(t, j.Complete(false, now))
	assert.Equal(t, []string{"grid://preview"}, j.Results)
	assert.Equal(t, 1, j.Quantity)
	assert.True(t, j.Degraded)
}

func TestErrorKindMatchesSentinel(t *testing.T) {
	err := Errorf(KindTransportFatal, "poll", "dial tcp: connection refused")
	assert.True(t, errors.Is(err, ErrTransportFatal))
	assert.False(t, errors.Is(err, ErrTransportTransient))
	assert.Equal(t, KindTransportFatal, KindOf(err))
	assert.Equal(t, KindProvider, KindOf(errors.New("boom")))
	assert.Equal(t, "poll: dial tcp: connection refused", err.Error())
}

func TestOutcomeResultsSkipEmptySlots(t *testing.T) {
	j := newGeneratingJob(t, 2)
	now := time.Now()
	_, err := j.FillSlot(1, "img://b", now)
	require.NoError(t, err)
	require.NoError(t, j.Complete(true, now))

	out := BatchOutcome{Jobs: []Job{*j}}
	refs := out.Results()
	require.Len(t, refs, 1)
	assert.Equal(t, 1, refs[0].Slot)
	assert.Equal(t, "img://b", refs[0].Ref)
}
