package orchestrator

import (
	"fmt"
	"sync"
	"time"

	"shotforge/internal/domain"
	"shotforge/internal/provider"
)

type pollRole int

const (
	roleFlat pollRole = iota
	roleGrid
	roleChild
)

func (r pollRole) String() string {
	switch r {
	case roleGrid:
		return "grid"
	case roleChild:
		return "child"
	default:
		return "flat"
	}
}

// pollTarget is one provider task and the slot its result belongs to.
type pollTarget struct {
	role   pollRole
	slot   int
	taskID string
}

func (o *Orchestrator) runAttempt(att *attempt) {
	defer o.workers.Done()
	if att.model.IsGrid() {
		o.runGrid(att)
		return
	}
	o.runFlat(att)
}

// runFlat submits one task per slot, spaced to stay under provider rate
// limits, and polls each independently.
func (o *Orchestrator) runFlat(att *attempt) {
	var wg sync.WaitGroup
	defer wg.Wait()

	for slot := range att.slotProgress {
		if slot > 0 && !sleepCtx(att.ctx, o.opts.FlatSubmitSpacing) {
			return
		}
		req := provider.RequestFromSpec(att.spec, 1, fmt.Sprintf("%s-%d", att.id, slot))
		sub, err := att.client.Submit(att.ctx, req)
		if err != nil {
			o.failTarget(att, pollTarget{role: roleFlat, slot: slot}, provider.ClassifyTransport("submit", err))
			continue
		}
		o.emit(att.event(domain.JobEvent{Type: domain.EventAccepted, TaskID: sub.TaskID, Slot: slot}))
		target := pollTarget{role: roleFlat, slot: slot, taskID: sub.TaskID}
		wg.Add(1)
		go func() {
			defer wg.Done()
			o.poll(att, target)
		}()
	}
}

// runGrid submits the grid task and drives it through fan-out.
func (o *Orchestrator) runGrid(att *attempt) {
	req := provider.RequestFromSpec(att.spec, att.spec.Quantity, att.id)
	sub, err := att.client.Submit(att.ctx, req)
	if err != nil {
		o.failTarget(att, pollTarget{role: roleGrid}, provider.ClassifyTransport("submit", err))
		return
	}
	o.emit(att.event(domain.JobEvent{Type: domain.EventAccepted, TaskID: sub.TaskID}))
	o.poll(att, pollTarget{role: roleGrid, slot: -1, taskID: sub.TaskID})
}

// poll queries one task until it reaches a terminal status, the poll budget is
// spent, or the transport fails for good. A grid parent that hands off to
// fan-out keeps polling until every child has reported.
func (o *Orchestrator) poll(att *attempt, t pollTarget) {
	log := o.logger.With().
		Str("job_id", att.jobID).
		Str("attempt_id", att.id).
		Str("task_id", t.taskID).
		Stringer("role", t.role).
		Logger()

	if !sleepCtx(att.ctx, o.opts.InitialDelay) {
		return
	}

	var (
		failures int
		children <-chan struct{}
	)
	for polls := 0; ; polls++ {
		if polls >= o.opts.MaxPolls {
			if children != nil {
				return
			}
			log.Warn().Int("polls", polls).Msg("poll budget exhausted")
			o.failTarget(att, t, domain.Errorf(domain.KindTimeout, "poll "+t.taskID, "generation timed out after %d polls", polls))
			return
		}

		status, err := att.client.Poll(att.ctx, t.taskID)
		if att.ctx.Err() != nil {
			return
		}
		if err != nil {
			err = provider.ClassifyTransport("poll "+t.taskID, err)
			kind := domain.KindOf(err)
			if kind.Retryable() && failures < o.opts.TransientRetries {
				failures++
				log.Debug().Err(err).Int("failures", failures).Msg("transient poll error; backing off")
				if !o.pause(att, o.opts.TransientBackoff, children) {
					return
				}
				continue
			}
			if children != nil {
				log.Debug().Err(err).Msg("parent poll stopped while children render")
				return
			}
			log.Warn().Err(err).Str("kind", string(kind)).Msg("poll failed")
			o.failTarget(att, t, err)
			return
		}
		failures = 0

		switch status.Status {
		case provider.StatusCompleted:
			if children != nil {
				break
			}
			if t.role == roleGrid && status.IsGridPreview {
				children = o.fanOut(att, t.taskID, status)
				if children == nil {
					return
				}
				break
			}
			o.completeTarget(att, t, status)
			return
		case provider.StatusFailed:
			if children != nil {
				return
			}
			msg := status.Message
			if msg == "" {
				msg = "task failed"
			}
			o.failTarget(att, t, domain.Errorf(domain.KindProvider, "poll "+t.taskID, "%s", msg))
			return
		default:
			if children == nil {
				o.reportProgress(att, t, status.Progress)
			}
		}

		interval := o.opts.PendingInterval
		if status.Status == provider.StatusProcessing {
			interval = o.opts.ProcessingInterval
		}
		if !o.pause(att, interval, children) {
			return
		}
	}
}

// pause sleeps between polls. It returns false when the attempt ended or,
// while watching a fanned-out parent, once every child has reported.
func (o *Orchestrator) pause(att *attempt, d time.Duration, children <-chan struct{}) bool {
	if children == nil {
		return sleepCtx(att.ctx, d)
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-children:
		return false
	case <-att.ctx.Done():
		return false
	}
}

func (o *Orchestrator) reportProgress(att *attempt, t pollTarget, progress int) {
	switch t.role {
	case roleGrid:
		o.emit(att.event(domain.JobEvent{Type: domain.EventProgress, Slot: -1, Progress: progress * fanOutBase / 100}))
	case roleFlat:
		o.emit(att.event(domain.JobEvent{Type: domain.EventProgress, Slot: t.slot, Progress: progress}))
	}
}

func (o *Orchestrator) completeTarget(att *attempt, t pollTarget, status provider.TaskStatus) {
	if status.ResultRef == "" {
		o.failTarget(att, t, domain.Errorf(domain.KindProvider, "poll "+t.taskID, "completed without a result"))
		return
	}
	if t.role == roleGrid {
		o.emit(att.event(domain.JobEvent{Type: domain.EventDegraded, TaskID: t.taskID, Ref: status.ResultRef}))
		return
	}
	o.emit(att.event(domain.JobEvent{Type: domain.EventSlotFilled, TaskID: t.taskID, Slot: t.slot, Ref: status.ResultRef}))
}

// failTarget reports a failure. A grid parent fails the whole job, as does an
// unreachable provider seen by a flat slot. A fan-out child only ever fails its
// own slot and the fan-out policy decides what the job becomes.
func (o *Orchestrator) failTarget(att *attempt, t pollTarget, err error) {
	jobErr := domain.ToJobError(err)
	if t.role == roleGrid || (t.role == roleFlat && jobErr.Kind == domain.KindTransportFatal) {
		o.emit(att.event(domain.JobEvent{Type: domain.EventFailed, TaskID: t.taskID, Err: jobErr}))
		return
	}
	o.emit(att.event(domain.JobEvent{Type: domain.EventSlotFailed, TaskID: t.taskID, Slot: t.slot, Err: jobErr}))
}

// event stamps ev with the attempt it belongs to.
func (a *attempt) event(ev domain.JobEvent) domain.JobEvent {
	ev.JobID = a.jobID
	ev.AttemptID = a.id
	ev.BatchID = a.batchID
	return ev
}
