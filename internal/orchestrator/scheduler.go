package orchestrator

import (
	"context"
	"slices"
	"time"

	"shotforge/internal/domain"
)

// schedule dispatches a batch's queued jobs in groups of GroupSize, pausing
// GroupDelay between groups. Each dispatch holds one unit of the in-flight
// semaphore until its job is terminal.
func (o *Orchestrator) schedule(ctx context.Context, batchID string, ids []string) {
	defer o.workers.Done()

	dispatched := 0
	defer func() {
		if dispatched == len(ids) {
			return
		}
		rest := ids[dispatched:]
		_ = o.do(context.Background(), func() {
			o.cancelWhere(func(j *domain.Job) bool {
				return j.BatchID == batchID && j.State == domain.JobStateIdle && slices.Contains(rest, j.ID)
			}, "batch canceled before dispatch")
		})
	}()

	for start := 0; start < len(ids); start += o.opts.GroupSize {
		if start > 0 && !sleepCtx(ctx, o.opts.GroupDelay) {
			return
		}
		end := min(start+o.opts.GroupSize, len(ids))
		for _, id := range ids[start:end] {
			if err := o.sem.Acquire(ctx, 1); err != nil {
				return
			}
			var att *attempt
			if err := o.do(ctx, func() { att = o.beginAttempt(id, batchID) }); err != nil {
				o.sem.Release(1)
				return
			}
			dispatched++
			if att == nil {
				o.sem.Release(1)
				continue
			}
			o.logger.Debug().
				Str("job_id", id).
				Str("attempt_id", att.id).
				Str("batch_id", batchID).
				Str("model", att.model.ID).
				Msg("job dispatched")
			o.workers.Add(1)
			go o.runAttempt(att)
		}
	}
}

// sleepCtx waits d or until ctx is done. It reports whether the full wait elapsed.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

