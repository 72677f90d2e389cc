package orchestrator

import (
	"context"
	"fmt"

	"shotforge/internal/derived"
	"shotforge/internal/domain"
)

// checkBatch settles bs once every job is terminal. A batch with at least one
// completed job is usable; the failed jobs are reported alongside. Runs on
// the loop, so a batch settles at most once.
func (o *Orchestrator) checkBatch(bs *batchState) {
	if bs.batch.Settled {
		return
	}
	jobs := make([]*domain.Job, 0, len(bs.batch.JobIDs))
	for _, id := range bs.batch.JobIDs {
		j, ok := bs.final[id]
		if !ok {
			if j, ok = o.state.jobs[id]; !ok || !j.State.IsTerminal() {
				return
			}
		}
		jobs = append(jobs, j)
	}

	outcome := domain.BatchOutcome{BatchID: bs.batch.ID, Class: domain.BatchFailed}
	for _, j := range jobs {
		outcome.Jobs = append(outcome.Jobs, *j.Clone())
		if j.State == domain.JobStateCompleted && j.HasResult() {
			outcome.AnySuccess = true
			outcome.Succeeded = append(outcome.Succeeded, j.ID)
			continue
		}
		f := domain.JobFailure{JobID: j.ID, Kind: domain.KindProvider, Message: domain.ErrProvider.Error()}
		if j.Error != nil {
			f.Kind, f.Message = j.Error.Kind, j.Error.Message
		}
		outcome.Failures = append(outcome.Failures, f)
	}
	if outcome.AnySuccess {
		outcome.Class = domain.BatchUsable
	}

	now := o.now()
	bs.batch.Settled = true
	bs.batch.SettledAt = &now
	bs.batch.Outcome = &outcome
	bs.cancel()
	o.persistBatch(bs.batch)

	ev := o.logger.Info()
	if !outcome.AnySuccess {
		ev = o.logger.Warn()
	}
	ev.Str("batch_id", bs.batch.ID).
		Str("class", string(outcome.Class)).
		Int("succeeded", len(outcome.Succeeded)).
		Int("failed", len(outcome.Failures)).
		Msg("batch settled")

	settled := domain.JobEvent{Type: domain.EventBatchSettled, BatchID: bs.batch.ID, At: now}
	for id, ch := range o.state.subs[bs.batch.ID] {
		select {
		case ch <- settled:
		default:
			o.logger.Warn().Str("batch_id", bs.batch.ID).Int("subscriber", id).Msg("subscriber lagging; settlement dropped")
		}
	}
	o.state.closeSubscribers(bs.batch.ID)

	o.cbMu.Lock()
	callbacks := append([]func(domain.BatchOutcome){}, o.callbacks...)
	o.cbMu.Unlock()
	if len(callbacks) > 0 {
		o.notifiers.Add(1)
		go func() {
			defer o.notifiers.Done()
			for _, fn := range callbacks {
				o.notify(fn, outcome)
			}
		}()
	}

	delete(o.state.batches, bs.batch.ID)
	for _, id := range bs.batch.JobIDs {
		if j, ok := o.state.jobs[id]; ok && j.BatchID == bs.batch.ID {
			delete(o.state.jobs, id)
			delete(o.state.attempts, id)
			delete(o.state.plans, id)
		}
	}
}

// notify shields the orchestrator from a panicking consumer.
func (o *Orchestrator) notify(fn func(domain.BatchOutcome), outcome domain.BatchOutcome) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error().Str("batch_id", outcome.BatchID).Interface("panic", r).Msg("batch settled callback panicked")
		}
	}()
	fn(outcome)
}

// triggerDerived asks for the derived artifact of a job's first result. The
// call runs detached from the attempt; its failure is only logged.
func (o *Orchestrator) triggerDerived(job *domain.Job, att *attempt, ref string) {
	if o.derived == nil {
		return
	}
	req := derived.Request{
		JobID:          job.ID,
		AttemptID:      att.id,
		ResultRef:      ref,
		Prompt:         job.Spec.Prompt,
		ScriptID:       job.Spec.Context.ScriptID,
		ShotNumber:     job.Spec.Context.ShotNumber,
		WorkStyle:      job.Spec.Context.WorkStyle,
		WorkBackground: job.Spec.Context.WorkBackground,
	}
	o.notifiers.Add(1)
	go func() {
		defer o.notifiers.Done()
		ctx, cancel := context.WithTimeout(o.rootCtx, o.opts.DerivedTimeout)
		defer cancel()
		artifact, err := o.derived.Generate(ctx, req)
		if err != nil {
			o.logger.Warn().Err(err).Str("job_id", req.JobID).Str("attempt_id", req.AttemptID).Msg("derived artifact failed")
			return
		}
		o.emit(domain.JobEvent{
			Type:      domain.EventArtifact,
			JobID:     req.JobID,
			AttemptID: req.AttemptID,
			BatchID:   job.BatchID,
			Artifact:  artifact,
		})
	}()
}

// recoverOpen fails jobs a previous process left active and settles their
// batches. Nothing is resubmitted.
func (o *Orchestrator) recoverOpen(ctx context.Context) error {
	batches, err := o.repo.ListOpenBatches(ctx)
	if err != nil {
		return fmt.Errorf("orchestrator: list open batches: %w", err)
	}
	if len(batches) == 0 {
		return nil
	}
	return o.do(ctx, func() {
		now := o.now()
		for _, b := range batches {
			jobs, err := o.repo.ListJobs(ctx, b.JobIDs)
			if err != nil {
				o.logger.Error().Err(err).Str("batch_id", b.ID).Msg("recover batch")
				continue
			}
			bctx, cancel := context.WithCancel(o.rootCtx)
			bs := newBatchState(b, bctx, cancel)
			o.state.batches[b.ID] = bs
			for _, j := range jobs {
				if !j.State.IsTerminal() {
					if j.State == domain.JobStateIdle {
						_ = j.Begin(o.newID(), now)
					}
					j.Fail(&domain.JobError{Kind: domain.KindCanceled, Message: "interrupted by restart"}, now)
					o.persistJob(j)
				}
				if j.BatchID != b.ID {
					bs.final[j.ID] = j
					continue
				}
				o.state.jobs[j.ID] = j
			}
			o.checkBatch(bs)
			o.logger.Info().Str("batch_id", b.ID).Msg("recovered open batch")
		}
	})
}
