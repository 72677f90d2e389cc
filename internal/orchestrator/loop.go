package orchestrator

import (
	"context"
	"slices"
	"sync"

	"shotforge/internal/catalog"
	"shotforge/internal/domain"
	"shotforge/internal/provider"
)

// plannedJob is a spec after normalization, resolved outside the loop.
type plannedJob struct {
	spec   domain.JobSpec
	model  catalog.Model
	client provider.Client
	err    error
}

// attempt is the loop's record of one dispatched attempt of a job.
type attempt struct {
	id      string
	jobID   string
	batchID string
	spec    domain.JobSpec
	model   catalog.Model
	client  provider.Client
	ctx     context.Context
	cancel  context.CancelFunc
	release func()

	// loop-owned bookkeeping
	slotProgress []int
	children     int
	lastErr      *domain.JobError
}

type batchState struct {
	batch  *domain.Batch
	ctx    context.Context
	cancel context.CancelFunc
	// final holds the last state of jobs retried into a newer batch.
	final map[string]*domain.Job
}

func newBatchState(b *domain.Batch, ctx context.Context, cancel context.CancelFunc) *batchState {
	return &batchState{batch: b, ctx: ctx, cancel: cancel, final: make(map[string]*domain.Job)}
}

type loopState struct {
	jobs     map[string]*domain.Job
	plans    map[string]plannedJob
	attempts map[string]*attempt
	batches  map[string]*batchState
	subs     map[string]map[int]chan domain.JobEvent
	nextSub  int
	closed   bool
}

func newLoopState() *loopState {
	return &loopState{
		jobs:     make(map[string]*domain.Job),
		plans:    make(map[string]plannedJob),
		attempts: make(map[string]*attempt),
		batches:  make(map[string]*batchState),
		subs:     make(map[string]map[int]chan domain.JobEvent),
	}
}

func (s *loopState) subscribe(batchID string, ch chan domain.JobEvent) int {
	s.nextSub++
	if s.subs[batchID] == nil {
		s.subs[batchID] = make(map[int]chan domain.JobEvent)
	}
	s.subs[batchID][s.nextSub] = ch
	return s.nextSub
}

func (s *loopState) unsubscribe(batchID string, id int) {
	if ch, ok := s.subs[batchID][id]; ok {
		delete(s.subs[batchID], id)
		close(ch)
	}
	if len(s.subs[batchID]) == 0 {
		delete(s.subs, batchID)
	}
}

func (s *loopState) closeSubscribers(batchID string) {
	for id := range s.subs[batchID] {
		s.unsubscribe(batchID, id)
	}
}

func (o *Orchestrator) loop() {
	defer close(o.loopDone)
	for {
		select {
		case fn := <-o.inbox:
			fn()
		case ev := <-o.events:
			o.apply(ev)
		case <-o.quit:
			return
		}
	}
}

// plan normalizes a spec and resolves its provider client.
func (o *Orchestrator) plan(spec domain.JobSpec) plannedJob {
	if len(spec.ExistingResults) > 0 {
		return plannedJob{spec: spec, err: spec.Validate()}
	}
	normalized, model, err := o.providers.Normalize(spec)
	if err != nil {
		return plannedJob{spec: spec, err: err}
	}
	client, err := o.providers.Client(model)
	if err != nil {
		return plannedJob{spec: normalized, model: model, err: domain.NewError(domain.KindProvider, "resolve "+spec.ID, err)}
	}
	return plannedJob{spec: normalized, model: model, client: client}
}

// register creates the batch and its jobs, and accounts for the scheduler
// goroutine the caller starts when the queue is non-empty. Runs on the loop.
func (o *Orchestrator) register(planned []plannedJob) (*BatchReceipt, []string, context.Context, error) {
	if o.state.closed {
		return nil, nil, nil, ErrClosed
	}
	for _, p := range planned {
		if j, ok := o.state.jobs[p.spec.ID]; ok && !j.State.IsTerminal() {
			return nil, nil, nil, domain.Errorf(domain.KindValidation, "submit batch", "job %q is already generating", p.spec.ID)
		}
	}
	for _, p := range planned {
		if prev, ok := o.state.jobs[p.spec.ID]; ok {
			if owner, ok := o.state.batches[prev.BatchID]; ok {
				owner.final[prev.ID] = prev.Clone()
			}
		}
	}

	now := o.now()
	bctx, cancel := context.WithCancel(o.rootCtx)
	bs := newBatchState(&domain.Batch{ID: o.newID(), CreatedAt: now}, bctx, cancel)
	receipt := &BatchReceipt{BatchID: bs.batch.ID}
	var queue []string

	for _, p := range planned {
		job := domain.NewJob(p.spec, bs.batch.ID, now)
		bs.batch.JobIDs = append(bs.batch.JobIDs, job.ID)
		receipt.JobIDs = append(receipt.JobIDs, job.ID)
		delete(o.state.attempts, job.ID)
		o.state.jobs[job.ID] = job

		switch {
		case p.err == nil && len(p.spec.ExistingResults) > 0:
			job.SettleWithExisting(p.spec.ExistingResults, now)
		case p.err != nil:
			jobErr := domain.ToJobError(p.err)
			if err := job.Begin(o.newID(), now); err == nil {
				job.Fail(jobErr, now)
			}
			receipt.Rejected = append(receipt.Rejected, domain.JobFailure{JobID: job.ID, Kind: jobErr.Kind, Message: jobErr.Message})
			o.logger.Warn().
				Str("job_id", job.ID).
				Str("batch_id", bs.batch.ID).
				Str("kind", string(jobErr.Kind)).
				Msg(jobErr.Message)
		default:
			o.state.plans[job.ID] = p
			queue = append(queue, job.ID)
		}
		o.persistJob(job)
	}

	o.state.batches[bs.batch.ID] = bs
	o.persistBatch(bs.batch)
	o.checkBatch(bs)
	if len(queue) > 0 {
		o.workers.Add(1)
	}
	return receipt, queue, bctx, nil
}

// beginAttempt moves an idle job into Submitting. It returns nil when the job
// was canceled or replaced before its turn came. Runs on the loop.
func (o *Orchestrator) beginAttempt(jobID, batchID string) *attempt {
	job, ok := o.state.jobs[jobID]
	if !ok || job.BatchID != batchID || job.State != domain.JobStateIdle {
		return nil
	}
	plan, ok := o.state.plans[jobID]
	if !ok {
		return nil
	}
	bs, ok := o.state.batches[batchID]
	if !ok {
		return nil
	}
	attemptID := o.newID()
	if err := job.Begin(attemptID, o.now()); err != nil {
		return nil
	}
	ctx, cancel := context.WithCancel(bs.ctx)
	var once sync.Once
	att := &attempt{
		id:           attemptID,
		jobID:        jobID,
		batchID:      batchID,
		spec:         plan.spec,
		model:        plan.model,
		client:       plan.client,
		ctx:          ctx,
		cancel:       cancel,
		release:      func() { once.Do(func() { o.sem.Release(1) }) },
		slotProgress: make([]int, job.Quantity),
	}
	o.state.attempts[jobID] = att
	delete(o.state.plans, jobID)
	o.persistJob(job)
	o.publish(job, domain.JobEvent{Type: domain.EventState, JobID: jobID, AttemptID: attemptID})
	return att
}

// apply folds one worker event into the job it addresses. Runs on the loop.
func (o *Orchestrator) apply(ev domain.JobEvent) {
	if ev.Type == domain.EventArtifact {
		o.applyArtifact(ev)
		return
	}
	job, ok := o.state.jobs[ev.JobID]
	att := o.state.attempts[ev.JobID]
	if !ok || job.AttemptID != ev.AttemptID || att == nil || att.id != ev.AttemptID {
		o.logger.Debug().Str("job_id", ev.JobID).Str("attempt_id", ev.AttemptID).Str("type", string(ev.Type)).Msg("stale event dropped")
		return
	}
	if job.State.IsTerminal() {
		return
	}

	var err error
	switch ev.Type {
	case domain.EventAccepted:
		err = job.Accept(ev.TaskID, 0, ev.At)
	case domain.EventProgress:
		progress := ev.Progress
		if ev.Slot >= 0 && ev.Slot < len(att.slotProgress) {
			att.slotProgress[ev.Slot] = max(att.slotProgress[ev.Slot], ev.Progress)
			progress = average(att.slotProgress)
		}
		if !job.ObserveProgress(progress, ev.At) {
			return
		}
	case domain.EventFanOut:
		att.children = len(job.Results)
		if err = job.AppendTasks(ev.TaskIDs, ev.At); err == nil {
			job.ObserveProgress(fanOutBase, ev.At)
		}
	case domain.EventSlotFilled:
		var first bool
		first, err = job.FillSlot(ev.Slot, ev.Ref, ev.At)
		if err == nil {
			o.slotResolved(job, att, ev)
			if first {
				o.triggerDerived(job, att, ev.Ref)
			}
		}
	case domain.EventSlotFailed:
		att.lastErr = ev.Err
		if err = job.FailSlot(ev.Slot, ev.At); err == nil {
			if o.opts.FanOutPolicy == RequireAll {
				job.Fail(ev.Err, ev.At)
			} else {
				o.slotResolved(job, att, ev)
			}
		}
	case domain.EventDegraded:
		if err = job.Degrade(ev.Ref, ev.At); err == nil {
			o.triggerDerived(job, att, ev.Ref)
			err = job.Complete(false, ev.At)
		}
	case domain.EventFailed:
		job.Fail(ev.Err, ev.At)
	}
	if err != nil {
		o.logger.Warn().Err(err).Str("job_id", job.ID).Str("type", string(ev.Type)).Msg("event rejected")
		return
	}

	o.persistJob(job)
	o.publish(job, ev)
	if job.State.IsTerminal() {
		o.finishAttempt(job, att)
	}
}

// applyArtifact attaches a derived artifact to the attempt that produced it.
// The job may already have left the loop with its settled batch.
func (o *Orchestrator) applyArtifact(ev domain.JobEvent) {
	if job, ok := o.state.jobs[ev.JobID]; ok {
		if job.AttemptID != ev.AttemptID {
			return
		}
		job.DerivedArtifact = ev.Artifact
		job.UpdatedAt = ev.At
		o.persistJob(job)
		o.publish(job, ev)
		return
	}
	stored, err := o.repo.GetJob(o.rootCtx, ev.JobID)
	if err != nil || stored.AttemptID != ev.AttemptID {
		return
	}
	stored.DerivedArtifact = ev.Artifact
	stored.UpdatedAt = ev.At
	o.persistJob(stored)
}

// slotResolved updates progress and completes the job once every slot is
// filled or failed.
func (o *Orchestrator) slotResolved(job *domain.Job, att *attempt, ev domain.JobEvent) {
	if att.children > 0 {
		resolved := 0
		for i := range job.Results {
			if job.SlotResolved(i) {
				resolved++
			}
		}
		job.ObserveProgress(fanOutProgress(resolved, att.children), ev.At)
	} else if ev.Type == domain.EventSlotFilled && ev.Slot < len(att.slotProgress) {
		att.slotProgress[ev.Slot] = 100
		job.ObserveProgress(average(att.slotProgress), ev.At)
	}
	if !job.AllSlotsResolved() {
		return
	}
	if job.FilledSlots() > 0 {
		if err := job.Complete(o.opts.FanOutPolicy == AcceptPartial, ev.At); err == nil {
			return
		}
	}
	failure := att.lastErr
	if failure == nil {
		failure = &domain.JobError{Kind: domain.KindProvider, Message: "no result was delivered"}
	}
	job.Fail(failure, ev.At)
}

// finishAttempt releases the attempt's capacity and stops its workers.
func (o *Orchestrator) finishAttempt(job *domain.Job, att *attempt) {
	att.release()
	att.cancel()
	ev := o.logger.Info()
	if job.State == domain.JobStateFailed {
		ev = o.logger.Warn().Str("kind", string(job.Error.Kind)).Str("error", job.Error.Message)
	}
	ev.Str("job_id", job.ID).
		Str("attempt_id", att.id).
		Str("batch_id", job.BatchID).
		Str("state", string(job.State)).
		Int("results", job.FilledSlots()).
		Msg("job finished")
	for _, bs := range o.state.batches {
		if slices.Contains(bs.batch.JobIDs, job.ID) {
			o.checkBatch(bs)
		}
	}
}

// cancelWhere fails every non-terminal job accepted by match. Runs on the loop.
func (o *Orchestrator) cancelWhere(match func(*domain.Job) bool, reason string) {
	now := o.now()
	for _, job := range o.state.jobs {
		if job.State.IsTerminal() || !match(job) {
			continue
		}
		jobErr := &domain.JobError{Kind: domain.KindCanceled, Message: reason}
		att := o.state.attempts[job.ID]
		if job.State == domain.JobStateIdle {
			delete(o.state.plans, job.ID)
			if err := job.Begin(o.newID(), now); err != nil {
				continue
			}
		}
		job.Fail(jobErr, now)
		o.persistJob(job)
		o.publish(job, domain.JobEvent{Type: domain.EventFailed, JobID: job.ID, AttemptID: job.AttemptID, Err: jobErr, At: now})
		if att != nil && att.id == job.AttemptID {
			o.finishAttempt(job, att)
			continue
		}
		for _, bs := range o.state.batches {
			if slices.Contains(bs.batch.JobIDs, job.ID) {
				o.checkBatch(bs)
			}
		}
	}
}

// publish fans a state snapshot out to the batch's subscribers without
// blocking the loop.
func (o *Orchestrator) publish(job *domain.Job, cause domain.JobEvent) {
	subs := o.state.subs[job.BatchID]
	if len(subs) == 0 {
		return
	}
	ev := domain.JobEvent{
		Type:      domain.EventState,
		JobID:     job.ID,
		AttemptID: job.AttemptID,
		BatchID:   job.BatchID,
		TaskID:    cause.TaskID,
		Slot:      cause.Slot,
		Ref:       cause.Ref,
		Progress:  job.Progress,
		Artifact:  job.DerivedArtifact,
		Err:       job.Error,
		State:     job.State,
		At:        job.UpdatedAt,
	}
	for id, ch := range subs {
		select {
		case ch <- ev:
		default:
			o.logger.Warn().Str("batch_id", job.BatchID).Int("subscriber", id).Msg("subscriber lagging; event dropped")
		}
	}
}

func (o *Orchestrator) persistJob(job *domain.Job) {
	if err := o.repo.SaveJob(o.rootCtx, job.Clone()); err != nil {
		o.logger.Error().Err(err).Str("job_id", job.ID).Msg("persist job")
	}
}

func (o *Orchestrator) persistBatch(b *domain.Batch) {
	if err := o.repo.SaveBatch(o.rootCtx, b.Clone()); err != nil {
		o.logger.Error().Err(err).Str("batch_id", b.ID).Msg("persist batch")
	}
}

func average(values []int) int {
	if len(values) == 0 {
		return 0
	}
	sum := 0
	for _, v := range values {
		sum += v
	}
	return sum / len(values)
}
