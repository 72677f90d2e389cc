package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/semaphore"

	"shotforge/internal/catalog"
	"shotforge/internal/derived"
	"shotforge/internal/domain"
	"shotforge/internal/infra"
	"shotforge/internal/provider"
)

var (
	// ErrNotStarted is returned by calls that need the event loop before Start.
	ErrNotStarted = errors.New("orchestrator: not started")
	// ErrClosed is returned once the orchestrator has been closed.
	ErrClosed = domain.ErrClosed
)

// ProviderResolver validates specs against model capabilities and picks the
// client serving a model.
type ProviderResolver interface {
	Normalize(spec domain.JobSpec) (domain.JobSpec, catalog.Model, error)
	Client(m catalog.Model) (provider.Client, error)
}

// BatchReceipt is returned as soon as a batch is registered. Rejected lists
// specs that failed validation; those jobs are already Failed.
type BatchReceipt struct {
	BatchID  string              `json:"batch_id"`
	JobIDs   []string            `json:"job_ids"`
	Rejected []domain.JobFailure `json:"rejected,omitempty"`
}

// Orchestrator runs generation jobs. A single event loop goroutine owns every
// job; pollers, fan-out workers and the scheduler only send it messages.
type Orchestrator struct {
	repo      domain.Repository
	providers ProviderResolver
	opts      Options
	logger    *infra.Logger
	derived   derived.Generator
	newID     func() string
	now       func() time.Time

	events chan domain.JobEvent
	inbox  chan func()
	sem    *semaphore.Weighted
	cron   *cron.Cron

	cbMu      sync.Mutex
	callbacks []func(domain.BatchOutcome)

	startOnce sync.Once
	closeOnce sync.Once
	started   chan struct{}
	loopDone  chan struct{}
	quit      chan struct{}
	rootCtx   context.Context
	cancel    context.CancelFunc
	workers   sync.WaitGroup
	notifiers sync.WaitGroup

	// owned by the event loop
	state *loopState
}

// New wires an orchestrator. Call Start before submitting work.
func New(repo domain.Repository, providers ProviderResolver, opts Options, options ...Option) *Orchestrator {
	opts = opts.withDefaults()
	o := &Orchestrator{
		repo:      repo,
		providers: providers,
		opts:      opts,
		logger:    defaultLogger(),
		newID:     newUUID,
		now:       time.Now,
		events:    make(chan domain.JobEvent, 256),
		inbox:     make(chan func()),
		sem:       semaphore.NewWeighted(int64(opts.MaxInFlight)),
		started:   make(chan struct{}),
		loopDone:  make(chan struct{}),
		quit:      make(chan struct{}),
		state:     newLoopState(),
	}
	for _, opt := range options {
		opt(o)
	}
	return o
}

// Options returns the effective configuration.
func (o *Orchestrator) Options() Options { return o.opts }

// Start launches the event loop and the aggregator sweep. Jobs left active by
// a previous process are failed so their batches can settle.
func (o *Orchestrator) Start(ctx context.Context) error {
	err := ErrClosed
	o.startOnce.Do(func() {
		o.rootCtx, o.cancel = context.WithCancel(context.WithoutCancel(ctx))
		go o.loop()
		close(o.started)

		o.cron = cron.New()
		if _, cerr := o.cron.AddFunc("@every "+o.opts.SweepInterval.String(), o.sweep); cerr != nil {
			err = fmt.Errorf("orchestrator: schedule sweep: %w", cerr)
			return
		}
		o.cron.Start()

		err = o.recoverOpen(ctx)
		if err == nil {
			o.logger.Info().
				Int("max_in_flight", o.opts.MaxInFlight).
				Int("group_size", o.opts.GroupSize).
				Str("fan_out_policy", string(o.opts.FanOutPolicy)).
				Msg("orchestrator started")
		}
	})
	if err != nil {
		return err
	}
	go func() {
		select {
		case <-ctx.Done():
			o.Close()
		case <-o.quit:
		}
	}()
	return nil
}

// Close cancels in-flight work, fails every non-terminal job with a canceled
// classification, and stops the event loop.
func (o *Orchestrator) Close() error {
	select {
	case <-o.started:
	default:
		return nil
	}
	o.closeOnce.Do(func() {
		_ = o.do(context.Background(), func() {
			o.state.closed = true
			o.cancelWhere(func(*domain.Job) bool { return true }, "orchestrator closed")
		})
		o.cancel()
		if o.cron != nil {
			<-o.cron.Stop().Done()
		}
		o.workers.Wait()
		close(o.quit)
		<-o.loopDone
		o.notifiers.Wait()
		o.logger.Info().Msg("orchestrator stopped")
	})
	return nil
}

// SubmitBatch registers specs as one batch and returns immediately; the jobs
// are dispatched in the background. Validation failures are reported in the
// receipt and never reach a provider.
func (o *Orchestrator) SubmitBatch(ctx context.Context, specs []domain.JobSpec) (*BatchReceipt, error) {
	if len(specs) == 0 {
		return nil, domain.Errorf(domain.KindValidation, "submit batch", "batch has no jobs")
	}
	seen := make(map[string]struct{}, len(specs))
	for _, s := range specs {
		if _, dup := seen[s.ID]; dup {
			return nil, domain.Errorf(domain.KindValidation, "submit batch", "duplicate job id %q", s.ID)
		}
		seen[s.ID] = struct{}{}
	}

	planned := make([]plannedJob, len(specs))
	for i, spec := range specs {
		planned[i] = o.plan(spec)
	}

	var (
		receipt *BatchReceipt
		queue   []string
		bctx    context.Context
		regErr  error
	)
	err := o.do(ctx, func() {
		receipt, queue, bctx, regErr = o.register(planned)
	})
	if err != nil {
		return nil, err
	}
	if regErr != nil {
		return nil, regErr
	}
	if len(queue) > 0 {
		go o.schedule(bctx, receipt.BatchID, queue)
	}
	o.logger.Info().
		Str("batch_id", receipt.BatchID).
		Int("jobs", len(receipt.JobIDs)).
		Int("queued", len(queue)).
		Int("rejected", len(receipt.Rejected)).
		Msg("batch submitted")
	return receipt, nil
}

// GetJob returns the latest snapshot of a job.
func (o *Orchestrator) GetJob(ctx context.Context, id string) (*domain.Job, error) {
	return o.repo.GetJob(ctx, id)
}

// GetBatch returns a batch with its outcome once settled.
func (o *Orchestrator) GetBatch(ctx context.Context, id string) (*domain.Batch, error) {
	return o.repo.GetBatch(ctx, id)
}

// ListJobs returns the current snapshots of a batch's jobs.
func (o *Orchestrator) ListJobs(ctx context.Context, batchID string) ([]*domain.Job, error) {
	b, err := o.repo.GetBatch(ctx, batchID)
	if err != nil {
		return nil, err
	}
	return o.repo.ListJobs(ctx, b.JobIDs)
}

// OnBatchSettled registers fn to receive every batch outcome, once per batch.
func (o *Orchestrator) OnBatchSettled(fn func(domain.BatchOutcome)) {
	if fn == nil {
		return
	}
	o.cbMu.Lock()
	o.callbacks = append(o.callbacks, fn)
	o.cbMu.Unlock()
}

// Subscribe streams state events for one batch. The channel is closed after
// the batch settles or when the returned func is called; it is closed at once
// for a batch that is unknown or already settled.
func (o *Orchestrator) Subscribe(batchID string) (<-chan domain.JobEvent, func()) {
	ch := make(chan domain.JobEvent, o.opts.SubscriberBuffer)
	var id int
	err := o.do(context.Background(), func() {
		id = o.state.subscribe(batchID, ch)
		if bs, ok := o.state.batches[batchID]; !ok || bs.batch.Settled {
			o.state.closeSubscribers(batchID)
		}
	})
	if err != nil {
		close(ch)
		return ch, func() {}
	}
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			_ = o.do(context.Background(), func() { o.state.unsubscribe(batchID, id) })
		})
	}
}

// RetryJob resubmits a failed job as a fresh attempt in a new batch.
func (o *Orchestrator) RetryJob(ctx context.Context, id string) (*BatchReceipt, error) {
	job, err := o.repo.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.State != domain.JobStateFailed {
		return nil, fmt.Errorf("%w: retry from %s", domain.ErrInvalidTransition, job.State)
	}
	spec := job.Spec
	spec.ExistingResults = nil
	return o.SubmitBatch(ctx, []domain.JobSpec{spec})
}

// CancelBatch stops every non-terminal job of a batch. Those jobs end Failed
// with a canceled classification and the batch settles.
func (o *Orchestrator) CancelBatch(id string) error {
	var found bool
	err := o.do(context.Background(), func() {
		bs, ok := o.state.batches[id]
		if !ok {
			return
		}
		found = true
		bs.cancel()
		o.cancelWhere(func(j *domain.Job) bool { return j.BatchID == id }, "batch canceled")
		o.checkBatch(bs)
	})
	if err != nil {
		return err
	}
	if !found {
		if _, err := o.repo.GetBatch(context.Background(), id); err != nil {
			return err
		}
	}
	return nil
}

// do runs fn on the event loop and waits for it to finish.
func (o *Orchestrator) do(ctx context.Context, fn func()) error {
	select {
	case <-o.started:
	default:
		return ErrNotStarted
	}
	done := make(chan struct{})
	select {
	case o.inbox <- func() { defer close(done); fn() }:
	case <-o.loopDone:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-o.loopDone:
		return ErrClosed
	}
}

// emit hands an event to the event loop. Events sent after shutdown are dropped.
func (o *Orchestrator) emit(ev domain.JobEvent) {
	if ev.At.IsZero() {
		ev.At = o.now()
	}
	select {
	case o.events <- ev:
	case <-o.loopDone:
	}
}

func (o *Orchestrator) sweep() {
	_ = o.do(o.rootCtx, func() {
		for _, bs := range o.state.batches {
			o.checkBatch(bs)
		}
	})
}
