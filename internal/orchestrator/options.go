package orchestrator

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"shotforge/internal/derived"
	"shotforge/internal/infra"
)

// FanOutPolicy decides what a grid job with some failed children becomes.
type FanOutPolicy string

const (
	// AcceptPartial completes the job when at least one child delivered.
	AcceptPartial FanOutPolicy = "accept_partial"
	// RequireAll fails the job as soon as one child fails.
	RequireAll FanOutPolicy = "require_all"
)

// ParseFanOutPolicy reads a policy name; empty selects AcceptPartial.
func ParseFanOutPolicy(s string) (FanOutPolicy, error) {
	switch FanOutPolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "", AcceptPartial:
		return AcceptPartial, nil
	case RequireAll:
		return RequireAll, nil
	default:
		return "", fmt.Errorf("orchestrator: unknown fan-out policy %q", s)
	}
}

// Options holds the tunable timing and capacity constants.
type Options struct {
	// Poller
	InitialDelay       time.Duration
	ProcessingInterval time.Duration
	PendingInterval    time.Duration
	TransientBackoff   time.Duration
	MaxPolls           int
	TransientRetries   int

	// Batch Scheduler
	GroupSize         int
	GroupDelay        time.Duration
	MaxInFlight       int
	FlatSubmitSpacing time.Duration

	FanOutPolicy FanOutPolicy

	// Completion Aggregator
	SweepInterval time.Duration

	DerivedTimeout   time.Duration
	SubscriberBuffer int
}

// DefaultOptions mirrors the production timings.
func DefaultOptions() Options {
	return Options{
		InitialDelay:       3 * time.Second,
		ProcessingInterval: 3 * time.Second,
		PendingInterval:    5 * time.Second,
		MaxPolls:           180,
		TransientRetries:   5,
		GroupSize:          3,
		GroupDelay:         100 * time.Millisecond,
		MaxInFlight:        12,
		FlatSubmitSpacing:  500 * time.Millisecond,
		FanOutPolicy:       AcceptPartial,
		SweepInterval:      5 * time.Second,
		DerivedTimeout:     60 * time.Second,
		SubscriberBuffer:   64,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.InitialDelay < 0 {
		o.InitialDelay = 0
	}
	if o.ProcessingInterval <= 0 {
		o.ProcessingInterval = d.ProcessingInterval
	}
	if o.PendingInterval <= 0 {
		o.PendingInterval = d.PendingInterval
	}
	if o.TransientBackoff <= 0 {
		o.TransientBackoff = 2 * o.PendingInterval
	}
	if o.MaxPolls <= 0 {
		o.MaxPolls = d.MaxPolls
	}
	if o.TransientRetries < 0 {
		o.TransientRetries = 0
	}
	if o.GroupSize <= 0 {
		o.GroupSize = d.GroupSize
	}
	if o.GroupDelay < 0 {
		o.GroupDelay = 0
	}
	if o.MaxInFlight <= 0 {
		o.MaxInFlight = d.MaxInFlight
	}
	if o.FlatSubmitSpacing < 0 {
		o.FlatSubmitSpacing = 0
	}
	if o.FanOutPolicy == "" {
		o.FanOutPolicy = AcceptPartial
	}
	if o.SweepInterval <= 0 {
		o.SweepInterval = d.SweepInterval
	}
	if o.DerivedTimeout <= 0 {
		o.DerivedTimeout = d.DerivedTimeout
	}
	if o.SubscriberBuffer <= 0 {
		o.SubscriberBuffer = d.SubscriberBuffer
	}
	return o
}

// OptionsFromConfig maps the environment configuration onto Options.
func OptionsFromConfig(cfg *infra.Config) (Options, error) {
	opts := DefaultOptions()
	if cfg == nil {
		return opts, nil
	}
	policy, err := ParseFanOutPolicy(cfg.FanOutPolicy)
	if err != nil {
		return Options{}, err
	}
	opts.InitialDelay = cfg.PollInitialDelay
	opts.ProcessingInterval = cfg.PollProcessingInterval
	opts.PendingInterval = cfg.PollPendingInterval
	opts.TransientBackoff = cfg.PollTransientBackoff
	opts.MaxPolls = cfg.PollMaxAttempts
	opts.TransientRetries = cfg.PollTransientRetries
	opts.GroupSize = cfg.BatchGroupSize
	opts.GroupDelay = cfg.BatchGroupDelay
	opts.MaxInFlight = cfg.BatchMaxInFlight
	opts.FanOutPolicy = policy
	opts.SweepInterval = cfg.AggregatorSweep
	opts.DerivedTimeout = cfg.DerivedTimeout
	return opts.withDefaults(), nil
}

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger.
func WithLogger(logger *infra.Logger) Option {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithDerivedGenerator enables the derived-artifact trigger.
func WithDerivedGenerator(g derived.Generator) Option {
	return func(o *Orchestrator) {
		o.derived = g
	}
}

// WithIDGenerator replaces uuid-based batch and attempt ids.
func WithIDGenerator(fn func() string) Option {
	return func(o *Orchestrator) {
		if fn != nil {
			o.newID = fn
		}
	}
}

// WithClock replaces time.Now for job timestamps.
func WithClock(fn func() time.Time) Option {
	return func(o *Orchestrator) {
		if fn != nil {
			o.now = fn
		}
	}
}

func defaultLogger() *infra.Logger {
	discard := zerolog.New(io.Discard)
	return &discard
}

func newUUID() string { return uuid.NewString() }
