package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"shotforge/internal/bootstrap"
	"shotforge/internal/domain"
	"shotforge/internal/infra"
)

// errBatchFailed makes the process exit non-zero when nothing was produced.
var errBatchFailed = errors.New("batch failed: no job produced a result")

type batchFile struct {
	Jobs []domain.JobSpec `json:"jobs"`
}

// readBatchFile accepts either {"jobs": [...]} or a bare array of specs.
func readBatchFile(path string) ([]domain.JobSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read batch file: %w", err)
	}
	var specs []domain.JobSpec
	if err := json.Unmarshal(data, &specs); err != nil {
		var wrapped batchFile
		if werr := json.Unmarshal(data, &wrapped); werr != nil {
			return nil, fmt.Errorf("decode batch file: %w", werr)
		}
		specs = wrapped.Jobs
	}
	if len(specs) == 0 {
		return nil, fmt.Errorf("batch file %s has no jobs", path)
	}
	return specs, nil
}

func RunCmd(cfg **infra.Config, logger *infra.Logger) *cobra.Command {
	var (
		file    string
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Submit a batch file and wait until every job settles",
		RunE: func(cmd *cobra.Command, args []string) error {
			specs, err := readBatchFile(file)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			return runBatch(ctx, *cfg, logger, specs, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "batch file with job specs (JSON)")
	cmd.Flags().DurationVar(&timeout, "timeout", 20*time.Minute, "give up and cancel the batch after this long")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

// settledOutcomes collects every outcome the orchestrator reports. Batches
// recovered from a previous process settle too, and a batch can settle before
// SubmitBatch returns, so waiters look up their own id.
type settledOutcomes struct {
	mu     sync.Mutex
	byID   map[string]domain.BatchOutcome
	notify chan struct{}
}

func newSettledOutcomes() *settledOutcomes {
	return &settledOutcomes{
		byID:   make(map[string]domain.BatchOutcome),
		notify: make(chan struct{}, 1),
	}
}

func (s *settledOutcomes) record(o domain.BatchOutcome) {
	s.mu.Lock()
	s.byID[o.BatchID] = o
	s.mu.Unlock()
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func (s *settledOutcomes) wait(ctx context.Context, batchID string) (domain.BatchOutcome, error) {
	for {
		s.mu.Lock()
		o, ok := s.byID[batchID]
		s.mu.Unlock()
		if ok {
			return o, nil
		}
		select {
		case <-s.notify:
		case <-ctx.Done():
			return domain.BatchOutcome{}, ctx.Err()
		}
	}
}

func runBatch(ctx context.Context, cfg *infra.Config, logger *infra.Logger, specs []domain.JobSpec, out io.Writer) error {
	rt, err := bootstrap.Build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer rt.Close()

	settled := newSettledOutcomes()
	rt.Orchestrator.OnBatchSettled(settled.record)
	if err := rt.Orchestrator.Start(context.Background()); err != nil {
		return err
	}
	defer rt.Orchestrator.Close()

	receipt, err := rt.Orchestrator.SubmitBatch(ctx, specs)
	if err != nil {
		return err
	}
	batchID := receipt.BatchID
	for _, r := range receipt.Rejected {
		logger.Warn().Str("job_id", r.JobID).Str("kind", string(r.Kind)).Msg(r.Message)
	}

	events, unsubscribe := rt.Orchestrator.Subscribe(batchID)
	defer unsubscribe()
	go func() {
		for ev := range events {
			if ev.Type == domain.EventState {
				logger.Info().Str("job_id", ev.JobID).Str("state", string(ev.State)).Int("progress", ev.Progress).Msg("job update")
			}
		}
	}()

	outcome, err := settled.wait(ctx, batchID)
	if err != nil {
		logger.Warn().Str("batch_id", batchID).Msg("timeout reached, canceling batch")
		if err := rt.Orchestrator.CancelBatch(batchID); err != nil {
			return err
		}
		if outcome, err = settled.wait(context.Background(), batchID); err != nil {
			return err
		}
	}

	key, err := rt.ExportOutcome(context.Background(), outcome)
	if err != nil {
		logger.Warn().Err(err).Msg("export outcome failed")
	} else {
		logger.Info().Str("key", key).Msg("outcome exported")
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(struct {
		Outcome domain.BatchOutcome `json:"outcome"`
		Results []domain.ResultRef  `json:"results"`
	}{outcome, outcome.Results()}); err != nil {
		return err
	}
	if outcome.Class == domain.BatchFailed {
		return errBatchFailed
	}
	return nil
}
