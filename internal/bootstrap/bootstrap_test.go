package bootstrap

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shotforge/internal/adapter/repo"
	"shotforge/internal/derived"
	"shotforge/internal/domain"
	"shotforge/internal/infra"
	"shotforge/internal/orchestrator"
)

func testConfig(t *testing.T) *infra.Config {
	t.Helper()
	dir := t.TempDir()
	return &infra.Config{
		StoreDriver:            infra.StoreMemory,
		BadgerPath:             filepath.Join(dir, "badger"),
		StoragePath:            filepath.Join(dir, "artifacts"),
		PollInitialDelay:       time.Millisecond,
		PollProcessingInterval: time.Millisecond,
		PollPendingInterval:    time.Millisecond,
		PollMaxAttempts:        50,
		BatchGroupSize:         3,
		BatchMaxInFlight:       4,
		FanOutPolicy:           string(orchestrator.AcceptPartial),
		AggregatorSweep:        time.Second,
		DerivedTimeout:         time.Second,
	}
}

func TestOpenRepositoryByDriver(t *testing.T) {
	logger := zerolog.Nop()
	cfg := testConfig(t)

	r, err := OpenRepository(context.Background(), cfg, &logger)
	require.NoError(t, err)
	assert.IsType(t, &repo.MemoryRepository{}, r)

	cfg.StoreDriver = infra.StoreBadger
	r, err = OpenRepository(context.Background(), cfg, &logger)
	require.NoError(t, err)
	assert.IsType(t, &repo.BadgerRepository{}, r)
	require.NoError(t, r.Close())

	cfg.StoreDriver = "sqlite"
	_, err = OpenRepository(context.Background(), cfg, &logger)
	assert.Error(t, err)
}

func TestDerivedGeneratorWithoutGeminiKeyIsStatic(t *testing.T) {
	logger := zerolog.Nop()
	gen := NewDerivedGenerator(context.Background(), testConfig(t), nil, &logger)
	assert.IsType(t, &derived.StaticGenerator{}, gen)
}

func TestBuildRunsSyntheticBatch(t *testing.T) {
	logger := zerolog.Nop()
	rt, err := Build(context.Background(), testConfig(t), &logger)
	require.NoError(t, err)
	defer rt.Close()

	settled := make(chan domain.BatchOutcome, 1)
	rt.Orchestrator.OnBatchSettled(func(o domain.BatchOutcome) { settled <- o })
	require.NoError(t, rt.Orchestrator.Start(context.Background()))
	defer rt.Orchestrator.Close()

	receipt, err := rt.Orchestrator.SubmitBatch(context.Background(), []domain.JobSpec{
		{ID: "shot-1", Model: "nano-banana-pro", Prompt: "a lighthouse at dusk"},
		{ID: "shot-2", Model: "midjourney-v7-t2i", Prompt: "a fox in snow"},
	})
	require.NoError(t, err)

	select {
	case outcome := <-settled:
		assert.Equal(t, receipt.BatchID, outcome.BatchID)
		assert.Len(t, outcome.Succeeded, 2)
		assert.Equal(t, domain.BatchUsable, outcome.Class)
	case <-time.After(10 * time.Second):
		t.Fatal("batch did not settle")
	}
}

func TestExportOutcomeWritesResults(t *testing.T) {
	logger := zerolog.Nop()
	rt, err := Build(context.Background(), testConfig(t), &logger)
	require.NoError(t, err)
	defer rt.Close()

	now := time.Now()
	outcome := domain.BatchOutcome{
		BatchID: "b1",
		Class:   domain.BatchUsable,
		Jobs: []domain.Job{{
			ID: "shot-1", State: domain.JobStateCompleted, Results: []string{"img://a"},
			CreatedAt: now, UpdatedAt: now,
		}},
		Succeeded: []string{"shot-1"},
	}
	key, err := rt.ExportOutcome(context.Background(), outcome)
	require.NoError(t, err)

	data, err := rt.Files.Read(context.Background(), key)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"img://a"`)
	assert.Contains(t, string(data), `"batch_id": "b1"`)
}
