package repo

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/timshannon/badgerhold/v4"

	"shotforge/internal/domain"
)

type jobRecord struct {
	ID      string `badgerhold:"key"`
	BatchID string `badgerhold:"index"`
	Job     domain.Job
}

type batchRecord struct {
	ID        string `badgerhold:"key"`
	Settled   bool
	CreatedAt int64
	Batch     domain.Batch
}

// BadgerRepository persists snapshots in an embedded badger database, for
// single-node deployments without PostgreSQL.
type BadgerRepository struct {
	store *badgerhold.Store
}

// OpenBadgerRepository opens or creates the database under dir.
func OpenBadgerRepository(dir string) (*BadgerRepository, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create badger dir: %w", err)
	}
	options := badgerhold.DefaultOptions
	options.Dir = dir
	options.ValueDir = dir
	options.Logger = nil
	store, err := badgerhold.Open(options)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	return &BadgerRepository{store: store}, nil
}

func (r *BadgerRepository) SaveJob(_ context.Context, job *domain.Job) error {
	rec := jobRecord{ID: job.ID, BatchID: job.BatchID, Job: *job.Clone()}
	if err := r.store.Upsert(job.ID, rec); err != nil {
		return fmt.Errorf("save job %s: %w", job.ID, err)
	}
	return nil
}

func (r *BadgerRepository) GetJob(_ context.Context, id string) (*domain.Job, error) {
	var rec jobRecord
	if err := r.store.Get(id, &rec); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("get job %s: %w", id, err)
	}
	return &rec.Job, nil
}

func (r *BadgerRepository) ListJobs(ctx context.Context, ids []string) ([]*domain.Job, error) {
	out := make([]*domain.Job, 0, len(ids))
	for _, id := range ids {
		job, err := r.GetJob(ctx, id)
		if errors.Is(err, domain.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, job)
	}
	return out, nil
}

func (r *BadgerRepository) SaveBatch(_ context.Context, batch *domain.Batch) error {
	rec := batchRecord{
		ID:        batch.ID,
		Settled:   batch.Settled,
		CreatedAt: batch.CreatedAt.UnixNano(),
		Batch:     *batch.Clone(),
	}
	if err := r.store.Upsert(batch.ID, rec); err != nil {
		return fmt.Errorf("save batch %s: %w", batch.ID, err)
	}
	return nil
}

func (r *BadgerRepository) GetBatch(_ context.Context, id string) (*domain.Batch, error) {
	var rec batchRecord
	if err := r.store.Get(id, &rec); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("get batch %s: %w", id, err)
	}
	return &rec.Batch, nil
}

func (r *BadgerRepository) ListOpenBatches(_ context.Context) ([]*domain.Batch, error) {
	var recs []batchRecord
	if err := r.store.Find(&recs, badgerhold.Where("Settled").Eq(false).SortBy("CreatedAt")); err != nil {
		return nil, fmt.Errorf("list open batches: %w", err)
	}
	out := make([]*domain.Batch, 0, len(recs))
	for i := range recs {
		out = append(out, &recs[i].Batch)
	}
	return out, nil
}

func (r *BadgerRepository) Close() error {
	return r.store.Close()
}

var _ domain.Repository = (*BadgerRepository)(nil)
