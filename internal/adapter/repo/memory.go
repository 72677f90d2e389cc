package repo

import (
	"context"
	"slices"
	"sync"

	"shotforge/internal/domain"
)

// MemoryRepository keeps snapshots in process memory.
type MemoryRepository struct {
	mu      sync.RWMutex
	jobs    map[string]*domain.Job
	batches map[string]*domain.Batch
	order   []string
}

// NewMemoryRepository returns an empty in-memory repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		jobs:    make(map[string]*domain.Job),
		batches: make(map[string]*domain.Batch),
	}
}

func (r *MemoryRepository) SaveJob(_ context.Context, job *domain.Job) error {
	r.mu.Lock()
	r.jobs[job.ID] = job.Clone()
	r.mu.Unlock()
	return nil
}

func (r *MemoryRepository) GetJob(_ context.Context, id string) (*domain.Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	j, ok := r.jobs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return j.Clone(), nil
}

// ListJobs returns the jobs found among ids, in the order given.
func (r *MemoryRepository) ListJobs(_ context.Context, ids []string) ([]*domain.Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*domain.Job, 0, len(ids))
	for _, id := range ids {
		if j, ok := r.jobs[id]; ok {
			out = append(out, j.Clone())
		}
	}
	return out, nil
}

func (r *MemoryRepository) SaveBatch(_ context.Context, batch *domain.Batch) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.batches[batch.ID]; !ok {
		r.order = append(r.order, batch.ID)
	}
	r.batches[batch.ID] = batch.Clone()
	return nil
}

func (r *MemoryRepository) GetBatch(_ context.Context, id string) (*domain.Batch, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.batches[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return b.Clone(), nil
}

// ListOpenBatches returns unsettled batches oldest first.
func (r *MemoryRepository) ListOpenBatches(_ context.Context) ([]*domain.Batch, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*domain.Batch
	for _, id := range r.order {
		if b := r.batches[id]; !b.Settled {
			out = append(out, b.Clone())
		}
	}
	return out, nil
}

// BatchIDs lists every stored batch id in insertion order.
func (r *MemoryRepository) BatchIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.order)
}

func (r *MemoryRepository) Close() error { return nil }

var _ domain.Repository = (*MemoryRepository)(nil)
