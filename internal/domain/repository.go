package domain

import "context"

// JobRepository persists job snapshots. Implementations store copies; callers
// never share memory with the repository.
type JobRepository interface {
	SaveJob(ctx context.Context, job *Job) error
	GetJob(ctx context.Context, id string) (*Job, error)
	ListJobs(ctx context.Context, ids []string) ([]*Job, error)
}

// BatchRepository persists batch membership and settlement.
type BatchRepository interface {
	SaveBatch(ctx context.Context, batch *Batch) error
	GetBatch(ctx context.Context, id string) (*Batch, error)
	ListOpenBatches(ctx context.Context) ([]*Batch, error)
}

// Repository is the store handed to the scheduler and the aggregator.
type Repository interface {
	JobRepository
	BatchRepository
	Close() error
}
