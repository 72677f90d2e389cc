package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"shotforge/internal/domain"
	"shotforge/internal/infra"
	"shotforge/internal/sqlinline"
)

// PostgresRepository implements domain.Repository on PostgreSQL. Jobs and
// batches are stored as jsonb snapshots next to the columns queries filter on.
type PostgresRepository struct {
	sql   infra.SQLExecutor
	close func()
}

// NewPostgresRepository wraps an executor. closeFn, if set, runs on Close.
func NewPostgresRepository(sql infra.SQLExecutor, closeFn func()) *PostgresRepository {
	return &PostgresRepository{sql: sql, close: closeFn}
}

// Migrate creates the tables when missing.
func (r *PostgresRepository) Migrate(ctx context.Context) error {
	if _, err := r.sql.Exec(ctx, sqlinline.QOrchestratorSchema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

func (r *PostgresRepository) SaveJob(ctx context.Context, job *domain.Job) error {
	snapshot, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encode job %s: %w", job.ID, err)
	}
	_, err = r.sql.Exec(ctx, sqlinline.QUpsertGenerationJob,
		job.ID,
		job.BatchID,
		job.AttemptID,
		string(job.State),
		snapshot,
		job.UpdatedAt,
	)
	return err
}

func (r *PostgresRepository) GetJob(ctx context.Context, id string) (*domain.Job, error) {
	var job domain.Job
	if err := scanSnapshot(r.sql.QueryRow(ctx, sqlinline.QSelectGenerationJob, id), &job); err != nil {
		return nil, err
	}
	return &job, nil
}

func (r *PostgresRepository) ListJobs(ctx context.Context, ids []string) ([]*domain.Job, error) {
	rows, err := r.sql.Query(ctx, sqlinline.QSelectGenerationJobs, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	jobs := make([]*domain.Job, 0, len(ids))
	for rows.Next() {
		var job domain.Job
		if err := scanSnapshot(rows, &job); err != nil {
			return nil, err
		}
		jobs = append(jobs, &job)
	}
	return jobs, rows.Err()
}

func (r *PostgresRepository) SaveBatch(ctx context.Context, batch *domain.Batch) error {
	snapshot, err := json.Marshal(batch)
	if err != nil {
		return fmt.Errorf("encode batch %s: %w", batch.ID, err)
	}
	_, err = r.sql.Exec(ctx, sqlinline.QUpsertGenerationBatch,
		batch.ID,
		batch.Settled,
		snapshot,
		batch.CreatedAt,
		batch.SettledAt,
	)
	return err
}

func (r *PostgresRepository) GetBatch(ctx context.Context, id string) (*domain.Batch, error) {
	var batch domain.Batch
	if err := scanSnapshot(r.sql.QueryRow(ctx, sqlinline.QSelectGenerationBatch, id), &batch); err != nil {
		return nil, err
	}
	return &batch, nil
}

func (r *PostgresRepository) ListOpenBatches(ctx context.Context) ([]*domain.Batch, error) {
	rows, err := r.sql.Query(ctx, sqlinline.QSelectOpenGenerationBatches)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var batches []*domain.Batch
	for rows.Next() {
		var batch domain.Batch
		if err := scanSnapshot(rows, &batch); err != nil {
			return nil, err
		}
		batches = append(batches, &batch)
	}
	return batches, rows.Err()
}

func (r *PostgresRepository) Close() error {
	if r.close != nil {
		r.close()
	}
	return nil
}

func scanSnapshot(row pgx.Row, dest any) error {
	var raw []byte
	if err := row.Scan(&raw); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ErrNotFound
		}
		return err
	}
	return json.Unmarshal(raw, dest)
}

var _ domain.Repository = (*PostgresRepository)(nil)
