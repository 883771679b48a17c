package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/poiesic/policyrag/core"
	"github.com/poiesic/policyrag/storage"
)

// CheckpointRepository implements storage.CheckpointRepository on PostgreSQL.
type CheckpointRepository struct {
	backend *Backend
}

var _ storage.CheckpointRepository = (*CheckpointRepository)(nil)

// NewCheckpointRepository creates a new CheckpointRepository.
func NewCheckpointRepository(backend *Backend) *CheckpointRepository {
	return &CheckpointRepository{backend: backend}
}

// SaveCheckpoint persists a checkpoint, stamping UpdatedAt.
func (r *CheckpointRepository) SaveCheckpoint(ctx context.Context, checkpoint *core.Checkpoint) error {
	if checkpoint == nil || checkpoint.Job == "" {
		return fmt.Errorf("%w: checkpoint needs a job name", core.ErrInvalidArgument)
	}
	checkpoint.UpdatedAt = time.Now().UTC()

	_, err := r.backend.pool.Exec(ctx, fmt.Sprintf(`
		INSERT INTO %s (job, last_id, updated_at) VALUES ($1, $2, $3)
		ON CONFLICT (job) DO UPDATE SET last_id = EXCLUDED.last_id, updated_at = EXCLUDED.updated_at`,
		checkpointsTable), checkpoint.Job, int64(checkpoint.LastID), checkpoint.UpdatedAt)
	return err
}

// LoadCheckpoint retrieves the checkpoint for a job, or nil if none exists.
func (r *CheckpointRepository) LoadCheckpoint(ctx context.Context, job string) (*core.Checkpoint, error) {
	var (
		checkpoint = core.Checkpoint{Job: job}
		lastID     int64
	)
	err := r.backend.pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT last_id, updated_at FROM %s WHERE job = $1`, checkpointsTable), job).
		Scan(&lastID, &checkpoint.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	checkpoint.LastID = core.ID(lastID)
	checkpoint.UpdatedAt = checkpoint.UpdatedAt.UTC()
	return &checkpoint, nil
}

// ClearCheckpoint removes the checkpoint for a job.
func (r *CheckpointRepository) ClearCheckpoint(ctx context.Context, job string) error {
	_, err := r.backend.pool.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE job = $1`, checkpointsTable), job)
	return err
}
