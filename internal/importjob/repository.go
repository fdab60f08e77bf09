package importjob

import (
	"context"

	"github.com/fireledger/importer/internal/ledger"
)

// Repository persists import jobs and their transaction batches. Jobs are
// never deleted through this interface; retention is someone else's
// concern.
type Repository interface {
	// Save creates or replaces a job record.
	Save(ctx context.Context, job *Job) error

	// FindByKey returns the job or (nil, nil) when the key is unknown.
	FindByKey(ctx context.Context, key string) (*Job, error)

	// SetStage updates the job's stage, both on the passed job and in
	// storage.
	SetStage(ctx context.Context, job *Job, stage Stage) error

	// SetStatus updates the job's status, both on the passed job and in
	// storage.
	SetStatus(ctx context.Context, job *Job, status Status) error

	// GetConfiguration returns the persisted configuration for the job.
	GetConfiguration(ctx context.Context, job *Job) (Config, error)

	// SetConfiguration replaces the persisted configuration, both on the
	// passed job and in storage.
	SetConfiguration(ctx context.Context, job *Job, cfg Config) error

	// SetTransactions stores the job's final transaction batch, replacing
	// any previous one.
	SetTransactions(ctx context.Context, job *Job, batch []ledger.Transaction) error
}
