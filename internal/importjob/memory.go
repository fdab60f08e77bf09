package importjob

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/fireledger/importer/internal/ledger"
	"github.com/google/uuid"
)

// MemoryRepository is an in-memory Repository. It keeps each job's
// configuration serialized, so reads and writes cross the same JSON
// boundary a database-backed implementation would.
type MemoryRepository struct {
	mu      sync.RWMutex
	jobs    map[string]*record
	batches map[string][]ledger.Transaction
}

type record struct {
	job    Job
	config json.RawMessage
}

// NewMemoryRepository creates an empty in-memory repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		jobs:    make(map[string]*record),
		batches: make(map[string][]ledger.Transaction),
	}
}

// NewJob creates and saves a fresh job for the user, at stage "new" and
// status "not_ready".
func (r *MemoryRepository) NewJob(ctx context.Context, userID string) (*Job, error) {
	job := &Job{
		Key:       uuid.NewString(),
		UserID:    userID,
		Stage:     StageNew,
		Status:    StatusNotReady,
		CreatedAt: time.Now(),
	}
	if err := r.Save(ctx, job); err != nil {
		return nil, err
	}
	return job, nil
}

// Save implements Repository.
func (r *MemoryRepository) Save(ctx context.Context, job *Job) error {
	if job.Key == "" {
		return fmt.Errorf("Save: job key is required")
	}
	raw, err := json.Marshal(job.Config)
	if err != nil {
		return fmt.Errorf("Save: marshal configuration: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs[job.Key] = &record{job: *job, config: raw}
	return nil
}

// FindByKey implements Repository.
func (r *MemoryRepository) FindByKey(ctx context.Context, key string) (*Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.jobs[key]
	if !ok {
		return nil, nil
	}
	job := rec.job
	if err := json.Unmarshal(rec.config, &job.Config); err != nil {
		return nil, fmt.Errorf("FindByKey: unmarshal configuration: %w", err)
	}
	return &job, nil
}

// SetStage implements Repository.
func (r *MemoryRepository) SetStage(ctx context.Context, job *Job, stage Stage) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.jobs[job.Key]
	if !ok {
		return fmt.Errorf("SetStage: job not found: %s", job.Key)
	}
	rec.job.Stage = stage
	job.Stage = stage
	return nil
}

// SetStatus implements Repository.
func (r *MemoryRepository) SetStatus(ctx context.Context, job *Job, status Status) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.jobs[job.Key]
	if !ok {
		return fmt.Errorf("SetStatus: job not found: %s", job.Key)
	}
	rec.job.Status = status
	job.Status = status
	return nil
}

// GetConfiguration implements Repository.
func (r *MemoryRepository) GetConfiguration(ctx context.Context, job *Job) (Config, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.jobs[job.Key]
	if !ok {
		return Config{}, fmt.Errorf("GetConfiguration: job not found: %s", job.Key)
	}
	var cfg Config
	if err := json.Unmarshal(rec.config, &cfg); err != nil {
		return Config{}, fmt.Errorf("GetConfiguration: unmarshal: %w", err)
	}
	return cfg, nil
}

// SetConfiguration implements Repository.
func (r *MemoryRepository) SetConfiguration(ctx context.Context, job *Job, cfg Config) error {
	raw, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("SetConfiguration: marshal: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.jobs[job.Key]
	if !ok {
		return fmt.Errorf("SetConfiguration: job not found: %s", job.Key)
	}
	rec.config = raw
	rec.job.Config = cfg
	job.Config = cfg
	return nil
}

// SetTransactions implements Repository.
func (r *MemoryRepository) SetTransactions(ctx context.Context, job *Job, batch []ledger.Transaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.jobs[job.Key]; !ok {
		return fmt.Errorf("SetTransactions: job not found: %s", job.Key)
	}
	cp := make([]ledger.Transaction, len(batch))
	copy(cp, batch)
	r.batches[job.Key] = cp
	return nil
}

// Transactions returns the stored batch for a job. Used by the run
// endpoint and tests.
func (r *MemoryRepository) Transactions(key string) []ledger.Transaction {
	r.mu.RLock()
	defer r.mu.RUnlock()

	batch := r.batches[key]
	cp := make([]ledger.Transaction, len(batch))
	copy(cp, batch)
	return cp
}

var _ Repository = (*MemoryRepository)(nil)
