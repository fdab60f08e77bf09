package importer

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/fireledger/importer/internal/credentials"
	"github.com/fireledger/importer/internal/importjob"
	"github.com/fireledger/importer/internal/ledger"
	"github.com/fireledger/importer/internal/provider"
	"github.com/rs/zerolog"
)

const (
	// pageSize is the fixed number of transactions requested per page.
	pageSize = 250

	// defaultLookbackYears bounds the first sync of an account that has no
	// checkpoint yet.
	defaultLookbackYears = 2
)

// Engine runs the transaction synchronization for a fully configured job:
// one paginated incremental fetch per mapped account, normalized into a
// single ordered batch.
type Engine struct {
	jobs     importjob.Repository
	creds    credentials.Store
	accounts ledger.AccountRepository
	client   provider.Client
	norm     *Normalizer
	log      zerolog.Logger

	// now is the clock; injectable for tests.
	now func() time.Time
}

// NewEngine creates a sync engine.
func NewEngine(jobs importjob.Repository, creds credentials.Store, accounts ledger.AccountRepository, client provider.Client, norm *Normalizer, log zerolog.Logger) *Engine {
	return &Engine{
		jobs:     jobs,
		creds:    creds,
		accounts: accounts,
		client:   client,
		norm:     norm,
		log:      log,
		now:      time.Now,
	}
}

// Run executes the sync for one job, all or nothing: any resolution or
// fetch failure aborts the whole run with nothing persisted and no
// checkpoint moved. On success the batch is stored in one piece and every
// mapped account's checkpoint advances to now, whether or not that account
// yielded new transactions.
func (e *Engine) Run(ctx context.Context, job *importjob.Job) error {
	if err := e.run(ctx, job); err != nil {
		if job.Status == importjob.StatusRunning {
			if serr := e.jobs.SetStatus(ctx, job, importjob.StatusError); serr != nil {
				e.log.Error().Err(serr).Str("job", job.Key).Msg("Failed to mark job as errored")
			}
		}
		return err
	}
	return nil
}

func (e *Engine) run(ctx context.Context, job *importjob.Job) error {
	e.log.Debug().Str("job", job.Key).Msg("Starting transaction sync")

	cfg, err := e.jobs.GetConfiguration(ctx, job)
	if err != nil {
		return fmt.Errorf("Run: get configuration: %w", err)
	}
	if len(cfg.Accounts) == 0 {
		return ErrNoAccountsDiscovered
	}

	if err := e.jobs.SetStatus(ctx, job, importjob.StatusRunning); err != nil {
		return fmt.Errorf("Run: set status: %w", err)
	}

	now := e.now()
	var batch []ledger.Transaction
	for _, externalID := range sortedKeys(cfg.AccountMapping) {
		localID := cfg.AccountMapping[externalID]
		if localID <= 0 {
			e.log.Debug().Str("external_account", externalID).Msg("Local account is zero, skipping entry")
			continue
		}

		external := cfg.AccountByID(externalID)
		if external == nil {
			return &UnknownExternalAccountError{AccountID: externalID}
		}
		local, err := e.importableAccount(ctx, localID)
		if err != nil {
			return err
		}

		converted, err := e.fetchAccount(ctx, job, *external, local, now)
		if err != nil {
			return err
		}
		e.log.Debug().
			Str("external_account", external.Name).
			Str("currency", external.CurrencyCode).
			Int("transactions", len(converted)).
			Msg("Fetched transactions for account")
		batch = append(batch, converted...)
	}
	e.log.Debug().Int("transactions", len(batch)).Msg("Sync produced batch")

	if err := e.jobs.SetTransactions(ctx, job, batch); err != nil {
		return fmt.Errorf("Run: set transactions: %w", err)
	}

	// Checkpoints advance only now that the whole run succeeded, and they
	// advance for every mapped account, even ones with zero new
	// transactions. Skipped (zero) entries never get a checkpoint.
	for _, externalID := range sortedKeys(cfg.AccountMapping) {
		localID := cfg.AccountMapping[externalID]
		if localID <= 0 {
			continue
		}
		if err := credentials.SetCheckpoint(ctx, e.creds, job.UserID, localID, now); err != nil {
			return fmt.Errorf("Run: advance checkpoint for account #%d: %w", localID, err)
		}
	}

	if err := e.jobs.SetStatus(ctx, job, importjob.StatusFinished); err != nil {
		return fmt.Errorf("Run: set status: %w", err)
	}
	return nil
}

// importableAccount resolves a local account and enforces the importable
// class set.
func (e *Engine) importableAccount(ctx context.Context, id int64) (*ledger.Account, error) {
	account, err := e.accounts.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("importableAccount #%d: %w", id, err)
	}
	if account == nil {
		return nil, &NotImportableError{LocalID: id}
	}
	if !account.Type.Importable() {
		return nil, &NotImportableError{LocalID: id, Type: account.Type}
	}
	return account, nil
}

// fetchAccount pulls the full window for one account pair and normalizes
// every transaction, preserving provider return order.
func (e *Engine) fetchAccount(ctx context.Context, job *importjob.Job, external provider.ExternalAccount, local *ledger.Account, now time.Time) ([]ledger.Transaction, error) {
	accessToken, err := credentials.AccessTokenByKey(ctx, e.creds, job.UserID, external.AccessTokenKey)
	if err != nil {
		return nil, fmt.Errorf("fetchAccount: %w", err)
	}

	start, ok, err := credentials.Checkpoint(ctx, e.creds, job.UserID, local.ID)
	if err != nil {
		return nil, fmt.Errorf("fetchAccount: %w", err)
	}
	if !ok {
		start = now.AddDate(-defaultLookbackYears, 0, 0)
	}
	e.log.Debug().
		Str("external_account", external.AccountID).
		Int64("local_account", local.ID).
		Str("start", start.Format(provider.DateFormat)).
		Str("end", now.Format(provider.DateFormat)).
		Msg("Fetching transaction window")

	var fetched []provider.ExternalTransaction
	for offset := 0; ; offset += pageSize {
		page, err := e.client.GetTransactions(ctx, accessToken, external.AccountID, start, now, pageSize, offset)
		if err != nil {
			return nil, fmt.Errorf("fetchAccount: page at offset %d: %w", offset, err)
		}
		fetched = append(fetched, page...)
		if len(page) < pageSize {
			break
		}
	}

	converted := make([]ledger.Transaction, 0, len(fetched))
	for _, txn := range fetched {
		record, err := e.norm.Normalize(ctx, txn, external, local)
		if err != nil {
			return nil, fmt.Errorf("fetchAccount: %w", err)
		}
		converted = append(converted, record)
	}
	return converted, nil
}

func sortedKeys(m map[string]int64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
