package importer

import (
	"context"
	"errors"

	"github.com/fireledger/importer/internal/credentials"
	"github.com/fireledger/importer/internal/importjob"
	"github.com/fireledger/importer/internal/ledger"
	"github.com/rs/zerolog"
)

// StageHandler is the uniform contract every configuration stage exposes.
// A handler that detects its own completeness condition advances the job's
// stage itself; the dispatcher never infers transitions.
type StageHandler interface {
	// ConfigurationComplete reports whether this stage is done. On true the
	// handler has already advanced the job to the next stage.
	ConfigurationComplete(ctx context.Context) (bool, error)

	// ConfigureJob stores submitted data into the job. Returned messages
	// are advisory and should be flashed to the user.
	ConfigureJob(ctx context.Context, data map[string]any) (*Messages, error)

	// NextData returns the data the next configuration view needs.
	NextData(ctx context.Context) (map[string]any, error)

	// NextView names the view for this stage.
	NextView() string
}

// ErrJobReady is returned by HandlerFor once the job has reached the
// terminal configuration stage: there is nothing left to configure and the
// sync engine should run.
var ErrJobReady = errors.New("import job is fully configured")

// Dispatcher resolves the stage handler for a job's current stage. It
// holds no cross-stage state; everything persisted lives in the job
// configuration, so dispatch is safe to re-enter after a restart.
type Dispatcher struct {
	jobs       importjob.Repository
	creds      credentials.Store
	accounts   ledger.AccountRepository
	currencies ledger.CurrencyRepository
	log        zerolog.Logger
}

// NewDispatcher creates a stage dispatcher.
func NewDispatcher(jobs importjob.Repository, creds credentials.Store, accounts ledger.AccountRepository, currencies ledger.CurrencyRepository, log zerolog.Logger) *Dispatcher {
	return &Dispatcher{jobs: jobs, creds: creds, accounts: accounts, currencies: currencies, log: log}
}

// HandlerFor returns the handler for the job's current stage. The stage
// set is closed: get_access_token (set by the authorization callback)
// routes to the login chooser, go-for-import yields ErrJobReady, and any
// other value means the persisted record is corrupted.
func (d *Dispatcher) HandlerFor(job *importjob.Job) (StageHandler, error) {
	d.log.Debug().Str("job", job.Key).Str("stage", string(job.Stage)).Msg("Resolving stage handler")

	deps := stageDeps{
		job:        job,
		jobs:       d.jobs,
		creds:      d.creds,
		accounts:   d.accounts,
		currencies: d.currencies,
		log:        d.log,
	}
	switch job.Stage {
	case importjob.StageNew:
		return &NewJobHandler{stageDeps: deps}, nil
	case importjob.StageDoAuthenticate:
		return &DoAuthenticateHandler{stageDeps: deps}, nil
	case importjob.StageChooseLogin, importjob.StageGetAccessToken:
		return &ChooseLoginHandler{stageDeps: deps}, nil
	case importjob.StageAuthenticated:
		return &AuthenticatedHandler{stageDeps: deps}, nil
	case importjob.StageChooseAccounts:
		return &ChooseAccountsHandler{stageDeps: deps}, nil
	case importjob.StageGoForImport:
		return nil, ErrJobReady
	default:
		return nil, &importjob.ErrUnsupportedStage{Stage: job.Stage}
	}
}

// stageDeps is the collaborator set shared by every stage handler.
type stageDeps struct {
	job        *importjob.Job
	jobs       importjob.Repository
	creds      credentials.Store
	accounts   ledger.AccountRepository
	currencies ledger.CurrencyRepository
	log        zerolog.Logger
}
