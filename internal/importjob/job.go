// Package importjob holds the import job model: the multi-stage
// configuration state machine record and its persistence contract.
package importjob

import (
	"fmt"
	"time"

	"github.com/fireledger/importer/internal/provider"
)

// Stage is one step in the job's configuration state machine. The set is
// closed; persisted jobs carrying anything else are corrupted.
type Stage string

const (
	StageNew            Stage = "new"
	StageDoAuthenticate Stage = "do-authenticate"
	StageChooseLogin    Stage = "choose-login"
	// StageGetAccessToken is set by the authorization callback; the next
	// dispatcher pass routes it through the login selection.
	StageGetAccessToken Stage = "get_access_token"
	StageAuthenticated  Stage = "authenticated"
	StageChooseAccounts Stage = "choose-accounts"
	StageGoForImport    Stage = "go-for-import"
)

// Valid reports whether the stage belongs to the enumerated set.
func (s Stage) Valid() bool {
	switch s {
	case StageNew, StageDoAuthenticate, StageChooseLogin, StageGetAccessToken,
		StageAuthenticated, StageChooseAccounts, StageGoForImport:
		return true
	}
	return false
}

// Status is the job's run state.
type Status string

const (
	StatusNotReady   Status = "not_ready"
	StatusReadyToRun Status = "ready_to_run"
	StatusRunning    Status = "running"
	StatusFinished   Status = "finished"
	StatusError      Status = "error"
)

// ErrUnsupportedStage is returned when a persisted job carries a stage
// outside the enumerated set. It signals configuration drift and is never
// silently defaulted.
type ErrUnsupportedStage struct {
	Stage Stage
}

func (e *ErrUnsupportedStage) Error() string {
	return fmt.Sprintf("no configuration handler exists for stage %q", e.Stage)
}

// Config is the job's working memory, persisted between stages. Each field
// is owned by the stage that writes it.
type Config struct {
	// AuthCode is the provider authorization code captured by the callback.
	AuthCode string `json:"auth_code,omitempty"`

	// TokenKeys are the credential-store keys of the logins selected for
	// this job.
	TokenKeys []string `json:"token_keys,omitempty"`

	// Accounts is the external account snapshot captured at discovery.
	Accounts []provider.ExternalAccount `json:"accounts,omitempty"`

	// AccountMapping maps external account ids to local ledger account ids;
	// 0 means skip.
	AccountMapping map[string]int64 `json:"account_mapping,omitempty"`

	// ApplyRules asks the downstream importer to run its rule engine over
	// the batch.
	ApplyRules bool `json:"apply_rules,omitempty"`
}

// AccountByID returns the discovered external account with the given
// provider id, or nil.
func (c Config) AccountByID(accountID string) *provider.ExternalAccount {
	for i := range c.Accounts {
		if c.Accounts[i].AccountID == accountID {
			return &c.Accounts[i]
		}
	}
	return nil
}

// Job is one import job. Key doubles as the state token in the external
// authorization redirect, so it must be unguessable; New uses a UUID.
type Job struct {
	Key       string    `json:"key"`
	UserID    string    `json:"user_id"`
	Stage     Stage     `json:"stage"`
	Status    Status    `json:"status"`
	Config    Config    `json:"configuration"`
	CreatedAt time.Time `json:"created_at"`
}
