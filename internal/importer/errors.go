// Package importer implements the import job state machine and the
// transaction synchronization engine: stage dispatch, the authorization
// flow, incremental paginated fetch and ledger normalization.
package importer

import (
	"errors"
	"fmt"

	"github.com/fireledger/importer/internal/ledger"
)

// User-input errors. Both mean the external authorization never completed;
// the user corrects them by retrying the flow, not by retrying the request.
var (
	ErrInvalidAuthorizationCode = errors.New("provider did not reply with a valid authorization code")
	ErrUnknownJob               = errors.New("state token does not match any import job")
	ErrUnauthorized             = errors.New("an authenticated user is required")
)

// ErrNoAccountsDiscovered aborts a sync run whose job configuration holds
// no discovered external accounts.
var ErrNoAccountsDiscovered = errors.New("there are no accounts in this import job")

// UnknownExternalAccountError means the account mapping references an
// external account id missing from the discovery snapshot: configuration
// drift, fatal for the whole run.
type UnknownExternalAccountError struct {
	AccountID string
}

func (e *UnknownExternalAccountError) Error() string {
	return fmt.Sprintf("external account %q is not in the job configuration", e.AccountID)
}

// NotImportableError means a mapping entry targets a local account that is
// missing or not of an importable class. Fatal for the whole run.
type NotImportableError struct {
	LocalID int64
	Type    ledger.AccountType
}

func (e *NotImportableError) Error() string {
	if e.Type == "" {
		return fmt.Sprintf("local account #%d does not exist", e.LocalID)
	}
	return fmt.Sprintf("local account #%d is a %s account, not an importable class", e.LocalID, e.Type)
}
