// Package ledger defines the local ledger contracts the importer consumes:
// account and currency lookups plus the ledger-ready transaction record
// produced by the sync engine.
package ledger

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// AccountType classifies a local ledger account.
type AccountType string

const (
	AccountTypeAsset    AccountType = "asset"
	AccountTypeDebt     AccountType = "debt"
	AccountTypeLoan     AccountType = "loan"
	AccountTypeMortgage AccountType = "mortgage"
	AccountTypeExpense  AccountType = "expense"
	AccountTypeRevenue  AccountType = "revenue"
)

// ImportableAccountTypes are the account classes that may receive imported
// transactions.
var ImportableAccountTypes = []AccountType{
	AccountTypeAsset,
	AccountTypeDebt,
	AccountTypeLoan,
	AccountTypeMortgage,
}

// Importable reports whether accounts of this type may be an import target.
func (t AccountType) Importable() bool {
	switch t {
	case AccountTypeAsset, AccountTypeDebt, AccountTypeLoan, AccountTypeMortgage:
		return true
	}
	return false
}

// Account is a local ledger account.
type Account struct {
	ID         int64       `json:"id"`
	Name       string      `json:"name"`
	IBAN       string      `json:"iban,omitempty"`
	Type       AccountType `json:"type"`
	CurrencyID int64       `json:"currency_id,omitempty"`
}

// Currency is a transaction currency known to the ledger.
type Currency struct {
	ID   int64  `json:"id"`
	Code string `json:"code"`
}

// TransactionType is the direction of a ledger transaction.
type TransactionType string

const (
	TransactionTypeWithdrawal TransactionType = "withdrawal"
	TransactionTypeDeposit    TransactionType = "deposit"
)

// Transaction is the ledger-ready record derived from one external
// transaction. Amount is an unsigned magnitude; direction is carried by
// Type together with the source/destination pair. ExternalID holds the
// provider transaction id and is the idempotency key a downstream importer
// must use to avoid duplicating entries across overlapping sync windows.
type Transaction struct {
	Type          TransactionType `json:"type"`
	Date          time.Time       `json:"date"`
	SourceID      int64           `json:"source_id"`
	DestinationID int64           `json:"destination_id"`
	Amount        decimal.Decimal `json:"amount"`
	CurrencyCode  string          `json:"currency_code"`
	ExternalID    string          `json:"external_id"`
	Description   string          `json:"description"`
	Notes         string          `json:"notes,omitempty"`
	Tags          []string        `json:"tags,omitempty"`
}

// AccountRepository looks up local ledger accounts.
type AccountRepository interface {
	// FindByID returns the account or (nil, nil) when it does not exist.
	FindByID(ctx context.Context, id int64) (*Account, error)

	// AccountsByType returns all accounts whose type is in the given set.
	AccountsByType(ctx context.Context, types []AccountType) ([]*Account, error)
}

// CurrencyRepository looks up transaction currencies.
type CurrencyRepository interface {
	// FindByID returns the currency or (nil, nil) when it does not exist.
	FindByID(ctx context.Context, id int64) (*Currency, error)

	// DefaultForUser returns the user's default currency.
	DefaultForUser(ctx context.Context, userID string) (*Currency, error)
}
