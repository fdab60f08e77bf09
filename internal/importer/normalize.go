package importer

import (
	"context"
	"fmt"

	"github.com/fireledger/importer/internal/ledger"
	"github.com/fireledger/importer/internal/provider"
	"github.com/shopspring/decimal"
)

// OpposingHints carry what the external transaction reveals about its
// counterpart, for the opposing-account mapper to match on.
type OpposingHints struct {
	Name         string
	CurrencyCode string
}

// OpposingAccountMapper resolves the opposing party of a transaction to a
// local ledger account, creating an unmatched-party placeholder when no
// existing account matches the hints.
type OpposingAccountMapper interface {
	Map(ctx context.Context, amount decimal.Decimal, hints OpposingHints) (*ledger.Account, error)
}

// Normalizer converts external transactions into ledger-ready records.
type Normalizer struct {
	mapper OpposingAccountMapper
}

// NewNormalizer creates a normalizer using the given opposing-account
// mapper.
func NewNormalizer(mapper OpposingAccountMapper) *Normalizer {
	return &Normalizer{mapper: mapper}
}

// Normalize derives the ledger record for one external transaction fetched
// for localAccount. A strictly positive external amount means money coming
// in: source and destination swap and the record becomes a deposit;
// otherwise it is a withdrawal from the local account. The comparison is
// exact decimal, never floating point. The magnitude is carried unsigned
// and ExternalID always holds the provider transaction id so downstream
// imports stay idempotent across overlapping sync windows.
func (n *Normalizer) Normalize(ctx context.Context, txn provider.ExternalTransaction, external provider.ExternalAccount, localAccount *ledger.Account) (ledger.Transaction, error) {
	date, err := txn.ParsedDate()
	if err != nil {
		return ledger.Transaction{}, fmt.Errorf("Normalize: transaction %s: %w", txn.TransactionID, err)
	}

	opposing, err := n.mapper.Map(ctx, txn.Amount, OpposingHints{
		Name:         txn.Name,
		CurrencyCode: txn.CurrencyCode,
	})
	if err != nil {
		return ledger.Transaction{}, fmt.Errorf("Normalize: map opposing account: %w", err)
	}

	kind := ledger.TransactionTypeWithdrawal
	source, destination := localAccount, opposing
	if txn.Amount.Sign() > 0 {
		source, destination = destination, source
		kind = ledger.TransactionTypeDeposit
	}

	return ledger.Transaction{
		Type:          kind,
		Date:          date,
		SourceID:      source.ID,
		DestinationID: destination.ID,
		Amount:        txn.Amount.Abs(),
		CurrencyCode:  txn.CurrencyCode,
		ExternalID:    txn.TransactionID,
		Description:   txn.Name,
		Notes:         fmt.Sprintf("Imported from account %q.", external.Name),
		Tags:          txn.Categories,
	}, nil
}
