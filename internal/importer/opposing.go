package importer

import (
	"context"
	"sync"

	"github.com/fireledger/importer/internal/ledger"
	"github.com/shopspring/decimal"
)

// PlaceholderMapper is an OpposingAccountMapper that matches counterparts
// by name and creates expense or revenue placeholders for names it has not
// seen. It backs the CLI runner and tests; a full ledger would plug in its
// own matcher here.
type PlaceholderMapper struct {
	mu     sync.Mutex
	nextID int64
	byName map[string]*ledger.Account
}

// NewPlaceholderMapper creates a mapper allocating placeholder ids from
// firstID upward.
func NewPlaceholderMapper(firstID int64) *PlaceholderMapper {
	return &PlaceholderMapper{
		nextID: firstID,
		byName: make(map[string]*ledger.Account),
	}
}

// Map implements OpposingAccountMapper. Money leaving the local account
// gets an expense placeholder, money coming in a revenue one.
func (m *PlaceholderMapper) Map(ctx context.Context, amount decimal.Decimal, hints OpposingHints) (*ledger.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if account, ok := m.byName[hints.Name]; ok {
		cp := *account
		return &cp, nil
	}

	accountType := ledger.AccountTypeExpense
	if amount.Sign() > 0 {
		accountType = ledger.AccountTypeRevenue
	}
	account := &ledger.Account{
		ID:   m.nextID,
		Name: hints.Name,
		Type: accountType,
	}
	m.nextID++
	m.byName[hints.Name] = account

	cp := *account
	return &cp, nil
}

var _ OpposingAccountMapper = (*PlaceholderMapper)(nil)
