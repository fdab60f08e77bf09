package ledger

import (
	"context"
	"slices"
	"sync"
)

// MemoryRepository is an in-memory account and currency store. It backs the
// CLI runner and tests; production deployments plug in their own ledger
// storage behind the same interfaces.
type MemoryRepository struct {
	mu         sync.RWMutex
	accounts   map[int64]*Account
	currencies map[int64]*Currency
	defaults   map[string]int64 // userID -> currency ID
}

// NewMemoryRepository creates an empty in-memory repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		accounts:   make(map[int64]*Account),
		currencies: make(map[int64]*Currency),
		defaults:   make(map[string]int64),
	}
}

// AddAccount registers an account.
func (r *MemoryRepository) AddAccount(a *Account) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *a
	r.accounts[a.ID] = &cp
}

// AddCurrency registers a currency.
func (r *MemoryRepository) AddCurrency(c *Currency) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *c
	r.currencies[c.ID] = &cp
}

// SetDefaultCurrency sets the default currency for a user.
func (r *MemoryRepository) SetDefaultCurrency(userID string, currencyID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.defaults[userID] = currencyID
}

// FindByID implements AccountRepository.
func (r *MemoryRepository) FindByID(ctx context.Context, id int64) (*Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.accounts[id]
	if !ok {
		return nil, nil
	}
	cp := *a
	return &cp, nil
}

// AccountsByType implements AccountRepository. Results are ordered by
// account ID so callers see a stable listing.
func (r *MemoryRepository) AccountsByType(ctx context.Context, types []AccountType) ([]*Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	wanted := make(map[AccountType]bool, len(types))
	for _, t := range types {
		wanted[t] = true
	}

	var ids []int64
	for id, a := range r.accounts {
		if wanted[a.Type] {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)

	out := make([]*Account, 0, len(ids))
	for _, id := range ids {
		cp := *r.accounts[id]
		out = append(out, &cp)
	}
	return out, nil
}

// Currencies returns the CurrencyRepository view of this store.
func (r *MemoryRepository) Currencies() CurrencyRepository {
	return memoryCurrencies{r: r}
}

type memoryCurrencies struct {
	r *MemoryRepository
}

func (c memoryCurrencies) FindByID(ctx context.Context, id int64) (*Currency, error) {
	c.r.mu.RLock()
	defer c.r.mu.RUnlock()
	cur, ok := c.r.currencies[id]
	if !ok {
		return nil, nil
	}
	cp := *cur
	return &cp, nil
}

func (c memoryCurrencies) DefaultForUser(ctx context.Context, userID string) (*Currency, error) {
	c.r.mu.RLock()
	defer c.r.mu.RUnlock()
	id, ok := c.r.defaults[userID]
	if !ok {
		return nil, nil
	}
	cur, ok := c.r.currencies[id]
	if !ok {
		return nil, nil
	}
	cp := *cur
	return &cp, nil
}

// Compile-time interface checks.
var (
	_ AccountRepository  = (*MemoryRepository)(nil)
	_ CurrencyRepository = memoryCurrencies{}
)
