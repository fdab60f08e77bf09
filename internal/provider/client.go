package provider

import (
	"context"
	"time"
)

// Client is the provider API surface the importer consumes. Implementations
// must be safe for concurrent use.
type Client interface {
	// ExchangePublicToken swaps a short-lived public token for a durable
	// access token.
	ExchangePublicToken(ctx context.Context, publicToken string) (string, error)

	// GetAccounts lists the accounts reachable through an access token and
	// the institution they belong to.
	GetAccounts(ctx context.Context, accessToken string) (institutionID string, accounts []ExternalAccount, err error)

	// GetInstitution fetches institution metadata by id.
	GetInstitution(ctx context.Context, institutionID string) (*Institution, error)

	// GetTransactions fetches one page of transactions for an account
	// between start and end (inclusive calendar dates), count entries at
	// the given offset.
	GetTransactions(ctx context.Context, accessToken, accountID string, start, end time.Time, count, offset int) ([]ExternalTransaction, error)
}
