// Package provider talks to the external account-aggregation API: an
// OAuth-style token exchange plus account, institution and transaction
// endpoints.
package provider

import (
	"time"

	"github.com/shopspring/decimal"
)

// DateFormat is the calendar-date format the provider uses on the wire.
const DateFormat = "2006-01-02"

// ExternalAccount is an immutable snapshot of one provider account,
// captured at discovery time and stored inside the import job
// configuration. AccessTokenKey points back at the credential entry whose
// token can authenticate requests for this account.
type ExternalAccount struct {
	AccountID      string          `json:"account_id"`
	Name           string          `json:"name"`
	Balance        decimal.Decimal `json:"balance"`
	Mask           string          `json:"mask"`
	Type           string          `json:"type"`
	Subtype        string          `json:"subtype"`
	CurrencyCode   string          `json:"currency_code"`
	AccessTokenKey string          `json:"access_token_key"`
}

// ExternalTransaction is one transaction as returned by the provider.
// Amount keeps the provider's sign: strictly positive means money coming
// into the account. The normalizer turns the sign into the ledger record's
// withdrawal/deposit polarity and carries the magnitude unsigned.
type ExternalTransaction struct {
	TransactionID   string          `json:"transaction_id"`
	TransactionType string          `json:"transaction_type"`
	Date            string          `json:"date"` // DateFormat
	Amount          decimal.Decimal `json:"amount"`
	CurrencyCode    string          `json:"iso_currency_code"`
	Name            string          `json:"name"`
	Categories      []string        `json:"category"`
	Pending         bool            `json:"pending"`
	AccountID       string          `json:"account_id"`
}

// ParsedDate parses the transaction's calendar date.
func (t ExternalTransaction) ParsedDate() (time.Time, error) {
	return time.Parse(DateFormat, t.Date)
}

// Institution describes one financial institution reachable through a
// stored access token.
type Institution struct {
	InstitutionID string            `json:"institution_id"`
	Name          string            `json:"name"`
	Accounts      []ExternalAccount `json:"accounts,omitempty"`
}
