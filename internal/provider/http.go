package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
)

// Environment selects the provider deployment to talk to.
type Environment string

const (
	EnvSandbox     Environment = "sandbox"
	EnvDevelopment Environment = "development"
	EnvProduction  Environment = "production"
)

// baseURL returns the API origin for the environment.
func (e Environment) baseURL() string {
	return fmt.Sprintf("https://%s.plaid.com", string(e))
}

// UpstreamError is a provider API failure: a transport error or a non-2xx
// response. It is fatal to the operation that triggered the call.
type UpstreamError struct {
	Endpoint   string
	StatusCode int
	Body       string
	Err        error
}

func (e *UpstreamError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("provider %s: %v", e.Endpoint, e.Err)
	}
	return fmt.Sprintf("provider %s: status %d: %s", e.Endpoint, e.StatusCode, e.Body)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// HTTPClient is the HTTP implementation of Client. Credentials are sent in
// every request body per the provider convention.
type HTTPClient struct {
	clientID  string
	secret    string
	publicKey string
	base      string
	http      *http.Client
}

// NewHTTPClient creates a client for the given environment and API keys.
func NewHTTPClient(env Environment, clientID, secret, publicKey string) *HTTPClient {
	return &HTTPClient{
		clientID:  clientID,
		secret:    secret,
		publicKey: publicKey,
		base:      env.baseURL(),
		http:      &http.Client{Timeout: 30 * time.Second},
	}
}

// post sends a JSON body and decodes the JSON response into out.
func (c *HTTPClient) post(ctx context.Context, endpoint string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("post %s: marshal body: %w", endpoint, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("post %s: build request: %w", endpoint, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return &UpstreamError{Endpoint: endpoint, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return &UpstreamError{Endpoint: endpoint, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &UpstreamError{Endpoint: endpoint, StatusCode: resp.StatusCode, Body: string(data)}
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("post %s: decode response: %w", endpoint, err)
	}
	return nil
}

// ExchangePublicToken implements Client.
func (c *HTTPClient) ExchangePublicToken(ctx context.Context, publicToken string) (string, error) {
	body := map[string]string{
		"client_id":    c.clientID,
		"secret":       c.secret,
		"public_token": publicToken,
	}
	var out struct {
		AccessToken string `json:"access_token"`
	}
	if err := c.post(ctx, "/item/public_token/exchange", body, &out); err != nil {
		return "", fmt.Errorf("ExchangePublicToken: %w", err)
	}
	return out.AccessToken, nil
}

// GetAccounts implements Client.
func (c *HTTPClient) GetAccounts(ctx context.Context, accessToken string) (string, []ExternalAccount, error) {
	body := map[string]string{
		"client_id":    c.clientID,
		"secret":       c.secret,
		"access_token": accessToken,
	}
	var out struct {
		Item struct {
			InstitutionID string `json:"institution_id"`
		} `json:"item"`
		Accounts []struct {
			AccountID string `json:"account_id"`
			Name      string `json:"name"`
			Mask      string `json:"mask"`
			Type      string `json:"type"`
			Subtype   string `json:"subtype"`
			Balances  struct {
				Current                json.Number `json:"current"`
				UnofficialCurrencyCode string      `json:"unofficial_currency_code"`
				ISOCurrencyCode        string      `json:"iso_currency_code"`
			} `json:"balances"`
		} `json:"accounts"`
	}
	if err := c.post(ctx, "/accounts/get", body, &out); err != nil {
		return "", nil, fmt.Errorf("GetAccounts: %w", err)
	}

	accounts := make([]ExternalAccount, 0, len(out.Accounts))
	for _, a := range out.Accounts {
		balance, err := decimalFromNumber(a.Balances.Current)
		if err != nil {
			return "", nil, fmt.Errorf("GetAccounts: account %s balance: %w", a.AccountID, err)
		}
		code := a.Balances.ISOCurrencyCode
		if code == "" {
			code = a.Balances.UnofficialCurrencyCode
		}
		accounts = append(accounts, ExternalAccount{
			AccountID:    a.AccountID,
			Name:         a.Name,
			Balance:      balance,
			Mask:         a.Mask,
			Type:         a.Type,
			Subtype:      a.Subtype,
			CurrencyCode: code,
		})
	}
	return out.Item.InstitutionID, accounts, nil
}

// GetInstitution implements Client.
func (c *HTTPClient) GetInstitution(ctx context.Context, institutionID string) (*Institution, error) {
	body := map[string]string{
		"public_key":     c.publicKey,
		"institution_id": institutionID,
	}
	var out struct {
		Institution Institution `json:"institution"`
	}
	if err := c.post(ctx, "/institutions/get_by_id", body, &out); err != nil {
		return nil, fmt.Errorf("GetInstitution: %w", err)
	}
	return &out.Institution, nil
}

// GetTransactions implements Client.
func (c *HTTPClient) GetTransactions(ctx context.Context, accessToken, accountID string, start, end time.Time, count, offset int) ([]ExternalTransaction, error) {
	body := map[string]any{
		"client_id":    c.clientID,
		"secret":       c.secret,
		"access_token": accessToken,
		"start_date":   start.Format(DateFormat),
		"end_date":     end.Format(DateFormat),
		"options": map[string]any{
			"count":       count,
			"offset":      offset,
			"account_ids": []string{accountID},
		},
	}
	var out struct {
		Transactions []ExternalTransaction `json:"transactions"`
	}
	if err := c.post(ctx, "/transactions/get", body, &out); err != nil {
		return nil, fmt.Errorf("GetTransactions: %w", err)
	}
	return out.Transactions, nil
}

func decimalFromNumber(n json.Number) (d decimal.Decimal, err error) {
	if n == "" {
		return d, nil
	}
	return decimal.NewFromString(n.String())
}

var _ Client = (*HTTPClient)(nil)
