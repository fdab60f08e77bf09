package importer

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/fireledger/importer/internal/credentials"
	"github.com/fireledger/importer/internal/importjob"
	"github.com/fireledger/importer/internal/ledger"
)

// NewJobHandler starts a fresh job. There is nothing to configure; it
// exists to hand the user to the authentication step.
type NewJobHandler struct {
	stageDeps
}

func (h *NewJobHandler) ConfigurationComplete(ctx context.Context) (bool, error) {
	if err := h.jobs.SetStage(ctx, h.job, importjob.StageDoAuthenticate); err != nil {
		return false, fmt.Errorf("NewJobHandler: set stage: %w", err)
	}
	return true, nil
}

func (h *NewJobHandler) ConfigureJob(ctx context.Context, data map[string]any) (*Messages, error) {
	return NewMessages(), nil
}

func (h *NewJobHandler) NextData(ctx context.Context) (map[string]any, error) {
	creds, err := credentials.LoadClientCredentials(ctx, h.creds, h.job.UserID)
	if err != nil {
		return nil, fmt.Errorf("NewJobHandler: %w", err)
	}
	return map[string]any{
		"has_client_credentials": creds.Complete(),
	}, nil
}

func (h *NewJobHandler) NextView() string { return "import.provider.new" }

// DoAuthenticateHandler sends the user through the provider's external
// authorization handshake. It completes once a code came back through the
// callback or the user already has a linked access token.
type DoAuthenticateHandler struct {
	stageDeps
}

func (h *DoAuthenticateHandler) ConfigurationComplete(ctx context.Context) (bool, error) {
	cfg, err := h.jobs.GetConfiguration(ctx, h.job)
	if err != nil {
		return false, fmt.Errorf("DoAuthenticateHandler: get configuration: %w", err)
	}
	tokens, err := credentials.AccessTokens(ctx, h.creds, h.job.UserID)
	if err != nil {
		return false, fmt.Errorf("DoAuthenticateHandler: %w", err)
	}
	if cfg.AuthCode == "" && len(tokens) == 0 {
		return false, nil
	}
	if err := h.jobs.SetStage(ctx, h.job, importjob.StageChooseLogin); err != nil {
		return false, fmt.Errorf("DoAuthenticateHandler: set stage: %w", err)
	}
	return true, nil
}

func (h *DoAuthenticateHandler) ConfigureJob(ctx context.Context, data map[string]any) (*Messages, error) {
	return NewMessages(), nil
}

// NextData carries the parameters the link widget needs. The job key rides
// along as the OAuth state so the callback can find the job again.
func (h *DoAuthenticateHandler) NextData(ctx context.Context) (map[string]any, error) {
	creds, err := credentials.LoadClientCredentials(ctx, h.creds, h.job.UserID)
	if err != nil {
		return nil, fmt.Errorf("DoAuthenticateHandler: %w", err)
	}
	return map[string]any{
		"public_key": creds.PublicKey,
		"state":      h.job.Key,
	}, nil
}

func (h *DoAuthenticateHandler) NextView() string { return "import.provider.authenticate" }

// ChooseLoginHandler lets the user pick which linked institution logins
// this job imports from.
type ChooseLoginHandler struct {
	stageDeps
}

func (h *ChooseLoginHandler) ConfigurationComplete(ctx context.Context) (bool, error) {
	tokens, err := credentials.AccessTokens(ctx, h.creds, h.job.UserID)
	if err != nil {
		return false, fmt.Errorf("ChooseLoginHandler: %w", err)
	}
	if len(tokens) == 0 {
		return false, nil
	}
	if err := h.jobs.SetStage(ctx, h.job, importjob.StageAuthenticated); err != nil {
		return false, fmt.Errorf("ChooseLoginHandler: set stage: %w", err)
	}
	return true, nil
}

// ConfigureJob stores the selected token keys. Unknown keys are dropped
// silently; an empty selection yields an advisory message.
func (h *ChooseLoginHandler) ConfigureJob(ctx context.Context, data map[string]any) (*Messages, error) {
	messages := NewMessages()
	var selected []string
	for _, raw := range anySlice(data["token_keys"]) {
		key, ok := raw.(string)
		if !ok {
			continue
		}
		_, exists, err := h.creds.Get(ctx, h.job.UserID, key)
		if err != nil {
			return nil, fmt.Errorf("ChooseLoginHandler: get %s: %w", key, err)
		}
		if exists {
			selected = append(selected, key)
		}
	}

	cfg, err := h.jobs.GetConfiguration(ctx, h.job)
	if err != nil {
		return nil, fmt.Errorf("ChooseLoginHandler: get configuration: %w", err)
	}
	cfg.TokenKeys = selected
	if err := h.jobs.SetConfiguration(ctx, h.job, cfg); err != nil {
		return nil, fmt.Errorf("ChooseLoginHandler: set configuration: %w", err)
	}
	if len(selected) == 0 {
		messages.Add("token_keys", "Select at least one linked login to import from.")
	}
	return messages, nil
}

func (h *ChooseLoginHandler) NextData(ctx context.Context) (map[string]any, error) {
	tokens, err := credentials.AccessTokens(ctx, h.creds, h.job.UserID)
	if err != nil {
		return nil, fmt.Errorf("ChooseLoginHandler: %w", err)
	}
	keys := make([]string, 0, len(tokens))
	for _, t := range tokens {
		keys = append(keys, t.Key)
	}
	return map[string]any{"token_keys": keys}, nil
}

func (h *ChooseLoginHandler) NextView() string { return "import.provider.logins" }

// AuthenticatedHandler waits for account discovery to populate the job's
// external account snapshot.
type AuthenticatedHandler struct {
	stageDeps
}

func (h *AuthenticatedHandler) ConfigurationComplete(ctx context.Context) (bool, error) {
	cfg, err := h.jobs.GetConfiguration(ctx, h.job)
	if err != nil {
		return false, fmt.Errorf("AuthenticatedHandler: get configuration: %w", err)
	}
	if len(cfg.Accounts) == 0 {
		return false, nil
	}
	if err := h.jobs.SetStage(ctx, h.job, importjob.StageChooseAccounts); err != nil {
		return false, fmt.Errorf("AuthenticatedHandler: set stage: %w", err)
	}
	return true, nil
}

func (h *AuthenticatedHandler) ConfigureJob(ctx context.Context, data map[string]any) (*Messages, error) {
	return NewMessages(), nil
}

func (h *AuthenticatedHandler) NextData(ctx context.Context) (map[string]any, error) {
	cfg, err := h.jobs.GetConfiguration(ctx, h.job)
	if err != nil {
		return nil, fmt.Errorf("AuthenticatedHandler: get configuration: %w", err)
	}
	return map[string]any{"accounts": cfg.Accounts}, nil
}

func (h *AuthenticatedHandler) NextView() string { return "import.provider.authenticated" }

// ChooseAccountsHandler maps discovered external accounts onto local
// ledger accounts. A local id of 0 means "skip, do not import".
type ChooseAccountsHandler struct {
	stageDeps
}

// ConfigurationComplete is true iff the stored mapping is non-empty and
// not the degenerate all-zero case. On true it advances the job to the
// terminal go-for-import stage; re-setting the same stage is a no-op, so
// repeated calls are safe.
func (h *ChooseAccountsHandler) ConfigurationComplete(ctx context.Context) (bool, error) {
	cfg, err := h.jobs.GetConfiguration(ctx, h.job)
	if err != nil {
		return false, fmt.Errorf("ChooseAccountsHandler: get configuration: %w", err)
	}
	if !mappingUsable(cfg.AccountMapping) {
		return false, nil
	}
	h.log.Debug().Str("job", h.job.Key).Msg("Account mapping present, job is go for import")
	if err := h.jobs.SetStage(ctx, h.job, importjob.StageGoForImport); err != nil {
		return false, fmt.Errorf("ChooseAccountsHandler: set stage: %w", err)
	}
	return true, nil
}

// ConfigureJob validates and stores the submitted account mapping plus the
// apply_rules flag. Invalid or missing local account ids are coerced to 0
// (skip) rather than left dangling; if the whole mapping ends up unusable
// a single "count" message is returned.
func (h *ChooseAccountsHandler) ConfigureJob(ctx context.Context, data map[string]any) (*Messages, error) {
	messages := NewMessages()

	final := make(map[string]int64)
	if rawMapping, ok := data["account_mapping"].(map[string]any); ok {
		for externalID, rawLocal := range rawMapping {
			localID, _ := toInt64(rawLocal)
			valid, err := h.validLocalAccount(ctx, localID)
			if err != nil {
				return nil, fmt.Errorf("ChooseAccountsHandler: %w", err)
			}
			final[externalID] = valid
		}
	}
	applyRules, _ := toInt64(data["apply_rules"])

	cfg, err := h.jobs.GetConfiguration(ctx, h.job)
	if err != nil {
		return nil, fmt.Errorf("ChooseAccountsHandler: get configuration: %w", err)
	}
	cfg.AccountMapping = final
	cfg.ApplyRules = applyRules == 1
	if err := h.jobs.SetConfiguration(ctx, h.job, cfg); err != nil {
		return nil, fmt.Errorf("ChooseAccountsHandler: set configuration: %w", err)
	}

	if !mappingUsable(final) {
		messages.Add("count", "None of the provider accounts are mapped to a local account; nothing would be imported.")
	}
	return messages, nil
}

// NextData lists the user's importable local accounts for presentation,
// resolving each account's currency with a fallback to the user's default.
func (h *ChooseAccountsHandler) NextData(ctx context.Context) (map[string]any, error) {
	accounts, err := h.accounts.AccountsByType(ctx, ledger.ImportableAccountTypes)
	if err != nil {
		return nil, fmt.Errorf("ChooseAccountsHandler: list accounts: %w", err)
	}

	listing := make(map[string]map[string]string, len(accounts))
	for _, account := range accounts {
		currency, err := h.currencyFor(ctx, account)
		if err != nil {
			return nil, fmt.Errorf("ChooseAccountsHandler: %w", err)
		}
		listing[strconv.FormatInt(account.ID, 10)] = map[string]string{
			"name": account.Name,
			"iban": account.IBAN,
			"code": currency.Code,
		}
	}
	return map[string]any{"ledger_accounts": listing}, nil
}

func (h *ChooseAccountsHandler) NextView() string { return "import.provider.accounts" }

// currencyFor resolves the account's configured currency, falling back to
// the user's default when none is set or the reference is stale.
func (h *ChooseAccountsHandler) currencyFor(ctx context.Context, account *ledger.Account) (*ledger.Currency, error) {
	if account.CurrencyID != 0 {
		currency, err := h.currencies.FindByID(ctx, account.CurrencyID)
		if err != nil {
			return nil, fmt.Errorf("currency #%d: %w", account.CurrencyID, err)
		}
		if currency != nil {
			return currency, nil
		}
	}
	currency, err := h.currencies.DefaultForUser(ctx, h.job.UserID)
	if err != nil {
		return nil, fmt.Errorf("default currency: %w", err)
	}
	if currency == nil {
		return nil, fmt.Errorf("no default currency configured for user %s", h.job.UserID)
	}
	return currency, nil
}

// validLocalAccount returns the id unchanged when it references an
// existing account, 0 otherwise.
func (h *ChooseAccountsHandler) validLocalAccount(ctx context.Context, id int64) (int64, error) {
	if id == 0 {
		return 0, nil
	}
	account, err := h.accounts.FindByID(ctx, id)
	if err != nil {
		return 0, fmt.Errorf("account #%d: %w", id, err)
	}
	if account == nil {
		return 0, nil
	}
	return id, nil
}

// mappingUsable reports whether the mapping is non-empty and not the
// degenerate single-entry all-zero case.
func mappingUsable(mapping map[string]int64) bool {
	if len(mapping) == 0 {
		return false
	}
	if len(mapping) == 1 {
		if v, ok := mapping["0"]; ok && v == 0 {
			return false
		}
	}
	return true
}

// toInt64 converts the numeric shapes a decoded JSON payload can carry.
func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case float64:
		return int64(n), true
	case json.Number:
		i, err := n.Int64()
		return i, err == nil
	case string:
		i, err := strconv.ParseInt(n, 10, 64)
		return i, err == nil
	case bool:
		if n {
			return 1, true
		}
		return 0, true
	}
	return 0, false
}

// anySlice normalizes a decoded JSON array.
func anySlice(v any) []any {
	switch s := v.(type) {
	case []any:
		return s
	case []string:
		out := make([]any, len(s))
		for i, e := range s {
			out[i] = e
		}
		return out
	}
	return nil
}
