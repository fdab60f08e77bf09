package importer

import (
	"context"
	"fmt"

	"github.com/fireledger/importer/internal/credentials"
	"github.com/fireledger/importer/internal/importjob"
	"github.com/fireledger/importer/internal/provider"
	"github.com/rs/zerolog"
)

// Flow handles the authorization half of the import: the redirect
// callback, the public-token exchange and account discovery.
type Flow struct {
	jobs   importjob.Repository
	creds  credentials.Store
	client provider.Client
	log    zerolog.Logger
}

// NewFlow creates an authorization flow.
func NewFlow(jobs importjob.Repository, creds credentials.Store, client provider.Client, log zerolog.Logger) *Flow {
	return &Flow{jobs: jobs, creds: creds, client: client, log: log}
}

// CompleteAuthorization handles the provider redirect carrying
// {code, state}. The state token is the import job key. No external call
// happens here; the token exchange belongs to the next stage.
func (f *Flow) CompleteAuthorization(ctx context.Context, code, stateKey string) (*importjob.Job, error) {
	if code == "" {
		return nil, ErrInvalidAuthorizationCode
	}

	job, err := f.jobs.FindByKey(ctx, stateKey)
	if err != nil {
		return nil, fmt.Errorf("CompleteAuthorization: find job: %w", err)
	}
	if stateKey == "" || job == nil {
		return nil, ErrUnknownJob
	}
	f.log.Debug().Str("job", job.Key).Msg("Got an authorization code from the provider")

	cfg, err := f.jobs.GetConfiguration(ctx, job)
	if err != nil {
		return nil, fmt.Errorf("CompleteAuthorization: get configuration: %w", err)
	}
	cfg.AuthCode = code
	if err := f.jobs.SetConfiguration(ctx, job, cfg); err != nil {
		return nil, fmt.Errorf("CompleteAuthorization: set configuration: %w", err)
	}

	if err := f.jobs.SetStatus(ctx, job, importjob.StatusReadyToRun); err != nil {
		return nil, fmt.Errorf("CompleteAuthorization: set status: %w", err)
	}
	if err := f.jobs.SetStage(ctx, job, importjob.StageGetAccessToken); err != nil {
		return nil, fmt.Errorf("CompleteAuthorization: set stage: %w", err)
	}
	return job, nil
}

// ExchangePublicToken swaps a short-lived public token for a durable access
// token and appends it at the user's next free credential index. Multiple
// linked institutions per user are intentional; nothing is deduplicated.
func (f *Flow) ExchangePublicToken(ctx context.Context, userID, publicToken string) (string, error) {
	if userID == "" {
		return "", ErrUnauthorized
	}

	accessToken, err := f.client.ExchangePublicToken(ctx, publicToken)
	if err != nil {
		return "", fmt.Errorf("ExchangePublicToken: %w", err)
	}

	key, err := credentials.AppendAccessToken(ctx, f.creds, userID, accessToken)
	if err != nil {
		return "", fmt.Errorf("ExchangePublicToken: %w", err)
	}
	f.log.Info().Str("user", userID).Str("key", key).Msg("Stored new provider access token")
	return key, nil
}

// DiscoverAccounts walks the job's selected access tokens (every stored
// token when no selection was made), fetches their accounts and
// institutions, snapshots the accounts into the job configuration and
// returns the institutions keyed by token key for presentation.
func (f *Flow) DiscoverAccounts(ctx context.Context, userID, jobKey string) (map[string]provider.Institution, error) {
	if userID == "" {
		return nil, ErrUnauthorized
	}
	job, err := f.jobs.FindByKey(ctx, jobKey)
	if err != nil {
		return nil, fmt.Errorf("DiscoverAccounts: find job: %w", err)
	}
	if job == nil {
		return nil, ErrUnknownJob
	}

	cfg, err := f.jobs.GetConfiguration(ctx, job)
	if err != nil {
		return nil, fmt.Errorf("DiscoverAccounts: get configuration: %w", err)
	}
	selected := make(map[string]bool, len(cfg.TokenKeys))
	for _, key := range cfg.TokenKeys {
		selected[key] = true
	}

	tokens, err := credentials.AccessTokens(ctx, f.creds, userID)
	if err != nil {
		return nil, fmt.Errorf("DiscoverAccounts: %w", err)
	}

	institutions := make(map[string]provider.Institution, len(tokens))
	var snapshot []provider.ExternalAccount
	for _, token := range tokens {
		if len(selected) > 0 && !selected[token.Key] {
			continue
		}
		instID, accounts, err := f.client.GetAccounts(ctx, token.Value)
		if err != nil {
			return nil, fmt.Errorf("DiscoverAccounts: accounts for %s: %w", token.Key, err)
		}
		inst, err := f.client.GetInstitution(ctx, instID)
		if err != nil {
			return nil, fmt.Errorf("DiscoverAccounts: institution %s: %w", instID, err)
		}

		for i := range accounts {
			accounts[i].AccessTokenKey = token.Key
		}
		view := *inst
		view.Accounts = accounts
		institutions[token.Key] = view
		snapshot = append(snapshot, accounts...)

		f.log.Debug().
			Str("token_key", token.Key).
			Str("institution", inst.Name).
			Int("accounts", len(accounts)).
			Msg("Discovered provider accounts")
	}

	cfg.Accounts = snapshot
	if err := f.jobs.SetConfiguration(ctx, job, cfg); err != nil {
		return nil, fmt.Errorf("DiscoverAccounts: set configuration: %w", err)
	}
	return institutions, nil
}
