// Package credentials stores per-user provider secrets: API keys, linked
// access tokens and sync checkpoints, all as opaque key-value pairs.
package credentials

import (
	"context"
	"fmt"
	"time"
)

// Keys used in the store. Access tokens are indexed (access_token_0,
// access_token_1, ...); index assignment is append-only and contiguous.
const (
	KeyAppID     = "app_id"
	KeySecret    = "secret"
	KeyPublicKey = "public_key"

	accessTokenPrefix = "access_token_"
	checkpointPrefix  = "last_date_synced_"
)

// Store persists per-user key-value secrets. Implementations must be safe
// for concurrent use.
type Store interface {
	// Get returns the value for (userID, key). ok is false when the key is
	// absent.
	Get(ctx context.Context, userID, key string) (value string, ok bool, err error)

	// Set writes the value for (userID, key), overwriting any previous one.
	Set(ctx context.Context, userID, key, value string) error
}

// AccessTokenKey returns the store key for the n-th linked access token.
func AccessTokenKey(n int) string {
	return fmt.Sprintf("%s%d", accessTokenPrefix, n)
}

// CheckpointKey returns the store key holding the last-synced timestamp for
// a local ledger account.
func CheckpointKey(localAccountID int64) string {
	return fmt.Sprintf("%s%d", checkpointPrefix, localAccountID)
}

// Token is one stored access token together with the key it lives under.
type Token struct {
	Key   string
	Value string
}

// AccessTokens returns the user's linked access tokens in index order.
// Contiguity of the index sequence means probing from 0 until the first
// miss sees every token.
func AccessTokens(ctx context.Context, s Store, userID string) ([]Token, error) {
	var tokens []Token
	for n := 0; ; n++ {
		key := AccessTokenKey(n)
		value, ok, err := s.Get(ctx, userID, key)
		if err != nil {
			return nil, fmt.Errorf("AccessTokens: get %s: %w", key, err)
		}
		if !ok {
			return tokens, nil
		}
		tokens = append(tokens, Token{Key: key, Value: value})
	}
}

// AppendAccessToken stores a new access token at the next free index and
// returns the key it was stored under. Repeated calls append; linking the
// same institution twice yields two entries on purpose.
func AppendAccessToken(ctx context.Context, s Store, userID, accessToken string) (string, error) {
	existing, err := AccessTokens(ctx, s, userID)
	if err != nil {
		return "", fmt.Errorf("AppendAccessToken: %w", err)
	}
	key := AccessTokenKey(len(existing))
	if err := s.Set(ctx, userID, key, accessToken); err != nil {
		return "", fmt.Errorf("AppendAccessToken: set %s: %w", key, err)
	}
	return key, nil
}

// AccessTokenByKey returns the token stored under an explicit key, as
// referenced by an external account snapshot.
func AccessTokenByKey(ctx context.Context, s Store, userID, key string) (string, error) {
	value, ok, err := s.Get(ctx, userID, key)
	if err != nil {
		return "", fmt.Errorf("AccessTokenByKey: get %s: %w", key, err)
	}
	if !ok {
		return "", fmt.Errorf("AccessTokenByKey: no access token stored under %q", key)
	}
	return value, nil
}

// ClientCredentials are the per-user provider API keys.
type ClientCredentials struct {
	AppID     string
	Secret    string
	PublicKey string
}

// Complete reports whether all three keys are present.
func (c ClientCredentials) Complete() bool {
	return c.AppID != "" && c.Secret != "" && c.PublicKey != ""
}

// LoadClientCredentials reads the user's provider API keys. Missing keys
// come back empty; use Complete to check.
func LoadClientCredentials(ctx context.Context, s Store, userID string) (ClientCredentials, error) {
	var creds ClientCredentials
	for _, e := range []struct {
		key string
		dst *string
	}{
		{KeyAppID, &creds.AppID},
		{KeySecret, &creds.Secret},
		{KeyPublicKey, &creds.PublicKey},
	} {
		value, _, err := s.Get(ctx, userID, e.key)
		if err != nil {
			return ClientCredentials{}, fmt.Errorf("LoadClientCredentials: get %s: %w", e.key, err)
		}
		*e.dst = value
	}
	return creds, nil
}

// StoreClientCredentials writes the user's provider API keys.
func StoreClientCredentials(ctx context.Context, s Store, userID string, creds ClientCredentials) error {
	for _, e := range []struct {
		key   string
		value string
	}{
		{KeyAppID, creds.AppID},
		{KeySecret, creds.Secret},
		{KeyPublicKey, creds.PublicKey},
	} {
		if err := s.Set(ctx, userID, e.key, e.value); err != nil {
			return fmt.Errorf("StoreClientCredentials: set %s: %w", e.key, err)
		}
	}
	return nil
}

// Checkpoint returns the last-successful-sync time for a local account, or
// ok=false when no sync has completed yet.
func Checkpoint(ctx context.Context, s Store, userID string, localAccountID int64) (time.Time, bool, error) {
	value, ok, err := s.Get(ctx, userID, CheckpointKey(localAccountID))
	if err != nil {
		return time.Time{}, false, fmt.Errorf("Checkpoint: %w", err)
	}
	if !ok {
		return time.Time{}, false, nil
	}
	ts, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("Checkpoint: parse %q: %w", value, err)
	}
	return ts, true, nil
}

// SetCheckpoint records the last-successful-sync time for a local account.
func SetCheckpoint(ctx context.Context, s Store, userID string, localAccountID int64, ts time.Time) error {
	if err := s.Set(ctx, userID, CheckpointKey(localAccountID), ts.Format(time.RFC3339)); err != nil {
		return fmt.Errorf("SetCheckpoint: %w", err)
	}
	return nil
}
