package provider

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"net/http"
	"time"

	"github.com/example/cs-auth-service/internal/adapters/cache"
	"github.com/example/cs-auth-service/internal/domain"
)

// Provider-layer error taxonomy. The orchestration layer maps each of these to
// exactly one outward classification.
var (
	// ErrStateNotFound covers CSRF-forged callbacks and expired state records.
	ErrStateNotFound = errors.New("callback state is not in cache")
	// ErrStateMismatch covers a presented state that fails the anti-replay check.
	ErrStateMismatch = errors.New("callback state does not match cached state")
	ErrTokenExchange = errors.New("token exchange failed")
	ErrBadTokens     = errors.New("bad token structure")
	ErrProfileFetch  = errors.New("profile fetch failed")
	ErrRevoke        = errors.New("token revocation failed")
)

// Doer is the injected outbound-HTTP capability. *http.Client satisfies it;
// tests swap the transport.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// LoginCacheData is the secret-in-flight record stored under the opaque state
// value for the duration of one authorization round trip.
type LoginCacheData struct {
	PKCECodeVerifier string         `json:"pkce_code_verifier"`
	Session          domain.Session `json:"session"`
}

// PutLoginCacheData stores data under state in the provider's own cache
// namespace. The TTL is short: this is a secret in flight, not a record.
func PutLoginCacheData(ctx context.Context, store cache.Store, state string, data LoginCacheData, ttl time.Duration) error {
	value, err := cache.Marshal(data)
	if err != nil {
		return err
	}
	return store.SetWithTTL(ctx, state, value, ttl)
}

// GetLoginCacheData fails with ErrStateNotFound when the state was never
// issued or has expired. Callers must check this before any token exchange.
// The record is consumed on a successful lookup: state is single use.
func GetLoginCacheData(ctx context.Context, store cache.Store, state string) (LoginCacheData, error) {
	raw, ok, err := store.Get(ctx, state)
	if err != nil {
		return LoginCacheData{}, err
	}
	if !ok {
		return LoginCacheData{}, ErrStateNotFound
	}
	if err := store.Delete(ctx, state); err != nil {
		return LoginCacheData{}, err
	}
	var data LoginCacheData
	if err := cache.Unmarshal(raw, &data); err != nil {
		return LoginCacheData{}, err
	}
	return data, nil
}

// GenerateState returns an unguessable CSRF state value.
func GenerateState() string {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		panic(err) // crypto/rand failure is unrecoverable
	}
	return base64.RawURLEncoding.EncodeToString(buf)
}
