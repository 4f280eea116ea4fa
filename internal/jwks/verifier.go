package jwks

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"

	"github.com/example/cs-auth-service/internal/adapters/cache"
	"github.com/example/cs-auth-service/internal/tokencodec"
)

var ErrFetchFailed = errors.New("jwks fetch failed")

// Certificate is one JWKS entry, cached as the provider serves it.
type Certificate struct {
	Kid string `json:"kid"`
	Alg string `json:"alg"`
	N   string `json:"n"`
	E   string `json:"e"`
}

type keySet struct {
	Keys []Certificate `json:"keys"`
}

// Doer is the one outbound-HTTP capability this package needs.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Verifier caches a provider's signing-key set under a provider-scoped cache
// key. The cache TTL is whatever remaining lifetime the provider's certificate
// endpoint advertises; rotation cadence is provider-controlled.
type Verifier struct {
	certURL  string
	cacheKey string
	store    cache.Store
	client   Doer
	logger   zerolog.Logger
}

func NewVerifier(certURL, cacheKey string, store cache.Store, client Doer, logger zerolog.Logger) *Verifier {
	return &Verifier{
		certURL:  certURL,
		cacheKey: cacheKey,
		store:    store,
		client:   client,
		logger:   logger,
	}
}

// GetSigningKey resolves kid to a public key. On a cache or kid miss it forces
// one synchronous refresh and retries the lookup once; if the kid is still
// unknown it returns (nil, nil) and the caller falls back to a network profile
// call rather than failing outright. At most one fetch happens per call: a
// set that was itself just fetched is not refreshed again.
func (v *Verifier) GetSigningKey(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	certs, fetched, err := v.certificatesFromCache(ctx)
	if err != nil {
		return nil, err
	}
	if key := findKey(certs, kid); key != nil {
		return keyFromCertificate(key)
	}

	if !fetched {
		certs, err = v.refresh(ctx)
		if err != nil {
			return nil, err
		}
		if key := findKey(certs, kid); key != nil {
			return keyFromCertificate(key)
		}
	}
	v.logger.Warn().Str("kid", kid).Msg("no signing key for kid after refresh")
	return nil, nil
}

// Decode validates algorithm, signature and, when requested, expiry.
func (v *Verifier) Decode(tokenString string, key *rsa.PublicKey, claims jwt.Claims, checkExpiry bool) error {
	return tokencodec.DecodeRS256(tokenString, key, claims, checkExpiry)
}

// certificatesFromCache reports whether the returned set came from a fresh
// fetch rather than the cache.
func (v *Verifier) certificatesFromCache(ctx context.Context) ([]Certificate, bool, error) {
	raw, ok, err := v.store.Get(ctx, v.cacheKey)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		certs, err := v.refresh(ctx)
		return certs, true, err
	}
	var certs []Certificate
	if err := cache.Unmarshal(raw, &certs); err != nil {
		return nil, false, err
	}
	return certs, false, nil
}

func (v *Verifier) refresh(ctx context.Context) ([]Certificate, error) {
	certs, expires, err := v.fetch(ctx)
	if err != nil {
		return nil, err
	}
	ttl := time.Until(expires)
	if ttl > 0 {
		value, err := cache.Marshal(certs)
		if err != nil {
			return nil, err
		}
		if err := v.store.SetWithTTL(ctx, v.cacheKey, value, ttl); err != nil {
			return nil, err
		}
	}
	return certs, nil
}

func (v *Verifier) fetch(ctx context.Context) ([]Certificate, time.Time, error) {
	var certs []Certificate
	var expires time.Time

	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.certURL, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		res, err := v.client.Do(req)
		if err != nil {
			return err
		}
		defer res.Body.Close()
		if res.StatusCode >= 400 {
			v.logger.Error().Int("status", res.StatusCode).Str("url", v.certURL).Msg("certificate endpoint error")
			return fmt.Errorf("%w: status %d", ErrFetchFailed, res.StatusCode)
		}
		expiresHeader := res.Header.Get("Expires")
		parsed, err := http.ParseTime(expiresHeader)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("%w: bad expires header %q", ErrFetchFailed, expiresHeader))
		}
		body, err := io.ReadAll(res.Body)
		if err != nil {
			return err
		}
		var set keySet
		if err := json.Unmarshal(body, &set); err != nil {
			return backoff.Permanent(err)
		}
		certs = set.Keys
		expires = parsed
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 200 * time.Millisecond
	bo.MaxElapsedTime = 3 * time.Second
	if err := backoff.Retry(op, backoff.WithContext(bo, ctx)); err != nil {
		return nil, time.Time{}, err
	}
	return certs, expires, nil
}

func findKey(certs []Certificate, kid string) *Certificate {
	for i := range certs {
		if certs[i].Kid == kid {
			return &certs[i]
		}
	}
	return nil
}

func keyFromCertificate(cert *Certificate) (*rsa.PublicKey, error) {
	return tokencodec.PublicKeyFromComponents(cert.N, cert.E)
}
