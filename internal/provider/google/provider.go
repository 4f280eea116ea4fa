package google

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"golang.org/x/oauth2"

	"github.com/example/cs-auth-service/config"
	"github.com/example/cs-auth-service/internal/adapters/cache"
	"github.com/example/cs-auth-service/internal/domain"
	"github.com/example/cs-auth-service/internal/jwks"
	"github.com/example/cs-auth-service/internal/provider"
	"github.com/example/cs-auth-service/internal/tokencodec"
)

// Provider drives the Google authorization-code+PKCE flow. Google supports
// offline access and token revocation (RFC 7009); its ID token is a verifiable
// RS256 JWT, so profile data normally needs no network call.
type Provider struct {
	mu       sync.Mutex
	cfg      *config.Config
	store    cache.Store
	client   *http.Client
	verifier *jwks.Verifier
	logger   zerolog.Logger
}

func New(cfg *config.Config, store cache.Store, client *http.Client, verifier *jwks.Verifier, logger zerolog.Logger) *Provider {
	return &Provider{
		cfg:      cfg,
		store:    store,
		client:   client,
		verifier: verifier,
		logger:   logger,
	}
}

func (p *Provider) oauthConfig() *oauth2.Config {
	return &oauth2.Config{
		ClientID:     p.cfg.GoogleClientID,
		ClientSecret: p.cfg.GoogleClientSecret,
		RedirectURL:  p.cfg.GoogleRedirectURL,
		Scopes:       []string{"openid", "profile", "email"},
		Endpoint: oauth2.Endpoint{
			AuthURL:  p.cfg.GoogleOAuthURL,
			TokenURL: p.cfg.GoogleTokenURL,
		},
	}
}

// BeginAuthorization builds the authorization URL bound to a fresh PKCE
// challenge and state, and parks the verifier plus the caller's session under
// that state. It never redirects; the HTTP layer does that.
func (p *Provider) BeginAuthorization(ctx context.Context, session domain.Session) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	verifier := oauth2.GenerateVerifier()
	state := provider.GenerateState()

	authURL := p.oauthConfig().AuthCodeURL(state,
		oauth2.AccessTypeOffline,
		oauth2.S256ChallengeOption(verifier),
	)

	data := provider.LoginCacheData{PKCECodeVerifier: verifier, Session: session}
	if err := provider.PutLoginCacheData(ctx, p.store, state, data, p.cfg.GoogleStateTTL); err != nil {
		return "", err
	}
	return authURL, nil
}

// CompleteAuthorization resolves state before anything else; a state that is
// not in cache means a forged or expired callback and the one-time code must
// not be spent on it.
func (p *Provider) CompleteAuthorization(ctx context.Context, code, state string) (domain.SessionTokens, provider.LoginCacheData, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	data, err := provider.GetLoginCacheData(ctx, p.store, state)
	if err != nil {
		return domain.SessionTokens{}, provider.LoginCacheData{}, err
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, p.client)
	token, err := p.oauthConfig().Exchange(ctx, code, oauth2.VerifierOption(data.PKCECodeVerifier))
	if err != nil {
		p.logger.Error().Err(err).Msg("google token exchange failed")
		return domain.SessionTokens{}, provider.LoginCacheData{}, provider.ErrTokenExchange
	}

	return mapTokens(token), data, nil
}

// mapTokens places the ID token in the access slot (it is the verifiable JWT)
// and the opaque API access token in the extra slot.
func mapTokens(token *oauth2.Token) domain.SessionTokens {
	expire := token.Expiry.UTC()
	tokens := domain.SessionTokens{
		ExtraToken: &domain.Token{TokenString: token.AccessToken, Expire: &expire},
	}
	if idToken, ok := token.Extra("id_token").(string); ok && idToken != "" {
		tokens.AccessToken = &domain.Token{TokenString: idToken, Expire: &expire}
	}
	if token.RefreshToken != "" {
		// Google keeps the refresh token alive until the user revokes it.
		tokens.RefreshToken = &domain.Token{TokenString: token.RefreshToken}
	}
	return tokens
}

type idTokenClaims struct {
	jwt.RegisteredClaims
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	Name          string `json:"name"`
	Picture       string `json:"picture"`
}

type userinfoResponse struct {
	Sub           string `json:"sub"`
	Name          string `json:"name"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	Picture       string `json:"picture"`
}

// FetchProfile decodes the ID token against Google's cached signing keys. When
// no matching key can be resolved it falls back to the userinfo endpoint with
// the bearer token; profile data is never trusted without one or the other.
func (p *Provider) FetchProfile(ctx context.Context, tokens domain.SessionTokens) (domain.GoogleProfile, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if tokens.AccessToken == nil {
		return domain.GoogleProfile{}, provider.ErrBadTokens
	}
	idToken := tokens.AccessToken.TokenString

	kid, err := tokencodec.KeyID(idToken)
	if err != nil {
		p.logger.Warn().Err(err).Msg("google id token has no usable header")
		return domain.GoogleProfile{}, provider.ErrBadTokens
	}

	key, err := p.verifier.GetSigningKey(ctx, kid)
	if err != nil {
		return domain.GoogleProfile{}, err
	}
	if key == nil {
		p.logger.Warn().Str("kid", kid).Msg("no google signing key cached, falling back to userinfo")
		return p.fetchProfileFromUserinfo(ctx, tokens)
	}

	var claims idTokenClaims
	if err := p.verifier.Decode(idToken, key, &claims, true); err != nil {
		return domain.GoogleProfile{}, provider.ErrBadTokens
	}

	profile := domain.GoogleProfile{
		UserID:        claims.Subject,
		Name:          claims.Name,
		Email:         claims.Email,
		EmailVerified: claims.EmailVerified,
	}
	if claims.Picture != "" {
		profile.Picture = &claims.Picture
	}
	return profile, nil
}

func (p *Provider) fetchProfileFromUserinfo(ctx context.Context, tokens domain.SessionTokens) (domain.GoogleProfile, error) {
	if tokens.ExtraToken == nil {
		return domain.GoogleProfile{}, provider.ErrBadTokens
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.cfg.GoogleUserinfoURL, nil)
	if err != nil {
		return domain.GoogleProfile{}, err
	}
	req.Header.Set("Authorization", "Bearer "+tokens.ExtraToken.TokenString)

	res, err := p.client.Do(req)
	if err != nil {
		return domain.GoogleProfile{}, provider.ErrProfileFetch
	}
	defer res.Body.Close()
	if res.StatusCode >= 400 {
		p.logger.Error().Int("status", res.StatusCode).Msg("google userinfo request failed")
		return domain.GoogleProfile{}, provider.ErrProfileFetch
	}

	var info userinfoResponse
	if err := decodeJSON(res, &info); err != nil {
		return domain.GoogleProfile{}, provider.ErrProfileFetch
	}
	profile := domain.GoogleProfile{
		UserID:        info.Sub,
		Name:          info.Name,
		Email:         info.Email,
		EmailVerified: info.EmailVerified,
	}
	if info.Picture != "" {
		profile.Picture = &info.Picture
	}
	return profile, nil
}

// Logout revokes the session's refresh token. Revocation is cleanup, not a
// correctness requirement; the caller logs and proceeds on failure.
func (p *Provider) Logout(ctx context.Context, tokens domain.SessionTokens) error {
	if tokens.RefreshToken == nil {
		p.logger.Error().Msg("google logout without refresh token")
		return provider.ErrBadTokens
	}
	return p.Revoke(ctx, tokens.RefreshToken.TokenString)
}

func (p *Provider) Revoke(ctx context.Context, token string) error {
	form := url.Values{"token": {token}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.GoogleRevokeURL, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	res, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", provider.ErrRevoke, err)
	}
	defer res.Body.Close()
	if res.StatusCode >= 400 {
		return fmt.Errorf("%w: status %d", provider.ErrRevoke, res.StatusCode)
	}
	p.logger.Debug().Msg("google token revoked")
	return nil
}

func decodeJSON(res *http.Response, v interface{}) error {
	body := http.MaxBytesReader(nil, res.Body, 1<<20)
	defer body.Close()
	return json.NewDecoder(body).Decode(v)
}
