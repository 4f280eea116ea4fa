package facebook

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/oauth2"

	"github.com/example/cs-auth-service/config"
	"github.com/example/cs-auth-service/internal/adapters/cache"
	"github.com/example/cs-auth-service/internal/domain"
	"github.com/example/cs-auth-service/internal/provider"
)

// Provider drives the Facebook authorization-code+PKCE flow. Facebook issues a
// single opaque access token, no refresh token and no ID token, so the profile
// always comes from the Graph API.
type Provider struct {
	mu     sync.Mutex
	cfg    *config.Config
	store  cache.Store
	client provider.Doer
	logger zerolog.Logger
}

func New(cfg *config.Config, store cache.Store, client provider.Doer, logger zerolog.Logger) *Provider {
	return &Provider{
		cfg:    cfg,
		store:  store,
		client: client,
		logger: logger,
	}
}

// BeginAuthorization uses the S256 challenge itself as the state value, so the
// callback lookup key is bound to the PKCE secret it protects.
func (p *Provider) BeginAuthorization(ctx context.Context, session domain.Session) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	verifier := oauth2.GenerateVerifier()
	state := oauth2.S256ChallengeFromVerifier(verifier)

	data := provider.LoginCacheData{PKCECodeVerifier: verifier, Session: session}
	if err := provider.PutLoginCacheData(ctx, p.store, state, data, p.cfg.FacebookStateTTL); err != nil {
		return "", err
	}

	q := url.Values{
		"client_id":             {p.cfg.FacebookClientID},
		"redirect_uri":          {p.cfg.FacebookRedirectURL},
		"state":                 {state},
		"code_challenge":        {state},
		"code_challenge_method": {"S256"},
		"display":               {"popup"},
		"response_type":         {"code"},
	}
	return p.cfg.FacebookOAuthURL + "?" + q.Encode(), nil
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

// CompleteAuthorization resolves state before spending the code. The token
// endpoint is a plain GET with query parameters, outside x/oauth2's POST-form
// exchange, so the request is built by hand.
func (p *Provider) CompleteAuthorization(ctx context.Context, code, state string) (domain.SessionTokens, provider.LoginCacheData, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	data, err := provider.GetLoginCacheData(ctx, p.store, state)
	if err != nil {
		return domain.SessionTokens{}, provider.LoginCacheData{}, err
	}

	q := url.Values{
		"client_id":     {p.cfg.FacebookClientID},
		"client_secret": {p.cfg.FacebookClientSecret},
		"redirect_uri":  {p.cfg.FacebookRedirectURL},
		"code":          {code},
		"code_verifier": {data.PKCECodeVerifier},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.cfg.FacebookTokenURL+"?"+q.Encode(), nil)
	if err != nil {
		return domain.SessionTokens{}, provider.LoginCacheData{}, err
	}

	res, err := p.client.Do(req)
	if err != nil {
		p.logger.Error().Err(err).Msg("facebook token exchange failed")
		return domain.SessionTokens{}, provider.LoginCacheData{}, provider.ErrTokenExchange
	}
	defer res.Body.Close()
	if res.StatusCode >= 400 {
		p.logger.Error().Int("status", res.StatusCode).Msg("facebook token endpoint error")
		return domain.SessionTokens{}, provider.LoginCacheData{}, provider.ErrTokenExchange
	}

	var token tokenResponse
	if err := json.NewDecoder(res.Body).Decode(&token); err != nil {
		return domain.SessionTokens{}, provider.LoginCacheData{}, provider.ErrTokenExchange
	}
	if token.AccessToken == "" {
		return domain.SessionTokens{}, provider.LoginCacheData{}, provider.ErrBadTokens
	}

	expire := time.Now().UTC().Add(time.Duration(token.ExpiresIn) * time.Second)
	tokens := domain.SessionTokens{
		AccessToken: &domain.Token{TokenString: token.AccessToken, Expire: &expire},
	}
	return tokens, data, nil
}

type debugTokenResponse struct {
	Data struct {
		AppID   string `json:"app_id"`
		UserID  string `json:"user_id"`
		IsValid bool   `json:"is_valid"`
	} `json:"data"`
}

type graphProfile struct {
	ID      string  `json:"id"`
	Name    string  `json:"name"`
	Email   *string `json:"email"`
	Picture *struct {
		Data struct {
			URL string `json:"url"`
		} `json:"data"`
	} `json:"picture"`
}

// FetchProfile validates the access token via debug_token with the app token
// before trusting the user id, then reads the profile from the Graph API.
func (p *Provider) FetchProfile(ctx context.Context, tokens domain.SessionTokens) (domain.FacebookProfile, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if tokens.AccessToken == nil {
		return domain.FacebookProfile{}, provider.ErrBadTokens
	}
	accessToken := tokens.AccessToken.TokenString

	userID, err := p.debugToken(ctx, accessToken)
	if err != nil {
		return domain.FacebookProfile{}, err
	}

	q := url.Values{
		"fields":       {"id,name,email,picture"},
		"access_token": {accessToken},
	}
	endpoint := fmt.Sprintf("%s/%s?%s", p.cfg.FacebookGraphURL, userID, q.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return domain.FacebookProfile{}, err
	}

	res, err := p.client.Do(req)
	if err != nil {
		return domain.FacebookProfile{}, provider.ErrProfileFetch
	}
	defer res.Body.Close()
	if res.StatusCode >= 400 {
		p.logger.Error().Int("status", res.StatusCode).Msg("facebook graph request failed")
		return domain.FacebookProfile{}, provider.ErrProfileFetch
	}

	var raw graphProfile
	if err := json.NewDecoder(res.Body).Decode(&raw); err != nil {
		return domain.FacebookProfile{}, provider.ErrProfileFetch
	}

	profile := domain.FacebookProfile{
		UserID: raw.ID,
		Name:   raw.Name,
		Email:  raw.Email,
	}
	if raw.Picture != nil && raw.Picture.Data.URL != "" {
		pictureURL := raw.Picture.Data.URL
		profile.Picture = &pictureURL
	}
	return profile, nil
}

func (p *Provider) debugToken(ctx context.Context, accessToken string) (string, error) {
	q := url.Values{
		"input_token":  {accessToken},
		"access_token": {p.appToken()},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.cfg.FacebookDebugTokenURL+"?"+q.Encode(), nil)
	if err != nil {
		return "", err
	}

	res, err := p.client.Do(req)
	if err != nil {
		return "", provider.ErrProfileFetch
	}
	defer res.Body.Close()
	if res.StatusCode >= 400 {
		p.logger.Error().Int("status", res.StatusCode).Msg("facebook debug_token request failed")
		return "", provider.ErrProfileFetch
	}

	var debug debugTokenResponse
	if err := json.NewDecoder(res.Body).Decode(&debug); err != nil {
		return "", provider.ErrProfileFetch
	}
	if !debug.Data.IsValid || debug.Data.AppID != p.cfg.FacebookClientID || debug.Data.UserID == "" {
		return "", provider.ErrBadTokens
	}
	return debug.Data.UserID, nil
}

// Logout revokes all permissions the user granted the app, which invalidates
// the access token on Facebook's side.
func (p *Provider) Logout(ctx context.Context, tokens domain.SessionTokens) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if tokens.AccessToken == nil {
		return provider.ErrBadTokens
	}
	accessToken := tokens.AccessToken.TokenString

	userID, err := p.debugToken(ctx, accessToken)
	if err != nil {
		return fmt.Errorf("%w: %v", provider.ErrRevoke, err)
	}

	q := url.Values{"access_token": {accessToken}}
	endpoint := fmt.Sprintf("%s/%s/permissions?%s", p.cfg.FacebookGraphURL, userID, q.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, endpoint, nil)
	if err != nil {
		return err
	}

	res, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", provider.ErrRevoke, err)
	}
	defer res.Body.Close()
	if res.StatusCode >= 400 {
		return fmt.Errorf("%w: status %d", provider.ErrRevoke, res.StatusCode)
	}
	p.logger.Debug().Msg("facebook permissions revoked")
	return nil
}

// appToken is the app_id|app_secret credential the Graph API accepts for
// server-to-server introspection.
func (p *Provider) appToken() string {
	return p.cfg.FacebookClientID + "|" + p.cfg.FacebookClientSecret
}
