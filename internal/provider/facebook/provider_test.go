package facebook

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/example/cs-auth-service/config"
	"github.com/example/cs-auth-service/internal/adapters/cache"
	"github.com/example/cs-auth-service/internal/domain"
	"github.com/example/cs-auth-service/internal/provider"
)

// routedDoer answers by URL prefix so one fake covers the token, debug_token
// and graph endpoints.
type routedDoer struct {
	responses map[string]string
	requests  []*http.Request
}

func (d *routedDoer) Do(req *http.Request) (*http.Response, error) {
	d.requests = append(d.requests, req)
	for prefix, body := range d.responses {
		if strings.HasPrefix(req.URL.String(), prefix) {
			header := http.Header{}
			header.Set("Content-Type", "application/json")
			return &http.Response{
				StatusCode: http.StatusOK,
				Header:     header,
				Body:       io.NopCloser(strings.NewReader(body)),
			}, nil
		}
	}
	return &http.Response{
		StatusCode: http.StatusNotFound,
		Body:       io.NopCloser(strings.NewReader(`{}`)),
	}, nil
}

func testConfig() *config.Config {
	return &config.Config{
		FacebookClientID:      "fb-app-id",
		FacebookClientSecret:  "fb-secret",
		FacebookOAuthURL:      "https://www.facebook.example/dialog/oauth",
		FacebookTokenURL:      "https://graph.facebook.example/oauth/access_token",
		FacebookDebugTokenURL: "https://graph.facebook.example/debug_token",
		FacebookGraphURL:      "https://graph.facebook.example",
		FacebookRedirectURL:   "https://app.example/auth/facebook/callback",
		FacebookStateTTL:      2 * time.Minute,
	}
}

func newTestProvider(t *testing.T, doer *routedDoer) (*Provider, cache.Store) {
	t.Helper()
	mr := miniredis.RunT(t)
	store := cache.New(mr.Addr(), 0)
	return New(testConfig(), store, doer, zerolog.Nop()), store
}

func TestBeginAuthorizationStateIsChallenge(t *testing.T) {
	p, store := newTestProvider(t, &routedDoer{})
	session := domain.NewAnonymousSession(domain.SessionMetadata{})

	authURL, err := p.BeginAuthorization(context.Background(), session)
	require.NoError(t, err)

	parsed, err := url.Parse(authURL)
	require.NoError(t, err)
	q := parsed.Query()
	state := q.Get("state")
	require.NotEmpty(t, state)
	require.Equal(t, state, q.Get("code_challenge"))
	require.Equal(t, "S256", q.Get("code_challenge_method"))
	require.Equal(t, "popup", q.Get("display"))
	require.Equal(t, "code", q.Get("response_type"))

	data, err := provider.GetLoginCacheData(context.Background(), store, state)
	require.NoError(t, err)
	// The state is the S256 challenge of the cached verifier.
	require.Equal(t, state, oauth2.S256ChallengeFromVerifier(data.PKCECodeVerifier))
}

func TestCompleteAuthorizationAccessOnly(t *testing.T) {
	doer := &routedDoer{responses: map[string]string{
		"https://graph.facebook.example/oauth/access_token": `{"access_token":"fb-token","token_type":"bearer","expires_in":5183944}`,
	}}
	p, store := newTestProvider(t, doer)

	session := domain.NewAnonymousSession(domain.SessionMetadata{})
	err := provider.PutLoginCacheData(context.Background(), store, "state-1",
		provider.LoginCacheData{PKCECodeVerifier: "verifier-1", Session: session}, time.Minute)
	require.NoError(t, err)

	tokens, data, err := p.CompleteAuthorization(context.Background(), "code-1", "state-1")
	require.NoError(t, err)
	require.Equal(t, session.ID, data.Session.ID)

	require.NotNil(t, tokens.AccessToken)
	require.Equal(t, "fb-token", tokens.AccessToken.TokenString)
	require.NotNil(t, tokens.AccessToken.Expire)
	require.Nil(t, tokens.RefreshToken)
	require.Nil(t, tokens.ExtraToken)
	require.True(t, tokens.IsCompleted(domain.ProviderFacebook))

	// The exchange request carries the cached verifier.
	require.Len(t, doer.requests, 1)
	require.Equal(t, "verifier-1", doer.requests[0].URL.Query().Get("code_verifier"))
}

func TestCompleteAuthorizationRejectsUnknownState(t *testing.T) {
	doer := &routedDoer{}
	p, _ := newTestProvider(t, doer)

	_, _, err := p.CompleteAuthorization(context.Background(), "code", "forged")
	require.ErrorIs(t, err, provider.ErrStateNotFound)
	require.Empty(t, doer.requests)
}

func TestFetchProfile(t *testing.T) {
	doer := &routedDoer{responses: map[string]string{
		"https://graph.facebook.example/debug_token": `{"data":{"app_id":"fb-app-id","user_id":"fb-user-1","is_valid":true}}`,
		"https://graph.facebook.example/fb-user-1":   `{"id":"fb-user-1","name":"Jordan","email":"jordan@example.com","picture":{"data":{"url":"https://cdn.example/p.jpg"}}}`,
	}}
	p, _ := newTestProvider(t, doer)

	tokens := domain.SessionTokens{AccessToken: &domain.Token{TokenString: "fb-token"}}
	profile, err := p.FetchProfile(context.Background(), tokens)
	require.NoError(t, err)

	require.Equal(t, "fb-user-1", profile.UserID)
	require.Equal(t, "Jordan", profile.Name)
	require.NotNil(t, profile.Email)
	require.Equal(t, "jordan@example.com", *profile.Email)
	require.NotNil(t, profile.Picture)
	require.Equal(t, "https://cdn.example/p.jpg", *profile.Picture)

	// debug_token uses the app token, not the user token.
	require.Equal(t, "fb-app-id|fb-secret", doer.requests[0].URL.Query().Get("access_token"))
}

func TestFetchProfileRejectsForeignAppToken(t *testing.T) {
	doer := &routedDoer{responses: map[string]string{
		"https://graph.facebook.example/debug_token": `{"data":{"app_id":"someone-else","user_id":"fb-user-1","is_valid":true}}`,
	}}
	p, _ := newTestProvider(t, doer)

	tokens := domain.SessionTokens{AccessToken: &domain.Token{TokenString: "fb-token"}}
	_, err := p.FetchProfile(context.Background(), tokens)
	require.ErrorIs(t, err, provider.ErrBadTokens)
}

func TestLogoutRevokesPermissions(t *testing.T) {
	doer := &routedDoer{responses: map[string]string{
		"https://graph.facebook.example/debug_token": `{"data":{"app_id":"fb-app-id","user_id":"fb-user-1","is_valid":true}}`,
		"https://graph.facebook.example/fb-user-1":   `{"success":true}`,
	}}
	p, _ := newTestProvider(t, doer)

	tokens := domain.SessionTokens{AccessToken: &domain.Token{TokenString: "fb-token"}}
	require.NoError(t, p.Logout(context.Background(), tokens))

	last := doer.requests[len(doer.requests)-1]
	require.Equal(t, http.MethodDelete, last.Method)
	require.Contains(t, last.URL.Path, "/fb-user-1/permissions")
}
