package usecase

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/example/cs-auth-service/config"
	"github.com/example/cs-auth-service/internal/adapters/cache"
	"github.com/example/cs-auth-service/internal/adapters/storage"
	"github.com/example/cs-auth-service/internal/domain"
	"github.com/example/cs-auth-service/internal/provider"
	"github.com/example/cs-auth-service/internal/provider/cybersherlock"
)

// memRepo is an in-memory UserRepository sufficient for orchestration tests.
type memRepo struct {
	users map[string]*domain.User
}

func newMemRepo() *memRepo { return &memRepo{users: map[string]*domain.User{}} }

func (r *memRepo) Create(ctx context.Context, user *domain.User) error {
	clone := *user
	r.users[user.ID] = &clone
	return nil
}

func (r *memRepo) FindByID(ctx context.Context, id string) (*domain.User, error) {
	if user, ok := r.users[id]; ok {
		clone := *user
		return &clone, nil
	}
	return nil, storage.ErrNotFound
}

func (r *memRepo) FindByProviderUserID(ctx context.Context, p domain.AuthProvider, providerUserID string) (*domain.User, error) {
	for _, user := range r.users {
		switch p {
		case domain.ProviderGoogle:
			if user.Google != nil && user.Google.UserID == providerUserID {
				clone := *user
				return &clone, nil
			}
		case domain.ProviderFacebook:
			if user.Facebook != nil && user.Facebook.UserID == providerUserID {
				clone := *user
				return &clone, nil
			}
		case domain.ProviderCyberSherlock:
			if user.CyberSherlock != nil && user.CyberSherlock.UserID == providerUserID {
				clone := *user
				return &clone, nil
			}
		}
	}
	return nil, storage.ErrNotFound
}

func (r *memRepo) FindByEmailOrPhone(ctx context.Context, email, phone *string) (*domain.User, error) {
	for _, user := range r.users {
		if user.CyberSherlock == nil {
			continue
		}
		if email != nil && user.CyberSherlock.Email != nil && *user.CyberSherlock.Email == *email {
			clone := *user
			return &clone, nil
		}
		if phone != nil && user.CyberSherlock.Phone != nil && *user.CyberSherlock.Phone == *phone {
			clone := *user
			return &clone, nil
		}
	}
	return nil, storage.ErrNotFound
}

func (r *memRepo) Update(ctx context.Context, user *domain.User) error {
	clone := *user
	r.users[user.ID] = &clone
	return nil
}

// fakeFlow scripts one CompleteAuthorization outcome and records revocations.
type fakeFlow struct {
	tokens    domain.SessionTokens
	data      provider.LoginCacheData
	profile   domain.UserProfile
	loggedOut bool
}

func (f *fakeFlow) BeginAuthorization(ctx context.Context, session domain.Session) (string, error) {
	return "https://provider.example/authorize", nil
}

func (f *fakeFlow) CompleteAuthorization(ctx context.Context, code, state string) (domain.SessionTokens, provider.LoginCacheData, error) {
	return f.tokens, f.data, nil
}

func (f *fakeFlow) FetchProfile(ctx context.Context, tokens domain.SessionTokens) (domain.UserProfile, error) {
	return f.profile, nil
}

func (f *fakeFlow) Logout(ctx context.Context, tokens domain.SessionTokens) error {
	f.loggedOut = true
	return nil
}

// fakeCredential satisfies CredentialFlow for logout paths that never reach it.
type fakeCredential struct{ loggedOut bool }

func (f *fakeCredential) BeginRegistration(ctx context.Context, data cybersherlock.RegisterData, session domain.Session) (string, error) {
	return "https://app.example/auth/cybersherlock/callback?state=v", nil
}

func (f *fakeCredential) CompleteRegistration(ctx context.Context, code, state string) (domain.CyberSherlockProfile, domain.Session, error) {
	return domain.CyberSherlockProfile{}, domain.Session{}, provider.ErrStateNotFound
}

func (f *fakeCredential) VerifyPassword(profile domain.CyberSherlockProfile, password string) error {
	return cybersherlock.ErrWrongCredentials
}

func (f *fakeCredential) IssueTokens(profile domain.CyberSherlockProfile) (domain.SessionTokens, error) {
	return domain.SessionTokens{}, nil
}

func (f *fakeCredential) Logout(ctx context.Context, tokens domain.SessionTokens) error {
	f.loggedOut = true
	return nil
}

func orchestratorTestConfig() *config.Config {
	cfg := sessionTestConfig()
	cfg.SessionTTL = 24 * time.Hour
	return cfg
}

func newTestOrchestrator(t *testing.T, flow *fakeFlow) (*AuthOrchestrator, *SessionManager, *memRepo) {
	t.Helper()
	mr := miniredis.RunT(t)
	store := cache.New(mr.Addr(), 0)
	cfg := orchestratorTestConfig()

	repo := newMemRepo()
	users := NewUserReconciler(repo, store, cfg, zerolog.Nop())
	sessions := NewSessionManager(store, cfg, zerolog.Nop())
	flows := map[domain.AuthProvider]OAuthFlow{domain.ProviderGoogle: flow}
	auth := NewAuthOrchestrator(flows, &fakeCredential{}, users, sessions, zerolog.Nop())
	return auth, sessions, repo
}

func completedTokens() domain.SessionTokens {
	return domain.SessionTokens{
		AccessToken:  &domain.Token{TokenString: "id-token"},
		RefreshToken: &domain.Token{TokenString: "refresh-1"},
		ExtraToken:   &domain.Token{TokenString: "opaque"},
	}
}

func googleProfile() domain.GoogleProfile {
	return domain.GoogleProfile{UserID: "google-user-1", Name: "Jordan", Email: "jordan@example.com", EmailVerified: true}
}

func TestCompleteLoginIssuesSessionAndRetiresAnonymous(t *testing.T) {
	anonymous := domain.NewAnonymousSession(domain.SessionMetadata{UserAgent: "ua", Host: "app.example"})
	flow := &fakeFlow{
		tokens:  completedTokens(),
		data:    provider.LoginCacheData{Session: anonymous},
		profile: googleProfile(),
	}
	auth, sessions, repo := newTestOrchestrator(t, flow)
	ctx := context.Background()
	require.NoError(t, sessions.PutSession(ctx, anonymous))

	session, err := auth.CompleteLogin(ctx, domain.ProviderGoogle, "code", "state")
	require.NoError(t, err)
	require.False(t, session.Anonymous)
	require.Equal(t, domain.ProviderGoogle, session.AuthProvider)
	// Session metadata survives the upgrade from the initiating session.
	require.Equal(t, "ua", session.Metadata.UserAgent)

	stored, err := sessions.GetSession(ctx, session.ID)
	require.NoError(t, err)
	require.Equal(t, session.UserID, stored.UserID)

	// The initiating anonymous session is gone.
	_, err = sessions.GetSession(ctx, anonymous.ID)
	require.ErrorIs(t, err, ErrNoSession)

	// One user was created with the Google slot filled.
	require.Len(t, repo.users, 1)
	user := repo.users[session.UserID]
	require.NotNil(t, user.Google)
	require.Equal(t, "google-user-1", user.Google.UserID)
	require.Equal(t, domain.ProviderGoogle, user.ActiveProfile)
}

func TestCompleteLoginRepairsIncompleteTokensFromPriorSession(t *testing.T) {
	flow := &fakeFlow{
		// Repeat consent: no refresh token this time.
		tokens: domain.SessionTokens{
			AccessToken: &domain.Token{TokenString: "id-token-2"},
			ExtraToken:  &domain.Token{TokenString: "opaque-2"},
		},
		profile: googleProfile(),
	}
	auth, sessions, repo := newTestOrchestrator(t, flow)
	ctx := context.Background()

	// An earlier full login left a user and a session holding the refresh token.
	existing := domain.NewUser(googleProfile())
	require.NoError(t, repo.Create(ctx, &existing))
	prior := domain.NewSession(domain.NewSessionData{
		AuthProvider: domain.ProviderGoogle,
		UserID:       existing.ID,
		Tokens:       completedTokens(),
	})
	require.NoError(t, sessions.PutSession(ctx, prior))

	session, err := auth.CompleteLogin(ctx, domain.ProviderGoogle, "code", "state")
	require.NoError(t, err)

	// The prior refresh token survives; the fresh tokens win their slots.
	require.Equal(t, "refresh-1", session.Tokens.RefreshToken.TokenString)
	require.Equal(t, "id-token-2", session.Tokens.AccessToken.TokenString)
	require.Equal(t, "opaque-2", session.Tokens.ExtraToken.TokenString)
	require.False(t, flow.loggedOut)
	require.Equal(t, existing.ID, session.UserID)
}

func TestCompleteLoginWithoutPriorGrantDemandsReauthentication(t *testing.T) {
	flow := &fakeFlow{
		tokens: domain.SessionTokens{
			AccessToken: &domain.Token{TokenString: "id-token"},
			ExtraToken:  &domain.Token{TokenString: "opaque"},
		},
		profile: googleProfile(),
	}
	auth, _, repo := newTestOrchestrator(t, flow)

	_, err := auth.CompleteLogin(context.Background(), domain.ProviderGoogle, "code", "state")
	require.ErrorIs(t, err, ErrReauthenticate)
	// The unusable grant was revoked and no user was created.
	require.True(t, flow.loggedOut)
	require.Empty(t, repo.users)
}

func TestCompleteLoginUnknownProvider(t *testing.T) {
	auth, _, _ := newTestOrchestrator(t, &fakeFlow{})

	_, err := auth.CompleteLogin(context.Background(), domain.ProviderFacebook, "code", "state")
	require.ErrorIs(t, err, ErrUnknownProvider)
}

func TestRegisterRejectsKnownIdentifier(t *testing.T) {
	auth, _, repo := newTestOrchestrator(t, &fakeFlow{})
	ctx := context.Background()

	email := "jordan@example.com"
	existing := domain.NewUser(domain.CyberSherlockProfile{UserID: "cs-1", Name: "Jordan", Email: &email})
	require.NoError(t, repo.Create(ctx, &existing))

	_, err := auth.Register(ctx, cybersherlock.RegisterData{Email: &email}, domain.Session{})
	require.ErrorIs(t, err, ErrAlreadyRegistered)
}

func TestLoginCollapsesToWrongCredentials(t *testing.T) {
	auth, _, repo := newTestOrchestrator(t, &fakeFlow{})
	ctx := context.Background()

	unknown := "nobody@example.com"
	password := "hunter22hunter22"

	// Unknown identifier.
	_, err := auth.Login(ctx, cybersherlock.LoginData{Email: &unknown, Password: password}, domain.Session{})
	require.ErrorIs(t, err, cybersherlock.ErrWrongCredentials)

	// Known identifier, wrong password (the fake credential flow rejects all).
	email := "jordan@example.com"
	existing := domain.NewUser(domain.CyberSherlockProfile{UserID: "cs-1", Name: "Jordan", Email: &email, Hash: "hash"})
	require.NoError(t, repo.Create(ctx, &existing))

	_, err = auth.Login(ctx, cybersherlock.LoginData{Email: &email, Password: password}, domain.Session{})
	require.ErrorIs(t, err, cybersherlock.ErrWrongCredentials)
}

func TestLogoutRevokesAndDeletesSession(t *testing.T) {
	flow := &fakeFlow{}
	auth, sessions, _ := newTestOrchestrator(t, flow)
	ctx := context.Background()

	session := domain.NewSession(domain.NewSessionData{
		AuthProvider: domain.ProviderGoogle,
		UserID:       "user-1",
		Tokens:       completedTokens(),
	})
	require.NoError(t, sessions.PutSession(ctx, session))

	require.NoError(t, auth.Logout(ctx, session))
	require.True(t, flow.loggedOut)

	_, err := sessions.GetSession(ctx, session.ID)
	require.ErrorIs(t, err, ErrNoSession)
}
