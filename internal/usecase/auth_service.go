package usecase

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/example/cs-auth-service/internal/domain"
	"github.com/example/cs-auth-service/internal/provider"
	"github.com/example/cs-auth-service/internal/provider/cybersherlock"
)

var (
	// ErrReauthenticate means the exchange yielded an unusable token set and no
	// prior grant could fill the gaps. The client restarts the flow from login.
	ErrReauthenticate    = errors.New("authentication incomplete, please re-authenticate")
	ErrUnknownProvider   = errors.New("unknown auth provider")
	ErrAlreadyRegistered = errors.New("identifier is already registered")
)

// OAuthFlow is one external provider's authorization-code flow as the
// orchestrator consumes it. Concrete providers return provider-shaped
// profiles; thin adapters in this package lift them to domain.UserProfile.
type OAuthFlow interface {
	BeginAuthorization(ctx context.Context, session domain.Session) (string, error)
	CompleteAuthorization(ctx context.Context, code, state string) (domain.SessionTokens, provider.LoginCacheData, error)
	FetchProfile(ctx context.Context, tokens domain.SessionTokens) (domain.UserProfile, error)
	Logout(ctx context.Context, tokens domain.SessionTokens) error
}

// CredentialFlow is the first-party registration and password-login surface.
type CredentialFlow interface {
	BeginRegistration(ctx context.Context, data cybersherlock.RegisterData, session domain.Session) (string, error)
	CompleteRegistration(ctx context.Context, code, state string) (domain.CyberSherlockProfile, domain.Session, error)
	VerifyPassword(profile domain.CyberSherlockProfile, password string) error
	IssueTokens(profile domain.CyberSherlockProfile) (domain.SessionTokens, error)
	Logout(ctx context.Context, tokens domain.SessionTokens) error
}

// AuthOrchestrator ties providers, user reconciliation and the session
// lifecycle into the operations the HTTP layer exposes.
type AuthOrchestrator struct {
	flows      map[domain.AuthProvider]OAuthFlow
	credential CredentialFlow
	users      *UserReconciler
	sessions   *SessionManager
	logger     zerolog.Logger
}

func NewAuthOrchestrator(flows map[domain.AuthProvider]OAuthFlow, credential CredentialFlow, users *UserReconciler, sessions *SessionManager, logger zerolog.Logger) *AuthOrchestrator {
	return &AuthOrchestrator{
		flows:      flows,
		credential: credential,
		users:      users,
		sessions:   sessions,
		logger:     logger,
	}
}

func (o *AuthOrchestrator) flow(p domain.AuthProvider) (OAuthFlow, error) {
	flow, ok := o.flows[p]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, p)
	}
	return flow, nil
}

// BeginLogin anchors the new authorization round trip to the caller's current
// session and returns the provider's authorization URL.
func (o *AuthOrchestrator) BeginLogin(ctx context.Context, p domain.AuthProvider, session domain.Session) (string, error) {
	flow, err := o.flow(p)
	if err != nil {
		return "", err
	}
	return flow.BeginAuthorization(ctx, session)
}

// CompleteLogin finishes the callback leg: exchange the code, resolve the
// profile, reconcile the user and swap the initiating session for an
// authenticated one.
//
// An incomplete token set is repaired from the user's latest prior session for
// the same provider when possible. When not, the fresh grant is revoked best
// effort and the client must re-authenticate; a half-usable session is worse
// than none.
func (o *AuthOrchestrator) CompleteLogin(ctx context.Context, p domain.AuthProvider, code, state string) (domain.Session, error) {
	flow, err := o.flow(p)
	if err != nil {
		return domain.Session{}, err
	}

	tokens, loginData, err := flow.CompleteAuthorization(ctx, code, state)
	if err != nil {
		return domain.Session{}, err
	}

	profile, err := flow.FetchProfile(ctx, tokens)
	if err != nil {
		return domain.Session{}, err
	}

	if !tokens.IsCompleted(p) {
		repaired, err := o.repairTokens(ctx, p, profile, tokens)
		if err != nil {
			return domain.Session{}, err
		}
		if repaired == nil {
			o.revokeBestEffort(ctx, flow, tokens)
			return domain.Session{}, ErrReauthenticate
		}
		tokens = *repaired
	}

	user, err := o.users.Upsert(ctx, profile)
	if err != nil {
		return domain.Session{}, err
	}

	return o.issueSession(ctx, domain.NewSessionData{
		AuthProvider: p,
		UserID:       user.ID,
		Tokens:       tokens,
		Metadata:     loginData.Session.Metadata,
	}, loginData.Session)
}

// repairTokens merges the fresh grant over the latest prior grant for the same
// user and provider. nil means no prior grant closes the gap.
func (o *AuthOrchestrator) repairTokens(ctx context.Context, p domain.AuthProvider, profile domain.UserProfile, tokens domain.SessionTokens) (*domain.SessionTokens, error) {
	user, err := o.users.FindByProfile(ctx, profile)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, nil
	}
	prior, err := o.sessions.LatestSession(ctx, user.ID, p)
	if err != nil {
		return nil, err
	}
	if prior == nil {
		return nil, nil
	}
	merged := prior.Tokens.Merge(tokens)
	if !merged.IsCompleted(p) {
		return nil, nil
	}
	return &merged, nil
}

func (o *AuthOrchestrator) revokeBestEffort(ctx context.Context, flow OAuthFlow, tokens domain.SessionTokens) {
	if err := flow.Logout(ctx, tokens); err != nil {
		o.logger.Warn().Err(err).Msg("could not revoke unusable grant")
	}
}

// Register starts the first-party registration and returns the confirmation
// URL the user completes after receiving the one-time code.
func (o *AuthOrchestrator) Register(ctx context.Context, data cybersherlock.RegisterData, session domain.Session) (string, error) {
	if existing, err := o.users.FindByIdentifier(ctx, data.Email, data.Phone); err != nil {
		return "", err
	} else if existing != nil {
		return "", ErrAlreadyRegistered
	}
	return o.credential.BeginRegistration(ctx, data, session)
}

// CompleteRegistration redeems the one-time code, persists the new user and
// issues an authenticated session.
func (o *AuthOrchestrator) CompleteRegistration(ctx context.Context, code, state string) (domain.Session, error) {
	profile, initiating, err := o.credential.CompleteRegistration(ctx, code, state)
	if err != nil {
		return domain.Session{}, err
	}

	if existing, err := o.users.FindByIdentifier(ctx, profile.Email, profile.Phone); err != nil {
		return domain.Session{}, err
	} else if existing != nil {
		return domain.Session{}, ErrAlreadyRegistered
	}

	user, err := o.users.Upsert(ctx, profile)
	if err != nil {
		return domain.Session{}, err
	}

	tokens, err := o.credential.IssueTokens(*user.CyberSherlock)
	if err != nil {
		return domain.Session{}, err
	}

	return o.issueSession(ctx, domain.NewSessionData{
		AuthProvider: domain.ProviderCyberSherlock,
		UserID:       user.ID,
		Tokens:       tokens,
		Metadata:     initiating.Metadata,
	}, initiating)
}

// Login authenticates against the first-party slot. Every failure collapses to
// the provider's wrong-credentials answer.
func (o *AuthOrchestrator) Login(ctx context.Context, data cybersherlock.LoginData, session domain.Session) (domain.Session, error) {
	if err := data.Validate(); err != nil {
		return domain.Session{}, err
	}
	user, err := o.users.FindByIdentifier(ctx, data.Email, data.Phone)
	if err != nil {
		return domain.Session{}, err
	}
	if user == nil || user.CyberSherlock == nil {
		return domain.Session{}, cybersherlock.ErrWrongCredentials
	}
	if err := o.credential.VerifyPassword(*user.CyberSherlock, data.Password); err != nil {
		return domain.Session{}, err
	}

	tokens, err := o.credential.IssueTokens(*user.CyberSherlock)
	if err != nil {
		return domain.Session{}, err
	}

	return o.issueSession(ctx, domain.NewSessionData{
		AuthProvider: domain.ProviderCyberSherlock,
		UserID:       user.ID,
		Tokens:       tokens,
		Metadata:     session.Metadata,
	}, session)
}

// Logout revokes the session's provider grant best effort and removes the
// session. Revocation failure never blocks local logout.
func (o *AuthOrchestrator) Logout(ctx context.Context, session domain.Session) error {
	if !session.Anonymous {
		switch session.AuthProvider {
		case domain.ProviderCyberSherlock:
			if err := o.credential.Logout(ctx, session.Tokens); err != nil {
				o.logger.Warn().Err(err).Msg("credential logout failed")
			}
		default:
			if flow, err := o.flow(session.AuthProvider); err == nil {
				o.revokeBestEffort(ctx, flow, session.Tokens)
			}
		}
	}
	return o.sessions.DeleteSession(ctx, session)
}

// issueSession stores the authenticated session and retires the initiating
// one. The initiating session is usually anonymous; retiring an authenticated
// one covers re-login over a live session.
func (o *AuthOrchestrator) issueSession(ctx context.Context, data domain.NewSessionData, initiating domain.Session) (domain.Session, error) {
	session := domain.NewSession(data)
	if err := o.sessions.PutSession(ctx, session); err != nil {
		return domain.Session{}, err
	}
	if initiating.ID != "" {
		if err := o.sessions.DeleteSession(ctx, initiating); err != nil {
			o.logger.Warn().Err(err).Str("session_id", initiating.ID).Msg("could not retire initiating session")
		}
	}
	return session, nil
}
