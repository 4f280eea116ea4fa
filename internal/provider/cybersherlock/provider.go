package cybersherlock

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"time"

	"github.com/alexedwards/argon2id"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"golang.org/x/oauth2"

	"github.com/example/cs-auth-service/config"
	"github.com/example/cs-auth-service/internal/adapters/cache"
	natsadapter "github.com/example/cs-auth-service/internal/adapters/nats"
	"github.com/example/cs-auth-service/internal/domain"
	"github.com/example/cs-auth-service/internal/provider"
	"github.com/example/cs-auth-service/internal/tokencodec"
)

var (
	ErrValidation = errors.New("invalid registration data")
	// ErrWrongCredentials is the single outward answer for any login failure, so
	// responses never reveal whether the account exists.
	ErrWrongCredentials = errors.New("wrong credentials")
	ErrCodeDelivery     = errors.New("could not deliver confirmation code")
)

var (
	emailPattern = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)
	phonePattern = regexp.MustCompile(`^\+?[0-9]{7,15}$`)
)

// RegisterData is the registration request payload.
type RegisterData struct {
	Name           string  `json:"name"`
	Email          *string `json:"email,omitempty"`
	Phone          *string `json:"phone,omitempty"`
	Password       string  `json:"password"`
	VerifyPassword string  `json:"verify_password"`
}

// LoginData is the password-login request payload.
type LoginData struct {
	Email    *string `json:"email,omitempty"`
	Phone    *string `json:"phone,omitempty"`
	Password string  `json:"password"`
}

// Validate enforces exactly the constraints registration depends on: one
// contact channel, well-formed identifiers and a confirmed password.
func (d RegisterData) Validate() error {
	if d.Email == nil && d.Phone == nil {
		return fmt.Errorf("%w: email or phone is required", ErrValidation)
	}
	if d.Email != nil && !emailPattern.MatchString(*d.Email) {
		return fmt.Errorf("%w: malformed email", ErrValidation)
	}
	if d.Phone != nil && !phonePattern.MatchString(*d.Phone) {
		return fmt.Errorf("%w: malformed phone", ErrValidation)
	}
	if len(d.Password) < 8 || len(d.Password) > 128 {
		return fmt.Errorf("%w: password length must be within [8, 128]", ErrValidation)
	}
	if d.Password != d.VerifyPassword {
		return fmt.Errorf("%w: passwords do not match", ErrValidation)
	}
	return nil
}

func (d LoginData) Validate() error {
	if d.Email == nil && d.Phone == nil {
		return fmt.Errorf("%w: email or phone is required", ErrValidation)
	}
	if d.Password == "" {
		return fmt.Errorf("%w: password is required", ErrValidation)
	}
	return nil
}

// registerCacheData is the pending registration parked under the one-time
// code. The verifier stays server-side; only its S256 challenge travels to the
// user as the code.
type registerCacheData struct {
	Verifier string         `json:"verifier"`
	Session  domain.Session `json:"session"`
	Name     string         `json:"name"`
	Email    *string        `json:"email,omitempty"`
	Phone    *string        `json:"phone,omitempty"`
	Hash     string         `json:"hash"`
}

// Provider implements the first-party credential flow: password registration
// confirmed by a one-time code, password login and HS256 token issuance.
type Provider struct {
	cfg      *config.Config
	store    cache.Store
	notifier natsadapter.Notifier
	codec    *tokencodec.Codec
	logger   zerolog.Logger
}

func New(cfg *config.Config, store cache.Store, notifier natsadapter.Notifier, codec *tokencodec.Codec, logger zerolog.Logger) *Provider {
	return &Provider{
		cfg:      cfg,
		store:    store,
		notifier: notifier,
		codec:    codec,
		logger:   logger,
	}
}

// BeginRegistration hashes the password, parks the pending registration under
// a fresh one-time code and dispatches the code over the contact channel. The
// returned URL carries the matching verifier as state and completes the
// registration when visited.
func (p *Provider) BeginRegistration(ctx context.Context, data RegisterData, session domain.Session) (string, error) {
	if err := data.Validate(); err != nil {
		return "", err
	}

	hash, err := argon2id.CreateHash(data.Password, argon2id.DefaultParams)
	if err != nil {
		return "", err
	}

	verifier := oauth2.GenerateVerifier()
	code := oauth2.S256ChallengeFromVerifier(verifier)

	record := registerCacheData{
		Verifier: verifier,
		Session:  session,
		Name:     data.Name,
		Email:    data.Email,
		Phone:    data.Phone,
		Hash:     hash,
	}
	value, err := cache.Marshal(record)
	if err != nil {
		return "", err
	}
	if err := p.store.SetWithTTL(ctx, code, value, p.cfg.CyberSherlockCodeTTL); err != nil {
		return "", err
	}

	if err := p.sendCode(data, code); err != nil {
		p.logger.Error().Err(err).Msg("confirmation code dispatch failed")
		return "", ErrCodeDelivery
	}

	q := url.Values{"state": {verifier}}
	return p.cfg.CyberSherlockCallbackURL + "?" + q.Encode(), nil
}

func (p *Provider) sendCode(data RegisterData, code string) error {
	if data.Email != nil {
		return p.notifier.SendEmailCode(*data.Email, code)
	}
	return p.notifier.SendSMSCode(*data.Phone, code)
}

// CompleteRegistration redeems the one-time code and checks the presented
// state against the cached verifier in constant time. The code record is
// consumed regardless of outcome.
func (p *Provider) CompleteRegistration(ctx context.Context, code, state string) (domain.CyberSherlockProfile, domain.Session, error) {
	raw, ok, err := p.store.Get(ctx, code)
	if err != nil {
		return domain.CyberSherlockProfile{}, domain.Session{}, err
	}
	if !ok {
		return domain.CyberSherlockProfile{}, domain.Session{}, provider.ErrStateNotFound
	}
	if err := p.store.Delete(ctx, code); err != nil {
		p.logger.Warn().Err(err).Msg("could not consume registration code")
	}

	var record registerCacheData
	if err := cache.Unmarshal(raw, &record); err != nil {
		return domain.CyberSherlockProfile{}, domain.Session{}, err
	}
	if subtle.ConstantTimeCompare([]byte(state), []byte(record.Verifier)) != 1 {
		return domain.CyberSherlockProfile{}, domain.Session{}, provider.ErrStateMismatch
	}

	profile := domain.CyberSherlockProfile{
		UserID:        domain.GenerateUserID(),
		Name:          record.Name,
		Email:         record.Email,
		EmailVerified: record.Email != nil,
		Phone:         record.Phone,
		PhoneVerified: record.Phone != nil,
		Hash:          record.Hash,
	}
	return profile, record.Session, nil
}

// VerifyPassword compares the candidate password against the stored argon2
// digest. Any failure collapses to ErrWrongCredentials.
func (p *Provider) VerifyPassword(profile domain.CyberSherlockProfile, password string) error {
	match, err := argon2id.ComparePasswordAndHash(password, profile.Hash)
	if err != nil || !match {
		return ErrWrongCredentials
	}
	return nil
}

type accessClaims struct {
	jwt.RegisteredClaims
	Email         *string `json:"email,omitempty"`
	EmailVerified bool    `json:"email_verified"`
	Phone         *string `json:"phone,omitempty"`
	PhoneVerified bool    `json:"phone_verified"`
	Name          string  `json:"name"`
}

// IssueTokens mints the first-party access and refresh token pair for the
// profile. Both are HS256 and stateless; logout is session deletion.
func (p *Provider) IssueTokens(profile domain.CyberSherlockProfile) (domain.SessionTokens, error) {
	now := time.Now().UTC()
	accessExpire := now.Add(p.cfg.JWTAccessTTL)
	refreshExpire := now.Add(p.cfg.JWTRefreshTTL)

	access, err := p.codec.Sign(accessClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Audience:  jwt.ClaimStrings{p.cfg.AppID},
			Subject:   profile.UserID,
			ExpiresAt: jwt.NewNumericDate(accessExpire),
		},
		Email:         profile.Email,
		EmailVerified: profile.EmailVerified,
		Phone:         profile.Phone,
		PhoneVerified: profile.PhoneVerified,
		Name:          profile.Name,
	})
	if err != nil {
		return domain.SessionTokens{}, err
	}

	refresh, err := p.codec.Sign(jwt.RegisteredClaims{
		Audience:  jwt.ClaimStrings{p.cfg.AppID},
		Subject:   profile.UserID,
		ExpiresAt: jwt.NewNumericDate(refreshExpire),
	})
	if err != nil {
		return domain.SessionTokens{}, err
	}

	return domain.SessionTokens{
		AccessToken:  &domain.Token{TokenString: access, Expire: &accessExpire},
		RefreshToken: &domain.Token{TokenString: refresh, Expire: &refreshExpire},
	}, nil
}

// Logout is a no-op at the provider level. First-party tokens are stateless;
// the session layer removes the session record.
func (p *Provider) Logout(ctx context.Context, tokens domain.SessionTokens) error {
	return nil
}
