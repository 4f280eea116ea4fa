package usecase

import (
	"context"
	"errors"
	"net/http"

	"github.com/gorilla/securecookie"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/example/cs-auth-service/config"
	"github.com/example/cs-auth-service/internal/adapters/cache"
	"github.com/example/cs-auth-service/internal/domain"
)

// ErrNoSession is the single answer for every cookie or cache failure on the
// read path. The caller falls back to an anonymous session and the client
// learns nothing about why its cookie stopped working.
var ErrNoSession = errors.New("no session")

// SessionManager owns the cache-resident session lifecycle and the encrypted
// session cookie. Concurrent upgrades of one session are last write wins; the
// losing client re-authenticates on its next request.
type SessionManager struct {
	store  cache.Store
	codec  *securecookie.SecureCookie
	cfg    *config.Config
	logger zerolog.Logger
}

func NewSessionManager(store cache.Store, cfg *config.Config, logger zerolog.Logger) *SessionManager {
	codec := securecookie.New([]byte(cfg.CookieHashKey), []byte(cfg.CookieBlockKey))
	return &SessionManager{store: store, codec: codec, cfg: cfg, logger: logger}
}

// PutSession writes the session record and, for authenticated sessions, adds
// it to the owner's session index. Anonymous sessions are never indexed: their
// placeholder user id resolves to nothing.
func (m *SessionManager) PutSession(ctx context.Context, session domain.Session) error {
	value, err := cache.Marshal(session)
	if err != nil {
		return err
	}
	if err := m.store.SetWithTTL(ctx, domain.SessionKey(session.ID), value, m.cfg.SessionTTL); err != nil {
		return err
	}
	if session.Anonymous {
		return nil
	}
	return m.store.HSet(ctx, domain.UserSessionsKey(session.UserID), domain.SessionKey(session.ID), string(session.AuthProvider))
}

func (m *SessionManager) GetSession(ctx context.Context, sessionID string) (domain.Session, error) {
	raw, ok, err := m.store.Get(ctx, domain.SessionKey(sessionID))
	if err != nil {
		return domain.Session{}, err
	}
	if !ok {
		return domain.Session{}, ErrNoSession
	}
	var session domain.Session
	if err := cache.Unmarshal(raw, &session); err != nil {
		return domain.Session{}, err
	}
	return session, nil
}

// GetSessions returns the user's live sessions for one provider. Index entries
// whose session record has expired are skipped; the index is advisory, the
// session record is the authority.
func (m *SessionManager) GetSessions(ctx context.Context, userID string, provider domain.AuthProvider) ([]domain.Session, error) {
	index, err := m.store.HGetAll(ctx, domain.UserSessionsKey(userID))
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(index))
	for key, tag := range index {
		if domain.AuthProvider(tag) == provider {
			keys = append(keys, key)
		}
	}
	if len(keys) == 0 {
		return nil, nil
	}
	values, err := m.store.MGet(ctx, keys...)
	if err != nil {
		return nil, err
	}
	sessions := make([]domain.Session, 0, len(values))
	for _, value := range values {
		if value == nil {
			continue
		}
		var session domain.Session
		if err := cache.Unmarshal(*value, &session); err != nil {
			m.logger.Warn().Err(err).Msg("skipping undecodable session record")
			continue
		}
		sessions = append(sessions, session)
	}
	return sessions, nil
}

// LatestSession picks the most recently updated of the user's sessions for the
// provider, or nil when none survive.
func (m *SessionManager) LatestSession(ctx context.Context, userID string, provider domain.AuthProvider) (*domain.Session, error) {
	sessions, err := m.GetSessions(ctx, userID, provider)
	if err != nil || len(sessions) == 0 {
		return nil, err
	}
	latest := sessions[0]
	for _, s := range sessions[1:] {
		if s.UpdatedAt.After(latest.UpdatedAt) {
			latest = s
		}
	}
	return &latest, nil
}

// IssueAnonymous creates and stores a fresh anonymous session.
func (m *SessionManager) IssueAnonymous(ctx context.Context, metadata domain.SessionMetadata) (domain.Session, error) {
	session := domain.NewAnonymousSession(metadata)
	if err := m.PutSession(ctx, session); err != nil {
		return domain.Session{}, err
	}
	return session, nil
}

// DeleteSession removes the record and, for authenticated sessions, the index
// entry.
func (m *SessionManager) DeleteSession(ctx context.Context, session domain.Session) error {
	if err := m.store.Delete(ctx, domain.SessionKey(session.ID)); err != nil {
		return err
	}
	if session.Anonymous {
		return nil
	}
	return m.store.HDelete(ctx, domain.UserSessionsKey(session.UserID), domain.SessionKey(session.ID))
}

// SetCookie writes the encrypted, authenticated session cookie.
func (m *SessionManager) SetCookie(c echo.Context, sessionID string) error {
	encoded, err := m.codec.Encode(m.cfg.CookieName, sessionID)
	if err != nil {
		return err
	}
	c.SetCookie(m.buildCookie(encoded, m.cfg.CookieMaxAge))
	return nil
}

// ClearCookie expires the session cookie on the client.
func (m *SessionManager) ClearCookie(c echo.Context) {
	c.SetCookie(m.buildCookie("", -1))
}

// LoadFromCookie decodes the cookie and resolves the session record. Missing
// cookie, forged or undecodable payload and an evicted record all collapse to
// ErrNoSession.
func (m *SessionManager) LoadFromCookie(c echo.Context) (domain.Session, error) {
	cookie, err := c.Cookie(m.cfg.CookieName)
	if err != nil || cookie.Value == "" {
		return domain.Session{}, ErrNoSession
	}
	var sessionID string
	if err := m.codec.Decode(m.cfg.CookieName, cookie.Value, &sessionID); err != nil {
		return domain.Session{}, ErrNoSession
	}
	session, err := m.GetSession(c.Request().Context(), sessionID)
	if err != nil {
		return domain.Session{}, ErrNoSession
	}
	return session, nil
}

func (m *SessionManager) buildCookie(value string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     m.cfg.CookieName,
		Value:    value,
		Path:     m.cfg.CookiePath,
		Domain:   m.cfg.CookieDomain,
		MaxAge:   maxAge,
		Secure:   m.cfg.CookieSecure,
		HttpOnly: m.cfg.CookieHTTPOnly,
		SameSite: sameSite(m.cfg.CookieSameSite),
	}
}

func sameSite(mode string) http.SameSite {
	switch mode {
	case "strict":
		return http.SameSiteStrictMode
	case "none":
		return http.SameSiteNoneMode
	default:
		return http.SameSiteLaxMode
	}
}
