package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/example/cs-auth-service/internal/adapters/http/middleware"
	"github.com/example/cs-auth-service/internal/domain"
	"github.com/example/cs-auth-service/internal/jwks"
	"github.com/example/cs-auth-service/internal/provider"
	"github.com/example/cs-auth-service/internal/provider/cybersherlock"
	"github.com/example/cs-auth-service/internal/usecase"
	pkghttp "github.com/example/cs-auth-service/pkg/http"
)

// Pinger is a health-checkable dependency.
type Pinger interface {
	Ping(ctx context.Context) error
}

// AuthHandler is the HTTP face of the authentication flows.
type AuthHandler struct {
	auth     *usecase.AuthOrchestrator
	users    *usecase.UserReconciler
	sessions *usecase.SessionManager
	pingers  map[string]Pinger
	logger   zerolog.Logger
}

func NewAuthHandler(auth *usecase.AuthOrchestrator, users *usecase.UserReconciler, sessions *usecase.SessionManager, pingers map[string]Pinger, logger zerolog.Logger) *AuthHandler {
	return &AuthHandler{
		auth:     auth,
		users:    users,
		sessions: sessions,
		pingers:  pingers,
		logger:   logger,
	}
}

// Login returns the provider's authorization URL for the caller to follow.
func (h *AuthHandler) Login(c echo.Context) error {
	p, err := domain.ParseAuthProvider(c.Param("provider"))
	if err != nil {
		return pkghttp.ErrorJSON(c, http.StatusNotFound, "unknown auth provider")
	}
	if p == domain.ProviderCyberSherlock {
		return pkghttp.ErrorJSON(c, http.StatusMethodNotAllowed, "use the credential login endpoint")
	}

	session := middleware.SessionFromContext(c)
	authURL, err := h.auth.BeginLogin(c.Request().Context(), p, session)
	if err != nil {
		return h.fail(c, err)
	}
	return pkghttp.AuthURLJSON(c, http.StatusOK, authURL)
}

// Callback finishes either an external authorization round trip or a
// first-party registration, then binds the new session to the cookie.
func (h *AuthHandler) Callback(c echo.Context) error {
	p, err := domain.ParseAuthProvider(c.Param("provider"))
	if err != nil {
		return pkghttp.ErrorJSON(c, http.StatusNotFound, "unknown auth provider")
	}
	code := c.QueryParam("code")
	state := c.QueryParam("state")
	if code == "" || state == "" {
		return pkghttp.ErrorJSON(c, http.StatusBadRequest, "code and state are required")
	}

	var session domain.Session
	if p == domain.ProviderCyberSherlock {
		session, err = h.auth.CompleteRegistration(c.Request().Context(), code, state)
	} else {
		session, err = h.auth.CompleteLogin(c.Request().Context(), p, code, state)
	}
	if err != nil {
		return h.fail(c, err)
	}

	if err := h.sessions.SetCookie(c, session.ID); err != nil {
		return h.fail(c, err)
	}
	return pkghttp.ResultJSON(c, http.StatusOK)
}

// Register starts the first-party registration. The one-time code travels out
// of band; the response carries the confirmation URL shell.
func (h *AuthHandler) Register(c echo.Context) error {
	var data cybersherlock.RegisterData
	if err := c.Bind(&data); err != nil {
		return pkghttp.ErrorJSON(c, http.StatusBadRequest, "malformed request body")
	}

	session := middleware.SessionFromContext(c)
	callbackURL, err := h.auth.Register(c.Request().Context(), data, session)
	if err != nil {
		return h.fail(c, err)
	}
	return pkghttp.AuthURLJSON(c, http.StatusOK, callbackURL)
}

// CredentialLogin authenticates with email-or-phone plus password.
func (h *AuthHandler) CredentialLogin(c echo.Context) error {
	var data cybersherlock.LoginData
	if err := c.Bind(&data); err != nil {
		return pkghttp.ErrorJSON(c, http.StatusBadRequest, "malformed request body")
	}

	session, err := h.auth.Login(c.Request().Context(), data, middleware.SessionFromContext(c))
	if err != nil {
		return h.fail(c, err)
	}
	if err := h.sessions.SetCookie(c, session.ID); err != nil {
		return h.fail(c, err)
	}
	return pkghttp.ResultJSON(c, http.StatusOK)
}

// Logout retires the current session and expires the cookie. Logging out an
// anonymous session is a success, not an error.
func (h *AuthHandler) Logout(c echo.Context) error {
	session := middleware.SessionFromContext(c)
	if err := h.auth.Logout(c.Request().Context(), session); err != nil {
		return h.fail(c, err)
	}
	h.sessions.ClearCookie(c)
	return pkghttp.ResultJSON(c, http.StatusOK)
}

// Me returns the authenticated user's stored record.
func (h *AuthHandler) Me(c echo.Context) error {
	session := middleware.SessionFromContext(c)
	if session.Anonymous {
		return pkghttp.ErrorJSON(c, http.StatusNotFound, "no user found")
	}
	user, err := h.users.GetByID(c.Request().Context(), session.UserID)
	if err != nil {
		return h.fail(c, err)
	}
	if user == nil {
		return pkghttp.ErrorJSON(c, http.StatusNotFound, "no user found")
	}
	return c.JSON(http.StatusOK, user)
}

// Status pings every registered dependency and reports the first failure.
func (h *AuthHandler) Status(c echo.Context) error {
	ctx := c.Request().Context()
	for name, pinger := range h.pingers {
		if err := pinger.Ping(ctx); err != nil {
			h.logger.Error().Err(err).Str("dependency", name).Msg("health check failed")
			return pkghttp.ErrorJSON(c, http.StatusServiceUnavailable, name+" is unavailable")
		}
	}
	return pkghttp.ResultJSON(c, http.StatusOK)
}

// fail maps the layered error taxonomy onto HTTP statuses. Internal detail
// stays in the log; the client sees the classification only.
func (h *AuthHandler) fail(c echo.Context, err error) error {
	switch {
	case errors.Is(err, cybersherlock.ErrValidation):
		return pkghttp.ErrorJSON(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, cybersherlock.ErrWrongCredentials):
		return pkghttp.ErrorJSON(c, http.StatusUnauthorized, cybersherlock.ErrWrongCredentials.Error())
	case errors.Is(err, usecase.ErrAlreadyRegistered):
		return pkghttp.ErrorJSON(c, http.StatusConflict, usecase.ErrAlreadyRegistered.Error())
	case errors.Is(err, provider.ErrStateNotFound), errors.Is(err, provider.ErrStateMismatch):
		return pkghttp.ErrorJSON(c, http.StatusUnauthorized, "authorization callback rejected")
	case errors.Is(err, usecase.ErrReauthenticate):
		return pkghttp.ErrorJSON(c, http.StatusUnauthorized, usecase.ErrReauthenticate.Error())
	case errors.Is(err, provider.ErrTokenExchange), errors.Is(err, provider.ErrProfileFetch),
		errors.Is(err, provider.ErrBadTokens), errors.Is(err, jwks.ErrFetchFailed):
		return pkghttp.ErrorJSON(c, http.StatusBadGateway, "identity provider error")
	case errors.Is(err, cybersherlock.ErrCodeDelivery):
		return pkghttp.ErrorJSON(c, http.StatusServiceUnavailable, cybersherlock.ErrCodeDelivery.Error())
	case errors.Is(err, usecase.ErrUnknownProvider):
		return pkghttp.ErrorJSON(c, http.StatusNotFound, "unknown auth provider")
	default:
		h.logger.Error().Err(err).Msg("unhandled auth error")
		return pkghttp.ErrorJSON(c, http.StatusInternalServerError, "internal error")
	}
}
