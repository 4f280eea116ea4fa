package middleware

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/example/cs-auth-service/internal/domain"
	"github.com/example/cs-auth-service/internal/usecase"
)

const sessionContextKey = "auth.session"

// Session resolves the caller's session from the cookie on every request. A
// missing or unusable cookie gets a fresh anonymous session and a new cookie;
// handlers always find a session in context.
func Session(sessions *usecase.SessionManager, logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			session, err := sessions.LoadFromCookie(c)
			if err != nil {
				metadata := domain.SessionMetadata{
					UserAgent: c.Request().UserAgent(),
					Host:      c.Request().Host,
				}
				session, err = sessions.IssueAnonymous(c.Request().Context(), metadata)
				if err != nil {
					logger.Error().Err(err).Msg("could not issue anonymous session")
					return echo.NewHTTPError(http.StatusInternalServerError)
				}
				if err := sessions.SetCookie(c, session.ID); err != nil {
					logger.Error().Err(err).Msg("could not set session cookie")
					return echo.NewHTTPError(http.StatusInternalServerError)
				}
			}
			c.Set(sessionContextKey, session)
			return next(c)
		}
	}
}

// SessionFromContext returns the session the middleware attached.
func SessionFromContext(c echo.Context) domain.Session {
	if session, ok := c.Get(sessionContextKey).(domain.Session); ok {
		return session
	}
	return domain.Session{}
}
