package http

import (
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/example/cs-auth-service/internal/adapters/http/handlers"
	"github.com/example/cs-auth-service/internal/adapters/http/middleware"
	"github.com/example/cs-auth-service/internal/usecase"
)

// NewRouter wires the HTTP surface. Every /auth route runs behind the session
// middleware so handlers always have a session in hand.
func NewRouter(handler *handlers.AuthHandler, sessions *usecase.SessionManager, logger zerolog.Logger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(echomw.Recover())
	e.Use(echomw.RequestID())

	e.GET("/status", handler.Status)

	auth := e.Group("/auth", middleware.Session(sessions, logger))
	auth.GET("/:provider/login", handler.Login)
	auth.GET("/:provider/callback", handler.Callback)
	auth.POST("/cybersherlock/register", handler.Register)
	auth.POST("/cybersherlock/login", handler.CredentialLogin)
	auth.GET("/logout", handler.Logout)

	e.GET("/me", handler.Me, middleware.Session(sessions, logger))

	return e
}
