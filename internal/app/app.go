package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/example/cs-auth-service/config"
	"github.com/example/cs-auth-service/internal/adapters/cache"
	httpadapter "github.com/example/cs-auth-service/internal/adapters/http"
	"github.com/example/cs-auth-service/internal/adapters/http/handlers"
	natsadapter "github.com/example/cs-auth-service/internal/adapters/nats"
	"github.com/example/cs-auth-service/internal/adapters/storage"
	"github.com/example/cs-auth-service/internal/domain"
	"github.com/example/cs-auth-service/internal/jwks"
	"github.com/example/cs-auth-service/internal/provider/cybersherlock"
	"github.com/example/cs-auth-service/internal/provider/facebook"
	"github.com/example/cs-auth-service/internal/provider/google"
	"github.com/example/cs-auth-service/internal/tokencodec"
	"github.com/example/cs-auth-service/internal/usecase"
)

// App owns every long-lived dependency and the HTTP server on top of them.
type App struct {
	cfg      *config.Config
	logger   zerolog.Logger
	echo     *echo.Echo
	natsConn *nats.Conn
}

func New(cfg *config.Config, logger zerolog.Logger) (*App, error) {
	db, err := gorm.Open(postgres.Open(cfg.DSN()), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := storage.AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	natsConn, err := nats.Connect(cfg.NATSURL)
	if err != nil {
		return nil, fmt.Errorf("connect notification transport: %w", err)
	}

	sessionStore := cache.New(cfg.RedisAddr(), cfg.RedisSessionDB)
	userStore := cache.New(cfg.RedisAddr(), cfg.RedisUserDB)
	googleStore := cache.New(cfg.RedisAddr(), cfg.RedisGoogleDB)
	facebookStore := cache.New(cfg.RedisAddr(), cfg.RedisFacebookDB)
	cyberStore := cache.New(cfg.RedisAddr(), cfg.RedisCyberDB)

	httpClient := &http.Client{Timeout: 10 * time.Second}
	codec := tokencodec.New(cfg.JWTSecret)
	googleVerifier := jwks.NewVerifier(cfg.GoogleCertURL, cfg.GoogleCertCacheKey, googleStore, httpClient, logger)
	notifier := natsadapter.NewNotifier(natsConn, cfg.NATSEmailSubject, cfg.NATSSMSSubject)

	googleProvider := google.New(cfg, googleStore, httpClient, googleVerifier, logger)
	facebookProvider := facebook.New(cfg, facebookStore, httpClient, logger)
	cyberProvider := cybersherlock.New(cfg, cyberStore, notifier, codec, logger)

	repo := storage.NewUserRepository(db)
	users := usecase.NewUserReconciler(repo, userStore, cfg, logger)
	sessions := usecase.NewSessionManager(sessionStore, cfg, logger)

	flows := map[domain.AuthProvider]usecase.OAuthFlow{
		domain.ProviderGoogle:   usecase.GoogleFlow{Provider: googleProvider},
		domain.ProviderFacebook: usecase.FacebookFlow{Provider: facebookProvider},
	}
	auth := usecase.NewAuthOrchestrator(flows, cyberProvider, users, sessions, logger)

	pingers := map[string]handlers.Pinger{
		"session-cache": sessionStore,
		"user-cache":    userStore,
		"database":      gormPinger{db: db},
	}
	handler := handlers.NewAuthHandler(auth, users, sessions, pingers, logger)

	return &App{
		cfg:      cfg,
		logger:   logger,
		echo:     httpadapter.NewRouter(handler, sessions, logger),
		natsConn: natsConn,
	}, nil
}

// Run blocks until the server stops or ctx is cancelled, then drains.
func (a *App) Run(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%s", a.cfg.HTTPHost, a.cfg.HTTPPort)
	errCh := make(chan error, 1)
	go func() {
		a.logger.Info().Str("addr", addr).Msg("http server listening")
		errCh <- a.echo.Start(addr)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return a.echo.Shutdown(shutdownCtx)
	}
}

func (a *App) Close() {
	if a.natsConn != nil {
		a.natsConn.Close()
	}
}

type gormPinger struct{ db *gorm.DB }

func (p gormPinger) Ping(ctx context.Context) error {
	sqlDB, err := p.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}
