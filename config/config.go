package config

import (
	"fmt"
	"log"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

type Config struct {
	AppName  string `env:"AUTH_APP_NAME" envDefault:"cs-auth-service"`
	AppEnv   string `env:"AUTH_APP_ENV" envDefault:"local"`
	AppID    string `env:"AUTH_APP_ID" envDefault:"cybersherlock"`
	HTTPHost string `env:"AUTH_HTTP_HOST" envDefault:"0.0.0.0"`
	HTTPPort string `env:"AUTH_HTTP_PORT" envDefault:"8080"`

	DBHost     string `env:"AUTH_DB_HOST" envDefault:"localhost"`
	DBPort     string `env:"AUTH_DB_PORT" envDefault:"5432"`
	DBUser     string `env:"AUTH_DB_USER" envDefault:"app"`
	DBPassword string `env:"AUTH_DB_PASSWORD" envDefault:"app_password"`
	DBName     string `env:"AUTH_DB_NAME" envDefault:"authdb"`
	DBSSLMode  string `env:"AUTH_DB_SSLMODE" envDefault:"disable"`

	RedisHost string `env:"REDIS_HOST" envDefault:"localhost"`
	RedisPort string `env:"REDIS_PORT" envDefault:"6379"`
	// Each cache namespace lives in its own logical Redis database so
	// provider state strings can never collide across providers.
	RedisSessionDB   int `env:"REDIS_SESSION_DB" envDefault:"0"`
	RedisUserDB      int `env:"REDIS_USER_DB" envDefault:"1"`
	RedisGoogleDB    int `env:"REDIS_GOOGLE_DB" envDefault:"2"`
	RedisFacebookDB  int `env:"REDIS_FACEBOOK_DB" envDefault:"3"`
	RedisCyberDB     int `env:"REDIS_CYBERSHERLOCK_DB" envDefault:"4"`

	NATSURL          string `env:"NATS_URL" envDefault:"nats://localhost:4222"`
	NATSEmailSubject string `env:"NATS_SUBJECT_SEND_EMAIL" envDefault:"notification.send-email"`
	NATSSMSSubject   string `env:"NATS_SUBJECT_SEND_SMS" envDefault:"notification.send-sms"`

	SessionTTL      time.Duration `env:"SESSION_TTL" envDefault:"24h"`
	CookieName      string        `env:"SESSION_COOKIE_NAME" envDefault:"id"`
	CookieHashKey   string        `env:"SESSION_COOKIE_HASH_KEY"`
	CookieBlockKey  string        `env:"SESSION_COOKIE_BLOCK_KEY"`
	CookieSecure    bool          `env:"SESSION_COOKIE_SECURE" envDefault:"true"`
	CookieHTTPOnly  bool          `env:"SESSION_COOKIE_HTTP_ONLY" envDefault:"true"`
	CookieSameSite  string        `env:"SESSION_COOKIE_SAME_SITE" envDefault:"lax"`
	CookiePath      string        `env:"SESSION_COOKIE_PATH" envDefault:"/"`
	CookieDomain    string        `env:"SESSION_COOKIE_DOMAIN"`
	CookieMaxAge    int           `env:"SESSION_COOKIE_MAX_AGE" envDefault:"0"`

	JWTSecret     string        `env:"AUTH_JWT_SECRET"`
	JWTAccessTTL  time.Duration `env:"AUTH_JWT_ACCESS_TTL" envDefault:"15m"`
	JWTRefreshTTL time.Duration `env:"AUTH_JWT_REFRESH_TTL" envDefault:"720h"`

	CyberSherlockCallbackURL string        `env:"CYBERSHERLOCK_CALLBACK_URL" envDefault:"http://localhost:8080/auth/cybersherlock/callback"`
	CyberSherlockCodeTTL     time.Duration `env:"CYBERSHERLOCK_CODE_CACHE_TTL" envDefault:"5m"`

	GoogleClientID     string        `env:"GOOGLE_CLIENT_ID"`
	GoogleClientSecret string        `env:"GOOGLE_CLIENT_SECRET"`
	GoogleOAuthURL     string        `env:"GOOGLE_OAUTH_URL" envDefault:"https://accounts.google.com/o/oauth2/v2/auth"`
	GoogleTokenURL     string        `env:"GOOGLE_TOKEN_URL" envDefault:"https://oauth2.googleapis.com/token"`
	GoogleRevokeURL    string        `env:"GOOGLE_REVOKE_URL" envDefault:"https://oauth2.googleapis.com/revoke"`
	GoogleRedirectURL  string        `env:"GOOGLE_REDIRECT_URL"`
	GoogleUserinfoURL  string        `env:"GOOGLE_USERINFO_URL" envDefault:"https://openidconnect.googleapis.com/v1/userinfo"`
	GoogleCertURL      string        `env:"GOOGLE_CERT_URL" envDefault:"https://www.googleapis.com/oauth2/v3/certs"`
	GoogleCertCacheKey string        `env:"GOOGLE_CACHE_CERTS_KEY" envDefault:"google::certs"`
	GoogleStateTTL     time.Duration `env:"GOOGLE_STATE_CACHE_TTL" envDefault:"2m"`

	FacebookClientID      string        `env:"FACEBOOK_CLIENT_ID"`
	FacebookClientSecret  string        `env:"FACEBOOK_CLIENT_SECRET"`
	FacebookOAuthURL      string        `env:"FACEBOOK_OAUTH_URL" envDefault:"https://www.facebook.com/v18.0/dialog/oauth"`
	FacebookTokenURL      string        `env:"FACEBOOK_TOKEN_URL" envDefault:"https://graph.facebook.com/v18.0/oauth/access_token"`
	FacebookDebugTokenURL string        `env:"FACEBOOK_DEBUG_TOKEN_URL" envDefault:"https://graph.facebook.com/debug_token"`
	FacebookGraphURL      string        `env:"FACEBOOK_GRAPH_URL" envDefault:"https://graph.facebook.com"`
	FacebookRedirectURL   string        `env:"FACEBOOK_REDIRECT_URL"`
	FacebookStateTTL      time.Duration `env:"FACEBOOK_STATE_CACHE_TTL" envDefault:"2m"`
}

func Load() (*Config, error) {
	_ = godotenv.Load()
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	return cfg
}

// OAuth2 state records are secrets in flight, not long-lived data; session TTL
// bounds follow the OWASP range the original deployment used.
func (cfg *Config) validate() error {
	if cfg.GoogleStateTTL <= 0 || cfg.GoogleStateTTL > 3*time.Minute {
		return fmt.Errorf("GOOGLE_STATE_CACHE_TTL out of range (0, 3m]: %s", cfg.GoogleStateTTL)
	}
	if cfg.FacebookStateTTL <= 0 || cfg.FacebookStateTTL > 3*time.Minute {
		return fmt.Errorf("FACEBOOK_STATE_CACHE_TTL out of range (0, 3m]: %s", cfg.FacebookStateTTL)
	}
	if cfg.SessionTTL < time.Minute || cfg.SessionTTL > 30*24*time.Hour {
		return fmt.Errorf("SESSION_TTL out of range [1m, 720h]: %s", cfg.SessionTTL)
	}
	return nil
}

func (cfg *Config) RedisAddr() string {
	return fmt.Sprintf("%s:%s", cfg.RedisHost, cfg.RedisPort)
}

func (cfg *Config) DSN() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		cfg.DBHost, cfg.DBPort, cfg.DBUser, cfg.DBPassword, cfg.DBName, cfg.DBSSLMode)
}
