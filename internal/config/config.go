package config

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	AppName  string `envconfig:"APP_NAME" default:"chatapp"`
	Env      string `envconfig:"APP_ENV" default:"development"`
	Host     string `envconfig:"HTTP_HOST" default:"0.0.0.0"`
	Port     int    `envconfig:"HTTP_PORT" default:"5000"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`

	DBDriver   string `envconfig:"DB_DRIVER" default:"sqlite"`
	SQLitePath string `envconfig:"SQLITE_PATH" default:"chatapp.db"`
	PGHost     string `envconfig:"POSTGRES_HOST" default:"localhost"`
	PGPort     string `envconfig:"POSTGRES_PORT" default:"5432"`
	PGUser     string `envconfig:"POSTGRES_USER" default:"postgres"`
	PGPassword string `envconfig:"POSTGRES_PASSWORD" default:"postgres"`
	PGDatabase string `envconfig:"POSTGRES_DB" default:"chatapp"`

	JWTSecret          string `envconfig:"JWT_SECRET" required:"true"`
	AccessTokenMinutes int    `envconfig:"ACCESS_TOKEN_EXPIRE_MINUTES" default:"1440"`
	BcryptCost         int    `envconfig:"BCRYPT_COST" default:"10"`

	CORSOrigins       []string `envconfig:"CORS_ORIGINS" default:"http://localhost:3000"`
	HistoryPageSize   int      `envconfig:"HISTORY_PAGE_SIZE" default:"1000"`
	SessionBufferSize int      `envconfig:"SESSION_BUFFER_SIZE" default:"64"`

	AMQPURL      string `envconfig:"AMQP_URL"`
	AMQPExchange string `envconfig:"AMQP_EXCHANGE" default:"chat.events"`

	RedisAddr      string        `envconfig:"REDIS_ADDR"`
	RedisPassword  string        `envconfig:"REDIS_PASSWORD"`
	RedisDB        int           `envconfig:"REDIS_DB" default:"0"`
	SendRateLimit  int           `envconfig:"SEND_RATE_LIMIT" default:"30"`
	SendRateWindow time.Duration `envconfig:"SEND_RATE_WINDOW" default:"10s"`

	OTLPEndpoint string `envconfig:"OTEL_EXPORTER_OTLP_ENDPOINT"`
}

// Load reads an optional .env file and then the process environment.
func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("process env: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.DBDriver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("DB_DRIVER must be sqlite or postgres, got %q", c.DBDriver)
	}
	if c.JWTSecret == "" {
		return errors.New("JWT_SECRET is required")
	}
	if c.HistoryPageSize <= 0 {
		return errors.New("HISTORY_PAGE_SIZE must be positive")
	}
	if c.SessionBufferSize <= 0 {
		return errors.New("SESSION_BUFFER_SIZE must be positive")
	}
	return nil
}

func (c *Config) HTTPAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// DatabaseURL composes the PostgreSQL DSN from its parts.
func (c *Config) DatabaseURL() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.PGUser, c.PGPassword),
		Host:     fmt.Sprintf("%s:%s", c.PGHost, c.PGPort),
		Path:     c.PGDatabase,
		RawQuery: "sslmode=disable",
	}
	return u.String()
}

func (c *Config) AccessTokenTTL() time.Duration {
	return time.Duration(c.AccessTokenMinutes) * time.Minute
}

func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}
