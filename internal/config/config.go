package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	DBHost     string `env:"DB_HOST" envDefault:"localhost"`
	DBPort     string `env:"DB_PORT" envDefault:"5432"`
	DBUser     string `env:"DB_USER" envDefault:"postgres"`
	DBPassword string `env:"DB_PASSWORD" envDefault:"postgres"`
	DBName     string `env:"DB_NAME" envDefault:"pmti"`
	DBSSLMode  string `env:"DB_SSLMODE" envDefault:"disable"`

	ServerPort  string   `env:"SERVER_PORT" envDefault:"8080"`
	CORSOrigins []string `env:"CORS_ORIGINS" envSeparator:"," envDefault:"*"`

	JWTSecret   string        `env:"JWT_SECRET" envDefault:"super-secret-key-change-me"`
	JWTIssuer   string        `env:"JWT_ISSUER" envDefault:"pmti"`
	JWTAudience string        `env:"JWT_AUDIENCE" envDefault:"authenticated"`
	TokenTTL    time.Duration `env:"TOKEN_TTL" envDefault:"24h"`

	AllowedEmailDomains []string `env:"ALLOWED_EMAIL_DOMAINS" envSeparator:"," envDefault:"cornell.edu"`
	AllowedEmails       []string `env:"ALLOWED_EMAILS" envSeparator:"," envDefault:"cornell.perfectmatch@gmail.com"`

	InternalAPIKey string `env:"INTERNAL_API_KEY" envDefault:"internal-api-key-change-me"`

	// Empty keeps realtime fan-out in process.
	RedisURL string `env:"REDIS_URL"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`
}

func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	return &cfg, nil
}

func (c *Config) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBUser, c.DBPassword, c.DBName, c.DBSSLMode,
	)
}
