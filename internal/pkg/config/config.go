package config

import (
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

// Config holds all application configuration.
type Config struct {
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`
	HorizonURL  string `env:"HORIZON_URL,required"`
	PostgresURL string `env:"POSTGRES_URL,required"`
	RedisAddr   string `env:"REDIS_ADDR,required"`

	APIServerAddr   string `env:"API_SERVER_ADDR" envDefault:":8080"`
	AdminServerAddr string `env:"ADMIN_SERVER_ADDR" envDefault:":9091"`

	SweepInterval    time.Duration `env:"SWEEP_INTERVAL" envDefault:"1h"`
	ExpiryNoticeDays int           `env:"EXPIRY_NOTICE_DAYS" envDefault:"3"`
	NoticeBatchSize  int           `env:"NOTICE_BATCH_SIZE" envDefault:"100"`

	ProjectorMaxAttempts  int           `env:"PROJECTOR_MAX_ATTEMPTS" envDefault:"5"`
	ProjectorRetryBackoff time.Duration `env:"PROJECTOR_RETRY_BACKOFF" envDefault:"1s"`
	StreamBackoffInitial  time.Duration `env:"STREAM_BACKOFF_INITIAL" envDefault:"1s"`
	StreamBackoffMax      time.Duration `env:"STREAM_BACKOFF_MAX" envDefault:"1m"`
	SourceRPS             float64       `env:"SOURCE_RPS" envDefault:"10"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	// Attempt to load .env file for local development.
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}
