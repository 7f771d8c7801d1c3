package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

// Config holds the environment driven configuration for the service.
type Config struct {
	HTTPAddr        string        `env:"HTTP_ADDR" envDefault:":8080"`
	GRPCHealthAddr  string        `env:"GRPC_HEALTH_ADDR" envDefault:":9090"`
	LogLevel        string        `env:"LOG_LEVEL" envDefault:"info"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"15s"`

	DatabaseDSN    string        `env:"DATABASE_DSN" envDefault:"host=postgres user=postgres password=postgres dbname=foodvision port=5432 sslmode=disable"`
	DBMaxIdleConns int           `env:"DB_MAX_IDLE_CONNS" envDefault:"5"`
	DBMaxOpenConns int           `env:"DB_MAX_OPEN_CONNS" envDefault:"10"`
	DBConnLifetime time.Duration `env:"DB_CONN_MAX_LIFETIME" envDefault:"1h"`

	RedisAddr string        `env:"REDIS_ADDR" envDefault:"redis:6379"`
	CacheTTL  time.Duration `env:"CACHE_TTL" envDefault:"5m"`

	// Prediction service
	PredictionProject     string        `env:"PREDICTION_PROJECT,notEmpty"`
	PredictionRegion      string        `env:"PREDICTION_REGION"`
	PredictionVersion     string        `env:"PREDICTION_VERSION"`
	PredictionBaseURL     string        `env:"PREDICTION_BASE_URL"`
	PredictionAccessToken string        `env:"PREDICTION_ACCESS_TOKEN"`
	PredictionTimeout     time.Duration `env:"PREDICTION_TIMEOUT" envDefault:"0s"`

	// Preprocessing
	ImageSize    int  `env:"IMAGE_SIZE" envDefault:"224"`
	ImageRescale bool `env:"IMAGE_RESCALE" envDefault:"false"`
}

// Load reads an optional .env file and parses environment variables into Config.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	return Parse()
}

// Parse parses the current environment into Config.
func Parse() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env config: %w", err)
	}

	cfg.PredictionProject = strings.TrimSpace(cfg.PredictionProject)
	cfg.PredictionRegion = strings.TrimSpace(cfg.PredictionRegion)
	cfg.PredictionVersion = strings.TrimSpace(cfg.PredictionVersion)
	cfg.PredictionBaseURL = strings.TrimSpace(cfg.PredictionBaseURL)

	if cfg.PredictionProject == "" {
		return nil, errors.New("PREDICTION_PROJECT must not be blank")
	}
	if cfg.ImageSize <= 0 {
		return nil, fmt.Errorf("IMAGE_SIZE must be positive, got %d", cfg.ImageSize)
	}
	if cfg.PredictionTimeout < 0 {
		return nil, fmt.Errorf("PREDICTION_TIMEOUT must not be negative, got %s", cfg.PredictionTimeout)
	}
	return cfg, nil
}
