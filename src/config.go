package main

import (
	"fmt"
	"log"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/ulule/limiter/v3"

	"worker-host/src/shim"
)

// Config is read from the environment, after any .env file is loaded.
type Config struct {
	Port        string `env:"PORT" envDefault:"8080"`
	MaxConns    int    `env:"MAX_CONNS" envDefault:"512"`
	RateLimit   string `env:"RATE_LIMIT" envDefault:"1000-H"`
	RedisURL    string `env:"REDIS_URL" envDefault:"redis:6379"`
	DatabaseURL string `env:"DATABASE_URL"`

	JWTSecret string        `env:"JWT_SECRET,required"`
	JWTExpire time.Duration `env:"JWT_EXPIRE" envDefault:"24h"`
	AdminKey  string        `env:"ADMIN_KEY"`

	Module            string            `env:"WORKER_MODULE" envDefault:"counter"`
	Vars              map[string]string `env:"WORKER_VARS"`
	Crons             []string          `env:"WORKER_CRONS" envSeparator:";"`
	InitFailurePolicy string            `env:"INIT_FAILURE_POLICY" envDefault:"retry"`
	SetupAttempts     int               `env:"SETUP_ATTEMPTS" envDefault:"5"`
	SetupBackoff      time.Duration     `env:"SETUP_BACKOFF" envDefault:"2s"`

	Queues            []string      `env:"WORKER_QUEUES" envDefault:"jobs"`
	QueueBatchSize    int           `env:"QUEUE_BATCH_SIZE" envDefault:"10"`
	QueueBatchTimeout time.Duration `env:"QUEUE_BATCH_TIMEOUT" envDefault:"5s"`
	QueueMaxRetries   int           `env:"QUEUE_MAX_RETRIES" envDefault:"3"`

	OTelEndpoint string `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
}

func loadConfig() (*Config, error) {
	loadEnvFiles()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if _, err := shim.ParseFailurePolicy(c.InitFailurePolicy); err != nil {
		return err
	}
	if _, err := limiter.NewRateFromFormatted(c.RateLimit); err != nil {
		return fmt.Errorf("invalid RATE_LIMIT %q: %w", c.RateLimit, err)
	}
	if c.QueueBatchSize <= 0 {
		return fmt.Errorf("QUEUE_BATCH_SIZE must be positive")
	}
	if c.QueueBatchTimeout < time.Second {
		// Redis blocking pops only support whole seconds.
		c.QueueBatchTimeout = time.Second
	}
	if c.SetupAttempts <= 0 {
		c.SetupAttempts = 1
	}
	return nil
}

// A missing .env is fine: in containers everything comes from the real
// environment.
func loadEnvFiles() {
	envFiles := []string{
		".env",
		"../.env",
		"config/.env",
	}

	for _, file := range envFiles {
		if err := godotenv.Load(file); err == nil {
			log.Printf("Loaded environment from %s", file)
			return
		}
	}
	log.Printf("No .env file found (tried: %v), using process environment", envFiles)
}
