package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	ServerPort string
	JWTSecret  string
	Postgres   PostgresConfig
	Mongo      MongoConfig
	Logging    LoggingConfig
	LLM        LLMConfig
}

type PostgresConfig struct {
	DSN               string
	Host              string
	Port              int
	User              string
	Password          string
	Database          string
	MaxConns          int32
	MinConns          int32
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration
	ConnectTimeout    time.Duration
}

// MongoConfig drives the optional agent-run audit store. An empty URI
// disables auditing entirely.
type MongoConfig struct {
	URI            string
	Database       string
	ConnectTimeout time.Duration
}

type LoggingConfig struct {
	Level        string
	Encoding     string
	Development  bool
	EnableCaller bool
	ServiceName  string
}

type LLMConfig struct {
	Endpoint string
	APIKey   string
	Model    string
	Timeout  time.Duration
}

func Load() (*Config, error) {
	if err := loadEnvFile(); err != nil {
		return nil, fmt.Errorf("load env files: %w", err)
	}

	pgPort, _ := strconv.Atoi(envOrDefault("POSTGRES_PORT", "5432"))

	cfg := &Config{
		ServerPort: envOrDefault("PORT", "8080"),
		JWTSecret:  envOrDefault("JWT_SECRET", "dev-secret"),
		Postgres: PostgresConfig{
			DSN:               strings.TrimSpace(os.Getenv("POSTGRES_DSN")),
			Host:              envOrDefault("POSTGRES_HOST", "localhost"),
			Port:              pgPort,
			User:              envOrDefault("POSTGRES_USER", "postgres"),
			Password:          envOrDefault("POSTGRES_PASSWORD", "postgres"),
			Database:          envOrDefault("POSTGRES_DB", "taskpilot"),
			MaxConns:          parseInt32(envOrDefault("POSTGRES_MAX_CONNS", "8"), 8),
			MinConns:          parseInt32(envOrDefault("POSTGRES_MIN_CONNS", "1"), 1),
			MaxConnLifetime:   parseDuration(envOrDefault("POSTGRES_MAX_CONN_LIFETIME", "1h"), time.Hour),
			MaxConnIdleTime:   parseDuration(envOrDefault("POSTGRES_MAX_CONN_IDLE", "30m"), 30*time.Minute),
			HealthCheckPeriod: parseDuration(envOrDefault("POSTGRES_HEALTH_CHECK_PERIOD", "1m"), time.Minute),
			ConnectTimeout:    parseDuration(envOrDefault("POSTGRES_CONNECT_TIMEOUT", "5s"), 5*time.Second),
		},
		Mongo: MongoConfig{
			URI:            strings.TrimSpace(os.Getenv("MONGO_URI")),
			Database:       envOrDefault("MONGO_DATABASE", "taskpilot"),
			ConnectTimeout: parseDuration(envOrDefault("MONGO_CONNECT_TIMEOUT", "5s"), 5*time.Second),
		},
		Logging: LoggingConfig{
			Level:        strings.ToLower(envOrDefault("LOG_LEVEL", "info")),
			Encoding:     strings.ToLower(envOrDefault("LOG_ENCODING", "console")),
			Development:  parseBool(envOrDefault("LOG_DEVELOPMENT", "false"), false),
			EnableCaller: parseBool(envOrDefault("LOG_CALLER", "false"), false),
			ServiceName:  envOrDefault("SERVICE_NAME", "taskpilot-server"),
		},
		LLM: LLMConfig{
			Endpoint: strings.TrimRight(envOrDefault("LLM_API_ENDPOINT", "https://openrouter.ai/api/v1"), "/"),
			APIKey:   strings.TrimSpace(os.Getenv("LLM_API_KEY")),
			Model:    envOrDefault("LLM_MODEL", "openai/gpt-4o-mini"),
			Timeout:  parseDuration(envOrDefault("LLM_TIMEOUT", "60s"), 60*time.Second),
		},
	}

	return cfg, nil
}

func loadEnvFile() error {
	if err := godotenv.Load(); err != nil {
		var pathErr *fs.PathError
		if errors.As(err, &pathErr) {
			// missing .env is fine; environment variables can be supplied externally
			return nil
		}
		return err
	}
	return nil
}

func (c PostgresConfig) BuildDSN() string {
	if c.DSN != "" {
		return c.DSN
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s", c.User, c.Password, c.Host, c.Port, c.Database)
}

func envOrDefault(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}

func parseDuration(value string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return d
}

func parseInt32(value string, fallback int32) int32 {
	i, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return int32(i)
}

func parseBool(value string, fallback bool) bool {
	v, err := strconv.ParseBool(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return v
}
