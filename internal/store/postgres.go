package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/taskpilot/taskpilot/config"
)

type Postgres struct {
	Pool *pgxpool.Pool
}

func NewPostgres(ctx context.Context, cfg config.PostgresConfig) (*Postgres, error) {
	dsn := cfg.BuildDSN()
	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse dsn: %w", err)
	}

	if cfg.MaxConns > 0 {
		poolConfig.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns >= 0 {
		poolConfig.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime
	}
	if cfg.HealthCheckPeriod > 0 {
		poolConfig.HealthCheckPeriod = cfg.HealthCheckPeriod
	}

	connectTimeout := cfg.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = 5 * time.Second
	}

	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}

	return &Postgres{Pool: pool}, nil
}

func (p *Postgres) Close() {
	if p == nil || p.Pool == nil {
		return
	}
	p.Pool.Close()
}

func (p *Postgres) Ping(ctx context.Context) error {
	if p == nil || p.Pool == nil {
		return fmt.Errorf("postgres: pool not initialised")
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	return p.Pool.Ping(ctx)
}

func (p *Postgres) EnsureSchema(ctx context.Context) error {
	if p == nil || p.Pool == nil {
		return fmt.Errorf("postgres: pool not initialised")
	}

	statements := []string{
		strings.Join([]string{
			"CREATE TABLE IF NOT EXISTS conversations (",
			"    id BIGSERIAL PRIMARY KEY,",
			"    user_id TEXT NOT NULL,",
			"    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),",
			"    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()",
			")",
		}, "\n"),
		"CREATE INDEX IF NOT EXISTS idx_conversations_user_id ON conversations (user_id)",
		strings.Join([]string{
			"CREATE TABLE IF NOT EXISTS messages (",
			"    id BIGSERIAL PRIMARY KEY,",
			"    conversation_id BIGINT NOT NULL REFERENCES conversations(id),",
			"    user_id TEXT NOT NULL,",
			"    role TEXT NOT NULL CHECK (role IN ('user', 'assistant')),",
			"    content TEXT NOT NULL,",
			"    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()",
			")",
		}, "\n"),
		"CREATE INDEX IF NOT EXISTS idx_messages_conversation_created ON messages (conversation_id, created_at)",
		strings.Join([]string{
			"CREATE TABLE IF NOT EXISTS tasks (",
			"    id BIGSERIAL PRIMARY KEY,",
			"    user_id TEXT NOT NULL,",
			"    title TEXT NOT NULL,",
			"    description TEXT,",
			"    completed BOOLEAN NOT NULL DEFAULT FALSE,",
			"    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),",
			"    updated_at TIMESTAMPTZ",
			")",
		}, "\n"),
		"CREATE INDEX IF NOT EXISTS idx_tasks_user_created ON tasks (user_id, created_at)",
	}

	for _, stmt := range statements {
		if _, err := p.Pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres: ensure schema: %w", err)
		}
	}

	return nil
}
