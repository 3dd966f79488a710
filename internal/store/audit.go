package store

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/taskpilot/taskpilot/config"
)

// AgentRun is one completed reasoning loop, recorded for offline inspection
// of which tools the agent actually invoked.
type AgentRun struct {
	UserID         string    `bson:"user_id"`
	ConversationID int64     `bson:"conversation_id"`
	ToolCalls      []string  `bson:"tool_calls"`
	Turns          int       `bson:"turns"`
	DurationMS     int64     `bson:"duration_ms"`
	CreatedAt      time.Time `bson:"created_at"`
}

// Audit stores agent-run records in Mongo. A nil *Audit disables auditing;
// all methods are nil-safe.
type Audit struct {
	client *mongo.Client
	runs   *mongo.Collection
}

func NewAudit(ctx context.Context, cfg config.MongoConfig) (*Audit, error) {
	if cfg.URI == "" {
		return nil, fmt.Errorf("mongo: uri is required")
	}

	clientOpts := options.Client().ApplyURI(cfg.URI)
	if cfg.ConnectTimeout > 0 {
		clientOpts.SetServerSelectionTimeout(cfg.ConnectTimeout)
	}

	ctx, cancel := context.WithTimeout(ctx, timeoutOrDefault(cfg.ConnectTimeout))
	defer cancel()

	client, err := mongo.Connect(ctx, clientOpts)
	if err != nil {
		return nil, fmt.Errorf("mongo: connect: %w", err)
	}

	db := client.Database(cfg.Database)
	return &Audit{
		client: client,
		runs:   db.Collection("agent_runs"),
	}, nil
}

func (a *Audit) Close(ctx context.Context) error {
	if a == nil || a.client == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	return a.client.Disconnect(ctx)
}

func (a *Audit) EnsureCollections(ctx context.Context) error {
	if a == nil || a.runs == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	_, err := a.runs.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "created_at", Value: -1}},
	})
	if err != nil {
		return fmt.Errorf("mongo: ensure agent_runs index: %w", err)
	}

	return nil
}

// RecordRun inserts one run document. Failures are the caller's to log;
// auditing must never fail a chat turn.
func (a *Audit) RecordRun(ctx context.Context, run AgentRun) error {
	if a == nil || a.runs == nil {
		return nil
	}

	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now().UTC()
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if _, err := a.runs.InsertOne(ctx, run); err != nil {
		return fmt.Errorf("mongo: record agent run: %w", err)
	}
	return nil
}

func timeoutOrDefault(value time.Duration) time.Duration {
	if value > 0 {
		return value
	}
	return 10 * time.Second
}
