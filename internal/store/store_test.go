package store_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/taskpilot/taskpilot/config"
	"github.com/taskpilot/taskpilot/internal/models"
	"github.com/taskpilot/taskpilot/internal/store"
)

func openTestStore(t *testing.T) *store.Postgres {
	t.Helper()

	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TEST_POSTGRES_DSN not set; skipping postgres integration test")
	}

	cfg := config.PostgresConfig{
		DSN:            dsn,
		ConnectTimeout: 5 * time.Second,
	}

	pg, err := store.NewPostgres(context.Background(), cfg)
	if err != nil {
		t.Fatalf("failed to connect to postgres: %v", err)
	}
	t.Cleanup(pg.Close)

	if err := pg.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("ensure schema failed: %v", err)
	}
	return pg
}

func testUserID() string {
	return "user_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

func TestConversationsResolveAppendLoad(t *testing.T) {
	pg := openTestStore(t)
	conversations := store.NewConversations(pg)
	ctx := context.Background()
	userID := testUserID()

	conv, err := conversations.ResolveOrCreate(ctx, nil, userID)
	if err != nil {
		t.Fatalf("failed to create conversation: %v", err)
	}
	if conv.ID == 0 || conv.UserID != userID {
		t.Fatalf("unexpected conversation: %+v", conv)
	}
	defer pg.Pool.Exec(ctx, "DELETE FROM messages WHERE conversation_id = $1", conv.ID)
	defer pg.Pool.Exec(ctx, "DELETE FROM conversations WHERE id = $1", conv.ID)

	resolved, err := conversations.ResolveOrCreate(ctx, &conv.ID, userID)
	if err != nil {
		t.Fatalf("failed to resolve existing conversation: %v", err)
	}
	if resolved.ID != conv.ID {
		t.Fatalf("expected conversation %d, got %d", conv.ID, resolved.ID)
	}

	if _, err := conversations.AppendMessage(ctx, conv.ID, userID, models.RoleUser, "add a task"); err != nil {
		t.Fatalf("failed to append user message: %v", err)
	}
	if _, err := conversations.AppendMessage(ctx, conv.ID, userID, models.RoleAssistant, "done"); err != nil {
		t.Fatalf("failed to append assistant message: %v", err)
	}

	history, err := conversations.LoadRecent(ctx, conv.ID, userID, store.DefaultHistoryLimit)
	if err != nil {
		t.Fatalf("failed to load history: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(history))
	}
	if history[0].Role != models.RoleUser || history[1].Role != models.RoleAssistant {
		t.Fatalf("history must be ordered oldest first: %s, %s", history[0].Role, history[1].Role)
	}
}

func TestConversationsOwnershipIsOpaque(t *testing.T) {
	pg := openTestStore(t)
	conversations := store.NewConversations(pg)
	ctx := context.Background()

	owner := testUserID()
	conv, err := conversations.ResolveOrCreate(ctx, nil, owner)
	if err != nil {
		t.Fatalf("failed to create conversation: %v", err)
	}
	defer pg.Pool.Exec(ctx, "DELETE FROM conversations WHERE id = $1", conv.ID)

	if _, err := conversations.ResolveOrCreate(ctx, &conv.ID, testUserID()); !errors.Is(err, store.ErrConversationNotFound) {
		t.Fatalf("expected ErrConversationNotFound for foreign conversation, got %v", err)
	}

	missing := conv.ID + 1_000_000
	if _, err := conversations.ResolveOrCreate(ctx, &missing, owner); !errors.Is(err, store.ErrConversationNotFound) {
		t.Fatalf("expected ErrConversationNotFound for unknown id, got %v", err)
	}
}

func TestLoadRecentKeepsNewestWithinLimit(t *testing.T) {
	pg := openTestStore(t)
	conversations := store.NewConversations(pg)
	ctx := context.Background()
	userID := testUserID()

	conv, err := conversations.ResolveOrCreate(ctx, nil, userID)
	if err != nil {
		t.Fatalf("failed to create conversation: %v", err)
	}
	defer pg.Pool.Exec(ctx, "DELETE FROM messages WHERE conversation_id = $1", conv.ID)
	defer pg.Pool.Exec(ctx, "DELETE FROM conversations WHERE id = $1", conv.ID)

	total := store.DefaultHistoryLimit + 5
	for i := 0; i < total; i++ {
		content := fmt.Sprintf("message %d", i)
		if _, err := conversations.AppendMessage(ctx, conv.ID, userID, models.RoleUser, content); err != nil {
			t.Fatalf("failed to append message %d: %v", i, err)
		}
	}

	history, err := conversations.LoadRecent(ctx, conv.ID, userID, store.DefaultHistoryLimit)
	if err != nil {
		t.Fatalf("failed to load history: %v", err)
	}
	if len(history) != store.DefaultHistoryLimit {
		t.Fatalf("expected %d messages, got %d", store.DefaultHistoryLimit, len(history))
	}

	// The oldest 5 messages fall off; the window starts at message 5.
	if history[0].Content != "message 5" {
		t.Fatalf("expected window to start at 'message 5', got %q", history[0].Content)
	}
	if last := history[len(history)-1].Content; last != fmt.Sprintf("message %d", total-1) {
		t.Fatalf("expected newest message last, got %q", last)
	}
}

func TestTasksLifecycle(t *testing.T) {
	pg := openTestStore(t)
	tasks := store.NewTasks(pg)
	ctx := context.Background()
	userID := testUserID()

	desc := "with a description"
	task, err := tasks.Create(ctx, userID, "buy groceries", &desc)
	if err != nil {
		t.Fatalf("failed to create task: %v", err)
	}
	defer pg.Pool.Exec(ctx, "DELETE FROM tasks WHERE user_id = $1", userID)

	if task.Completed {
		t.Fatalf("new tasks must start pending")
	}

	toggled, err := tasks.ToggleComplete(ctx, userID, task.ID)
	if err != nil {
		t.Fatalf("failed to toggle task: %v", err)
	}
	if !toggled.Completed {
		t.Fatalf("expected task completed after toggle")
	}

	toggled, err = tasks.ToggleComplete(ctx, userID, task.ID)
	if err != nil {
		t.Fatalf("failed to toggle task back: %v", err)
	}
	if toggled.Completed {
		t.Fatalf("expected task pending after second toggle")
	}

	newTitle := "buy groceries and cook"
	updated, err := tasks.Update(ctx, userID, task.ID, &newTitle, nil)
	if err != nil {
		t.Fatalf("failed to update task: %v", err)
	}
	if updated.Title != newTitle {
		t.Fatalf("expected updated title, got %q", updated.Title)
	}
	if updated.Description == nil || *updated.Description != desc {
		t.Fatalf("partial update must keep the description, got %v", updated.Description)
	}

	listed, err := tasks.List(ctx, userID)
	if err != nil {
		t.Fatalf("failed to list tasks: %v", err)
	}
	if len(listed) != 1 {
		t.Fatalf("expected 1 task, got %d", len(listed))
	}

	deleted, err := tasks.Delete(ctx, userID, task.ID)
	if err != nil {
		t.Fatalf("failed to delete task: %v", err)
	}
	if deleted.ID != task.ID {
		t.Fatalf("delete must return the removed task")
	}

	if _, err := tasks.Get(ctx, userID, task.ID); !errors.Is(err, store.ErrTaskNotFound) {
		t.Fatalf("expected ErrTaskNotFound after delete, got %v", err)
	}
}

func TestTasksCrossUserIsolation(t *testing.T) {
	pg := openTestStore(t)
	tasks := store.NewTasks(pg)
	ctx := context.Background()

	owner := testUserID()
	task, err := tasks.Create(ctx, owner, "private task", nil)
	if err != nil {
		t.Fatalf("failed to create task: %v", err)
	}
	defer pg.Pool.Exec(ctx, "DELETE FROM tasks WHERE user_id = $1", owner)

	other := testUserID()
	if _, err := tasks.Get(ctx, other, task.ID); !errors.Is(err, store.ErrTaskNotFound) {
		t.Fatalf("expected ErrTaskNotFound for foreign get, got %v", err)
	}
	if _, err := tasks.ToggleComplete(ctx, other, task.ID); !errors.Is(err, store.ErrTaskNotFound) {
		t.Fatalf("expected ErrTaskNotFound for foreign toggle, got %v", err)
	}
	if _, err := tasks.Delete(ctx, other, task.ID); !errors.Is(err, store.ErrTaskNotFound) {
		t.Fatalf("expected ErrTaskNotFound for foreign delete, got %v", err)
	}

	listed, err := tasks.List(ctx, other)
	if err != nil {
		t.Fatalf("failed to list tasks: %v", err)
	}
	if len(listed) != 0 {
		t.Fatalf("foreign user must see no tasks, got %d", len(listed))
	}
}

func TestTasksValidation(t *testing.T) {
	pg := openTestStore(t)
	tasks := store.NewTasks(pg)
	ctx := context.Background()
	userID := testUserID()
	defer pg.Pool.Exec(ctx, "DELETE FROM tasks WHERE user_id = $1", userID)

	if _, err := tasks.Create(ctx, userID, "", nil); !errors.Is(err, store.ErrTaskInvalid) {
		t.Fatalf("expected ErrTaskInvalid for empty title, got %v", err)
	}

	long := strings.Repeat("a", 201)
	if _, err := tasks.Create(ctx, userID, long, nil); !errors.Is(err, store.ErrTaskInvalid) {
		t.Fatalf("expected ErrTaskInvalid for oversized title, got %v", err)
	}

	task, err := tasks.Create(ctx, userID, "valid", nil)
	if err != nil {
		t.Fatalf("failed to create task: %v", err)
	}

	if _, err := tasks.Update(ctx, userID, task.ID, nil, nil); !errors.Is(err, store.ErrTaskInvalid) {
		t.Fatalf("expected ErrTaskInvalid for empty update, got %v", err)
	}
}
