package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/taskpilot/taskpilot/internal/models"
	"github.com/taskpilot/taskpilot/internal/store"
)

type fakeTaskStore struct {
	nextID int64
	tasks  map[int64]*models.Task

	lastUserID string
	failWith   error
}

func newFakeTaskStore() *fakeTaskStore {
	return &fakeTaskStore{tasks: make(map[int64]*models.Task)}
}

func (f *fakeTaskStore) Create(_ context.Context, userID, title string, description *string) (*models.Task, error) {
	f.lastUserID = userID
	if f.failWith != nil {
		return nil, f.failWith
	}
	if strings.TrimSpace(title) == "" {
		return nil, fmt.Errorf("%w: title is required", store.ErrTaskInvalid)
	}
	f.nextID++
	task := &models.Task{ID: f.nextID, UserID: userID, Title: title, Description: description}
	f.tasks[task.ID] = task
	return task, nil
}

func (f *fakeTaskStore) List(_ context.Context, userID string) ([]models.Task, error) {
	f.lastUserID = userID
	if f.failWith != nil {
		return nil, f.failWith
	}
	result := make([]models.Task, 0, len(f.tasks))
	for id := int64(1); id <= f.nextID; id++ {
		if task, ok := f.tasks[id]; ok && task.UserID == userID {
			result = append(result, *task)
		}
	}
	return result, nil
}

func (f *fakeTaskStore) ToggleComplete(_ context.Context, userID string, id int64) (*models.Task, error) {
	f.lastUserID = userID
	task, ok := f.tasks[id]
	if !ok || task.UserID != userID {
		return nil, store.ErrTaskNotFound
	}
	task.Completed = !task.Completed
	return task, nil
}

func (f *fakeTaskStore) Update(_ context.Context, userID string, id int64, title, description *string) (*models.Task, error) {
	f.lastUserID = userID
	task, ok := f.tasks[id]
	if !ok || task.UserID != userID {
		return nil, store.ErrTaskNotFound
	}
	if title != nil {
		task.Title = *title
	}
	if description != nil {
		task.Description = description
	}
	return task, nil
}

func (f *fakeTaskStore) Delete(_ context.Context, userID string, id int64) (*models.Task, error) {
	f.lastUserID = userID
	task, ok := f.tasks[id]
	if !ok || task.UserID != userID {
		return nil, store.ErrTaskNotFound
	}
	delete(f.tasks, id)
	return task, nil
}

func newTestGateway(tasks TaskStore) *Gateway {
	return NewGateway(tasks, zap.NewNop().Sugar())
}

func TestGatewayAddTask(t *testing.T) {
	tasks := newFakeTaskStore()
	gateway := newTestGateway(tasks)

	result, err := gateway.Invoke(context.Background(), "user-1", "add_task", json.RawMessage(`{"title": "Buy milk"}`))
	if err != nil {
		t.Fatalf("invoke returned error: %v", err)
	}
	if result.IsError {
		t.Fatalf("expected success, got error text: %s", result.Text)
	}
	if !strings.Contains(result.Text, "Buy milk") || !strings.Contains(result.Text, "ID: 1") {
		t.Fatalf("unexpected confirmation text: %s", result.Text)
	}
	if tasks.lastUserID != "user-1" {
		t.Fatalf("expected store scoped to user-1, got %q", tasks.lastUserID)
	}
}

func TestGatewayIgnoresUserIDInArguments(t *testing.T) {
	tasks := newFakeTaskStore()
	gateway := newTestGateway(tasks)

	// A user id smuggled into the arguments must never override the
	// verified identity.
	args := json.RawMessage(`{"title": "Sneaky", "user_id": "user-2"}`)
	if _, err := gateway.Invoke(context.Background(), "user-1", "add_task", args); err != nil {
		t.Fatalf("invoke returned error: %v", err)
	}
	if tasks.lastUserID != "user-1" {
		t.Fatalf("expected verified user-1, store saw %q", tasks.lastUserID)
	}
}

func TestGatewayListTasks(t *testing.T) {
	tasks := newFakeTaskStore()
	gateway := newTestGateway(tasks)
	ctx := context.Background()

	result, err := gateway.Invoke(ctx, "user-1", "list_tasks", json.RawMessage(`{}`))
	if err != nil {
		t.Fatalf("invoke returned error: %v", err)
	}
	if result.Text != "You have no tasks." {
		t.Fatalf("expected empty-list text, got: %s", result.Text)
	}

	if _, err := tasks.Create(ctx, "user-1", "Buy milk", nil); err != nil {
		t.Fatalf("seed task: %v", err)
	}
	if _, err := tasks.Create(ctx, "user-1", "Walk dog", nil); err != nil {
		t.Fatalf("seed task: %v", err)
	}
	if _, err := tasks.ToggleComplete(ctx, "user-1", 2); err != nil {
		t.Fatalf("seed toggle: %v", err)
	}

	result, err = gateway.Invoke(ctx, "user-1", "list_tasks", json.RawMessage(`{}`))
	if err != nil {
		t.Fatalf("invoke returned error: %v", err)
	}
	if !strings.Contains(result.Text, "2 total") {
		t.Fatalf("expected 2 tasks listed, got: %s", result.Text)
	}
	if !strings.Contains(result.Text, "[1] Buy milk (pending)") || !strings.Contains(result.Text, "[2] Walk dog (done)") {
		t.Fatalf("unexpected list rendering: %s", result.Text)
	}

	result, err = gateway.Invoke(ctx, "user-1", "list_tasks", json.RawMessage(`{"status": "completed"}`))
	if err != nil {
		t.Fatalf("invoke returned error: %v", err)
	}
	if strings.Contains(result.Text, "Buy milk") || !strings.Contains(result.Text, "Walk dog") {
		t.Fatalf("status filter not applied: %s", result.Text)
	}
}

func TestGatewayCompleteTaskNotFound(t *testing.T) {
	gateway := newTestGateway(newFakeTaskStore())

	result, err := gateway.Invoke(context.Background(), "user-1", "complete_task", json.RawMessage(`{"task_id": 999}`))
	if err != nil {
		t.Fatalf("domain failure must not surface as error, got: %v", err)
	}
	if !result.IsError {
		t.Fatalf("expected IsError for missing task")
	}
	if !strings.Contains(result.Text, "couldn't find") {
		t.Fatalf("expected friendly not-found text, got: %s", result.Text)
	}
}

func TestGatewayUpdateAndDelete(t *testing.T) {
	tasks := newFakeTaskStore()
	gateway := newTestGateway(tasks)
	ctx := context.Background()

	if _, err := tasks.Create(ctx, "user-1", "Old title", nil); err != nil {
		t.Fatalf("seed task: %v", err)
	}

	result, err := gateway.Invoke(ctx, "user-1", "update_task", json.RawMessage(`{"task_id": 1, "title": "New title"}`))
	if err != nil {
		t.Fatalf("invoke returned error: %v", err)
	}
	if !strings.Contains(result.Text, "New title") {
		t.Fatalf("expected updated title in confirmation, got: %s", result.Text)
	}

	result, err = gateway.Invoke(ctx, "user-1", "delete_task", json.RawMessage(`{"task_id": 1}`))
	if err != nil {
		t.Fatalf("invoke returned error: %v", err)
	}
	if !strings.Contains(result.Text, "Deleted task 'New title' (ID: 1)") {
		t.Fatalf("unexpected delete confirmation: %s", result.Text)
	}
	if len(tasks.tasks) != 0 {
		t.Fatalf("expected task deleted from store")
	}
}

func TestGatewayCrossUserTaskInvisible(t *testing.T) {
	tasks := newFakeTaskStore()
	gateway := newTestGateway(tasks)
	ctx := context.Background()

	if _, err := tasks.Create(ctx, "user-a", "Private", nil); err != nil {
		t.Fatalf("seed task: %v", err)
	}

	result, err := gateway.Invoke(ctx, "user-b", "delete_task", json.RawMessage(`{"task_id": 1}`))
	if err != nil {
		t.Fatalf("invoke returned error: %v", err)
	}
	if !result.IsError {
		t.Fatalf("expected not-found for foreign task")
	}
}

func TestGatewayUnknownTool(t *testing.T) {
	gateway := newTestGateway(newFakeTaskStore())

	result, err := gateway.Invoke(context.Background(), "user-1", "drop_database", nil)
	if err != nil {
		t.Fatalf("unknown tool must not surface as error, got: %v", err)
	}
	if !result.IsError {
		t.Fatalf("expected IsError for unknown tool")
	}
}

func TestGatewayMalformedArguments(t *testing.T) {
	gateway := newTestGateway(newFakeTaskStore())

	result, err := gateway.Invoke(context.Background(), "user-1", "add_task", json.RawMessage(`{"title": 42`))
	if err != nil {
		t.Fatalf("malformed args must not surface as error, got: %v", err)
	}
	if !result.IsError {
		t.Fatalf("expected IsError for malformed arguments")
	}
}

func TestGatewayInfrastructureErrorPropagates(t *testing.T) {
	tasks := newFakeTaskStore()
	tasks.failWith = errors.New("connection refused")
	gateway := newTestGateway(tasks)

	_, err := gateway.Invoke(context.Background(), "user-1", "add_task", json.RawMessage(`{"title": "Buy milk"}`))
	if err == nil {
		t.Fatalf("expected infrastructure error to propagate")
	}
}

func TestGatewayDefinitionsCoverAllTools(t *testing.T) {
	gateway := newTestGateway(newFakeTaskStore())

	defs := gateway.Definitions()
	if len(defs) != 5 {
		t.Fatalf("expected 5 tool definitions, got %d", len(defs))
	}

	for _, def := range defs {
		if _, ok := gateway.handlers[def.Name]; !ok {
			t.Fatalf("definition %q has no handler", def.Name)
		}
		var schema map[string]any
		if err := json.Unmarshal(def.Parameters, &schema); err != nil {
			t.Fatalf("definition %q has invalid parameter schema: %v", def.Name, err)
		}
	}
}
