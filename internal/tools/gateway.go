package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/taskpilot/taskpilot/internal/models"
	"github.com/taskpilot/taskpilot/internal/store"
)

// Result is the outcome of one tool invocation, already rendered as text
// for the reasoning provider. IsError marks expected domain failures (task
// not found, bad arguments); those never propagate as Go errors.
type Result struct {
	Text    string
	IsError bool
}

// Definition describes one tool in the wire format expected by
// OpenAI-compatible providers.
type Definition struct {
	Name        string
	Description string
	Parameters  json.RawMessage
}

// TaskStore is the external task collaborator, always invoked with the
// verified user identity.
type TaskStore interface {
	Create(ctx context.Context, userID, title string, description *string) (*models.Task, error)
	List(ctx context.Context, userID string) ([]models.Task, error)
	ToggleComplete(ctx context.Context, userID string, id int64) (*models.Task, error)
	Update(ctx context.Context, userID string, id int64, title, description *string) (*models.Task, error)
	Delete(ctx context.Context, userID string, id int64) (*models.Task, error)
}

type handlerFunc func(ctx context.Context, userID string, args json.RawMessage) (Result, error)

// Gateway maps named tool invocations onto the task store. The tool set is
// a closed table: adding a tool means adding an entry here and nowhere else.
type Gateway struct {
	tasks       TaskStore
	logger      *zap.SugaredLogger
	handlers    map[string]handlerFunc
	definitions []Definition
}

func NewGateway(tasks TaskStore, logger *zap.SugaredLogger) *Gateway {
	g := &Gateway{tasks: tasks, logger: logger}
	g.handlers = map[string]handlerFunc{
		"add_task":      g.addTask,
		"list_tasks":    g.listTasks,
		"complete_task": g.completeTask,
		"update_task":   g.updateTask,
		"delete_task":   g.deleteTask,
	}
	g.definitions = []Definition{
		{
			Name: "add_task",
			Description: "Create a new task for the current user. Use when the user wants to add, " +
				"create, or remember a task. Returns the created task ID and title.",
			Parameters: json.RawMessage(`{
				"type": "object",
				"properties": {
					"title": {"type": "string", "description": "Short task title (1-200 characters)"},
					"description": {"type": "string", "description": "Optional longer description"}
				},
				"required": ["title"]
			}`),
		},
		{
			Name: "list_tasks",
			Description: "List the current user's tasks. Use when the user asks to see, show, or " +
				"list their tasks. status can be 'all', 'pending', or 'completed'.",
			Parameters: json.RawMessage(`{
				"type": "object",
				"properties": {
					"status": {"type": "string", "enum": ["all", "pending", "completed"]}
				}
			}`),
		},
		{
			Name: "complete_task",
			Description: "Toggle completion status of a task. Use when the user wants to mark a task " +
				"as done, complete, or finished, or to undo completion.",
			Parameters: json.RawMessage(`{
				"type": "object",
				"properties": {
					"task_id": {"type": "integer", "description": "Numeric ID of the task"}
				},
				"required": ["task_id"]
			}`),
		},
		{
			Name: "update_task",
			Description: "Update a task's title or description. Use when the user wants to change, " +
				"rename, or edit an existing task. Provide at least one of title or description.",
			Parameters: json.RawMessage(`{
				"type": "object",
				"properties": {
					"task_id": {"type": "integer", "description": "Numeric ID of the task"},
					"title": {"type": "string"},
					"description": {"type": "string"}
				},
				"required": ["task_id"]
			}`),
		},
		{
			Name: "delete_task",
			Description: "Permanently delete a task. Use when the user wants to remove or delete a " +
				"task. This action cannot be undone.",
			Parameters: json.RawMessage(`{
				"type": "object",
				"properties": {
					"task_id": {"type": "integer", "description": "Numeric ID of the task"}
				},
				"required": ["task_id"]
			}`),
		},
	}
	return g
}

// Definitions returns the tool schemas in registration order.
func (g *Gateway) Definitions() []Definition {
	return g.definitions
}

// Invoke dispatches one tool call scoped to userID. Domain failures come
// back as Result{IsError: true}; only infrastructure failures (store
// unreachable) return a non-nil error.
func (g *Gateway) Invoke(ctx context.Context, userID, name string, args json.RawMessage) (Result, error) {
	handler, ok := g.handlers[name]
	if !ok {
		return Result{Text: fmt.Sprintf("Unknown tool: %s", name), IsError: true}, nil
	}

	result, err := handler(ctx, userID, args)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrTaskNotFound), errors.Is(err, store.ErrTaskInvalid):
			return Result{Text: friendlyDomainError(name, err), IsError: true}, nil
		default:
			return Result{}, fmt.Errorf("tool %s: %w", name, err)
		}
	}

	g.logger.Infow("tool invoked", "tool", name, "user_id", userID, "is_error", result.IsError)
	return result, nil
}

type addTaskArgs struct {
	Title       string  `json:"title"`
	Description *string `json:"description"`
}

func (g *Gateway) addTask(ctx context.Context, userID string, args json.RawMessage) (Result, error) {
	var params addTaskArgs
	if err := json.Unmarshal(args, &params); err != nil {
		return badArguments("add_task", err), nil
	}

	task, err := g.tasks.Create(ctx, userID, params.Title, params.Description)
	if err != nil {
		return Result{}, err
	}

	return Result{Text: fmt.Sprintf("Created task: '%s' (ID: %d)", task.Title, task.ID)}, nil
}

type listTasksArgs struct {
	Status string `json:"status"`
}

func (g *Gateway) listTasks(ctx context.Context, userID string, args json.RawMessage) (Result, error) {
	var params listTasksArgs
	if len(args) > 0 {
		if err := json.Unmarshal(args, &params); err != nil {
			return badArguments("list_tasks", err), nil
		}
	}

	tasks, err := g.tasks.List(ctx, userID)
	if err != nil {
		return Result{}, err
	}

	filtered := filterByStatus(tasks, params.Status)
	if len(filtered) == 0 {
		return Result{Text: "You have no tasks."}, nil
	}

	var builder strings.Builder
	fmt.Fprintf(&builder, "Your tasks (%d total):", len(filtered))
	for _, task := range filtered {
		state := "pending"
		if task.Completed {
			state = "done"
		}
		fmt.Fprintf(&builder, "\n- [%d] %s (%s)", task.ID, task.Title, state)
	}
	return Result{Text: builder.String()}, nil
}

type taskIDArgs struct {
	TaskID int64 `json:"task_id"`
}

func (g *Gateway) completeTask(ctx context.Context, userID string, args json.RawMessage) (Result, error) {
	var params taskIDArgs
	if err := json.Unmarshal(args, &params); err != nil {
		return badArguments("complete_task", err), nil
	}

	task, err := g.tasks.ToggleComplete(ctx, userID, params.TaskID)
	if err != nil {
		return Result{}, err
	}

	state := "marked pending"
	if task.Completed {
		state = "completed"
	}
	return Result{Text: fmt.Sprintf("Task '%s' (ID: %d) %s.", task.Title, task.ID, state)}, nil
}

type updateTaskArgs struct {
	TaskID      int64   `json:"task_id"`
	Title       *string `json:"title"`
	Description *string `json:"description"`
}

func (g *Gateway) updateTask(ctx context.Context, userID string, args json.RawMessage) (Result, error) {
	var params updateTaskArgs
	if err := json.Unmarshal(args, &params); err != nil {
		return badArguments("update_task", err), nil
	}

	task, err := g.tasks.Update(ctx, userID, params.TaskID, params.Title, params.Description)
	if err != nil {
		return Result{}, err
	}

	return Result{Text: fmt.Sprintf("Updated task (ID: %d): new title '%s'.", task.ID, task.Title)}, nil
}

func (g *Gateway) deleteTask(ctx context.Context, userID string, args json.RawMessage) (Result, error) {
	var params taskIDArgs
	if err := json.Unmarshal(args, &params); err != nil {
		return badArguments("delete_task", err), nil
	}

	task, err := g.tasks.Delete(ctx, userID, params.TaskID)
	if err != nil {
		return Result{}, err
	}

	return Result{Text: fmt.Sprintf("Deleted task '%s' (ID: %d).", task.Title, task.ID)}, nil
}

func filterByStatus(tasks []models.Task, status string) []models.Task {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "pending":
		return keepTasks(tasks, false)
	case "completed":
		return keepTasks(tasks, true)
	default:
		return tasks
	}
}

func keepTasks(tasks []models.Task, completed bool) []models.Task {
	result := make([]models.Task, 0, len(tasks))
	for _, task := range tasks {
		if task.Completed == completed {
			result = append(result, task)
		}
	}
	return result
}

func badArguments(tool string, err error) Result {
	return Result{Text: fmt.Sprintf("Invalid arguments for %s: %v", tool, err), IsError: true}
}

func friendlyDomainError(tool string, err error) string {
	if errors.Is(err, store.ErrTaskNotFound) {
		return "I couldn't find that task. It may have been deleted, or the ID might be wrong."
	}
	return fmt.Sprintf("The %s request was invalid: %v", tool, err)
}
