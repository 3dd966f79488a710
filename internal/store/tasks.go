package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/taskpilot/taskpilot/internal/models"
)

var (
	// ErrTaskNotFound covers a missing task and a task owned by another
	// user, indistinguishably.
	ErrTaskNotFound = errors.New("store: task not found")
	// ErrTaskInvalid marks field-validation failures. Callers inspect it
	// with errors.Is; the wrapped message carries the field detail.
	ErrTaskInvalid = errors.New("store: invalid task")
)

const (
	maxTaskTitleLength       = 200
	maxTaskDescriptionLength = 2000
)

// Tasks is the user-scoped task CRUD store consumed by both the tool
// gateway and the task REST routes.
type Tasks struct {
	pool *pgxpool.Pool
}

func NewTasks(pg *Postgres) *Tasks {
	return &Tasks{pool: pg.Pool}
}

const taskColumns = "id, user_id, title, description, completed, created_at, updated_at"

func (s *Tasks) Create(ctx context.Context, userID, title string, description *string) (*models.Task, error) {
	if err := validateTaskFields(&title, description); err != nil {
		return nil, err
	}

	const insert = `
        INSERT INTO tasks (user_id, title, description)
        VALUES ($1, $2, $3)
        RETURNING ` + taskColumns

	var task models.Task
	if err := s.pool.QueryRow(ctx, insert, userID, title, description).Scan(taskDest(&task)...); err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}
	return &task, nil
}

// List returns all of the user's tasks, newest first.
func (s *Tasks) List(ctx context.Context, userID string) ([]models.Task, error) {
	const query = `SELECT ` + taskColumns + ` FROM tasks WHERE user_id = $1 ORDER BY created_at DESC, id DESC`

	rows, err := s.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	tasks := make([]models.Task, 0)
	for rows.Next() {
		var task models.Task
		if err := rows.Scan(taskDest(&task)...); err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tasks: %w", err)
	}

	return tasks, nil
}

func (s *Tasks) Get(ctx context.Context, userID string, id int64) (*models.Task, error) {
	const query = `SELECT ` + taskColumns + ` FROM tasks WHERE id = $1 AND user_id = $2`

	var task models.Task
	if err := s.pool.QueryRow(ctx, query, id, userID).Scan(taskDest(&task)...); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTaskNotFound
		}
		return nil, fmt.Errorf("fetch task: %w", err)
	}
	return &task, nil
}

// ToggleComplete flips the task's completion state and returns the updated
// row.
func (s *Tasks) ToggleComplete(ctx context.Context, userID string, id int64) (*models.Task, error) {
	const update = `
        UPDATE tasks SET completed = NOT completed, updated_at = NOW()
        WHERE id = $1 AND user_id = $2
        RETURNING ` + taskColumns

	var task models.Task
	if err := s.pool.QueryRow(ctx, update, id, userID).Scan(taskDest(&task)...); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTaskNotFound
		}
		return nil, fmt.Errorf("toggle task: %w", err)
	}
	return &task, nil
}

// Update changes title and/or description. At least one field must be
// supplied.
func (s *Tasks) Update(ctx context.Context, userID string, id int64, title, description *string) (*models.Task, error) {
	if title == nil && description == nil {
		return nil, fmt.Errorf("%w: at least one of title or description is required", ErrTaskInvalid)
	}
	if err := validateTaskFields(title, description); err != nil {
		return nil, err
	}

	const update = `
        UPDATE tasks SET
            title = COALESCE($3, title),
            description = COALESCE($4, description),
            updated_at = NOW()
        WHERE id = $1 AND user_id = $2
        RETURNING ` + taskColumns

	var task models.Task
	if err := s.pool.QueryRow(ctx, update, id, userID, title, description).Scan(taskDest(&task)...); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTaskNotFound
		}
		return nil, fmt.Errorf("update task: %w", err)
	}
	return &task, nil
}

func (s *Tasks) Delete(ctx context.Context, userID string, id int64) (*models.Task, error) {
	const del = `DELETE FROM tasks WHERE id = $1 AND user_id = $2 RETURNING ` + taskColumns

	var task models.Task
	if err := s.pool.QueryRow(ctx, del, id, userID).Scan(taskDest(&task)...); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTaskNotFound
		}
		return nil, fmt.Errorf("delete task: %w", err)
	}
	return &task, nil
}

func taskDest(task *models.Task) []any {
	return []any{&task.ID, &task.UserID, &task.Title, &task.Description, &task.Completed, &task.CreatedAt, &task.UpdatedAt}
}

func validateTaskFields(title, description *string) error {
	if title != nil {
		trimmed := strings.TrimSpace(*title)
		if trimmed == "" {
			return fmt.Errorf("%w: title is required", ErrTaskInvalid)
		}
		if utf8.RuneCountInString(trimmed) > maxTaskTitleLength {
			return fmt.Errorf("%w: title exceeds %d characters", ErrTaskInvalid, maxTaskTitleLength)
		}
		*title = trimmed
	}
	if description != nil && utf8.RuneCountInString(*description) > maxTaskDescriptionLength {
		return fmt.Errorf("%w: description exceeds %d characters", ErrTaskInvalid, maxTaskDescriptionLength)
	}
	return nil
}
