package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/taskpilot/taskpilot/internal/auth"
	"github.com/taskpilot/taskpilot/internal/store"
)

type createTaskRequest struct {
	Title       string  `json:"title"`
	Description *string `json:"description"`
}

type updateTaskRequest struct {
	Title       *string `json:"title"`
	Description *string `json:"description"`
}

func (h *Handler) handleListTasks(c *gin.Context) {
	tasks, err := h.tasks.List(c.Request.Context(), auth.UserID(c))
	if err != nil {
		h.logger.Errorw("list tasks failed", "error", err)
		writeError(c, http.StatusInternalServerError, "failed to list tasks")
		return
	}
	c.JSON(http.StatusOK, gin.H{"tasks": tasks, "total": len(tasks)})
}

func (h *Handler) handleCreateTask(c *gin.Context) {
	var req createTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid request payload")
		return
	}

	task, err := h.tasks.Create(c.Request.Context(), auth.UserID(c), req.Title, req.Description)
	if err != nil {
		h.writeTaskError(c, "create task", err)
		return
	}
	c.JSON(http.StatusCreated, task)
}

func (h *Handler) handleUpdateTask(c *gin.Context) {
	id, ok := taskIDParam(c)
	if !ok {
		return
	}

	var req updateTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid request payload")
		return
	}

	task, err := h.tasks.Update(c.Request.Context(), auth.UserID(c), id, req.Title, req.Description)
	if err != nil {
		h.writeTaskError(c, "update task", err)
		return
	}
	c.JSON(http.StatusOK, task)
}

func (h *Handler) handleCompleteTask(c *gin.Context) {
	id, ok := taskIDParam(c)
	if !ok {
		return
	}

	task, err := h.tasks.ToggleComplete(c.Request.Context(), auth.UserID(c), id)
	if err != nil {
		h.writeTaskError(c, "complete task", err)
		return
	}
	c.JSON(http.StatusOK, task)
}

func (h *Handler) handleDeleteTask(c *gin.Context) {
	id, ok := taskIDParam(c)
	if !ok {
		return
	}

	if _, err := h.tasks.Delete(c.Request.Context(), auth.UserID(c), id); err != nil {
		h.writeTaskError(c, "delete task", err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) writeTaskError(c *gin.Context, operation string, err error) {
	switch {
	case errors.Is(err, store.ErrTaskNotFound):
		writeError(c, http.StatusNotFound, "task not found")
	case errors.Is(err, store.ErrTaskInvalid):
		writeError(c, http.StatusBadRequest, err.Error())
	default:
		h.logger.Errorw(operation+" failed", "error", err)
		writeError(c, http.StatusInternalServerError, "failed to "+operation)
	}
}

func taskIDParam(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		writeError(c, http.StatusBadRequest, "invalid task id")
		return 0, false
	}
	return id, true
}
