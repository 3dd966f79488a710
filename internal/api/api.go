package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/taskpilot/taskpilot/internal/agent"
	"github.com/taskpilot/taskpilot/internal/auth"
	"github.com/taskpilot/taskpilot/internal/models"
	"github.com/taskpilot/taskpilot/internal/store"
)

const (
	maxMessageLength = 5000
	historyLimit     = store.DefaultHistoryLimit
)

// ConversationStore is the durable conversation log the chat endpoint
// sequences its commits against.
type ConversationStore interface {
	ResolveOrCreate(ctx context.Context, conversationID *int64, userID string) (*models.Conversation, error)
	AppendMessage(ctx context.Context, conversationID int64, userID, role, content string) (*models.Message, error)
	LoadRecent(ctx context.Context, conversationID int64, userID string, limit int) ([]models.Message, error)
	Touch(ctx context.Context, conversationID int64) error
}

// TaskStore backs the task REST routes.
type TaskStore interface {
	Create(ctx context.Context, userID, title string, description *string) (*models.Task, error)
	List(ctx context.Context, userID string) ([]models.Task, error)
	Get(ctx context.Context, userID string, id int64) (*models.Task, error)
	ToggleComplete(ctx context.Context, userID string, id int64) (*models.Task, error)
	Update(ctx context.Context, userID string, id int64, title, description *string) (*models.Task, error)
	Delete(ctx context.Context, userID string, id int64) (*models.Task, error)
}

// Agent runs the reasoning loop for one chat turn.
type Agent interface {
	Run(ctx context.Context, userID string, history []agent.ChatMessage) (*agent.RunResult, error)
}

type Handler struct {
	conversations ConversationStore
	tasks         TaskStore
	agent         Agent
	audit         *store.Audit
	logger        *zap.SugaredLogger
}

func NewHandler(conversations ConversationStore, tasks TaskStore, agentRunner Agent, audit *store.Audit, logger *zap.SugaredLogger) *Handler {
	return &Handler{
		conversations: conversations,
		tasks:         tasks,
		agent:         agentRunner,
		audit:         audit,
		logger:        logger,
	}
}

func (h *Handler) RegisterRoutes(router *gin.Engine, authService *auth.Service) {
	userGroup := router.Group("/api/:user_id", RequestID(), auth.RequireUser(authService))
	userGroup.POST("/chat", h.handleChat)

	userGroup.GET("/tasks", h.handleListTasks)
	userGroup.POST("/tasks", h.handleCreateTask)
	userGroup.PATCH("/tasks/:id", h.handleUpdateTask)
	userGroup.DELETE("/tasks/:id", h.handleDeleteTask)
	userGroup.POST("/tasks/:id/complete", h.handleCompleteTask)
}

type chatRequest struct {
	Message        string `json:"message"`
	ConversationID *int64 `json:"conversation_id"`
}

type chatResponse struct {
	ConversationID int64    `json:"conversation_id"`
	Response       string   `json:"response"`
	ToolCalls      []string `json:"tool_calls"`
}

// handleChat executes one chat turn. The commit order is load-bearing:
// the user message is durably appended before the provider is consulted,
// so a provider failure never loses already-received input.
func (h *Handler) handleChat(c *gin.Context) {
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid request payload")
		return
	}

	if req.Message == "" {
		writeError(c, http.StatusBadRequest, "message is required")
		return
	}
	if len([]rune(req.Message)) > maxMessageLength {
		writeError(c, http.StatusBadRequest, "message exceeds 5000 characters")
		return
	}

	userID := auth.UserID(c)
	ctx := c.Request.Context()

	conv, err := h.conversations.ResolveOrCreate(ctx, req.ConversationID, userID)
	if err != nil {
		if errors.Is(err, store.ErrConversationNotFound) {
			writeError(c, http.StatusNotFound, "conversation not found")
			return
		}
		h.logger.Errorw("resolve conversation failed", "user_id", userID, "error", err)
		writeError(c, http.StatusInternalServerError, "something went wrong on our end, please try again")
		return
	}

	// Irrevocable from here: later failures never undo this write.
	if _, err := h.conversations.AppendMessage(ctx, conv.ID, userID, models.RoleUser, req.Message); err != nil {
		h.logger.Errorw("persist user message failed", "conversation_id", conv.ID, "error", err)
		writeError(c, http.StatusInternalServerError, "something went wrong on our end, please try again")
		return
	}

	history, err := h.conversations.LoadRecent(ctx, conv.ID, userID, historyLimit)
	if err != nil {
		h.logger.Errorw("load history failed", "conversation_id", conv.ID, "error", err)
		writeError(c, http.StatusInternalServerError, "something went wrong on our end, please try again")
		return
	}

	started := time.Now()
	result, err := h.agent.Run(ctx, userID, toAgentHistory(history))
	if err != nil {
		h.logger.Warnw("agent run failed",
			"conversation_id", conv.ID,
			"user_id", userID,
			"turn_limit", errors.Is(err, agent.ErrTurnLimit),
			"error", err,
		)
		// The user message is already durable; the client can retry the
		// same turn safely.
		writeError(c, http.StatusServiceUnavailable, "the assistant is temporarily unavailable, please retry")
		return
	}

	if _, err := h.conversations.AppendMessage(ctx, conv.ID, userID, models.RoleAssistant, result.Text); err != nil {
		h.logger.Errorw("persist assistant message failed", "conversation_id", conv.ID, "error", err)
		writeError(c, http.StatusInternalServerError, "something went wrong on our end, please try again")
		return
	}

	if err := h.conversations.Touch(ctx, conv.ID); err != nil {
		h.logger.Warnw("touch conversation failed", "conversation_id", conv.ID, "error", err)
	}

	if err := h.audit.RecordRun(ctx, store.AgentRun{
		UserID:         userID,
		ConversationID: conv.ID,
		ToolCalls:      result.ToolCalls,
		Turns:          result.Turns,
		DurationMS:     time.Since(started).Milliseconds(),
	}); err != nil {
		h.logger.Warnw("record agent run failed", "conversation_id", conv.ID, "error", err)
	}

	c.JSON(http.StatusOK, chatResponse{
		ConversationID: conv.ID,
		Response:       result.Text,
		ToolCalls:      result.ToolCalls,
	})
}

func toAgentHistory(messages []models.Message) []agent.ChatMessage {
	history := make([]agent.ChatMessage, 0, len(messages))
	for _, msg := range messages {
		history = append(history, agent.ChatMessage{Role: msg.Role, Content: msg.Content})
	}
	return history
}

func writeError(c *gin.Context, status int, message string) {
	c.JSON(status, gin.H{"error": message})
}

// RequestID tags every request with a correlation id, echoed in the
// X-Request-ID response header.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		c.Writer.Header().Set("X-Request-ID", id)
		c.Next()
	}
}
