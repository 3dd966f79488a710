package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/taskpilot/taskpilot/config"
	"github.com/taskpilot/taskpilot/internal/tools"
)

const defaultProviderTimeout = 60 * time.Second

// ToolCall is one tool invocation requested by the provider.
type ToolCall struct {
	ID        string
	Name      string
	Arguments json.RawMessage
}

// ChatMessage is one entry in the provider conversation. ToolCallID is set
// only on role "tool" messages and ties the result back to the request.
type ChatMessage struct {
	Role       string
	Content    string
	ToolCalls  []ToolCall
	ToolCallID string
}

// Provider is the external reasoning backend: one call returns either a
// final textual answer or one or more tool-call requests, or fails.
type Provider interface {
	Complete(ctx context.Context, messages []ChatMessage, toolDefs []tools.Definition) (*ChatMessage, error)
}

type httpDoer interface {
	Do(*http.Request) (*http.Response, error)
}

// Client talks to an OpenAI-compatible chat completions endpoint with
// function-calling enabled.
type Client struct {
	baseURL string
	apiKey  string
	model   string
	timeout time.Duration
	client  httpDoer
}

func NewClient(cfg config.LLMConfig) *Client {
	base := strings.TrimRight(cfg.Endpoint, "/")
	if base == "" {
		base = "https://openrouter.ai/api/v1"
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultProviderTimeout
	}

	return &Client{
		baseURL: base,
		apiKey:  cfg.APIKey,
		model:   strings.TrimSpace(cfg.Model),
		timeout: timeout,
		client:  &http.Client{Timeout: timeout},
	}
}

// Complete performs one chat completion round-trip. The call is bounded by
// the configured deadline; a timeout is indistinguishable from any other
// provider failure to the caller.
func (c *Client) Complete(ctx context.Context, messages []ChatMessage, toolDefs []tools.Definition) (*ChatMessage, error) {
	payload := completionRequest{
		Model:    c.model,
		Messages: encodeMessages(messages),
		Tools:    encodeToolDefs(toolDefs),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal completion payload: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	endpoint := c.baseURL + "/chat/completions"
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create completion request: %w", err)
	}

	request.Header.Set("Authorization", "Bearer "+c.apiKey)
	request.Header.Set("Content-Type", "application/json")

	response, err := c.client.Do(request)
	if err != nil {
		return nil, fmt.Errorf("call completion api: %w", err)
	}
	defer response.Body.Close()

	respBody, err := io.ReadAll(response.Body)
	if err != nil {
		return nil, fmt.Errorf("read completion response: %w", err)
	}

	if response.StatusCode < 200 || response.StatusCode >= 300 {
		return nil, buildProviderAPIError(response.StatusCode, respBody)
	}

	var apiResp completionResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return nil, fmt.Errorf("decode completion response: %w", err)
	}

	if apiResp.Error != nil && apiResp.Error.Message != "" {
		return nil, fmt.Errorf("provider error: %s", apiResp.Error.Message)
	}

	if len(apiResp.Choices) == 0 {
		return nil, fmt.Errorf("completion response contained no choices")
	}

	return decodeMessage(apiResp.Choices[0].Message)
}

type wireMessage struct {
	Role       string         `json:"role"`
	Content    string         `json:"content"`
	ToolCalls  []wireToolCall `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
}

type wireToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function wireFunction `json:"function"`
}

type wireFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type wireToolDef struct {
	Type     string      `json:"type"`
	Function wireFuncDef `json:"function"`
}

type wireFuncDef struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

type completionRequest struct {
	Model    string        `json:"model"`
	Messages []wireMessage `json:"messages"`
	Tools    []wireToolDef `json:"tools,omitempty"`
}

type completionChoice struct {
	Index        int         `json:"index"`
	Message      wireMessage `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

type providerAPIError struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

type completionResponse struct {
	ID      string             `json:"id"`
	Object  string             `json:"object"`
	Created int64              `json:"created"`
	Choices []completionChoice `json:"choices"`
	Error   *providerAPIError  `json:"error,omitempty"`
}

func encodeMessages(messages []ChatMessage) []wireMessage {
	result := make([]wireMessage, 0, len(messages))
	for _, msg := range messages {
		wire := wireMessage{
			Role:       msg.Role,
			Content:    msg.Content,
			ToolCallID: msg.ToolCallID,
		}
		for _, call := range msg.ToolCalls {
			wire.ToolCalls = append(wire.ToolCalls, wireToolCall{
				ID:   call.ID,
				Type: "function",
				Function: wireFunction{
					Name:      call.Name,
					Arguments: string(call.Arguments),
				},
			})
		}
		result = append(result, wire)
	}
	return result
}

func encodeToolDefs(defs []tools.Definition) []wireToolDef {
	result := make([]wireToolDef, 0, len(defs))
	for _, def := range defs {
		result = append(result, wireToolDef{
			Type: "function",
			Function: wireFuncDef{
				Name:        def.Name,
				Description: def.Description,
				Parameters:  def.Parameters,
			},
		})
	}
	return result
}

func decodeMessage(wire wireMessage) (*ChatMessage, error) {
	msg := &ChatMessage{
		Role:    wire.Role,
		Content: wire.Content,
	}
	if strings.TrimSpace(msg.Role) == "" {
		msg.Role = "assistant"
	}

	for _, call := range wire.ToolCalls {
		args := strings.TrimSpace(call.Function.Arguments)
		if args == "" {
			args = "{}"
		}
		msg.ToolCalls = append(msg.ToolCalls, ToolCall{
			ID:        call.ID,
			Name:      call.Function.Name,
			Arguments: json.RawMessage(args),
		})
	}

	return msg, nil
}

type providerErrorEnvelope struct {
	Error *providerAPIError `json:"error,omitempty"`
}

func decodeProviderError(body []byte) *providerAPIError {
	if len(body) == 0 {
		return nil
	}

	var envelope providerErrorEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil
	}

	if envelope.Error == nil {
		return nil
	}

	envelope.Error.Message = strings.TrimSpace(envelope.Error.Message)
	return envelope.Error
}

func buildProviderAPIError(statusCode int, body []byte) error {
	if apiErr := decodeProviderError(body); apiErr != nil {
		if apiErr.Code != "" && apiErr.Message != "" {
			return fmt.Errorf("provider api error (%d, %s): %s", statusCode, apiErr.Code, apiErr.Message)
		}
		if apiErr.Message != "" {
			return fmt.Errorf("provider api error (%d): %s", statusCode, apiErr.Message)
		}
		if apiErr.Code != "" {
			return fmt.Errorf("provider api error (%d, %s)", statusCode, apiErr.Code)
		}
	}

	snippet := strings.TrimSpace(string(body))
	if snippet == "" {
		snippet = http.StatusText(statusCode)
	}
	if len(snippet) > 256 {
		snippet = snippet[:256]
	}

	return fmt.Errorf("provider api error (%d): %s", statusCode, snippet)
}
