package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
)

var (
	serverURL = flag.String("server", "http://localhost:8080", "taskpilot server base URL")
	userID    = flag.String("user", "", "user id (must match the token subject)")
	token     = flag.String("token", "", "bearer token for the user")
)

type chatRequest struct {
	Message        string `json:"message"`
	ConversationID *int64 `json:"conversation_id"`
}

type chatResponse struct {
	ConversationID int64    `json:"conversation_id"`
	Response       string   `json:"response"`
	ToolCalls      []string `json:"tool_calls"`
	Error          string   `json:"error"`
}

func main() {
	flag.Parse()

	if *userID == "" || *token == "" {
		fmt.Fprintln(os.Stderr, "both -user and -token are required")
		os.Exit(1)
	}

	boldGreen := color.New(color.FgGreen, color.Bold).SprintFunc()
	boldCyan := color.New(color.FgCyan, color.Bold).SprintFunc()
	dim := color.New(color.Faint).SprintFunc()

	fmt.Println(boldGreen("taskpilot chat"))
	fmt.Println("Type your message and press Enter. Type 'exit' or press Ctrl+C to quit.")
	fmt.Println()

	client := &http.Client{Timeout: 2 * time.Minute}
	endpoint := strings.TrimRight(*serverURL, "/") + "/api/" + *userID + "/chat"

	var conversationID *int64
	scanner := bufio.NewScanner(os.Stdin)

	for {
		fmt.Print(boldGreen("You: "))
		if !scanner.Scan() {
			break
		}
		input := scanner.Text()
		if strings.ToLower(strings.TrimSpace(input)) == "exit" {
			break
		}
		if strings.TrimSpace(input) == "" {
			continue
		}

		reply, err := sendMessage(client, endpoint, *token, chatRequest{
			Message:        input,
			ConversationID: conversationID,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			continue
		}

		conversationID = &reply.ConversationID

		fmt.Print(boldCyan("Assistant: "))
		fmt.Println(reply.Response)
		if len(reply.ToolCalls) > 0 {
			fmt.Println(dim("tools: " + strings.Join(reply.ToolCalls, ", ")))
		}
		fmt.Println()
	}
}

func sendMessage(client *http.Client, endpoint, token string, req chatRequest) (*chatResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequest(http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+token)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	var reply chatResponse
	if err := json.Unmarshal(respBody, &reply); err != nil {
		return nil, fmt.Errorf("decode response (%d): %w", resp.StatusCode, err)
	}

	if resp.StatusCode != http.StatusOK {
		if reply.Error != "" {
			return nil, fmt.Errorf("server returned %d: %s", resp.StatusCode, reply.Error)
		}
		return nil, fmt.Errorf("server returned %d", resp.StatusCode)
	}

	return &reply, nil
}
