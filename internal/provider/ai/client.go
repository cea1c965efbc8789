// Package ai implements provider.TextGenerator against an OpenAI-style
// chat-completions endpoint.
package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/TheAihtesham/ai-collaborative-code-editor/internal/provider"
	"github.com/tidwall/gjson"
)

type Config struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
}

type Client struct {
	http   *http.Client
	config Config
	logger *slog.Logger
}

func NewClient(config Config, logger *slog.Logger) *Client {
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		http:   &http.Client{Timeout: timeout},
		config: config,
		logger: logger.With(slog.String("component", "ai_client")),
	}
}

var _ provider.TextGenerator = (*Client)(nil)

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

func (c *Client) Generate(ctx context.Context, req provider.AIRequest) (string, error) {
	body, err := json.Marshal(chatRequest{
		Model: c.config.Model,
		Messages: []chatMessage{
			{Role: "user", Content: renderPrompt(req)},
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal chat request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.config.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("ai request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read ai response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.logger.Warn("AI provider returned an error",
			slog.Int("status", resp.StatusCode),
		)
		return "", fmt.Errorf("ai provider returned status %d", resp.StatusCode)
	}

	content := gjson.GetBytes(respBody, "choices.0.message.content")
	if !content.Exists() {
		return "", fmt.Errorf("malformed ai response: no message content")
	}
	return content.String(), nil
}

// renderPrompt folds the user's question and their current buffer into one
// user message.
func renderPrompt(req provider.AIRequest) string {
	var b strings.Builder
	b.WriteString(req.Prompt)
	if req.ContextCode != "" {
		b.WriteString("\n\nHere is the ")
		if req.Language != "" {
			b.WriteString(req.Language)
			b.WriteString(" ")
		}
		b.WriteString("code I'm working on:\n```")
		b.WriteString(req.Language)
		b.WriteString("\n")
		b.WriteString(req.ContextCode)
		b.WriteString("\n```")
	}
	return b.String()
}
