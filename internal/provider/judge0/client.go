// Package judge0 implements provider.CodeExecutor against a Judge0-compatible
// REST API: submit base64-encoded source, receive a token, poll the token
// until the submission reaches a terminal status.
package judge0

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/TheAihtesham/ai-collaborative-code-editor/internal/provider"
)

// languageIDs maps the language names the editor offers to Judge0 runtime
// ids. Anything unrecognized falls back to DefaultLanguageID.
var languageIDs = map[string]int{
	"javascript": 63,
	"python":     71,
	"java":       62,
	"c":          50,
	"cpp":        54,
}

// DefaultLanguageID is the javascript runtime, used when the requested
// language is unknown.
const DefaultLanguageID = 63

type Config struct {
	BaseURL         string
	APIKey          string
	PollInterval    time.Duration
	MaxPollAttempts int
}

type Client struct {
	http   *http.Client
	config Config
	logger *slog.Logger
}

func NewClient(config Config, logger *slog.Logger) *Client {
	return &Client{
		http:   &http.Client{Timeout: 15 * time.Second},
		config: config,
		logger: logger.With(slog.String("component", "judge0_client")),
	}
}

var _ provider.CodeExecutor = (*Client)(nil)

type submissionRequest struct {
	LanguageID int    `json:"language_id"`
	SourceCode string `json:"source_code"`
	Stdin      string `json:"stdin"`
}

type submissionResponse struct {
	Token string `json:"token"`
}

type submissionStatus struct {
	ID          int    `json:"id"`
	Description string `json:"description"`
}

type submissionResult struct {
	Stdout        string           `json:"stdout"`
	Stderr        string           `json:"stderr"`
	CompileOutput string           `json:"compile_output"`
	Status        submissionStatus `json:"status"`
}

// Execute submits the source and polls until the submission leaves the
// queued/processing states (status id 1 and 2). Exhausting the poll budget
// yields provider.ErrTimeout.
func (c *Client) Execute(ctx context.Context, req provider.ExecutionRequest) (*provider.ExecutionResult, error) {
	token, err := c.submit(ctx, req)
	if err != nil {
		return nil, err
	}
	c.logger.Debug("Submission created", slog.String("token", token))

	for attempt := 0; attempt < c.config.MaxPollAttempts; attempt++ {
		result, done, err := c.poll(ctx, token)
		if err != nil {
			return nil, err
		}
		if done {
			return result, nil
		}
		select {
		case <-time.After(c.config.PollInterval):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return nil, fmt.Errorf("submission %s: %w", token, provider.ErrTimeout)
}

func (c *Client) submit(ctx context.Context, req provider.ExecutionRequest) (string, error) {
	stdin := req.Stdin
	if stdin == "" {
		stdin = " "
	}
	body, err := json.Marshal(submissionRequest{
		LanguageID: resolveLanguageID(req.Language),
		SourceCode: base64.StdEncoding.EncodeToString([]byte(req.SourceCode)),
		Stdin:      base64.StdEncoding.EncodeToString([]byte(stdin)),
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal submission: %w", err)
	}

	submitURL := c.config.BaseURL + "/submissions?base64_encoded=true&wait=false&fields=*"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, submitURL, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	c.setAuthHeaders(httpReq)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("judge0 submission failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read judge0 response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("judge0 submission returned status %d", resp.StatusCode)
	}

	var submission submissionResponse
	if err := json.Unmarshal(respBody, &submission); err != nil {
		return "", fmt.Errorf("malformed judge0 submission response: %w", err)
	}
	if submission.Token == "" {
		return "", fmt.Errorf("judge0 did not return a submission token")
	}
	return submission.Token, nil
}

func (c *Client) poll(ctx context.Context, token string) (*provider.ExecutionResult, bool, error) {
	pollURL := c.config.BaseURL + "/submissions/" + url.PathEscape(token) + "?base64_encoded=true&fields=*"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, pollURL, nil)
	if err != nil {
		return nil, false, err
	}
	c.setAuthHeaders(httpReq)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, false, fmt.Errorf("judge0 poll failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, false, fmt.Errorf("failed to read judge0 poll response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, false, fmt.Errorf("judge0 poll returned status %d", resp.StatusCode)
	}

	var result submissionResult
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, false, fmt.Errorf("malformed judge0 poll response: %w", err)
	}
	// 1 = In Queue, 2 = Processing. Anything above is terminal.
	if result.Status.ID <= 2 {
		return nil, false, nil
	}

	return &provider.ExecutionResult{
		Stdout:        decodeBase64(result.Stdout),
		Stderr:        decodeBase64(result.Stderr),
		CompileOutput: decodeBase64(result.CompileOutput),
		Status:        result.Status.Description,
	}, true, nil
}

func (c *Client) setAuthHeaders(req *http.Request) {
	if c.config.APIKey == "" {
		return
	}
	req.Header.Set("x-rapidapi-key", c.config.APIKey)
	if host := req.URL.Hostname(); host != "" {
		req.Header.Set("x-rapidapi-host", host)
	}
}

func resolveLanguageID(language string) int {
	if id, ok := languageIDs[language]; ok {
		return id
	}
	return DefaultLanguageID
}

func decodeBase64(s string) string {
	if s == "" {
		return ""
	}
	decoded, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		// Some deployments return plain text for these fields.
		return s
	}
	return string(decoded)
}
