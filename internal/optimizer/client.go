package optimizer

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/codingpal/agent/internal/httputil"
	"github.com/codingpal/agent/internal/logging"
)

var log = logging.L("optimizer")

const (
	DefaultBaseURL     = "https://open.bigmodel.cn/api/paas/v4/chat/completions"
	DefaultModel       = "glm-4-plus"
	DefaultTemperature = 0.7
	DefaultMaxTokens   = 2048
	DefaultTimeout     = 30 * time.Second

	systemPrompt = "You are an expert prompt engineer. Rewrite the user's prompt so it is clearer, " +
		"more specific and more effective. Return the improved prompt, then list the main " +
		"improvements as bullet points."
	connectionTestPrompt = "Connection test"
)

// defaultImprovements is reported when the completion lists no bullet points.
var defaultImprovements = []string{
	"Improved clarity of the prompt",
	"Added supporting context",
	"Restructured the instructions",
}

// Config holds the API credentials and completion parameters.
type Config struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
}

// DefaultConfig returns the service defaults with no API key.
func DefaultConfig() Config {
	return Config{
		BaseURL:     DefaultBaseURL,
		Model:       DefaultModel,
		Temperature: DefaultTemperature,
		MaxTokens:   DefaultMaxTokens,
		Timeout:     DefaultTimeout,
	}
}

// Result is the outcome of one optimization call.
type Result struct {
	Text         string   `json:"text"`
	Improvements []string `json:"improvements"`
	TokenCount   int      `json:"tokenCount"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
}

// Client calls a chat-completions endpoint. It is safe for concurrent use.
type Client struct {
	cfg        Config
	httpClient *http.Client
	retryCfg   httputil.RetryConfig
}

// NewClient returns a client for cfg. Zero fields take their defaults.
func NewClient(cfg Config) *Client {
	def := DefaultConfig()
	if cfg.BaseURL == "" {
		cfg.BaseURL = def.BaseURL
	}
	if cfg.Model == "" {
		cfg.Model = def.Model
	}
	if cfg.Temperature <= 0 {
		cfg.Temperature = def.Temperature
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = def.MaxTokens
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}

	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		retryCfg:   httputil.DefaultRetryConfig(),
	}
}

// Config returns the client's effective configuration.
func (c *Client) Config() Config {
	return c.cfg
}

// WithParams returns a client sharing c's transport but using the given
// completion parameters. Zero values keep c's settings.
func (c *Client) WithParams(model string, temperature float64, maxTokens int) *Client {
	clone := *c
	if model != "" {
		clone.cfg.Model = model
	}
	if temperature > 0 {
		clone.cfg.Temperature = temperature
	}
	if maxTokens > 0 {
		clone.cfg.MaxTokens = maxTokens
	}
	return &clone
}

// TestConnection sends a minimal completion and reports whether the service
// accepted it. A non-success status, including one that persisted through
// retries, reports false with a nil error. Transport failures are returned
// as *NetworkError.
func (c *Client) TestConnection(ctx context.Context) (bool, error) {
	req := chatRequest{
		Model:       c.cfg.Model,
		Messages:    []chatMessage{{Role: "user", Content: connectionTestPrompt}},
		Temperature: 0.1,
		MaxTokens:   10,
	}

	resp, err := c.post(ctx, req)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) {
			log.Info("optimizer connection test", "status", apiErr.StatusCode, "ok", false)
			return false, nil
		}
		return false, err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	ok := resp.StatusCode >= 200 && resp.StatusCode < 300
	log.Info("optimizer connection test", "status", resp.StatusCode, "ok", ok)
	return ok, nil
}

// Optimize asks the service to improve text.
func (c *Client) Optimize(ctx context.Context, text string) (*Result, error) {
	req := chatRequest{
		Model: c.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: "Optimize the following prompt:\n" + text},
		},
		Temperature: c.cfg.Temperature,
		MaxTokens:   c.cfg.MaxTokens,
	}

	resp, err := c.post(ctx, req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(body))}
	}

	var decoded chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, &APIError{StatusCode: resp.StatusCode, Message: fmt.Sprintf("decode response: %v", err)}
	}
	if len(decoded.Choices) == 0 {
		return nil, &APIError{StatusCode: resp.StatusCode, Message: "empty response"}
	}

	content := decoded.Choices[0].Message.Content
	return &Result{
		Text:         content,
		Improvements: extractImprovements(content),
		TokenCount:   decoded.Usage.TotalTokens,
	}, nil
}

func (c *Client) post(ctx context.Context, payload chatRequest) (*http.Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	header := http.Header{}
	header.Set("Content-Type", "application/json")
	header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := httputil.Do(ctx, c.httpClient, httputil.Request{
		Method: http.MethodPost,
		URL:    c.cfg.BaseURL,
		Body:   body,
		Header: header,
	}, c.retryCfg)
	if err != nil {
		var rse *httputil.RetryableStatusError
		if errors.As(err, &rse) {
			return nil, &APIError{StatusCode: rse.StatusCode, Message: http.StatusText(rse.StatusCode)}
		}
		return nil, &NetworkError{Err: err}
	}
	return resp, nil
}

// extractImprovements collects bullet or numbered lines from the completion.
func extractImprovements(content string) []string {
	var out []string
	sc := bufio.NewScanner(strings.NewReader(content))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if item, ok := bulletItem(line); ok {
			out = append(out, item)
		}
	}
	if len(out) == 0 {
		out = append(out, defaultImprovements...)
	}
	return out
}

func bulletItem(line string) (string, bool) {
	for _, prefix := range []string{"- ", "* ", "• "} {
		if rest, ok := strings.CutPrefix(line, prefix); ok {
			rest = strings.TrimSpace(rest)
			return rest, rest != ""
		}
	}

	// "1. text" or "1) text"
	i := 0
	for i < len(line) && line[i] >= '0' && line[i] <= '9' {
		i++
	}
	if i == 0 || i+1 >= len(line) || (line[i] != '.' && line[i] != ')') || line[i+1] != ' ' {
		return "", false
	}
	rest := strings.TrimSpace(line[i+2:])
	return rest, rest != ""
}
