package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"news_monitor/internal/domain"
)

// Config holds the connection settings for one named analysis backend.
type Config struct {
	Name    string
	BaseURL string
	Model   string
	Timeout time.Duration
}

// Client invokes a single LLM backend over the Ollama generate API.
// It performs exactly one request per call; retry policy belongs to the
// caller.
type Client struct {
	name       string
	baseURL    string
	model      string
	httpClient *http.Client
	logger     *slog.Logger
}

func New(cfg Config, logger *slog.Logger) *Client {
	return &Client{
		name:    cfg.Name,
		baseURL: cfg.BaseURL,
		model:   cfg.Model,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		logger: logger.With("backend", cfg.Name),
	}
}

// Name returns the backend's configured name.
func (c *Client) Name() string {
	return c.name
}

type generateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Format string `json:"format,omitempty"`
	Stream bool   `json:"stream"`
}

type generateResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

// Invoke sends the prompt to the backend and returns its free-text
// response. Errors are classified into the domain taxonomy so the caller
// can decide between retry and fallback.
func (c *Client) Invoke(ctx context.Context, prompt string) (string, error) {
	reqBody := generateRequest{
		Model:  c.model,
		Prompt: prompt,
		Format: "json",
		Stream: false,
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	url := c.baseURL + "/api/generate"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
			return "", fmt.Errorf("%w: %v", domain.ErrBackendTimeout, err)
		}
		return "", fmt.Errorf("%w: %v", domain.ErrBackendUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusTooManyRequests:
		return "", fmt.Errorf("%w: status %d", domain.ErrRateLimited, resp.StatusCode)
	case resp.StatusCode >= 500:
		return "", fmt.Errorf("%w: status %d", domain.ErrBackendUnavailable, resp.StatusCode)
	default:
		return "", fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	var genResp generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&genResp); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}

	c.logger.Debug("backend call completed",
		"model", c.model,
		"latency", time.Since(start),
		"response_len", len(genResp.Response),
	)

	return genResp.Response, nil
}

func isTimeout(err error) bool {
	var t interface{ Timeout() bool }
	return errors.As(err, &t) && t.Timeout()
}
