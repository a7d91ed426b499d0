// Package upstream talks to the single completion service the gateway fronts.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/theblixguy/xcode-copilot-server-sub001/internal/openai"
)

// Completer is the contract the HTTP layer expects from the upstream client.
type Completer interface {
	CreateCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
	ListModels(ctx context.Context) ([]openai.Model, error)
}

// Client sends requests to the upstream completion service.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// Config holds configuration for the upstream client.
type Config struct {
	APIKey         string
	BaseURL        string // required, e.g. http://127.0.0.1:11434/v1
	RequestTimeout time.Duration
	HTTPClient     *http.Client // optional override, used by tests
}

// New creates an upstream client.
func New(cfg Config) (*Client, error) {
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		return nil, errors.New("upstream: base url required")
	}
	baseURL = strings.TrimSuffix(baseURL, "/")

	timeout := cfg.RequestTimeout
	if timeout == 0 {
		timeout = 120 * time.Second
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}

	return &Client{
		apiKey:     cfg.APIKey,
		baseURL:    baseURL,
		httpClient: httpClient,
	}, nil
}

// CreateCompletion sends a chat completion request upstream.
func (c *Client) CreateCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	if len(req.Messages) == 0 {
		return openai.ChatCompletionResponse{}, errors.New("upstream: no messages provided")
	}

	body, err := json.Marshal(req)
	if err != nil {
		return openai.ChatCompletionResponse{}, fmt.Errorf("upstream: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return openai.ChatCompletionResponse{}, fmt.Errorf("upstream: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return openai.ChatCompletionResponse{}, fmt.Errorf("upstream: send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return openai.ChatCompletionResponse{}, fmt.Errorf("upstream: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return openai.ChatCompletionResponse{}, decodeError(resp.StatusCode, respBody)
	}

	var completion openai.ChatCompletionResponse
	if err := json.Unmarshal(respBody, &completion); err != nil {
		return openai.ChatCompletionResponse{}, fmt.Errorf("upstream: unmarshal response: %w", err)
	}
	return completion, nil
}

// ListModels fetches the models the upstream serves; the result feeds the
// model resolver's candidate list.
func (c *Client) ListModels(ctx context.Context) ([]openai.Model, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/models", nil)
	if err != nil {
		return nil, fmt.Errorf("upstream: create request: %w", err)
	}
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("upstream: send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("upstream: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, decodeError(resp.StatusCode, respBody)
	}

	var models openai.ModelsResponse
	if err := json.Unmarshal(respBody, &models); err != nil {
		return nil, fmt.Errorf("upstream: unmarshal response: %w", err)
	}
	return models.Data, nil
}

func decodeError(status int, body []byte) error {
	var errResp struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
			Code    string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error.Message != "" {
		return fmt.Errorf("upstream: %s (type=%s, code=%s)", errResp.Error.Message, errResp.Error.Type, errResp.Error.Code)
	}
	return fmt.Errorf("upstream: http %d: %s", status, string(body))
}
