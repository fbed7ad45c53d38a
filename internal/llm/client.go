package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"chatdeck/internal/config"
	"chatdeck/internal/models"
)

// defaultModels is offered when the endpoint cannot be reached, so the model
// picker still renders something sensible.
var defaultModels = []string{"llama3", "mistral", "gemma", "llama2", "phi3"}

// Client talks to a locally running Ollama server. A single attempt is made
// per call; callers decide whether to retry.
type Client struct {
	baseURL      string
	defaultModel string
	httpClient   *http.Client
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Message chatMessage `json:"message"`
	Done    bool        `json:"done"`
}

type tagsResponse struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}

// NewClient creates a client for the configured Ollama endpoint.
func NewClient(cfg config.OllamaConfig) *Client {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = time.Minute
	}
	return &Client{
		baseURL:      baseURL,
		defaultModel: cfg.DefaultModel,
		httpClient:   &http.Client{Timeout: timeout},
	}
}

// DefaultModel reports the configured fallback model name.
func (c *Client) DefaultModel() string {
	return c.defaultModel
}

// ListModels fetches the names of locally available models. When the
// endpoint is unreachable it falls back to a static default list rather than
// failing, so model selection keeps working while the server is down.
func (c *Client) ListModels(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/tags", nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return defaultModels, nil
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return defaultModels, nil
	}
	var tags tagsResponse
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return nil, fmt.Errorf("parse tags response: %w", err)
	}
	names := make([]string, 0, len(tags.Models))
	for _, m := range tags.Models {
		names = append(names, m.Name)
	}
	if len(names) == 0 {
		return defaultModels, nil
	}
	return names, nil
}

// Complete sends the full transcript to the model and returns the generated
// reply text.
func (c *Client) Complete(ctx context.Context, model string, transcript []models.Message) (string, error) {
	if model == "" {
		model = c.defaultModel
	}
	msgs := make([]chatMessage, len(transcript))
	for i, m := range transcript {
		msgs[i] = chatMessage{Role: string(m.Role), Content: m.Content}
	}
	body, err := json.Marshal(chatRequest{Model: model, Messages: msgs})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", classifyTransportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return "", fmt.Errorf("model %q not loaded: %w", model, models.ErrModelUnavailable)
	}
	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("ollama api error (status %d): %s", resp.StatusCode, payload)
	}

	var chat chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chat); err != nil {
		return "", fmt.Errorf("parse chat response: %w", err)
	}
	return chat.Message.Content, nil
}

func classifyTransportError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", models.ErrTimeout, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", models.ErrTimeout, err)
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return fmt.Errorf("%w: %v", models.ErrModelUnavailable, err)
	}
	return fmt.Errorf("inference request: %w", err)
}
