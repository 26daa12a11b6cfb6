package parser

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"parentpal/pkg/circuitbreaker"
)

// ErrServiceUnavailable marks the generative backend as unreachable. The
// liveness probe surfaces it before the pipeline starts, not per call.
var ErrServiceUnavailable = errors.New("generation service unavailable")

// TextGenerator is the narrow capability the generative parser needs from
// a model backend.
type TextGenerator interface {
	Healthy(ctx context.Context) bool
	Generate(ctx context.Context, prompt string) (string, error)
}

// OllamaClient talks to a local Ollama instance. Decoding options are
// pinned low so responses are repeatable. A circuit breaker stops the
// pipeline from hammering a model backend that is already down.
type OllamaClient struct {
	baseURL    string
	model      string
	httpClient *http.Client
	breaker    *circuitbreaker.CircuitBreaker
}

func NewOllamaClient(baseURL, model string, timeout time.Duration) *OllamaClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &OllamaClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		breaker: circuitbreaker.New(circuitbreaker.DefaultConfig()),
	}
}

type ollamaRequest struct {
	Model   string         `json:"model"`
	Prompt  string         `json:"prompt"`
	Stream  bool           `json:"stream"`
	Options map[string]any `json:"options"`
}

type ollamaResponse struct {
	Response string `json:"response"`
	Error    string `json:"error"`
}

// Healthy probes the tags endpoint with a short deadline.
func (c *OllamaClient) Healthy(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/tags", nil)
	if err != nil {
		return false
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	return resp.StatusCode == http.StatusOK
}

// Generate runs a single non-streaming completion and returns the raw
// response text. An open breaker short-circuits to ErrServiceUnavailable.
func (c *OllamaClient) Generate(ctx context.Context, prompt string) (string, error) {
	var text string
	err := c.breaker.Execute(func() error {
		var genErr error
		text, genErr = c.generate(ctx, prompt)
		return genErr
	})
	if errors.Is(err, circuitbreaker.ErrOpen) {
		return "", fmt.Errorf("%w: %v", ErrServiceUnavailable, err)
	}
	return text, err
}

func (c *OllamaClient) generate(ctx context.Context, prompt string) (string, error) {
	payload := ollamaRequest{
		Model:  c.model,
		Prompt: prompt,
		Stream: false,
		Options: map[string]any{
			"temperature": 0.1,
			"top_p":       0.9,
			"num_predict": 512,
		},
	}

	b, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/generate", bytes.NewReader(b))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrServiceUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return "", fmt.Errorf("%w: status %d", ErrServiceUnavailable, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("ollama request failed: status %d", resp.StatusCode)
	}

	var out ollamaResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode ollama response: %w", err)
	}
	if out.Error != "" {
		return "", fmt.Errorf("ollama error: %s", out.Error)
	}

	return strings.TrimSpace(out.Response), nil
}
