package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// FastClient talks to a llama.cpp server hosting the small model. Completions go
// through the OpenAI-compatible endpoint with a GBNF grammar attached.
type FastClient struct {
	baseURL string
	model   string
	client  *http.Client
}

func NewFastClient(baseURL, model string) *FastClient {
	return &FastClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		client:  &http.Client{Timeout: 2 * time.Minute},
	}
}

type completionRequest struct {
	Model       string    `json:"model,omitempty"`
	Messages    []Message `json:"messages"`
	Grammar     string    `json:"grammar,omitempty"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens"`
	Stream      bool      `json:"stream"`
}

type completionResponse struct {
	Choices []struct {
		Message Message `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (c *FastClient) Predict(ctx context.Context, messages []Message, grammar string) (string, error) {
	body, err := json.Marshal(completionRequest{
		Model:     c.model,
		Messages:  messages,
		Grammar:   grammar,
		MaxTokens: 96,
	})
	if err != nil {
		return "", fmt.Errorf("marshal completion request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create completion request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fast completion: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read completion response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fast model returned %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	var decoded completionResponse
	if err := json.Unmarshal(respBody, &decoded); err != nil {
		return "", fmt.Errorf("decode completion response: %w", err)
	}
	if decoded.Error != nil {
		return "", fmt.Errorf("fast model error: %s", decoded.Error.Message)
	}
	if len(decoded.Choices) == 0 {
		return "", fmt.Errorf("fast model returned no choices")
	}
	return decoded.Choices[0].Message.Content, nil
}

// Healthy reports whether the server is up and has a model loaded. llama.cpp
// answers 503 on /health while the model is still loading.
func (c *FastClient) Healthy(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode == http.StatusOK
}
