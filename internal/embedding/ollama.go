package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	defaultOllamaURL   = "http://localhost:11434/api/embed"
	defaultOllamaModel = "nomic-embed-text"
	ollamaMaxAttempts  = 3
	ollamaBackoff      = 500 * time.Millisecond
)

// OllamaClient embeds text through an Ollama /api/embed endpoint. Documents and
// queries get the nomic task prefixes so stored tasks and incoming samples land
// in the same retrieval space.
type OllamaClient struct {
	url     string
	model   string
	backoff time.Duration
	client  *http.Client
}

type Option func(*OllamaClient)

func WithURL(url string) Option {
	return func(c *OllamaClient) {
		if url != "" {
			c.url = url
		}
	}
}

func WithModel(model string) Option {
	return func(c *OllamaClient) {
		if model != "" {
			c.model = model
		}
	}
}

// WithBackoff sets the base delay between retries of a failed request.
func WithBackoff(d time.Duration) Option {
	return func(c *OllamaClient) { c.backoff = d }
}

func WithHTTPClient(client *http.Client) Option {
	return func(c *OllamaClient) { c.client = client }
}

func NewOllamaClient(opts ...Option) *OllamaClient {
	c := &OllamaClient{
		url:     defaultOllamaURL,
		model:   defaultOllamaModel,
		backoff: ollamaBackoff,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type embedRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type embedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

func (c *OllamaClient) EmbedDocument(ctx context.Context, text string) ([]float32, error) {
	return c.embed(ctx, "search_document: "+text)
}

func (c *OllamaClient) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return c.embed(ctx, "search_query: "+text)
}

func (c *OllamaClient) embed(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(embedRequest{Model: c.model, Input: text})
	if err != nil {
		return nil, fmt.Errorf("marshal embed request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < ollamaMaxAttempts; attempt++ {
		if attempt > 0 {
			delay := c.backoff << (attempt - 1)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("create embed request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.client.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("embed request: %w", err)
			continue
		}

		respBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("read embed response: %w", err)
			continue
		}

		if resp.StatusCode != http.StatusOK {
			lastErr = fmt.Errorf("embed server returned %d: %s", resp.StatusCode, string(respBody))
			if resp.StatusCode >= 500 {
				continue
			}
			return nil, lastErr
		}

		var decoded embedResponse
		if err := json.Unmarshal(respBody, &decoded); err != nil {
			return nil, fmt.Errorf("decode embed response: %w", err)
		}
		if len(decoded.Embeddings) == 0 || len(decoded.Embeddings[0]) == 0 {
			return nil, fmt.Errorf("embed server returned no vectors")
		}
		return decoded.Embeddings[0], nil
	}

	return nil, fmt.Errorf("embed failed after %d attempts: %w", ollamaMaxAttempts, lastErr)
}
