package inference

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// PreciseClient streams chat completions from an Ollama server.
type PreciseClient struct {
	baseURL string
	model   string
	client  *http.Client
}

func NewPreciseClient(baseURL, model string) *PreciseClient {
	return &PreciseClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		client:  &http.Client{},
	}
}

type chatRequest struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
	Stream   bool      `json:"stream"`
}

type chatChunk struct {
	Message Message `json:"message"`
	Done    bool    `json:"done"`
	Error   string  `json:"error,omitempty"`
}

// Stream sends each generated fragment to out and closes out when the response
// ends, fails, or ctx is cancelled.
func (c *PreciseClient) Stream(ctx context.Context, messages []Message, out chan<- string) error {
	defer close(out)

	body, err := json.Marshal(chatRequest{Model: c.model, Messages: messages, Stream: true})
	if err != nil {
		return fmt.Errorf("marshal chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("precise chat: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("precise model returned %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var chunk chatChunk
		if err := json.Unmarshal(line, &chunk); err != nil {
			return fmt.Errorf("decode chat chunk: %w", err)
		}
		if chunk.Error != "" {
			return fmt.Errorf("precise model error: %s", chunk.Error)
		}
		if chunk.Message.Content != "" {
			select {
			case out <- chunk.Message.Content:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if chunk.Done {
			return nil
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read chat stream: %w", err)
	}
	return nil
}

// Streamer is anything that produces a fragment stream the way PreciseClient does.
type Streamer interface {
	Stream(ctx context.Context, messages []Message, out chan<- string) error
}

// Collect drains a stream to completion and returns the concatenated text.
func Collect(ctx context.Context, s Streamer, messages []Message) (string, error) {
	fragments := make(chan string, 16)
	errc := make(chan error, 1)
	go func() {
		errc <- s.Stream(ctx, messages, fragments)
	}()

	var b strings.Builder
	for fragment := range fragments {
		b.WriteString(fragment)
	}
	if err := <-errc; err != nil {
		return b.String(), err
	}
	return b.String(), nil
}
