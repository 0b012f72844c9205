package model

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"mercurial/types"
)

// Completer turns an ordered message log into a streamed completion. onToken
// is invoked for every incremental text fragment; returning an error from it
// aborts the stream. The full concatenated answer is returned on success.
type Completer interface {
	Stream(ctx context.Context, messages []types.Message, onToken func(token string) error) (string, error)
}

// OllamaChat streams completions from the Ollama /api/chat endpoint.
type OllamaChat struct {
	apiURL string
	model  string
	client *http.Client
}

type ollamaChatRequest struct {
	Model    string          `json:"model"`
	Messages []types.Message `json:"messages"`
	Stream   bool            `json:"stream"`
}

type ollamaChatChunk struct {
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
	Done  bool   `json:"done"`
	Error string `json:"error"`
}

func NewOllamaChat(apiURL, model string) *OllamaChat {
	// No client timeout: generation runs until done or ctx cancellation.
	return &OllamaChat{
		apiURL: apiURL,
		model:  model,
		client: &http.Client{},
	}
}

func (c *OllamaChat) Stream(ctx context.Context, messages []types.Message, onToken func(token string) error) (string, error) {
	body, err := json.Marshal(ollamaChatRequest{Model: c.model, Messages: messages, Stream: true})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL, bytes.NewBuffer(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("ollama API error: status %d, body: %s", resp.StatusCode, string(b))
	}

	// Ollama streams NDJSON: one JSON object per line until done.
	var full bytes.Buffer
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		var chunk ollamaChatChunk
		if err := json.Unmarshal(line, &chunk); err != nil {
			return full.String(), fmt.Errorf("failed to decode stream chunk: %w", err)
		}
		if chunk.Error != "" {
			return full.String(), fmt.Errorf("ollama stream error: %s", chunk.Error)
		}
		if chunk.Message.Content != "" {
			full.WriteString(chunk.Message.Content)
			if err := onToken(chunk.Message.Content); err != nil {
				return full.String(), err
			}
		}
		if chunk.Done {
			return full.String(), nil
		}
	}
	if err := scanner.Err(); err != nil {
		return full.String(), fmt.Errorf("stream read error: %w", err)
	}
	return full.String(), nil
}
