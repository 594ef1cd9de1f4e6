package llm

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

// AnthropicClient talks to the Anthropic messages API. The messages endpoint
// rejects a leading system role inside the message list, so system content is
// hoisted into the top-level system field.
type AnthropicClient struct {
	model     string
	apiKey    string
	baseURL   string
	maxTokens int
	http      *http.Client
}

type anthropicRequest struct {
	Model     string    `json:"model"`
	System    string    `json:"system,omitempty"`
	Messages  []Message `json:"messages"`
	MaxTokens int       `json:"max_tokens"`
	Stream    bool      `json:"stream,omitempty"`
}

type anthropicResponse struct {
	Content []struct {
		Text string `json:"text"`
	} `json:"content"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

type anthropicStreamEvent struct {
	Type  string `json:"type"`
	Delta struct {
		Text string `json:"text"`
	} `json:"delta"`
}

func (c *AnthropicClient) ModelName() string { return c.model }

func (c *AnthropicClient) Generate(ctx context.Context, messages []Message) (string, error) {
	body, err := json.Marshal(c.buildRequest(messages, false))
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}
	resp, err := c.post(ctx, body)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("anthropic API error (status %d): %s", resp.StatusCode, truncate(string(raw), 200))
	}
	var parsed anthropicResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}
	if parsed.Error != nil {
		return "", fmt.Errorf("anthropic API error: %s", parsed.Error.Message)
	}
	if len(parsed.Content) == 0 {
		return "", fmt.Errorf("anthropic returned no content")
	}
	return parsed.Content[0].Text, nil
}

func (c *AnthropicClient) GenerateStream(ctx context.Context, messages []Message) (*Stream, error) {
	body, err := json.Marshal(c.buildRequest(messages, true))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	ctx, cancel := context.WithCancel(ctx)
	resp, err := c.post(ctx, body)
	if err != nil {
		cancel()
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		cancel()
		return nil, fmt.Errorf("anthropic API error (status %d): %s", resp.StatusCode, truncate(string(raw), 200))
	}

	tokens := make(chan string)
	errc := make(chan error, 1)
	go func() {
		defer close(tokens)
		defer resp.Body.Close()
		errc <- scanAnthropicEvents(resp.Body, tokens)
	}()
	return newStream(tokens, errc, cancel), nil
}

func scanAnthropicEvents(r io.Reader, tokens chan<- string) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		var ev anthropicStreamEvent
		if err := json.Unmarshal([]byte(payload), &ev); err != nil {
			continue
		}
		switch ev.Type {
		case "content_block_delta":
			if ev.Delta.Text != "" {
				tokens <- ev.Delta.Text
			}
		case "message_stop":
			return nil
		}
	}
	return scanner.Err()
}

func (c *AnthropicClient) buildRequest(messages []Message, stream bool) anthropicRequest {
	req := anthropicRequest{Model: c.model, MaxTokens: c.maxTokens, Stream: stream}
	for _, m := range messages {
		if m.Role == RoleSystem {
			if req.System != "" {
				req.System += "\n"
			}
			req.System += m.Content
			continue
		}
		req.Messages = append(req.Messages, m)
	}
	return req
}

func (c *AnthropicClient) post(ctx context.Context, body []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/messages", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("anthropic-version", "2023-06-01")
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call anthropic: %w", err)
	}
	return resp, nil
}
