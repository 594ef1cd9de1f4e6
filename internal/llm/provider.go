package llm

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cinechat/cinechat/config"
)

// Role constants for chat messages.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one entry of a chat transcript sent to a provider.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Stream is a finite, non-restartable sequence of generated tokens.
// Recv returns io.EOF once the provider signals completion.
type Stream struct {
	tokens <-chan string
	errc   <-chan error
	cancel func()
	err    error
	done   bool
}

// Recv returns the next token. After the stream ends it keeps returning the
// terminal error (io.EOF on clean completion).
func (s *Stream) Recv() (string, error) {
	if s.done {
		if s.err != nil {
			return "", s.err
		}
		return "", io.EOF
	}
	tok, ok := <-s.tokens
	if ok {
		return tok, nil
	}
	s.done = true
	if err := <-s.errc; err != nil {
		s.err = err
		return "", err
	}
	return "", io.EOF
}

// Close releases the underlying HTTP response. Safe to call more than once.
func (s *Stream) Close() error {
	if s.cancel != nil {
		s.cancel()
	}
	return nil
}

func newStream(tokens <-chan string, errc <-chan error, cancel func()) *Stream {
	return &Stream{tokens: tokens, errc: errc, cancel: cancel}
}

// NewStaticStream builds a stream over a fixed token sequence that terminates
// with the given error, or cleanly when terminal is nil. Intended for
// in-process provider fakes.
func NewStaticStream(tokens []string, terminal error) *Stream {
	tc := make(chan string, len(tokens))
	for _, t := range tokens {
		tc <- t
	}
	close(tc)
	ec := make(chan error, 1)
	ec <- terminal
	return newStream(tc, ec, nil)
}

// Provider is the model-client collaborator: one blocking completion call and
// one streaming variant.
type Provider interface {
	ModelName() string
	Generate(ctx context.Context, messages []Message) (string, error)
	GenerateStream(ctx context.Context, messages []Message) (*Stream, error)
}

// New creates a provider client for the given provider name. An unsupported
// name is a construction-time error, never a deferred one.
func New(provider, model, apiKey string, cfg config.LLMConfig) (Provider, error) {
	httpc := &http.Client{Timeout: cfg.Timeout}
	if cfg.Timeout == 0 {
		httpc.Timeout = 120 * time.Second
	}
	switch strings.ToLower(provider) {
	case "openai":
		return &OpenAIClient{model: model, apiKey: apiKey, baseURL: defaultIfEmpty(cfg.OpenAIBaseURL, "https://api.openai.com/v1"), maxTokens: cfg.MaxTokens, http: httpc}, nil
	case "anthropic":
		return &AnthropicClient{model: model, apiKey: apiKey, baseURL: defaultIfEmpty(cfg.AnthropicBaseURL, "https://api.anthropic.com/v1"), maxTokens: defaultIfZero(cfg.MaxTokens, 1000), http: httpc}, nil
	default:
		return nil, fmt.Errorf("unsupported provider: %s", provider)
	}
}

func defaultIfEmpty(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func defaultIfZero(v, def int) int {
	if v == 0 {
		return def
	}
	return v
}
