package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"

	"github.com/cinechat/cinechat/config"
	"github.com/cinechat/cinechat/internal/catalog"
	"github.com/cinechat/cinechat/internal/llm"
	"github.com/cinechat/cinechat/internal/store"
	"github.com/cinechat/cinechat/internal/trace"
)

// windowPlaceholder is what the agent's rolling window records in place of the
// full generated explanation after each turn.
const windowPlaceholder = "Recommendation provided."

const apologyMessage = "I apologize, but I encountered an unexpected error while processing your request. Please try again later or rephrase your question."

// ErrNoModelConfig is returned when the user never configured a model.
var ErrNoModelConfig = errors.New("user has not configured a model")

// RetrievedData is the output of one catalog retrieval: normalized rows plus
// the generated query text retained for the reasoning prompt.
type RetrievedData struct {
	Results  []catalog.CatalogRow `json:"results"`
	RawQuery string               `json:"raw_query"`
	Tags     []catalog.QueryTag   `json:"query_types"`
}

// Agent runs one question through classification, query construction,
// retrieval, prompt assembly and streaming generation. Stages are strictly
// sequential with no backtracking. An Agent serves a single session's turn
// loop and is not safe for concurrent use.
type Agent struct {
	Store     *store.Store
	Retriever *catalog.Retriever
	LLMConfig config.LLMConfig
	Trace     trace.Sink
	Logger    *log.Logger

	window        *Window
	provider      llm.Provider
	config        store.ModelConfig
	lastRetrieved RetrievedData
}

// New builds an agent over the injected collaborators.
func New(st *store.Store, retriever *catalog.Retriever, llmCfg config.LLMConfig, sink trace.Sink) *Agent {
	if sink == nil {
		sink = trace.Noop{}
	}
	return &Agent{
		Store:     st,
		Retriever: retriever,
		LLMConfig: llmCfg,
		Trace:     sink,
		Logger:    log.New(log.Writer(), "[AGENT] ", log.LstdFlags),
		window:    NewWindow(DefaultWindowExchanges),
	}
}

// Initialize resolves the user's model configuration and constructs the model
// client. Both a missing configuration and an unsupported provider are
// terminal for the turn.
func (a *Agent) Initialize(ctx context.Context, userID string) error {
	cfg, ok, err := a.Store.LatestModelConfig(ctx, userID)
	if err != nil {
		return fmt.Errorf("load model config: %w", err)
	}
	if !ok {
		return ErrNoModelConfig
	}
	provider, err := llm.New(cfg.Provider, cfg.Model, cfg.APIKey, a.LLMConfig)
	if err != nil {
		return err
	}
	a.config = cfg
	a.provider = provider
	a.Logger.Printf("model initialized: provider=%s model=%s", cfg.Provider, cfg.Model)
	return nil
}

// Config returns the resolved model configuration. Valid after Initialize.
func (a *Agent) Config() store.ModelConfig { return a.config }

// Provider returns the constructed model client. Valid after Initialize.
func (a *Agent) Provider() llm.Provider { return a.provider }

// LastRetrieved returns the catalog rows behind the most recent
// recommendation, for downstream evaluation.
func (a *Agent) LastRetrieved() RetrievedData { return a.lastRetrieved }

// RetrieveData classifies the question, builds the catalog query and executes
// it. The generated query text is retained for the reasoning prompt, not
// executed twice.
func (a *Agent) RetrieveData(ctx context.Context, question string) (RetrievedData, error) {
	tags := catalog.Classify(question)
	spec := catalog.Build(tags, question)
	rows, err := a.Retriever.Retrieve(ctx, spec)
	if err != nil {
		return RetrievedData{}, err
	}
	a.Trace.Event(ctx, "agent.retrieve", map[string]any{
		"question": question,
		"tags":     tags,
		"rows":     len(rows),
		"limit":    spec.Limit,
	})
	return RetrievedData{Results: rows, RawQuery: spec.Template, Tags: tags}, nil
}

// Recommend streams the retrieval explanation for one question, forwarding
// each token to emit as it is produced, and returns the complete
// recommendation text. Failures before generation collapse into a single
// apology message in place of a token stream; a mid-stream failure appends
// one inline error token without retracting prior tokens.
func (a *Agent) Recommend(ctx context.Context, question string, emit func(string)) string {
	recommendation, err := a.chainOfThought(ctx, question, emit)
	if err != nil {
		a.Logger.Printf("chain of thought failed: %v", err)
		a.Trace.Event(ctx, "agent.error", map[string]any{"question": question, "error": err.Error()})
		emit(apologyMessage)
		return apologyMessage
	}
	return recommendation
}

func (a *Agent) chainOfThought(ctx context.Context, question string, emit func(string)) (string, error) {
	if a.provider == nil {
		return "", errors.New("agent not initialized")
	}
	data, err := a.RetrieveData(ctx, question)
	if err != nil {
		return "", err
	}
	a.lastRetrieved = data
	retrievedJSON, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return "", fmt.Errorf("serialize retrieved data: %w", err)
	}

	messages := make([]llm.Message, 0, len(a.window.Messages())+2)
	messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: chainOfThoughtSystemMessage})
	messages = append(messages, a.window.Messages()...)
	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: reasoningPrompt(question, string(retrievedJSON), data.RawQuery)})

	var sb strings.Builder
	stream, err := a.provider.GenerateStream(ctx, messages)
	if err != nil {
		tok := generationErrorToken(err)
		emit(tok)
		sb.WriteString(tok)
	} else {
		defer stream.Close()
		for {
			tok, recvErr := stream.Recv()
			if recvErr == io.EOF {
				break
			}
			if recvErr != nil {
				tok = generationErrorToken(recvErr)
				emit(tok)
				sb.WriteString(tok)
				break
			}
			emit(tok)
			sb.WriteString(tok)
		}
	}

	// The window keeps a marker, not the generated text.
	a.window.AddUser(question)
	a.window.AddAssistant(windowPlaceholder)

	return sb.String(), nil
}

func generationErrorToken(err error) string {
	return "An error occurred while generating the response: " + err.Error()
}

// WindowMessages exposes the agent's rolling context, mainly for tests.
func (a *Agent) WindowMessages() []llm.Message { return a.window.Messages() }
