package pipeline

import (
	"context"
	"io"
	"log"
	"strings"
	"time"

	"github.com/cinechat/cinechat/config"
	"github.com/cinechat/cinechat/internal/agent"
	"github.com/cinechat/cinechat/internal/catalog"
	"github.com/cinechat/cinechat/internal/evaluation"
	"github.com/cinechat/cinechat/internal/llm"
	"github.com/cinechat/cinechat/internal/store"
	"github.com/cinechat/cinechat/internal/trace"
)

// eventBuffer bounds the per-turn event channel so a slow consumer applies
// backpressure to generation instead of growing memory.
const eventBuffer = 64

// Pipeline holds the collaborators shared by all chat sessions.
type Pipeline struct {
	Store     *store.Store
	Retriever *catalog.Retriever
	LLMConfig config.LLMConfig
	Evaluator *evaluation.Evaluator
	Trace     trace.Sink
	Logger    *log.Logger
}

// New wires a pipeline. Evaluator may be nil, in which case turns complete
// without evaluation_data events.
func New(st *store.Store, retriever *catalog.Retriever, llmCfg config.LLMConfig, ev *evaluation.Evaluator, sink trace.Sink) *Pipeline {
	if sink == nil {
		sink = trace.Noop{}
	}
	return &Pipeline{
		Store:     st,
		Retriever: retriever,
		LLMConfig: llmCfg,
		Evaluator: ev,
		Trace:     sink,
		Logger:    log.New(log.Writer(), "[PIPELINE] ", log.LstdFlags),
	}
}

// Session is the per-connection chat state: one agent with its rolling
// window, plus the session window that keeps full responses for the final
// generation's memory prompt. Turns run strictly one at a time.
type Session struct {
	pipeline *Pipeline
	userID   string
	agent    *agent.Agent
	window   *agent.Window
}

// NewSession starts a fresh session for the user. Nothing persists across
// reconnects except what is in the database.
func (p *Pipeline) NewSession(userID string) *Session {
	return &Session{
		pipeline: p,
		userID:   userID,
		agent:    agent.New(p.Store, p.Retriever, p.LLMConfig, p.Trace),
		window:   agent.NewWindow(agent.DefaultWindowExchanges),
	}
}

// Run executes one turn and returns its event stream. The channel closes
// after the terminal event (and evaluation_data, when one is produced).
// Cancelling ctx mid-turn abandons the turn: no end event, no evaluation.
func (s *Session) Run(ctx context.Context, question string) <-chan Event {
	out := make(chan Event, eventBuffer)
	go s.run(ctx, question, out)
	return out
}

func (s *Session) run(ctx context.Context, question string, out chan<- Event) {
	defer close(out)
	start := time.Now()
	chatTurnsTotal.Inc()
	p := s.pipeline

	emit := func(ev Event) bool {
		select {
		case out <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}
	fail := func(msg string) {
		chatTurnErrors.Inc()
		emit(Event{Type: EventError, Content: msg})
	}

	if err := s.agent.Initialize(ctx, s.userID); err != nil {
		p.Logger.Printf("initialize agent for user %s: %v", s.userID, err)
		fail(err.Error())
		return
	}
	mc := s.agent.Config()

	conversationID, err := p.Store.GetOrCreateOpenConversation(ctx, s.userID, mc.ID)
	if err != nil {
		p.Logger.Printf("open conversation for user %s: %v", s.userID, err)
		fail("failed to open conversation")
		return
	}
	p.Trace.Event(ctx, "pipeline.turn", map[string]any{
		"user_id":         s.userID,
		"conversation_id": conversationID,
		"question":        question,
	})

	recommendation := s.agent.Recommend(ctx, question, func(tok string) {
		chatTokensStreamed.Inc()
		emit(Event{Type: EventAgentThought, Content: tok})
	})
	if ctx.Err() != nil {
		return
	}

	if err := p.Store.CreateMessage(ctx, conversationID, store.RoleUser, question); err != nil {
		p.Logger.Printf("persist user message: %v", err)
		fail("failed to persist message")
		return
	}

	finalResponse := s.generateFinal(ctx, question, recommendation, emit)
	if ctx.Err() != nil {
		return
	}

	if err := p.Store.CreateMessage(ctx, conversationID, store.RoleAssistant, finalResponse); err != nil {
		p.Logger.Printf("persist assistant message: %v", err)
	}

	// The session window keeps the full response, unlike the agent's.
	s.window.AddUser(question)
	s.window.AddAssistant(finalResponse)

	if !emit(Event{Type: EventEnd}) {
		return
	}
	chatTurnDuration.Observe(time.Since(start).Seconds())

	if p.Evaluator == nil {
		return
	}
	// Evaluation outlives the turn context: its persistence must not depend
	// on the client staying connected after the end event.
	result := p.Evaluator.EvaluateAndStore(context.WithoutCancel(ctx), evaluation.Input{
		ConversationID:       conversationID,
		UserInput:            question,
		Recommendations:      s.agent.LastRetrieved().Results,
		ConversationResponse: finalResponse,
	}, mc)
	emit(Event{Type: EventEvaluationData, Evaluation: &result})
}

// generateFinal streams the memory-integrated answer built from the session
// history and the agent's recommendation. A failure mid-stream appends one
// inline error token without retracting earlier tokens.
func (s *Session) generateFinal(ctx context.Context, question, recommendation string, emit func(Event) bool) string {
	messages := []llm.Message{
		{Role: llm.RoleSystem, Content: agent.FinalSystemMessage()},
		{Role: llm.RoleUser, Content: agent.MemoryPrompt(s.window.Messages(), recommendation, question)},
	}

	var sb strings.Builder
	push := func(tok string) {
		chatTokensStreamed.Inc()
		emit(Event{Type: EventFinalResponse, Content: tok})
		sb.WriteString(tok)
	}

	stream, err := s.agent.Provider().GenerateStream(ctx, messages)
	if err != nil {
		push("An error occurred while generating the response: " + err.Error())
		return sb.String()
	}
	defer stream.Close()
	for {
		tok, err := stream.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			push("An error occurred while generating the response: " + err.Error())
			break
		}
		push(tok)
	}
	return sb.String()
}
