package pipeline

import "github.com/cinechat/cinechat/internal/evaluation"

// EventType names the kinds of events a turn produces, in the order a client
// observes them: agent_thought tokens, final_response tokens, a terminal end
// or error, then evaluation_data once the judge finishes.
type EventType string

const (
	EventAgentThought   EventType = "agent_thought"
	EventFinalResponse  EventType = "final_response"
	EventError          EventType = "error"
	EventEnd            EventType = "end"
	EventEvaluationData EventType = "evaluation_data"
)

// Event is one item on a turn's output stream. Content carries token text or
// an error message; Evaluation is set only on evaluation_data events.
type Event struct {
	Type       EventType          `json:"type"`
	Content    string             `json:"content,omitempty"`
	Evaluation *evaluation.Result `json:"evaluation,omitempty"`
}
