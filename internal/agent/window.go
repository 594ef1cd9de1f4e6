package agent

import "github.com/cinechat/cinechat/internal/llm"

// DefaultWindowExchanges is the number of user/assistant exchange pairs kept
// as model context.
const DefaultWindowExchanges = 5

// Window is the bounded recent-message context for prompt construction. It is
// owned by a single session's sequential turn loop, so no locking is needed.
// Older entries are silently dropped; the durable conversation log is
// separate.
type Window struct {
	k    int
	msgs []llm.Message
}

// NewWindow keeps the last k exchanges (2k messages).
func NewWindow(k int) *Window {
	if k <= 0 {
		k = DefaultWindowExchanges
	}
	return &Window{k: k}
}

func (w *Window) AddUser(content string) {
	w.append(llm.Message{Role: llm.RoleUser, Content: content})
}

func (w *Window) AddAssistant(content string) {
	w.append(llm.Message{Role: llm.RoleAssistant, Content: content})
}

func (w *Window) append(m llm.Message) {
	w.msgs = append(w.msgs, m)
	if max := w.k * 2; len(w.msgs) > max {
		w.msgs = w.msgs[len(w.msgs)-max:]
	}
}

// Messages returns a copy of the current window contents.
func (w *Window) Messages() []llm.Message {
	out := make([]llm.Message, len(w.msgs))
	copy(out, w.msgs)
	return out
}
