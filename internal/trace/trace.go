// Package trace provides a narrow, best-effort observability sink. Call sites
// report events and scores unconditionally; the sink implementation decides
// whether anything leaves the process, and its failures never surface.
package trace

import (
	"bytes"
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"
)

// Sink receives structured trace events and quality scores.
type Sink interface {
	Event(ctx context.Context, name string, fields map[string]any)
	Score(ctx context.Context, name string, value float64, comment string)
}

// Noop discards everything. Used when no collector is configured so call
// sites need no conditional branching.
type Noop struct{}

func (Noop) Event(context.Context, string, map[string]any)  {}
func (Noop) Score(context.Context, string, float64, string) {}

// Collector posts events as JSON to an HTTP endpoint. Every call is
// fire-and-forget: failures are logged and swallowed.
type Collector struct {
	endpoint string
	http     *http.Client
	logger   *log.Logger
}

// NewCollector builds an HTTP sink. An empty endpoint yields a Noop.
func NewCollector(endpoint string, timeout time.Duration) Sink {
	if endpoint == "" {
		return Noop{}
	}
	if timeout == 0 {
		timeout = 5 * time.Second
	}
	return &Collector{
		endpoint: endpoint,
		http:     &http.Client{Timeout: timeout},
		logger:   log.New(log.Writer(), "[TRACE] ", log.LstdFlags),
	}
}

type tracePayload struct {
	Kind    string         `json:"kind"`
	Name    string         `json:"name"`
	Fields  map[string]any `json:"fields,omitempty"`
	Value   float64        `json:"value,omitempty"`
	Comment string         `json:"comment,omitempty"`
	At      time.Time      `json:"at"`
}

func (c *Collector) Event(ctx context.Context, name string, fields map[string]any) {
	c.send(ctx, tracePayload{Kind: "event", Name: name, Fields: fields, At: time.Now().UTC()})
}

func (c *Collector) Score(ctx context.Context, name string, value float64, comment string) {
	c.send(ctx, tracePayload{Kind: "score", Name: name, Value: value, Comment: comment, At: time.Now().UTC()})
}

func (c *Collector) send(ctx context.Context, p tracePayload) {
	body, err := json.Marshal(p)
	if err != nil {
		c.logger.Printf("marshal %s %q: %v", p.Kind, p.Name, err)
		return
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		c.logger.Printf("build request for %q: %v", p.Name, err)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Printf("post %s %q: %v", p.Kind, p.Name, err)
		return
	}
	_ = resp.Body.Close()
}
