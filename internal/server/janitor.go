package server

import (
	"context"
	"log"
	"time"

	"github.com/gorhill/cronexpr"

	"github.com/cinechat/cinechat/internal/store"
)

// Janitor closes conversations with no activity past the idle threshold, on a
// cron schedule. A closed conversation is never reused; the next chat turn
// opens a fresh one.
type Janitor struct {
	Store     *store.Store
	Schedule  *cronexpr.Expression
	IdleAfter time.Duration
	Stop      chan struct{}
	Logger    *log.Logger
}

func NewJanitor(st *store.Store, schedule string, idleAfter time.Duration) (*Janitor, error) {
	expr, err := cronexpr.Parse(schedule)
	if err != nil {
		return nil, err
	}
	if idleAfter <= 0 {
		idleAfter = 24 * time.Hour
	}
	return &Janitor{
		Store:     st,
		Schedule:  expr,
		IdleAfter: idleAfter,
		Stop:      make(chan struct{}),
		Logger:    log.New(log.Writer(), "[JANITOR] ", log.LstdFlags),
	}, nil
}

func (j *Janitor) Start() {
	go func() {
		for {
			next := j.Schedule.Next(time.Now())
			select {
			case <-j.Stop:
				return
			case <-time.After(time.Until(next)):
				j.tick()
			}
		}
	}()
}

func (j *Janitor) tick() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	cutoff := time.Now().Add(-j.IdleAfter)
	n, err := j.Store.CloseIdleConversations(ctx, cutoff)
	if err != nil {
		j.Logger.Printf("close idle conversations: %v", err)
		return
	}
	if n > 0 {
		j.Logger.Printf("closed %d idle conversations", n)
	}
}
