// Package dispatch rate-limits outbound chat messages. Twitch enforces a
// hard per-window send quota and drops the connection on violation, so
// every message the bot says goes through here.
package dispatch

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/jensholdgaard/twitch-raid-bot/internal/clock"
	"github.com/jensholdgaard/twitch-raid-bot/internal/config"
)

// SendFunc delivers one message to the chat transport.
type SendFunc func(message string) error

type queued struct {
	message  string
	priority int
}

// Queue is a priority-ordered, rate-limited message dispatcher. Higher
// priority drains first; equal priorities keep enqueue order. A single
// drain goroutine runs lazily while messages are pending.
type Queue struct {
	mu       sync.Mutex
	items    []queued
	draining bool

	windowStart time.Time
	windowCount int
	lastSent    time.Time

	cfg    config.RateLimitConfig
	send   SendFunc
	logger *slog.Logger
	clock  clock.Clock
}

// New returns a Queue that delivers through send.
func New(cfg config.RateLimitConfig, send SendFunc, logger *slog.Logger, clk clock.Clock) *Queue {
	return &Queue{
		cfg:    cfg,
		send:   send,
		logger: logger,
		clock:  clk,
	}
}

// Enqueue adds a message and starts the drain if it is not running.
func (q *Queue) Enqueue(message string, priority int) {
	q.mu.Lock()
	q.items = append(q.items, queued{message: message, priority: priority})
	sort.SliceStable(q.items, func(i, j int) bool {
		return q.items[i].priority > q.items[j].priority
	})

	if q.draining {
		q.mu.Unlock()
		return
	}
	q.draining = true
	q.mu.Unlock()

	go q.drain()
}

// Clear drops every pending message. In-flight rate limit state is kept:
// clearing the backlog must not reopen the send window.
func (q *Queue) Clear() {
	q.mu.Lock()
	q.items = nil
	q.mu.Unlock()
}

// Len reports the number of pending messages.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *Queue) drain() {
	for {
		q.mu.Lock()
		if len(q.items) == 0 {
			q.draining = false
			q.mu.Unlock()
			return
		}
		q.mu.Unlock()

		q.waitForSlot()

		q.mu.Lock()
		if len(q.items) == 0 {
			// Cleared while we were waiting.
			q.draining = false
			q.mu.Unlock()
			return
		}
		item := q.items[0]
		q.items = q.items[1:]
		q.mu.Unlock()

		if err := q.send(item.message); err != nil {
			q.logger.ErrorContext(context.Background(), "send failed",
				slog.String("message", item.message),
				slog.Any("error", err),
			)
		}

		q.mu.Lock()
		now := q.clock.Now()
		q.lastSent = now
		q.windowCount++
		q.mu.Unlock()
	}
}

// waitForSlot blocks until both the rolling window quota and the minimum
// spacing allow another send.
func (q *Queue) waitForSlot() {
	for {
		q.mu.Lock()
		now := q.clock.Now()

		if q.windowStart.IsZero() || now.Sub(q.windowStart) >= q.cfg.Window {
			q.windowStart = now
			q.windowCount = 0
		}

		if q.windowCount >= q.cfg.WindowMessages {
			wait := q.cfg.Window - now.Sub(q.windowStart)
			q.mu.Unlock()
			q.clock.Sleep(wait)
			continue
		}

		if !q.lastSent.IsZero() {
			if gap := now.Sub(q.lastSent); gap < q.cfg.MinSpacing {
				wait := q.cfg.MinSpacing - gap
				q.mu.Unlock()
				q.clock.Sleep(wait)
				continue
			}
		}

		q.mu.Unlock()
		return
	}
}
