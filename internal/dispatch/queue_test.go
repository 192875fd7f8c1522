package dispatch

import (
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/jensholdgaard/twitch-raid-bot/internal/clock"
	"github.com/jensholdgaard/twitch-raid-bot/internal/config"
)

// recorder collects sent messages with their timestamps.
type recorder struct {
	mu    sync.Mutex
	msgs  []string
	times []time.Time
}

func (r *recorder) send(msg string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, msg)
	r.times = append(r.times, time.Now())
	return nil
}

func (r *recorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.msgs))
	copy(out, r.msgs)
	return out
}

func (r *recorder) waitFor(t *testing.T, n int, timeout time.Duration) []string {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if msgs := r.snapshot(); len(msgs) >= n {
			return msgs
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d messages, got %d", n, len(r.snapshot()))
	return nil
}

func fastLimits() config.RateLimitConfig {
	return config.RateLimitConfig{
		WindowMessages: 20,
		Window:         300 * time.Millisecond,
		MinSpacing:     time.Millisecond,
	}
}

func newTestQueue(cfg config.RateLimitConfig, send SendFunc) *Queue {
	return New(cfg, send, slog.Default(), clock.Real{})
}

func TestQueue_PriorityOrder(t *testing.T) {
	rec := &recorder{}
	cfg := fastLimits()
	cfg.MinSpacing = 20 * time.Millisecond
	q := newTestQueue(cfg, rec.send)

	// The first message sends immediately; while the drain waits out the
	// spacing, the rest pile up and must leave highest priority first.
	q.Enqueue("first", 0)
	time.Sleep(5 * time.Millisecond)
	q.Enqueue("low", 1)
	q.Enqueue("high", 10)
	q.Enqueue("mid", 5)

	msgs := rec.waitFor(t, 4, 2*time.Second)
	want := []string{"first", "high", "mid", "low"}
	for i, m := range want {
		if msgs[i] != m {
			t.Fatalf("message %d = %q, want %q (got %v)", i, msgs[i], m, msgs)
		}
	}
}

func TestQueue_EqualPriorityKeepsFIFO(t *testing.T) {
	rec := &recorder{}
	cfg := fastLimits()
	cfg.MinSpacing = 20 * time.Millisecond
	q := newTestQueue(cfg, rec.send)

	q.Enqueue("a", 0)
	time.Sleep(5 * time.Millisecond)
	q.Enqueue("b", 3)
	q.Enqueue("c", 3)
	q.Enqueue("d", 3)

	msgs := rec.waitFor(t, 4, 2*time.Second)
	want := []string{"a", "b", "c", "d"}
	for i, m := range want {
		if msgs[i] != m {
			t.Fatalf("message %d = %q, want %q (got %v)", i, msgs[i], m, msgs)
		}
	}
}

func TestQueue_WindowQuota(t *testing.T) {
	rec := &recorder{}
	cfg := config.RateLimitConfig{
		WindowMessages: 5,
		Window:         200 * time.Millisecond,
		MinSpacing:     time.Millisecond,
	}
	q := newTestQueue(cfg, rec.send)

	for i := 0; i < 8; i++ {
		q.Enqueue("msg", 0)
	}

	// Only the quota fits in the first window.
	time.Sleep(100 * time.Millisecond)
	if got := len(rec.snapshot()); got != 5 {
		t.Fatalf("sent %d messages inside the window, want 5", got)
	}

	// The remainder drains once the window rolls over.
	rec.waitFor(t, 8, 2*time.Second)
}

func TestQueue_MinSpacing(t *testing.T) {
	rec := &recorder{}
	cfg := fastLimits()
	cfg.MinSpacing = 30 * time.Millisecond
	q := newTestQueue(cfg, rec.send)

	q.Enqueue("a", 0)
	q.Enqueue("b", 0)
	q.Enqueue("c", 0)

	rec.waitFor(t, 3, 2*time.Second)
	rec.mu.Lock()
	defer rec.mu.Unlock()
	for i := 1; i < len(rec.times); i++ {
		gap := rec.times[i].Sub(rec.times[i-1])
		if gap < 25*time.Millisecond {
			t.Errorf("gap between sends %d and %d = %v, want at least ~30ms", i-1, i, gap)
		}
	}
}

func TestQueue_ClearDropsPending(t *testing.T) {
	rec := &recorder{}
	cfg := fastLimits()
	cfg.MinSpacing = 50 * time.Millisecond
	q := newTestQueue(cfg, rec.send)

	q.Enqueue("kept", 0)
	time.Sleep(10 * time.Millisecond)
	q.Enqueue("dropped-1", 0)
	q.Enqueue("dropped-2", 0)
	q.Clear()

	time.Sleep(200 * time.Millisecond)
	msgs := rec.snapshot()
	if len(msgs) != 1 || msgs[0] != "kept" {
		t.Errorf("messages after clear = %v, want only the in-flight one", msgs)
	}
	if q.Len() != 0 {
		t.Errorf("Len() = %d after clear, want 0", q.Len())
	}
}
