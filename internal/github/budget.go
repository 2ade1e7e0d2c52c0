package github

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"
)

// RequestBudget paces GitHub API calls against the primary rate limit
// (X-RateLimit-Remaining / X-RateLimit-Reset) and secondary limits (Retry-After).
// Acquire blocks until a request may be sent; UpdateFromResponse feeds the
// headers of every response back in.
type RequestBudget struct {
	mu        sync.Mutex
	remaining int
	reset     time.Time
	cooldown  time.Time
	probed    bool
	now       func() time.Time
	changed   chan struct{}
}

func NewRequestBudget() *RequestBudget {
	return &RequestBudget{
		remaining: 5000,
		reset:     time.Now().Add(time.Hour),
		now:       time.Now,
		changed:   make(chan struct{}),
	}
}

func (b *RequestBudget) Remaining() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.remaining
}

func (b *RequestBudget) Acquire(ctx context.Context, n int) error {
	if ctx == nil {
		return fmt.Errorf("acquire: nil context")
	}
	if b == nil || b.now == nil || b.changed == nil {
		return fmt.Errorf("acquire: budget not initialized (use NewRequestBudget)")
	}
	if n <= 0 {
		return fmt.Errorf("acquire: n must be > 0 (got %d)", n)
	}
	for i := 0; i < n; i++ {
		if err := b.acquireOne(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (b *RequestBudget) acquireOne(ctx context.Context) error {
	for {
		b.mu.Lock()
		now := b.now()
		ch := b.changed

		var until time.Time
		switch {
		case now.Before(b.cooldown):
			until = b.cooldown
		case b.remaining > 0:
			b.remaining--
			b.mu.Unlock()
			return nil
		case !now.Before(b.reset) && !b.probed:
			// The window should have reset; let one request through to learn the new budget.
			b.probed = true
			b.mu.Unlock()
			return nil
		case !now.Before(b.reset):
			// Probe in flight; wait for its response headers.
		default:
			until = b.reset
		}
		b.mu.Unlock()

		if err := waitUntil(ctx, ch, now, until); err != nil {
			return err
		}
	}
}

// waitUntil blocks until ctx is done, ch is closed, or until passes. A zero
// until waits on ctx and ch only.
func waitUntil(ctx context.Context, ch <-chan struct{}, now, until time.Time) error {
	if until.IsZero() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ch:
			return nil
		}
	}

	timer := time.NewTimer(max(until.Sub(now), 0))
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-ch:
	case <-timer.C:
	}
	return nil
}

func (b *RequestBudget) UpdateFromResponse(resp *http.Response) {
	if b == nil || resp == nil || b.now == nil {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	changed := false
	if seconds, ok := positiveHeaderInt(resp, "Retry-After"); ok {
		until := b.now().Add(time.Duration(seconds) * time.Second)
		if until.After(b.cooldown) {
			b.cooldown = until
			changed = true
		}
	}
	if v := resp.Header.Get("X-RateLimit-Remaining"); v != "" {
		if remaining, err := strconv.Atoi(v); err == nil && remaining >= 0 && remaining != b.remaining {
			b.remaining = remaining
			changed = true
		}
	}
	if epoch, ok := positiveHeaderInt(resp, "X-RateLimit-Reset"); ok {
		if reset := time.Unix(int64(epoch), 0); !reset.Equal(b.reset) {
			b.reset = reset
			changed = true
		}
	}

	if changed {
		b.probed = false
		close(b.changed)
		b.changed = make(chan struct{})
	}
}

func positiveHeaderInt(resp *http.Response, name string) (int, bool) {
	v := resp.Header.Get(name)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}
