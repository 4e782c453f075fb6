// Package guest bounds how many messages an unauthenticated visitor may send.
//
// The gateway is the source of truth for the cap. The limiter mirrors the count
// locally and, once the gateway reports the cap was reached, blocks further sends
// without a round trip until the visitor authenticates.
package guest

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ashureev/chatdesk/internal/localstate"
)

// ErrLimitReached is returned when a guest send is blocked locally.
var ErrLimitReached = errors.New("guest message limit reached")

// Limiter is a persisted guest message counter.
type Limiter struct {
	mu    sync.Mutex
	store localstate.Store

	count int
	// learned is the cap reported by the gateway, 0 until a limit error is seen.
	learned int
	// configured is an optional local cap, 0 when disabled.
	configured int
}

// NewLimiter creates a limiter seeded from the durable snapshot.
func NewLimiter(store localstate.Store, snap localstate.Snapshot, configuredCap int) *Limiter {
	if configuredCap < 0 {
		configuredCap = 0
	}
	return &Limiter{
		store:      store,
		count:      snap.GuestCount,
		learned:    snap.GuestCap,
		configured: configuredCap,
	}
}

// Count returns the current counter value.
func (l *Limiter) Count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.count
}

// LimitReached reports whether the next guest send would be blocked locally.
func (l *Limiter) LimitReached() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.blockedLocked()
}

func (l *Limiter) blockedLocked() bool {
	if l.learned > 0 && l.count >= l.learned {
		return true
	}
	return l.configured > 0 && l.count >= l.configured
}

// Increment counts one guest send. It returns ErrLimitReached without changing
// the counter when the limit is already known to be reached.
func (l *Limiter) Increment(ctx context.Context) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.blockedLocked() {
		return l.count, ErrLimitReached
	}
	next := l.count + 1
	if err := l.store.SaveGuest(ctx, next, l.learned); err != nil {
		return l.count, fmt.Errorf("persist guest counter: %w", err)
	}
	l.count = next
	return next, nil
}

// Observe records a gateway limit error carrying the gateway's count.
// The counter is set to that count and the limiter latches.
func (l *Limiter) Observe(ctx context.Context, reported int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	count := reported
	if count <= 0 {
		count = l.count
	}
	learned := count
	if learned <= 0 {
		learned = 1
	}
	if err := l.store.SaveGuest(ctx, count, learned); err != nil {
		return fmt.Errorf("persist guest limit: %w", err)
	}
	l.count = count
	l.learned = learned
	return nil
}

// Reset clears the counter and the learned cap.
func (l *Limiter) Reset(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.count == 0 && l.learned == 0 {
		return nil
	}
	if err := l.store.SaveGuest(ctx, 0, 0); err != nil {
		return fmt.Errorf("reset guest counter: %w", err)
	}
	l.count = 0
	l.learned = 0
	return nil
}
