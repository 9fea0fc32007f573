// Package security provides the msgCounter dedup guard used by the
// dispatcher's pending-request matching (§4.4, §8 scenario 5): a response
// callback fires exactly once; any further inbound frame carrying the same
// command_reference is an "unmatched reply" protocol error, not a second
// callback invocation.
package security

import (
	"sync"
	"time"

	"github.com/enbility/eebus-core/internal/logging"
)

// MsgCounterGuard tracks which msgCounters have already been answered
// within a bounded window, so a duplicate or racing reply frame can be
// told apart from the first, legitimate one. Shaped like a windowed
// seen-set with periodic expiry cleanup: map + mutex + time-boxed entries.
type MsgCounterGuard struct {
	window  time.Duration
	maxSize int
	mu      sync.RWMutex
	seen    map[uint64]time.Time
	logger  *logging.Logger
}

// NewMsgCounterGuard creates a guard that remembers answered counters for window.
func NewMsgCounterGuard(window time.Duration, logger *logging.Logger) *MsgCounterGuard {
	return NewMsgCounterGuardWithMaxSize(window, 0, logger)
}

// NewMsgCounterGuardWithMaxSize creates a guard bounded to maxSize tracked
// counters (0 = unlimited).
func NewMsgCounterGuardWithMaxSize(window time.Duration, maxSize int, logger *logging.Logger) *MsgCounterGuard {
	if window <= 0 {
		window = 5 * time.Minute
	}
	return &MsgCounterGuard{
		window:  window,
		maxSize: maxSize,
		seen:    make(map[uint64]time.Time),
		logger:  logger,
	}
}

// MarkAnswered records that counter has now been answered. Returns true if
// this is the first time (the caller should fire its callback), false if
// counter was already answered within the window (the caller should
// translate this frame into an "unmatched reply" result error instead).
func (g *MsgCounterGuard) MarkAnswered(counter uint64) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if len(g.seen)%100 == 0 {
		g.cleanupExpired()
	}

	if seenAt, exists := g.seen[counter]; exists {
		if time.Since(seenAt) < g.window {
			if g.logger != nil {
				g.logger.WithFields(map[string]interface{}{
					"msg_counter": counter,
					"window":      g.window,
				}).Warn("unmatched reply: msgCounter already answered")
			}
			return false
		}
		delete(g.seen, counter)
	}

	if g.maxSize > 0 && len(g.seen) >= g.maxSize {
		g.cleanupExpired()
		if len(g.seen) >= g.maxSize {
			if g.logger != nil {
				g.logger.WithFields(map[string]interface{}{"max_size": g.maxSize}).
					Warn("msgCounter guard at capacity, rejecting")
			}
			return false
		}
	}

	g.seen[counter] = time.Now()
	return true
}

// cleanupExpired removes entries older than the window. Caller must hold g.mu.
func (g *MsgCounterGuard) cleanupExpired() {
	now := time.Now()
	for counter, seenAt := range g.seen {
		if now.Sub(seenAt) > g.window {
			delete(g.seen, counter)
		}
	}
}

// Size returns the number of tracked counters.
func (g *MsgCounterGuard) Size() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.seen)
}

// Clear removes all tracked counters.
func (g *MsgCounterGuard) Clear() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.seen = make(map[uint64]time.Time)
}
