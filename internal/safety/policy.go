package safety

import (
	"sync"
	"time"

	"github.com/cmiguez/smepro/internal/domain"
)

// Policy decides how to escalate repeated moderation flags. Thresholds
// come from configuration, not constants.
type Policy struct {
	Threshold       int
	Window          time.Duration
	LockoutDuration time.Duration
}

// Decide maps a user's recent flag count (including the current flag) to
// an action. Reaching the threshold inside the window locks the user out.
func (p Policy) Decide(recentFlags int) domain.FlagAction {
	if p.Threshold > 0 && recentFlags >= p.Threshold {
		return domain.ActionLockout
	}
	return domain.ActionWarn
}

// lockoutRegistry tracks active lockouts in memory. Expiry is purely
// clock-based: a lockout lifts the moment its end time passes, with no
// sweep needed.
type lockoutRegistry struct {
	mu   sync.Mutex
	ends map[string]time.Time
}

func newLockoutRegistry() *lockoutRegistry {
	return &lockoutRegistry{ends: make(map[string]time.Time)}
}

func (r *lockoutRegistry) lock(userID string, until time.Time) {
	r.mu.Lock()
	r.ends[userID] = until
	r.mu.Unlock()
}

// end returns the lockout end time for the user, or the zero time when
// no lockout is active.
func (r *lockoutRegistry) end(userID string, now time.Time) time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	until, ok := r.ends[userID]
	if !ok {
		return time.Time{}
	}
	if !now.Before(until) {
		delete(r.ends, userID)
		return time.Time{}
	}
	return until
}
