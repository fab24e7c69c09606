// internal/throttle/cooldown.go
package throttle

import (
	"sync"
	"time"
)

// Cooldowns tracks each user's last accepted request in process memory.
// State is lost on restart; a fresh process treats everyone as cooled down,
// which is the accepted trade-off for not persisting it.
type Cooldowns struct {
	mu       sync.Mutex
	window   time.Duration
	lastUsed map[string]time.Time
}

func NewCooldowns(window time.Duration) *Cooldowns {
	return &Cooldowns{
		window:   window,
		lastUsed: make(map[string]time.Time),
	}
}

// Remaining returns how much cooldown the user still has at now. Users never
// seen before have none.
func (c *Cooldowns) Remaining(userID string, now time.Time) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()

	last, ok := c.lastUsed[userID]
	if !ok {
		return 0
	}
	remaining := c.window - now.Sub(last)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Bump restarts the user's cooldown. Call it only after admission succeeds,
// right before the costly work, so retries during a slow downstream call
// keep getting rejected.
func (c *Cooldowns) Bump(userID string, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastUsed[userID] = now
}
