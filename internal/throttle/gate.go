// internal/throttle/gate.go
package throttle

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// Gate bounds summarization work at two levels: a global semaphore caps how
// many model calls are in flight at once, and a per-guild lock keeps one
// guild's requests strictly sequential. Guild locks are created on first use
// and kept for the life of the process.
type Gate struct {
	slots *semaphore.Weighted

	mu     sync.Mutex
	guilds map[string]*sync.Mutex
}

func NewGate(capacity int) *Gate {
	return &Gate{
		slots:  semaphore.NewWeighted(int64(capacity)),
		guilds: make(map[string]*sync.Mutex),
	}
}

// Acquire blocks until both a global slot and the guild lock are held, in
// that order; taking the guild lock first would let one busy guild starve
// the others while it waits on a slot. The returned release func gives both
// back in reverse order. Waiting is unbounded.
func (g *Gate) Acquire(ctx context.Context, guildID string) (release func(), err error) {
	if err := g.slots.Acquire(ctx, 1); err != nil {
		return nil, err
	}

	lock := g.guildLock(guildID)
	lock.Lock()

	return func() {
		lock.Unlock()
		g.slots.Release(1)
	}, nil
}

func (g *Gate) guildLock(guildID string) *sync.Mutex {
	g.mu.Lock()
	defer g.mu.Unlock()

	lock, ok := g.guilds[guildID]
	if !ok {
		lock = &sync.Mutex{}
		g.guilds[guildID] = lock
	}
	return lock
}
