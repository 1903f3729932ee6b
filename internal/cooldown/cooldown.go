// Package cooldown rate-limits commands per user and action.
//
// An action is allowed when strictly more than its window has passed since
// the last allowed call, or when there is no previous call. The timestamp is
// recorded at the moment permission is granted, so a command that later
// fails validation still consumes its cooldown.
package cooldown

import (
	"context"
	"sync"
	"time"

	"github.com/fakecrypto/game-engine/internal/config"
)

// Guard decides whether a user may run an action now.
type Guard interface {
	TryAcquire(ctx context.Context, userID int64, action config.Action) (bool, error)
}

type key struct {
	userID int64
	action config.Action
}

// MemoryGuard keeps cooldown records in process memory.
type MemoryGuard struct {
	windows map[config.Action]time.Duration
	now     func() time.Time

	mu   sync.Mutex
	last map[key]time.Time
}

// NewMemoryGuard creates a guard with the given per-action windows.
// Actions without a window are never limited.
func NewMemoryGuard(windows map[config.Action]time.Duration) *MemoryGuard {
	return &MemoryGuard{
		windows: windows,
		now:     time.Now,
		last:    make(map[key]time.Time),
	}
}

// TryAcquire checks and records in one critical section, so two concurrent
// calls for the same key cannot both succeed.
func (g *MemoryGuard) TryAcquire(_ context.Context, userID int64, action config.Action) (bool, error) {
	window, ok := g.windows[action]
	if !ok || window <= 0 {
		return true, nil
	}

	now := g.now()
	k := key{userID: userID, action: action}

	g.mu.Lock()
	defer g.mu.Unlock()

	if last, seen := g.last[k]; seen && now.Sub(last) <= window {
		return false, nil
	}
	g.last[k] = now
	return true, nil
}

// Prune drops records older than every window. Safe to call periodically.
func (g *MemoryGuard) Prune() int {
	var longest time.Duration
	for _, w := range g.windows {
		if w > longest {
			longest = w
		}
	}
	cutoff := g.now().Add(-longest)

	g.mu.Lock()
	defer g.mu.Unlock()
	removed := 0
	for k, t := range g.last {
		if t.Before(cutoff) {
			delete(g.last, k)
			removed++
		}
	}
	return removed
}
