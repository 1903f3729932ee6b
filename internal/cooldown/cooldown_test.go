package cooldown

import (
	"context"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fakecrypto/game-engine/internal/config"
)

var windows = map[config.Action]time.Duration{
	config.ActionBuy:     3 * time.Second,
	config.ActionPredict: 5 * time.Second,
}

type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newMemoryGuard() (*MemoryGuard, *clock) {
	clk := &clock{t: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	g := NewMemoryGuard(windows)
	g.now = clk.now
	return g, clk
}

func acquire(t *testing.T, g Guard, user int64, action config.Action) bool {
	t.Helper()
	ok, err := g.TryAcquire(context.Background(), user, action)
	require.NoError(t, err)
	return ok
}

func TestMemoryGuard_WindowBoundary(t *testing.T) {
	g, clk := newMemoryGuard()

	assert.True(t, acquire(t, g, 1, config.ActionBuy), "first call")
	assert.False(t, acquire(t, g, 1, config.ActionBuy), "immediate repeat")

	clk.advance(3 * time.Second)
	assert.False(t, acquire(t, g, 1, config.ActionBuy), "elapsed == window is still inside")

	clk.advance(time.Millisecond)
	assert.True(t, acquire(t, g, 1, config.ActionBuy), "elapsed > window")
}

func TestMemoryGuard_RejectionDoesNotExtend(t *testing.T) {
	g, clk := newMemoryGuard()

	require.True(t, acquire(t, g, 1, config.ActionBuy))
	clk.advance(2 * time.Second)
	require.False(t, acquire(t, g, 1, config.ActionBuy))

	// Measured from the first call, not the rejected one.
	clk.advance(1001 * time.Millisecond)
	assert.True(t, acquire(t, g, 1, config.ActionBuy))
}

func TestMemoryGuard_KeysAreIndependent(t *testing.T) {
	g, _ := newMemoryGuard()

	require.True(t, acquire(t, g, 1, config.ActionBuy))
	assert.True(t, acquire(t, g, 2, config.ActionBuy), "other user")
	assert.True(t, acquire(t, g, 1, config.ActionPredict), "other action")
	assert.True(t, acquire(t, g, 1, config.ActionSlots), "unconfigured action is unlimited")
	assert.True(t, acquire(t, g, 1, config.ActionSlots))
}

func TestMemoryGuard_ConcurrentCallersSingleWinner(t *testing.T) {
	g, _ := newMemoryGuard()

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, _ := g.TryAcquire(context.Background(), 7, config.ActionBuy); ok {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())
}

func TestMemoryGuard_Prune(t *testing.T) {
	g, clk := newMemoryGuard()
	require.True(t, acquire(t, g, 1, config.ActionBuy))
	require.True(t, acquire(t, g, 2, config.ActionPredict))

	clk.advance(4 * time.Second)
	assert.Equal(t, 0, g.Prune(), "records younger than the longest window are kept")

	clk.advance(2 * time.Second)
	assert.Equal(t, 2, g.Prune())
}

func TestRedisGuard(t *testing.T) {
	url := os.Getenv("TEST_REDIS_URL")
	if url == "" {
		t.Skip("TEST_REDIS_URL not set")
	}
	opt, err := redis.ParseURL(url)
	require.NoError(t, err)
	rdb := redis.NewClient(opt)
	defer rdb.Close()
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		t.Skipf("Redis not available: %v", err)
	}

	clk := &clock{t: time.Now()}
	g := NewRedisGuard(rdb, windows)
	g.now = clk.now

	user := clk.t.UnixNano() // unique per run
	defer rdb.Del(context.Background(), fmt.Sprintf(keyCooldown, user, config.ActionBuy))

	assert.True(t, acquire(t, g, user, config.ActionBuy))
	assert.False(t, acquire(t, g, user, config.ActionBuy))
	clk.advance(3 * time.Second)
	assert.False(t, acquire(t, g, user, config.ActionBuy))
	clk.advance(time.Millisecond)
	assert.True(t, acquire(t, g, user, config.ActionBuy))
}
