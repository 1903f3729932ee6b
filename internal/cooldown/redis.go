package cooldown

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fakecrypto/game-engine/internal/config"
)

const keyCooldown = "cooldown:%d:%s"

// acquireScript compares and records in one round trip. The key outlives
// the window by a second so an expiry never races the boundary check.
var acquireScript = redis.NewScript(`
	local now = tonumber(ARGV[1])
	local window = tonumber(ARGV[2])

	local last = redis.call("GET", KEYS[1])
	if last and (now - tonumber(last)) <= window then
		return 0
	end

	redis.call("SET", KEYS[1], now, "PX", window + 1000)
	return 1
`)

// RedisGuard shares cooldown records between instances through Redis.
type RedisGuard struct {
	rdb     *redis.Client
	windows map[config.Action]time.Duration
	now     func() time.Time
}

// NewRedisGuard creates a guard backed by rdb.
func NewRedisGuard(rdb *redis.Client, windows map[config.Action]time.Duration) *RedisGuard {
	return &RedisGuard{rdb: rdb, windows: windows, now: time.Now}
}

func (g *RedisGuard) TryAcquire(ctx context.Context, userID int64, action config.Action) (bool, error) {
	window, ok := g.windows[action]
	if !ok || window <= 0 {
		return true, nil
	}

	key := fmt.Sprintf(keyCooldown, userID, action)
	res, err := acquireScript.Run(ctx, g.rdb, []string{key},
		g.now().UnixMilli(), window.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("cooldown %s: %w", key, err)
	}
	return res == 1, nil
}
