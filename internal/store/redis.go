package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/fakecrypto/game-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache for accounts, which every command reads. Writes go to the primary
// store and invalidate the cached row; reads check Redis first then fall
// back to the primary.
//
// Every invalidation also bumps a per-account generation counter. A reader
// that missed the cache only fills it if the generation is unchanged since
// before its primary read, so a slow reader cannot put back a row that a
// concurrent write already replaced.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) CreateAccount(ctx context.Context, acct *model.Account) (*model.Account, error) {
	gen := s.generation(ctx, acct.UserID)
	stored, err := s.primary.CreateAccount(ctx, acct)
	if err != nil {
		return nil, err
	}
	s.fill(ctx, stored, gen)
	return stored, nil
}

func (s *CachedStore) SetBalance(ctx context.Context, userID int64, balance decimal.Decimal) error {
	defer s.invalidate(ctx, userID)
	return s.primary.SetBalance(ctx, userID, balance)
}

func (s *CachedStore) SetHoldings(ctx context.Context, userID int64, holdings model.Holdings) error {
	defer s.invalidate(ctx, userID)
	return s.primary.SetHoldings(ctx, userID, holdings)
}

func (s *CachedStore) ApplyTrade(ctx context.Context, acct *model.Account, trade *model.Trade) error {
	defer s.invalidate(ctx, acct.UserID)
	return s.primary.ApplyTrade(ctx, acct, trade)
}

func (s *CachedStore) OpenPrediction(ctx context.Context, p *model.Prediction, balance decimal.Decimal) error {
	defer s.invalidate(ctx, p.UserID)
	return s.primary.OpenPrediction(ctx, p, balance)
}

func (s *CachedStore) SettlePrediction(ctx context.Context, st model.Settlement) (bool, error) {
	applied, err := s.primary.SettlePrediction(ctx, st)
	if applied {
		s.invalidate(ctx, st.UserID)
	}
	return applied, err
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetAccount(ctx context.Context, userID int64) (*model.Account, error) {
	data, err := s.rdb.Get(ctx, accountKey(userID)).Bytes()
	if err == nil {
		var a model.Account
		if json.Unmarshal(data, &a) == nil {
			if a.Holdings == nil {
				a.Holdings = model.Holdings{}
			}
			return &a, nil
		}
	}

	// Cache miss: read from primary.
	gen := s.generation(ctx, userID)
	a, err := s.primary.GetAccount(ctx, userID)
	if err != nil {
		return nil, err
	}
	s.fill(ctx, a, gen)
	return a, nil
}

// GetAccountForUpdate skips Redis in both directions.
func (s *CachedStore) GetAccountForUpdate(ctx context.Context, userID int64) (*model.Account, error) {
	return s.primary.GetAccountForUpdate(ctx, userID)
}

// --- Passthrough (not cached) ---

func (s *CachedStore) ListAccounts(ctx context.Context) ([]model.Account, error) {
	return s.primary.ListAccounts(ctx)
}

func (s *CachedStore) TradesByUser(ctx context.Context, userID int64, limit int) ([]model.Trade, error) {
	return s.primary.TradesByUser(ctx, userID, limit)
}

func (s *CachedStore) GetPrediction(ctx context.Context, id string) (*model.Prediction, error) {
	return s.primary.GetPrediction(ctx, id)
}

func (s *CachedStore) ListOpenPredictions(ctx context.Context) ([]model.Prediction, error) {
	return s.primary.ListOpenPredictions(ctx)
}

func (s *CachedStore) ListDuePredictions(ctx context.Context, now time.Time) ([]model.Prediction, error) {
	return s.primary.ListDuePredictions(ctx, now)
}

func (s *CachedStore) Stats(ctx context.Context, since time.Time) (*model.AdminStats, error) {
	return s.primary.Stats(ctx, since)
}

// --- Cache helpers ---

// fillScript sets the account only while the generation still matches.
var fillScript = redis.NewScript(`
	local gen = redis.call("GET", KEYS[2]) or "0"
	if gen ~= ARGV[1] then
		return 0
	end
	redis.call("SET", KEYS[1], ARGV[2], "PX", ARGV[3])
	return 1
`)

// generation returns the account's current generation. An unreadable
// counter yields "" which no fill will match.
func (s *CachedStore) generation(ctx context.Context, userID int64) string {
	gen, err := s.rdb.Get(ctx, generationKey(userID)).Result()
	switch {
	case err == redis.Nil:
		return "0"
	case err != nil:
		return ""
	}
	return gen
}

func (s *CachedStore) fill(ctx context.Context, a *model.Account, gen string) {
	if gen == "" {
		return
	}
	data, err := json.Marshal(a)
	if err != nil {
		return
	}
	fillScript.Run(ctx, s.rdb, []string{accountKey(a.UserID), generationKey(a.UserID)},
		gen, data, s.ttl.Milliseconds())
}

// invalidate runs after the primary write whether or not it failed.
func (s *CachedStore) invalidate(ctx context.Context, userID int64) {
	s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, generationKey(userID))
		pipe.Del(ctx, accountKey(userID))
		return nil
	})
}

func accountKey(userID int64) string    { return fmt.Sprintf("account:%d", userID) }
func generationKey(userID int64) string { return fmt.Sprintf("account:%d:gen", userID) }
