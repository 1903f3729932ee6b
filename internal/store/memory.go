package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/fakecrypto/game-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu          sync.RWMutex
	accounts    map[int64]*model.Account
	trades      []model.Trade
	predictions map[string]*model.Prediction
	now         func() time.Time
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts:    make(map[int64]*model.Account),
		predictions: make(map[string]*model.Prediction),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

func (s *MemoryStore) GetAccount(_ context.Context, userID int64) (*model.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.accounts[userID]
	if !ok {
		return nil, fmt.Errorf("account %d: %w", userID, ErrNotFound)
	}
	return a.Clone(), nil
}

func (s *MemoryStore) GetAccountForUpdate(ctx context.Context, userID int64) (*model.Account, error) {
	return s.GetAccount(ctx, userID)
}

func (s *MemoryStore) CreateAccount(_ context.Context, acct *model.Account) (*model.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.accounts[acct.UserID]; ok {
		return existing.Clone(), nil
	}
	// Store a copy to avoid external mutation.
	s.accounts[acct.UserID] = acct.Clone()
	return acct.Clone(), nil
}

func (s *MemoryStore) SetBalance(_ context.Context, userID int64, balance decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.accounts[userID]
	if !ok {
		return fmt.Errorf("account %d: %w", userID, ErrNotFound)
	}
	a.Balance = balance
	a.LastActive = s.now()
	return nil
}

func (s *MemoryStore) SetHoldings(_ context.Context, userID int64, holdings model.Holdings) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.accounts[userID]
	if !ok {
		return fmt.Errorf("account %d: %w", userID, ErrNotFound)
	}
	a.Holdings = holdings.Clone()
	a.LastActive = s.now()
	return nil
}

func (s *MemoryStore) ListAccounts(_ context.Context) ([]model.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	accounts := make([]model.Account, 0, len(s.accounts))
	for _, a := range s.accounts {
		accounts = append(accounts, *a.Clone())
	}
	return accounts, nil
}

func (s *MemoryStore) ApplyTrade(_ context.Context, acct *model.Account, trade *model.Trade) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.accounts[acct.UserID]
	if !ok {
		return fmt.Errorf("account %d: %w", acct.UserID, ErrNotFound)
	}
	a.Balance = acct.Balance
	a.Holdings = acct.Holdings.Clone()
	a.TotalTrades++
	a.LastActive = s.now()
	s.trades = append(s.trades, *trade)
	return nil
}

func (s *MemoryStore) TradesByUser(_ context.Context, userID int64, limit int) ([]model.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Trade
	for i := len(s.trades) - 1; i >= 0; i-- {
		if s.trades[i].UserID != userID {
			continue
		}
		result = append(result, s.trades[i])
		if limit > 0 && len(result) == limit {
			break
		}
	}
	return result, nil
}

func (s *MemoryStore) OpenPrediction(_ context.Context, p *model.Prediction, balance decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.accounts[p.UserID]
	if !ok {
		return fmt.Errorf("account %d: %w", p.UserID, ErrNotFound)
	}
	if _, exists := s.predictions[p.ID]; exists {
		return fmt.Errorf("prediction %s already exists", p.ID)
	}
	cp := *p
	s.predictions[p.ID] = &cp
	a.Balance = balance
	a.LastActive = s.now()
	return nil
}

func (s *MemoryStore) GetPrediction(_ context.Context, id string) (*model.Prediction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.predictions[id]
	if !ok {
		return nil, fmt.Errorf("prediction %s: %w", id, ErrNotFound)
	}
	cp := *p
	return &cp, nil
}

func (s *MemoryStore) ListOpenPredictions(_ context.Context) ([]model.Prediction, error) {
	return s.listPredictions(func(p *model.Prediction) bool {
		return p.Status == model.PredictionOpen
	}), nil
}

func (s *MemoryStore) ListDuePredictions(_ context.Context, now time.Time) ([]model.Prediction, error) {
	return s.listPredictions(func(p *model.Prediction) bool {
		return p.Status == model.PredictionOpen && !p.DueAt.After(now)
	}), nil
}

func (s *MemoryStore) listPredictions(keep func(*model.Prediction) bool) []model.Prediction {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Prediction
	for _, p := range s.predictions {
		if keep(p) {
			result = append(result, *p)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].DueAt.Before(result[j].DueAt) })
	return result
}

// SettlePrediction performs the open -> terminal check and the payout
// credit under one lock, so a second call for the same ID is a no-op.
func (s *MemoryStore) SettlePrediction(_ context.Context, st model.Settlement) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.predictions[st.PredictionID]
	if !ok || p.Status != model.PredictionOpen {
		return false, nil
	}
	a, ok := s.accounts[p.UserID]
	if !ok {
		return false, nil
	}

	resolvedAt := st.ResolvedAt
	p.Status = st.Status
	p.EndPrice = st.EndPrice
	p.Payout = st.Payout
	p.ResolvedAt = &resolvedAt
	a.Balance = a.Balance.Add(st.Payout)
	a.LastActive = s.now()
	return true, nil
}

func (s *MemoryStore) Stats(_ context.Context, since time.Time) (*model.AdminStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := &model.AdminStats{
		TotalUsers:  int64(len(s.accounts)),
		TotalTrades: int64(len(s.trades)),
	}
	for _, a := range s.accounts {
		stats.TotalCash = stats.TotalCash.Add(a.Balance)
	}
	active := make(map[int64]struct{})
	for _, t := range s.trades {
		if t.Timestamp.After(since) {
			active[t.UserID] = struct{}{}
		}
	}
	stats.ActiveUsers = int64(len(active))
	for _, p := range s.predictions {
		if p.Status == model.PredictionOpen {
			stats.OpenPredictions++
		}
	}
	return stats, nil
}
