package ledger

import (
	"context"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/fakecrypto/game-engine/internal/model"
)

// Position is one holding valued at the current price.
type Position struct {
	Symbol   string
	Quantity decimal.Decimal
	Price    decimal.Decimal // zero when no price is available
	Value    decimal.Decimal
	Priced   bool
}

// Portfolio is an account valued at current prices.
type Portfolio struct {
	Account       *model.Account
	Positions     []Position // sorted by symbol
	HoldingsValue decimal.Decimal
	NetWorth      decimal.Decimal
}

// Portfolio values the player's holdings at current prices.
func (l *Ledger) Portfolio(ctx context.Context, userID int64) (*Portfolio, error) {
	acct, err := l.GetAccount(ctx, userID)
	if err != nil {
		return nil, err
	}
	prices := l.prices.Prices(ctx)

	pf := &Portfolio{Account: acct, HoldingsValue: decimal.Zero}
	for sym, qty := range acct.Holdings {
		pos := Position{Symbol: sym, Quantity: qty, Price: decimal.Zero, Value: decimal.Zero}
		if p, ok := prices[sym]; ok {
			pos.Price = decimal.NewFromFloat(p)
			pos.Value = qty.Mul(pos.Price)
			pos.Priced = true
		}
		pf.HoldingsValue = pf.HoldingsValue.Add(pos.Value)
		pf.Positions = append(pf.Positions, pos)
	}
	sort.Slice(pf.Positions, func(i, j int) bool { return pf.Positions[i].Symbol < pf.Positions[j].Symbol })
	pf.NetWorth = acct.Balance.Add(pf.HoldingsValue)
	return pf, nil
}

// Standing is one leaderboard row.
type Standing struct {
	Rank          int
	UserID        int64
	Cash          decimal.Decimal
	HoldingsValue decimal.Decimal
	NetWorth      decimal.Decimal
	TotalTrades   int64
}

// Leaderboard ranks every account by net worth, highest first. Ties go to
// the lower user ID. limit <= 0 returns every account.
func (l *Ledger) Leaderboard(ctx context.Context, limit int) ([]Standing, error) {
	accounts, err := l.store.ListAccounts(ctx)
	if err != nil {
		return nil, err
	}
	prices := l.prices.Prices(ctx)

	rows := make([]Standing, 0, len(accounts))
	for _, a := range accounts {
		value := ComputeHoldingsValue(a.Holdings, prices)
		rows = append(rows, Standing{
			UserID:        a.UserID,
			Cash:          a.Balance,
			HoldingsValue: value,
			NetWorth:      a.Balance.Add(value),
			TotalTrades:   a.TotalTrades,
		})
	}
	sort.Slice(rows, func(i, j int) bool {
		if c := rows[i].NetWorth.Cmp(rows[j].NetWorth); c != 0 {
			return c > 0
		}
		return rows[i].UserID < rows[j].UserID
	})
	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
	}
	for i := range rows {
		rows[i].Rank = i + 1
	}
	return rows, nil
}

// PlayerStats summarizes one player's performance.
type PlayerStats struct {
	Portfolio    *Portfolio
	ProfitLoss   decimal.Decimal // net worth minus starting balance
	RecentTrades []model.Trade   // newest first
}

const recentTradeCount = 5

// PlayerStats reports profit and loss against the starting balance along
// with the player's latest trades.
func (l *Ledger) PlayerStats(ctx context.Context, userID int64) (*PlayerStats, error) {
	pf, err := l.Portfolio(ctx, userID)
	if err != nil {
		return nil, err
	}
	trades, err := l.store.TradesByUser(ctx, userID, recentTradeCount)
	if err != nil {
		return nil, err
	}
	return &PlayerStats{
		Portfolio:    pf,
		ProfitLoss:   pf.NetWorth.Sub(l.starting),
		RecentTrades: trades,
	}, nil
}

// EconomyStats returns economy-wide figures with a 24 hour activity window.
func (l *Ledger) EconomyStats(ctx context.Context) (*model.AdminStats, error) {
	return l.store.Stats(ctx, l.now().Add(-24*time.Hour))
}
