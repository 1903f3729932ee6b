// Package model defines the core domain types shared across the game engine.
// All monetary values and quantities use shopspring/decimal. Spot prices
// arrive as float64 from the provider and are converted at the ledger edge.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Holdings maps an asset symbol to the quantity held. Symbols with a zero
// quantity are removed rather than stored.
type Holdings map[string]decimal.Decimal

// Clone returns an independent copy.
func (h Holdings) Clone() Holdings {
	out := make(Holdings, len(h))
	for sym, qty := range h {
		out[sym] = qty
	}
	return out
}

// Account is a player's cash balance and crypto holdings.
// Created lazily on first interaction, never deleted.
type Account struct {
	UserID      int64           `json:"user_id" db:"user_id"`
	Balance     decimal.Decimal `json:"balance" db:"balance"`
	Holdings    Holdings        `json:"holdings" db:"holdings"`
	TotalTrades int64           `json:"total_trades" db:"total_trades"`
	JoinedAt    time.Time       `json:"joined_at" db:"joined_at"`
	LastActive  time.Time       `json:"last_active" db:"last_active"`
}

// Clone returns a deep copy of the account.
func (a *Account) Clone() *Account {
	c := *a
	c.Holdings = a.Holdings.Clone()
	return &c
}

// Side is the direction of a trade.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Trade is an immutable record of a completed buy or sell.
type Trade struct {
	ID        string          `json:"id" db:"id"`
	UserID    int64           `json:"user_id" db:"user_id"`
	Symbol    string          `json:"symbol" db:"symbol"`
	Side      Side            `json:"side" db:"side"`
	Quantity  decimal.Decimal `json:"quantity" db:"quantity"`
	Price     decimal.Decimal `json:"price" db:"price"` // unit price
	Total     decimal.Decimal `json:"total" db:"total"` // cash moved: amount spent on a buy, proceeds rounded to cents on a sell
	Timestamp time.Time       `json:"timestamp" db:"created_at"`
}

// Direction is the predicted price movement.
type Direction string

const (
	DirectionUp   Direction = "UP"
	DirectionDown Direction = "DOWN"
)

// PredictionStatus is the lifecycle state of a prediction.
// Open is the only non-terminal state.
type PredictionStatus string

const (
	PredictionOpen     PredictionStatus = "open"
	PredictionWon      PredictionStatus = "won"
	PredictionLost     PredictionStatus = "lost"
	PredictionRefunded PredictionStatus = "refunded"
)

// Terminal reports whether the status is final.
func (s PredictionStatus) Terminal() bool {
	return s == PredictionWon || s == PredictionLost || s == PredictionRefunded
}

// Prediction is a deferred bet on the direction of a symbol's price.
// The bet is debited at creation; settlement credits the payout.
type Prediction struct {
	ID         string              `json:"id" db:"id"`
	UserID     int64               `json:"user_id" db:"user_id"`
	ChatID     int64               `json:"chat_id" db:"chat_id"` // where the final message goes
	Symbol     string              `json:"symbol" db:"symbol"`
	Direction  Direction           `json:"direction" db:"direction"`
	Bet        decimal.Decimal     `json:"bet" db:"bet"`
	StartPrice decimal.Decimal     `json:"start_price" db:"start_price"`
	EndPrice   decimal.NullDecimal `json:"end_price" db:"end_price"`
	OpenedAt   time.Time           `json:"opened_at" db:"opened_at"`
	DueAt      time.Time           `json:"due_at" db:"due_at"`
	ResolvedAt *time.Time          `json:"resolved_at,omitempty" db:"resolved_at"`
	Status     PredictionStatus    `json:"status" db:"status"`
	Payout     decimal.Decimal     `json:"payout" db:"payout"`
}

// Settlement is the terminal transition applied to an open prediction.
// Payout is credited to the owner's balance in the same write.
type Settlement struct {
	PredictionID string
	UserID       int64
	Status       PredictionStatus
	EndPrice     decimal.NullDecimal // invalid on refund
	Payout       decimal.Decimal
	ResolvedAt   time.Time
}

// AdminStats aggregates economy-wide figures.
type AdminStats struct {
	TotalUsers      int64           `json:"total_users"`
	TotalTrades     int64           `json:"total_trades"`
	ActiveUsers     int64           `json:"active_users"` // distinct traders since the cutoff
	TotalCash       decimal.Decimal `json:"total_cash"`
	OpenPredictions int64           `json:"open_predictions"`
}
