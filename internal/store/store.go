// Package store defines the persistence interface for the game engine.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// account cache), and in-memory (for testing).
package store

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/fakecrypto/game-engine/internal/model"
)

// ErrNotFound is returned when the requested row does not exist.
var ErrNotFound = errors.New("store: not found")

// Store is the persistence interface. Every method that touches more than
// one row applies all of its writes or none of them.
type Store interface {
	// --- Account operations ---

	// GetAccount returns the account for userID or ErrNotFound.
	GetAccount(ctx context.Context, userID int64) (*model.Account, error)

	// GetAccountForUpdate is GetAccount read from the source of truth,
	// never from a cache. Read-modify-write cycles must use it.
	GetAccountForUpdate(ctx context.Context, userID int64) (*model.Account, error)

	// CreateAccount inserts acct unless one already exists for its user and
	// returns whichever row is stored afterwards.
	CreateAccount(ctx context.Context, acct *model.Account) (*model.Account, error)

	// SetBalance overwrites the cash balance.
	SetBalance(ctx context.Context, userID int64, balance decimal.Decimal) error

	// SetHoldings overwrites the holdings mapping.
	SetHoldings(ctx context.Context, userID int64, holdings model.Holdings) error

	// ListAccounts returns every account.
	ListAccounts(ctx context.Context) ([]model.Account, error)

	// --- Trades ---

	// ApplyTrade writes acct's balance and holdings, appends trade and
	// increments the trade counter in one transaction.
	ApplyTrade(ctx context.Context, acct *model.Account, trade *model.Trade) error

	// TradesByUser returns the most recent trades for a user, newest first.
	TradesByUser(ctx context.Context, userID int64, limit int) ([]model.Trade, error)

	// --- Predictions ---

	// OpenPrediction persists p and sets the owner's balance to balance
	// (the escrow debit) in one transaction.
	OpenPrediction(ctx context.Context, p *model.Prediction, balance decimal.Decimal) error

	// GetPrediction returns a prediction by ID or ErrNotFound.
	GetPrediction(ctx context.Context, id string) (*model.Prediction, error)

	// ListOpenPredictions returns every prediction still open.
	ListOpenPredictions(ctx context.Context) ([]model.Prediction, error)

	// ListDuePredictions returns open predictions whose deadline is at or
	// before now, oldest first.
	ListDuePredictions(ctx context.Context, now time.Time) ([]model.Prediction, error)

	// SettlePrediction moves an open prediction to a terminal state and
	// credits the payout. It reports false, with no writes, when the
	// prediction is missing or already settled.
	SettlePrediction(ctx context.Context, s model.Settlement) (bool, error)

	// --- Aggregates ---

	// Stats returns economy-wide figures; active users are distinct traders
	// since the given time.
	Stats(ctx context.Context, since time.Time) (*model.AdminStats, error)
}
