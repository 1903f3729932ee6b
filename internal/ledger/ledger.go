// Package ledger owns player balances and holdings.
//
// Every mutation runs under a per-account lock and reads the current row
// before writing it back, so two commands from the same player cannot lose
// each other's update. Writes that touch more than one record (buy, sell,
// prediction escrow, settlement) go through a single compound store call.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/fakecrypto/game-engine/internal/limits"
	"github.com/fakecrypto/game-engine/internal/metrics"
	"github.com/fakecrypto/game-engine/internal/model"
	"github.com/fakecrypto/game-engine/internal/store"
)

var (
	ErrUnsupportedSymbol = errors.New("ledger: unsupported symbol")
	ErrNonPositiveAmount = errors.New("ledger: amount must be positive")
	ErrInsufficientFunds = errors.New("ledger: insufficient funds")
	ErrPriceUnavailable  = errors.New("ledger: price unavailable")
	ErrNoHolding         = errors.New("ledger: no holding")
)

// InsufficientFundsError reports the balance that was too small.
// It matches ErrInsufficientFunds with errors.Is.
type InsufficientFundsError struct {
	Balance decimal.Decimal
	Needed  decimal.Decimal
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("ledger: insufficient funds: have %s, need %s", e.Balance.StringFixed(2), e.Needed.StringFixed(2))
}

func (e *InsufficientFundsError) Is(target error) bool { return target == ErrInsufficientFunds }

// PriceSource supplies spot prices keyed by ticker.
type PriceSource interface {
	Prices(ctx context.Context) map[string]float64
}

// Options configures a Ledger.
type Options struct {
	StartingBalance decimal.Decimal
	Symbols         []string // supported tickers
	Limiter         *limits.BetLimiter
	Logger          *slog.Logger
}

type Ledger struct {
	store    store.Store
	prices   PriceSource
	starting decimal.Decimal
	symbols  map[string]bool
	limiter  *limits.BetLimiter
	locks    *accountLocks
	now      func() time.Time
	log      *slog.Logger
}

// New creates a ledger over st.
func New(st store.Store, prices PriceSource, opts Options) *Ledger {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	symbols := make(map[string]bool, len(opts.Symbols))
	for _, s := range opts.Symbols {
		symbols[s] = true
	}
	return &Ledger{
		store:    st,
		prices:   prices,
		starting: opts.StartingBalance,
		symbols:  symbols,
		limiter:  opts.Limiter,
		locks:    newAccountLocks(),
		now:      func() time.Time { return time.Now().UTC() },
		log:      opts.Logger,
	}
}

// Supported reports whether ticker can be traded.
func (l *Ledger) Supported(ticker string) bool { return l.symbols[ticker] }

// StartingBalance is the balance new accounts open with.
func (l *Ledger) StartingBalance() decimal.Decimal { return l.starting }

// --- Account primitives ---

// GetAccount returns the player's account, creating it with the starting
// balance on first use.
func (l *Ledger) GetAccount(ctx context.Context, userID int64) (*model.Account, error) {
	return l.loadAccount(ctx, userID, l.store.GetAccount)
}

func (l *Ledger) loadAccount(ctx context.Context, userID int64, read func(context.Context, int64) (*model.Account, error)) (*model.Account, error) {
	acct, err := read(ctx, userID)
	if err == nil {
		return acct, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	now := l.now()
	acct, err = l.store.CreateAccount(ctx, &model.Account{
		UserID:     userID,
		Balance:    l.starting,
		Holdings:   model.Holdings{},
		JoinedAt:   now,
		LastActive: now,
	})
	if err != nil {
		return nil, err
	}
	l.log.Info("account created", "user", userID, "balance", acct.Balance.String())
	return acct, nil
}

// SetBalance overwrites a player's cash balance.
func (l *Ledger) SetBalance(ctx context.Context, userID int64, balance decimal.Decimal) error {
	return l.withAccount(ctx, userID, func(*model.Account) error {
		return l.store.SetBalance(ctx, userID, balance)
	})
}

// SetHoldings overwrites a player's holdings.
func (l *Ledger) SetHoldings(ctx context.Context, userID int64, holdings model.Holdings) error {
	return l.withAccount(ctx, userID, func(*model.Account) error {
		return l.store.SetHoldings(ctx, userID, holdings)
	})
}

// withAccount runs fn with the account locked and freshly read from the
// primary store. fn writes absolute values, so a cached copy here would
// undo whatever changed since it was cached.
func (l *Ledger) withAccount(ctx context.Context, userID int64, fn func(acct *model.Account) error) error {
	unlock := l.locks.lock(userID)
	defer unlock()

	acct, err := l.loadAccount(ctx, userID, l.store.GetAccountForUpdate)
	if err != nil {
		return err
	}
	if acct.Holdings == nil {
		acct.Holdings = model.Holdings{}
	}
	return fn(acct)
}

// ComputeHoldingsValue sums quantity * price. A symbol missing from
// prices contributes zero.
func ComputeHoldingsValue(holdings model.Holdings, prices map[string]float64) decimal.Decimal {
	total := decimal.Zero
	for sym, qty := range holdings {
		p, ok := prices[sym]
		if !ok {
			continue
		}
		total = total.Add(qty.Mul(decimal.NewFromFloat(p)))
	}
	return total
}

// --- Trading ---

// TradeResult is a completed trade and the account after it.
type TradeResult struct {
	Trade   model.Trade
	Account *model.Account
}

// Buy spends amount of cash on symbol at the current price.
func (l *Ledger) Buy(ctx context.Context, userID int64, symbol string, amount decimal.Decimal) (*TradeResult, error) {
	if !l.Supported(symbol) {
		return nil, ErrUnsupportedSymbol
	}
	if !amount.IsPositive() {
		return nil, ErrNonPositiveAmount
	}
	price, ok := l.prices.Prices(ctx)[symbol]
	if !ok || price <= 0 {
		return nil, ErrPriceUnavailable
	}
	unitPrice := decimal.NewFromFloat(price)

	var result *TradeResult
	err := l.withAccount(ctx, userID, func(acct *model.Account) error {
		if amount.GreaterThan(acct.Balance) {
			return &InsufficientFundsError{Balance: acct.Balance, Needed: amount}
		}

		qty := amount.DivRound(unitPrice, 12)
		acct.Balance = acct.Balance.Sub(amount)
		acct.Holdings[symbol] = acct.Holdings[symbol].Add(qty)

		trade := model.Trade{
			ID:        uuid.New().String(),
			UserID:    userID,
			Symbol:    symbol,
			Side:      model.SideBuy,
			Quantity:  qty,
			Price:     unitPrice,
			Total:     amount,
			Timestamp: l.now(),
		}
		if err := l.store.ApplyTrade(ctx, acct, &trade); err != nil {
			return fmt.Errorf("apply buy for %d: %w", userID, err)
		}
		acct.TotalTrades++
		result = &TradeResult{Trade: trade, Account: acct}
		return nil
	})
	if err != nil {
		return nil, err
	}

	l.recordTrade(result.Trade)
	return result, nil
}

// Sell liquidates the player's whole position in symbol.
func (l *Ledger) Sell(ctx context.Context, userID int64, symbol string) (*TradeResult, error) {
	if !l.Supported(symbol) {
		return nil, ErrUnsupportedSymbol
	}

	var result *TradeResult
	err := l.withAccount(ctx, userID, func(acct *model.Account) error {
		qty := acct.Holdings[symbol]
		if !qty.IsPositive() {
			return ErrNoHolding
		}
		price, ok := l.prices.Prices(ctx)[symbol]
		if !ok || price <= 0 {
			return ErrPriceUnavailable
		}
		unitPrice := decimal.NewFromFloat(price)

		proceeds := qty.Mul(unitPrice).Round(2)
		acct.Balance = acct.Balance.Add(proceeds)
		delete(acct.Holdings, symbol)

		trade := model.Trade{
			ID:        uuid.New().String(),
			UserID:    userID,
			Symbol:    symbol,
			Side:      model.SideSell,
			Quantity:  qty,
			Price:     unitPrice,
			Total:     proceeds,
			Timestamp: l.now(),
		}
		if err := l.store.ApplyTrade(ctx, acct, &trade); err != nil {
			return fmt.Errorf("apply sell for %d: %w", userID, err)
		}
		acct.TotalTrades++
		result = &TradeResult{Trade: trade, Account: acct}
		return nil
	})
	if err != nil {
		return nil, err
	}

	l.recordTrade(result.Trade)
	return result, nil
}

func (l *Ledger) recordTrade(t model.Trade) {
	side := string(t.Side)
	metrics.TradesTotal.WithLabelValues(side).Inc()
	metrics.TradeVolume.WithLabelValues(t.Symbol, side).Add(t.Total.InexactFloat64())

	l.log.Info("trade executed",
		"trade_id", t.ID,
		"user", t.UserID,
		"symbol", t.Symbol,
		"side", side,
		"qty", t.Quantity.String(),
		"price", t.Price.String(),
		"total", t.Total.String(),
	)
}

// --- Wagers ---

// checkBet applies the rules shared by every wager.
func (l *Ledger) checkBet(bet, balance decimal.Decimal) error {
	if !bet.IsPositive() {
		return ErrNonPositiveAmount
	}
	if bet.GreaterThan(balance) {
		return &InsufficientFundsError{Balance: balance, Needed: bet}
	}
	return l.limiter.Check(bet, balance)
}

// PlaceWager validates bet against the balance, then calls play and moves
// the balance by the net amount it returns. play runs only when the bet is
// accepted, with the account locked.
func (l *Ledger) PlaceWager(ctx context.Context, userID int64, bet decimal.Decimal, play func() (net decimal.Decimal)) (*model.Account, error) {
	var after *model.Account
	err := l.withAccount(ctx, userID, func(acct *model.Account) error {
		if err := l.checkBet(bet, acct.Balance); err != nil {
			return err
		}
		acct.Balance = acct.Balance.Add(play())
		if err := l.store.SetBalance(ctx, userID, acct.Balance); err != nil {
			return fmt.Errorf("settle wager for %d: %w", userID, err)
		}
		after = acct
		return nil
	})
	return after, err
}

// --- Predictions ---

// OpenPrediction debits p.Bet and persists p in one write.
func (l *Ledger) OpenPrediction(ctx context.Context, p *model.Prediction) (*model.Account, error) {
	var after *model.Account
	err := l.withAccount(ctx, p.UserID, func(acct *model.Account) error {
		if err := l.checkBet(p.Bet, acct.Balance); err != nil {
			return err
		}
		acct.Balance = acct.Balance.Sub(p.Bet)
		if err := l.store.OpenPrediction(ctx, p, acct.Balance); err != nil {
			return fmt.Errorf("open prediction for %d: %w", p.UserID, err)
		}
		after = acct
		return nil
	})
	return after, err
}

// SettlePrediction applies st under the owner's account lock. It reports
// false when the prediction had already been settled or no longer exists.
func (l *Ledger) SettlePrediction(ctx context.Context, st model.Settlement) (bool, error) {
	unlock := l.locks.lock(st.UserID)
	defer unlock()
	return l.store.SettlePrediction(ctx, st)
}

// GetPrediction returns a stored prediction.
func (l *Ledger) GetPrediction(ctx context.Context, id string) (*model.Prediction, error) {
	return l.store.GetPrediction(ctx, id)
}

// OpenPredictions lists every prediction awaiting resolution.
func (l *Ledger) OpenPredictions(ctx context.Context) ([]model.Prediction, error) {
	return l.store.ListOpenPredictions(ctx)
}

// DuePredictions lists open predictions whose deadline has passed at now.
func (l *Ledger) DuePredictions(ctx context.Context, now time.Time) ([]model.Prediction, error) {
	return l.store.ListDuePredictions(ctx, now)
}
