// Package limits enforces optional per-wager bounds on top of the base
// rule that a bet must be positive and no larger than the balance.
package limits

import (
	"errors"

	"github.com/shopspring/decimal"
)

var (
	// ErrBelowMinimum is returned when a bet is under the configured floor.
	ErrBelowMinimum = errors.New("limits: bet below minimum")

	// ErrAboveMaximum is returned when a bet exceeds the configured share
	// of the current balance.
	ErrAboveMaximum = errors.New("limits: bet above maximum share of balance")
)

// BetLimiter bounds a single wager.
type BetLimiter struct {
	// MinBet is the smallest accepted bet. Zero disables the floor.
	MinBet decimal.Decimal

	// MaxFraction caps a bet at this fraction of the balance at the time
	// of the bet. Zero disables the cap.
	MaxFraction decimal.Decimal
}

// NewBetLimiter creates a limiter. Negative values are treated as zero.
func NewBetLimiter(minBet, maxFraction decimal.Decimal) *BetLimiter {
	if minBet.IsNegative() {
		minBet = decimal.Zero
	}
	if maxFraction.IsNegative() {
		maxFraction = decimal.Zero
	}
	return &BetLimiter{MinBet: minBet, MaxFraction: maxFraction}
}

// Check returns nil if bet is acceptable against balance.
// A nil limiter accepts everything.
func (l *BetLimiter) Check(bet, balance decimal.Decimal) error {
	if l == nil {
		return nil
	}
	if l.MinBet.IsPositive() && bet.LessThan(l.MinBet) {
		return ErrBelowMinimum
	}
	if l.MaxFraction.IsPositive() && bet.GreaterThan(l.MaxBet(balance)) {
		return ErrAboveMaximum
	}
	return nil
}

// MaxBet returns the largest bet allowed against balance, or balance
// itself when no cap is set.
func (l *BetLimiter) MaxBet(balance decimal.Decimal) decimal.Decimal {
	if l == nil || !l.MaxFraction.IsPositive() {
		return balance
	}
	return balance.Mul(l.MaxFraction).RoundDown(2)
}
