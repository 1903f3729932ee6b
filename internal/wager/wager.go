// Package wager resolves the chance mini-games. Each game takes one bet,
// makes one draw from the injected random source and returns the outcome;
// balances are the caller's concern.
package wager

import (
	"math/rand/v2"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/fakecrypto/game-engine/internal/config"
)

// Game names a mini-game.
type Game string

const (
	GameCoinFlip Game = "coinflip"
	GameSlots    Game = "slots"
	GameDice     Game = "dice"
)

// Rand is the random source the engine draws from. *rand.Rand from
// math/rand/v2 satisfies it.
type Rand interface {
	Float64() float64
	IntN(n int) int
}

// Outcome describes a resolved wager.
type Outcome struct {
	Game       Game
	Bet        decimal.Decimal
	Multiplier decimal.Decimal
	Payout     decimal.Decimal // bet * multiplier
	Net        decimal.Decimal // payout - bet; what the balance moves by

	Heads bool     // coinflip
	Reels []string // slots
	Roll  int      // dice, 1..100
}

// Won reports whether the player got more back than they bet.
func (o Outcome) Won() bool { return o.Net.IsPositive() }

// Engine holds payout tables and a random source.
type Engine struct {
	dice  []config.DiceTier
	slots config.SlotPayouts

	mu  sync.Mutex // guards rng
	rng Rand
}

// NewEngine creates an engine. A nil rng uses a randomly seeded PCG source.
func NewEngine(dice []config.DiceTier, slots config.SlotPayouts, rng Rand) *Engine {
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return &Engine{dice: dice, slots: slots, rng: rng}
}

var (
	two  = decimal.NewFromInt(2)
	zero = decimal.Zero
)

// CoinFlip wins on a draw below 0.5 and pays 2x.
func (e *Engine) CoinFlip(bet decimal.Decimal) Outcome {
	e.mu.Lock()
	draw := e.rng.Float64()
	e.mu.Unlock()

	heads := draw < 0.5
	mult := zero
	if heads {
		mult = two
	}
	o := settle(GameCoinFlip, bet, mult)
	o.Heads = heads
	return o
}

// Slots spins three independent reels.
func (e *Engine) Slots(bet decimal.Decimal) Outcome {
	n := len(e.slots.Symbols)
	reels := make([]string, 3)
	e.mu.Lock()
	for i := range reels {
		reels[i] = e.slots.Symbols[e.rng.IntN(n)]
	}
	e.mu.Unlock()

	o := settle(GameSlots, bet, SlotsMultiplier(reels, e.slots))
	o.Reels = reels
	return o
}

// Dice rolls 1..100 against the tier table.
func (e *Engine) Dice(bet decimal.Decimal) Outcome {
	e.mu.Lock()
	roll := e.rng.IntN(100) + 1
	e.mu.Unlock()

	o := settle(GameDice, bet, DiceMultiplier(roll, e.dice))
	o.Roll = roll
	return o
}

// SlotsMultiplier scores three reels: a jackpot symbol triple pays its own
// multiplier, any other triple pays Triple, any pair pays Pair.
func SlotsMultiplier(reels []string, p config.SlotPayouts) decimal.Decimal {
	a, b, c := reels[0], reels[1], reels[2]
	switch {
	case a == b && b == c:
		if m, ok := p.Jackpots[a]; ok {
			return m
		}
		return p.Triple
	case a == b || b == c || a == c:
		return p.Pair
	default:
		return zero
	}
}

// DiceMultiplier returns the multiplier of the highest tier whose threshold
// the roll reaches. tiers must be sorted highest threshold first.
func DiceMultiplier(roll int, tiers []config.DiceTier) decimal.Decimal {
	for _, t := range tiers {
		if roll >= t.Threshold {
			return t.Multiplier
		}
	}
	return zero
}

func settle(game Game, bet, mult decimal.Decimal) Outcome {
	payout := bet.Mul(mult)
	return Outcome{
		Game:       game,
		Bet:        bet,
		Multiplier: mult,
		Payout:     payout,
		Net:        payout.Sub(bet),
	}
}
