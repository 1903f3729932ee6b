// Package command is the chat command surface: it parses a line of text,
// applies the cooldown guard, dispatches to the ledger, games and
// predictions, and renders the reply.
package command

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/fakecrypto/game-engine/internal/config"
	"github.com/fakecrypto/game-engine/internal/cooldown"
	"github.com/fakecrypto/game-engine/internal/ledger"
	"github.com/fakecrypto/game-engine/internal/limits"
	"github.com/fakecrypto/game-engine/internal/metrics"
	"github.com/fakecrypto/game-engine/internal/prediction"
	"github.com/fakecrypto/game-engine/internal/textfmt"
	"github.com/fakecrypto/game-engine/internal/wager"
)

// ErrInvalidAmount is returned when an amount argument is not a number.
var ErrInvalidAmount = errors.New("command: invalid amount")

// UsageError reports a wrong argument count.
type UsageError struct {
	Usage   string
	Example string
}

func (e *UsageError) Error() string {
	return fmt.Sprintf("command: usage: %s", e.Usage)
}

// Request is one inbound chat line.
type Request struct {
	UserID int64
	ChatID int64
	Text   string
}

// Result statuses, also used as the metrics result label.
const (
	StatusOK       = "ok"
	StatusRejected = "rejected"
	StatusCooldown = "cooldown"
	StatusError    = "error"
	StatusUnknown  = "unknown"
)

// Result is the reply to a Request. Reply may be empty when the command is
// silently ignored.
type Result struct {
	Command string `json:"command"`
	Reply   string `json:"reply"`
	Status  string `json:"status"`
}

// PriceBoard is the price cache as seen by commands.
type PriceBoard interface {
	Prices(ctx context.Context) map[string]float64
	Cached() (map[string]float64, time.Time)
}

// Options wires a Handler.
type Options struct {
	Config      *config.Config
	Ledger      *ledger.Ledger
	Prices      PriceBoard
	Games       *wager.Engine
	Predictions *prediction.Service
	Guard       cooldown.Guard
	Logger      *slog.Logger
}

// Handler executes commands.
type Handler struct {
	cfg         *config.Config
	ledger      *ledger.Ledger
	prices      PriceBoard
	games       *wager.Engine
	predictions *prediction.Service
	guard       cooldown.Guard
	log         *slog.Logger
	now         func() time.Time
	pick        func(n int) int // chooses a flavor line

	commands map[string]entry
}

type entry struct {
	action config.Action // empty when not rate limited
	run    func(ctx context.Context, req Request, args []string) (string, error)
}

func NewHandler(opts Options) *Handler {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	h := &Handler{
		cfg:         opts.Config,
		ledger:      opts.Ledger,
		prices:      opts.Prices,
		games:       opts.Games,
		predictions: opts.Predictions,
		guard:       opts.Guard,
		log:         opts.Logger,
		now:         func() time.Time { return time.Now().UTC() },
		pick:        rand.IntN,
	}
	h.commands = map[string]entry{
		"start":       {run: h.start},
		"help":        {run: h.help},
		"prices":      {run: h.pricesCmd},
		"portfolio":   {run: h.portfolio},
		"buy":         {action: config.ActionBuy, run: h.buy},
		"sell":        {action: config.ActionSell, run: h.sell},
		"coinflip":    {action: config.ActionCoinFlip, run: h.coinFlip},
		"slots":       {action: config.ActionSlots, run: h.slots},
		"predict":     {action: config.ActionPredict, run: h.predict},
		"roll":        {action: config.ActionRoll, run: h.roll},
		"leaderboard": {run: h.leaderboard},
		"stats":       {run: h.stats},
		"adminstats":  {run: h.adminStats},
	}
	return h
}

// Parse splits a chat line into a lower-case command name and its
// arguments. A leading "/" and an "@botname" suffix are dropped.
func Parse(text string) (name string, args []string) {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return "", nil
	}
	name = strings.TrimPrefix(fields[0], "/")
	if at := strings.IndexByte(name, '@'); at >= 0 {
		name = name[:at]
	}
	return strings.ToLower(name), fields[1:]
}

// Handle runs one command. It never returns an error: validation problems
// and cooldowns become user-facing replies, anything else is logged and
// answered with a generic failure line.
func (h *Handler) Handle(ctx context.Context, req Request) Result {
	start := time.Now()
	name, args := Parse(req.Text)

	e, ok := h.commands[name]
	if !ok {
		metrics.CommandsTotal.WithLabelValues("unknown", StatusUnknown).Inc()
		return Result{Command: name, Reply: "❓ Unknown command. Try /help", Status: StatusUnknown}
	}
	defer func() {
		metrics.CommandLatency.WithLabelValues(name).Observe(time.Since(start).Seconds())
	}()

	res := Result{Command: name}
	if e.action != "" {
		allowed, err := h.guard.TryAcquire(ctx, req.UserID, e.action)
		if err != nil {
			h.log.Error("cooldown check failed", "user", req.UserID, "action", e.action, "err", err)
			res.Reply, res.Status = genericFailure, StatusError
			metrics.CommandsTotal.WithLabelValues(name, res.Status).Inc()
			return res
		}
		if !allowed {
			metrics.CooldownRejections.WithLabelValues(string(e.action)).Inc()
			res.Reply, res.Status = cooldownReplies[e.action], StatusCooldown
			metrics.CommandsTotal.WithLabelValues(name, res.Status).Inc()
			return res
		}
	}

	reply, err := e.run(ctx, req, args)
	switch {
	case err == nil:
		res.Reply, res.Status = reply, StatusOK
	default:
		if text, ok := h.rejection(name, err); ok {
			res.Reply, res.Status = text, StatusRejected
		} else {
			h.log.Error("command failed", "command", name, "user", req.UserID, "err", err)
			res.Reply, res.Status = genericFailure, StatusError
		}
	}
	metrics.CommandsTotal.WithLabelValues(name, res.Status).Inc()
	return res
}

const genericFailure = "🚫 Something went wrong. Try again later!"

var cooldownReplies = map[config.Action]string{
	config.ActionBuy:      "⏰ Slow down there, speed trader! Wait a moment.",
	config.ActionSell:     "⏰ Easy there, day trader! Take a breath.",
	config.ActionCoinFlip: "🪙 The coin is still spinning from your last flip!",
	config.ActionSlots:    "🎰 The slots are still spinning!",
	config.ActionPredict:  "🔮 Your crystal ball is still charging!",
	config.ActionRoll:     "🎲 The dice are still rolling!",
}

// rejection maps a validation error to its reply. ok is false for errors
// that are not the player's fault.
func (h *Handler) rejection(name string, err error) (string, bool) {
	var usage *UsageError
	var funds *ledger.InsufficientFundsError
	switch {
	case errors.As(err, &usage):
		return fmt.Sprintf("❌ Usage: %s\nExample: %s", usage.Usage, usage.Example), true
	case errors.Is(err, ErrInvalidAmount):
		if name == "buy" {
			return "❌ Invalid amount. Use numbers only!", true
		}
		return "❌ Invalid amount!", true
	case errors.Is(err, ledger.ErrUnsupportedSymbol):
		return "❌ Unsupported coin! Available: " + strings.Join(h.cfg.Tickers(), ", "), true
	case errors.Is(err, ledger.ErrNonPositiveAmount):
		if name == "buy" {
			return "❌ Amount must be positive!", true
		}
		return "❌ Bet amount must be positive!", true
	case errors.As(err, &funds):
		return "❌ Insufficient funds! You have " + textfmt.Money(funds.Balance), true
	case errors.Is(err, ledger.ErrPriceUnavailable):
		return "❌ Price data unavailable. Try again later!", true
	case errors.Is(err, prediction.ErrInvalidDirection):
		return "❌ Direction must be UP or DOWN!", true
	case errors.Is(err, limits.ErrBelowMinimum):
		return "❌ Minimum bet is " + textfmt.Money(h.cfg.MinBet), true
	case errors.Is(err, limits.ErrAboveMaximum):
		pct := h.cfg.MaxBetPercentage.Mul(decimal.NewFromInt(100))
		return fmt.Sprintf("❌ Bets are capped at %s%% of your balance!", pct.StringFixed(0)), true
	}
	var noHolding *noHoldingError
	if errors.As(err, &noHolding) {
		return fmt.Sprintf("❌ You don't own any %s!", noHolding.symbol), true
	}
	return "", false
}

type noHoldingError struct {
	symbol string
	err    error
}

func (e *noHoldingError) Error() string { return fmt.Sprintf("%s: %v", e.symbol, e.err) }
func (e *noHoldingError) Unwrap() error { return e.err }

// amountPattern admits plain decimal notation only. Exponent forms such as
// 1e1000000000 would make Round expand the number digit by digit.
var amountPattern = regexp.MustCompile(`^[+-]?(\d{1,15}(\.\d{0,18})?|\.\d{1,18})$`)

// parseAmount reads a cash amount, rounded to cents.
func parseAmount(s string) (decimal.Decimal, error) {
	if !amountPattern.MatchString(s) {
		return decimal.Zero, ErrInvalidAmount
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, ErrInvalidAmount
	}
	return d.Round(2), nil
}
