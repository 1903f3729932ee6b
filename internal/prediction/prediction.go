// Package prediction runs the lifecycle of deferred price-direction bets.
//
// A prediction is opened with its bet already debited and a fixed deadline.
// At or after the deadline it moves exactly once from open to won, lost or
// refunded. Resolution is driven by the Scheduler and may be triggered more
// than once for the same prediction; the store's open-to-terminal check
// makes every call after the first a no-op.
package prediction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/fakecrypto/game-engine/internal/ledger"
	"github.com/fakecrypto/game-engine/internal/metrics"
	"github.com/fakecrypto/game-engine/internal/model"
	"github.com/fakecrypto/game-engine/internal/notify"
	"github.com/fakecrypto/game-engine/internal/store"
	"github.com/fakecrypto/game-engine/internal/textfmt"
)

// ErrInvalidDirection is returned for a direction other than UP or DOWN.
var ErrInvalidDirection = errors.New("prediction: direction must be UP or DOWN")

// notifyTimeout bounds result delivery so a slow sink cannot hold up the
// scheduler. Sinks that retry over the network sit behind a notify.Queue.
const notifyTimeout = 5 * time.Second

// PayoutMultiplier is applied to the bet on a correct call.
var PayoutMultiplier = decimal.NewFromInt(2)

// Book is the slice of the ledger predictions need.
type Book interface {
	Supported(ticker string) bool
	OpenPrediction(ctx context.Context, p *model.Prediction) (*model.Account, error)
	SettlePrediction(ctx context.Context, st model.Settlement) (bool, error)
	GetPrediction(ctx context.Context, id string) (*model.Prediction, error)
	GetAccount(ctx context.Context, userID int64) (*model.Account, error)
	OpenPredictions(ctx context.Context) ([]model.Prediction, error)
	DuePredictions(ctx context.Context, now time.Time) ([]model.Prediction, error)
}

// PriceSource looks up a single spot price. Price may serve a stale value
// while the provider is down; FreshPrice reports false instead.
type PriceSource interface {
	Price(ctx context.Context, ticker string) (float64, bool)
	FreshPrice(ctx context.Context, ticker string) (float64, bool)
}

// ParseDirection accepts UP or DOWN in any case.
func ParseDirection(s string) (model.Direction, error) {
	switch model.Direction(strings.ToUpper(strings.TrimSpace(s))) {
	case model.DirectionUp:
		return model.DirectionUp, nil
	case model.DirectionDown:
		return model.DirectionDown, nil
	}
	return "", ErrInvalidDirection
}

// Outcome decides a prediction from its start and end prices. An unchanged
// price loses in both directions.
func Outcome(dir model.Direction, start, end decimal.Decimal) model.PredictionStatus {
	delta := end.Sub(start)
	switch {
	case dir == model.DirectionUp && delta.IsPositive():
		return model.PredictionWon
	case dir == model.DirectionDown && delta.IsNegative():
		return model.PredictionWon
	default:
		return model.PredictionLost
	}
}

// OpenRequest describes a new prediction.
type OpenRequest struct {
	UserID    int64
	ChatID    int64
	Symbol    string
	Direction model.Direction
	Bet       decimal.Decimal
}

// Service opens and resolves predictions.
type Service struct {
	book     Book
	prices   PriceSource
	notifier notify.Notifier
	delay    time.Duration
	sched    *Scheduler
	now      func() time.Time
	log      *slog.Logger
}

// NewService creates a service. notifier may be nil.
func NewService(book Book, prices PriceSource, notifier notify.Notifier, delay time.Duration, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if notifier == nil {
		notifier = notify.LogNotifier{Logger: logger}
	}
	return &Service{
		book:     book,
		prices:   prices,
		notifier: notifier,
		delay:    delay,
		now:      func() time.Time { return time.Now().UTC() },
		log:      logger,
	}
}

// Delay is the time between opening and resolution.
func (s *Service) Delay() time.Duration { return s.delay }

// Open validates req, debits the bet and records the prediction with the
// current price. When a scheduler is attached the resolution is armed.
func (s *Service) Open(ctx context.Context, req OpenRequest) (*model.Prediction, *model.Account, error) {
	if !s.book.Supported(req.Symbol) {
		return nil, nil, ledger.ErrUnsupportedSymbol
	}
	if req.Direction != model.DirectionUp && req.Direction != model.DirectionDown {
		return nil, nil, ErrInvalidDirection
	}
	if !req.Bet.IsPositive() {
		return nil, nil, ledger.ErrNonPositiveAmount
	}
	price, ok := s.prices.Price(ctx, req.Symbol)
	if !ok || price <= 0 {
		return nil, nil, ledger.ErrPriceUnavailable
	}

	now := s.now()
	p := &model.Prediction{
		ID:         uuid.New().String(),
		UserID:     req.UserID,
		ChatID:     req.ChatID,
		Symbol:     req.Symbol,
		Direction:  req.Direction,
		Bet:        req.Bet,
		StartPrice: decimal.NewFromFloat(price),
		OpenedAt:   now,
		DueAt:      now.Add(s.delay),
		Status:     model.PredictionOpen,
		Payout:     decimal.Zero,
	}
	acct, err := s.book.OpenPrediction(ctx, p)
	if err != nil {
		return nil, nil, err
	}

	metrics.OpenPredictions.Inc()
	s.log.Info("prediction opened",
		"prediction_id", p.ID,
		"user", p.UserID,
		"symbol", p.Symbol,
		"direction", p.Direction,
		"bet", p.Bet.String(),
		"start_price", p.StartPrice.String(),
		"due_at", p.DueAt,
	)

	if s.sched != nil {
		s.sched.Schedule(*p)
	}
	return p, acct, nil
}

// Resolve settles the prediction if it is still open and due. It never
// fails: a missing, settled or not yet due prediction is a no-op, a price
// the provider cannot confirm right now refunds the bet, and store errors
// are logged and leave the prediction open for the next attempt. The
// applied settlement is returned, or nil.
func (s *Service) Resolve(ctx context.Context, id string) *model.Settlement {
	p, err := s.book.GetPrediction(ctx, id)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			s.log.Error("failed to load prediction", "prediction_id", id, "err", err)
		}
		return nil
	}
	if p.Status != model.PredictionOpen {
		return nil
	}
	now := s.now()
	if now.Before(p.DueAt) {
		return nil
	}

	st := model.Settlement{
		PredictionID: p.ID,
		UserID:       p.UserID,
		ResolvedAt:   now,
	}
	if price, ok := s.prices.FreshPrice(ctx, p.Symbol); ok && price > 0 {
		end := decimal.NewFromFloat(price)
		st.EndPrice = decimal.NewNullDecimal(end)
		st.Status = Outcome(p.Direction, p.StartPrice, end)
		if st.Status == model.PredictionWon {
			st.Payout = p.Bet.Mul(PayoutMultiplier)
		} else {
			st.Payout = decimal.Zero
		}
	} else {
		st.Status = model.PredictionRefunded
		st.Payout = p.Bet
	}

	applied, err := s.book.SettlePrediction(ctx, st)
	if err != nil {
		s.log.Error("failed to settle prediction", "prediction_id", id, "err", err)
		return nil
	}
	if !applied {
		return nil
	}

	metrics.OpenPredictions.Dec()
	metrics.PredictionsSettled.WithLabelValues(string(st.Status)).Inc()
	s.log.Info("prediction settled",
		"prediction_id", p.ID,
		"user", p.UserID,
		"status", st.Status,
		"payout", st.Payout.String(),
	)

	// The balance line is cosmetic; a failed read drops it from the message.
	var balance decimal.NullDecimal
	if acct, err := s.book.GetAccount(ctx, p.UserID); err == nil {
		balance = decimal.NewNullDecimal(acct.Balance)
	}

	ev := notify.Event{
		Kind:   eventKind(st.Status),
		UserID: p.UserID,
		ChatID: p.ChatID,
		Text:   resultText(p, st, balance),
		At:     st.ResolvedAt,
		Data: map[string]any{
			"prediction_id": p.ID,
			"symbol":        p.Symbol,
			"direction":     string(p.Direction),
			"bet":           p.Bet.String(),
			"payout":        st.Payout.String(),
		},
	}
	nctx, cancel := context.WithTimeout(ctx, notifyTimeout)
	defer cancel()
	if err := s.notifier.Notify(nctx, ev); err != nil {
		s.log.Warn("failed to deliver prediction result", "prediction_id", p.ID, "err", err)
	}
	return &st
}

func eventKind(status model.PredictionStatus) notify.Kind {
	switch status {
	case model.PredictionWon:
		return notify.KindPredictionWon
	case model.PredictionRefunded:
		return notify.KindPredictionRefunded
	default:
		return notify.KindPredictionLost
	}
}

func resultText(p *model.Prediction, st model.Settlement, balance decimal.NullDecimal) string {
	if st.Status == model.PredictionRefunded {
		return fmt.Sprintf("🔮 Prediction refunded due to price data unavailability. %s returned.", textfmt.Money(p.Bet))
	}

	end := st.EndPrice.Decimal
	change := end.Sub(p.StartPrice)
	var b strings.Builder
	if st.Status == model.PredictionWon {
		b.WriteString("🎉 PREDICTION WON! 🎉\n\n")
		fmt.Fprintf(&b, "💰 %s: %s → %s\n", p.Symbol, textfmt.Money(p.StartPrice), textfmt.Money(end))
		fmt.Fprintf(&b, "📈 Change: %s\n", textfmt.SignedMoney(change))
		fmt.Fprintf(&b, "🎯 Your Prediction: %s ✅\n", p.Direction)
		fmt.Fprintf(&b, "💵 Winnings: %s\n", textfmt.Money(st.Payout))
		if balance.Valid {
			fmt.Fprintf(&b, "💳 New Balance: %s\n", textfmt.Money(balance.Decimal))
		}
		b.WriteString("\nYou're either psychic or lucky! 🔮")
		return b.String()
	}
	b.WriteString("💸 PREDICTION LOST 💸\n\n")
	fmt.Fprintf(&b, "💰 %s: %s → %s\n", p.Symbol, textfmt.Money(p.StartPrice), textfmt.Money(end))
	fmt.Fprintf(&b, "📉 Change: %s\n", textfmt.SignedMoney(change))
	fmt.Fprintf(&b, "🎯 Your Prediction: %s ❌\n", p.Direction)
	fmt.Fprintf(&b, "💸 Lost: %s\n\n", textfmt.Money(p.Bet))
	b.WriteString("The market is a harsh teacher! 📚")
	return b.String()
}
