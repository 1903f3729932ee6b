// Package notify delivers asynchronous player-facing messages, such as a
// prediction result that arrives minutes after the command that opened it.
package notify

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// Kind classifies an event.
type Kind string

const (
	KindPredictionWon      Kind = "prediction.won"
	KindPredictionLost     Kind = "prediction.lost"
	KindPredictionRefunded Kind = "prediction.refunded"
)

// Event is a message addressed to a player in a chat.
type Event struct {
	Kind   Kind           `json:"kind"`
	UserID int64          `json:"user_id"`
	ChatID int64          `json:"chat_id"`
	Text   string         `json:"text"`
	At     time.Time      `json:"at"`
	Data   map[string]any `json:"data,omitempty"`
}

// Notifier delivers events.
type Notifier interface {
	Notify(ctx context.Context, ev Event) error
}

// Fanout delivers each event to every notifier, even when one fails.
type Fanout []Notifier

func (f Fanout) Notify(ctx context.Context, ev Event) error {
	var errs []error
	for _, n := range f {
		if err := n.Notify(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LogNotifier writes events to a logger. It is always part of the fan-out
// so results are visible without any transport configured.
type LogNotifier struct {
	Logger *slog.Logger
}

func (n LogNotifier) Notify(_ context.Context, ev Event) error {
	log := n.Logger
	if log == nil {
		log = slog.Default()
	}
	log.Info("notification", "kind", ev.Kind, "user", ev.UserID, "chat", ev.ChatID)
	return nil
}
