package notify

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/fakecrypto/game-engine/internal/httputil"
)

// Webhook posts events to a chat webhook. Discord URLs get Discord's
// payload shape; anything else gets the Slack-style one.
type Webhook struct {
	url        string
	botName    string
	httpClient *http.Client
	retry      httputil.RetryConfig
}

func NewWebhook(url, botName string) *Webhook {
	if botName == "" {
		botName = "FakeCryptoWorld"
	}
	return &Webhook{
		url:        url,
		botName:    botName,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		retry: httputil.RetryConfig{
			MaxAttempts: 3,
			BaseDelay:   1 * time.Second,
			MaxDelay:    5 * time.Second,
		},
	}
}

// WithRetry overrides the retry policy.
func (w *Webhook) WithRetry(cfg httputil.RetryConfig) *Webhook {
	w.retry = cfg
	return w
}

// Enabled reports whether a URL is configured.
func (w *Webhook) Enabled() bool {
	return w.url != ""
}

func (w *Webhook) Notify(ctx context.Context, ev Event) error {
	if !w.Enabled() {
		return nil
	}

	body, err := json.Marshal(w.payload(ev))
	if err != nil {
		return fmt.Errorf("webhook: marshal: %w", err)
	}

	resp, err := httputil.Do(ctx, w.httpClient, w.retry, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	})
	if err != nil {
		return fmt.Errorf("webhook: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook: HTTP %d", resp.StatusCode)
	}
	return nil
}

func (w *Webhook) payload(ev Event) map[string]any {
	if strings.Contains(w.url, "discord") {
		return map[string]any{
			"content":  ev.Text,
			"username": w.botName,
		}
	}
	return map[string]any{
		"text":     ev.Text,
		"username": w.botName,
		"user_id":  ev.UserID,
		"chat_id":  ev.ChatID,
		"kind":     ev.Kind,
	}
}
