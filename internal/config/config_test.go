package config

import (
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestLoad_Defaults(t *testing.T) {
	for _, key := range []string{"SUPPORTED_SYMBOLS", "STARTING_BALANCE", "PREDICTION_DELAY", "COOLDOWN_PREDICT", "MIN_BET_AMOUNT", "ADMIN_IDS"} {
		t.Setenv(key, "")
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.Symbols) != 15 || cfg.Symbols[0].Ticker != "BTC" || cfg.Symbols[5].ProviderID != "avalanche-2" {
		t.Errorf("symbols = %v", cfg.Symbols)
	}
	if !cfg.StartingBalance.Equal(decimal.NewFromInt(10000)) {
		t.Errorf("starting balance = %s", cfg.StartingBalance)
	}
	if cfg.PredictionDelay != 5*time.Minute {
		t.Errorf("prediction delay = %s", cfg.PredictionDelay)
	}
	if cfg.Cooldowns[ActionPredict] != 5*time.Second || cfg.Cooldowns[ActionRoll] != 2*time.Second {
		t.Errorf("cooldowns = %v", cfg.Cooldowns)
	}
	if !cfg.MinBet.IsZero() || !cfg.MaxBetPercentage.IsZero() {
		t.Error("bet limits should be disabled by default")
	}
	if len(cfg.DicePayouts) != 4 || cfg.DicePayouts[0].Threshold != 95 {
		t.Errorf("dice payouts = %v", cfg.DicePayouts)
	}
	if len(cfg.Slots.Symbols) != 7 || !cfg.Slots.Jackpots["💎"].Equal(decimal.NewFromInt(50)) {
		t.Errorf("slots = %+v", cfg.Slots)
	}
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("SUPPORTED_SYMBOLS", "btc:bitcoin, doge:dogecoin")
	t.Setenv("STARTING_BALANCE", "500")
	t.Setenv("PREDICTION_DELAY", "90")
	t.Setenv("COOLDOWN_BUY", "250ms")
	t.Setenv("ADMIN_IDS", "7, 8")
	t.Setenv("COINGECKO_API_URL", "http://localhost:9999/api/")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := strings.Join(cfg.Tickers(), ","); got != "BTC,DOGE" {
		t.Errorf("tickers = %s", got)
	}
	if s := cfg.Symbols[1]; s.Ticker != "DOGE" || s.ProviderID != "dogecoin" {
		t.Errorf("symbol[1] = %+v", s)
	}
	if !cfg.StartingBalance.Equal(decimal.NewFromInt(500)) {
		t.Errorf("starting balance = %s", cfg.StartingBalance)
	}
	if cfg.PredictionDelay != 90*time.Second {
		t.Errorf("bare seconds: prediction delay = %s", cfg.PredictionDelay)
	}
	if cfg.Cooldowns[ActionBuy] != 250*time.Millisecond {
		t.Errorf("buy cooldown = %s", cfg.Cooldowns[ActionBuy])
	}
	if !cfg.IsAdmin(7) || !cfg.IsAdmin(8) || cfg.IsAdmin(9) {
		t.Errorf("admins = %v", cfg.AdminIDs)
	}
	if cfg.CoinGeckoURL != "http://localhost:9999/api" {
		t.Errorf("provider url = %s", cfg.CoinGeckoURL)
	}
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		key, value, want string
	}{
		{"STARTING_BALANCE", "lots", "STARTING_BALANCE"},
		{"STARTING_BALANCE", "-1", "STARTING_BALANCE must be positive"},
		{"MAX_BET_PERCENTAGE", "1.5", "MAX_BET_PERCENTAGE must be within"},
		{"SUPPORTED_SYMBOLS", "BTC", "bad symbol entry"},
		{"SUPPORTED_SYMBOLS", "BTC:bitcoin,btc:bitcoin", "duplicate symbol"},
		{"DICE_PAYOUTS", "101:2", "bad dice threshold"},
		{"ADMIN_IDS", "root", "bad admin id"},
		{"SLOT_SYMBOLS", "🍒", "SLOT_SYMBOLS needs at least two"},
	}
	for _, tt := range tests {
		t.Run(tt.key+"="+tt.value, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			_, err := Load()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("err = %v, want containing %q", err, tt.want)
			}
		})
	}
}

func TestParseDicePayouts_SortsHighestFirst(t *testing.T) {
	tiers, err := ParseDicePayouts("50:2, 95:10 ,70:3")
	if err != nil {
		t.Fatal(err)
	}
	want := []int{95, 70, 50}
	for i, tier := range tiers {
		if tier.Threshold != want[i] {
			t.Fatalf("tiers = %v", tiers)
		}
	}
	if _, err := ParseDicePayouts("50:-2"); err == nil {
		t.Error("negative multiplier accepted")
	}
}
