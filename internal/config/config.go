// Package config loads process configuration from the environment, with an
// optional .env file for local development.
package config

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// Action names a cooldown-guarded command.
type Action string

const (
	ActionBuy      Action = "buy"
	ActionSell     Action = "sell"
	ActionCoinFlip Action = "coinflip"
	ActionSlots    Action = "slots"
	ActionPredict  Action = "predict"
	ActionRoll     Action = "roll"
)

// Symbol pairs a ticker with the price provider's identifier for it.
type Symbol struct {
	Ticker     string
	ProviderID string
}

// DiceTier pays Multiplier when the roll is at least Threshold.
type DiceTier struct {
	Threshold  int
	Multiplier decimal.Decimal
}

// SlotPayouts configures the slot machine.
type SlotPayouts struct {
	Symbols []string
	// Jackpots maps a symbol to the multiplier for three of it.
	Jackpots map[string]decimal.Decimal
	Triple   decimal.Decimal
	Pair     decimal.Decimal
}

type Config struct {
	Port         string
	DatabaseURL  string
	RedisURL     string
	AMQPURL      string
	AMQPExchange string
	WebhookURL   string
	JWTSecret    string
	AdminIDs     map[int64]bool

	// Price provider
	CoinGeckoURL    string
	CoinGeckoAPIKey string
	Symbols         []Symbol

	// Game economy
	StartingBalance  decimal.Decimal
	MinBet           decimal.Decimal // zero disables
	MaxBetPercentage decimal.Decimal // fraction of balance; zero disables
	DicePayouts      []DiceTier      // sorted by threshold, highest first
	Slots            SlotPayouts

	// Timing
	PriceCacheDuration     time.Duration
	PriceUpdateInterval    time.Duration
	PredictionDelay        time.Duration
	PredictionPollInterval time.Duration
	Cooldowns              map[Action]time.Duration
}

// Load reads configuration from the environment. A .env file in the
// working directory is loaded first if present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	var errs []error
	collect := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	cfg := &Config{
		Port:            envStr("PORT", "8080"),
		DatabaseURL:     envStr("DATABASE_URL", ""),
		RedisURL:        envStr("REDIS_URL", ""),
		AMQPURL:         envStr("AMQP_URL", ""),
		AMQPExchange:    envStr("AMQP_EXCHANGE", "game.events"),
		WebhookURL:      envStr("WEBHOOK_URL", ""),
		JWTSecret:       envStr("JWT_SECRET", ""),
		CoinGeckoURL:    strings.TrimRight(envStr("COINGECKO_API_URL", "https://api.coingecko.com/api/v3"), "/"),
		CoinGeckoAPIKey: envStr("COINGECKO_API_KEY", ""),

		PriceCacheDuration:     envDuration("PRICE_CACHE_DURATION", 15*time.Second),
		PriceUpdateInterval:    envDuration("PRICE_UPDATE_INTERVAL", 30*time.Second),
		PredictionDelay:        envDuration("PREDICTION_DELAY", 5*time.Minute),
		PredictionPollInterval: envDuration("PREDICTION_POLL_INTERVAL", 5*time.Second),
		Cooldowns: map[Action]time.Duration{
			ActionBuy:      envDuration("COOLDOWN_BUY", 3*time.Second),
			ActionSell:     envDuration("COOLDOWN_SELL", 3*time.Second),
			ActionCoinFlip: envDuration("COOLDOWN_COINFLIP", 2*time.Second),
			ActionSlots:    envDuration("COOLDOWN_SLOTS", 3*time.Second),
			ActionPredict:  envDuration("COOLDOWN_PREDICT", 5*time.Second),
			ActionRoll:     envDuration("COOLDOWN_ROLL", 2*time.Second),
		},
	}

	var err error
	cfg.AdminIDs, err = parseAdminIDs(envStr("ADMIN_IDS", ""))
	collect(err)
	cfg.Symbols, err = ParseSymbols(envStr("SUPPORTED_SYMBOLS", DefaultSymbols))
	collect(err)
	cfg.StartingBalance, err = envDecimal("STARTING_BALANCE", "10000")
	collect(err)
	cfg.MinBet, err = envDecimal("MIN_BET_AMOUNT", "0")
	collect(err)
	cfg.MaxBetPercentage, err = envDecimal("MAX_BET_PERCENTAGE", "0")
	collect(err)
	cfg.DicePayouts, err = ParseDicePayouts(envStr("DICE_PAYOUTS", "95:10,85:5,70:3,50:2"))
	collect(err)

	cfg.Slots.Symbols = splitList(envStr("SLOT_SYMBOLS", "🍒,🍋,🍊,🍇,🔔,💎,7️⃣"))
	cfg.Slots.Jackpots, err = parseMultipliers(envStr("SLOT_JACKPOTS", "💎:50,7️⃣:25"))
	collect(err)
	cfg.Slots.Triple, err = envDecimal("SLOT_TRIPLE_MULTIPLIER", "10")
	collect(err)
	cfg.Slots.Pair, err = envDecimal("SLOT_PAIR_MULTIPLIER", "2")
	collect(err)

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	var problems []string
	if len(c.Symbols) == 0 {
		problems = append(problems, "at least one supported symbol is required")
	}
	if !c.StartingBalance.IsPositive() {
		problems = append(problems, "STARTING_BALANCE must be positive")
	}
	if c.MinBet.IsNegative() {
		problems = append(problems, "MIN_BET_AMOUNT must not be negative")
	}
	if c.MaxBetPercentage.IsNegative() || c.MaxBetPercentage.GreaterThan(decimal.NewFromInt(1)) {
		problems = append(problems, "MAX_BET_PERCENTAGE must be within [0, 1]")
	}
	if c.PriceCacheDuration <= 0 {
		problems = append(problems, "PRICE_CACHE_DURATION must be positive")
	}
	if c.PredictionDelay <= 0 {
		problems = append(problems, "PREDICTION_DELAY must be positive")
	}
	if c.PredictionPollInterval <= 0 {
		problems = append(problems, "PREDICTION_POLL_INTERVAL must be positive")
	}
	if len(c.Slots.Symbols) < 2 {
		problems = append(problems, "SLOT_SYMBOLS needs at least two symbols")
	}
	for action, window := range c.Cooldowns {
		if window < 0 {
			problems = append(problems, fmt.Sprintf("cooldown for %s must not be negative", action))
		}
	}
	if len(problems) > 0 {
		return fmt.Errorf("config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// IsAdmin reports whether userID may run admin commands.
func (c *Config) IsAdmin(userID int64) bool {
	return c.AdminIDs[userID]
}

// Tickers returns the supported tickers in configured order.
func (c *Config) Tickers() []string {
	out := make([]string, len(c.Symbols))
	for i, s := range c.Symbols {
		out[i] = s.Ticker
	}
	return out
}

// DefaultSymbols is the stock ticker table.
const DefaultSymbols = "BTC:bitcoin,ETH:ethereum,SOL:solana,ADA:cardano,DOT:polkadot," +
	"AVAX:avalanche-2,MATIC:matic-network,LINK:chainlink,UNI:uniswap,ATOM:cosmos," +
	"XRP:ripple,LTC:litecoin,BCH:bitcoin-cash,XLM:stellar,VET:vechain"

// ParseSymbols parses "TICKER:provider-id,..." preserving order.
func ParseSymbols(s string) ([]Symbol, error) {
	var out []Symbol
	seen := make(map[string]bool)
	for _, item := range splitList(s) {
		ticker, id, ok := strings.Cut(item, ":")
		ticker = strings.ToUpper(strings.TrimSpace(ticker))
		id = strings.TrimSpace(id)
		if !ok || ticker == "" || id == "" {
			return nil, fmt.Errorf("config: bad symbol entry %q", item)
		}
		if seen[ticker] {
			return nil, fmt.Errorf("config: duplicate symbol %s", ticker)
		}
		seen[ticker] = true
		out = append(out, Symbol{Ticker: ticker, ProviderID: id})
	}
	return out, nil
}

// ParseDicePayouts parses "threshold:multiplier,..." and sorts the tiers
// from the highest threshold down.
func ParseDicePayouts(s string) ([]DiceTier, error) {
	mults, err := parseMultipliers(s)
	if err != nil {
		return nil, err
	}
	tiers := make([]DiceTier, 0, len(mults))
	for k, m := range mults {
		threshold, err := strconv.Atoi(k)
		if err != nil || threshold < 1 || threshold > 100 {
			return nil, fmt.Errorf("config: bad dice threshold %q", k)
		}
		tiers = append(tiers, DiceTier{Threshold: threshold, Multiplier: m})
	}
	sort.Slice(tiers, func(i, j int) bool { return tiers[i].Threshold > tiers[j].Threshold })
	return tiers, nil
}

func parseMultipliers(s string) (map[string]decimal.Decimal, error) {
	out := make(map[string]decimal.Decimal)
	for _, item := range splitList(s) {
		k, v, ok := strings.Cut(item, ":")
		if !ok {
			return nil, fmt.Errorf("config: bad payout entry %q", item)
		}
		m, err := decimal.NewFromString(strings.TrimSpace(v))
		if err != nil || m.IsNegative() {
			return nil, fmt.Errorf("config: bad multiplier in %q", item)
		}
		out[strings.TrimSpace(k)] = m
	}
	return out, nil
}

func parseAdminIDs(s string) (map[int64]bool, error) {
	out := make(map[int64]bool)
	for _, item := range splitList(s) {
		id, err := strconv.ParseInt(item, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("config: bad admin id %q", item)
		}
		out[id] = true
	}
	return out, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// --- env helpers ---

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	// Bare numbers are seconds.
	if n, err := strconv.ParseFloat(v, 64); err == nil {
		return time.Duration(n * float64(time.Second))
	}
	return fallback
}

func envDecimal(key, fallback string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(envStr(key, fallback))
	if err != nil {
		return decimal.Zero, fmt.Errorf("config: %s: %w", key, err)
	}
	return d, nil
}
