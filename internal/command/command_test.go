package command_test

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/fakecrypto/game-engine/internal/command"
	"github.com/fakecrypto/game-engine/internal/config"
	"github.com/fakecrypto/game-engine/internal/cooldown"
	"github.com/fakecrypto/game-engine/internal/ledger"
	"github.com/fakecrypto/game-engine/internal/limits"
	"github.com/fakecrypto/game-engine/internal/model"
	"github.com/fakecrypto/game-engine/internal/prediction"
	"github.com/fakecrypto/game-engine/internal/store"
	"github.com/fakecrypto/game-engine/internal/wager"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

type board struct {
	mu     sync.Mutex
	prices map[string]float64
	at     time.Time
}

func (b *board) Prices(context.Context) map[string]float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[string]float64, len(b.prices))
	for k, v := range b.prices {
		out[k] = v
	}
	return out
}

func (b *board) Price(ctx context.Context, ticker string) (float64, bool) {
	p, ok := b.Prices(ctx)[ticker]
	return p, ok
}

func (b *board) FreshPrice(ctx context.Context, ticker string) (float64, bool) {
	return b.Price(ctx, ticker)
}

func (b *board) Cached() (map[string]float64, time.Time) {
	return b.Prices(context.Background()), b.at
}

// fixedRand always draws the same values.
type fixedRand struct {
	f float64
	i int
}

func (r fixedRand) Float64() float64 { return r.f }
func (r fixedRand) IntN(n int) int   { return r.i % n }

type testEnv struct {
	h      *command.Handler
	ms     *store.MemoryStore
	ledger *ledger.Ledger
	prices *board
}

type envOpts struct {
	rng       wager.Rand
	cooldowns map[config.Action]time.Duration
	limiter   *limits.BetLimiter
	minBet    string
}

func newTestEnv(t *testing.T, o envOpts) *testEnv {
	t.Helper()

	dice, err := config.ParseDicePayouts("95:10,85:5,70:3,50:2")
	if err != nil {
		t.Fatal(err)
	}
	cfg := &config.Config{
		AdminIDs:           map[int64]bool{999: true},
		Symbols:            []config.Symbol{{Ticker: "BTC", ProviderID: "bitcoin"}, {Ticker: "ETH", ProviderID: "ethereum"}, {Ticker: "SOL", ProviderID: "solana"}},
		StartingBalance:    d("10000"),
		DicePayouts:        dice,
		PriceCacheDuration: 15 * time.Second,
		PredictionDelay:    5 * time.Minute,
		Slots: config.SlotPayouts{
			Symbols:  []string{"🍒", "🍋", "🍊", "🍇", "🔔", "💎", "7️⃣"},
			Jackpots: map[string]decimal.Decimal{"💎": d("50"), "7️⃣": d("25")},
			Triple:   d("10"),
			Pair:     d("2"),
		},
	}
	if o.minBet != "" {
		cfg.MinBet = d(o.minBet)
	}
	if o.rng == nil {
		o.rng = fixedRand{f: 0.1, i: 0}
	}

	ms := store.NewMemoryStore()
	prices := &board{prices: map[string]float64{"BTC": 50000, "ETH": 2500}, at: time.Now().UTC()}
	l := ledger.New(ms, prices, ledger.Options{
		StartingBalance: cfg.StartingBalance,
		Symbols:         cfg.Tickers(),
		Limiter:         o.limiter,
	})
	preds := prediction.NewService(l, prices, nil, cfg.PredictionDelay, nil)

	h := command.NewHandler(command.Options{
		Config:      cfg,
		Ledger:      l,
		Prices:      prices,
		Games:       wager.NewEngine(cfg.DicePayouts, cfg.Slots, o.rng),
		Predictions: preds,
		Guard:       cooldown.NewMemoryGuard(o.cooldowns),
	})
	return &testEnv{h: h, ms: ms, ledger: l, prices: prices}
}

func (e *testEnv) run(t *testing.T, userID int64, text string) command.Result {
	t.Helper()
	return e.h.Handle(context.Background(), command.Request{UserID: userID, ChatID: 555, Text: text})
}

func (e *testEnv) balance(t *testing.T, userID int64) decimal.Decimal {
	t.Helper()
	acct, err := e.ledger.GetAccount(context.Background(), userID)
	if err != nil {
		t.Fatalf("GetAccount: %v", err)
	}
	return acct.Balance
}

func expect(t *testing.T, res command.Result, status string, fragments ...string) {
	t.Helper()
	if res.Status != status {
		t.Fatalf("status = %q, want %q (reply %q)", res.Status, status, res.Reply)
	}
	for _, f := range fragments {
		if !strings.Contains(res.Reply, f) {
			t.Errorf("reply %q missing %q", res.Reply, f)
		}
	}
}

// --- Parsing ---

func TestParse(t *testing.T) {
	tests := []struct {
		text string
		name string
		args []string
	}{
		{"/buy BTC 100", "buy", []string{"BTC", "100"}},
		{"BUY btc 100", "buy", []string{"btc", "100"}},
		{"/Prices@FakeCryptoBot", "prices", nil},
		{"  /predict   ETH  up 5 ", "predict", []string{"ETH", "up", "5"}},
		{"", "", nil},
	}
	for _, tt := range tests {
		name, args := command.Parse(tt.text)
		if name != tt.name || len(args) != len(tt.args) {
			t.Errorf("Parse(%q) = %q %v, want %q %v", tt.text, name, args, tt.name, tt.args)
			continue
		}
		for i := range args {
			if args[i] != tt.args[i] {
				t.Errorf("Parse(%q) arg %d = %q, want %q", tt.text, i, args[i], tt.args[i])
			}
		}
	}
}

func TestUnknownCommand(t *testing.T) {
	e := newTestEnv(t, envOpts{})
	expect(t, e.run(t, 1, "/moon"), command.StatusUnknown, "Unknown command")
	expect(t, e.run(t, 1, "   "), command.StatusUnknown)
}

// --- Account and market ---

func TestStartAndHelp(t *testing.T) {
	e := newTestEnv(t, envOpts{})
	expect(t, e.run(t, 1, "/start"), command.StatusOK, "Welcome to Fake Crypto World", "$10,000.00")
	expect(t, e.run(t, 1, "/help"), command.StatusOK, "BTC, ETH, SOL", "5 minutes", "Dice: 2x-10x", "Slots: 2x-50x")
}

func TestPrices(t *testing.T) {
	e := newTestEnv(t, envOpts{})
	res := e.run(t, 1, "prices")
	expect(t, res, command.StatusOK, "BTC: $50,000.00", "ETH: $2,500.00", "15 seconds")
	if strings.Contains(res.Reply, "SOL") {
		t.Error("unpriced symbol listed")
	}

	e.prices.mu.Lock()
	e.prices.prices = map[string]float64{}
	e.prices.mu.Unlock()
	expect(t, e.run(t, 1, "prices"), command.StatusOK, "Unable to fetch prices")
}

func TestPortfolio(t *testing.T) {
	e := newTestEnv(t, envOpts{})
	expect(t, e.run(t, 1, "/portfolio"), command.StatusOK, "No crypto holdings yet")

	expect(t, e.run(t, 1, "/buy ETH 5000"), command.StatusOK)
	expect(t, e.run(t, 1, "/portfolio"), command.StatusOK,
		"Cash: $5,000.00", "Crypto Value: $5,000.00", "Total Net Worth: $10,000.00", "ETH: 2.000000 ($5,000.00)", "Total Trades: 1")
}

// --- Trading ---

func TestBuyAndSell(t *testing.T) {
	e := newTestEnv(t, envOpts{})

	expect(t, e.run(t, 1, "/buy btc 1000"), command.StatusOK, "Purchase Successful", "0.020000 BTC", "Remaining Balance: $9,000.00")
	e.prices.mu.Lock()
	e.prices.prices["BTC"] = 55000
	e.prices.mu.Unlock()
	expect(t, e.run(t, 1, "/sell BTC"), command.StatusOK, "Sale Successful", "Received: $1,100.00", "New Balance: $10,100.00")
}

func TestBuy_Rejections(t *testing.T) {
	tests := []struct {
		text string
		want string
	}{
		{"/buy BTC", "Usage: /buy <COIN> <AMOUNT>"},
		{"/buy BTC lots", "Invalid amount. Use numbers only!"},
		{"/buy BTC 1e3", "Invalid amount. Use numbers only!"},
		{"/buy BTC 1234567890123456", "Invalid amount. Use numbers only!"},
		{"/buy DOGE 10", "Unsupported coin! Available: BTC, ETH, SOL"},
		{"/buy BTC -5", "Amount must be positive!"},
		{"/buy BTC 0.001", "Amount must be positive!"},
		{"/buy SOL 10", "Price data unavailable"},
		{"/buy BTC 20000", "Insufficient funds! You have $10,000.00"},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			e := newTestEnv(t, envOpts{})
			expect(t, e.run(t, 1, tt.text), command.StatusRejected, tt.want)
			if got := e.balance(t, 1); !got.Equal(d("10000")) {
				t.Errorf("balance = %s, want unchanged", got)
			}
		})
	}
}

func TestSell_NothingHeld(t *testing.T) {
	e := newTestEnv(t, envOpts{})
	expect(t, e.run(t, 1, "/sell eth"), command.StatusRejected, "You don't own any ETH!")
	expect(t, e.run(t, 1, "/sell"), command.StatusRejected, "Usage: /sell <COIN>")
}

// --- Cooldown ---

func TestCooldown_RejectsSecondCallInWindow(t *testing.T) {
	e := newTestEnv(t, envOpts{cooldowns: map[config.Action]time.Duration{config.ActionBuy: time.Hour}})

	expect(t, e.run(t, 1, "/buy BTC 100"), command.StatusOK)
	expect(t, e.run(t, 1, "/buy BTC 100"), command.StatusCooldown, "Slow down there, speed trader!")
	if got := e.balance(t, 1); !got.Equal(d("9900")) {
		t.Errorf("balance = %s, want 9900", got)
	}

	// Other users and other actions are unaffected.
	expect(t, e.run(t, 2, "/buy BTC 100"), command.StatusOK)
	expect(t, e.run(t, 1, "/coinflip 10"), command.StatusOK)
}

func TestCooldown_ConsumedByInvalidArguments(t *testing.T) {
	e := newTestEnv(t, envOpts{cooldowns: map[config.Action]time.Duration{config.ActionRoll: time.Hour}})

	expect(t, e.run(t, 1, "/roll"), command.StatusRejected, "Usage: /roll")
	expect(t, e.run(t, 1, "/roll 10"), command.StatusCooldown, "The dice are still rolling!")
}

// --- Games ---

func TestCoinFlip(t *testing.T) {
	win := newTestEnv(t, envOpts{rng: fixedRand{f: 0.2}})
	expect(t, win.run(t, 1, "/coinflip 100"), command.StatusOK, "HEADS! You win $200.00", "New Balance: $10,100.00")

	lose := newTestEnv(t, envOpts{rng: fixedRand{f: 0.7}})
	expect(t, lose.run(t, 1, "/coinflip 100"), command.StatusOK, "TAILS! You lost $100.00", "New Balance: $9,900.00")
}

func TestSlots(t *testing.T) {
	// Every reel draws index 5: three diamonds.
	e := newTestEnv(t, envOpts{rng: fixedRand{i: 5}})
	expect(t, e.run(t, 1, "/slots 10"), command.StatusOK, "💎 | 💎 | 💎", "You won $500.00! (x50)", "Jackpot vibes!")
	if got := e.balance(t, 1); !got.Equal(d("10490")) {
		t.Errorf("balance = %s, want 10490", got)
	}
}

func TestRoll(t *testing.T) {
	tests := []struct {
		draw    int
		want    string
		balance string
	}{
		{99, "Roll: 100/100", "10900"},
		{49, "You won $200.00! (x2)", "10100"},
		{48, "You lost $100.00!", "9900"},
	}
	for _, tt := range tests {
		e := newTestEnv(t, envOpts{rng: fixedRand{i: tt.draw}})
		expect(t, e.run(t, 1, "/roll 100"), command.StatusOK, tt.want)
		if got := e.balance(t, 1); !got.Equal(d(tt.balance)) {
			t.Errorf("draw %d: balance = %s, want %s", tt.draw, got, tt.balance)
		}
	}
}

func TestGames_Rejections(t *testing.T) {
	e := newTestEnv(t, envOpts{})
	expect(t, e.run(t, 1, "/coinflip"), command.StatusRejected, "Usage: /coinflip <AMOUNT>")
	expect(t, e.run(t, 1, "/slots abc"), command.StatusRejected, "Invalid amount!")
	expect(t, e.run(t, 1, "/roll 0"), command.StatusRejected, "Bet amount must be positive!")
	expect(t, e.run(t, 1, "/coinflip 10000.01"), command.StatusRejected, "Insufficient funds!")
	if got := e.balance(t, 1); !got.Equal(d("10000")) {
		t.Errorf("balance = %s, want unchanged", got)
	}
}

func TestGames_ExponentAmountRejectedPromptly(t *testing.T) {
	e := newTestEnv(t, envOpts{})
	done := make(chan command.Result, 1)
	go func() {
		done <- e.h.Handle(context.Background(), command.Request{UserID: 1, ChatID: 555, Text: "/coinflip 1e1000000000"})
	}()

	select {
	case res := <-done:
		expect(t, res, command.StatusRejected, "Invalid amount!")
	case <-time.After(2 * time.Second):
		t.Fatal("exponent amount still parsing after 2s")
	}
	for _, text := range []string{"/roll 5E2", "/slots 0x10", "/coinflip Infinity"} {
		expect(t, e.run(t, 2, text), command.StatusRejected, "Invalid amount!")
	}
	expect(t, e.run(t, 3, "/coinflip .5"), command.StatusOK)
}

func TestGames_BetLimits(t *testing.T) {
	e := newTestEnv(t, envOpts{limiter: limits.NewBetLimiter(d("10"), decimal.Zero), minBet: "10"})
	expect(t, e.run(t, 1, "/coinflip 5"), command.StatusRejected, "Minimum bet is $10.00")
}

// --- Predictions ---

func TestPredict(t *testing.T) {
	e := newTestEnv(t, envOpts{})

	expect(t, e.run(t, 1, "/predict btc up 250"), command.StatusOK,
		"PRICE PREDICTION ACTIVE", "Coin: BTC", "Current Price: $50,000.00", "Prediction: UP", "Bet: $250.00", "5 minutes")
	if got := e.balance(t, 1); !got.Equal(d("9750")) {
		t.Errorf("balance = %s, want 9750 after escrow", got)
	}
	open, err := e.ms.ListOpenPredictions(context.Background())
	if err != nil || len(open) != 1 {
		t.Fatalf("open predictions = %d, %v", len(open), err)
	}
	if open[0].ChatID != 555 || open[0].Direction != model.DirectionUp {
		t.Errorf("stored prediction = %+v", open[0])
	}
}

func TestPredict_Rejections(t *testing.T) {
	tests := []struct {
		text string
		want string
	}{
		{"/predict BTC UP", "Usage: /predict <COIN> <UP/DOWN> <AMOUNT>"},
		{"/predict BTC UP x", "Invalid amount!"},
		{"/predict DOGE UP 10", "Unsupported coin!"},
		{"/predict BTC SIDEWAYS 10", "Direction must be UP or DOWN!"},
		{"/predict BTC DOWN -1", "Bet amount must be positive!"},
		{"/predict BTC DOWN 10001", "Insufficient funds!"},
		{"/predict SOL UP 10", "Price data unavailable"},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			e := newTestEnv(t, envOpts{})
			expect(t, e.run(t, 1, tt.text), command.StatusRejected, tt.want)
			if got := e.balance(t, 1); !got.Equal(d("10000")) {
				t.Errorf("balance = %s, want unchanged", got)
			}
		})
	}
}

// --- Stats ---

func TestLeaderboard(t *testing.T) {
	e := newTestEnv(t, envOpts{})
	expect(t, e.run(t, 1, "/leaderboard"), command.StatusOK, "No players yet")

	expect(t, e.run(t, 1, "/buy BTC 10000"), command.StatusOK)
	expect(t, e.run(t, 2, "/start"), command.StatusOK)
	expect(t, e.run(t, 3, "/start"), command.StatusOK)
	e.prices.mu.Lock()
	e.prices.prices["BTC"] = 100000
	e.prices.mu.Unlock()

	res := e.run(t, 3, "/leaderboard")
	expect(t, res, command.StatusOK, "🥇 User 1", "Net Worth: $20,000.00", "🥈 User 2", "🥉 User 3")
	if strings.Index(res.Reply, "User 1") > strings.Index(res.Reply, "User 2") {
		t.Error("leaderboard not ordered by net worth")
	}
}

func TestStats(t *testing.T) {
	e := newTestEnv(t, envOpts{})
	expect(t, e.run(t, 1, "/stats"), command.StatusOK, "No trades yet!", "Profit/Loss: +$0.00 (+0.0%)")

	expect(t, e.run(t, 1, "/buy ETH 1000"), command.StatusOK)
	e.prices.mu.Lock()
	e.prices.prices["ETH"] = 5000
	e.prices.mu.Unlock()
	expect(t, e.run(t, 1, "/stats"), command.StatusOK, "Profit/Loss: +$1,000.00 (+10.0%)", "📈 Bought 0.4000 ETH @ $2,500.00")
}

func TestAdminStats(t *testing.T) {
	e := newTestEnv(t, envOpts{})
	expect(t, e.run(t, 1, "/buy BTC 100"), command.StatusOK)

	res := e.run(t, 1, "/adminstats")
	expect(t, res, command.StatusOK)
	if res.Reply != "" {
		t.Errorf("non-admin got %q, want empty reply", res.Reply)
	}

	expect(t, e.run(t, 999, "/adminstats"), command.StatusOK,
		"Total Users: 1", "Total Trades: 1", "Active Users (24h): 1", "Total Fake Money: $9,900.00", "2 coins cached")
}
