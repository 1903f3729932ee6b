package command

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/fakecrypto/game-engine/internal/ledger"
	"github.com/fakecrypto/game-engine/internal/metrics"
	"github.com/fakecrypto/game-engine/internal/model"
	"github.com/fakecrypto/game-engine/internal/prediction"
	"github.com/fakecrypto/game-engine/internal/textfmt"
	"github.com/fakecrypto/game-engine/internal/wager"
)

// --- Account and market ---

func (h *Handler) start(ctx context.Context, req Request, _ []string) (string, error) {
	acct, err := h.ledger.GetAccount(ctx, req.UserID)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	b.WriteString("🎮 Welcome to Fake Crypto World! 🎮\n\n")
	fmt.Fprintf(&b, "💵 Starting Balance: %s\n", textfmt.Money(acct.Balance))
	b.WriteString("📈 Trade crypto with REAL prices using FAKE money!\n")
	b.WriteString("🎲 Gamble your fake fortune in mini-games!\n\n")
	b.WriteString(commandList)
	b.WriteString("\nRemember: This is FAKE money, but your regret is REAL! 😄")
	return b.String(), nil
}

const commandList = `Commands:
/portfolio - View your holdings
/prices - Current market prices
/buy <COIN> <AMOUNT> - Buy crypto
/sell <COIN> - Sell all of a coin
/leaderboard - Top players
/coinflip <AMOUNT> - 50/50 gamble
/slots <AMOUNT> - Slot machine
/predict <COIN> <UP/DOWN> <AMOUNT> - Price prediction
/roll <AMOUNT> - Dice game
`

func (h *Handler) help(_ context.Context, _ Request, _ []string) (string, error) {
	var b strings.Builder
	b.WriteString("🎮 Fake Crypto World Commands 🎮\n\n")
	b.WriteString("📈 Trading:\n")
	b.WriteString("/prices - Current market prices\n")
	b.WriteString("/buy <COIN> <AMOUNT> - Buy crypto (e.g., /buy BTC 1000)\n")
	b.WriteString("/sell <COIN> - Sell all of a coin (e.g., /sell ETH)\n")
	b.WriteString("/portfolio - View your holdings\n\n")
	b.WriteString("🎲 Gambling:\n")
	b.WriteString("/coinflip <AMOUNT> - 50/50 chance, double or nothing\n")
	b.WriteString("/slots <AMOUNT> - 3-reel slot machine\n")
	fmt.Fprintf(&b, "/predict <COIN> <UP/DOWN> <AMOUNT> - Predict price in %s\n", humanDuration(h.predictions.Delay()))
	b.WriteString("/roll <AMOUNT> - Roll 1-100, higher = better rewards\n\n")
	b.WriteString("📊 Stats:\n")
	b.WriteString("/leaderboard - Top 10 players by net worth\n")
	b.WriteString("/stats - Your trading statistics\n")
	b.WriteString("/help - Show this message\n\n")
	fmt.Fprintf(&b, "💰 Supported Coins:\n%s\n\n", strings.Join(h.cfg.Tickers(), ", "))
	b.WriteString("🎯 Gambling Payouts:\n")
	b.WriteString("• Coin Flip: 2x (50% chance)\n")
	fmt.Fprintf(&b, "• Slots: %sx-%sx depending on match\n", h.cfg.Slots.Pair, maxJackpot(h.cfg.Slots.Jackpots, h.cfg.Slots.Triple))
	fmt.Fprintf(&b, "• Prediction: %sx if correct\n", prediction.PayoutMultiplier)
	if tiers := h.cfg.DicePayouts; len(tiers) > 0 {
		low, high := tiers[len(tiers)-1], tiers[0]
		fmt.Fprintf(&b, "• Dice: %sx-%sx based on roll (%d+ to win)\n\n", low.Multiplier, high.Multiplier, low.Threshold)
	}
	b.WriteString("Remember: All money is FAKE! Trade responsibly! 😄")
	return b.String(), nil
}

func maxJackpot(jackpots map[string]decimal.Decimal, triple decimal.Decimal) decimal.Decimal {
	top := triple
	for _, m := range jackpots {
		if m.GreaterThan(top) {
			top = m
		}
	}
	return top
}

func (h *Handler) pricesCmd(ctx context.Context, _ Request, _ []string) (string, error) {
	prices := h.prices.Prices(ctx)
	if len(prices) == 0 {
		return "🚫 Unable to fetch prices right now. Try again later!", nil
	}
	var b strings.Builder
	b.WriteString("📊 Current Crypto Prices 📊\n\n")
	for _, ticker := range h.cfg.Tickers() {
		if p, ok := prices[ticker]; ok {
			fmt.Fprintf(&b, "%s: %s\n", ticker, textfmt.Price(p))
		}
	}
	fmt.Fprintf(&b, "\n💡 Prices update every %s", humanDuration(h.cfg.PriceCacheDuration))
	return b.String(), nil
}

func (h *Handler) portfolio(ctx context.Context, req Request, _ []string) (string, error) {
	pf, err := h.ledger.Portfolio(ctx, req.UserID)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	b.WriteString("💼 Your Portfolio 💼\n\n")
	fmt.Fprintf(&b, "💵 Cash: %s\n", textfmt.Money(pf.Account.Balance))
	fmt.Fprintf(&b, "📈 Crypto Value: %s\n", textfmt.Money(pf.HoldingsValue))
	fmt.Fprintf(&b, "💎 Total Net Worth: %s\n\n", textfmt.Money(pf.NetWorth))
	if len(pf.Positions) == 0 {
		b.WriteString("No crypto holdings yet. Start trading with /buy!\n")
	} else {
		b.WriteString("Holdings:\n")
		for _, pos := range pf.Positions {
			if pos.Priced {
				fmt.Fprintf(&b, "• %s: %s (%s)\n", pos.Symbol, textfmt.Quantity(pos.Quantity, 6), textfmt.Money(pos.Value))
			} else {
				fmt.Fprintf(&b, "• %s: %s (price unavailable)\n", pos.Symbol, textfmt.Quantity(pos.Quantity, 6))
			}
		}
	}
	fmt.Fprintf(&b, "\n📊 Total Trades: %d", pf.Account.TotalTrades)
	return b.String(), nil
}

// --- Trading ---

var buyQuips = []string{
	"Congratulations! You just bought the top! 📈",
	"Bold move! Let's see if this ages well... 🍷",
	"Another satisfied customer enters the casino! 🎰",
	"You're either a genius or about to learn an expensive lesson! 🧠",
	"Welcome to the rollercoaster of emotions! 🎢",
}

var sellQuips = []string{
	"Not bad! You managed to exit before total destruction! 🎯",
	"Profit is profit, even if it's fake! 💰",
	"You sold! Someone else is holding the bag now! 💼",
	"Cashed out like a true paper hands champion! 🙌",
	"Timing the market? In this economy?! 📈",
}

func (h *Handler) quip(lines []string) string {
	return lines[h.pick(len(lines))]
}

func (h *Handler) buy(ctx context.Context, req Request, args []string) (string, error) {
	if len(args) != 2 {
		return "", &UsageError{Usage: "/buy <COIN> <AMOUNT>", Example: "/buy BTC 1000"}
	}
	amount, err := parseAmount(args[1])
	if err != nil {
		return "", err
	}
	res, err := h.ledger.Buy(ctx, req.UserID, strings.ToUpper(args[0]), amount)
	if err != nil {
		return "", err
	}

	t := res.Trade
	var b strings.Builder
	b.WriteString("✅ Purchase Successful! ✅\n\n")
	fmt.Fprintf(&b, "💰 Bought: %s %s\n", textfmt.Quantity(t.Quantity, 6), t.Symbol)
	fmt.Fprintf(&b, "💵 Spent: %s\n", textfmt.Money(t.Total))
	fmt.Fprintf(&b, "📊 Price: %s\n", textfmt.Money(t.Price))
	fmt.Fprintf(&b, "💳 Remaining Balance: %s\n\n", textfmt.Money(res.Account.Balance))
	b.WriteString(h.quip(buyQuips))
	return b.String(), nil
}

func (h *Handler) sell(ctx context.Context, req Request, args []string) (string, error) {
	if len(args) != 1 {
		return "", &UsageError{Usage: "/sell <COIN>", Example: "/sell BTC"}
	}
	symbol := strings.ToUpper(args[0])
	res, err := h.ledger.Sell(ctx, req.UserID, symbol)
	if errors.Is(err, ledger.ErrNoHolding) {
		return "", &noHoldingError{symbol: symbol, err: err}
	}
	if err != nil {
		return "", err
	}

	t := res.Trade
	var b strings.Builder
	b.WriteString("✅ Sale Successful! ✅\n\n")
	fmt.Fprintf(&b, "💎 Sold: %s %s\n", textfmt.Quantity(t.Quantity, 6), t.Symbol)
	fmt.Fprintf(&b, "💵 Received: %s\n", textfmt.Money(t.Total))
	fmt.Fprintf(&b, "📊 Price: %s\n", textfmt.Money(t.Price))
	fmt.Fprintf(&b, "💳 New Balance: %s\n\n", textfmt.Money(res.Account.Balance))
	b.WriteString(h.quip(sellQuips))
	return b.String(), nil
}

// --- Games ---

// play settles one wager through the ledger and records the outcome.
func (h *Handler) play(ctx context.Context, req Request, args []string, usage *UsageError, game func(bet decimal.Decimal) wager.Outcome) (wager.Outcome, decimal.Decimal, error) {
	if len(args) != 1 {
		return wager.Outcome{}, decimal.Zero, usage
	}
	bet, err := parseAmount(args[0])
	if err != nil {
		return wager.Outcome{}, decimal.Zero, err
	}

	var out wager.Outcome
	acct, err := h.ledger.PlaceWager(ctx, req.UserID, bet, func() decimal.Decimal {
		out = game(bet)
		return out.Net
	})
	if err != nil {
		return wager.Outcome{}, decimal.Zero, err
	}

	result := "lost"
	if out.Won() {
		result = "won"
	}
	metrics.WagersTotal.WithLabelValues(string(out.Game), result).Inc()
	h.log.Info("wager settled", "user", req.UserID, "game", out.Game, "bet", bet.String(), "net", out.Net.String())
	return out, acct.Balance, nil
}

func (h *Handler) coinFlip(ctx context.Context, req Request, args []string) (string, error) {
	out, balance, err := h.play(ctx, req, args, &UsageError{Usage: "/coinflip <AMOUNT>", Example: "/coinflip 100"}, h.games.CoinFlip)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteString("🪙 COIN FLIP 🪙\n\n")
	fmt.Fprintf(&b, "💰 Bet: %s\n", textfmt.Money(out.Bet))
	if out.Heads {
		fmt.Fprintf(&b, "🪙 HEADS! You win %s! 🎉\n", textfmt.Money(out.Payout))
	} else {
		fmt.Fprintf(&b, "🪙 TAILS! You lost %s! 💸\n", textfmt.Money(out.Bet))
	}
	fmt.Fprintf(&b, "💳 New Balance: %s\n\n", textfmt.Money(balance))
	if out.Heads {
		b.WriteString("Lady Luck smiles upon you!")
	} else {
		b.WriteString("Better luck next time, gambler!")
	}
	return b.String(), nil
}

func (h *Handler) slots(ctx context.Context, req Request, args []string) (string, error) {
	out, balance, err := h.play(ctx, req, args, &UsageError{Usage: "/slots <AMOUNT>", Example: "/slots 100"}, h.games.Slots)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteString("🎰 SLOT MACHINE 🎰\n\n")
	fmt.Fprintf(&b, "%s\n\n", strings.Join(out.Reels, " | "))
	fmt.Fprintf(&b, "💰 Bet: %s\n", textfmt.Money(out.Bet))
	b.WriteString(winLine(out))
	fmt.Fprintf(&b, "💳 New Balance: %s\n\n", textfmt.Money(balance))
	switch {
	case out.Multiplier.GreaterThanOrEqual(h.cfg.Slots.Triple):
		b.WriteString("Jackpot vibes!")
	case out.Multiplier.IsZero():
		b.WriteString("The house always wins... eventually!")
	default:
		b.WriteString("Small wins count too!")
	}
	return b.String(), nil
}

var rollFlavors = []string{"Incredible luck!", "Great roll!", "Not bad!", "Close!"}

func (h *Handler) roll(ctx context.Context, req Request, args []string) (string, error) {
	out, balance, err := h.play(ctx, req, args, &UsageError{Usage: "/roll <AMOUNT>", Example: "/roll 100"}, h.games.Dice)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteString("🎲 DICE ROLL 🎲\n\n")
	fmt.Fprintf(&b, "🎯 Roll: %d/100\n", out.Roll)
	fmt.Fprintf(&b, "💰 Bet: %s\n", textfmt.Money(out.Bet))
	b.WriteString(winLine(out))
	fmt.Fprintf(&b, "💳 New Balance: %s\n\n", textfmt.Money(balance))

	flavor := "Ouch! Try again!"
	for i, tier := range h.cfg.DicePayouts {
		if out.Roll >= tier.Threshold {
			flavor = rollFlavors[min(i, len(rollFlavors)-1)]
			break
		}
	}
	b.WriteString(flavor)
	return b.String(), nil
}

func winLine(out wager.Outcome) string {
	if out.Multiplier.IsPositive() {
		return fmt.Sprintf("🎉 You won %s! (x%s)\n", textfmt.Money(out.Payout), out.Multiplier)
	}
	return fmt.Sprintf("💸 You lost %s!\n", textfmt.Money(out.Bet))
}

func (h *Handler) predict(ctx context.Context, req Request, args []string) (string, error) {
	if len(args) != 3 {
		return "", &UsageError{Usage: "/predict <COIN> <UP/DOWN> <AMOUNT>", Example: "/predict BTC UP 100"}
	}
	bet, err := parseAmount(args[2])
	if err != nil {
		return "", err
	}
	symbol := strings.ToUpper(args[0])
	if !h.ledger.Supported(symbol) {
		return "", ledger.ErrUnsupportedSymbol
	}
	dir, err := prediction.ParseDirection(args[1])
	if err != nil {
		return "", err
	}

	p, _, err := h.predictions.Open(ctx, prediction.OpenRequest{
		UserID:    req.UserID,
		ChatID:    req.ChatID,
		Symbol:    symbol,
		Direction: dir,
		Bet:       bet,
	})
	if err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteString("🔮 PRICE PREDICTION ACTIVE 🔮\n\n")
	fmt.Fprintf(&b, "💰 Coin: %s\n", p.Symbol)
	fmt.Fprintf(&b, "📊 Current Price: %s\n", textfmt.Money(p.StartPrice))
	fmt.Fprintf(&b, "🎯 Prediction: %s\n", p.Direction)
	fmt.Fprintf(&b, "💵 Bet: %s\n\n", textfmt.Money(p.Bet))
	fmt.Fprintf(&b, "⏰ The result will be posted here in %s.\n\n", humanDuration(h.predictions.Delay()))
	b.WriteString("Fortune favors the bold... or does it? 🤔")
	return b.String(), nil
}

// --- Stats ---

var medals = []string{"🥇", "🥈", "🥉"}

const leaderboardSize = 10

func (h *Handler) leaderboard(ctx context.Context, _ Request, _ []string) (string, error) {
	rows, err := h.ledger.Leaderboard(ctx, leaderboardSize)
	if err != nil {
		return "", err
	}
	if len(rows) == 0 {
		return "📊 No players yet! Be the first to start trading!", nil
	}

	var b strings.Builder
	b.WriteString("🏆 TOP FAKE CRYPTO MILLIONAIRES 🏆\n\n")
	for i, row := range rows {
		rank := fmt.Sprintf("%d.", row.Rank)
		if i < len(medals) {
			rank = medals[i]
		}
		fmt.Fprintf(&b, "%s User %d\n", rank, row.UserID)
		fmt.Fprintf(&b, "💎 Net Worth: %s\n", textfmt.Money(row.NetWorth))
		fmt.Fprintf(&b, "💵 Cash: %s\n", textfmt.Money(row.Cash))
		fmt.Fprintf(&b, "📈 Crypto: %s\n", textfmt.Money(row.HoldingsValue))
		fmt.Fprintf(&b, "📊 Trades: %d\n\n", row.TotalTrades)
	}
	b.WriteString("💡 Rankings update in real-time!")
	return b.String(), nil
}

func (h *Handler) stats(ctx context.Context, req Request, _ []string) (string, error) {
	st, err := h.ledger.PlayerStats(ctx, req.UserID)
	if err != nil {
		return "", err
	}
	pf := st.Portfolio
	pct := decimal.Zero
	if start := h.ledger.StartingBalance(); start.IsPositive() {
		pct = st.ProfitLoss.Div(start).Mul(decimal.NewFromInt(100))
	}

	var b strings.Builder
	b.WriteString("📊 Your Trading Statistics 📊\n\n")
	fmt.Fprintf(&b, "💎 Net Worth: %s\n", textfmt.Money(pf.NetWorth))
	fmt.Fprintf(&b, "💵 Cash: %s\n", textfmt.Money(pf.Account.Balance))
	fmt.Fprintf(&b, "📈 Crypto Value: %s\n\n", textfmt.Money(pf.HoldingsValue))
	fmt.Fprintf(&b, "💰 Profit/Loss: %s (%s)\n", textfmt.SignedMoney(st.ProfitLoss), textfmt.Percent(pct))
	fmt.Fprintf(&b, "📊 Total Trades: %d\n", pf.Account.TotalTrades)
	fmt.Fprintf(&b, "📅 Member Since: %s\n\n", pf.Account.JoinedAt.Format("2006-01-02"))
	b.WriteString("📈 Recent Trades:\n")
	if len(st.RecentTrades) == 0 {
		b.WriteString("No trades yet! Start with /buy or /sell")
	}
	for _, t := range st.RecentTrades {
		action := "📈 Bought"
		if t.Side == model.SideSell {
			action = "📉 Sold"
		}
		fmt.Fprintf(&b, "%s %s %s @ %s\n", action, textfmt.Quantity(t.Quantity, 4), t.Symbol, textfmt.Money(t.Price))
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

func (h *Handler) adminStats(ctx context.Context, req Request, _ []string) (string, error) {
	if !h.cfg.IsAdmin(req.UserID) {
		return "", nil
	}
	st, err := h.ledger.EconomyStats(ctx)
	if err != nil {
		return "", err
	}
	cached, refreshedAt := h.prices.Cached()
	age := "never"
	if !refreshedAt.IsZero() {
		age = fmt.Sprintf("%.1fs ago", h.now().Sub(refreshedAt).Seconds())
	}

	var b strings.Builder
	b.WriteString("🔧 Bot Admin Statistics 🔧\n\n")
	fmt.Fprintf(&b, "👥 Total Users: %s\n", textfmt.Int(st.TotalUsers))
	fmt.Fprintf(&b, "📊 Total Trades: %s\n", textfmt.Int(st.TotalTrades))
	fmt.Fprintf(&b, "🔥 Active Users (24h): %s\n", textfmt.Int(st.ActiveUsers))
	fmt.Fprintf(&b, "💰 Total Fake Money: %s\n", textfmt.Money(st.TotalCash))
	fmt.Fprintf(&b, "🔮 Open Predictions: %s\n\n", textfmt.Int(st.OpenPredictions))
	b.WriteString("📈 Price Cache Status:\n")
	fmt.Fprintf(&b, "%d coins cached\n", len(cached))
	fmt.Fprintf(&b, "Last update: %s", age)
	return b.String(), nil
}

// humanDuration renders whole minutes as "5 minutes" and anything else in
// Go duration syntax.
func humanDuration(d time.Duration) string {
	switch {
	case d == time.Minute:
		return "1 minute"
	case d > 0 && d%time.Minute == 0:
		return fmt.Sprintf("%d minutes", int(d/time.Minute))
	case d > 0 && d%time.Second == 0:
		return fmt.Sprintf("%d seconds", int(d/time.Second))
	}
	return d.String()
}
