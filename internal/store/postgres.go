package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/fakecrypto/game-engine/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const schema = `
CREATE TABLE IF NOT EXISTS accounts (
	user_id      BIGINT PRIMARY KEY,
	balance      NUMERIC(20,2) NOT NULL,
	holdings     JSONB NOT NULL DEFAULT '{}',
	total_trades BIGINT NOT NULL DEFAULT 0,
	joined_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	last_active  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS trades (
	id         UUID PRIMARY KEY,
	user_id    BIGINT NOT NULL REFERENCES accounts(user_id),
	symbol     TEXT NOT NULL,
	side       TEXT NOT NULL CHECK (side IN ('BUY', 'SELL')),
	quantity   NUMERIC(30,12) NOT NULL,
	price      NUMERIC(30,8) NOT NULL,
	total      NUMERIC(20,2) NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS trades_user_created_idx ON trades (user_id, created_at DESC);

CREATE TABLE IF NOT EXISTS predictions (
	id          UUID PRIMARY KEY,
	user_id     BIGINT NOT NULL REFERENCES accounts(user_id),
	chat_id     BIGINT NOT NULL DEFAULT 0,
	symbol      TEXT NOT NULL,
	direction   TEXT NOT NULL CHECK (direction IN ('UP', 'DOWN')),
	bet         NUMERIC(20,2) NOT NULL,
	start_price NUMERIC(30,8) NOT NULL,
	end_price   NUMERIC(30,8),
	opened_at   TIMESTAMPTZ NOT NULL,
	due_at      TIMESTAMPTZ NOT NULL,
	resolved_at TIMESTAMPTZ,
	status      TEXT NOT NULL DEFAULT 'open',
	payout      NUMERIC(20,2) NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS predictions_status_due_idx ON predictions (status, due_at);
`

// EnsureSchema creates the tables if they do not exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// --- Accounts ---

const accountColumns = `user_id, balance::TEXT, holdings, total_trades, joined_at, last_active`

func (s *PostgresStore) GetAccount(ctx context.Context, userID int64) (*model.Account, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE user_id = $1`, userID)
	a, err := scanAccount(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("account %d: %w", userID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get account %d: %w", userID, err)
	}
	return a, nil
}

func (s *PostgresStore) GetAccountForUpdate(ctx context.Context, userID int64) (*model.Account, error) {
	return s.GetAccount(ctx, userID)
}

func (s *PostgresStore) CreateAccount(ctx context.Context, acct *model.Account) (*model.Account, error) {
	holdings, err := marshalHoldings(acct.Holdings)
	if err != nil {
		return nil, err
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO accounts (user_id, balance, holdings, total_trades, joined_at, last_active)
		 VALUES ($1, $2::NUMERIC, $3, $4, $5, $6)
		 ON CONFLICT (user_id) DO NOTHING`,
		acct.UserID, acct.Balance.String(), holdings, acct.TotalTrades, acct.JoinedAt, acct.LastActive,
	)
	if err != nil {
		return nil, fmt.Errorf("create account %d: %w", acct.UserID, err)
	}
	return s.GetAccount(ctx, acct.UserID)
}

func (s *PostgresStore) SetBalance(ctx context.Context, userID int64, balance decimal.Decimal) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE accounts SET balance = $2::NUMERIC, last_active = NOW() WHERE user_id = $1`,
		userID, balance.String())
	if err != nil {
		return fmt.Errorf("set balance %d: %w", userID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("account %d: %w", userID, ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) SetHoldings(ctx context.Context, userID int64, holdings model.Holdings) error {
	data, err := marshalHoldings(holdings)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE accounts SET holdings = $2, last_active = NOW() WHERE user_id = $1`,
		userID, data)
	if err != nil {
		return fmt.Errorf("set holdings %d: %w", userID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("account %d: %w", userID, ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) ListAccounts(ctx context.Context) ([]model.Account, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+accountColumns+` FROM accounts ORDER BY user_id`)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	defer rows.Close()

	var accounts []model.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, *a)
	}
	return accounts, rows.Err()
}

// --- Trades ---

func (s *PostgresStore) ApplyTrade(ctx context.Context, acct *model.Account, t *model.Trade) error {
	holdings, err := marshalHoldings(acct.Holdings)
	if err != nil {
		return err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin trade tx: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx,
		`UPDATE accounts
		 SET balance = $2::NUMERIC, holdings = $3,
		     total_trades = total_trades + 1, last_active = NOW()
		 WHERE user_id = $1`,
		acct.UserID, acct.Balance.String(), holdings)
	if err != nil {
		return fmt.Errorf("update account %d: %w", acct.UserID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("account %d: %w", acct.UserID, ErrNotFound)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO trades (id, user_id, symbol, side, quantity, price, total, created_at)
		 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6::NUMERIC, $7::NUMERIC, $8)`,
		t.ID, t.UserID, t.Symbol, string(t.Side),
		t.Quantity.String(), t.Price.String(), t.Total.String(), t.Timestamp)
	if err != nil {
		return fmt.Errorf("insert trade %s: %w", t.ID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit trade %s: %w", t.ID, err)
	}
	return nil
}

func (s *PostgresStore) TradesByUser(ctx context.Context, userID int64, limit int) ([]model.Trade, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id::TEXT, user_id, symbol, side, quantity::TEXT, price::TEXT, total::TEXT, created_at
		 FROM trades WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("trades for %d: %w", userID, err)
	}
	defer rows.Close()

	var trades []model.Trade
	for rows.Next() {
		var t model.Trade
		var side, qtyS, priceS, totalS string
		if err := rows.Scan(&t.ID, &t.UserID, &t.Symbol, &side, &qtyS, &priceS, &totalS, &t.Timestamp); err != nil {
			return nil, err
		}
		t.Side = model.Side(side)
		t.Quantity, _ = decimal.NewFromString(qtyS)
		t.Price, _ = decimal.NewFromString(priceS)
		t.Total, _ = decimal.NewFromString(totalS)
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// --- Predictions ---

const predictionColumns = `id::TEXT, user_id, chat_id, symbol, direction, bet::TEXT, start_price::TEXT,
	end_price::TEXT, opened_at, due_at, resolved_at, status, payout::TEXT`

func (s *PostgresStore) OpenPrediction(ctx context.Context, p *model.Prediction, balance decimal.Decimal) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin prediction tx: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx,
		`UPDATE accounts SET balance = $2::NUMERIC, last_active = NOW() WHERE user_id = $1`,
		p.UserID, balance.String())
	if err != nil {
		return fmt.Errorf("debit account %d: %w", p.UserID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("account %d: %w", p.UserID, ErrNotFound)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO predictions (id, user_id, chat_id, symbol, direction, bet, start_price,
		                          opened_at, due_at, status, payout)
		 VALUES ($1, $2, $3, $4, $5, $6::NUMERIC, $7::NUMERIC, $8, $9, $10, 0)`,
		p.ID, p.UserID, p.ChatID, p.Symbol, string(p.Direction),
		p.Bet.String(), p.StartPrice.String(), p.OpenedAt, p.DueAt, string(model.PredictionOpen))
	if err != nil {
		return fmt.Errorf("insert prediction %s: %w", p.ID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit prediction %s: %w", p.ID, err)
	}
	return nil
}

func (s *PostgresStore) GetPrediction(ctx context.Context, id string) (*model.Prediction, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+predictionColumns+` FROM predictions WHERE id = $1`, id)
	p, err := scanPrediction(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("prediction %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get prediction %s: %w", id, err)
	}
	return p, nil
}

func (s *PostgresStore) ListOpenPredictions(ctx context.Context) ([]model.Prediction, error) {
	return s.queryPredictions(ctx,
		`SELECT `+predictionColumns+` FROM predictions WHERE status = 'open' ORDER BY due_at`)
}

func (s *PostgresStore) ListDuePredictions(ctx context.Context, now time.Time) ([]model.Prediction, error) {
	return s.queryPredictions(ctx,
		`SELECT `+predictionColumns+` FROM predictions
		 WHERE status = 'open' AND due_at <= $1 ORDER BY due_at`, now)
}

func (s *PostgresStore) queryPredictions(ctx context.Context, sql string, args ...any) ([]model.Prediction, error) {
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("list predictions: %w", err)
	}
	defer rows.Close()

	var result []model.Prediction
	for rows.Next() {
		p, err := scanPrediction(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *p)
	}
	return result, rows.Err()
}

// SettlePrediction flips status with a conditional UPDATE; only the caller
// that wins the row gets RETURNING data and goes on to credit the payout.
func (s *PostgresStore) SettlePrediction(ctx context.Context, st model.Settlement) (bool, error) {
	var endPrice *string
	if st.EndPrice.Valid {
		v := st.EndPrice.Decimal.String()
		endPrice = &v
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("begin settle tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var userID int64
	err = tx.QueryRow(ctx,
		`UPDATE predictions
		 SET status = $2, end_price = $3::NUMERIC, payout = $4::NUMERIC, resolved_at = $5
		 WHERE id = $1 AND status = 'open'
		 RETURNING user_id`,
		st.PredictionID, string(st.Status), endPrice, st.Payout.String(), st.ResolvedAt).
		Scan(&userID)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("settle prediction %s: %w", st.PredictionID, err)
	}

	if st.Payout.IsPositive() {
		_, err = tx.Exec(ctx,
			`UPDATE accounts SET balance = balance + $2::NUMERIC, last_active = NOW() WHERE user_id = $1`,
			userID, st.Payout.String())
		if err != nil {
			return false, fmt.Errorf("credit payout %s: %w", st.PredictionID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("commit settle %s: %w", st.PredictionID, err)
	}
	return true, nil
}

// --- Aggregates ---

func (s *PostgresStore) Stats(ctx context.Context, since time.Time) (*model.AdminStats, error) {
	var stats model.AdminStats
	var cashS string
	err := s.pool.QueryRow(ctx,
		`SELECT
			(SELECT COUNT(*) FROM accounts),
			(SELECT COUNT(*) FROM trades),
			(SELECT COUNT(DISTINCT user_id) FROM trades WHERE created_at > $1),
			(SELECT COALESCE(SUM(balance), 0)::TEXT FROM accounts),
			(SELECT COUNT(*) FROM predictions WHERE status = 'open')`, since).
		Scan(&stats.TotalUsers, &stats.TotalTrades, &stats.ActiveUsers, &cashS, &stats.OpenPredictions)
	if err != nil {
		return nil, fmt.Errorf("stats: %w", err)
	}
	stats.TotalCash, _ = decimal.NewFromString(cashS)
	return &stats, nil
}

// --- Scanning helpers ---

func scanAccount(row pgx.Row) (*model.Account, error) {
	var a model.Account
	var balanceS string
	var holdings []byte
	if err := row.Scan(&a.UserID, &balanceS, &holdings, &a.TotalTrades, &a.JoinedAt, &a.LastActive); err != nil {
		return nil, err
	}
	a.Balance, _ = decimal.NewFromString(balanceS)
	a.Holdings = model.Holdings{}
	if len(holdings) > 0 {
		if err := json.Unmarshal(holdings, &a.Holdings); err != nil {
			return nil, fmt.Errorf("decode holdings for %d: %w", a.UserID, err)
		}
	}
	return &a, nil
}

func scanPrediction(row pgx.Row) (*model.Prediction, error) {
	var p model.Prediction
	var direction, status, betS, startS, payoutS string
	var endS *string
	if err := row.Scan(&p.ID, &p.UserID, &p.ChatID, &p.Symbol, &direction, &betS, &startS,
		&endS, &p.OpenedAt, &p.DueAt, &p.ResolvedAt, &status, &payoutS); err != nil {
		return nil, err
	}
	p.Direction = model.Direction(direction)
	p.Status = model.PredictionStatus(status)
	p.Bet, _ = decimal.NewFromString(betS)
	p.StartPrice, _ = decimal.NewFromString(startS)
	p.Payout, _ = decimal.NewFromString(payoutS)
	if endS != nil {
		end, _ := decimal.NewFromString(*endS)
		p.EndPrice = decimal.NewNullDecimal(end)
	}
	return &p, nil
}

func marshalHoldings(h model.Holdings) ([]byte, error) {
	if h == nil {
		h = model.Holdings{}
	}
	data, err := json.Marshal(h)
	if err != nil {
		return nil, fmt.Errorf("encode holdings: %w", err)
	}
	return data, nil
}
