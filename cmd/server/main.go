package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/fakecrypto/game-engine/internal/api"
	"github.com/fakecrypto/game-engine/internal/command"
	"github.com/fakecrypto/game-engine/internal/config"
	"github.com/fakecrypto/game-engine/internal/cooldown"
	"github.com/fakecrypto/game-engine/internal/external"
	"github.com/fakecrypto/game-engine/internal/ledger"
	"github.com/fakecrypto/game-engine/internal/limits"
	"github.com/fakecrypto/game-engine/internal/notify"
	"github.com/fakecrypto/game-engine/internal/prediction"
	"github.com/fakecrypto/game-engine/internal/pricecache"
	"github.com/fakecrypto/game-engine/internal/store"
	"github.com/fakecrypto/game-engine/internal/wager"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "err", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var cleanup []func()
	defer func() {
		for i := len(cleanup) - 1; i >= 0; i-- {
			cleanup[i]()
		}
	}()

	// --- Redis (optional) ---
	var rdb *redis.Client
	if cfg.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			slog.Error("invalid REDIS_URL", "err", err)
			os.Exit(1)
		}
		rdb = redis.NewClient(opt)
		cleanup = append(cleanup, func() { rdb.Close() })
	}

	// --- Initialize store ---
	var st store.Store
	if cfg.DatabaseURL != "" {
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			slog.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, pool.Close)
		pg := store.NewPostgresStore(pool)
		if err := pg.EnsureSchema(ctx); err != nil {
			slog.Error("schema setup failed", "err", err)
			os.Exit(1)
		}
		st = pg
		slog.Info("connected to PostgreSQL")

		if rdb != nil {
			st = store.NewCachedStore(st, rdb, 30*time.Second)
			slog.Info("Redis account cache enabled")
		}
	} else {
		slog.Warn("DATABASE_URL not set, using in-memory store (data will not persist)")
		st = store.NewMemoryStore()
	}

	// --- Cooldowns ---
	var guard cooldown.Guard
	if rdb != nil {
		guard = cooldown.NewRedisGuard(rdb, cfg.Cooldowns)
		slog.Info("Redis cooldowns enabled")
	} else {
		mg := cooldown.NewMemoryGuard(cfg.Cooldowns)
		go pruneCooldowns(ctx, mg)
		guard = mg
	}

	// --- Prices ---
	provider := external.NewCoinGeckoClient(cfg.CoinGeckoURL, cfg.CoinGeckoAPIKey)
	prices := pricecache.New(provider, cfg.Symbols, cfg.PriceCacheDuration, logger)
	warmer := pricecache.NewWarmer(prices, cfg.PriceUpdateInterval, 10*time.Second, logger)
	warmer.Start()
	cleanup = append(cleanup, warmer.Stop)

	// --- Ledger and games ---
	book := ledger.New(st, prices, ledger.Options{
		StartingBalance: cfg.StartingBalance,
		Symbols:         cfg.Tickers(),
		Limiter:         limits.NewBetLimiter(cfg.MinBet, cfg.MaxBetPercentage),
		Logger:          logger,
	})
	games := wager.NewEngine(cfg.DicePayouts, cfg.Slots, nil)

	// --- Notifications ---
	hub := notify.NewHub(logger)
	go hub.Run(ctx)

	// Network sinks deliver from their own queue so a dead endpoint
	// cannot stall the prediction scheduler.
	queued := func(n notify.Notifier) notify.Notifier {
		q := notify.NewQueue(n, 256, time.Minute, logger)
		cleanup = append(cleanup, func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := q.Close(ctx); err != nil {
				slog.Warn("notification queue not drained", "err", err)
			}
		})
		return q
	}

	sinks := notify.Fanout{hub, notify.LogNotifier{Logger: logger}}
	if cfg.WebhookURL != "" {
		sinks = append(sinks, queued(notify.NewWebhook(cfg.WebhookURL, "")))
		slog.Info("webhook notifications enabled")
	}
	if cfg.AMQPURL != "" {
		pub, err := notify.DialPublisher(cfg.AMQPURL, cfg.AMQPExchange, logger)
		if err != nil {
			slog.Error("amqp connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, func() { pub.Close() })
		sinks = append(sinks, queued(pub))
		slog.Info("AMQP notifications enabled", "exchange", cfg.AMQPExchange)
	}

	// --- Predictions ---
	predictions := prediction.NewService(book, prices, sinks, cfg.PredictionDelay, logger)
	scheduler := prediction.NewScheduler(predictions, cfg.PredictionPollInterval)
	n, err := scheduler.Rehydrate(ctx)
	if err != nil {
		slog.Error("prediction rehydrate failed", "err", err)
	} else if n > 0 {
		slog.Info("rescheduled open predictions", "count", n)
	}
	scheduler.Start()
	cleanup = append(cleanup, scheduler.Stop)

	// --- Commands and HTTP ---
	handler := command.NewHandler(command.Options{
		Config:      cfg,
		Ledger:      book,
		Prices:      prices,
		Games:       games,
		Predictions: predictions,
		Guard:       guard,
		Logger:      logger,
	})
	server := api.NewServer(api.Options{
		Commands:  handler,
		Stream:    hub,
		JWTSecret: cfg.JWTSecret,
		Logger:    logger,
	})
	if cfg.JWTSecret == "" {
		slog.Warn("JWT_SECRET not set, commands trust the request's user_id")
	}

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      server.Router(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 35 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("game-engine listening", "port", cfg.Port, "symbols", len(cfg.Symbols))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	slog.Info("shutting down game-engine...")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	fmt.Println("game-engine stopped")
}

// pruneCooldowns drops expired in-memory cooldown records.
func pruneCooldowns(ctx context.Context, g *cooldown.MemoryGuard) {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := g.Prune(); n > 0 {
				slog.Debug("pruned cooldowns", "count", n)
			}
		}
	}
}
