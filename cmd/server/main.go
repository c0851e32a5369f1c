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

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/BakaOtaku/robet-ai/internal/admission"
	"github.com/BakaOtaku/robet-ai/internal/api"
	"github.com/BakaOtaku/robet-ai/internal/config"
	"github.com/BakaOtaku/robet-ai/internal/deposit"
	"github.com/BakaOtaku/robet-ai/internal/ledger"
	"github.com/BakaOtaku/robet-ai/internal/metrics"
	"github.com/BakaOtaku/robet-ai/internal/risklimit"
	"github.com/BakaOtaku/robet-ai/internal/sigverify"
	"github.com/BakaOtaku/robet-ai/internal/ws"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	// --- Initialize ledger ---
	var lg ledger.Ledger
	var cleanup []func()

	if cfg.DatabaseURL != "" {
		pool, err := pgxpool.New(context.Background(), cfg.DatabaseURL)
		if err != nil {
			slog.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, pool.Close)
		lg = ledger.NewPostgresLedger(pool)
		slog.Info("connected to PostgreSQL")

		if cfg.RedisURL != "" {
			opt, err := redis.ParseURL(cfg.RedisURL)
			if err != nil {
				slog.Error("invalid REDIS_URL", "err", err)
				os.Exit(1)
			}
			rdb := redis.NewClient(opt)
			cleanup = append(cleanup, func() { rdb.Close() })
			lg = ledger.NewCachedLedger(lg, rdb, cfg.CacheTTL)
			slog.Info("Redis cache enabled")
		}
	} else {
		slog.Warn("DATABASE_URL not set, using in-memory ledger (data will not persist)")
		lg = ledger.NewMemoryLedger()
	}

	defer func() {
		for _, fn := range cleanup {
			fn()
		}
	}()

	// --- Signature verifier ---
	chains := make(map[string]sigverify.ChainConfig, len(cfg.Chains))
	for _, c := range cfg.Chains {
		chains[c.ChainID] = sigverify.ChainConfig{Scheme: c.Scheme}
	}
	verifier := sigverify.NewVerifier(chains)

	// --- Risk limiter ---
	limiter := risklimit.NewLimiter(cfg.MaxNotionalPerMarket)

	// --- Order admission ---
	admitter := admission.NewAdmitter(lg, verifier, limiter)

	// --- WebSocket hub ---
	hub := ws.NewHub()
	go hub.Run()

	// --- Deposit ingress ---
	if len(cfg.KafkaBrokers) > 0 {
		consumer := deposit.NewConsumer(cfg.KafkaBrokers, cfg.KafkaTopic, lg)
		cleanup = append(cleanup, func() { consumer.Close() })
		ctx, cancelConsumer := context.WithCancel(context.Background())
		cleanup = append(cleanup, cancelConsumer)
		go consumer.Run(ctx)
		slog.Info("deposit consumer started", "topic", cfg.KafkaTopic, "brokers", cfg.KafkaBrokers)
	} else {
		slog.Warn("KAFKA_BROKERS not set, deposit ingress disabled")
	}

	// --- API service ---
	svc := api.NewService(lg, admitter, hub)

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)

	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/health", svc.Health)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/ws", hub.HandleWS)

		r.Get("/markets", svc.ListMarkets)
		r.Post("/markets", svc.CreateMarket)
		r.Get("/markets/{marketID}", svc.GetMarket)
		r.Post("/markets/{marketID}/settle", svc.SettleMarket)
		r.Get("/markets/{marketID}/book", svc.GetBook)
		r.Get("/markets/{marketID}/orders", svc.GetOrders)
		r.Get("/markets/{marketID}/trades", svc.GetTrades)

		r.Post("/orders", svc.SubmitOrder)

		r.Get("/users/{userID}/ledger", svc.GetUserLedger)
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("robet-ai listening", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	slog.Info("shutting down robet-ai...")
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	fmt.Println("robet-ai stopped")
}
