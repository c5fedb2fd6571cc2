package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stripe/stripe-go/v79"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	store "gofalre.io/store"
	"gofalre.io/store/cart"
	"gofalre.io/store/config"
	"gofalre.io/store/driver"
	"gofalre.io/store/event"
	"gofalre.io/store/product"
	"gofalre.io/store/transport"
)

func main() {
	cfg := config.Load()

	logger := newLogger(cfg.AppEnv)
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("store exited", zap.Error(err))
	}
}

func newLogger(env string) *zap.Logger {
	if env == "dev" {
		logger, _ := zap.NewDevelopment()
		return logger
	}
	logger, _ := zap.NewProduction()
	return logger
}

func run(cfg config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := driver.ConnectSQL(cfg.PostgresDSN)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer db.Pool.Close()

	redisClient, err := driver.ConnectRedis(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, logger)
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	defer func() { _ = redisClient.Close() }()

	natsConn, err := nats.Connect(cfg.NatsURL)
	if err != nil {
		return fmt.Errorf("connect nats: %w", err)
	}
	defer natsConn.Close()

	cache := driver.NewCache(redisClient)
	tm := driver.NewTransactionManager(db.Pool, logger)

	cartRepo := cart.NewRepository(db.Pool, cache, logger)
	productRepo := product.NewRepository(db.Pool, cache, logger)
	eventRepo := event.NewRepository(db.Pool, logger)

	svc := store.NewService(cartRepo, productRepo, eventRepo, tm, natsConn,
		stripe.Currency(cfg.Currency), logger)
	sweeper := store.NewSweeper(cartRepo, tm, store.NewEventManager(natsConn, logger), logger)

	handler := transport.NewHandler(svc, logger)
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:      handler.Router(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("HTTP server listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	// The sweeper's fixed external cadence lives here, not in the sweeper.
	g.Go(func() error {
		ticker := time.NewTicker(cfg.SweepInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				if err := sweeper.RunCleanup(ctx); err != nil {
					logger.Error("Cleanup run failed", zap.Error(err))
				}
			}
		}
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
