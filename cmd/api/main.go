package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-course-trade/internal/catalog"
	"github.com/ariefcatur/go-course-trade/internal/config"
	"github.com/ariefcatur/go-course-trade/internal/httpx"
	"github.com/ariefcatur/go-course-trade/internal/logx"
	"github.com/ariefcatur/go-course-trade/internal/orders"
	"github.com/ariefcatur/go-course-trade/internal/payments"
	"github.com/ariefcatur/go-course-trade/internal/postgres"
	"github.com/ariefcatur/go-course-trade/internal/redisx"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	log, err := logx.New(cfg.ServiceName, cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// DB
	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatal("db connect", zap.Error(err))
	}
	defer db.Close()
	if err := postgres.Migrate(ctx, db); err != nil {
		log.Fatal("db migrate", zap.Error(err))
	}

	// Redis is an optimisation here; the API still serves without it.
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()
	if err := redisx.Ping(ctx, rdb); err != nil {
		log.Warn("redis unavailable at startup", zap.Error(err))
	}

	svc, err := orders.NewService(orders.ServiceDeps{
		Store:          &orders.Repo{DB: db},
		Catalog:        catalog.New(cfg.CatalogBaseURL, cfg.CatalogTimeout),
		Cart:           redisx.NewCartStore(rdb),
		Cache:          redisx.NewStatusCache(rdb),
		PayTTL:         cfg.PayOrderTTL,
		CatalogTimeout: cfg.CatalogTimeout,
		Producer:       cfg.ServiceName,
		Logger:         log.Named("orders"),
	})
	if err != nil {
		log.Fatal("order service", zap.Error(err))
	}
	pay := payments.NewHandler(svc, redisx.NewDedup(rdb, cfg.ServiceName), log.Named("payments"))

	router := httpx.NewRouter(log.Named("http"))
	if cfg.PayNotifySecret == "" {
		log.Warn("PAY_NOTIFY_SECRET not set, /pay/notify rejects every request")
	}
	(&httpx.OrdersHandler{
		Orders:       svc,
		Payments:     pay,
		NotifySecret: []byte(cfg.PayNotifySecret),
		Log:          log.Named("http"),
	}).Register(router)

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		log.Info("http listening", zap.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("listen", zap.Error(err))
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown", zap.Error(err))
	}
}
