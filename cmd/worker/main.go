package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ariefcatur/go-course-trade/internal/catalog"
	"github.com/ariefcatur/go-course-trade/internal/config"
	kafkax "github.com/ariefcatur/go-course-trade/internal/kafka"
	"github.com/ariefcatur/go-course-trade/internal/logx"
	"github.com/ariefcatur/go-course-trade/internal/orders"
	"github.com/ariefcatur/go-course-trade/internal/outbox"
	"github.com/ariefcatur/go-course-trade/internal/payments"
	"github.com/ariefcatur/go-course-trade/internal/postgres"
	"github.com/ariefcatur/go-course-trade/internal/rabbitmq"
	"github.com/ariefcatur/go-course-trade/internal/redisx"
)

// The worker consumes payment notifications and relays the outbox.
func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	log, err := logx.New(cfg.ServiceName+"-worker", cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatal("db connect", zap.Error(err))
	}
	defer db.Close()
	if err := postgres.Migrate(ctx, db); err != nil {
		log.Fatal("db migrate", zap.Error(err))
	}

	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	sink, closeSink, err := newSink(cfg, log)
	if err != nil {
		log.Fatal("event sink", zap.Error(err))
	}
	defer closeSink()

	svc, err := orders.NewService(orders.ServiceDeps{
		Store:          &orders.Repo{DB: db},
		Catalog:        catalog.New(cfg.CatalogBaseURL, cfg.CatalogTimeout),
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

	relay := outbox.NewRelay(&outbox.PGStore{DB: db}, sink, outbox.RelayConfig{
		Poll:        cfg.OutboxPoll,
		Batch:       cfg.OutboxBatch,
		Lease:       cfg.OutboxLease,
		MaxAttempts: cfg.OutboxMaxAttempt,
	}, log.Named("outbox"))
	cons := kafkax.NewConsumer(cfg.KafkaBrokers, cfg.PaymentGroup, cfg.PaymentTopic, cfg.PaymentWorkers, log.Named("consumer"))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return relay.Run(gctx) })
	g.Go(func() error {
		log.Info("payment consumer started",
			zap.String("group", cfg.PaymentGroup), zap.String("topic", cfg.PaymentTopic), zap.Int("workers", cfg.PaymentWorkers))
		return cons.Start(gctx, pay.HandleMessage)
	})
	if err := g.Wait(); err != nil {
		log.Error("worker exit", zap.Error(err))
		os.Exit(1)
	}
	log.Info("worker stopped")
}

func newSink(cfg config.Config, log *zap.Logger) (outbox.Sink, func(), error) {
	switch cfg.EventBroker {
	case "rabbitmq":
		p, err := rabbitmq.Dial(cfg.RabbitURL, cfg.RabbitExchange, log.Named("rabbitmq"))
		if err != nil {
			return nil, nil, err
		}
		return p, func() { _ = p.Close() }, nil
	case "kafka", "":
		p := kafkax.NewProducer(cfg.KafkaBrokers)
		return p, func() { _ = p.Close() }, nil
	}
	return nil, nil, fmt.Errorf("unknown EVENT_BROKER %q", cfg.EventBroker)
}
