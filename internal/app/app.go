package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ayo6706/crypto-ledger/internal/addressing"
	"github.com/ayo6706/crypto-ledger/internal/api"
	"github.com/ayo6706/crypto-ledger/internal/archive"
	"github.com/ayo6706/crypto-ledger/internal/chain"
	"github.com/ayo6706/crypto-ledger/internal/config"
	"github.com/ayo6706/crypto-ledger/internal/db"
	"github.com/ayo6706/crypto-ledger/internal/gateway"
	"github.com/ayo6706/crypto-ledger/internal/idempotency"
	"github.com/ayo6706/crypto-ledger/internal/lock"
	"github.com/ayo6706/crypto-ledger/internal/network"
	"github.com/ayo6706/crypto-ledger/internal/observability"
	"github.com/ayo6706/crypto-ledger/internal/oracle"
	"github.com/ayo6706/crypto-ledger/internal/repository"
	"github.com/ayo6706/crypto-ledger/internal/service"
	"github.com/ayo6706/crypto-ledger/internal/stream"
	"github.com/ayo6706/crypto-ledger/internal/worker"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Run bootstraps the HTTP server and background workers, blocking until
// shutdown.
func Run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Sync()
	zap.ReplaceGlobals(logger)
	observability.Init()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	conn, err := db.Connect(ctx, cfg.DatabaseDriver, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer conn.Close()
	if err := db.Migrate(conn, cfg.DatabaseDriver); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}
	store := repository.NewStore(conn, repository.Dialect(cfg.DatabaseDriver))

	// rdb stays a nil interface when Redis is not configured.
	var rdb redis.Cmdable
	var locker lock.Locker = lock.NewLocal()
	if cfg.RedisURL != "" {
		client, err := newRedisClient(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		defer client.Close()
		rdb = client
		if cfg.LockBackend == "redis" {
			locker = lock.NewRedis(client, cfg.LockTTL)
		}
	}

	registry, err := network.Load(cfg.NetworksFile)
	if err != nil {
		return fmt.Errorf("load networks: %w", err)
	}
	deriver, err := addressing.NewDeriver(cfg.HDXpubs)
	if err != nil {
		return fmt.Errorf("init address deriver: %w", err)
	}

	var broadcaster gateway.Broadcaster
	if cfg.SignerURL != "" {
		broadcaster = gateway.NewHTTPSigner(cfg.SignerURL, cfg.SignerToken, cfg.SignerTimeout)
	} else {
		logger.Warn("SIGNER_URL not set, withdrawals use the mock broadcaster", zap.Float64("failure_rate", cfg.MockSignerFailure))
		broadcaster = gateway.NewMockBroadcaster(cfg.MockSignerFailure)
	}

	static, err := oracle.ParseStatic(cfg.StaticRates)
	if err != nil {
		return fmt.Errorf("parse static rates: %w", err)
	}
	var rates oracle.Oracle = static
	if rdb != nil {
		rates = oracle.NewCached(static, rdb, cfg.RateMaxAge)
	}

	ledger := service.NewLedger(store, locker)
	if cfg.MongoURL != "" {
		mongoArchive, err := archive.NewMongo(ctx, cfg.MongoURL, cfg.MongoDatabase)
		if err != nil {
			return fmt.Errorf("connect archive: %w", err)
		}
		defer func() {
			closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = mongoArchive.Close(closeCtx)
		}()
		ledger.WithArchiver(mongoArchive)
	}

	withdrawals := service.NewWithdrawalService(ledger, registry, broadcaster, rates).
		WithInlineDispatch(cfg.WithdrawalInlineDispatch)
	reconciler := service.NewReconciler(ledger, registry)
	svcs := api.Services{
		Accounts:    service.NewAccountService(store),
		Deposits:    service.NewDepositService(ledger, registry, deriver, rates),
		Withdrawals: withdrawals,
		Conversions: service.NewConversionService(ledger, registry, rates),
		Admin:       service.NewAdminService(ledger, withdrawals),
		Webhook:     service.NewWebhookService(reconciler, registry, cfg.WebhookHMACKey, cfg.WebhookSkipSignature),
	}

	var (
		publisher  stream.Publisher
		subscriber stream.Subscriber
	)
	switch cfg.StreamBackend {
	case "kafka":
		publisher = stream.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		subscriber = stream.NewKafkaSubscriber(cfg.KafkaBrokers, cfg.KafkaTopic, cfg.KafkaGroup)
	default:
		ch := stream.NewChannel(256)
		publisher, subscriber = ch, ch
	}
	defer publisher.Close()
	defer subscriber.Close()

	idemStore := idempotency.NewStore(rdb, store.Queries(), cfg.IdempotencyTTL)
	router := api.NewRouter(cfg, logger, conn, idemStore, rdb, registry, svcs)

	server := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      router.Routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	dispatchWorker := worker.NewDispatchWorker(withdrawals).
		WithPollInterval(cfg.DispatchPollInterval).
		WithBatchSize(cfg.DispatchBatchSize)
	sweepWorker := worker.NewSweepWorker(reconciler, ledger.Now).
		WithInterval(cfg.SweepInterval).
		WithPurger(idemStore)
	integrityWorker := worker.NewIntegrityWorker(service.NewIntegrityService(store, registry.Fiat().Code)).
		WithInterval(cfg.IntegrityInterval)
	consumer := worker.NewConsumer(subscriber, reconciler)

	g.Go(func() error { dispatchWorker.Start(gctx); return nil })
	g.Go(func() error { sweepWorker.Start(gctx); return nil })
	g.Go(func() error { integrityWorker.Start(gctx); return nil })
	g.Go(func() error { return consumer.Start(gctx) })

	for _, net := range registry.Active() {
		if net.RPCEndpoint == "" {
			continue
		}
		client, err := chain.Dial(ctx, net, net.RPCEndpoint)
		if err != nil {
			logger.Warn("chain watcher disabled", zap.String("network", net.Code), zap.Error(err))
			continue
		}
		watchWorker := worker.NewWatchWorker(chain.NewWatcher(net, client, store.Queries(), publisher)).
			WithInterval(cfg.WatchInterval)
		g.Go(func() error { watchWorker.Start(gctx); return nil })
	}
	logger.Info("workers started",
		zap.Duration("dispatch_interval", cfg.DispatchPollInterval),
		zap.Int("dispatch_batch", cfg.DispatchBatchSize),
		zap.Duration("sweep_interval", cfg.SweepInterval),
		zap.String("stream", cfg.StreamBackend),
	)

	g.Go(func() error {
		logger.Info("http server starting", zap.String("port", cfg.HTTPPort))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("http server shutdown failed", zap.Error(err))
		}
		return nil
	})

	err = g.Wait()
	logger.Info("shutdown complete")
	return err
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	switch strings.ToLower(level) {
	case "debug":
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "warn":
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		cfg.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	return cfg.Build()
}

func newRedisClient(url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opt)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return client, nil
}
