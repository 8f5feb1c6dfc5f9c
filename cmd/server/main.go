package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	httpapi "github.com/sheikh-saqib/tayacoins-ledger/internal/api/http"
	"github.com/sheikh-saqib/tayacoins-ledger/internal/config"
	"github.com/sheikh-saqib/tayacoins-ledger/internal/events/kafka"
	"github.com/sheikh-saqib/tayacoins-ledger/internal/events/logpub"
	interfaces "github.com/sheikh-saqib/tayacoins-ledger/internal/interfaces"
	"github.com/sheikh-saqib/tayacoins-ledger/internal/ledger"
	"github.com/sheikh-saqib/tayacoins-ledger/internal/logger"
	"github.com/sheikh-saqib/tayacoins-ledger/internal/metrics"
	"github.com/sheikh-saqib/tayacoins-ledger/internal/models"
	"github.com/sheikh-saqib/tayacoins-ledger/internal/outbox"
	"github.com/sheikh-saqib/tayacoins-ledger/internal/storage/memory"
	"github.com/sheikh-saqib/tayacoins-ledger/internal/storage/postgres"
)

// ledgerStore is what the server needs from a store: the engine's side and
// the outbox side.
type ledgerStore interface {
	interfaces.LedgerStore
	interfaces.OutboxStore
}

func main() {
	configPath := flag.String("config", "", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	zl, err := logger.Initialize(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer zl.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, ready, closeStore, err := openStore(ctx, cfg, zl)
	if err != nil {
		zl.Fatal("Failed to open store", zap.Error(err))
	}
	defer closeStore()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	srvMetrics := metrics.NewServerMetrics(reg)

	ledgerService := ledger.NewLedger(store,
		ledger.WithLogger(logger.Named("ledger")),
		ledger.WithEventTopic(cfg.Ledger.EventTopic),
	)

	var publisher interfaces.EventPublisher
	if len(cfg.Kafka.Brokers) > 0 {
		kp, err := kafka.NewPublisher(kafka.Config{
			Brokers:      cfg.Kafka.Brokers,
			Compression:  cfg.Kafka.Compression,
			BatchTimeout: cfg.Kafka.BatchTimeout,
		})
		if err != nil {
			zl.Fatal("Failed to configure kafka publisher", zap.Error(err))
		}
		defer kp.Close()
		publisher = kp
		zl.Info("Publishing events to kafka", zap.Strings("brokers", cfg.Kafka.Brokers))
	} else {
		publisher = logpub.NewPublisher(logger.Named("events"))
		zl.Info("No kafka brokers configured, events are logged only")
	}

	relay := outbox.NewRelay(store, publisher, srvMetrics, logger.Named("outbox"), outbox.Config{
		Schedule:  cfg.Outbox.Schedule,
		BatchSize: cfg.Outbox.BatchSize,
	})
	if err := relay.Start(); err != nil {
		zl.Fatal("Failed to start outbox relay", zap.Error(err))
	}
	defer relay.Stop()

	app := httpapi.NewApp(ledgerService, srvMetrics, logger.Named("http"), ready)
	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           httpapi.NewRouter(app, metrics.Handler(reg)),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
	}

	go func() {
		zl.Info("Starting server", zap.String("addr", cfg.Server.Addr), zap.String("store", cfg.Database.Type))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zl.Fatal("Server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	zl.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zl.Error("Graceful shutdown failed", zap.Error(err))
	}
}

func openStore(ctx context.Context, cfg *config.Config, zl *zap.Logger) (ledgerStore, func(context.Context) error, func(), error) {
	if cfg.Database.Type == "memory" {
		store := memory.NewMemoryLedgerStore(memory.WithLockTimeout(cfg.Ledger.LockTimeout))
		if cfg.Database.SeedDemo {
			seedDemo(store)
			zl.Info("Seeded in-memory store with demo data")
		}
		return store, nil, func() {}, nil
	}

	zl.Info("Connecting to database",
		zap.String("host", cfg.Database.Host),
		zap.Int("port", cfg.Database.Port),
		zap.String("database", cfg.Database.Database),
		zap.String("user", cfg.Database.User),
	)
	db, err := sql.Open("postgres", cfg.GetDatabaseConnectionString())
	if err != nil {
		return nil, nil, nil, err
	}
	db.SetMaxOpenConns(cfg.Database.MaxOpenConn)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, nil, nil, err
	}
	if cfg.Database.AutoMigrate {
		if err := postgres.EnsureSchema(pingCtx, db); err != nil {
			db.Close()
			return nil, nil, nil, err
		}
	}
	zl.Info("Database connection established")

	store := postgres.NewPostgresLedgerStore(db, cfg.Ledger.LockTimeout)
	return store, db.PingContext, func() { db.Close() }, nil
}

// seedDemo gives a fresh in-memory store two traders and a few listings.
// Every new account starts with 100 coins.
func seedDemo(store *memory.MemoryLedgerStore) {
	start := decimal.NewFromInt(100)
	alice := store.AddAccount(models.Account{Name: "Alice", Balance: start})
	bob := store.AddAccount(models.Account{Name: "Bob", Balance: start})

	store.AddListing(models.Listing{SellerID: alice.ID, Name: "Sourdough loaf", Price: decimal.RequireFromString("12.50"), Quantity: 4, Unit: "loaf"})
	store.AddListing(models.Listing{SellerID: alice.ID, Name: "Free-range eggs", Price: decimal.RequireFromString("0.35"), Quantity: 36, Unit: "egg"})
	store.AddListing(models.Listing{SellerID: bob.ID, Name: "Bike repair", Price: decimal.NewFromInt(40), Quantity: 1, Unit: "hour"})
}
