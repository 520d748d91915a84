package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-redis/redis/v8"
	"github.com/ruralpay/ledgercore/docs"
	"github.com/ruralpay/ledgercore/internal/config"
	"github.com/ruralpay/ledgercore/internal/database"
	"github.com/ruralpay/ledgercore/internal/handlers"
	mW "github.com/ruralpay/ledgercore/internal/middleware"
	"github.com/ruralpay/ledgercore/internal/repository"
	"github.com/ruralpay/ledgercore/internal/scheduler"
	"github.com/ruralpay/ledgercore/internal/services"
	"github.com/ruralpay/ledgercore/internal/sinks"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// @title Ledger Core API
// @version 1.0
// @description Account ledger, transactions, bills and statements for RuralPay.
// @host localhost:8080
// @BasePath /api/v1
// @schemes http https
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
// @description Type "Bearer" followed by a space and the JWT.

func newLogger(level string) (*zap.Logger, error) {
	zapConfig := zap.NewProductionConfig()
	zapConfig.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	zapConfig.EncoderConfig.TimeKey = "timestamp"
	if level != "" {
		lvl, err := zap.ParseAtomicLevel(level)
		if err != nil {
			return nil, err
		}
		zapConfig.Level = lvl
	}
	return zapConfig.Build()
}

func main() {
	configFile := os.Getenv("CONFIG_FILE")
	if configFile == "" {
		configFile = "config.yaml"
	}
	cfg, err := config.Load(configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := newLogger(cfg.Log.Level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create zap logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()
	logger.Info("Ledger service starting...")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var (
		db   *sql.DB
		repo *repository.Postgres
	)
	if cfg.Database.Enabled {
		db, err = database.InitDB(cfg.Database, logger)
		if err != nil {
			logger.Fatal("Failed to initialize database", zap.Error(err))
		}
		defer db.Close()

		if cfg.Database.MigrateOnStart {
			if err := database.Migrate(cfg.Database.URL(), logger); err != nil {
				logger.Fatal("Failed to run database migrations", zap.Error(err))
			}
		}
		repo = repository.NewPostgres(db, logger)
	} else {
		logger.Warn("Database disabled, ledger state will not survive a restart")
	}

	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient = database.InitRedis(cfg.Redis, logger)
		if redisClient != nil {
			defer redisClient.Close()
		}
	}

	var producer sinks.Producer
	if cfg.Kafka.Enabled {
		producer = sinks.NewProducer(cfg.Kafka.Brokers, logger.With(zap.String("component", "KafkaProducer")))
		defer producer.Close()
	}

	auditSinks := buildSinks(cfg, logger, repo, redisClient, producer)

	// persisters stay nil interfaces when there is no database
	var (
		entryPersister     services.EntryPersister
		accountPersister   services.AccountPersister
		billPersister      services.BillPersister
		tombstonePersister services.TombstonePersister
	)
	if repo != nil {
		entryPersister, accountPersister, billPersister, tombstonePersister = repo, repo, repo, repo
	}

	audit := services.NewAuditService(cfg.Audit, logger, auditSinks...)
	store := services.NewAccountStore(accountPersister, logger)
	ledger := services.NewLedgerService(store, entryPersister, logger)
	locker := services.NewAccountLocker()
	txs := services.NewTransactionService(store, ledger, audit, locker, cfg.Ledger, logger)
	accounts := services.NewAccountService(store, ledger, audit, locker, cfg.Ledger, logger)
	bills := services.NewBillService(txs, locker, audit, billPersister, logger)
	deletes := services.NewSoftDeleteService(audit, tombstonePersister, logger, services.NewAccountRecords(store, locker), bills)

	if repo != nil {
		snap, err := repo.LoadAll(ctx)
		if err != nil {
			logger.Fatal("Failed to hydrate ledger state", zap.Error(err))
		}
		store.Load(snap.Accounts)
		ledger.Load(snap.Entries)
		bills.Load(snap.Bills)
		deletes.Load(snap.Tombstones)
		audit.Load(snap.Audit)

		drifted, err := accounts.ReconcileAll(ctx)
		if err != nil {
			logger.Error("Startup reconciliation failed", zap.Error(err))
		} else if drifted > 0 {
			logger.Warn("Startup reconciliation corrected balances", zap.Int("accounts", drifted))
		}
	}

	audit.Start(context.Background())

	h := handlers.NewHandler(handlers.Services{
		Accounts:     accounts,
		Transactions: txs,
		Statements:   services.NewStatementService(ledger),
		Bills:        bills,
		SoftDeletes:  deletes,
		Audit:        audit,
		ISO20022:     services.NewISO20022Service(ledger, store, ""),
	}, logger)

	docs.SwaggerInfo.Host = "localhost:" + cfg.Server.Port

	// Setup router
	r := chi.NewRouter()
	r.Use(mW.SecurityHeaders)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.Server.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link", "Content-Disposition"},
		AllowCredentials: true,
		MaxAge:           86400,
	}))
	handlers.RegisterRoutes(r, h, mW.NewAuthenticator(cfg.JWT.SecretKey, cfg.JWT.Issuer))

	var sched *scheduler.Scheduler
	if cfg.Scheduler.Enabled {
		sched, err = scheduler.NewScheduler(cfg.Scheduler, cfg.Ledger.Location(), scheduler.Jobs{
			Holds:      txs,
			Interest:   accounts,
			Reconciler: accounts,
		}, logger)
		if err != nil {
			logger.Fatal("Failed to configure scheduler", zap.Error(err))
		}
		sched.Start()
	}

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		logger.Info("Server starting", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("Server shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}
	if sched != nil {
		sched.Stop()
	}
	audit.Close()
	logger.Info("Server stopped", zap.Uint64("audit_dropped", audit.Dropped()))
}

// buildSinks resolves the configured audit sinks, skipping any whose backend
// is unavailable.
func buildSinks(cfg *config.Config, logger *zap.Logger, repo *repository.Postgres, redisClient *redis.Client, producer sinks.Producer) []services.AuditSink {
	var out []services.AuditSink
	for _, name := range cfg.Audit.Sinks {
		switch name {
		case "log":
			out = append(out, sinks.NewLogSink(logger))
		case "postgres":
			if repo == nil {
				logger.Warn("Audit sink unavailable", zap.String("sink", name))
				continue
			}
			out = append(out, repo)
		case "redis":
			if redisClient == nil {
				logger.Warn("Audit sink unavailable", zap.String("sink", name))
				continue
			}
			out = append(out, sinks.NewRedisSink(redisClient, cfg.Redis.AuditKey))
		case "kafka":
			if producer == nil {
				logger.Warn("Audit sink unavailable", zap.String("sink", name))
				continue
			}
			out = append(out, sinks.NewKafkaSink(producer, cfg.Kafka.AuditTopic))
		}
	}
	return out
}
