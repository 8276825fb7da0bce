package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	storesrepo "github.com/vendora-io/vendora-platform/domains/stores/be/repo"
	storesservice "github.com/vendora-io/vendora-platform/domains/stores/be/service"
	"github.com/vendora-io/vendora-platform/domains/tenantdb/be/credentials"
	"github.com/vendora-io/vendora-platform/domains/tenantdb/be/health"
	"github.com/vendora-io/vendora-platform/domains/tenantdb/be/provisioning"
	"github.com/vendora-io/vendora-platform/domains/tenantdb/be/router"
	"github.com/vendora-io/vendora-platform/platform/go/events"
	"github.com/vendora-io/vendora-platform/platform/go/kvstore"
	platformlogging "github.com/vendora-io/vendora-platform/platform/go/logging"
	platformmiddleware "github.com/vendora-io/vendora-platform/platform/go/middleware"
	"github.com/vendora-io/vendora-platform/platform/go/persistence"
	"github.com/vendora-io/vendora-platform/platform/go/secrets"
)

type config struct {
	Port            string        `env:"PORT" envDefault:"3000"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
	RequestTimeout  time.Duration `env:"REQUEST_TIMEOUT" envDefault:"15s"`
	LogLevel        string        `env:"LOG_LEVEL" envDefault:"info"`
	DatabaseURL     string        `env:"DATABASE_URL,required"`
	CredentialKey   string        `env:"CREDENTIAL_ENCRYPTION_KEY,required"` // base64, 32 bytes
	ManagementURL   string        `env:"MANAGEMENT_API_URL"`
	RedisURL        string        `env:"REDIS_URL"`
	KafkaBrokers    []string      `env:"KAFKA_BROKERS" envSeparator:","`
	KafkaTopic      string        `env:"KAFKA_TOPIC" envDefault:"store-lifecycle"`
	RouterEntryTTL  time.Duration `env:"ROUTER_ENTRY_TTL" envDefault:"0"`
	ProbeTimeout    time.Duration `env:"PROBE_TIMEOUT" envDefault:"10s"`
	TenantMaxConns  int32         `env:"TENANT_MAX_CONNS" envDefault:"4"`
}

func main() {
	ctx := context.Background()

	// Local development convenience; production supplies real env vars.
	_ = godotenv.Load()

	var cfg config
	if err := env.Parse(&cfg); err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger, err := platformlogging.NewLogger(platformlogging.Config{
		Component: "api-server",
		Level:     cfg.LogLevel,
	})
	if err != nil {
		log.Fatalf("init zap logger: %v", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	pool, err := persistence.NewPool(ctx, persistence.PoolConfig{ConnString: cfg.DatabaseURL})
	if err != nil {
		logger.Fatal("init postgres pool", zap.Error(err))
	}
	defer persistence.ClosePool(pool)

	if err := persistence.MigrateMaster(cfg.DatabaseURL); err != nil {
		logger.Fatal("apply master migrations", zap.Error(err))
	}

	cipher, err := secrets.NewCipher(cfg.CredentialKey)
	if err != nil {
		logger.Fatal("init credential cipher", zap.Error(err))
	}

	registry, err := persistence.NewStoreRegistry(pool)
	if err != nil {
		logger.Fatal("init store registry", zap.Error(err))
	}
	storeService := storesservice.New(storesrepo.NewPostgresRepository(registry))

	credTable, err := persistence.NewCredentialStore(pool)
	if err != nil {
		logger.Fatal("init credential table", zap.Error(err))
	}
	vault := credentials.NewStore(credentials.NewPostgresRepository(credTable), cipher, logger)

	factory := &router.PgxFactory{
		DialTimeout: cfg.ProbeTimeout,
		MaxConns:    cfg.TenantMaxConns,
	}
	connRouter := router.New(vault, factory, router.Config{EntryTTL: cfg.RouterEntryTTL}, logger)

	var mgmt provisioning.ManagementAPI
	if cfg.ManagementURL != "" {
		mgmt = provisioning.NewManagementClient(cfg.ManagementURL, cfg.ProbeTimeout)
	}

	publisher := buildPublisher(cfg, logger)
	kv := buildKV(ctx, cfg, logger)
	pendingStore := provisioning.NewPendingStore(kv, 15*time.Minute)

	pipeline := provisioning.New(storeService, vault, factory, connRouter, mgmt, publisher,
		provisioning.Config{ProbeTimeout: cfg.ProbeTimeout}, logger)
	monitor := health.New(connRouter, storeService, vault, publisher,
		health.Config{ProbeTimeout: cfg.ProbeTimeout}, logger)

	admin := newAdminHandler(storeService, vault, connRouter, pipeline, monitor, pendingStore, publisher, logger)

	rootRouter := chi.NewRouter()
	rootRouter.Use(
		chimw.RequestID,
		chimw.RealIP,
		chimw.Recoverer,
		chimw.Timeout(cfg.RequestTimeout),
		platformmiddleware.DefaultCORS(),
	)
	rootRouter.Use(platformlogging.RequestLogger(logger))
	rootRouter.Use(platformmiddleware.RequestTrace(logger))

	rootRouter.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	rootRouter.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if err := pool.Ping(r.Context()); err != nil {
			http.Error(w, "master database unreachable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	rootRouter.Handle("/metrics", promhttp.Handler())

	rootRouter.Mount("/admin", admin.routes())

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      rootRouter,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  2 * time.Minute,
	}

	go func() {
		logger.Info("starting api server", zap.String("port", cfg.Port))
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server listen failed", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}

// buildPublisher picks the lifecycle event sink: Kafka when brokers are
// configured, otherwise a no-op.
func buildPublisher(cfg config, logger *zap.Logger) events.Publisher {
	brokers := make([]string, 0, len(cfg.KafkaBrokers))
	for _, b := range cfg.KafkaBrokers {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	if len(brokers) == 0 {
		return events.Noop{}
	}
	logger.Info("publishing lifecycle events to kafka",
		zap.Strings("brokers", brokers),
		zap.String("topic", cfg.KafkaTopic),
	)
	return events.NewKafka(brokers, cfg.KafkaTopic)
}

// buildKV picks the short-lived handshake state store: shared Redis when
// configured, otherwise in-process memory (single-instance deployments).
func buildKV(ctx context.Context, cfg config, logger *zap.Logger) kvstore.Store {
	if cfg.RedisURL == "" {
		return kvstore.NewMemory()
	}
	kv, err := kvstore.NewRedis(ctx, cfg.RedisURL, "vendora")
	if err != nil {
		logger.Fatal("init redis kv store", zap.Error(err))
	}
	return kv
}
