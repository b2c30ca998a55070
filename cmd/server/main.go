package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"

	"ever/internal/admin/models"
	adminservice "ever/internal/admin/service"
	adminstore "ever/internal/admin/store"
	"ever/internal/audit"
	"ever/internal/credential"
	"ever/internal/platform/config"
	"ever/internal/platform/httpserver"
	"ever/internal/platform/logger"
	"ever/internal/platform/metrics"
	platformredis "ever/internal/platform/redis"
	"ever/internal/store"
	"ever/internal/token"
	httptransport "ever/internal/transport/http"
	"ever/internal/transport/rpc"
)

// main wires every dependency explicitly, in construction order: platform
// first, then stores, then services, then the transport. Business logic
// lives in the internal packages; this file only assembles them.
func main() {
	cfg := config.FromEnv()
	log := logger.New()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New(prometheus.DefaultRegisterer)

	normalize := func(e string) string { return e }
	if cfg.CaseInsensitiveEmails {
		normalize = strings.ToLower
	}

	admins, cleanup, err := buildAdminStore(ctx, cfg, normalize)
	if err != nil {
		log.Error("store initialization failed", "backend", cfg.StoreBackend, "error", err)
		os.Exit(1)
	}
	defer cleanup()

	hasher, err := credential.NewHasher(cfg.BcryptCost, cfg.HashConcurrency)
	if err != nil {
		log.Error("hasher initialization failed", "error", err)
		os.Exit(1)
	}

	jwtService := token.NewJWTService(cfg.JWTSigningKey, cfg.JWTIssuer, cfg.TokenTTL)

	creds := credential.New(
		models.RoleAdmin,
		adminservice.CredentialDescriptor(normalize),
		admins,
		hasher,
		token.NewCredentialAdapter(jwtService),
		credential.WithLogger[models.Admin](log),
		credential.WithMetrics[models.Admin](m),
	)

	sink, closeSink := buildAuditSink(ctx, cfg, log)
	defer closeSink()
	publisher := audit.NewPublisher(sink, log)

	adminOpts := []adminservice.Option{
		adminservice.WithLogger(log),
		adminservice.WithMetrics(m),
		adminservice.WithAuditPublisher(publisher),
	}
	if cfg.CaseInsensitiveEmails {
		adminOpts = append(adminOpts, adminservice.WithEmailNormalizer(normalize))
	}
	adminService := adminservice.New(admins, creds, adminOpts...)

	registry := rpc.NewRegistry()
	rpc.RegisterAdminMethods(registry, adminService)

	router := httptransport.NewRouter(registry, token.NewMiddlewareAdapter(jwtService), log)
	srv := httpserver.New(cfg.Addr, router.Handler())

	log.Info("starting server",
		"addr", cfg.Addr,
		"store", cfg.StoreBackend,
		"audit", auditBackend(cfg),
	)

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", "error", err)
	}
}

// buildAdminStore selects the identity store backend. The returned cleanup
// releases backend connections and is safe to call once at exit.
func buildAdminStore(ctx context.Context, cfg config.Server, normalize func(string) string) (store.Store[models.Admin], func(), error) {
	switch cfg.StoreBackend {
	case "", "memory":
		mem := store.NewMemory(
			store.WithUniqueKey(func(a models.Admin) (string, bool) {
				return normalize(a.Email), a.Email != "" && !a.IsDeleted
			}),
		)
		return mem, func() {}, nil

	case "postgres":
		pool, err := pgxpool.New(ctx, cfg.PostgresURL)
		if err != nil {
			return nil, nil, err
		}
		pg, err := adminstore.NewPostgres(pool, adminstore.WithPostgresEmailNormalizer(normalize))
		if err != nil {
			pool.Close()
			return nil, nil, err
		}
		if err := pg.Migrate(ctx); err != nil {
			pool.Close()
			return nil, nil, err
		}
		return pg, pool.Close, nil

	case "redis":
		client, err := platformredis.New(cfg.Redis())
		if err != nil {
			return nil, nil, err
		}
		if client == nil {
			return nil, nil, errors.New("redis backend selected but EVER_REDIS_URL is empty")
		}
		rs, err := adminstore.NewRedis(client.Client, adminstore.WithRedisEmailNormalizer(normalize))
		if err != nil {
			client.Close()
			return nil, nil, err
		}
		return rs, func() { _ = client.Close() }, nil

	default:
		return nil, nil, errors.New("unknown store backend " + cfg.StoreBackend)
	}
}

// buildAuditSink chooses Kafka when brokers are configured, keeping audit
// in memory otherwise. A Kafka failure at startup degrades to memory rather
// than refusing to boot.
func buildAuditSink(ctx context.Context, cfg config.Server, log *slog.Logger) (audit.Sink, func()) {
	if len(cfg.KafkaBrokers) == 0 {
		return audit.NewMemorySink(), func() {}
	}
	kafka, err := audit.NewKafkaSink(ctx, cfg.KafkaBrokers, cfg.AuditTopic, log)
	if err != nil {
		log.Warn("kafka audit sink unavailable, falling back to memory", "error", err)
		return audit.NewMemorySink(), func() {}
	}
	return kafka, kafka.Close
}

func auditBackend(cfg config.Server) string {
	if len(cfg.KafkaBrokers) > 0 {
		return "kafka"
	}
	return "memory"
}
