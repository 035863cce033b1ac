package main

import (
	"context"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/GoPolymarket/polyvault/internal/config"
	"github.com/GoPolymarket/polyvault/internal/handler"
	"github.com/GoPolymarket/polyvault/internal/keeper"
	"github.com/GoPolymarket/polyvault/internal/middleware"
	"github.com/GoPolymarket/polyvault/internal/model"
	"github.com/GoPolymarket/polyvault/internal/pkg/logger"
	"github.com/GoPolymarket/polyvault/internal/repository"
	"github.com/GoPolymarket/polyvault/internal/service"
	"github.com/GoPolymarket/polyvault/internal/signer"
	"github.com/GoPolymarket/polyvault/internal/stream"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
)

func main() {
	// 1. 加载配置
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// 2. 日志
	logger.InitWithFile(cfg.Log.Level, logger.FileConfig{Path: cfg.Log.File, MaxSizeMB: 100, MaxBackups: 5})

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	// 3. 持久化 (SQL > Redis > 内存)
	var db *sqlx.DB
	if cfg.Database.DSN != "" {
		db, err = repository.NewDB(cfg.Database)
		if err != nil {
			logger.Error("⚠️ Failed to connect to DB, falling back", "error", err)
		} else {
			logger.Info("✅ Connected to database", "driver", cfg.Database.Driver)
		}
	}
	var rdb *redis.Client
	if cfg.Redis.Addr != "" {
		rdb, err = repository.NewRedisClient(cfg.Redis)
		if err != nil {
			logger.Error("⚠️ Failed to connect to Redis", "error", err)
			rdb = nil
		} else {
			logger.Info("✅ Connected to Redis")
		}
	}

	snapshots, closeSnapshots := openSnapshotStore(cfg, rdb)
	defer closeSnapshots()

	// 4. 事件流
	hub := stream.NewHub()
	var eventRepo service.EventRepo
	switch {
	case cfg.Events.Backend == "sql" && db != nil:
		eventRepo = repository.NewSQLEventRepo(db)
	case cfg.Events.Backend == "redis" && rdb != nil:
		eventRepo = repository.NewRedisEventRepo(rdb, cfg.Redis.EventListKey, cfg.Redis.EventListMax)
	}
	eventSvc, err := service.NewEventService(service.EventServiceConfig{
		Dir:        cfg.Events.Dir,
		BufferSize: cfg.Events.BufferSize,
		MaxSizeMB:  cfg.Events.MaxSizeMB,
		MaxBackups: cfg.Events.MaxBackups,
	}, eventRepo, hub)
	if err != nil {
		log.Fatalf("Failed to initialize event service: %v", err)
	}

	var auditRepo service.AuditRepo
	var callerRepo service.CallerRepo
	if db != nil {
		auditRepo = repository.NewSQLRequestLogRepo(db)
		callerRepo = repository.NewSQLCallerRepo(db)
	}
	auditSvc, err := service.NewAuditService(cfg.Events.Dir, auditRepo)
	if err != nil {
		log.Fatalf("Failed to initialize audit service: %v", err)
	}
	callers := service.NewCallerRegistry(
		model.RateLimitConfig{QPS: cfg.Auth.DefaultQPS, Burst: cfg.Auth.DefaultBurst},
		cfg.Callers, callerRepo)

	var idem middleware.IdempotencyStore
	switch {
	case rdb != nil:
		idem = repository.NewRedisIdempotencyStore(rdb, time.Duration(cfg.Redis.IdempotencyTTLSeconds)*time.Second)
	case db != nil:
		idem = repository.NewSQLIdempotencyStore(db)
	default:
		idem = middleware.NewInMemIdempotencyStore()
	}

	// 5. 核心服务
	vaultSvc, err := service.NewVaultService(ctx, cfg, service.Options{Store: snapshots, Events: eventSvc})
	if err != nil {
		log.Fatalf("Failed to initialize vault: %v", err)
	}

	auth := middleware.AuthConfig{
		Domain:   signer.Domain{ChainID: cfg.Auth.ChainID, Vault: vaultSvc.Address()},
		MaxSkew:  cfg.Auth.MaxSkew,
		Registry: callers,
	}
	if cfg.Auth.AllowEIP1271 {
		auth.Contract = service.NewEIP1271Verifier(service.EIP1271Config{
			RPCURL:   cfg.Chain.RPCURL,
			CacheTTL: time.Duration(cfg.Chain.EIP1271CacheSeconds) * time.Second,
			Timeout:  time.Duration(cfg.Chain.EIP1271TimeoutMs) * time.Millisecond,
			Retries:  cfg.Chain.EIP1271Retries,
		})
	}

	// 6. Keeper
	var kp *keeper.Keeper
	if cfg.Keeper.Enabled {
		kp = keeper.New(ctx, vaultSvc)
		if err := kp.RegisterAll(cfg.Keeper, cfg.Vault.QueueBatchSize); err != nil {
			log.Fatalf("Failed to schedule keeper jobs: %v", err)
		}
		if db != nil && cfg.Database.CleanupIntervalMinutes > 0 {
			spec := "@every " + (time.Duration(cfg.Database.CleanupIntervalMinutes) * time.Minute).String()
			if err := kp.AddJob("cleanup", spec, cleanupJob(cfg, db)); err != nil {
				log.Fatalf("Failed to schedule cleanup: %v", err)
			}
		}
		kp.Start()
		logger.Info("⏱️ Keeper started", "operator", vaultSvc.Operator().Hex())
	}

	// 7. 路由
	r := handler.NewRouter(handler.Deps{
		Config:      cfg,
		Vault:       vaultSvc,
		Events:      eventSvc,
		Audit:       auditSvc,
		Callers:     callers,
		Stream:      hub,
		Idempotency: idem,
		Auth:        auth,
	})

	// 8. 启动并优雅退出
	srv := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: r,
	}

	go func() {
		logger.Info("🚀 PolyVault started", "port", cfg.Server.Port, "vault", vaultSvc.Address().Hex(), "mode", vaultSvc.Mode())
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server listen failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("🛑 Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if kp != nil {
		kp.Stop()
	}
	stop()
	hub.Close()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatal("Server forced to shutdown: ", err)
	}
	eventSvc.Close()
	auditSvc.Close()

	logger.Info("Server exiting")
}

func openSnapshotStore(cfg *config.Config, rdb *redis.Client) (service.SnapshotStore, func()) {
	var (
		store service.SnapshotStore
		c     io.Closer
		err   error
	)
	switch cfg.Store.Snapshot {
	case "badger":
		var s *repository.BadgerSnapshotStore
		s, err = repository.NewBadgerSnapshotStore(cfg.Store.BadgerPath, cfg.Store.History)
		store, c = s, s
	case "postgres":
		var s *repository.GormSnapshotStore
		s, err = repository.NewGormSnapshotStore(cfg.Store.PostgresDSN, cfg.Store.History)
		store, c = s, s
	case "redis":
		if rdb == nil {
			log.Fatalf("store.snapshot=redis needs redis.addr")
		}
		s := repository.NewRedisSnapshotStore(rdb, cfg.Redis.SnapshotKey, cfg.Store.History)
		store, c = s, s
	default:
		logger.Warn("⚠️ Snapshot store disabled, vault state lives in memory only")
		return nil, func() {}
	}
	if err != nil {
		log.Fatalf("Failed to open snapshot store: %v", err)
	}
	return store, func() {
		if err := c.Close(); err != nil {
			logger.Error("close snapshot store", "error", err)
		}
	}
}

type cleaner interface {
	Cleanup(ctx context.Context, olderThan time.Duration) error
}

func cleanupJob(cfg *config.Config, db *sqlx.DB) func(context.Context) error {
	idemTTL := time.Duration(cfg.Database.IdempotencyRetentionHours) * time.Hour
	eventTTL := time.Duration(cfg.Database.EventRetentionDays) * 24 * time.Hour
	targets := []struct {
		name string
		repo cleaner
		ttl  time.Duration
	}{
		{"idempotency", repository.NewSQLIdempotencyStore(db), idemTTL},
		{"events", repository.NewSQLEventRepo(db), eventTTL},
		{"requests", repository.NewSQLRequestLogRepo(db), eventTTL},
	}
	return func(ctx context.Context) error {
		for _, t := range targets {
			if t.ttl <= 0 {
				continue
			}
			if err := t.repo.Cleanup(ctx, t.ttl); err != nil {
				return err
			}
		}
		return nil
	}
}
