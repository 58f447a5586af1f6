package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	apirest "github.com/ignite-rpg/ignite-api/api/rest"
	"github.com/ignite-rpg/ignite-api/audit"
	"github.com/ignite-rpg/ignite-api/backup"
	"github.com/ignite-rpg/ignite-api/cache"
	"github.com/ignite-rpg/ignite-api/config"
	dbadapter "github.com/ignite-rpg/ignite-api/db"
	"github.com/ignite-rpg/ignite-api/media"
	"github.com/ignite-rpg/ignite-api/model"
	"github.com/ignite-rpg/ignite-api/relationship"
	"github.com/ignite-rpg/ignite-api/scheduler"
	"github.com/ignite-rpg/ignite-api/social"
	"github.com/ignite-rpg/ignite-api/user"
	"go.uber.org/zap"
)

const (
	backupTask        = "backup"
	backupInitialTask = "backup:initial"
	shutdownTimeout   = 15 * time.Second
)

func main() {
	cfgPath := "config/config.yaml"
	if len(os.Args) > 1 {
		cfgPath = os.Args[1]
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	// ---- Logger ----
	var logger *zap.Logger
	var logErr error
	if cfg.Server.Debug {
		logger, logErr = zap.NewDevelopment()
	} else {
		logger, logErr = zap.NewProduction()
		gin.SetMode(gin.ReleaseMode)
	}
	if logErr != nil {
		log.Fatalf("logger: %v", logErr)
	}
	defer logger.Sync()

	if cfg.Security.JWTSecret == "" {
		logger.Fatal("security.jwt_secret must be set")
	}
	if len(cfg.Security.AdminIPs) == 0 {
		logger.Warn("security.admin_ips is empty; admin endpoints accept any client IP")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ---- Database ----
	db, err := dbadapter.Open(cfg.Database)
	if err != nil {
		logger.Fatal("db open failed", zap.Error(err))
	}
	if err := model.AutoMigrate(db); err != nil {
		logger.Fatal("db migrate failed", zap.Error(err))
	}
	logger.Info("DB initialized", zap.String("mode", cfg.Database.Mode), zap.Int("replicas", len(cfg.Database.Replicas)))

	// ---- Audit ----
	auditSvc := audit.New(db, logger)
	defer auditSvc.Stop(context.Background())

	// ---- Cache / PubSub ----
	cacheConfig := cache.CacheConfig{
		RedisAddr:       cfg.Cache.RedisAddr,
		RedisPassword:   cfg.Cache.RedisPassword,
		RedisDB:         cfg.Cache.RedisDB,
		LocalGCInterval: cfg.Cache.LocalGCInterval,
		LocalPubSubBuf:  cfg.Cache.LocalPubSubBuf,
	}
	c, err := cache.NewCache(cacheConfig)
	if err != nil {
		logger.Fatal("cache init failed", zap.Error(err))
	}
	pubsub, err := cache.NewPubSub(cacheConfig)
	if err != nil {
		logger.Fatal("pubsub init failed", zap.Error(err))
	}
	logger.Info("Cache initialized", zap.Bool("redis", cfg.Cache.RedisAddr != ""))

	// ---- Domain services ----
	users := user.NewDirectory(db, c, logger)
	store := relationship.NewStore(relationship.NewGormRepository(db), users)
	socialSvc := social.NewService(store, users, auditSvc, pubsub, logger)

	mediaClient := media.NewClient(cfg.Media, logger)
	if !mediaClient.Configured() {
		logger.Warn("media.base_url is not set; portrait uploads are disabled")
	}

	// ---- Scheduler / backups ----
	sched := scheduler.New(logger)
	defer sched.Stop()
	exporter := backup.New(db, c, cfg.Backup, logger)
	if cfg.Backup.Enabled {
		runBackup := func(ctx context.Context) error {
			_, err := exporter.Run(ctx)
			if errors.Is(err, backup.ErrLocked) {
				logger.Info("backup skipped, another instance holds the lock")
				return nil
			}
			return err
		}
		sched.AddTicker(backupTask, cfg.Backup.Interval, runBackup)
		sched.AddDelay(backupInitialTask, cfg.Backup.InitialDelay, runBackup)
		logger.Info("Backups scheduled",
			zap.Duration("interval", cfg.Backup.Interval),
			zap.String("dir", cfg.Backup.Dir))
	}

	// ---- HTTP ----
	r := apirest.NewRouter(ctx, apirest.Deps{
		Config:    cfg,
		DB:        db,
		Cache:     c,
		PubSub:    pubsub,
		Users:     users,
		Social:    socialSvc,
		Media:     mediaClient,
		Backups:   exporter,
		Scheduler: sched,
		Audit:     auditSvc,
		Logger:    logger,
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("Server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			logger.Error("server failed", zap.Error(err))
		}
	case <-ctx.Done():
		logger.Info("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown failed", zap.Error(err))
		}
	}
}
