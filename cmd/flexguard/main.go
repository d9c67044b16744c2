package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"flexguard/internal/bot"
	"flexguard/internal/config"
	"flexguard/internal/modules/audit"
	"flexguard/internal/scheduler"
	"flexguard/internal/storage"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger, err := config.BuildLogger(cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	store, err := storage.Open(cfg.DatabasePath)
	if err != nil {
		logger.Fatal("storage init failed", zap.Error(err))
	}
	defer store.Close()

	auditStore, err := storage.NewAuditStore(cfg.AuditDBPath)
	if err != nil {
		logger.Fatal("audit storage init failed", zap.Error(err))
	}
	defer auditStore.Close()
	if err := auditStore.Migrate(); err != nil {
		logger.Fatal("migrations failed", zap.Error(err))
	}

	auditLogger := audit.NewLogger(auditStore, logger)

	botSvc, err := bot.New(cfg, logger, store, auditLogger)
	if err != nil {
		logger.Fatal("bot init failed", zap.Error(err))
	}

	if err := botSvc.Start(); err != nil {
		logger.Fatal("bot start failed", zap.Error(err))
	}
	logger.Info("bot started")

	sweeper := scheduler.New(botSvc.Platform(), store, auditLogger, logger,
		time.Duration(cfg.Scheduler.SweepIntervalSeconds)*time.Second)
	sweeper.Start(context.Background())

	retentionCtx, stopRetention := context.WithCancel(context.Background())
	go func() {
		ticker := time.NewTicker(24 * time.Hour)
		defer ticker.Stop()
		for {
			if err := auditStore.CleanupAuditLogs(retentionCtx, cfg.Scheduler.AuditRetentionDays); err != nil {
				logger.Warn("audit log cleanup failed", zap.Error(err))
			}
			select {
			case <-ticker.C:
			case <-retentionCtx.Done():
				return
			}
		}
	}()

	var server *http.Server
	if cfg.Health.Enabled {
		server = &http.Server{Addr: cfg.Health.Addr}
		http.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ok"))
		})
		http.Handle("/metrics", promhttp.Handler())
		go func() {
			logger.Info("health endpoint enabled", zap.String("addr", cfg.Health.Addr))
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("health server error", zap.Error(err))
			}
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	logger.Info("shutdown requested")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	stopRetention()
	sweeper.Stop()
	if server != nil {
		_ = server.Shutdown(ctx)
	}
	botSvc.Close(ctx)
}
