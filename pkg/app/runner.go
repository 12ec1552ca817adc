package app

import (
	"context"
	"fmt"
	"time"

	"github.com/small-frappuccino/guilddash/pkg/backend"
	"github.com/small-frappuccino/guilddash/pkg/config"
	"github.com/small-frappuccino/guilddash/pkg/log"
	"github.com/small-frappuccino/guilddash/pkg/server"
	"github.com/small-frappuccino/guilddash/pkg/storage"
	"github.com/small-frappuccino/guilddash/pkg/util"
)

const auditPruneInterval = 6 * time.Hour

// Run starts the dashboard with cfg and blocks until ctx is done or an interrupt
// arrives, then shuts down gracefully.
func Run(ctx context.Context, cfg config.Config) error {
	started := time.Now()

	logger, err := log.SetupLogger(log.Options{
		FilePath: cfg.LogFile(),
		Level:    cfg.LogLevel,
	})
	if err != nil {
		return fmt.Errorf("configure logger: %w", err)
	}
	defer logger.Close()

	log.ApplicationLogger().Info("Starting guild dashboard", "version", Version, "backend", cfg.BackendURL)

	client, err := backend.NewClient(backend.Options{
		BaseURL:       cfg.BackendURL,
		InternalToken: cfg.InternalToken,
		Timeout:       cfg.BackendTimeout,
	})
	if err != nil {
		return fmt.Errorf("create backend client: %w", err)
	}

	opts := server.Options{
		Addr:         cfg.ListenAddr,
		Backend:      client,
		BackendURL:   client.BaseURL(),
		SessionTTL:   cfg.SessionTTL,
		CookieSecure: cfg.CookieSecure,
	}

	if cfg.AuditEnabled {
		store := storage.NewStore(cfg.AuditDB())
		if err := store.Init(); err != nil {
			return fmt.Errorf("initialize audit store: %w", err)
		}
		defer func() {
			if err := store.Close(); err != nil {
				log.DatabaseLogger().Warn("Failed to close audit store", "err", err)
			}
		}()
		opts.Recorder = store
		opts.History = store

		pruneStop := SchedulePeriodicPrune(store, auditPruneInterval, cfg.AuditRetention)
		defer func() {
			if pruneStop != nil {
				close(pruneStop)
			}
		}()
		log.DatabaseLogger().Info("Audit trail enabled", "path", cfg.AuditDB(), "retention", cfg.AuditRetention)
	}

	srv, err := server.NewServer(opts)
	if err != nil {
		return fmt.Errorf("create dashboard server: %w", err)
	}
	if err := srv.Start(); err != nil {
		return err
	}

	log.ApplicationLogger().Info("Guild dashboard ready", "addr", srv.Addr(), "startup", time.Since(started).Round(time.Millisecond))

	util.WaitForInterrupt(ctx)
	log.ApplicationLogger().Info("Stopping guild dashboard...")

	shutdownCtx, cancel := context.WithTimeoutCause(context.Background(), 30*time.Second, fmt.Errorf("application shutdown"))
	defer cancel()
	if err := srv.Stop(shutdownCtx); err != nil {
		log.ErrorLoggerRaw().Error("Dashboard shutdown failed", "err", err)
	}

	log.ApplicationLogger().Info("Guild dashboard stopped", "uptime", time.Since(started).Round(time.Second))
	return nil
}

// SchedulePeriodicPrune removes audit records older than retention every interval.
// Closing the returned channel stops it. A non-positive interval or retention
// schedules nothing and returns nil.
func SchedulePeriodicPrune(store *storage.Store, interval, retention time.Duration) chan struct{} {
	if store == nil || interval <= 0 || retention <= 0 {
		return nil
	}

	stopChan := make(chan struct{})
	prune := func() {
		n, err := store.PruneChangesBefore(context.Background(), time.Now().Add(-retention))
		if err != nil {
			log.ErrorLoggerRaw().Error("Periodic audit prune failed", "err", err)
			return
		}
		if n > 0 {
			log.DatabaseLogger().Info("Pruned audit records", "count", n)
		}
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		prune()
		for {
			select {
			case <-ticker.C:
				prune()
			case <-stopChan:
				return
			}
		}
	}()

	return stopChan
}
