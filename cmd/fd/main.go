package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gladhopper/fd/config"
	"github.com/gladhopper/fd/internal/adapter/decoder/ffmpeg"
	HTTPAdapter "github.com/gladhopper/fd/internal/adapter/http"
	sqlitestore "github.com/gladhopper/fd/internal/adapter/storage/sqlite"
	"github.com/gladhopper/fd/internal/domain"
	"github.com/gladhopper/fd/internal/infrastructure/logger"
	"github.com/gladhopper/fd/internal/port"
	"github.com/gladhopper/fd/internal/service"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Error.Printf("failed to load config: %v", err)
		os.Exit(1)
	}

	logger.Info.Printf("starting fd on port %d, source=%s", cfg.Port, cfg.DefaultSource)

	decoder := ffmpeg.NewDecoder(cfg.FFmpegPath, cfg.FFprobePath)

	source := resolveSource(cfg, decoder)
	logger.Info.Printf("source %s: %s (duration %.1fs)", source.Name, source.Path, source.Duration)

	var journal port.Journal
	if cfg.JournalEnabled {
		if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
			logger.Error.Printf("failed to create data directory: %v", err)
			os.Exit(1)
		}
		journal, err = sqlitestore.NewJournal(cfg.DataDir)
		if err != nil {
			logger.Error.Printf("failed to open journal: %v", err)
			os.Exit(1)
		}
		defer func() { _ = journal.Close() }()
	}

	limiter := service.NewLimiter(cfg.MaxConcurrent)
	registry := service.NewRegistry()
	supervisor := service.NewSupervisor(
		decoder, limiter, registry, ffmpeg.ClassifyExit,
		cfg.ExtractTimeout, cfg.KillGrace, cfg.SizeTolerance,
	)
	retrier := service.NewRetrier(supervisor, cfg.MaxRetries, cfg.RetryBase, cfg.RetryCap)

	ladder := domain.DefaultLadder()
	quality := service.NewQualityController(
		ladder, 1, cfg.MaxConsecutiveErrors,
		uint64(cfg.MemoryLimitMB)<<20, cfg.UpgradeWindow, nil,
	)

	clock := service.NewVirtualClock(source.Duration)
	store := service.NewFrameStore()
	scheduler := service.NewScheduler(clock, quality, retrier, store, registry, journal, source)

	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go scheduler.Run(runCtx)

	// Backstop reaper for instances that missed their cleanup path.
	go func() {
		ticker := time.NewTicker(cfg.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if n := registry.Sweep(cfg.StaleAfter); n > 0 {
					logger.Warn.Printf("stale sweep reaped %d instance(s)", n)
				}
			case <-runCtx.Done():
				return
			}
		}
	}()

	if journal != nil {
		go func() {
			ticker := time.NewTicker(1 * time.Hour)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					if err := journal.Prune(24 * time.Hour); err != nil {
						logger.Error.Printf("journal prune failed: %v", err)
					}
				case <-runCtx.Done():
					return
				}
			}
		}()
	}

	var history HTTPAdapter.HistoryReader
	if journal != nil {
		history = journal
	}
	server := HTTPAdapter.NewServer(store, scheduler, history)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      server,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Info.Printf("listening on %s", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error.Printf("http server failed: %v", err)
			cancel()
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-quit:
		logger.Info.Printf("received %s, shutting down", sig)
	case <-runCtx.Done():
	}

	// Stop ticking first so no new subprocess spawns, then drain every
	// tracked instance before the process exits.
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
	defer shutdownCancel()

	if err := registry.Shutdown(shutdownCtx); err != nil {
		logger.Warn.Printf("instance drain incomplete: %v", err)
	}
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn.Printf("http shutdown incomplete: %v", err)
	}
	logger.Info.Printf("shutdown complete")
}

// resolveSource probes the configured default source, substituting the
// fallback duration so a broken probe never blocks startup.
func resolveSource(cfg *config.Config, prober port.Prober) domain.Source {
	path := cfg.Sources[cfg.DefaultSource]
	duration, err := prober.Duration(path)
	if err != nil {
		logger.Warn.Printf("probe failed for %s, using fallback duration %.1fs: %v",
			path, cfg.FallbackDuration, err)
		duration = cfg.FallbackDuration
	}
	return domain.Source{Name: cfg.DefaultSource, Path: path, Duration: duration}
}
