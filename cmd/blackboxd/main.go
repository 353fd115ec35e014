package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/ssandri/blackbox/internal/app"
	"github.com/ssandri/blackbox/internal/config"
	"github.com/ssandri/blackbox/internal/recorder"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	ctx := context.Background()
	built, err := app.Build(ctx, cfg)
	if err != nil {
		log.Fatalf("build failed: %v", err)
	}
	defer built.Cleanup()

	// Adopt leftovers from an ungraceful prior termination before anything
	// can start a new session this process.
	adopted, err := built.Recovery.Run(ctx)
	if err != nil {
		log.Printf("orphan recovery incomplete: %v", err)
	}
	if adopted > 0 {
		log.Printf("orphan recovery adopted %d segment(s)", adopted)
	}

	deletedExpired, removedMissing := built.Janitor.RunOnce(ctx)
	if deletedExpired > 0 || removedMissing > 0 {
		log.Printf("retention: deleted %d expired, pruned %d missing", deletedExpired, removedMissing)
	}

	runCtx, runCancel := context.WithCancel(context.Background())
	defer runCancel()
	built.Janitor.StartJanitor(runCtx, cfg.RetentionInterval)
	built.Storage.StartPoller(runCtx, cfg.StoragePollInterval)

	if decision, err := built.Aggregator.Reconcile(ctx); err != nil {
		log.Printf("initial reconcile: %v", err)
	} else if decision.ShouldRecord {
		log.Printf("recording resumed for %d context key(s)", len(decision.ContextKeys))
	}

	httpServer := &http.Server{
		Addr:    cfg.BindAddr,
		Handler: built.API.Router(),
	}

	go func() {
		log.Printf("control api listening on %s", cfg.BindAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Printf("shutdown signal received")

	runCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	// Drain the open segment before the process goes away.
	if err := built.Engine.Stop(shutdownCtx, recorder.StopShutdown); err != nil {
		log.Printf("session stop on shutdown: %v", err)
	}
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
		_ = httpServer.Close()
	}

	log.Printf("shutdown complete")
}
