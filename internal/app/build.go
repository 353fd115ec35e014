// Package app wires the engine's collaborators together for the daemon.
package app

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/ssandri/blackbox/internal/admission"
	"github.com/ssandri/blackbox/internal/capture"
	"github.com/ssandri/blackbox/internal/config"
	"github.com/ssandri/blackbox/internal/event"
	"github.com/ssandri/blackbox/internal/httpapi"
	"github.com/ssandri/blackbox/internal/observability"
	"github.com/ssandri/blackbox/internal/override"
	"github.com/ssandri/blackbox/internal/permission"
	"github.com/ssandri/blackbox/internal/reconcile"
	"github.com/ssandri/blackbox/internal/recorder"
	"github.com/ssandri/blackbox/internal/recording"
	"github.com/ssandri/blackbox/internal/recovery"
	"github.com/ssandri/blackbox/internal/retention"
	"github.com/ssandri/blackbox/internal/trigger"
)

type BuildResult struct {
	Config     config.Config
	API        *httpapi.Server
	Engine     *recorder.Engine
	Aggregator *reconcile.Aggregator
	Recovery   *recovery.Reconciler
	Janitor    *retention.Janitor
	Storage    *admission.Controller
	Bus        *event.Bus
	Metrics    *observability.Metrics

	// Cleanup should be called on shutdown to release external resources.
	Cleanup func() error
}

func Build(ctx context.Context, cfg config.Config) (*BuildResult, error) {
	if err := os.MkdirAll(cfg.RootDir, 0o700); err != nil {
		return nil, fmt.Errorf("create recording root: %w", err)
	}

	metrics := observability.NewMetrics(cfg.MetricsNamespace)
	bus := event.NewBus()

	index, err := recording.NewStore(ctx, cfg.DatabaseURL, cfg.IndexPath)
	if err != nil {
		return nil, fmt.Errorf("recording index init failed: %w", err)
	}

	overrides, err := override.NewStore(override.NewFileKV(cfg.OverridesPath))
	if err != nil {
		index.Close()
		return nil, fmt.Errorf("override store init failed: %w", err)
	}

	storage := admission.NewController(
		admission.DiskFree(cfg.RootDir),
		cfg.StorageWarningBytes,
		cfg.StorageCriticalBytes,
	)

	var source io.Reader
	var sourceFile *os.File
	if cfg.AudioSourcePath != "" {
		sourceFile, err = os.Open(cfg.AudioSourcePath)
		if err != nil {
			index.Close()
			return nil, fmt.Errorf("open audio source: %w", err)
		}
		source = sourceFile
	} else {
		source = capture.NewSilenceSource(cfg.SampleRate)
	}

	engine := recorder.New(recorder.Config{
		RootDir:        cfg.RootDir,
		RotateInterval: cfg.RotateInterval,
		Retention:      cfg.RetentionWindow,
		Device:         capture.NewWAVDevice(source, cfg.SampleRate),
		Permission:     permission.Static{Granted: cfg.AssumePermission},
		Admission:      storage,
		Index:          index,
		Bus:            bus,
		KeepAlive:      recorder.NoopKeepAlive{},
		Metrics:        metrics,
	})

	bookings := trigger.NewBookingSource()
	shares := trigger.NewLiveLocationSource()

	aggregator := reconcile.NewAggregator(engine, overrides, cfg.AutoRecordDefault, metrics, bookings, shares)
	bookings.SetOnChange(aggregator.Kick)
	shares.SetOnChange(aggregator.Kick)
	overrides.SetOnChange(aggregator.Kick)

	storage.SetOnWarning(func(st admission.Status) {
		metrics.StorageFreeBytes.Set(float64(st.FreeBytes))
		metrics.ThresholdCrossings.WithLabelValues("warning").Inc()
		bus.Publish(event.Event{
			Type:    event.TypeStorageWarning,
			Storage: &event.StoragePayload{FreeBytes: st.FreeBytes, ThresholdBytes: st.WarningThresholdBytes},
		})
	})
	storage.SetOnCritical(func(st admission.Status) {
		metrics.StorageFreeBytes.Set(float64(st.FreeBytes))
		metrics.ThresholdCrossings.WithLabelValues("critical").Inc()
		bus.Publish(event.Event{
			Type:    event.TypeStorageCritical,
			Storage: &event.StoragePayload{FreeBytes: st.FreeBytes, ThresholdBytes: st.CriticalThresholdBytes},
		})
		go aggregator.HandleStorageCritical(context.Background())
	})

	// The engine can change state on its own (forced stops, rotation
	// failures); re-reconcile to keep derived state in sync.
	bus.Subscribe(func(evt event.Event) {
		metrics.LifecycleEvents.WithLabelValues(string(evt.Type)).Inc()
		if evt.Type == event.TypeStopped || evt.Type == event.TypeError {
			aggregator.Kick()
		}
	})

	janitor := retention.NewJanitor(index, metrics)
	recoverer := recovery.NewReconciler(cfg.RootDir, index, bus, metrics, cfg.RetentionWindow)

	api := httpapi.New(cfg, httpapi.Deps{
		Engine:      engine,
		Interrupter: engine,
		Aggregator:  aggregator,
		Overrides:   overrides,
		Index:       index,
		Janitor:     janitor,
		Storage:     storage,
		Bookings:    bookings,
		Shares:      shares,
		Bus:         bus,
		Metrics:     metrics,
	})

	cleanup := func() error {
		engine.Close()
		if sourceFile != nil {
			_ = sourceFile.Close()
		}
		return index.Close()
	}

	return &BuildResult{
		Config:     cfg,
		API:        api,
		Engine:     engine,
		Aggregator: aggregator,
		Recovery:   recoverer,
		Janitor:    janitor,
		Storage:    storage,
		Bus:        bus,
		Metrics:    metrics,
		Cleanup:    cleanup,
	}, nil
}
