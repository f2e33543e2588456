// Package uploadengine is the module's public entry point: it re-exports
// Coordinator, the top-level orchestrator, and provides New to assemble one
// from a Config without callers needing to import every internal package
// individually.
package uploadengine

import (
	"fmt"
	"os"
	"time"

	"github.com/chunkwise/uploadengine/internal/config"
	"github.com/chunkwise/uploadengine/internal/coordinator"
	"github.com/chunkwise/uploadengine/internal/errhandler"
	"github.com/chunkwise/uploadengine/internal/events"
	"github.com/chunkwise/uploadengine/internal/merge"
	"github.com/chunkwise/uploadengine/internal/netmon"
	"github.com/chunkwise/uploadengine/internal/perf"
	"github.com/chunkwise/uploadengine/internal/resume"
	"github.com/chunkwise/uploadengine/internal/retrycontrol"
	"github.com/chunkwise/uploadengine/internal/transport"
	"github.com/chunkwise/uploadengine/internal/uploader"
)

// Config is re-exported so callers configure the engine without importing
// internal/config directly.
type Config = config.Config

// Coordinator is re-exported so callers drive uploads without importing
// internal/coordinator directly.
type Coordinator = coordinator.Coordinator

// Options is re-exported so callers configure a per-file upload without
// importing internal/coordinator directly.
type Options = coordinator.Options

// Source is re-exported so callers supply chunk bytes without importing
// internal/uploader directly.
type Source = uploader.Source

// NewFileSource wraps an io.ReaderAt as a Source; see uploader.NewFileSource.
var NewFileSource = uploader.NewFileSource

// DefaultConfig returns the engine's documented default Config.
func DefaultConfig() Config {
	return config.Default()
}

// New assembles a Coordinator from cfg: the engine's bus, network monitor,
// resume store, retry controller, dispatcher, and merge controller, wired
// together the same way cmd/uploadctl does for the CLI. netProbe observes
// the current network reachability; pass nil to assume always-online.
func New(cfg Config, netProbe func() bool) (*Coordinator, func() error, error) {
	bus := events.New()

	prober := netmon.Prober(func() netmon.State { return netmon.State{Online: true} })
	if netProbe != nil {
		prober = netmon.FlagProber(func() bool { return !netProbe() })
	}
	mon := netmon.New(prober)
	mon.Start(5 * time.Second)

	kv, err := resume.OpenBoltKV(cfg.ResumeStorePath)
	if err != nil {
		mon.Stop()
		return nil, nil, err
	}

	hostname, _ := os.Hostname()
	resumeStore := resume.New(kv, hostname, fmt.Sprintf("%d", os.Getpid()))

	retryCfg := retrycontrol.Config{
		Limits: errhandler.DefaultKindRetryLimits(),
		Backoff: retrycontrol.BackoffConfig{
			BaseDelay:             time.Duration(cfg.BaseDelayMillis) * time.Millisecond,
			MaxDelay:              time.Duration(cfg.MaxDelayMillis) * time.Millisecond,
			UseExponentialBackoff: cfg.ExponentialBackoff,
		},
		SmartDecision: retrycontrol.SmartDecisionConfig{
			MinSuccessRate:     cfg.MinSuccessRate,
			MaxRetriesPerChunk: cfg.MaxRetriesPerChunk,
			NetworkQuality:     retrycontrol.DefaultNetworkQualityThreshold(),
		},
	}
	retryCtrl := retrycontrol.New(retryCfg, bus, mon)

	perfTracker := perf.New(func(category, op, fileID string, d time.Duration) {
		bus.Publish(events.Event{Name: events.PerformanceMetric, FileID: fileID, Fields: map[string]interface{}{
			"category": category, "op": op, "durationMs": d.Milliseconds(),
		}})
	})

	timeout := time.Duration(cfg.RequestTimeoutSeconds) * time.Second
	chunkUp := uploader.New(transport.NewHTTPAdapter(timeout), perfTracker, bus)

	dispatchCfg := uploader.DefaultDispatcherConfig()
	dispatchCfg.HungThreshold = time.Duration(cfg.HungThresholdSeconds) * time.Second
	dispatcher := uploader.NewDispatcher(dispatchCfg, chunkUp, retryCtrl, bus)

	mergeCtrl := merge.New(transport.NewHTTPAdapter(timeout), bus)

	coord := coordinator.New(bus, mon, resumeStore, retryCtrl, dispatcher, chunkUp, mergeCtrl, perfTracker)

	closeFn := func() error {
		mon.Stop()
		return kv.Close()
	}
	return coord, closeFn, nil
}
