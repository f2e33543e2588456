// Command uploadctl is a thin CLI front end for the upload engine: chunk,
// upload, and merge a single file against a remote endpoint, with resumable
// state persisted to disk between runs.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/chunkwise/uploadengine/internal/chunk"
	"github.com/chunkwise/uploadengine/internal/config"
	"github.com/chunkwise/uploadengine/internal/coordinator"
	"github.com/chunkwise/uploadengine/internal/events"
	"github.com/chunkwise/uploadengine/internal/merge"
	"github.com/chunkwise/uploadengine/internal/netmon"
	"github.com/chunkwise/uploadengine/internal/perf"
	"github.com/chunkwise/uploadengine/internal/resume"
	"github.com/chunkwise/uploadengine/internal/retrycontrol"
	"github.com/chunkwise/uploadengine/internal/transport"
	"github.com/chunkwise/uploadengine/internal/uploader"
	"github.com/chunkwise/uploadengine/pkg/logging"

	flag "github.com/spf13/pflag"
)

var version = "dev"

func usage() {
	fmt.Printf(`uploadctl - a resumable chunked file upload client.

Splits a local file into chunks, uploads them (concurrently or
sequentially, with automatic retry and resume), then merges them into the
completed remote file.

Usage: uploadctl [options] <file> <upload-url> <merge-url>

Valid options:
`)
	flag.PrintDefaults()
}

func main() {
	configPath := flag.StringP("config-file", "f", config.DefaultConfigPath(),
		"A YAML-formatted configuration file.")
	logLevel := flag.StringP("log", "l", "", "Log level: trace, debug, info, warn, error, fatal.")
	chunkSize := flag.Int64P("chunk-size", "c", 0, "Chunk size in bytes. 0 uses the configured default.")
	concurrency := flag.IntP("concurrency", "p", 0, "Number of chunks to upload in parallel. 0 uses the configured default.")
	sequential := flag.BoolP("sequential", "s", false, "Upload chunks one at a time instead of concurrently.")
	resumeFlag := flag.BoolP("resume", "r", false, "Resume a previously interrupted upload of this file instead of starting over.")
	cancelFlag := flag.BoolP("cancel", "", false, "Cancel a previously interrupted upload of this file and discard its resume state.")
	versionFlag := flag.BoolP("version", "v", false, "Display program version.")
	help := flag.BoolP("help", "h", false, "Display this help message.")
	flag.Usage = usage
	flag.Parse()

	if *help {
		flag.Usage()
		os.Exit(0)
	}
	if *versionFlag {
		fmt.Println("uploadctl", version)
		os.Exit(0)
	}

	if len(flag.Args()) < 3 {
		flag.Usage()
		fmt.Fprintln(os.Stderr, "\nexpected <file> <upload-url> <merge-url>")
		os.Exit(1)
	}
	path, uploadURL, mergeURL := flag.Arg(0), flag.Arg(1), flag.Arg(2)

	cfg := config.Load(*configPath)
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	if *chunkSize > 0 {
		cfg.ChunkSizeBytes = *chunkSize
	}
	if *concurrency > 0 {
		cfg.Concurrency = *concurrency
	}
	if *sequential {
		cfg.Sequential = true
	}

	if level, err := logging.ParseLevel(cfg.LogLevel); err != nil {
		logging.Warn().Str(logging.FieldStatus, cfg.LogLevel).Msg("invalid log level, leaving default")
	} else {
		logging.SetGlobalLevel(level)
	}

	info, err := os.Stat(path)
	if err != nil {
		logging.Fatal().Err(err).Str(logging.FieldID, path).Msg("cannot stat input file")
	}
	f, err := os.Open(path)
	if err != nil {
		logging.Fatal().Err(err).Str(logging.FieldID, path).Msg("cannot open input file")
	}
	defer f.Close()

	fileID := fingerprint(path, info.Size())
	file := chunk.File{ID: fileID, Name: info.Name(), Size: info.Size(), MIME: "application/octet-stream", LastModified: info.ModTime().Unix()}

	coord, cleanup := wire(cfg)
	defer cleanup()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts := coordinator.Options{
		ChunkSize:     cfg.ChunkSizeBytes,
		Strategy:      strategyFrom(cfg.SizeStrategy),
		Concurrency:   cfg.Concurrency,
		MaxRetries:    cfg.MaxRetries,
		Sequential:    cfg.Sequential,
		UploadURL:     uploadURL,
		MergeURL:      mergeURL,
		FormData:      cfg.FormData,
		FileFieldName: cfg.FileFieldName,
		IndexBase:     cfg.IndexBase,
	}
	source := uploader.NewFileSource(f)

	if *cancelFlag {
		if err := coord.Cancel(fileID); err != nil {
			logging.Fatal().Err(err).Msg("cancel failed")
		}
		fmt.Println("canceled.")
		return
	}

	var result merge.Result
	if *resumeFlag {
		result, err = coord.Resume(ctx, fileID, source)
	} else {
		result, err = coord.Process(ctx, file, source, opts)
	}
	if err != nil {
		logging.Fatal().Err(err).Msg("upload failed")
	}

	fmt.Println("upload complete:", result.Location)
}

// wire assembles the Coordinator and its collaborators from cfg, the same
// bottom-up construction order the engine's packages depend on each other
// in: events -> netmon -> resume -> retrycontrol -> perf -> transport ->
// uploader -> merge -> coordinator.
func wire(cfg config.Config) (*coordinator.Coordinator, func()) {
	bus := events.New()
	mon := netmon.New(netmon.FlagProber(func() bool { return false }))
	mon.Start(5 * time.Second)

	kv, err := resume.OpenBoltKV(cfg.ResumeStorePath)
	if err != nil {
		logging.Fatal().Err(err).Str(logging.FieldID, cfg.ResumeStorePath).Msg("cannot open resume store")
	}
	hostname, _ := os.Hostname()
	resumeStore := resume.New(kv, hostname, fmt.Sprintf("%d", os.Getpid()))

	retryCfg := retrycontrol.DefaultConfig()
	retryCfg.SmartDecision.MaxRetriesPerChunk = cfg.MaxRetriesPerChunk
	retryCfg.SmartDecision.MinSuccessRate = cfg.MinSuccessRate
	retryCfg.Backoff.BaseDelay = time.Duration(cfg.BaseDelayMillis) * time.Millisecond
	retryCfg.Backoff.MaxDelay = time.Duration(cfg.MaxDelayMillis) * time.Millisecond
	retryCfg.Backoff.UseExponentialBackoff = cfg.ExponentialBackoff
	retryCtrl := retrycontrol.New(retryCfg, bus, mon)

	perfTracker := perf.New(func(category, op, fileID string, d time.Duration) {
		bus.Publish(events.Event{Name: events.PerformanceMetric, FileID: fileID, Fields: map[string]interface{}{
			"category": category, "op": op, "durationMs": d.Milliseconds(),
		}})
	})

	timeout := time.Duration(cfg.RequestTimeoutSeconds) * time.Second
	chunkAdapter := transport.NewHTTPAdapter(timeout)
	mergeAdapter := transport.NewHTTPAdapter(timeout)

	chunkUp := uploader.New(chunkAdapter, perfTracker, bus)
	dispatchCfg := uploader.DefaultDispatcherConfig()
	dispatchCfg.HungThreshold = time.Duration(cfg.HungThresholdSeconds) * time.Second
	dispatcher := uploader.NewDispatcher(dispatchCfg, chunkUp, retryCtrl, bus)
	mergeCtrl := merge.New(mergeAdapter, bus)

	coord := coordinator.New(bus, mon, resumeStore, retryCtrl, dispatcher, chunkUp, mergeCtrl, perfTracker)

	return coord, func() {
		mon.Stop()
		_ = kv.Close()
	}
}

func strategyFrom(s string) chunk.SizeStrategy {
	if s == "fixed" {
		return chunk.Fixed
	}
	return chunk.Adaptive
}

// fingerprint derives a stable file identifier from path and size so the
// same file resumes under the same key across invocations without needing
// a remote-assigned upload ID yet.
func fingerprint(path string, size int64) string {
	return fmt.Sprintf("%s:%d", path, size)
}
