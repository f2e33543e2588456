package uploader

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chunkwise/uploadengine/internal/chunk"
	"github.com/chunkwise/uploadengine/internal/errhandler"
	"github.com/chunkwise/uploadengine/internal/events"
	"github.com/chunkwise/uploadengine/internal/retrycontrol"
	"github.com/chunkwise/uploadengine/internal/task"
	"github.com/chunkwise/uploadengine/pkg/errors"
)

// defaultMaxConsecutiveFailures aborts the whole task once this many chunks
// in a row have failed for good, each only after its own retries ended in
// failure — a guard against a server that has stopped accepting chunks
// entirely. A failed attempt that is then retried does not count.
const defaultMaxConsecutiveFailures = 5

// DispatcherConfig tunes the dispatch loop.
type DispatcherConfig struct {
	MaxConsecutiveFailures int
	HungThreshold          time.Duration
	RetryLimits            errhandler.KindRetryLimits
}

// DefaultDispatcherConfig returns the engine's documented defaults.
func DefaultDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{
		MaxConsecutiveFailures: defaultMaxConsecutiveFailures,
		HungThreshold:          30 * time.Second,
		RetryLimits:            errhandler.DefaultKindRetryLimits(),
	}
}

// Dispatcher drives a Task's pending chunks to completion, concurrently
// (bounded by the task's Config().Concurrency) or sequentially, retrying
// failed chunks through a retrycontrol.Controller.
type Dispatcher struct {
	cfg      DispatcherConfig
	uploader *ChunkUploader
	retry    *retrycontrol.Controller
	bus      *events.Bus
}

// NewDispatcher creates a Dispatcher. The chunk Source is supplied per call
// to Run rather than at construction, since one Dispatcher is shared across
// every concurrently tracked file and each has its own Source.
func NewDispatcher(cfg DispatcherConfig, uploader *ChunkUploader, retry *retrycontrol.Controller, bus *events.Bus) *Dispatcher {
	return &Dispatcher{cfg: cfg, uploader: uploader, retry: retry, bus: bus}
}

// Run uploads every pending chunk of t, reading chunk bytes from source and
// uploading to uploadURL, blocking until all chunks succeed, the task is
// aborted, or consecutive failures reach the configured ceiling. Returns
// nil only when every chunk has succeeded.
func (d *Dispatcher) Run(ctx context.Context, t *task.Task, source Source, uploadURL string, meta UploadMeta) error {
	pending := t.PendingIndices()
	if len(pending) == 0 {
		return nil
	}

	d.bus.Publish(events.Event{Name: events.UploadStart, FileID: t.File().ID, Fields: map[string]interface{}{
		"chunkCount": len(t.Chunks()),
	}})

	concurrency := t.Config().Concurrency
	if t.Config().Sequential || concurrency <= 0 {
		concurrency = 1
	}

	var (
		wg             sync.WaitGroup
		sem            = make(chan struct{}, concurrency)
		consecFailures atomic.Int32
		firstErr       error
		firstErrOnce   sync.Once
		aborted        atomic.Bool
	)

	recordFail := func(err error) {
		firstErrOnce.Do(func() { firstErr = err })
	}

	for _, index := range pending {
		if aborted.Load() {
			break
		}
		select {
		case <-ctx.Done():
			recordFail(ctx.Err())
			aborted.Store(true)
		default:
		}
		if aborted.Load() {
			break
		}

		descs := t.Chunks()
		desc := descs[index]

		sem <- struct{}{}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-sem }()

			if err := d.uploadChunkWithRetry(ctx, t, source, desc, uploadURL, meta); err != nil {
				t.MarkChunkFailed(desc.Index)
				if consecFailures.Add(1) >= int32(d.cfg.MaxConsecutiveFailures) {
					aborted.Store(true)
					t.AbortAll()
				}
				recordFail(err)
				return
			}
			consecFailures.Store(0)
		}()
	}

	wg.Wait()

	if aborted.Load() || firstErr != nil {
		err := firstErr
		if err == nil {
			err = errors.NewChunkUploadError("upload aborted after too many consecutive failures", nil)
		}
		// A canceled ctx means Pause or Cancel stopped the run; that caller
		// sets the task's next status, so it is not overwritten with Error.
		if ctx.Err() == nil {
			t.SetError(err)
		}
		d.bus.Publish(events.Event{Name: events.UploadError, FileID: t.File().ID, Fields: map[string]interface{}{
			"error": err.Error(),
		}})
		return err
	}

	d.bus.Publish(events.Event{Name: events.UploadComplete, FileID: t.File().ID, Fields: map[string]interface{}{
		"chunkCount": len(t.Chunks()),
	}})
	return nil
}

// uploadChunkWithRetry performs one chunk's full attempt-and-retry
// lifecycle: read bytes, upload, and on failure hand off to the
// retrycontrol.Controller, blocking until either a retry succeeds or the
// controller gives up. Since Controller.Retry schedules retries
// asynchronously (via a timer, possibly gated on network recovery), the
// terminal outcome is learned by subscribing to the bus rather than from
// Retry's return value.
//
// The chunk's in-flight handle is a real context.CancelFunc derived from
// ctx: Task.AbortAll (called on pause/cancel) invokes it, which cancels
// every attempt — including one currently blocked inside the adapter's HTTP
// round trip — and any retry still scheduled against it.
func (d *Dispatcher) uploadChunkWithRetry(ctx context.Context, t *task.Task, source Source, desc chunk.Descriptor, uploadURL string, meta UploadMeta) error {
	chunkCtx, cancelChunk := context.WithCancel(ctx)
	if err := t.RegisterInFlight(desc.Index, cancelChunk); err != nil {
		cancelChunk()
		return err
	}
	defer cancelChunk()

	data, err := source.ReadChunk(desc.Start, desc.End)
	if err != nil {
		t.RemoveInFlight(desc.Index)
		return err
	}

	attempt := func() error {
		attemptCtx, cancel := context.WithCancel(chunkCtx)
		defer cancel()

		detector := NewHungDetector(d.uploader.perf, d.cfg.HungThreshold)
		start := time.Now()
		go detector.Watch(attemptCtx, cancel, start)

		_, uploadErr := d.uploader.UploadOne(attemptCtx, meta, desc, data, uploadURL)
		if uploadErr != nil && chunkCtx.Err() != nil {
			return errors.NewCanceledError("chunk upload canceled")
		}
		return uploadErr
	}

	if err := attempt(); err == nil {
		t.MarkChunkUploaded(desc.Index)
		return nil
	}
	t.IncrementRetry(desc.Index)

	done := make(chan error, 1)
	unsubSuccess := d.bus.Subscribe(events.RetrySuccess, func(ev events.Event) {
		if matchesChunk(ev, t.File().ID, desc.Index) {
			select {
			case done <- nil:
			default:
			}
		}
	})
	unsubFailed := d.bus.Subscribe(events.RetryFailed, func(ev events.Event) {
		if matchesChunk(ev, t.File().ID, desc.Index) {
			select {
			case done <- errors.NewChunkUploadError("chunk retries exhausted", nil):
			default:
			}
		}
	})
	defer unsubSuccess()
	defer unsubFailed()

	firstErr := err
	errCtx := errhandler.Context{RetryCount: 1, ChunkSize: desc.Size(), MaxRetries: t.Config().MaxRetries}
	d.retry.Retry(t.File().ID, desc.Index, firstErr, errCtx, func(rctx errhandler.Context) error {
		retryErr := attempt()
		if retryErr == nil {
			t.MarkChunkUploaded(desc.Index)
		} else {
			t.IncrementRetry(desc.Index)
		}
		return retryErr
	})

	select {
	case err := <-done:
		return err
	case <-chunkCtx.Done():
		return errors.NewCanceledError("chunk upload canceled")
	}
}

func matchesChunk(ev events.Event, fileID string, chunkIndex int) bool {
	if ev.FileID != fileID {
		return false
	}
	idx, ok := ev.Fields["chunkIndex"].(int)
	return ok && idx == chunkIndex
}
