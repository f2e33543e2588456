package retrycontrol

import (
	"strconv"
	"sync"
	"time"

	"github.com/chunkwise/uploadengine/internal/errhandler"
	"github.com/chunkwise/uploadengine/internal/events"
	"github.com/chunkwise/uploadengine/internal/netmon"
	"github.com/chunkwise/uploadengine/pkg/errors"
	"github.com/chunkwise/uploadengine/pkg/logging"
)

// TaskKind distinguishes what a scheduled RetryTask will do when it fires.
type TaskKind int

const (
	TaskRetry TaskKind = iota
	TaskNetworkRecovery
	TaskAdjustChunk
)

// Handler performs the actual retried operation (re-upload a chunk). It
// returns an error if the retried attempt itself fails, at which point the
// Controller decides whether to schedule a further retry.
type Handler func(ctx errhandler.Context) error

// RetryTask is one scheduled or pending retry.
type RetryTask struct {
	ID         string
	FileID     string
	ChunkIndex int
	Kind       TaskKind
	ScheduledAt time.Time
	Delay      time.Duration
	Context    errhandler.Context
	Err        error
	Handle     Handler

	handled bool
	timer   *time.Timer
}

// Config bundles the tunables Retry consults.
type Config struct {
	Limits        errhandler.KindRetryLimits
	Backoff       BackoffConfig
	SmartDecision SmartDecisionConfig
	Disabled      bool
}

// DefaultConfig returns the documented default tunables.
func DefaultConfig() Config {
	return Config{
		Limits:        errhandler.DefaultKindRetryLimits(),
		Backoff:       DefaultBackoffConfig(),
		SmartDecision: DefaultSmartDecisionConfig(),
	}
}

// Controller is the stateful RetryController: it decides whether a failed
// chunk attempt should be retried, waits for connectivity recovery when
// offline, applies the smart-decision filter to give up early on a task
// that keeps failing, and schedules the eventual retry via a timer.
type Controller struct {
	mu     sync.Mutex
	cfg    Config
	bus    *events.Bus
	net    *netmon.Monitor
	stats  map[string]*Stats // keyed by fileID
	queue  map[string]*RetryTask
	waitUnsub func()
}

// New creates a Controller wired to bus for event publication and net for
// network-gated waiting.
func New(cfg Config, bus *events.Bus, net *netmon.Monitor) *Controller {
	return &Controller{
		cfg:   cfg,
		bus:   bus,
		net:   net,
		stats: make(map[string]*Stats),
		queue: make(map[string]*RetryTask),
	}
}

func (c *Controller) statsFor(fileID string) *Stats {
	s, ok := c.stats[fileID]
	if !ok {
		s = NewStats()
		c.stats[fileID] = s
	}
	return s
}

// Retry runs the decision/scheduling sequence for a single failed chunk
// attempt. retryCount is the attempt number about to be made
// (1-indexed: the first retry after the original failure is retryCount=1).
func (c *Controller) Retry(fileID string, chunkIndex int, err error, ctx errhandler.Context, handle Handler) {
	if c.cfg.Disabled {
		c.publishFailed(fileID, chunkIndex, err)
		return
	}

	c.mu.Lock()
	stats := c.statsFor(fileID)
	stats.RecordFailure(chunkIndex)
	if c.net != nil {
		stats.RecordNetworkSample(c.net.CurrentNetwork())
	}

	if ShouldReject(stats, c.cfg.SmartDecision, chunkIndex) {
		c.mu.Unlock()
		logging.Warn().
			Str(logging.FieldFileID, fileID).
			Int(logging.FieldChunkIndex, chunkIndex).
			Msg("retry rejected by smart-decision filter")
		c.publishFailed(fileID, chunkIndex, err)
		return
	}
	c.mu.Unlock()

	action := errhandler.Handle(err, ctx, c.cfg.Limits, func(kind errors.ErrorKind, retryCount int) time.Duration {
		return Backoff(c.cfg.Backoff, kind, retryCount)
	})

	switch action.Kind {
	case errhandler.ActionWaitForConnection:
		c.waitForConnection(fileID, chunkIndex, ctx, handle)
	case errhandler.ActionAdjustAndRetry:
		c.bus.Publish(events.Event{Name: events.RetryAdjusting, FileID: fileID, Fields: map[string]interface{}{
			"chunkIndex": chunkIndex, "newChunkSize": action.NewChunkSize,
		}})
		ctx.ChunkSize = action.NewChunkSize
		c.schedule(fileID, chunkIndex, TaskAdjustChunk, action.Delay, ctx, err, handle)
	case errhandler.ActionRetry:
		c.schedule(fileID, chunkIndex, TaskRetry, action.Delay, ctx, err, handle)
	default:
		c.publishFailed(fileID, chunkIndex, err)
	}
}

func (c *Controller) schedule(fileID string, chunkIndex int, kind TaskKind, delay time.Duration, ctx errhandler.Context, err error, handle Handler) {
	task := &RetryTask{
		ID:          taskID(fileID, chunkIndex),
		FileID:      fileID,
		ChunkIndex:  chunkIndex,
		Kind:        kind,
		ScheduledAt: time.Now().Add(delay),
		Delay:       delay,
		Context:     ctx,
		Err:         err,
		Handle:      handle,
	}

	c.mu.Lock()
	c.queue[task.ID] = task
	c.mu.Unlock()

	c.bus.Publish(events.Event{Name: events.RetryStart, FileID: fileID, Fields: map[string]interface{}{
		"chunkIndex": chunkIndex, "retryCount": ctx.RetryCount, "delay": delay,
	}})

	task.timer = time.AfterFunc(delay, func() { c.fire(task) })
}

func (c *Controller) fire(task *RetryTask) {
	c.mu.Lock()
	if task.handled {
		c.mu.Unlock()
		return
	}
	task.handled = true
	delete(c.queue, task.ID)
	c.mu.Unlock()

	if err := task.Handle(task.Context); err != nil {
		c.mu.Lock()
		stats := c.statsFor(task.FileID)
		c.mu.Unlock()
		stats.RecordFailure(task.ChunkIndex)
		nextCtx := task.Context
		nextCtx.RetryCount++
		c.Retry(task.FileID, task.ChunkIndex, err, nextCtx, task.Handle)
		return
	}

	c.mu.Lock()
	stats := c.statsFor(task.FileID)
	c.mu.Unlock()
	stats.RecordSuccess()
	c.bus.Publish(events.Event{Name: events.RetrySuccess, FileID: task.FileID, Fields: map[string]interface{}{
		"chunkIndex": task.ChunkIndex,
	}})
}

// waitForConnection enqueues a zero-scheduled task and subscribes to
// network recovery so the task fires as soon as the Monitor reports back
// online.
func (c *Controller) waitForConnection(fileID string, chunkIndex int, ctx errhandler.Context, handle Handler) {
	task := &RetryTask{
		ID:         taskID(fileID, chunkIndex),
		FileID:     fileID,
		ChunkIndex: chunkIndex,
		Kind:       TaskNetworkRecovery,
		Context:    ctx,
		Handle:     handle,
	}

	c.mu.Lock()
	c.queue[task.ID] = task
	needsSub := c.waitUnsub == nil
	c.mu.Unlock()

	c.bus.Publish(events.Event{Name: events.RetryWaiting, FileID: fileID, Fields: map[string]interface{}{
		"chunkIndex": chunkIndex,
	}})

	if needsSub && c.net != nil {
		c.mu.Lock()
		c.waitUnsub = c.net.OnChange(c.onNetworkChange)
		c.mu.Unlock()
	}
}

func (c *Controller) onNetworkChange(state netmon.State) {
	if !state.Online {
		return
	}

	c.mu.Lock()
	pending := make([]*RetryTask, 0, len(c.queue))
	for _, t := range c.queue {
		if t.Kind == TaskNetworkRecovery {
			pending = append(pending, t)
		}
	}
	for _, t := range pending {
		delete(c.queue, t.ID)
	}
	c.mu.Unlock()

	for _, t := range pending {
		c.bus.Publish(events.Event{Name: events.RetryNetworkRecovered, FileID: t.FileID, Fields: map[string]interface{}{
			"chunkIndex": t.ChunkIndex,
		}})
		c.fire(t)
	}
}

// Cancel stops a pending task (e.g. the owning upload was paused or
// canceled) without invoking its handler.
func (c *Controller) Cancel(fileID string, chunkIndex int) {
	id := taskID(fileID, chunkIndex)
	c.mu.Lock()
	task, ok := c.queue[id]
	if ok {
		delete(c.queue, id)
		task.handled = true
		if task.timer != nil {
			task.timer.Stop()
		}
	}
	c.mu.Unlock()
}

// Shutdown unsubscribes from network-change notifications and stops every
// pending timer without firing them.
func (c *Controller) Shutdown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.waitUnsub != nil {
		c.waitUnsub()
		c.waitUnsub = nil
	}
	for id, task := range c.queue {
		task.handled = true
		if task.timer != nil {
			task.timer.Stop()
		}
		delete(c.queue, id)
	}
}

func (c *Controller) publishFailed(fileID string, chunkIndex int, err error) {
	c.bus.Publish(events.Event{Name: events.RetryFailed, FileID: fileID, Fields: map[string]interface{}{
		"chunkIndex": chunkIndex,
		"error":      err.Error(),
	}})
}

func taskID(fileID string, chunkIndex int) string {
	return fileID + ":" + strconv.Itoa(chunkIndex)
}
