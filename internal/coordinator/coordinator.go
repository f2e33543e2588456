// Package coordinator wires every other internal package into the
// top-level engine surface: process/pause/resume/cancel/cleanup over a set
// of concurrently tracked upload tasks.
//
// Modeled as a mutex-guarded map of active sessions, with
// Process/Pause/Resume/Cancel/Cleanup/Status as the public surface other
// packages call into.
package coordinator

import (
	"context"
	"sync"

	"github.com/chunkwise/uploadengine/internal/chunk"
	"github.com/chunkwise/uploadengine/internal/events"
	"github.com/chunkwise/uploadengine/internal/merge"
	"github.com/chunkwise/uploadengine/internal/netmon"
	"github.com/chunkwise/uploadengine/internal/perf"
	"github.com/chunkwise/uploadengine/internal/resume"
	"github.com/chunkwise/uploadengine/internal/retrycontrol"
	"github.com/chunkwise/uploadengine/internal/task"
	"github.com/chunkwise/uploadengine/internal/uploader"
	"github.com/chunkwise/uploadengine/pkg/errors"
	"github.com/chunkwise/uploadengine/pkg/logging"
)

// Options configures how one file is chunked and dispatched.
type Options struct {
	ChunkSize   int64
	Strategy    chunk.SizeStrategy
	Concurrency int
	MaxRetries  int
	Sequential  bool
	UploadURL   string
	MergeURL    string

	// FormData is attached verbatim to every chunk and merge request.
	FormData map[string]string
	// FileFieldName names the multipart part carrying chunk bytes; empty
	// falls back to "file".
	FileFieldName string
	// IndexBase is added to a chunk's 0-based index before it is sent on
	// the wire.
	IndexBase int
}

func (o Options) uploadMeta(file chunk.File, totalChunks int) uploader.UploadMeta {
	fieldName := o.FileFieldName
	if fieldName == "" {
		fieldName = "file"
	}
	return uploader.UploadMeta{
		FileID:        file.ID,
		FileName:      file.Name,
		FileType:      file.MIME,
		FileSize:      file.Size,
		TotalChunks:   totalChunks,
		IndexBase:     o.IndexBase,
		FileFieldName: fieldName,
		FormData:      o.FormData,
	}
}

// entry is the coordinator's per-file bookkeeping.
type entry struct {
	task   *task.Task
	cancel context.CancelFunc
	opts   Options
}

// Coordinator is the engine's top-level orchestrator.
type Coordinator struct {
	mu sync.Mutex

	bus         *events.Bus
	net         *netmon.Monitor
	resumeStore *resume.Store
	retry       *retrycontrol.Controller
	dispatcher  *uploader.Dispatcher
	chunkUp     *uploader.ChunkUploader
	mergeCtrl   *merge.Controller
	perf        *perf.Tracker

	tasks map[string]*entry
}

// New assembles a Coordinator from its collaborators. Callers typically
// build these via the package-level wiring helpers in cmd/uploadctl rather
// than constructing each one by hand. perfTracker is reset whenever Cleanup
// runs; it may be nil if the caller doesn't need that reset behavior.
func New(bus *events.Bus, net *netmon.Monitor, resumeStore *resume.Store, retry *retrycontrol.Controller, dispatcher *uploader.Dispatcher, chunkUp *uploader.ChunkUploader, mergeCtrl *merge.Controller, perfTracker *perf.Tracker) *Coordinator {
	return &Coordinator{
		bus:         bus,
		net:         net,
		resumeStore: resumeStore,
		retry:       retry,
		dispatcher:  dispatcher,
		chunkUp:     chunkUp,
		mergeCtrl:   mergeCtrl,
		perf:        perfTracker,
		tasks:       make(map[string]*entry),
	}
}

// Process plans file into chunks (restoring any previously persisted
// resume checkpoint), dispatches the upload, and on success merges the
// chunks into the finished file. Blocks until the file is fully uploaded,
// paused, canceled, or fails permanently.
func (c *Coordinator) Process(ctx context.Context, file chunk.File, source uploader.Source, opts Options) (merge.Result, error) {
	chunks, err := c.plan(file, opts)
	if err != nil {
		return merge.Result{}, err
	}

	t := task.New(file, chunks, task.Config{
		Concurrency: opts.Concurrency,
		MaxRetries:  opts.MaxRetries,
		Sequential:  opts.Sequential,
	})

	if state, ok, err := c.resumeStore.Load(file.ID); err == nil && ok {
		for idx := range state.UploadedChunks {
			t.RestoreUploaded(idx)
		}
		logging.Info().Str(logging.FieldFileID, file.ID).Int(logging.FieldChunkCount, len(state.UploadedChunks)).
			Msg("resumed upload from persisted checkpoint")
	}

	taskCtx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.tasks[file.ID] = &entry{task: t, cancel: cancel, opts: opts}
	c.mu.Unlock()

	if err := t.SetStatus(task.StatusUploading); err != nil {
		cancel()
		return merge.Result{}, err
	}

	runErr := c.dispatcher.Run(taskCtx, t, source, opts.UploadURL, opts.uploadMeta(file, len(chunks)))
	c.persist(t)
	if runErr != nil {
		return merge.Result{}, runErr
	}

	if err := t.SetStatus(task.StatusCompleted); err != nil {
		return merge.Result{}, err
	}

	result, err := c.mergeCtrl.Merge(ctx, opts.MergeURL, merge.Request{
		FileID:      file.ID,
		FileName:    file.Name,
		FileType:    file.MIME,
		FileSize:    file.Size,
		TotalChunks: len(chunks),
		FormData:    opts.FormData,
	})
	if err != nil {
		return merge.Result{}, err
	}
	t.Progress().Complete()

	_ = c.resumeStore.Delete(file.ID)
	return result, nil
}

func (c *Coordinator) plan(file chunk.File, opts Options) ([]chunk.Descriptor, error) {
	if opts.Strategy == chunk.Adaptive {
		return chunk.PlanAdaptive(file)
	}
	return chunk.Plan(file, opts.ChunkSize)
}

// Pause stops all in-flight chunk uploads for fileID without abandoning
// progress; the task can later be resumed with Resume.
func (c *Coordinator) Pause(fileID string) error {
	e, ok := c.get(fileID)
	if !ok {
		return errors.New("coordinator: unknown file id")
	}
	e.task.AbortAll()
	c.cancelPendingRetries(e.task)
	e.cancel()
	c.persist(e.task)
	return e.task.SetStatus(task.StatusPaused)
}

// cancelPendingRetries stops every chunk's scheduled retry (if any) so a
// stale timer can't fire and resurrect a chunk after the task has moved on.
func (c *Coordinator) cancelPendingRetries(t *task.Task) {
	for _, d := range t.Chunks() {
		c.retry.Cancel(t.File().ID, d.Index)
	}
}

// Resume continues a paused task's remaining pending chunks.
func (c *Coordinator) Resume(ctx context.Context, fileID string, source uploader.Source) (merge.Result, error) {
	e, ok := c.get(fileID)
	if !ok {
		return merge.Result{}, errors.New("coordinator: unknown file id")
	}
	if err := e.task.SetStatus(task.StatusUploading); err != nil {
		return merge.Result{}, err
	}

	taskCtx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	e.cancel = cancel
	c.mu.Unlock()

	runErr := c.dispatcher.Run(taskCtx, e.task, source, e.opts.UploadURL, e.opts.uploadMeta(e.task.File(), len(e.task.Chunks())))
	c.persist(e.task)
	if runErr != nil {
		return merge.Result{}, runErr
	}

	if err := e.task.SetStatus(task.StatusCompleted); err != nil {
		return merge.Result{}, err
	}

	result, err := c.mergeCtrl.Merge(ctx, e.opts.MergeURL, merge.Request{
		FileID:      e.task.File().ID,
		FileName:    e.task.File().Name,
		FileType:    e.task.File().MIME,
		FileSize:    e.task.File().Size,
		TotalChunks: len(e.task.Chunks()),
		FormData:    e.opts.FormData,
	})
	if err != nil {
		return merge.Result{}, err
	}
	e.task.Progress().Complete()

	_ = c.resumeStore.Delete(fileID)
	return result, nil
}

// Cancel aborts fileID's upload permanently and discards its resume state.
func (c *Coordinator) Cancel(fileID string) error {
	e, ok := c.get(fileID)
	if !ok {
		return errors.New("coordinator: unknown file id")
	}
	e.cancel()
	e.task.AbortAll()
	c.cancelPendingRetries(e.task)
	e.task.SetError(errors.NewCanceledError("upload canceled"))

	c.mu.Lock()
	delete(c.tasks, fileID)
	c.mu.Unlock()

	c.bus.Publish(events.Event{Name: events.UploadCancel, FileID: fileID})
	return c.resumeStore.Delete(fileID)
}

// Cleanup aborts every tracked task, clears the task store, resets the
// performance tracker, and purges expired persisted resume state. Intended
// to run periodically (e.g. on startup, or on a timer) or when shutting the
// engine down entirely.
func (c *Coordinator) Cleanup() (int, error) {
	c.mu.Lock()
	entries := make([]*entry, 0, len(c.tasks))
	for _, e := range c.tasks {
		entries = append(entries, e)
	}
	c.tasks = make(map[string]*entry)
	c.mu.Unlock()

	for _, e := range entries {
		e.task.AbortAll()
		c.cancelPendingRetries(e.task)
		e.cancel()
	}

	if c.perf != nil {
		c.perf.Reset("", "")
	}

	return c.resumeStore.CleanupExpired()
}

// Status returns the current Status of a tracked task.
func (c *Coordinator) Status(fileID string) (task.Status, bool) {
	e, ok := c.get(fileID)
	if !ok {
		return task.StatusPending, false
	}
	return e.task.Status(), true
}

func (c *Coordinator) get(fileID string) (*entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.tasks[fileID]
	return e, ok
}

// persist snapshots t's uploaded-chunk set into the resume store so a
// crash or pause doesn't lose progress.
func (c *Coordinator) persist(t *task.Task) {
	state, err := c.resumeStore.LoadOrCreate(t.File().ID)
	if err != nil {
		logging.Warn().Str(logging.FieldFileID, t.File().ID).Err(err).Msg("failed to load resume state before persisting")
		return
	}
	for _, idx := range allUploaded(t) {
		state.UploadedChunks[idx] = true
	}
	if err := c.resumeStore.Save(state); err != nil {
		logging.Warn().Str(logging.FieldFileID, t.File().ID).Err(err).Msg("failed to persist resume state")
	}
}

func allUploaded(t *task.Task) []int {
	var out []int
	for _, d := range t.Chunks() {
		if t.IsUploaded(d.Index) {
			out = append(out, d.Index)
		}
	}
	return out
}
