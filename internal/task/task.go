// Package task owns the in-memory task state machine: one Task per active
// upload, the set of chunks it's tracking, and the in-flight cancellation
// handles for chunks currently being uploaded.
//
// Each Task guards its own state with a mutex, serializing reads and writes
// of its status, chunk sets and in-flight handles to avoid queue-vs-wait
// races.
package task

import (
	"sync"

	"github.com/chunkwise/uploadengine/internal/chunk"
	"github.com/chunkwise/uploadengine/internal/progress"
	"github.com/chunkwise/uploadengine/pkg/errors"
)

// Status is the task-level lifecycle state.
type Status int

const (
	StatusPending Status = iota
	StatusUploading
	StatusPaused
	StatusCompleted
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusUploading:
		return "uploading"
	case StatusPaused:
		return "paused"
	case StatusCompleted:
		return "completed"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

// CancelHandle cancels one in-flight chunk upload.
type CancelHandle func()

// Config is the subset of upload configuration a Task needs to remember for
// its own lifetime (concurrency bound, retry ceiling, etc.); the rest lives
// in the uploader/retrycontrol packages that consume it.
type Config struct {
	Concurrency int
	MaxRetries  int
	Sequential  bool
}

// Task is the engine's model of one in-progress upload, keyed by file ID.
type Task struct {
	mu sync.Mutex

	file           chunk.File
	chunks         []chunk.Descriptor
	uploadedChunks map[int]bool
	inFlight       map[int]CancelHandle
	status         Status
	progress       *progress.Tracker
	lastErr        error
	config         Config
}

// New creates a Task for file with the given chunk plan and config.
func New(file chunk.File, chunks []chunk.Descriptor, cfg Config) *Task {
	return &Task{
		file:           file,
		chunks:         chunks,
		uploadedChunks: make(map[int]bool),
		inFlight:       make(map[int]CancelHandle),
		status:         StatusPending,
		progress:       progress.New(file.Size),
		config:         cfg,
	}
}

// File returns the task's file descriptor.
func (t *Task) File() chunk.File {
	return t.file
}

// Config returns the task's upload configuration.
func (t *Task) Config() Config {
	return t.config
}

// Chunks returns a copy of the task's chunk descriptors.
func (t *Task) Chunks() []chunk.Descriptor {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]chunk.Descriptor, len(t.chunks))
	copy(out, t.chunks)
	return out
}

// Status returns the task's current status.
func (t *Task) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

// Progress returns the task's progress tracker.
func (t *Task) Progress() *progress.Tracker {
	return t.progress
}

// Error returns the task's terminal error, if any.
func (t *Task) Error() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastErr
}

// SetStatus enforces the legal state transitions: Pending may move to
// Uploading or Error, Uploading to Paused/Completed/Error, and Paused to
// Uploading or Error; Completed and Error are terminal until the task is
// removed from the store.
func (t *Task) SetStatus(next Status) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.setStatusLocked(next)
}

func (t *Task) setStatusLocked(next Status) error {
	switch t.status {
	case StatusCompleted, StatusError:
		return errors.New("task: cannot transition out of a terminal state")
	case StatusPending:
		if next != StatusUploading && next != StatusError {
			return errors.New("task: pending may only start or error")
		}
	case StatusUploading:
		// Uploading -> {Paused, Completed, Error} all legal.
	case StatusPaused:
		if next != StatusUploading && next != StatusError {
			return errors.New("task: paused may only resume or error")
		}
	}
	t.status = next
	return nil
}

// SetError records the task's terminal error and transitions it to Error.
func (t *Task) SetError(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lastErr = err
	_ = t.setStatusLocked(StatusError)
}

// MarkChunkUploaded records chunk index as successfully uploaded, removing
// it from in-flight if present, and advances progress.
func (t *Task) MarkChunkUploaded(index int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.inFlight, index)
	t.uploadedChunks[index] = true
	if index >= 0 && index < len(t.chunks) {
		t.chunks[index].Status = chunk.Success
		t.progress.OnChunkUploaded(t.chunks[index].Size(), t.uploadedCountLocked(), len(t.chunks))
	}
}

// RegisterInFlight records that chunk index is being uploaded, with cancel
// as its cancellation handle. Returns an error if concurrency is exceeded.
func (t *Task) RegisterInFlight(index int, cancel CancelHandle) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.uploadedChunks[index] {
		return errors.New("task: chunk already uploaded")
	}
	if t.config.Concurrency > 0 && len(t.inFlight) >= t.config.Concurrency {
		return errors.New("task: concurrency limit exceeded")
	}
	t.inFlight[index] = cancel
	if index >= 0 && index < len(t.chunks) {
		t.chunks[index].Status = chunk.Uploading
	}
	return nil
}

// RemoveInFlight removes index from the in-flight set without touching its
// uploaded/failed status.
func (t *Task) RemoveInFlight(index int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.inFlight, index)
}

// IncrementRetry bumps the retry counter for chunk index and returns the new
// count.
func (t *Task) IncrementRetry(index int) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if index < 0 || index >= len(t.chunks) {
		return 0
	}
	t.chunks[index].RetryCount++
	return t.chunks[index].RetryCount
}

// MarkChunkFailed records chunk index as permanently failed (retries
// exhausted).
func (t *Task) MarkChunkFailed(index int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.inFlight, index)
	if index >= 0 && index < len(t.chunks) {
		t.chunks[index].Status = chunk.Failed
	}
}

// AbortAll signals cancellation to every in-flight handle and clears the
// in-flight set. It does NOT change task status — the caller chooses
// Paused vs Error afterward.
func (t *Task) AbortAll() {
	t.mu.Lock()
	handles := make([]CancelHandle, 0, len(t.inFlight))
	for _, h := range t.inFlight {
		handles = append(handles, h)
	}
	t.inFlight = make(map[int]CancelHandle)
	t.mu.Unlock()

	for _, h := range handles {
		h()
	}
}

// InFlightCount returns the number of chunks currently in flight.
func (t *Task) InFlightCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.inFlight)
}

// IsUploaded reports whether chunk index has already succeeded.
func (t *Task) IsUploaded(index int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.uploadedChunks[index]
}

// UploadedCount returns the number of chunks successfully uploaded so far.
func (t *Task) UploadedCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.uploadedCountLocked()
}

func (t *Task) uploadedCountLocked() int {
	return len(t.uploadedChunks)
}

// AllUploaded reports whether every chunk has succeeded.
func (t *Task) AllUploaded() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.uploadedChunks) == len(t.chunks)
}

// PendingIndices returns the indices of chunks not yet uploaded, in order —
// used to seed the dispatch loop's work queue, including on resume where
// some indices were already marked uploaded by a prior session.
func (t *Task) PendingIndices() []int {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]int, 0, len(t.chunks))
	for _, c := range t.chunks {
		if !t.uploadedChunks[c.Index] {
			out = append(out, c.Index)
		}
	}
	return out
}

// RestoreUploaded marks index as already uploaded without going through
// MarkChunkUploaded's progress side effects — used when resuming a task from
// persisted ResumeStore state, where progress will be recomputed in bulk
// afterward.
func (t *Task) RestoreUploaded(index int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.uploadedChunks[index] = true
	if index >= 0 && index < len(t.chunks) {
		t.chunks[index].Status = chunk.Success
	}
}
