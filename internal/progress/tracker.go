// Package progress computes loaded bytes, percent complete, EMA-smoothed
// throughput and ETA for one upload task, and reports the numbers the
// EventBus turns into chunk:progress/upload:progress events.
//
// Tracks byte/time accounting under concurrent updates behind a mutex,
// adapted from bandwidth *limiting* style accounting to throughput
// *measurement*.
package progress

import (
	"sync"
	"time"
)

// DefaultSmoothing is the default EMA weight given to the previous speed
// sample.
const DefaultSmoothing = 0.7

// Snapshot is an immutable view of progress at one instant.
type Snapshot struct {
	Loaded        int64
	Total         int64
	Percent       int
	SpeedBps      float64
	TimeElapsed   time.Duration
	TimeRemaining time.Duration
	StartTime     time.Time
	LastUpdate    time.Time
}

// Tracker accumulates progress for a single task.
type Tracker struct {
	mu sync.Mutex

	total      int64
	loaded     int64
	prevLoaded int64
	speed      float64
	alpha      float64
	startTime  time.Time
	lastTime   time.Time
	completed  bool
}

// New creates a Tracker for a file of the given total size, using the
// default EMA smoothing factor.
func New(total int64) *Tracker {
	return NewWithSmoothing(total, DefaultSmoothing)
}

// NewWithSmoothing creates a Tracker with a custom EMA weight. alpha <= 0
// falls back to DefaultSmoothing.
func NewWithSmoothing(total int64, alpha float64) *Tracker {
	if alpha <= 0 {
		alpha = DefaultSmoothing
	}
	now := time.Now()
	return &Tracker{total: total, alpha: alpha, startTime: now, lastTime: now}
}

// OnChunkUploaded records that another chunk finished uploading, recomputing
// loaded bytes as floor(uploadedChunks/totalChunks * fileSize), then
// updates EMA speed from the elapsed time since the previous call.
func (t *Tracker) OnChunkUploaded(_ int64, uploadedChunks, totalChunks int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()
	if totalChunks > 0 {
		t.loaded = int64(uploadedChunks) * t.total / int64(totalChunks)
	}

	dt := now.Sub(t.lastTime).Seconds()
	if dt > 0 {
		instant := float64(t.loaded-t.prevLoaded) / dt
		if instant < 0 {
			instant = 0
		}
		t.speed = t.alpha*t.speed + (1-t.alpha)*instant
	}
	t.prevLoaded = t.loaded
	t.lastTime = now
}

// Complete forces percent to 100 once merge succeeds; percent is otherwise
// capped at 99 until merge succeeds.
func (t *Tracker) Complete() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.completed = true
	t.loaded = t.total
}

// Snapshot returns the current progress state.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()
	percent := 0
	if t.total > 0 {
		percent = int(t.loaded * 100 / t.total)
	}
	if t.completed {
		percent = 100
	} else if percent > 99 {
		percent = 99
	}

	var remaining time.Duration
	if t.speed > 0 && t.loaded < t.total {
		remaining = time.Duration(float64(t.total-t.loaded) / t.speed * float64(time.Second))
	}

	return Snapshot{
		Loaded:        t.loaded,
		Total:         t.total,
		Percent:       percent,
		SpeedBps:      t.speed,
		TimeElapsed:   now.Sub(t.startTime),
		TimeRemaining: remaining,
		StartTime:     t.startTime,
		LastUpdate:    t.lastTime,
	}
}
