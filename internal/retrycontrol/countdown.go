package retrycontrol

import (
	"sync"
	"time"

	"github.com/chunkwise/uploadengine/internal/events"
)

// CountdownManager periodically publishes retry:countdown events while a
// scheduled retry is pending, so a UI can show "retrying in 3s" rather than
// a silent wait. One CountdownManager tracks one chunk's countdown at a
// time; callers create one per in-flight wait.
type CountdownManager struct {
	mu       sync.Mutex
	bus      *events.Bus
	fileID   string
	chunkIdx int
	ticker   *time.Ticker
	stop     chan struct{}
	paused   bool
	remaining time.Duration
}

// NewCountdownManager creates a manager that will publish events.RetryCountdown
// on bus for the given file/chunk.
func NewCountdownManager(bus *events.Bus, fileID string, chunkIndex int) *CountdownManager {
	return &CountdownManager{bus: bus, fileID: fileID, chunkIdx: chunkIndex}
}

// Start begins a countdown of the given total duration, ticking every
// interval until it reaches zero or Stop is called.
func (m *CountdownManager) Start(total, interval time.Duration) {
	m.mu.Lock()
	if m.ticker != nil {
		m.mu.Unlock()
		return
	}
	m.remaining = total
	m.ticker = time.NewTicker(interval)
	m.stop = make(chan struct{})
	ticker := m.ticker
	stop := m.stop
	m.mu.Unlock()

	go func() {
		for {
			select {
			case <-ticker.C:
				m.tick(interval)
			case <-stop:
				return
			}
		}
	}()
}

func (m *CountdownManager) tick(interval time.Duration) {
	m.mu.Lock()
	if m.paused {
		m.mu.Unlock()
		return
	}
	m.remaining -= interval
	remaining := m.remaining
	done := remaining <= 0
	m.mu.Unlock()

	m.bus.Publish(events.Event{Name: events.RetryCountdown, FileID: m.fileID, Fields: map[string]interface{}{
		"chunkIndex": m.chunkIdx,
		"remaining":  remaining,
	}})

	if done {
		m.Stop()
	}
}

// Pause suspends countdown ticks without resetting the remaining time.
func (m *CountdownManager) Pause() {
	m.mu.Lock()
	m.paused = true
	m.mu.Unlock()
}

// Resume un-suspends a paused countdown.
func (m *CountdownManager) Resume() {
	m.mu.Lock()
	m.paused = false
	m.mu.Unlock()
}

// Stop halts the countdown goroutine. Safe to call multiple times.
func (m *CountdownManager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ticker == nil {
		return
	}
	m.ticker.Stop()
	close(m.stop)
	m.ticker = nil
}
