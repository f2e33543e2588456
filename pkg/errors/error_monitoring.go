// Package errors provides error handling utilities for the upload engine.
package errors

import (
	"sync"
	"time"

	"github.com/chunkwise/uploadengine/pkg/logging"
)

// ErrorMetrics tracks error metrics for monitoring purposes.
type ErrorMetrics struct {
	// Count of errors seen per kind.
	KindCounts map[ErrorKind]int
	// Count of errors seen per HTTP status code, when known.
	StatusCodeCounts map[int]int
	// Last time an error of a given kind was observed.
	LastErrorTime map[ErrorKind]time.Time
	// Errors per minute per kind, refreshed by monitorErrorRates.
	ErrorRates map[ErrorKind]float64

	mu sync.RWMutex
}

var (
	globalMetrics     *ErrorMetrics
	globalMetricsOnce sync.Once
)

// GetErrorMetrics returns the global error metrics instance, starting its
// background rate-logging goroutine on first use.
func GetErrorMetrics() *ErrorMetrics {
	globalMetricsOnce.Do(func() {
		globalMetrics = &ErrorMetrics{
			KindCounts:       make(map[ErrorKind]int),
			StatusCodeCounts: make(map[int]int),
			LastErrorTime:    make(map[ErrorKind]time.Time),
			ErrorRates:       make(map[ErrorKind]float64),
		}
		go globalMetrics.monitorErrorRates()
	})
	return globalMetrics
}

// RecordError records an error for monitoring purposes.
func (m *ErrorMetrics) RecordError(err error) {
	if err == nil {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	kind := KindOf(err)
	m.KindCounts[kind]++
	m.LastErrorTime[kind] = time.Now()

	var typed *TypedError
	if As(err, &typed) && typed.StatusCode > 0 {
		m.StatusCodeCounts[typed.StatusCode]++
	}
}

func (m *ErrorMetrics) monitorErrorRates() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for range ticker.C {
		m.calculateErrorRates()
		m.logErrorMetrics()
	}
}

func (m *ErrorMetrics) calculateErrorRates() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	for kind, lastTime := range m.LastErrorTime {
		count := m.KindCounts[kind]
		duration := now.Sub(lastTime).Minutes()
		if duration > 0 && count > 0 {
			m.ErrorRates[kind] = float64(count) / duration
		}
	}
}

func (m *ErrorMetrics) logErrorMetrics() {
	m.mu.RLock()
	defer m.mu.RUnlock()

	total := 0
	for _, c := range m.KindCounts {
		total += c
	}
	logging.Info().Int("total_errors", total).Msg("error metrics summary")

	for kind, rate := range m.ErrorRates {
		logging.Info().
			Str(logging.FieldErrorKind, kind.String()).
			Float64("errors_per_minute", rate).
			Msg("error rate")
	}

	if len(m.StatusCodeCounts) > 0 {
		logging.Info().
			Interface("status_code_counts", m.StatusCodeCounts).
			Msg("error status code distribution")
	}
}

// GetMetrics returns a snapshot of the current error metrics.
func (m *ErrorMetrics) GetMetrics() map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()

	kindCounts := make(map[string]int, len(m.KindCounts))
	for kind, count := range m.KindCounts {
		kindCounts[kind.String()] = count
	}

	return map[string]interface{}{
		"kind_counts":        kindCounts,
		"status_code_counts": m.StatusCodeCounts,
		"error_rates":        m.ErrorRates,
	}
}

// ResetMetrics resets all error metrics. Intended for test isolation.
func (m *ErrorMetrics) ResetMetrics() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.KindCounts = make(map[ErrorKind]int)
	m.StatusCodeCounts = make(map[int]int)
	m.LastErrorTime = make(map[ErrorKind]time.Time)
	m.ErrorRates = make(map[ErrorKind]float64)
}

// MonitorError records an error for monitoring purposes.
func MonitorError(err error) {
	if err == nil {
		return
	}
	GetErrorMetrics().RecordError(err)
}

// WrapAndMonitor wraps an error and records it for monitoring.
func WrapAndMonitor(err error, message string) error {
	if err == nil {
		return nil
	}
	wrapped := Wrap(err, message)
	MonitorError(wrapped)
	return wrapped
}
