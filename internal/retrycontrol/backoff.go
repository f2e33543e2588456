// Package retrycontrol is the stateful RetryController: it owns a queue of
// scheduled RetryTasks, decides whether/when to retry via
// internal/errhandler, applies the smart-decision filter, and gates retries
// on network recovery via internal/netmon.
//
// Backoff here computes its own per-error-kind multiplier and jitter shape
// rather than calling pkg/retry's generic exponential backoff: pkg/retry is
// used as-is by internal/merge, whose single per-file merge request has no
// per-chunk kind to weight; this package's chunk retries need that extra
// dimension.
package retrycontrol

import (
	"math/rand"
	"time"

	"github.com/chunkwise/uploadengine/pkg/errors"
)

// BackoffConfig configures delay computation.
type BackoffConfig struct {
	BaseDelay             time.Duration
	MaxDelay              time.Duration
	UseExponentialBackoff bool
}

// DefaultBackoffConfig returns the documented default delay parameters
// (1s base / 30s max, exponential).
func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{BaseDelay: time.Second, MaxDelay: 30 * time.Second, UseExponentialBackoff: true}
}

// kindMultiplier returns the per-error-kind delay multiplier.
func kindMultiplier(kind errors.ErrorKind) float64 {
	switch kind {
	case errors.KindNetwork, errors.KindNetworkDisconnect:
		return 1.5
	case errors.KindServerError, errors.KindServerOverload:
		return 2.0
	case errors.KindTimeout:
		return 1.8
	default:
		return 1.0
	}
}

// Backoff computes the delay before the retryCount-th retry of an error of
// the given kind: exponential (baseDelay·2^retryCount) or linear
// (baseDelay·(retryCount+1)) per cfg, times the kind multiplier, plus
// jitter U(0, baseDelay·0.5), clamped to maxDelay. ServerOverload floors at
// 5s regardless of the computed value.
func Backoff(cfg BackoffConfig, kind errors.ErrorKind, retryCount int) time.Duration {
	var base time.Duration
	if cfg.UseExponentialBackoff {
		base = cfg.BaseDelay * time.Duration(pow2(retryCount))
	} else {
		base = cfg.BaseDelay * time.Duration(retryCount+1)
	}

	scaled := time.Duration(float64(base) * kindMultiplier(kind))
	jitter := time.Duration(rand.Float64() * float64(cfg.BaseDelay) * 0.5)
	delay := scaled + jitter

	if delay > cfg.MaxDelay {
		delay = cfg.MaxDelay
	}
	if kind == errors.KindServerOverload && delay < 5*time.Second {
		delay = 5 * time.Second
	}
	return delay
}

func pow2(n int) int64 {
	if n < 0 {
		return 1
	}
	result := int64(1)
	for i := 0; i < n; i++ {
		result *= 2
	}
	return result
}
