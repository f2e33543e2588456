// Package errhandler implements the error-classification decision function:
// given a classified error and retry context, decide whether to retry,
// wait for connectivity, adjust the chunk plan, or fail.
package errhandler

import (
	"time"

	"github.com/chunkwise/uploadengine/pkg/errors"
)

// ActionKind identifies which decision handle returned.
type ActionKind int

const (
	ActionRetry ActionKind = iota
	ActionWaitForConnection
	ActionAdjustAndRetry
	ActionFail
)

// Action is the decision handle returns.
type Action struct {
	Kind            ActionKind
	Delay           time.Duration
	NewChunkSize    int64
	FailRecoverable bool
}

// Context carries the per-error retry bookkeeping the decision function
// consults.
type Context struct {
	RetryCount int
	ChunkSize  int64
	MaxRetries int
}

// KindRetryLimits maps a coarse error-kind bucket (network/server/timeout/
// unknown) to its own retry ceiling, overridden by ctx.MaxRetries when it is
// the smaller of the two.
type KindRetryLimits struct {
	Network int
	Server  int
	Timeout int
	Unknown int
}

// DefaultKindRetryLimits returns the documented default ceilings
// (5/3/3/1), advisory rather than normative — callers are expected to
// override them via configuration.
func DefaultKindRetryLimits() KindRetryLimits {
	return KindRetryLimits{Network: 5, Server: 3, Timeout: 3, Unknown: 1}
}

func (l KindRetryLimits) forKind(kind errors.ErrorKind) int {
	switch kind {
	case errors.KindNetwork, errors.KindNetworkDisconnect:
		return l.Network
	case errors.KindServerError, errors.KindServerOverload:
		return l.Server
	case errors.KindTimeout:
		return l.Timeout
	default:
		return l.Unknown
	}
}

// maxRetriesForKind returns the smaller of the kind-specific ceiling and the
// caller's global ctx.MaxRetries, when the caller set one (>0).
func maxRetriesForKind(kind errors.ErrorKind, limits KindRetryLimits, globalMax int) int {
	k := limits.forKind(kind)
	if globalMax > 0 && globalMax < k {
		return globalMax
	}
	return k
}

// BackoffFunc computes the delay before the (retryCount)-th retry of an
// error of the given kind.
type BackoffFunc func(kind errors.ErrorKind, retryCount int) time.Duration

// Handle is the error-classification decision function.
func Handle(err error, ctx Context, limits KindRetryLimits, backoff BackoffFunc) Action {
	kind := errors.KindOf(err)

	switch kind {
	case errors.KindNetworkDisconnect:
		return Action{Kind: ActionWaitForConnection}
	case errors.KindServerOverload:
		if ctx.RetryCount <= ctx.MaxRetries+1 {
			return Action{Kind: ActionRetry, Delay: 30 * time.Second}
		}
		return Action{Kind: ActionFail}
	case errors.KindQuotaExceeded:
		return Action{Kind: ActionFail, FailRecoverable: false}
	case errors.KindInvalidChunkSize:
		if half := ctx.ChunkSize / 2; half >= 256*1024 {
			return Action{Kind: ActionAdjustAndRetry, NewChunkSize: half}
		}
		return Action{Kind: ActionFail}
	}

	retryable := errors.IsRetryable(err)
	if retryable && ctx.RetryCount < maxRetriesForKind(kind, limits, ctx.MaxRetries) {
		var d time.Duration
		if backoff != nil {
			d = backoff(kind, ctx.RetryCount)
		}
		return Action{Kind: ActionRetry, Delay: d}
	}
	return Action{Kind: ActionFail, FailRecoverable: retryable}
}
