package errhandler

import (
	"testing"
	"time"

	"github.com/chunkwise/uploadengine/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func TestUT_EH_01_01_Handle_NetworkDisconnect_WaitsForConnection(t *testing.T) {
	err := errors.NewNetworkDisconnectError("offline", nil)
	action := Handle(err, Context{}, DefaultKindRetryLimits(), nil)
	assert.Equal(t, ActionWaitForConnection, action.Kind)
}

func TestUT_EH_01_02_Handle_ServerOverload_RetriesWithFloorDelay(t *testing.T) {
	err := errors.NewServerOverloadError("throttled", nil)
	action := Handle(err, Context{RetryCount: 1, MaxRetries: 3}, DefaultKindRetryLimits(), nil)
	assert.Equal(t, ActionRetry, action.Kind)
	assert.Equal(t, 30*time.Second, action.Delay)
}

func TestUT_EH_01_03_Handle_ServerOverload_FailsPastLimit(t *testing.T) {
	err := errors.NewServerOverloadError("throttled", nil)
	action := Handle(err, Context{RetryCount: 10, MaxRetries: 3}, DefaultKindRetryLimits(), nil)
	assert.Equal(t, ActionFail, action.Kind)
}

func TestUT_EH_01_04_Handle_QuotaExceeded_FailsNonRecoverable(t *testing.T) {
	err := errors.NewQuotaExceededError("over quota", nil)
	action := Handle(err, Context{}, DefaultKindRetryLimits(), nil)
	assert.Equal(t, ActionFail, action.Kind)
	assert.False(t, action.FailRecoverable)
}

func TestUT_EH_01_05_Handle_InvalidChunkSize_HalvesWhenAboveFloor(t *testing.T) {
	err := errors.NewInvalidChunkSizeError("bad size")
	action := Handle(err, Context{ChunkSize: 1024 * 1024}, DefaultKindRetryLimits(), nil)
	assert.Equal(t, ActionAdjustAndRetry, action.Kind)
	assert.Equal(t, int64(512*1024), action.NewChunkSize)
}

func TestUT_EH_01_06_Handle_InvalidChunkSize_FailsBelowFloor(t *testing.T) {
	err := errors.NewInvalidChunkSizeError("bad size")
	action := Handle(err, Context{ChunkSize: 256 * 1024}, DefaultKindRetryLimits(), nil)
	assert.Equal(t, ActionFail, action.Kind)
}

func TestUT_EH_01_07_Handle_RetryableWithinLimit_Retries(t *testing.T) {
	err := errors.NewNetworkError("timeout", nil)
	action := Handle(err, Context{RetryCount: 1}, DefaultKindRetryLimits(), func(kind errors.ErrorKind, n int) time.Duration {
		return time.Second
	})
	assert.Equal(t, ActionRetry, action.Kind)
	assert.Equal(t, time.Second, action.Delay)
}

func TestUT_EH_01_08_Handle_NonRetryable_Fails(t *testing.T) {
	err := errors.NewAuthenticationFailedError("bad creds", nil)
	action := Handle(err, Context{}, DefaultKindRetryLimits(), nil)
	assert.Equal(t, ActionFail, action.Kind)
	assert.False(t, action.FailRecoverable)
}

func TestUT_EH_01_09_Handle_RetryableButExceedsKindLimit_Fails(t *testing.T) {
	err := errors.NewTimeoutError("slow", nil)
	action := Handle(err, Context{RetryCount: 10}, DefaultKindRetryLimits(), nil)
	assert.Equal(t, ActionFail, action.Kind)
	assert.True(t, action.FailRecoverable)
}
