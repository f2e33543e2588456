package retrycontrol

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/chunkwise/uploadengine/internal/errhandler"
	"github.com/chunkwise/uploadengine/internal/events"
	"github.com/chunkwise/uploadengine/internal/netmon"
	"github.com/chunkwise/uploadengine/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastConfig() Config {
	cfg := DefaultConfig()
	cfg.Backoff = BackoffConfig{BaseDelay: time.Millisecond, MaxDelay: 10 * time.Millisecond, UseExponentialBackoff: false}
	return cfg
}

func TestUT_RC_03_01_Retry_SucceedsOnFirstScheduledAttempt(t *testing.T) {
	bus := events.New()
	ctrl := New(fastConfig(), bus, netmon.New(func() netmon.State { return netmon.State{Online: true} }))

	var succeeded atomic.Bool
	var wg sync.WaitGroup
	wg.Add(1)
	unsub := bus.Subscribe(events.RetrySuccess, func(events.Event) {
		succeeded.Store(true)
		wg.Done()
	})
	defer unsub()

	ctrl.Retry("file1", 0, errors.NewNetworkError("boom", nil), errhandler.Context{RetryCount: 0, MaxRetries: 5}, func(errhandler.Context) error {
		return nil
	})

	wg.Wait()
	assert.True(t, succeeded.Load())
}

func TestUT_RC_03_02_Retry_ExhaustsRetriesAndPublishesFailed(t *testing.T) {
	bus := events.New()
	ctrl := New(fastConfig(), bus, netmon.New(func() netmon.State { return netmon.State{Online: true} }))

	var wg sync.WaitGroup
	wg.Add(1)
	var failed atomic.Bool
	unsub := bus.Subscribe(events.RetryFailed, func(events.Event) {
		failed.Store(true)
		wg.Done()
	})
	defer unsub()

	var attempts atomic.Int32
	ctrl.Retry("file2", 0, errors.NewTimeoutError("slow", nil), errhandler.Context{RetryCount: 0, MaxRetries: 1}, func(errhandler.Context) error {
		attempts.Add(1)
		return errors.NewTimeoutError("still slow", nil)
	})

	wg.Wait()
	assert.True(t, failed.Load())
}

func TestUT_RC_03_03_Retry_NetworkDisconnectWaitsThenFiresOnRecovery(t *testing.T) {
	bus := events.New()
	online := atomic.Bool{}
	online.Store(false)
	mon := netmon.New(func() netmon.State { return netmon.State{Online: online.Load()} })
	// New seeds the monitor online; sample once so it observes the offline state.
	mon.Sample()

	ctrl := New(fastConfig(), bus, mon)

	var wg sync.WaitGroup
	wg.Add(1)
	unsub := bus.Subscribe(events.RetryWaiting, func(events.Event) { wg.Done() })
	defer unsub()

	var invoked atomic.Bool
	ctrl.Retry("file3", 0, errors.NewNetworkDisconnectError("offline", nil), errhandler.Context{RetryCount: 0, MaxRetries: 5}, func(errhandler.Context) error {
		invoked.Store(true)
		return nil
	})
	wg.Wait()
	assert.False(t, invoked.Load())

	online.Store(true)
	mon.Sample()

	require.Eventually(t, func() bool { return invoked.Load() }, time.Second, time.Millisecond)
}

func TestUT_RC_03_04_Retry_SmartFilterRejectsAfterRepeatedFailures(t *testing.T) {
	bus := events.New()
	ctrl := New(fastConfig(), bus, netmon.New(func() netmon.State { return netmon.State{Online: true} }))

	var failedCount atomic.Int32
	unsub := bus.Subscribe(events.RetryFailed, func(events.Event) { failedCount.Add(1) })
	defer unsub()

	for i := 0; i < 7; i++ {
		ctrl.Retry("file4", 0, errors.NewTimeoutError("x", nil), errhandler.Context{RetryCount: 0, MaxRetries: 0}, func(errhandler.Context) error {
			return errors.NewTimeoutError("x", nil)
		})
	}

	assert.Greater(t, int(failedCount.Load()), 0)
}
