package netmon

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestUT_NM_01_01_OnChange_FiresOnTransition(t *testing.T) {
	var offline atomic.Bool
	m := New(FlagProber(offline.Load))

	var seen []State
	m.OnChange(func(s State) { seen = append(seen, s) })

	offline.Store(true)
	m.Sample()
	offline.Store(false)
	m.Sample()

	assert.Len(t, seen, 2)
	assert.False(t, seen[0].Online)
	assert.True(t, seen[1].Online)
}

func TestUT_NM_01_02_Sample_NoChange_DoesNotNotify(t *testing.T) {
	m := New(FlagProber(func() bool { return false }))
	count := 0
	m.OnChange(func(State) { count++ })

	m.Sample()
	m.Sample()

	assert.Equal(t, 0, count)
}

func TestUT_NM_01_03_StartStop_PollsAtInterval(t *testing.T) {
	var calls atomic.Int32
	m := New(func() State {
		calls.Add(1)
		return State{Online: true}
	})
	m.Start(5 * time.Millisecond)
	time.Sleep(25 * time.Millisecond)
	m.Stop()

	assert.Greater(t, calls.Load(), int32(1))
}
