package resume

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUT_RS_01_01_SaveLoad_BeforeExpiry_ReturnsEquivalentState(t *testing.T) {
	store := New(NewMemoryKV(), "device1", "session1")

	state, err := store.LoadOrCreate("file1")
	require.NoError(t, err)
	state.RetryCount = 2
	state.UploadedChunks[0] = true

	require.NoError(t, store.Save(state))

	loaded, ok, err := store.Load("file1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 2, loaded.RetryCount)
	assert.True(t, loaded.UploadedChunks[0])
}

func TestUT_RS_01_02_Load_Expired_ReturnsAbsentAndDeletes(t *testing.T) {
	store := New(NewMemoryKV(), "device1", "session1")
	state, err := store.LoadOrCreate("file1")
	require.NoError(t, err)
	state.ExpiresAt = time.Now().Add(-time.Hour)
	require.NoError(t, store.Save(state))

	_, ok, err := store.Load("file1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestUT_RS_01_03_ListActive_TracksSavedAndDeleted(t *testing.T) {
	store := New(NewMemoryKV(), "device1", "session1")

	s1, _ := store.LoadOrCreate("file1")
	require.NoError(t, store.Save(s1))
	s2, _ := store.LoadOrCreate("file2")
	require.NoError(t, store.Save(s2))

	active, err := store.ListActive()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"file1", "file2"}, active)

	require.NoError(t, store.Delete("file1"))
	active, err = store.ListActive()
	require.NoError(t, err)
	assert.Equal(t, []string{"file2"}, active)
}

func TestUT_RS_01_04_CleanupExpired_RemovesOnlyExpiredEntries(t *testing.T) {
	store := New(NewMemoryKV(), "device1", "session1")

	fresh, _ := store.LoadOrCreate("fresh")
	require.NoError(t, store.Save(fresh))

	stale, _ := store.LoadOrCreate("stale")
	stale.ExpiresAt = time.Now().Add(-time.Hour)
	require.NoError(t, store.Save(stale))

	removed, err := store.CleanupExpired()
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	active, err := store.ListActive()
	require.NoError(t, err)
	assert.Equal(t, []string{"fresh"}, active)
}

func TestUT_RS_01_05_AppendNetworkSample_EvictsOldestWhenFull(t *testing.T) {
	state, _ := New(NewMemoryKV(), "d", "s").LoadOrCreate("file1")
	for i := 0; i < maxNetworkHistory+5; i++ {
		state.AppendNetworkSample(NetworkSample{Timestamp: time.Now()})
	}
	assert.Len(t, state.NetworkHistory, maxNetworkHistory)
}
