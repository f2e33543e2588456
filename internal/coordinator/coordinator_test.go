package coordinator

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/chunkwise/uploadengine/internal/chunk"
	"github.com/chunkwise/uploadengine/internal/events"
	"github.com/chunkwise/uploadengine/internal/merge"
	"github.com/chunkwise/uploadengine/internal/netmon"
	"github.com/chunkwise/uploadengine/internal/perf"
	"github.com/chunkwise/uploadengine/internal/resume"
	"github.com/chunkwise/uploadengine/internal/retrycontrol"
	"github.com/chunkwise/uploadengine/internal/transport"
	"github.com/chunkwise/uploadengine/internal/uploader"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCoordinator(t *testing.T, uploadHandler http.HandlerFunc, mergeHandler http.HandlerFunc) (*Coordinator, *httptest.Server, *httptest.Server) {
	t.Helper()
	uploadSrv := httptest.NewServer(uploadHandler)
	mergeSrv := httptest.NewServer(mergeHandler)
	t.Cleanup(func() { uploadSrv.Close(); mergeSrv.Close() })

	bus := events.New()
	mon := netmon.New(func() netmon.State { return netmon.State{Online: true} })
	resumeStore := resume.New(resume.NewMemoryKV(), "device1", "session1")
	retryCtrl := retrycontrol.New(retrycontrol.DefaultConfig(), bus, mon)
	perfTracker := perf.New(nil)
	chunkUp := uploader.New(transport.NewHTTPAdapter(5*time.Second), perfTracker, bus)
	dispatcher := uploader.NewDispatcher(uploader.DefaultDispatcherConfig(), chunkUp, retryCtrl, bus)
	mergeCtrl := merge.New(transport.NewHTTPAdapter(5*time.Second), bus)

	return New(bus, mon, resumeStore, retryCtrl, dispatcher, chunkUp, mergeCtrl, perfTracker), uploadSrv, mergeSrv
}

type testSource struct{}

func (testSource) ReadChunk(start, end int64) ([]byte, error) {
	return bytes.Repeat([]byte("x"), int(end-start)), nil
}

func TestUT_CO_01_01_Process_UploadsAndMergesSuccessfully(t *testing.T) {
	var chunkHits int
	coord, uploadSrv, mergeSrv := newTestCoordinator(t,
		func(w http.ResponseWriter, r *http.Request) {
			chunkHits++
			w.WriteHeader(http.StatusOK)
		},
		func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(`{"url":"https://example.com/final"}`))
		},
	)

	file := chunk.File{ID: "f1", Name: "a.bin", Size: 10, MIME: "application/octet-stream"}
	opts := Options{ChunkSize: 4, Concurrency: 2, MaxRetries: 2, UploadURL: uploadSrv.URL, MergeURL: mergeSrv.URL}

	result, err := coord.Process(context.Background(), file, testSource{}, opts)
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/final", result.Location)
	assert.Equal(t, 3, chunkHits) // 10 bytes / 4-byte chunks = 3 chunks
}

func TestUT_CO_01_02_Pause_InterruptsInFlightRequestsAndStopsWithoutError(t *testing.T) {
	var chunkHits atomic.Int32
	coord, uploadSrv, mergeSrv := newTestCoordinator(t,
		func(w http.ResponseWriter, r *http.Request) {
			chunkHits.Add(1)
			time.Sleep(200 * time.Millisecond)
			w.WriteHeader(http.StatusOK)
		},
		func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) },
	)

	file := chunk.File{ID: "f2", Name: "b.bin", Size: 20, MIME: "application/octet-stream"}
	opts := Options{ChunkSize: 4, Concurrency: 1, Sequential: true, MaxRetries: 1, UploadURL: uploadSrv.URL, MergeURL: mergeSrv.URL}

	processErr := make(chan error, 1)
	go func() {
		_, err := coord.Process(context.Background(), file, testSource{}, opts)
		processErr <- err
	}()
	require.Eventually(t, func() bool {
		status, ok := coord.Status("f2")
		return ok && status.String() == "uploading"
	}, time.Second, time.Millisecond)

	require.NoError(t, coord.Pause("f2"))

	select {
	case err := <-processErr:
		assert.Error(t, err, "Process should return an error once its in-flight chunk is canceled")
	case <-time.After(time.Second):
		t.Fatal("Process did not return promptly after Pause; in-flight request was not interrupted")
	}

	// 20 bytes / 4-byte chunks = 5 chunks; a genuinely interrupted in-flight
	// request means the sequential loop never reaches them all.
	assert.Less(t, int(chunkHits.Load()), 5)

	status, ok := coord.Status("f2")
	assert.True(t, ok)
	assert.Equal(t, "paused", status.String())
}

func TestUT_CO_01_03_Cancel_UnknownFileReturnsError(t *testing.T) {
	coord, _, _ := newTestCoordinator(t,
		func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) },
		func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) },
	)
	assert.Error(t, coord.Cancel("missing"))
}

func TestUT_CO_01_04_Cleanup_RemovesExpiredState(t *testing.T) {
	coord, _, _ := newTestCoordinator(t,
		func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) },
		func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) },
	)

	state, err := coord.resumeStore.LoadOrCreate("stale-file")
	require.NoError(t, err)
	state.ExpiresAt = time.Now().Add(-time.Hour)
	require.NoError(t, coord.resumeStore.Save(state))

	removed, err := coord.Cleanup()
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
}
