package uploader

import (
	"bytes"
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/chunkwise/uploadengine/internal/chunk"
	"github.com/chunkwise/uploadengine/internal/events"
	"github.com/chunkwise/uploadengine/internal/netmon"
	"github.com/chunkwise/uploadengine/internal/perf"
	"github.com/chunkwise/uploadengine/internal/retrycontrol"
	"github.com/chunkwise/uploadengine/internal/task"
	"github.com/chunkwise/uploadengine/internal/transport"
	"github.com/chunkwise/uploadengine/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticSource struct{}

func (staticSource) ReadChunk(start, end int64) ([]byte, error) {
	return bytes.Repeat([]byte("a"), int(end-start)), nil
}

func testMeta(fileID string, totalChunks int) UploadMeta {
	return UploadMeta{FileID: fileID, FileName: "a.bin", TotalChunks: totalChunks, FileFieldName: "file"}
}

func fastRetryConfig() retrycontrol.Config {
	cfg := retrycontrol.DefaultConfig()
	cfg.Backoff.BaseDelay = time.Millisecond
	cfg.Backoff.MaxDelay = 5 * time.Millisecond
	cfg.Backoff.UseExponentialBackoff = false
	return cfg
}

func newDispatchFixture(t *testing.T, uploadFn func(ctx context.Context, req transport.ChunkRequest) (transport.ChunkResponse, error)) (*Dispatcher, *events.Bus) {
	t.Helper()
	bus := events.New()
	mon := netmon.New(func() netmon.State { return netmon.State{Online: true} })
	retryCtrl := retrycontrol.New(fastRetryConfig(), bus, mon)
	chunkUp := New(&fakeAdapter{uploadFn: uploadFn}, perf.New(nil), bus)
	return NewDispatcher(DefaultDispatcherConfig(), chunkUp, retryCtrl, bus), bus
}

func TestUT_DS_01_01_Run_UploadsAllChunksConcurrently(t *testing.T) {
	var hits atomic.Int32
	d, _ := newDispatchFixture(t, func(ctx context.Context, req transport.ChunkRequest) (transport.ChunkResponse, error) {
		hits.Add(1)
		return transport.ChunkResponse{StatusCode: 200}, nil
	})

	file := chunk.File{ID: "f1", Size: 12}
	chunks, err := chunk.Plan(file, 4)
	require.NoError(t, err)
	tk := task.New(file, chunks, task.Config{Concurrency: 3, MaxRetries: 2})
	require.NoError(t, tk.SetStatus(task.StatusUploading))

	err = d.Run(context.Background(), tk, staticSource{}, "http://x", testMeta(file.ID, len(chunks)))
	require.NoError(t, err)
	assert.Equal(t, int32(3), hits.Load())
	assert.True(t, tk.AllUploaded())
}

func TestUT_DS_01_02_Run_SequentialHonorsConfig(t *testing.T) {
	var concurrent atomic.Int32
	var maxConcurrent atomic.Int32
	d, _ := newDispatchFixture(t, func(ctx context.Context, req transport.ChunkRequest) (transport.ChunkResponse, error) {
		n := concurrent.Add(1)
		defer concurrent.Add(-1)
		for {
			m := maxConcurrent.Load()
			if n <= m || maxConcurrent.CompareAndSwap(m, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		return transport.ChunkResponse{StatusCode: 200}, nil
	})

	file := chunk.File{ID: "f2", Size: 12}
	chunks, err := chunk.Plan(file, 4)
	require.NoError(t, err)
	tk := task.New(file, chunks, task.Config{Concurrency: 4, Sequential: true, MaxRetries: 2})
	require.NoError(t, tk.SetStatus(task.StatusUploading))

	err = d.Run(context.Background(), tk, staticSource{}, "http://x", testMeta(file.ID, len(chunks)))
	require.NoError(t, err)
	assert.Equal(t, int32(1), maxConcurrent.Load())
}

func TestUT_DS_01_03_Run_RetriesTransientFailureThenSucceeds(t *testing.T) {
	var attempts atomic.Int32
	d, _ := newDispatchFixture(t, func(ctx context.Context, req transport.ChunkRequest) (transport.ChunkResponse, error) {
		if attempts.Add(1) == 1 {
			return transport.ChunkResponse{}, errors.NewNetworkError("transient failure", nil)
		}
		return transport.ChunkResponse{StatusCode: 200}, nil
	})

	file := chunk.File{ID: "f3", Size: 4}
	chunks, err := chunk.Plan(file, 4)
	require.NoError(t, err)
	tk := task.New(file, chunks, task.Config{Concurrency: 1, MaxRetries: 3})
	require.NoError(t, tk.SetStatus(task.StatusUploading))

	err = d.Run(context.Background(), tk, staticSource{}, "http://x", testMeta(file.ID, len(chunks)))
	require.NoError(t, err)
	assert.True(t, tk.AllUploaded())
	assert.GreaterOrEqual(t, attempts.Load(), int32(2))
}

func TestUT_DS_01_04_Run_AbortsAfterConsecutiveFailureCeiling(t *testing.T) {
	d, _ := newDispatchFixture(t, func(ctx context.Context, req transport.ChunkRequest) (transport.ChunkResponse, error) {
		return transport.ChunkResponse{}, errors.NewNetworkError("permanent failure", nil)
	})

	file := chunk.File{ID: "f4", Size: 4 * 10}
	chunks, err := chunk.Plan(file, 4)
	require.NoError(t, err)
	tk := task.New(file, chunks, task.Config{Concurrency: 1, Sequential: true, MaxRetries: 0})

	require.NoError(t, tk.SetStatus(task.StatusUploading))
	err = d.Run(context.Background(), tk, staticSource{}, "http://x", testMeta(file.ID, len(chunks)))
	require.Error(t, err)
	assert.Equal(t, task.StatusError, tk.Status())
}
