// Package uploader implements ChunkUploader: the per-chunk upload operation
// and the concurrent/sequential dispatch loop that drives a Task's chunks
// to completion, including hung-request detection.
//
// Each chunk is sent as a multipart POST carrying the file's metadata
// fields alongside the chunk bytes (see internal/transport). The
// semaphore-bounded parallel-upload shape and the hung-request detector (a
// ticker comparing elapsed time against the running average, canceling the
// chunk's context once it drifts too far past it) follow the same pattern
// used elsewhere in this codebase for bounded concurrent work.
package uploader

import (
	"context"
	"io"
	"time"

	"github.com/chunkwise/uploadengine/internal/chunk"
	"github.com/chunkwise/uploadengine/internal/events"
	"github.com/chunkwise/uploadengine/internal/perf"
	"github.com/chunkwise/uploadengine/internal/transport"
	"github.com/chunkwise/uploadengine/pkg/errors"
	"github.com/chunkwise/uploadengine/pkg/logging"
)

// Source provides chunk bytes on demand, given a byte range. Implementations
// typically wrap an *os.File with a ReaderAt, or a BufferPool-backed reader.
type Source interface {
	ReadChunk(start, end int64) ([]byte, error)
}

// fileSource reads chunk bytes from an io.ReaderAt (e.g. *os.File).
type fileSource struct {
	r io.ReaderAt
}

// NewFileSource wraps r as a Source.
func NewFileSource(r io.ReaderAt) Source {
	return &fileSource{r: r}
}

func (f *fileSource) ReadChunk(start, end int64) ([]byte, error) {
	buf := make([]byte, end-start)
	if _, err := f.r.ReadAt(buf, start); err != nil && err != io.EOF {
		return nil, errors.NewFileError("reading chunk from source failed", err)
	}
	return buf, nil
}

// ChunkUploader uploads individual chunks through a transport.Adapter,
// recording timing via perf.Tracker and publishing lifecycle events.
type ChunkUploader struct {
	adapter transport.Adapter
	perf    *perf.Tracker
	bus     *events.Bus
}

// New creates a ChunkUploader.
func New(adapter transport.Adapter, perfTracker *perf.Tracker, bus *events.Bus) *ChunkUploader {
	return &ChunkUploader{adapter: adapter, perf: perfTracker, bus: bus}
}

// UploadMeta is the file-level metadata sent with every chunk belonging to
// one upload — everything UploadOne needs besides the chunk's own
// Descriptor and bytes.
type UploadMeta struct {
	FileID      string
	FileName    string
	FileType    string
	FileSize    int64
	TotalChunks int
	// IndexBase is added to a chunk's 0-based Descriptor.Index before it is
	// sent on the wire (servers that expect 1-based chunk numbers set this
	// to 1).
	IndexBase int
	// FileFieldName names the multipart part carrying the chunk bytes;
	// empty falls back to "file".
	FileFieldName string
	// FormData is attached verbatim to every chunk and merge request.
	FormData map[string]string
}

// UploadOne uploads a single chunk's bytes to uploadURL and returns the raw
// response body on success.
func (u *ChunkUploader) UploadOne(ctx context.Context, meta UploadMeta, desc chunk.Descriptor, data []byte, uploadURL string) ([]byte, error) {
	u.bus.Publish(events.Event{Name: events.ChunkUploadStart, FileID: meta.FileID, Fields: map[string]interface{}{
		"chunkIndex": desc.Index,
	}})

	handle := u.perf.StartTiming("chunk_upload", "upload", meta.FileID)
	resp, err := u.adapter.UploadChunk(ctx, transport.ChunkRequest{
		URL:           uploadURL,
		FileID:        meta.FileID,
		FileName:      meta.FileName,
		FileType:      meta.FileType,
		FileSize:      meta.FileSize,
		ChunkIndex:    desc.Index + meta.IndexBase,
		ChunkSize:     desc.Size(),
		TotalChunks:   meta.TotalChunks,
		IsLast:        desc.IsLast,
		FormData:      meta.FormData,
		FileFieldName: meta.FileFieldName,
		Data:          data,
	})
	d := handle.End()

	logging.Debug().
		Str(logging.FieldFileID, meta.FileID).
		Int(logging.FieldChunkIndex, desc.Index).
		Dur(logging.FieldDuration, d).
		Msg("chunk upload attempt finished")

	if err != nil {
		u.bus.Publish(events.Event{Name: events.ChunkError, FileID: meta.FileID, Fields: map[string]interface{}{
			"chunkIndex": desc.Index,
			"error":      err.Error(),
		}})
		return nil, err
	}

	u.bus.Publish(events.Event{Name: events.ChunkUploaded, FileID: meta.FileID, Fields: map[string]interface{}{
		"chunkIndex": desc.Index,
		"durationMs": d.Milliseconds(),
	}})
	return resp.Body, nil
}

// HungDetector cancels an in-flight chunk request once its elapsed time
// drifts too far past the running average for that category.
type HungDetector struct {
	perf      *perf.Tracker
	category  string
	threshold time.Duration
}

// NewHungDetector creates a detector that compares elapsed time against the
// "chunk_upload"/"upload" average once at least one sample has completed.
func NewHungDetector(perfTracker *perf.Tracker, threshold time.Duration) *HungDetector {
	return &HungDetector{perf: perfTracker, category: "chunk_upload", threshold: threshold}
}

// Watch polls every second until ctx is done, calling cancel if the chunk
// upload started at start has run threshold longer than the running
// average. Intended to run as a goroutine alongside the chunk request.
func (h *HungDetector) Watch(ctx context.Context, cancel context.CancelFunc, start time.Time) {
	if h.threshold <= 0 {
		return
	}
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := h.perf.GetStats(h.category, "upload")
			if stats.Count == 0 {
				continue
			}
			elapsed := time.Since(start)
			if elapsed-stats.Avg > h.threshold {
				logging.Warn().
					Dur(logging.FieldDuration, elapsed).
					Msg("chunk upload appears hung, canceling")
				cancel()
				return
			}
		}
	}
}
