// Package chunk splits a file descriptor into ordered byte-range chunks and
// derives the per-chunk metadata the rest of the engine operates on.
package chunk

import (
	"strings"

	"github.com/chunkwise/uploadengine/pkg/errors"
)

const (
	// MinAdaptiveSize is the lower clamp for adaptive chunk sizing.
	MinAdaptiveSize = 256 * 1024
	// MaxAdaptiveSize is the upper clamp for adaptive chunk sizing.
	MaxAdaptiveSize = 10 * 1024 * 1024

	minChunkCount = 5
	maxChunkCount = 1000
)

// SizeStrategy selects how ChunkPlanner derives a chunk size when the caller
// does not pin one explicitly.
type SizeStrategy int

const (
	// Fixed uses the caller-provided chunk size verbatim.
	Fixed SizeStrategy = iota
	// Adaptive derives a chunk size from file size and MIME class, then
	// clamps it to [MinAdaptiveSize, MaxAdaptiveSize] and nudges the chunk
	// count into [5, 1000] when feasible.
	Adaptive
)

// File describes the source file being uploaded. It is immutable after
// creation.
type File struct {
	ID           string
	Name         string
	Size         int64
	MIME         string
	LastModified int64
}

// Status is a chunk's position in its upload lifecycle.
type Status int

const (
	Pending Status = iota
	Uploading
	Success
	Failed
	Paused
)

func (s Status) String() string {
	switch s {
	case Pending:
		return "pending"
	case Uploading:
		return "uploading"
	case Success:
		return "success"
	case Failed:
		return "failed"
	case Paused:
		return "paused"
	default:
		return "unknown"
	}
}

// Descriptor is one ordered byte range of a File.
type Descriptor struct {
	Index      int
	Start      int64
	End        int64 // half-open: [Start, End)
	IsLast     bool
	Status     Status
	RetryCount int
}

// Size returns the byte length of the chunk.
func (d Descriptor) Size() int64 { return d.End - d.Start }

// Plan splits file into ordered chunks covering [0, file.Size) using chunkSize
// verbatim (Fixed strategy). chunkSize must be > 0 and file.Size must be > 0.
func Plan(file File, chunkSize int64) ([]Descriptor, error) {
	if file.Size <= 0 {
		return nil, errors.NewInvalidChunkSizeError("file size must be positive")
	}
	if chunkSize <= 0 {
		return nil, errors.NewInvalidChunkSizeError("chunk size must be positive")
	}
	return plan(file.Size, chunkSize), nil
}

// PlanAdaptive splits file into chunks using a chunk size derived from the
// file's size and declared MIME class, clamped to [MinAdaptiveSize,
// MaxAdaptiveSize] and nudged so the resulting chunk count falls in
// [5, 1000] whenever that is achievable within the clamp.
func PlanAdaptive(file File) ([]Descriptor, error) {
	if file.Size <= 0 {
		return nil, errors.NewInvalidChunkSizeError("file size must be positive")
	}
	size := optimalSize(file.Size, file.MIME)
	return plan(file.Size, size), nil
}

func plan(fileSize, chunkSize int64) []Descriptor {
	count := int((fileSize + chunkSize - 1) / chunkSize)
	chunks := make([]Descriptor, 0, count)
	for i := 0; i < count; i++ {
		start := int64(i) * chunkSize
		end := start + chunkSize
		if end > fileSize {
			end = fileSize
		}
		chunks = append(chunks, Descriptor{
			Index:  i,
			Start:  start,
			End:    end,
			IsLast: i == count-1,
			Status: Pending,
		})
	}
	return chunks
}

// mimeTier buckets a MIME type into a relative size tier: larger media
// formats get a larger base chunk size than small document/text formats.
func mimeTier(mime string) int64 {
	switch {
	case strings.HasPrefix(mime, "video/"):
		return MaxAdaptiveSize
	case strings.HasPrefix(mime, "audio/"):
		return 4 * 1024 * 1024
	case strings.HasPrefix(mime, "image/"):
		return 1 * 1024 * 1024
	default:
		return 2 * 1024 * 1024
	}
}

// optimalSize derives an adaptive chunk size from total file size and MIME
// class, using MIME tier rather than concurrency as the sizing input.
func optimalSize(fileSize int64, mime string) int64 {
	size := mimeTier(mime)

	// Nudge toward a chunk count within [minChunkCount, maxChunkCount].
	if count := fileSize / size; count < minChunkCount {
		size = fileSize / minChunkCount
	} else if count > maxChunkCount {
		size = fileSize / maxChunkCount
	}

	if size < MinAdaptiveSize {
		size = MinAdaptiveSize
	}
	if size > MaxAdaptiveSize {
		size = MaxAdaptiveSize
	}
	return size
}
