// Package merge implements MergeController: the final request that tells
// the server to assemble previously uploaded chunks into the finished file.
//
// Emits a merge-start event once every chunk has landed, then issues a
// generic merge-endpoint POST and emits merge-complete/merge-error,
// mirroring the finalize step of chunked upload protocols that issue a
// single assembling request (e.g. WebDAV's MOVE) once the last chunk lands.
package merge

import (
	"context"
	"encoding/json"

	"github.com/chunkwise/uploadengine/internal/events"
	"github.com/chunkwise/uploadengine/internal/transport"
	"github.com/chunkwise/uploadengine/pkg/errors"
	"github.com/chunkwise/uploadengine/pkg/retry"
)

// Request is the payload MergeController sends to the merge endpoint.
type Request struct {
	FileID      string
	FileName    string
	FileType    string
	FileSize    int64
	TotalChunks int

	// FormData is attached verbatim alongside the scalar fields above.
	FormData map[string]string
}

// Result is what the merge endpoint returned, once its response-field
// resolution has picked the authoritative location out of whichever field
// the server used.
type Result struct {
	Location string
	Raw      map[string]interface{}
}

// responseFieldOrder is the search order used to resolve the finished
// file's location out of an arbitrary merge response shape.
var responseFieldOrder = []string{"url", "fileUrl", "downloadUrl", "path", "location"}

// Controller issues the merge request and resolves the response.
type Controller struct {
	adapter  transport.Adapter
	bus      *events.Bus
	retryCfg retry.Config
}

// New creates a Controller. The merge request is retried on transient
// failure with pkg/retry's generic exponential backoff rather than going
// through the chunk-oriented retrycontrol.Controller: there is exactly one
// merge request per file, so it needs neither per-chunk bookkeeping nor the
// smart-decision filter, just a bounded number of attempts.
func New(adapter transport.Adapter, bus *events.Bus) *Controller {
	return &Controller{adapter: adapter, bus: bus, retryCfg: retry.DefaultConfig()}
}

// Merge POSTs req to mergeURL and resolves the finished file's location
// from the response body using responseFieldOrder.
func (c *Controller) Merge(ctx context.Context, mergeURL string, req Request) (Result, error) {
	c.bus.Publish(events.Event{Name: events.ChunkMergeStart, FileID: req.FileID, Fields: map[string]interface{}{
		"chunkCount": req.TotalChunks,
	}})

	transportReq := transport.MergeRequest{
		FileID:      req.FileID,
		FileName:    req.FileName,
		FileType:    req.FileType,
		FileSize:    req.FileSize,
		TotalChunks: req.TotalChunks,
		FormData:    req.FormData,
	}

	resp, err := retry.DoWithResult(ctx, func() (transport.ChunkResponse, error) {
		return c.adapter.Merge(ctx, mergeURL, transportReq)
	}, c.retryCfg)
	if err != nil {
		c.bus.Publish(events.Event{Name: events.ChunkMergeError, FileID: req.FileID, Fields: map[string]interface{}{
			"error": err.Error(),
		}})
		return Result{}, err
	}

	var raw map[string]interface{}
	if len(resp.Body) > 0 {
		if jsonErr := json.Unmarshal(resp.Body, &raw); jsonErr != nil {
			err := errors.NewChunkUploadError("merge response was not valid JSON", jsonErr)
			c.bus.Publish(events.Event{Name: events.ChunkMergeError, FileID: req.FileID, Fields: map[string]interface{}{
				"error": err.Error(),
			}})
			return Result{}, err
		}
	}

	result := Result{Location: resolveLocation(raw), Raw: raw}
	c.bus.Publish(events.Event{Name: events.ChunkMergeComplete, FileID: req.FileID, Fields: map[string]interface{}{
		"location": result.Location,
	}})
	return result, nil
}

// resolveLocation walks responseFieldOrder and returns the first field
// present with a non-empty string value. Falls back to response.data.url
// before giving up, for servers that nest the location under a "data"
// envelope.
func resolveLocation(raw map[string]interface{}) string {
	for _, field := range responseFieldOrder {
		if v, ok := raw[field]; ok {
			if s, ok := v.(string); ok && s != "" {
				return s
			}
		}
	}
	if data, ok := raw["data"].(map[string]interface{}); ok {
		if s, ok := data["url"].(string); ok && s != "" {
			return s
		}
	}
	return ""
}
