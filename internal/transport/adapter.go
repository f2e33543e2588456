// Package transport provides the engine's outbound HTTP surface: issuing
// the per-chunk and merge multipart requests and classifying whatever comes
// back into the engine's ErrorKind taxonomy.
//
// Wraps github.com/hashicorp/go-retryablehttp's *retryablehttp.Client
// behind a small adapter type. RetryMax is pinned to 0 here deliberately:
// this engine's own internal/retrycontrol.Controller is the sole retry
// authority (it needs to see every failure to drive the smart-decision
// filter and countdown events), so the HTTP client must not retry
// underneath it.
package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/chunkwise/uploadengine/pkg/errors"
	"github.com/chunkwise/uploadengine/pkg/logging"
)

// ChunkRequest describes one chunk upload to perform. Everything except URL,
// Data, and Headers is sent as a multipart field; Data is attached as the
// file part named FileFieldName.
type ChunkRequest struct {
	URL string

	FileID      string
	FileName    string
	FileType    string
	FileSize    int64
	ChunkIndex  int
	ChunkSize   int64
	TotalChunks int
	IsLast      bool

	FormData      map[string]string
	FileFieldName string

	Data    []byte
	Headers map[string]string
}

// MergeRequest describes the finalize request sent once every chunk has
// landed. It carries no bytes payload.
type MergeRequest struct {
	FileID      string
	FileName    string
	FileType    string
	FileSize    int64
	TotalChunks int
	FormData    map[string]string
}

// ChunkResponse is what the server returned for a chunk or merge request.
type ChunkResponse struct {
	StatusCode int
	Body       []byte
}

// Adapter performs chunk/merge HTTP requests. Implementations may wrap a
// real HTTP client (see NewHTTPAdapter) or a test double.
type Adapter interface {
	UploadChunk(ctx context.Context, req ChunkRequest) (ChunkResponse, error)
	Merge(ctx context.Context, mergeURL string, req MergeRequest) (ChunkResponse, error)
}

// HTTPAdapter is the production Adapter, backed by a retryablehttp.Client
// with retries disabled (RetryMax: 0) — see package doc.
type HTTPAdapter struct {
	client *retryablehttp.Client
}

// NewHTTPAdapter builds an HTTPAdapter. timeout bounds each individual
// request (not the whole upload).
func NewHTTPAdapter(timeout time.Duration) *HTTPAdapter {
	client := retryablehttp.NewClient()
	client.RetryMax = 0
	client.Logger = nil
	client.HTTPClient.Timeout = timeout
	return &HTTPAdapter{client: client}
}

// UploadChunk POSTs a multipart body carrying req's metadata fields plus
// the chunk bytes under FileFieldName (default "file"), filename
// "<fileName>.part<chunkIndex>".
func (a *HTTPAdapter) UploadChunk(ctx context.Context, req ChunkRequest) (ChunkResponse, error) {
	body, contentType, err := buildChunkMultipart(req)
	if err != nil {
		return ChunkResponse{}, errors.NewFileError("building chunk request failed", err)
	}

	httpReq, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, req.URL, bytes.NewReader(body.Bytes()))
	if err != nil {
		return ChunkResponse{}, errors.NewFileError("building chunk request failed", err)
	}
	httpReq.Header.Set("Content-Type", contentType)
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	return a.do(httpReq)
}

// Merge POSTs a multipart body (no bytes part) carrying req's metadata
// fields to mergeURL.
func (a *HTTPAdapter) Merge(ctx context.Context, mergeURL string, req MergeRequest) (ChunkResponse, error) {
	body, contentType, err := buildMergeMultipart(req)
	if err != nil {
		return ChunkResponse{}, errors.NewFileError("building merge request failed", err)
	}

	httpReq, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, mergeURL, bytes.NewReader(body.Bytes()))
	if err != nil {
		return ChunkResponse{}, errors.NewFileError("building merge request failed", err)
	}
	httpReq.Header.Set("Content-Type", contentType)
	return a.do(httpReq)
}

// buildChunkMultipart writes req's fields and chunk bytes into a multipart
// body, returning the body and its Content-Type (including boundary).
func buildChunkMultipart(req ChunkRequest) (*bytes.Buffer, string, error) {
	buf := &bytes.Buffer{}
	w := multipart.NewWriter(buf)

	fields := map[string]string{
		"fileId":      req.FileID,
		"fileName":    req.FileName,
		"fileType":    req.FileType,
		"fileSize":    strconv.FormatInt(req.FileSize, 10),
		"chunkIndex":  strconv.Itoa(req.ChunkIndex),
		"chunkSize":   strconv.FormatInt(req.ChunkSize, 10),
		"totalChunks": strconv.Itoa(req.TotalChunks),
		"isLast":      strconv.FormatBool(req.IsLast),
	}
	if err := writeMultipartFields(w, fields, req.FormData); err != nil {
		return nil, "", err
	}

	fieldName := req.FileFieldName
	if fieldName == "" {
		fieldName = "file"
	}
	part, err := w.CreateFormFile(fieldName, fmt.Sprintf("%s.part%d", req.FileName, req.ChunkIndex))
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(req.Data); err != nil {
		return nil, "", err
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return buf, w.FormDataContentType(), nil
}

// buildMergeMultipart writes req's fields into a multipart body with no
// file part.
func buildMergeMultipart(req MergeRequest) (*bytes.Buffer, string, error) {
	buf := &bytes.Buffer{}
	w := multipart.NewWriter(buf)

	fields := map[string]string{
		"fileId":      req.FileID,
		"fileName":    req.FileName,
		"fileType":    req.FileType,
		"fileSize":    strconv.FormatInt(req.FileSize, 10),
		"totalChunks": strconv.Itoa(req.TotalChunks),
	}
	if err := writeMultipartFields(w, fields, req.FormData); err != nil {
		return nil, "", err
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return buf, w.FormDataContentType(), nil
}

func writeMultipartFields(w *multipart.Writer, fields, formData map[string]string) error {
	for name, value := range fields {
		if err := w.WriteField(name, value); err != nil {
			return err
		}
	}
	for name, value := range formData {
		if err := w.WriteField(name, value); err != nil {
			return err
		}
	}
	return nil
}

func (a *HTTPAdapter) do(req *retryablehttp.Request) (ChunkResponse, error) {
	resp, err := a.client.Do(req)
	if err != nil {
		logging.Debug().Str(logging.FieldURL, req.URL.String()).Err(err).Msg("chunk request failed")
		return ChunkResponse{}, classifyTransportError(req.Context(), err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return ChunkResponse{}, errors.NewNetworkError("reading response body failed", err)
	}

	return ChunkResponse{StatusCode: resp.StatusCode, Body: payload}, classifyStatus(resp.StatusCode, payload)
}

// classifyTransportError maps a transport-level failure (the request never
// got a response at all) into the engine's taxonomy.
func classifyTransportError(ctx context.Context, err error) error {
	if ctx.Err() == context.Canceled {
		return errors.NewCanceledError("request canceled")
	}
	if ctx.Err() == context.DeadlineExceeded || err == context.DeadlineExceeded {
		return errors.NewTimeoutError("request timed out", err)
	}
	return errors.NewNetworkError("request failed", err)
}

// classifyStatus maps an HTTP status code to the engine's ErrorKind
// taxonomy, returning nil for 2xx.
func classifyStatus(status int, body []byte) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusTooManyRequests || status == http.StatusServiceUnavailable:
		return errors.NewServerOverloadError(fmt.Sprintf("server overloaded (%d)", status), nil)
	case status == http.StatusRequestTimeout:
		return errors.NewTimeoutError("server reported request timeout", nil)
	case status == http.StatusUnauthorized:
		return errors.NewAuthenticationFailedError("authentication failed", nil)
	case status == http.StatusForbidden:
		return errors.NewAuthorizationFailedError("authorization failed", nil)
	case status == http.StatusInsufficientStorage:
		return errors.NewQuotaExceededError("storage quota exceeded", nil)
	case status >= 500:
		return errors.NewServerError(fmt.Sprintf("server error (%d): %s", status, string(body)), nil)
	case status >= 400:
		return errors.NewChunkUploadError(fmt.Sprintf("chunk rejected (%d): %s", status, string(body)), nil)
	default:
		return nil
	}
}
