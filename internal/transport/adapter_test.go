package transport

import (
	"context"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/chunkwise/uploadengine/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parseMultipart(t *testing.T, r *http.Request) *multipart.Form {
	t.Helper()
	_, params, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	require.NoError(t, err)
	mr := multipart.NewReader(r.Body, params["boundary"])
	form, err := mr.ReadForm(10 << 20)
	require.NoError(t, err)
	return form
}

func TestUT_TR_01_01_UploadChunk_SendsMultipartFieldsAndFilePart(t *testing.T) {
	var form *multipart.Form
	var gotMethod string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		form = parseMultipart(t, r)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	adapter := NewHTTPAdapter(5 * time.Second)
	resp, err := adapter.UploadChunk(context.Background(), ChunkRequest{
		URL:         srv.URL,
		FileID:      "f1",
		FileName:    "a.bin",
		FileType:    "application/octet-stream",
		FileSize:    100,
		ChunkIndex:  2,
		ChunkSize:   5,
		TotalChunks: 20,
		IsLast:      false,
		FormData:    map[string]string{"userId": "u1"},
		Data:        []byte("hello"),
	})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, http.MethodPost, gotMethod)

	assert.Equal(t, "f1", form.Value["fileId"][0])
	assert.Equal(t, "a.bin", form.Value["fileName"][0])
	assert.Equal(t, "application/octet-stream", form.Value["fileType"][0])
	assert.Equal(t, "100", form.Value["fileSize"][0])
	assert.Equal(t, "2", form.Value["chunkIndex"][0])
	assert.Equal(t, "5", form.Value["chunkSize"][0])
	assert.Equal(t, "20", form.Value["totalChunks"][0])
	assert.Equal(t, "false", form.Value["isLast"][0])
	assert.Equal(t, "u1", form.Value["userId"][0])

	require.Len(t, form.File["file"], 1)
	fh := form.File["file"][0]
	assert.Equal(t, "a.bin.part2", fh.Filename)
	f, err := fh.Open()
	require.NoError(t, err)
	defer f.Close()
	data, err := io.ReadAll(f)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))
}

func TestUT_TR_01_02_UploadChunk_HonorsCustomFileFieldName(t *testing.T) {
	var form *multipart.Form
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		form = parseMultipart(t, r)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	adapter := NewHTTPAdapter(5 * time.Second)
	_, err := adapter.UploadChunk(context.Background(), ChunkRequest{
		URL: srv.URL, FileName: "a.bin", FileFieldName: "blob", Data: []byte("x"),
	})
	require.NoError(t, err)
	require.Len(t, form.File["blob"], 1)
}

func TestUT_TR_01_03_UploadChunk_429ClassifiesAsServerOverload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	adapter := NewHTTPAdapter(5 * time.Second)
	_, err := adapter.UploadChunk(context.Background(), ChunkRequest{URL: srv.URL, Data: []byte("x")})
	assert.True(t, errors.IsServerOverloadError(err))
}

func TestUT_TR_01_04_UploadChunk_500ClassifiesAsServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	adapter := NewHTTPAdapter(5 * time.Second)
	_, err := adapter.UploadChunk(context.Background(), ChunkRequest{URL: srv.URL, Data: []byte("x")})
	assert.True(t, errors.IsServerError(err))
}

func TestUT_TR_01_05_UploadChunk_401ClassifiesAsAuthenticationFailed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	adapter := NewHTTPAdapter(5 * time.Second)
	_, err := adapter.UploadChunk(context.Background(), ChunkRequest{URL: srv.URL, Data: []byte("x")})
	assert.True(t, errors.IsAuthenticationFailedError(err))
}

func TestUT_TR_01_06_UploadChunk_2xxReturnsNoError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	adapter := NewHTTPAdapter(5 * time.Second)
	_, err := adapter.UploadChunk(context.Background(), ChunkRequest{URL: srv.URL, Data: []byte("x")})
	assert.NoError(t, err)
}

func TestUT_TR_01_07_UploadChunk_CanceledContextClassifiesAsCanceled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(50 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	adapter := NewHTTPAdapter(5 * time.Second)
	_, err := adapter.UploadChunk(ctx, ChunkRequest{URL: srv.URL, Data: []byte("x")})
	assert.True(t, errors.IsCanceledError(err))
}

func TestUT_TR_01_08_Merge_PostsMultipartFieldsWithNoFilePart(t *testing.T) {
	var gotMethod string
	var form *multipart.Form
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		form = parseMultipart(t, r)
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"url":"https://example.com/file"}`))
	}))
	defer srv.Close()

	adapter := NewHTTPAdapter(5 * time.Second)
	resp, err := adapter.Merge(context.Background(), srv.URL, MergeRequest{
		FileID: "f1", FileName: "a.bin", FileType: "application/octet-stream", FileSize: 100, TotalChunks: 20,
		FormData: map[string]string{"userId": "u1"},
	})
	require.NoError(t, err)
	assert.Equal(t, http.MethodPost, gotMethod)
	assert.Contains(t, string(resp.Body), "example.com")
	assert.Equal(t, "f1", form.Value["fileId"][0])
	assert.Equal(t, "20", form.Value["totalChunks"][0])
	assert.Equal(t, "u1", form.Value["userId"][0])
	assert.Empty(t, form.File)
}
