package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cloud-image-relay/internal/relay"
)

const indexHTML = "<!doctype html><title>relay</title>"

// pngHeader is the 10-byte PNG used by the contract scenario.
var pngHeader = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n', 0x00, 0x00}

type stubBackend struct {
	mu      sync.Mutex
	resp    *relay.VendorResponse
	err     error
	pingErr error
	calls   int
	last    relay.Asset
}

func (b *stubBackend) Name() string { return "stub" }

func (b *stubBackend) Upload(_ context.Context, asset relay.Asset) (*relay.VendorResponse, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls++
	b.last = asset
	return b.resp, b.err
}

func (b *stubBackend) Ping(context.Context) error { return b.pingErr }

func (b *stubBackend) callCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls
}

func okBackend() *stubBackend {
	return &stubBackend{resp: &relay.VendorResponse{
		SecureURL: "https://x/y.png",
		PublicID:  "abc",
		Format:    "png",
		Width:     1,
		Height:    1,
	}}
}

// newTestServer builds a server over backend with a temporary static
// directory holding index.html.
func newTestServer(t *testing.T, backend relay.Backend, opts ...func(*Config)) *Server {
	t.Helper()

	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "index.html"), []byte(indexHTML), 0o644); err != nil {
		t.Fatalf("write index: %v", err)
	}

	cfg := Config{
		Build:  BuildInfo{Version: "test"},
		Relay:  relay.New(backend, relay.Options{UploadPreset: "ml_default"}),
		Static: StaticConfig{Dir: dir, Index: "index.html"},
		CORS:   CORSConfig{AllowedOrigins: []string{"http://localhost:3000"}},
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return New(cfg)
}

// multipartBody returns a body with a single file part.
func multipartBody(t *testing.T, field, filename, contentType string, data []byte) (*bytes.Buffer, string) {
	t.Helper()

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`, field, filename))
	if contentType != "" {
		h.Set("Content-Type", contentType)
	}
	part, err := writer.CreatePart(h)
	if err != nil {
		t.Fatalf("create part: %v", err)
	}
	if _, err := part.Write(data); err != nil {
		t.Fatalf("write part: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}
	return body, writer.FormDataContentType()
}

func postUpload(t *testing.T, s *Server, body *bytes.Buffer, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/upload", body)
	req.Header.Set("Content-Type", contentType)
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)
	return rr
}

func decodeFailure(t *testing.T, rr *httptest.ResponseRecorder) failureResp {
	t.Helper()
	var resp failureResp
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode body %q: %v", rr.Body.String(), err)
	}
	return resp
}

func TestUpload_ContractScenario(t *testing.T) {
	backend := okBackend()
	s := newTestServer(t, backend)

	body, ct := multipartBody(t, "image", "dot.png", "image/png", pngHeader)
	rr := postUpload(t, s, body, ct)

	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))
	assert.JSONEq(t,
		`{"success":true,"url":"https://x/y.png","public_id":"abc","format":"png","width":1,"height":1}`,
		rr.Body.String())

	require.Equal(t, 1, backend.callCount())
	assert.Equal(t, "data:image/png;base64,iVBORw0KGgoAAA==", backend.last.DataURI)
	assert.Equal(t, "ml_default", backend.last.UploadPreset)
	assert.Equal(t, relay.ResourceTypeAuto, backend.last.ResourceType)
}

func TestUpload_MissingImage(t *testing.T) {
	tests := []struct {
		name string
		body func(t *testing.T) (*bytes.Buffer, string)
	}{
		{
			name: "wrong field name",
			body: func(t *testing.T) (*bytes.Buffer, string) {
				return multipartBody(t, "file", "dot.png", "image/png", pngHeader)
			},
		},
		{
			name: "no parts",
			body: func(t *testing.T) (*bytes.Buffer, string) {
				body := &bytes.Buffer{}
				w := multipart.NewWriter(body)
				_ = w.WriteField("caption", "hello")
				_ = w.Close()
				return body, w.FormDataContentType()
			},
		},
		{
			name: "not multipart",
			body: func(t *testing.T) (*bytes.Buffer, string) {
				return bytes.NewBufferString(`{"image":"x"}`), "application/json"
			},
		},
		{
			name: "truncated multipart",
			body: func(t *testing.T) (*bytes.Buffer, string) {
				return bytes.NewBufferString("--xyz\r\nContent-Disposition: form-data"), "multipart/form-data; boundary=xyz"
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backend := okBackend()
			s := newTestServer(t, backend)

			body, ct := tt.body(t)
			rr := postUpload(t, s, body, ct)

			if rr.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d: %s", rr.Code, rr.Body.String())
			}
			resp := decodeFailure(t, rr)
			if resp.Success || resp.Message != relay.MessageNoImage {
				t.Fatalf("unexpected body: %+v", resp)
			}
			if backend.callCount() != 0 {
				t.Fatal("vendor must not be called without an image")
			}
		})
	}
}

// A zero-byte image is rejected with 400 before any vendor call instead of
// being forwarded for the vendor to refuse (DESIGN.md, empty file decision).
func TestUpload_EmptyImage(t *testing.T) {
	backend := okBackend()
	s := newTestServer(t, backend)

	body, ct := multipartBody(t, "image", "empty.png", "image/png", nil)
	rr := postUpload(t, s, body, ct)

	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, failureResp{Success: false, Message: relay.MessageEmptyImage}, decodeFailure(t, rr))
	assert.Zero(t, backend.callCount())
}

func TestUpload_VendorErrors(t *testing.T) {
	tests := []struct {
		name        string
		backend     *stubBackend
		wantMessage string
	}{
		{
			name:        "vendor message passed through",
			backend:     &stubBackend{err: &relay.UpstreamError{Message: "Invalid API key"}},
			wantMessage: "Invalid API key",
		},
		{
			name:        "plain error text passed through",
			backend:     &stubBackend{err: errors.New("Upload preset not found")},
			wantMessage: "Upload preset not found",
		},
		{
			name:        "no message",
			backend:     &stubBackend{err: &relay.UpstreamError{}},
			wantMessage: relay.MessageUploadFailed,
		},
		{
			name:        "payload missing secure_url",
			backend:     &stubBackend{resp: &relay.VendorResponse{PublicID: "abc", Format: "png"}},
			wantMessage: "vendor response missing secure_url",
		},
		{
			name:        "empty payload",
			backend:     &stubBackend{},
			wantMessage: "vendor returned an empty response",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t, tt.backend)

			body, ct := multipartBody(t, "image", "dot.png", "image/png", pngHeader)
			rr := postUpload(t, s, body, ct)

			assert.Equal(t, http.StatusInternalServerError, rr.Code)
			assert.Equal(t, failureResp{Success: false, Message: tt.wantMessage}, decodeFailure(t, rr))

			snap := s.Metrics().Snapshot()
			assert.Equal(t, int64(1), snap.UploadFailuresByKind[FailureUpstream])
			assert.Zero(t, snap.UploadsTotal)
		})
	}
}

type funcUploader struct {
	upload func(context.Context, relay.UploadRequest) (relay.UploadResult, error)
}

func (f funcUploader) Upload(ctx context.Context, req relay.UploadRequest) (relay.UploadResult, error) {
	return f.upload(ctx, req)
}
func (funcUploader) Ping(context.Context) error { return nil }
func (funcUploader) Backend() string            { return "func" }

func TestUpload_UnknownErrorIsGeneric(t *testing.T) {
	s := newTestServer(t, okBackend(), func(c *Config) {
		c.Relay = funcUploader{upload: func(context.Context, relay.UploadRequest) (relay.UploadResult, error) {
			return relay.UploadResult{}, errors.New("dial tcp: connection refused")
		}}
	})

	body, ct := multipartBody(t, "image", "dot.png", "image/png", pngHeader)
	rr := postUpload(t, s, body, ct)

	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Equal(t, relay.MessageUploadFailed, decodeFailure(t, rr).Message)
	assert.Equal(t, int64(1), s.Metrics().Snapshot().UploadFailuresByKind[FailureUnknown])
}

func TestUpload_TooLarge(t *testing.T) {
	backend := okBackend()
	s := newTestServer(t, backend, func(c *Config) { c.MaxUploadBytes = 64 })

	body, ct := multipartBody(t, "image", "big.png", "image/png", bytes.Repeat([]byte{0xff}, 1024))
	rr := postUpload(t, s, body, ct)

	assert.Equal(t, http.StatusRequestEntityTooLarge, rr.Code)
	assert.Equal(t, relay.MessageTooLarge, decodeFailure(t, rr).Message)
	assert.Zero(t, backend.callCount())
}

func TestUpload_TooLargeWithoutContentLength(t *testing.T) {
	backend := okBackend()
	s := newTestServer(t, backend, func(c *Config) { c.MaxUploadBytes = 64 })

	body, ct := multipartBody(t, "image", "big.png", "image/png", bytes.Repeat([]byte{0xff}, 8192))
	req := httptest.NewRequest(http.MethodPost, "/upload", body)
	req.ContentLength = -1
	req.Header.Set("Content-Type", ct)
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)

	assert.Equal(t, http.StatusRequestEntityTooLarge, rr.Code, rr.Body.String())
	assert.Zero(t, backend.callCount())
}

func TestUpload_SniffsMissingMimeType(t *testing.T) {
	backend := okBackend()
	s := newTestServer(t, backend)

	body, ct := multipartBody(t, "image", "dot.png", "application/octet-stream", pngHeader)
	rr := postUpload(t, s, body, ct)

	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "image/png", backend.last.MimeType)
	assert.True(t, strings.HasPrefix(backend.last.DataURI, "data:image/png;base64,"))
}

func TestUpload_CircuitOpen(t *testing.T) {
	backend := &stubBackend{err: &relay.UpstreamError{Message: "timeout"}}
	breaker := relay.NewCircuitBreaker(1, time.Minute, nil)
	s := newTestServer(t, backend, func(c *Config) {
		c.Relay = relay.New(backend, relay.Options{Breaker: breaker})
		c.Breaker = breaker
	})

	for i, want := range []string{"timeout", relay.ErrCircuitOpen.Error()} {
		body, ct := multipartBody(t, "image", "dot.png", "image/png", pngHeader)
		rr := postUpload(t, s, body, ct)
		assert.Equal(t, http.StatusInternalServerError, rr.Code)
		assert.Equal(t, want, decodeFailure(t, rr).Message, "attempt %d", i)
	}
	assert.Equal(t, 1, backend.callCount(), "open circuit must not reach the vendor")
}

func TestUpload_GetFallsThroughToIndex(t *testing.T) {
	s := newTestServer(t, okBackend())

	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/upload", nil))

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, indexHTML, rr.Body.String())
}

func TestUpload_Concurrent(t *testing.T) {
	backend := okBackend()
	s := newTestServer(t, backend)

	const n = 20
	reqs := make([]*http.Request, n)
	for i := range reqs {
		body, ct := multipartBody(t, "image", "dot.png", "image/png", pngHeader)
		reqs[i] = httptest.NewRequest(http.MethodPost, "/upload", body)
		reqs[i].Header.Set("Content-Type", ct)
	}

	var wg sync.WaitGroup
	codes := make(chan int, n)
	for _, req := range reqs {
		wg.Add(1)
		go func(req *http.Request) {
			defer wg.Done()
			rr := httptest.NewRecorder()
			s.Handler().ServeHTTP(rr, req)
			codes <- rr.Code
		}(req)
	}
	wg.Wait()
	close(codes)

	for code := range codes {
		assert.Equal(t, http.StatusOK, code)
	}
	snap := s.Metrics().Snapshot()
	assert.Equal(t, int64(n), snap.UploadsTotal)
	assert.Equal(t, int64(n*len(pngHeader)), snap.UploadBytesTotal)
}

func TestFailureFor(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantMsg    string
		wantKind   string
	}{
		{"missing image", &relay.ValidationError{Message: relay.MessageNoImage, Err: relay.ErrMissingImage}, 400, relay.MessageNoImage, FailureValidation},
		{"validation without message", &relay.ValidationError{}, 400, relay.MessageNoImage, FailureValidation},
		{"too large", &relay.ValidationError{Message: relay.MessageTooLarge}, 413, relay.MessageTooLarge, FailureTooLarge},
		{"wrapped upstream", fmt.Errorf("relay: %w", &relay.UpstreamError{Message: "quota exceeded"}), 500, "quota exceeded", FailureUpstream},
		{"upstream without message", &relay.UpstreamError{Backend: "cloudinary"}, 500, relay.MessageUploadFailed, FailureUpstream},
		{"unknown", errors.New("boom"), 500, relay.MessageUploadFailed, FailureUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, msg, kind := failureFor(tt.err)
			if status != tt.wantStatus || msg != tt.wantMsg || kind != tt.wantKind {
				t.Fatalf("failureFor() = (%d, %q, %q), want (%d, %q, %q)",
					status, msg, kind, tt.wantStatus, tt.wantMsg, tt.wantKind)
			}
		})
	}
}
