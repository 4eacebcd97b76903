package hls

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testCamera = "0b8f3c1e-8a55-4d0b-9c3c-2a6f1c9d7e11"

func newTestProxy(t *testing.T, upstream http.Handler) (*Proxy, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(upstream)
	t.Cleanup(server.Close)

	p := NewProxy(Config{
		BaseURL:         server.URL,
		Credentials:     Credentials{Username: "ops", Password: "secret"},
		UserAgent:       "test-agent/1.0",
		ManifestTimeout: 2 * time.Second,
		SegmentTimeout:  2 * time.Second,
		MaxManifestSize: 1024,
	})
	return p, server
}

func serve(p *Proxy, method string, req Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r := httptest.NewRequest(method, "/stream-proxy", nil)
	p.Serve(w, r, req)
	return w
}

func TestProxy_ManifestRewritten(t *testing.T) {
	p, _ := newTestProxy(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "ops", user)
		assert.Equal(t, "secret", pass)
		assert.Equal(t, "test-agent/1.0", r.Header.Get("User-Agent"))
		assert.Contains(t, r.Header.Get("Accept"), "application/vnd.apple.mpegurl")
		assert.Equal(t, "/video/"+testCamera+"/index.m3u8", r.URL.Path)

		w.Header().Set("Content-Type", "application/x-mpegurl")
		_, _ = w.Write([]byte("#EXTM3U\n#EXTINF:4,\nseg_1.ts\n#EXTINF:4,\nseg_2.ts\n"))
	}))

	w := serve(p, http.MethodGet, Request{CameraID: testCamera, Origin: "https://app.example.com"})

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, ManifestContentType, w.Header().Get("Content-Type"))
	assert.Equal(t, "no-cache, no-store, must-revalidate", w.Header().Get("Cache-Control"))
	body := w.Body.String()
	assert.Equal(t, 2, strings.Count(body, "https://app.example.com/stream-proxy?camera_id="+testCamera+"&file="))
	assert.NotContains(t, body, "secret")
}

func TestProxy_StoredManifestURLWithPlaceholder(t *testing.T) {
	var gotPath, gotQuery string
	p, server := newTestProxy(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, _, _ := r.BasicAuth()
		assert.Equal(t, "ops", user)
		gotPath, gotQuery = r.URL.Path, r.URL.RawQuery
		w.Header().Set("Content-Type", "video/mp2t")
		_, _ = w.Write([]byte("TSDATA"))
	}))

	stored := strings.Replace(server.URL, "http://", "http://user:pass@", 1) + "/live/abc/index.m3u8?sig=9"
	w := serve(p, http.MethodGet, Request{CameraID: testCamera, ManifestURL: stored, File: "seg_7.ts", Origin: "http://x"})

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "/live/abc/seg_7.ts", gotPath)
	assert.Equal(t, "sig=9", gotQuery)
	assert.Equal(t, "TSDATA", w.Body.String())
	assert.Equal(t, "video/mp2t", w.Header().Get("Content-Type"))
	assert.Equal(t, "public, max-age=10", w.Header().Get("Cache-Control"))
}

func TestProxy_SegmentHeadersPreserved(t *testing.T) {
	p, _ := newTestProxy(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "video/MP2T")
		w.Header().Set("Cache-Control", "max-age=60")
		w.Header().Set("Content-Length", "4")
		_, _ = w.Write([]byte("abcd"))
	}))

	w := serve(p, http.MethodGet, Request{CameraID: testCamera, File: "s.ts"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "video/MP2T", w.Header().Get("Content-Type"))
	assert.Equal(t, "max-age=60", w.Header().Get("Cache-Control"))
	assert.Equal(t, "4", w.Header().Get("Content-Length"))
}

func TestProxy_ErrorMapping(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		file    string
		want    int
	}{
		{
			name: "html body",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "text/html; charset=utf-8")
				_, _ = w.Write([]byte("<html>login</html>"))
			},
			want: http.StatusBadGateway,
		},
		{
			name: "not a playlist",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/vnd.apple.mpegurl")
				_, _ = w.Write([]byte("garbage"))
			},
			want: http.StatusBadGateway,
		},
		{
			name: "manifest too large",
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte("#EXTM3U\n" + strings.Repeat("#c\n", 1000)))
			},
			want: http.StatusBadGateway,
		},
		{
			name:    "upstream 404",
			handler: func(w http.ResponseWriter, r *http.Request) { http.NotFound(w, r) },
			file:    "gone.ts",
			want:    http.StatusNotFound,
		},
		{
			name: "upstream 500",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusInternalServerError)
			},
			file: "s.ts",
			want: http.StatusBadGateway,
		},
		{
			name:    "bad file",
			handler: func(w http.ResponseWriter, r *http.Request) { t.Error("upstream must not be called") },
			file:    "../../etc/passwd",
			want:    http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, _ := newTestProxy(t, tt.handler)
			w := serve(p, http.MethodGet, Request{CameraID: testCamera, File: tt.file, Origin: "http://x"})
			assert.Equal(t, tt.want, w.Code)
			assert.Equal(t, "text/plain; charset=utf-8", w.Header().Get("Content-Type"))
			assert.NotContains(t, w.Body.String(), "127.0.0.1")
		})
	}
}

func TestProxy_MissingCredentials(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { calls.Add(1) }))
	t.Cleanup(server.Close)

	p := NewProxy(Config{BaseURL: server.URL})
	w := serve(p, http.MethodGet, Request{CameraID: testCamera})
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Zero(t, calls.Load())
}

func TestProxy_NetworkFailure(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	base := server.URL
	server.Close()

	p := NewProxy(Config{BaseURL: base, Credentials: Credentials{Username: "u", Password: "p"}})
	w := serve(p, http.MethodGet, Request{CameraID: testCamera})
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "failed to fetch stream", w.Body.String())
}

func TestProxy_ClientCancelStopsFetch(t *testing.T) {
	release := make(chan struct{})
	p, _ := newTestProxy(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	r := httptest.NewRequest(http.MethodGet, "/stream-proxy", nil).WithContext(ctx)
	w := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		p.Serve(w, r, Request{CameraID: testCamera, File: "slow.ts"})
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("proxy did not return after client cancellation")
	}
}

func TestProxy_HeadManifest(t *testing.T) {
	p, _ := newTestProxy(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodHead, r.Method)
		w.Header().Set("Content-Type", "application/vnd.apple.mpegurl")
	}))

	w := serve(p, http.MethodHead, Request{CameraID: testCamera})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, ManifestContentType, w.Header().Get("Content-Type"))
	assert.Zero(t, w.Body.Len())
}
