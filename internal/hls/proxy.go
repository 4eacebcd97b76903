package hls

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/your-org/streamcore/internal/models"
	"github.com/your-org/streamcore/internal/observability"
)

const (
	acceptHeader         = "application/vnd.apple.mpegurl, application/x-mpegurl, video/mp2t, application/octet-stream, */*"
	manifestCacheControl = "no-cache, no-store, must-revalidate"
	segmentCacheControl  = "public, max-age=10"
)

type Config struct {
	// BaseURL is the provider base used when a camera has no stored manifest URL.
	BaseURL         string
	Credentials     Credentials
	UserAgent       string
	ManifestTimeout time.Duration
	SegmentTimeout  time.Duration
	MaxManifestSize int64
}

// Request is one proxied fetch for a camera.
type Request struct {
	CameraID    string
	ManifestURL string
	File        string
	// Origin is the scheme://host that rewritten playlist entries point at.
	Origin string
}

// Proxy fetches upstream playlists and segments. It holds no per-camera state.
type Proxy struct {
	cfg    Config
	client *http.Client
}

func NewProxy(cfg Config) *Proxy {
	if cfg.ManifestTimeout <= 0 {
		cfg.ManifestTimeout = 15 * time.Second
	}
	if cfg.SegmentTimeout <= 0 {
		cfg.SegmentTimeout = 60 * time.Second
	}
	if cfg.MaxManifestSize <= 0 {
		cfg.MaxManifestSize = 2 << 20
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.ResponseHeaderTimeout = cfg.ManifestTimeout
	transport.DialContext = (&net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second}).DialContext

	return &Proxy{
		cfg:    cfg,
		client: &http.Client{Transport: transport},
	}
}

// Serve writes the upstream playlist or segment for req to w. Errors are
// written as short plain-text bodies; upstream URLs are never exposed.
func (p *Proxy) Serve(w http.ResponseWriter, r *http.Request, req Request) {
	target, err := ResolveTarget(p.cfg.BaseURL, req.CameraID, req.ManifestURL, req.File)
	if err != nil {
		if errors.Is(err, ErrInvalidFile) {
			p.fail(w, "request", http.StatusBadRequest, "invalid file parameter")
			return
		}
		slog.Warn("resolve upstream target", "camera_id", req.CameraID, "error", err)
		p.fail(w, "request", http.StatusBadGateway, "stream unavailable")
		return
	}

	upstreamURL, err := InjectCredentials(target, p.cfg.Credentials)
	if err != nil {
		if errors.Is(err, models.ErrConfiguration) {
			slog.Error("hls proxy credentials missing", "camera_id", req.CameraID)
			p.fail(w, "request", http.StatusInternalServerError, "stream proxy is not configured")
			return
		}
		slog.Warn("invalid upstream url", "camera_id", req.CameraID, "error", err)
		p.fail(w, "request", http.StatusBadGateway, "stream unavailable")
		return
	}

	manifest := hasExt(target, ".m3u8")
	kind := "segment"
	timeout := p.cfg.SegmentTimeout
	if manifest {
		kind = "manifest"
		timeout = p.cfg.ManifestTimeout
	}

	// derived from the inbound request so a disconnecting player cancels the fetch
	ctx, cancel := context.WithTimeout(r.Context(), timeout)
	defer cancel()

	method := http.MethodGet
	if r.Method == http.MethodHead {
		method = http.MethodHead
	}
	upReq, err := http.NewRequestWithContext(ctx, method, upstreamURL, nil)
	if err != nil {
		slog.Warn("build upstream request", "camera_id", req.CameraID, "host", Host(target))
		p.fail(w, kind, http.StatusBadGateway, "stream unavailable")
		return
	}
	upReq.Header.Set("User-Agent", p.cfg.UserAgent)
	upReq.Header.Set("Accept", acceptHeader)
	if rng := r.Header.Get("Range"); rng != "" && !manifest {
		upReq.Header.Set("Range", rng)
	}

	resp, err := p.client.Do(upReq)
	if err != nil {
		if r.Context().Err() != nil {
			slog.Debug("client went away before upstream responded", "camera_id", req.CameraID)
			observability.ProxyRequests.WithLabelValues(kind, "canceled").Inc()
			return
		}
		slog.Warn("upstream fetch failed", "camera_id", req.CameraID, "host", Host(target), "kind", kind, "error", redact(err))
		p.fail(w, kind, http.StatusInternalServerError, "failed to fetch stream")
		return
	}
	defer resp.Body.Close()

	contentType := resp.Header.Get("Content-Type")
	if strings.Contains(strings.ToLower(contentType), "html") {
		slog.Warn("upstream returned html", "camera_id", req.CameraID, "host", Host(target), "status", resp.StatusCode)
		p.fail(w, kind, http.StatusBadGateway, "invalid upstream content")
		return
	}
	if resp.StatusCode == http.StatusNotFound {
		p.fail(w, kind, http.StatusNotFound, "stream not found")
		return
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		slog.Warn("upstream returned error status", "camera_id", req.CameraID, "host", Host(target), "status", resp.StatusCode)
		p.fail(w, kind, http.StatusBadGateway, "upstream error")
		return
	}

	if manifest || IsManifest(target, contentType) {
		p.serveManifest(w, r, req, resp)
		return
	}
	p.serveSegment(w, r, req, resp)
}

func (p *Proxy) serveManifest(w http.ResponseWriter, r *http.Request, req Request, resp *http.Response) {
	h := w.Header()
	h.Set("Content-Type", ManifestContentType)
	h.Set("Cache-Control", manifestCacheControl)
	h.Set("Pragma", "no-cache")
	h.Set("Expires", "0")

	if r.Method == http.MethodHead {
		w.WriteHeader(http.StatusOK)
		observability.ProxyRequests.WithLabelValues("manifest", "200").Inc()
		return
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, p.cfg.MaxManifestSize+1))
	if err != nil {
		clearHeaders(h)
		if r.Context().Err() != nil {
			return
		}
		slog.Warn("read upstream manifest", "camera_id", req.CameraID, "error", redact(err))
		p.fail(w, "manifest", http.StatusInternalServerError, "failed to fetch stream")
		return
	}
	if int64(len(body)) > p.cfg.MaxManifestSize {
		clearHeaders(h)
		p.fail(w, "manifest", http.StatusBadGateway, "invalid upstream content")
		return
	}
	if err := ValidateManifest(body); err != nil {
		clearHeaders(h)
		slog.Warn("upstream manifest rejected", "camera_id", req.CameraID, "bytes", len(body))
		p.fail(w, "manifest", http.StatusBadGateway, "invalid upstream content")
		return
	}

	playlist, n := RewriteManifest(body, req.Origin, req.CameraID)
	slog.Debug("manifest rewritten", "camera_id", req.CameraID, "entries", n)

	h.Set("Content-Length", strconv.Itoa(len(playlist)))
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, playlist)
	observability.ProxyRequests.WithLabelValues("manifest", "200").Inc()
}

func (p *Proxy) serveSegment(w http.ResponseWriter, r *http.Request, req Request, resp *http.Response) {
	h := w.Header()
	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "video/mp2t"
	}
	h.Set("Content-Type", contentType)
	if v := resp.Header.Get("Cache-Control"); v != "" {
		h.Set("Cache-Control", v)
	} else {
		h.Set("Cache-Control", segmentCacheControl)
	}
	for _, k := range []string{"Content-Length", "Content-Range", "Accept-Ranges", "Last-Modified", "ETag"} {
		if v := resp.Header.Get(k); v != "" {
			h.Set(k, v)
		}
	}

	w.WriteHeader(resp.StatusCode)
	status := strconv.Itoa(resp.StatusCode)
	if r.Method == http.MethodHead {
		observability.ProxyRequests.WithLabelValues("segment", status).Inc()
		return
	}

	n, err := io.Copy(w, resp.Body)
	observability.ProxyBytes.Add(float64(n))
	if err != nil && r.Context().Err() == nil {
		slog.Warn("segment copy interrupted", "camera_id", req.CameraID, "bytes", n, "error", redact(err))
	}
	observability.ProxyRequests.WithLabelValues("segment", status).Inc()
}

func (p *Proxy) fail(w http.ResponseWriter, kind string, status int, msg string) {
	observability.ProxyRequests.WithLabelValues(kind, strconv.Itoa(status)).Inc()
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, msg)
}

func clearHeaders(h http.Header) {
	for _, k := range []string{"Pragma", "Expires", "Content-Length"} {
		h.Del(k)
	}
}

// redact strips the request URL from transport errors, which embed it.
func redact(err error) error {
	var uerr *url.Error
	if errors.As(err, &uerr) {
		return fmt.Errorf("%s: %w", uerr.Op, uerr.Err)
	}
	return err
}
