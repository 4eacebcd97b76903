package hls

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/your-org/streamcore/internal/models"
)

const (
	ManifestContentType = "application/vnd.apple.mpegurl"
	manifestTag         = "#EXTM3U"
)

var ErrInvalidFile = errors.New("invalid file parameter")

// ValidateFile checks the proxy's file parameter: a relative name, optionally
// with subdirectories and a query, never escaping the manifest directory.
func ValidateFile(file string) error {
	name, _, _ := strings.Cut(file, "?")
	switch {
	case name == "":
		return ErrInvalidFile
	case strings.HasPrefix(name, "/"), strings.HasPrefix(name, `\`):
		return ErrInvalidFile
	case strings.Contains(name, "://"), strings.Contains(name, `\`):
		return ErrInvalidFile
	case strings.ContainsAny(file, "\x00\r\n#"):
		return ErrInvalidFile
	}
	if u, err := url.Parse(name); err != nil || u.Scheme != "" || u.Host != "" {
		return ErrInvalidFile
	}
	for _, seg := range strings.Split(name, "/") {
		if seg == ".." || seg == "." || seg == "" {
			return ErrInvalidFile
		}
	}
	return nil
}

// ResolveTarget returns the upstream URL for a proxy request. manifestURL is
// the camera's stored hls_url and may be empty; baseURL is the provider base
// used to build the fallback /video/<camera>/ location.
func ResolveTarget(baseURL, cameraID, manifestURL, file string) (string, error) {
	if file == "" {
		if manifestURL != "" {
			return manifestURL, nil
		}
		return strings.TrimRight(baseURL, "/") + "/video/" + url.PathEscape(cameraID) + "/index.m3u8", nil
	}
	if err := ValidateFile(file); err != nil {
		return "", err
	}
	if manifestURL == "" {
		return strings.TrimRight(baseURL, "/") + "/video/" + url.PathEscape(cameraID) + "/" + file, nil
	}

	// Work on the raw string: stored URLs may carry placeholder userinfo
	// that url.Parse rejects.
	start, _, ok := authority(manifestURL)
	if !ok {
		return "", fmt.Errorf("stored manifest url has no scheme")
	}
	withoutFragment, _, _ := strings.Cut(manifestURL, "#")
	pathPart, manifestQuery, _ := strings.Cut(withoutFragment, "?")

	dir := pathPart + "/"
	if slash := strings.LastIndexByte(pathPart, '/'); slash >= start {
		dir = pathPart[:slash+1]
	}

	name, fileQuery, hasQuery := strings.Cut(file, "?")
	target := dir + name
	switch {
	case hasQuery:
		target += "?" + fileQuery
	case manifestQuery != "":
		target += "?" + manifestQuery
	}
	return target, nil
}

// IsManifest reports whether a response for target with the given
// content-type is an HLS playlist.
func IsManifest(target, contentType string) bool {
	if strings.Contains(strings.ToLower(contentType), "mpegurl") {
		return true
	}
	return hasExt(target, ".m3u8")
}

func hasExt(ref, ext string) bool {
	p, _, _ := strings.Cut(ref, "?")
	p, _, _ = strings.Cut(p, "#")
	return strings.HasSuffix(strings.ToLower(p), ext)
}

// ValidateManifest checks that body is an HLS playlist.
func ValidateManifest(body []byte) error {
	b := bytes.TrimPrefix(body, []byte("\xef\xbb\xbf"))
	b = bytes.TrimLeft(b, " \t\r\n")
	if !bytes.HasPrefix(b, []byte(manifestTag)) {
		return fmt.Errorf("%w: body is not an HLS playlist", models.ErrInvalidUpstreamContent)
	}
	return nil
}

// ProxyPath is the same-origin URL for a file of a camera's stream.
func ProxyPath(origin, cameraID, file string) string {
	v := url.Values{}
	v.Set("camera_id", cameraID)
	v.Set("file", file)
	return strings.TrimRight(origin, "/") + "/stream-proxy?" + v.Encode()
}

// RewriteManifest rewrites every bare relative .ts or .m3u8 line of a
// playlist into a proxy URL under origin. Tags, comments, absolute URLs and
// other references are kept. It returns the playlist and the number of
// rewritten lines.
func RewriteManifest(body []byte, origin, cameraID string) (string, int) {
	var sb strings.Builder
	sb.Grow(len(body) + 256)
	rewritten := 0

	scanner := bufio.NewScanner(bytes.NewReader(body))
	scanner.Buffer(make([]byte, 0, 64*1024), len(body)+1)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		ref := strings.TrimSpace(line)

		if isRelativeMedia(ref) {
			sb.WriteString(ProxyPath(origin, cameraID, ref))
			rewritten++
		} else {
			sb.WriteString(line)
		}
		sb.WriteByte('\n')
	}
	return sb.String(), rewritten
}

func isRelativeMedia(ref string) bool {
	if ref == "" || strings.HasPrefix(ref, "#") || strings.HasPrefix(ref, "/") {
		return false
	}
	if strings.Contains(ref, "://") {
		return false
	}
	return hasExt(ref, ".ts") || hasExt(ref, ".m3u8")
}
