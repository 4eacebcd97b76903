// Package hls resolves, authenticates and rewrites upstream HLS URLs and
// playlists so browsers can play a camera through the same-origin proxy.
package hls

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/your-org/streamcore/internal/models"
)

// Credentials are the operator credentials injected into upstream URLs.
type Credentials struct {
	Username string
	Password string
}

func (c Credentials) Empty() bool {
	return c.Username == "" || c.Password == ""
}

var (
	fixedPlaceholders = map[string]bool{
		"user:pass":         true,
		"username:password": true,
	}

	// {label}:{label} or <label>:<label>
	templatedPlaceholder = regexp.MustCompile(`^(\{[^{}:@/]*\}|<[^<>:@/]*>):(\{[^{}:@/]*\}|<[^<>:@/]*>)$`)
)

// authority locates the authority component of raw. ok is false when raw
// has no scheme://.
func authority(raw string) (start, end int, ok bool) {
	i := strings.Index(raw, "://")
	if i <= 0 {
		return 0, 0, false
	}
	start = i + 3
	end = len(raw)
	if j := strings.IndexAny(raw[start:], "/?#"); j >= 0 {
		end = start + j
	}
	return start, end, true
}

// IsPlaceholderUserinfo reports whether userinfo is one of the placeholder
// credential pairs that stand in for the real operator credentials.
func IsPlaceholderUserinfo(userinfo string) bool {
	if fixedPlaceholders[strings.ToLower(userinfo)] {
		return true
	}
	return templatedPlaceholder.MatchString(userinfo)
}

// InjectCredentials returns raw with placeholder credentials replaced by
// creds, or with creds inserted when the URL has none. URLs that already
// carry real credentials are returned unchanged. Only the userinfo part is
// touched. ErrConfiguration is returned when injection is needed but creds
// are empty.
func InjectCredentials(raw string, creds Credentials) (string, error) {
	start, end, ok := authority(raw)
	if !ok {
		return "", fmt.Errorf("url has no scheme or authority")
	}
	host := raw[start:end]

	if at := strings.LastIndexByte(host, '@'); at >= 0 {
		if !IsPlaceholderUserinfo(host[:at]) {
			return raw, nil
		}
		host = host[at+1:]
	}
	if host == "" {
		return "", fmt.Errorf("url has an empty host")
	}
	if creds.Empty() {
		return "", fmt.Errorf("%w: proxy credentials are not set", models.ErrConfiguration)
	}

	userinfo := url.UserPassword(creds.Username, creds.Password).String()
	return raw[:start] + userinfo + "@" + host + raw[end:], nil
}

// Host returns the host[:port] of raw without any userinfo, for logging.
func Host(raw string) string {
	start, end, ok := authority(raw)
	if !ok {
		return ""
	}
	host := raw[start:end]
	if at := strings.LastIndexByte(host, '@'); at >= 0 {
		host = host[at+1:]
	}
	return host
}
