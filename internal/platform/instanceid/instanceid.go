// Package instanceid normalizes base-URL configuration values such as
// CONTROL_PLANE_URL: cosmetic-only normalization (scheme/host casing,
// trailing slash) without altering the value's meaning.
package instanceid

import (
	"fmt"
	"net/url"
	"strings"
)

// NormalizeBaseURL applies cosmetic-only normalization to a base URL: trims
// a single trailing slash and lowercases scheme + host. It does not strip
// default ports or otherwise change the URL's meaning.
func NormalizeBaseURL(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("instanceid: invalid URL: %w", err)
	}

	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("instanceid: URL must be absolute with scheme and host: %q", rawURL)
	}

	scheme := strings.ToLower(u.Scheme)
	host := strings.ToLower(u.Host)
	path := strings.TrimSuffix(u.EscapedPath(), "/")

	return scheme + "://" + host + path, nil
}
