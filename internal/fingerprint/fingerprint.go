// Package fingerprint computes the dedup identity of captured content:
// a canonicalized URL for url sources, a content hash for paste and file
// sources. Two captures with the same (user, source type, fingerprint)
// refer to the same item.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"strings"
)

// trackingParams are query parameters stripped during URL canonicalization
var trackingParams = map[string]bool{
	"gclid":  true,
	"fbclid": true,
	"mc_cid": true,
	"mc_eid": true,
}

// CanonicalURL normalizes a URL for dedup purposes: scheme and host are
// lowercased, default ports and fragments are dropped, tracking query
// parameters (utm_*, gclid, fbclid, ...) are removed, and a trailing
// slash on the path is collapsed.
func CanonicalURL(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("failed to parse url: %w", err)
	}
	// url.Parse already lowercases the scheme
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("unsupported url scheme %q", u.Scheme)
	}

	host := strings.ToLower(u.Hostname())
	if strings.Contains(host, ":") {
		// IPv6 literal: Hostname() strips the brackets
		host = "[" + host + "]"
	}
	port := u.Port()
	if port != "" && !isDefaultPort(u.Scheme, port) {
		u.Host = host + ":" + port
	} else {
		u.Host = host
	}

	u.Fragment = ""
	u.RawFragment = ""

	if u.RawQuery != "" {
		q := u.Query()
		for key := range q {
			lower := strings.ToLower(key)
			if strings.HasPrefix(lower, "utm_") || trackingParams[lower] {
				q.Del(key)
			}
		}
		u.RawQuery = q.Encode()
	}

	if len(u.Path) > 1 {
		u.Path = strings.TrimRight(u.Path, "/")
	}
	if u.Path == "" {
		u.Path = "/"
	}

	return u.String(), nil
}

// ContentHash returns the hex SHA-256 of raw content bytes
func ContentHash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Domain extracts the display hostname of a URL, without a www. prefix.
// Returns empty string if the URL does not parse.
func Domain(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return ""
	}
	return strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
}

func isDefaultPort(scheme, port string) bool {
	return (scheme == "http" && port == "80") || (scheme == "https" && port == "443")
}
