// Package uri canonicalizes document URIs so that equality comparison is
// meaningful. Two spellings of the same web address (mixed-case host,
// explicit default port, tracking query parameters, fragment) normalize to
// the same string. Normalization happens once when a filter is compiled;
// matching later uses plain string equality.
package uri

import (
	"net/url"
	"sort"
	"strings"
)

// defaultPorts maps schemes to the port that is implied when absent.
var defaultPorts = map[string]string{
	"http":  "80",
	"https": "443",
	"ws":    "80",
	"wss":   "443",
}

// trackingPrefixes identifies query parameters that carry analytics state
// rather than document identity.
var trackingPrefixes = []string{"utm_", "wt."}

// Normalize returns the canonical form of raw. Inputs that do not parse as
// URLs are returned unchanged after whitespace trimming, so opaque
// identifiers (urn:, doi:) pass through intact.
func Normalize(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return trimmed
	}

	u, err := url.Parse(trimmed)
	if err != nil || u.Scheme == "" {
		return trimmed
	}

	u.Scheme = strings.ToLower(u.Scheme)
	if _, ok := defaultPorts[u.Scheme]; !ok {
		// Non-web schemes keep everything but casing and fragment.
		u.Fragment = ""
		return u.String()
	}

	u.Host = normalizeHost(u.Scheme, u.Host)
	u.Fragment = ""
	u.RawQuery = normalizeQuery(u.Query())

	if u.Path == "" {
		u.Path = "/"
	} else if len(u.Path) > 1 {
		u.Path = strings.TrimSuffix(u.Path, "/")
	}

	return u.String()
}

// NormalizeAll normalizes every element of values, collapsing duplicates.
// Order of first appearance is preserved.
func NormalizeAll(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		n := Normalize(v)
		if n == "" {
			continue
		}
		if _, dup := seen[n]; dup {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out
}

func normalizeHost(scheme, host string) string {
	host = strings.ToLower(host)
	if h, p, ok := strings.Cut(host, ":"); ok && p == defaultPorts[scheme] {
		return h
	}
	return host
}

// normalizeQuery drops tracking parameters and re-encodes the remainder
// with keys in sorted order so parameter ordering does not affect identity.
func normalizeQuery(q url.Values) string {
	keys := make([]string, 0, len(q))
	for k := range q {
		if isTrackingParam(k) {
			continue
		}
		keys = append(keys, k)
	}
	if len(keys) == 0 {
		return ""
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		for _, v := range q[k] {
			if b.Len() > 0 {
				b.WriteByte('&')
			}
			b.WriteString(url.QueryEscape(k))
			if v != "" {
				b.WriteByte('=')
				b.WriteString(url.QueryEscape(v))
			}
		}
	}
	return b.String()
}

func isTrackingParam(key string) bool {
	lower := strings.ToLower(key)
	for _, prefix := range trackingPrefixes {
		if strings.HasPrefix(lower, prefix) {
			return true
		}
	}
	return false
}
