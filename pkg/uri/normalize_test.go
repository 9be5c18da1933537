package uri

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"lowercases scheme and host", "HTTPS://Example.COM/Path", "https://example.com/Path"},
		{"strips default http port", "http://example.com:80/a", "http://example.com/a"},
		{"strips default https port", "https://example.com:443/a", "https://example.com/a"},
		{"keeps explicit non-default port", "https://example.com:8443/a", "https://example.com:8443/a"},
		{"drops fragment", "https://example.com/a#section-2", "https://example.com/a"},
		{"trims trailing slash", "https://example.com/a/", "https://example.com/a"},
		{"empty path becomes root", "https://example.com", "https://example.com/"},
		{"root path preserved", "https://example.com/", "https://example.com/"},
		{"drops utm params", "https://example.com/a?utm_source=x&utm_medium=y", "https://example.com/a"},
		{"drops WT params case-insensitively", "https://example.com/a?WT.mc_id=z&q=1", "https://example.com/a?q=1"},
		{"sorts query params", "https://example.com/a?b=2&a=1", "https://example.com/a?a=1&b=2"},
		{"preserves repeated params", "https://example.com/a?x=1&x=2", "https://example.com/a?x=1&x=2"},
		{"trims whitespace", "  https://example.com/a  ", "https://example.com/a"},
		{"opaque urn passes through", "urn:x-pdf:abc123", "urn:x-pdf:abc123"},
		{"doi passes through", "doi:10.1000/182", "doi:10.1000/182"},
		{"schemeless passes through", "example.com/a", "example.com/a"},
		{"empty string", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Normalize(tt.in))
		})
	}
}

func TestNormalizeIdempotent(t *testing.T) {
	inputs := []string{
		"HTTPS://Example.COM:443/Path/?utm_source=x&b=2&a=1#frag",
		"http://example.com",
		"urn:x-pdf:abc123",
	}
	for _, in := range inputs {
		once := Normalize(in)
		assert.Equal(t, once, Normalize(once), "input %q", in)
	}
}

func TestNormalizeAll(t *testing.T) {
	got := NormalizeAll([]string{
		"HTTPS://Example.com/a",
		"https://example.com/a/",
		"https://example.com/b",
		"",
	})
	assert.Equal(t, []string{"https://example.com/a", "https://example.com/b"}, got)
}
