package phone

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResolveTarget(t *testing.T) {
	tests := []struct {
		target, domain, proxy string
		want                  string
	}{
		{"sip:alice@example.com", "other.org", "proxy.net", "sip:alice@example.com"},
		{"sips:alice@example.com", "", "proxy.net", "sips:alice@example.com"},
		{"1000", "example.com", "proxy.net", "sip:1000@example.com"},
		{"1000", "", "proxy.net", "sip:1000@proxy.net"},
		{"sipuser", "example.com", "", "sip:sipuser@example.com"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ResolveTarget(tt.target, tt.domain, tt.proxy), tt.target)
	}
}
