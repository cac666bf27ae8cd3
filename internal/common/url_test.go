package common

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeURL_AddsScheme(t *testing.T) {
	normalized, err := NormalizeURL("example.com")
	require.NoError(t, err)
	assert.Equal(t, "https://example.com", normalized)
}

func TestNormalizeURL_TrimsWhitespace(t *testing.T) {
	normalized, err := NormalizeURL("  https://example.com/path  ")
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/path", normalized)
}

func TestNormalizeURL_KeepsHTTP(t *testing.T) {
	normalized, err := NormalizeURL("http://example.com")
	require.NoError(t, err)
	assert.Equal(t, "http://example.com", normalized)
}

func TestNormalizeURL_RejectsEmpty(t *testing.T) {
	_, err := NormalizeURL("   ")
	assert.Error(t, err)
}

func TestNormalizeURL_RejectsBadScheme(t *testing.T) {
	_, err := NormalizeURL("ftp://example.com")
	assert.Error(t, err)
}

func TestNormalizeURL_RejectsNoDot(t *testing.T) {
	_, err := NormalizeURL("https://examplecom")
	assert.Error(t, err)
}

func TestNormalizeURL_AllowsLocalhost(t *testing.T) {
	normalized, err := NormalizeURL("localhost:3000")
	require.NoError(t, err)
	assert.Equal(t, "https://localhost:3000", normalized)
}

func TestNormalizeURL_AllowsIPAddress(t *testing.T) {
	normalized, err := NormalizeURL("http://192.168.1.10:8080/status")
	require.NoError(t, err)
	assert.Equal(t, "http://192.168.1.10:8080/status", normalized)
}

func TestNormalizeURL_RejectsPortOutOfRange(t *testing.T) {
	_, err := NormalizeURL("https://example.com:99999")
	assert.Error(t, err)
}

func TestNormalizeURL_RejectsInvalidDomain(t *testing.T) {
	_, err := NormalizeURL("https://bad_domain.x")
	assert.Error(t, err)
}
