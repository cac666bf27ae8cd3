package common

import (
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
)

var (
	ipPattern     = regexp.MustCompile(`^\d+\.\d+\.\d+\.\d+$`)
	domainPattern = regexp.MustCompile(`^[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)
)

// NormalizeURL validates and normalizes an audit target URL. A missing scheme
// defaults to https. Returns the normalized URL or an error describing why the
// input was rejected.
func NormalizeURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("url is required and must be a non-empty string")
	}

	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}

	parsed, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid url format: %w", err)
	}

	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return "", fmt.Errorf("url must use http or https protocol")
	}

	host := parsed.Host
	if host == "" {
		return "", fmt.Errorf("url must include a valid domain")
	}
	if strings.ContainsAny(host, " \t") {
		return "", fmt.Errorf("url domain appears to be invalid")
	}

	if portStr := parsed.Port(); portStr != "" {
		port, err := strconv.Atoi(portStr)
		if err != nil {
			return "", fmt.Errorf("invalid port: %s", portStr)
		}
		if port < 1 || port > 65535 {
			return "", fmt.Errorf("port %d is out of valid range (1-65535)", port)
		}
	}

	hostname := parsed.Hostname()
	switch hostname {
	case "localhost", "127.0.0.1", "0.0.0.0":
		// allowed for local targets
	default:
		if !strings.Contains(hostname, ".") {
			return "", fmt.Errorf("url domain appears to be invalid")
		}
		if !ipPattern.MatchString(hostname) && !domainPattern.MatchString(hostname) {
			return "", fmt.Errorf("url domain format appears invalid")
		}
	}

	return raw, nil
}
