// Package endpoint derives the real-time socket URL from the REST API base
// URL the rest of the application is configured with.
package endpoint

import (
	"fmt"
	"net/url"
	"strings"
)

// SocketPath is the fixed path of the real-time endpoint on the backend.
const SocketPath = "/ws"

// FromAPIBase turns a REST base such as https://chat.example.com/api into
// wss://chat.example.com/ws. A path segment starting with /api and
// everything after it is replaced by SocketPath; any other path gets
// SocketPath appended.
func FromAPIBase(apiBase string) (*url.URL, error) {
	address, err := Normalize(apiBase)
	if err != nil {
		return nil, err
	}

	path := strings.TrimRight(address.Path, "/")
	if i := strings.Index(path, "/api"); i >= 0 && (len(path) == i+4 || path[i+4] == '/') {
		path = path[:i]
	}
	address.Path = path + SocketPath
	address.RawPath = ""
	return address, nil
}

// Normalize parses raw and maps http to ws and https to wss. ws and wss
// URLs are returned unchanged.
func Normalize(raw string) (*url.URL, error) {
	address, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, fmt.Errorf("invalid endpoint URL: %w", err)
	}

	switch address.Scheme {
	case "http":
		address.Scheme = "ws"
	case "https":
		address.Scheme = "wss"
	case "ws", "wss":
	default:
		return nil, fmt.Errorf("unsupported scheme: %q", address.Scheme)
	}

	if address.Host == "" {
		return nil, fmt.Errorf("endpoint URL %q has no host", raw)
	}
	return address, nil
}
