package transport

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"syncrelay/internal/constants"
)

var ErrEmptySession = errors.New("session id is required")

// BuildURL returns the relay upgrade URL for sessionID:
// <scheme>://<host>:<port><path>?session=<sessionID>. http and https targets
// are mapped to ws and wss, and a bare host gets the default websocket path.
func BuildURL(target, sessionID string) (string, error) {
	if sessionID == "" {
		return "", ErrEmptySession
	}
	target = strings.TrimSpace(target)
	if !strings.Contains(target, "://") {
		target = "ws://" + target
	}

	u, err := url.Parse(target)
	if err != nil {
		return "", fmt.Errorf("parse relay url: %w", err)
	}

	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported relay scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("relay url %q has no host", target)
	}
	if u.Path == "" || u.Path == "/" {
		u.Path = constants.EndpointWebSocket
	}

	q := u.Query()
	q.Set(constants.SessionQueryParam, sessionID)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// HTTPBase returns the http(s) origin of a relay target, for the session API.
func HTTPBase(target string) (string, error) {
	if !strings.Contains(target, "://") {
		target = "http://" + target
	}
	u, err := url.Parse(target)
	if err != nil {
		return "", fmt.Errorf("parse relay url: %w", err)
	}
	switch u.Scheme {
	case "ws":
		u.Scheme = "http"
	case "wss":
		u.Scheme = "https"
	}
	return u.Scheme + "://" + u.Host, nil
}
