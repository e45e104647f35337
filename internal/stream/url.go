package stream

import (
	"net/url"
	"path"
	"strings"

	"github.com/cockroachdb/errors"
)

// Endpoint joins an escaped API path onto the server base URL. A base
// without a scheme is treated as http.
func Endpoint(base string, apiPath string) (*url.URL, error) {
	base = strings.TrimSpace(base)
	if base == "" {
		return nil, errors.New("server url is empty")
	}
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}
	u, err := url.Parse(base)
	if err != nil {
		return nil, errors.Wrapf(err, "parse server url %q", base)
	}
	if u.Host == "" {
		return nil, errors.Newf("server url %q has no host", base)
	}
	escaped := path.Join("/", u.EscapedPath(), apiPath)
	unescaped, err := url.PathUnescape(escaped)
	if err != nil {
		return nil, errors.Wrapf(err, "api path %q", apiPath)
	}
	u.Path = unescaped
	u.RawPath = escaped
	u.RawQuery = ""
	u.Fragment = ""
	return u, nil
}

// PushURL derives the WebSocket push endpoint from the server base URL:
// http becomes ws, https becomes wss, and the path is /api/ws.
func PushURL(base string) (*url.URL, error) {
	u, err := Endpoint(base, "/api/ws")
	if err != nil {
		return nil, err
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return nil, errors.Newf("unsupported server url scheme %q", u.Scheme)
	}
	return u, nil
}

// LogURL is the SSE endpoint for one command's output.
func LogURL(base string, commandID string) (*url.URL, error) {
	if commandID == "" {
		return nil, errors.New("command id is empty")
	}
	return Endpoint(base, "/api/commands/"+url.PathEscape(commandID)+"/stream")
}
