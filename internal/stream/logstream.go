package stream

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"fleetconsole/internal/auth"
	"fleetconsole/internal/version"
)

// endEventTypes mark an explicit end of a command's log.
var endEventTypes = map[string]bool{
	"end":  true,
	"done": true,
}

// LogStream is the SSE feed of one command's output.
type LogStream struct {
	commandID string
	body      io.ReadCloser
	scanner   *Scanner
	cancel    context.CancelFunc
	closed    atomic.Bool
	closeOnce sync.Once
}

// OpenLog starts streaming the log of commandID. client must not set a
// Timeout: the stream lives until the server ends it or Close is called.
// A nil client uses http.DefaultClient.
func OpenLog(ctx context.Context, client *http.Client, base string, session *auth.Session, commandID string) (*LogStream, error) {
	if client == nil {
		client = http.DefaultClient
	}
	u, err := LogURL(base, commandID)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		cancel()
		return nil, errors.Wrap(err, "create log stream request")
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set("User-Agent", version.UserAgent())
	req.Header.Set("X-Request-Id", uuid.NewString())
	session.Authorize(req)

	resp, err := client.Do(req)
	if err != nil {
		cancel()
		return nil, errors.Wrapf(err, "open log stream for %s", commandID)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		_ = resp.Body.Close()
		cancel()
		details := fmt.Sprintf("HTTP %s: %s", resp.Status, strings.TrimSpace(string(body)))
		if resp.StatusCode == http.StatusUnauthorized {
			return nil, errors.Wrap(auth.ErrUnauthorized, details)
		}
		return nil, errors.Newf("open log stream for %s: %s", commandID, details)
	}

	return &LogStream{
		commandID: commandID,
		body:      resp.Body,
		scanner:   NewScanner(resp.Body),
		cancel:    cancel,
	}, nil
}

// CommandID is the command whose log this is.
func (l *LogStream) CommandID() string {
	return l.commandID
}

// Recv blocks for the next chunk. It returns io.EOF at the end of the log,
// ErrClosed after Close, and the read error otherwise.
func (l *LogStream) Recv() (string, error) {
	for l.scanner.Next() {
		event := l.scanner.Event()
		if endEventTypes[event.Type] {
			return "", io.EOF
		}
		if event.Type != "" && event.Type != "message" {
			continue
		}
		return event.Data, nil
	}
	if l.closed.Load() {
		return "", ErrClosed
	}
	if err := l.scanner.Err(); err != nil {
		return "", errors.Wrap(err, "read log stream")
	}
	return "", io.EOF
}

// Close stops the stream. It is safe to call repeatedly and concurrently
// with Recv, which then returns ErrClosed.
func (l *LogStream) Close() error {
	l.closeOnce.Do(func() {
		l.closed.Store(true)
		l.cancel()
		_ = l.body.Close()
	})
	return nil
}
