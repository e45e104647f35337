package stream

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gorilla/websocket"

	"fleetconsole/internal/auth"
	"fleetconsole/internal/version"
)

// closeCodeUnauthorized is what the server sends when the token is rejected
// after the upgrade.
const closeCodeUnauthorized = 4401

// Subscription is one live push connection. Messages are read by a single
// goroutine; Close may be called from any goroutine, any number of times.
type Subscription struct {
	conn      *websocket.Conn
	closed    atomic.Bool
	closeOnce sync.Once
}

// Dial opens the push subscription for the server at base, authenticating
// with the session token in the query string. A nil dialer uses
// websocket.DefaultDialer.
func Dial(ctx context.Context, base string, session *auth.Session, dialer *websocket.Dialer) (*Subscription, error) {
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	u, err := PushURL(base)
	if err != nil {
		return nil, err
	}
	session.AuthorizeURL(u)

	header := http.Header{}
	header.Set("User-Agent", version.UserAgent())

	conn, resp, err := dialer.DialContext(ctx, u.String(), header)
	if err != nil {
		var details string
		if resp != nil {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			_ = resp.Body.Close()
			trimmed := strings.TrimSpace(string(body))
			if trimmed != "" {
				details = fmt.Sprintf(" (HTTP %s: %s)", resp.Status, trimmed)
			} else {
				details = fmt.Sprintf(" (HTTP %s)", resp.Status)
			}
			if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
				return nil, errors.Wrapf(auth.ErrUnauthorized, "push subscription rejected%s", details)
			}
		}
		return nil, errors.Wrapf(err, "dial push subscription%s", details)
	}
	return &Subscription{conn: conn}, nil
}

// Next blocks for the next text message. It returns io.EOF when the server
// closes normally, ErrClosed after Close, auth.ErrUnauthorized when the
// server revokes the session, and the transport error otherwise.
func (s *Subscription) Next() ([]byte, error) {
	for {
		kind, payload, err := s.conn.ReadMessage()
		if err != nil {
			return nil, s.classify(err)
		}
		if kind == websocket.TextMessage {
			return payload, nil
		}
	}
}

func (s *Subscription) classify(err error) error {
	if s.closed.Load() {
		return ErrClosed
	}
	if websocket.IsCloseError(err, closeCodeUnauthorized) {
		return errors.Wrap(auth.ErrUnauthorized, "push subscription revoked")
	}
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		return io.EOF
	}
	return errors.Wrap(err, "read push subscription")
}

// Close ends the subscription. Closing twice, or after the server went away,
// is a no-op; errors from tearing down a dead connection are not reported.
func (s *Subscription) Close() error {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		deadline := time.Now().Add(time.Second)
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		_ = s.conn.Close()
	})
	return nil
}

// Terminate maps an error returned by Next onto a Termination.
func Terminate(err error) Termination {
	switch {
	case err == nil:
		return Termination{Reason: ReasonNone}
	case errors.Is(err, ErrClosed):
		return Termination{Reason: ReasonClosed}
	case errors.Is(err, io.EOF):
		return Termination{Reason: ReasonEndOfStream}
	default:
		return Termination{Reason: ReasonFailed, Err: err}
	}
}
