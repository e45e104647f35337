// Package console wires the engine into the two mounted views of the fleet
// console: the fleet dashboard and the single-agent detail.
package console

import (
	"context"
	"net/http"

	"github.com/cockroachdb/errors"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"fleetconsole/internal/api"
	"fleetconsole/internal/auth"
	"fleetconsole/internal/command"
	"fleetconsole/internal/logger"
	"fleetconsole/internal/reconcile"
	"fleetconsole/internal/stream"
)

// ErrLoginRequired is returned when the server rejected the credential. The
// session has been invalidated by the time a caller sees it.
var ErrLoginRequired = errors.New("login required: run fleetctl login")

// Console builds views against one server.
type Console struct {
	client  *api.Client
	session *auth.Session
	dialer  *websocket.Dialer
	streams *http.Client
	log     *logrus.Logger
}

// Option customizes a Console.
type Option func(*Console)

// WithDialer sets the WebSocket dialer used for push subscriptions.
func WithDialer(d *websocket.Dialer) Option {
	return func(c *Console) { c.dialer = d }
}

// WithStreamClient sets the HTTP client used for log streams. It must not
// carry a Timeout.
func WithStreamClient(hc *http.Client) Option {
	return func(c *Console) { c.streams = hc }
}

// WithLogger sets the logger views derive component loggers from.
func WithLogger(log *logrus.Logger) Option {
	return func(c *Console) { c.log = log }
}

// New returns a console using client and its session.
func New(client *api.Client, opts ...Option) *Console {
	c := &Console{
		client:  client,
		session: client.Session(),
		dialer:  websocket.DefaultDialer,
		streams: &http.Client{},
		log:     logger.Discard(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Client is the REST client views use.
func (c *Console) Client() *api.Client {
	return c.client
}

// Subscribe opens the push subscription.
func (c *Console) Subscribe(ctx context.Context) (reconcile.Source, error) {
	sub, err := stream.Dial(ctx, c.client.Base(), c.session, c.dialer)
	if err != nil {
		return nil, err
	}
	return sub, nil
}

// OpenLog opens the log stream of a command.
func (c *Console) OpenLog(ctx context.Context, id command.ID) (command.LogSource, error) {
	ls, err := stream.OpenLog(ctx, c.streams, c.client.Base(), c.session, string(id))
	if err != nil {
		return nil, err
	}
	return ls, nil
}

// Tail follows a command's log outside any view. The caller closes the
// returned tailer's slot via the release func.
func (c *Console) Tail(ctx context.Context, id command.ID) (*command.Tailer, func(), error) {
	slot := command.NewSlot(c.OpenLog, logger.Component(c.log, "tail"))
	tailer, err := slot.Open(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	return tailer, func() { _ = slot.Release() }, nil
}

// checkAuth invalidates the session when err is an authentication
// rejection and returns err marked ErrLoginRequired.
func (c *Console) checkAuth(err error) error {
	if err == nil || !errors.Is(err, auth.ErrUnauthorized) {
		return err
	}
	if ierr := c.session.Invalidate(); ierr != nil {
		c.log.WithError(ierr).Warn("failed to remove stored credential")
	}
	return errors.Mark(err, ErrLoginRequired)
}
