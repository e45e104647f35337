// Package api is the REST client for the FleetUpdate server.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"fleetconsole/internal/auth"
	"fleetconsole/internal/fleet"
	"fleetconsole/internal/stream"
	"fleetconsole/internal/version"
)

// ErrNotFound is returned for 404 answers.
var ErrNotFound = errors.New("not found")

// StatusError is a non-2xx answer other than 401 and 404.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("server returned %d %s", e.Code, http.StatusText(e.Code))
	}
	return fmt.Sprintf("server returned %d %s: %s", e.Code, http.StatusText(e.Code), e.Body)
}

// Client talks to one server. Requests are attempted once.
type Client struct {
	base    string
	session *auth.Session
	http    *http.Client
	timeout time.Duration
	log     *logrus.Entry
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithTimeout bounds each request. Zero disables the bound.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithLogger sets the logger requests are traced to.
func WithLogger(log *logrus.Entry) Option {
	return func(c *Client) { c.log = log }
}

// NewClient returns a client for the server at base, authenticating with
// session.
func NewClient(base string, session *auth.Session, opts ...Option) *Client {
	c := &Client{
		base:    base,
		session: session,
		http:    &http.Client{},
		timeout: 30 * time.Second,
		log:     logrus.NewEntry(logrus.StandardLogger()),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Base is the server base URL.
func (c *Client) Base() string {
	return c.base
}

// Session is the credential the client authenticates with.
func (c *Client) Session() *auth.Session {
	return c.session
}

// Login exchanges a username and password for a token. It does not touch the
// session; callers decide whether to save the token.
func (c *Client) Login(ctx context.Context, username, password string) (string, error) {
	var out LoginResponse
	body := LoginRequest{Username: username, Password: password}
	if err := c.do(ctx, http.MethodPost, "/api/auth/login", body, &out); err != nil {
		return "", errors.Wrap(err, "login")
	}
	if out.Token == "" {
		return "", errors.New("login: server returned an empty token")
	}
	return out.Token, nil
}

// Health reports server liveness. It needs no credential.
func (c *Client) Health(ctx context.Context) (Health, error) {
	var out Health
	if err := c.do(ctx, http.MethodGet, "/api/health", nil, &out); err != nil {
		return Health{}, errors.Wrap(err, "health")
	}
	return out, nil
}

// ListAgents reads the full fleet snapshot.
func (c *Client) ListAgents(ctx context.Context) ([]fleet.Agent, error) {
	var out []fleet.Agent
	if err := c.do(ctx, http.MethodGet, "/api/agents", nil, &out); err != nil {
		return nil, errors.Wrap(err, "list agents")
	}
	return out, nil
}

// GetAgent reads one agent, including its apps state.
func (c *Client) GetAgent(ctx context.Context, id string) (fleet.Agent, error) {
	var out fleet.Agent
	if err := c.do(ctx, http.MethodGet, agentPath(id), nil, &out); err != nil {
		return fleet.Agent{}, errors.Wrapf(err, "get agent %s", id)
	}
	return out, nil
}

// DispatchCommand queues a command for an agent.
func (c *Client) DispatchCommand(ctx context.Context, agentID string, req CommandRequest) (CommandAccepted, error) {
	if req.Commands == nil {
		req.Commands = []string{}
	}
	var out CommandAccepted
	if err := c.do(ctx, http.MethodPost, agentPath(agentID)+"/commands", req, &out); err != nil {
		return CommandAccepted{}, errors.Wrapf(err, "dispatch %s to %s", req.Command, agentID)
	}
	return out, nil
}

// SudoCheck queues the sudo capability check for an agent.
func (c *Client) SudoCheck(ctx context.Context, agentID string) (CommandAccepted, error) {
	var out CommandAccepted
	if err := c.do(ctx, http.MethodPost, agentPath(agentID)+"/sudo-check", nil, &out); err != nil {
		return CommandAccepted{}, errors.Wrapf(err, "sudo check %s", agentID)
	}
	return out, nil
}

// Metrics reads the fleet metrics summary.
func (c *Client) Metrics(ctx context.Context) (Metrics, error) {
	var out Metrics
	if err := c.do(ctx, http.MethodGet, "/api/metrics", nil, &out); err != nil {
		return Metrics{}, errors.Wrap(err, "metrics")
	}
	return out, nil
}

func agentPath(id string) string {
	return "/api/agents/" + pathEscape(id)
}

// do issues one request and decodes a JSON answer into out.
func (c *Client) do(ctx context.Context, method, apiPath string, data any, out any) error {
	u, err := stream.Endpoint(c.base, apiPath)
	if err != nil {
		return err
	}

	var body io.Reader
	if data != nil {
		payload, err := json.Marshal(data)
		if err != nil {
			return errors.Wrap(err, "marshal request")
		}
		body = bytes.NewReader(payload)
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return errors.Wrap(err, "create request")
	}
	requestID := uuid.NewString()
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("User-Agent", version.UserAgent())
	req.Header.Set("X-Request-Id", requestID)
	c.session.Authorize(req)

	log := c.log.WithFields(logrus.Fields{
		"method":     method,
		"path":       u.Path,
		"request_id": requestID,
	})
	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		log.WithError(err).Debug("request failed")
		return errors.Wrapf(err, "%s %s", method, u.Path)
	}
	defer resp.Body.Close()
	log.WithFields(logrus.Fields{
		"status":   resp.StatusCode,
		"duration": time.Since(start),
	}).Debug("request done")

	if resp.StatusCode >= 400 {
		return statusError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Wrap(err, "decode response")
	}
	return nil
}

func statusError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	detail := errorDetail(raw)
	switch resp.StatusCode {
	case http.StatusUnauthorized:
		if detail == "" {
			return auth.ErrUnauthorized
		}
		return errors.Wrap(auth.ErrUnauthorized, detail)
	case http.StatusNotFound:
		if detail == "" {
			return ErrNotFound
		}
		return errors.Wrap(ErrNotFound, detail)
	}
	return &StatusError{Code: resp.StatusCode, Body: detail}
}

// errorDetail extracts the server's {"detail": "..."} message, falling back
// to the raw body.
func errorDetail(raw []byte) string {
	var envelope struct {
		Detail json.RawMessage `json:"detail"`
	}
	if err := json.Unmarshal(raw, &envelope); err == nil && len(envelope.Detail) > 0 {
		var text string
		if err := json.Unmarshal(envelope.Detail, &text); err == nil {
			return text
		}
		return string(envelope.Detail)
	}
	return strings.TrimSpace(string(raw))
}
