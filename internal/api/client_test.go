package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleetconsole/internal/auth"
	"fleetconsole/internal/logger"
)

func newTestClient(t *testing.T, handler http.HandlerFunc, opts ...Option) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	opts = append([]Option{WithLogger(logger.Component(logger.Discard(), "api"))}, opts...)
	return NewClient(srv.URL, auth.NewSession("tok", nil), opts...)
}

func TestListAgents(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/api/agents", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		assert.Contains(t, r.Header.Get("User-Agent"), "fleetctl/")
		_, err := uuid.Parse(r.Header.Get("X-Request-Id"))
		assert.NoError(t, err)
		_, _ = io.WriteString(w, `[
			{"id":"vm1","status":"online","last_seen":"2024-05-01T10:00:00","os_update":{"status":"ok","upgrades":2,"sudo_apt_ok":false},"outdated":true,"uptime_seconds":12},
			{"id":"vm2","status":"offline","last_seen":"2024-05-01T09:00:00","os_update":null,"apps_state":null}
		]`)
	})

	agents, err := client.ListAgents(context.Background())
	require.NoError(t, err)
	require.Len(t, agents, 2)
	assert.Equal(t, "vm1", agents[0].ID)
	require.NotNil(t, agents[0].OSUpdate)
	assert.Equal(t, 2, agents[0].OSUpdate.Upgrades)
	assert.True(t, agents[0].SudoAptBlocked())
	require.NotNil(t, agents[0].UptimeSeconds)
	assert.EqualValues(t, 12, *agents[0].UptimeSeconds)
	assert.Nil(t, agents[1].OSUpdate)
}

func TestGetAgentNotFound(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/agents/vm%2F9", r.URL.EscapedPath())
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `{"detail":"Agent not found"}`)
	})

	_, err := client.GetAgent(context.Background(), "vm/9")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.Contains(t, err.Error(), "Agent not found")
}

func TestUnauthorized(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, `{"detail":"Invalid token"}`)
	})

	_, err := client.ListAgents(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, auth.ErrUnauthorized))
}

func TestStatusError(t *testing.T) {
	calls := 0
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = io.WriteString(w, "maintenance")
	})

	_, err := client.Metrics(context.Background())
	require.Error(t, err)
	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusServiceUnavailable, statusErr.Code)
	assert.Equal(t, "maintenance", statusErr.Body)
	assert.Equal(t, 1, calls, "requests are not retried")
}

func TestDispatchCommand(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/agents/vm1/commands", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "apt_upgrade", body["command"])
		assert.Equal(t, []any{}, body["commands"])
		_, hasID := body["command_id"]
		assert.False(t, hasID)
		_, _ = io.WriteString(w, `{"queued":true,"agent_id":"vm1","command_id":"c-42"}`)
	})

	accepted, err := client.DispatchCommand(context.Background(), "vm1", CommandRequest{Command: "apt_upgrade"})
	require.NoError(t, err)
	assert.Equal(t, CommandAccepted{Queued: true, AgentID: "vm1", CommandID: "c-42"}, accepted)
}

func TestDispatchCommandWithID(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "deploy-7", body["command_id"])
		_, _ = io.WriteString(w, `{"queued":true,"agent_id":"vm1","command_id":"deploy-7"}`)
	})

	accepted, err := client.DispatchCommand(context.Background(), "vm1", CommandRequest{Command: "apt_upgrade", CommandID: "deploy-7"})
	require.NoError(t, err)
	assert.Equal(t, "deploy-7", accepted.CommandID)
}

func TestSudoCheck(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/agents/vm1/sudo-check", r.URL.Path)
		_, _ = io.WriteString(w, `{"queued":true,"agent_id":"vm1","command_id":"c-7"}`)
	})

	accepted, err := client.SudoCheck(context.Background(), "vm1")
	require.NoError(t, err)
	assert.Equal(t, "c-7", accepted.CommandID)
}

func TestLogin(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var body LoginRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		if body.Username != "admin" || body.Password != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = io.WriteString(w, `{"detail":"Invalid credentials"}`)
			return
		}
		_, _ = io.WriteString(w, `{"token":"jwt-1"}`)
	})

	token, err := client.Login(context.Background(), "admin", "secret")
	require.NoError(t, err)
	assert.Equal(t, "jwt-1", token)
	assert.Equal(t, "tok", client.Session().Token(), "login leaves the session alone")

	_, err = client.Login(context.Background(), "admin", "wrong")
	assert.True(t, errors.Is(err, auth.ErrUnauthorized))
}

func TestMetrics(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"agents_total":3,"agents_online":2,"uptime_seconds":{"vm1":90},"command_success_rate_last100":null,"app_drift":0}`)
	})

	m, err := client.Metrics(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, m.AgentsTotal)
	assert.Nil(t, m.CommandSuccessRate)
	d, ok := m.SinceSeen("vm1")
	assert.True(t, ok)
	assert.Equal(t, 90*time.Second, d)
	_, ok = m.SinceSeen("vm9")
	assert.False(t, ok)
}

func TestRequestTimeout(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}, WithTimeout(50*time.Millisecond))

	_, err := client.Health(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}
