package api

import (
	"net/url"
	"time"
)

// LoginRequest is the body of POST /api/auth/login.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginResponse carries the issued bearer token.
type LoginResponse struct {
	Token string `json:"token"`
}

// Health is the answer of GET /api/health.
type Health struct {
	Status string `json:"status" yaml:"status"`
	Time   string `json:"time" yaml:"time"`
}

// CommandRequest is the body of POST /api/agents/{id}/commands. CommandID is
// optional; the server generates one when it is empty.
type CommandRequest struct {
	Command   string   `json:"command"`
	Commands  []string `json:"commands"`
	CommandID string   `json:"command_id,omitempty"`
}

// CommandAccepted acknowledges a queued command.
type CommandAccepted struct {
	Queued    bool   `json:"queued" yaml:"queued"`
	AgentID   string `json:"agent_id" yaml:"agent_id"`
	CommandID string `json:"command_id" yaml:"command_id"`
}

// Metrics is the fleet summary of GET /api/metrics. UptimeSeconds is keyed
// by agent id and counts seconds since the agent was last seen.
// CommandSuccessRate is nil when no command has run yet.
type Metrics struct {
	AgentsTotal        int              `json:"agents_total" yaml:"agents_total"`
	AgentsOnline       int              `json:"agents_online" yaml:"agents_online"`
	UptimeSeconds      map[string]int64 `json:"uptime_seconds" yaml:"uptime_seconds"`
	CommandSuccessRate *float64         `json:"command_success_rate_last100" yaml:"command_success_rate_last100"`
	AppDrift           int              `json:"app_drift" yaml:"app_drift"`
}

// SinceSeen converts an UptimeSeconds entry to a duration.
func (m Metrics) SinceSeen(agentID string) (time.Duration, bool) {
	secs, ok := m.UptimeSeconds[agentID]
	if !ok {
		return 0, false
	}
	return time.Duration(secs) * time.Second, true
}

func pathEscape(s string) string {
	return url.PathEscape(s)
}
