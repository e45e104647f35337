// Package fleet models the agents a FleetUpdate server manages and the
// field-wise merge that folds partial updates into them.
package fleet

import (
	"encoding/json"
	"sort"
	"time"
)

// Status is an agent's last known liveness. Values the client does not know
// are kept verbatim.
type Status string

const (
	StatusOnline  Status = "online"
	StatusOffline Status = "offline"
)

// AppsState maps an application name to its opaque status payload.
type AppsState map[string]json.RawMessage

// Names returns the application names in sorted order.
func (s AppsState) Names() []string {
	names := make([]string, 0, len(s))
	for name := range s {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Agent is one managed host as the console sees it.
type Agent struct {
	ID            string    `json:"id"`
	Status        Status    `json:"status,omitempty"`
	LastSeen      string    `json:"last_seen,omitempty"`
	OSUpdate      *OSUpdate `json:"os_update,omitempty"`
	Outdated      *bool     `json:"outdated,omitempty"`
	AppsState     AppsState `json:"apps_state,omitempty"`
	UptimeSeconds *int64    `json:"uptime_seconds,omitempty"`
}

// Naive ISO-8601 is what the server's datetime.isoformat() emits for UTC.
var lastSeenLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
}

// LastSeenTime parses LastSeen. Timestamps without a zone are read as UTC.
func (a Agent) LastSeenTime() (time.Time, bool) {
	if a.LastSeen == "" {
		return time.Time{}, false
	}
	for _, layout := range lastSeenLayouts {
		if t, err := time.Parse(layout, a.LastSeen); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// NeedsAttention is true when the agent is flagged outdated or has pending
// upgrades. An agent without OS update data never needs attention.
func (a Agent) NeedsAttention() bool {
	if a.Outdated != nil && *a.Outdated {
		return true
	}
	return a.OSUpdate != nil && a.OSUpdate.Upgrades > 0
}

// SudoAptBlocked is true only when the agent has explicitly reported that
// unattended package upgrades are not permitted.
func (a Agent) SudoAptBlocked() bool {
	return a.OSUpdate != nil && a.OSUpdate.SudoAptOK != nil && !*a.OSUpdate.SudoAptOK
}

// Online reports whether the last known status is online.
func (a Agent) Online() bool {
	return a.Status == StatusOnline
}
