// Package view derives what the dashboard shows from the reconciled roster.
// Everything here is a pure function of its inputs.
package view

import (
	"strings"

	"github.com/cockroachdb/errors"

	"fleetconsole/internal/fleet"
)

// Filter selects which agents are listed.
type Filter string

const (
	FilterAll      Filter = "all"
	FilterOutdated Filter = "outdated"
)

// ParseFilter accepts "all", "outdated" or "" (all).
func ParseFilter(s string) (Filter, error) {
	switch Filter(strings.ToLower(strings.TrimSpace(s))) {
	case "", FilterAll:
		return FilterAll, nil
	case FilterOutdated:
		return FilterOutdated, nil
	}
	return "", errors.Newf("unknown filter %q (want all or outdated)", s)
}

// Next cycles all -> outdated -> all.
func (f Filter) Next() Filter {
	if f == FilterOutdated {
		return FilterAll
	}
	return FilterOutdated
}

// Query is the UI filter state.
type Query struct {
	Filter Filter
	Search string
}

// Project returns the agents to display, in roster order. The filter runs
// first, then a case-insensitive substring match on the id. Unknown filters
// behave like FilterAll.
func Project(agents []fleet.Agent, q Query) []fleet.Agent {
	needle := strings.ToLower(q.Search)
	out := make([]fleet.Agent, 0, len(agents))
	for _, agent := range agents {
		if q.Filter == FilterOutdated && !agent.NeedsAttention() {
			continue
		}
		if needle != "" && !strings.Contains(strings.ToLower(agent.ID), needle) {
			continue
		}
		out = append(out, agent)
	}
	return out
}

// Counts summarizes a roster for headers.
type Counts struct {
	Total       int
	Online      int
	Outdated    int
	SudoBlocked int
	Upgrades    int
}

// Summary counts agents by state.
func Summary(agents []fleet.Agent) Counts {
	var c Counts
	for _, agent := range agents {
		c.Total++
		if agent.Online() {
			c.Online++
		}
		if agent.NeedsAttention() {
			c.Outdated++
		}
		if agent.SudoAptBlocked() {
			c.SudoBlocked++
		}
		if agent.OSUpdate != nil {
			c.Upgrades += agent.OSUpdate.Upgrades
		}
	}
	return c
}
