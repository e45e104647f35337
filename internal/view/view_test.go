package view

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fleetconsole/internal/fleet"
)

func ids(agents []fleet.Agent) []string {
	out := make([]string, len(agents))
	for i, agent := range agents {
		out[i] = agent.ID
	}
	return out
}

func fixture() []fleet.Agent {
	yes, no := true, false
	return []fleet.Agent{
		{ID: "web-01", Status: fleet.StatusOnline, OSUpdate: &fleet.OSUpdate{Upgrades: 3}},
		{ID: "WEB-02", Status: fleet.StatusOffline},
		{ID: "db-01", Outdated: &yes},
		{ID: "db-02", Outdated: &no, OSUpdate: &fleet.OSUpdate{Upgrades: 0, SudoAptOK: &no}},
		{ID: "cache-01", Status: fleet.StatusOnline, OSUpdate: &fleet.OSUpdate{}},
	}
}

func TestProjectAll(t *testing.T) {
	got := Project(fixture(), Query{Filter: FilterAll})
	assert.Equal(t, []string{"web-01", "WEB-02", "db-01", "db-02", "cache-01"}, ids(got))
}

func TestProjectOutdated(t *testing.T) {
	got := Project(fixture(), Query{Filter: FilterOutdated})
	assert.Equal(t, []string{"web-01", "db-01"}, ids(got))
}

func TestSearchIsCaseInsensitiveOnID(t *testing.T) {
	got := Project(fixture(), Query{Filter: FilterAll, Search: "Web"})
	assert.Equal(t, []string{"web-01", "WEB-02"}, ids(got))

	got = Project(fixture(), Query{Filter: FilterOutdated, Search: "web"})
	assert.Equal(t, []string{"web-01"}, ids(got))

	// Status text is not searched.
	got = Project(fixture(), Query{Filter: FilterAll, Search: "online"})
	assert.Empty(t, got)
}

func TestEmptySearchKeepsFilterResult(t *testing.T) {
	for _, filter := range []Filter{FilterAll, FilterOutdated} {
		filtered := Project(fixture(), Query{Filter: filter})
		searched := Project(fixture(), Query{Filter: filter, Search: ""})
		assert.Equal(t, ids(filtered), ids(searched))
	}
}

func TestProjectIsDeterministic(t *testing.T) {
	agents := fixture()
	q := Query{Filter: FilterOutdated, Search: "0"}
	first := Project(agents, q)
	second := Project(agents, q)
	assert.Equal(t, first, second)
	assert.Len(t, agents, 5, "input must not be modified")
}

func TestOutdatedMonotonicOnUpgrades(t *testing.T) {
	roster := fleet.NewRoster()
	roster.Replace([]fleet.Agent{{ID: "vm1", OSUpdate: &fleet.OSUpdate{Upgrades: 0}}})
	assert.Empty(t, Project(roster.Snapshot(), Query{Filter: FilterOutdated}))

	roster.Apply(fleet.Patch{ID: "vm1", OSUpdate: &fleet.OSUpdate{Upgrades: 5}})
	assert.Equal(t, []string{"vm1"}, ids(Project(roster.Snapshot(), Query{Filter: FilterOutdated})))
}

func TestParseFilter(t *testing.T) {
	f, err := ParseFilter("")
	require.NoError(t, err)
	assert.Equal(t, FilterAll, f)

	f, err = ParseFilter(" Outdated ")
	require.NoError(t, err)
	assert.Equal(t, FilterOutdated, f)

	_, err = ParseFilter("stale")
	assert.Error(t, err)

	assert.Equal(t, FilterOutdated, FilterAll.Next())
	assert.Equal(t, FilterAll, FilterOutdated.Next())
}

func TestSummary(t *testing.T) {
	c := Summary(fixture())
	assert.Equal(t, Counts{Total: 5, Online: 2, Outdated: 2, SudoBlocked: 1, Upgrades: 3}, c)
}
