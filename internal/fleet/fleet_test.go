package fleet

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodePatch(t *testing.T, raw string) Patch {
	t.Helper()
	var p Patch
	require.NoError(t, json.Unmarshal([]byte(raw), &p))
	return p
}

func TestMergeOverwritesOnlyPresentFields(t *testing.T) {
	roster := NewRoster()
	roster.Replace([]Agent{{ID: "vm1", Status: StatusOnline, LastSeen: "T0"}})

	roster.Apply(decodePatch(t, `{"id":"vm1","status":"offline"}`))

	got, ok := roster.Get("vm1")
	require.True(t, ok)
	assert.Equal(t, Agent{ID: "vm1", Status: StatusOffline, LastSeen: "T0"}, got)
}

func TestUnknownIDInsertedAtFront(t *testing.T) {
	roster := NewRoster()
	roster.Replace([]Agent{{ID: "vm1", Status: StatusOnline, LastSeen: "T0"}})

	inserted := roster.Apply(decodePatch(t, `{"id":"vm2","status":"online"}`))
	assert.True(t, inserted)

	snapshot := roster.Snapshot()
	require.Len(t, snapshot, 2)
	assert.Equal(t, "vm2", snapshot[0].ID)
	assert.Equal(t, "vm1", snapshot[1].ID)
}

func TestNullFieldsLeaveValuesUntouched(t *testing.T) {
	roster := NewRoster()
	roster.Apply(decodePatch(t, `{"id":"vm1","status":"online","os_update":{"status":"ok","upgrades":3,"sudo_apt_ok":true}}`))
	roster.Apply(decodePatch(t, `{"id":"vm1","status":null,"os_update":null,"last_seen":"T1"}`))

	got, _ := roster.Get("vm1")
	assert.Equal(t, StatusOnline, got.Status)
	assert.Equal(t, "T1", got.LastSeen)
	require.NotNil(t, got.OSUpdate)
	assert.Equal(t, 3, got.OSUpdate.Upgrades)
}

func TestMergeIsIdempotent(t *testing.T) {
	events := []string{
		`{"id":"a","status":"online","last_seen":"T0"}`,
		`{"id":"a","os_update":{"status":"pending","upgrades":2,"sudo_apt_ok":false,"held":["linux-image"]}}`,
		`{"id":"b","outdated":true,"apps_state":{"web":{"health":"ok"}}}`,
	}
	for _, raw := range events {
		once := NewRoster()
		once.Replace([]Agent{{ID: "a", Status: StatusOffline}})
		twice := NewRoster()
		twice.Replace([]Agent{{ID: "a", Status: StatusOffline}})

		p := decodePatch(t, raw)
		once.Apply(p)
		twice.Apply(p)
		twice.Apply(p)

		assert.Equal(t, once.Snapshot(), twice.Snapshot(), raw)
	}
}

func TestFieldwiseLastWriteWins(t *testing.T) {
	events := []string{
		`{"id":"a","status":"online","last_seen":"T0"}`,
		`{"id":"b","status":"online"}`,
		`{"id":"a","last_seen":"T1"}`,
		`{"id":"c","outdated":false}`,
		`{"id":"b","status":"offline","last_seen":"T2"}`,
		`{"id":"a","status":"offline"}`,
		`{"id":"c","outdated":true}`,
	}
	roster := NewRoster()
	for _, raw := range events {
		roster.Apply(decodePatch(t, raw))
	}

	require.Equal(t, 3, roster.Len())
	ids := map[string]bool{}
	for _, agent := range roster.Snapshot() {
		assert.False(t, ids[agent.ID], "duplicate id %s", agent.ID)
		ids[agent.ID] = true
	}

	a, _ := roster.Get("a")
	assert.Equal(t, StatusOffline, a.Status)
	assert.Equal(t, "T1", a.LastSeen)

	b, _ := roster.Get("b")
	assert.Equal(t, StatusOffline, b.Status)
	assert.Equal(t, "T2", b.LastSeen)

	c, _ := roster.Get("c")
	require.NotNil(t, c.Outdated)
	assert.True(t, *c.Outdated)
	assert.Empty(t, c.Status)
}

func TestApplyIgnoresMissingID(t *testing.T) {
	roster := NewRoster()
	assert.False(t, roster.Apply(Patch{}))
	assert.Equal(t, 0, roster.Len())
}

func TestReplaceFoldsDuplicates(t *testing.T) {
	roster := NewRoster()
	roster.Apply(Patch{ID: "old"})
	roster.Replace([]Agent{
		{ID: "vm1", Status: StatusOnline, LastSeen: "T0"},
		{ID: "vm2"},
		{ID: "vm1", Status: StatusOffline},
	})

	snapshot := roster.Snapshot()
	require.Len(t, snapshot, 2)
	assert.Equal(t, "vm1", snapshot[0].ID)
	assert.Equal(t, StatusOffline, snapshot[0].Status)
	assert.Equal(t, "T0", snapshot[0].LastSeen)
	_, ok := roster.Get("old")
	assert.False(t, ok)
}

func TestSnapshotIsACopy(t *testing.T) {
	roster := NewRoster()
	roster.Apply(Patch{ID: "vm1"})
	snapshot := roster.Snapshot()
	snapshot[0].Status = StatusOnline

	got, _ := roster.Get("vm1")
	assert.Empty(t, got.Status)
}

func TestOSUpdatePassthrough(t *testing.T) {
	raw := `{"status":"pending","upgrades":4,"sudo_apt_ok":false,"security":2,"checked_at":"2025-01-01"}`
	var update OSUpdate
	require.NoError(t, json.Unmarshal([]byte(raw), &update))

	assert.Equal(t, "pending", update.Status)
	assert.Equal(t, 4, update.Upgrades)
	require.NotNil(t, update.SudoAptOK)
	assert.False(t, *update.SudoAptOK)
	assert.JSONEq(t, `2`, string(update.Extra["security"]))

	out, err := json.Marshal(update)
	require.NoError(t, err)
	assert.JSONEq(t, raw, string(out))
}

func TestOSUpdateNegativeUpgradesReadAsZero(t *testing.T) {
	var update OSUpdate
	require.NoError(t, json.Unmarshal([]byte(`{"upgrades":-1}`), &update))
	assert.Equal(t, 0, update.Upgrades)
	assert.Nil(t, update.SudoAptOK)
}

func TestAgentPredicates(t *testing.T) {
	yes, no := true, false

	assert.False(t, Agent{ID: "a"}.NeedsAttention())
	assert.True(t, Agent{ID: "a", Outdated: &yes}.NeedsAttention())
	assert.True(t, Agent{ID: "a", OSUpdate: &OSUpdate{Upgrades: 1}}.NeedsAttention())
	assert.False(t, Agent{ID: "a", Outdated: &no, OSUpdate: &OSUpdate{}}.NeedsAttention())

	assert.False(t, Agent{ID: "a"}.SudoAptBlocked())
	assert.False(t, Agent{ID: "a", OSUpdate: &OSUpdate{}}.SudoAptBlocked())
	assert.False(t, Agent{ID: "a", OSUpdate: &OSUpdate{SudoAptOK: &yes}}.SudoAptBlocked())
	assert.True(t, Agent{ID: "a", OSUpdate: &OSUpdate{SudoAptOK: &no}}.SudoAptBlocked())
}

func TestLastSeenTime(t *testing.T) {
	naive := Agent{LastSeen: "2025-03-04T05:06:07.123456"}
	got, ok := naive.LastSeenTime()
	require.True(t, ok)
	assert.Equal(t, time.UTC, got.Location())
	assert.Equal(t, 7, got.Second())

	zoned := Agent{LastSeen: "2025-03-04T05:06:07Z"}
	_, ok = zoned.LastSeenTime()
	assert.True(t, ok)

	_, ok = Agent{LastSeen: "T0"}.LastSeenTime()
	assert.False(t, ok)
}
