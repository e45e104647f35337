package fleet

// Patch is a partial Agent carried by an agent_update event. A nil field
// (absent or JSON null on the wire) leaves the existing value untouched.
type Patch struct {
	ID            string    `json:"id"`
	Status        *Status   `json:"status,omitempty"`
	LastSeen      *string   `json:"last_seen,omitempty"`
	OSUpdate      *OSUpdate `json:"os_update,omitempty"`
	Outdated      *bool     `json:"outdated,omitempty"`
	AppsState     AppsState `json:"apps_state,omitempty"`
	UptimeSeconds *int64    `json:"uptime_seconds,omitempty"`
}

// Merge returns a copy of a with every present field of p applied.
// OSUpdate and AppsState are replaced as whole values, never edited in
// place, so earlier copies of a stay valid.
func (a Agent) Merge(p Patch) Agent {
	if p.Status != nil {
		a.Status = *p.Status
	}
	if p.LastSeen != nil {
		a.LastSeen = *p.LastSeen
	}
	if p.OSUpdate != nil {
		a.OSUpdate = p.OSUpdate
	}
	if p.Outdated != nil {
		outdated := *p.Outdated
		a.Outdated = &outdated
	}
	if p.AppsState != nil {
		a.AppsState = p.AppsState
	}
	if p.UptimeSeconds != nil {
		uptime := *p.UptimeSeconds
		a.UptimeSeconds = &uptime
	}
	return a
}

// Agent builds a fresh Agent from the patch alone.
func (p Patch) Agent() Agent {
	return Agent{ID: p.ID}.Merge(p)
}

// PatchFrom turns a full Agent into the patch that reproduces it. Used when
// a snapshot row has to be folded into an existing entry.
func PatchFrom(a Agent) Patch {
	p := Patch{
		ID:            a.ID,
		OSUpdate:      a.OSUpdate,
		Outdated:      a.Outdated,
		AppsState:     a.AppsState,
		UptimeSeconds: a.UptimeSeconds,
	}
	if a.Status != "" {
		status := a.Status
		p.Status = &status
	}
	if a.LastSeen != "" {
		lastSeen := a.LastSeen
		p.LastSeen = &lastSeen
	}
	return p
}
