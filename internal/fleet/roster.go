package fleet

import "sync"

// Roster is the ordered, id-unique agent collection of one mounted view.
// One goroutine writes (the reconciler); any number of readers take
// Snapshot copies.
type Roster struct {
	mu     sync.RWMutex
	order  []string
	agents map[string]Agent
}

// NewRoster returns an empty roster.
func NewRoster() *Roster {
	return &Roster{agents: make(map[string]Agent)}
}

// Replace discards the current content and installs agents in order.
// Rows sharing an id are folded into the first occurrence.
func (r *Roster) Replace(agents []Agent) {
	order := make([]string, 0, len(agents))
	byID := make(map[string]Agent, len(agents))
	for _, agent := range agents {
		if agent.ID == "" {
			continue
		}
		if existing, ok := byID[agent.ID]; ok {
			byID[agent.ID] = existing.Merge(PatchFrom(agent))
			continue
		}
		order = append(order, agent.ID)
		byID[agent.ID] = agent
	}

	r.mu.Lock()
	r.order = order
	r.agents = byID
	r.mu.Unlock()
}

// Apply merges p onto the agent with the same id, or inserts a new agent
// at the front when the id is unseen. It reports whether an insert happened.
// Patches without an id are ignored.
func (r *Roster) Apply(p Patch) bool {
	if p.ID == "" {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.agents[p.ID]; ok {
		r.agents[p.ID] = existing.Merge(p)
		return false
	}
	r.agents[p.ID] = p.Agent()
	r.order = append(r.order, "")
	copy(r.order[1:], r.order)
	r.order[0] = p.ID
	return true
}

// Get returns the agent with id.
func (r *Roster) Get(id string) (Agent, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	agent, ok := r.agents[id]
	return agent, ok
}

// Len is the number of agents.
func (r *Roster) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// Snapshot returns a consistent, ordered copy of the collection.
func (r *Roster) Snapshot() []Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Agent, len(r.order))
	for i, id := range r.order {
		out[i] = r.agents[id]
	}
	return out
}
