package config

// AgentProfile describes one worker agent type for routing.
type AgentProfile struct {
	// Description is a human-readable summary of the agent.
	Description string `yaml:"description,omitempty"`

	// Specialties are task-type tags and description keywords this agent is
	// strongest at (matched case-insensitively against task descriptions).
	Specialties []string `yaml:"specialties"`

	// Capabilities maps capability names to a 0.0–1.0 confidence.
	Capabilities map[string]float64 `yaml:"capabilities"`
}

// AgentRegistry provides lookup of agent profiles. Insertion order is
// preserved so routing tie-breaks are deterministic.
type AgentRegistry struct {
	profiles map[string]*AgentProfile
	order    []string
}

// NewAgentRegistry creates a registry from profiles with a stable order.
func NewAgentRegistry(names []string, profiles map[string]*AgentProfile) *AgentRegistry {
	r := &AgentRegistry{
		profiles: make(map[string]*AgentProfile, len(profiles)),
		order:    make([]string, 0, len(profiles)),
	}
	for _, name := range names {
		if p, ok := profiles[name]; ok {
			r.profiles[name] = p
			r.order = append(r.order, name)
		}
	}
	return r
}

// Get returns the profile for an agent type.
func (r *AgentRegistry) Get(name string) (*AgentProfile, bool) {
	p, ok := r.profiles[name]
	return p, ok
}

// Has reports whether the agent type is registered.
func (r *AgentRegistry) Has(name string) bool {
	_, ok := r.profiles[name]
	return ok
}

// Names returns agent type names in registration order.
func (r *AgentRegistry) Names() []string {
	return append([]string(nil), r.order...)
}

// GetAll returns all profiles keyed by agent type.
func (r *AgentRegistry) GetAll() map[string]*AgentProfile {
	return r.profiles
}
