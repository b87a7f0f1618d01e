package node

// Rule is the admission rule for a single node type.
type Rule struct {
	// RequiresAssignment marks worker-class types: they are only admitted when
	// backed by an assignment and get a no-work reply otherwise.
	RequiresAssignment bool `yaml:"requires_assignment" json:"requires_assignment"`

	// RequiresAuth rejects check-ins that carry no ticket.
	RequiresAuth bool `yaml:"requires_auth" json:"requires_auth"`
}

// Policy maps node types to admission rules. Types absent from the policy are
// never admitted.
type Policy map[Type]Rule

// DefaultPolicy admits agents (clients and scripted agents) without work and
// requires every mixer/server type to hold an assignment.
var DefaultPolicy = Policy{
	TypeAgent:             {RequiresAssignment: false},
	TypeAudioMixer:        {RequiresAssignment: true},
	TypeAvatarMixer:       {RequiresAssignment: true},
	TypeVoxelServer:       {RequiresAssignment: true},
	TypeParticleServer:    {RequiresAssignment: true},
	TypeMetavoxelServer:   {RequiresAssignment: true},
	TypeEnvironmentServer: {RequiresAssignment: true},
}

// Rule returns the rule for t and whether t may be admitted at all.
func (p Policy) Rule(t Type) (Rule, bool) {
	r, ok := p[t]
	return r, ok
}

// With returns a copy of p with overrides applied.
func (p Policy) With(overrides map[Type]Rule) Policy {
	out := make(Policy, len(p)+len(overrides))
	for t, r := range p {
		out[t] = r
	}
	for t, r := range overrides {
		if t == TypeDomainServer {
			continue
		}
		out[t] = r
	}
	return out
}
