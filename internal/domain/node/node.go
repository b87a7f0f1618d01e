package node

import (
	"fmt"
	"net/netip"
	"time"

	"github.com/google/uuid"
)

// Type is the one-byte node type tag carried on the wire.
type Type byte

const (
	TypeDomainServer      Type = 'D'
	TypeVoxelServer       Type = 'V'
	TypeParticleServer    Type = 'P'
	TypeMetavoxelServer   Type = 'm'
	TypeEnvironmentServer Type = 'E'
	TypeAgent             Type = 'I'
	TypeAudioMixer        Type = 'M'
	TypeAvatarMixer       Type = 'W'
)

// AllTypes lists every known node type in a stable order.
var AllTypes = []Type{
	TypeDomainServer,
	TypeVoxelServer,
	TypeParticleServer,
	TypeMetavoxelServer,
	TypeEnvironmentServer,
	TypeAgent,
	TypeAudioMixer,
	TypeAvatarMixer,
}

// ParseType validates a wire tag.
func ParseType(b byte) (Type, error) {
	switch t := Type(b); t {
	case TypeDomainServer, TypeVoxelServer, TypeParticleServer, TypeMetavoxelServer,
		TypeEnvironmentServer, TypeAgent, TypeAudioMixer, TypeAvatarMixer:
		return t, nil
	}
	return 0, fmt.Errorf("unknown node type 0x%02x", b)
}

// ParseName resolves the config/JSON name of a node type.
func ParseName(name string) (Type, error) {
	for _, t := range AllTypes {
		if t.String() == name {
			return t, nil
		}
	}
	return 0, fmt.Errorf("unknown node type %q", name)
}

func (t Type) String() string {
	switch t {
	case TypeDomainServer:
		return "domain-server"
	case TypeVoxelServer:
		return "voxel-server"
	case TypeParticleServer:
		return "particle-server"
	case TypeMetavoxelServer:
		return "metavoxel-server"
	case TypeEnvironmentServer:
		return "environment-server"
	case TypeAgent:
		return "agent"
	case TypeAudioMixer:
		return "audio-mixer"
	case TypeAvatarMixer:
		return "avatar-mixer"
	}
	return fmt.Sprintf("unknown(0x%02x)", byte(t))
}

func (t Type) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

func (t *Type) UnmarshalText(b []byte) error {
	v, err := ParseName(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// Set is a set of node types, used for interest lists.
type Set map[Type]struct{}

func NewSet(types ...Type) Set {
	s := make(Set, len(types))
	for _, t := range types {
		s[t] = struct{}{}
	}
	return s
}

func (s Set) Has(t Type) bool {
	_, ok := s[t]
	return ok
}

type Node struct {
	ID           uuid.UUID      `json:"uuid"`
	Type         Type           `json:"type"`
	Public       netip.AddrPort `json:"public"`
	Local        netip.AddrPort `json:"local"`
	Interests    []Type         `json:"interests"`
	AssignmentID *uuid.UUID     `json:"assignment_id,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	LastActive   time.Time      `json:"last_active"`
}

// InterestSet returns the node's interest list as a set.
func (n *Node) InterestSet() Set {
	return NewSet(n.Interests...)
}

func (n *Node) Touch(now time.Time) {
	n.LastActive = now
}

func (n *Node) IsStale(now time.Time, timeout time.Duration) bool {
	return now.Sub(n.LastActive) > timeout
}

func (n *Node) HasAssignment() bool {
	return n.AssignmentID != nil
}
