package assignment

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/alanyang/domain-server/internal/domain/node"
)

// Type is the kind of work an assignment deploys.
type Type byte

const (
	TypeAudioMixer Type = iota
	TypeAvatarMixer
	TypeAgent
	TypeVoxelServer
	TypeParticleServer
	TypeMetavoxelServer
)

// AllTypes lists every assignment type in wire order.
var AllTypes = []Type{
	TypeAudioMixer,
	TypeAvatarMixer,
	TypeAgent,
	TypeVoxelServer,
	TypeParticleServer,
	TypeMetavoxelServer,
}

// ParseType validates a wire byte.
func ParseType(b byte) (Type, error) {
	if int(b) >= len(AllTypes) {
		return 0, fmt.Errorf("unknown assignment type %d", b)
	}
	return Type(b), nil
}

// ParseName resolves a config name such as "audio-mixer".
func ParseName(name string) (Type, error) {
	for _, t := range AllTypes {
		if t.String() == name {
			return t, nil
		}
	}
	return 0, fmt.Errorf("unknown assignment type %q", name)
}

func (t Type) String() string {
	switch t {
	case TypeAudioMixer:
		return "audio-mixer"
	case TypeAvatarMixer:
		return "avatar-mixer"
	case TypeAgent:
		return "agent"
	case TypeVoxelServer:
		return "voxel-server"
	case TypeParticleServer:
		return "particle-server"
	case TypeMetavoxelServer:
		return "metavoxel-server"
	}
	return fmt.Sprintf("unknown(%d)", byte(t))
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

// NodeType is the node type a worker deployed with this assignment checks in as.
func (t Type) NodeType() node.Type {
	switch t {
	case TypeAudioMixer:
		return node.TypeAudioMixer
	case TypeAvatarMixer:
		return node.TypeAvatarMixer
	case TypeAgent:
		return node.TypeAgent
	case TypeVoxelServer:
		return node.TypeVoxelServer
	case TypeParticleServer:
		return node.TypeParticleServer
	case TypeMetavoxelServer:
		return node.TypeMetavoxelServer
	}
	panic(fmt.Sprintf("assignment: unmapped type %d", byte(t)))
}

// ForNodeType is the reverse of NodeType. Node types that never carry work
// report ok=false.
func ForNodeType(t node.Type) (Type, bool) {
	switch t {
	case node.TypeAudioMixer:
		return TypeAudioMixer, true
	case node.TypeAvatarMixer:
		return TypeAvatarMixer, true
	case node.TypeAgent:
		return TypeAgent, true
	case node.TypeVoxelServer:
		return TypeVoxelServer, true
	case node.TypeParticleServer:
		return TypeParticleServer, true
	case node.TypeMetavoxelServer:
		return TypeMetavoxelServer, true
	case node.TypeDomainServer, node.TypeEnvironmentServer:
		return 0, false
	}
	return 0, false
}

// DefaultStaticTypes get one static slot each unless configured or excluded.
// Scripted agents are only ever created from explicit configuration.
var DefaultStaticTypes = []Type{
	TypeAudioMixer,
	TypeAvatarMixer,
	TypeVoxelServer,
	TypeParticleServer,
	TypeMetavoxelServer,
}

type Assignment struct {
	ID        uuid.UUID `json:"uuid"`
	Type      Type      `json:"type"`
	Pool      string    `json:"pool,omitempty"`
	Static    bool      `json:"static"`
	Payload   []byte    `json:"payload,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// NewDynamic creates a one-shot assignment with a fresh UUID.
func NewDynamic(t Type, pool string, payload []byte) Assignment {
	return Assignment{
		ID:        uuid.New(),
		Type:      t,
		Pool:      pool,
		Payload:   payload,
		CreatedAt: time.Now().UTC(),
	}
}

// NewStatic creates a configured slot whose UUID depends only on the domain
// namespace and the slot's position in the configuration.
func NewStatic(namespace uuid.UUID, t Type, pool string, index int, payload []byte) Assignment {
	return Assignment{
		ID:        StaticID(namespace, t, pool, index),
		Type:      t,
		Pool:      pool,
		Static:    true,
		Payload:   payload,
		CreatedAt: time.Now().UTC(),
	}
}

func StaticID(namespace uuid.UUID, t Type, pool string, index int) uuid.UUID {
	return uuid.NewSHA1(namespace, []byte(fmt.Sprintf("%s/%s/%d", t, pool, index)))
}

// MatchesPool reports whether a request for pool may take this assignment.
// An empty request is a wildcard.
func (a Assignment) MatchesPool(pool string) bool {
	return pool == "" || pool == a.Pool
}

// Matches reports whether the assignment satisfies a (type, pool) request.
func (a Assignment) Matches(t Type, pool string) bool {
	return a.Type == t && a.MatchesPool(pool)
}
