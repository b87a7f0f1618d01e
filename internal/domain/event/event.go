package event

import (
	"time"

	"github.com/google/uuid"
)

type Type string

const (
	TypeNodeAdded           Type = "node_added"
	TypeNodeKilled          Type = "node_killed"
	TypeAssignmentQueued    Type = "assignment_queued"
	TypeAssignmentDeployed  Type = "assignment_deployed"
	TypeAssignmentReleased  Type = "assignment_released"
	TypeAssignmentDiscarded Type = "assignment_discarded"
)

// Channel groups event types; all types of a channel share one subscription.
type Channel string

const (
	ChannelNode       Channel = "node"
	ChannelAssignment Channel = "assignment"
)

var typeToChannel = map[Type]Channel{
	TypeNodeAdded:           ChannelNode,
	TypeNodeKilled:          ChannelNode,
	TypeAssignmentQueued:    ChannelAssignment,
	TypeAssignmentDeployed:  ChannelAssignment,
	TypeAssignmentReleased:  ChannelAssignment,
	TypeAssignmentDiscarded: ChannelAssignment,
}

// ChannelFor returns the channel for a given event type.
func ChannelFor(t Type) Channel { return typeToChannel[t] }

// Channels lists every channel.
var Channels = []Channel{ChannelNode, ChannelAssignment}

// Event carries identifiers and the type tag only; subscribers read fresh
// state from the registries.
type Event struct {
	Type      Type      `json:"type"`
	EntityID  uuid.UUID `json:"entity_id"`
	Kind      string    `json:"kind,omitempty"` // node or assignment type name
	Timestamp time.Time `json:"timestamp"`
}

func New(eventType Type, entityID uuid.UUID, kind string) Event {
	return Event{
		Type:      eventType,
		EntityID:  entityID,
		Kind:      kind,
		Timestamp: time.Now().UTC(),
	}
}
