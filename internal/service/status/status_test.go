package status_test

import (
	"context"
	"net/netip"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyang/domain-server/internal/adapter/memory"
	"github.com/alanyang/domain-server/internal/config"
	"github.com/alanyang/domain-server/internal/domain/node"
	svcassignment "github.com/alanyang/domain-server/internal/service/assignment"
	"github.com/alanyang/domain-server/internal/service/status"
)

type sessionCount int

func (s sessionCount) Sessions() int { return int(s) }

func TestService_Views(t *testing.T) {
	domainID := uuid.New()
	nodes := memory.NewNodeList()
	bus := memory.NewEventBus()
	reg := svcassignment.NewRegistry(domainID, memory.NewAssignmentStore(), bus)
	require.NoError(t, reg.Configure(context.Background(), []config.AssignmentDef{{Type: "audio-mixer", Pool: "east", Count: 2}}, nil))

	mixer := node.Node{ID: uuid.New(), Type: node.TypeAudioMixer, Public: netip.MustParseAddrPort("203.0.113.1:40000"), LastActive: time.Now()}
	agentA := node.Node{ID: uuid.New(), Type: node.TypeAgent, Public: netip.MustParseAddrPort("203.0.113.2:40000"), LastActive: time.Now()}
	agentB := node.Node{ID: uuid.New(), Type: node.TypeAgent, Public: netip.MustParseAddrPort("203.0.113.3:40000"), LastActive: time.Now()}
	nodes.Upsert(mixer)
	nodes.Upsert(agentA)
	nodes.Upsert(agentB)

	svc := status.NewService(domainID, nodes, reg, sessionCount(4))

	overview := svc.Overview()
	require.Len(t, overview.Nodes, 3)
	for i := 1; i < len(overview.Nodes); i++ {
		assert.LessOrEqual(t, overview.Nodes[i-1].Type, overview.Nodes[i].Type, "grouped by type")
	}
	snap := reg.Snapshot()
	assert.Equal(t, snap.Queued, overview.Assignments.Queued)
	assert.Len(t, overview.Assignments.Static, len(snap.Static))
	assert.Equal(t, map[string]int{"agent": 2, "audio-mixer": 1}, overview.NodesByType)

	st := svc.Stats()
	assert.Equal(t, domainID, st.DomainID)
	assert.Equal(t, 3, st.Nodes)
	assert.Equal(t, 2, st.NodesByType["agent"])
	assert.Equal(t, 1, st.NodesByType["audio-mixer"])
	assert.Equal(t, snap.Queued, st.QueueDepth)
	assert.Equal(t, 4, st.SecuredSessions)
}

func TestService_NoSessions(t *testing.T) {
	reg := svcassignment.NewRegistry(uuid.New(), memory.NewAssignmentStore(), memory.NewEventBus())
	svc := status.NewService(uuid.New(), memory.NewNodeList(), reg, nil)

	st := svc.Stats()
	assert.Zero(t, st.SecuredSessions)
	assert.NotNil(t, svc.Overview().Nodes, "empty list, not null")
	assert.NotNil(t, svc.Overview().Assignments.Static)
	assert.NotNil(t, svc.Overview().NodesByType)
}
