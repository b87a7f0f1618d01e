package status_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyang/domain-server/internal/adapter/memory"
	"github.com/alanyang/domain-server/internal/config"
	domainassignment "github.com/alanyang/domain-server/internal/domain/assignment"
	"github.com/alanyang/domain-server/internal/domain/node"
	svcassignment "github.com/alanyang/domain-server/internal/service/assignment"
	statussvc "github.com/alanyang/domain-server/internal/service/status"
	transportstatus "github.com/alanyang/domain-server/internal/transport/status"
)

func init() { gin.SetMode(gin.TestMode) }

func newRouter(t *testing.T) (*gin.Engine, *svcassignment.Registry) {
	t.Helper()
	domainID := uuid.New()
	nodes := memory.NewNodeList()
	reg := svcassignment.NewRegistry(domainID, memory.NewAssignmentStore(), memory.NewEventBus())
	require.NoError(t, reg.Configure(context.Background(), []config.AssignmentDef{{Type: "avatar-mixer", Count: 1}}, nil))
	nodes.Upsert(node.Node{
		ID:         uuid.New(),
		Type:       node.TypeAgent,
		Public:     netip.MustParseAddrPort("198.51.100.4:40102"),
		Local:      netip.MustParseAddrPort("10.0.0.4:40102"),
		LastActive: time.Now(),
	})

	r := gin.New()
	transportstatus.Register(r.Group(""), statussvc.NewService(domainID, nodes, reg, nil))
	return r, reg
}

func get(r *gin.Engine, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req, _ := http.NewRequestWithContext(context.Background(), http.MethodGet, path, nil)
	r.ServeHTTP(w, req)
	return w
}

// ── GET /nodes ────────────────────────────────────────────────────────────────

func TestOverview(t *testing.T) {
	r, _ := newRouter(t)

	w := get(r, "/nodes")
	assert.Equal(t, http.StatusOK, w.Code)

	var got struct {
		Nodes []struct {
			UUID   string `json:"uuid"`
			Type   string `json:"type"`
			Public string `json:"public"`
			Local  string `json:"local"`
		} `json:"nodes"`
		NodesByType map[string]int `json:"nodes_by_type"`
		Assignments struct {
			Static []map[string]any `json:"static"`
			Queued int              `json:"queued"`
		} `json:"assignments"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	require.Len(t, got.Nodes, 1)
	assert.Equal(t, "agent", got.Nodes[0].Type)
	assert.Equal(t, "198.51.100.4:40102", got.Nodes[0].Public)
	assert.Equal(t, "10.0.0.4:40102", got.Nodes[0].Local)
	assert.Equal(t, map[string]int{"agent": 1}, got.NodesByType)
	assert.NotEmpty(t, got.Assignments.Static)
}

// ── GET /assignments/:id ──────────────────────────────────────────────────────

func TestGetAssignment(t *testing.T) {
	r, reg := newRouter(t)
	static := reg.Snapshot().Static
	require.NotEmpty(t, static)

	tests := []struct {
		name string
		path string
		code int
	}{
		{"found", "/assignments/" + static[0].ID.String(), http.StatusOK},
		{"unknown", "/assignments/" + uuid.NewString(), http.StatusNotFound},
		{"invalid", "/assignments/not-a-uuid", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := get(r, tt.path)
			assert.Equal(t, tt.code, w.Code)
		})
	}

	var a domainassignment.Assignment
	require.NoError(t, json.Unmarshal(get(r, "/assignments/"+static[0].ID.String()).Body.Bytes(), &a))
	assert.Equal(t, static[0].ID, a.ID)
	assert.Equal(t, domainassignment.TypeAvatarMixer, a.Type)
}

func TestListAssignmentsAndStats(t *testing.T) {
	r, reg := newRouter(t)

	w := get(r, "/assignments")
	require.Equal(t, http.StatusOK, w.Code)
	var snap svcassignment.Snapshot
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &snap))
	assert.Equal(t, reg.Snapshot().Queued, snap.Queued)

	w = get(r, "/stats")
	require.Equal(t, http.StatusOK, w.Code)
	var st statussvc.Stats
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &st))
	assert.Equal(t, 1, st.Nodes)
}
