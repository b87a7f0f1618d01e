package transport_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyang/domain-server/internal/adapter/memory"
	"github.com/alanyang/domain-server/internal/domain/event"
	svcassignment "github.com/alanyang/domain-server/internal/service/assignment"
	statussvc "github.com/alanyang/domain-server/internal/service/status"
	"github.com/alanyang/domain-server/internal/transport"
	mcptransport "github.com/alanyang/domain-server/internal/transport/mcp"
)

func newRouter(t *testing.T) (http.Handler, *memory.EventBus) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	bus := memory.NewEventBus()
	reg := svcassignment.NewRegistry(uuid.New(), memory.NewAssignmentStore(), bus)
	svc := statussvc.NewService(uuid.New(), memory.NewNodeList(), reg, nil)
	return transport.NewRouter(ctx, svc, mcptransport.New(svc), bus), bus
}

func TestRouter_UnknownRoutes(t *testing.T) {
	r, _ := newRouter(t)

	tests := []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/missing"},
		{http.MethodPost, "/nodes"},
		{http.MethodDelete, "/assignments"},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			w := httptest.NewRecorder()
			req, _ := http.NewRequestWithContext(context.Background(), tt.method, tt.path, nil)
			r.ServeHTTP(w, req)
			assert.Equal(t, http.StatusNotFound, w.Code)
			assert.JSONEq(t, `{"error":"not found"}`, w.Body.String())
		})
	}
}

func TestRouter_NodesIsJSON(t *testing.T) {
	r, _ := newRouter(t)

	w := httptest.NewRecorder()
	req, _ := http.NewRequestWithContext(context.Background(), http.MethodGet, "/nodes", nil)
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "application/json")
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	assert.JSONEq(t, `{"nodes":[],"nodes_by_type":{},"assignments":{"static":[],"queued":0}}`, w.Body.String())
}

func TestRouter_WebsocketFeed(t *testing.T) {
	r, bus := newRouter(t)
	srv := httptest.NewServer(r)
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()

	id := uuid.New()
	// The hub registers the client after the upgrade returns, so keep
	// publishing until the first event arrives.
	done := make(chan struct{})
	defer close(done)
	go func() {
		tick := time.NewTicker(20 * time.Millisecond)
		defer tick.Stop()
		for {
			select {
			case <-done:
				return
			case <-tick.C:
				_ = bus.Publish(context.Background(), event.New(event.TypeNodeAdded, id, "agent"))
			}
		}
	}()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Contains(t, string(msg), id.String())
	assert.Contains(t, string(msg), `"type":"node_added"`)
}
