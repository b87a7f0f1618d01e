package udp_test

import (
	"context"
	"errors"
	"net"
	"net/netip"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	pdtls "github.com/pion/dtls/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyang/domain-server/internal/adapter/memory"
	"github.com/alanyang/domain-server/internal/adapter/ticket"
	"github.com/alanyang/domain-server/internal/domain/node"
	"github.com/alanyang/domain-server/internal/domain/packet"
	"github.com/alanyang/domain-server/internal/security"
	"github.com/alanyang/domain-server/internal/service/admission"
	svcassignment "github.com/alanyang/domain-server/internal/service/assignment"
	"github.com/alanyang/domain-server/internal/transport/dtls"
	"github.com/alanyang/domain-server/internal/transport/udp"
)

// recordingHandler answers every request type with a fixed reply.
type recordingHandler struct {
	mu       sync.Mutex
	calls    []string
	departed []uuid.UUID
	err      error
}

func (h *recordingHandler) record(name string) ([][]byte, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls = append(h.calls, name)
	if h.err != nil {
		return nil, h.err
	}
	return [][]byte{[]byte(name)}, nil
}

func (h *recordingHandler) HandleCheckIn(context.Context, []byte, netip.AddrPort) ([][]byte, error) {
	return h.record("check-in")
}

func (h *recordingHandler) RequestAssignment(context.Context, []byte, netip.AddrPort) ([][]byte, error) {
	return h.record("request")
}

func (h *recordingHandler) CreateAssignment(context.Context, []byte, netip.AddrPort) ([][]byte, error) {
	return h.record("create")
}

func (h *recordingHandler) Depart(_ context.Context, n node.Node) {
	h.mu.Lock()
	h.departed = append(h.departed, n.ID)
	h.mu.Unlock()
}

func TestDispatch(t *testing.T) {
	from := netip.MustParseAddrPort("203.0.113.5:40000")
	tests := []struct {
		name string
		data []byte
		want []string
	}{
		{"check-in", []byte{byte(packet.TypeCheckIn), packet.Version}, []string{"check-in"}},
		{"request", []byte{byte(packet.TypeRequestAssignment), packet.Version}, []string{"request"}},
		{"create", []byte{byte(packet.TypeCreateAssignment), packet.Version}, []string{"create"}},
		{"server-only type", []byte{byte(packet.TypeDomainList), packet.Version}, nil},
		{"unknown type", []byte{0x7f, packet.Version}, nil},
		{"bad version", []byte{byte(packet.TypeCheckIn), 9}, nil},
		{"empty", nil, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := &recordingHandler{}
			replies := udp.Dispatch(h)(context.Background(), tt.data, from)
			assert.Equal(t, tt.want, h.calls)
			assert.Len(t, replies, len(tt.want))
		})
	}
}

func TestDispatch_ErrorsAreSilent(t *testing.T) {
	h := &recordingHandler{err: admission.ErrUnauthenticated}
	replies := udp.Dispatch(h)(context.Background(), []byte{byte(packet.TypeCheckIn), packet.Version}, netip.MustParseAddrPort("203.0.113.5:40000"))
	assert.Empty(t, replies)

	h.err = errors.New("boom")
	replies = udp.Dispatch(h)(context.Background(), []byte{byte(packet.TypeCheckIn), packet.Version}, netip.MustParseAddrPort("203.0.113.5:40000"))
	assert.Empty(t, replies)
}

func TestServer_DepartureCallback(t *testing.T) {
	h := &recordingHandler{}
	nodes := memory.NewNodeList()
	udp.New(udp.Config{PlainAddr: "127.0.0.1:0"}, h, nodes, nil)

	n := node.Node{ID: uuid.New(), Type: node.TypeAgent, LastActive: time.Now().Add(-time.Minute)}
	nodes.Upsert(n)
	nodes.Sweep(time.Now(), time.Second)

	assert.Equal(t, []uuid.UUID{n.ID}, h.departed)
}

func newDomain(t *testing.T) (*admission.Service, *memory.NodeList) {
	t.Helper()
	bus := memory.NewEventBus()
	reg := svcassignment.NewRegistry(uuid.New(), memory.NewAssignmentStore(), bus)
	require.NoError(t, reg.Configure(context.Background(), nil, nil))
	nodes := memory.NewNodeList()
	return admission.NewService(nodes, reg, ticket.Disabled{}, bus, admission.Config{}), nodes
}

func startServer(t *testing.T, secured bool) (*udp.Server, *memory.NodeList) {
	t.Helper()
	svc, nodes := newDomain(t)

	var sessions *dtls.Manager
	if secured {
		sec, err := security.Ephemeral()
		require.NoError(t, err)
		sessions = dtls.NewManager(sec, dtls.Config{HandshakeTimeout: 5 * time.Second}, udp.Dispatch(svc))
	}

	srv := udp.New(udp.Config{PlainAddr: "127.0.0.1:0", SecuredAddr: "127.0.0.1:0"}, svc, nodes, sessions)
	require.NoError(t, srv.Start(context.Background()))
	t.Cleanup(func() { _ = srv.Close() })

	select {
	case <-srv.Ready():
	default:
		t.Fatal("server not ready after Start")
	}
	return srv, nodes
}

func agentCheckIn(t *testing.T) []byte {
	t.Helper()
	b, err := packet.EncodeCheckIn(packet.CheckIn{NodeType: node.TypeAgent})
	require.NoError(t, err)
	return b
}

func TestServer_PlainCheckIn(t *testing.T) {
	srv, nodes := startServer(t, false)
	assert.False(t, srv.SecuredAddr().IsValid())

	conn, err := net.DialUDP("udp", nil, net.UDPAddrFromAddrPort(srv.PlainAddr()))
	require.NoError(t, err)
	defer conn.Close()

	// Garbage first: it must not stop the loop.
	_, err = conn.Write([]byte{0xff})
	require.NoError(t, err)
	_, err = conn.Write(agentCheckIn(t))
	require.NoError(t, err)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	buf := make([]byte, packet.MaxDatagram)
	n, err := conn.Read(buf)
	require.NoError(t, err)

	dl, err := packet.DecodeDomainList(buf[:n])
	require.NoError(t, err)
	assert.Equal(t, packet.StatusUnassigned, dl.Status)

	got, ok := nodes.Get(dl.OwnID)
	require.True(t, ok)
	assert.Equal(t, netip.MustParseAddrPort(conn.LocalAddr().String()), got.Public)
}

func TestServer_SecuredCheckIn(t *testing.T) {
	srv, nodes := startServer(t, true)
	require.True(t, srv.SecuredAddr().IsValid())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	client, err := pdtls.DialWithContext(ctx, "udp", net.UDPAddrFromAddrPort(srv.SecuredAddr()), &pdtls.Config{
		InsecureSkipVerify:   true,
		ExtendedMasterSecret: pdtls.RequireExtendedMasterSecret,
	})
	require.NoError(t, err)
	defer client.Close()

	_, err = client.Write(agentCheckIn(t))
	require.NoError(t, err)

	require.NoError(t, client.SetReadDeadline(time.Now().Add(5*time.Second)))
	buf := make([]byte, 8192)
	n, err := client.Read(buf)
	require.NoError(t, err)

	dl, err := packet.DecodeDomainList(buf[:n])
	require.NoError(t, err)
	_, ok := nodes.Get(dl.OwnID)
	assert.True(t, ok)
}

func TestServer_CloseIsIdempotent(t *testing.T) {
	srv, _ := startServer(t, true)
	require.NoError(t, srv.Close())
	require.NoError(t, srv.Close())
}
