// Package udp owns the domain server's datagram sockets: a plain socket for
// unencrypted check-ins and, when enabled, a secured socket whose traffic is
// decrypted by the DTLS session manager before the same dispatch.
package udp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"sync"

	"github.com/alanyang/domain-server/internal/domain/node"
	"github.com/alanyang/domain-server/internal/domain/packet"
	"github.com/alanyang/domain-server/internal/port/nodelist"
	"github.com/alanyang/domain-server/internal/service/admission"
	"github.com/alanyang/domain-server/internal/transport/dtls"
)

// Largest UDP payload; anything bigger cannot arrive in one datagram.
const readBufferSize = 65535

// Handler serves the three request packets and node departures.
type Handler interface {
	HandleCheckIn(ctx context.Context, raw []byte, from netip.AddrPort) ([][]byte, error)
	RequestAssignment(ctx context.Context, raw []byte, from netip.AddrPort) ([][]byte, error)
	CreateAssignment(ctx context.Context, raw []byte, from netip.AddrPort) ([][]byte, error)
	Depart(ctx context.Context, n node.Node)
}

var _ Handler = (*admission.Service)(nil)

// Dispatch routes a plaintext datagram by packet type. Unknown or failing
// packets produce no replies.
func Dispatch(h Handler) dtls.Handler {
	return func(ctx context.Context, data []byte, from netip.AddrPort) [][]byte {
		t, err := packet.Peek(data)
		if err != nil {
			slog.DebugContext(ctx, "dropping datagram", "from", from, "error", err)
			return nil
		}

		var replies [][]byte
		switch t {
		case packet.TypeCheckIn:
			replies, err = h.HandleCheckIn(ctx, data, from)
		case packet.TypeRequestAssignment:
			replies, err = h.RequestAssignment(ctx, data, from)
		case packet.TypeCreateAssignment:
			replies, err = h.CreateAssignment(ctx, data, from)
		default:
			slog.DebugContext(ctx, "dropping unexpected packet type", "from", from, "type", t)
			return nil
		}
		if err != nil {
			logRejection(ctx, t, from, err)
			return nil
		}
		return replies
	}
}

func logRejection(ctx context.Context, t packet.Type, from netip.AddrPort, err error) {
	switch {
	case errors.Is(err, admission.ErrMalformed):
		slog.DebugContext(ctx, "malformed packet", "type", t, "from", from, "error", err)
	case errors.Is(err, admission.ErrUnauthenticated), errors.Is(err, admission.ErrUntrusted), errors.Is(err, admission.ErrRejected):
		slog.InfoContext(ctx, "packet rejected", "type", t, "from", from, "error", err)
	default:
		slog.ErrorContext(ctx, "packet handling failed", "type", t, "from", from, "error", err)
	}
}

type Config struct {
	PlainAddr string
	// SecuredAddr is ignored when the server has no session manager.
	SecuredAddr string
}

type Server struct {
	cfg      Config
	dispatch dtls.Handler
	sessions *dtls.Manager

	plain   *net.UDPConn
	secured *net.UDPConn

	ready     chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// New creates a server. sessions may be nil to run plain-only. The handler's
// Depart is registered as the node registry's departure callback.
func New(cfg Config, handler Handler, nodes nodelist.Registry, sessions *dtls.Manager) *Server {
	nodes.OnDeparture(func(n node.Node) {
		handler.Depart(context.Background(), n)
	})
	return &Server{
		cfg:      cfg,
		dispatch: Dispatch(handler),
		sessions: sessions,
		ready:    make(chan struct{}),
	}
}

// Start binds the sockets and starts one read goroutine per socket. Datagrams
// on a socket are handled in arrival order.
func (s *Server) Start(ctx context.Context) error {
	plain, err := listen(s.cfg.PlainAddr)
	if err != nil {
		return fmt.Errorf("bind plain socket: %w", err)
	}
	s.plain = plain

	if s.sessions != nil {
		secured, err := listen(s.cfg.SecuredAddr)
		if err != nil {
			_ = plain.Close()
			return fmt.Errorf("bind secured socket: %w", err)
		}
		s.secured = secured
		s.sessions.Bind(secured)
	}

	s.wg.Add(1)
	go s.readLoop(plain, func(data []byte, from netip.AddrPort) {
		for _, reply := range s.dispatch(ctx, data, from) {
			if _, err := plain.WriteToUDPAddrPort(reply, from); err != nil {
				slog.WarnContext(ctx, "udp write failed", "to", from, "error", err)
			}
		}
	})
	if s.secured != nil {
		s.wg.Add(1)
		go s.readLoop(s.secured, s.sessions.HandleDatagram)
	}

	close(s.ready)
	slog.InfoContext(ctx, "udp server listening", "plain", s.PlainAddr(), "secured", s.SecuredAddr())
	return nil
}

func listen(addr string) (*net.UDPConn, error) {
	ua, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, err
	}
	return net.ListenUDP("udp", ua)
}

func (s *Server) readLoop(conn *net.UDPConn, handle func([]byte, netip.AddrPort)) {
	defer s.wg.Done()
	buf := make([]byte, readBufferSize)
	for {
		n, from, err := conn.ReadFromUDPAddrPort(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			slog.Warn("udp read failed", "local", conn.LocalAddr(), "error", err)
			continue
		}
		handle(buf[:n], netip.AddrPortFrom(from.Addr().Unmap(), from.Port()))
	}
}

// Ready is closed once the sockets are bound.
func (s *Server) Ready() <-chan struct{} { return s.ready }

func (s *Server) PlainAddr() netip.AddrPort { return addrOf(s.plain) }

// SecuredAddr is the zero value when DTLS is disabled.
func (s *Server) SecuredAddr() netip.AddrPort { return addrOf(s.secured) }

func addrOf(c *net.UDPConn) netip.AddrPort {
	if c == nil {
		return netip.AddrPort{}
	}
	return c.LocalAddr().(*net.UDPAddr).AddrPort()
}

// Close stops the sessions and the read loops.
func (s *Server) Close() error {
	var err error
	s.closeOnce.Do(func() {
		if s.sessions != nil {
			err = errors.Join(err, s.sessions.Close())
		}
		if s.plain != nil {
			err = errors.Join(err, s.plain.Close())
		}
		if s.secured != nil {
			err = errors.Join(err, s.secured.Close())
		}
		s.wg.Wait()
	})
	return err
}
