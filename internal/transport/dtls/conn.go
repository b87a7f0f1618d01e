package dtls

import (
	"io"
	"net"
	"net/netip"
	"os"
	"sync"
	"time"
)

const inboxSize = 64

// writeFunc sends one datagram on the shared secured socket.
type writeFunc func(b []byte, to netip.AddrPort) error

// packetConn is the per-address view of the shared secured socket that pion
// reads from and writes to. The socket loop feeds it with push.
//
// pion interrupts a blocked Read by moving the read deadline into the past,
// so deadlines must wake Read.
type packetConn struct {
	local  net.Addr
	remote netip.AddrPort
	write  writeFunc

	inbox  chan []byte
	closed chan struct{}
	once   sync.Once

	mu         sync.Mutex
	deadline   time.Time
	deadlineCh chan struct{}
}

func newPacketConn(local net.Addr, remote netip.AddrPort, write writeFunc) *packetConn {
	return &packetConn{
		local:      local,
		remote:     remote,
		write:      write,
		inbox:      make(chan []byte, inboxSize),
		closed:     make(chan struct{}),
		deadlineCh: make(chan struct{}),
	}
}

// push queues a datagram without blocking. It reports false when the inbox is
// full or the conn is closed.
func (c *packetConn) push(b []byte) bool {
	select {
	case <-c.closed:
		return false
	default:
	}
	select {
	case c.inbox <- b:
		return true
	default:
		return false
	}
}

func (c *packetConn) Read(b []byte) (int, error) {
	for {
		c.mu.Lock()
		deadline, changed := c.deadline, c.deadlineCh
		c.mu.Unlock()

		var timer *time.Timer
		var expired <-chan time.Time
		if !deadline.IsZero() {
			d := time.Until(deadline)
			if d <= 0 {
				return 0, os.ErrDeadlineExceeded
			}
			timer = time.NewTimer(d)
			expired = timer.C
		}

		var (
			p    []byte
			err  error
			wake bool
		)
		select {
		case p = <-c.inbox:
		case <-c.closed:
			err = io.EOF
		case <-expired:
			wake = true
		case <-changed:
			wake = true
		}
		if timer != nil {
			timer.Stop()
		}
		if wake {
			continue
		}
		if err != nil {
			return 0, err
		}
		return copy(b, p), nil
	}
}

func (c *packetConn) Write(b []byte) (int, error) {
	select {
	case <-c.closed:
		return 0, net.ErrClosed
	default:
	}
	if err := c.write(b, c.remote); err != nil {
		return 0, err
	}
	return len(b), nil
}

func (c *packetConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *packetConn) LocalAddr() net.Addr  { return c.local }
func (c *packetConn) RemoteAddr() net.Addr { return net.UDPAddrFromAddrPort(c.remote) }

func (c *packetConn) SetDeadline(t time.Time) error { return c.SetReadDeadline(t) }

func (c *packetConn) SetReadDeadline(t time.Time) error {
	c.mu.Lock()
	c.deadline = t
	close(c.deadlineCh)
	c.deadlineCh = make(chan struct{})
	c.mu.Unlock()
	return nil
}

// Writes go straight to the socket and never block on the peer.
func (c *packetConn) SetWriteDeadline(time.Time) error { return nil }
