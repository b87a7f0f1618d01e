// Package dtls runs one DTLS session per remote address over a single shared
// UDP socket. The socket loop hands every datagram to Manager.HandleDatagram;
// decrypted application data goes to a Handler and its replies are encrypted
// back to the same peer.
//
// A ClientHello only earns a pending challenge: pion answers it with a
// HelloVerifyRequest and the manager records that cookie. The peer takes a
// handshake slot once a later ClientHello from the same address echoes it.
package dtls

import (
	"context"
	"crypto/subtle"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/netip"
	"sync"
	"time"

	"github.com/pion/dtls/v2"

	"github.com/alanyang/domain-server/internal/security"
)

type State int

const (
	StateNone State = iota
	StateHandshaking
	StateEstablished
)

func (s State) String() string {
	switch s {
	case StateHandshaking:
		return "handshaking"
	case StateEstablished:
		return "established"
	default:
		return "none"
	}
}

// Handler processes one decrypted datagram and returns the replies to send.
type Handler func(ctx context.Context, data []byte, from netip.AddrPort) [][]byte

type Config struct {
	HandshakeTimeout time.Duration
	IdleTimeout      time.Duration
	MaxHandshakes    int
	MaxPending       int
	PendingTimeout   time.Duration
}

func (c Config) withDefaults() Config {
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = 5 * time.Second
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = 30 * time.Second
	}
	if c.MaxHandshakes <= 0 {
		c.MaxHandshakes = 256
	}
	if c.MaxPending <= 0 {
		c.MaxPending = 1024
	}
	if c.PendingTimeout <= 0 {
		c.PendingTimeout = 2 * time.Second
	}
	return c
}

// pion refuses to hand out a record larger than the caller's buffer.
const readBufferSize = 8192

type serveFunc func(ctx context.Context, conn net.Conn) (io.ReadWriteCloser, error)

type session struct {
	addr     netip.AddrPort
	pc       *packetConn
	state    State
	pending  bool
	cookie   []byte
	conn     io.ReadWriteCloser
	started  time.Time
	lastSeen time.Time
	once     sync.Once
}

type Manager struct {
	cfg     Config
	handler Handler
	serve   serveFunc

	mu         sync.Mutex
	sessions   map[netip.AddrPort]*session
	handshakes int
	pending    int
	local      net.Addr
	write      writeFunc

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	now    func() time.Time
}

func NewManager(sec *security.Context, cfg Config, handler Handler) *Manager {
	dcfg := sec.DTLSConfig()
	dcfg.LoggerFactory = slogFactory{}

	return newManager(cfg, handler, func(ctx context.Context, conn net.Conn) (io.ReadWriteCloser, error) {
		c, err := dtls.ServerWithContext(ctx, conn, dcfg)
		if err != nil {
			return nil, err
		}
		return c, nil
	})
}

func newManager(cfg Config, handler Handler, serve serveFunc) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		cfg:      cfg.withDefaults(),
		handler:  handler,
		serve:    serve,
		sessions: make(map[netip.AddrPort]*session),
		ctx:      ctx,
		cancel:   cancel,
		now:      time.Now,
	}
}

// Bind attaches the secured socket. Datagrams arriving before Bind are dropped.
func (m *Manager) Bind(conn *net.UDPConn) {
	m.mu.Lock()
	m.local = conn.LocalAddr()
	m.write = func(b []byte, to netip.AddrPort) error {
		_, err := conn.WriteToUDPAddrPort(b, to)
		return err
	}
	m.mu.Unlock()
}

// HandleDatagram routes one raw datagram from the secured socket. It copies
// data and never blocks.
func (m *Manager) HandleDatagram(data []byte, from netip.AddrPort) {
	from = netip.AddrPortFrom(from.Addr().Unmap(), from.Port())
	now := m.now()

	m.mu.Lock()
	if m.write == nil || m.ctx.Err() != nil {
		m.mu.Unlock()
		return
	}

	var evicted *session
	s := m.sessions[from]
	if s != nil && s.pending {
		if !m.verifyCookie(s, data, now) {
			m.mu.Unlock()
			return
		}
	} else {
		st := StateNone
		if s != nil {
			st = s.state
		}
		switch classify(st, data) {
		case drop:
			m.mu.Unlock()
			return
		case start:
			s, evicted = m.challenge(from, now)
		case feed:
			s.lastSeen = now
		}
	}
	pc := s.pc
	m.mu.Unlock()

	if evicted != nil {
		slog.Debug("dtls pending limit reached, evicting oldest challenge", "addr", evicted.addr, "limit", m.cfg.MaxPending)
		m.remove(evicted)
	}
	if !pc.push(append([]byte(nil), data...)) {
		slog.Debug("dtls session inbox full, dropping datagram", "addr", from)
	}
}

// challenge opens a pending session for a fresh ClientHello. It returns the
// oldest pending session when the pending table is full. Callers hold m.mu.
func (m *Manager) challenge(from netip.AddrPort, now time.Time) (*session, *session) {
	var oldest *session
	if m.pending >= m.cfg.MaxPending {
		for _, p := range m.sessions {
			if p.pending && (oldest == nil || p.started.Before(oldest.started)) {
				oldest = p
			}
		}
		if oldest != nil {
			delete(m.sessions, oldest.addr)
		}
	}

	s := &session{addr: from, pending: true, started: now, lastSeen: now}
	write := m.write
	s.pc = newPacketConn(m.local, from, func(b []byte, to netip.AddrPort) error {
		if cookie, ok := helloVerifyCookie(b); ok {
			m.mu.Lock()
			if s.pending {
				s.cookie = cookie
			}
			m.mu.Unlock()
		}
		return write(b, to)
	})
	m.sessions[from] = s
	m.pending++
	m.wg.Add(1)
	go m.run(s)
	return s, oldest
}

// verifyCookie decides whether a datagram from a pending peer reaches pion.
// A retransmitted first hello passes; a hello echoing the recorded cookie
// promotes the session into a handshake slot. Callers hold m.mu.
func (m *Manager) verifyCookie(s *session, data []byte, now time.Time) bool {
	cookie, ok := helloCookie(data)
	if !ok {
		return false
	}
	if len(cookie) == 0 {
		return true
	}
	if s.cookie == nil || subtle.ConstantTimeCompare(cookie, s.cookie) != 1 {
		slog.Debug("dtls client hello echoed an unknown cookie", "addr", s.addr)
		return false
	}
	if m.handshakes >= m.cfg.MaxHandshakes {
		slog.Debug("dtls handshake limit reached, dropping client hello", "addr", s.addr, "limit", m.cfg.MaxHandshakes)
		return false
	}
	s.pending = false
	s.state = StateHandshaking
	s.started = now
	s.lastSeen = now
	m.pending--
	m.handshakes++
	return true
}

func (m *Manager) run(s *session) {
	defer m.wg.Done()
	defer m.remove(s)

	ctx, cancel := context.WithTimeout(m.ctx, m.cfg.HandshakeTimeout)
	conn, err := m.serve(ctx, s.pc)
	cancel()
	if err != nil {
		slog.Debug("dtls handshake failed", "addr", s.addr, "error", err)
		return
	}

	m.mu.Lock()
	if m.sessions[s.addr] != s || s.state != StateHandshaking {
		m.mu.Unlock()
		_ = conn.Close()
		return
	}
	s.state = StateEstablished
	s.conn = conn
	s.lastSeen = m.now()
	m.handshakes--
	m.mu.Unlock()

	slog.Info("dtls session established", "addr", s.addr)
	m.serveSession(s, conn)
}

func (m *Manager) serveSession(s *session, conn io.ReadWriter) {
	buf := make([]byte, readBufferSize)
	for {
		n, err := conn.Read(buf)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				return
			}
			slog.Debug("dtls read error", "addr", s.addr, "error", err)
			continue
		}

		data := append([]byte(nil), buf[:n]...)
		for _, reply := range m.handler(m.ctx, data, s.addr) {
			if _, err := conn.Write(reply); err != nil {
				slog.Warn("dtls write failed", "addr", s.addr, "error", err)
				return
			}
		}
	}
}

func (m *Manager) remove(s *session) {
	s.once.Do(func() {
		m.mu.Lock()
		if m.sessions[s.addr] == s {
			delete(m.sessions, s.addr)
		}
		switch {
		case s.pending:
			m.pending--
		case s.state == StateHandshaking:
			m.handshakes--
		}
		s.pending = false
		established := s.state == StateEstablished
		s.state = StateNone
		conn := s.conn
		m.mu.Unlock()

		if conn != nil {
			_ = conn.Close()
		}
		_ = s.pc.Close()
		if established {
			slog.Info("dtls session closed", "addr", s.addr)
		}
	})
}

// Sweep evicts sessions idle beyond IdleTimeout, handshakes running longer
// than HandshakeTimeout and challenges unanswered after PendingTimeout.
func (m *Manager) Sweep(now time.Time) int {
	var expired []*session
	m.mu.Lock()
	for _, s := range m.sessions {
		switch s.state {
		case StateNone:
			if s.pending && now.Sub(s.started) > m.cfg.PendingTimeout {
				expired = append(expired, s)
			}
		case StateHandshaking:
			if now.Sub(s.started) > m.cfg.HandshakeTimeout {
				expired = append(expired, s)
			}
		case StateEstablished:
			if now.Sub(s.lastSeen) > m.cfg.IdleTimeout {
				expired = append(expired, s)
			}
		}
	}
	m.mu.Unlock()

	for _, s := range expired {
		m.remove(s)
	}
	return len(expired)
}

// State reports the session state for addr.
func (m *Manager) State(addr netip.AddrPort) State {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[netip.AddrPortFrom(addr.Addr().Unmap(), addr.Port())]; ok {
		return s.state
	}
	return StateNone
}

// Sessions counts established sessions.
func (m *Manager) Sessions() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions) - m.handshakes - m.pending
}

func (m *Manager) Handshakes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.handshakes
}

// Pending counts peers challenged with a cookie that have not echoed it yet.
func (m *Manager) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pending
}

// Close releases every session and waits for their goroutines.
func (m *Manager) Close() error {
	m.cancel()

	m.mu.Lock()
	all := make([]*session, 0, len(m.sessions))
	for _, s := range m.sessions {
		all = append(all, s)
	}
	m.mu.Unlock()

	for _, s := range all {
		m.remove(s)
	}
	m.wg.Wait()
	return nil
}
