// Package packet implements the datagram format spoken on the plain and
// secured domain sockets. All integers are big-endian and every datagram
// starts with a two-byte header: packet type, protocol version.
package packet

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net/netip"

	"github.com/google/uuid"

	"github.com/alanyang/domain-server/internal/domain/assignment"
	"github.com/alanyang/domain-server/internal/domain/node"
)

const Version = 1

type Type byte

const (
	TypeCheckIn           Type = 0x01
	TypeDomainList        Type = 0x02
	TypeRequestAssignment Type = 0x03
	TypeAssignmentDeploy  Type = 0x04
	TypeCreateAssignment  Type = 0x05
	TypeAssignmentCreated Type = 0x06
)

func (t Type) String() string {
	switch t {
	case TypeCheckIn:
		return "check-in"
	case TypeDomainList:
		return "domain-list"
	case TypeRequestAssignment:
		return "request-assignment"
	case TypeAssignmentDeploy:
		return "assignment-deploy"
	case TypeCreateAssignment:
		return "create-assignment"
	case TypeAssignmentCreated:
		return "assignment-created"
	}
	return fmt.Sprintf("unknown(0x%02x)", byte(t))
}

var (
	ErrTruncated = errors.New("packet: truncated")
	ErrTrailing  = errors.New("packet: trailing bytes")
	ErrBadType   = errors.New("packet: bad type tag")
	ErrVersion   = errors.New("packet: unsupported version")
	ErrTooLong   = errors.New("packet: field too long")
)

const headerLen = 2

// Peek returns the packet type of a datagram after checking its header.
func Peek(data []byte) (Type, error) {
	if len(data) < headerLen {
		return 0, ErrTruncated
	}
	if data[1] != Version {
		return 0, fmt.Errorf("%w: %d", ErrVersion, data[1])
	}
	return Type(data[0]), nil
}

// Address family tags.
const (
	familyNone byte = 0
	familyV4   byte = 4
	familyV6   byte = 6
)

// ── writer ───────────────────────────────────────────────────────────────────

type writer struct {
	buf []byte
	err error
}

func newWriter(t Type, sizeHint int) *writer {
	w := &writer{buf: make([]byte, 0, headerLen+sizeHint)}
	w.buf = append(w.buf, byte(t), Version)
	return w
}

func (w *writer) u8(v byte) { w.buf = append(w.buf, v) }

func (w *writer) u16(v uint16) { w.buf = binary.BigEndian.AppendUint16(w.buf, v) }

func (w *writer) uuid(id uuid.UUID) { w.buf = append(w.buf, id[:]...) }

func (w *writer) str(s string) {
	if len(s) > 0xff {
		w.fail(fmt.Errorf("%w: string of %d bytes", ErrTooLong, len(s)))
		return
	}
	w.u8(byte(len(s)))
	w.buf = append(w.buf, s...)
}

func (w *writer) blob(b []byte) {
	if len(b) > 0xffff {
		w.fail(fmt.Errorf("%w: blob of %d bytes", ErrTooLong, len(b)))
		return
	}
	w.u16(uint16(len(b)))
	w.buf = append(w.buf, b...)
}

func (w *writer) addr(ap netip.AddrPort) {
	w.buf = appendAddr(w.buf, ap)
}

func (w *writer) fail(err error) {
	if w.err == nil {
		w.err = err
	}
}

func (w *writer) bytes() ([]byte, error) {
	if w.err != nil {
		return nil, w.err
	}
	return w.buf, nil
}

func appendAddr(b []byte, ap netip.AddrPort) []byte {
	if !ap.IsValid() {
		return append(b, familyNone)
	}
	ip := ap.Addr().Unmap()
	if ip.Is4() {
		a := ip.As4()
		b = append(b, familyV4)
		b = append(b, a[:]...)
	} else {
		a := ip.As16()
		b = append(b, familyV6)
		b = append(b, a[:]...)
	}
	return binary.BigEndian.AppendUint16(b, ap.Port())
}

func addrLen(ap netip.AddrPort) int {
	if !ap.IsValid() {
		return 1
	}
	if ap.Addr().Unmap().Is4() {
		return 1 + 4 + 2
	}
	return 1 + 16 + 2
}

// ── reader ───────────────────────────────────────────────────────────────────

type reader struct {
	buf []byte
	off int
	err error
}

// newReader validates the header against want and positions after it.
func newReader(data []byte, want Type) (*reader, error) {
	t, err := Peek(data)
	if err != nil {
		return nil, err
	}
	if t != want {
		return nil, fmt.Errorf("%w: packet %s, want %s", ErrBadType, t, want)
	}
	return &reader{buf: data, off: headerLen}, nil
}

func (r *reader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || len(r.buf)-r.off < n {
		r.err = ErrTruncated
		return nil
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b
}

func (r *reader) u8() byte {
	b := r.take(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (r *reader) u16() uint16 {
	b := r.take(2)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint16(b)
}

func (r *reader) uuid() uuid.UUID {
	var id uuid.UUID
	if b := r.take(16); b != nil {
		copy(id[:], b)
	}
	return id
}

func (r *reader) str() string {
	n := int(r.u8())
	return string(r.take(n))
}

func (r *reader) blob() []byte {
	n := int(r.u16())
	b := r.take(n)
	if b == nil || n == 0 {
		return nil
	}
	out := make([]byte, n)
	copy(out, b)
	return out
}

func (r *reader) addr() netip.AddrPort {
	fam := r.u8()
	if r.err != nil {
		return netip.AddrPort{}
	}
	var ip netip.Addr
	switch fam {
	case familyNone:
		return netip.AddrPort{}
	case familyV4:
		b := r.take(4)
		if b == nil {
			return netip.AddrPort{}
		}
		ip = netip.AddrFrom4([4]byte(b))
	case familyV6:
		b := r.take(16)
		if b == nil {
			return netip.AddrPort{}
		}
		ip = netip.AddrFrom16([16]byte(b))
	default:
		r.fail(fmt.Errorf("%w: address family %d", ErrBadType, fam))
		return netip.AddrPort{}
	}
	return netip.AddrPortFrom(ip, r.u16())
}

func (r *reader) nodeType() node.Type {
	b := r.u8()
	if r.err != nil {
		return 0
	}
	t, err := node.ParseType(b)
	if err != nil {
		r.fail(fmt.Errorf("%w: %v", ErrBadType, err))
	}
	return t
}

func (r *reader) assignmentType() assignment.Type {
	b := r.u8()
	if r.err != nil {
		return 0
	}
	t, err := assignment.ParseType(b)
	if err != nil {
		r.fail(fmt.Errorf("%w: %v", ErrBadType, err))
	}
	return t
}

func (r *reader) fail(err error) {
	if r.err == nil {
		r.err = err
	}
}

// done reports the first decode error, or ErrTrailing when bytes remain.
func (r *reader) done() error {
	if r.err != nil {
		return r.err
	}
	if r.off != len(r.buf) {
		return fmt.Errorf("%w: %d", ErrTrailing, len(r.buf)-r.off)
	}
	return nil
}
