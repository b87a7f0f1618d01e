package packet

import (
	"net/netip"

	"github.com/google/uuid"

	"github.com/alanyang/domain-server/internal/domain/node"
)

const (
	flagHasID    byte = 1 << 0
	flagHasToken byte = 1 << 1
)

// CheckIn is the membership request every node sends periodically.
type CheckIn struct {
	NodeType node.Type
	// ID is the UUID the node claims; uuid.Nil when it has none yet.
	ID        uuid.UUID
	Pool      string
	Public    netip.AddrPort
	Local     netip.AddrPort
	Interests []node.Type
	Token     []byte
}

func (c CheckIn) HasID() bool { return c.ID != uuid.Nil }

func EncodeCheckIn(c CheckIn) ([]byte, error) {
	if len(c.Interests) > 0xff {
		return nil, ErrTooLong
	}
	w := newWriter(TypeCheckIn, 64+len(c.Interests)+len(c.Token))
	w.u8(byte(c.NodeType))

	var flags byte
	if c.HasID() {
		flags |= flagHasID
	}
	if len(c.Token) > 0 {
		flags |= flagHasToken
	}
	w.u8(flags)
	if c.HasID() {
		w.uuid(c.ID)
	}
	w.str(c.Pool)
	w.addr(c.Public)
	w.addr(c.Local)
	w.u8(byte(len(c.Interests)))
	for _, t := range c.Interests {
		w.u8(byte(t))
	}
	if len(c.Token) > 0 {
		w.blob(c.Token)
	}
	return w.bytes()
}

func DecodeCheckIn(data []byte) (CheckIn, error) {
	r, err := newReader(data, TypeCheckIn)
	if err != nil {
		return CheckIn{}, err
	}

	var c CheckIn
	c.NodeType = r.nodeType()
	flags := r.u8()
	if flags&^(flagHasID|flagHasToken) != 0 {
		r.fail(ErrBadType)
	}
	if flags&flagHasID != 0 {
		c.ID = r.uuid()
	}
	c.Pool = r.str()
	c.Public = r.addr()
	c.Local = r.addr()
	if n := int(r.u8()); n > 0 && r.err == nil {
		c.Interests = make([]node.Type, 0, n)
		for i := 0; i < n && r.err == nil; i++ {
			c.Interests = append(c.Interests, r.nodeType())
		}
	}
	if flags&flagHasToken != 0 {
		c.Token = r.blob()
	}
	if err := r.done(); err != nil {
		return CheckIn{}, err
	}
	return c, nil
}
