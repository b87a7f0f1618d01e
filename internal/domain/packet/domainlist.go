package packet

import (
	"encoding/binary"
	"net/netip"

	"github.com/google/uuid"

	"github.com/alanyang/domain-server/internal/domain/node"
)

const (
	// MaxDatagram is the largest reply datagram the server emits.
	MaxDatagram = 1400
	// MaxFragments bounds the number of datagrams a single reply may span.
	MaxFragments = 8
)

// Status tells the checking-in node how its request was resolved.
type Status byte

const (
	StatusAssigned   Status = 0
	StatusUnassigned Status = 1
	StatusNoWork     Status = 2
)

func (s Status) String() string {
	switch s {
	case StatusAssigned:
		return "assigned"
	case StatusUnassigned:
		return "unassigned"
	case StatusNoWork:
		return "no-work"
	}
	return "unknown"
}

// Entry describes one peer in a DomainList reply.
type Entry struct {
	ID     uuid.UUID
	Type   node.Type
	Public netip.AddrPort
	Local  netip.AddrPort
}

func (e Entry) size() int {
	return 16 + 1 + addrLen(e.Public) + addrLen(e.Local)
}

// DomainList is one fragment of a membership reply.
type DomainList struct {
	Fragment      uint8
	FragmentCount uint8
	Status        Status
	OwnID         uuid.UUID
	OwnType       node.Type
	Entries       []Entry
}

// fragment, fragmentCount, status, own uuid, own type, entry count
const domainListFixed = headerLen + 1 + 1 + 1 + 16 + 1 + 2

// EncodeDomainList splits a reply into datagrams of at most MaxDatagram bytes.
// Entries are packed in order; once MaxFragments datagrams are full the
// remaining entries are dropped and their count returned. At least one
// datagram is always produced so the node learns its own identity.
func EncodeDomainList(status Status, ownID uuid.UUID, ownType node.Type, entries []Entry) (datagrams [][]byte, dropped int) {
	i := 0
	for len(datagrams) < MaxFragments {
		size := domainListFixed
		start := i
		for i < len(entries) && size+entries[i].size() <= MaxDatagram {
			size += entries[i].size()
			i++
		}
		datagrams = append(datagrams, encodeFragment(uint8(len(datagrams)), status, ownID, ownType, entries[start:i], size))
		if i == len(entries) {
			break
		}
	}
	for _, d := range datagrams {
		d[headerLen+1] = uint8(len(datagrams))
	}
	return datagrams, len(entries) - i
}

func encodeFragment(index uint8, status Status, ownID uuid.UUID, ownType node.Type, entries []Entry, size int) []byte {
	b := make([]byte, 0, size)
	b = append(b, byte(TypeDomainList), Version, index, 0, byte(status))
	b = append(b, ownID[:]...)
	b = append(b, byte(ownType))
	b = binary.BigEndian.AppendUint16(b, uint16(len(entries)))
	for _, e := range entries {
		b = append(b, e.ID[:]...)
		b = append(b, byte(e.Type))
		b = appendAddr(b, e.Public)
		b = appendAddr(b, e.Local)
	}
	return b
}

func DecodeDomainList(data []byte) (DomainList, error) {
	r, err := newReader(data, TypeDomainList)
	if err != nil {
		return DomainList{}, err
	}

	var d DomainList
	d.Fragment = r.u8()
	d.FragmentCount = r.u8()
	st := Status(r.u8())
	if r.err == nil && st > StatusNoWork {
		r.fail(ErrBadType)
	}
	d.Status = st
	d.OwnID = r.uuid()
	d.OwnType = r.nodeType()
	n := int(r.u16())
	for i := 0; i < n && r.err == nil; i++ {
		var e Entry
		e.ID = r.uuid()
		e.Type = r.nodeType()
		e.Public = r.addr()
		e.Local = r.addr()
		d.Entries = append(d.Entries, e)
	}
	if err := r.done(); err != nil {
		return DomainList{}, err
	}
	return d, nil
}
