package packet_test

import (
	"fmt"
	"net/netip"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyang/domain-server/internal/domain/assignment"
	"github.com/alanyang/domain-server/internal/domain/node"
	"github.com/alanyang/domain-server/internal/domain/packet"
)

func validCheckIn(t *testing.T) []byte {
	t.Helper()
	b, err := packet.EncodeCheckIn(packet.CheckIn{
		NodeType:  node.TypeAgent,
		ID:        uuid.New(),
		Pool:      "east",
		Public:    netip.MustParseAddrPort("203.0.113.7:40104"),
		Local:     netip.MustParseAddrPort("[fd00::7]:40104"),
		Interests: []node.Type{node.TypeAudioMixer, node.TypeAvatarMixer},
		Token:     []byte("ticket"),
	})
	require.NoError(t, err)
	return b
}

func TestCheckIn_RoundTrip(t *testing.T) {
	in := packet.CheckIn{
		NodeType:  node.TypeVoxelServer,
		ID:        uuid.New(),
		Pool:      "east",
		Public:    netip.MustParseAddrPort("203.0.113.7:40104"),
		Local:     netip.MustParseAddrPort("[fd00::7]:40104"),
		Interests: []node.Type{node.TypeAudioMixer, node.TypeAgent},
		Token:     []byte{1, 2, 3},
	}
	b, err := packet.EncodeCheckIn(in)
	require.NoError(t, err)

	typ, err := packet.Peek(b)
	require.NoError(t, err)
	assert.Equal(t, packet.TypeCheckIn, typ)

	out, err := packet.DecodeCheckIn(b)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestCheckIn_MinimalHasNoOptionalFields(t *testing.T) {
	b, err := packet.EncodeCheckIn(packet.CheckIn{NodeType: node.TypeAgent})
	require.NoError(t, err)

	out, err := packet.DecodeCheckIn(b)
	require.NoError(t, err)
	assert.False(t, out.HasID())
	assert.Nil(t, out.Token)
	assert.Empty(t, out.Interests)
	assert.False(t, out.Public.IsValid())
}

func TestCheckIn_MappedAddressEncodesAsV4(t *testing.T) {
	mapped := netip.AddrPortFrom(netip.MustParseAddr("::ffff:10.0.0.1"), 9000)
	b, err := packet.EncodeCheckIn(packet.CheckIn{NodeType: node.TypeAgent, Public: mapped})
	require.NoError(t, err)

	out, err := packet.DecodeCheckIn(b)
	require.NoError(t, err)
	assert.Equal(t, netip.MustParseAddrPort("10.0.0.1:9000"), out.Public)
}

func TestDecodeCheckIn_Rejects(t *testing.T) {
	good := validCheckIn(t)

	tests := []struct {
		name    string
		mutate  func([]byte) []byte
		wantErr error
	}{
		{"empty", func([]byte) []byte { return nil }, packet.ErrTruncated},
		{"header only", func(b []byte) []byte { return b[:2] }, packet.ErrTruncated},
		{"truncated tail", func(b []byte) []byte { return b[:len(b)-1] }, packet.ErrTruncated},
		{"trailing byte", func(b []byte) []byte { return append(b, 0) }, packet.ErrTrailing},
		{"bad version", func(b []byte) []byte { b[1] = 9; return b }, packet.ErrVersion},
		{"wrong packet type", func(b []byte) []byte { b[0] = byte(packet.TypeDomainList); return b }, packet.ErrBadType},
		{"bad node type", func(b []byte) []byte { b[2] = 'Z'; return b }, packet.ErrBadType},
		{"unknown flag", func(b []byte) []byte { b[3] |= 0x80; return b }, packet.ErrBadType},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := append([]byte(nil), good...)
			_, err := packet.DecodeCheckIn(tt.mutate(b))
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestEncodeCheckIn_PoolTooLong(t *testing.T) {
	long := make([]byte, 256)
	_, err := packet.EncodeCheckIn(packet.CheckIn{NodeType: node.TypeAgent, Pool: string(long)})
	assert.ErrorIs(t, err, packet.ErrTooLong)
}

func entries(n int) []packet.Entry {
	out := make([]packet.Entry, n)
	for i := range out {
		out[i] = packet.Entry{
			ID:     uuid.New(),
			Type:   node.TypeAgent,
			Public: netip.MustParseAddrPort(fmt.Sprintf("[2001:db8::%x]:%d", i+1, 10000+i)),
			Local:  netip.MustParseAddrPort(fmt.Sprintf("[fd00::%x]:%d", i+1, 10000+i)),
		}
	}
	return out
}

func TestEncodeDomainList_SingleFragment(t *testing.T) {
	own := uuid.New()
	in := entries(3)

	dgrams, dropped := packet.EncodeDomainList(packet.StatusAssigned, own, node.TypeAudioMixer, in)
	require.Len(t, dgrams, 1)
	assert.Zero(t, dropped)

	d, err := packet.DecodeDomainList(dgrams[0])
	require.NoError(t, err)
	assert.Equal(t, uint8(0), d.Fragment)
	assert.Equal(t, uint8(1), d.FragmentCount)
	assert.Equal(t, packet.StatusAssigned, d.Status)
	assert.Equal(t, own, d.OwnID)
	assert.Equal(t, node.TypeAudioMixer, d.OwnType)
	assert.Equal(t, in, d.Entries)
}

func TestEncodeDomainList_EmptyStillIdentifies(t *testing.T) {
	own := uuid.New()
	dgrams, dropped := packet.EncodeDomainList(packet.StatusNoWork, own, node.TypeVoxelServer, nil)
	require.Len(t, dgrams, 1)
	assert.Zero(t, dropped)

	d, err := packet.DecodeDomainList(dgrams[0])
	require.NoError(t, err)
	assert.Equal(t, packet.StatusNoWork, d.Status)
	assert.Equal(t, own, d.OwnID)
	assert.Empty(t, d.Entries)
}

func TestEncodeDomainList_FragmentsPreserveOrder(t *testing.T) {
	own := uuid.New()
	in := entries(60) // 55 bytes each, 25 per datagram

	dgrams, dropped := packet.EncodeDomainList(packet.StatusUnassigned, own, node.TypeAgent, in)
	require.Len(t, dgrams, 3)
	assert.Zero(t, dropped)

	var got []packet.Entry
	for i, raw := range dgrams {
		assert.LessOrEqual(t, len(raw), packet.MaxDatagram)
		d, err := packet.DecodeDomainList(raw)
		require.NoError(t, err)
		assert.Equal(t, uint8(i), d.Fragment)
		assert.Equal(t, uint8(3), d.FragmentCount)
		assert.Equal(t, own, d.OwnID, "every fragment repeats the node's own identity")
		got = append(got, d.Entries...)
	}
	assert.Equal(t, in, got)
}

func TestEncodeDomainList_OverflowDropsTail(t *testing.T) {
	in := entries(500)

	dgrams, dropped := packet.EncodeDomainList(packet.StatusUnassigned, uuid.New(), node.TypeAgent, in)
	require.Len(t, dgrams, packet.MaxFragments)

	kept := 0
	for _, raw := range dgrams {
		d, err := packet.DecodeDomainList(raw)
		require.NoError(t, err)
		kept += len(d.Entries)
	}
	assert.Equal(t, len(in), kept+dropped)
	assert.Positive(t, dropped)

	last, err := packet.DecodeDomainList(dgrams[len(dgrams)-1])
	require.NoError(t, err)
	assert.Equal(t, in[kept-1].ID, last.Entries[len(last.Entries)-1].ID, "the head of the list survives")
}

func TestDecodeDomainList_BadStatus(t *testing.T) {
	dgrams, _ := packet.EncodeDomainList(packet.StatusAssigned, uuid.New(), node.TypeAgent, nil)
	raw := dgrams[0]
	raw[4] = 7
	_, err := packet.DecodeDomainList(raw)
	assert.ErrorIs(t, err, packet.ErrBadType)
}

func TestAssignmentPackets(t *testing.T) {
	t.Run("request", func(t *testing.T) {
		b, err := packet.EncodeRequestAssignment(packet.RequestAssignment{Type: assignment.TypeVoxelServer, Pool: "east"})
		require.NoError(t, err)
		p, err := packet.DecodeRequestAssignment(b)
		require.NoError(t, err)
		assert.Equal(t, assignment.TypeVoxelServer, p.Type)
		assert.Equal(t, "east", p.Pool)
	})

	t.Run("request bad assignment type", func(t *testing.T) {
		b, err := packet.EncodeRequestAssignment(packet.RequestAssignment{Type: assignment.Type(42)})
		require.NoError(t, err)
		_, err = packet.DecodeRequestAssignment(b)
		assert.ErrorIs(t, err, packet.ErrBadType)
	})

	t.Run("deploy", func(t *testing.T) {
		in := packet.AssignmentDeploy{ID: uuid.New(), Type: assignment.TypeAgent, Pool: "bots", Payload: []byte("script.js")}
		b, err := packet.EncodeAssignmentDeploy(in)
		require.NoError(t, err)
		out, err := packet.DecodeAssignmentDeploy(b)
		require.NoError(t, err)
		assert.Equal(t, in, out)
	})

	t.Run("create and created", func(t *testing.T) {
		b, err := packet.EncodeCreateAssignment(packet.CreateAssignment{Type: assignment.TypeAudioMixer, Payload: []byte{0xff}})
		require.NoError(t, err)
		p, err := packet.DecodeCreateAssignment(b)
		require.NoError(t, err)
		assert.Equal(t, assignment.TypeAudioMixer, p.Type)
		assert.Equal(t, []byte{0xff}, p.Payload)

		id := uuid.New()
		b, err = packet.EncodeAssignmentCreated(packet.AssignmentCreated{ID: id})
		require.NoError(t, err)
		ack, err := packet.DecodeAssignmentCreated(b)
		require.NoError(t, err)
		assert.Equal(t, id, ack.ID)
	})
}
