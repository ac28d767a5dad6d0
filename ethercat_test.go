package ethercat

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddrEncode(t *testing.T) {
	assert.Equal(t, uint32(0x01020000), Fixed(0, 0x0102).Encode())
	assert.Equal(t, uint32(0x01020003), Fixed(3, 0x0102).Encode())
	assert.Equal(t, uint32(0x0102FFFE), AutoInc(0xFFFE, 0x0102).Encode())
	assert.Equal(t, uint32(0x01020000), Broadcast(0x0102).Encode())
	assert.Equal(t, uint32(0xDEADBEEF), Logical(0xDEADBEEF).Encode())
}

func TestAddrCommands(t *testing.T) {
	read, write, rw := Fixed(1000, 0x0130).Commands()
	assert.Equal(t, CmdFPRD, read)
	assert.Equal(t, CmdFPWR, write)
	assert.Equal(t, CmdFPRW, rw)

	read, write, rw = Logical(0).Commands()
	assert.Equal(t, CmdLRD, read)
	assert.Equal(t, CmdLWR, write)
	assert.Equal(t, CmdLRW, rw)
}

func TestDatagramMarshalUnmarshalRoundTrip(t *testing.T) {
	d := Datagram{
		Cmd:     CmdFPWR,
		Idx:     7,
		Adr:     Fixed(1000, RegALControl).Encode(),
		Payload: []byte{0x02, 0x00},
		Wkc:     0,
	}
	buf := d.Marshal(nil)
	require.Len(t, buf, DatagramHeaderLen+len(d.Payload)+DatagramWkcLen)

	got, n, err := UnmarshalDatagram(buf)
	require.NoError(t, err)
	assert.Equal(t, len(buf), n)
	assert.Equal(t, d.Cmd, got.Cmd)
	assert.Equal(t, d.Idx, got.Idx)
	assert.Equal(t, d.Adr, got.Adr)
	assert.Equal(t, d.Payload, got.Payload)
	assert.False(t, got.Next)
}

func TestUnmarshalDatagramShortFrame(t *testing.T) {
	_, _, err := UnmarshalDatagram([]byte{0x01, 0x02})
	require.Error(t, err)
	var ecErr *Error
	require.ErrorAs(t, err, &ecErr)
	assert.Equal(t, KindShortFrame, ecErr.Kind)
}

func TestFrameMarshalParseRoundTrip(t *testing.T) {
	f := &Frame{
		Dst: BroadcastMAC,
		Src: [6]byte{0x02, 0x00, 0x00, 0x00, 0x00, 0x01},
		Datagrams: []Datagram{
			{Cmd: CmdBRD, Adr: Broadcast(RegALStatus).Encode(), Payload: make([]byte, 2)},
			{Cmd: CmdFPWR, Adr: Fixed(1000, RegALControl).Encode(), Payload: []byte{0x01, 0x00}},
		},
	}
	raw := f.Marshal()

	got, err := ParseFrame(raw)
	require.NoError(t, err)
	assert.Equal(t, f.Dst, got.Dst)
	assert.Equal(t, f.Src, got.Src)
	require.Len(t, got.Datagrams, 2)
	assert.Equal(t, CmdBRD, got.Datagrams[0].Cmd)
	assert.True(t, got.Datagrams[0].Next)
	assert.Equal(t, CmdFPWR, got.Datagrams[1].Cmd)
	assert.False(t, got.Datagrams[1].Next)
}

func TestParseFrameRejectsWrongEtherType(t *testing.T) {
	raw := make([]byte, 16)
	raw[12], raw[13] = 0x08, 0x00 // IPv4, not EtherCAT
	_, err := ParseFrame(raw)
	require.Error(t, err)
	var ecErr *Error
	require.ErrorAs(t, err, &ecErr)
	assert.Equal(t, KindWrongEtherType, ecErr.Kind)
}

func TestErrorFormatsCategoryAndKind(t *testing.T) {
	err := ErrDetail(CategorySlave, KindStateSwitch, "slave %d: %s", 1000, "timeout")
	assert.Contains(t, err.Error(), "slave 1000: timeout")
	assert.Equal(t, CategorySlave, err.Category)
	assert.Equal(t, KindStateSwitch, err.Kind)
}
