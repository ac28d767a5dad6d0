// Package mailbox implements the transport shared by every higher-level
// protocol (CoE/SoE/FoE/EoE): per-slave send/receive synchronization,
// the rolling counter, and toggle-ack recovery, over the read/write
// sync-manager discipline mailbox communication requires.
package mailbox

import "encoding/binary"

// Protocol identifies the sub-protocol multiplexed over a mailbox
// message.
type Protocol uint8

const (
	ProtoAoE Protocol = 1
	ProtoEoE Protocol = 2
	ProtoCoE Protocol = 3
	ProtoFoE Protocol = 4
	ProtoSoE Protocol = 5
	ProtoVoE Protocol = 15
)

// HeaderLen is the 6-byte mailbox header: length:16, address:16,
// priority:8, type:4|counter:4.
const HeaderLen = 6

// Header is the common mailbox frame header.
type Header struct {
	Length   uint16
	Address  uint16
	Priority uint8
	Type     Protocol
	Counter  uint8 // 1..7, 0 = reserved/unused
}

// Marshal writes the header to the front of a HeaderLen+len(payload)
// buffer and returns it.
func Marshal(h Header, payload []byte) []byte {
	buf := make([]byte, HeaderLen+len(payload))
	binary.LittleEndian.PutUint16(buf[0:2], uint16(len(payload)))
	binary.LittleEndian.PutUint16(buf[2:4], h.Address)
	buf[4] = h.Priority
	buf[5] = byte(h.Type)&0x0F | (h.Counter&0x07)<<4
	copy(buf[HeaderLen:], payload)
	return buf
}

// Unmarshal parses a mailbox frame, returning the header and the
// payload slice (aliasing raw).
func Unmarshal(raw []byte) (Header, []byte, bool) {
	if len(raw) < HeaderLen {
		return Header{}, nil, false
	}
	length := binary.LittleEndian.Uint16(raw[0:2])
	h := Header{
		Length:   length,
		Address:  binary.LittleEndian.Uint16(raw[2:4]),
		Priority: raw[4],
		Type:     Protocol(raw[5] & 0x0F),
		Counter:  (raw[5] >> 4) & 0x07,
	}
	if len(raw) < HeaderLen+int(length) {
		return Header{}, nil, false
	}
	return h, raw[HeaderLen : HeaderLen+int(length)], true
}
