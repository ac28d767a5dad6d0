// Package eoe implements Ethernet-over-EtherCAT: fragmenting/reassembling
// Ethernet frames across mailbox messages. The IP-parameter and MAC-filter
// frame types are declared, but no such control message is built, sent
// or parsed.
package eoe

import (
	"context"
	"encoding/binary"

	ethercat "github.com/samsamfire/goethercat"
	"github.com/samsamfire/goethercat/pkg/mailbox"
	"github.com/samsamfire/goethercat/pkg/slave"
)

// FrameType is the EoE header's 4-bit type field.
type FrameType uint8

const (
	FrameFragment  FrameType = 0
	FrameInitReq   FrameType = 1
	FrameInitResp  FrameType = 2
	FrameMacFilter FrameType = 5
)

// fragmentAlign is the granularity frame offsets/lengths are expressed
// in: all but the last fragment's size must be a multiple of 32 bytes.
const fragmentAlign = 32

// eoeHeaderLen is the fixed 4-byte EoE fragmentation header.
const eoeHeaderLen = 4

// buildFragmentHeader packs two little-endian 16-bit words. Word 0
// (bytes 0-1): type in bits 0-3, offset in 32-byte units in bits 6-11,
// lastFragment in bit 12. Word 1 (bytes 2-3): fragmentNo in bits 0-5,
// completeSize in 32-byte units in bits 6-15 (10 bits).
func buildFragmentHeader(fragmentNo int, offsetUnits int, last bool, completeSizeUnits int) []byte {
	buf := make([]byte, eoeHeaderLen)
	word0 := uint16(FrameFragment) & 0x0F
	word0 |= uint16(offsetUnits&0x3F) << 6
	if last {
		word0 |= 1 << 12
	}
	binary.LittleEndian.PutUint16(buf[0:2], word0)

	word1 := uint16(fragmentNo & 0x3F)
	word1 |= uint16(completeSizeUnits&0x3FF) << 6
	binary.LittleEndian.PutUint16(buf[2:4], word1)
	return buf
}

func parseFragmentHeader(buf []byte) (fragmentNo int, offsetUnits int, last bool, completeSizeUnits int, ok bool) {
	if len(buf) < eoeHeaderLen {
		return 0, 0, false, 0, false
	}
	word0 := binary.LittleEndian.Uint16(buf[0:2])
	word1 := binary.LittleEndian.Uint16(buf[2:4])
	offsetUnits = int((word0 >> 6) & 0x3F)
	last = word0&(1<<12) != 0
	fragmentNo = int(word1 & 0x3F)
	completeSizeUnits = int((word1 >> 6) & 0x3FF)
	return fragmentNo, offsetUnits, last, completeSizeUnits, true
}

// Fragmenter splits an Ethernet frame into mailbox-sized EoE fragments.
type Fragmenter struct {
	MaxFragment int // max payload bytes per fragment, excluding the EoE header
}

// Split returns the sequence of mailbox payloads (EoE header + data)
// needed to carry frame.
func (f *Fragmenter) Split(frame []byte) [][]byte {
	maxChunk := (f.MaxFragment / fragmentAlign) * fragmentAlign
	if maxChunk <= 0 {
		maxChunk = fragmentAlign
	}
	completeUnits := (len(frame) + fragmentAlign - 1) / fragmentAlign

	var out [][]byte
	fragmentNo := 0
	for offset := 0; offset < len(frame) || len(frame) == 0; {
		end := offset + maxChunk
		last := end >= len(frame)
		if last {
			end = len(frame)
		}
		chunk := frame[offset:end]
		hdr := buildFragmentHeader(fragmentNo, offset/fragmentAlign, last, completeUnits)
		out = append(out, append(hdr, chunk...))
		fragmentNo++
		offset = end
		if len(frame) == 0 {
			break
		}
	}
	return out
}

// Reassembler accumulates EoE fragments for one direction (rx or tx)
// until the final fragment completes a frame.
type Reassembler struct {
	buf        []byte
	nextOffset int
}

// Feed adds one fragment's payload (header+data). It returns the
// completed frame and true once the final fragment arrives.
func (r *Reassembler) Feed(payload []byte) ([]byte, bool) {
	_, offsetUnits, last, _, ok := parseFragmentHeader(payload)
	if !ok {
		return nil, false
	}
	offset := offsetUnits * fragmentAlign
	data := payload[eoeHeaderLen:]
	if offset != r.nextOffset {
		// Out-of-order fragment: drop the partial frame and resync.
		r.buf = nil
		r.nextOffset = 0
		if offset != 0 {
			return nil, false
		}
	}
	r.buf = append(r.buf, data...)
	r.nextOffset += len(data)
	if last {
		out := r.buf
		r.buf = nil
		r.nextOffset = 0
		return out, true
	}
	return nil, false
}

// SendFrame fragments and sends an Ethernet frame to the slave over its
// mailbox. Every mailbox exchange is request/response, so each fragment
// still goes through SendRecv; the response payload (an empty ack) is
// discarded.
func SendFrame(ctx context.Context, mbx *mailbox.Transport, s *slave.Descriptor, frame []byte) error {
	maxFragment := int(s.SMs[0].Length) - eoeHeaderLen
	if maxFragment <= 0 {
		maxFragment = 512
	}
	f := Fragmenter{MaxFragment: maxFragment}
	for _, chunk := range f.Split(frame) {
		if _, _, err := mbx.SendRecv(ctx, s, mailbox.ProtoEoE, chunk, mailbox.DefaultTimeout); err != nil {
			return ethercat.ErrDetail(ethercat.CategoryMailbox, ethercat.KindAbort, "eoe: %v", err)
		}
	}
	return nil
}
