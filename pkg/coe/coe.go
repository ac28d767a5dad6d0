// Package coe implements CANopen-over-EtherCAT: expedited/normal/
// segmented SDO transfer and PDO mapping generation for the mapping
// builder. SDO-info requests (object and entry descriptions, object
// list) are not implemented; only their service code is declared.
package coe

import (
	"context"
	"encoding/binary"
	"fmt"
	"time"

	ethercat "github.com/samsamfire/goethercat"
	"github.com/samsamfire/goethercat/pkg/mailbox"
	"github.com/samsamfire/goethercat/pkg/slave"
)

// CoE service codes (bits 12-15 of the 2-byte CoE sub-header), matching
// the well-established CANopen-over-EtherCAT wire format.
const (
	serviceEmergency   = 0x1
	serviceSDORequest  = 0x2
	serviceSDOResponse = 0x3
	serviceSDOInfo     = 0x8
)

// SDO command specifiers (top 3 bits of the command byte).
const (
	ccsDownloadInitiate = 1 << 5
	ccsUploadInitiate   = 2 << 5
	scsDownloadSegment  = 0 << 5
	scsUploadSegment    = 3 << 5
	cmdAbort            = 4 << 5
)

// AbortCode is the 32-bit SDO abort code a response with command
// specifier SDO_ABORT_REQ carries in place of its usual payload.
type AbortCode uint32

func (a AbortCode) Error() string { return fmt.Sprintf("SDO abort 0x%08X", uint32(a)) }

// AbortObjectNotPresent is benign during PDO-assignment SM enumeration:
// it means the SM simply has no assignment.
const AbortObjectNotPresent AbortCode = 0x06020000
const AbortSubindexNotFound AbortCode = 0x06090011

// Client is a CoE SDO client bound to one mailbox transport.
type Client struct {
	mbx *mailbox.Transport
}

// New creates a CoE client over an already-constructed mailbox transport.
func New(mbx *mailbox.Transport) *Client {
	return &Client{mbx: mbx}
}

func coeHeader(service uint8) uint16 {
	return uint16(service) << 12
}

// SdoWrite performs an SDO download. When complete is true, an
// expedited write (4 bytes or fewer) is sent to subindex 1 instead of
// subindex; no complete-access flag is set in the command byte, and a
// segmented write ignores complete.
func (c *Client) SdoWrite(ctx context.Context, s *slave.Descriptor, index uint16, subindex uint8, complete bool, data []byte) error {
	if len(data) <= 4 {
		return c.downloadExpedited(ctx, s, index, subindex, complete, data)
	}
	return c.downloadSegmented(ctx, s, index, subindex, complete, data)
}

func (c *Client) downloadExpedited(ctx context.Context, s *slave.Descriptor, index uint16, subindex uint8, complete bool, data []byte) error {
	n := 4 - len(data)
	cmd := byte(ccsDownloadInitiate) | byte(n<<2) | 0x02 /*e*/ | 0x01 /*s*/
	if complete {
		subindex = 1 // complete access: subindex 1 signals "start from 1", 0 reserved for access-all
	}
	payload := make([]byte, 8)
	payload[0] = cmd
	binary.LittleEndian.PutUint16(payload[1:3], index)
	payload[3] = subindex
	copy(payload[4:], data)

	msg := make([]byte, 2+len(payload))
	binary.LittleEndian.PutUint16(msg[0:2], coeHeader(serviceSDORequest))
	copy(msg[2:], payload)

	_, resp, err := c.mbx.SendRecv(ctx, s, mailbox.ProtoCoE, msg, mailbox.DefaultTimeout)
	if err != nil {
		return err
	}
	return checkDownloadResponse(resp, index, subindex)
}

// segmentPayloadSize is fixed at 7 bytes: the "number of bytes without
// data" field in the segment command byte is 3 bits wide, so a segment
// can never carry more than 7 bytes regardless of mailbox/SM size. This
// is the same limit classic CAN-frame SDO segments have, just no longer
// forced by an 8-byte CAN frame.
const segmentPayloadSize = 7

func (c *Client) downloadSegmented(ctx context.Context, s *slave.Descriptor, index uint16, subindex uint8, complete bool, data []byte) error {
	cmd := byte(ccsDownloadInitiate) | 0x01 /*s*/
	payload := make([]byte, 8)
	payload[0] = cmd
	binary.LittleEndian.PutUint16(payload[1:3], index)
	payload[3] = subindex
	binary.LittleEndian.PutUint32(payload[4:8], uint32(len(data)))

	msg := make([]byte, 2+len(payload))
	binary.LittleEndian.PutUint16(msg[0:2], coeHeader(serviceSDORequest))
	copy(msg[2:], payload)
	_, resp, err := c.mbx.SendRecv(ctx, s, mailbox.ProtoCoE, msg, mailbox.DefaultTimeout)
	if err != nil {
		return err
	}
	if err := checkDownloadResponse(resp, index, subindex); err != nil {
		return err
	}

	segPayload := segmentPayloadSize
	toggle := uint8(0)
	for offset := 0; offset < len(data); offset += segPayload {
		end := offset + segPayload
		last := end >= len(data)
		if last {
			end = len(data)
		}
		chunk := data[offset:end]
		seg := make([]byte, segPayload)
		copy(seg, chunk)
		cmdByte := scsDownloadSegment | toggle<<4
		if last {
			cmdByte |= 0x01
			if n := segPayload - len(chunk); n > 0 {
				cmdByte |= byte(n) << 1
			}
		}
		segMsg := make([]byte, 2+1+len(seg))
		binary.LittleEndian.PutUint16(segMsg[0:2], coeHeader(serviceSDORequest))
		segMsg[2] = cmdByte
		copy(segMsg[3:], seg)

		_, resp, err := c.mbx.SendRecv(ctx, s, mailbox.ProtoCoE, segMsg, mailbox.DefaultTimeout)
		if err != nil {
			return err
		}
		if err := checkSegmentToggle(resp, toggle); err != nil {
			return err
		}
		toggle ^= 1
	}
	return nil
}

func checkDownloadResponse(resp []byte, index uint16, subindex uint8) error {
	if len(resp) < 4 {
		return ethercat.ErrNew(ethercat.CategoryMailbox, ethercat.KindBufferTooSmall)
	}
	sdo := resp[2:]
	if sdo[0]&0xE0 == cmdAbort {
		return AbortCode(binary.LittleEndian.Uint32(sdo[4:8]))
	}
	gotIndex := binary.LittleEndian.Uint16(sdo[1:3])
	if gotIndex != index {
		return fmt.Errorf("coe: unexpected object in response: got %04x want %04x", gotIndex, index)
	}
	return nil
}

func checkSegmentToggle(resp []byte, wantToggle uint8) error {
	if len(resp) < 1 {
		return ethercat.ErrNew(ethercat.CategoryMailbox, ethercat.KindBufferTooSmall)
	}
	sdo := resp[2:]
	if sdo[0]&0xE0 == cmdAbort {
		return AbortCode(binary.LittleEndian.Uint32(resp[2+4 : 2+8]))
	}
	got := (sdo[0] >> 4) & 1
	if got != wantToggle {
		return fmt.Errorf("coe: toggle bit mismatch: got %d want %d", got, wantToggle)
	}
	return nil
}

// SdoRead performs an SDO upload, reassembling a segmented transfer
// transparently.
func (c *Client) SdoRead(ctx context.Context, s *slave.Descriptor, index uint16, subindex uint8, complete bool) ([]byte, error) {
	if complete {
		subindex = 1
	}
	payload := make([]byte, 4)
	payload[0] = ccsUploadInitiate
	binary.LittleEndian.PutUint16(payload[1:3], index)
	payload[3] = subindex

	msg := make([]byte, 2+len(payload))
	binary.LittleEndian.PutUint16(msg[0:2], coeHeader(serviceSDORequest))
	copy(msg[2:], payload)

	_, resp, err := c.mbx.SendRecv(ctx, s, mailbox.ProtoCoE, msg, mailbox.DefaultTimeout)
	if err != nil {
		return nil, err
	}
	if len(resp) < 4 {
		return nil, ethercat.ErrNew(ethercat.CategoryMailbox, ethercat.KindBufferTooSmall)
	}
	sdo := resp[2:]
	if sdo[0]&0xE0 == cmdAbort {
		return nil, AbortCode(binary.LittleEndian.Uint32(sdo[4:8]))
	}
	expedited := sdo[0]&0x02 != 0
	sizeIndicated := sdo[0]&0x01 != 0
	if expedited {
		n := 0
		if sizeIndicated {
			n = 4 - int((sdo[0]>>2)&0x03)
		} else {
			n = 4
		}
		return append([]byte(nil), sdo[4:4+n]...), nil
	}

	// Normal (non-expedited) transfer: sdo[4:8] is the total size, the
	// remainder of this fragment is the first slice.
	var total uint32
	if sizeIndicated {
		total = binary.LittleEndian.Uint32(sdo[4:8])
	}
	out := make([]byte, 0, total)
	out = append(out, sdo[8:]...)
	toggle := uint8(0)
	for uint32(len(out)) < total {
		segMsg := make([]byte, 2+1)
		binary.LittleEndian.PutUint16(segMsg[0:2], coeHeader(serviceSDORequest))
		segMsg[2] = scsUploadSegment | toggle<<4
		_, resp, err := c.mbx.SendRecv(ctx, s, mailbox.ProtoCoE, segMsg, mailbox.DefaultTimeout)
		if err != nil {
			return nil, err
		}
		sdo := resp[2:]
		if sdo[0]&0xE0 == cmdAbort {
			return nil, AbortCode(binary.LittleEndian.Uint32(sdo[4:8]))
		}
		got := (sdo[0] >> 4) & 1
		if got != toggle {
			return nil, fmt.Errorf("coe: toggle bit mismatch on upload segment")
		}
		last := sdo[0]&0x01 != 0
		n := 7
		if last {
			if sdo[0]&0x01 != 0 {
				n = 7 - int((sdo[0]>>1)&0x07)
			}
		}
		out = append(out, sdo[1:1+n]...)
		toggle ^= 1
		if last {
			break
		}
	}
	return out, nil
}

// defaultMailboxTimeout exists so callers that don't care can omit one.
const defaultMailboxTimeout = time.Second
