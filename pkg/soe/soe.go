// Package soe implements Servo-over-EtherCAT: reading and writing an
// IDN's elements by drive number, with fragmentation for values larger
// than one mailbox message.
package soe

import (
	"context"
	"encoding/binary"

	ethercat "github.com/samsamfire/goethercat"
	"github.com/samsamfire/goethercat/pkg/mailbox"
	"github.com/samsamfire/goethercat/pkg/slave"
)

// OpCode is the SoE header's 3-bit operation code.
type OpCode uint8

const (
	OpReadRequest   OpCode = 1
	OpReadResponse  OpCode = 2
	OpWriteRequest  OpCode = 3
	OpWriteResponse OpCode = 4
	OpNotification  OpCode = 5
	OpEmergency     OpCode = 6
)

// ElementFlag selects which element of an IDN a request addresses:
// DataState, Name, Attribute, Unit, Min, Max, Value.
type ElementFlag uint8

const (
	ElementDataState ElementFlag = 1 << 0
	ElementName      ElementFlag = 1 << 1
	ElementAttribute ElementFlag = 1 << 2
	ElementUnit      ElementFlag = 1 << 3
	ElementMin       ElementFlag = 1 << 4
	ElementMax       ElementFlag = 1 << 5
	ElementValue     ElementFlag = 1 << 6
)

// soeHeaderLen is the fixed 4-byte SoE header: opcode:3, incomplete:1,
// error:1, driveNo:3 in byte0; elementflags:8 in byte1; IDN:16 in
// bytes 2-3.
const soeHeaderLen = 4

// Client is a SoE client bound to one mailbox transport.
type Client struct {
	mbx *mailbox.Transport
}

// New creates a SoE client over an already-constructed mailbox transport.
func New(mbx *mailbox.Transport) *Client {
	return &Client{mbx: mbx}
}

func buildHeader(op OpCode, incomplete bool, drive uint8, elements ElementFlag, idn uint16) []byte {
	buf := make([]byte, soeHeaderLen)
	b0 := byte(op) & 0x07
	if incomplete {
		b0 |= 1 << 3
	}
	b0 |= (drive & 0x07) << 5
	buf[0] = b0
	buf[1] = byte(elements)
	binary.LittleEndian.PutUint16(buf[2:4], idn)
	return buf
}

// Read performs an SoE read of one element, reassembling a fragmented
// (incomplete) response transparently.
func (c *Client) Read(ctx context.Context, s *slave.Descriptor, drive uint8, idn uint16, elements ElementFlag) ([]byte, error) {
	req := buildHeader(OpReadRequest, false, drive, elements, idn)
	_, resp, err := c.mbx.SendRecv(ctx, s, mailbox.ProtoSoE, req, mailbox.DefaultTimeout)
	if err != nil {
		return nil, err
	}
	if len(resp) < soeHeaderLen {
		return nil, ethercat.ErrNew(ethercat.CategoryMailbox, ethercat.KindBufferTooSmall)
	}
	data := append([]byte(nil), resp[soeHeaderLen:]...)
	incomplete := resp[0]&(1<<3) != 0
	for incomplete {
		req := buildHeader(OpReadRequest, false, drive, elements, idn)
		_, resp, err := c.mbx.SendRecv(ctx, s, mailbox.ProtoSoE, req, mailbox.DefaultTimeout)
		if err != nil {
			return nil, err
		}
		if len(resp) < soeHeaderLen {
			return nil, ethercat.ErrNew(ethercat.CategoryMailbox, ethercat.KindBufferTooSmall)
		}
		data = append(data, resp[soeHeaderLen:]...)
		incomplete = resp[0]&(1<<3) != 0
	}
	return data, nil
}

// Write performs an SoE write, fragmenting data across multiple
// requests when it exceeds the slave's SM0 length.
func (c *Client) Write(ctx context.Context, s *slave.Descriptor, drive uint8, idn uint16, elements ElementFlag, data []byte) error {
	maxChunk := int(s.SMs[0].Length) - soeHeaderLen
	if maxChunk <= 0 {
		maxChunk = 64 - soeHeaderLen
	}
	for offset := 0; offset < len(data) || (len(data) == 0 && offset == 0); {
		end := offset + maxChunk
		last := end >= len(data)
		if last {
			end = len(data)
		}
		incomplete := !last
		hdr := buildHeader(OpWriteRequest, incomplete, drive, elements, idn)
		msg := append(hdr, data[offset:end]...)
		_, resp, err := c.mbx.SendRecv(ctx, s, mailbox.ProtoSoE, msg, mailbox.DefaultTimeout)
		if err != nil {
			return err
		}
		if len(resp) >= 1 && resp[0]&(1<<4) != 0 {
			return ethercat.ErrDetail(ethercat.CategoryMailbox, ethercat.KindAbort, "soe write error on IDN 0x%04X", idn)
		}
		offset = end
		if len(data) == 0 {
			break
		}
	}
	return nil
}
