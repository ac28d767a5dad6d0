// Package foe implements File-over-EtherCAT: reading and writing a file
// as a sequence of numbered, acknowledged packets.
package foe

import (
	"context"
	"encoding/binary"

	ethercat "github.com/samsamfire/goethercat"
	"github.com/samsamfire/goethercat/pkg/mailbox"
	"github.com/samsamfire/goethercat/pkg/slave"
)

// OpCode is the FoE header's 8-bit operation code.
type OpCode uint8

const (
	OpRead  OpCode = 1
	OpWrite OpCode = 2
	OpData  OpCode = 3
	OpAck   OpCode = 4
	OpError OpCode = 5
	OpBusy  OpCode = 6
)

// ErrorCode is a 32-bit FoE error code, carried in an OpError message.
type ErrorCode uint32

func (e ErrorCode) Error() string {
	return "foe error"
}

// defaultPacketDataSize is the payload carried by each OpData packet,
// not counting the 6-byte header; a final packet strictly shorter than
// this marks end-of-transfer.
const defaultPacketDataSize = 512

// Client is a FoE client bound to one mailbox transport.
type Client struct {
	mbx        *mailbox.Transport
	PacketSize int
}

// New creates a FoE client with the default packet size.
func New(mbx *mailbox.Transport) *Client {
	return &Client{mbx: mbx, PacketSize: defaultPacketDataSize}
}

func readReqHeader(filename string, password uint32) []byte {
	buf := make([]byte, 6+len(filename))
	buf[0] = byte(OpRead)
	binary.LittleEndian.PutUint32(buf[2:6], password)
	copy(buf[6:], filename)
	return buf
}

func writeReqHeader(filename string, password uint32) []byte {
	buf := make([]byte, 6+len(filename))
	buf[0] = byte(OpWrite)
	binary.LittleEndian.PutUint32(buf[2:6], password)
	copy(buf[6:], filename)
	return buf
}

func ackHeader(packetNo uint32) []byte {
	buf := make([]byte, 6)
	buf[0] = byte(OpAck)
	binary.LittleEndian.PutUint32(buf[2:6], packetNo)
	return buf
}

func checkError(resp []byte) error {
	if len(resp) < 1 {
		return ethercat.ErrNew(ethercat.CategoryFoE, ethercat.KindBufferTooSmall)
	}
	if OpCode(resp[0]) == OpError {
		code := ErrorCode(0)
		if len(resp) >= 6 {
			code = ErrorCode(binary.LittleEndian.Uint32(resp[2:6]))
		}
		return ethercat.ErrDetail(ethercat.CategoryFoE, ethercat.KindErrorReq, "foe error 0x%08X", uint32(code))
	}
	return nil
}

// Download uploads data to the slave as a named file ("write" from the
// master's perspective is a file download to the device).
func (c *Client) Download(ctx context.Context, s *slave.Descriptor, filename string, password uint32, data []byte) error {
	_, resp, err := c.mbx.SendRecv(ctx, s, mailbox.ProtoFoE, writeReqHeader(filename, password), mailbox.DefaultTimeout)
	if err != nil {
		return err
	}
	if err := checkError(resp); err != nil {
		return err
	}
	if len(resp) < 1 || OpCode(resp[0]) != OpAck {
		return ethercat.ErrNew(ethercat.CategoryFoE, ethercat.KindNoAck)
	}

	packetNo := uint32(1)
	for offset := 0; ; {
		end := offset + c.PacketSize
		last := end >= len(data)
		if last {
			end = len(data)
		}
		chunk := data[offset:end]

		buf := make([]byte, 6+len(chunk))
		buf[0] = byte(OpData)
		binary.LittleEndian.PutUint32(buf[2:6], packetNo)
		copy(buf[6:], chunk)

		_, resp, err := c.mbx.SendRecv(ctx, s, mailbox.ProtoFoE, buf, mailbox.DefaultTimeout)
		if err != nil {
			return err
		}
		if err := checkError(resp); err != nil {
			return err
		}
		if len(resp) < 1 || OpCode(resp[0]) != OpAck {
			return ethercat.ErrNew(ethercat.CategoryFoE, ethercat.KindNoAck)
		}

		offset = end
		packetNo++
		if len(chunk) < c.PacketSize {
			break
		}
	}
	return nil
}

// Upload reads a named file off the slave (a "read" from the master's
// perspective is a file upload from the device).
func (c *Client) Upload(ctx context.Context, s *slave.Descriptor, filename string, password uint32) ([]byte, error) {
	_, resp, err := c.mbx.SendRecv(ctx, s, mailbox.ProtoFoE, readReqHeader(filename, password), mailbox.DefaultTimeout)
	if err != nil {
		return nil, err
	}
	if err := checkError(resp); err != nil {
		return nil, err
	}

	var out []byte
	expected := uint32(1)
	for {
		if len(resp) < 6 || OpCode(resp[0]) != OpData {
			return nil, ethercat.ErrDetail(ethercat.CategoryFoE, ethercat.KindErrorReq, "unexpected FoE response opcode")
		}
		packetNo := binary.LittleEndian.Uint32(resp[2:6])
		if packetNo != expected {
			return nil, ethercat.ErrDetail(ethercat.CategoryFoE, ethercat.KindErrorReq, "foe packet out of order: got %d want %d", packetNo, expected)
		}
		chunk := resp[6:]
		out = append(out, chunk...)
		last := len(chunk) < c.PacketSize

		_, ackResp, err := c.mbx.SendRecv(ctx, s, mailbox.ProtoFoE, ackHeader(packetNo), mailbox.DefaultTimeout)
		if err != nil {
			return nil, err
		}
		if last {
			break
		}
		if err := checkError(ackResp); err != nil {
			return nil, err
		}
		resp = ackResp
		expected++
	}
	return out, nil
}
