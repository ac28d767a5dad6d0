// Package simlink is an in-memory [link.Link] implementation that loops
// frames through a small ring of simulated slaves, standing in for a
// raw-socket NIC driver during tests.
package simlink

import (
	"sync"

	ethercat "github.com/samsamfire/goethercat"
	"github.com/samsamfire/goethercat/pkg/link"
)

// FMMUConfig is a minimal simulated FMMU entry used to route LRD/LWR/LRW
// traffic into a Slave's physical memory.
type FMMUConfig struct {
	LogicalStart uint32
	Length       uint16
	PhysStart    uint16
	Read         bool
	Write        bool
}

// Slave is a minimal simulated ESC: a flat byte memory standing in for
// its register and DPRAM space, a fixed station address, and an
// optional FMMU table for logical addressing.
type Slave struct {
	mu          sync.Mutex
	Mem         [0x10000]byte
	FixedAddr   uint16
	FMMUs       []FMMUConfig
	// OnDatagram, if set, is called after default memory semantics are
	// applied, letting a test inject protocol-specific behavior (e.g.
	// ALSTAT auto-advancing after an ALCTL write).
	OnDatagram func(d *ethercat.Datagram)
}

func NewSlave(fixedAddr uint16) *Slave {
	return &Slave{FixedAddr: fixedAddr}
}

func (s *Slave) read(offset uint16, n int) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]byte, n)
	copy(out, s.Mem[offset:])
	return out
}

func (s *Slave) write(offset uint16, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	copy(s.Mem[offset:], data)
}

// Bus is a ring of simulated slaves in physical order. Index 0 is
// "closest" to the master.
type Bus struct {
	mu     sync.Mutex
	slaves []*Slave
	mac    [6]byte
	onRx   func(*ethercat.Frame)
}

// NewBus creates an empty simulated bus.
func NewBus() *Bus {
	return &Bus{mac: [6]byte{0x02, 0x00, 0x00, 0x00, 0x00, 0x01}}
}

// AddSlave appends a slave to the ring, in physical position order.
func (b *Bus) AddSlave(s *Slave) { b.slaves = append(b.slaves, s) }

// Slaves returns the ring, for test assertions.
func (b *Bus) Slaves() []*Slave { return b.slaves }

// SetReceiver installs the callback invoked with the (mutated in place)
// frame after all slaves have processed it — normally
// (*link.Manager).Handle.
func (b *Bus) SetReceiver(onRx func(*ethercat.Frame)) { b.onRx = onRx }

func (b *Bus) MTU() int       { return ethercat.MTU }
func (b *Bus) MAC() [6]byte   { return b.mac }
func (b *Bus) TxFlush() error { return nil }

// Send processes frame synchronously against the simulated ring and
// immediately invokes the receiver with the mutated frame — the
// blocking datagram.Engine.Transceive caller doesn't observe this as
// asynchronous, but that's an acceptable simplification for a test
// harness standing in for hardware.
func (b *Bus) Send(frame *ethercat.Frame, _ link.Priority) error {
	for i := range frame.Datagrams {
		b.process(&frame.Datagrams[i])
	}
	if b.onRx != nil {
		b.onRx(frame)
	}
	return nil
}

func (b *Bus) process(d *ethercat.Datagram) {
	switch d.Cmd {
	case ethercat.CmdBRD:
		for _, s := range b.slaves {
			got := s.read(uint16(d.Adr>>16), len(d.Payload))
			for i := range d.Payload {
				d.Payload[i] |= got[i]
			}
			d.Wkc++
			s.fire(d)
		}
	case ethercat.CmdBWR, ethercat.CmdBRW:
		for _, s := range b.slaves {
			s.write(uint16(d.Adr>>16), d.Payload)
			d.Wkc++
			s.fire(d)
		}
	case ethercat.CmdAPRD, ethercat.CmdAPWR, ethercat.CmdAPRW:
		pos := int(int16(uint16(d.Adr)))
		idx := -pos
		if idx < 0 || idx >= len(b.slaves) {
			return
		}
		s := b.slaves[idx]
		b.applyPhysical(d, s)
	case ethercat.CmdFPRD, ethercat.CmdFPWR, ethercat.CmdFPRW, ethercat.CmdFRMW:
		fixed := uint16(d.Adr)
		for _, s := range b.slaves {
			if s.FixedAddr == fixed {
				b.applyPhysical(d, s)
				return
			}
		}
		// no matching slave: wkc stays 0
	case ethercat.CmdLRD, ethercat.CmdLWR, ethercat.CmdLRW:
		b.applyLogical(d)
	}
}

func (b *Bus) applyPhysical(d *ethercat.Datagram, s *Slave) {
	offset := uint16(d.Adr >> 16)
	switch d.Cmd {
	case ethercat.CmdFPRD, ethercat.CmdAPRD:
		copy(d.Payload, s.read(offset, len(d.Payload)))
	case ethercat.CmdFPWR, ethercat.CmdAPWR:
		s.write(offset, d.Payload)
		if d.Cmd == ethercat.CmdAPWR && offset == ethercat.RegFixedAddress && len(d.Payload) >= 2 {
			// Mirrors real ESC behavior: writing the fixed-address
			// register during the scan actually configures the
			// station address the slave answers to thereafter.
			s.mu.Lock()
			s.FixedAddr = uint16(d.Payload[0]) | uint16(d.Payload[1])<<8
			s.mu.Unlock()
		}
	case ethercat.CmdFPRW, ethercat.CmdAPRW:
		old := s.read(offset, len(d.Payload))
		s.write(offset, d.Payload)
		copy(d.Payload, old)
	case ethercat.CmdFRMW:
		old := s.read(offset, len(d.Payload))
		s.write(offset, d.Payload)
		copy(d.Payload, old)
	}
	d.Wkc++
	s.fire(d)
}

func (b *Bus) applyLogical(d *ethercat.Datagram) {
	start := d.Adr
	end := d.Adr + uint32(len(d.Payload))
	for _, s := range b.slaves {
		for _, f := range s.FMMUs {
			fStart := f.LogicalStart
			fEnd := f.LogicalStart + uint32(f.Length)
			if fEnd <= start || fStart >= end {
				continue
			}
			overlapStart := max32(start, fStart)
			overlapEnd := min32(end, fEnd)
			logicalOff := overlapStart - start
			physOff := f.PhysStart + uint16(overlapStart-fStart)
			n := int(overlapEnd - overlapStart)

			didRead, didWrite := false, false
			if (d.Cmd == ethercat.CmdLRD || d.Cmd == ethercat.CmdLRW) && f.Read {
				copy(d.Payload[logicalOff:logicalOff+uint32(n)], s.read(physOff, n))
				didRead = true
			}
			if (d.Cmd == ethercat.CmdLWR || d.Cmd == ethercat.CmdLRW) && f.Write {
				s.write(physOff, d.Payload[logicalOff:logicalOff+uint32(n)])
				didWrite = true
			}
			switch {
			case d.Cmd == ethercat.CmdLRW && didWrite:
				d.Wkc += 2
			case d.Cmd == ethercat.CmdLRW && didRead:
				d.Wkc++
			case didRead || didWrite:
				d.Wkc++
			}
			if didRead || didWrite {
				s.fire(d)
			}
		}
	}
}

func (s *Slave) fire(d *ethercat.Datagram) {
	if s.OnDatagram != nil {
		s.OnDatagram(d)
	}
}

func max32(a, b uint32) uint32 {
	if a > b {
		return a
	}
	return b
}

func min32(a, b uint32) uint32 {
	if a < b {
		return a
	}
	return b
}
