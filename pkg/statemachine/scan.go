package statemachine

import (
	"context"
	"encoding/binary"

	ethercat "github.com/samsamfire/goethercat"
	"github.com/samsamfire/goethercat/pkg/datagram"
	"github.com/samsamfire/goethercat/pkg/slave"
)

// fixedAddrBase is the first fixed station address the scan assigns.
const fixedAddrBase uint16 = 1000

// Scan counts responders with a broadcast read, assigns each one a
// unique fixed station address in auto-increment position order, and
// populates registry with a fresh Descriptor per slave.
//
// Topology/parent derivation here assumes a line topology (each slave's
// parent is its immediate predecessor, entry port 0); branch/junction
// detection from DL-status port-count fan-out is not implemented (see
// DESIGN.md).
func Scan(ctx context.Context, eng *datagram.Engine, registry *slave.Registry) error {
	registry.Reset()

	count, err := countSlaves(ctx, eng)
	if err != nil {
		return err
	}

	for i := 0; i < count; i++ {
		pos := uint16(-i)
		fixedAddr := fixedAddrBase + uint16(i)

		buf := make([]byte, 2)
		binary.LittleEndian.PutUint16(buf, fixedAddr)
		addr := ethercat.AutoInc(pos, ethercat.RegFixedAddress)
		wkc, _, err := eng.Transceive(ctx, ethercat.CmdAPWR, addr, buf)
		if err != nil {
			return err
		}
		if wkc == 0 {
			return ethercat.ErrDetail(ethercat.CategorySlave, ethercat.KindNotResponding, "no response assigning fixed address at position %d", i)
		}

		d := &slave.Descriptor{
			Position:    i,
			AutoIncAddr: pos,
			FixedAddr:   fixedAddr,
			Parent:      i - 1,
			EntryPort:   0,
		}

		dlStatus, err := readDLStatus(ctx, eng, fixedAddr)
		if err != nil {
			return err
		}
		d.LinkCount, d.ActivePorts = parseDLStatus(dlStatus)

		registry.Add(d)
	}
	return nil
}

// countSlaves broadcast-reads the AL status register; the resulting
// working counter is the number of slaves on the bus.
func countSlaves(ctx context.Context, eng *datagram.Engine) (int, error) {
	addr := ethercat.Broadcast(ethercat.RegALStatus)
	wkc, _, err := eng.Transceive(ctx, ethercat.CmdBRD, addr, make([]byte, 2))
	if err != nil {
		return 0, err
	}
	return int(wkc), nil
}

func readDLStatus(ctx context.Context, eng *datagram.Engine, fixedAddr uint16) (uint16, error) {
	addr := ethercat.Fixed(fixedAddr, ethercat.RegDLStatus)
	wkc, out, err := eng.Transceive(ctx, ethercat.CmdFPRD, addr, make([]byte, 2))
	if err != nil {
		return 0, err
	}
	if wkc == 0 {
		return 0, ethercat.ErrDetail(ethercat.CategorySlave, ethercat.KindNotResponding, "no response reading DL status for fixed addr %d", fixedAddr)
	}
	return binary.LittleEndian.Uint16(out), nil
}

// parseDLStatus decodes the four port-link bits (bits 8,9,10,11 of the
// DL status register in most ESC implementations) into an active-port
// count and mask.
func parseDLStatus(status uint16) (int, [4]bool) {
	var active [4]bool
	count := 0
	for i := 0; i < 4; i++ {
		bit := uint16(1) << (8 + i)
		if status&bit != 0 {
			active[i] = true
			count++
		}
	}
	return count, active
}
