package coe

import (
	"context"
	"encoding/binary"

	ethercat "github.com/samsamfire/goethercat"
	"github.com/samsamfire/goethercat/pkg/slave"
)

// SMLayout is one sync manager's PDO-derived bit layout, read back from
// a slave's object dictionary.
type SMLayout struct {
	SMIndex   int
	BitLength int
}

// smTypeBase/smAssignBase/rxPDOMapBase/txPDOMapBase are the well-known
// CoE SM-type, PDO-assignment and PDO-mapping object ranges.
const (
	smTypeBase   uint16 = 0x1C00
	smAssignBase uint16 = 0x1C10
	rxPDOMapBase uint16 = 0x1600
	txPDOMapBase uint16 = 0x1A00
)

// ReadSMAssignment walks 0x1C10..0x1C17 (one per configured sync
// manager) and, for each assigned PDO, its 0x1600-../0x1A00-.. mapping
// entries, returning the accumulated bit length per SM. It also reads
// each SM's role back from 0x1C00/<sm+1> and records it on
// s.SMs[smIdx].Role, since [pkg/mapping.Build] needs to know which
// FMMU direction (read or write) a given SM's bits belong to. An abort
// code of [AbortObjectNotPresent] on an SM sub-object is treated as
// "this SM carries no process data" rather than an error.
func (c *Client) ReadSMAssignment(ctx context.Context, s *slave.Descriptor) ([]SMLayout, error) {
	var out []SMLayout
	for smIdx := 0; smIdx < 8; smIdx++ {
		typeRaw, err := c.SdoRead(ctx, s, smTypeBase, uint8(smIdx+1), false)
		if err != nil && !isObjectNotPresent(err) {
			return nil, err
		}
		if err == nil && len(typeRaw) >= 1 {
			s.SMs[smIdx].Role = smRoleFromType(typeRaw[0])
		}

		index := smAssignBase + uint16(smIdx)
		countRaw, err := c.SdoRead(ctx, s, index, 0x00, false)
		if isObjectNotPresent(err) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if len(countRaw) < 1 {
			continue
		}
		count := int(countRaw[0])
		bits := 0
		for i := 1; i <= count; i++ {
			pdoRaw, err := c.SdoRead(ctx, s, index, uint8(i), false)
			if isObjectNotPresent(err) {
				continue
			}
			if err != nil {
				return nil, err
			}
			if len(pdoRaw) < 2 {
				continue
			}
			pdoIndex := binary.LittleEndian.Uint16(pdoRaw[0:2])
			n, err := c.readPDOBitLength(ctx, s, pdoIndex)
			if err != nil {
				return nil, err
			}
			bits += n
		}
		if bits > 0 {
			out = append(out, SMLayout{SMIndex: smIdx, BitLength: bits})
		}
	}
	return out, nil
}

func (c *Client) readPDOBitLength(ctx context.Context, s *slave.Descriptor, pdoIndex uint16) (int, error) {
	countRaw, err := c.SdoRead(ctx, s, pdoIndex, 0x00, false)
	if isObjectNotPresent(err) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	if len(countRaw) < 1 {
		return 0, nil
	}
	count := int(countRaw[0])
	total := 0
	for i := 1; i <= count; i++ {
		entryRaw, err := c.SdoRead(ctx, s, pdoIndex, uint8(i), false)
		if isObjectNotPresent(err) {
			continue
		}
		if err != nil {
			return 0, err
		}
		if len(entryRaw) < 4 {
			continue
		}
		// Each mapping entry is a 32-bit value: index(16):subindex(8):bitlen(8).
		raw := binary.LittleEndian.Uint32(entryRaw)
		total += int(raw & 0xFF)
	}
	return total, nil
}

func isObjectNotPresent(err error) bool {
	ac, ok := err.(AbortCode)
	return ok && ac == AbortObjectNotPresent
}

// smRoleFromType maps a 0x1C00 SM type code to the role
// [pkg/mapping.Build] switches on.
func smRoleFromType(t uint8) slave.SMRole {
	switch t {
	case ethercat.SMTypeMailboxOut:
		return slave.SMRoleMailboxOut
	case ethercat.SMTypeMailboxIn:
		return slave.SMRoleMailboxIn
	case ethercat.SMTypeProcessOut:
		return slave.SMRoleProcessOut
	case ethercat.SMTypeProcessIn:
		return slave.SMRoleProcessIn
	default:
		return slave.SMRoleMailboxOut
	}
}
