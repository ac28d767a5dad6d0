package statemachine

import (
	"encoding/binary"

	"context"

	ethercat "github.com/samsamfire/goethercat"
	"github.com/samsamfire/goethercat/pkg/datagram"
	"github.com/samsamfire/goethercat/pkg/slave"
)

// ConfigureMailboxSMs programs SM0 (master->slave) and SM1
// (slave->master) on every slave that declared mailbox support in its
// EEPROM facts, from the physical start address and length the EEPROM
// read handed back. This must run once a slave is in PRE-OP and before
// any mailbox exchange is attempted against it: mailbox.Transport reads
// s.SMs[0]/s.SMs[1] directly, and both are still their Go zero value
// until this runs.
func ConfigureMailboxSMs(ctx context.Context, eng *datagram.Engine, registry *slave.Registry) error {
	for _, s := range registry.All() {
		if s.EEPROM.MailboxOutSize == 0 && s.EEPROM.MailboxInSize == 0 {
			continue
		}
		if err := configureSM(ctx, eng, s, 0, s.EEPROM.MailboxOutOffset, s.EEPROM.MailboxOutSize,
			ethercat.SMControlMailboxOut, slave.SMRoleMailboxOut); err != nil {
			return err
		}
		if err := configureSM(ctx, eng, s, 1, s.EEPROM.MailboxInOffset, s.EEPROM.MailboxInSize,
			ethercat.SMControlMailboxIn, slave.SMRoleMailboxIn); err != nil {
			return err
		}
	}
	return nil
}

func configureSM(ctx context.Context, eng *datagram.Engine, s *slave.Descriptor, i int, physStart, length uint16, control uint8, role slave.SMRole) error {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint16(buf[0:2], physStart)
	binary.LittleEndian.PutUint16(buf[2:4], length)
	buf[6] = 1 // activate
	buf[7] = control

	addr := ethercat.Fixed(s.FixedAddr, ethercat.RegSM(i))
	wkc, _, err := eng.Transceive(ctx, ethercat.CmdFPWR, addr, buf)
	if err != nil {
		return err
	}
	if wkc == 0 {
		return ethercat.ErrDetail(ethercat.CategorySlave, ethercat.KindNotResponding,
			"slave %d: no response programming SM%d", s.FixedAddr, i)
	}

	s.SMs[i] = slave.SyncManager{
		PhysStart: physStart,
		Length:    length,
		Control:   control,
		Role:      role,
		Enabled:   true,
	}
	if i+1 > s.SMCh {
		s.SMCh = i + 1
	}
	return nil
}
