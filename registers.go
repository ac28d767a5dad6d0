package ethercat

// Key ESC (EtherCAT Slave Controller) register addresses.
const (
	RegFixedAddress  uint16 = 0x0010
	RegDLControl     uint16 = 0x0100
	RegDLStatus      uint16 = 0x0110
	RegALControl     uint16 = 0x0120
	RegALStatus      uint16 = 0x0130
	RegALStatusCode  uint16 = 0x0134
	RegEEPROMControl uint16 = 0x0500
	RegEEPROMAddress uint16 = 0x0502
	RegEEPROMData    uint16 = 0x0508

	RegFMMUBase uint16 = 0x0600
	FMMUStride  uint16 = 0x10
	RegSMBase   uint16 = 0x0800
	SMStride    uint16 = 0x08

	RegDCPortTimeBase     uint16 = 0x0900
	DCPortTimeStride      uint16 = 0x04
	RegDCSystemTime       uint16 = 0x0910
	RegDCSystemTimeOffset uint16 = 0x0920
	RegDCSystemDelay      uint16 = 0x0928
	RegDCControl          uint16 = 0x0980
	RegDCSyncActivation   uint16 = 0x0981
	RegDCStartTime        uint16 = 0x0990
	RegDCCycleTime0       uint16 = 0x09A0
	RegDCCycleTime1       uint16 = 0x09A4
)

// RegFMMU returns the base address of FMMU i (0-7).
func RegFMMU(i int) uint16 { return RegFMMUBase + uint16(i)*FMMUStride }

// RegSM returns the base address of sync manager i (0-7). The status
// byte is at +5, the activate byte at +6, the control byte at +7;
// offsets +0/+2 are the physical start address/length.
func RegSM(i int) uint16 { return RegSMBase + uint16(i)*SMStride }

const (
	SMOffsetPhysStart uint16 = 0
	SMOffsetLength    uint16 = 2
	SMOffsetStatus    uint16 = 5
	SMOffsetActivate  uint16 = 6
	SMOffsetControl   uint16 = 7
)

// SM1 status-byte bits relevant to mailbox polling.
const (
	SMStatusMailboxFull uint8 = 0x01
	SMStatusRepeatAck   uint8 = 0x02
)

// SM1 control-byte bits relevant to toggle-ack recovery.
const SMControlRepeatRequest uint8 = 0x02

// RegDCPortTime returns the latched receive-time register for port i (0-3).
func RegDCPortTime(i int) uint16 { return RegDCPortTimeBase + uint16(i)*DCPortTimeStride }

// AL (Application Layer) control/status codes.
const (
	ALStateInit   uint16 = 0x01
	ALStatePreOp  uint16 = 0x02
	ALStateBoot   uint16 = 0x03
	ALStateSafeOp uint16 = 0x04
	ALStateOp     uint16 = 0x08
	ALStateError  uint16 = 0x10
	ALStateReset  uint16 = ALStateError
)

// SM control-byte values written to the SM's control register (offset
// +7) when the master itself programs mailbox SMs: enable buffered
// one-message-at-a-time mode, direction fixed by which SM (0 is always
// master->slave, 1 always slave->master).
const (
	SMControlMailboxOut uint8 = 0x26
	SMControlMailboxIn  uint8 = 0x22
)

// SM type codes read back from a sync manager's 0x1C00 SM-type object,
// identifying what a process-data SM (index 2 and up) is used for.
const (
	SMTypeUnused      uint8 = 0
	SMTypeMailboxOut  uint8 = 1
	SMTypeMailboxIn   uint8 = 2
	SMTypeProcessOut  uint8 = 3
	SMTypeProcessIn   uint8 = 4
)
