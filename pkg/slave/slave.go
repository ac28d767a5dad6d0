// Package slave holds the per-device data model: topology, capabilities,
// sync managers, FMMUs, mailbox state, EEPROM-derived facts and DC
// state, plus a [Registry] that owns the whole population for one bus
// (created at scan time, destroyed on close/rescan).
package slave

import "sync"

// SMRole is the function a sync manager channel serves.
type SMRole uint8

const (
	SMRoleMailboxOut SMRole = iota // SM0: master -> slave
	SMRoleMailboxIn                // SM1: slave -> master
	SMRoleProcessOut
	SMRoleProcessIn
)

// SyncManager mirrors one of a slave's up to 8 SM channels.
type SyncManager struct {
	PhysStart uint16
	Length    uint16
	Control   uint8
	Role      SMRole
	Enabled   bool
}

// FMMUDirection is the access direction an FMMU window permits.
type FMMUDirection uint8

const (
	FMMUDirRead FMMUDirection = iota
	FMMUDirWrite
	FMMUDirReadWrite
)

// FMMU mirrors one of a slave's up to 8 FMMU entries.
type FMMU struct {
	PhysStart    uint16
	PhysBitStart uint8
	LogicalStart uint32
	LogicalBits  uint32
	Direction    FMMUDirection
}

// MailboxProtocol is one bit of a slave's supported-protocol set.
type MailboxProtocol uint8

const (
	ProtoAoE MailboxProtocol = 1 << iota
	ProtoEoE
	ProtoCoE
	ProtoFoE
	ProtoSoE
	ProtoVoE
)

// Feature bits from the slave's capability word.
const (
	FeatureDC           uint32 = 1 << 0
	FeatureNoLRW        uint32 = 1 << 1 // "LRW-not-supported"
)

// EEPROMFacts are the facts the (out-of-scope) EEPROM category walk is
// expected to hand the master; this package only consumes them.
type EEPROMFacts struct {
	VendorID          uint32
	ProductCode       uint32
	MailboxOutOffset  uint16
	MailboxOutSize    uint16
	MailboxInOffset   uint16
	MailboxInSize     uint16
	BootMailboxOutOff uint16
	BootMailboxOutLen uint16
	BootMailboxInOff  uint16
	BootMailboxInLen  uint16
	SupportedProtos    MailboxProtocol
	ProcessDataGroup   int
}

// MailboxState is the per-slave outbound mailbox counter bookkeeping.
type MailboxState struct {
	mu          sync.Mutex
	LastCounter uint8 // 0 means "none seen yet"
}

// NextCounter returns the next value in the 1..7 rolling sequence and
// records it as the last sent counter.
func (m *MailboxState) NextCounter() uint8 {
	m.mu.Lock()
	defer m.mu.Unlock()
	next := m.LastCounter + 1
	if next > 7 {
		next = 1
	}
	m.LastCounter = next
	return next
}

// RxCounterTracker tracks the last mailbox counter value seen from a
// slave, so a receiver can drop a retransmitted message whose counter
// matches the one already processed. Tracked separately from
// MailboxState's outbound NextCounter sequence.
type RxCounterTracker struct {
	mu       sync.Mutex
	lastSeen uint8
	hasSeen  bool
}

func (t *RxCounterTracker) IsDuplicate(counter uint8) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	dup := t.hasSeen && counter == t.lastSeen
	t.lastSeen = counter
	t.hasSeen = true
	return dup
}

// DCState is the per-slave Distributed Clocks bookkeeping.
type DCState struct {
	PortReceiveTimes [4]uint32
	ActivePorts      [4]bool
	PropagationDelay int32
	Cycle0           uint32
	Cycle1           uint32
	CycleShift       int32
	Enabled          bool
}

// ALState mirrors the AL state machine's register values (see
// ethercat.ALState* constants).
type ALState struct {
	Expected uint16
	Actual   uint16
	Error    bool
	ErrorCode uint16
}

// InitCommand is a CoE/SoE payload tagged by the transition it should be
// replayed on.
type InitCommand struct {
	Transition string // e.g. "PREOP->SAFEOP"
	Index      uint16
	Subindex   uint8
	Data       []byte
	IsSoE      bool
	Drive      uint8
	IDN        uint16
}

// Descriptor is one slave's complete picture, indexed 0..N-1 by scan
// order within the [Registry].
type Descriptor struct {
	Position       int
	AutoIncAddr    uint16 // small negative number derived from position
	FixedAddr      uint16
	LinkCount      int
	ActivePorts    [4]bool
	Parent         int // -1 for the first slave
	EntryPort      int // port with minimum latched receive time

	Features       uint32
	SupportedProto MailboxProtocol
	PDIControl     uint16
	RAMSizeKB      int

	SMs  [8]SyncManager
	SMCh int // number of SMs actually populated
	FMMUs []FMMU
	Mailbox MailboxState
	MailboxRx RxCounterTracker

	EEPROM EEPROMFacts
	DC     DCState
	AL     ALState

	InitCommands []InitCommand
}

// HasLRW reports whether the slave supports the LRW command; mapping
// generation falls back the whole group to split LRD+LWR if any member
// lacks it (see DESIGN.md).
func (d *Descriptor) HasLRW() bool {
	return d.Features&FeatureNoLRW == 0
}

// HasDC reports whether the slave's silicon supports Distributed Clocks.
func (d *Descriptor) HasDC() bool {
	return d.Features&FeatureDC != 0
}

// Registry owns all slave descriptors for one bus.
type Registry struct {
	mu      sync.RWMutex
	slaves  []*Descriptor
}

// NewRegistry creates an empty registry, populated by a bus scan.
func NewRegistry() *Registry {
	return &Registry{}
}

// Reset clears the registry, e.g. before a full rescan.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.slaves = nil
}

// Add appends a freshly scanned descriptor.
func (r *Registry) Add(d *Descriptor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.slaves = append(r.slaves, d)
}

// Count returns the number of slaves currently in the registry.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.slaves)
}

// Get returns the descriptor at position i.
func (r *Registry) Get(i int) *Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if i < 0 || i >= len(r.slaves) {
		return nil
	}
	return r.slaves[i]
}

// All returns a snapshot slice of every descriptor.
func (r *Registry) All() []*Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Descriptor, len(r.slaves))
	copy(out, r.slaves)
	return out
}

// ByFixedAddr finds a slave by its configured fixed station address.
func (r *Registry) ByFixedAddr(addr uint16) *Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, s := range r.slaves {
		if s.FixedAddr == addr {
			return s
		}
	}
	return nil
}
