// Package master wires every subsystem together into the single
// top-level entry point applications use: link, datagram engine, bus
// scan, mailbox protocols, state machine, mapping, Distributed Clocks,
// the cyclic scheduler and the supervisor.
package master

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/samsamfire/goethercat/pkg/coe"
	"github.com/samsamfire/goethercat/pkg/cyclic"
	"github.com/samsamfire/goethercat/pkg/datagram"
	"github.com/samsamfire/goethercat/pkg/dc"
	"github.com/samsamfire/goethercat/pkg/foe"
	"github.com/samsamfire/goethercat/pkg/link"
	"github.com/samsamfire/goethercat/pkg/mailbox"
	"github.com/samsamfire/goethercat/pkg/mapping"
	"github.com/samsamfire/goethercat/pkg/metrics"
	"github.com/samsamfire/goethercat/pkg/slave"
	"github.com/samsamfire/goethercat/pkg/soe"
	"github.com/samsamfire/goethercat/pkg/statemachine"
	"github.com/samsamfire/goethercat/pkg/supervisor"
)

// Config holds the knobs a caller typically sets; zero values fall
// back to sane defaults. Registerer, if set, causes Start to register
// and maintain Prometheus collectors for cycle duration, WKC mismatches
// and supervisor queue depth.
type Config struct {
	CyclePeriod        time.Duration
	SupervisorInterval time.Duration
	DCMode             dc.Mode
	DCKp, DCKi         float64 // DC PI gains, zero means use dc.DefaultKp/DefaultKi
	Logger             *logrus.Logger
	Registerer         prometheus.Registerer
}

func (c *Config) withDefaults() {
	if c.CyclePeriod == 0 {
		c.CyclePeriod = time.Millisecond
	}
	if c.SupervisorInterval == 0 {
		c.SupervisorInterval = 100 * time.Millisecond
	}
	if c.Logger == nil {
		c.Logger = logrus.StandardLogger()
	}
	if c.DCKp == 0 {
		c.DCKp = dc.DefaultKp
	}
	if c.DCKi == 0 {
		c.DCKi = dc.DefaultKi
	}
}

// Master is the top-level handle applications hold: it owns the link,
// every protocol client, and the background goroutines driving the bus.
type Master struct {
	cfg Config
	log *logrus.Logger

	eng      *datagram.Engine
	registry *slave.Registry

	mbx *mailbox.Transport
	CoE *coe.Client
	SoE *soe.Client
	FoE *foe.Client

	machine    *statemachine.Machine
	dcEngine   *dc.Engine
	supervisor *supervisor.Supervisor

	groups    []*cyclic.Group
	scheduler *cyclic.Scheduler

	metrics *metrics.Metrics

	cancel context.CancelFunc
}

// New constructs a Master over an already-opened link. Opening the
// real raw-socket NIC is out of scope, see DESIGN.md.
func New(l link.Link, cfg Config) *Master {
	cfg.withDefaults()

	mgr := link.NewManager()
	eng := datagram.New(l, mgr)
	registry := slave.NewRegistry()
	mbx := mailbox.New(eng)
	coeClient := coe.New(mbx)
	soeClient := soe.New(mbx)
	foeClient := foe.New(mbx)

	replayer := &initReplayer{coe: coeClient, soe: soeClient}
	machine := statemachine.New(eng, registry, replayer)
	dcEngine := dc.NewWithGains(eng, registry, cfg.DCMode, cfg.DCKp, cfg.DCKi)
	sup := supervisor.New(eng, registry, machine)

	var mtr *metrics.Metrics
	if cfg.Registerer != nil {
		mtr = metrics.New(cfg.Registerer)
	}

	return &Master{
		cfg:        cfg,
		log:        cfg.Logger,
		eng:        eng,
		registry:   registry,
		mbx:        mbx,
		CoE:        coeClient,
		SoE:        soeClient,
		FoE:        foeClient,
		machine:    machine,
		dcEngine:   dcEngine,
		supervisor: sup,
		metrics:    mtr,
	}
}

// Registry exposes the scanned slave population.
func (m *Master) Registry() *slave.Registry { return m.registry }

// Groups returns the mapped cyclic process-data groups built by Start.
func (m *Master) Groups() []*cyclic.Group { return m.groups }

// Diagnostics exposes the supervisor's message channel for a caller to
// log or forward to its own alerting pipeline.
func (m *Master) Diagnostics() <-chan supervisor.Message { return m.supervisor.Messages() }

// Start scans the bus, brings every slave to PRE-OP, programs each
// slave's mailbox sync managers from its EEPROM facts, reads back each
// slave's PDO assignment over CoE to build the mapped process-data
// group, programs DC propagation delay, transitions to OP, and launches
// the cyclic scheduler and supervisor loops.
//
// Every slave is folded into a single process-data group in this
// implementation; the EEPROM-declared group id
// (EEPROMFacts.ProcessDataGroup) is not yet used to split slaves across
// independent groups (see DESIGN.md).
func (m *Master) Start(ctx context.Context) error {
	if err := statemachine.Scan(ctx, m.eng, m.registry); err != nil {
		return fmt.Errorf("scan: %w", err)
	}
	m.log.Infof("scanned %d slave(s)", m.registry.Count())

	if err := m.machine.RequestAll(ctx, statemachine.StatePreOp); err != nil {
		return fmt.Errorf("pre-op: %w", err)
	}

	if err := statemachine.ConfigureMailboxSMs(ctx, m.eng, m.registry); err != nil {
		return fmt.Errorf("configure mailbox sync managers: %w", err)
	}

	slaves := m.registry.All()
	bits := map[*slave.Descriptor][]mapping.SMBits{}
	for _, s := range slaves {
		assign, err := m.CoE.ReadSMAssignment(ctx, s)
		if err != nil {
			return fmt.Errorf("read PDO assignment for slave %d: %w", s.FixedAddr, err)
		}
		for _, a := range assign {
			bits[s] = append(bits[s], mapping.SMBits{SMIndex: a.SMIndex, BitLength: a.BitLength})
		}
	}

	layout := mapping.Build(0x00010000, slaves, bits)
	mapping.Apply(layout)
	group := cyclic.NewGroup(layout)
	m.groups = []*cyclic.Group{group}

	if err := m.machine.RequestAll(ctx, statemachine.StateSafeOp); err != nil {
		return fmt.Errorf("safe-op: %w", err)
	}

	if err := m.dcEngine.ConfigurePropagationDelays(ctx); err != nil {
		return fmt.Errorf("dc propagation delay: %w", err)
	}

	if err := m.machine.RequestAll(ctx, statemachine.StateOp); err != nil {
		return fmt.Errorf("op: %w", err)
	}

	m.scheduler = cyclic.New(m.eng, m.groups, m.cfg.CyclePeriod)
	m.scheduler.OnMismatch(func(ev cyclic.MismatchEvent) {
		if m.metrics != nil {
			m.metrics.WkcMismatches.WithLabelValues("group-0").Inc()
		}
		m.supervisor.HandleMismatch(ev)
	})
	if m.metrics != nil {
		m.scheduler.OnCycle(func(d time.Duration) {
			m.metrics.CycleDuration.Observe(d.Seconds())
		})
	}

	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	go m.scheduler.Run(runCtx)
	go m.supervisor.Run(runCtx, m.cfg.SupervisorInterval)
	if m.metrics != nil {
		go m.reportQueueDepth(runCtx)
	}

	return nil
}

// reportQueueDepth samples the supervisor's undelivered message count
// into the queue-depth gauge until ctx is done.
func (m *Master) reportQueueDepth(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.SupervisorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.metrics.SupervisorQueue.Set(float64(len(m.supervisor.Messages())))
		}
	}
}

// Stop halts the cyclic scheduler and supervisor loops.
func (m *Master) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	if m.scheduler != nil {
		m.scheduler.Stop()
	}
}

// initReplayer adapts the CoE/SoE clients to
// [pkg/statemachine.InitCommandReplayer].
type initReplayer struct {
	coe *coe.Client
	soe *soe.Client
}

func (r *initReplayer) Replay(ctx context.Context, s *slave.Descriptor, transition string) error {
	for _, cmd := range s.InitCommands {
		if cmd.Transition != transition {
			continue
		}
		if cmd.IsSoE {
			if err := r.soe.Write(ctx, s, cmd.Drive, cmd.IDN, soe.ElementValue, cmd.Data); err != nil {
				return err
			}
			continue
		}
		if err := r.coe.SdoWrite(ctx, s, cmd.Index, cmd.Subindex, false, cmd.Data); err != nil {
			return err
		}
	}
	return nil
}
