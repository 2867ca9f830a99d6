package riscv

import (
	"errors"
	"fmt"
)

// ErrHalt is returned by Run when the hart it steps is halted.
var ErrHalt = errors.New("cluster halted")

// ExecFn decodes and executes one instruction on the hart, advancing the
// PC. An ExceptionError return is delivered through the trap engine.
type ExecFn func(h *Hart) error

// Cluster assembles one or more harts with their shared CLIC block and
// data domain.
type Cluster struct {
	Config *Config
	Harts  []*Hart
	Bus    *Bus

	root *clicRoot
	host Host
}

// NewCluster builds a cluster: bus, harts and, when configured, the CLIC
// window mapped at mclicbase.
func NewCluster(cfg *Config, ramSize uint64, host Host) (*Cluster, error) {
	if err := cfg.finalize(); err != nil {
		return nil, fmt.Errorf("cluster config: %w", err)
	}
	if host == nil {
		host = NopHost{}
	}

	root := newCLICRoot(cfg)
	root.harts = make([]*Hart, cfg.NumHarts)

	bus := NewBus(cfg.ResetAddress, ramSize)

	c := &Cluster{
		Config: cfg,
		Bus:    bus,
		root:   root,
		host:   host,
	}

	for i := 0; i < cfg.NumHarts; i++ {
		h := newHart(i, cfg, root, host)
		h.Bus = bus
		h.Checker = &PhysicalChecker{Bus: bus}
		c.Harts = append(c.Harts, h)
	}

	if cfg.CLIC {
		bus.AddDevice(cfg.MCLICBase, &CLICWindow{root: root})
	}

	return c, nil
}

// Hart returns the hart with the given index.
func (c *Cluster) Hart(index int) *Hart {
	if index < 0 || index >= len(c.Harts) {
		panic(fmt.Sprintf("riscv: illegal hart index %d", index))
	}
	return c.Harts[index]
}

// Step runs the fetch gate for one hart and, if the fetch is allowed,
// executes one instruction through exec. Trap delivery pre-empting the
// fetch counts as the step's work.
func (c *Cluster) Step(h *Hart, exec ExecFn) error {
	if h.Halted() {
		return nil
	}

	if h.FetchGate(h.PC, true) == FetchException {
		return nil
	}

	if exec != nil {
		if err := exec(h); err != nil {
			var exc ExceptionError
			if errors.As(err, &exc) {
				h.TakeException(exc.Cause, exc.Tval)
				return nil
			}
			return err
		}
	}

	h.CountInstruction()

	// one-instruction step breakpoint
	h.stepTimerExpired()

	return nil
}

// Run steps the hart until it halts or maxSteps is reached.
func (c *Cluster) Run(h *Hart, exec ExecFn, maxSteps int) error {
	for i := 0; i < maxSteps; i++ {
		if h.Halted() {
			return ErrHalt
		}
		if err := c.Step(h, exec); err != nil {
			return fmt.Errorf("step error at PC=0x%x: %w", h.PC, err)
		}
	}
	return nil
}

// PhysicalChecker validates fetch addresses against the physical data
// domain: an address is executable iff it targets RAM. Address translation
// lives outside this core; translating checkers substitute their own Miss.
type PhysicalChecker struct {
	Bus *Bus
}

// Executable implements AddressChecker.
func (p *PhysicalChecker) Executable(addr uint64) bool {
	return addr >= p.Bus.RAMBase && addr < p.Bus.RAMBase+p.Bus.RAM.Size()
}

// Miss implements AddressChecker; a physical domain has no translation to
// miss.
func (p *PhysicalChecker) Miss(h *Hart, addr uint64, complete bool) bool {
	return false
}

// AddressChecker validates instruction fetch addresses for the fetch gate.
type AddressChecker interface {
	// Executable reports whether the address may be fetched from.
	Executable(addr uint64) bool

	// Miss gives the VM module a chance to handle a translation miss,
	// raising its own fault when complete. It reports whether an exception
	// was signalled.
	Miss(h *Hart, addr uint64, complete bool) bool
}
