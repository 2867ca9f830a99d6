package riscv

import "fmt"

// NetPort is one named input or output net of the hart.
type NetPort struct {
	Name        string
	Description string
	Input       bool

	write func(uint64)
	read  func() uint64
}

// Write drives an input net with a new value.
func (p *NetPort) Write(value uint64) {
	if p.write != nil {
		p.write(value)
	}
}

// Read samples an output net.
func (p *NetPort) Read() uint64 {
	if p.read != nil {
		return p.read()
	}
	return 0
}

func posedge(old, new bool) bool {
	return !old && new
}

func negedge(old, new bool) bool {
	return old && !new
}

func toBool(v uint64) bool {
	return v != 0
}

// resetPort: halt while the signal is high, reset on the falling edge.
func (h *Hart) resetPort(value uint64) {
	oldValue := h.netValue.reset
	newValue := toBool(value)

	if posedge(oldValue, newValue) {
		h.halt(disableReset)
	} else if negedge(oldValue, newValue) {
		h.Reset()
	}

	h.netValue.reset = newValue
}

// nmiPort: NMI on the rising edge unless in Debug-Mode; mirrored in
// dcsr.nmip.
func (h *Hart) nmiPort(value uint64) {
	oldValue := h.netValue.nmi
	newValue := toBool(value)

	if !h.inDebugMode() && posedge(oldValue, newValue) {
		h.doNMI()
	}

	h.setDcsrField(dcsrNmip, newValue)
	h.netValue.nmi = newValue
}

func (h *Hart) setDcsrField(mask uint64, value bool) {
	if value {
		h.Dcsr |= mask
	} else {
		h.Dcsr &^= mask
	}
}

// haltreqPort: Debug-Mode entry is scheduled on the rising edge; the fetch
// gate completes it.
func (h *Hart) haltreqPort(value uint64) {
	oldValue := h.netValue.haltreq
	newValue := toBool(value)

	if !h.inDebugMode() && posedge(oldValue, newValue) {
		h.host.DoSynchronousInterrupt(h)
	}

	h.netValue.haltreq = newValue
}

// resethaltreqPort latches the level; it is sampled at reset.
func (h *Hart) resethaltreqPort(value uint64) {
	h.netValue.resethaltreq = toBool(value)
}

// scValidPort clears the reservation whenever the input is driven low, so a
// falling edge always clears it.
func (h *Hart) scValidPort(value uint64) {
	if !toBool(value) {
		h.ClearReservation()
	}
}

// deferintPort holds interrupts off while high; the release edge schedules
// any deferred delivery.
func (h *Hart) deferintPort(value uint64) {
	oldValue := h.netValue.deferint
	newValue := toBool(value)

	h.netValue.deferint = newValue

	if negedge(oldValue, newValue) {
		h.handlePendingAndEnabled()
	}
}

// interruptPort drives one bit of the raw pending vector.
func (h *Hart) interruptPort(index uint32, value uint64) {
	if index >= h.intNum() {
		panic(fmt.Sprintf("riscv: interrupt port index %d exceeds maximum %d",
			index, h.intNum()-1))
	}

	mask := uint64(1) << (index % 64)
	if toBool(value) {
		h.ip[index/64] |= mask
	} else {
		h.ip[index/64] &^= mask
	}

	if h.clicPresent() {
		h.updateCLICInput(index, toBool(value))
	}

	h.updatePending()
}

// interruptIDPort latches the external interrupt ID override for a mode.
func (h *Hart) interruptIDPort(mode Mode, value uint64) {
	h.extInt[mode] = value
}

// externalIntIDNames maps each mode to its ID override port name.
var externalIntIDNames = [modeCount]string{
	ModeUser:       "UExternalInterruptID",
	ModeSupervisor: "SExternalInterruptID",
	ModeHypervisor: "HExternalInterruptID",
	ModeMachine:    "MExternalInterruptID",
}

// newNetPorts builds the hart's net port list.
func (h *Hart) newNetPorts() {
	add := func(p *NetPort) {
		h.netPorts = append(h.netPorts, p)
	}
	input := func(name, desc string, write func(uint64)) {
		add(&NetPort{Name: name, Description: desc, Input: true, write: write})
	}
	output := func(name, desc string, read func() uint64) {
		add(&NetPort{Name: name, Description: desc, read: read})
	}

	input("reset", "Reset", h.resetPort)
	input("nmi", "NMI", h.nmiPort)

	// implemented standard interrupt ports
	for i := range exceptionDescs {
		info := exceptionDescs[i].info
		code := info.Code

		if !code.IsInterrupt() || !h.hasException(code) {
			continue
		}

		index := code.Code()
		input(info.Name, info.Description, func(v uint64) {
			h.interruptPort(index, v)
		})

		if h.cfg.ExternalIntID && code.isExternalInterrupt() {
			mode := Mode(code - IntUExternalInterrupt)
			input(externalIntIDNames[mode], "External Interrupt ID",
				func(v uint64) { h.interruptIDPort(mode, v) })
		}
	}

	// local interrupt ports
	for i := 0; i < h.cfg.LocalIntNum; i++ {
		index := IntLocalBase.Code() + uint32(i)
		input(fmt.Sprintf("LocalInterrupt%d", i),
			fmt.Sprintf("Local Interrupt %d", i),
			func(v uint64) { h.interruptPort(index, v) })
	}

	// Debug-Mode ports
	if h.cfg.DebugMode != DebugModeNone {
		output("DM", "Debug state indication", func() uint64 {
			if h.DM {
				return 1
			}
			return 0
		})
		input("haltreq", "haltreq (Debug halt request)", h.haltreqPort)
		input("resethaltreq", "resethaltreq (Debug halt request after reset)",
			h.resethaltreqPort)
	}

	// external management of LR/SC locking
	if h.cfg.archMask&archA != 0 {
		output("LR_address", "Port written with effective address for LR instruction",
			func() uint64 { return h.LRAddress })
		output("SC_address", "Port written with effective address for SC instruction",
			func() uint64 { return h.SCAddress })
		input("SC_valid", "SC_address valid input signal", h.scValidPort)
		output("AMO_active", "Port written with code indicating active AMO",
			func() uint64 { return h.AMOActive })
	}

	input("deferint", "Artifact signal causing interrupts to be held off when high",
		h.deferintPort)
}

// NetPorts returns the hart's nets in creation order.
func (h *Hart) NetPorts() []*NetPort {
	return h.netPorts
}

// Net returns the named net, or nil.
func (h *Hart) Net(name string) *NetPort {
	for _, p := range h.netPorts {
		if p.Name == name {
			return p
		}
	}
	return nil
}

// Signal drives the named input net.
func (h *Hart) Signal(name string, value uint64) error {
	p := h.Net(name)
	if p == nil {
		return fmt.Errorf("no net port %q", name)
	}
	if !p.Input {
		return fmt.Errorf("net port %q is an output", name)
	}
	p.Write(value)
	return nil
}
