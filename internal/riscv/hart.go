// Package riscv implements the trap delivery core of a RISC-V hart model:
// synchronous exception and interrupt arbitration, CLIC vectored interrupt
// logic, trap/return CSR sequencing and Debug-Mode entry and exit.
package riscv

// Privilege modes
type Mode uint8

const (
	ModeUser       Mode = 0
	ModeSupervisor Mode = 1
	ModeHypervisor Mode = 2
	ModeMachine    Mode = 3

	modeCount = 4
)

func (m Mode) String() string {
	switch m {
	case ModeUser:
		return "User"
	case ModeSupervisor:
		return "Supervisor"
	case ModeHypervisor:
		return "Hypervisor"
	case ModeMachine:
		return "Machine"
	}
	return "?"
}

// mstatus bits
const (
	MstatusUIE  uint64 = 1 << 0
	MstatusSIE  uint64 = 1 << 1
	MstatusMIE  uint64 = 1 << 3
	MstatusUPIE uint64 = 1 << 4
	MstatusSPIE uint64 = 1 << 5
	MstatusMPIE uint64 = 1 << 7
	MstatusSPP  uint64 = 1 << 8
	MstatusMPP  uint64 = 3 << 11
	MstatusFS   uint64 = 3 << 13
	MstatusMPRV uint64 = 1 << 17
	MstatusSUM  uint64 = 1 << 18
	MstatusMXR  uint64 = 1 << 19
	MstatusTVM  uint64 = 1 << 20
	MstatusTW   uint64 = 1 << 21
	MstatusTSR  uint64 = 1 << 22
)

// mstatus bit positions
const (
	MstatusSPPShift = 8
	MstatusMPPShift = 11
)

// mip/mie bits
const (
	MipUSIP uint64 = 1 << 0
	MipSSIP uint64 = 1 << 1
	MipMSIP uint64 = 1 << 3
	MipUTIP uint64 = 1 << 4
	MipSTIP uint64 = 1 << 5
	MipMTIP uint64 = 1 << 7
	MipUEIP uint64 = 1 << 8
	MipSEIP uint64 = 1 << 9
	MipMEIP uint64 = 1 << 11
	MipCSIP uint64 = 1 << 12
)

// Interrupt-control mode of an xtvec register.
type ICMode uint8

const (
	ICDirect   ICMode = 0
	ICVectored ICMode = 1
	ICCLIC     ICMode = 3
)

// pendEnab records the selected pending-and-enabled interrupt.
type pendEnab struct {
	id     int32
	priv   Mode
	level  uint8
	isCLIC bool
}

// NoInt marks "no interrupt selected" in a pendEnab record.
const NoInt int32 = -1

// netValues latches the level of each control input net.
type netValues struct {
	reset         bool
	nmi           bool
	haltreq       bool
	resethaltreq  bool
	resethaltreqS bool
	deferint      bool
}

// AFError classifies the detail of an access fault.
type AFError uint8

const (
	AFErrorNone AFError = iota
	AFErrorDevice
)

// disableReason is a bitmask of reasons the hart is halted.
type disableReason uint8

const (
	disableWFI disableReason = 1 << iota
	disableReset
	disableDebug
)

// noExclusiveTag marks an inactive LR/SC reservation.
const noExclusiveTag = ^uint64(0)

// basicIntState captures the factors contributing to basic-mode interrupt
// selection, for change-only trace logging and the persisted state blob.
type basicIntState struct {
	pendingEnabled  uint64
	pending         uint64
	pendingExternal uint64
	pendingInternal uint64
	mideleg         uint64
	sideleg         uint64
	mie             bool
	sie             bool
	uie             bool
}

// Hart models one hardware thread's trap delivery state.
type Hart struct {
	ID   int
	PC   uint64
	Priv Mode

	cfg  *Config
	root *clicRoot
	host Host

	// Bus is the hart's data domain, used for CLIC vector-table fetches.
	Bus BusInterface

	// Checker validates fetch addresses for the fetch gate.
	Checker AddressChecker

	// Machine CSRs
	Mstatus       uint64
	Misa          uint64
	Medeleg       uint64
	Mideleg       uint64
	Sedeleg       uint64
	Sideleg       uint64
	Mie           uint64
	Mip           uint64
	Mtvec         uint64
	Stvec         uint64
	Utvec         uint64
	Mtvt          uint64
	Stvt          uint64
	Utvt          uint64
	Mscratch      uint64
	Sscratch      uint64
	Uscratch      uint64
	Mepc          uint64
	Sepc          uint64
	Uepc          uint64
	Mcause        uint64
	Scause        uint64
	Ucause        uint64
	Mtval         uint64
	Stval         uint64
	Utval         uint64
	Mcounteren    uint64
	Scounteren    uint64
	Mcountinhibit uint64
	Satp          uint64
	Mhartid       uint64

	// mintstatus interrupt levels and per-mode thresholds
	Mil        uint8
	Sil        uint8
	Uil        uint8
	Mintthresh uint8
	Sintthresh uint8
	Uintthresh uint8

	// Debug CSRs
	Dcsr uint64
	Dpc  uint64

	// Vector extension trap state
	Vstart      uint64
	VFirstFault bool

	// SetVL clamps vl during fault-only-first suppression; installed by the
	// vector unit when present.
	SetVL func(vl uint64)

	// Custom per-mode interrupt modes used when xtvec carries no MODE field.
	MIMode ICMode
	SIMode ICMode
	UIMode ICMode

	// Debug-Mode state
	DM      bool
	DMStall bool
	disable disableReason

	exclusiveTag uint64

	// When executing inside an instruction-table detour, jumpBase holds the
	// address of the original instruction for EPC purposes.
	jumpBase uint64
	inDetour bool

	AFErrorIn  AFError
	AFErrorOut AFError

	// Latched external-interrupt-ID overrides, one per mode.
	extInt [modeCount]uint64

	pendEnab pendEnab
	netValue netValues

	// Raw interrupt inputs: external wires and software-pending bits.
	ip   []uint64
	swip uint64

	// Exception holds the most recently taken exception.
	Exception Exception

	baseInstructions uint64
	baseCycles       uint64

	intState  basicIntState
	clic      hartCLIC
	clicTrace clicSel

	exceptionMask uint64
	interruptMask uint64
	exceptions    []ExceptionInfo

	observers []Observer
	netPorts  []*NetPort

	// Output net latches.
	LRAddress uint64
	SCAddress uint64
	AMOActive uint64

	inSaveRestore bool
}

// misaValue composes the misa CSR from the configured architecture.
func misaValue(cfg *Config) uint64 {
	mxl := uint64(2)
	if cfg.XLEN == 32 {
		mxl = 1
	}
	misa := mxl << (uint(cfg.XLEN) - 2)
	misa |= 1 << ('I' - 'A')
	misa |= 1 << ('M' - 'A')
	for _, ext := range []archFlags{archA, archC, archN, archS, archU} {
		if cfg.archMask&ext != 0 {
			misa |= uint64(ext)
		}
	}
	return misa
}

// newHart creates one hart of a cluster. Harts are built by NewCluster.
func newHart(id int, cfg *Config, root *clicRoot, host Host) *Hart {
	h := &Hart{
		ID:           id,
		Priv:         ModeMachine,
		cfg:          cfg,
		root:         root,
		host:         host,
		Misa:         misaValue(cfg),
		Mhartid:      uint64(id),
		PC:           cfg.ResetAddress,
		exclusiveTag: noExclusiveTag,
		Exception:    ExcNone,
	}
	h.pendEnab.id = NoInt
	h.clic.sel.id = NoInt

	h.ip = make([]uint64, bitsToDWords(h.intNum()))
	h.setExceptionMask()
	h.newCLIC()
	h.newNetPorts()

	return h
}

// Config returns the variant options the hart was built with.
func (h *Hart) Config() *Config {
	return h.cfg
}

func bitsToDWords(bits uint32) int {
	return int((bits + 63) / 64)
}

// xlenMask returns the mask of implemented register bits.
func (h *Hart) xlenMask() uint64 {
	if h.cfg.XLEN == 32 {
		return 0xffff_ffff
	}
	return ^uint64(0)
}

// causeInterruptBit returns the Interrupt bit position mask in xcause.
func (h *Hart) causeInterruptBit() uint64 {
	return 1 << (uint(h.cfg.XLEN) - 1)
}

// epcMask returns the writable mask for xepc: bit 0 is always clear, bit 1
// is writable only when compressed instructions are implemented.
func (h *Hart) epcMask() uint64 {
	mask := h.xlenMask() &^ 1
	if h.cfg.archMask&archC == 0 {
		mask &^= 2
	}
	return mask
}

// inDebugMode reports whether the hart is in Debug-Mode.
func (h *Hart) inDebugMode() bool {
	return h.DM
}

// InDebugMode reports whether the hart is in Debug-Mode.
func (h *Hart) InDebugMode() bool {
	return h.DM
}

// epcAddress returns the PC to save on trap entry. Inside an
// instruction-table detour this is the original instruction, not the table
// instruction.
func (h *Hart) epcAddress() uint64 {
	if h.inDetour {
		return h.jumpBase
	}
	return h.PC
}

// EnterDetour records the original instruction address while executing an
// instruction-table detour.
func (h *Hart) EnterDetour(base uint64) {
	h.jumpBase = base
	h.inDetour = true
}

// LeaveDetour ends an instruction-table detour.
func (h *Hart) LeaveDetour() {
	h.inDetour = false
}

// setPCxRET jumps to an exception return address, masking it to a 4-byte
// boundary when compressed instructions are not enabled.
func (h *Hart) setPCxRET(newPC uint64) {
	if h.cfg.archMask&archC == 0 {
		newPC &^= 3
	} else {
		newPC &^= 1
	}
	h.PC = newPC
}

// ClearReservation clears any active exclusive access.
func (h *Hart) ClearReservation() {
	h.exclusiveTag = noExclusiveTag
}

// SetReservation registers an LR reservation tag and drives LR_address.
func (h *Hart) SetReservation(addr uint64) {
	h.exclusiveTag = addr
	h.LRAddress = addr
}

// clearEAxRET clears the reservation on an xRET unless configured to
// preserve it.
func (h *Hart) clearEAxRET() {
	if !h.cfg.XRETPreservesLR {
		h.ClearReservation()
	}
}

// halt stops the hart for the given reason.
func (h *Hart) halt(reason disableReason) {
	wasDisabled := h.disable != 0
	h.disable |= reason

	if !wasDisabled {
		h.host.Halt(h)
		h.notifyHaltRestart()
	}
}

// restart clears the given halt reason, restarting the hart if none remain.
func (h *Hart) restart(reason disableReason) {
	h.disable &^= reason

	if h.disable == 0 {
		h.host.Restart(h)
		h.notifyHaltRestart()
	}
}

// Halted reports whether the hart is stopped for any reason.
func (h *Hart) Halted() bool {
	return h.disable != 0
}

// setMode switches the current privilege mode.
func (h *Hart) setMode(m Mode) {
	h.Priv = m
}

// hasMode reports whether the hart implements a privilege mode.
func (h *Hart) hasMode(m Mode) bool {
	return h.cfg.hasMode(m)
}

// minMode returns the lowest implemented privilege mode.
func (h *Hart) minMode() Mode {
	return h.cfg.minMode()
}

// useCLIC reports whether the given mode's xtvec selects CLIC mode.
func (h *Hart) useCLIC(m Mode) bool {
	if !h.clicPresent() {
		return false
	}
	var tvec uint64
	switch m {
	case ModeMachine:
		tvec = h.Mtvec
	case ModeSupervisor:
		tvec = h.Stvec
	default:
		tvec = h.Utvec
	}
	return ICMode(tvec&3) == ICCLIC
}

func (h *Hart) clicPresent() bool {
	return h.cfg.CLIC
}

// WFI halts the hart until an interrupt is pending, unless one already is
// or the hart is in Debug-Mode. Masked-but-pending interrupts still count.
func (h *Hart) WFI() {
	if !h.inDebugMode() && !h.getPending() {
		h.halt(disableWFI)
	}
}

// Reset restarts the hart: leave Debug-Mode, switch to Machine mode, reset
// CSR and CLIC state, and resume at the configured reset address.
func (h *Hart) Reset() {
	h.restart(disableReset)

	h.SetDM(false)
	h.setMode(ModeMachine)
	h.resetCSRs()
	h.resetCLIC()

	for _, o := range h.observers {
		if o.Reset != nil {
			o.Reset(h)
		}
	}

	h.Exception = ExcNone
	h.PC = h.cfg.ResetAddress

	// enter Debug-Mode out of reset if requested
	h.netValue.resethaltreqS = h.netValue.resethaltreq
}

// doNMI delivers a non-maskable interrupt: mcause takes the configured NMI
// code, mepc the next instruction address, and execution moves to the NMI
// vector.
func (h *Hart) doNMI() {
	h.restart(disableWFI)

	h.setMode(ModeMachine)

	h.Mcause = h.cfg.EcodeNMI
	h.Mepc = h.epcAddress() & h.epcMask()

	h.Exception = ExcNone
	h.PC = h.cfg.NMIAddress
}

// notifyHaltRestart notifies observers of a halt or restart event.
func (h *Hart) notifyHaltRestart() {
	for _, o := range h.observers {
		if o.HaltRestart != nil {
			o.HaltRestart(h)
		}
	}
}

// InhibitInstret reports whether mcountinhibit suppresses instret counting.
func (h *Hart) InhibitInstret() bool {
	return h.Mcountinhibit&(1<<2) != 0
}

// InhibitCycle reports whether mcountinhibit suppresses cycle counting.
func (h *Hart) InhibitCycle() bool {
	return h.Mcountinhibit&1 != 0
}

// Instret returns the retired-instruction count.
func (h *Hart) Instret() uint64 {
	return h.baseInstructions
}

// CountInstruction retires one instruction unless inhibited.
func (h *Hart) CountInstruction() {
	if !h.InhibitInstret() {
		h.baseInstructions++
	}
	if !h.InhibitCycle() {
		h.baseCycles++
	}
}
