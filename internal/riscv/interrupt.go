package riscv

import "log/slog"

// getIE returns the effective interrupt enable for a mode: forced on below
// that mode, forced off above it, the raw bit when equal, and off when the
// mode runs in CLIC mode.
func (h *Hart) getIE(ie bool, modeIE Mode, useCLIC bool) bool {
	mode := h.Priv

	switch {
	case useCLIC:
		return false
	case mode < modeIE:
		return true
	case mode > modeIE:
		return false
	default:
		return ie
	}
}

// getPendingBasic returns the mask of pending basic-mode interrupts that
// would cause resumption from WFI (they may still be masked by global
// enables or delegation).
func (h *Hart) getPendingBasic() uint64 {
	return h.Mie & h.Mip
}

// getPendingCLIC reports whether any CLIC interrupt is pending.
func (h *Hart) getPendingCLIC() bool {
	return h.clic.sel.id != NoInt
}

// getPending reports whether any interrupt is pending in either controller.
func (h *Hart) getPending() bool {
	return h.getPendingBasic() != 0 || h.getPendingCLIC()
}

// GetPending reports whether any interrupt is pending, even if masked. The
// host's WFI handler polls this to decide when to resume.
func (h *Hart) GetPending() bool {
	return h.getPending()
}

// Fixed priority order of the standard interrupts; local and custom
// interrupts are below all of these.
var intPri = map[int32]uint8{
	int32(IntUTimerInterrupt.Code()):    1,
	int32(IntUSWInterrupt.Code()):       2,
	int32(IntUExternalInterrupt.Code()): 3,
	int32(IntSTimerInterrupt.Code()):    4,
	int32(IntSSWInterrupt.Code()):       5,
	int32(IntSExternalInterrupt.Code()): 6,
	int32(IntMTimerInterrupt.Code()):    7,
	int32(IntMSWInterrupt.Code()):       8,
	int32(IntMExternalInterrupt.Code()): 9,
}

func getIntPri(intNum int32) uint8 {
	return intPri[intNum]
}

// refreshPendingAndEnabledBasic selects the highest-priority
// pending-and-enabled basic-mode interrupt into pendEnab.
func (h *Hart) refreshPendingAndEnabledBasic() {
	pendingEnabled := h.getPendingBasic()

	// apply interrupt masks
	if pendingEnabled != 0 {
		mie := h.getIE(h.mstatusField(MstatusMIE), ModeMachine, h.useCLIC(ModeMachine))
		sie := h.getIE(h.mstatusField(MstatusSIE), ModeSupervisor, h.useCLIC(ModeSupervisor))
		uie := h.getIE(h.mstatusField(MstatusUIE), ModeUser, h.useCLIC(ModeUser))

		// interrupt mask applicable for each mode
		mideleg := h.Mideleg
		sideleg := h.Sideleg & mideleg
		mMask := ^mideleg
		sMask := mideleg &^ sideleg
		uMask := sideleg

		if !mie {
			pendingEnabled &^= mMask
		}
		if !sie {
			pendingEnabled &^= sMask
		}
		if !uie {
			pendingEnabled &^= uMask
		}
	}

	h.traceBasicIntState(pendingEnabled)

	// select highest-priority pending-and-enabled interrupt
	selected := &h.pendEnab
	for id := int32(0); pendingEnabled != 0; id, pendingEnabled = id+1, pendingEnabled>>1 {
		if pendingEnabled&1 == 0 {
			continue
		}

		try := pendEnab{id: id, priv: h.getInterruptModeX(uint32(id))}

		switch {
		case selected.id == NoInt:
			// first pending-and-enabled interrupt
			*selected = try
		case selected.priv < try.priv:
			// higher destination privilege mode
			*selected = try
		case selected.priv > try.priv:
			// lower destination privilege mode
		case getIntPri(selected.id) <= getIntPri(try.id):
			// higher fixed priority order and same destination mode
			*selected = try
		}
	}
}

// traceBasicIntState logs the basic interrupt selection factors when they
// change and exception tracing is enabled.
func (h *Hart) traceBasicIntState(pendingEnabled uint64) {
	if !h.cfg.DebugExcept {
		return
	}

	intState := basicIntState{
		pendingEnabled:  pendingEnabled,
		pending:         h.Mip,
		pendingExternal: h.ip[0],
		pendingInternal: h.swip,
		mideleg:         h.Mideleg,
		sideleg:         h.Sideleg,
		mie:             h.mstatusField(MstatusMIE),
		sie:             h.mstatusField(MstatusSIE),
		uie:             h.mstatusField(MstatusUIE),
	}

	if intState != h.intState {
		slog.Info("interrupt state",
			"hart", h.ID,
			"pc", h.PC,
			"pendingEnabled", intState.pendingEnabled,
			"pending", intState.pending,
			"externalIP", intState.pendingExternal,
			"swIP", intState.pendingInternal,
			"mideleg", intState.mideleg,
			"sideleg", intState.sideleg,
			"mie", intState.mie,
			"sie", intState.sie,
			"uie", intState.uie,
		)
		h.intState = intState
	}
}

// refreshPendingAndEnabled recomputes the pending-and-enabled interrupt
// selection from both controllers.
func (h *Hart) refreshPendingAndEnabled() {
	h.pendEnab = pendEnab{id: NoInt}

	h.refreshPendingAndEnabledBasic()

	if h.clicPresent() {
		h.refreshPendingAndEnabledCLIC()
	}
}

// getPendingAndEnabled reports whether an interrupt can be taken right now.
func (h *Hart) getPendingAndEnabled() bool {
	return h.pendEnab.id != NoInt &&
		!h.inDebugMode() &&
		!h.netValue.deferint
}

// doInterrupt takes the selected pending-and-enabled interrupt.
func (h *Hart) doInterrupt() {
	id := h.pendEnab.id
	h.pendEnab.id = NoInt

	if id == NoInt {
		panic("riscv: expected pending-and-enabled interrupt")
	}

	h.TakeException(IntToException(uint32(id)), 0)
}

// handlePendingAndEnabled schedules asynchronous interrupt handling if an
// interrupt is both pending and enabled.
func (h *Hart) handlePendingAndEnabled() {
	if h.getPendingAndEnabled() {
		h.host.DoSynchronousInterrupt(h)
	}
}

// TestInterrupt re-arbitrates after any change to interrupt-relevant state.
// It restarts a WFI-stalled hart whenever interrupts are pending, masked or
// not, and schedules delivery when one is pending and enabled.
func (h *Hart) TestInterrupt() {
	h.refreshPendingAndEnabled()

	if h.getPending() {
		h.restart(disableWFI)
	}

	h.handlePendingAndEnabled()
}

// setSwip updates the software-pending vector and folds it into mip.
func (h *Hart) setSwip(swip uint64) {
	h.swip = swip
	h.updatePending()
}

// updatePending recomposes mip from the external wire and software-pending
// vectors, re-arbitrating on a change.
func (h *Hart) updatePending() {
	oldValue := h.Mip
	newValue := (h.ip[0] | h.swip) & h.implementedIntMask()

	if oldValue != newValue {
		h.Mip = newValue
		h.TestInterrupt()
	}
}

// FetchResult is the fetch gate's verdict for one instruction fetch.
type FetchResult int

const (
	// FetchOK lets the fetch proceed.
	FetchOK FetchResult = iota
	// FetchException means a trap or Debug-Mode entry pre-empted the fetch.
	FetchException
)

// FetchGate is consulted before every instruction fetch. In priority order
// it enters Debug-Mode for halt requests, delivers a pending interrupt, or
// validates the fetch address. With complete=false it only probes; no state
// changes.
func (h *Hart) FetchGate(thisPC uint64, complete bool) FetchResult {
	fetchOK := false

	if h.netValue.resethaltreqS {

		// enter Debug-Mode out of reset
		if complete {
			h.netValue.resethaltreqS = false
			h.enterDM(DMCauseResethaltreq)
		}

	} else if h.netValue.haltreq && !h.inDebugMode() {

		if complete {
			h.enterDM(DMCauseHaltreq)
		}

	} else if h.getPendingAndEnabled() {

		if complete {
			h.doInterrupt()
		}

	} else if !h.validateFetchAddress(thisPC, complete) {

		// fetch exception (delivered in validateFetchAddress)

	} else {
		fetchOK = true
	}

	if fetchOK {
		return FetchOK
	}
	return FetchException
}

// validateFetchAddressInt checks one halfword-aligned address for
// executability, delivering the resulting exception when complete.
func (h *Hart) validateFetchAddressInt(thisPC uint64, complete bool) bool {
	if h.Checker == nil {
		return true
	}

	if h.Checker.Executable(thisPC) {
		// no exception pending
		return true
	} else if h.Checker.Miss(h, thisPC, complete) {
		// permission exception of some kind, handled by the checker, so no
		// further action required here
		return false
	} else if !h.Checker.Executable(thisPC) {
		// bus error if address is still not executable
		if complete {
			h.TakeException(ExcInstructionAccessFault, thisPC)
		}
		return false
	}

	// no exception pending
	return true
}

// validateFetchAddress validates that the passed address is a mapped fetch
// address. Alignment is validated by the preceding branch, not here. For a
// 4-byte instruction the second halfword is validated at PC+2 as well.
func (h *Hart) validateFetchAddress(thisPC uint64, complete bool) bool {
	if !h.validateFetchAddressInt(thisPC, complete) {
		// fetch exception (handled in validateFetchAddressInt)
		return false
	} else if h.instructionSize(thisPC) <= 2 {
		// instruction at thisPC is a two-byte instruction
		return true
	} else if !h.validateFetchAddressInt(thisPC+2, complete) {
		// fetch exception (handled in validateFetchAddressInt)
		return false
	}

	// no exception pending
	return true
}

// instructionSize returns the byte size of the instruction at the address,
// derived from the low bits of its first halfword.
func (h *Hart) instructionSize(addr uint64) int {
	if h.Bus == nil {
		return 4
	}
	lo, err := h.Bus.Read16(addr)
	if err != nil {
		return 4
	}
	if lo&3 != 3 {
		return 2
	}
	return 4
}
