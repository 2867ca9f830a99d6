package riscv

import "log/slog"

// getModeX returns the mode to which to take a trap with the given code,
// derived from the machine and supervisor delegation masks. A trap never
// lowers privilege.
func (h *Hart) getModeX(mMask, sMask uint64, ecode uint32) Mode {
	modeY := h.Priv
	var modeX Mode

	if mMask&(1<<ecode) == 0 {
		modeX = ModeMachine
	} else if sMask&(1<<ecode) == 0 {
		modeX = ModeSupervisor
	} else {
		modeX = ModeUser
	}

	if modeX > modeY {
		return modeX
	}
	return modeY
}

// getInterruptModeX returns the target mode for a basic-mode interrupt.
func (h *Hart) getInterruptModeX(ecode uint32) Mode {
	return h.getModeX(h.Mideleg, h.Sideleg, ecode)
}

// getExceptionModeX returns the target mode for a synchronous exception.
func (h *Hart) getExceptionModeX(ecode uint32) Mode {
	return h.getModeX(h.Medeleg, h.Sedeleg, ecode)
}

// getIMode resolves the effective interrupt mode: the xtvec MODE field when
// non-zero, otherwise the per-mode custom mode (pre-1.10 variants encode
// vectoring outside the CSR).
func getIMode(customMode, tvecMode ICMode) ICMode {
	if tvecMode != 0 {
		return tvecMode
	}
	return customMode
}

// retiredCode reports whether the exception corresponds to a retired
// instruction. Before privileged version 1.12 ecall and ebreak retire;
// from 1.12 they do not.
func (h *Hart) retiredCode(exception Exception) bool {
	switch exception {
	case ExcBreakpoint,
		ExcEnvironmentCallFromUMode,
		ExcEnvironmentCallFromSMode,
		ExcEnvironmentCallFromMMode:
		return h.cfg.privVersion < PrivVersion1_12
	}
	return false
}

// accessFaultCode reports whether the exception is an access fault.
func accessFaultCode(exception Exception) bool {
	switch exception {
	case ExcInstructionAccessFault, ExcLoadAccessFault, ExcStoreAMOAccessFault:
		return true
	}
	return false
}

// readCLICVectorTableEntry fetches the handler address for an SHV interrupt
// from the vector table at tbase. It reports whether the fetch completed
// without raising a nested exception.
func (h *Hart) readCLICVectorTableEntry(intNum uint32, tbase uint64, handlerPC *uint64) bool {
	ptrBytes := uint64(h.cfg.XLEN / 8)
	address := tbase + ptrBytes*uint64(intNum)

	var entry uint64
	var err error
	if ptrBytes == 4 {
		var v uint32
		v, err = h.Bus.Read32(address)
		entry = uint64(v)
	} else {
		entry, err = h.Bus.Read64(address)
	}

	if err != nil {
		// the table read itself faulted: deliver the secondary exception,
		// which supersedes the interrupt being taken
		h.TakeException(ExcLoadAccessFault, address)
		return false
	}

	// mask off LSB
	*handlerPC = entry &^ 1

	// a nested exception during the read leaves a non-interrupt cause
	return h.Exception.IsInterrupt()
}

// TakeException delivers a synchronous exception or selected interrupt:
// choose the target mode, update its trap CSRs, switch privilege and
// redirect execution to the handler.
func (h *Hart) TakeException(exception Exception, tval uint64) {
	if h.inDebugMode() {
		// terminate execution of any program buffer
		h.host.AbortRepeat(h)
		h.enterDM(DMCauseNone)
		return
	}

	shv := h.clic.sel.shv
	isInt := exception.IsInterrupt()
	ecode := exception.Code()
	ecodeMod := ecode
	epc := h.epcAddress()
	handlerPC := uint64(0)
	level := -1
	modeY := h.Priv
	var modeX Mode

	// a trapping instruction only retires for codes the configured
	// privileged version classifies as retired, unless inhibited by
	// mcountinhibit.IR
	if h.retiredCode(exception) && !h.InhibitInstret() {
		h.baseInstructions++
	}

	// latch or clear access fault detail depending on exception type
	if accessFaultCode(exception) {
		h.AFErrorOut = h.AFErrorIn
	} else {
		h.AFErrorOut = AFErrorNone
	}

	h.ClearReservation()

	// get exception target mode (X)
	if !isInt {
		modeX = h.getExceptionModeX(ecode)
	} else if h.pendEnab.isCLIC {
		modeX = h.pendEnab.priv
	} else {
		modeX = h.getInterruptModeX(ecode)
	}

	// modify code reported for external interrupts if required
	if exception.isExternalInterrupt() {
		offset := exception - IntUExternalInterrupt
		if id := h.extInt[offset]; id != 0 {
			ecodeMod = uint32(id)
		}
	}

	// CLIC mode: horizontal synchronous traps keep the interrupt level of
	// the faulting instruction; vertical ones are taken at level 0 in the
	// higher mode.
	if isInt {
		level = int(h.pendEnab.level)
	} else if modeX != modeY {
		level = 0
	}

	if h.cfg.TvalZero {
		tval = 0
	}

	// update state dependent on target exception level
	x := h.modeCSRs(modeX)

	ie := h.mstatusField(x.ie)
	il := *x.il
	h.setMstatusField(x.pie, ie)
	h.setMstatusField(x.ie, false)

	// clear cause register if not in CLIC mode
	if !h.useCLIC(ModeMachine) {
		*x.cause = 0
	}
	*x.cause &^= causeCodeMask | causePILMask | h.causeInterruptBit()
	*x.cause |= uint64(ecodeMod) & causeCodeMask
	if isInt {
		*x.cause |= h.causeInterruptBit()
	}
	*x.cause |= uint64(il) << causePILShift

	*x.epc = epc & h.epcMask()
	*x.tval = tval

	base := *x.tvec &^ 3
	mode := getIMode(*x.customIMode, ICMode(*x.tvec&3))

	if level >= 0 {
		*x.il = uint8(level)
	}

	if modeX == ModeSupervisor {
		h.setSPP(modeY)
	} else if modeX == ModeMachine {
		h.setMPP(modeY)
	}

	// switch to target mode
	h.setMode(modeX)

	// indicate the taken exception
	h.Exception = exception

	// handle direct or vectored exception
	if mode == ICDirect || !isInt {
		handlerPC = base
	} else if mode != ICCLIC {
		handlerPC = base + 4*uint64(ecode)
	} else if !shv {
		handlerPC = base &^ 63
	} else {
		// SHV interrupts are acknowledged automatically
		h.AcknowledgeCLICInt(ecode)

		// set xcause.inhv around the vector table lookup
		*x.cause |= causeInhv
		if !h.readCLICVectorTableEntry(ecodeMod, *x.tvt, &handlerPC) {
			return
		}
		*x.cause &^= causeInhv
	}

	h.PC = handlerPC

	for _, o := range h.observers {
		if o.Trap != nil {
			o.Trap(h, modeX)
		}
	}
}

// reportMemoryException logs a memory exception in verbose mode.
func (h *Hart) reportMemoryException(exception Exception, tval uint64) {
	if h.cfg.Verbose {
		slog.Warn("memory exception",
			"hart", h.ID,
			"pc", h.PC,
			"desc", exception.Description(),
			"tval", tval,
		)
	}
}

// handleFF reports whether an active fault-only-first element suppresses
// the exception. First-only-fault mode is deactivated either way; for a
// non-first element vl is clamped to vstart.
func (h *Hart) handleFF() bool {
	suppress := false

	if h.VFirstFault {
		h.VFirstFault = false

		if h.Vstart != 0 {
			suppress = true
			if h.SetVL != nil {
				h.SetVL(h.Vstart)
			}
		}
	}

	return suppress
}

// TakeMemoryException delivers a memory access exception unless an active
// fault-only-first element suppresses it.
func (h *Hart) TakeMemoryException(exception Exception, tval uint64) {
	if !h.handleFF() {
		h.reportMemoryException(exception, tval)
		h.TakeException(exception, tval)
	}

	h.Vstart &= h.xlenMask()
}

// IllegalInstruction raises an illegal-instruction exception. tval carries
// the instruction pattern when configured.
func (h *Hart) IllegalInstruction(instruction uint64) {
	var tval uint64
	if h.cfg.TvalIICode && !h.cfg.TvalZero {
		tval = instruction
	}
	h.TakeException(ExcIllegalInstruction, tval)
}

// InstructionAddressMisaligned raises a fetch-misalignment exception.
func (h *Hart) InstructionAddressMisaligned(tval uint64) {
	h.reportMemoryException(ExcInstructionAddressMisaligned, tval)
	h.TakeException(ExcInstructionAddressMisaligned, tval&^1)
}

// ECALL raises the environment-call exception for the current mode.
func (h *Hart) ECALL() {
	h.TakeException(ExcEnvironmentCallFromUMode+Exception(h.Priv), 0)
}
