package riscv

import "log/slog"

// DMCause enumerates Debug-Mode entry causes as encoded in dcsr.cause.
type DMCause uint8

const (
	DMCauseNone         DMCause = 0
	DMCauseEbreak       DMCause = 1
	DMCauseTrigger      DMCause = 2
	DMCauseHaltreq      DMCause = 3
	DMCauseStep         DMCause = 4
	DMCauseResethaltreq DMCause = 5
)

// updateDMStall stalls or releases the hart when debug_mode is "halt".
func (h *Hart) updateDMStall(stall bool) {
	if h.cfg.DebugMode != DebugModeHalt {
		return
	}

	h.DMStall = stall

	if stall {
		h.halt(disableDebug)
	} else {
		h.restart(disableDebug)
	}
}

// setDM updates the Debug-Mode flag and drives the DM output net.
func (h *Hart) setDM(dm bool) {
	h.DM = dm
}

// enterDM enters Debug-Mode with the given cause. Standard trap CSRs are
// untouched; state is captured in dcsr and dpc instead.
func (h *Hart) enterDM(cause DMCause) {
	wasDM := h.inDebugMode()

	if !wasDM {
		h.setDM(true)

		// save current mode and cause
		h.Dcsr = (h.Dcsr &^ dcsrPrvMask) | uint64(h.Priv)
		h.Dcsr = (h.Dcsr &^ dcsrCauseMask) | uint64(cause)<<dcsrCauseShift

		// save current instruction address
		h.Dpc = h.epcAddress() & h.epcMask()

		h.setMode(ModeMachine)
	}

	switch h.cfg.DebugMode {
	case DebugModeInterrupt:
		h.host.DoSynchronousInterrupt(h)

	case DebugModeVector:
		// use the debug exception address for nested entry
		if wasDM {
			h.PC = h.cfg.DexcAddress
		} else {
			h.PC = h.cfg.DebugAddress
		}

	default:
		h.updateDMStall(true)
	}
}

// leaveDM leaves Debug-Mode, returning to the mode and address captured in
// dcsr.prv and dpc.
func (h *Hart) leaveDM() {
	newMode := h.getERETMode(h.dcsrPrv(), h.minMode())

	h.setDM(false)
	h.clearMPRV(newMode)
	h.doERETCommon(ModeMachine, newMode, h.Dpc)
	h.updateDMStall(false)
}

// SetDM enters or leaves Debug-Mode under external Debug-Module control.
func (h *Hart) SetDM(dm bool) {
	oldDM := h.inDebugMode()

	if oldDM == dm || h.inSaveRestore {
		// no change in state or state restore
	} else if dm {
		h.enterDM(DMCauseHaltreq)
	} else {
		h.leaveDM()
	}
}

// SetDMStall updates the Debug-Mode stall indication.
func (h *Hart) SetDMStall(stall bool) {
	h.updateDMStall(stall)
}

// stepTimerExpired fires after one instruction when dcsr.step armed the
// step breakpoint.
func (h *Hart) stepTimerExpired() {
	if !h.inDebugMode() && h.Dcsr&dcsrStep != 0 {
		h.enterDM(DMCauseStep)
	}
}

// SetStepBreakpoint arms the single-step timer if required.
func (h *Hart) SetStepBreakpoint() {
	if !h.inDebugMode() && h.Dcsr&dcsrStep != 0 {
		h.host.SetModelTimer(h, 1)
	}
}

// DRET returns from Debug-Mode. Outside Debug-Mode it raises
// illegal-instruction.
func (h *Hart) DRET() {
	if !h.inDebugMode() {
		if h.cfg.Verbose {
			slog.Warn("illegal instruction - not debug mode",
				"hart", h.ID, "pc", h.PC)
		}
		h.IllegalInstruction(0)
		return
	}

	h.leaveDM()
}

// EBREAK delivers an ebreak: Debug-Mode entry when the per-mode dcsr bit is
// set, otherwise a normal breakpoint exception.
func (h *Hart) EBREAK() {
	useDM := false

	if h.inDebugMode() {
		useDM = true
	} else {
		switch h.Priv {
		case ModeUser:
			useDM = h.Dcsr&dcsrEbreaku != 0
		case ModeSupervisor:
			useDM = h.Dcsr&dcsrEbreaks != 0
		case ModeMachine:
			useDM = h.Dcsr&dcsrEbreakm != 0
		}
	}

	if useDM {
		// don't count the ebreak instruction if dcsr.stopcount is set
		if h.Dcsr&dcsrStopcount == 0 {
			h.CountInstruction()
		}

		h.enterDM(DMCauseEbreak)
		return
	}

	// from privileged version 1.12, EBREAK no longer sets tval to the PC
	var tval uint64
	if h.cfg.privVersion < PrivVersion1_12 {
		tval = h.PC
	}

	h.TakeException(ExcBreakpoint, tval)
}
