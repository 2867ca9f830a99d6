package riscv

// getERETMode resolves the mode a return instruction is attempting to reach
// to the nearest implemented mode.
func (h *Hart) getERETMode(newMode, minMode Mode) Mode {
	if h.hasMode(newMode) {
		return newMode
	}
	return minMode
}

// clearMPRV clears mstatus.MPRV when leaving M-mode for a less privileged
// mode, from privileged version 1.12.
func (h *Hart) clearMPRV(newMode Mode) {
	if h.cfg.privVersion >= PrivVersion1_12 && newMode != ModeMachine {
		h.setMstatusField(MstatusMPRV, false)
	}
}

// doERETCommon performs the actions shared by every return-from-trap path:
// mode switch, jump to the return address, observer notification and
// re-arbitration.
func (h *Hart) doERETCommon(retMode, newMode Mode, epc uint64) {
	h.setMode(newMode)
	h.setPCxRET(epc)

	for _, o := range h.observers {
		if o.ERET != nil {
			o.ERET(h, retMode)
		}
	}

	h.TestInterrupt()
}

// MRET returns from an M-mode trap. Undefined in Debug-Mode; a NOP here.
func (h *Hart) MRET() {
	if h.inDebugMode() {
		return
	}

	minMode := h.minMode()
	newMode := h.getERETMode(h.mpp(), minMode)

	h.clearEAxRET()

	// restore previous mintstatus.mil (CLIC mode)
	if h.useCLIC(ModeMachine) {
		h.Mil = uint8(h.Mcause >> causePILShift)
	}

	h.setMstatusField(MstatusMIE, h.mstatusField(MstatusMPIE))
	h.setMstatusField(MstatusMPIE, true)
	h.setMPP(minMode)

	h.clearMPRV(newMode)

	h.doERETCommon(ModeMachine, newMode, h.Mepc)
}

// SRET returns from an S-mode trap. Undefined in Debug-Mode; a NOP here.
func (h *Hart) SRET() {
	if h.inDebugMode() {
		return
	}

	minMode := h.minMode()
	newMode := h.getERETMode(h.spp(), minMode)

	h.clearEAxRET()

	// restore previous mintstatus.sil (CLIC mode)
	if h.useCLIC(ModeSupervisor) {
		h.Sil = uint8(h.Scause >> causePILShift)
	}

	h.setMstatusField(MstatusSIE, h.mstatusField(MstatusSPIE))
	h.setMstatusField(MstatusSPIE, true)
	h.setSPP(minMode)

	h.clearMPRV(newMode)

	h.doERETCommon(ModeSupervisor, newMode, h.Sepc)
}

// URET returns from a U-mode trap (N extension). Undefined in Debug-Mode; a
// NOP here.
func (h *Hart) URET() {
	if h.inDebugMode() {
		return
	}

	h.clearEAxRET()

	// restore previous mintstatus.uil (CLIC mode)
	if h.useCLIC(ModeUser) {
		h.Uil = uint8(h.Ucause >> causePILShift)
	}

	h.setMstatusField(MstatusUIE, h.mstatusField(MstatusUPIE))
	h.setMstatusField(MstatusUPIE, true)

	h.doERETCommon(ModeUser, ModeUser, h.Uepc)
}
