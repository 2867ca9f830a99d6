package riscv

import "testing"

// newTestCluster builds a single-hart cluster with RAM at address zero and
// all modes implemented.
func newTestCluster(t *testing.T, mutate func(cfg *Config)) (*Cluster, *Hart) {
	t.Helper()

	cfg := DefaultConfig()
	cfg.Arch = "ACSUN"
	cfg.ResetAddress = 0
	cfg.NMIAddress = 0x100
	if mutate != nil {
		mutate(cfg)
	}

	c, err := NewCluster(cfg, 1<<20, nil)
	if err != nil {
		t.Fatalf("NewCluster: %v", err)
	}
	return c, c.Hart(0)
}

func TestMTIDeliveryFromUser(t *testing.T) {
	c, h := newTestCluster(t, func(cfg *Config) {
		cfg.XLEN = 32
	})

	h.Mtvec = 0x8000_0000 // Direct
	h.Mie = MipMTIP
	h.Mstatus = MstatusMIE
	h.Priv = ModeUser
	h.PC = 0x1000

	if err := h.Signal("MTimerInterrupt", 1); err != nil {
		t.Fatal(err)
	}
	if h.Mip&MipMTIP == 0 {
		t.Fatal("MTIP not latched")
	}

	if err := c.Step(h, nil); err != nil {
		t.Fatal(err)
	}

	if h.PC != 0x8000_0000 {
		t.Errorf("PC: expected 0x80000000, got 0x%x", h.PC)
	}
	if h.Priv != ModeMachine {
		t.Errorf("mode: expected Machine, got %s", h.Priv)
	}
	if h.Mcause != 0x8000_0007 {
		t.Errorf("mcause: expected 0x80000007, got 0x%x", h.Mcause)
	}
	if h.Mepc != 0x1000 {
		t.Errorf("mepc: expected 0x1000, got 0x%x", h.Mepc)
	}
	if h.mpp() != ModeUser {
		t.Errorf("MPP: expected User, got %s", h.mpp())
	}
	if h.Mstatus&MstatusMIE != 0 {
		t.Error("MIE not cleared")
	}
	if h.Mstatus&MstatusMPIE == 0 {
		t.Error("MPIE should hold the pre-trap MIE")
	}
}

func TestVectoredMEIDelivery(t *testing.T) {
	c, h := newTestCluster(t, nil)

	h.Mtvec = 0x8000_0000 | uint64(ICVectored)
	h.Mie = MipMEIP
	h.Mstatus = MstatusMIE
	h.PC = 0x1000

	if err := h.Signal("MExternalInterrupt", 1); err != nil {
		t.Fatal(err)
	}
	if err := c.Step(h, nil); err != nil {
		t.Fatal(err)
	}

	if want := uint64(0x8000_0000 + 44); h.PC != want {
		t.Errorf("PC: expected 0x%x, got 0x%x", want, h.PC)
	}
}

func TestSRETToUser(t *testing.T) {
	_, h := newTestCluster(t, nil)

	h.Priv = ModeSupervisor
	h.Mstatus = MstatusSPIE // SPP=U, SIE=0
	h.Sepc = 0x2000

	h.SRET()

	if h.PC != 0x2000 {
		t.Errorf("PC: expected sepc, got 0x%x", h.PC)
	}
	if h.Priv != ModeUser {
		t.Errorf("mode: expected User, got %s", h.Priv)
	}
	if h.Mstatus&MstatusSIE == 0 {
		t.Error("SIE should be restored from SPIE")
	}
	if h.Mstatus&MstatusSPIE == 0 {
		t.Error("SPIE should be set")
	}
	if h.spp() != ModeUser {
		t.Errorf("SPP: expected User, got %s", h.spp())
	}
}

func TestDRETOutsideDebugMode(t *testing.T) {
	_, h := newTestCluster(t, nil)

	h.PC = 0x1000
	h.DRET()

	if h.Mcause != uint64(ExcIllegalInstruction) {
		t.Errorf("mcause: expected illegal instruction, got 0x%x", h.Mcause)
	}
	if h.Mtval != 0 {
		t.Errorf("mtval: expected 0, got 0x%x", h.Mtval)
	}
	if h.Priv != ModeMachine {
		t.Errorf("mode: expected Machine, got %s", h.Priv)
	}
}

func TestECALLRetirement(t *testing.T) {
	for _, tc := range []struct {
		version string
		retires bool
	}{
		{"1.11", true},
		{"1.12", false},
	} {
		_, h := newTestCluster(t, func(cfg *Config) {
			cfg.PrivVersionName = tc.version
		})

		h.Priv = ModeUser
		before := h.Instret()
		h.ECALL()

		retired := h.Instret() == before+1
		if retired != tc.retires {
			t.Errorf("priv %s: ecall retirement = %v, want %v",
				tc.version, retired, tc.retires)
		}
		if h.Mcause != uint64(ExcEnvironmentCallFromUMode) {
			t.Errorf("priv %s: mcause = 0x%x", tc.version, h.Mcause)
		}
	}
}

func TestECALLInhibitedRetirement(t *testing.T) {
	_, h := newTestCluster(t, func(cfg *Config) {
		cfg.PrivVersionName = "1.11"
	})

	h.Mcountinhibit = 1 << 2 // IR
	h.Priv = ModeUser
	before := h.Instret()
	h.ECALL()

	if h.Instret() != before {
		t.Error("instret should not move with mcountinhibit.IR set")
	}
}

// Post-trap state invariants for a representative set of causes.
func TestTrapPostState(t *testing.T) {
	for _, code := range []Exception{
		ExcIllegalInstruction,
		ExcLoadAccessFault,
		ExcEnvironmentCallFromMMode,
		IntToException(7),
	} {
		_, h := newTestCluster(t, nil)

		h.Mstatus = MstatusMIE
		h.PC = 0x3000
		if code.IsInterrupt() {
			// make the interrupt look selected
			h.Mie = 1 << code.Code()
			h.Signal("MTimerInterrupt", 1)
		}

		h.TakeException(code, 0x55)

		if h.Mstatus&MstatusMIE != 0 {
			t.Errorf("%v: MIE not cleared", code)
		}
		if h.Mstatus&MstatusMPIE == 0 {
			t.Errorf("%v: MPIE lost the pre-trap MIE", code)
		}
		gotInt := h.Mcause&h.causeInterruptBit() != 0
		if gotInt != code.IsInterrupt() {
			t.Errorf("%v: mcause.Interrupt = %v", code, gotInt)
		}
		if uint32(h.Mcause&causeCodeMask) != code.Code() {
			t.Errorf("%v: mcause code = %d", code, h.Mcause&causeCodeMask)
		}
		if h.Exception != code {
			t.Errorf("%v: hart exception = %v", code, h.Exception)
		}
	}
}

// Delegation: a U-mode exception goes to S exactly when medeleg selects it,
// and never below the current mode.
func TestExceptionDelegation(t *testing.T) {
	_, h := newTestCluster(t, nil)

	h.Medeleg = 1 << ExcIllegalInstruction.Code()
	h.Priv = ModeUser
	h.TakeException(ExcIllegalInstruction, 0)
	if h.Priv != ModeSupervisor {
		t.Errorf("delegated trap: expected Supervisor, got %s", h.Priv)
	}
	if uint32(h.Scause&causeCodeMask) != ExcIllegalInstruction.Code() {
		t.Errorf("scause code = %d", h.Scause&causeCodeMask)
	}

	// same exception from M must stay in M despite medeleg
	_, h = newTestCluster(t, nil)
	h.Medeleg = 1 << ExcIllegalInstruction.Code()
	h.Priv = ModeMachine
	h.TakeException(ExcIllegalInstruction, 0)
	if h.Priv != ModeMachine {
		t.Errorf("trap from M: expected Machine, got %s", h.Priv)
	}
	if h.Scause != 0 {
		t.Errorf("scause should be untouched, got 0x%x", h.Scause)
	}
}

// Chained mret: after two returns MPP rests at the lowest implemented mode
// with MPIE set.
func TestMRETChain(t *testing.T) {
	_, h := newTestCluster(t, nil)

	h.setMPP(ModeMachine)
	h.Mepc = 0x4000

	h.MRET()
	if h.Priv != ModeMachine {
		t.Fatalf("first mret: expected Machine, got %s", h.Priv)
	}
	h.MRET()

	if h.mpp() != ModeUser {
		t.Errorf("MPP: expected lowest implemented mode, got %s", h.mpp())
	}
	if h.Mstatus&MstatusMPIE == 0 {
		t.Error("MPIE should be 1 after mret")
	}
}

func TestMRETClearsMPRV(t *testing.T) {
	for _, tc := range []struct {
		version string
		cleared bool
	}{
		{"1.11", false},
		{"1.12", true},
	} {
		_, h := newTestCluster(t, func(cfg *Config) {
			cfg.PrivVersionName = tc.version
		})

		h.Mstatus = MstatusMPRV // MPP=U
		h.MRET()

		cleared := h.Mstatus&MstatusMPRV == 0
		if cleared != tc.cleared {
			t.Errorf("priv %s: MPRV cleared = %v, want %v",
				tc.version, cleared, tc.cleared)
		}
	}
}

func TestTvalZero(t *testing.T) {
	_, h := newTestCluster(t, func(cfg *Config) {
		cfg.TvalZero = true
	})

	h.TakeException(ExcLoadAccessFault, 0xdead)
	if h.Mtval != 0 {
		t.Errorf("mtval: expected 0 with tval_zero, got 0x%x", h.Mtval)
	}
}

func TestExternalInterruptIDOverride(t *testing.T) {
	c, h := newTestCluster(t, func(cfg *Config) {
		cfg.ExternalIntID = true
	})

	h.Mtvec = 0x5000
	h.Mie = MipMEIP
	h.Mstatus = MstatusMIE

	if err := h.Signal("MExternalInterruptID", 0x77); err != nil {
		t.Fatal(err)
	}
	if err := h.Signal("MExternalInterrupt", 1); err != nil {
		t.Fatal(err)
	}
	if err := c.Step(h, nil); err != nil {
		t.Fatal(err)
	}

	if uint32(h.Mcause&causeCodeMask) != 0x77 {
		t.Errorf("mcause code: expected override 0x77, got 0x%x", h.Mcause&causeCodeMask)
	}
}

func TestNMIDelivery(t *testing.T) {
	_, h := newTestCluster(t, func(cfg *Config) {
		cfg.EcodeNMI = 0x10
	})

	h.Priv = ModeUser
	h.PC = 0x2000

	if err := h.Signal("nmi", 1); err != nil {
		t.Fatal(err)
	}

	if h.Priv != ModeMachine {
		t.Errorf("mode: expected Machine, got %s", h.Priv)
	}
	if h.Mcause != 0x10 {
		t.Errorf("mcause: expected ecode_nmi, got 0x%x", h.Mcause)
	}
	if h.Mepc != 0x2000 {
		t.Errorf("mepc: expected 0x2000, got 0x%x", h.Mepc)
	}
	if h.PC != 0x100 {
		t.Errorf("PC: expected nmi_address, got 0x%x", h.PC)
	}
	if h.Dcsr&dcsrNmip == 0 {
		t.Error("dcsr.nmip should mirror the nmi input")
	}
}

func TestResetSemantics(t *testing.T) {
	_, h := newTestCluster(t, func(cfg *Config) {
		cfg.ResetAddress = 0x8000
	})

	h.Priv = ModeUser
	h.Mstatus = MstatusMIE
	h.Mcause = 0x1234

	h.Signal("reset", 1)
	if !h.Halted() {
		t.Fatal("hart should halt while reset is high")
	}
	h.Signal("reset", 0)

	if h.Halted() {
		t.Fatal("hart should restart when reset falls")
	}
	if h.Priv != ModeMachine {
		t.Errorf("mode after reset: %s", h.Priv)
	}
	if h.PC != 0x8000 {
		t.Errorf("PC after reset: 0x%x", h.PC)
	}
	if h.Mcause != 0 || h.Mstatus != 0 {
		t.Error("CSRs should be reset")
	}
}

func TestIllegalInstructionTval(t *testing.T) {
	_, h := newTestCluster(t, func(cfg *Config) {
		cfg.TvalIICode = true
	})

	h.IllegalInstruction(0x00000073)
	if h.Mtval != 0x73 {
		t.Errorf("mtval: expected instruction pattern, got 0x%x", h.Mtval)
	}
}

func TestCSRPrivilege(t *testing.T) {
	_, h := newTestCluster(t, nil)

	h.Priv = ModeUser
	if _, err := h.CSRRead(CSRMstatus); err == nil {
		t.Error("mstatus read from U should fail")
	}
	if err := h.CSRWrite(CSRMisa, 0); err == nil {
		t.Error("misa write from U should fail")
	}

	h.Priv = ModeMachine
	if err := h.CSRWrite(CSRMhartid, 1); err == nil {
		t.Error("write to read-only CSR space should fail")
	}
}

func TestTrapObserver(t *testing.T) {
	_, h := newTestCluster(t, nil)

	var traps, erets []Mode
	h.AddObserver(Observer{
		Trap: func(h *Hart, mode Mode) { traps = append(traps, mode) },
		ERET: func(h *Hart, mode Mode) { erets = append(erets, mode) },
	})

	h.TakeException(ExcIllegalInstruction, 0)
	h.MRET()

	if len(traps) != 1 || traps[0] != ModeMachine {
		t.Errorf("trap observer calls: %v", traps)
	}
	if len(erets) != 1 || erets[0] != ModeMachine {
		t.Errorf("eret observer calls: %v", erets)
	}
}

// Fault-only-first: a memory exception on a non-first element is
// suppressed and vl clamped; the first element traps normally.
func TestFaultOnlyFirst(t *testing.T) {
	_, h := newTestCluster(t, nil)

	var clamped uint64
	h.SetVL = func(vl uint64) { clamped = vl }
	h.VFirstFault = true
	h.Vstart = 3

	h.TakeMemoryException(ExcLoadAccessFault, 0x123)

	if h.Exception == ExcLoadAccessFault {
		t.Error("exception should be suppressed for a non-first element")
	}
	if clamped != 3 {
		t.Errorf("vl should clamp to vstart, got %d", clamped)
	}
	if h.VFirstFault {
		t.Error("first-only-fault mode should deactivate")
	}

	_, h = newTestCluster(t, nil)
	h.VFirstFault = true
	h.Vstart = 0

	h.TakeMemoryException(ExcLoadAccessFault, 0x123)
	if h.Exception != ExcLoadAccessFault {
		t.Error("first element must trap normally")
	}
	if h.VFirstFault {
		t.Error("first-only-fault mode should deactivate either way")
	}
}
