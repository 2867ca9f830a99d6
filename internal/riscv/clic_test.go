package riscv

import "testing"

func newCLICCluster(t *testing.T, mutate func(cfg *Config)) (*Cluster, *Hart) {
	t.Helper()
	return newTestCluster(t, func(cfg *Config) {
		cfg.CLIC = true
		cfg.CLICSELHVEC = true
		cfg.LocalIntNum = 48
		if mutate != nil {
			mutate(cfg)
		}
	})
}

// clicAddr returns the window address of one field of interrupt i on the
// page for the given mode of hart 0.
func clicAddr(cfg *Config, mode Mode, i uint32, field clicIntField) uint64 {
	var block uint64
	switch mode {
	case ModeMachine:
		block = 0
	case ModeSupervisor:
		block = 1
	case ModeUser:
		block = 2
	}
	pages := 1 + block*4*uint64(cfg.NumHarts)
	return cfg.MCLICBase + pages*clicPageSize + 4*uint64(i) + uint64(field)
}

func writeCLIC(t *testing.T, c *Cluster, addr uint64, v uint8) {
	t.Helper()
	if err := c.Bus.Write8(addr, v); err != nil {
		t.Fatalf("CLIC write at 0x%x: %v", addr, err)
	}
}

func readCLIC(t *testing.T, c *Cluster, addr uint64) uint8 {
	t.Helper()
	v, err := c.Bus.Read8(addr)
	if err != nil {
		t.Fatalf("CLIC read at 0x%x: %v", addr, err)
	}
	return v
}

func TestCLICInfoRegister(t *testing.T) {
	c, h := newCLICCluster(t, nil)

	info, err := c.Bus.Read32(c.Config.MCLICBase + 4)
	if err != nil {
		t.Fatal(err)
	}
	if got := info & 0x1fff; got != h.intNum() {
		t.Errorf("clicinfo.num_interrupt: expected %d, got %d", h.intNum(), got)
	}
	if got := info >> 13 & 0xff; got != uint32(c.Config.CLICVERSION) {
		t.Errorf("clicinfo.version: got 0x%x", got)
	}

	// read-only: a write must be dropped
	writeCLIC(t, c, c.Config.MCLICBase+4, 0xff)
	again, _ := c.Bus.Read32(c.Config.MCLICBase + 4)
	if again != info {
		t.Error("clicinfo should be read-only")
	}
}

func TestCliccfgClamping(t *testing.T) {
	c, h := newCLICCluster(t, nil)

	// nmbits=3 exceeds CLICCFGMBITS=2, nlbits=15 exceeds 8
	writeCLIC(t, c, c.Config.MCLICBase, 3<<5|15<<1)

	if h.root.cliccfg.nmbits != 2 {
		t.Errorf("nmbits: expected clamp to 2, got %d", h.root.cliccfg.nmbits)
	}
	if h.root.cliccfg.nlbits != 8 {
		t.Errorf("nlbits: expected clamp to 8, got %d", h.root.cliccfg.nlbits)
	}
	if h.root.cliccfg.nvbits != 1 {
		t.Error("nvbits must stay at its configured read-only value")
	}
}

// T4: writing attr.mode above the page's mode is a no-op on the mode.
func TestCLICAttrModeClamp(t *testing.T) {
	c, h := newCLICCluster(t, nil)

	// allow per-interrupt modes
	writeCLIC(t, c, c.Config.MCLICBase, 2<<5|8<<1)

	// machine-mode interrupt via the S page: invisible, write dropped
	addr := clicAddr(c.Config, ModeSupervisor, 20, clicFieldAttr)
	writeCLIC(t, c, addr, clicAttrWithMode(0, ModeSupervisor))
	if got := clicAttrMode(h.clicField(20, clicFieldAttr)); got != ModeMachine {
		t.Fatalf("write through S page changed a Machine interrupt to %s", got)
	}

	// lower the interrupt to S via the M page, then try to raise it back
	// through the S page: mode is clamped to the page mode
	mAddr := clicAddr(c.Config, ModeMachine, 20, clicFieldAttr)
	writeCLIC(t, c, mAddr, clicAttrWithMode(0, ModeSupervisor))
	if got := clicAttrMode(h.clicField(20, clicFieldAttr)); got != ModeSupervisor {
		t.Fatalf("M page write should set Supervisor, got %s", got)
	}

	writeCLIC(t, c, addr, clicAttrWithMode(0, ModeMachine))
	if got := clicAttrMode(h.clicField(20, clicFieldAttr)); got != ModeSupervisor {
		t.Errorf("S page write must not raise mode above the page, got %s", got)
	}
}

func TestCLICWindowVisibility(t *testing.T) {
	c, h := newCLICCluster(t, nil)

	// default attr mode is Machine; pend it
	writeCLIC(t, c, clicAddr(c.Config, ModeMachine, 17, clicFieldIP), 1)
	if !h.clicPending(17) {
		t.Fatal("pending not set via M page")
	}

	// invisible through the U page
	if got := readCLIC(t, c, clicAddr(c.Config, ModeUser, 17, clicFieldIP)); got != 0 {
		t.Errorf("U page read of an M interrupt: expected 0, got %d", got)
	}
	writeCLIC(t, c, clicAddr(c.Config, ModeUser, 17, clicFieldIP), 0)
	if !h.clicPending(17) {
		t.Error("U page write of an M interrupt must be dropped")
	}
}

func TestCLICCtlAlwaysOneBits(t *testing.T) {
	c, h := newCLICCluster(t, func(cfg *Config) {
		cfg.CLICINTCTLBITS = 4
	})

	writeCLIC(t, c, clicAddr(c.Config, ModeMachine, 18, clicFieldCtl), 0x50)
	if got := h.clicField(18, clicFieldCtl); got != 0x5f {
		t.Errorf("clicintctl: expected low bits forced to one (0x5f), got 0x%x", got)
	}
}

// Scenario: SHV interrupt id=40 priv=M level=200 fetches its handler from
// the vector table, with the low bit cleared.
func TestCLICSHVDelivery(t *testing.T) {
	c, h := newCLICCluster(t, func(cfg *Config) {
		cfg.XLEN = 32
	})

	// nlbits=8 so the full ctl value is the level
	writeCLIC(t, c, c.Config.MCLICBase, 8<<1)

	h.Mtvec = uint64(ICCLIC)
	h.Mtvt = 0x4000
	h.Mstatus = MstatusMIE

	writeCLIC(t, c, clicAddr(c.Config, ModeMachine, 40, clicFieldAttr), clicAttrShv)
	writeCLIC(t, c, clicAddr(c.Config, ModeMachine, 40, clicFieldCtl), 200)
	writeCLIC(t, c, clicAddr(c.Config, ModeMachine, 40, clicFieldIE), 1)

	// vector table entry for interrupt 40: 0x80001235 little-endian
	if err := c.Bus.LoadImage(0x40a0, []byte{0x35, 0x12, 0x00, 0x80}); err != nil {
		t.Fatal(err)
	}

	writeCLIC(t, c, clicAddr(c.Config, ModeMachine, 40, clicFieldIP), 1)

	if err := c.Step(h, nil); err != nil {
		t.Fatal(err)
	}

	if h.PC != 0x8000_1234 {
		t.Errorf("handler PC: expected 0x80001234, got 0x%x", h.PC)
	}
	if h.Mcause&causeInhv != 0 {
		t.Error("mcause.inhv should be 0 after a successful vector fetch")
	}
	if h.Mil != 200 {
		t.Errorf("mintstatus.mil: expected 200, got %d", h.Mil)
	}
	if uint32(h.Mcause&causeCodeMask) != 40 {
		t.Errorf("mcause code: expected 40, got %d", h.Mcause&causeCodeMask)
	}
	if h.Mcause&h.causeInterruptBit() == 0 {
		t.Error("mcause.Interrupt should be set")
	}
}

// A faulting vector-table read supersedes the interrupt with a load access
// fault.
func TestCLICSHVVectorFetchFault(t *testing.T) {
	c, h := newCLICCluster(t, nil)

	writeCLIC(t, c, c.Config.MCLICBase, 8<<1)

	h.Mtvec = uint64(ICCLIC)
	h.Mtvt = 0xdead_0000 // unmapped
	h.Mstatus = MstatusMIE

	writeCLIC(t, c, clicAddr(c.Config, ModeMachine, 40, clicFieldAttr), clicAttrShv)
	writeCLIC(t, c, clicAddr(c.Config, ModeMachine, 40, clicFieldCtl), 200)
	writeCLIC(t, c, clicAddr(c.Config, ModeMachine, 40, clicFieldIE), 1)
	writeCLIC(t, c, clicAddr(c.Config, ModeMachine, 40, clicFieldIP), 1)

	if err := c.Step(h, nil); err != nil {
		t.Fatal(err)
	}

	if h.Exception != ExcLoadAccessFault {
		t.Fatalf("expected the load fault to supersede, got %v", h.Exception)
	}
	if h.Mcause&h.causeInterruptBit() != 0 {
		t.Error("mcause must report a synchronous exception")
	}
	if h.Mcause&causeInhv == 0 {
		t.Error("mcause.inhv should remain set when the vector fetch faults")
	}
}

// T8: edge-triggered SHV interrupts clear their pending bit on delivery;
// level-triggered ones keep it.
func TestCLICAcknowledge(t *testing.T) {
	for _, tc := range []struct {
		attr    uint8
		cleared bool
	}{
		{clicAttrShv | clicAttrTrigEdge, true},
		{clicAttrShv, false},
	} {
		c, h := newCLICCluster(t, nil)

		writeCLIC(t, c, c.Config.MCLICBase, 8<<1)

		h.Mtvec = uint64(ICCLIC)
		h.Mtvt = 0x4000
		h.Mstatus = MstatusMIE

		writeCLIC(t, c, clicAddr(c.Config, ModeMachine, 30, clicFieldAttr), tc.attr)
		writeCLIC(t, c, clicAddr(c.Config, ModeMachine, 30, clicFieldCtl), 0xff)
		writeCLIC(t, c, clicAddr(c.Config, ModeMachine, 30, clicFieldIE), 1)
		if err := c.Bus.Write64(0x4000+8*30, 0x2000); err != nil {
			t.Fatal(err)
		}
		writeCLIC(t, c, clicAddr(c.Config, ModeMachine, 30, clicFieldIP), 1)

		if err := c.Step(h, nil); err != nil {
			t.Fatal(err)
		}

		if h.Exception != IntToException(30) {
			t.Fatalf("attr=0x%x: interrupt not delivered: %v", tc.attr, h.Exception)
		}
		if got := h.clicPending(30); got == tc.cleared {
			t.Errorf("attr=0x%x: pending=%v after delivery", tc.attr, got)
		}
	}
}

// Non-SHV CLIC interrupts vector to the 64-byte aligned common entry.
func TestCLICCommonEntry(t *testing.T) {
	c, h := newCLICCluster(t, nil)

	writeCLIC(t, c, c.Config.MCLICBase, 8<<1)

	h.Mtvec = 0x50e0 | uint64(ICCLIC) // base with alignment bits set
	h.Mstatus = MstatusMIE

	writeCLIC(t, c, clicAddr(c.Config, ModeMachine, 25, clicFieldCtl), 0xc0)
	writeCLIC(t, c, clicAddr(c.Config, ModeMachine, 25, clicFieldIE), 1)
	writeCLIC(t, c, clicAddr(c.Config, ModeMachine, 25, clicFieldIP), 1)

	if err := c.Step(h, nil); err != nil {
		t.Fatal(err)
	}

	if h.PC != 0x5080 {
		t.Errorf("handler PC: expected 64-byte aligned 0x5080, got 0x%x", h.PC)
	}
	if uint32(h.Mcause&causeCodeMask) != 25 {
		t.Errorf("mcause code: %d", h.Mcause&causeCodeMask)
	}
}

// The interrupt-level threshold and the active level both gate same-mode
// delivery.
func TestCLICLevelFiltering(t *testing.T) {
	c, h := newCLICCluster(t, nil)

	writeCLIC(t, c, c.Config.MCLICBase, 8<<1)

	h.Mtvec = uint64(ICCLIC)
	h.Mstatus = MstatusMIE
	h.Mintthresh = 100

	writeCLIC(t, c, clicAddr(c.Config, ModeMachine, 22, clicFieldCtl), 90)
	writeCLIC(t, c, clicAddr(c.Config, ModeMachine, 22, clicFieldIE), 1)
	writeCLIC(t, c, clicAddr(c.Config, ModeMachine, 22, clicFieldIP), 1)

	if err := c.Step(h, nil); err != nil {
		t.Fatal(err)
	}
	if h.Exception == IntToException(22) {
		t.Fatal("level 90 must not pass a threshold of 100")
	}

	h.Mintthresh = 0
	h.Mil = 95
	h.TestInterrupt()
	if err := c.Step(h, nil); err != nil {
		t.Fatal(err)
	}
	if h.Exception == IntToException(22) {
		t.Fatal("level 90 must not pre-empt an active level of 95")
	}

	h.Mil = 0
	h.TestInterrupt()
	if err := c.Step(h, nil); err != nil {
		t.Fatal(err)
	}
	if h.Exception != IntToException(22) {
		t.Error("level 90 should deliver once unmasked")
	}
}

// CLIC arbitration ranks by target mode then ctl, ties to the highest
// index.
func TestCLICArbitrationRank(t *testing.T) {
	c, h := newCLICCluster(t, nil)

	writeCLIC(t, c, c.Config.MCLICBase, 8<<1)

	for _, i := range []uint32{20, 21} {
		writeCLIC(t, c, clicAddr(c.Config, ModeMachine, i, clicFieldCtl), 0x80)
		writeCLIC(t, c, clicAddr(c.Config, ModeMachine, i, clicFieldIE), 1)
		writeCLIC(t, c, clicAddr(c.Config, ModeMachine, i, clicFieldIP), 1)
	}

	if h.clic.sel.id != 21 {
		t.Errorf("tie should go to the higher index, got %d", h.clic.sel.id)
	}

	writeCLIC(t, c, clicAddr(c.Config, ModeMachine, 20, clicFieldCtl), 0xc0)
	if h.clic.sel.id != 20 {
		t.Errorf("higher ctl should win, got %d", h.clic.sel.id)
	}
}

// mret in CLIC mode restores the previous interrupt level from xcause.pil.
func TestCLICMRETRestoresLevel(t *testing.T) {
	c, h := newCLICCluster(t, nil)

	writeCLIC(t, c, c.Config.MCLICBase, 8<<1)

	h.Mtvec = uint64(ICCLIC)
	h.Mstatus = MstatusMIE
	h.Mil = 55

	writeCLIC(t, c, clicAddr(c.Config, ModeMachine, 33, clicFieldCtl), 0xf0)
	writeCLIC(t, c, clicAddr(c.Config, ModeMachine, 33, clicFieldIE), 1)
	writeCLIC(t, c, clicAddr(c.Config, ModeMachine, 33, clicFieldIP), 1)

	if err := c.Step(h, nil); err != nil {
		t.Fatal(err)
	}
	if h.Mil != 0xf0 {
		t.Fatalf("mil: expected 0xf0 after delivery, got %d", h.Mil)
	}
	if got := uint8(h.Mcause >> causePILShift); got != 55 {
		t.Fatalf("mcause.pil: expected 55, got %d", got)
	}

	// drop the source so the interrupt does not immediately re-deliver
	writeCLIC(t, c, clicAddr(c.Config, ModeMachine, 33, clicFieldIP), 0)

	h.MRET()
	if h.Mil != 55 {
		t.Errorf("mil: expected restore to 55 after mret, got %d", h.Mil)
	}
}

// Each hart owns its own interrupt pages within the shared window.
func TestCLICMultiHartWindow(t *testing.T) {
	c, h0 := newCLICCluster(t, func(cfg *Config) {
		cfg.NumHarts = 2
	})
	h1 := c.Hart(1)

	// hart 1's Machine pages follow hart 0's four
	addr := c.Config.MCLICBase + 5*clicPageSize + 4*20 + uint64(clicFieldIP)
	writeCLIC(t, c, addr, 1)

	if !h1.clicPending(20) {
		t.Error("hart 1 pending bit not set through its page")
	}
	if h0.clicPending(20) {
		t.Error("hart 0 state must be untouched")
	}
}
