package riscv

import "log/slog"

// clicIntState packs the four byte-sized control fields of one interrupt
// {ip, ie, attr, ctl} into a single backing word.
type clicIntState uint32

// clicIntField enumerates the byte-sized CLIC interrupt control fields.
type clicIntField uint32

const (
	clicFieldIP clicIntField = iota
	clicFieldIE
	clicFieldAttr
	clicFieldCtl
)

func (s clicIntState) field(f clicIntField) uint8 {
	return uint8(s >> (8 * f))
}

func (s clicIntState) withField(f clicIntField, v uint8) clicIntState {
	shift := 8 * f
	return s&^clicIntState(0xff<<shift) | clicIntState(v)<<shift
}

// clicintattr bit layout
const (
	clicAttrShv      uint8 = 1 << 0
	clicAttrTrigMask uint8 = 3 << 1
	clicAttrTrigEdge uint8 = 1 << 1
	clicAttrTrigLow  uint8 = 2 << 1
	clicAttrModeMask uint8 = 3 << 6
)

func clicAttrMode(attr uint8) Mode {
	return Mode(attr >> 6)
}

func clicAttrWithMode(attr uint8, m Mode) uint8 {
	return attr&^clicAttrModeMask | uint8(m)<<6
}

// clicSel records the candidate interrupt the CLIC presents for
// arbitration.
type clicSel struct {
	id    int32
	priv  Mode
	level uint8
	shv   bool
}

// hartCLIC is the per-hart portion of CLIC state.
type hartCLIC struct {
	intState []clicIntState
	ipe      []uint64
	sel      clicSel
}

// cliccfg holds the cluster-global CLIC configuration register.
type cliccfg struct {
	nmbits uint8
	nlbits uint8
	nvbits uint8
}

func (c cliccfg) bits() uint8 {
	return c.nvbits&1 | c.nlbits<<1 | c.nmbits<<5
}

// clicRoot is the cluster-shared CLIC block: configuration plus the hart
// table. Per-hart interrupt state lives on the harts themselves.
type clicRoot struct {
	cfg      *Config
	cliccfg  cliccfg
	clicinfo uint32
	harts    []*Hart
}

// newCLICRoot initialises the cluster-level CLIC registers.
func newCLICRoot(cfg *Config) *clicRoot {
	root := &clicRoot{cfg: cfg}

	if cfg.CLIC {
		if cfg.CLICSELHVEC {
			root.cliccfg.nvbits = 1
		}

		// clicinfo: num_interrupt[12:0], version[20:13], CLICINTCTLBITS[24:21]
		numInt := uint32(cfg.LocalIntNum) + IntLocalBase.Code()
		root.clicinfo = numInt&0x1fff |
			uint32(cfg.CLICVERSION)<<13 |
			uint32(cfg.CLICINTCTLBITS&0xf)<<21
	}

	return root
}

// clicIntCtl1Bits returns the mask of always-one bits in clicintctl,
// derived from CLICINTCTLBITS.
func (h *Hart) clicIntCtl1Bits() uint8 {
	return uint8((1 << (8 - h.cfg.CLICINTCTLBITS)) - 1)
}

// newCLIC allocates the per-hart CLIC arrays and joins the cluster table.
func (h *Hart) newCLIC() {
	// no CLIC interrupt is pending initially (or the CLIC is absent)
	h.clic.sel.id = NoInt

	if !h.clicPresent() {
		return
	}

	root := h.root
	if h.ID < 0 || h.ID >= h.cfg.NumHarts {
		panic("riscv: illegal hart index for CLIC cluster")
	}
	if root.harts[h.ID] != nil {
		panic("riscv: CLIC hart table entry already filled")
	}
	root.harts[h.ID] = h

	intNum := h.intNum()
	h.clic.intState = make([]clicIntState, intNum)
	h.clic.ipe = make([]uint64, bitsToDWords(intNum))

	// default control state: Machine mode, always-one ctl bits
	attr := clicAttrWithMode(0, ModeMachine)
	ctl := h.clicIntCtl1Bits()
	for i := range h.clic.intState {
		h.clic.intState[i] = h.clic.intState[i].
			withField(clicFieldAttr, attr).
			withField(clicFieldCtl, ctl)
	}
}

// resetCLIC resets the cluster configuration register.
func (h *Hart) resetCLIC() {
	if h.clic.intState != nil {
		h.root.cliccfgWrite(0)
	}
}

func (h *Hart) clicField(intIndex uint32, f clicIntField) uint8 {
	return h.clic.intState[intIndex].field(f)
}

func (h *Hart) setCLICField(intIndex uint32, f clicIntField, v uint8) {
	h.clic.intState[intIndex] = h.clic.intState[intIndex].withField(f, v)
}

// updateCLICField writes a field and re-arbitrates if it changed.
func (h *Hart) updateCLICField(intIndex uint32, f clicIntField, v uint8) {
	if h.clicField(intIndex, f) != v {
		h.setCLICField(intIndex, f, v)
		h.TestInterrupt()
	}
}

func (h *Hart) clicPending(intIndex uint32) bool {
	return h.clicField(intIndex, clicFieldIP) != 0
}

func (h *Hart) clicEnabled(intIndex uint32) bool {
	return h.clicField(intIndex, clicFieldIE) != 0
}

// updateCLICPendingEnable updates the (pending AND enabled) bit for one
// interrupt and re-arbitrates.
func (h *Hart) updateCLICPendingEnable(intIndex uint32, newIPE bool) {
	mask := uint64(1) << (intIndex % 64)

	if newIPE {
		h.clic.ipe[intIndex/64] |= mask
	} else {
		h.clic.ipe[intIndex/64] &^= mask
	}

	h.TestInterrupt()
}

// writeCLICPending writes clicintip for the indexed interrupt.
func (h *Hart) writeCLICPending(intIndex uint32, newValue uint8) {
	oldIE := h.clicEnabled(intIndex)
	newIP := newValue&1 != 0

	oldIPE := oldIE && h.clicPending(intIndex)
	h.setCLICField(intIndex, clicFieldIP, newValue&1)
	newIPE := oldIE && newIP

	if oldIPE != newIPE {
		h.updateCLICPendingEnable(intIndex, newIPE)
	}
}

// writeCLICEnable writes clicintie for the indexed interrupt.
func (h *Hart) writeCLICEnable(intIndex uint32, newValue uint8) {
	oldIP := h.clicPending(intIndex)
	newIE := newValue&1 != 0

	oldIPE := oldIP && h.clicEnabled(intIndex)
	h.setCLICField(intIndex, clicFieldIE, newValue&1)
	newIPE := oldIP && newIE

	if oldIPE != newIPE {
		h.updateCLICPendingEnable(intIndex, newIPE)
	}
}

// writeCLICAttr writes clicintattr, clamping the mode to the page mode and
// to the legal mode set of the variant.
func (h *Hart) writeCLICAttr(intIndex uint32, newValue uint8, pageMode Mode) {
	attr := newValue &^ (0x7 << 3) // clear WPRI field
	intMode := clicAttrMode(attr)

	// clear shv field if Selective Hardware Vectoring is not implemented
	if h.root.cliccfg.nvbits == 0 {
		attr &^= clicAttrShv
	}

	// clamp mode to legal values
	mbits := h.cfg.CLICCFGMBITS
	if intMode > pageMode ||
		mbits == 0 ||
		intMode == ModeHypervisor ||
		(mbits < 2 && intMode == ModeSupervisor) ||
		(intMode == ModeUser && h.cfg.archMask&archN == 0) {
		intMode = pageMode
	}

	attr = clicAttrWithMode(attr, intMode)

	h.updateCLICField(intIndex, clicFieldAttr, attr)
}

// writeCLICCtl writes clicintctl, forcing the always-one low bits.
func (h *Hart) writeCLICCtl(intIndex uint32, newValue uint8) {
	h.updateCLICField(intIndex, clicFieldCtl, newValue|h.clicIntCtl1Bits())
}

// clicInterruptMode decodes the target privilege mode of an interrupt from
// cliccfg.nmbits, the implemented modes and clicintattr.mode.
func (h *Hart) clicInterruptMode(intIndex uint32) Mode {
	attrMode := clicAttrMode(h.clicField(intIndex, clicFieldAttr))
	nmbits := h.root.cliccfg.nmbits

	if nmbits == 0 {

		// priv-modes nmbits clicintattr[i].mode  Interpretation
		//      ---      0       xx               M-mode interrupt
		return ModeMachine

	} else if h.cfg.CLICCFGMBITS == 1 {

		// priv-modes nmbits clicintattr[i].mode  Interpretation
		//      M/U      1       0x               U-mode interrupt
		//      M/U      1       1x               M-mode interrupt
		if attrMode&2 != 0 {
			return ModeMachine
		}
		return ModeUser
	}

	// priv-modes nmbits clicintattr[i].mode  Interpretation
	//    M/S/U      1       0x               S-mode interrupt
	//    M/S/U      1       1x               M-mode interrupt
	//    M/S/U      2       00               U-mode interrupt
	//    M/S/U      2       01               S-mode interrupt
	//    M/S/U      2       10               Reserved (or extended S-mode)
	//    M/S/U      2       11               M-mode interrupt
	mode := attrMode
	if nmbits == 1 {
		mode |= 1
	}
	return mode
}

// presentCLICInt applies the presentation filter for a candidate of the
// given privilege and level against the current execution state.
func (h *Hart) presentCLICInt(priv Mode, level uint8) bool {
	if !h.useCLIC(priv) {
		return false
	}

	x := h.modeCSRs(priv)
	if !h.mstatusField(x.ie) {
		return false
	}

	if h.Priv < priv {
		return true
	}
	return level > *x.il && level > *x.intthresh
}

// refreshPendingAndEnabledCLIC re-arbitrates the CLIC candidate and merges
// it into the hart's pending-and-enabled selection.
func (h *Hart) refreshPendingAndEnabledCLIC() {
	maxRank := uint32(0)
	id := NoInt

	// reset presented interrupt details
	h.clic.sel = clicSel{id: NoInt}

	// scan for pending+enabled interrupts; construct a rank with the target
	// mode as the most-significant part, highest index winning ties
	for wordIndex, pendingEnabled := range h.clic.ipe {
		for i := uint32(0); pendingEnabled != 0; i, pendingEnabled = i+1, pendingEnabled>>1 {
			if pendingEnabled&1 == 0 {
				continue
			}

			intIndex := uint32(wordIndex)*64 + i
			ctl := h.clicField(intIndex, clicFieldCtl)
			mode := h.clicInterruptMode(intIndex)
			rank := uint32(mode)<<8 | uint32(ctl)

			if maxRank <= rank {
				maxRank = rank
				id = int32(intIndex)
			}
		}
	}

	if id != NoInt {
		attr := h.clicField(uint32(id), clicFieldAttr)
		ctl := h.clicField(uint32(id), clicFieldCtl)

		// interrupt level with bits beyond nlbits forced to one
		nlbits := h.root.cliccfg.nlbits
		nlbitsMask := uint8(0xff) &^ uint8((1<<(8-nlbits))-1)
		level := ctl&nlbitsMask | ^nlbitsMask

		priv := h.clicInterruptMode(uint32(id))

		h.clic.sel = clicSel{
			id:    id,
			priv:  priv,
			level: level,
			shv:   attr&clicAttrShv != 0,
		}

		enable := false
		switch {
		case h.pendEnab.priv > priv:
			// basic mode interrupt is higher priority
		case h.Priv > priv:
			// execution priority is higher than interrupt priority
		default:
			enable = h.presentCLICInt(priv, level)
		}

		if enable {
			h.pendEnab = pendEnab{
				id:     id,
				priv:   priv,
				level:  level,
				isCLIC: true,
			}
		}
	}

	h.traceCLICState()
}

// traceCLICState logs the presented CLIC candidate when it changes and
// exception tracing is enabled.
func (h *Hart) traceCLICState() {
	if !h.cfg.DebugExcept {
		return
	}

	if h.clic.sel != h.clicTrace {
		slog.Info("clic state",
			"hart", h.ID,
			"pc", h.PC,
			"id", h.clic.sel.id,
			"mode", h.clic.sel.priv,
			"level", h.clic.sel.level,
			"shv", h.clic.sel.shv,
		)
		h.clicTrace = h.clic.sel
	}
}

// refreshCLICIPE re-derives the pending+enabled mask from the interrupt
// state, after a restore.
func (h *Hart) refreshCLICIPE() {
	for i := range h.clic.ipe {
		h.clic.ipe[i] = 0
	}

	for i := uint32(0); i < h.intNum(); i++ {
		if h.clicPending(i) && h.clicEnabled(i) {
			h.clic.ipe[i/64] |= uint64(1) << (i % 64)
		}
	}
}

// AcknowledgeCLICInt acknowledges a taken CLIC interrupt: the pending bit
// is cleared for edge-triggered interrupts, otherwise the pending state is
// refreshed.
func (h *Hart) AcknowledgeCLICInt(intIndex uint32) {
	attr := h.clicField(intIndex, clicFieldAttr)

	if attr&clicAttrTrigEdge != 0 {
		h.writeCLICPending(intIndex, 0)
	} else {
		h.refreshPendingAndEnabled()
	}
}

// updateCLICInput folds an input wire change into the CLIC pending state,
// honouring the per-interrupt trigger configuration.
func (h *Hart) updateCLICInput(intIndex uint32, newValue bool) {
	attr := h.clicField(intIndex, clicFieldAttr)

	isEdge := attr&clicAttrTrigEdge != 0
	activeLow := attr&clicAttrTrigLow != 0

	// handle active low inputs
	newValue = newValue != activeLow

	// apply new value if either level triggered or edge triggered and
	// asserted
	if !isEdge || newValue {
		v := uint8(0)
		if newValue {
			v = 1
		}
		h.writeCLICPending(intIndex, v)
	}
}

// cliccfgWrite updates cliccfg, clamping nmbits and nlbits and preserving
// the read-only nvbits field. Any effective change re-arbitrates every hart
// in the cluster.
func (root *clicRoot) cliccfgWrite(newValue uint8) {
	next := cliccfg{
		nvbits: newValue & 1,
		nlbits: newValue >> 1 & 0xf,
		nmbits: newValue >> 5 & 0x3,
	}

	if next.nmbits > root.cfg.CLICCFGMBITS {
		next.nmbits = root.cfg.CLICCFGMBITS
	}
	if next.nlbits > 8 {
		next.nlbits = 8
	}

	// preserve read-only nvbits
	next.nvbits = 0
	if root.cfg.CLICSELHVEC {
		next.nvbits = 1
	}

	if root.cliccfg != next {
		root.cliccfg = next
		for _, hart := range root.harts {
			if hart != nil {
				hart.TestInterrupt()
			}
		}
	}
}
