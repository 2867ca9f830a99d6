package riscv

import (
	"fmt"
	"log/slog"
)

// clicPageType identifies the kind of CLIC page being accessed.
type clicPageType uint32

const (
	clicPageControl clicPageType = iota
	clicPageM
	clicPageS
	clicPageU
)

func (t clicPageType) String() string {
	switch t {
	case clicPageControl:
		return "Control"
	case clicPageM:
		return "Machine"
	case clicPageS:
		return "Supervisor"
	case clicPageU:
		return "User"
	}
	return "?"
}

const clicPageSize = 4096

// CLICWindow exposes the cluster CLIC block as a byte-addressable
// memory-mapped device: one control page followed by a {M,S,U} x hart
// matrix of four consecutive pages each.
type CLICWindow struct {
	root *clicRoot
}

// Size implements Device.
func (w *CLICWindow) Size() uint64 {
	numPages := 1 + w.root.numHarts()*3*4
	return uint64(numPages) * clicPageSize
}

func (root *clicRoot) numHarts() uint32 {
	if root.cfg.NumHarts == 0 {
		return 1
	}
	return uint32(root.cfg.NumHarts)
}

func clicPage(offset uint32) uint32 {
	return offset / clicPageSize
}

func clicPageWord(offset uint32) uint32 {
	return (offset % clicPageSize) / 4
}

func clicIntIndex(offset uint32) uint32 {
	return ((offset - clicPageSize) / 4) % clicPageSize
}

func clicWordByte(offset uint32) uint32 {
	return offset % 4
}

// clic4kIntPage converts a window page index to an interrupt page index.
func clic4kIntPage(page uint32) uint32 {
	return (page - 1) / 4
}

// pageType returns the CLIC page type accessed at the given offset.
func (root *clicRoot) pageType(offset uint32) clicPageType {
	page := clicPage(offset)
	if page == 0 {
		return clicPageControl
	}

	t := clicPageM + clicPageType(clic4kIntPage(page)/root.numHarts())
	if t > clicPageU {
		panic(fmt.Sprintf("riscv: illegal CLIC page type %d", t))
	}
	return t
}

// pageMode returns the privilege mode of an interrupt page.
func (root *clicRoot) pageMode(offset uint32) Mode {
	switch root.pageType(offset) {
	case clicPageM:
		return ModeMachine
	case clicPageS:
		return ModeSupervisor
	case clicPageU:
		return ModeUser
	}
	panic("riscv: expected interrupt page")
}

// hartIndex returns the hart selected by an interrupt page offset, or -1
// for the control page.
func (root *clicRoot) hartIndex(offset uint32) int32 {
	page := clicPage(offset)
	if page == 0 {
		return -1
	}
	return int32(clic4kIntPage(page) % root.numHarts())
}

// hartAt returns the hart selected by an interrupt page offset.
func (root *clicRoot) hartAt(offset uint32) *Hart {
	index := root.hartIndex(offset)
	if index < 0 {
		panic("riscv: illegal CLIC hart index")
	}
	return root.harts[index]
}

// debugAccess traces a CLIC window access.
func (root *clicRoot) debugAccess(offset uint32, access string) {
	if !root.cfg.DebugExcept {
		return
	}

	t := root.pageType(offset)
	if t == clicPageControl {
		slog.Info("clic access", "op", access, "offset", offset, "page", t.String())
	} else {
		slog.Info("clic access", "op", access, "offset", offset,
			"page", t.String(), "hart", root.hartIndex(offset))
	}
}

// accessInterrupt reports whether the interrupt accessed at the offset is
// visible: it must be implemented on the selected hart and its target mode
// must not exceed the page mode.
func (root *clicRoot) accessInterrupt(offset uint32) bool {
	hart := root.hartAt(offset)
	intIndex := clicIntIndex(offset)
	intCode := IntToException(intIndex)

	if intIndex < IntLocalBase.Code() && !hart.hasException(intCode) {
		// absent standard interrupt
		return false
	} else if intIndex >= hart.intNum() {
		return false
	}

	pageMode := root.pageMode(offset)
	intMode := hart.clicInterruptMode(intIndex)

	return intMode <= pageMode
}

// readInterrupt returns the visible 32-bit state of an interrupt, or zero
// when the access is not honoured.
func (root *clicRoot) readInterrupt(offset uint32) uint32 {
	if !root.accessInterrupt(offset) {
		return 0
	}

	hart := root.hartAt(offset)
	return uint32(hart.clic.intState[clicIntIndex(offset)])
}

// writeInterrupt updates one byte-sized field of an interrupt when the
// access is honoured.
func (root *clicRoot) writeInterrupt(offset uint32, newValue uint8) {
	if !root.accessInterrupt(offset) {
		return
	}

	hart := root.hartAt(offset)
	intIndex := clicIntIndex(offset)

	switch clicIntField(clicWordByte(offset)) {
	case clicFieldIP:
		hart.writeCLICPending(intIndex, newValue)
	case clicFieldIE:
		hart.writeCLICEnable(intIndex, newValue)
	case clicFieldAttr:
		hart.writeCLICAttr(intIndex, newValue, root.pageMode(offset))
	case clicFieldCtl:
		hart.writeCLICCtl(intIndex, newValue)
	}
}

// readByte reads one byte from the window.
func (root *clicRoot) readByte(offset uint32) uint8 {
	root.debugAccess(offset, "READ")

	var result uint32
	if clicPage(offset) != 0 {
		result = root.readInterrupt(offset)
	} else if word := clicPageWord(offset); word == 0 {
		result = uint32(root.cliccfg.bits())
	} else if word == 1 {
		result = root.clicinfo
	}

	return uint8(result >> (clicWordByte(offset) * 8))
}

// writeByte writes one byte to the window. clicinfo is read-only.
func (root *clicRoot) writeByte(offset uint32, newValue uint8) {
	root.debugAccess(offset, "WRITE")

	if clicPage(offset) != 0 {
		root.writeInterrupt(offset, newValue)
	} else if offset == 0 {
		root.cliccfgWrite(newValue)
	}
}

// Read implements Device at byte granularity.
func (w *CLICWindow) Read(offset uint64, size int) (uint64, error) {
	var value uint64
	for i := 0; i < size; i++ {
		value |= uint64(w.root.readByte(uint32(offset)+uint32(i))) << (8 * i)
	}
	return value, nil
}

// Write implements Device at byte granularity.
func (w *CLICWindow) Write(offset uint64, size int, value uint64) error {
	for i := 0; i < size; i++ {
		w.root.writeByte(uint32(offset)+uint32(i), uint8(value>>(8*i)))
	}
	return nil
}

var _ Device = (*CLICWindow)(nil)
