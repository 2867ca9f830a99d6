package riscv

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// netStateVersion is incremented whenever the blob layout changes.
const netStateVersion = 1

var errBadNetState = errors.New("riscv: malformed net state blob")

func boolByte(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}

// SaveNetState serializes the interrupt and net-input state not covered by
// the CSR read/write API: the raw pending vector, latched control inputs,
// the basic interrupt trace record and, when the CLIC is present, the
// cluster cliccfg plus the per-interrupt control state.
func (h *Hart) SaveNetState() []byte {
	var buf bytes.Buffer
	le := binary.LittleEndian

	buf.WriteByte(netStateVersion)

	// raw pending vector and software-pending bits
	binary.Write(&buf, le, uint32(len(h.ip)))
	binary.Write(&buf, le, h.ip)
	binary.Write(&buf, le, h.swip)

	// latched control input state
	buf.WriteByte(boolByte(h.netValue.reset))
	buf.WriteByte(boolByte(h.netValue.nmi))
	buf.WriteByte(boolByte(h.netValue.haltreq))
	buf.WriteByte(boolByte(h.netValue.resethaltreq))
	buf.WriteByte(boolByte(h.netValue.resethaltreqS))
	buf.WriteByte(boolByte(h.netValue.deferint))

	// basic-mode interrupt trace record
	binary.Write(&buf, le, h.intState.pendingEnabled)
	binary.Write(&buf, le, h.intState.pending)
	binary.Write(&buf, le, h.intState.pendingExternal)
	binary.Write(&buf, le, h.intState.pendingInternal)
	binary.Write(&buf, le, h.intState.mideleg)
	binary.Write(&buf, le, h.intState.sideleg)
	buf.WriteByte(boolByte(h.intState.mie))
	buf.WriteByte(boolByte(h.intState.sie))
	buf.WriteByte(boolByte(h.intState.uie))

	// CLIC state: cliccfg lives on the cluster root
	buf.WriteByte(boolByte(h.clicPresent()))
	if h.clicPresent() {
		buf.WriteByte(h.root.cliccfg.bits())
		binary.Write(&buf, le, uint32(len(h.clic.intState)))
		binary.Write(&buf, le, h.clic.intState)
	}

	return buf.Bytes()
}

// RestoreNetState restores a blob produced by SaveNetState. The
// pending+enabled mask is re-derived from the interrupt state and the
// interrupt selection re-arbitrated.
func (h *Hart) RestoreNetState(data []byte) error {
	buf := bytes.NewReader(data)
	le := binary.LittleEndian

	version, err := buf.ReadByte()
	if err != nil {
		return errBadNetState
	}
	if version != netStateVersion {
		return fmt.Errorf("riscv: unsupported net state version %d", version)
	}

	h.inSaveRestore = true
	defer func() { h.inSaveRestore = false }()

	var ipLen uint32
	if err := binary.Read(buf, le, &ipLen); err != nil {
		return errBadNetState
	}
	if int(ipLen) != len(h.ip) {
		return fmt.Errorf("riscv: net state has %d pending words, hart has %d",
			ipLen, len(h.ip))
	}
	if err := binary.Read(buf, le, h.ip); err != nil {
		return errBadNetState
	}
	if err := binary.Read(buf, le, &h.swip); err != nil {
		return errBadNetState
	}

	flags := make([]byte, 6)
	if _, err := io.ReadFull(buf, flags); err != nil {
		return errBadNetState
	}
	h.netValue.reset = flags[0] != 0
	h.netValue.nmi = flags[1] != 0
	h.netValue.haltreq = flags[2] != 0
	h.netValue.resethaltreq = flags[3] != 0
	h.netValue.resethaltreqS = flags[4] != 0
	h.netValue.deferint = flags[5] != 0

	for _, field := range []*uint64{
		&h.intState.pendingEnabled,
		&h.intState.pending,
		&h.intState.pendingExternal,
		&h.intState.pendingInternal,
		&h.intState.mideleg,
		&h.intState.sideleg,
	} {
		if err := binary.Read(buf, le, field); err != nil {
			return errBadNetState
		}
	}
	ieFlags := make([]byte, 3)
	if _, err := io.ReadFull(buf, ieFlags); err != nil {
		return errBadNetState
	}
	h.intState.mie = ieFlags[0] != 0
	h.intState.sie = ieFlags[1] != 0
	h.intState.uie = ieFlags[2] != 0

	clicFlag, err := buf.ReadByte()
	if err != nil {
		return errBadNetState
	}
	if (clicFlag != 0) != h.clicPresent() {
		return errors.New("riscv: net state CLIC presence mismatch")
	}

	if h.clicPresent() {
		cfgBits, err := buf.ReadByte()
		if err != nil {
			return errBadNetState
		}
		h.root.cliccfgWrite(cfgBits)

		var stateLen uint32
		if err := binary.Read(buf, le, &stateLen); err != nil {
			return errBadNetState
		}
		if int(stateLen) != len(h.clic.intState) {
			return fmt.Errorf("riscv: net state has %d CLIC interrupts, hart has %d",
				stateLen, len(h.clic.intState))
		}
		if err := binary.Read(buf, le, h.clic.intState); err != nil {
			return errBadNetState
		}

		// re-derive the pending+enabled mask from the interrupt state
		h.refreshCLICIPE()
	}

	// recompose mip from the restored sources
	h.Mip = (h.ip[0] | h.swip) & h.implementedIntMask()

	h.inSaveRestore = false
	h.TestInterrupt()
	return nil
}
