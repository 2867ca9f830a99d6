package riscv

import "fmt"

// Exception identifies an architectural exception or interrupt cause. The
// low 12 bits hold the exception code; excInterrupt tags interrupt causes.
type Exception uint32

const excInterrupt Exception = 1 << 12

// Synchronous exception causes
const (
	ExcInstructionAddressMisaligned Exception = 0
	ExcInstructionAccessFault       Exception = 1
	ExcIllegalInstruction           Exception = 2
	ExcBreakpoint                   Exception = 3
	ExcLoadAddressMisaligned        Exception = 4
	ExcLoadAccessFault              Exception = 5
	ExcStoreAMOAddressMisaligned    Exception = 6
	ExcStoreAMOAccessFault          Exception = 7
	ExcEnvironmentCallFromUMode     Exception = 8
	ExcEnvironmentCallFromSMode     Exception = 9
	ExcEnvironmentCallFromMMode     Exception = 11
	ExcInstructionPageFault         Exception = 12
	ExcLoadPageFault                Exception = 13
	ExcStoreAMOPageFault            Exception = 15
)

// Interrupt causes
const (
	IntUSWInterrupt       Exception = excInterrupt | 0
	IntSSWInterrupt       Exception = excInterrupt | 1
	IntMSWInterrupt       Exception = excInterrupt | 3
	IntUTimerInterrupt    Exception = excInterrupt | 4
	IntSTimerInterrupt    Exception = excInterrupt | 5
	IntMTimerInterrupt    Exception = excInterrupt | 7
	IntUExternalInterrupt Exception = excInterrupt | 8
	IntSExternalInterrupt Exception = excInterrupt | 9
	IntMExternalInterrupt Exception = excInterrupt | 11
	IntCSIP               Exception = excInterrupt | 12

	// Local interrupts are indexed from 16.
	IntLocalBase Exception = excInterrupt | 16
)

// ExcNone marks "no exception taken yet".
const ExcNone Exception = ^Exception(0)

// IsInterrupt reports whether the cause is an interrupt.
func (e Exception) IsInterrupt() bool {
	return e != ExcNone && e&excInterrupt != 0
}

// Code returns the numeric exception code without the interrupt tag.
func (e Exception) Code() uint32 {
	return uint32(e &^ excInterrupt)
}

// IntToException converts an interrupt number into its cause.
func IntToException(id uint32) Exception {
	return Exception(id) | excInterrupt
}

func (e Exception) isExternalInterrupt() bool {
	return e >= IntUExternalInterrupt && e <= IntMExternalInterrupt
}

// ExceptionInfo describes one implemented exception for the host simulator.
type ExceptionInfo struct {
	Name        string
	Code        Exception
	Description string
}

// exceptionDesc couples the host-visible info with the architecture bits
// required for the cause to be implemented.
type exceptionDesc struct {
	info ExceptionInfo
	arch archFlags
}

// Static descriptor table. CSIP is handled separately: it is implemented
// exactly when the CLIC is present.
var exceptionDescs = []exceptionDesc{
	{ExceptionInfo{"InstructionAddressMisaligned", ExcInstructionAddressMisaligned, "Fetch from unaligned address"}, 0},
	{ExceptionInfo{"InstructionAccessFault", ExcInstructionAccessFault, "No access permission for fetch"}, 0},
	{ExceptionInfo{"IllegalInstruction", ExcIllegalInstruction, "Undecoded, unimplemented or disabled instruction"}, 0},
	{ExceptionInfo{"Breakpoint", ExcBreakpoint, "EBREAK instruction executed"}, 0},
	{ExceptionInfo{"LoadAddressMisaligned", ExcLoadAddressMisaligned, "Load from unaligned address"}, 0},
	{ExceptionInfo{"LoadAccessFault", ExcLoadAccessFault, "No access permission for load"}, 0},
	{ExceptionInfo{"StoreAMOAddressMisaligned", ExcStoreAMOAddressMisaligned, "Store/atomic memory operation at unaligned address"}, 0},
	{ExceptionInfo{"StoreAMOAccessFault", ExcStoreAMOAccessFault, "No access permission for store/atomic memory operation"}, 0},
	{ExceptionInfo{"EnvironmentCallFromUMode", ExcEnvironmentCallFromUMode, "ECALL instruction executed in User mode"}, archU},
	{ExceptionInfo{"EnvironmentCallFromSMode", ExcEnvironmentCallFromSMode, "ECALL instruction executed in Supervisor mode"}, archS},
	{ExceptionInfo{"EnvironmentCallFromMMode", ExcEnvironmentCallFromMMode, "ECALL instruction executed in Machine mode"}, 0},
	{ExceptionInfo{"InstructionPageFault", ExcInstructionPageFault, "Page fault at fetch address"}, 0},
	{ExceptionInfo{"LoadPageFault", ExcLoadPageFault, "Page fault at load address"}, 0},
	{ExceptionInfo{"StoreAMOPageFault", ExcStoreAMOPageFault, "Page fault at store/atomic memory operation address"}, 0},

	{ExceptionInfo{"USWInterrupt", IntUSWInterrupt, "User software interrupt"}, archN},
	{ExceptionInfo{"SSWInterrupt", IntSSWInterrupt, "Supervisor software interrupt"}, archS},
	{ExceptionInfo{"MSWInterrupt", IntMSWInterrupt, "Machine software interrupt"}, 0},
	{ExceptionInfo{"UTimerInterrupt", IntUTimerInterrupt, "User timer interrupt"}, archN},
	{ExceptionInfo{"STimerInterrupt", IntSTimerInterrupt, "Supervisor timer interrupt"}, archS},
	{ExceptionInfo{"MTimerInterrupt", IntMTimerInterrupt, "Machine timer interrupt"}, 0},
	{ExceptionInfo{"UExternalInterrupt", IntUExternalInterrupt, "User external interrupt"}, archN},
	{ExceptionInfo{"SExternalInterrupt", IntSExternalInterrupt, "Supervisor external interrupt"}, archS},
	{ExceptionInfo{"MExternalInterrupt", IntMExternalInterrupt, "Machine external interrupt"}, 0},

	{ExceptionInfo{"CSIP", IntCSIP, "CLIC software interrupt"}, 0},
}

// Description returns the human-readable description of a cause.
func (e Exception) Description() string {
	if e.IsInterrupt() && e >= IntLocalBase {
		return fmt.Sprintf("Local interrupt %d", e.Code()-IntLocalBase.Code())
	}
	for i := range exceptionDescs {
		if exceptionDescs[i].info.Code == e {
			return exceptionDescs[i].info.Description
		}
	}
	return ""
}

// setExceptionMask derives the implemented exception and interrupt masks
// from the configured architecture. Local interrupts are appended and
// explicitly-absent interrupts removed.
func (h *Hart) setExceptionMask() {
	var exceptionMask, interruptMask uint64

	for i := range exceptionDescs {
		d := &exceptionDescs[i]
		code := d.info.Code

		if code == IntCSIP {
			// never present in interrupt mask
		} else if h.cfg.archMask&d.arch != d.arch {
			// not implemented by this variant
		} else if !code.IsInterrupt() {
			exceptionMask |= 1 << code.Code()
		} else {
			interruptMask |= 1 << code.Code()
		}
	}

	h.exceptionMask = exceptionMask
	h.interruptMask = (interruptMask | h.localIntMask()) &^ h.cfg.UnimpIntMask
}

// localIntMask returns the mask of implemented local interrupts, positioned
// from bit 16.
func (h *Hart) localIntMask() uint64 {
	shift := h.cfg.LocalIntNum
	if shift > 48 {
		shift = 48
	}
	return ((uint64(1) << shift) - 1) << IntLocalBase.Code()
}

// intNum returns the total number of interrupts, including the 16 standard
// positions.
func (h *Hart) intNum() uint32 {
	return uint32(h.cfg.LocalIntNum) + IntLocalBase.Code()
}

// hasException reports whether the hart implements the given cause.
func (h *Hart) hasException(code Exception) bool {
	if code == IntCSIP {
		return h.clicPresent()
	} else if !code.IsInterrupt() {
		return h.exceptionMask&(1<<code.Code()) != 0
	}
	return h.interruptMask&(1<<code.Code()) != 0
}

// Exceptions returns all implemented exceptions and interrupts, including
// observer-contributed ones and local interrupts.
func (h *Hart) Exceptions() []ExceptionInfo {
	if h.exceptions != nil {
		return h.exceptions
	}

	var all []ExceptionInfo
	for i := range exceptionDescs {
		if h.hasException(exceptionDescs[i].info.Code) {
			all = append(all, exceptionDescs[i].info)
		}
	}
	for _, o := range h.observers {
		if o.FirstException != nil {
			all = append(all, o.FirstException(h)...)
		}
	}
	for i := uint32(0); i < uint32(h.cfg.LocalIntNum); i++ {
		code := IntLocalBase + Exception(i)
		all = append(all, ExceptionInfo{
			Name:        fmt.Sprintf("LocalInterrupt%d", i),
			Code:        code,
			Description: code.Description(),
		})
	}

	h.exceptions = all
	return all
}

// LastException returns info for the most recently activated exception, or
// nil if none matches.
func (h *Hart) LastException() *ExceptionInfo {
	for _, info := range h.Exceptions() {
		if info.Code == h.Exception {
			return &info
		}
	}
	return nil
}

// ExceptionError reports an architectural exception from a collaborator
// (bus, address checker) so the caller can deliver it via the trap engine.
type ExceptionError struct {
	Cause Exception
	Tval  uint64
}

func (e ExceptionError) Error() string {
	return fmt.Sprintf("exception: cause=0x%x tval=0x%x", uint32(e.Cause), e.Tval)
}
