package riscv

// Timer register offsets, CLINT compatible.
const (
	TimerMsip     = 0x0000
	TimerMtimecmp = 0x4000
	TimerMtime    = 0xbff8

	TimerSize uint64 = 0xc000
)

// Timer is a CLINT-style machine timer. Unlike a wall-clock CLINT it is
// advanced explicitly by the simulator, and it signals the hart through the
// MSWInterrupt and MTimerInterrupt net ports so the trap core owns all
// pending-state latching.
type Timer struct {
	hart *Hart

	msip     uint32
	mtime    uint64
	mtimecmp uint64
}

// NewTimer creates a timer bound to one hart.
func NewTimer(hart *Hart) *Timer {
	return &Timer{
		hart:     hart,
		mtimecmp: ^uint64(0), // no interrupt initially
	}
}

// Size implements Device
func (t *Timer) Size() uint64 {
	return TimerSize
}

// Read implements Device
func (t *Timer) Read(offset uint64, size int) (uint64, error) {
	switch {
	case offset >= TimerMsip && offset < TimerMsip+4:
		return uint64(t.msip), nil

	case offset >= TimerMtimecmp && offset < TimerMtimecmp+8:
		return t.mtimecmp, nil

	case offset >= TimerMtime && offset < TimerMtime+8:
		return t.mtime, nil
	}

	return 0, nil
}

// Write implements Device
func (t *Timer) Write(offset uint64, size int, value uint64) error {
	switch {
	case offset >= TimerMsip && offset < TimerMsip+4:
		t.msip = uint32(value & 1)
		t.hart.Signal("MSWInterrupt", value&1)

	case offset >= TimerMtimecmp && offset < TimerMtimecmp+8:
		if size == 4 {
			if offset == TimerMtimecmp {
				t.mtimecmp = (t.mtimecmp &^ 0xffffffff) | (value & 0xffffffff)
			} else {
				t.mtimecmp = (t.mtimecmp &^ 0xffffffff00000000) | ((value & 0xffffffff) << 32)
			}
		} else {
			t.mtimecmp = value
		}
		t.update()
	}

	return nil
}

// Advance moves mtime forward and updates the timer interrupt line.
func (t *Timer) Advance(ticks uint64) {
	t.mtime += ticks
	t.update()
}

func (t *Timer) update() {
	if t.mtime >= t.mtimecmp {
		t.hart.Signal("MTimerInterrupt", 1)
	} else {
		t.hart.Signal("MTimerInterrupt", 0)
	}
}

var _ Device = (*Timer)(nil)
