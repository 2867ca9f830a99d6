package riscv

import "fmt"

// Device is a memory-mapped peripheral on the hart data domain. CLIC pages
// are byte-addressable, so every device must honour size-1 accesses.
type Device interface {
	// Read reads from the device at the given offset
	Read(offset uint64, size int) (uint64, error)
	// Write writes to the device at the given offset
	Write(offset uint64, size int, value uint64) error
	// Size returns the size of the device's address space
	Size() uint64
}

// RAM is the backing store of the data domain. Values are assembled a byte
// at a time, little-endian, so any access width from 1 to 8 bytes works —
// the same granularity the CLIC window demands of devices.
type RAM struct {
	data []byte
}

// NewRAM creates a RAM region of the given size.
func NewRAM(size uint64) *RAM {
	return &RAM{data: make([]byte, size)}
}

// Size implements Device
func (m *RAM) Size() uint64 {
	return uint64(len(m.data))
}

// window bounds-checks an access and returns the backing bytes.
func (m *RAM) window(offset uint64, size int) ([]byte, error) {
	end := offset + uint64(size)
	if end < offset || end > uint64(len(m.data)) {
		return nil, fmt.Errorf("ram access out of bounds: offset=0x%x size=%d len=%d",
			offset, size, len(m.data))
	}
	return m.data[offset:end], nil
}

// Read implements Device
func (m *RAM) Read(offset uint64, size int) (uint64, error) {
	b, err := m.window(offset, size)
	if err != nil {
		return 0, err
	}

	var value uint64
	for i := size - 1; i >= 0; i-- {
		value = value<<8 | uint64(b[i])
	}
	return value, nil
}

// Write implements Device
func (m *RAM) Write(offset uint64, size int, value uint64) error {
	b, err := m.window(offset, size)
	if err != nil {
		return err
	}

	for i := 0; i < size; i++ {
		b[i] = byte(value >> (8 * i))
	}
	return nil
}

var _ Device = (*RAM)(nil)

// BusInterface is the data domain contract the trap core reads through:
// CLIC vector-table fetches (Read32/Read64), the fetch gate's
// instruction-size probe (Read16), and byte-level CLIC window traffic.
type BusInterface interface {
	Read8(addr uint64) (uint8, error)
	Read16(addr uint64) (uint16, error)
	Read32(addr uint64) (uint32, error)
	Read64(addr uint64) (uint64, error)
	Write8(addr uint64, value uint8) error
	Write16(addr uint64, value uint16) error
	Write32(addr uint64, value uint32) error
	Write64(addr uint64, value uint64) error
}

// deviceMapping binds a device to its base address.
type deviceMapping struct {
	base uint64
	size uint64
	dev  Device
}

// Bus is the hart-visible data domain: RAM plus the memory-mapped devices
// of this model (the CLIC window, timers).
type Bus struct {
	RAM     *RAM
	RAMBase uint64

	devices []deviceMapping
}

// NewBus creates a bus with RAM of the given size mapped at base.
func NewBus(base, ramSize uint64) *Bus {
	return &Bus{
		RAM:     NewRAM(ramSize),
		RAMBase: base,
	}
}

// AddDevice maps a device at the given base address.
func (bus *Bus) AddDevice(base uint64, dev Device) {
	bus.devices = append(bus.devices, deviceMapping{
		base: base,
		size: dev.Size(),
		dev:  dev,
	})
}

// find resolves an address to the device backing it.
func (bus *Bus) find(addr uint64) (Device, uint64, error) {
	if addr >= bus.RAMBase && addr < bus.RAMBase+bus.RAM.Size() {
		return bus.RAM, addr - bus.RAMBase, nil
	}

	for _, m := range bus.devices {
		if addr >= m.base && addr < m.base+m.size {
			return m.dev, addr - m.base, nil
		}
	}

	return nil, 0, fmt.Errorf("no device at address 0x%x", addr)
}

func (bus *Bus) read(addr uint64, size int) (uint64, error) {
	dev, offset, err := bus.find(addr)
	if err != nil {
		return 0, err
	}
	return dev.Read(offset, size)
}

func (bus *Bus) write(addr uint64, size int, value uint64) error {
	dev, offset, err := bus.find(addr)
	if err != nil {
		return err
	}
	return dev.Write(offset, size, value)
}

// Read8 reads a byte from the bus
func (bus *Bus) Read8(addr uint64) (uint8, error) {
	val, err := bus.read(addr, 1)
	return uint8(val), err
}

// Read16 reads a halfword from the bus
func (bus *Bus) Read16(addr uint64) (uint16, error) {
	val, err := bus.read(addr, 2)
	return uint16(val), err
}

// Read32 reads a word from the bus
func (bus *Bus) Read32(addr uint64) (uint32, error) {
	val, err := bus.read(addr, 4)
	return uint32(val), err
}

// Read64 reads a doubleword from the bus
func (bus *Bus) Read64(addr uint64) (uint64, error) {
	return bus.read(addr, 8)
}

// Write8 writes a byte to the bus
func (bus *Bus) Write8(addr uint64, value uint8) error {
	return bus.write(addr, 1, uint64(value))
}

// Write16 writes a halfword to the bus
func (bus *Bus) Write16(addr uint64, value uint16) error {
	return bus.write(addr, 2, uint64(value))
}

// Write32 writes a word to the bus
func (bus *Bus) Write32(addr uint64, value uint32) error {
	return bus.write(addr, 4, uint64(value))
}

// Write64 writes a doubleword to the bus
func (bus *Bus) Write64(addr uint64, value uint64) error {
	return bus.write(addr, 8, value)
}

// LoadImage copies a memory image into RAM at the given address. Handler
// stubs and CLIC vector tables are installed this way.
func (bus *Bus) LoadImage(addr uint64, image []byte) error {
	if addr < bus.RAMBase {
		return fmt.Errorf("image address 0x%x below RAM base 0x%x", addr, bus.RAMBase)
	}
	b, err := bus.RAM.window(addr-bus.RAMBase, len(image))
	if err != nil {
		return err
	}
	copy(b, image)
	return nil
}
