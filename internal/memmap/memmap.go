// Package memmap implements the emulated C64 64 KiB memory map with 1-3
// memory-mapped SID register windows.
package memmap

// Chip is the subset of internal/sidchip.Chip the memory map needs to route
// register reads and writes. Kept narrow so memmap has no import-cycle
// dependency on the concrete chip implementation or its model type.
type Chip interface {
	ReadRegister(reg byte) byte
	WriteRegister(reg byte, value byte)
}

const (
	ramSize       = 65536
	windowSize    = 32
	primaryBase   = 0xD400
	registerMask  = 0x1F
)

// Window is a contiguous address range routed to a SID chip rather than RAM.
type Window struct {
	Base uint16
	Chip Chip
}

func (w Window) contains(addr uint16) bool {
	return addr >= w.Base && addr < w.Base+windowSize
}

// Memory is the 64 KiB C64 address space plus its SID register windows.
type Memory struct {
	ram     [ramSize]byte
	windows []Window
}

// New creates memory with zeroed RAM and a single SID window at $D400.
func New(primary Chip) *Memory {
	return &Memory{windows: []Window{{Base: primaryBase, Chip: primary}}}
}

// ConfigureSIDs replaces the window set. The first window must be $D400;
// callers (internal/player) are responsible for building that invariant
// from a decoded Tune's SID addresses.
func (m *Memory) ConfigureSIDs(windows []Window) {
	m.windows = append([]Window(nil), windows...)
}

// Windows returns the currently configured SID windows, in routing order.
func (m *Memory) Windows() []Window {
	return m.windows
}

// Load copies data into RAM at address, truncating at the 64 KiB boundary.
func (m *Memory) Load(address uint16, data []byte) {
	start := int(address)
	end := start + len(data)
	if end > ramSize {
		end = ramSize
	}
	if end <= start {
		return
	}
	copy(m.ram[start:end], data[:end-start])
}

// ClearZeropageAndStack zeroes addresses $0000-$01FF.
func (m *Memory) ClearZeropageAndStack() {
	for i := range m.ram[:0x0200] {
		m.ram[i] = 0
	}
}

// SetChipModel replaces the chip installed in window index, preserving its
// base address.
func (m *Memory) SetChipModel(index int, chip Chip) {
	if index < 0 || index >= len(m.windows) {
		return
	}
	m.windows[index].Chip = chip
}

// windowFor returns the first window whose range contains addr, or nil.
func (m *Memory) windowFor(addr uint16) *Window {
	for i := range m.windows {
		if m.windows[i].contains(addr) {
			return &m.windows[i]
		}
	}
	return nil
}

// Read implements internal/cpu6502.Bus.
func (m *Memory) Read(addr uint16) byte {
	if w := m.windowFor(addr); w != nil {
		reg := byte(addr-w.Base) & registerMask
		return w.Chip.ReadRegister(reg)
	}
	return m.ram[addr]
}

// Write implements internal/cpu6502.Bus.
func (m *Memory) Write(addr uint16, value byte) {
	if w := m.windowFor(addr); w != nil {
		reg := byte(addr-w.Base) & registerMask
		w.Chip.WriteRegister(reg, value)
		return
	}
	m.ram[addr] = value
}
