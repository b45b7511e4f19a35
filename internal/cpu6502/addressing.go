package cpu6502

// Addressing mode handlers compute c.addrAbs (or set c.implied) and flag
// c.pageCrossed when a resolved address crosses a page boundary from the
// base page computed without the index register.

func (c *CPU) amIMP() { c.implied = true }

func (c *CPU) amACC() { c.implied = true }

func (c *CPU) amIMM() {
	c.addrAbs = c.Reg.PC
	c.Reg.PC++
}

func (c *CPU) amZP0() {
	c.addrAbs = uint16(c.bus.Read(c.Reg.PC))
	c.Reg.PC++
}

func (c *CPU) amZPX() {
	c.addrAbs = uint16(c.bus.Read(c.Reg.PC)+c.Reg.X) & 0x00FF
	c.Reg.PC++
}

func (c *CPU) amZPY() {
	c.addrAbs = uint16(c.bus.Read(c.Reg.PC)+c.Reg.Y) & 0x00FF
	c.Reg.PC++
}

func (c *CPU) amABS() {
	lo := uint16(c.bus.Read(c.Reg.PC))
	c.Reg.PC++
	hi := uint16(c.bus.Read(c.Reg.PC))
	c.Reg.PC++
	c.addrAbs = lo | hi<<8
}

func (c *CPU) amABX() {
	lo := uint16(c.bus.Read(c.Reg.PC))
	c.Reg.PC++
	hi := uint16(c.bus.Read(c.Reg.PC))
	c.Reg.PC++
	base := lo | hi<<8
	c.addrAbs = base + uint16(c.Reg.X)
	c.pageCrossed = (c.addrAbs & 0xFF00) != (base & 0xFF00)
}

func (c *CPU) amABY() {
	lo := uint16(c.bus.Read(c.Reg.PC))
	c.Reg.PC++
	hi := uint16(c.bus.Read(c.Reg.PC))
	c.Reg.PC++
	base := lo | hi<<8
	c.addrAbs = base + uint16(c.Reg.Y)
	c.pageCrossed = (c.addrAbs & 0xFF00) != (base & 0xFF00)
}

// amIND implements the indirect mode used only by JMP, including its
// famous page-boundary-wrap hardware bug: when the low byte of the pointer
// is $FF, the high byte is fetched from the start of the same page rather
// than the next page.
func (c *CPU) amIND() {
	ptrLo := uint16(c.bus.Read(c.Reg.PC))
	c.Reg.PC++
	ptrHi := uint16(c.bus.Read(c.Reg.PC))
	c.Reg.PC++
	ptr := ptrLo | ptrHi<<8

	var hiAddr uint16
	if ptrLo == 0x00FF {
		hiAddr = ptr & 0xFF00
	} else {
		hiAddr = ptr + 1
	}
	lo := uint16(c.bus.Read(ptr))
	hi := uint16(c.bus.Read(hiAddr))
	c.addrAbs = lo | hi<<8
}

func (c *CPU) amIZX() {
	base := c.bus.Read(c.Reg.PC)
	c.Reg.PC++
	ptr := uint16(base + c.Reg.X)
	lo := uint16(c.bus.Read(ptr & 0x00FF))
	hi := uint16(c.bus.Read((ptr + 1) & 0x00FF))
	c.addrAbs = lo | hi<<8
}

func (c *CPU) amIZY() {
	base := c.bus.Read(c.Reg.PC)
	c.Reg.PC++
	lo := uint16(c.bus.Read(uint16(base)))
	hi := uint16(c.bus.Read(uint16(base+1) & 0x00FF))
	ptr := lo | hi<<8
	c.addrAbs = ptr + uint16(c.Reg.Y)
	c.pageCrossed = (c.addrAbs & 0xFF00) != (ptr & 0xFF00)
}

// amREL resolves a branch's signed 8-bit relative offset into addrAbs,
// relative to the address of the instruction following the branch.
func (c *CPU) amREL() {
	offset := uint16(c.bus.Read(c.Reg.PC))
	c.Reg.PC++
	if offset&0x80 != 0 {
		offset |= 0xFF00
	}
	c.addrRel = offset
	c.addrAbs = c.Reg.PC + offset
}
