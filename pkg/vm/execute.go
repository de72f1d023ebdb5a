package vm

import (
	"fmt"

	"github.com/zurustar/pebble/pkg/opcode"
)

// step executes one instruction. It returns false after End.
func (m *Machine) step() bool {
	at := m.pc
	m.cur = at
	op := opcode.Opcode(m.fetch(at))

	if m.trace {
		m.log.Debug("Step", "pc", fmt.Sprintf("%#04x", at), "op", op.String(),
			"sp", fmt.Sprintf("%#04x", m.sp), "fp", fmt.Sprintf("%#04x", m.fp))
	}

	switch op {
	case opcode.End:
		return false

	case opcode.LoadNumber:
		n := int(m.fetch(at))
		m.push(m.read(at, m.pc, n)...)
		m.pc += n
	case opcode.LoadByte:
		m.push(m.fetch(at))

	case opcode.Equals, opcode.NotEquals, opcode.LessThan, opcode.GreaterThan:
		m.compare(at, op, int(m.fetch(at)))
	case opcode.EqualsByte:
		m.compare(at, opcode.Equals, 1)
	case opcode.NotEqualsByte:
		m.compare(at, opcode.NotEquals, 1)
	case opcode.LessThanByte:
		m.compare(at, opcode.LessThan, 1)
	case opcode.GreaterThanByte:
		m.compare(at, opcode.GreaterThan, 1)

	case opcode.Add, opcode.Subtract, opcode.Multiply, opcode.Divide:
		m.arithmetic(at, op, int(m.fetch(at)))
	case opcode.AddByte:
		m.arithmetic(at, opcode.Add, 1)
	case opcode.SubtractByte:
		m.arithmetic(at, opcode.Subtract, 1)
	case opcode.MultiplyByte:
		m.arithmetic(at, opcode.Multiply, 1)
	case opcode.DivideByte:
		m.arithmetic(at, opcode.Divide, 1)

	case opcode.LogicalAnd:
		b := m.pop(at, 1)[0]
		a := m.pop(at, 1)[0]
		m.push(truth(a != 0 && b != 0))
	case opcode.LogicalOr:
		b := m.pop(at, 1)[0]
		a := m.pop(at, 1)[0]
		m.push(truth(a != 0 || b != 0))
	case opcode.LogicalNot:
		a := m.pop(at, 1)[0]
		m.push(truth(a == 0))
	case opcode.Minus:
		negate(m.top(at, int(m.fetch(at))))
	case opcode.BitwiseNot:
		invert(m.top(at, int(m.fetch(at))))
	case opcode.BitwiseAnd, opcode.BitwiseOr, opcode.BitwiseXor:
		left := int(m.fetch(at))
		right := int(m.fetch(at))
		m.bitwise(at, op, left, right)
	case opcode.LeftShift, opcode.RightShift:
		size := int(m.fetch(at))
		amount := int(m.pop(at, 1)[0])
		v := m.top(at, size)
		if op == opcode.LeftShift {
			shiftLeft(v, amount)
		} else {
			shiftRight(v, amount)
		}

	case opcode.BranchForwardIfFalse:
		d := int(m.fetch(at))
		if m.pop(at, 1)[0] == 0 {
			m.jump(at, at+d)
		}
	case opcode.BranchForward:
		m.jump(at, at+int(m.fetch(at)))
	case opcode.BranchBackward:
		m.jump(at, at-int(m.fetch(at)))
	case opcode.Jump:
		m.jump(at, m.fetchAddress(at))
	case opcode.JumpIfFalse:
		target := m.fetchAddress(at)
		if m.pop(at, 1)[0] == 0 {
			m.jump(at, target)
		}

	case opcode.LoadLocal:
		off, size := int(m.fetch(at)), int(m.fetch(at))
		m.push(m.frame(at, m.fp+off, size)...)
	case opcode.LoadGlobal:
		off, size := int(m.fetch(at)), int(m.fetch(at))
		m.push(m.frame(at, m.stackBase+off, size)...)
	case opcode.AssignLocal:
		off, size := int(m.fetch(at)), int(m.fetch(at))
		m.assign(at, m.fp+off, size)
	case opcode.AssignGlobal:
		off, size := int(m.fetch(at)), int(m.fetch(at))
		m.assign(at, m.stackBase+off, size)
	case opcode.LoadLocalByte:
		m.push(m.frame(at, m.fp+int(m.fetch(at)), 1)...)
	case opcode.LoadGlobalByte:
		m.push(m.frame(at, m.stackBase+int(m.fetch(at)), 1)...)
	case opcode.AssignLocalByte:
		m.assign(at, m.fp+int(m.fetch(at)), 1)
	case opcode.AssignGlobalByte:
		m.assign(at, m.stackBase+int(m.fetch(at)), 1)
	case opcode.LocalAddress:
		m.pushAddress(m.fp + int(m.fetch(at)))
	case opcode.GlobalAddress:
		m.pushAddress(m.stackBase + int(m.fetch(at)))

	case opcode.LoadIndexed:
		elem, idxSize := int(m.fetch(at)), int(m.fetch(at))
		idx := m.popNumber(at, idxSize)
		base := m.popNumber(at, addressSize)
		m.push(m.read(at, base+idx*elem, elem)...)
	case opcode.StoreIndexed:
		elem, idxSize := int(m.fetch(at)), int(m.fetch(at))
		v := append([]byte{}, m.pop(at, elem)...)
		idx := m.popNumber(at, idxSize)
		base := m.popNumber(at, addressSize)
		m.write(at, base+idx*elem, v)
	case opcode.LoadMemory:
		size := int(m.fetch(at))
		addr := m.popNumber(at, addressSize)
		m.push(m.read(at, addr, size)...)
	case opcode.StoreMemory:
		size := int(m.fetch(at))
		addr := m.popNumber(at, addressSize)
		v := append([]byte{}, m.pop(at, size)...)
		m.write(at, addr, v)

	case opcode.FunctionCall:
		target := m.fetchAddress(at)
		m.pushReturn(at, m.pc)
		m.jump(at, target)
	case opcode.FunctionReturn:
		m.jump(at, m.popReturn(at))
	case opcode.LoadCurrentFrameAddress:
		m.pushAddress(m.fp)
	case opcode.StoreStackTopInCurrentFrame:
		p := int(m.fetch(at))
		if m.sp-p < m.stackBase {
			m.fail(NewStackUnderflowError(at, p, m.sp-m.stackBase))
		}
		m.fp = m.sp - p
	case opcode.PopCurrentFrameAddress:
		m.fp = m.popNumber(at, addressSize)
	case opcode.AllocateStackSpace:
		m.allocate(at, int(m.fetch(at)))
	case opcode.FreeStackSpace:
		m.pop(at, int(m.fetch(at)))
	case opcode.CopyValue:
		off, size := int(m.fetch(at)), int(m.fetch(at))
		src := m.sp + off + addressSize
		v := append([]byte{}, m.frame(at, src, size)...)
		m.push(v...)
	case opcode.SystemCall:
		m.systemCall(at, int(m.fetch(at)))

	default:
		m.fail(NewUnknownOpcodeError(at, byte(op)))
	}
	return true
}

// fetch reads the byte at pc and advances it.
func (m *Machine) fetch(at int) byte {
	if m.pc >= MemorySize {
		m.fail(NewInvalidAddressError(at, m.pc, 1))
	}
	b := m.mem[m.pc]
	m.pc++
	return b
}

func (m *Machine) fetchAddress(at int) int {
	lo := m.fetch(at)
	hi := m.fetch(at)
	return int(lo) | int(hi)<<8
}

func (m *Machine) jump(at, target int) {
	if target < 0 || target >= MemorySize {
		m.fail(NewInvalidAddressError(at, target, 1))
	}
	m.pc = target
}

// read returns a view of memory. It must be copied before the stack
// grows over it.
func (m *Machine) read(at, addr, n int) []byte {
	if addr < 0 || addr+n > MemorySize {
		m.fail(NewInvalidAddressError(at, addr, n))
	}
	return m.mem[addr : addr+n]
}

func (m *Machine) write(at, addr int, v []byte) {
	copy(m.read(at, addr, len(v)), v)
}

// frame returns a view of n bytes inside the value stack region.
func (m *Machine) frame(at, addr, n int) []byte {
	if addr < m.stackBase || addr+n > m.stackLimit {
		m.fail(NewInvalidAddressError(at, addr, n))
	}
	return m.mem[addr : addr+n]
}

func (m *Machine) allocate(at, n int) []byte {
	if m.sp+n > m.stackLimit {
		m.fail(NewStackOverflowError(at, n, m.stackLimit))
	}
	v := m.mem[m.sp : m.sp+n]
	m.sp += n
	return v
}

func (m *Machine) push(v ...byte) {
	copy(m.allocate(m.cur, len(v)), v)
}

func (m *Machine) pushAddress(addr int) {
	m.push(byte(addr), byte(addr>>8))
}

// pop removes n bytes and returns a view of them.
func (m *Machine) pop(at, n int) []byte {
	if m.sp-n < m.stackBase {
		m.fail(NewStackUnderflowError(at, n, m.sp-m.stackBase))
	}
	m.sp -= n
	return m.mem[m.sp : m.sp+n]
}

// top returns a view of the n bytes on top of the stack.
func (m *Machine) top(at, n int) []byte {
	if m.sp-n < m.stackBase {
		m.fail(NewStackUnderflowError(at, n, m.sp-m.stackBase))
	}
	return m.mem[m.sp-n : m.sp]
}

func (m *Machine) popNumber(at, n int) int {
	v := 0
	for i, b := range m.pop(at, n) {
		v |= int(b) << (8 * i)
	}
	return v
}

func (m *Machine) assign(at, addr, n int) {
	v := append([]byte{}, m.pop(at, n)...)
	copy(m.frame(at, addr, n), v)
}

func (m *Machine) pushReturn(at, addr int) {
	if m.rsp >= m.callDepth {
		m.fail(&RuntimeError{
			Type:    ErrorCallDepth,
			Message: fmt.Sprintf("more than %d nested calls", m.callDepth),
			PC:      at,
		})
	}
	p := m.rstackBase + m.rsp*addressSize
	m.mem[p] = byte(addr)
	m.mem[p+1] = byte(addr >> 8)
	m.rsp++
}

func (m *Machine) popReturn(at int) int {
	if m.rsp == 0 {
		m.fail(&RuntimeError{Type: ErrorReturnUnderflow, Message: "return without a call", PC: at})
	}
	m.rsp--
	p := m.rstackBase + m.rsp*addressSize
	return int(m.mem[p]) | int(m.mem[p+1])<<8
}

// compare replaces two values of the given size with a truth byte.
func (m *Machine) compare(at int, op opcode.Opcode, size int) {
	b := m.pop(at, size)
	a := m.pop(at, size)
	var r bool
	switch op {
	case opcode.Equals:
		r = equal(a, b)
	case opcode.NotEquals:
		r = !equal(a, b)
	case opcode.LessThan:
		r = less(a, b)
	case opcode.GreaterThan:
		r = less(b, a)
	}
	m.push(truth(r))
}

// arithmetic replaces two values of the given size with their result.
func (m *Machine) arithmetic(at int, op opcode.Opcode, size int) {
	b := m.pop(at, size)
	a := m.top(at, size)
	switch op {
	case opcode.Add:
		add(a, b)
	case opcode.Subtract:
		subtract(a, b)
	case opcode.Multiply:
		multiply(a, b)
	case opcode.Divide:
		if !divide(a, b) {
			m.fail(NewDivisionByZeroError(at))
		}
	}
}

// bitwise combines a left value with a right value; the result takes the
// right value's size and the left value is zero extended or truncated.
func (m *Machine) bitwise(at int, op opcode.Opcode, left, right int) {
	b := append([]byte{}, m.pop(at, right)...)
	a := m.pop(at, left)
	r := make([]byte, right)
	for i := range r {
		var x byte
		if i < len(a) {
			x = a[i]
		}
		switch op {
		case opcode.BitwiseAnd:
			r[i] = x & b[i]
		case opcode.BitwiseOr:
			r[i] = x | b[i]
		case opcode.BitwiseXor:
			r[i] = x ^ b[i]
		}
	}
	m.push(r...)
}

// systemCall pops an argument block of an address followed by up to three
// register bytes and pushes the returned A.
func (m *Machine) systemCall(at, size int) {
	if size < addressSize {
		m.fail(&RuntimeError{
			Type:    ErrorSystemCall,
			Message: fmt.Sprintf("argument block of %d bytes has no address", size),
			PC:      at,
		})
	}
	block := append([]byte{}, m.pop(at, size)...)
	addr := uint16(block[0]) | uint16(block[1])<<8
	var regs Registers
	for i, r := range []*byte{&regs.A, &regs.X, &regs.Y} {
		if addressSize+i < len(block) {
			*r = block[addressSize+i]
		}
	}

	a, err := m.syscalls.Syscall(addr, regs)
	if err != nil {
		m.fail(&RuntimeError{
			Type:    ErrorSystemCall,
			Message: fmt.Sprintf("system call %#04x: %v", addr, err),
			PC:      at,
			Err:     err,
		})
	}
	m.log.Debug("System call", "addr", fmt.Sprintf("%#04x", addr), "a", regs.A, "x", regs.X, "y", regs.Y, "result", a)
	m.push(a)
}
