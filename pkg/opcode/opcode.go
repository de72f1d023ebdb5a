// Package opcode defines the instruction set for the pebble virtual machine.
// This package is the foundation that the code generator, the VM and the
// 6502 linker all depend on. The generator emits these opcodes, the VM
// executes them and the linker renumbers them into routine indices.
package opcode

import "fmt"

// Opcode is a single instruction byte.
type Opcode byte

// Instruction set. Multi-byte operands are little-endian.
const (
	// End stops execution.
	End Opcode = iota

	// LoadNumber pushes a literal of arbitrary width.
	// Operands: [size, bytes...]
	LoadNumber
	// LoadByte pushes a one byte literal.
	// Operands: [value]
	LoadByte

	// Comparisons pop two operands and push 255 (true) or 0 (false).
	// Operands: [size]
	Equals
	NotEquals
	LessThan
	GreaterThan
	EqualsByte
	NotEqualsByte
	LessThanByte
	GreaterThanByte

	// Arithmetic pops two operands and pushes a result of the same size.
	// Operands: [size]
	Add
	Subtract
	Multiply
	Divide
	AddByte
	SubtractByte
	MultiplyByte
	DivideByte

	// LogicalAnd and LogicalOr combine two truth bytes.
	LogicalAnd
	LogicalOr
	// LogicalNot turns 0 into 255 and anything else into 0.
	LogicalNot
	// Minus negates a two's complement value.
	// Operands: [size]
	Minus
	// BitwiseNot inverts every bit of a value.
	// Operands: [size]
	BitwiseNot
	// Bitwise operations take the size of the second operand.
	// Operands: [size1, size2]
	BitwiseAnd
	BitwiseOr
	BitwiseXor
	// Shifts take a one byte amount.
	// Operands: [size]
	LeftShift
	RightShift

	// Short branches measure their distance from the branch opcode.
	// Operands: [distance]
	BranchForwardIfFalse
	BranchForward
	BranchBackward
	// Long branches carry an absolute address.
	// Operands: [addr lo, addr hi]
	Jump
	JumpIfFalse

	// Variable access relative to the frame or the globals base.
	// Operands: [offset, size]
	LoadLocal
	LoadGlobal
	AssignLocal
	AssignGlobal
	// Operands: [offset]
	LoadLocalByte
	LoadGlobalByte
	AssignLocalByte
	AssignGlobalByte
	// Operands: [offset]
	LocalAddress
	GlobalAddress

	// LoadIndexed pops an index and a base address and pushes an element.
	// Operands: [element size, index size]
	LoadIndexed
	// StoreIndexed pops a value, an index and a base address.
	// Operands: [element size, index size]
	StoreIndexed
	// LoadMemory pops an address and pushes size bytes read from it.
	// Operands: [size]
	LoadMemory
	// StoreMemory pops an address and a value and writes the value.
	// Operands: [size]
	StoreMemory

	// FunctionCall pushes the return address on the call stack.
	// Operands: [addr lo, addr hi]
	FunctionCall
	FunctionReturn
	// LoadCurrentFrameAddress pushes the frame pointer.
	LoadCurrentFrameAddress
	// StoreStackTopInCurrentFrame sets the frame pointer to SP minus the
	// parameter size.
	// Operands: [parameter size]
	StoreStackTopInCurrentFrame
	// PopCurrentFrameAddress restores the frame pointer from the stack.
	PopCurrentFrameAddress
	// Operands: [size]
	AllocateStackSpace
	FreeStackSpace
	// CopyValue moves a value from above the frame down to the stack top.
	// Operands: [offset, size]
	CopyValue
	// SystemCall pops an argument block (address, A, X, Y) and pushes A.
	// Operands: [argument size]
	SystemCall

	count
)

// Kind describes how an operand is laid out in the byte stream.
type Kind int

const (
	U8     Kind = iota // one unsigned byte
	Rel8               // one byte branch distance
	Addr16             // two byte absolute address
	Sized              // a size byte followed by that many bytes
)

// Info describes an opcode.
type Info struct {
	Name     string
	Operands []Kind
}

var table = [count]Info{
	End:                         {"end", nil},
	LoadNumber:                  {"load_number", []Kind{Sized}},
	LoadByte:                    {"load_byte", []Kind{U8}},
	Equals:                      {"compare_equals", []Kind{U8}},
	NotEquals:                   {"compare_not_equals", []Kind{U8}},
	LessThan:                    {"compare_less_than", []Kind{U8}},
	GreaterThan:                 {"compare_greater_than", []Kind{U8}},
	EqualsByte:                  {"compare_equals_byte", nil},
	NotEqualsByte:               {"compare_not_equals_byte", nil},
	LessThanByte:                {"compare_less_than_byte", nil},
	GreaterThanByte:             {"compare_greater_than_byte", nil},
	Add:                         {"add", []Kind{U8}},
	Subtract:                    {"subtract", []Kind{U8}},
	Multiply:                    {"multiply", []Kind{U8}},
	Divide:                      {"divide", []Kind{U8}},
	AddByte:                     {"add_byte", nil},
	SubtractByte:                {"subtract_byte", nil},
	MultiplyByte:                {"multiply_byte", nil},
	DivideByte:                  {"divide_byte", nil},
	LogicalAnd:                  {"logical_and", nil},
	LogicalOr:                   {"logical_or", nil},
	LogicalNot:                  {"logical_not", nil},
	Minus:                       {"minus", []Kind{U8}},
	BitwiseNot:                  {"bitwise_not", []Kind{U8}},
	BitwiseAnd:                  {"bitwise_and", []Kind{U8, U8}},
	BitwiseOr:                   {"bitwise_or", []Kind{U8, U8}},
	BitwiseXor:                  {"bitwise_eor", []Kind{U8, U8}},
	LeftShift:                   {"left_shift", []Kind{U8}},
	RightShift:                  {"right_shift", []Kind{U8}},
	BranchForwardIfFalse:        {"branch_forward_if_false", []Kind{Rel8}},
	BranchForward:               {"branch_forward", []Kind{Rel8}},
	BranchBackward:              {"branch_backward", []Kind{Rel8}},
	Jump:                        {"jump", []Kind{Addr16}},
	JumpIfFalse:                 {"jump_if_false", []Kind{Addr16}},
	LoadLocal:                   {"load_local", []Kind{U8, U8}},
	LoadGlobal:                  {"load_global", []Kind{U8, U8}},
	AssignLocal:                 {"assign_local", []Kind{U8, U8}},
	AssignGlobal:                {"assign_global", []Kind{U8, U8}},
	LoadLocalByte:               {"load_local_byte", []Kind{U8}},
	LoadGlobalByte:              {"load_global_byte", []Kind{U8}},
	AssignLocalByte:             {"assign_local_byte", []Kind{U8}},
	AssignGlobalByte:            {"assign_global_byte", []Kind{U8}},
	LocalAddress:                {"local_address", []Kind{U8}},
	GlobalAddress:               {"global_address", []Kind{U8}},
	LoadIndexed:                 {"load_indexed", []Kind{U8, U8}},
	StoreIndexed:                {"store_indexed", []Kind{U8, U8}},
	LoadMemory:                  {"load_memory", []Kind{U8}},
	StoreMemory:                 {"store_memory", []Kind{U8}},
	FunctionCall:                {"function_call", []Kind{Addr16}},
	FunctionReturn:              {"function_return", nil},
	LoadCurrentFrameAddress:     {"load_current_frame_address", nil},
	StoreStackTopInCurrentFrame: {"store_stack_top_in_current_frame", []Kind{U8}},
	PopCurrentFrameAddress:      {"pop_current_frame_address", nil},
	AllocateStackSpace:          {"allocate_stack_space", []Kind{U8}},
	FreeStackSpace:              {"free_stack_space", []Kind{U8}},
	CopyValue:                   {"copy_value", []Kind{U8, U8}},
	SystemCall:                  {"system_call", []Kind{U8}},
}

// Count is the number of defined opcodes.
const Count = int(count)

// Valid reports whether op is a defined opcode.
func (op Opcode) Valid() bool {
	return int(op) < Count
}

// Info returns the layout of op.
func (op Opcode) Info() (Info, bool) {
	if !op.Valid() {
		return Info{}, false
	}
	return table[op], true
}

// String returns the routine name of op.
func (op Opcode) String() string {
	if !op.Valid() {
		return fmt.Sprintf("opcode(%d)", byte(op))
	}
	return table[op].Name
}

// Lookup finds an opcode by its routine name.
func Lookup(name string) (Opcode, bool) {
	for i, info := range table {
		if info.Name == name {
			return Opcode(i), true
		}
	}
	return 0, false
}

// Length returns the encoded length of the instruction at pc, opcode
// byte included.
func Length(code []byte, pc int) (int, error) {
	if pc < 0 || pc >= len(code) {
		return 0, fmt.Errorf("instruction at %d is outside the code", pc)
	}
	op := Opcode(code[pc])
	info, ok := op.Info()
	if !ok {
		return 0, fmt.Errorf("unknown opcode %d at %d", code[pc], pc)
	}
	n := 1
	for _, k := range info.Operands {
		switch k {
		case U8, Rel8:
			n++
		case Addr16:
			n += 2
		case Sized:
			if pc+n >= len(code) {
				return 0, fmt.Errorf("truncated %s at %d", op, pc)
			}
			n += 1 + int(code[pc+n])
		}
	}
	if pc+n > len(code) {
		return 0, fmt.Errorf("truncated %s at %d", op, pc)
	}
	return n, nil
}
