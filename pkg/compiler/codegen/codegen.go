// Package codegen builds the instruction buffer for a program and
// assembles it into a byte image. The parser drives the generator one
// production at a time; placeholders for branches, returns and stack
// reservations are patched as their targets become known.
package codegen

import (
	"errors"
	"fmt"

	"github.com/zurustar/pebble/pkg/opcode"
)

// ErrUnresolved is returned by Assemble when a placeholder was never
// patched.
var ErrUnresolved = errors.New("unresolved placeholder")

// Image is an assembled program.
type Image struct {
	Code  []byte
	Base  uint16 // load address of Code[0]
	Start uint16 // address execution begins at
}

// End returns the first address after the code.
func (img *Image) End() int {
	return int(img.Base) + len(img.Code)
}

// Generator converts parser actions into instructions.
type Generator struct {
	code  []Instruction
	start int
	addrs []int

	err   error
	errAt int // instruction index the error was recorded at
}

// New creates a new code generator.
func New() *Generator {
	return &Generator{start: -1}
}

// Mark returns a rollback point for speculative parsing.
func (g *Generator) Mark() int {
	return len(g.code)
}

// Truncate discards every instruction emitted after mark.
func (g *Generator) Truncate(mark int) {
	if mark < len(g.code) {
		clear(g.code[mark:])
		g.code = g.code[:mark]
	}
	if g.err != nil && g.errAt >= mark {
		g.err = nil
	}
}

func (g *Generator) fail(err error) {
	if g.err == nil {
		g.err = err
		g.errAt = len(g.code)
	}
}

func (g *Generator) add(ins Instruction) int {
	g.code = append(g.code, ins)
	return len(g.code) - 1
}

// emit appends an opcode, recording an error if an operand does not fit
// in a byte.
func (g *Generator) emit(op opcode.Opcode, args ...int) {
	b := make([]byte, len(args))
	for i, a := range args {
		if a < 0 || a > 0xff {
			g.fail(fmt.Errorf("%s operand %d out of range", op, a))
		}
		b[i] = byte(a)
	}
	g.add(&Op{Code: op, Args: b})
}

// Err returns the first operand range error, if any.
func (g *Generator) Err() error {
	return g.err
}

// LoadLiteral pushes a little-endian constant.
func (g *Generator) LoadLiteral(value []byte) {
	if len(value) > 0xff {
		g.fail(fmt.Errorf("literal of %d bytes is too long", len(value)))
	}
	g.add(&Literal{Value: append([]byte(nil), value...)})
}

// LoadVariable pushes a local (frame relative) or global variable.
func (g *Generator) LoadVariable(local bool, offset, size int) {
	switch {
	case local && size == 1:
		g.emit(opcode.LoadLocalByte, offset)
	case local:
		g.emit(opcode.LoadLocal, offset, size)
	case size == 1:
		g.emit(opcode.LoadGlobalByte, offset)
	default:
		g.emit(opcode.LoadGlobal, offset, size)
	}
}

// StoreVariable pops a value into a local or global variable.
func (g *Generator) StoreVariable(local bool, offset, size int) {
	switch {
	case local && size == 1:
		g.emit(opcode.AssignLocalByte, offset)
	case local:
		g.emit(opcode.AssignLocal, offset, size)
	case size == 1:
		g.emit(opcode.AssignGlobalByte, offset)
	default:
		g.emit(opcode.AssignGlobal, offset, size)
	}
}

// Address pushes the address of a local or global variable.
func (g *Generator) Address(local bool, offset int) {
	if local {
		g.emit(opcode.LocalAddress, offset)
	} else {
		g.emit(opcode.GlobalAddress, offset)
	}
}

// LoadIndexed replaces an address and an index with an element.
func (g *Generator) LoadIndexed(elementSize, indexSize int) {
	g.emit(opcode.LoadIndexed, elementSize, indexSize)
}

// StoreIndexed pops a value, an index and an address and stores the
// element.
func (g *Generator) StoreIndexed(elementSize, indexSize int) {
	g.emit(opcode.StoreIndexed, elementSize, indexSize)
}

// LoadMemory replaces an address with the size bytes stored there.
func (g *Generator) LoadMemory(size int) {
	g.emit(opcode.LoadMemory, size)
}

// StoreMemory pops an address and a value of the given size.
func (g *Generator) StoreMemory(size int) {
	g.emit(opcode.StoreMemory, size)
}

var sizedOps = map[string][2]opcode.Opcode{
	"==": {opcode.Equals, opcode.EqualsByte},
	"!=": {opcode.NotEquals, opcode.NotEqualsByte},
	"<":  {opcode.LessThan, opcode.LessThanByte},
	">":  {opcode.GreaterThan, opcode.GreaterThanByte},
	"+":  {opcode.Add, opcode.AddByte},
	"-":  {opcode.Subtract, opcode.SubtractByte},
	"*":  {opcode.Multiply, opcode.MultiplyByte},
	"/":  {opcode.Divide, opcode.DivideByte},
}

// BinaryOp combines the two values on top of the stack. Operand sizes
// must already have been checked.
func (g *Generator) BinaryOp(op string, leftSize, rightSize int) error {
	if pair, ok := sizedOps[op]; ok {
		if leftSize == 1 {
			g.emit(pair[1])
		} else {
			g.emit(pair[0], leftSize)
		}
		return nil
	}
	switch op {
	case "and":
		g.emit(opcode.LogicalAnd)
	case "or":
		g.emit(opcode.LogicalOr)
	case "&":
		g.emit(opcode.BitwiseAnd, leftSize, rightSize)
	case "|":
		g.emit(opcode.BitwiseOr, leftSize, rightSize)
	case "^":
		g.emit(opcode.BitwiseXor, leftSize, rightSize)
	case "<<":
		g.emit(opcode.LeftShift, leftSize)
	case ">>":
		g.emit(opcode.RightShift, leftSize)
	default:
		return fmt.Errorf("unknown operator %s", op)
	}
	return nil
}

// UnaryOp applies not, - or ~ to the value on top of the stack.
func (g *Generator) UnaryOp(op string, size int) error {
	switch op {
	case "not":
		g.emit(opcode.LogicalNot)
	case "-":
		g.emit(opcode.Minus, size)
	case "~":
		g.emit(opcode.BitwiseNot, size)
	default:
		return fmt.Errorf("unknown unary operator %s", op)
	}
	return nil
}

// Discard drops an unused value.
func (g *Generator) Discard(size int) {
	if size > 0 {
		g.emit(opcode.FreeStackSpace, size)
	}
}

// If emits a conditional branch taken when the condition byte is false
// and returns its placeholder.
func (g *Generator) If() int {
	return g.add(&Branch{IfFalse: true, Target: -1})
}

// Else emits the branch that skips the else block and returns its
// placeholder. The caller then patches the if placeholder.
func (g *Generator) Else() int {
	return g.add(&Branch{Target: -1})
}

// While marks the head of a loop. The condition is emitted next.
func (g *Generator) While() int {
	return len(g.code)
}

// EndWhile closes a loop started at head whose exit placeholder is exit.
func (g *Generator) EndWhile(head, exit int) {
	g.BranchTo(head)
	g.Target(exit)
}

// BranchTo emits an unconditional branch to a known instruction.
func (g *Generator) BranchTo(target int) {
	g.add(&Branch{Target: target})
}

// Target points placeholder i at the next instruction to be emitted.
// Patching twice is a programming error.
func (g *Generator) Target(i int) {
	b, ok := g.code[i].(*Branch)
	if !ok {
		panic(fmt.Sprintf("codegen: instruction %d is not a branch", i))
	}
	if b.Target >= 0 {
		panic(fmt.Sprintf("codegen: branch %d already patched", i))
	}
	b.Target = len(g.code)
}

// Return emits an exit placeholder for a return statement.
func (g *Generator) Return() {
	g.add(&Exit{})
}

// FixReturns turns every exit placeholder emitted since start into a
// branch to the next instruction, which is the function's tail.
func (g *Generator) FixReturns(start int) {
	tail := len(g.code)
	for i := start; i < tail; i++ {
		if _, ok := g.code[i].(*Exit); ok {
			g.code[i] = &Branch{Target: tail}
		}
	}
}

// Reserve emits a stack allocation whose size is patched later.
func (g *Generator) Reserve() int {
	return g.add(&Reserve{})
}

// PatchReserve sets the size of a reservation.
func (g *Generator) PatchReserve(i, size int) {
	r, ok := g.code[i].(*Reserve)
	if !ok {
		panic(fmt.Sprintf("codegen: instruction %d is not a reservation", i))
	}
	if r.Resolved {
		panic(fmt.Sprintf("codegen: reservation %d already patched", i))
	}
	if size < 0 || size > 0xff {
		g.fail(fmt.Errorf("stack reservation of %d bytes out of range", size))
	}
	r.Size = size
	r.Resolved = true
}

// Prologue starts a function body. The frame pointer is set to the first
// parameter and space for locals is reserved; the returned placeholder
// receives the locals size once the body is complete.
func (g *Generator) Prologue(paramSize int) (entry, reserve int) {
	entry = len(g.code)
	g.emit(opcode.StoreStackTopInCurrentFrame, paramSize)
	reserve = g.Reserve()
	return entry, reserve
}

// Epilogue tears the frame down and leaves the return value where the
// caller's saved frame pointer was.
func (g *Generator) Epilogue(paramSize, localSize, returnSize int) {
	g.emit(opcode.FreeStackSpace, paramSize+localSize+returnSize)
	g.emit(opcode.PopCurrentFrameAddress)
	if returnSize > 0 {
		g.emit(opcode.CopyValue, paramSize+localSize, returnSize)
	}
	g.emit(opcode.FunctionReturn)
}

// PushFrame saves the caller's frame pointer before arguments are pushed.
func (g *Generator) PushFrame() {
	g.emit(opcode.LoadCurrentFrameAddress)
}

// Call emits a call to the function whose prologue is at entry.
func (g *Generator) Call(entry int) {
	g.add(&Call{Entry: entry})
}

// SystemCall pops an argument block of the given size and pushes A.
func (g *Generator) SystemCall(argSize int) {
	g.emit(opcode.SystemCall, argSize)
}

// SetStart marks instruction i as the program entry point.
func (g *Generator) SetStart(i int) {
	g.start = i
}

// End stops the program.
func (g *Generator) End() {
	g.emit(opcode.End)
}
