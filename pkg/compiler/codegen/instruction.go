package codegen

import "github.com/zurustar/pebble/pkg/opcode"

// Instruction is one entry of the generator's buffer. The concrete types
// below form a closed set; placeholders (Branch without a target, Exit,
// unresolved Reserve) must be patched before the buffer is assembled.
type Instruction interface {
	instruction()
}

// Op is a fully encoded opcode with its operand bytes.
type Op struct {
	Code opcode.Opcode
	Args []byte
}

// Literal pushes a constant. One byte values use LoadByte.
type Literal struct {
	Value []byte
}

// Branch transfers control to the instruction at Target. Target is -1
// until patched. The encoding (short relative or long absolute) is
// chosen during assembly.
type Branch struct {
	IfFalse bool
	Target  int

	long bool
}

// Exit is a return statement waiting for the function's tail address.
type Exit struct{}

// Call invokes the function whose prologue is at instruction Entry.
type Call struct {
	Entry int
}

// Reserve allocates stack space whose size is known only later.
type Reserve struct {
	Size     int
	Resolved bool
}

func (*Op) instruction()      {}
func (*Literal) instruction() {}
func (*Branch) instruction()  {}
func (*Exit) instruction()    {}
func (*Call) instruction()    {}
func (*Reserve) instruction() {}
