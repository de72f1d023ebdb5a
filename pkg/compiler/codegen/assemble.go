package codegen

import (
	"fmt"

	"github.com/zurustar/pebble/pkg/opcode"
)

const (
	shortBranchLen = 2
	longBranchLen  = 3
)

// Assemble lays the instructions out at base and encodes them. Branches
// start in their short form and are widened until every distance fits.
func (g *Generator) Assemble(base uint16) (*Image, error) {
	if g.err != nil {
		return nil, g.err
	}
	if g.start < 0 {
		return nil, fmt.Errorf("%w: program start not set", ErrUnresolved)
	}

	for i, ins := range g.code {
		switch ins := ins.(type) {
		case *Branch:
			if ins.Target < 0 {
				return nil, fmt.Errorf("%w: branch at instruction %d", ErrUnresolved, i)
			}
			// A conditional branch has no short backward form.
			ins.long = ins.IfFalse && ins.Target <= i
		case *Exit:
			return nil, fmt.Errorf("%w: return at instruction %d", ErrUnresolved, i)
		case *Reserve:
			if !ins.Resolved {
				return nil, fmt.Errorf("%w: stack reservation at instruction %d", ErrUnresolved, i)
			}
		case *Call:
			if ins.Entry < 0 || ins.Entry >= len(g.code) {
				return nil, fmt.Errorf("%w: call at instruction %d", ErrUnresolved, i)
			}
		}
	}

	addrs := make([]int, len(g.code)+1)
	for {
		addr := int(base)
		for i, ins := range g.code {
			addrs[i] = addr
			addr += encodedLen(ins)
		}
		addrs[len(g.code)] = addr
		if addr > 0x10000 {
			return nil, fmt.Errorf("program of %d bytes does not fit at %#04x", addr-int(base), base)
		}

		widened := false
		for i, ins := range g.code {
			b, ok := ins.(*Branch)
			if !ok || b.long {
				continue
			}
			d := addrs[b.Target] - addrs[i]
			if d < 0 {
				d = -d
			}
			if d > 0xff {
				b.long = true
				widened = true
			}
		}
		if !widened {
			break
		}
	}
	g.addrs = addrs

	code := make([]byte, 0, addrs[len(g.code)]-int(base))
	for i, ins := range g.code {
		code = encode(code, ins, i, addrs)
	}
	return &Image{
		Code:  code,
		Base:  base,
		Start: uint16(addrs[g.start]),
	}, nil
}

// InstructionAddress returns the absolute address of instruction i after Assemble.
func (g *Generator) InstructionAddress(i int) uint16 {
	return uint16(g.addrs[i])
}

func encodedLen(ins Instruction) int {
	switch ins := ins.(type) {
	case *Op:
		return 1 + len(ins.Args)
	case *Literal:
		if len(ins.Value) == 1 {
			return 2
		}
		return 2 + len(ins.Value)
	case *Branch:
		if ins.long {
			return longBranchLen
		}
		return shortBranchLen
	case *Call:
		return 3
	case *Reserve:
		return 2
	}
	return 0
}

func encode(code []byte, ins Instruction, i int, addrs []int) []byte {
	switch ins := ins.(type) {
	case *Op:
		code = append(code, byte(ins.Code))
		code = append(code, ins.Args...)
	case *Literal:
		if len(ins.Value) == 1 {
			return append(code, byte(opcode.LoadByte), ins.Value[0])
		}
		code = append(code, byte(opcode.LoadNumber), byte(len(ins.Value)))
		code = append(code, ins.Value...)
	case *Branch:
		target := addrs[ins.Target]
		if ins.long {
			op := opcode.Jump
			if ins.IfFalse {
				op = opcode.JumpIfFalse
			}
			return append(code, byte(op), byte(target), byte(target>>8))
		}
		switch {
		case ins.IfFalse:
			code = append(code, byte(opcode.BranchForwardIfFalse), byte(target-addrs[i]))
		case ins.Target > i:
			code = append(code, byte(opcode.BranchForward), byte(target-addrs[i]))
		default:
			code = append(code, byte(opcode.BranchBackward), byte(addrs[i]-target))
		}
	case *Call:
		target := addrs[ins.Entry]
		code = append(code, byte(opcode.FunctionCall), byte(target), byte(target>>8))
	case *Reserve:
		code = append(code, byte(opcode.AllocateStackSpace), byte(ins.Size))
	}
	return code
}
