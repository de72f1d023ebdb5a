package opcode

import (
	"fmt"
	"io"
	"strings"

	"github.com/logrusorgru/aurora"
)

// Line is one decoded instruction.
type Line struct {
	Addr     uint16
	Op       Opcode
	Operands []int
	Literal  []byte // bytes of a Sized operand
	Target   int    // branch or call destination, -1 when absent
}

// Disassemble decodes code loaded at base.
func Disassemble(code []byte, base uint16) ([]Line, error) {
	var lines []Line
	for pc := 0; pc < len(code); {
		n, err := Length(code, pc)
		if err != nil {
			return lines, err
		}
		op := Opcode(code[pc])
		info, _ := op.Info()
		addr := int(base) + pc
		line := Line{Addr: uint16(addr), Op: op, Target: -1}
		at := pc + 1
		for _, k := range info.Operands {
			switch k {
			case U8:
				line.Operands = append(line.Operands, int(code[at]))
				at++
			case Rel8:
				d := int(code[at])
				line.Operands = append(line.Operands, d)
				if op == BranchBackward {
					line.Target = addr - d
				} else {
					line.Target = addr + d
				}
				at++
			case Addr16:
				a := int(code[at]) | int(code[at+1])<<8
				line.Operands = append(line.Operands, a)
				line.Target = a
				at += 2
			case Sized:
				size := int(code[at])
				line.Operands = append(line.Operands, size)
				line.Literal = append([]byte(nil), code[at+1:at+1+size]...)
				at += 1 + size
			}
		}
		lines = append(lines, line)
		pc += n
	}
	return lines, nil
}

// WriteListing prints a disassembly. Labels name addresses such as
// function entry points and the program start.
func WriteListing(w io.Writer, lines []Line, labels map[uint16]string, color bool) error {
	au := aurora.NewAurora(color)

	for _, l := range lines {
		if name, ok := labels[l.Addr]; ok {
			if _, err := fmt.Fprintf(w, "%s\n", au.Cyan(name+":")); err != nil {
				return err
			}
		}
		var b strings.Builder
		fmt.Fprintf(&b, "  %04x  %s", l.Addr, au.Blue(l.Op.String()))
		for i, v := range l.Operands {
			if i == 0 && l.Literal != nil {
				fmt.Fprintf(&b, " %s", au.Red(fmt.Sprintf("%d", v)))
				continue
			}
			fmt.Fprintf(&b, " %s", au.Magenta(fmt.Sprintf("%d", v)))
		}
		if l.Literal != nil {
			fmt.Fprintf(&b, " %s", au.Red(fmt.Sprintf("% x", l.Literal)))
		}
		if l.Target >= 0 {
			comment := fmt.Sprintf("   ; -> %04x", l.Target)
			if name, ok := labels[uint16(l.Target)]; ok {
				comment += " " + name
			}
			b.WriteString(au.Green(comment).String())
		}
		if _, err := fmt.Fprintln(w, b.String()); err != nil {
			return err
		}
	}
	return nil
}
