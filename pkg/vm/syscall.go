package vm

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Operating system entry points understood by ConsoleSyscalls.
const (
	OSASCI uint16 = 0xffe3 // write A, turning 13 into a newline
	OSNEWL uint16 = 0xffe7 // write a newline
	OSWRCH uint16 = 0xffee // write A
)

// Registers holds the register bytes passed to a system call.
type Registers struct {
	A, X, Y byte
}

// SyscallHandler performs a system call and returns the new value of A.
type SyscallHandler interface {
	Syscall(addr uint16, regs Registers) (byte, error)
}

// SyscallFunc adapts a function to SyscallHandler.
type SyscallFunc func(addr uint16, regs Registers) (byte, error)

// Syscall calls f.
func (f SyscallFunc) Syscall(addr uint16, regs Registers) (byte, error) {
	return f(addr, regs)
}

// NullSyscalls ignores every call and returns 0.
var NullSyscalls SyscallHandler = SyscallFunc(func(uint16, Registers) (byte, error) {
	return 0, nil
})

// ConsoleSyscalls writes character output to w. Other addresses return 0.
func ConsoleSyscalls(w io.Writer) SyscallHandler {
	return SyscallFunc(func(addr uint16, regs Registers) (byte, error) {
		var err error
		switch addr {
		case OSWRCH:
			_, err = w.Write([]byte{regs.A})
		case OSNEWL:
			_, err = io.WriteString(w, "\n")
		case OSASCI:
			if regs.A == 13 {
				_, err = io.WriteString(w, "\n")
			} else {
				_, err = w.Write([]byte{regs.A})
			}
		default:
			return 0, nil
		}
		return regs.A, err
	})
}

// PromptSyscalls describes each call on w and reads the value of A to
// return from r. An empty line keeps A unchanged.
func PromptSyscalls(r io.Reader, w io.Writer) SyscallHandler {
	scanner := bufio.NewScanner(r)
	return SyscallFunc(func(addr uint16, regs Registers) (byte, error) {
		fmt.Fprintf(w, "system call %04x A=%02x X=%02x Y=%02x, result A? ", addr, regs.A, regs.X, regs.Y)
		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				return 0, err
			}
			return 0, io.ErrUnexpectedEOF
		}
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			return regs.A, nil
		}
		v, err := strconv.ParseUint(text, 0, 8)
		if err != nil {
			return 0, fmt.Errorf("invalid register value %q: %w", text, err)
		}
		return byte(v), nil
	})
}
