// Package vm executes assembled pebble programs. The machine has 64 KiB
// of byte-addressed memory holding the code, a value stack that starts
// right after the code and a separate return-address stack above it.
//
// Globals occupy the bottom of the value stack. Functions address their
// parameters and locals from the frame pointer.
package vm

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/pkg/errors"

	"github.com/zurustar/pebble/pkg/compiler/codegen"
	"github.com/zurustar/pebble/pkg/logger"
)

const (
	// MemorySize is the size of the address space.
	MemorySize = 0x10000

	// DefaultStackSize is the size of the value stack in bytes.
	DefaultStackSize = 1024

	// DefaultCallDepth is the number of return addresses the machine
	// can hold.
	DefaultCallDepth = 128

	addressSize = 2
)

// Machine is a virtual machine instance. It is not safe for concurrent
// use.
type Machine struct {
	mem []byte

	pc  int
	sp  int
	fp  int
	rsp int
	cur int // address of the executing instruction

	stackBase  int // first byte of the value stack
	stackLimit int // first byte past the value stack
	rstackBase int

	loaded bool
	steps  int64

	stackSize int
	callDepth int
	maxSteps  int64
	trace     bool
	syscalls  SyscallHandler
	log       *slog.Logger
}

// Option configures a Machine.
type Option func(*Machine)

// WithLogger sets a custom logger.
func WithLogger(log *slog.Logger) Option {
	return func(m *Machine) {
		m.log = log
	}
}

// WithStackSize sets the value stack size in bytes.
func WithStackSize(size int) Option {
	return func(m *Machine) {
		m.stackSize = size
	}
}

// WithCallDepth sets the maximum nesting of function calls.
func WithCallDepth(depth int) Option {
	return func(m *Machine) {
		m.callDepth = depth
	}
}

// WithSyscallHandler sets the handler for SystemCall instructions.
func WithSyscallHandler(h SyscallHandler) Option {
	return func(m *Machine) {
		m.syscalls = h
	}
}

// WithMaxSteps stops a run after n instructions. Zero means no limit.
func WithMaxSteps(n int64) Option {
	return func(m *Machine) {
		m.maxSteps = n
	}
}

// WithTrace logs every instruction at debug level.
func WithTrace(trace bool) Option {
	return func(m *Machine) {
		m.trace = trace
	}
}

// New creates a machine.
func New(opts ...Option) *Machine {
	m := &Machine{
		mem:       make([]byte, MemorySize),
		stackSize: DefaultStackSize,
		callDepth: DefaultCallDepth,
		syscalls:  NullSyscalls,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.log == nil {
		m.log = logger.GetLogger()
	}
	return m
}

// Load copies an image into memory and places the stacks after it.
func (m *Machine) Load(img *codegen.Image) error {
	end := img.End()
	limit := end + m.stackSize
	top := limit + m.callDepth*addressSize
	if m.stackSize <= 0 || m.callDepth <= 0 || top > MemorySize {
		return NewRuntimeError(ErrorOutOfMemory,
			fmt.Sprintf("image of %d bytes at %#04x with %d bytes of stack and %d return addresses does not fit in memory",
				len(img.Code), img.Base, m.stackSize, m.callDepth))
	}

	clear(m.mem)
	copy(m.mem[img.Base:], img.Code)
	m.stackBase = end
	m.stackLimit = limit
	m.rstackBase = limit
	m.loaded = true

	m.log.Debug("Image loaded",
		"base", fmt.Sprintf("%#04x", img.Base),
		"bytes", len(img.Code),
		"stack", fmt.Sprintf("%#04x-%#04x", m.stackBase, m.stackLimit))
	return nil
}

// Run executes from start until an End instruction and returns the bytes
// left on the value stack.
func (m *Machine) Run(start uint16) ([]byte, error) {
	return m.RunContext(context.Background(), start)
}

// RunContext is Run with cancellation, checked between instructions.
func (m *Machine) RunContext(ctx context.Context, start uint16) (stack []byte, err error) {
	if !m.loaded {
		return nil, NewRuntimeError(ErrorInvalidAddress, "no image loaded")
	}

	clear(m.mem[m.stackBase : m.rstackBase+m.callDepth*addressSize])
	m.pc = int(start)
	m.sp = m.stackBase
	m.fp = m.stackBase
	m.rsp = 0
	m.steps = 0

	m.log.Debug("VM started", "start", fmt.Sprintf("%#04x", start))

	defer func() {
		if e := recover(); e != nil {
			rerr, ok := e.(*RuntimeError)
			if !ok {
				panic(e)
			}
			err = errors.Wrapf(rerr, "pc=%#04x sp=%#04x fp=%#04x rsp=%d", m.pc, m.sp, m.fp, m.rsp)
			stack = nil
		}
	}()

	done := ctx.Done()
	for {
		if m.steps&0x3ff == 0 && done != nil {
			select {
			case <-done:
				return nil, errors.Wrapf(ctx.Err(), "run stopped at %#04x", m.pc)
			default:
			}
		}
		if m.maxSteps > 0 && m.steps >= m.maxSteps {
			m.fail(&RuntimeError{
				Type:    ErrorStepLimit,
				Message: fmt.Sprintf("stopped after %d instructions", m.steps),
				PC:      m.pc,
			})
		}
		m.steps++

		if !m.step() {
			break
		}
	}

	m.log.Debug("VM finished", "steps", m.steps, "stack", m.sp-m.stackBase)
	return m.Stack(), nil
}

// Stack returns a copy of the value stack contents.
func (m *Machine) Stack() []byte {
	return append([]byte{}, m.mem[m.stackBase:m.sp]...)
}

// PC returns the program counter.
func (m *Machine) PC() int { return m.pc }

// SP returns the value stack pointer, the address of the next free byte.
func (m *Machine) SP() int { return m.sp }

// FP returns the frame pointer.
func (m *Machine) FP() int { return m.fp }

// StackBase returns the address of the first global.
func (m *Machine) StackBase() int { return m.stackBase }

// Steps returns the number of instructions executed by the last run.
func (m *Machine) Steps() int64 { return m.steps }

// Peek returns a copy of n bytes of memory at addr.
func (m *Machine) Peek(addr, n int) ([]byte, error) {
	if addr < 0 || n < 0 || addr+n > MemorySize {
		return nil, NewInvalidAddressError(-1, addr, n)
	}
	return append([]byte{}, m.mem[addr:addr+n]...), nil
}

func (m *Machine) fail(err *RuntimeError) {
	panic(err)
}
