package vm

import (
	"fmt"
)

// ErrorType represents the type of runtime error.
type ErrorType string

// Every runtime error stops the machine.
const (
	ErrorStackOverflow   ErrorType = "STACK_OVERFLOW"
	ErrorStackUnderflow  ErrorType = "STACK_UNDERFLOW"
	ErrorCallDepth       ErrorType = "CALL_DEPTH_EXCEEDED"
	ErrorReturnUnderflow ErrorType = "RETURN_STACK_UNDERFLOW"
	ErrorOutOfMemory     ErrorType = "OUT_OF_MEMORY"
	ErrorInvalidAddress  ErrorType = "INVALID_ADDRESS"
	ErrorDivisionByZero  ErrorType = "DIVISION_BY_ZERO"
	ErrorUnknownOpcode   ErrorType = "UNKNOWN_OPCODE"
	ErrorStepLimit       ErrorType = "STEP_LIMIT_EXCEEDED"
	ErrorSystemCall      ErrorType = "SYSTEM_CALL_FAILED"
)

// RuntimeError represents a runtime error in the VM.
type RuntimeError struct {
	Type    ErrorType
	Message string
	PC      int // address of the failing instruction, -1 if none
	Err     error
}

// Error implements the error interface.
func (e *RuntimeError) Error() string {
	if e.PC >= 0 {
		return fmt.Sprintf("[%s] %s at %#04x", e.Type, e.Message, e.PC)
	}
	return fmt.Sprintf("[%s] %s", e.Type, e.Message)
}

// Unwrap returns the handler error behind a failed system call.
func (e *RuntimeError) Unwrap() error {
	return e.Err
}

// NewRuntimeError creates a new RuntimeError.
func NewRuntimeError(errType ErrorType, message string) *RuntimeError {
	return &RuntimeError{
		Type:    errType,
		Message: message,
		PC:      -1,
	}
}

// NewDivisionByZeroError creates a division by zero error.
func NewDivisionByZeroError(pc int) *RuntimeError {
	return &RuntimeError{Type: ErrorDivisionByZero, Message: "division by zero", PC: pc}
}

// NewStackOverflowError creates a value stack overflow error.
func NewStackOverflowError(pc, need, limit int) *RuntimeError {
	return &RuntimeError{
		Type:    ErrorStackOverflow,
		Message: fmt.Sprintf("stack overflow: %d bytes needed, limit %#04x", need, limit),
		PC:      pc,
	}
}

// NewStackUnderflowError creates a value stack underflow error.
func NewStackUnderflowError(pc, need, available int) *RuntimeError {
	return &RuntimeError{
		Type:    ErrorStackUnderflow,
		Message: fmt.Sprintf("stack underflow: %d bytes needed, %d on the stack", need, available),
		PC:      pc,
	}
}

// NewUnknownOpcodeError creates an unknown opcode error.
func NewUnknownOpcodeError(pc int, op byte) *RuntimeError {
	return &RuntimeError{
		Type:    ErrorUnknownOpcode,
		Message: fmt.Sprintf("unknown opcode %d", op),
		PC:      pc,
	}
}

// NewInvalidAddressError creates an out of range memory access error.
func NewInvalidAddressError(pc, addr, size int) *RuntimeError {
	return &RuntimeError{
		Type:    ErrorInvalidAddress,
		Message: fmt.Sprintf("access of %d bytes at %#04x is out of range", size, addr),
		PC:      pc,
	}
}
