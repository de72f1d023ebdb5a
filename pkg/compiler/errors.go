package compiler

import (
	"errors"
	"fmt"
	"strings"

	"github.com/zurustar/pebble/pkg/compiler/parser"
)

// Phases reported by CompileError besides the parser's error kinds.
const (
	PhaseRead      = "read"
	PhaseAssembler = "assembler"
)

// CompileError represents a compilation error with location information.
type CompileError struct {
	// Phase is the parser error kind (lexical, syntax, type, include) or
	// one of the Phase constants.
	Phase string

	// Message is the human-readable error description.
	Message string

	// File is the file the error was found in. It is empty for unnamed
	// input.
	File string

	// Line and Column are 1-indexed; zero when unknown.
	Line   int
	Column int

	// Context contains the source code around the error location, with
	// a pointer (^) at the error column.
	Context string
}

// Error implements the error interface.
func (e *CompileError) Error() string {
	var buf strings.Builder
	if e.File != "" {
		buf.WriteString(e.File)
		buf.WriteString(": ")
	}
	if e.Line > 0 {
		fmt.Fprintf(&buf, "%s error at line %d, column %d: %s", e.Phase, e.Line, e.Column, e.Message)
	} else {
		fmt.Fprintf(&buf, "%s error: %s", e.Phase, e.Message)
	}
	if e.Context != "" {
		buf.WriteString("\n")
		buf.WriteString(e.Context)
	}
	return buf.String()
}

// IsCompileError returns the CompileError in err's chain, if any.
func IsCompileError(err error) (*CompileError, bool) {
	var ce *CompileError
	if errors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}

// fromParserError converts a parser error. Context is only generated for
// errors in the top-level file, whose text is at hand.
func fromParserError(err error, file, source string) error {
	var pe *parser.Error
	if !errors.As(err, &pe) {
		return &CompileError{Phase: PhaseAssembler, Message: err.Error(), File: file}
	}
	ce := &CompileError{
		Phase:   string(pe.Kind),
		Message: pe.Message,
		File:    pe.File,
		Line:    pe.Line,
		Column:  pe.Column,
	}
	if pe.File == file {
		ce.Context = GenerateErrorContext(source, pe.Line, pe.Column)
	}
	return ce
}

// GenerateErrorContext generates source code context around an error location.
// It includes 2 lines before and 2 lines after the error line, with line numbers
// and a pointer (^) indicating the error column.
//
// Example output:
//
//	  2 | x = 5
//	  3 | y = 1000
//	> 4 | x = y
//	    |     ^
//	  5 | z = 1
//	  6 | w = 2
func GenerateErrorContext(source string, line, column int) string {
	if source == "" || line <= 0 {
		return ""
	}

	lines := strings.Split(source, "\n")
	if line > len(lines) {
		return ""
	}

	start := line - 3
	if start < 0 {
		start = 0
	}
	end := line + 2
	if end > len(lines) {
		end = len(lines)
	}

	var buf strings.Builder

	lineNumWidth := len(fmt.Sprintf("%d", end))

	for i := start; i < end; i++ {
		lineNum := i + 1
		lineContent := strings.TrimRight(lines[i], "\r")

		if lineNum == line {
			fmt.Fprintf(&buf, "> %*d | %s\n", lineNumWidth, lineNum, lineContent)
			// "> " + line number + " | "
			pointerIndent := 2 + lineNumWidth + 3
			if column > 0 {
				fmt.Fprintf(&buf, "%s%s^\n", strings.Repeat(" ", pointerIndent), strings.Repeat(" ", column-1))
			} else {
				fmt.Fprintf(&buf, "%s^\n", strings.Repeat(" ", pointerIndent))
			}
		} else {
			fmt.Fprintf(&buf, "  %*d | %s\n", lineNumWidth, lineNum, lineContent)
		}
	}

	return buf.String()
}
