// Package link hands a compiled image to the 6502 runtime. The runtime is
// an Ophis assembler library with one routine per opcode; the linker
// renumbers the opcodes the program uses into a dense table and writes
// an assembler source holding the program bytes, the routines it needs
// and the dispatch tables.
package link

import (
	"bufio"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/zurustar/pebble/pkg/compiler/codegen"
	"github.com/zurustar/pebble/pkg/opcode"
)

// bytesPerLine is the number of program bytes on each .byte directive.
const bytesPerLine = 24

// Usage counts the instructions of each opcode in img.
func Usage(img *codegen.Image) (map[opcode.Opcode]int, error) {
	counts := make(map[opcode.Opcode]int)
	for pc := 0; pc < len(img.Code); {
		n, err := opcode.Length(img.Code, pc)
		if err != nil {
			return nil, fmt.Errorf("failed to decode image: %w", err)
		}
		counts[opcode.Opcode(img.Code[pc])]++
		pc += n
	}
	return counts, nil
}

// UsedOpcodes returns the distinct opcodes of img in opcode order.
func UsedOpcodes(img *codegen.Image) ([]opcode.Opcode, error) {
	counts, err := Usage(img)
	if err != nil {
		return nil, err
	}
	used := make([]opcode.Opcode, 0, len(counts))
	for op := range counts {
		used = append(used, op)
	}
	sort.Slice(used, func(i, j int) bool { return used[i] < used[j] })
	return used, nil
}

// Renumber returns a copy of img whose opcode bytes are replaced by their
// index in used. Operands are left alone.
func Renumber(img *codegen.Image, used []opcode.Opcode) (*codegen.Image, error) {
	index := make(map[opcode.Opcode]byte, len(used))
	for i, op := range used {
		index[op] = byte(i)
	}

	code := append([]byte(nil), img.Code...)
	for pc := 0; pc < len(code); {
		n, err := opcode.Length(img.Code, pc)
		if err != nil {
			return nil, fmt.Errorf("failed to decode image: %w", err)
		}
		op := opcode.Opcode(img.Code[pc])
		i, ok := index[op]
		if !ok {
			return nil, fmt.Errorf("opcode %s at %#04x has no routine index", op, int(img.Base)+pc)
		}
		code[pc] = i
		pc += n
	}
	return &codegen.Image{Code: code, Base: img.Base, Start: img.Start}, nil
}

// Routine is one labelled block of the runtime library.
type Routine struct {
	Name  string
	Lines []string
}

// Internal reports whether the routine is a helper that is always
// linked.
func (r Routine) Internal() bool {
	return strings.HasPrefix(r.Name, "_")
}

// Library is a parsed runtime library.
type Library struct {
	Header   []string
	Routines []Routine
}

// ParseRoutines splits a runtime library into its header and routines.
// A routine starts at an unindented line containing a colon that is not
// a comment.
func ParseRoutines(r io.Reader) (*Library, error) {
	lib := &Library{}
	var current *Routine

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		trimmed := strings.TrimLeft(line, " \t")
		if trimmed == line && strings.Contains(line, ":") && !strings.HasPrefix(line, ";") {
			lib.Routines = append(lib.Routines, Routine{Name: line[:strings.Index(line, ":")]})
			current = &lib.Routines[len(lib.Routines)-1]
		}
		if current == nil {
			lib.Header = append(lib.Header, line)
		} else {
			current.Lines = append(current.Lines, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read routines: %w", err)
	}
	return lib, nil
}

// Origin returns the load address named by the header's .org directive.
func (l *Library) Origin() (uint16, bool) {
	for _, line := range l.Header {
		fields := strings.Fields(line)
		if len(fields) < 2 || fields[0] != ".org" {
			continue
		}
		v, err := strconv.ParseUint(strings.TrimPrefix(fields[1], "$"), 16, 16)
		if err != nil {
			return 0, false
		}
		return uint16(v), true
	}
	return 0, false
}

// routine finds a routine by name.
func (l *Library) routine(name string) (Routine, bool) {
	for _, r := range l.Routines {
		if r.Name == name {
			return r, true
		}
	}
	return Routine{}, false
}

// Link writes an Ophis source for img. The program bytes are renumbered
// against the opcodes img uses, only those routines and the internal
// helpers are included, and the manifest files are listed at the end.
func Link(w io.Writer, lib *Library, img *codegen.Image, files []ManifestEntry) error {
	used, err := UsedOpcodes(img)
	if err != nil {
		return err
	}
	for _, op := range used {
		if _, ok := lib.routine(op.String()); !ok {
			return fmt.Errorf("routine library has no routine for %s", op)
		}
	}
	prog, err := Renumber(img, used)
	if err != nil {
		return err
	}

	bw := bufio.NewWriter(w)
	for _, line := range lib.Header {
		fmt.Fprintln(bw, line)
	}

	split := int(prog.Start) - int(prog.Base)
	if split < 0 || split > len(prog.Code) {
		return fmt.Errorf("start address %#04x is outside the program", prog.Start)
	}
	fmt.Fprintln(bw, "program:")
	writeBytes(bw, prog.Code[:split])
	fmt.Fprintf(bw, "; address = $%x\n", prog.Start)
	fmt.Fprintln(bw, "program_start:")
	writeBytes(bw, prog.Code[split:])
	fmt.Fprintln(bw)

	wanted := make(map[string]bool, len(used))
	for _, op := range used {
		wanted[op.String()] = true
	}
	for _, r := range lib.Routines {
		if r.Internal() || wanted[r.Name] {
			for _, line := range r.Lines {
				fmt.Fprintln(bw, line)
			}
		}
	}

	fmt.Fprintln(bw, "\nlookup_low:")
	for _, op := range used {
		fmt.Fprintf(bw, ".byte <[%s - 1]\n", op)
	}
	fmt.Fprintln(bw, "\nlookup_high:")
	for _, op := range used {
		fmt.Fprintf(bw, ".byte >[%s - 1]\n", op)
	}
	fmt.Fprintln(bw, "\n_stack:")

	if len(files) > 0 {
		fmt.Fprintln(bw, "\n; files")
		fmt.Fprintf(bw, "; CODE load $%04x exec $%04x\n", img.Base, img.End())
		for _, f := range files {
			fmt.Fprintf(bw, "; %s load $%04x exec $%04x\n", f.Object, f.Load, f.Exec)
		}
	}
	return bw.Flush()
}

func writeBytes(w io.Writer, code []byte) {
	for i := 0; i < len(code); i += bytesPerLine {
		end := min(i+bytesPerLine, len(code))
		vals := make([]string, 0, end-i)
		for _, b := range code[i:end] {
			vals = append(vals, strconv.Itoa(int(b)))
		}
		fmt.Fprintf(w, ".byte %s\n", strings.Join(vals, ", "))
	}
}
