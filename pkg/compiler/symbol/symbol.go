// Package symbol holds the variable lists and function descriptors the
// parser builds while compiling.
package symbol

import "fmt"

// MaxListSize is the largest number of bytes a variable list may occupy.
// Offsets and sizes are encoded in one byte.
const MaxListSize = 255

// Variable is a named storage slot.
type Variable struct {
	Name        string
	Size        int // bytes occupied in its list
	ElementSize int // size of one element; equals Size for scalars
	IsArray     bool
	IsReference bool // array parameter holding a two byte address
}

// List is an ordered set of variables. A variable's offset is the sum of
// the sizes declared before it and is recomputed on every lookup.
type List struct {
	vars []Variable
}

// Len returns the number of variables.
func (l *List) Len() int {
	return len(l.vars)
}

// At returns the i-th variable.
func (l *List) At(i int) Variable {
	return l.vars[i]
}

// Index returns the position of name or -1.
func (l *List) Index(name string) int {
	for i, v := range l.vars {
		if v.Name == name {
			return i
		}
	}
	return -1
}

// Lookup finds a variable and its offset.
func (l *List) Lookup(name string) (Variable, int, bool) {
	i := l.Index(name)
	if i < 0 {
		return Variable{}, 0, false
	}
	return l.vars[i], l.Offset(i), true
}

// Offset returns the storage offset of the i-th variable.
func (l *List) Offset(i int) int {
	off := 0
	for _, v := range l.vars[:i] {
		off += v.Size
	}
	return off
}

// TotalSize returns the number of bytes the list occupies.
func (l *List) TotalSize() int {
	return l.Offset(len(l.vars))
}

// Add appends a variable and returns its offset.
func (l *List) Add(v Variable) (int, error) {
	if l.Index(v.Name) >= 0 {
		return 0, fmt.Errorf("variable %s already declared", v.Name)
	}
	off := l.TotalSize()
	if off+v.Size > MaxListSize {
		return 0, fmt.Errorf("no room for %s: %d bytes in use, %d more needed", v.Name, off, v.Size)
	}
	l.vars = append(l.vars, v)
	return off, nil
}

// Variables returns a copy of the entries in declaration order.
func (l *List) Variables() []Variable {
	return append([]Variable(nil), l.vars...)
}

// Function describes a user defined function.
type Function struct {
	Name   string
	Params *List
	Locals *List
	Entry  int    // instruction index of the prologue
	Addr   uint16 // absolute address once assembled

	ReturnSize  int
	ReturnArray bool
	ReturnKnown bool
}

// ParamSize is the number of argument bytes a caller pushes.
func (f *Function) ParamSize() int {
	return f.Params.TotalSize()
}

// SetReturn records the return contract, or checks it against an earlier
// return statement.
func (f *Function) SetReturn(size int, array bool) error {
	if !f.ReturnKnown {
		f.ReturnSize = size
		f.ReturnArray = array
		f.ReturnKnown = true
		return nil
	}
	if f.ReturnSize != size || f.ReturnArray != array {
		return fmt.Errorf("function %s returns %d bytes here but %d bytes elsewhere", f.Name, size, f.ReturnSize)
	}
	return nil
}

// Table maps names to functions in definition order.
type Table struct {
	funcs []*Function
}

// Lookup finds a function by name.
func (t *Table) Lookup(name string) (*Function, bool) {
	for _, f := range t.funcs {
		if f.Name == name {
			return f, true
		}
	}
	return nil, false
}

// Add registers a function.
func (t *Table) Add(f *Function) error {
	if _, ok := t.Lookup(f.Name); ok {
		return fmt.Errorf("function %s already defined", f.Name)
	}
	t.funcs = append(t.funcs, f)
	return nil
}

// Functions returns the functions in definition order.
func (t *Table) Functions() []*Function {
	return append([]*Function(nil), t.funcs...)
}

// Types maps parameter type names to (size, element size, array).
var Types = map[string]struct {
	Size        int
	ElementSize int
	IsArray     bool
}{
	"byte":        {1, 1, false},
	"int8":        {1, 1, false},
	"int16":       {2, 2, false},
	"int32":       {4, 4, false},
	"int8_array":  {2, 1, true},
	"int16_array": {2, 2, true},
	"int32_array": {2, 4, true},
	"string":      {2, 1, true},
}
