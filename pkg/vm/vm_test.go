package vm

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	pkgerrors "github.com/pkg/errors"

	"github.com/zurustar/pebble/pkg/compiler"
	"github.com/zurustar/pebble/pkg/compiler/codegen"
	"github.com/zurustar/pebble/pkg/opcode"
)

type call struct {
	addr uint16
	regs Registers
}

// recorder is a SyscallHandler that remembers every call and returns A.
type recorder struct {
	calls []call
}

func (r *recorder) Syscall(addr uint16, regs Registers) (byte, error) {
	r.calls = append(r.calls, call{addr, regs})
	return regs.A, nil
}

func (r *recorder) values() []byte {
	v := []byte{}
	for _, c := range r.calls {
		v = append(v, c.regs.A)
	}
	return v
}

// compile compiles src at the given base and fails the test on error.
func compile(t *testing.T, src string, base uint16) *compiler.Program {
	t.Helper()
	prog, err := compiler.Compile(src, compiler.Options{Base: base})
	if err != nil {
		t.Fatalf("compile error: %v", err)
	}
	return prog
}

// run compiles and runs src and returns the final stack.
func run(t *testing.T, src string, opts ...Option) ([]byte, error) {
	t.Helper()
	prog := compile(t, src, 0x1900)
	m := New(opts...)
	if err := m.Load(prog.Image); err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	return m.Run(prog.Image.Start)
}

func mustRun(t *testing.T, src string, opts ...Option) []byte {
	t.Helper()
	stack, err := run(t, src, opts...)
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	return stack
}

func TestScenarios(t *testing.T) {
	tests := []struct {
		name      string
		src       string
		wantStack []byte
		wantCalls []byte
	}{
		{
			name:      "discarded expression",
			src:       "3 + 4\n",
			wantStack: []byte{},
			wantCalls: []byte{},
		},
		{
			name:      "function result assigned to a global",
			src:       "def add x(byte) y(byte)\n    return x + y\n\nz = add(2, 3)\n",
			wantStack: []byte{5},
			wantCalls: []byte{},
		},
		{
			name:      "while loop reports the counter",
			src:       "c = 3\nwhile c\n    _call(0xffee, c)\n    c = c - 1\n",
			wantStack: []byte{0},
			wantCalls: []byte{3, 2, 1},
		},
		{
			name:      "discarded string",
			src:       "\"Hello\"\n",
			wantStack: []byte{},
			wantCalls: []byte{},
		},
		{
			name:      "if without else, condition false",
			src:       "if False\n    _call(0xffee, 42)\n",
			wantStack: []byte{},
			wantCalls: []byte{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &recorder{}
			stack := mustRun(t, tt.src, WithSyscallHandler(rec))
			if !bytes.Equal(stack, tt.wantStack) {
				t.Errorf("stack = %v, want %v", stack, tt.wantStack)
			}
			if got := rec.values(); !bytes.Equal(got, tt.wantCalls) {
				t.Errorf("system calls = %v, want %v", got, tt.wantCalls)
			}
		})
	}
}

func TestPrograms(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want []byte
	}{
		{
			name: "two byte arithmetic carries",
			src:  "x = 0x00ff + 0x0001\n",
			want: []byte{0x00, 0x01},
		},
		{
			name: "subtraction wraps",
			src:  "x = 1 - 2\n",
			want: []byte{0xff},
		},
		{
			name: "multiplication truncates",
			src:  "x = 0x0100 * 0x0100\n",
			want: []byte{0, 0},
		},
		{
			name: "division truncates",
			src:  "x = 0x0007 / 0x0002\n",
			want: []byte{3, 0},
		},
		{
			name: "comparison across bytes",
			src:  "x = 0x0100 > 0x00ff\ny = 0x0100 < 0x00ff\n",
			want: []byte{0xff, 0},
		},
		{
			name: "negative literal and minus",
			src:  "x = -1\ny = - 5\n",
			want: []byte{0xff, 0xfb},
		},
		{
			name: "shift carries between bytes",
			src:  "x = 0x0081 << 1\ny = 0x0100 >> 1\n",
			want: []byte{0x02, 0x01, 0x80, 0x00},
		},
		{
			name: "bitwise takes the size of the right operand",
			src:  "x = 0x1234 & 0xff\ny = 0x0f | 0x00f0\nz = ~ 0x0f\n",
			want: []byte{0x34, 0xff, 0x00, 0xf0},
		},
		{
			name: "logical operators",
			src:  "a = True and False\nb = True or False\nc = not 0\n",
			want: []byte{0, 0xff, 0xff},
		},
		{
			name: "if else",
			src:  "x = 2\nif x == 1\n    y = 10\nelse\n    y = 20\n",
			want: []byte{2, 20},
		},
		{
			name: "string indexing",
			src:  "s = \"abc\"\nc = s[1]\ni = 0x0002\nd = s[i]\n",
			want: []byte{'a', 'b', 'c', 'b', 2, 0, 'c'},
		},
		{
			name: "indexed store",
			src:  "s = \"abc\"\ns[2] = 90\n",
			want: []byte{'a', 'b', 'Z'},
		},
		{
			name: "array parameter is passed by reference",
			src:  "def set s(string)\n    s[0] = 65\n\ndef second s(string)\n    return s[1]\n\nt = \"xyz\"\nset(t)\nc = second(t)\n",
			want: []byte{'A', 'y', 'z', 'y'},
		},
		{
			name: "locals and a 4 byte return",
			src:  "def f a(byte) b(int16)\n    t = a\n    u = b\n    return 0x01020304\n\nr = f(1, 0x0203)\n",
			want: []byte{4, 3, 2, 1},
		},
		{
			name: "fall through returns zero",
			src:  "def f a(byte)\n    if a\n        return 0x1234\n\nx = f(1)\ny = f(0)\n",
			want: []byte{0x34, 0x12, 0, 0},
		},
		{
			name: "recursion",
			src:  "def fact n(int16)\n    if n == 0x0000\n        return 0x0001\n    return n * fact(n - 0x0001)\n\nx = fact(0x0005)\n",
			want: []byte{120, 0},
		},
		{
			name: "global assigned inside a function",
			src:  "def init\n    global g = 7\n\ninit()\nh = g + 1\n",
			want: []byte{7, 8},
		},
		{
			name: "memory builtins",
			src:  "_store(0x41, 0x3000)\nx = _load(1, 0x3000)\ny = _load(0x02, 0x3000)\n",
			want: []byte{0x41, 0x41, 0x00},
		},
		{
			name: "address of a global",
			src:  "a = 1\nb = 2\np = _addr(b)\nx = _load(1, p)\n",
			want: []byte{1, 2, 0, 0, 2},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stack := mustRun(t, tt.src)
			// _addr results depend on where the stack starts.
			if strings.Contains(tt.src, "_addr") {
				stack[2], stack[3] = 0, 0
			}
			if !bytes.Equal(stack, tt.want) {
				t.Errorf("stack = % x, want % x", stack, tt.want)
			}
		})
	}
}

func TestBranchTargets(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want []byte
	}{
		{
			name: "then branch",
			src:  "x = 1\nif x == 1\n    _call(0xffee, 1)\nelse\n    _call(0xffee, 2)\n_call(0xffee, 9)\n",
			want: []byte{1, 9},
		},
		{
			name: "else branch",
			src:  "x = 0\nif x == 1\n    _call(0xffee, 1)\nelse\n    _call(0xffee, 2)\n_call(0xffee, 9)\n",
			want: []byte{2, 9},
		},
		{
			name: "nested loops",
			src: "i = 2\nwhile i\n    j = 2\n    while j\n        _call(0xffee, j)\n        j = j - 1\n" +
				"    _call(0xffee, 7)\n    i = i - 1\n_call(0xffee, 9)\n",
			want: []byte{2, 1, 7, 2, 1, 7, 9},
		},
		{
			name: "return from inside a loop",
			src:  "def find\n    i = 5\n    while True\n        if i == 3\n            return i\n        i = i - 1\n\n_call(0xffee, find())\n",
			want: []byte{3},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &recorder{}
			mustRun(t, tt.src, WithSyscallHandler(rec))
			if got := rec.values(); !bytes.Equal(got, tt.want) {
				t.Errorf("markers = %v, want %v", got, tt.want)
			}
		})
	}
}

// TestLongBranches runs loops whose bodies are too large for one byte
// branch distances.
func TestLongBranches(t *testing.T) {
	var body strings.Builder
	for i := 0; i < 120; i++ {
		body.WriteString("    x = x + 0x0001\n")
	}
	src := "n = 3\nx = 0x0000\nwhile n\n" + body.String() + "    n = n - 1\n" +
		"if n == 0\n" + body.String() + "_call(0xffee, n)\n"

	rec := &recorder{}
	stack := mustRun(t, src, WithSyscallHandler(rec))

	// 3 passes of the loop and one of the if body.
	want := []byte{0, 480 & 0xff, 480 >> 8}
	if !bytes.Equal(stack, want) {
		t.Errorf("stack = % x, want % x", stack, want)
	}
	if got := rec.values(); !bytes.Equal(got, []byte{0}) {
		t.Errorf("markers = %v, want [0]", got)
	}

	prog := compile(t, src, 0x1900)
	lines, err := opcode.Disassemble(prog.Image.Code, prog.Image.Base)
	if err != nil {
		t.Fatalf("Disassemble() error: %v", err)
	}
	long := 0
	for _, l := range lines {
		if l.Op == opcode.Jump || l.Op == opcode.JumpIfFalse {
			long++
		}
	}
	if long < 3 {
		t.Errorf("expected long branches, found %d", long)
	}
}

func TestRuntimeErrors(t *testing.T) {
	infinite := "while True\n    1\n"

	tests := []struct {
		name string
		src  string
		opts []Option
		want ErrorType
	}{
		{
			name: "division by zero",
			src:  "x = 0\ny = 1 / x\n",
			want: ErrorDivisionByZero,
		},
		{
			name: "call depth",
			src:  "def r n(byte)\n    if n == 0\n        return 0\n    return r(n - 1)\n\nx = r(200)\n",
			opts: []Option{WithCallDepth(16)},
			want: ErrorCallDepth,
		},
		{
			name: "stack overflow",
			src:  "s = \"0123456789\"\n",
			opts: []Option{WithStackSize(8)},
			want: ErrorStackOverflow,
		},
		{
			name: "step limit",
			src:  infinite,
			opts: []Option{WithMaxSteps(1000)},
			want: ErrorStepLimit,
		},
		{
			name: "load outside memory",
			src:  "x = _load(4, 0xfffe)\n",
			want: ErrorInvalidAddress,
		},
		{
			name: "failing system call",
			src:  "_call(0xffee, 1)\n",
			opts: []Option{WithSyscallHandler(SyscallFunc(func(uint16, Registers) (byte, error) {
				return 0, errors.New("device unplugged")
			}))},
			want: ErrorSystemCall,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stack, err := run(t, tt.src, tt.opts...)
			if err == nil {
				t.Fatalf("Run() succeeded with stack %v", stack)
			}
			var rerr *RuntimeError
			if !errors.As(err, &rerr) {
				t.Fatalf("error %v is not a *RuntimeError", err)
			}
			if rerr.Type != tt.want {
				t.Errorf("Type = %s, want %s (%v)", rerr.Type, tt.want, err)
			}
			if pkgerrors.Cause(err) != rerr {
				t.Errorf("Cause(%v) is not the runtime error", err)
			}
			if !strings.Contains(err.Error(), "pc=") {
				t.Errorf("error lacks register context: %v", err)
			}
		})
	}
}

func TestHandMadeImages(t *testing.T) {
	tests := []struct {
		name string
		code []byte
		want ErrorType
	}{
		{"unknown opcode", []byte{0xfe}, ErrorUnknownOpcode},
		{"stack underflow", []byte{byte(opcode.FreeStackSpace), 1}, ErrorStackUnderflow},
		{"return without call", []byte{byte(opcode.FunctionReturn)}, ErrorReturnUnderflow},
		{"local outside the stack", []byte{byte(opcode.LoadLocal), 0xff, 0xff, byte(opcode.End)}, ErrorInvalidAddress},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := New(WithStackSize(16))
			if err := m.Load(&codegen.Image{Code: tt.code, Base: 0x100, Start: 0x100}); err != nil {
				t.Fatalf("Load() error: %v", err)
			}
			_, err := m.Run(0x100)
			var rerr *RuntimeError
			if !errors.As(err, &rerr) {
				t.Fatalf("error %v is not a *RuntimeError", err)
			}
			if rerr.Type != tt.want {
				t.Errorf("Type = %s, want %s", rerr.Type, tt.want)
			}
			if rerr.PC != 0x100 {
				t.Errorf("PC = %#x, want 0x100", rerr.PC)
			}
		})
	}
}

func TestLoad(t *testing.T) {
	m := New()
	if _, err := m.Run(0); err == nil {
		t.Error("Run() without an image should fail")
	}

	err := m.Load(&codegen.Image{Code: make([]byte, 0x200), Base: 0xff00})
	var rerr *RuntimeError
	if !errors.As(err, &rerr) || rerr.Type != ErrorOutOfMemory {
		t.Errorf("Load() error = %v, want %s", err, ErrorOutOfMemory)
	}

	img := &codegen.Image{Code: []byte{byte(opcode.LoadByte), 7, byte(opcode.End)}, Base: 0x400, Start: 0x400}
	if err := m.Load(img); err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if m.StackBase() != 0x403 {
		t.Errorf("StackBase() = %#x, want 0x403", m.StackBase())
	}
	for i := 0; i < 2; i++ {
		stack, err := m.Run(0x400)
		if err != nil {
			t.Fatalf("Run() error: %v", err)
		}
		if !bytes.Equal(stack, []byte{7}) {
			t.Errorf("run %d: stack = %v, want [7]", i, stack)
		}
	}
	code, _ := m.Peek(0x400, 3)
	if !bytes.Equal(code, img.Code) {
		t.Errorf("Peek() = % x, want % x", code, img.Code)
	}
}

func TestRunContextCancelled(t *testing.T) {
	prog := compile(t, "while True\n    1\n", 0)
	m := New()
	if err := m.Load(prog.Image); err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := m.RunContext(ctx, prog.Image.Start)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("RunContext() error = %v, want context.Canceled", err)
	}
}
