package vm

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/zurustar/pebble/pkg/compiler"
)

// hexLiteral formats v as a literal of exactly size bytes.
func hexLiteral(v uint32, size int) string {
	return fmt.Sprintf("0x%0*x", size*2, v&mask(size))
}

func mask(size int) uint32 {
	if size >= 4 {
		return 0xffffffff
	}
	return 1<<(8*size) - 1
}

func littleEndian(v uint32, size int) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, v)
	return b[:size]
}

func runProgram(src string, opts ...Option) ([]byte, error) {
	prog, err := compiler.Compile(src, compiler.Options{Base: 0x1900})
	if err != nil {
		return nil, err
	}
	m := New(opts...)
	if err := m.Load(prog.Image); err != nil {
		return nil, err
	}
	return m.Run(prog.Image.Start)
}

func genSize() gopter.Gen {
	return gen.OneConstOf(1, 2, 4)
}

// TestProperty_Arithmetic checks compiled arithmetic against Go's fixed
// width unsigned arithmetic.
func TestProperty_Arithmetic(t *testing.T) {
	properties := gopter.NewProperties(nil)

	ops := []struct {
		sym  string
		eval func(a, b uint32) uint32
	}{
		{"+", func(a, b uint32) uint32 { return a + b }},
		{"-", func(a, b uint32) uint32 { return a - b }},
		{"*", func(a, b uint32) uint32 { return a * b }},
	}

	for _, op := range ops {
		op := op
		properties.Property(fmt.Sprintf("%s wraps at the operand width", op.sym), prop.ForAll(
			func(size int, a, b uint32) bool {
				a, b = a&mask(size), b&mask(size)
				src := fmt.Sprintf("r = %s %s %s\n", hexLiteral(a, size), op.sym, hexLiteral(b, size))
				stack, err := runProgram(src)
				if err != nil {
					return false
				}
				want := littleEndian(op.eval(a, b)&mask(size), size)
				return bytes.Equal(stack, want)
			},
			genSize(),
			gen.UInt32(),
			gen.UInt32(),
		))
	}

	properties.Property("/ truncates", prop.ForAll(
		func(size int, a, b uint32) bool {
			a, b = a&mask(size), b&mask(size)
			if b == 0 {
				b = 1
			}
			src := fmt.Sprintf("r = %s / %s\n", hexLiteral(a, size), hexLiteral(b, size))
			stack, err := runProgram(src)
			if err != nil {
				return false
			}
			return bytes.Equal(stack, littleEndian(a/b, size))
		},
		genSize(),
		gen.UInt32(),
		gen.UInt32(),
	))

	properties.Property("comparisons are unsigned", prop.ForAll(
		func(size int, a, b uint32) bool {
			a, b = a&mask(size), b&mask(size)
			la, lb := hexLiteral(a, size), hexLiteral(b, size)
			src := fmt.Sprintf("e = %s == %s\nn = %s != %s\nl = %s < %s\ng = %s > %s\n",
				la, lb, la, lb, la, lb, la, lb)
			stack, err := runProgram(src)
			if err != nil {
				return false
			}
			want := []byte{truth(a == b), truth(a != b), truth(a < b), truth(a > b)}
			return bytes.Equal(stack, want)
		},
		genSize(),
		gen.UInt32(),
		gen.UInt32(),
	))

	properties.Property("shifts are logical", prop.ForAll(
		func(size int, a uint32, n uint8) bool {
			a = a & mask(size)
			n %= uint8(8*size + 1)
			src := fmt.Sprintf("l = %s << %d\nr = %s >> %d\n",
				hexLiteral(a, size), n, hexLiteral(a, size), n)
			stack, err := runProgram(src)
			if err != nil {
				return false
			}
			want := append(littleEndian((a<<n)&mask(size), size), littleEndian(a>>n, size)...)
			if n >= 32 {
				want = make([]byte, 2*size)
			}
			return bytes.Equal(stack, want)
		},
		genSize(),
		gen.UInt32(),
		gen.UInt8(),
	))

	properties.TestingRun(t)
}

// TestProperty_ReturnValue checks that a call leaves exactly the return
// value above the caller's stack, whatever the callee's frame held.
func TestProperty_ReturnValue(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("returned value survives the frame", prop.ForAll(
		func(size int, v uint32, locals int) bool {
			v &= mask(size)
			var body strings.Builder
			for i := 0; i < locals; i++ {
				fmt.Fprintf(&body, "    t%d = b + 0x%04x\n", i, i)
			}
			src := fmt.Sprintf("def f a(byte) b(int16)\n%s    return %s\n\nr = f(7, 0x0102)\n",
				body.String(), hexLiteral(v, size))
			stack, err := runProgram(src)
			if err != nil {
				return false
			}
			return bytes.Equal(stack, littleEndian(v, size))
		},
		genSize(),
		gen.UInt32(),
		gen.IntRange(0, 6),
	))

	properties.TestingRun(t)
}

// TestProperty_Discard checks that an expression statement leaves the
// stack as it found it.
func TestProperty_Discard(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("expression statements are discarded", prop.ForAll(
		func(size int, values []uint32) bool {
			terms := make([]string, 0, len(values)+1)
			terms = append(terms, hexLiteral(1, size))
			for _, v := range values {
				terms = append(terms, hexLiteral(v, size))
			}
			expr := strings.Join(terms, " + ")

			base, err := runProgram("a = 0x1234\nb = 9\n")
			if err != nil {
				return false
			}
			got, err := runProgram("a = 0x1234\n" + expr + "\nb = 9\n" + expr + "\n")
			if err != nil {
				return false
			}
			return bytes.Equal(base, got)
		},
		genSize(),
		gen.SliceOfN(5, gen.UInt32()),
	))

	properties.TestingRun(t)
}

// TestProperty_Deterministic runs the same program twice on one machine.
func TestProperty_Deterministic(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("runs are repeatable", prop.ForAll(
		func(n uint8) bool {
			src := fmt.Sprintf("c = %d\ns = 0x0000\nwhile c\n    s = s + 0x0003\n    c = c - 1\n", n)
			prog, err := compiler.Compile(src, compiler.Options{})
			if err != nil {
				return false
			}
			m := New()
			if err := m.Load(prog.Image); err != nil {
				return false
			}
			first, err := m.Run(prog.Image.Start)
			if err != nil {
				return false
			}
			second, err := m.Run(prog.Image.Start)
			if err != nil {
				return false
			}
			want := append([]byte{0}, littleEndian(uint32(n)*3, 2)...)
			return bytes.Equal(first, second) && bytes.Equal(first, want)
		},
		gen.UInt8(),
	))

	properties.TestingRun(t)
}
