package vm

import "math/big"

// Values on the stack are unsigned little-endian byte strings. These
// helpers operate on them in place and wrap at the value's width.

func add(a, b []byte) {
	var carry uint
	for i := range a {
		t := uint(a[i]) + uint(b[i]) + carry
		a[i] = byte(t)
		carry = t >> 8
	}
}

func subtract(a, b []byte) {
	var borrow uint
	for i := range a {
		t := uint(a[i]) - uint(b[i]) - borrow
		a[i] = byte(t)
		borrow = (t >> 8) & 1
	}
}

// multiply stores the low len(a) bytes of a*b in a.
func multiply(a, b []byte) {
	n := len(a)
	res := make([]byte, n)
	for i := 0; i < n; i++ {
		var carry uint
		for j := 0; i+j < n; j++ {
			t := uint(res[i+j]) + uint(a[i])*uint(b[j]) + carry
			res[i+j] = byte(t)
			carry = t >> 8
		}
	}
	copy(a, res)
}

// divide stores a/b in a, truncating. It reports false if b is zero.
func divide(a, b []byte) bool {
	d := toBig(b)
	if d.Sign() == 0 {
		return false
	}
	q := new(big.Int).Quo(toBig(a), d)
	fromBig(a, q)
	return true
}

func toBig(v []byte) *big.Int {
	be := make([]byte, len(v))
	for i, b := range v {
		be[len(v)-1-i] = b
	}
	return new(big.Int).SetBytes(be)
}

func fromBig(dst []byte, x *big.Int) {
	be := make([]byte, len(dst))
	x.FillBytes(be)
	for i, b := range be {
		dst[len(dst)-1-i] = b
	}
}

func equal(a, b []byte) bool {
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// less compares from the most significant byte.
func less(a, b []byte) bool {
	for i := len(a) - 1; i >= 0; i-- {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}

func negate(v []byte) {
	invert(v)
	var carry uint = 1
	for i := range v {
		t := uint(v[i]) + carry
		v[i] = byte(t)
		carry = t >> 8
	}
}

func invert(v []byte) {
	for i := range v {
		v[i] = ^v[i]
	}
}

// shiftLeft moves bits towards the most significant byte.
func shiftLeft(v []byte, amount int) {
	n := len(v)
	whole, bits := amount/8, uint(amount%8)
	for i := n - 1; i >= 0; i-- {
		var b byte
		if src := i - whole; src >= 0 {
			b = v[src] << bits
			if bits > 0 && src > 0 {
				b |= v[src-1] >> (8 - bits)
			}
		}
		v[i] = b
	}
}

// shiftRight moves bits towards the least significant byte, filling with
// zeros.
func shiftRight(v []byte, amount int) {
	n := len(v)
	whole, bits := amount/8, uint(amount%8)
	for i := 0; i < n; i++ {
		var b byte
		if src := i + whole; src < n {
			b = v[src] >> bits
			if bits > 0 && src+1 < n {
				b |= v[src+1] << (8 - bits)
			}
		}
		v[i] = b
	}
}

func truth(b bool) byte {
	if b {
		return 0xff
	}
	return 0
}
