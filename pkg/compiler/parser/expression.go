package parser

import (
	"strconv"
	"strings"

	"github.com/zurustar/pebble/pkg/compiler/symbol"
	"github.com/zurustar/pebble/pkg/compiler/token"
)

// value describes what an expression leaves on the stack.
type value struct {
	size  int
	elem  int
	array bool
}

func scalar(size int) value {
	return value{size: size, elem: size}
}

// systemCallArgs is the size of the block a system call pops: a two byte
// address followed by the A, X and Y registers.
const systemCallArgs = 5

var binaryOperators = map[string]bool{
	"==": true, "!=": true, "<": true, ">": true,
	"+": true, "-": true, "*": true, "/": true,
	"&": true, "|": true, "^": true, "<<": true, ">>": true,
	"and": true, "or": true,
}

func isBinaryOperator(tok token.Token) bool {
	switch tok.Type {
	case token.OPERATOR:
		return binaryOperators[tok.Literal]
	case token.IDENT:
		return tok.Literal == "and" || tok.Literal == "or"
	}
	return false
}

func isUnaryOperator(tok token.Token) bool {
	return tok.Is(token.IDENT, "not") || tok.Is(token.OPERATOR, "-") || tok.Is(token.OPERATOR, "~")
}

// parseExpression parses
//
//	[not|-|~] operand [operator expression]
//
// The right-hand side of an operator is a whole expression, so chains
// group to the right with no precedence, and a unary prefix applies to
// the result of the entire chain.
func (p *Parser) parseExpression() (value, bool, error) {
	tok, err := p.peek()
	if err != nil {
		return value{}, false, err
	}
	var unary token.Token
	if isUnaryOperator(tok) {
		unary = tok
		if _, err := p.next(); err != nil {
			return value{}, false, err
		}
	}

	left, ok, err := p.parseOperand()
	if err != nil {
		return value{}, false, err
	}
	if !ok {
		if unary.Literal != "" {
			next, _ := p.peek()
			return value{}, false, p.syntaxError(next, "expected an operand after %s", unary.Literal)
		}
		return value{}, false, nil
	}

	opTok, err := p.peek()
	if err != nil {
		return value{}, false, err
	}
	if isBinaryOperator(opTok) {
		if _, err := p.next(); err != nil {
			return value{}, false, err
		}
		right, err := p.parseRequiredExpression(opTok.Literal)
		if err != nil {
			return value{}, false, err
		}
		result, err := p.checkBinary(opTok, left, right)
		if err != nil {
			return value{}, false, err
		}
		if err := p.gen.BinaryOp(opTok.Literal, left.size, right.size); err != nil {
			return value{}, false, p.syntaxError(opTok, "%v", err)
		}
		left = result
	}

	if unary.Literal != "" {
		if err := p.checkUnary(unary, left); err != nil {
			return value{}, false, err
		}
		if err := p.gen.UnaryOp(unary.Literal, left.size); err != nil {
			return value{}, false, p.syntaxError(unary, "%v", err)
		}
		left = scalar(left.size)
	}
	return left, true, nil
}

// parseRequiredExpression parses an expression that must be present.
func (p *Parser) parseRequiredExpression(after string) (value, error) {
	tok, err := p.peek()
	if err != nil {
		return value{}, err
	}
	v, ok, err := p.parseExpression()
	if err != nil {
		return value{}, err
	}
	if !ok {
		return value{}, p.syntaxError(tok, "expected an expression after %s, found %s", after, describe(tok))
	}
	return v, nil
}

func (p *Parser) checkBinary(op token.Token, left, right value) (value, error) {
	if left.size == 0 || right.size == 0 {
		return value{}, p.typeError(op, "operand of %s has no value", op.Literal)
	}
	switch op.Literal {
	case "==", "!=", "<", ">":
		if left.size != right.size {
			return value{}, p.typeError(op, "cannot compare %d bytes with %d bytes", left.size, right.size)
		}
		return scalar(1), nil
	case "+", "-", "*", "/":
		if left.size != right.size {
			return value{}, p.typeError(op, "operands of %s differ in size: %d and %d bytes", op.Literal, left.size, right.size)
		}
		return scalar(left.size), nil
	case "and", "or":
		if left.size != 1 || right.size != 1 {
			return value{}, p.typeError(op, "operands of %s must be 1 byte", op.Literal)
		}
		return scalar(1), nil
	case "&", "|", "^":
		return scalar(right.size), nil
	case "<<", ">>":
		if right.size != 1 {
			return value{}, p.typeError(op, "shift amount must be 1 byte, not %d", right.size)
		}
		return scalar(left.size), nil
	}
	return value{}, p.syntaxError(op, "unknown operator %s", op.Literal)
}

func (p *Parser) checkUnary(op token.Token, v value) error {
	if v.size == 0 {
		return p.typeError(op, "operand of %s has no value", op.Literal)
	}
	if op.Literal == "not" && v.size != 1 {
		return p.typeError(op, "operand of not must be 1 byte, not %d", v.size)
	}
	return nil
}

// parseOperand parses a literal, a variable, a call or a parenthesised
// expression. It reports false without consuming anything when the next
// token cannot start an operand.
func (p *Parser) parseOperand() (value, bool, error) {
	tok, err := p.peek()
	if err != nil {
		return value{}, false, err
	}

	switch tok.Type {
	case token.NUMBER:
		p.next()
		b, err := encodeNumber(tok.Literal)
		if err != nil {
			return value{}, false, p.typeError(tok, "%v", err)
		}
		p.gen.LoadLiteral(b)
		return scalar(len(b)), true, nil

	case token.STRING:
		p.next()
		if len(tok.Value) > symbol.MaxListSize {
			return value{}, false, p.typeError(tok, "string of %d bytes is too long", len(tok.Value))
		}
		p.gen.LoadLiteral(tok.Value)
		return value{size: len(tok.Value), elem: 1, array: true}, true, nil

	case token.LPAREN:
		p.next()
		v, err := p.parseRequiredExpression("(")
		if err != nil {
			return value{}, false, err
		}
		if err := p.expect(token.RPAREN, ")"); err != nil {
			return value{}, false, err
		}
		return v, true, nil

	case token.IDENT:
	default:
		return value{}, false, nil
	}

	switch tok.Literal {
	case "True":
		p.next()
		p.gen.LoadLiteral([]byte{0xff})
		return scalar(1), true, nil
	case "False":
		p.next()
		p.gen.LoadLiteral([]byte{0})
		return scalar(1), true, nil
	case "_call":
		return p.parseSystemCall()
	case "_addr":
		return p.parseAddressOf()
	case "_load":
		return p.parseLoad()
	case "_store":
		return p.parseStore()
	}
	if token.IsReserved(tok.Literal) {
		return value{}, false, nil
	}

	if f, ok := p.funcs.Lookup(tok.Literal); ok {
		return p.parseCall(f)
	}

	v, local, off, ok := p.lookup(tok.Literal)
	if !ok {
		return value{}, false, p.syntaxError(tok, "undefined name %s", tok.Literal)
	}
	p.next()

	next, err := p.peek()
	if err != nil {
		return value{}, false, err
	}
	if next.Type != token.LBRACKET {
		size := v.Size
		if v.IsReference {
			// A bare array parameter is the address it holds.
			p.gen.LoadVariable(local, off, 2)
			return scalar(2), true, nil
		}
		p.gen.LoadVariable(local, off, size)
		return value{size: size, elem: v.ElementSize, array: v.IsArray}, true, nil
	}

	if !v.IsArray {
		return value{}, false, p.typeError(next, "%s is not an array", v.Name)
	}
	p.loadArrayBase(v, local, off)
	idx, err := p.parseIndex()
	if err != nil {
		return value{}, false, err
	}
	p.gen.LoadIndexed(v.ElementSize, idx.size)
	return scalar(v.ElementSize), true, nil
}

// parseIndex parses [expression]; the index is 1 or 2 bytes.
func (p *Parser) parseIndex() (value, error) {
	open, err := p.next()
	if err != nil {
		return value{}, err
	}
	idx, err := p.parseRequiredExpression("[")
	if err != nil {
		return value{}, err
	}
	if idx.size != 1 && idx.size != 2 {
		return value{}, p.typeError(open, "index must be 1 or 2 bytes, not %d", idx.size)
	}
	if err := p.expect(token.RBRACKET, "]"); err != nil {
		return value{}, err
	}
	return idx, nil
}

// parseCall parses name(arg, ...). The caller's frame pointer is saved
// first, then the arguments are pushed in order.
func (p *Parser) parseCall(f *symbol.Function) (value, bool, error) {
	nameTok, _ := p.next()
	if err := p.expect(token.LPAREN, "( after "+f.Name); err != nil {
		return value{}, false, err
	}

	p.gen.PushFrame()
	n := f.Params.Len()
	for i := 0; i < n; i++ {
		if i > 0 {
			tok, err := p.next()
			if err != nil {
				return value{}, false, err
			}
			if tok.Type != token.COMMA {
				return value{}, false, p.syntaxError(tok, "%s takes %d arguments", f.Name, n)
			}
		}
		if err := p.parseArgument(f, f.Params.At(i)); err != nil {
			return value{}, false, err
		}
	}
	tok, err := p.next()
	if err != nil {
		return value{}, false, err
	}
	if tok.Type != token.RPAREN {
		if tok.Type == token.COMMA {
			return value{}, false, p.syntaxError(tok, "%s takes %d arguments", f.Name, n)
		}
		return value{}, false, p.syntaxError(tok, "expected ) after arguments to %s, found %s", f.Name, describe(tok))
	}

	if !f.ReturnKnown {
		return value{}, false, p.typeError(nameTok, "%s is called before its return size is known", f.Name)
	}
	p.gen.Call(f.Entry)

	elem := f.ReturnSize
	if f.ReturnArray {
		elem = 1
	}
	return value{size: f.ReturnSize, elem: elem, array: f.ReturnArray}, true, nil
}

func (p *Parser) parseArgument(f *symbol.Function, param symbol.Variable) error {
	tok, err := p.peek()
	if err != nil {
		return err
	}

	if !param.IsReference {
		v, err := p.parseRequiredExpression("(")
		if err != nil {
			return err
		}
		if v.size != param.Size {
			return p.typeError(tok, "argument %s of %s must be %d bytes, not %d", param.Name, f.Name, param.Size, v.size)
		}
		return nil
	}

	// Arrays are passed by address.
	if tok.Type != token.IDENT {
		return p.typeError(tok, "argument %s of %s must be an array variable", param.Name, f.Name)
	}
	v, local, off, ok := p.lookup(tok.Literal)
	if !ok || !v.IsArray {
		return p.typeError(tok, "argument %s of %s must be an array variable", param.Name, f.Name)
	}
	if v.ElementSize != param.ElementSize {
		return p.typeError(tok, "argument %s of %s needs %d byte elements, not %d", param.Name, f.Name, param.ElementSize, v.ElementSize)
	}
	p.next()
	p.loadArrayBase(v, local, off)
	return nil
}

// parseSystemCall parses _call(address[, A[, X[, Y]]]). Missing
// registers are passed as zero and the call yields register A.
func (p *Parser) parseSystemCall() (value, bool, error) {
	kw, _ := p.next()
	if err := p.expect(token.LPAREN, "( after _call"); err != nil {
		return value{}, false, err
	}
	tok, err := p.peek()
	if err != nil {
		return value{}, false, err
	}
	addr, ok, err := p.parseExpression()
	if err != nil {
		return value{}, false, err
	}
	if !ok {
		return value{}, false, p.syntaxError(kw, "system call lacks an address")
	}
	if addr.size != 2 {
		return value{}, false, p.typeError(tok, "system call address must be 2 bytes, not %d", addr.size)
	}

	regs := 0
	for ; regs < 3; regs++ {
		sep, err := p.peek()
		if err != nil {
			return value{}, false, err
		}
		if sep.Type != token.COMMA {
			break
		}
		p.next()
		argTok, _ := p.peek()
		v, err := p.parseRequiredExpression(",")
		if err != nil {
			return value{}, false, err
		}
		if v.size != 1 {
			return value{}, false, p.typeError(argTok, "system call registers are 1 byte, not %d", v.size)
		}
	}
	for ; regs < 3; regs++ {
		p.gen.LoadLiteral([]byte{0})
	}
	if err := p.expect(token.RPAREN, ") after _call arguments"); err != nil {
		return value{}, false, err
	}
	p.gen.SystemCall(systemCallArgs)
	return scalar(1), true, nil
}

// parseAddressOf parses _addr(variable).
func (p *Parser) parseAddressOf() (value, bool, error) {
	p.next()
	if err := p.expect(token.LPAREN, "( after _addr"); err != nil {
		return value{}, false, err
	}
	tok, err := p.next()
	if err != nil {
		return value{}, false, err
	}
	v, local, off, ok := p.lookup(tok.Literal)
	if tok.Type != token.IDENT || !ok {
		return value{}, false, p.syntaxError(tok, "_addr needs a variable, found %s", describe(tok))
	}
	p.loadArrayBase(v, local, off)
	if err := p.expect(token.RPAREN, ") after _addr"); err != nil {
		return value{}, false, err
	}
	return scalar(2), true, nil
}

// parseLoad parses _load(size, address).
func (p *Parser) parseLoad() (value, bool, error) {
	p.next()
	if err := p.expect(token.LPAREN, "( after _load"); err != nil {
		return value{}, false, err
	}
	sizeTok, err := p.next()
	if err != nil {
		return value{}, false, err
	}
	size, err := literalValue(sizeTok.Literal)
	if sizeTok.Type != token.NUMBER || err != nil || size < 1 || size > symbol.MaxListSize {
		return value{}, false, p.syntaxError(sizeTok, "_load needs a size from 1 to %d, found %s", symbol.MaxListSize, describe(sizeTok))
	}
	if err := p.expect(token.COMMA, ", after _load size"); err != nil {
		return value{}, false, err
	}
	if err := p.parseAddressOperand("_load"); err != nil {
		return value{}, false, err
	}
	if err := p.expect(token.RPAREN, ") after _load"); err != nil {
		return value{}, false, err
	}
	p.gen.LoadMemory(int(size))
	return scalar(int(size)), true, nil
}

// parseStore parses _store(value, address). It leaves nothing on the
// stack.
func (p *Parser) parseStore() (value, bool, error) {
	kw, _ := p.next()
	if err := p.expect(token.LPAREN, "( after _store"); err != nil {
		return value{}, false, err
	}
	v, err := p.parseRequiredExpression("(")
	if err != nil {
		return value{}, false, err
	}
	if v.size == 0 {
		return value{}, false, p.typeError(kw, "_store needs a value")
	}
	if err := p.expect(token.COMMA, ", after _store value"); err != nil {
		return value{}, false, err
	}
	if err := p.parseAddressOperand("_store"); err != nil {
		return value{}, false, err
	}
	if err := p.expect(token.RPAREN, ") after _store"); err != nil {
		return value{}, false, err
	}
	p.gen.StoreMemory(v.size)
	return value{}, true, nil
}

func (p *Parser) parseAddressOperand(builtin string) error {
	tok, err := p.peek()
	if err != nil {
		return err
	}
	addr, err := p.parseRequiredExpression(",")
	if err != nil {
		return err
	}
	if addr.size != 2 {
		return p.typeError(tok, "%s address must be 2 bytes, not %d", builtin, addr.size)
	}
	return nil
}

// encodeNumber converts a numeric literal to little-endian bytes. Decimal
// literals take the smallest of 1, 2 or 4 bytes that holds them, signed
// when negative. Hexadecimal literals take one byte per two digits,
// rounded up to 1, 2 or 4.
func encodeNumber(lit string) ([]byte, error) {
	digits := strings.TrimPrefix(lit, "-")
	negative := digits != lit

	var size int
	var v int64
	if strings.HasPrefix(digits, "0x") || strings.HasPrefix(digits, "0X") {
		hex := digits[2:]
		u, err := strconv.ParseUint(hex, 16, 32)
		if err != nil || len(hex) > 8 {
			return nil, errNumberRange(lit)
		}
		switch n := (len(hex) + 1) / 2; {
		case n <= 1:
			size = 1
		case n == 2:
			size = 2
		default:
			size = 4
		}
		v = int64(u)
		if negative {
			v = -v
		}
	} else {
		var err error
		v, err = strconv.ParseInt(lit, 10, 64)
		if err != nil {
			return nil, errNumberRange(lit)
		}
		switch {
		case v >= 0 && v <= 0xff, v < 0 && v >= -0x80:
			size = 1
		case v >= 0 && v <= 0xffff, v < 0 && v >= -0x8000:
			size = 2
		case v >= 0 && v <= 0xffffffff, v < 0 && v >= -0x80000000:
			size = 4
		default:
			return nil, errNumberRange(lit)
		}
	}

	b := make([]byte, size)
	u := uint64(v)
	for i := range b {
		b[i] = byte(u >> (8 * i))
	}
	return b, nil
}

// literalValue returns the value of a decimal or 0x hexadecimal literal.
func literalValue(lit string) (int64, error) {
	if strings.HasPrefix(lit, "0x") || strings.HasPrefix(lit, "0X") {
		return strconv.ParseInt(lit[2:], 16, 32)
	}
	return strconv.ParseInt(lit, 10, 32)
}

type numberRangeError string

func (e numberRangeError) Error() string {
	return "number " + string(e) + " does not fit in 32 bits"
}

func errNumberRange(lit string) error {
	return numberRangeError(lit)
}
