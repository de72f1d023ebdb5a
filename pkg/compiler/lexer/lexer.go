// Package lexer turns pebble source text into tokens, producing the
// NEWLINE, INDENT and DEDENT tokens that give the language its block
// structure.
package lexer

import (
	"fmt"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"

	"github.com/zurustar/pebble/pkg/compiler/token"
)

// TabWidth is the number of columns a tab contributes to indentation.
const TabWidth = 4

// Error is a lexical error.
type Error struct {
	Message string
	Line    int
	Column  int
}

func (e *Error) Error() string {
	return fmt.Sprintf("line %d: %s", e.Line, e.Message)
}

// Lexer tokenizes pebble source code. It is single pass and has no
// pushback; the parser buffers tokens when it needs to look back.
type Lexer struct {
	input     string
	position  int // byte offset of the next unread character
	line      int
	lineStart int // byte offset where the current line begins

	indents     []int
	pending     []token.Token
	atLineStart bool
	done        bool
}

// New creates a new Lexer.
func New(input string) *Lexer {
	return &Lexer{
		input:       input,
		line:        1,
		indents:     []int{0},
		atLineStart: true,
	}
}

// NextToken returns the next token. After the end of input it keeps
// returning EOF.
func (l *Lexer) NextToken() (token.Token, error) {
	for len(l.pending) == 0 {
		if l.done {
			return l.newToken(token.EOF, ""), nil
		}
		if err := l.scan(); err != nil {
			return token.Token{}, err
		}
	}
	tok := l.pending[0]
	l.pending = l.pending[1:]
	return tok, nil
}

// scan queues at least one token or reaches the end of input.
func (l *Lexer) scan() error {
	if l.atLineStart {
		return l.scanIndentation()
	}

	l.skipSpaces()
	if l.position >= len(l.input) {
		l.finish()
		return nil
	}

	ch := l.input[l.position]
	switch ch {
	case '\n':
		l.emit(token.NEWLINE, "")
		l.nextLine()
	case '#':
		l.skipComment()
	case '(':
		l.single(token.LPAREN)
	case ')':
		l.single(token.RPAREN)
	case ',':
		l.single(token.COMMA)
	case '[':
		l.single(token.LBRACKET)
	case ']':
		l.single(token.RBRACKET)
	case '"':
		return l.readString()
	default:
		l.readWord()
	}
	return nil
}

// scanIndentation measures the leading whitespace of a line. Blank and
// comment-only lines produce a NEWLINE and leave the indentation alone.
func (l *Lexer) scanIndentation() error {
	width := 0
	for l.position < len(l.input) {
		ch := l.input[l.position]
		if ch == ' ' {
			width++
		} else if ch == '\t' {
			width += TabWidth
		} else if ch != '\r' {
			break
		}
		l.position++
	}
	if l.position >= len(l.input) {
		l.finish()
		return nil
	}

	switch l.input[l.position] {
	case '\n':
		l.emit(token.NEWLINE, "")
		l.nextLine()
		return nil
	case '#':
		l.skipComment()
		if l.position < len(l.input) {
			l.emit(token.NEWLINE, "")
			l.nextLine()
		}
		return nil
	}

	l.atLineStart = false
	top := l.indents[len(l.indents)-1]
	switch {
	case width > top:
		l.indents = append(l.indents, width)
		l.emit(token.INDENT, "")
	case width < top:
		for len(l.indents) > 1 && l.indents[len(l.indents)-1] > width {
			l.indents = l.indents[:len(l.indents)-1]
			l.emit(token.DEDENT, "")
		}
		if l.indents[len(l.indents)-1] != width {
			return l.errorf("inconsistent indentation")
		}
	}
	return nil
}

// finish closes the last line and every open block.
func (l *Lexer) finish() {
	if !l.atLineStart {
		l.emit(token.NEWLINE, "")
		l.atLineStart = true
	}
	for len(l.indents) > 1 {
		l.indents = l.indents[:len(l.indents)-1]
		l.emit(token.DEDENT, "")
	}
	l.emit(token.EOF, "")
	l.done = true
}

func (l *Lexer) nextLine() {
	l.position++
	l.line++
	l.lineStart = l.position
	l.atLineStart = true
}

func (l *Lexer) skipSpaces() {
	for l.position < len(l.input) {
		switch l.input[l.position] {
		case ' ', '\t', '\r':
			l.position++
		default:
			return
		}
	}
}

// skipComment stops before the newline that ends the comment.
func (l *Lexer) skipComment() {
	for l.position < len(l.input) && l.input[l.position] != '\n' {
		l.position++
	}
}

func (l *Lexer) single(typ token.TokenType) {
	l.emit(typ, l.input[l.position:l.position+1])
	l.position++
}

func isDelimiter(ch byte) bool {
	switch ch {
	case ' ', '\t', '\r', '\n', '#', '(', ')', ',', '[', ']':
		return true
	}
	return false
}

func (l *Lexer) readWord() {
	start := l.position
	for l.position < len(l.input) && !isDelimiter(l.input[l.position]) {
		l.position++
	}
	word := l.input[start:l.position]
	tok := token.Token{
		Type:    classify(word),
		Literal: word,
		Line:    l.line,
		Column:  start - l.lineStart + 1,
	}
	l.pending = append(l.pending, tok)
}

func classify(word string) token.TokenType {
	switch {
	case isNumber(word):
		return token.NUMBER
	case isIdentifier(word):
		return token.IDENT
	default:
		return token.OPERATOR
	}
}

func isNumber(word string) bool {
	s := word
	if len(s) > 0 && s[0] == '-' {
		s = s[1:]
	}
	if len(s) > 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		for i := 2; i < len(s); i++ {
			if !isHexDigit(s[i]) {
				return false
			}
		}
		return true
	}
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

func isIdentifier(word string) bool {
	for i := 0; i < len(word); i++ {
		ch := word[i]
		if !(ch == '_' || ch >= '0' && ch <= '9' || ch >= 'a' && ch <= 'z' || ch >= 'A' && ch <= 'Z') {
			return false
		}
	}
	return word != ""
}

func isHexDigit(ch byte) bool {
	return ch >= '0' && ch <= '9' || ch >= 'a' && ch <= 'f' || ch >= 'A' && ch <= 'F'
}

func hexValue(ch byte) byte {
	switch {
	case ch >= 'a':
		return ch - 'a' + 10
	case ch >= 'A':
		return ch - 'A' + 10
	default:
		return ch - '0'
	}
}

// readString decodes a quoted literal into bytes. Characters outside ASCII
// are stored as ISO-8859-1.
func (l *Lexer) readString() error {
	start := l.position
	column := start - l.lineStart + 1
	l.position++

	var value []byte
	for {
		if l.position >= len(l.input) || l.input[l.position] == '\n' {
			return &Error{Message: "unterminated string", Line: l.line, Column: column}
		}
		ch := l.input[l.position]
		switch {
		case ch == '"':
			l.position++
			l.pending = append(l.pending, token.Token{
				Type:    token.STRING,
				Literal: l.input[start:l.position],
				Value:   value,
				Line:    l.line,
				Column:  column,
			})
			return nil
		case ch == '\\':
			b, err := l.readEscape()
			if err != nil {
				return err
			}
			value = append(value, b)
		case ch < utf8.RuneSelf:
			value = append(value, ch)
			l.position++
		default:
			r, size := utf8.DecodeRuneInString(l.input[l.position:])
			b, ok := charmap.ISO8859_1.EncodeRune(r)
			if !ok || r == utf8.RuneError {
				return l.errorf("character %q cannot be stored in a string", r)
			}
			value = append(value, b)
			l.position += size
		}
	}
}

func (l *Lexer) readEscape() (byte, error) {
	l.position++
	if l.position >= len(l.input) || l.input[l.position] == '\n' {
		return 0, l.errorf("incomplete escape")
	}
	ch := l.input[l.position]
	l.position++
	switch ch {
	case '\\', '"':
		return ch, nil
	case 'n':
		return '\n', nil
	case 'r':
		return '\r', nil
	case 't':
		return '\t', nil
	case 'x':
		if l.position+2 > len(l.input) {
			return 0, l.errorf("incomplete escape")
		}
		hi, lo := l.input[l.position], l.input[l.position+1]
		if !isHexDigit(hi) || !isHexDigit(lo) {
			return 0, l.errorf("invalid escape \\x%c%c", hi, lo)
		}
		l.position += 2
		return hexValue(hi)<<4 | hexValue(lo), nil
	default:
		return 0, l.errorf("invalid escape \\%c", ch)
	}
}

func (l *Lexer) emit(typ token.TokenType, literal string) {
	l.pending = append(l.pending, l.newToken(typ, literal))
}

func (l *Lexer) newToken(typ token.TokenType, literal string) token.Token {
	return token.Token{
		Type:    typ,
		Literal: literal,
		Line:    l.line,
		Column:  l.position - l.lineStart + 1,
	}
}

func (l *Lexer) errorf(format string, args ...any) error {
	return &Error{
		Message: fmt.Sprintf(format, args...),
		Line:    l.line,
		Column:  l.position - l.lineStart + 1,
	}
}
