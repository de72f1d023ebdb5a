// Package token defines the lexical tokens of the pebble language.
package token

import "fmt"

type TokenType string

// Token is one lexical unit. Value carries the decoded bytes of a string
// literal; Literal is the raw source text.
type Token struct {
	Type    TokenType
	Literal string
	Value   []byte
	Line    int
	Column  int
}

const (
	EOF     = "EOF"
	NEWLINE = "NEWLINE"
	INDENT  = "INDENT"
	DEDENT  = "DEDENT"

	// Literals and names
	IDENT  = "IDENT"  // count, add, _call
	NUMBER = "NUMBER" // 123, -5, 0xffee
	STRING = "STRING" // "abc"

	// Anything else made of non-space characters: = + - == << & ...
	OPERATOR = "OPERATOR"

	// Delimiters
	COMMA    = ","
	LPAREN   = "("
	RPAREN   = ")"
	LBRACKET = "["
	RBRACKET = "]"
)

// Keywords and built-in names. They are lexed as IDENT and cannot be used
// as variable or function names.
var keywords = map[string]bool{
	"def":     true,
	"if":      true,
	"else":    true,
	"while":   true,
	"return":  true,
	"global":  true,
	"include": true,
	"not":     true,
	"and":     true,
	"or":      true,
	"True":    true,
	"False":   true,
	"_call":   true,
	"_addr":   true,
	"_load":   true,
	"_store":  true,
}

// IsReserved reports whether name is a keyword or built-in.
func IsReserved(name string) bool {
	return keywords[name]
}

// Is reports whether the token has the given type and, for IDENT and
// OPERATOR tokens, the given text.
func (t Token) Is(typ TokenType, literal string) bool {
	return t.Type == typ && t.Literal == literal
}

func (t Token) String() string {
	switch t.Type {
	case EOF, NEWLINE, INDENT, DEDENT:
		return string(t.Type)
	}
	return fmt.Sprintf("%s %q", t.Type, t.Literal)
}
