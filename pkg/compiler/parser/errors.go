package parser

import (
	"errors"
	"fmt"

	"github.com/zurustar/pebble/pkg/compiler/lexer"
	"github.com/zurustar/pebble/pkg/compiler/token"
)

// ErrorKind classifies compile errors.
type ErrorKind string

const (
	KindLexical ErrorKind = "lexical"
	KindSyntax  ErrorKind = "syntax"
	KindType    ErrorKind = "type"
	KindInclude ErrorKind = "include"
)

// Error is a compile error with its source position.
type Error struct {
	Kind    ErrorKind
	Message string
	File    string
	Line    int
	Column  int
}

func (e *Error) Error() string {
	if e.File != "" {
		return fmt.Sprintf("%s:%d: %s error: %s", e.File, e.Line, e.Kind, e.Message)
	}
	return fmt.Sprintf("line %d: %s error: %s", e.Line, e.Kind, e.Message)
}

func (p *Parser) errorAt(kind ErrorKind, tok token.Token, format string, args ...any) error {
	return &Error{
		Kind:    kind,
		Message: fmt.Sprintf(format, args...),
		File:    p.file.Name,
		Line:    tok.Line,
		Column:  tok.Column,
	}
}

func (p *Parser) syntaxError(tok token.Token, format string, args ...any) error {
	return p.errorAt(KindSyntax, tok, format, args...)
}

func (p *Parser) typeError(tok token.Token, format string, args ...any) error {
	return p.errorAt(KindType, tok, format, args...)
}

// wrapLexical converts tokeniser failures into parser errors carrying the
// current file name.
func (p *Parser) wrapLexical(err error) error {
	var lexErr *lexer.Error
	if errors.As(err, &lexErr) {
		return &Error{
			Kind:    KindLexical,
			Message: lexErr.Message,
			File:    p.file.Name,
			Line:    lexErr.Line,
			Column:  lexErr.Column,
		}
	}
	return err
}

// describe names a token for error messages.
func describe(tok token.Token) string {
	switch tok.Type {
	case token.EOF:
		return "end of file"
	case token.NEWLINE:
		return "end of line"
	case token.INDENT:
		return "indentation"
	case token.DEDENT:
		return "end of block"
	}
	return fmt.Sprintf("%q", tok.Literal)
}
