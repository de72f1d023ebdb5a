package parser

import (
	"github.com/zurustar/pebble/pkg/compiler/lexer"
	"github.com/zurustar/pebble/pkg/compiler/token"
)

// stream buffers tokens from a lexer so the parser can back up to a
// checkpoint after a failed alternative.
type stream struct {
	lex *lexer.Lexer
	buf []token.Token
	pos int
	err error
}

func newStream(src string) *stream {
	return &stream{lex: lexer.New(src)}
}

func (s *stream) fill() error {
	for s.pos >= len(s.buf) {
		if s.err != nil {
			return s.err
		}
		tok, err := s.lex.NextToken()
		if err != nil {
			s.err = err
			return err
		}
		s.buf = append(s.buf, tok)
	}
	return nil
}

// peek returns the next token without consuming it.
func (s *stream) peek() (token.Token, error) {
	if err := s.fill(); err != nil {
		return token.Token{}, err
	}
	return s.buf[s.pos], nil
}

// next consumes one token. EOF is never consumed.
func (s *stream) next() (token.Token, error) {
	tok, err := s.peek()
	if err != nil {
		return tok, err
	}
	if tok.Type != token.EOF {
		s.pos++
	}
	return tok, nil
}

// mark returns a checkpoint.
func (s *stream) mark() int {
	return s.pos
}

// rewind returns to a checkpoint.
func (s *stream) rewind(m int) {
	s.pos = m
}

// commit drops consumed tokens. Outstanding checkpoints become invalid.
func (s *stream) commit() {
	s.buf = append(s.buf[:0], s.buf[s.pos:]...)
	s.pos = 0
}
