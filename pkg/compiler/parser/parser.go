// Package parser implements the recursive-descent parser. It checks value
// sizes as it goes and drives the code generator directly; there is no
// syntax tree. Alternatives are tried by saving a token checkpoint and a
// generator mark and rolling both back on failure.
package parser

import (
	"log/slog"

	"github.com/zurustar/pebble/pkg/compiler/codegen"
	"github.com/zurustar/pebble/pkg/compiler/include"
	"github.com/zurustar/pebble/pkg/compiler/symbol"
	"github.com/zurustar/pebble/pkg/compiler/token"
	"github.com/zurustar/pebble/pkg/logger"
)

// Parser compiles one program. It must not be reused.
type Parser struct {
	gen    *codegen.Generator
	loader *include.Loader
	log    *slog.Logger

	toks *stream
	file include.File

	globals *symbol.List
	funcs   symbol.Table

	// Set while a function body is being parsed.
	current *symbol.Function
	params  *symbol.List
	locals  *symbol.List
}

// Option configures a Parser.
type Option func(*Parser)

// WithLoader enables include lines.
func WithLoader(l *include.Loader) Option {
	return func(p *Parser) {
		p.loader = l
	}
}

// WithLogger sets a custom logger.
func WithLogger(log *slog.Logger) Option {
	return func(p *Parser) {
		p.log = log
	}
}

// Result describes a parsed program.
type Result struct {
	Start     int // instruction index of the main block
	Globals   *symbol.List
	Functions []*symbol.Function
}

// New creates a parser emitting into gen.
func New(gen *codegen.Generator, opts ...Option) *Parser {
	p := &Parser{
		gen:     gen,
		globals: &symbol.List{},
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.log == nil {
		p.log = logger.GetLogger()
	}
	return p
}

// ParseProgram parses a whole program: definitions first, then the main
// block, which ends with an End instruction.
func (p *Parser) ParseProgram(src, fileName string) (*Result, error) {
	p.toks = newStream(src)
	p.file = include.Source(fileName)
	if p.loader != nil {
		if err := p.loader.Enter(p.file); err != nil {
			return nil, &Error{Kind: KindInclude, Message: err.Error(), File: fileName}
		}
		defer p.loader.Close(p.file)
	}

	if err := p.parseDefinitions(); err != nil {
		return nil, err
	}

	start := p.gen.Reserve()
	p.gen.SetStart(start)

	for {
		tok, err := p.skipNewlines()
		if err != nil {
			return nil, err
		}
		if tok.Type == token.EOF {
			break
		}
		if tok.Is(token.IDENT, "def") || tok.Is(token.IDENT, "include") {
			return nil, p.syntaxError(tok, "function definitions and includes must come before other statements")
		}
		if err := p.parseBodyStatement(); err != nil {
			return nil, err
		}
		p.toks.commit()
	}

	p.gen.End()
	p.gen.PatchReserve(start, p.globals.TotalSize())
	if err := p.gen.Err(); err != nil {
		return nil, &Error{Kind: KindType, Message: err.Error(), File: fileName}
	}

	p.log.Debug("Program parsed",
		"file", fileName,
		"functions", len(p.funcs.Functions()),
		"globals", p.globals.TotalSize())

	return &Result{
		Start:     start,
		Globals:   p.globals,
		Functions: p.funcs.Functions(),
	}, nil
}

// parseDefinitions consumes include lines and function definitions until
// something else appears.
func (p *Parser) parseDefinitions() error {
	for {
		tok, err := p.skipNewlines()
		if err != nil {
			return err
		}
		switch {
		case tok.Is(token.IDENT, "include"):
			if err := p.parseInclude(); err != nil {
				return err
			}
		case tok.Is(token.IDENT, "def"):
			if err := p.parseDefinition(); err != nil {
				return err
			}
		default:
			return nil
		}
		p.toks.commit()
	}
}

// parseInclude splices the definitions of another file into the program.
// The included file gets its own tokeniser; the current one is restored
// afterwards.
func (p *Parser) parseInclude() error {
	kw, err := p.next()
	if err != nil {
		return err
	}
	pathTok, err := p.next()
	if err != nil {
		return err
	}
	if pathTok.Type != token.STRING {
		return p.syntaxError(pathTok, "include needs a quoted path, found %s", describe(pathTok))
	}
	if err := p.expectSeparator(); err != nil {
		return err
	}
	if p.loader == nil {
		return p.errorAt(KindInclude, kw, "includes are not available")
	}

	file, err := p.loader.Resolve(p.file, string(pathTok.Value))
	if err != nil {
		return p.errorAt(KindInclude, pathTok, "%v", err)
	}
	text, err := p.loader.Open(file)
	if err != nil {
		return p.errorAt(KindInclude, pathTok, "%v", err)
	}
	defer p.loader.Close(file)

	p.log.Debug("Including file", "file", file.String(), "from", p.file.String())

	savedToks, savedFile := p.toks, p.file
	p.toks, p.file = newStream(text), file
	defer func() {
		p.toks, p.file = savedToks, savedFile
	}()

	if err := p.parseDefinitions(); err != nil {
		return err
	}
	tok, err := p.peek()
	if err != nil {
		return err
	}
	if tok.Type != token.EOF {
		return p.syntaxError(tok, "included files may only contain definitions")
	}
	return nil
}

// parseDefinition parses
//
//	def name param(type) param(type) ...
//	    body
func (p *Parser) parseDefinition() error {
	if _, err := p.next(); err != nil {
		return err
	}
	nameTok, err := p.next()
	if err != nil {
		return err
	}
	if nameTok.Type != token.IDENT || token.IsReserved(nameTok.Literal) {
		return p.syntaxError(nameTok, "invalid function name %s", describe(nameTok))
	}
	if _, exists := p.funcs.Lookup(nameTok.Literal); exists {
		return p.syntaxError(nameTok, "function %s already defined", nameTok.Literal)
	}
	if p.globals.Index(nameTok.Literal) >= 0 {
		return p.syntaxError(nameTok, "%s is already a variable", nameTok.Literal)
	}

	params := &symbol.List{}
	for {
		tok, err := p.peek()
		if err != nil {
			return err
		}
		if tok.Type != token.IDENT {
			break
		}
		if err := p.parseParameter(params); err != nil {
			return err
		}
	}
	if err := p.expectSeparator(); err != nil {
		return err
	}

	f := &symbol.Function{Name: nameTok.Literal, Params: params, Locals: &symbol.List{}}
	if err := p.funcs.Add(f); err != nil {
		return p.syntaxError(nameTok, "%v", err)
	}

	p.current, p.params, p.locals = f, params, f.Locals
	defer func() {
		p.current, p.params, p.locals = nil, nil, nil
	}()

	paramSize := params.TotalSize()
	entry, reserve := p.gen.Prologue(paramSize)
	f.Entry = entry

	if err := p.parseBlock(); err != nil {
		return err
	}

	f.ReturnKnown = true
	if f.ReturnSize > 0 {
		// Falling off the end returns zero.
		p.gen.LoadLiteral(make([]byte, f.ReturnSize))
	}
	p.gen.FixReturns(entry)

	localSize := f.Locals.TotalSize()
	if paramSize+localSize+f.ReturnSize > symbol.MaxListSize {
		return p.typeError(nameTok, "frame of %s is too large (%d bytes)", f.Name, paramSize+localSize+f.ReturnSize)
	}
	p.gen.Epilogue(paramSize, localSize, f.ReturnSize)
	p.gen.PatchReserve(reserve, localSize)

	p.log.Debug("Function defined",
		"name", f.Name,
		"params", paramSize,
		"locals", localSize,
		"returns", f.ReturnSize)
	return nil
}

// parseParameter parses name(type).
func (p *Parser) parseParameter(params *symbol.List) error {
	nameTok, err := p.next()
	if err != nil {
		return err
	}
	if token.IsReserved(nameTok.Literal) {
		return p.syntaxError(nameTok, "invalid parameter name %s", describe(nameTok))
	}
	if err := p.expect(token.LPAREN, "( after parameter name"); err != nil {
		return err
	}
	typeTok, err := p.next()
	if err != nil {
		return err
	}
	t, ok := symbol.Types[typeTok.Literal]
	if typeTok.Type != token.IDENT || !ok {
		return p.syntaxError(typeTok, "unknown parameter type %s", describe(typeTok))
	}
	if err := p.expect(token.RPAREN, ") after parameter type"); err != nil {
		return err
	}
	if params.Index(nameTok.Literal) >= 0 {
		return p.syntaxError(nameTok, "duplicate parameter %s", nameTok.Literal)
	}
	_, err = params.Add(symbol.Variable{
		Name:        nameTok.Literal,
		Size:        t.Size,
		ElementSize: t.ElementSize,
		IsArray:     t.IsArray,
		IsReference: t.IsArray,
	})
	if err != nil {
		return p.typeError(nameTok, "%v", err)
	}
	return nil
}

// parseBlock parses the end of a header line followed by an indented
// block of statements.
func (p *Parser) parseBlock() error {
	tok, err := p.skipNewlines()
	if err != nil {
		return err
	}
	if tok.Type != token.INDENT {
		return p.syntaxError(tok, "expected an indented block, found %s", describe(tok))
	}
	if _, err := p.next(); err != nil {
		return err
	}

	for {
		tok, err := p.skipNewlines()
		if err != nil {
			return err
		}
		switch tok.Type {
		case token.DEDENT:
			_, err := p.next()
			return err
		case token.EOF:
			return p.syntaxError(tok, "unexpected end of file in block")
		}
		if tok.Is(token.IDENT, "def") {
			return p.syntaxError(tok, "functions cannot be defined inside blocks")
		}
		if err := p.parseBodyStatement(); err != nil {
			return err
		}
	}
}

// parseBodyStatement parses one statement of a block or of the main
// program.
func (p *Parser) parseBodyStatement() error {
	tok, err := p.peek()
	if err != nil {
		return err
	}
	switch {
	case tok.Type == token.INDENT:
		return p.syntaxError(tok, "unexpected indentation")
	case tok.Is(token.IDENT, "if"):
		return p.parseIf()
	case tok.Is(token.IDENT, "while"):
		return p.parseWhile()
	case tok.Is(token.IDENT, "return"):
		return p.parseReturn()
	}
	return p.parseStatement()
}

// parseIf parses if/else. The condition must be one byte.
func (p *Parser) parseIf() error {
	if _, err := p.next(); err != nil {
		return err
	}
	if err := p.parseCondition("if"); err != nil {
		return err
	}
	skip := p.gen.If()
	if err := p.expectSeparator(); err != nil {
		return err
	}
	if err := p.parseBlock(); err != nil {
		return err
	}

	tok, err := p.peek()
	if err != nil {
		return err
	}
	if !tok.Is(token.IDENT, "else") {
		p.gen.Target(skip)
		return nil
	}
	if _, err := p.next(); err != nil {
		return err
	}
	end := p.gen.Else()
	p.gen.Target(skip)
	if err := p.expectSeparator(); err != nil {
		return err
	}
	if err := p.parseBlock(); err != nil {
		return err
	}
	p.gen.Target(end)
	return nil
}

// parseWhile parses a loop.
func (p *Parser) parseWhile() error {
	if _, err := p.next(); err != nil {
		return err
	}
	head := p.gen.While()
	if err := p.parseCondition("while"); err != nil {
		return err
	}
	exit := p.gen.If()
	if err := p.expectSeparator(); err != nil {
		return err
	}
	if err := p.parseBlock(); err != nil {
		return err
	}
	p.gen.EndWhile(head, exit)
	return nil
}

func (p *Parser) parseCondition(keyword string) error {
	tok, err := p.peek()
	if err != nil {
		return err
	}
	v, ok, err := p.parseExpression()
	if err != nil {
		return err
	}
	if !ok {
		return p.syntaxError(tok, "%s needs a condition", keyword)
	}
	if v.size != 1 {
		return p.typeError(tok, "%s condition must be 1 byte, not %d", keyword, v.size)
	}
	return nil
}

// parseReturn records the function's return contract and emits an exit
// placeholder that is patched when the function's tail is generated.
func (p *Parser) parseReturn() error {
	kw, err := p.next()
	if err != nil {
		return err
	}
	if p.current == nil {
		return p.syntaxError(kw, "return outside a function")
	}

	tok, err := p.peek()
	if err != nil {
		return err
	}
	v := value{}
	if tok.Type != token.NEWLINE && tok.Type != token.EOF {
		var ok bool
		v, ok, err = p.parseExpression()
		if err != nil {
			return err
		}
		if !ok {
			return p.syntaxError(tok, "expected a return value, found %s", describe(tok))
		}
	}
	if err := p.current.SetReturn(v.size, v.array); err != nil {
		return p.typeError(kw, "%v", err)
	}
	p.gen.Return()
	return p.expectSeparator()
}

// parseStatement parses an assignment or an expression whose value is
// discarded.
func (p *Parser) parseStatement() error {
	first, err := p.peek()
	if err != nil {
		return err
	}

	global := false
	if first.Is(token.IDENT, "global") {
		if p.current == nil {
			return p.syntaxError(first, "global is only allowed inside a function")
		}
		if _, err := p.next(); err != nil {
			return err
		}
		global = true
	}

	m, gm := p.toks.mark(), p.gen.Mark()
	ok, err := p.parseAssignment(global)
	if err != nil {
		return err
	}
	if ok {
		return p.expectSeparator()
	}
	p.toks.rewind(m)
	p.gen.Truncate(gm)

	tok, err := p.peek()
	if err != nil {
		return err
	}
	if global {
		return p.syntaxError(tok, "global must be followed by an assignment")
	}
	v, ok, err := p.parseExpression()
	if err != nil {
		return err
	}
	if !ok {
		return p.syntaxError(tok, "expected a statement, found %s", describe(tok))
	}
	p.gen.Discard(v.size)
	return p.expectSeparator()
}

// parseAssignment tries name = expr and name[index] = expr. It reports
// false, leaving rollback to the caller, when the tokens are not an
// assignment.
func (p *Parser) parseAssignment(global bool) (bool, error) {
	nameTok, err := p.next()
	if err != nil {
		return false, err
	}
	if nameTok.Type != token.IDENT || token.IsReserved(nameTok.Literal) {
		return false, nil
	}
	if _, isFunc := p.funcs.Lookup(nameTok.Literal); isFunc {
		return false, nil
	}

	tok, err := p.peek()
	if err != nil {
		return false, err
	}
	if tok.Type == token.LBRACKET {
		return p.parseIndexedAssignment(nameTok, global)
	}
	if !tok.Is(token.OPERATOR, "=") {
		return false, nil
	}
	if _, err := p.next(); err != nil {
		return false, err
	}

	rhs, err := p.parseRequiredExpression("=")
	if err != nil {
		return false, err
	}

	name := nameTok.Literal
	if !global && p.current != nil {
		if v, local, off, ok := p.lookupLocal(name); ok {
			if v.Size != rhs.size {
				return false, p.typeError(nameTok, "cannot assign %d bytes to %s, which holds %d", rhs.size, name, v.Size)
			}
			p.gen.StoreVariable(local, off, v.Size)
			return true, nil
		}
	}
	if v, off, ok := p.globals.Lookup(name); ok {
		if v.Size != rhs.size {
			return false, p.typeError(nameTok, "cannot assign %d bytes to %s, which holds %d", rhs.size, name, v.Size)
		}
		p.gen.StoreVariable(false, off, v.Size)
		return true, nil
	}

	if rhs.size == 0 {
		return false, p.typeError(nameTok, "expression assigned to %s has no value", name)
	}
	v := symbol.Variable{Name: name, Size: rhs.size, ElementSize: rhs.elem, IsArray: rhs.array}
	if p.current != nil && !global {
		off, err := p.locals.Add(v)
		if err != nil {
			return false, p.typeError(nameTok, "%v", err)
		}
		p.gen.StoreVariable(true, p.params.TotalSize()+off, v.Size)
		return true, nil
	}
	off, err := p.globals.Add(v)
	if err != nil {
		return false, p.typeError(nameTok, "%v", err)
	}
	p.gen.StoreVariable(false, off, v.Size)
	return true, nil
}

// parseIndexedAssignment parses name[index] = expr. The array must
// already exist.
func (p *Parser) parseIndexedAssignment(nameTok token.Token, global bool) (bool, error) {
	var (
		v     symbol.Variable
		local bool
		off   int
		ok    bool
	)
	if global {
		v, off, ok = p.globals.Lookup(nameTok.Literal)
	} else {
		v, local, off, ok = p.lookup(nameTok.Literal)
	}
	if !ok || !v.IsArray {
		return false, nil
	}

	p.loadArrayBase(v, local, off)
	idx, err := p.parseIndex()
	if err != nil {
		return false, err
	}

	tok, err := p.peek()
	if err != nil {
		return false, err
	}
	if !tok.Is(token.OPERATOR, "=") {
		return false, nil
	}
	if _, err := p.next(); err != nil {
		return false, err
	}

	rhs, err := p.parseRequiredExpression("=")
	if err != nil {
		return false, err
	}
	if rhs.size != v.ElementSize {
		return false, p.typeError(nameTok, "cannot store %d bytes in an element of %s, which holds %d", rhs.size, v.Name, v.ElementSize)
	}
	p.gen.StoreIndexed(v.ElementSize, idx.size)
	return true, nil
}

// lookup resolves a name to a parameter, a local or a global variable.
func (p *Parser) lookup(name string) (v symbol.Variable, local bool, off int, ok bool) {
	if v, local, off, ok := p.lookupLocal(name); ok {
		return v, local, off, ok
	}
	v, off, ok = p.globals.Lookup(name)
	return v, false, off, ok
}

func (p *Parser) lookupLocal(name string) (symbol.Variable, bool, int, bool) {
	if p.current == nil {
		return symbol.Variable{}, false, 0, false
	}
	if v, off, ok := p.params.Lookup(name); ok {
		return v, true, off, true
	}
	if v, off, ok := p.locals.Lookup(name); ok {
		return v, true, p.params.TotalSize() + off, true
	}
	return symbol.Variable{}, false, 0, false
}

// loadArrayBase pushes the address of an array's first element.
func (p *Parser) loadArrayBase(v symbol.Variable, local bool, off int) {
	if v.IsReference {
		p.gen.LoadVariable(local, off, 2)
		return
	}
	p.gen.Address(local, off)
}

func (p *Parser) peek() (token.Token, error) {
	tok, err := p.toks.peek()
	if err != nil {
		return tok, p.wrapLexical(err)
	}
	return tok, nil
}

func (p *Parser) next() (token.Token, error) {
	tok, err := p.toks.next()
	if err != nil {
		return tok, p.wrapLexical(err)
	}
	return tok, nil
}

// skipNewlines consumes blank lines and returns the next token.
func (p *Parser) skipNewlines() (token.Token, error) {
	for {
		tok, err := p.peek()
		if err != nil || tok.Type != token.NEWLINE {
			return tok, err
		}
		if _, err := p.next(); err != nil {
			return tok, err
		}
	}
}

// expect consumes a token of the given type.
func (p *Parser) expect(typ token.TokenType, what string) error {
	tok, err := p.next()
	if err != nil {
		return err
	}
	if tok.Type != typ {
		return p.syntaxError(tok, "expected %s, found %s", what, describe(tok))
	}
	return nil
}

// expectSeparator consumes the NEWLINE ending a statement. The end of
// input also ends a statement.
func (p *Parser) expectSeparator() error {
	tok, err := p.peek()
	if err != nil {
		return err
	}
	switch tok.Type {
	case token.NEWLINE:
		_, err := p.next()
		return err
	case token.EOF:
		return nil
	}
	return p.syntaxError(tok, "expected end of line, found %s", describe(tok))
}
