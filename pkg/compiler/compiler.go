// Package compiler provides the compilation pipeline for pebble programs.
// Source text is tokenised and parsed in a single pass; the parser drives
// the code generator directly and the result is assembled into a byte
// image for the virtual machine or the 6502 linker.
//
//   - Compile: compiles source text
//   - CompileFile: compiles a file, resolving includes next to it
//   - CompileScripts: compiles many programs concurrently
package compiler

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/zurustar/pebble/pkg/compiler/codegen"
	"github.com/zurustar/pebble/pkg/compiler/include"
	"github.com/zurustar/pebble/pkg/compiler/parser"
	"github.com/zurustar/pebble/pkg/compiler/symbol"
	"github.com/zurustar/pebble/pkg/logger"
	"github.com/zurustar/pebble/pkg/script"
)

// Options configures a compilation.
type Options struct {
	// Base is the load address of the image.
	Base uint16

	// FileName names the source in error messages and is the starting
	// point for relative includes.
	FileName string

	// Source is the file system quoted includes are read from. Includes
	// are rejected when both Source and Library are nil.
	Source fs.FS

	// Library is the file system for <name> includes.
	Library fs.FS

	Logger *slog.Logger
}

func (o Options) logger() *slog.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return logger.GetLogger()
}

// Program is a compiled program.
type Program struct {
	Image *codegen.Image

	// Functions in definition order, with Addr resolved.
	Functions []*symbol.Function

	// Globals in allocation order. They live at the start of the stack.
	Globals []symbol.Variable
}

// Labels maps function entry points and the program start to names, for
// listings.
func (p *Program) Labels() map[uint16]string {
	labels := make(map[uint16]string, len(p.Functions)+1)
	for _, f := range p.Functions {
		labels[f.Addr] = f.Name
	}
	labels[p.Image.Start] = "main"
	return labels
}

// Compile compiles source text. The first error stops compilation and is
// returned as a *CompileError.
func Compile(source string, opts Options) (*Program, error) {
	log := opts.logger()
	name := include.Source(opts.FileName).Name

	gen := codegen.New()
	popts := []parser.Option{parser.WithLogger(log)}
	if opts.Source != nil || opts.Library != nil {
		popts = append(popts, parser.WithLoader(include.NewLoader(opts.Source, opts.Library)))
	}

	result, err := parser.New(gen, popts...).ParseProgram(source, opts.FileName)
	if err != nil {
		return nil, fromParserError(err, name, source)
	}

	img, err := gen.Assemble(opts.Base)
	if err != nil {
		return nil, &CompileError{Phase: PhaseAssembler, Message: err.Error(), File: name}
	}

	for _, f := range result.Functions {
		f.Addr = gen.InstructionAddress(f.Entry)
	}

	log.Debug("Compiled program",
		"file", name,
		"bytes", len(img.Code),
		"start", fmt.Sprintf("%#04x", img.Start),
		"functions", len(result.Functions))

	return &Program{
		Image:     img,
		Functions: result.Functions,
		Globals:   result.Globals.Variables(),
	}, nil
}

// CompileFile reads and compiles a file. Quoted includes resolve in the
// file's directory unless opts.Source is set.
func CompileFile(path string, opts Options) (*Program, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &CompileError{
			Phase:   PhaseRead,
			Message: fmt.Sprintf("failed to read file %s: %v", path, err),
			File:    path,
		}
	}

	source, err := include.Decode(data)
	if err != nil {
		return nil, &CompileError{
			Phase:   PhaseRead,
			Message: fmt.Sprintf("failed to convert encoding for %s: %v", path, err),
			File:    path,
		}
	}

	if opts.Source == nil {
		opts.Source = os.DirFS(filepath.Dir(path))
		opts.FileName = filepath.Base(path)
	} else if opts.FileName == "" {
		opts.FileName = filepath.ToSlash(path)
	}
	return Compile(source, opts)
}

// CompileResult is the outcome of compiling one script.
type CompileResult struct {
	Script  *script.Script
	Program *Program // nil if compilation failed
	Err     error
}

// Failed reports whether the outcome differs from what the script's name
// asks for.
func (r CompileResult) Failed() bool {
	return (r.Err != nil) != r.Script.ExpectFail
}

// CompileScripts compiles every script independently and concurrently.
// Results are in the order of scripts. Compile errors are recorded per
// result; the returned error is only set when ctx is cancelled. opts.Source
// is shared and must be safe for concurrent reads.
func CompileScripts(ctx context.Context, scripts []script.Script, opts Options) ([]CompileResult, error) {
	results := make([]CompileResult, len(scripts))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))

	for i := range scripts {
		s := &scripts[i]
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			o := opts
			o.FileName = s.FileName
			prog, err := Compile(s.Content, o)
			results[i] = CompileResult{Script: s, Program: prog, Err: err}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
