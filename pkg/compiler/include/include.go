// Package include resolves and loads the files named by include lines,
// converting their encoding and detecting circular includes.
package include

import (
	"bytes"
	"fmt"
	"io"
	"io/fs"
	"path"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/transform"

	"github.com/zurustar/pebble/pkg/fileutil"
)

// File identifies a source file within one of the loader's file systems.
type File struct {
	Name    string // slash separated path inside its file system
	library bool
}

func (f File) key() string {
	if f.library {
		return "<" + f.Name + ">"
	}
	return f.Name
}

func (f File) String() string {
	return f.key()
}

// Loader reads included files. Quoted names resolve relative to the
// including file; names in angle brackets resolve against the library
// file system.
type Loader struct {
	source  fs.FS
	library fs.FS
	active  map[string]bool
}

// NewLoader creates a loader. library may be nil when no include
// directory is configured.
func NewLoader(source, library fs.FS) *Loader {
	return &Loader{
		source:  source,
		library: library,
		active:  make(map[string]bool),
	}
}

// Resolve turns the text of an include line into a File. from is the file
// containing the include line.
func (l *Loader) Resolve(from File, target string) (File, error) {
	if target == "" {
		return File{}, fmt.Errorf("empty include path")
	}
	if strings.HasPrefix(target, "<") {
		if !strings.HasSuffix(target, ">") || len(target) < 3 {
			return File{}, fmt.Errorf("invalid include path %s", target)
		}
		if l.library == nil {
			return File{}, fmt.Errorf("no include directory configured for %s", target)
		}
		return File{Name: clean(target[1 : len(target)-1]), library: true}, nil
	}
	return File{Name: clean(path.Join(path.Dir(from.Name), target)), library: from.library}, nil
}

func clean(name string) string {
	return strings.TrimPrefix(path.Clean(strings.ReplaceAll(name, "\\", "/")), "/")
}

// Open reads and decodes f and marks it active until Close is called.
// Including a file that is still active is an error.
func (l *Loader) Open(f File) (string, error) {
	if l.active[f.key()] {
		return "", fmt.Errorf("circular include detected: %s", f)
	}

	fsys := l.source
	if f.library {
		fsys = l.library
	}
	if fsys == nil {
		return "", fmt.Errorf("cannot include %s without a source directory", f)
	}
	data, _, err := fileutil.ReadFileFS(fsys, f.Name)
	if err != nil {
		return "", fmt.Errorf("failed to read file %s: %w", f, err)
	}

	text, err := Decode(data)
	if err != nil {
		return "", fmt.Errorf("encoding error in %s: %w", f, err)
	}

	l.active[f.key()] = true
	return text, nil
}

// Enter marks a file that was read by other means, such as the top-level
// source, as active.
func (l *Loader) Enter(f File) error {
	if l.active[f.key()] {
		return fmt.Errorf("circular include detected: %s", f)
	}
	l.active[f.key()] = true
	return nil
}

// Close marks f as finished.
func (l *Loader) Close(f File) {
	delete(l.active, f.key())
}

// Decode returns data as text. Valid UTF-8 passes through unchanged;
// anything else is treated as ISO-8859-1.
func Decode(data []byte) (string, error) {
	if utf8.Valid(data) {
		return string(data), nil
	}

	decoder := charmap.ISO8859_1.NewDecoder()
	text, err := io.ReadAll(transform.NewReader(bytes.NewReader(data), decoder))
	if err != nil {
		return "", fmt.Errorf("failed to decode ISO-8859-1: %w", err)
	}
	return string(text), nil
}

// Source returns a File for a top-level source path. An empty name
// stands for unnamed input.
func Source(name string) File {
	if name == "" {
		return File{}
	}
	return File{Name: clean(name)}
}
