// Package fileutil provides file system utility functions.
package fileutil

import (
	"errors"
	"fmt"
	"io/fs"
	"path"
	"strings"
)

// FindFileCaseInsensitiveFS searches dir of fsys for a file whose name
// matches filename ignoring case. Programs written for case-insensitive
// filing systems often spell include names differently from the files on
// disk.
//
// Example:
//
//	p, err := FindFileCaseInsensitiveFS(os.DirFS("lib"), ".", "MATHS.PEB")
//	// finds "maths.peb", "Maths.peb", ...
func FindFileCaseInsensitiveFS(fsys fs.FS, dir, filename string) (string, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return "", fmt.Errorf("failed to read directory %s: %w", dir, err)
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if strings.EqualFold(entry.Name(), filename) {
			return path.Join(dir, entry.Name()), nil
		}
	}

	return "", fmt.Errorf("file not found: %s (searched in %s): %w", filename, dir, fs.ErrNotExist)
}

// ReadFileFS reads name from fsys, falling back to a case-insensitive
// match of the last path element. It returns the path actually read.
func ReadFileFS(fsys fs.FS, name string) ([]byte, string, error) {
	data, err := fs.ReadFile(fsys, name)
	if err == nil {
		return data, name, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, "", err
	}

	actual, findErr := FindFileCaseInsensitiveFS(fsys, path.Dir(name), path.Base(name))
	if findErr != nil {
		return nil, "", err
	}
	data, err = fs.ReadFile(fsys, actual)
	if err != nil {
		return nil, "", err
	}
	return data, actual, nil
}
