package fileutil

import (
	"errors"
	"io/fs"
	"testing"
	"testing/fstest"
)

func TestFindFileCaseInsensitiveFS(t *testing.T) {
	fsys := fstest.MapFS{
		"lib/Maths.peb": {Data: []byte("def x")},
		"lib/sub/a.peb": {Data: []byte("")},
		"top.peb":       {Data: []byte("")},
	}

	tests := []struct {
		name     string
		dir      string
		filename string
		want     string
		wantErr  bool
	}{
		{"exact", "lib", "Maths.peb", "lib/Maths.peb", false},
		{"upper", "lib", "MATHS.PEB", "lib/Maths.peb", false},
		{"root", ".", "TOP.peb", "top.peb", false},
		{"directory not matched", "lib", "SUB", "", true},
		{"missing", "lib", "other.peb", "", true},
		{"missing dir", "nope", "a.peb", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := FindFileCaseInsensitiveFS(fsys, tt.dir, tt.filename)
			if (err != nil) != tt.wantErr {
				t.Fatalf("FindFileCaseInsensitiveFS() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("FindFileCaseInsensitiveFS() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestReadFileFS(t *testing.T) {
	fsys := fstest.MapFS{
		"lib/Maths.peb": {Data: []byte("maths")},
	}

	data, actual, err := ReadFileFS(fsys, "lib/maths.PEB")
	if err != nil {
		t.Fatalf("ReadFileFS() error = %v", err)
	}
	if string(data) != "maths" || actual != "lib/Maths.peb" {
		t.Errorf("ReadFileFS() = %q, %q", data, actual)
	}

	_, _, err = ReadFileFS(fsys, "lib/none.peb")
	if !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("ReadFileFS() error = %v, want ErrNotExist", err)
	}
}
