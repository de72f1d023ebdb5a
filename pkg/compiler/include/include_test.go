package include

import (
	"strings"
	"testing"
	"testing/fstest"
)

func TestResolve(t *testing.T) {
	l := NewLoader(fstest.MapFS{}, fstest.MapFS{})
	main := Source("progs/main.peb")

	tests := []struct {
		name    string
		target  string
		want    string
		library bool
		wantErr bool
	}{
		{"sibling", "util.peb", "progs/util.peb", false, false},
		{"subdirectory", "lib/a.peb", "progs/lib/a.peb", false, false},
		{"parent", "../common.peb", "common.peb", false, false},
		{"library", "<maths.peb>", "maths.peb", true, false},
		{"empty", "", "", false, true},
		{"unclosed bracket", "<maths.peb", "", false, true},
		{"empty bracket", "<>", "", false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := l.Resolve(main, tt.target)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Resolve() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if got.Name != tt.want || got.library != tt.library {
				t.Errorf("Resolve() = %+v, want %s (library %v)", got, tt.want, tt.library)
			}
		})
	}
}

func TestResolveWithoutLibrary(t *testing.T) {
	l := NewLoader(fstest.MapFS{}, nil)
	if _, err := l.Resolve(Source("main.peb"), "<maths.peb>"); err == nil {
		t.Error("expected error without an include directory")
	}
}

func TestLibraryIncludesStayInLibrary(t *testing.T) {
	l := NewLoader(fstest.MapFS{}, fstest.MapFS{})
	lib, err := l.Resolve(Source("main.peb"), "<gfx/draw.peb>")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	nested, err := l.Resolve(lib, "plot.peb")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if nested.Name != "gfx/plot.peb" || !nested.library {
		t.Errorf("nested = %+v", nested)
	}
}

func TestOpenCircular(t *testing.T) {
	src := fstest.MapFS{
		"a.peb": {Data: []byte("include \"b.peb\"\n")},
		"b.peb": {Data: []byte("include \"a.peb\"\n")},
	}
	l := NewLoader(src, nil)

	a := Source("a.peb")
	if err := l.Enter(a); err != nil {
		t.Fatalf("Enter() error = %v", err)
	}
	b, _ := l.Resolve(a, "b.peb")
	if _, err := l.Open(b); err != nil {
		t.Fatalf("Open(b) error = %v", err)
	}
	again, _ := l.Resolve(b, "a.peb")
	_, err := l.Open(again)
	if err == nil || !strings.Contains(err.Error(), "circular include") {
		t.Fatalf("Open(a) error = %v, want circular include", err)
	}

	// A file may be included again once it is closed.
	l.Close(b)
	if _, err := l.Open(b); err != nil {
		t.Errorf("Open(b) after Close error = %v", err)
	}
}

func TestOpenMissing(t *testing.T) {
	l := NewLoader(fstest.MapFS{}, nil)
	if _, err := l.Open(Source("none.peb")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestOpenCaseInsensitive(t *testing.T) {
	l := NewLoader(fstest.MapFS{"Util.peb": {Data: []byte("def f\n")}}, nil)
	text, err := l.Open(Source("UTIL.PEB"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if text != "def f\n" {
		t.Errorf("Open() = %q", text)
	}
}

func TestDecode(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want string
	}{
		{"ascii", []byte("x = 1\n"), "x = 1\n"},
		{"utf8", []byte("\"é\""), "\"é\""},
		{"latin1", []byte{'"', 0xe9, '"'}, "\"é\""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Decode(tt.data)
			if err != nil {
				t.Fatalf("Decode() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("Decode() = %q, want %q", got, tt.want)
			}
		})
	}
}
