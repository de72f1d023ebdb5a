package link

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/alecthomas/participle"
	"github.com/alecthomas/participle/lexer"
)

// ManifestEntry is a file packaged with the program.
type ManifestEntry struct {
	Source string // optional file the object is built from
	Object string
	Load   uint16
	Exec   uint16
}

type manifestFile struct {
	Lines []*manifestLine `parser:"( @@ | EOL )*"`
}

type manifestLine struct {
	Pos lexer.Position

	Names []string `parser:"@Name @Name?"`
	Load  string   `parser:"@Address"`
	Exec  string   `parser:"@Address EOL"`
}

var manifestParser = participle.MustBuild(&manifestFile{},
	participle.Lexer(lexer.Must(lexer.Regexp(
		`(?P<Address>0[xX][0-9a-fA-F]+)|(?P<EOL>\n)|(?P<Name>[^\s]+)|([ \t\r]+)`))),
)

// ParseManifest reads lines of the form "[source] object load exec" with
// addresses written as 0x hex numbers. Blank lines are skipped.
func ParseManifest(r io.Reader) ([]ManifestEntry, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	text := string(data)
	if text != "" && !strings.HasSuffix(text, "\n") {
		text += "\n"
	}

	ast := &manifestFile{}
	if err := manifestParser.ParseString(text, ast); err != nil {
		return nil, fmt.Errorf("invalid manifest entry at %w", err)
	}

	entries := make([]ManifestEntry, 0, len(ast.Lines))
	for _, line := range ast.Lines {
		var e ManifestEntry
		if len(line.Names) == 2 {
			e.Source = line.Names[0]
		}
		e.Object = line.Names[len(line.Names)-1]

		if e.Load, err = parseAddress(line.Load); err != nil {
			return nil, fmt.Errorf("invalid load address at line %d: %w", line.Pos.Line, err)
		}
		if e.Exec, err = parseAddress(line.Exec); err != nil {
			return nil, fmt.Errorf("invalid execution address at line %d: %w", line.Pos.Line, err)
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func parseAddress(s string) (uint16, error) {
	v, err := strconv.ParseUint(s[2:], 16, 16)
	if err != nil {
		return 0, fmt.Errorf("%s does not fit in 16 bits", s)
	}
	return uint16(v), nil
}
