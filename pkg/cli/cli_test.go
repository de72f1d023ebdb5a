package cli

import (
	"bytes"
	"strings"
	"testing"
	"time"
)

// clearEnv 環境変数の影響を受けないようにする
func clearEnv(t *testing.T) {
	t.Helper()
	t.Setenv("LOG_LEVEL", "")
	t.Setenv("PEBBLE_INCLUDE", "")
	t.Setenv("TIMEOUT", "")
}

func TestParseArgs_ValidArgs(t *testing.T) {
	clearEnv(t)

	tests := []struct {
		name     string
		args     []string
		expected Config
	}{
		{
			name: "ソースファイルのみ",
			args: []string{"loop.peb"},
			expected: Config{
				SourcePath: "loop.peb",
				Target:     TargetVM,
				LogLevel:   "info",
			},
		},
		{
			name: "実行とデバッグ表示",
			args: []string{"-r", "-d", "loop.peb"},
			expected: Config{
				SourcePath: "loop.peb",
				Target:     TargetVM,
				Run:        true,
				Debug:      true,
				LogLevel:   "info",
			},
		},
		{
			name: "出力ファイルとロードアドレス",
			args: []string{"-o", "loop.bin", "-base", "0x1900", "loop.peb"},
			expected: Config{
				SourcePath: "loop.peb",
				Target:     TargetVM,
				OutputPath: "loop.bin",
				Base:       0x1900,
				BaseSet:    true,
				LogLevel:   "info",
			},
		},
		{
			name: "ロードアドレス（10進）",
			args: []string{"--base=256", "loop.peb"},
			expected: Config{
				SourcePath: "loop.peb",
				Target:     TargetVM,
				Base:       256,
				BaseSet:    true,
				LogLevel:   "info",
			},
		},
		{
			name: "位置引数の後にフラグ（順序に関係なく動作）",
			args: []string{"loop.peb", "--timeout", "5", "-i", "-r", "-I", "include"},
			expected: Config{
				SourcePath:  "loop.peb",
				Target:      TargetVM,
				Run:         true,
				Interactive: true,
				IncludeDir:  "include",
				Timeout:     5 * time.Second,
				LogLevel:    "info",
			},
		},
		{
			name: "6502ターゲット",
			args: []string{"-t", "6502", "-routines", "routines.oph", "game.peb", "manifest.txt"},
			expected: Config{
				SourcePath:   "game.peb",
				ManifestPath: "manifest.txt",
				Target:       Target6502,
				RoutinesPath: "routines.oph",
				OutputPath:   DefaultLinkOutput,
				LogLevel:     "info",
			},
		},
		{
			name: "6502ターゲット（出力指定）",
			args: []string{"--target", "6502", "--routines", "lib.oph", "-o", "out.oph", "game.peb"},
			expected: Config{
				SourcePath:   "game.peb",
				Target:       Target6502,
				RoutinesPath: "lib.oph",
				OutputPath:   "out.oph",
				LogLevel:     "info",
			},
		},
		{
			name: "一括チェック",
			args: []string{"--check", "Examples", "-l", "warn"},
			expected: Config{
				CheckDir: "Examples",
				Target:   TargetVM,
				LogLevel: "warn",
			},
		},
		{
			name: "命令数上限と色付き表示",
			args: []string{"--steps", "100000", "--color", "-d", "loop.peb"},
			expected: Config{
				SourcePath: "loop.peb",
				Target:     TargetVM,
				MaxSteps:   100000,
				Color:      true,
				Debug:      true,
				LogLevel:   "info",
			},
		},
		{
			name: "ヘルプ表示（ソースなしでも可）",
			args: []string{"-h"},
			expected: Config{
				Target:   TargetVM,
				LogLevel: "info",
				ShowHelp: true,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config, err := ParseArgs(tt.args)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if *config != tt.expected {
				t.Errorf("ParseArgs(%q) =\n%+v\nwant\n%+v", tt.args, *config, tt.expected)
			}
		})
	}
}

func TestParseArgs_InvalidArgs(t *testing.T) {
	clearEnv(t)

	tests := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{"ソースファイルなし", []string{"-r"}, "no source file"},
		{"位置引数が多すぎる", []string{"a.peb", "m.txt", "extra"}, "too many arguments"},
		{"負のタイムアウト", []string{"--timeout", "-10", "a.peb"}, "timeout"},
		{"負の命令数", []string{"--steps", "-1", "a.peb"}, "steps"},
		{"無効なログレベル", []string{"--log-level", "invalid", "a.peb"}, "log level"},
		{"無効なログレベル（短縮形）", []string{"-l", "trace", "a.peb"}, "log level"},
		{"未知のターゲット", []string{"-t", "z80", "a.peb"}, "target"},
		{"範囲外のロードアドレス", []string{"-base", "0x10000", "a.peb"}, "base address"},
		{"数値でないロードアドレス", []string{"-base", "high", "a.peb"}, "base address"},
		{"ルーチンライブラリなし", []string{"-t", "6502", "a.peb"}, "routine library"},
		{"6502ターゲットで実行", []string{"-t", "6502", "-routines", "r.oph", "-r", "a.peb"}, "vm target"},
		{"VMターゲットでマニフェスト", []string{"a.peb", "m.txt"}, "manifest"},
		{"一括チェックにソース", []string{"--check", "Examples", "a.peb"}, "--check"},
		{"未定義のフラグ", []string{"--frobnicate", "a.peb"}, "frobnicate"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseArgs(tt.args)
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %q, want it to contain %q", err, tt.wantErr)
			}
		})
	}
}

func TestParseArgs_Environment(t *testing.T) {
	t.Setenv("LOG_LEVEL", "DEBUG")
	t.Setenv("PEBBLE_INCLUDE", "/usr/share/pebble")
	t.Setenv("TIMEOUT", "7")

	config, err := ParseArgs([]string{"a.peb"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if config.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want debug", config.LogLevel)
	}
	if config.IncludeDir != "/usr/share/pebble" {
		t.Errorf("IncludeDir = %q", config.IncludeDir)
	}
	if config.Timeout != 7*time.Second {
		t.Errorf("Timeout = %v, want 7s", config.Timeout)
	}

	// コマンドラインフラグが優先
	config, err = ParseArgs([]string{"-l", "error", "-I", "lib", "--timeout", "2", "a.peb"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if config.LogLevel != "error" || config.IncludeDir != "lib" || config.Timeout != 2*time.Second {
		t.Errorf("flags did not override the environment: %+v", *config)
	}
}

func TestReorderArgs(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want []string
	}{
		{"フラグのみ", []string{"-r", "-d"}, []string{"-r", "-d"}},
		{"値を取るフラグ", []string{"a.peb", "-o", "out"}, []string{"-o", "out", "a.peb"}},
		{"イコール付き", []string{"a.peb", "--base=0x100", "m.txt"}, []string{"--base=0x100", "a.peb", "m.txt"}},
		{"ブールフラグの後の位置引数", []string{"-r", "a.peb"}, []string{"-r", "a.peb"}},
		{"標準入力を示すハイフン", []string{"-"}, []string{"-"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := reorderArgs(tt.args)
			if strings.Join(got, " ") != strings.Join(tt.want, " ") {
				t.Errorf("reorderArgs(%q) = %q, want %q", tt.args, got, tt.want)
			}
		})
	}
}

func TestPrintHelp(t *testing.T) {
	var buf bytes.Buffer
	PrintHelp(&buf)

	for _, want := range []string{"Usage:", "pebble [options] <source> [manifest]", "--check", "PEBBLE_INCLUDE", DefaultLinkOutput} {
		if !strings.Contains(buf.String(), want) {
			t.Errorf("help does not mention %q", want)
		}
	}
}
