package cli

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"
)

// ターゲットアーキテクチャ
const (
	TargetVM   = "vm"
	Target6502 = "6502"
)

// DefaultLinkOutput は6502ターゲットで-oが省略されたときの出力ファイル
const DefaultLinkOutput = "program.oph"

// Config はコマンドライン引数から解析された設定を保持する
type Config struct {
	SourcePath   string        // コンパイルするソースファイル
	ManifestPath string        // 6502ターゲットで同梱するファイルの一覧（省略可）
	Target       string        // 出力ターゲット（vm, 6502）
	OutputPath   string        // 出力ファイル（空なら書き出さない）
	Debug        bool          // リスティングとシンボルを表示
	Color        bool          // リスティングを色付きで表示
	Run          bool          // VMで実行
	Interactive  bool          // システムコールの結果を標準入力から読む
	IncludeDir   string        // includeの検索ディレクトリ
	Base         uint16        // コードのロードアドレス
	BaseSet      bool          // -baseが指定されたかどうか
	RoutinesPath string        // 6502ランタイムのルーチンライブラリ
	CheckDir     string        // サンプルを一括コンパイルするディレクトリ
	Timeout      time.Duration // VM実行のタイムアウト（0は無制限）
	MaxSteps     int64         // VM実行の命令数上限（0は無制限）
	LogLevel     string        // ログレベル（debug, info, warn, error）
	ShowHelp     bool          // ヘルプ表示フラグ
}

// boolFlags は値を取らないフラグ
var boolFlags = map[string]bool{
	"d":           true,
	"debug":       true,
	"r":           true,
	"run":         true,
	"i":           true,
	"interactive": true,
	"color":       true,
	"h":           true,
	"help":        true,
}

// ParseArgs コマンドライン引数を解析してConfigを返す
func ParseArgs(args []string) (*Config, error) {
	// 引数を並べ替え：フラグを前に、位置引数を後ろに
	reorderedArgs := reorderArgs(args)

	fs := flag.NewFlagSet("pebble", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	config := &Config{}

	var base string
	var timeoutSec int
	fs.StringVar(&config.Target, "target", TargetVM, "ターゲット（vm, 6502）")
	fs.StringVar(&config.Target, "t", TargetVM, "ターゲット（短縮形）")
	fs.StringVar(&config.OutputPath, "output", "", "出力ファイル")
	fs.StringVar(&config.OutputPath, "o", "", "出力ファイル（短縮形）")
	fs.BoolVar(&config.Debug, "debug", false, "リスティングとシンボルを表示")
	fs.BoolVar(&config.Debug, "d", false, "リスティングとシンボルを表示（短縮形）")
	fs.BoolVar(&config.Color, "color", false, "リスティングを色付きで表示")
	fs.BoolVar(&config.Run, "run", false, "VMで実行")
	fs.BoolVar(&config.Run, "r", false, "VMで実行（短縮形）")
	fs.BoolVar(&config.Interactive, "interactive", false, "システムコールの結果を入力")
	fs.BoolVar(&config.Interactive, "i", false, "システムコールの結果を入力（短縮形）")
	fs.StringVar(&config.IncludeDir, "I", "", "includeの検索ディレクトリ")
	fs.StringVar(&base, "base", "", "ロードアドレス")
	fs.StringVar(&config.RoutinesPath, "routines", "", "6502ルーチンライブラリ")
	fs.StringVar(&config.CheckDir, "check", "", "ディレクトリ内のサンプルを一括コンパイル")
	fs.IntVar(&timeoutSec, "timeout", 0, "実行のタイムアウト（秒）")
	fs.Int64Var(&config.MaxSteps, "steps", 0, "実行する命令数の上限")
	fs.StringVar(&config.LogLevel, "log-level", "info", "ログレベル（debug, info, warn, error）")
	fs.StringVar(&config.LogLevel, "l", "info", "ログレベル（短縮形）")
	fs.BoolVar(&config.ShowHelp, "help", false, "ヘルプを表示")
	fs.BoolVar(&config.ShowHelp, "h", false, "ヘルプを表示（短縮形）")

	if err := fs.Parse(reorderedArgs); err != nil {
		return nil, err
	}

	// 環境変数からの設定（コマンドラインフラグが優先）
	if config.LogLevel == "info" {
		if logLevelEnv := os.Getenv("LOG_LEVEL"); logLevelEnv != "" {
			config.LogLevel = strings.ToLower(logLevelEnv)
		}
	}
	if config.IncludeDir == "" {
		config.IncludeDir = os.Getenv("PEBBLE_INCLUDE")
	}
	if timeoutSec == 0 {
		if timeoutEnv := os.Getenv("TIMEOUT"); timeoutEnv != "" {
			if t, err := strconv.Atoi(timeoutEnv); err == nil && t > 0 {
				timeoutSec = t
			}
		}
	}

	if config.ShowHelp {
		return config, nil
	}

	// ログレベルの検証
	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[config.LogLevel] {
		return nil, fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", config.LogLevel)
	}

	if timeoutSec < 0 {
		return nil, fmt.Errorf("timeout must be non-negative, got %d", timeoutSec)
	}
	config.Timeout = time.Duration(timeoutSec) * time.Second
	if config.MaxSteps < 0 {
		return nil, fmt.Errorf("steps must be non-negative, got %d", config.MaxSteps)
	}

	if config.Target != TargetVM && config.Target != Target6502 {
		return nil, fmt.Errorf("unknown target architecture: %s (must be vm or 6502)", config.Target)
	}

	if base != "" {
		v, err := strconv.ParseUint(base, 0, 16)
		if err != nil {
			return nil, fmt.Errorf("invalid base address %q: must be a 16-bit number", base)
		}
		config.Base = uint16(v)
		config.BaseSet = true
	}

	// 一括チェックモードでは位置引数を取らない
	if config.CheckDir != "" {
		if fs.NArg() > 0 {
			return nil, fmt.Errorf("--check does not take a source file")
		}
		return config, nil
	}

	// 位置引数（ソースファイルとマニフェスト）
	switch fs.NArg() {
	case 0:
		return nil, fmt.Errorf("no source file given")
	case 1, 2:
		config.SourcePath = fs.Arg(0)
		config.ManifestPath = fs.Arg(1)
	default:
		return nil, fmt.Errorf("too many arguments: %s", strings.Join(fs.Args()[2:], " "))
	}

	if config.Target == Target6502 {
		if config.RoutinesPath == "" {
			return nil, fmt.Errorf("the 6502 target needs a routine library (-routines)")
		}
		if config.Run {
			return nil, fmt.Errorf("-r runs the vm target only")
		}
		if config.OutputPath == "" {
			config.OutputPath = DefaultLinkOutput
		}
	} else if config.ManifestPath != "" {
		return nil, fmt.Errorf("a manifest is only used by the 6502 target")
	}

	return config, nil
}

// reorderArgs 引数を並べ替えて、フラグを前に、位置引数を後ろに配置する
func reorderArgs(args []string) []string {
	var flags []string
	var positional []string

	for i := 0; i < len(args); i++ {
		arg := args[i]

		// フラグかどうかを判定（-または--で始まる）
		if len(arg) > 1 && arg[0] == '-' {
			flags = append(flags, arg)

			name := strings.TrimLeft(arg, "-")
			if strings.Contains(name, "=") || boolFlags[name] {
				continue
			}
			// 値を取るフラグは次の引数も追加（-base 0x1900 のような場合）
			if i+1 < len(args) {
				i++
				flags = append(flags, args[i])
			}
		} else {
			// 位置引数
			positional = append(positional, arg)
		}
	}

	// フラグを前に、位置引数を後ろに配置
	return append(flags, positional...)
}

// PrintHelp ヘルプメッセージを表示
func PrintHelp(w io.Writer) {
	fmt.Fprintf(w, `pebble - indented language compiler

Usage:
  pebble [options] <source> [manifest]
  pebble --check <directory>

Arguments:
  source        コンパイルするソースファイル（.peb, .txt）
  manifest      6502ターゲットで同梱するファイルの一覧（省略可）
                各行: [ソース] オブジェクト ロードアドレス 実行アドレス

Options:
  -t, --target <target>       ターゲット: vm, 6502（デフォルト: vm）
  -o, --output <file>         生成したコードを書き出す（6502のデフォルト: %s）
  -d, --debug                 リスティング、シンボル、命令の使用頻度を表示
  --color                     リスティングを色付きで表示
  -r, --run                   VMで実行して最後のスタックを表示
  -i, --interactive           システムコールの結果を標準入力から読む
  -I <dir>                    includeの検索ディレクトリ
  -base <addr>                ロードアドレス（例: 0x1900）
  -routines <file>            6502ランタイムのルーチンライブラリ（.oph）
  --check <dir>               ディレクトリ内のサンプルを一括コンパイル
                              名前が"fail"で終わるファイルは失敗が期待される
  --timeout <seconds>         実行のタイムアウト（デフォルト: 無制限）
  --steps <n>                 実行する命令数の上限（デフォルト: 無制限）
  -l, --log-level <level>     ログレベル: debug, info, warn, error（デフォルト: info）
  -h, --help                  このヘルプを表示

Environment Variables:
  LOG_LEVEL=<level>           ログレベル
  PEBBLE_INCLUDE=<dir>        includeの検索ディレクトリ
  TIMEOUT=<seconds>           実行のタイムアウト（秒）

Examples:
  pebble -r Examples/loop.txt             VMで実行
  pebble -d -o loop.bin Examples/loop.txt リスティングを表示してバイトコードを保存
  pebble -t 6502 -routines routines.oph game.peb manifest.txt
  pebble --check Examples                 サンプルを一括チェック
`, DefaultLinkOutput)
}
