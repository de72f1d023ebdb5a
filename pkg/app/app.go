package app

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"github.com/davecgh/go-spew/spew"

	"github.com/zurustar/pebble/pkg/cli"
	"github.com/zurustar/pebble/pkg/compiler"
	"github.com/zurustar/pebble/pkg/compiler/symbol"
	"github.com/zurustar/pebble/pkg/link"
	"github.com/zurustar/pebble/pkg/logger"
	"github.com/zurustar/pebble/pkg/opcode"
	"github.com/zurustar/pebble/pkg/script"
	"github.com/zurustar/pebble/pkg/vm"
)

// dumper はシンボルのダンプ設定（ポインタのアドレスを出さず出力を安定させる）
var dumper = spew.ConfigState{
	Indent:                  "  ",
	DisablePointerAddresses: true,
	DisableCapacities:       true,
	SortKeys:                true,
}

// Application はアプリケーションのメインロジックを管理する
type Application struct {
	config *cli.Config
	log    *slog.Logger

	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
}

// New 標準入出力を使うApplicationを作成
func New() *Application {
	return NewWithIO(os.Stdin, os.Stdout, os.Stderr)
}

// NewWithIO 入出力を指定してApplicationを作成
func NewWithIO(stdin io.Reader, stdout, stderr io.Writer) *Application {
	return &Application{
		stdin:  stdin,
		stdout: stdout,
		stderr: stderr,
	}
}

// Run アプリケーションを実行
func (app *Application) Run(args []string) error {
	return app.RunContext(context.Background(), args)
}

// RunContext キャンセル可能なコンテキストでアプリケーションを実行
func (app *Application) RunContext(ctx context.Context, args []string) error {
	// 1. コマンドライン引数の解析
	if err := app.parseArgs(args); err != nil {
		return fmt.Errorf("failed to parse args: %w", err)
	}

	if app.config.ShowHelp {
		cli.PrintHelp(app.stdout)
		return nil
	}

	// 2. ロガーの初期化
	if err := app.initLogger(); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	// 一括チェックモード
	if app.config.CheckDir != "" {
		return app.checkScripts(ctx)
	}

	// 3. 6502ランタイムの読み込み（ロードアドレスを決める）
	var routines *link.Library
	base := app.config.Base
	if app.config.Target == cli.Target6502 {
		lib, err := app.loadRoutines()
		if err != nil {
			return err
		}
		routines = lib
		if !app.config.BaseSet {
			org, ok := lib.Origin()
			if !ok {
				return fmt.Errorf("no .org address found in %s", app.config.RoutinesPath)
			}
			base = org
		}
	}

	// 4. コンパイル
	prog, err := app.compile(base)
	if err != nil {
		return err
	}

	// 5. デバッグ表示
	if app.config.Debug {
		if err := app.writeDebug(prog); err != nil {
			return fmt.Errorf("failed to write listing: %w", err)
		}
	}

	// 6. VMで実行
	if app.config.Run {
		if err := app.runProgram(ctx, prog); err != nil {
			return fmt.Errorf("failed to run %s: %w", app.config.SourcePath, err)
		}
	}

	// 7. 出力
	if app.config.OutputPath != "" {
		if err := app.writeOutput(prog, routines); err != nil {
			return fmt.Errorf("failed to write %s: %w", app.config.OutputPath, err)
		}
	}

	return nil
}

// parseArgs コマンドライン引数を解析
func (app *Application) parseArgs(args []string) error {
	config, err := cli.ParseArgs(args)
	if err != nil {
		return err
	}
	app.config = config
	return nil
}

// initLogger ロガーを初期化
func (app *Application) initLogger() error {
	if err := logger.InitLoggerWriter(app.config.LogLevel, app.stderr); err != nil {
		return err
	}
	app.log = logger.GetLogger()
	return nil
}

// options コンパイルオプションを作る
func (app *Application) options(base uint16) compiler.Options {
	opts := compiler.Options{
		Base:   base,
		Logger: app.log,
	}
	if app.config.IncludeDir != "" {
		opts.Library = os.DirFS(app.config.IncludeDir)
	}
	return opts
}

// compile ソースファイルをコンパイル
func (app *Application) compile(base uint16) (*compiler.Program, error) {
	app.log.Info("Compiling", "file", app.config.SourcePath, "target", app.config.Target,
		"base", fmt.Sprintf("%#04x", base))

	prog, err := compiler.CompileFile(app.config.SourcePath, app.options(base))
	if err != nil {
		return nil, err
	}

	app.log.Info("Compiled successfully",
		"bytes", len(prog.Image.Code),
		"functions", len(prog.Functions),
		"globals", len(prog.Globals))
	return prog, nil
}

// loadRoutines 6502ランタイムのルーチンライブラリを読み込む
func (app *Application) loadRoutines() (*link.Library, error) {
	f, err := os.Open(app.config.RoutinesPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open routine library: %w", err)
	}
	defer f.Close()

	lib, err := link.ParseRoutines(f)
	if err != nil {
		return nil, err
	}
	app.log.Debug("Routine library loaded", "file", app.config.RoutinesPath, "routines", len(lib.Routines))
	return lib, nil
}

// writeDebug 関数と変数のダンプ、リスティング、命令の使用頻度を表示
func (app *Application) writeDebug(prog *compiler.Program) error {
	w := app.stdout

	fmt.Fprintln(w, "Functions:")
	dumper.Fdump(w, prog.Functions)
	fmt.Fprintln(w, "Globals:")
	dumper.Fdump(w, prog.Globals)

	fmt.Fprintln(w, "Code:")
	lines, err := opcode.Disassemble(prog.Image.Code, prog.Image.Base)
	if err != nil {
		return err
	}
	if err := opcode.WriteListing(w, lines, prog.Labels(), app.config.Color); err != nil {
		return err
	}

	usage, err := link.Usage(prog.Image)
	if err != nil {
		return err
	}
	fmt.Fprintln(w, "Opcode usage:")
	for _, u := range sortUsage(usage) {
		fmt.Fprintf(w, "  %-34s %d\n", u.op, u.count)
	}
	return nil
}

type opcodeCount struct {
	op    opcode.Opcode
	count int
}

// sortUsage 使用回数の少ない順、同数なら命令番号順に並べる
func sortUsage(usage map[opcode.Opcode]int) []opcodeCount {
	counts := make([]opcodeCount, 0, len(usage))
	for op, n := range usage {
		counts = append(counts, opcodeCount{op, n})
	}
	sort.Slice(counts, func(i, j int) bool {
		if counts[i].count != counts[j].count {
			return counts[i].count < counts[j].count
		}
		return counts[i].op < counts[j].op
	})
	return counts
}

// runProgram VMでプログラムを実行し、最後のスタックを表示
func (app *Application) runProgram(ctx context.Context, prog *compiler.Program) error {
	handler := vm.ConsoleSyscalls(app.stdout)
	if app.config.Interactive {
		handler = vm.PromptSyscalls(app.stdin, app.stdout)
	}

	m := vm.New(
		vm.WithLogger(app.log),
		vm.WithSyscallHandler(handler),
		vm.WithMaxSteps(app.config.MaxSteps),
		vm.WithTrace(app.config.LogLevel == "debug"),
	)
	if err := m.Load(prog.Image); err != nil {
		return err
	}

	if app.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, app.config.Timeout)
		defer cancel()
	}

	app.log.Info("Running", "start", fmt.Sprintf("%#04x", prog.Image.Start))
	stack, err := m.RunContext(ctx, prog.Image.Start)
	if err != nil {
		return err
	}
	app.log.Info("Program finished",
		"steps", m.Steps(),
		"pc", fmt.Sprintf("%#04x", m.PC()),
		"sp", fmt.Sprintf("%#04x", m.SP()),
		"fp", fmt.Sprintf("%#04x", m.FP()))

	fmt.Fprintf(app.stdout, "Stack: [% x]\n", stack)
	if app.config.Debug {
		return app.writeGlobals(m, prog.Globals)
	}
	return nil
}

// writeGlobals 実行後の大域変数の値をメモリから読んで表示
func (app *Application) writeGlobals(m *vm.Machine, globals []symbol.Variable) error {
	fmt.Fprintln(app.stdout, "Global values:")
	addr := m.StackBase()
	for _, g := range globals {
		v, err := m.Peek(addr, g.Size)
		if err != nil {
			return err
		}
		fmt.Fprintf(app.stdout, "  %-16s $%04x [% x]\n", g.Name, addr, v)
		addr += g.Size
	}
	return nil
}

// writeOutput バイトコードまたは6502用のアセンブラソースを書き出す
func (app *Application) writeOutput(prog *compiler.Program, routines *link.Library) error {
	if routines == nil {
		app.log.Info("Writing byte code", "file", app.config.OutputPath, "bytes", len(prog.Image.Code))
		return os.WriteFile(app.config.OutputPath, prog.Image.Code, 0o644)
	}

	var files []link.ManifestEntry
	if app.config.ManifestPath != "" {
		entries, err := app.loadManifest()
		if err != nil {
			return err
		}
		files = entries
	}

	// リンクに失敗したときに書きかけのファイルを残さない
	var buf bytes.Buffer
	if err := link.Link(&buf, routines, prog.Image, files); err != nil {
		return err
	}
	app.log.Info("Writing linked program", "file", app.config.OutputPath, "files", len(files))
	return os.WriteFile(app.config.OutputPath, buf.Bytes(), 0o644)
}

// loadManifest マニフェストを読み込み、各ファイルの存在を確認する
func (app *Application) loadManifest() ([]link.ManifestEntry, error) {
	f, err := os.Open(app.config.ManifestPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest file: %w", err)
	}
	defer f.Close()

	entries, err := link.ParseManifest(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", app.config.ManifestPath, err)
	}

	dir := filepath.Dir(app.config.ManifestPath)
	for _, e := range entries {
		// ソースから作るファイルはまだ存在しなくてよい
		if e.Source != "" {
			continue
		}
		if _, err := os.Stat(filepath.Join(dir, e.Object)); err != nil {
			return nil, fmt.Errorf("failed to open file found in manifest: %w", err)
		}
	}
	return entries, nil
}

// checkScripts ディレクトリ内のサンプルを一括コンパイルして結果を表示
// 名前が"fail"で終わるファイルはコンパイルに失敗することが期待される
func (app *Application) checkScripts(ctx context.Context) error {
	loader := script.NewLoader(app.config.CheckDir)
	scripts, err := loader.LoadAllScripts()
	if err != nil {
		return fmt.Errorf("failed to load scripts: %w", err)
	}
	app.log.Info("Scripts loaded", "count", len(scripts))

	opts := app.options(app.config.Base)
	opts.Source = loader.FS()
	results, err := compiler.CompileScripts(ctx, scripts, opts)
	if err != nil {
		return err
	}

	failed := 0
	for _, r := range results {
		switch {
		case r.Err == nil && !r.Script.ExpectFail:
			fmt.Fprintf(app.stdout, "%s passed\n", r.Script.FileName)
		case r.Err == nil:
			fmt.Fprintf(app.stdout, "%s passed but was expected to fail\n", r.Script.FileName)
		case r.Script.ExpectFail:
			fmt.Fprintf(app.stdout, "%s failed as expected\n", r.Script.FileName)
		default:
			fmt.Fprintf(app.stdout, "%s failed %v\n", r.Script.FileName, r.Err)
		}
		if r.Failed() {
			failed++
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d scripts did not compile as expected", failed, len(results))
	}
	return nil
}
