package script

import (
	"fmt"
	"io/fs"
	"os"
	"path"
	"sort"
	"strings"

	"github.com/zurustar/pebble/pkg/compiler/include"
)

// Extensions はソースファイルとして扱う拡張子
var Extensions = []string{".peb", ".txt"}

// Script はスクリプトファイルを表す
type Script struct {
	FileName   string // ディレクトリからの相対パス
	Content    string // UTF-8に変換された内容
	Size       int64  // ファイルサイズ
	ExpectFail bool   // コンパイルエラーになるべきファイル
}

// Loader はスクリプトファイルの読み込みを行う
type Loader struct {
	fsys fs.FS
	root string
}

// NewLoader ディレクトリを読むLoaderを作成
func NewLoader(dir string) *Loader {
	return &Loader{
		fsys: os.DirFS(dir),
		root: dir,
	}
}

// NewLoaderFS 任意のファイルシステムを読むLoaderを作成
func NewLoaderFS(fsys fs.FS) *Loader {
	return &Loader{
		fsys: fsys,
		root: ".",
	}
}

// FS スクリプトを読むファイルシステムを返す（include解決用）
func (l *Loader) FS() fs.FS {
	return l.fsys
}

// LoadAllScripts すべてのソースファイルを名前順に読み込む
func (l *Loader) LoadAllScripts() ([]Script, error) {
	scriptFiles, err := l.findScriptFiles()
	if err != nil {
		return nil, fmt.Errorf("failed to find script files: %w", err)
	}

	if len(scriptFiles) == 0 {
		return nil, fmt.Errorf("no script files found in %s", l.root)
	}

	scripts := make([]Script, 0, len(scriptFiles))
	for _, name := range scriptFiles {
		script, err := l.loadScript(name)
		if err != nil {
			return nil, fmt.Errorf("failed to load script %s: %w", name, err)
		}
		scripts = append(scripts, *script)
	}

	return scripts, nil
}

// findScriptFiles ソースファイルを検出（拡張子はcase-insensitive）
func (l *Loader) findScriptFiles() ([]string, error) {
	var scriptFiles []string

	err := fs.WalkDir(l.fsys, ".", func(name string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if IsSource(name) {
			scriptFiles = append(scriptFiles, name)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Strings(scriptFiles)
	return scriptFiles, nil
}

// loadScript 単一のスクリプトファイルを読み込む
func (l *Loader) loadScript(name string) (*Script, error) {
	data, err := fs.ReadFile(l.fsys, name)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	// UTF-8でなければISO-8859-1として読む
	content, err := include.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("failed to convert encoding: %w", err)
	}

	return &Script{
		FileName:   name,
		Content:    content,
		Size:       int64(len(data)),
		ExpectFail: ExpectsFailure(name),
	}, nil
}

// IsSource 拡張子がソースファイルのものか判定
func IsSource(name string) bool {
	ext := path.Ext(name)
	for _, e := range Extensions {
		if strings.EqualFold(ext, e) {
			return true
		}
	}
	return false
}

// ExpectsFailure ファイル名が "fail" で終わるものはコンパイル失敗を期待する
func ExpectsFailure(name string) bool {
	base := path.Base(name)
	base = strings.TrimSuffix(base, path.Ext(base))
	return strings.HasSuffix(strings.ToLower(base), "fail")
}
