package scanner

import (
	"os"
	"path"
	"path/filepath"
	"strings"

	ignore "github.com/sabhiram/go-gitignore"

	"github.com/dshills/codeindex-mcp/internal/chunker"
)

// skipDirs are never descended into
var skipDirs = map[string]struct{}{
	"node_modules":  {},
	"vendor":        {},
	"__pycache__":   {},
	".git":          {},
	".hg":           {},
	".svn":          {},
	"venv":          {},
	".venv":         {},
	"env":           {},
	"build":         {},
	"dist":          {},
	"out":           {},
	"target":        {},
	"bin":           {},
	"obj":           {},
	"coverage":      {},
	".next":         {},
	".nuxt":         {},
	".cache":        {},
	".idea":         {},
	".vscode":       {},
	".tox":          {},
	".mypy_cache":   {},
	".pytest_cache": {},
	".ruff_cache":   {},
	".gradle":       {},
	".terraform":    {},
}

// Filter decides which paths under a root are indexed
type Filter struct {
	gitignore *ignore.GitIgnore
}

// NewFilter loads root/.gitignore if present
func NewFilter(root string) *Filter {
	f := &Filter{}
	if gi, err := ignore.CompileIgnoreFile(filepath.Join(root, ".gitignore")); err == nil {
		f.gitignore = gi
	}
	return f
}

// SkipDir reports whether a directory (slash-separated, relative to root)
// should be pruned
func (f *Filter) SkipDir(rel string) bool {
	name := path.Base(rel)
	if _, skip := skipDirs[name]; skip {
		return true
	}
	if strings.HasPrefix(name, ".") {
		return true
	}
	return f.gitignore != nil && f.gitignore.MatchesPath(rel+"/")
}

// IncludeFile reports whether a file (slash-separated, relative to root)
// is indexed. Ancestor directories are checked too so the watcher can use
// it on arbitrary paths.
func (f *Filter) IncludeFile(rel string) bool {
	if rel == "" || strings.HasPrefix(rel, "../") {
		return false
	}
	name := path.Base(rel)
	if strings.HasPrefix(name, ".") || !chunker.IsSupported(name) {
		return false
	}
	for dir := path.Dir(rel); dir != "." && dir != "/"; dir = path.Dir(dir) {
		if f.SkipDir(dir) {
			return false
		}
	}
	return f.gitignore == nil || !f.gitignore.MatchesPath(rel)
}

// relPath converts an absolute path under root to a slash-separated
// relative path
func relPath(root, p string) (string, bool) {
	rel, err := filepath.Rel(root, p)
	if err != nil {
		return "", false
	}
	rel = filepath.ToSlash(rel)
	if rel == "." || strings.HasPrefix(rel, "../") {
		return "", false
	}
	return rel, true
}

// discover walks root and returns indexable files in walk order plus the
// number skipped for size. Symlinks are not followed.
func discover(root string, f *Filter, maxSize int64) ([]string, int, error) {
	var (
		files     []string
		oversized int
	)

	err := filepath.WalkDir(root, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			if p == root {
				return err
			}
			return nil // unreadable entries are skipped
		}
		if p == root {
			return nil
		}

		rel, ok := relPath(root, p)
		if !ok {
			return nil
		}

		if d.IsDir() {
			if f.SkipDir(rel) {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Type()&os.ModeSymlink != 0 || !d.Type().IsRegular() {
			return nil
		}
		if !f.IncludeFile(rel) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return nil
		}
		if maxSize > 0 && info.Size() > maxSize {
			oversized++
			return nil
		}

		files = append(files, rel)
		return nil
	})

	return files, oversized, err
}
