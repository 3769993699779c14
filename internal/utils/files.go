package utils

import (
	"bufio"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	ignore "github.com/sabhiram/go-gitignore"
)

// IgnoredDirs are never listed, reviewed or watched
var IgnoredDirs = []string{
	"venv", ".venv", "env", "__pycache__", ".git", ".mypy_cache",
	".pytest_cache", ".idea", ".vscode", "node_modules", "target", "reports",
}

// IsIgnoredDir reports whether a directory base name is in IgnoredDirs
func IsIgnoredDir(name string) bool {
	return IsInSlice(IgnoredDirs, name)
}

// IgnoreRules combines the built-in ignored dirs with root/.gitignore
type IgnoreRules struct {
	root      string
	gitignore *ignore.GitIgnore
}

// LoadIgnoreRules reads root/.gitignore if present
func LoadIgnoreRules(root string) *IgnoreRules {
	var lines []string
	if f, err := os.Open(filepath.Join(root, ".gitignore")); err == nil {
		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line != "" && !strings.HasPrefix(line, "#") {
				lines = append(lines, line)
			}
		}
		f.Close()
	}
	return &IgnoreRules{root: root, gitignore: ignore.CompileIgnoreLines(lines...)}
}

// Ignored reports whether path (absolute or relative to root) should be skipped
func (r *IgnoreRules) Ignored(path string, isDir bool) bool {
	rel := path
	if filepath.IsAbs(path) {
		if p, err := filepath.Rel(r.root, path); err == nil {
			rel = p
		}
	}
	rel = filepath.ToSlash(rel)
	if rel == "." || rel == "" {
		return false
	}

	for _, part := range strings.Split(rel, "/") {
		if IsIgnoredDir(part) {
			// a file literally named "env" is fine, only directories count
			if part != filepath.Base(rel) || isDir {
				return true
			}
		}
	}

	if r.gitignore == nil {
		return false
	}
	if isDir {
		return r.gitignore.MatchesPath(rel + "/")
	}
	return r.gitignore.MatchesPath(rel)
}

// ListProjectFiles returns supported files under root, relative and sorted
func ListProjectFiles(root string) ([]string, error) {
	rules := LoadIgnoreRules(root)
	var out []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if path != root && rules.Ignored(path, true) {
				return filepath.SkipDir
			}
			return nil
		}
		if !IsSupportedFile(path) || rules.Ignored(path, false) {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return nil
		}
		out = append(out, filepath.ToSlash(rel))
		return nil
	})
	sort.Strings(out)
	return out, err
}

// GatherFiles returns path itself when it is a file with one of exts, or every
// such file below it when it is a directory. Ignored directories are skipped.
func GatherFiles(path string, exts ...string) ([]string, error) {
	match := func(p string) bool {
		ext := strings.ToLower(filepath.Ext(p))
		for _, e := range exts {
			if ext == e {
				return true
			}
		}
		return false
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		if match(path) {
			return []string{path}, nil
		}
		return nil, nil
	}

	var out []string
	err = filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if p != path && IsIgnoredDir(d.Name()) {
				return filepath.SkipDir
			}
			return nil
		}
		if match(p) {
			out = append(out, p)
		}
		return nil
	})
	sort.Strings(out)
	return out, err
}
