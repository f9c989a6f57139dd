// Package selector resolves a selection configuration into the ordered set
// of script files to profile.
package selector

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

var (
	// ErrTargetNotFound is returned when an explicit file is missing,
	// unreadable, or not a script.
	ErrTargetNotFound = errors.New("target not found")
	// ErrSelectionEmpty is returned when nothing matched the selection.
	ErrSelectionEmpty = errors.New("no script files matched the selection")
)

// DefaultExtensions lists the script extensions selected when none are configured.
var DefaultExtensions = []string{".py"}

// Mode is the effective selection mode after precedence is applied.
type Mode int

const (
	ModeWorkingDir Mode = iota
	ModeFile
	ModeRecursive
)

func (m Mode) String() string {
	switch m {
	case ModeFile:
		return "file"
	case ModeRecursive:
		return "recursive"
	default:
		return "working-dir"
	}
}

// Options describes one selection. BaseDir replaces any change of the
// process working directory; an empty BaseDir means the current one.
type Options struct {
	BaseDir    string
	File       string
	WorkingDir bool
	Recursive  bool
	Extensions []string
}

// Mode applies the precedence Recursive > File > WorkingDir. WorkingDir is
// also the fallback when nothing is set.
func (o Options) Mode() Mode {
	switch {
	case o.Recursive:
		return ModeRecursive
	case o.File != "":
		return ModeFile
	default:
		return ModeWorkingDir
	}
}

// Target is one script to profile.
type Target struct {
	Path string // absolute path
	Rel  string // path relative to the base directory
}

// Select returns the targets for opts, sorted by relative path.
func Select(opts Options) ([]Target, error) {
	base, err := resolveBase(opts.BaseDir)
	if err != nil {
		return nil, err
	}
	exts := opts.Extensions
	if len(exts) == 0 {
		exts = DefaultExtensions
	}

	var targets []Target
	switch opts.Mode() {
	case ModeFile:
		t, err := selectFile(base, opts.File, exts)
		if err != nil {
			return nil, err
		}
		return []Target{t}, nil
	case ModeRecursive:
		targets, err = walk(base, exts)
	default:
		targets, err = listDir(base, exts)
	}
	if err != nil {
		return nil, err
	}
	if len(targets) == 0 {
		return nil, fmt.Errorf("%w: %s mode under %s", ErrSelectionEmpty, opts.Mode(), base)
	}
	sort.Slice(targets, func(i, j int) bool { return targets[i].Rel < targets[j].Rel })
	return targets, nil
}

func resolveBase(dir string) (string, error) {
	if dir == "" {
		dir = "."
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("%w: base directory %q: %v", ErrSelectionEmpty, dir, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", fmt.Errorf("%w: base directory %q: %v", ErrSelectionEmpty, dir, err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("%w: base directory %q is not a directory", ErrSelectionEmpty, dir)
	}
	return abs, nil
}

func selectFile(base, file string, exts []string) (Target, error) {
	path := file
	if !filepath.IsAbs(path) {
		path = filepath.Join(base, path)
	}
	path = filepath.Clean(path)

	info, err := os.Stat(path)
	if err != nil {
		return Target{}, fmt.Errorf("%w: %s: %v", ErrTargetNotFound, file, err)
	}
	if !info.Mode().IsRegular() {
		return Target{}, fmt.Errorf("%w: %s is not a regular file", ErrTargetNotFound, file)
	}
	if !isScript(path, exts) {
		return Target{}, fmt.Errorf("%w: %s is not a script file (%s)", ErrTargetNotFound, file, strings.Join(exts, ", "))
	}
	f, err := os.Open(path)
	if err != nil {
		return Target{}, fmt.Errorf("%w: %s: %v", ErrTargetNotFound, file, err)
	}
	_ = f.Close()

	return newTarget(base, path), nil
}

func listDir(base string, exts []string) ([]Target, error) {
	entries, err := os.ReadDir(base)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSelectionEmpty, err)
	}
	var targets []Target
	for _, e := range entries {
		path := filepath.Join(base, e.Name())
		if !isScript(e.Name(), exts) || !isRegular(path, e) {
			continue
		}
		targets = append(targets, newTarget(base, path))
	}
	return targets, nil
}

// walk visits the whole tree under base. Hidden directories and
// __pycache__ are pruned; unreadable subdirectories are skipped. Symlinked
// directories are not descended into.
func walk(base string, exts []string) ([]Target, error) {
	var targets []Target
	err := filepath.WalkDir(base, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == base {
				return err
			}
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			if path != base && skipDir(d.Name()) {
				return fs.SkipDir
			}
			return nil
		}
		if isScript(d.Name(), exts) && isRegular(path, d) {
			targets = append(targets, newTarget(base, path))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSelectionEmpty, err)
	}
	return targets, nil
}

// isRegular accepts regular files and symlinks that resolve to one. Dangling
// links are dropped.
func isRegular(path string, d fs.DirEntry) bool {
	if d.Type().IsRegular() {
		return true
	}
	if d.Type()&fs.ModeSymlink == 0 {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

func skipDir(name string) bool {
	return strings.HasPrefix(name, ".") || name == "__pycache__"
}

func isScript(name string, exts []string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, e := range exts {
		if strings.EqualFold(ext, e) {
			return true
		}
	}
	return false
}

func newTarget(base, path string) Target {
	rel, err := filepath.Rel(base, path)
	if err != nil {
		rel = path
	}
	return Target{Path: path, Rel: rel}
}
