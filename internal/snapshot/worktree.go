package snapshot

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// WorkingTree reads the live file tree under root.
type WorkingTree struct {
	root string
}

// NewWorkingTree binds a snapshot to root, resolved to an absolute path.
func NewWorkingTree(root string) (*WorkingTree, error) {
	r := strings.TrimSpace(root)
	if r == "" {
		r = "."
	}
	abs, err := filepath.Abs(r)
	if err != nil {
		return nil, err
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		abs = resolved
	}
	return &WorkingTree{root: abs}, nil
}

// Root returns the absolute root directory.
func (w *WorkingTree) Root() string { return w.root }

func (w *WorkingTree) Describe() string {
	return "working tree " + w.root
}

func (w *WorkingTree) Exists(rel string) bool {
	p, err := w.resolve(rel)
	if err != nil {
		return false
	}
	info, err := os.Stat(p)
	return err == nil && !info.IsDir()
}

func (w *WorkingTree) ReadFile(rel string) ([]byte, error) {
	p, err := w.resolve(rel)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, notFound(rel)
		}
		return nil, fmt.Errorf("snapshot: read %s: %w", rel, err)
	}
	return data, nil
}

func (w *WorkingTree) ReadText(rel string) (string, error) {
	data, err := w.ReadFile(rel)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (w *WorkingTree) resolve(rel string) (string, error) {
	c, err := CleanPath(rel)
	if err != nil {
		return "", err
	}
	p := filepath.Join(w.root, filepath.FromSlash(c))
	// Symlinks must not lead outside the tree.
	if resolved, err := filepath.EvalSymlinks(p); err == nil {
		if !isWithin(resolved, w.root) {
			return "", fmt.Errorf("%w: %q", ErrPathEscape, rel)
		}
		p = resolved
	}
	return p, nil
}

func isWithin(p string, root string) bool {
	rel, err := filepath.Rel(filepath.Clean(root), filepath.Clean(p))
	if err != nil {
		return false
	}
	return rel == "." || (!strings.HasPrefix(rel, ".."+string(os.PathSeparator)) && rel != "..")
}
