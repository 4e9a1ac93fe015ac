package snapshot

import (
	"context"
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"strings"

	"github.com/danmuck/n8nctl/internal/tools"
)

var (
	ErrNotFound   = errors.New("snapshot: file not found")
	ErrPathEscape = errors.New("snapshot: path escapes root")
	ErrUnknownRef = errors.New("snapshot: unknown git ref")
)

// Snapshot is a read-only file tree pinned for the length of one run.
// Paths are slash-separated and relative to the repository root.
type Snapshot interface {
	Exists(rel string) bool
	ReadFile(rel string) ([]byte, error)
	ReadText(rel string) (string, error)
	Describe() string
}

// Open returns the working tree when ref is empty, otherwise a historical
// snapshot pinned to the commit ref resolves to right now.
func Open(ctx context.Context, root string, ref string, runner tools.CommandRunner) (Snapshot, error) {
	if strings.TrimSpace(ref) == "" {
		return NewWorkingTree(root)
	}
	return NewHistorical(ctx, root, ref, runner)
}

// CleanPath normalizes rel and rejects absolute or escaping paths.
func CleanPath(rel string) (string, error) {
	raw := strings.TrimSpace(rel)
	if raw == "" {
		return "", fmt.Errorf("%w: empty path", ErrPathEscape)
	}
	slashed := filepath.ToSlash(raw)
	if path.IsAbs(slashed) || filepath.IsAbs(raw) || filepath.VolumeName(raw) != "" {
		return "", fmt.Errorf("%w: absolute path %q", ErrPathEscape, rel)
	}
	c := path.Clean(slashed)
	if c == ".." || strings.HasPrefix(c, "../") {
		return "", fmt.Errorf("%w: %q", ErrPathEscape, rel)
	}
	return c, nil
}

// JoinUnder joins rel onto base and requires the result to stay under base.
func JoinUnder(base string, rel string) (string, error) {
	cleanRel, err := CleanPath(rel)
	if err != nil {
		return "", err
	}
	b := path.Clean(filepath.ToSlash(strings.TrimSpace(base)))
	if b == "" || b == "." {
		return cleanRel, nil
	}
	joined := path.Join(b, cleanRel)
	if joined != b && !strings.HasPrefix(joined, b+"/") {
		return "", fmt.Errorf("%w: %q is outside %q", ErrPathEscape, rel, base)
	}
	return joined, nil
}

func notFound(rel string) error {
	return fmt.Errorf("%w: %s", ErrNotFound, rel)
}
