package gitops

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/danmuck/n8nctl/internal/config"
	"github.com/danmuck/n8nctl/internal/invocation"
	"github.com/danmuck/n8nctl/internal/manifest"
)

// CreateProject scaffolds a new project at dir. dir may be missing or an
// empty directory.
func CreateProject(scope invocation.Scope, dir string, n8nRoot string) ([]string, error) {
	if n8nRoot == "" {
		n8nRoot = manifest.DefaultRoot
	}
	entries, err := os.ReadDir(dir)
	switch {
	case err == nil && len(entries) > 0:
		return nil, fmt.Errorf("%w: %s", ErrProjectExists, dir)
	case err != nil && !os.IsNotExist(err):
		return nil, err
	}

	var written []string
	for _, f := range config.Scaffold(n8nRoot) {
		p := filepath.Join(dir, filepath.FromSlash(f.Path))
		if err := config.WriteTemplate(p, f.Kind, false); err != nil {
			return written, fmt.Errorf("scaffold %s: %w", f.Path, err)
		}
		written = append(written, f.Path)
		scope.Logger.Debug().Str("file", f.Path).Msg("scaffolded")
	}

	out := scope.Output()
	fmt.Fprintf(out, "Created project at %s\n", dir)
	for _, p := range written {
		fmt.Fprintf(out, "  %s\n", p)
	}
	return written, nil
}
