package gitops

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/danmuck/n8nctl/internal/document"
	"github.com/danmuck/n8nctl/internal/manifest"
	"github.com/danmuck/n8nctl/internal/snapshot"
	"github.com/danmuck/n8nctl/internal/tools"
)

var (
	ErrValidation     = errors.New("gitops: validation failed")
	ErrApply          = errors.New("gitops: apply incomplete")
	ErrGitRefRequired = errors.New("gitops: rollback requires a git ref")
	ErrProjectExists  = errors.New("gitops: project directory is not empty")
)

// Source selects the tree a pipeline reads. An empty GitRef is the working
// tree. A non-nil Snapshot is used as-is.
type Source struct {
	RepoRoot string
	N8NRoot  string
	GitRef   string
	Runner   tools.CommandRunner
	Snapshot snapshot.Snapshot
}

func (s Source) n8nRoot() string {
	if r := strings.TrimSpace(s.N8NRoot); r != "" {
		return r
	}
	return manifest.DefaultRoot
}

func (s Source) open(ctx context.Context) (snapshot.Snapshot, error) {
	if s.Snapshot != nil {
		return s.Snapshot, nil
	}
	root := s.RepoRoot
	if root == "" {
		root = "."
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve repo root: %w", err)
	}
	runner := s.Runner
	if runner == nil {
		runner = tools.Git()
	}
	return snapshot.Open(ctx, abs, s.GitRef, runner)
}

// loaded is one opened snapshot with its validated manifest.
type loaded struct {
	snap     snapshot.Snapshot
	n8nRoot  string
	manifest manifest.Manifest
}

func (s Source) load(ctx context.Context) (loaded, error) {
	snap, err := s.open(ctx)
	if err != nil {
		return loaded{}, err
	}
	root := s.n8nRoot()
	m, err := manifest.Load(snap, root)
	if err != nil {
		return loaded{}, err
	}
	return loaded{snap: snap, n8nRoot: root, manifest: m}, nil
}

// readWorkflow reads and parses the document for spec.
func (l loaded) readWorkflow(spec manifest.WorkflowSpec) (document.Value, string, error) {
	rel, err := snapshot.JoinUnder(l.n8nRoot, spec.File())
	if err != nil {
		return document.Value{}, rel, err
	}
	data, err := l.snap.ReadFile(rel)
	if err != nil {
		return document.Value{}, rel, fmt.Errorf("workflow %q: %w", spec.Name, err)
	}
	doc, err := document.Parse(data)
	if err != nil {
		return document.Value{}, rel, fmt.Errorf("workflow %q: %s: %w", spec.Name, rel, err)
	}
	return doc, rel, nil
}

type credentialRef struct {
	Type string
	Name string
}

// credentialRefs lists node credential bindings as (type, name), sorted
// and deduplicated.
func credentialRefs(doc document.Value) []credentialRef {
	nodes, err := doc.Field("nodes")
	if err != nil {
		return nil
	}
	items, err := nodes.AsArray()
	if err != nil {
		return nil
	}
	seen := make(map[credentialRef]bool)
	var out []credentialRef
	for _, item := range items {
		creds, err := item.Field("credentials")
		if err != nil {
			continue
		}
		obj, err := creds.AsObject()
		if err != nil {
			continue
		}
		for _, typ := range obj.Keys() {
			v, _ := obj.Get(typ)
			name, err := v.StringField("name")
			if err != nil {
				continue
			}
			ref := credentialRef{Type: typ, Name: name}
			if !seen[ref] {
				seen[ref] = true
				out = append(out, ref)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Type != out[j].Type {
			return out[i].Type < out[j].Type
		}
		return out[i].Name < out[j].Name
	})
	return out
}
