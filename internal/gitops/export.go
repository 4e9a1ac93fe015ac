package gitops

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/danmuck/n8nctl/internal/document"
	"github.com/danmuck/n8nctl/internal/invocation"
	"github.com/danmuck/n8nctl/internal/manifest"
	"github.com/danmuck/n8nctl/internal/remote"
	"github.com/danmuck/n8nctl/internal/render"
	"github.com/danmuck/n8nctl/internal/snapshot"
	"gopkg.in/yaml.v3"
)

// VolatileFields are host-managed keys removed from exported documents.
// tags is included because it carries instance-local ids; the manifest
// records tags by name.
var VolatileFields = []string{"id", "createdAt", "updatedAt", "versionId", "shared", "isArchived", "triggerCount", "tags"}

const CredentialsFile = "credentials.yaml"

type ExportOptions struct {
	RepoRoot string
	N8NRoot  string
	// ExternalizeCode overrides the existing manifest's setting. nil keeps
	// it, defaulting to true when there is no readable manifest.
	ExternalizeCode *bool
}

type ExportResult struct {
	Workflows    []string
	Scripts      int
	Credentials  int
	Skipped      []string
	ManifestPath string
}

// Export mirrors the remote workflow set into the working tree: every
// workflow document, its externalized code, credentials.yaml and a
// regenerated manifest. Files of workflows no longer present are removed.
func Export(ctx context.Context, scope invocation.Scope, opts ExportOptions, store remote.Store) (ExportResult, error) {
	var result ExportResult
	src := Source{RepoRoot: opts.RepoRoot, N8NRoot: opts.N8NRoot}
	repo, err := filepath.Abs(orDot(opts.RepoRoot))
	if err != nil {
		return result, fmt.Errorf("resolve repo root: %w", err)
	}
	root := filepath.Join(repo, filepath.FromSlash(src.n8nRoot()))
	log := scope.Logger.With().Str("root", root).Logger()

	previous := previousManifest(repo, src.n8nRoot())
	externalize := previous.ExternalizeCode
	if opts.ExternalizeCode != nil {
		externalize = *opts.ExternalizeCode
	}

	tags, err := store.ListTags(ctx)
	if err != nil {
		return result, err
	}
	tagNames := make(map[string]string, len(tags))
	for _, t := range tags {
		tagNames[t.ID] = t.Name
	}
	summaries, err := store.ListWorkflows(ctx)
	if err != nil {
		return result, err
	}

	if err := cleanExportTree(root); err != nil {
		return result, err
	}

	seen := make(map[string]bool, len(summaries))
	creds := make(map[string]map[string][]string)
	var specs []manifest.WorkflowSpec
	for _, summary := range summaries {
		if summary.Archived {
			continue
		}
		if seen[summary.Name] {
			log.Warn().Str("workflow", summary.Name).Str("id", summary.ID).Msg("duplicate remote name; skipped")
			result.Skipped = append(result.Skipped, summary.Name)
			continue
		}
		seen[summary.Name] = true

		wf, err := store.GetWorkflow(ctx, summary.ID)
		if err != nil {
			return result, err
		}
		doc := stripVolatile(wf.Document)

		refs := credentialRefs(doc)
		credNames := make([]string, 0, len(refs))
		for _, ref := range refs {
			byName := creds[ref.Type]
			if byName == nil {
				byName = make(map[string][]string)
				creds[ref.Type] = byName
			}
			byName[ref.Name] = append(byName[ref.Name], wf.Name)
			credNames = appendUnique(credNames, ref.Name)
		}
		sort.Strings(credNames)

		if externalize {
			var files []render.ScriptFile
			doc, files = render.Externalize(doc, wf.Name)
			for _, f := range files {
				if err := writeUnder(root, f.Path, f.Content); err != nil {
					return result, err
				}
			}
			result.Scripts += len(files)
		}

		spec := manifest.WorkflowSpec{Name: wf.Name, Active: wf.Active}
		if err := writeUnder(root, spec.File(), doc.Pretty()); err != nil {
			return result, err
		}
		for _, id := range wf.TagIDs {
			if name, ok := tagNames[id]; ok {
				spec.Tags = append(spec.Tags, name)
			}
		}
		sort.Strings(spec.Tags)
		spec.RequiresCredentials = credNames
		if prev, ok := previous.Workflow(wf.Name); ok {
			spec.RequiresEnv = prev.RequiresEnv
		}
		specs = append(specs, spec)
		result.Workflows = append(result.Workflows, wf.Name)
		log.Debug().Str("workflow", wf.Name).Str("file", spec.File()).Msg("exported")
	}

	if len(creds) > 0 {
		data, n, err := encodeCredentials(creds)
		if err != nil {
			return result, err
		}
		if err := writeUnder(root, CredentialsFile, data); err != nil {
			return result, err
		}
		result.Credentials = n
	}

	sort.Slice(specs, func(i, j int) bool { return specs[i].Name < specs[j].Name })
	m := manifest.Manifest{ExternalizeCode: externalize, Tags: sortedTagNames(tags), Workflows: specs}
	data, err := m.Encode()
	if err != nil {
		return result, err
	}
	if err := writeUnder(root, "manifests/workflows.yaml", data); err != nil {
		return result, err
	}
	result.ManifestPath = manifest.PathFor(src.n8nRoot())
	sort.Strings(result.Workflows)

	fmt.Fprintf(scope.Output(), "Exported %d workflow(s), %d script file(s), %d credential(s) to %s\n",
		len(result.Workflows), result.Scripts, result.Credentials, root)
	return result, nil
}

func orDot(p string) string {
	if p == "" {
		return "."
	}
	return p
}

// previousManifest reads the working tree manifest for settings export
// carries over. An unreadable manifest yields the defaults.
func previousManifest(repo string, n8nRoot string) manifest.Manifest {
	fallback := manifest.Manifest{ExternalizeCode: true}
	snap, err := snapshot.NewWorkingTree(repo)
	if err != nil {
		return fallback
	}
	m, err := manifest.Load(snap, n8nRoot)
	if err != nil {
		return fallback
	}
	return m
}

// cleanExportTree removes workflow JSON files and per-workflow script
// directories so the export is an exact mirror.
func cleanExportTree(root string) error {
	for _, dir := range []string{"workflows", "scripts", "manifests"} {
		if err := os.MkdirAll(filepath.Join(root, dir), 0o755); err != nil {
			return err
		}
	}
	matches, err := filepath.Glob(filepath.Join(root, "workflows", "*.json"))
	if err != nil {
		return err
	}
	for _, m := range matches {
		if err := os.Remove(m); err != nil {
			return err
		}
	}
	entries, err := os.ReadDir(filepath.Join(root, "scripts"))
	if err != nil {
		return err
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if err := os.RemoveAll(filepath.Join(root, "scripts", e.Name())); err != nil {
			return err
		}
	}
	return nil
}

func stripVolatile(doc document.Value) document.Value {
	out := doc.Clone()
	obj, err := out.AsObject()
	if err != nil {
		return out
	}
	for _, key := range VolatileFields {
		obj.Delete(key)
	}
	return out
}

func writeUnder(root string, rel string, data []byte) error {
	clean, err := snapshot.CleanPath(rel)
	if err != nil {
		return err
	}
	p := filepath.Join(root, filepath.FromSlash(clean))
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return err
	}
	return os.WriteFile(p, data, 0o644)
}

type credentialUse struct {
	Name      string   `yaml:"name"`
	Workflows []string `yaml:"workflows"`
}

// encodeCredentials writes type -> [{name, workflows}] with every level
// sorted.
func encodeCredentials(creds map[string]map[string][]string) ([]byte, int, error) {
	types := make([]string, 0, len(creds))
	for t := range creds {
		types = append(types, t)
	}
	sort.Strings(types)

	root := &yaml.Node{Kind: yaml.MappingNode}
	count := 0
	for _, t := range types {
		names := make([]string, 0, len(creds[t]))
		for n := range creds[t] {
			names = append(names, n)
		}
		sort.Strings(names)
		uses := make([]credentialUse, 0, len(names))
		for _, n := range names {
			wfs := append([]string(nil), creds[t][n]...)
			sort.Strings(wfs)
			uses = append(uses, credentialUse{Name: n, Workflows: wfs})
		}
		count += len(uses)

		var value yaml.Node
		if err := value.Encode(uses); err != nil {
			return nil, 0, fmt.Errorf("encode credentials: %w", err)
		}
		root.Content = append(root.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: t}, &value)
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(root); err != nil {
		return nil, 0, fmt.Errorf("encode credentials: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, 0, fmt.Errorf("encode credentials: %w", err)
	}
	return buf.Bytes(), count, nil
}

func sortedTagNames(tags []remote.Tag) []string {
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		if t.Name != "" {
			out = appendUnique(out, t.Name)
		}
	}
	sort.Strings(out)
	return out
}

func appendUnique(list []string, v string) []string {
	for _, s := range list {
		if s == v {
			return list
		}
	}
	return append(list, v)
}
