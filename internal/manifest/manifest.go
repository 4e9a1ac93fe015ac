package manifest

import (
	"errors"
	"fmt"
	"path"
	"regexp"
	"strings"
)

var (
	ErrParse    = errors.New("manifest: parse error")
	ErrManifest = errors.New("manifest: invalid")
)

// DefaultRoot is the conventional n8n directory inside a repository.
const DefaultRoot = "n8n"

// PathFor returns the manifest document location under n8nRoot.
func PathFor(n8nRoot string) string {
	return path.Join(rootOrDefault(n8nRoot), "manifests", "workflows.yaml")
}

// Manifest is the desired state of one project.
type Manifest struct {
	ExternalizeCode bool
	Tags            []string
	Workflows       []WorkflowSpec
}

// WorkflowSpec is one desired workflow. Name is the unique key.
type WorkflowSpec struct {
	Name                string
	Active              bool
	Tags                []string
	RequiresCredentials []string
	RequiresEnv         []string
}

// File is the workflow document path relative to the n8n root.
func (w WorkflowSpec) File() string {
	return "workflows/" + SanitizeFilename(w.Name) + ".json"
}

// Workflow returns the workflow entry named name.
func (m Manifest) Workflow(name string) (WorkflowSpec, bool) {
	for _, wf := range m.Workflows {
		if wf.Name == name {
			return wf, true
		}
	}
	return WorkflowSpec{}, false
}

// HasTag reports whether name is declared in the manifest tag set.
func (m Manifest) HasTag(name string) bool {
	for _, t := range m.Tags {
		if t == name {
			return true
		}
	}
	return false
}

var (
	unsafeFilenameChars = regexp.MustCompile(`[^\p{L}\p{N}_.\-]`)
	underscoreRuns      = regexp.MustCompile(`_+`)
)

// SanitizeFilename maps a workflow or node name to a file-safe stem.
func SanitizeFilename(name string) string {
	safe := unsafeFilenameChars.ReplaceAllString(name, "_")
	safe = underscoreRuns.ReplaceAllString(safe, "_")
	safe = strings.Trim(safe, "_")
	if safe == "" {
		return "workflow"
	}
	return safe
}

func rootOrDefault(n8nRoot string) string {
	r := strings.TrimSpace(n8nRoot)
	if r == "" {
		return DefaultRoot
	}
	return r
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrManifest, fmt.Sprintf(format, args...))
}
