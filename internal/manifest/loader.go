package manifest

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/danmuck/n8nctl/internal/snapshot"
	"gopkg.in/yaml.v3"
)

// Load reads and validates <n8nRoot>/manifests/workflows.yaml from snap.
// Validation stops at the first violation.
func Load(snap snapshot.Snapshot, n8nRoot string) (Manifest, error) {
	p := PathFor(n8nRoot)
	content, err := snap.ReadFile(p)
	if err != nil {
		return Manifest{}, fmt.Errorf("%w: read %s: %w", ErrManifest, p, err)
	}
	m, err := Parse(content)
	if err != nil {
		return Manifest{}, fmt.Errorf("%s: %w", p, err)
	}
	return m, nil
}

// Parse validates manifest YAML bytes.
func Parse(content []byte) (Manifest, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(content, &doc); err != nil {
		return Manifest{}, fmt.Errorf("%w: decode yaml: %v", ErrParse, err)
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 {
		return Manifest{}, invalid("manifest root must be a mapping")
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return Manifest{}, invalid("manifest root must be a mapping")
	}
	fields := mappingFields(root)

	m := Manifest{ExternalizeCode: true}

	if node, ok := fields["externalize_code"]; ok {
		v, ok := boolScalar(node)
		if !ok {
			return Manifest{}, invalid("'externalize_code' must be a boolean")
		}
		m.ExternalizeCode = v
	}

	if node, ok := fields["tags"]; ok {
		if node.Kind == yaml.MappingNode {
			return Manifest{}, invalid("'tags' must be a list of tag names (the id-to-name mapping form is deprecated)")
		}
		tags, ok := stringSequence(node)
		if !ok {
			return Manifest{}, invalid("'tags' must be a list of strings")
		}
		seen := make(map[string]struct{}, len(tags))
		for _, tag := range tags {
			if strings.TrimSpace(tag) == "" {
				return Manifest{}, invalid("'tags' entries must be non-empty")
			}
			if _, dup := seen[tag]; dup {
				return Manifest{}, invalid("duplicate tag %q in 'tags'", tag)
			}
			seen[tag] = struct{}{}
		}
		m.Tags = tags
	}
	if m.Tags == nil {
		m.Tags = []string{}
	}

	node, ok := fields["workflows"]
	if !ok {
		return Manifest{}, invalid("manifest missing required 'workflows' key")
	}
	if node.Kind != yaml.SequenceNode {
		return Manifest{}, invalid("'workflows' must be a list")
	}
	workflows, err := parseWorkflows(node)
	if err != nil {
		return Manifest{}, err
	}
	m.Workflows = workflows

	for _, wf := range m.Workflows {
		for _, tag := range wf.Tags {
			if !m.HasTag(tag) {
				return Manifest{}, invalid("workflow %q references undefined tag %q (declared tags: [%s])",
					wf.Name, tag, strings.Join(m.Tags, ", "))
			}
		}
	}
	return m, nil
}

func parseWorkflows(seq *yaml.Node) ([]WorkflowSpec, error) {
	out := make([]WorkflowSpec, 0, len(seq.Content))
	seen := make(map[string]struct{}, len(seq.Content))
	for idx, entry := range seq.Content {
		if entry.Kind != yaml.MappingNode {
			return nil, invalid("workflow entry %d must be a mapping", idx)
		}
		fields := mappingFields(entry)

		nameNode, ok := fields["name"]
		if !ok {
			return nil, invalid("workflow entry %d missing required field 'name'", idx)
		}
		name, ok := stringScalar(nameNode)
		if !ok || name == "" {
			return nil, invalid("workflow entry %d: 'name' must be a non-empty string", idx)
		}
		if _, dup := seen[name]; dup {
			return nil, invalid("duplicate workflow name %q", name)
		}
		seen[name] = struct{}{}

		spec := WorkflowSpec{Name: name}
		if node, ok := fields["active"]; ok {
			v, ok := boolScalar(node)
			if !ok {
				return nil, invalid("workflow entry %d (%q): 'active' must be a boolean", idx, name)
			}
			spec.Active = v
		}

		lists := []struct {
			key string
			dst *[]string
		}{
			{"tags", &spec.Tags},
			{"requires_credentials", &spec.RequiresCredentials},
			{"requires_env", &spec.RequiresEnv},
		}
		for _, l := range lists {
			*l.dst = []string{}
			node, ok := fields[l.key]
			if !ok {
				continue
			}
			if node.Kind != yaml.SequenceNode {
				return nil, invalid("workflow entry %d (%q): '%s' must be a list", idx, name, l.key)
			}
			values, ok := stringSequence(node)
			if !ok {
				return nil, invalid("workflow entry %d (%q): all '%s' must be strings", idx, name, l.key)
			}
			*l.dst = values
		}
		if tag, dup := firstDuplicate(spec.Tags); dup {
			return nil, invalid("workflow entry %d (%q): duplicate tag %q in 'tags'", idx, name, tag)
		}
		out = append(out, spec)
	}
	return out, nil
}

func firstDuplicate(values []string) (string, bool) {
	seen := make(map[string]struct{}, len(values))
	for _, v := range values {
		if _, ok := seen[v]; ok {
			return v, true
		}
		seen[v] = struct{}{}
	}
	return "", false
}

func mappingFields(node *yaml.Node) map[string]*yaml.Node {
	out := make(map[string]*yaml.Node, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		out[node.Content[i].Value] = node.Content[i+1]
	}
	return out
}

func boolScalar(node *yaml.Node) (bool, bool) {
	if node.Kind != yaml.ScalarNode || node.ShortTag() != "!!bool" {
		return false, false
	}
	var v bool
	if err := node.Decode(&v); err != nil {
		return false, false
	}
	return v, true
}

func stringScalar(node *yaml.Node) (string, bool) {
	if node.Kind != yaml.ScalarNode || node.ShortTag() != "!!str" {
		return "", false
	}
	return node.Value, true
}

func stringSequence(node *yaml.Node) ([]string, bool) {
	if node.Kind != yaml.SequenceNode {
		return nil, false
	}
	out := make([]string, 0, len(node.Content))
	for _, item := range node.Content {
		s, ok := stringScalar(item)
		if !ok {
			return nil, false
		}
		out = append(out, s)
	}
	return out, true
}

type encodedManifest struct {
	ExternalizeCode bool              `yaml:"externalize_code"`
	Tags            []string          `yaml:"tags"`
	Workflows       []encodedWorkflow `yaml:"workflows"`
}

type encodedWorkflow struct {
	Name                string   `yaml:"name"`
	Active              bool     `yaml:"active"`
	Tags                []string `yaml:"tags,omitempty"`
	RequiresCredentials []string `yaml:"requires_credentials,omitempty"`
	RequiresEnv         []string `yaml:"requires_env,omitempty"`
}

// Encode writes the canonical YAML form of m.
func (m Manifest) Encode() ([]byte, error) {
	out := encodedManifest{
		ExternalizeCode: m.ExternalizeCode,
		Tags:            m.Tags,
		Workflows:       make([]encodedWorkflow, 0, len(m.Workflows)),
	}
	if out.Tags == nil {
		out.Tags = []string{}
	}
	for _, wf := range m.Workflows {
		out.Workflows = append(out.Workflows, encodedWorkflow{
			Name:                wf.Name,
			Active:              wf.Active,
			Tags:                wf.Tags,
			RequiresCredentials: wf.RequiresCredentials,
			RequiresEnv:         wf.RequiresEnv,
		})
	}
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(out); err != nil {
		return nil, fmt.Errorf("manifest: encode: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("manifest: encode: %w", err)
	}
	return buf.Bytes(), nil
}
