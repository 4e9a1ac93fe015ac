package envschema

import (
	"errors"
	"fmt"
	"os"
	"path"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/danmuck/n8nctl/internal/document"
	"github.com/danmuck/n8nctl/internal/snapshot"
)

var ErrSchema = errors.New("envschema: invalid schema")

const (
	TypeInteger = "integer"
	TypeBoolean = "boolean"
)

// PathFor returns the schema location under n8nRoot.
func PathFor(n8nRoot string) string {
	r := strings.TrimSpace(n8nRoot)
	if r == "" {
		r = "n8n"
	}
	return path.Join(r, "manifests", "env.schema.json")
}

// VarSpec constrains one variable's value.
type VarSpec struct {
	Pattern string
	Type    string

	re *regexp.Regexp
}

// Schema is the parsed env.schema.json.
type Schema struct {
	Required []string
	Vars     map[string]VarSpec
}

// Issue is one environment problem.
type Issue struct {
	Var     string
	Message string
}

func (i Issue) String() string { return i.Message }

// Load reads the schema from snap. A missing schema is not an error and
// returns nil.
func Load(snap snapshot.Snapshot, n8nRoot string) (*Schema, error) {
	p := PathFor(n8nRoot)
	if !snap.Exists(p) {
		return nil, nil
	}
	data, err := snap.ReadFile(p)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %w", ErrSchema, p, err)
	}
	s, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", p, err)
	}
	return s, nil
}

// Parse validates schema JSON bytes.
func Parse(data []byte) (*Schema, error) {
	doc, err := document.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSchema, err)
	}
	root, err := doc.AsObject()
	if err != nil {
		return nil, fmt.Errorf("%w: env.schema.json must be a JSON object", ErrSchema)
	}

	s := &Schema{Required: []string{}, Vars: map[string]VarSpec{}}
	if req, ok := root.Get("required"); ok {
		items, err := req.AsArray()
		if err != nil {
			return nil, fmt.Errorf("%w: 'required' must be a list", ErrSchema)
		}
		for _, item := range items {
			name, err := item.AsString()
			if err != nil {
				return nil, fmt.Errorf("%w: required variable names must be strings", ErrSchema)
			}
			s.Required = append(s.Required, name)
		}
	}

	if vars, ok := root.Get("vars"); ok {
		obj, err := vars.AsObject()
		if err != nil {
			return nil, fmt.Errorf("%w: 'vars' must be an object", ErrSchema)
		}
		for _, name := range obj.Keys() {
			raw, _ := obj.Get(name)
			specObj, err := raw.AsObject()
			if err != nil {
				// Non-object entries carry no constraints.
				continue
			}
			spec, err := parseVarSpec(name, specObj)
			if err != nil {
				return nil, err
			}
			s.Vars[name] = spec
		}
	}
	return s, nil
}

func parseVarSpec(name string, obj *document.Object) (VarSpec, error) {
	var spec VarSpec
	if p, ok := obj.Get("pattern"); ok {
		pattern, err := p.AsString()
		if err != nil {
			return VarSpec{}, fmt.Errorf("%w: vars.%s.pattern must be a string", ErrSchema, name)
		}
		re, err := regexp.Compile("^(?:" + pattern + ")")
		if err != nil {
			return VarSpec{}, fmt.Errorf("%w: vars.%s.pattern: %v", ErrSchema, name, err)
		}
		spec.Pattern = pattern
		spec.re = re
	}
	if t, ok := obj.Get("type"); ok {
		typ, err := t.AsString()
		if err != nil {
			return VarSpec{}, fmt.Errorf("%w: vars.%s.type must be a string", ErrSchema, name)
		}
		switch typ {
		case TypeInteger, TypeBoolean:
		default:
			return VarSpec{}, fmt.Errorf("%w: vars.%s.type %q is not one of integer, boolean", ErrSchema, name, typ)
		}
		spec.Type = typ
	}
	return spec, nil
}

// Check validates env against the schema. Issues are ordered: required
// variables in schema order, then constraint failures sorted by name.
func (s *Schema) Check(env map[string]string) []Issue {
	if s == nil {
		return nil
	}
	issues := CheckRequired(s.Required, env)

	names := make([]string, 0, len(s.Vars))
	for name := range s.Vars {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		spec := s.Vars[name]
		value, ok := env[name]
		if !ok {
			continue
		}
		if spec.re != nil && !spec.re.MatchString(value) {
			issues = append(issues, Issue{Var: name, Message: fmt.Sprintf("environment variable '%s' does not match pattern: %s", name, spec.Pattern)})
		}
		switch spec.Type {
		case TypeInteger:
			if _, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64); err != nil {
				issues = append(issues, Issue{Var: name, Message: fmt.Sprintf("environment variable '%s' must be an integer", name)})
			}
		case TypeBoolean:
			switch strings.ToLower(value) {
			case "true", "false", "1", "0", "yes", "no":
			default:
				issues = append(issues, Issue{Var: name, Message: fmt.Sprintf("environment variable '%s' must be a boolean (true/false, 1/0, yes/no)", name)})
			}
		}
	}
	return issues
}

// CheckRequired reports every name that is unset or empty in env.
func CheckRequired(names []string, env map[string]string) []Issue {
	var issues []Issue
	for _, name := range names {
		if env[name] == "" {
			issues = append(issues, Issue{Var: name, Message: fmt.Sprintf("required environment variable '%s' is not set", name)})
		}
	}
	return issues
}

// Environ returns the process environment as a map.
func Environ() map[string]string {
	out := make(map[string]string)
	for _, kv := range os.Environ() {
		k, v, ok := strings.Cut(kv, "=")
		if ok {
			out[k] = v
		}
	}
	return out
}
