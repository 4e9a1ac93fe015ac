package envschema

import (
	"errors"
	"testing"

	"github.com/danmuck/n8nctl/internal/snapshot"
	"github.com/google/go-cmp/cmp"
)

const schemaJSON = `{
  "required": ["N8N_API_URL", "N8N_API_KEY"],
  "vars": {
    "N8N_API_URL": {"pattern": "https?://"},
    "PORT": {"type": "integer"},
    "DEBUG": {"type": "boolean"},
    "NOTE": "free text"
  }
}`

func TestLoadMissingSchemaIsSkipped(t *testing.T) {
	s, err := Load(snapshot.NewMemory(nil), "n8n")
	if err != nil || s != nil {
		t.Fatalf("expected nil schema, got %+v err=%v", s, err)
	}
}

func TestCheckReportsEveryIssue(t *testing.T) {
	snap := snapshot.NewMemory(map[string]string{"n8n/manifests/env.schema.json": schemaJSON})
	s, err := Load(snap, "n8n")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	issues := s.Check(map[string]string{
		"N8N_API_URL": "ftp://example.com",
		"PORT":        "80a",
		"DEBUG":       "maybe",
	})
	var vars []string
	for _, i := range issues {
		vars = append(vars, i.Var)
	}
	want := []string{"N8N_API_KEY", "DEBUG", "N8N_API_URL", "PORT"}
	if diff := cmp.Diff(want, vars); diff != "" {
		t.Fatalf("unexpected issues (-want +got):\n%s", diff)
	}
}

func TestCheckAcceptsValidEnvironment(t *testing.T) {
	s, err := Parse([]byte(schemaJSON))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	issues := s.Check(map[string]string{
		"N8N_API_URL": "https://n8n.example.com/path",
		"N8N_API_KEY": "k",
		"PORT":        "5678",
		"DEBUG":       "YES",
	})
	if len(issues) != 0 {
		t.Fatalf("unexpected issues: %+v", issues)
	}
}

func TestParseRejectsBadShapes(t *testing.T) {
	cases := []string{
		`[]`,
		`{"required": "X"}`,
		`{"required": [1]}`,
		`{"vars": []}`,
		`{"vars": {"X": {"type": "float"}}}`,
		`{"vars": {"X": {"pattern": "("}}}`,
		`{"required": [`,
	}
	for _, in := range cases {
		if _, err := Parse([]byte(in)); !errors.Is(err, ErrSchema) {
			t.Fatalf("expected ErrSchema for %s, got %v", in, err)
		}
	}
}

func TestCheckRequiredFlagsEmptyValues(t *testing.T) {
	issues := CheckRequired([]string{"A", "B"}, map[string]string{"A": "", "B": "set"})
	if len(issues) != 1 || issues[0].Var != "A" {
		t.Fatalf("unexpected issues: %+v", issues)
	}
}
