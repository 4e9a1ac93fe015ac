package remote

import (
	"context"
	"errors"
	"sort"

	"github.com/danmuck/n8nctl/internal/document"
)

var ErrNotFound = errors.New("remote: not found")

// Workflow is one workflow as reported by the store. Document is the full
// body and is only populated by GetWorkflow.
type Workflow struct {
	ID       string
	Name     string
	Active   bool
	Archived bool
	TagIDs   []string
	Document document.Value
}

type Tag struct {
	ID   string
	Name string
}

// Store is the operation contract of the remote workflow host.
type Store interface {
	ListWorkflows(ctx context.Context) ([]Workflow, error)
	GetWorkflow(ctx context.Context, id string) (Workflow, error)
	CreateWorkflow(ctx context.Context, doc document.Value) (string, error)
	UpdateWorkflow(ctx context.Context, id string, doc document.Value) error
	ActivateWorkflow(ctx context.Context, id string) error
	DeactivateWorkflow(ctx context.Context, id string) error
	DeleteWorkflow(ctx context.Context, id string) error
	ListTags(ctx context.Context) ([]Tag, error)
	CreateTag(ctx context.Context, name string) (string, error)
	UpdateTag(ctx context.Context, id string, name string) error
	SetWorkflowTags(ctx context.Context, id string, tagIDs []string) error
}

// WritableFields are the top-level keys the host accepts on create and update.
var WritableFields = []string{"name", "nodes", "connections", "settings", "staticData"}

// Payload reduces doc to its writable fields and forces the name. Missing
// nodes and connections default to empty, settings to {}.
func Payload(doc document.Value, name string) document.Value {
	out := document.NewObject()
	src, err := doc.AsObject()
	if err != nil {
		src = document.NewObject()
	}
	out.Set("name", document.String(name))
	for _, key := range WritableFields[1:] {
		v, ok := src.Get(key)
		switch {
		case ok && !v.IsNull():
			out.Set(key, v.Clone())
		case key == "nodes":
			out.Set(key, document.Array())
		case key == "connections", key == "settings":
			out.Set(key, document.FromObject(document.NewObject()))
		}
	}
	return document.FromObject(out)
}

// TagIndex maps tag names to ids. Names are case-sensitive.
func TagIndex(tags []Tag) map[string]string {
	out := make(map[string]string, len(tags))
	for _, t := range tags {
		out[t.Name] = t.ID
	}
	return out
}

// SortedIDs returns a sorted copy of ids.
func SortedIDs(ids []string) []string {
	out := append([]string(nil), ids...)
	sort.Strings(out)
	return out
}
