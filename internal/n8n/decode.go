package n8n

import (
	"fmt"

	"github.com/danmuck/n8nctl/internal/document"
	"github.com/danmuck/n8nctl/internal/remote"
)

// idField reads "id", which the API returns as a string or a number.
func idField(v document.Value) (string, error) {
	f, err := v.Field("id")
	if err != nil {
		return "", err
	}
	switch f.Kind() {
	case document.KindString:
		s, _ := f.AsString()
		if s == "" {
			return "", fmt.Errorf("empty id")
		}
		return s, nil
	case document.KindNumber:
		n, _ := f.AsNumber()
		return n.String(), nil
	default:
		return "", fmt.Errorf("id has kind %s", f.Kind())
	}
}

func optionalBool(obj *document.Object, key string) bool {
	v, ok := obj.Get(key)
	if !ok {
		return false
	}
	b, err := v.AsBool()
	return err == nil && b
}

func decodeWorkflow(v document.Value) (remote.Workflow, error) {
	obj, err := v.AsObject()
	if err != nil {
		return remote.Workflow{}, fmt.Errorf("workflow: %w", err)
	}
	id, err := idField(v)
	if err != nil {
		return remote.Workflow{}, fmt.Errorf("workflow: %w", err)
	}
	name, err := v.StringField("name")
	if err != nil {
		return remote.Workflow{}, fmt.Errorf("workflow %s: %w", id, err)
	}
	wf := remote.Workflow{
		ID:       id,
		Name:     name,
		Active:   optionalBool(obj, "active"),
		Archived: optionalBool(obj, "isArchived"),
		TagIDs:   []string{},
	}
	if tags, ok := obj.Get("tags"); ok {
		items, _ := tags.AsArray()
		for _, item := range items {
			t, err := decodeTag(item)
			if err != nil {
				return remote.Workflow{}, fmt.Errorf("workflow %s: %w", id, err)
			}
			wf.TagIDs = append(wf.TagIDs, t.ID)
		}
	}
	return wf, nil
}

func decodeTag(v document.Value) (remote.Tag, error) {
	id, err := idField(v)
	if err != nil {
		return remote.Tag{}, fmt.Errorf("tag: %w", err)
	}
	name, _ := v.StringField("name")
	return remote.Tag{ID: id, Name: name}, nil
}

// EncodeWorkflow renders wf the way the API reports it. Tag names come
// from tags.
func EncodeWorkflow(wf remote.Workflow, tags map[string]string) document.Value {
	out := document.NewObject()
	out.Set("id", document.String(wf.ID))
	out.Set("name", document.String(wf.Name))
	out.Set("active", document.Bool(wf.Active))
	out.Set("isArchived", document.Bool(wf.Archived))
	if src, err := wf.Document.AsObject(); err == nil {
		for _, key := range src.Keys() {
			switch key {
			case "id", "name", "active", "isArchived", "tags":
				continue
			}
			v, _ := src.Get(key)
			out.Set(key, v.Clone())
		}
	}
	items := make([]document.Value, 0, len(wf.TagIDs))
	for _, id := range wf.TagIDs {
		t := document.NewObject()
		t.Set("id", document.String(id))
		t.Set("name", document.String(tags[id]))
		items = append(items, document.FromObject(t))
	}
	out.Set("tags", document.Array(items...))
	return document.FromObject(out)
}

// EncodeTag renders t the way the API reports it.
func EncodeTag(t remote.Tag) document.Value {
	out := document.NewObject()
	out.Set("id", document.String(t.ID))
	out.Set("name", document.String(t.Name))
	return document.FromObject(out)
}
