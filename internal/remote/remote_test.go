package remote

import (
	"testing"

	"github.com/danmuck/n8nctl/internal/document"
)

func TestPayloadKeepsWritableFields(t *testing.T) {
	doc, err := document.Parse([]byte(`{
  "id": "abc",
  "name": "Old",
  "active": true,
  "nodes": [{"name": "A"}],
  "connections": {"A": {}},
  "staticData": null,
  "versionId": "v1",
  "tags": [{"id": "1"}]
}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	got := string(Payload(doc, "New").Canonical())
	want := `{"connections":{"A":{}},"name":"New","nodes":[{"name":"A"}],"settings":{}}`
	if got != want {
		t.Fatalf("unexpected payload:\nwant %s\ngot  %s", want, got)
	}
}

func TestPayloadOfNonObjectDefaults(t *testing.T) {
	got := string(Payload(document.Null(), "X").Canonical())
	want := `{"connections":{},"name":"X","nodes":[],"settings":{}}`
	if got != want {
		t.Fatalf("unexpected payload: %s", got)
	}
}
