package render

import (
	"path"
	"strings"

	"github.com/danmuck/n8nctl/internal/document"
	"github.com/danmuck/n8nctl/internal/manifest"
)

// ScriptFile is externalized code; Path is relative to the n8n root.
type ScriptFile struct {
	Path    string
	Content []byte
}

// Externalize moves non-empty inline code out of doc into script files under
// scripts/<workflow>/. Directives are always emitted without a checksum.
// Nodes that sanitize to the same name share one file and the last one wins.
func Externalize(doc document.Value, workflowName string) (document.Value, []ScriptFile) {
	out := doc.Clone()
	dir := path.Join("scripts", manifest.SanitizeFilename(workflowName))

	var files []ScriptFile
	index := make(map[string]int)
	eachCodeField(out, func(node string, params *document.Object, field string, value string) {
		if strings.TrimSpace(value) == "" || IsDirective(value) {
			return
		}
		rel := path.Join(dir, manifest.SanitizeFilename(node)+extensionFor(field))
		sf := ScriptFile{Path: rel, Content: []byte(value)}
		if i, ok := index[rel]; ok {
			files[i] = sf
		} else {
			index[rel] = len(files)
			files = append(files, sf)
		}
		params.Set(field, document.String(FormatDirective(rel, "")))
	})
	return out, files
}

// InlineFinding is one code parameter still carrying inline code.
type InlineFinding struct {
	Node  string
	Field string
}

// InlineCode lists every non-empty code parameter that is not a
// well-formed directive.
func InlineCode(doc document.Value) []InlineFinding {
	var out []InlineFinding
	eachCodeField(doc, func(node string, _ *document.Object, field string, value string) {
		if strings.TrimSpace(value) == "" || IsDirective(value) {
			return
		}
		out = append(out, InlineFinding{Node: node, Field: field})
	})
	return out
}
