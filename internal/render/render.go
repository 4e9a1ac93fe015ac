package render

import (
	"errors"
	"fmt"
	"strings"

	"github.com/danmuck/n8nctl/internal/document"
	"github.com/danmuck/n8nctl/internal/snapshot"
)

var ErrRender = errors.New("render: include resolution failed")

type Status string

const (
	StatusIncluded                Status = "included"
	StatusMissingFile             Status = "missing_file"
	StatusChecksumMismatch        Status = "checksum_mismatch"
	StatusMissingChecksumRequired Status = "missing_checksum_required"
	StatusMalformed               Status = "malformed"
)

// Options controls how strictly directives are enforced.
type Options struct {
	EnforceChecksum bool
	RequireChecksum bool
	Strict          bool
}

func (o Options) strict() bool {
	return o.Strict || o.EnforceChecksum || o.RequireChecksum
}

// Report is the resolution outcome of one directive.
type Report struct {
	Node     string
	Field    string
	Path     string
	Status   Status
	Expected string
	Actual   string
	Fatal    bool
	Detail   string
}

func (r Report) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "node %q field %s: %s", r.Node, r.Field, r.Status)
	if r.Path != "" {
		fmt.Fprintf(&b, " (%s)", r.Path)
	}
	if r.Status == StatusChecksumMismatch {
		fmt.Fprintf(&b, " expected=%s actual=%s", r.Expected, r.Actual)
	}
	if r.Detail != "" {
		fmt.Fprintf(&b, ": %s", r.Detail)
	}
	return b.String()
}

// Error lists every fatal report of one render pass.
type Error struct {
	Reports []Report
}

func (e *Error) Error() string {
	parts := make([]string, 0, len(e.Reports))
	for _, r := range e.Reports {
		parts = append(parts, r.String())
	}
	return fmt.Sprintf("%s: %s", ErrRender, strings.Join(parts, "; "))
}

func (e *Error) Unwrap() error { return ErrRender }

// Render returns a deep copy of doc with every include directive resolved
// against n8nRoot in snap. The input is never modified. All directives are
// processed; the report set is complete even when err is non-nil.
func Render(doc document.Value, snap snapshot.Snapshot, n8nRoot string, opts Options) (document.Value, []Report, error) {
	out := doc.Clone()
	var reports []Report

	eachCodeField(out, func(node string, params *document.Object, field string, value string) {
		d, ok, perr := ParseDirective(value)
		if !ok {
			return
		}
		r := Report{Node: node, Field: field, Path: d.Path, Expected: d.Checksum}
		if perr != nil {
			r.Status, r.Fatal, r.Detail = StatusMalformed, true, perr.Error()
			reports = append(reports, r)
			return
		}
		full, jerr := snapshot.JoinUnder(n8nRoot, d.Path)
		if jerr != nil {
			r.Status, r.Fatal, r.Detail = StatusMalformed, true, jerr.Error()
			reports = append(reports, r)
			return
		}
		if !snap.Exists(full) {
			r.Status, r.Fatal = StatusMissingFile, opts.strict()
			reports = append(reports, r)
			return
		}
		content, rerr := snap.ReadFile(full)
		if rerr != nil {
			r.Status, r.Fatal, r.Detail = StatusMissingFile, opts.strict(), rerr.Error()
			reports = append(reports, r)
			return
		}
		r.Actual = Checksum(content)

		switch {
		case d.Checksum != "" && d.Checksum != r.Actual:
			r.Status = StatusChecksumMismatch
			r.Fatal = opts.EnforceChecksum
		case d.Checksum == "" && opts.RequireChecksum:
			r.Status, r.Fatal = StatusMissingChecksumRequired, true
		default:
			r.Status = StatusIncluded
		}
		if !r.Fatal {
			params.Set(field, document.String(string(content)))
		}
		reports = append(reports, r)
	})

	var fatal []Report
	for _, r := range reports {
		if r.Fatal {
			fatal = append(fatal, r)
		}
	}
	if len(fatal) > 0 {
		return out, reports, &Error{Reports: fatal}
	}
	return out, reports, nil
}

// eachCodeField visits every string-valued code parameter of every node
// in document order. Nodes or parameters of the wrong shape are skipped.
func eachCodeField(doc document.Value, fn func(node string, params *document.Object, field string, value string)) {
	root, err := doc.AsObject()
	if err != nil {
		return
	}
	nodesVal, ok := root.Get("nodes")
	if !ok {
		return
	}
	nodes, err := nodesVal.AsArray()
	if err != nil {
		return
	}
	for _, n := range nodes {
		node, err := n.AsObject()
		if err != nil {
			continue
		}
		name := "unnamed"
		if v, ok := node.Get("name"); ok {
			if s, err := v.AsString(); err == nil {
				name = s
			}
		}
		pv, ok := node.Get("parameters")
		if !ok {
			continue
		}
		params, err := pv.AsObject()
		if err != nil {
			continue
		}
		for _, field := range CodeFields {
			v, ok := params.Get(field)
			if !ok {
				continue
			}
			s, err := v.AsString()
			if err != nil {
				continue
			}
			fn(name, params, field, s)
		}
	}
}
