package render

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
)

// Marker opens every include directive.
const Marker = "@@n8n-gitops:include"

// CodeFields are the node parameters that may carry code, in inspection order.
var CodeFields = []string{"pythonCode", "jsCode", "code", "functionCode"}

var directivePattern = regexp.MustCompile(`^` + regexp.QuoteMeta(Marker) + `[ \t]+(\S+)(?:[ \t]+sha256=([0-9a-f]{64}))?$`)

// Directive is a parsed include directive.
type Directive struct {
	Path     string
	Checksum string
}

func (d Directive) String() string {
	return FormatDirective(d.Path, d.Checksum)
}

// FormatDirective renders the directive text for path with an optional checksum.
func FormatDirective(path string, checksum string) string {
	if checksum == "" {
		return Marker + " " + path
	}
	return Marker + " " + path + " sha256=" + checksum
}

// IsDirective reports whether value is a well-formed include directive.
// Code that merely starts with the marker is not a directive.
func IsDirective(value string) bool {
	_, ok, err := ParseDirective(value)
	return ok && err == nil
}

// ParseDirective parses the entire trimmed value. ok is false for ordinary
// code. A marker-prefixed value that does not fit the grammar returns an error.
func ParseDirective(value string) (d Directive, ok bool, err error) {
	trimmed := strings.TrimSpace(value)
	if !strings.HasPrefix(trimmed, Marker) {
		return Directive{}, false, nil
	}
	m := directivePattern.FindStringSubmatch(trimmed)
	if m == nil {
		return Directive{}, true, fmt.Errorf("malformed include directive %q", trimmed)
	}
	return Directive{Path: m[1], Checksum: m[2]}, true, nil
}

// Checksum is the lowercase hex sha256 of data.
func Checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func extensionFor(field string) string {
	switch field {
	case "pythonCode":
		return ".py"
	case "jsCode", "code", "functionCode":
		return ".js"
	default:
		return ".txt"
	}
}
