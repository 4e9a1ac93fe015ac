// Package tools runs the external processes n8nctl depends on.
//
// Ownership boundary:
// - local process execution with exit code mapping
// - git environment defaults
// - the runner seam snapshot tests fake
package tools
