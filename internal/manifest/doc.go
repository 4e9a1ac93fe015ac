// Package manifest owns the desired-state document.
//
// Ownership boundary:
// - workflows.yaml decode and fail-fast validation
// - workflow tag cross-references
// - file naming for workflow documents
package manifest
