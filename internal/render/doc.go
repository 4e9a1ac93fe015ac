// Package render resolves include directives in workflow documents.
//
// Ownership boundary:
// - directive grammar and checksum verification
// - substitution of script content from a snapshot
// - externalization of inline code for export
package render
