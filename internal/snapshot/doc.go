// Package snapshot owns read-only views of the project tree.
//
// Ownership boundary:
// - working tree reads
// - historical reads pinned to one resolved commit
// - root containment of every path
//
// Deploy and rollback share one pipeline; only the Snapshot differs.
package snapshot
