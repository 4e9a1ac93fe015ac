// Package reconcile diffs desired workflows against remote state and
// applies the resulting plan.
//
// Ownership boundary:
// - name matching and ambiguity checks
// - ordered action planning with backup and prune
// - sequential apply with dependency skipping
package reconcile
