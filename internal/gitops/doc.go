// Package gitops runs the command pipelines over a repository snapshot and
// a remote store.
//
// Ownership boundary:
// - snapshot selection and manifest loading per run
// - validate, deploy, rollback and export flows
// - project scaffolding
package gitops
