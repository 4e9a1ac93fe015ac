// Package invocation holds the explicit per-run context threaded through
// render, reconcile and the command pipelines.
package invocation
