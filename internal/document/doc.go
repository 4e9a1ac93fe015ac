// Package document owns the tagged tree used for workflow JSON.
//
// Ownership boundary:
// - strict JSON decode with order-preserving objects
// - failure-reporting accessors
// - canonical and on-disk encodings
package document
