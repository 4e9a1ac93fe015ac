// Package remote defines the contract between the reconciler and the
// workflow host.
//
// Ownership boundary:
// - remote workflow and tag records
// - the Store operation set
// - reduction of documents to the writable payload
package remote
