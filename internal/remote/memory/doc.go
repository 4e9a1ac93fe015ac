// Package memory is an in-memory remote.Store with a call journal and a
// failure hook.
package memory
