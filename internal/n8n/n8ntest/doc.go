// Package n8ntest serves a fake n8n public API for tests.
//
// The server is backed by a memory store. It supports transient failure
// injection, small page sizes and the legacy bare-array list responses.
package n8ntest
