// Package envschema checks the process environment against
// manifests/env.schema.json.
package envschema
