// Package config loads project settings and credentials.
//
// Ownership boundary:
// - n8nctl.toml decode and defaults
// - API credential resolution across flags, environment and .n8n-auth
// - project scaffold templates
package config
