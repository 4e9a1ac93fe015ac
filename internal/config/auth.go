package config

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/caarlos0/env/v11"
)

const AuthFile = ".n8n-auth"

var ErrAuthMissing = errors.New("config: n8n api credentials missing")

// Auth is the API endpoint and key for one instance.
type Auth struct {
	APIURL string `env:"N8N_API_URL"`
	APIKey string `env:"N8N_API_KEY"`
}

// ParseEnv fills target from environ.
func ParseEnv(target any, environ map[string]string) error {
	if err := env.ParseWithOptions(target, env.Options{Environment: environ}); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// ReadAuthFile parses KEY=VALUE lines. Blank lines and # comments are
// skipped; values may be quoted. A missing file yields an empty map.
func ReadAuthFile(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	out := make(map[string]string)
	sc := bufio.NewScanner(bytes.NewReader(data))
	line := 0
	for sc.Scan() {
		line++
		raw := strings.TrimSpace(sc.Text())
		if raw == "" || strings.HasPrefix(raw, "#") {
			continue
		}
		raw = strings.TrimPrefix(raw, "export ")
		key, value, ok := strings.Cut(raw, "=")
		if !ok {
			return nil, fmt.Errorf("%s:%d: expected KEY=VALUE", path, line)
		}
		out[strings.TrimSpace(key)] = unquote(strings.TrimSpace(value))
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return out, nil
}

func unquote(v string) string {
	if len(v) >= 2 {
		if (v[0] == '"' && v[len(v)-1] == '"') || (v[0] == '\'' && v[len(v)-1] == '\'') {
			return v[1 : len(v)-1]
		}
	}
	return v
}

// ResolveAuth merges credentials by priority: flags, then environ, then
// <repoRoot>/.n8n-auth, then fallbackURL for the endpoint only.
func ResolveAuth(repoRoot string, flags Auth, environ map[string]string, fallbackURL string) (Auth, error) {
	var fromEnv Auth
	if err := ParseEnv(&fromEnv, environ); err != nil {
		return Auth{}, err
	}
	fileVars, err := ReadAuthFile(filepath.Join(repoRoot, AuthFile))
	if err != nil {
		return Auth{}, err
	}
	var fromFile Auth
	if err := ParseEnv(&fromFile, fileVars); err != nil {
		return Auth{}, fmt.Errorf("%s: %w", AuthFile, err)
	}

	out := Auth{
		APIURL: first(flags.APIURL, fromEnv.APIURL, fromFile.APIURL, fallbackURL),
		APIKey: first(flags.APIKey, fromEnv.APIKey, fromFile.APIKey),
	}
	var missing []string
	if out.APIURL == "" {
		missing = append(missing, "N8N_API_URL")
	}
	if out.APIKey == "" {
		missing = append(missing, "N8N_API_KEY")
	}
	if len(missing) > 0 {
		return Auth{}, fmt.Errorf("%w: set %s via flags, environment, or %s", ErrAuthMissing, strings.Join(missing, " and "), AuthFile)
	}
	return out, nil
}

func first(values ...string) string {
	for _, v := range values {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}
