package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

const ProjectFile = "n8nctl.toml"

var ErrConfig = errors.New("config: invalid project config")

// Project holds repository-level settings.
type Project struct {
	N8NRoot        string
	APIURL         string
	Timeout        time.Duration
	MaxRetries     int
	BackoffInitial time.Duration
	BackoffMax     time.Duration
	// CAFile is an absolute path to extra trusted roots, or empty.
	CAFile string
}

func DefaultProject() Project {
	return Project{
		N8NRoot:        "n8n",
		Timeout:        30 * time.Second,
		MaxRetries:     3,
		BackoffInitial: time.Second,
		BackoffMax:     8 * time.Second,
	}
}

type fileConfig struct {
	N8NRoot        string `toml:"n8n_root"`
	APIURL         string `toml:"api_url"`
	Timeout        string `toml:"timeout"`
	MaxRetries     int    `toml:"max_retries"`
	BackoffInitial string `toml:"backoff_initial"`
	BackoffMax     string `toml:"backoff_max"`
	CAFile         string `toml:"ca_file"`
}

// LoadProject reads <repoRoot>/n8nctl.toml over the defaults. A missing
// file yields the defaults.
func LoadProject(repoRoot string) (Project, error) {
	path := filepath.Join(repoRoot, ProjectFile)
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return DefaultProject(), nil
	}
	return LoadProjectFile(path)
}

func LoadProjectFile(path string) (Project, error) {
	cfg := DefaultProject()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Project{}, fmt.Errorf("%w: load %s: %w", ErrConfig, path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return Project{}, fmt.Errorf("%w: %s: unknown key %q", ErrConfig, path, undecoded[0].String())
	}

	if meta.IsDefined("n8n_root") {
		root := strings.TrimSpace(raw.N8NRoot)
		if root == "" || filepath.IsAbs(root) {
			return Project{}, fmt.Errorf("%w: n8n_root must be a relative path", ErrConfig)
		}
		cfg.N8NRoot = filepath.ToSlash(filepath.Clean(root))
	}

	if meta.IsDefined("api_url") {
		cfg.APIURL = strings.TrimSpace(raw.APIURL)
	}

	// ca_file is relative to the directory holding the project file.
	if meta.IsDefined("ca_file") {
		if ca := strings.TrimSpace(raw.CAFile); ca != "" {
			if !filepath.IsAbs(ca) {
				ca = filepath.Join(filepath.Dir(path), ca)
			}
			cfg.CAFile = ca
		}
	}

	durations := []struct {
		key string
		raw string
		dst *time.Duration
	}{
		{"timeout", raw.Timeout, &cfg.Timeout},
		{"backoff_initial", raw.BackoffInitial, &cfg.BackoffInitial},
		{"backoff_max", raw.BackoffMax, &cfg.BackoffMax},
	}
	for _, d := range durations {
		if !meta.IsDefined(d.key) {
			continue
		}
		v, err := time.ParseDuration(strings.TrimSpace(d.raw))
		if err != nil {
			return Project{}, fmt.Errorf("%w: parse %s: %w", ErrConfig, d.key, err)
		}
		if v < 0 {
			return Project{}, fmt.Errorf("%w: %s must not be negative", ErrConfig, d.key)
		}
		*d.dst = v
	}

	if meta.IsDefined("max_retries") {
		if raw.MaxRetries < 1 {
			return Project{}, fmt.Errorf("%w: max_retries must be at least 1", ErrConfig)
		}
		cfg.MaxRetries = raw.MaxRetries
	}
	return cfg, nil
}
