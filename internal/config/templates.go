package config

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
)

const (
	KindManifest      = "manifest"
	KindEnvSchema     = "env-schema"
	KindGitignore     = "gitignore"
	KindAuthExample   = "auth-example"
	KindReadme        = "readme"
	KindProjectConfig = "project-config"
	KindKeep          = "keep"
)

func Template(kind string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case KindManifest:
		return manifestTemplate, nil
	case KindEnvSchema:
		return envSchemaTemplate, nil
	case KindGitignore:
		return gitignoreTemplate, nil
	case KindAuthExample:
		return authExampleTemplate, nil
	case KindReadme:
		return readmeTemplate, nil
	case KindProjectConfig:
		return projectConfigTemplate, nil
	case KindKeep:
		return "", nil
	default:
		return "", fmt.Errorf("unknown template kind: %s", kind)
	}
}

func WriteTemplate(path, kind string, overwrite bool) error {
	template, err := Template(kind)
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("file already exists: %s", path)
		}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(template), 0o644)
}

// ScaffoldFile is one file of a new project, relative to its root.
type ScaffoldFile struct {
	Path string
	Kind string
}

// Scaffold lists the files of a new project with its n8n tree at n8nRoot.
func Scaffold(n8nRoot string) []ScaffoldFile {
	return []ScaffoldFile{
		{Path: ".gitignore", Kind: KindGitignore},
		{Path: ".n8n-auth.example", Kind: KindAuthExample},
		{Path: "README.md", Kind: KindReadme},
		{Path: ProjectFile, Kind: KindProjectConfig},
		{Path: path.Join(n8nRoot, "manifests", "workflows.yaml"), Kind: KindManifest},
		{Path: path.Join(n8nRoot, "manifests", "env.schema.json"), Kind: KindEnvSchema},
		{Path: path.Join(n8nRoot, "workflows", ".gitkeep"), Kind: KindKeep},
		{Path: path.Join(n8nRoot, "scripts", ".gitkeep"), Kind: KindKeep},
	}
}

const manifestTemplate = `# When true, export moves node code into n8n/scripts/ and leaves
# include directives in the workflow JSON.
externalize_code: true

# Tag names that workflows may reference.
tags: []

workflows: []
`

const envSchemaTemplate = `{
  "required": ["N8N_API_URL", "N8N_API_KEY"],
  "vars": {}
}
`

const gitignoreTemplate = `.n8n-auth
.env
*.prom
`

const authExampleTemplate = `N8N_API_URL=
N8N_API_KEY=
`

const projectConfigTemplate = `n8n_root = "n8n"
timeout = "30s"
max_retries = 3
backoff_initial = "1s"
backoff_max = "8s"
# ca_file = "certs/ca.pem"
`

const readmeTemplate = "# n8n workflows\n\n" +
	"Workflows in this repository are deployed with `n8nctl`.\n\n" +
	"## Getting started\n\n" +
	"1. `cp .n8n-auth.example .n8n-auth` and fill in the API URL and key.\n" +
	"2. `n8nctl export` to pull the current workflows.\n" +
	"3. Commit, then `n8nctl deploy --dry-run` to review the plan.\n\n" +
	"## Layout\n\n" +
	"```\n" +
	"n8n/\n" +
	"  workflows/    workflow JSON, one file per workflow\n" +
	"  manifests/    workflows.yaml and env.schema.json\n" +
	"  scripts/      code referenced by include directives\n" +
	"n8nctl.toml     project settings\n" +
	"```\n\n" +
	"## Credentials\n\n" +
	"Priority order: `--api-url`/`--api-key` flags, then `N8N_API_URL`/`N8N_API_KEY`,\n" +
	"then the `.n8n-auth` file.\n\n" +
	"## Include directives\n\n" +
	"```\n" +
	"@@n8n-gitops:include scripts/payments/retry.py sha256=<64-hex>\n" +
	"```\n\n" +
	"The directive is replaced with the file content at deploy time. The checksum is optional\n" +
	"and is only ever added by hand.\n\n" +
	"## Commands\n\n" +
	"- `n8nctl validate` checks manifests, includes and environment\n" +
	"- `n8nctl deploy [--dry-run] [--backup] [--prune]`\n" +
	"- `n8nctl rollback --git-ref <ref>`\n" +
	"- `n8nctl export`\n"
