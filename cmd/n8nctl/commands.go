package main

import (
	"fmt"
	"path/filepath"

	"github.com/danmuck/n8nctl/internal/config"
	"github.com/danmuck/n8nctl/internal/gitops"
	"github.com/danmuck/n8nctl/internal/invocation"
	"github.com/danmuck/n8nctl/internal/logging"
	"github.com/danmuck/n8nctl/internal/manifest"
	"github.com/danmuck/n8nctl/internal/n8n"
	"github.com/danmuck/n8nctl/internal/observability"
	"github.com/danmuck/n8nctl/internal/render"
	"github.com/spf13/cobra"
)

type rootOptions struct {
	silent       bool
	breakOnError bool
	repoRoot     string
	metricsFile  string
	apiURL       string
	apiKey       string
}

// env is what every subcommand resolves before doing work.
type env struct {
	repo    string
	project config.Project
	scope   invocation.Scope
}

func newRootCmd(c *cli) (*cobra.Command, *rootOptions) {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "n8nctl",
		Short:         "Deploy n8n workflows from a git repository",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(c.stdout)
	root.SetErr(c.stderr)

	pf := root.PersistentFlags()
	pf.BoolVar(&opts.silent, "silent", false, "suppress plan and report output; log warnings only")
	pf.BoolVar(&opts.breakOnError, "break-on-error", false, "stop applying at the first failed action")
	pf.StringVar(&opts.repoRoot, "repo-root", ".", "repository root")
	pf.StringVar(&opts.metricsFile, "metrics-file", "", "write prometheus metrics to this file on exit")
	pf.StringVar(&opts.apiURL, "api-url", "", "n8n base URL (overrides N8N_API_URL)")
	pf.StringVar(&opts.apiKey, "api-key", "", "n8n API key (overrides N8N_API_KEY)")

	root.AddCommand(
		newCreateProjectCmd(c, opts),
		newValidateCmd(c, opts),
		newExportCmd(c, opts),
		newDeployCmd(c, opts, false),
		newDeployCmd(c, opts, true),
	)
	return root, opts
}

func (o *rootOptions) setup(c *cli, command string) (env, error) {
	repo, err := filepath.Abs(o.repoRoot)
	if err != nil {
		return env{}, fmt.Errorf("resolve repo root: %w", err)
	}
	project, err := config.LoadProject(repo)
	if err != nil {
		return env{}, err
	}

	logCfg := logging.ConfigureRuntime()
	if o.silent {
		logCfg = logCfg.Quiet()
	}
	logCfg.Out = c.stderr
	logger := observability.InitLogger("n8nctl", logCfg).With().Str("command", command).Logger()

	scope := invocation.New(logger, o.silent, o.breakOnError)
	scope.Out = c.stdout
	return env{repo: repo, project: project, scope: scope}, nil
}

func (o *rootOptions) client(c *cli, e env) (*n8n.Client, error) {
	auth, err := config.ResolveAuth(e.repo, config.Auth{APIURL: o.apiURL, APIKey: o.apiKey}, c.environ(), e.project.APIURL)
	if err != nil {
		return nil, err
	}
	policy := n8n.DefaultRetryPolicy()
	policy.MaxAttempts = e.project.MaxRetries
	policy.Backoff.InitialDelay = e.project.BackoffInitial
	policy.Backoff.MaxDelay = e.project.BackoffMax
	return n8n.New(auth.APIURL, auth.APIKey,
		n8n.WithTimeout(e.project.Timeout),
		n8n.WithRetryPolicy(policy),
		n8n.WithLogger(e.scope.Logger),
		n8n.WithCAFile(e.project.CAFile),
	)
}

func (e env) source(gitRef string) gitops.Source {
	return gitops.Source{RepoRoot: e.repo, N8NRoot: e.project.N8NRoot, GitRef: gitRef}
}

type renderFlags struct {
	strict          bool
	enforceChecksum bool
	requireChecksum bool
}

func (f *renderFlags) bind(cmd *cobra.Command) {
	cmd.Flags().BoolVar(&f.strict, "strict", false, "treat warnings and missing include files as errors")
	cmd.Flags().BoolVar(&f.enforceChecksum, "enforce-checksum", false, "fail when an include checksum does not match")
	cmd.Flags().BoolVar(&f.requireChecksum, "require-checksum", false, "fail when an include has no checksum")
}

func newCreateProjectCmd(c *cli, opts *rootOptions) *cobra.Command {
	var n8nRoot string
	cmd := &cobra.Command{
		Use:   "create-project [path]",
		Short: "Scaffold a new workflow repository",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := opts.setup(c, "create-project")
			if err != nil {
				return err
			}
			dir := e.repo
			if len(args) == 1 {
				dir = args[0]
			}
			_, err = gitops.CreateProject(e.scope, dir, n8nRoot)
			return err
		},
	}
	cmd.Flags().StringVar(&n8nRoot, "n8n-root", manifest.DefaultRoot, "n8n directory inside the project")
	return cmd
}

func newValidateCmd(c *cli, opts *rootOptions) *cobra.Command {
	var (
		gitRef       string
		noInlineCode bool
		flags        renderFlags
	)
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check the manifest, workflow files, includes and environment",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := opts.setup(c, "validate")
			if err != nil {
				return err
			}
			_, err = gitops.Validate(cmd.Context(), e.scope, gitops.ValidateOptions{
				Source:              e.source(gitRef),
				Strict:              flags.strict,
				EnforceNoInlineCode: noInlineCode,
				EnforceChecksum:     flags.enforceChecksum,
				RequireChecksum:     flags.requireChecksum,
				Environ:             c.environ(),
			})
			return err
		},
	}
	cmd.Flags().StringVar(&gitRef, "git-ref", "", "validate the tree at this git ref instead of the working tree")
	cmd.Flags().BoolVar(&noInlineCode, "enforce-no-inline-code", false, "fail when a code node carries inline code")
	flags.bind(cmd)
	return cmd
}

func newExportCmd(c *cli, opts *rootOptions) *cobra.Command {
	var externalize bool
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Mirror every remote workflow into the repository",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := opts.setup(c, "export")
			if err != nil {
				return err
			}
			store, err := opts.client(c, e)
			if err != nil {
				return err
			}
			exportOpts := gitops.ExportOptions{RepoRoot: e.repo, N8NRoot: e.project.N8NRoot}
			if cmd.Flags().Changed("externalize-code") {
				exportOpts.ExternalizeCode = &externalize
			}
			_, err = gitops.Export(cmd.Context(), e.scope, exportOpts, store)
			return err
		},
	}
	cmd.Flags().BoolVar(&externalize, "externalize-code", true, "move node code into script files (default: manifest setting)")
	return cmd
}

func newDeployCmd(c *cli, opts *rootOptions, rollback bool) *cobra.Command {
	var (
		gitRef string
		dryRun bool
		backup bool
		prune  bool
		flags  renderFlags
	)
	name, short := "deploy", "Reconcile the remote instance with the repository"
	if rollback {
		name, short = "rollback", "Deploy the repository as it was at a git ref"
	}
	cmd := &cobra.Command{
		Use:   name,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := opts.setup(c, name)
			if err != nil {
				return err
			}
			store, err := opts.client(c, e)
			if err != nil {
				return err
			}
			deployOpts := gitops.DeployOptions{
				Source: e.source(gitRef),
				DryRun: dryRun,
				Backup: backup,
				Prune:  prune,
				Render: render.Options{
					EnforceChecksum: flags.enforceChecksum,
					RequireChecksum: flags.requireChecksum,
					Strict:          flags.strict,
				},
			}
			if rollback {
				_, err = gitops.Rollback(cmd.Context(), e.scope, deployOpts, store)
			} else {
				_, err = gitops.Deploy(cmd.Context(), e.scope, deployOpts, store)
			}
			return err
		},
	}
	cmd.Flags().StringVar(&gitRef, "git-ref", "", "deploy the tree at this git ref")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "print the plan without applying it")
	cmd.Flags().BoolVar(&backup, "backup", false, "rename changed workflows to a backup name before replacing them")
	cmd.Flags().BoolVar(&prune, "prune", false, "delete remote workflows absent from the manifest")
	flags.bind(cmd)
	if rollback {
		_ = cmd.MarkFlagRequired("git-ref")
	}
	return cmd
}
