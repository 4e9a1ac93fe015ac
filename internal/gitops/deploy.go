package gitops

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/danmuck/n8nctl/internal/document"
	"github.com/danmuck/n8nctl/internal/invocation"
	"github.com/danmuck/n8nctl/internal/reconcile"
	"github.com/danmuck/n8nctl/internal/remote"
	"github.com/danmuck/n8nctl/internal/render"
)

type DeployOptions struct {
	Source
	DryRun bool
	Backup bool
	Prune  bool
	Render render.Options
}

// DeployResult is what one deploy or rollback computed and did.
type DeployResult struct {
	Snapshot string
	Plan     *reconcile.Plan
	Outcome  reconcile.Outcome
	Applied  bool
}

// Deploy renders every workflow from the selected snapshot, plans against
// the store and applies unless DryRun. Any render failure aborts before the
// store is contacted.
func Deploy(ctx context.Context, scope invocation.Scope, opts DeployOptions, store remote.Store) (DeployResult, error) {
	var result DeployResult
	src, err := opts.Source.load(ctx)
	if err != nil {
		return result, err
	}
	result.Snapshot = src.snap.Describe()
	log := scope.Logger.With().Str("snapshot", result.Snapshot).Logger()
	out := scope.Output()
	fmt.Fprintf(out, "Source: %s\n", result.Snapshot)

	rendered, err := renderAll(scope, src, opts.Render)
	if err != nil {
		return result, err
	}

	workflows, tags, err := observe(ctx, store, src)
	if err != nil {
		return result, err
	}

	plan, err := reconcile.Build(src.manifest, rendered, workflows, tags, reconcile.Options{
		Backup: opts.Backup,
		Prune:  opts.Prune,
		Now:    scope.Clock,
	})
	if err != nil {
		return result, err
	}
	result.Plan = plan

	if err := plan.Render(out); err != nil {
		return result, err
	}
	if opts.DryRun {
		log.Info().Int("actions", len(plan.Actions)).Msg("dry run; plan not applied")
		return result, nil
	}
	if plan.Empty() {
		return result, nil
	}

	result.Outcome = reconcile.Apply(ctx, scope, plan, store)
	result.Applied = true
	if err := result.Outcome.Render(out); err != nil {
		return result, err
	}
	if !result.Outcome.Complete() {
		cause := result.Outcome.Err()
		if cause == nil {
			cause = ctx.Err()
		}
		return result, fmt.Errorf("%w: %d of %d action(s) applied: %w", ErrApply,
			result.Outcome.Count(reconcile.ResultApplied), len(result.Outcome.Results), cause)
	}
	return result, nil
}

// Rollback is Deploy over the snapshot pinned to opts.GitRef.
func Rollback(ctx context.Context, scope invocation.Scope, opts DeployOptions, store remote.Store) (DeployResult, error) {
	if opts.GitRef == "" && opts.Snapshot == nil {
		return DeployResult{}, ErrGitRefRequired
	}
	return Deploy(ctx, scope, opts, store)
}

func renderAll(scope invocation.Scope, src loaded, opts render.Options) (map[string]document.Value, error) {
	rendered := make(map[string]document.Value, len(src.manifest.Workflows))
	var errs []error
	for _, spec := range src.manifest.Workflows {
		doc, _, err := src.readWorkflow(spec)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		out, reports, err := render.Render(doc, src.snap, src.n8nRoot, opts)
		printIncludes(scope.Output(), spec.Name, reports)
		for _, r := range reports {
			ev := scope.Logger.Debug()
			if r.Status != render.StatusIncluded {
				ev = scope.Logger.Warn()
			}
			ev.Str("workflow", spec.Name).Str("node", r.Node).Str("field", r.Field).
				Str("path", r.Path).Str("status", string(r.Status)).Msg("include")
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("workflow %q: %w", spec.Name, err))
			continue
		}
		rendered[spec.Name] = out
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return rendered, nil
}

// printIncludes writes one line per directive resolution of workflow.
func printIncludes(out io.Writer, workflow string, reports []render.Report) {
	for _, r := range reports {
		fmt.Fprintf(out, "include %s/%s.%s: %s", workflow, r.Node, r.Field, r.Status)
		if r.Path != "" {
			fmt.Fprintf(out, " (%s)", r.Path)
		}
		fmt.Fprintln(out)
	}
}

// observe lists remote state and fetches full documents for the live
// workflows the manifest names.
func observe(ctx context.Context, store remote.Store, src loaded) ([]remote.Workflow, []remote.Tag, error) {
	workflows, err := store.ListWorkflows(ctx)
	if err != nil {
		return nil, nil, err
	}
	tags, err := store.ListTags(ctx)
	if err != nil {
		return nil, nil, err
	}
	desired := make(map[string]bool, len(src.manifest.Workflows))
	for _, spec := range src.manifest.Workflows {
		desired[spec.Name] = true
	}
	for i, wf := range workflows {
		if wf.Archived || !desired[wf.Name] || !wf.Document.IsNull() {
			continue
		}
		full, err := store.GetWorkflow(ctx, wf.ID)
		if err != nil {
			return nil, nil, err
		}
		workflows[i] = full
	}
	return workflows, tags, nil
}
