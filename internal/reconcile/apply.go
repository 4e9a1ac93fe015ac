package reconcile

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/danmuck/n8nctl/internal/invocation"
	"github.com/danmuck/n8nctl/internal/observability"
	"github.com/danmuck/n8nctl/internal/remote"
)

type Result string

const (
	ResultApplied Result = "applied"
	ResultFailed  Result = "failed"
	ResultSkipped Result = "skipped"
	ResultNotRun  Result = "not_run"
)

// ActionResult is the outcome of one planned action. WorkflowID is the
// identity the action addressed or produced.
type ActionResult struct {
	Index      int
	Action     Action
	Result     Result
	WorkflowID string
	Err        error
}

// Outcome holds one result per planned action, in plan order.
type Outcome struct {
	Results []ActionResult
}

func (o Outcome) Count(r Result) int {
	n := 0
	for _, res := range o.Results {
		if res.Result == r {
			n++
		}
	}
	return n
}

// Complete reports whether every action was applied.
func (o Outcome) Complete() bool {
	return o.Count(ResultApplied) == len(o.Results)
}

// Err joins every action failure, or returns nil.
func (o Outcome) Err() error {
	var errs []error
	for _, res := range o.Results {
		if res.Result == ResultFailed {
			errs = append(errs, fmt.Errorf("#%d %s: %w", res.Index+1, res.Action, res.Err))
		}
	}
	return errors.Join(errs...)
}

func (o Outcome) Render(w io.Writer) error {
	for _, res := range o.Results {
		line := fmt.Sprintf("  %2d. %-8s %s", res.Index+1, res.Result, res.Action)
		if res.Err != nil {
			line += ": " + res.Err.Error()
		}
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
	}
	_, err := fmt.Fprintf(w, "Applied %d, failed %d, skipped %d, not run %d\n",
		o.Count(ResultApplied), o.Count(ResultFailed), o.Count(ResultSkipped), o.Count(ResultNotRun))
	return err
}

// Apply executes plan against store in order. A failed action skips its
// dependents. BreakOnError or a cancelled ctx leave the remaining actions
// not_run. Applied actions are never undone.
func Apply(ctx context.Context, scope invocation.Scope, plan *Plan, store remote.Store) Outcome {
	if plan.Empty() {
		return Outcome{}
	}
	ex := executor{
		store:   store,
		ids:     make([]string, len(plan.Actions)),
		tagIDs:  make(map[string]string, len(plan.remoteTags)),
		results: make([]ActionResult, len(plan.Actions)),
	}
	for name, id := range plan.remoteTags {
		ex.tagIDs[name] = id
	}
	log := scope.Logger

	stopped := false
	for i, a := range plan.Actions {
		res := ActionResult{Index: i, Action: a}
		switch {
		case stopped:
			res.Result = ResultNotRun
		case ctx.Err() != nil:
			stopped = true
			res.Result = ResultNotRun
			log.Warn().Err(ctx.Err()).Int("action", i+1).Msg("interrupted; remaining actions not run")
		case !ex.dependenciesApplied(a):
			res.Result = ResultSkipped
			log.Warn().Int("action", i+1).Str("kind", string(a.Kind)).Str("workflow", a.Workflow).Msg("skipped: dependency did not apply")
		default:
			id, err := ex.run(ctx, a)
			res.WorkflowID = id
			if err != nil {
				res.Result, res.Err = ResultFailed, err
				log.Error().Err(err).Int("action", i+1).Str("kind", string(a.Kind)).Str("workflow", a.Workflow).Msg("action failed")
				if scope.BreakOnError {
					stopped = true
				}
			} else {
				res.Result = ResultApplied
				ex.ids[i] = id
				log.Info().Int("action", i+1).Str("kind", string(a.Kind)).Str("workflow", a.Workflow).Str("id", id).Msg("applied")
			}
		}
		ex.results[i] = res
		observability.RecordAction(string(a.Kind), string(res.Result))
	}
	return Outcome{Results: ex.results}
}

type executor struct {
	store   remote.Store
	ids     []string
	tagIDs  map[string]string
	results []ActionResult
}

func (ex *executor) dependenciesApplied(a Action) bool {
	for _, d := range a.DependsOn {
		if d < 0 || d >= len(ex.results) || ex.results[d].Result != ResultApplied {
			return false
		}
	}
	return true
}

func (ex *executor) workflowID(a Action) (string, error) {
	if a.WorkflowID != "" {
		return a.WorkflowID, nil
	}
	if a.Ref >= 0 && a.Ref < len(ex.ids) && ex.ids[a.Ref] != "" {
		return ex.ids[a.Ref], nil
	}
	return "", fmt.Errorf("reconcile: no remote id for %q", a.Workflow)
}

func (ex *executor) run(ctx context.Context, a Action) (string, error) {
	switch a.Kind {
	case KindCreateTag:
		id, err := ex.store.CreateTag(ctx, a.Tag)
		if err != nil {
			return "", err
		}
		ex.tagIDs[a.Tag] = id
		return id, nil
	case KindCreate:
		return ex.store.CreateWorkflow(ctx, a.Payload)
	}

	id, err := ex.workflowID(a)
	if err != nil {
		return "", err
	}
	switch a.Kind {
	case KindUpdate, KindRename:
		err = ex.store.UpdateWorkflow(ctx, id, a.Payload)
	case KindActivate:
		err = ex.store.ActivateWorkflow(ctx, id)
	case KindDeactivate:
		err = ex.store.DeactivateWorkflow(ctx, id)
	case KindDelete:
		err = ex.store.DeleteWorkflow(ctx, id)
	case KindAssignTags:
		tagIDs := make([]string, 0, len(a.Tags))
		for _, name := range a.Tags {
			tid, ok := ex.tagIDs[name]
			if !ok {
				return id, fmt.Errorf("reconcile: tag %q has no remote id", name)
			}
			tagIDs = append(tagIDs, tid)
		}
		err = ex.store.SetWorkflowTags(ctx, id, tagIDs)
	default:
		err = fmt.Errorf("reconcile: unknown action kind %q", a.Kind)
	}
	return id, err
}
