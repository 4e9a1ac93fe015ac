package reconcile

import (
	"fmt"
	"io"
	"regexp"
	"sort"
	"time"

	"github.com/danmuck/n8nctl/internal/document"
	"github.com/danmuck/n8nctl/internal/manifest"
	"github.com/danmuck/n8nctl/internal/remote"
)

const backupLayout = "2006-01-02 15:04:05"

var backupSuffix = regexp.MustCompile(` \[BKP \d{4}-\d{2}-\d{2} \d{2}:\d{2}:\d{2}\]$`)

// Options are the planning flags.
type Options struct {
	Backup bool
	Prune  bool
	Now    func() time.Time
}

// Plan is an ordered action sequence computed once per run.
type Plan struct {
	Actions []Action

	// tags known remotely at planning time, name -> id
	remoteTags map[string]string
}

func (p *Plan) Empty() bool { return p == nil || len(p.Actions) == 0 }

// Count returns how many actions of kind the plan holds.
func (p *Plan) Count(kind Kind) int {
	n := 0
	for _, a := range p.Actions {
		if a.Kind == kind {
			n++
		}
	}
	return n
}

// BackupName is the name a backed-up workflow is renamed to.
func BackupName(name string, at time.Time) string {
	return fmt.Sprintf("%s [BKP %s]", name, at.Format(backupLayout))
}

// IsBackupName reports whether name carries a backup suffix.
func IsBackupName(name string) bool {
	return backupSuffix.MatchString(name)
}

type planner struct {
	plan        *Plan
	opts        Options
	createdTags map[string]int
	touched     map[string]bool
}

func (pl *planner) add(a Action) int {
	pl.plan.Actions = append(pl.plan.Actions, a)
	return len(pl.plan.Actions) - 1
}

// Build diffs the manifest and its rendered documents against remote
// state. Workflows are processed in manifest order; prune deletes come last.
// Matched remote workflows should carry their Document so unchanged
// content plans nothing.
func Build(m manifest.Manifest, rendered map[string]document.Value, workflows []remote.Workflow, tags []remote.Tag, opts Options) (*Plan, error) {
	byName := make(map[string][]remote.Workflow)
	var live []remote.Workflow
	for _, wf := range workflows {
		if wf.Archived {
			continue
		}
		live = append(live, wf)
		byName[wf.Name] = append(byName[wf.Name], wf)
	}

	desired := make(map[string]bool, len(m.Workflows))
	for _, spec := range m.Workflows {
		desired[spec.Name] = true
		if matches := byName[spec.Name]; len(matches) > 1 {
			ids := make([]string, 0, len(matches))
			for _, wf := range matches {
				ids = append(ids, wf.ID)
			}
			sort.Strings(ids)
			return nil, &PreconditionError{Workflow: spec.Name, IDs: ids}
		}
		if _, ok := rendered[spec.Name]; !ok {
			return nil, fmt.Errorf("%w: %q", ErrMissingDocument, spec.Name)
		}
		if opts.Backup {
			if matches := byName[spec.Name]; len(matches) == 1 && matches[0].Document.IsNull() {
				return nil, fmt.Errorf("%w: remote document for %q is required for backup", ErrPrecondition, spec.Name)
			}
		}
	}

	if opts.Now == nil {
		opts.Now = time.Now
	}
	pl := &planner{
		plan:        &Plan{remoteTags: remote.TagIndex(tags)},
		opts:        opts,
		createdTags: make(map[string]int),
		touched:     make(map[string]bool),
	}

	for _, spec := range m.Workflows {
		payload := remote.Payload(rendered[spec.Name], spec.Name)
		tagDeps := pl.ensureTags(spec.Tags)

		matches := byName[spec.Name]
		if len(matches) == 0 {
			pl.create(spec, payload, tagDeps, nil)
			continue
		}
		pl.reconcile(spec, payload, tagDeps, matches[0])
	}

	if opts.Prune {
		for _, wf := range live {
			if desired[wf.Name] || pl.touched[wf.ID] || IsBackupName(wf.Name) {
				continue
			}
			pl.add(Action{Kind: KindDelete, Workflow: wf.Name, WorkflowID: wf.ID, Ref: NoRef})
		}
	}
	return pl.plan, nil
}

// ensureTags plans a CreateTag for every name absent remotely, once per
// plan, and returns the indices the workflow's tag binding depends on.
func (pl *planner) ensureTags(names []string) []int {
	var deps []int
	for _, name := range names {
		if _, ok := pl.plan.remoteTags[name]; ok {
			continue
		}
		idx, ok := pl.createdTags[name]
		if !ok {
			idx = pl.add(Action{Kind: KindCreateTag, Tag: name, Ref: NoRef})
			pl.createdTags[name] = idx
		}
		deps = append(deps, idx)
	}
	return deps
}

func (pl *planner) create(spec manifest.WorkflowSpec, payload document.Value, tagDeps []int, after []int) {
	c := pl.add(Action{
		Kind:      KindCreate,
		Workflow:  spec.Name,
		Ref:       NoRef,
		Payload:   payload,
		DependsOn: after,
	})
	if spec.Active {
		pl.add(Action{Kind: KindActivate, Workflow: spec.Name, Ref: c, DependsOn: []int{c}})
	}
	if len(spec.Tags) > 0 {
		pl.add(Action{
			Kind:      KindAssignTags,
			Workflow:  spec.Name,
			Ref:       c,
			Tags:      append([]string(nil), spec.Tags...),
			DependsOn: append([]int{c}, tagDeps...),
		})
	}
}

func (pl *planner) reconcile(spec manifest.WorkflowSpec, payload document.Value, tagDeps []int, wf remote.Workflow) {
	changed := wf.Document.IsNull() || !document.Equal(payload, remote.Payload(wf.Document, spec.Name))

	if changed && pl.opts.Backup {
		pl.touched[wf.ID] = true
		var deps []int
		if wf.Active {
			deps = append(deps, pl.add(Action{Kind: KindDeactivate, Workflow: spec.Name, WorkflowID: wf.ID, Ref: NoRef}))
		}
		newName := BackupName(spec.Name, pl.opts.Now())
		r := pl.add(Action{
			Kind:       KindRename,
			Workflow:   spec.Name,
			WorkflowID: wf.ID,
			Ref:        NoRef,
			NewName:    newName,
			Payload:    remote.Payload(wf.Document, newName),
			DependsOn:  deps,
		})
		pl.create(spec, payload, tagDeps, []int{r})
		return
	}

	var after []int
	if changed {
		pl.touched[wf.ID] = true
		after = append(after, pl.add(Action{
			Kind:       KindUpdate,
			Workflow:   spec.Name,
			WorkflowID: wf.ID,
			Ref:        NoRef,
			Payload:    payload,
		}))
	}
	switch {
	case spec.Active && !wf.Active:
		pl.add(Action{Kind: KindActivate, Workflow: spec.Name, WorkflowID: wf.ID, Ref: NoRef, DependsOn: after})
	case !spec.Active && wf.Active:
		pl.add(Action{Kind: KindDeactivate, Workflow: spec.Name, WorkflowID: wf.ID, Ref: NoRef, DependsOn: after})
	}
	if !pl.sameTags(spec.Tags, wf.TagIDs) {
		pl.add(Action{
			Kind:       KindAssignTags,
			Workflow:   spec.Name,
			WorkflowID: wf.ID,
			Ref:        NoRef,
			Tags:       append([]string(nil), spec.Tags...),
			DependsOn:  tagDeps,
		})
	}
}

func (pl *planner) sameTags(names []string, current []string) bool {
	want := make(map[string]bool, len(names))
	for _, name := range names {
		id, ok := pl.plan.remoteTags[name]
		if !ok {
			return false
		}
		want[id] = true
	}
	have := make(map[string]bool, len(current))
	for _, id := range current {
		have[id] = true
	}
	if len(want) != len(have) {
		return false
	}
	for id := range want {
		if !have[id] {
			return false
		}
	}
	return true
}

// Render writes the numbered plan to w.
func (p *Plan) Render(w io.Writer) error {
	if p.Empty() {
		_, err := fmt.Fprintln(w, "Plan: no changes")
		return err
	}
	if _, err := fmt.Fprintf(w, "Plan: %d action(s)\n", len(p.Actions)); err != nil {
		return err
	}
	for i, a := range p.Actions {
		if _, err := fmt.Fprintf(w, "  %2d. %s\n", i+1, a); err != nil {
			return err
		}
	}
	return nil
}
