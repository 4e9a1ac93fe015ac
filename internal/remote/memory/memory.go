package memory

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"

	"github.com/danmuck/n8nctl/internal/document"
	"github.com/danmuck/n8nctl/internal/remote"
)

// Op names recorded in the journal.
const (
	OpListWorkflows      = "list_workflows"
	OpGetWorkflow        = "get_workflow"
	OpCreateWorkflow     = "create_workflow"
	OpUpdateWorkflow     = "update_workflow"
	OpActivateWorkflow   = "activate_workflow"
	OpDeactivateWorkflow = "deactivate_workflow"
	OpDeleteWorkflow     = "delete_workflow"
	OpListTags           = "list_tags"
	OpCreateTag          = "create_tag"
	OpUpdateTag          = "update_tag"
	OpSetWorkflowTags    = "set_workflow_tags"
)

// Call is one journal entry. Target is the id or name the call addressed.
type Call struct {
	Op     string
	Target string
}

// FailFunc may return an error to inject a failure before op runs.
type FailFunc func(op string, target string) error

// Store is a zero-latency remote.Store with deterministic ids.
type Store struct {
	mu        sync.Mutex
	workflows map[string]*remote.Workflow
	order     []string
	tags      map[string]*remote.Tag
	tagOrder  []string
	nextWF    int
	nextTag   int
	journal   []Call
	fail      FailFunc
}

var _ remote.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		workflows: make(map[string]*remote.Workflow),
		tags:      make(map[string]*remote.Tag),
	}
}

// SetFailure installs fn as the failure hook. nil clears it.
func (s *Store) SetFailure(fn FailFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail = fn
}

// Journal returns the calls recorded so far.
func (s *Store) Journal() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Call(nil), s.journal...)
}

// ResetJournal clears recorded calls.
func (s *Store) ResetJournal() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.journal = nil
}

// Mutations returns journaled calls that change state.
func (s *Store) Mutations() []Call {
	var out []Call
	for _, c := range s.Journal() {
		switch c.Op {
		case OpListWorkflows, OpGetWorkflow, OpListTags:
			continue
		}
		out = append(out, c)
	}
	return out
}

// Seed inserts a workflow directly, bypassing the journal. An empty ID is
// assigned the next deterministic id.
func (s *Store) Seed(wf remote.Workflow) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if wf.ID == "" {
		wf.ID = s.newWorkflowID()
	}
	if wf.Document.IsNull() {
		wf.Document = remote.Payload(document.Null(), wf.Name)
	}
	wf.TagIDs = append([]string(nil), wf.TagIDs...)
	if _, ok := s.workflows[wf.ID]; !ok {
		s.order = append(s.order, wf.ID)
	}
	s.workflows[wf.ID] = &wf
	return wf.ID
}

// SeedTag inserts a tag directly and returns its id.
func (s *Store) SeedTag(name string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertTag(name)
}

func (s *Store) record(op string, target string) error {
	s.journal = append(s.journal, Call{Op: op, Target: target})
	if s.fail != nil {
		return s.fail(op, target)
	}
	return nil
}

func (s *Store) newWorkflowID() string {
	s.nextWF++
	return "wf-" + strconv.Itoa(s.nextWF)
}

func (s *Store) insertTag(name string) string {
	s.nextTag++
	id := "tag-" + strconv.Itoa(s.nextTag)
	s.tags[id] = &remote.Tag{ID: id, Name: name}
	s.tagOrder = append(s.tagOrder, id)
	return id
}

func (s *Store) lookup(id string) (*remote.Workflow, error) {
	wf, ok := s.workflows[id]
	if !ok {
		return nil, fmt.Errorf("%w: workflow %s", remote.ErrNotFound, id)
	}
	return wf, nil
}

func snapshotOf(wf *remote.Workflow, withDoc bool) remote.Workflow {
	out := remote.Workflow{
		ID:       wf.ID,
		Name:     wf.Name,
		Active:   wf.Active,
		Archived: wf.Archived,
		TagIDs:   append([]string(nil), wf.TagIDs...),
	}
	if withDoc {
		out.Document = wf.Document.Clone()
	}
	return out
}

func (s *Store) ListWorkflows(ctx context.Context) ([]remote.Workflow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record(OpListWorkflows, ""); err != nil {
		return nil, err
	}
	out := make([]remote.Workflow, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, snapshotOf(s.workflows[id], false))
	}
	return out, nil
}

func (s *Store) GetWorkflow(ctx context.Context, id string) (remote.Workflow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record(OpGetWorkflow, id); err != nil {
		return remote.Workflow{}, err
	}
	wf, err := s.lookup(id)
	if err != nil {
		return remote.Workflow{}, err
	}
	return snapshotOf(wf, true), nil
}

func (s *Store) CreateWorkflow(ctx context.Context, doc document.Value) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	name, _ := doc.StringField("name")
	if err := s.record(OpCreateWorkflow, name); err != nil {
		return "", err
	}
	id := s.newWorkflowID()
	s.workflows[id] = &remote.Workflow{
		ID:       id,
		Name:     name,
		TagIDs:   []string{},
		Document: remote.Payload(doc, name),
	}
	s.order = append(s.order, id)
	return id, nil
}

func (s *Store) UpdateWorkflow(ctx context.Context, id string, doc document.Value) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record(OpUpdateWorkflow, id); err != nil {
		return err
	}
	wf, err := s.lookup(id)
	if err != nil {
		return err
	}
	name, err := doc.StringField("name")
	if err != nil {
		name = wf.Name
	}
	wf.Name = name
	wf.Document = remote.Payload(doc, name)
	return nil
}

func (s *Store) ActivateWorkflow(ctx context.Context, id string) error {
	return s.setActive(OpActivateWorkflow, id, true)
}

func (s *Store) DeactivateWorkflow(ctx context.Context, id string) error {
	return s.setActive(OpDeactivateWorkflow, id, false)
}

func (s *Store) setActive(op string, id string, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record(op, id); err != nil {
		return err
	}
	wf, err := s.lookup(id)
	if err != nil {
		return err
	}
	wf.Active = active
	return nil
}

func (s *Store) DeleteWorkflow(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record(OpDeleteWorkflow, id); err != nil {
		return err
	}
	if _, err := s.lookup(id); err != nil {
		return err
	}
	delete(s.workflows, id)
	for i, v := range s.order {
		if v == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return nil
}

func (s *Store) ListTags(ctx context.Context) ([]remote.Tag, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record(OpListTags, ""); err != nil {
		return nil, err
	}
	out := make([]remote.Tag, 0, len(s.tagOrder))
	for _, id := range s.tagOrder {
		out = append(out, *s.tags[id])
	}
	return out, nil
}

func (s *Store) CreateTag(ctx context.Context, name string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record(OpCreateTag, name); err != nil {
		return "", err
	}
	for _, t := range s.tags {
		if t.Name == name {
			return "", fmt.Errorf("memory: tag %q already exists", name)
		}
	}
	return s.insertTag(name), nil
}

func (s *Store) UpdateTag(ctx context.Context, id string, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record(OpUpdateTag, id); err != nil {
		return err
	}
	t, ok := s.tags[id]
	if !ok {
		return fmt.Errorf("%w: tag %s", remote.ErrNotFound, id)
	}
	t.Name = name
	return nil
}

func (s *Store) SetWorkflowTags(ctx context.Context, id string, tagIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record(OpSetWorkflowTags, id); err != nil {
		return err
	}
	wf, err := s.lookup(id)
	if err != nil {
		return err
	}
	for _, tid := range tagIDs {
		if _, ok := s.tags[tid]; !ok {
			return fmt.Errorf("%w: tag %s", remote.ErrNotFound, tid)
		}
	}
	wf.TagIDs = remote.SortedIDs(tagIDs)
	return nil
}

// Workflow returns the stored workflow named name, for assertions.
func (s *Store) Workflow(name string) (remote.Workflow, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range s.order {
		if wf := s.workflows[id]; wf.Name == name {
			return snapshotOf(wf, true), true
		}
	}
	return remote.Workflow{}, false
}

// Names returns every stored workflow name, sorted.
func (s *Store) Names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.workflows[id].Name)
	}
	sort.Strings(out)
	return out
}
