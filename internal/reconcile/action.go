package reconcile

import (
	"fmt"
	"strings"

	"github.com/danmuck/n8nctl/internal/document"
)

type Kind string

const (
	KindCreateTag  Kind = "create_tag"
	KindCreate     Kind = "create"
	KindUpdate     Kind = "update"
	KindActivate   Kind = "activate"
	KindDeactivate Kind = "deactivate"
	KindRename     Kind = "rename"
	KindDelete     Kind = "delete"
	KindAssignTags Kind = "assign_tags"
)

// NoRef marks an action whose target id is already known.
const NoRef = -1

// Action is one planned remote mutation.
//
// Workflow is the plan-local key: the desired name, or the remote name for
// Delete. WorkflowID is set when the identity already exists remotely;
// otherwise Ref is the index of the Create that will produce it.
type Action struct {
	Kind       Kind
	Workflow   string
	WorkflowID string
	Ref        int
	Tag        string
	NewName    string
	Payload    document.Value
	Tags       []string
	DependsOn  []int
}

func (a Action) target() string {
	switch {
	case a.WorkflowID != "":
		return fmt.Sprintf("%q (%s)", a.Workflow, a.WorkflowID)
	case a.Ref != NoRef:
		return fmt.Sprintf("%q (id from #%d)", a.Workflow, a.Ref+1)
	default:
		return fmt.Sprintf("%q", a.Workflow)
	}
}

func (a Action) String() string {
	switch a.Kind {
	case KindCreateTag:
		return fmt.Sprintf("%s %q", a.Kind, a.Tag)
	case KindRename:
		return fmt.Sprintf("%s %s -> %q", a.Kind, a.target(), a.NewName)
	case KindAssignTags:
		return fmt.Sprintf("%s %s [%s]", a.Kind, a.target(), strings.Join(a.Tags, ", "))
	default:
		return fmt.Sprintf("%s %s", a.Kind, a.target())
	}
}
