package reconcile

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrPrecondition    = errors.New("reconcile: precondition failed")
	ErrMissingDocument = errors.New("reconcile: rendered document missing")
)

// PreconditionError reports a desired name matched by several live remote
// workflows.
type PreconditionError struct {
	Workflow string
	IDs      []string
}

func (e *PreconditionError) Error() string {
	return fmt.Sprintf("%s: workflow %q matches %d remote workflows (%s)",
		ErrPrecondition, e.Workflow, len(e.IDs), strings.Join(e.IDs, ", "))
}

func (e *PreconditionError) Unwrap() error { return ErrPrecondition }
