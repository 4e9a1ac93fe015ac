package invocation

import (
	"bytes"
	"testing"
	"time"

	"github.com/danmuck/n8nctl/internal/testutil/testlog"
)

func TestScopeClockAndOutput(t *testing.T) {
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	var buf bytes.Buffer
	s := Scope{Logger: testlog.Start(t), Out: &buf, Now: func() time.Time { return fixed }}
	if got := s.Clock(); !got.Equal(fixed) {
		t.Fatalf("unexpected clock: %v", got)
	}
	if s.Output() != &buf {
		t.Fatalf("unexpected output writer")
	}

	s.Now = nil
	if got := s.Clock(); got.IsZero() {
		t.Fatalf("expected wall clock fallback")
	}
	s.Silent = true
	if s.Output() == &buf {
		t.Fatalf("silent scope must discard output")
	}
	if Discard().Output() == nil {
		t.Fatalf("unexpected nil output")
	}
}
