package snapshot

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/danmuck/n8nctl/internal/tools"
)

// Historical reads files from one commit. The ref is resolved once at
// construction; later moves of the ref do not affect the snapshot. Reads
// run git under the construction context and stop once it is done.
type Historical struct {
	ctx    context.Context
	repo   string
	ref    string
	commit string
	runner tools.CommandRunner

	mu    sync.Mutex
	blobs map[string][]byte
}

// NewHistorical resolves ref to a commit id inside the repository at repo.
func NewHistorical(ctx context.Context, repo string, ref string, runner tools.CommandRunner) (*Historical, error) {
	r := strings.TrimSpace(ref)
	if r == "" || strings.HasPrefix(r, "-") {
		return nil, fmt.Errorf("%w: %q", ErrUnknownRef, ref)
	}
	if runner == nil {
		runner = tools.Git()
	}
	dir := strings.TrimSpace(repo)
	if dir == "" {
		dir = "."
	}
	stdout, stderr, exitCode, err := runner.Run(ctx, dir, "git", "rev-parse", "--verify", "--quiet", r+"^{commit}")
	if err != nil || exitCode != 0 {
		detail := strings.TrimSpace(string(stderr))
		if detail == "" && err != nil {
			detail = err.Error()
		}
		return nil, fmt.Errorf("%w: %q (%s)", ErrUnknownRef, ref, detail)
	}
	commit := strings.TrimSpace(string(stdout))
	if !isHexID(commit) {
		return nil, fmt.Errorf("%w: %q resolved to %q", ErrUnknownRef, ref, commit)
	}
	return &Historical{
		ctx:    ctx,
		repo:   dir,
		ref:    r,
		commit: commit,
		runner: runner,
		blobs:  make(map[string][]byte),
	}, nil
}

// Commit returns the resolved commit id.
func (h *Historical) Commit() string { return h.commit }

func (h *Historical) Describe() string {
	short := h.commit
	if len(short) > 12 {
		short = short[:12]
	}
	return fmt.Sprintf("git %s (%s)", h.ref, short)
}

func (h *Historical) Exists(rel string) bool {
	c, err := CleanPath(rel)
	if err != nil {
		return false
	}
	h.mu.Lock()
	_, cached := h.blobs[c]
	h.mu.Unlock()
	if cached {
		return true
	}
	stdout, _, exitCode, err := h.runner.Run(h.ctx, h.repo, "git", "cat-file", "-t", h.object(c))
	return err == nil && exitCode == 0 && strings.TrimSpace(string(stdout)) == "blob"
}

func (h *Historical) ReadFile(rel string) ([]byte, error) {
	c, err := CleanPath(rel)
	if err != nil {
		return nil, err
	}
	h.mu.Lock()
	if data, ok := h.blobs[c]; ok {
		h.mu.Unlock()
		return cloneBytes(data), nil
	}
	h.mu.Unlock()

	stdout, _, exitCode, err := h.runner.Run(h.ctx, h.repo, "git", "cat-file", "blob", h.object(c))
	if cerr := h.ctx.Err(); cerr != nil {
		return nil, fmt.Errorf("snapshot: read %s: %w", rel, cerr)
	}
	if err != nil || exitCode != 0 {
		return nil, notFound(rel)
	}
	h.mu.Lock()
	h.blobs[c] = cloneBytes(stdout)
	h.mu.Unlock()
	return cloneBytes(stdout), nil
}

func (h *Historical) ReadText(rel string) (string, error) {
	data, err := h.ReadFile(rel)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// object names the blob relative to the repo directory, which may be a
// subdirectory of the git top level.
func (h *Historical) object(clean string) string {
	return h.commit + ":./" + clean
}

func isHexID(s string) bool {
	if len(s) != 40 && len(s) != 64 {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !(c >= '0' && c <= '9' || c >= 'a' && c <= 'f') {
			return false
		}
	}
	return true
}

func cloneBytes(in []byte) []byte {
	out := make([]byte, len(in))
	copy(out, in)
	return out
}
