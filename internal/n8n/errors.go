package n8n

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/danmuck/n8nctl/internal/remote"
)

var ErrRemote = errors.New("n8n: api request failed")

// APIError is a request that failed after retries or with a
// non-retryable status. Status is 0 when no response arrived.
type APIError struct {
	Method   string
	Endpoint string
	Status   int
	Attempts int
	Detail   string
	Err      error
}

func (e *APIError) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("%s: %s %s after %d attempt(s): %s", ErrRemote, e.Method, e.Endpoint, e.Attempts, e.Detail)
	}
	return fmt.Sprintf("%s: %s %s -> HTTP %d after %d attempt(s): %s", ErrRemote, e.Method, e.Endpoint, e.Status, e.Attempts, e.Detail)
}

// Is matches ErrRemote, and remote.ErrNotFound for 404 responses.
func (e *APIError) Is(target error) bool {
	if target == ErrRemote {
		return true
	}
	return target == remote.ErrNotFound && e.Status == http.StatusNotFound
}

func (e *APIError) Unwrap() error { return e.Err }
