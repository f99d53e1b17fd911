package errors

import "fmt"

// BackendError is a non-success HTTP response from the verification backend.
// It is returned to callers as-is.
type BackendError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *BackendError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("backend %s %s returned status %d", e.Method, e.Path, e.StatusCode)
	}
	return fmt.Sprintf("backend %s %s returned status %d: %s", e.Method, e.Path, e.StatusCode, e.Body)
}
