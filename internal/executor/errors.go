package executor

import "fmt"

// BackendError is a non-200 answer from a worker.
type BackendError struct {
	WorkerID   string
	StatusCode int
	Body       string
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("worker %s: HTTP %d: %s", e.WorkerID, e.StatusCode, e.Body)
}

// RetryError is returned once every attempt of a request has failed. It
// unwraps to the error of the final attempt.
type RetryError struct {
	Attempts int
	Last     error
}

func (e *RetryError) Error() string {
	return fmt.Sprintf("request failed after %d attempts, last error: %v", e.Attempts, e.Last)
}

func (e *RetryError) Unwrap() error {
	return e.Last
}
