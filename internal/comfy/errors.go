package comfy

import (
	"fmt"
	"time"
)

// SubmissionError is returned when the service accepts a submission but does
// not hand back a prompt id.
type SubmissionError struct {
	Body string
}

func (e *SubmissionError) Error() string {
	return fmt.Sprintf("no prompt_id in response: %s", e.Body)
}

// TimeoutError is returned when polling exceeds the configured maximum wait.
type TimeoutError struct {
	PromptID string
	Waited   time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("job %s timed out after %s", e.PromptID, e.Waited.Round(time.Millisecond))
}

// TransportError wraps a network or HTTP failure on any request.
type TransportError struct {
	Op  string // submit, poll or download
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// StatusError reports a non-2xx response where one is not tolerated.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("unexpected status code %d", e.StatusCode)
	}
	return fmt.Sprintf("unexpected status code %d: %s", e.StatusCode, e.Body)
}
