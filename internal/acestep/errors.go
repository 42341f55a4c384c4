package acestep

import (
	"errors"
	"fmt"
)

// Sentinel errors you can compare with errors.Is.
var (
	// ErrTaskFailed is returned when the service reports a failed task.
	ErrTaskFailed = errors.New("acestep: generation task failed")

	// ErrNoAudio is returned when a finished task lists no audio files.
	ErrNoAudio = errors.New("acestep: no audio file in result")
)

// APIError is a non-success response from the service, either an HTTP
// status >= 400 or an envelope code other than 200.
type APIError struct {
	Code    int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("acestep: API error (code %d)", e.Code)
	}
	return fmt.Sprintf("acestep: API error (code %d): %s", e.Code, e.Message)
}
