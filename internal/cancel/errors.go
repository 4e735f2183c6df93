package cancel

import "fmt"

// CancelledError is the terminal condition raised once a cancellation is
// observed. A cancelled job reports as cancelled, not as failed, and must
// not be billed.
type CancelledError struct {
	JobID  string
	Reason string
}

// Error implements the error interface.
func (e *CancelledError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("job %s cancelled", e.JobID)
	}
	return fmt.Sprintf("job %s cancelled: %s", e.JobID, e.Reason)
}
