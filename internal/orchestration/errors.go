package orchestration

import (
	"errors"
	"fmt"
)

var (
	ErrConfiguration    = errors.New("configuration error")
	ErrRateLimited      = errors.New("scan rate limit exceeded")
	ErrAdmissionTimeout = errors.New("scan admission timed out")
	ErrInvalidTarget    = errors.New("invalid scan target")
	ErrScanNotFound     = errors.New("scan not found")
)

// CapabilityError is the final failure of one capability after every retry.
type CapabilityError struct {
	CapabilityID string
	Attempts     int
	Err          error
}

func (e *CapabilityError) Error() string {
	return fmt.Sprintf("capability %s failed after %d attempt(s): %v", e.CapabilityID, e.Attempts, e.Err)
}

func (e *CapabilityError) Unwrap() error { return e.Err }
