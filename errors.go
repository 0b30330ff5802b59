package colddrawer

import (
	"errors"
	"fmt"

	"github.com/IngarsPoliters/coldDrawer/actuator"
	"github.com/IngarsPoliters/coldDrawer/btcwatch"
)

var (
	// ErrDuplicateHash is returned when registering a swap whose
	// commitment is already tracked and not yet retired.
	ErrDuplicateHash = errors.New("swap hash already registered")

	// ErrSwapNotFound is returned when an admin operation names an
	// unknown swap.
	ErrSwapNotFound = errors.New("swap not found")

	// ErrInvalidRequest is returned when a registration fails
	// validation before any state change.
	ErrInvalidRequest = errors.New("invalid swap request")
)

// PersistentExternalFailureError wraps an external failure that survived the
// full retry schedule. The cause chain stays intact for the operator.
type PersistentExternalFailureError struct {
	// Op names the failed operation.
	Op string

	// Attempts is the number of tries made.
	Attempts int

	// Err is the final cause.
	Err error
}

// Error implements the error interface.
func (e *PersistentExternalFailureError) Error() string {
	return fmt.Sprintf("%v failed after %v attempts: %v", e.Op,
		e.Attempts, e.Err)
}

// Unwrap returns the final cause.
func (e *PersistentExternalFailureError) Unwrap() error {
	return e.Err
}

// isRetryable reports whether an error is an external failure worth
// retrying. Validation, authorization, state and cryptographic errors are
// terminal: the same submission cannot succeed later.
func isRetryable(err error) bool {
	return errors.Is(err, actuator.ErrActuatorTimeout) ||
		errors.Is(err, btcwatch.ErrRPCUnavailable)
}
