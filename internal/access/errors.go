package access

import (
	"context"
	"errors"
	"fmt"
	"net"
)

var (
	// ErrInvalidPermission indicates a permission string that does not match domain.action.
	ErrInvalidPermission = errors.New("access: invalid permission format")
	// ErrEvaluation indicates the policy service returned an application-level error.
	ErrEvaluation = errors.New("access: evaluation failed")
	// ErrSessionClosed indicates an operation on a torn-down session.
	ErrSessionClosed = errors.New("access: session closed")
)

// TransientError marks a network or timeout class failure surfaced by the
// policy transport. The evaluator converts these into fallback results
// instead of propagating them.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("access: transient evaluation failure: %v", e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// Transient wraps an error as a transport-level transient failure.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}

// IsTransient reports whether the error belongs to the network/timeout class.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var te *TransientError
	if errors.As(err, &te) {
		return true
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
