package protocol

import "errors"

// TransientError marks a runner failure as retryable. Failures not wrapped
// in it are treated as fatal and consume the node immediately.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return "transient: " + e.Err.Error()
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// Transient wraps err as retryable. Returns nil for a nil err.
func Transient(err error) error {
	if err == nil {
		return nil
	}

	return &TransientError{Err: err}
}

// IsTransient reports whether err is retryable.
func IsTransient(err error) bool {
	var transient *TransientError

	return errors.As(err, &transient)
}
