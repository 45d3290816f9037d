package job

import "errors"

var (
	ErrNotFound     = errors.New("job not found")
	ErrConflict     = errors.New("job state changed concurrently")
	ErrUnknownType  = errors.New("unknown job type")
	ErrNotRetryable = errors.New("job is not in failed state")
)

// permanentError marks a failure that must not be retried.
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent wraps err so the dispatcher resolves the job to failed without
// spending the remaining attempts. Permanent(nil) returns nil.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err, or anything it wraps, was marked with Permanent.
func IsPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}
