package tasks

import "github.com/pkg/errors"

type fatalError struct {
	error
}

func (e fatalError) Cause() error { return e.error }

func (e fatalError) Unwrap() error { return e.error }

// Fatal marks err as unrecoverable: the executor stops dispatching and
// AwaitTermination returns it.
func Fatal(err error) error {
	if err == nil {
		return nil
	}
	return fatalError{err}
}

// IsFatal reports whether err, or any error it wraps, was marked by Fatal.
func IsFatal(err error) bool {
	var f fatalError
	return errors.As(err, &f)
}
