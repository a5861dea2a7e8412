package medical

import (
	"context"
	"errors"
	"fmt"
)

//ValidationError indicates a payload or metadata draft that was rejected
//before any side effect took place
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %s", e.Reason)
}

//UnsupportedOperationError indicates an unknown preprocessing operation type
type UnsupportedOperationError struct {
	Op string
}

func (e *UnsupportedOperationError) Error() string {
	return fmt.Sprintf("unsupported preprocessing operation %q", e.Op)
}

//PreprocessingError indicates a transform chain failure and identifies the
//failing step
type PreprocessingError struct {
	Op  string
	Err error
}

func (e *PreprocessingError) Error() string {
	return fmt.Sprintf("preprocessing operation %q failed: %v", e.Op, e.Err)
}

func (e *PreprocessingError) Unwrap() error { return e.Err }

//StorageError indicates an artifact persistence failure
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s failed: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

//IndexError indicates a metadata index failure after the artifact was stored
type IndexError struct {
	Err error
}

func (e *IndexError) Error() string {
	return fmt.Sprintf("index update failed: %v", e.Err)
}

func (e *IndexError) Unwrap() error { return e.Err }

//NotFoundError indicates a lookup of an unknown identifier
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.ID)
}

//UpstreamError indicates an unreachable or misbehaving external clinical system
type UpstreamError struct {
	System string
	Err    error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream system %s unavailable: %v", e.System, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

//TimeoutError indicates an expired caller-specified deadline on a storage or
//clinical system call
type TimeoutError struct {
	Op  string
	Err error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s timed out", e.Op)
}

func (e *TimeoutError) Unwrap() error { return e.Err }

//IsNotFound reports whether err is a NotFoundError
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

//IsTimeout reports whether err is a TimeoutError or an expired context
func IsTimeout(err error) bool {
	var te *TimeoutError
	if errors.As(err, &te) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}

//WrapTimeout converts a context deadline expiry into a TimeoutError, leaving
//other errors untouched
func WrapTimeout(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &TimeoutError{Op: op, Err: err}
	}
	return err
}
