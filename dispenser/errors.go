package dispenser

import (
	"errors"
	"fmt"
)

var (
	ErrNotSupported       = errors.New("not supported")
	ErrNotFound           = errors.New("not found")
	ErrNotAvailable       = errors.New("not available")
	ErrOperationFailed    = errors.New("operation failed")
	ErrNoSession          = errors.New("no dispenser paired")
	ErrSelectionCancelled = errors.New("device selection cancelled")
)

// OpError records which client operation failed.
type OpError struct {
	Op  string
	Err error
}

func (e *OpError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *OpError) Unwrap() error {
	return e.Err
}
