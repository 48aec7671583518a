package images

import (
	"errors"
	"fmt"
)

// ErrNotFound indicates the requested record does not exist.
var ErrNotFound = errors.New("image record not found")

// InvalidStateError reports a guarded transition attempted against a record
// that is not in the expected status. The store guarantees no mutation
// happened when this error is returned.
type InvalidStateError struct {
	ID       int64
	Current  Status
	Expected Status
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("image %d is %s, expected %s", e.ID, e.Current, e.Expected)
}

// InvalidValueError reports a transition precondition on the record's fields
// that did not hold, such as an original file already being present.
type InvalidValueError struct {
	ID      int64
	Message string
}

func (e *InvalidValueError) Error() string {
	return fmt.Sprintf("image %d: %s", e.ID, e.Message)
}

// IsInvalidState reports whether err is a guarded-transition refusal of
// either flavor.
func IsInvalidState(err error) bool {
	var stateErr *InvalidStateError
	var valueErr *InvalidValueError
	return errors.As(err, &stateErr) || errors.As(err, &valueErr)
}
