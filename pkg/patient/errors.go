package patient

import (
	"errors"
	"fmt"
)

// PersistenceError reports a failed read or write against the patient store
// or the document bucket.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

func IsPersistenceError(err error) bool {
	var pe *PersistenceError
	return errors.As(err, &pe)
}
