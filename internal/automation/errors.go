package automation

import (
	"errors"
	"fmt"
)

// ReasonConditionsNotMet is the skip reason returned and logged when the
// conditions do not hold. It is an outcome, not an error.
const ReasonConditionsNotMet = "Conditions not met"

//nolint:stylecheck
var (
	ErrTriggerNotFound = errors.New("Trigger not found")
	ErrTriggerInactive = errors.New("Trigger is inactive")
)

// PersistenceError wraps a gateway failure together with the step that hit it.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

func persistence(op string, err error) error {
	if err == nil {
		return nil
	}
	return &PersistenceError{Op: op, Err: err}
}

// IsPersistence reports whether err came from the persistence gateway.
func IsPersistence(err error) bool {
	var pe *PersistenceError
	return errors.As(err, &pe)
}
