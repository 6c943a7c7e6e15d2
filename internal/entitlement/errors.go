package entitlement

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidPlan is returned when a plan outside the known set is requested.
	ErrInvalidPlan = errors.New("invalid plan")

	// ErrTokenNotFound covers both unissued and already claimed tokens.
	ErrTokenNotFound = errors.New("token not found")

	// ErrAlreadyClaimed is returned when another account won the claim race.
	// It matches ErrTokenNotFound under errors.Is.
	ErrAlreadyClaimed = fmt.Errorf("token already claimed: %w", ErrTokenNotFound)
)

// PersistenceError reports a failed round trip to the token store.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

func persistence(op string, err error) error {
	return &PersistenceError{Op: op, Err: err}
}

// IsPersistence reports whether err was caused by the token store.
func IsPersistence(err error) bool {
	var pe *PersistenceError
	return errors.As(err, &pe)
}
