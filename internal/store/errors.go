package store

import (
	"errors"
	"fmt"

	"gorm.io/gorm"
)

// ErrorKind classifies a StoreError.
type ErrorKind string

const (
	KindIO         ErrorKind = "io"
	KindConstraint ErrorKind = "constraint"
	KindNotFound   ErrorKind = "not_found"
)

// StoreError is returned by every Store operation that fails.
type StoreError struct {
	Op   string
	Kind ErrorKind
	Err  error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// ErrNotPending is wrapped when a status transition targets an entry that has
// already left the pending state, or no longer exists.
var ErrNotPending = errors.New("entry is not pending")

// ErrInvalidEntry is wrapped when an entry fails validation on create.
var ErrInvalidEntry = errors.New("invalid schedule entry")

func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *StoreError
	if errors.As(err, &se) {
		return err
	}
	kind := KindIO
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound), errors.Is(err, ErrNotPending):
		kind = KindNotFound
	case errors.Is(err, gorm.ErrDuplicatedKey),
		errors.Is(err, gorm.ErrForeignKeyViolated),
		errors.Is(err, ErrInvalidEntry),
		errors.Is(err, ErrOpenRecordExists):
		kind = KindConstraint
	}
	return &StoreError{Op: op, Kind: kind, Err: err}
}

// IsKind reports whether err is a StoreError of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var se *StoreError
	return errors.As(err, &se) && se.Kind == kind
}
