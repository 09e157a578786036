// Package apperr holds the error sentinels and kinds shared across cardsync.
package apperr

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrConflict      = errors.New("conflict")
	ErrAlreadyExists = errors.New("already exists")

	ErrValidation = errors.New("validation error")
	ErrParse      = errors.New("parse error")
	ErrAuth       = errors.New("auth error")
	ErrTransport  = errors.New("transport error")
)

// Kind classifies a failure by how the backup pipeline reacts to it.
type Kind int

const (
	KindValidation Kind = iota + 1
	KindParse
	KindAuth
	KindTransport
)

func (k Kind) sentinel() error {
	switch k {
	case KindValidation:
		return ErrValidation
	case KindParse:
		return ErrParse
	case KindAuth:
		return ErrAuth
	case KindTransport:
		return ErrTransport
	}
	return nil
}

// String returns the kind name.
func (k Kind) String() string {
	if s := k.sentinel(); s != nil {
		return s.Error()
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Error is a classified failure. errors.Is matches it against its kind
// sentinel as well as the wrapped cause.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	case e.Op != "":
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return e.Kind.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	return target != nil && target == e.Kind.sentinel()
}

// Validation wraps err as a ValidationError.
func Validation(op string, err error) error {
	return &Error{Kind: KindValidation, Op: op, Err: err}
}

// Parse wraps err as a ParseError.
func Parse(op string, err error) error {
	return &Error{Kind: KindParse, Op: op, Err: err}
}

// Auth wraps err as an AuthError.
func Auth(op string, err error) error {
	return &Error{Kind: KindAuth, Op: op, Err: err}
}

// Transport wraps err as a TransportError.
func Transport(op string, err error) error {
	return &Error{Kind: KindTransport, Op: op, Err: err}
}

// KindOf returns the kind of the first *Error in err's chain, or 0.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}
