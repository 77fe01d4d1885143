// Package apperr defines the error kinds shared by the ingestion pipeline and the HTTP layer.
package apperr

import (
	"errors"
	"fmt"
)

// Kind klassifiziert einen Fehler für die Abbildung auf HTTP-Statuscodes.
type Kind int

const (
	KindInternal Kind = iota
	KindNotFound
	KindConflict
	KindValidation
	KindUnavailable
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindValidation:
		return "validation"
	case KindUnavailable:
		return "unavailable"
	default:
		return "internal"
	}
}

// Sentinels for errors.Is checks against a kind.
var (
	ErrNotFound    = errors.New("not found")
	ErrConflict    = errors.New("conflict")
	ErrValidation  = errors.New("validation failed")
	ErrUnavailable = errors.New("service unavailable")
	ErrInternal    = errors.New("internal error")
)

// Existing identifies the paper that already holds a duplicate fingerprint.
type Existing struct {
	ID      string `json:"paper_id"`
	Title   string `json:"title"`
	Authors string `json:"authors"`
}

// Error is the tagged error carried through the pipeline.
type Error struct {
	Kind     Kind
	Message  string
	Err      error
	Existing *Existing
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is lets errors.Is match the sentinel of the error's kind.
func (e *Error) Is(target error) bool {
	return target == sentinel(e.Kind)
}

func sentinel(k Kind) error {
	switch k {
	case KindNotFound:
		return ErrNotFound
	case KindConflict:
		return ErrConflict
	case KindValidation:
		return ErrValidation
	case KindUnavailable:
		return ErrUnavailable
	default:
		return ErrInternal
	}
}

func NotFound(format string, args ...any) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

func Validation(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

// Conflict reports a duplicate fingerprint owned by the given paper.
func Conflict(existing Existing) *Error {
	return &Error{
		Kind:     KindConflict,
		Message:  "paper with identical content already exists",
		Existing: &existing,
	}
}

func Unavailable(err error, format string, args ...any) *Error {
	return &Error{Kind: KindUnavailable, Message: fmt.Sprintf(format, args...), Err: err}
}

func Internal(err error, format string, args ...any) *Error {
	return &Error{Kind: KindInternal, Message: fmt.Sprintf(format, args...), Err: err}
}

// KindOf returns the kind of the first *Error in the chain, KindInternal otherwise.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// ExistingOf returns the conflicting paper of a Conflict error.
func ExistingOf(err error) (*Existing, bool) {
	var e *Error
	if errors.As(err, &e) && e.Kind == KindConflict && e.Existing != nil {
		return e.Existing, true
	}
	return nil, false
}
