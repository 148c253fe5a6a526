// internal/domain/errors.go
package domain

import (
	"errors"
	"fmt"
)

// Kind classifies a failure so callers can branch on it without string matching.
type Kind string

const (
	KindInvalidIdentifier     Kind = "invalid_identifier"
	KindInvalidYear           Kind = "invalid_year"
	KindInvalidCopies         Kind = "invalid_copies"
	KindInvalidEmail          Kind = "invalid_email"
	KindItemAlreadyExists     Kind = "item_already_exists"
	KindItemNotFound          Kind = "item_not_found"
	KindMemberNotFound        Kind = "member_not_found"
	KindItemUnavailable       Kind = "item_unavailable"
	KindMemberOverLimit       Kind = "member_over_limit"
	KindLoanNotFound          Kind = "loan_not_found"
	KindRegistrationThrottled Kind = "registration_throttled"
	// KindConsistencyFault marks a broken internal invariant. It is a bug, never a
	// normal outcome of a well-formed request.
	KindConsistencyFault Kind = "consistency_fault"
)

// Error carries a Kind plus a human readable message.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap exposes the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same Kind, so the sentinels below work with errors.Is.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

// Errorf builds an *Error of the given kind.
func Errorf(kind Kind, format string, args ...interface{}) error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Sentinels for errors.Is checks. The messages are generic; concrete errors
// returned by the engine carry the specifics.
var (
	ErrInvalidIdentifier     = &Error{Kind: KindInvalidIdentifier, Message: "identifier must have exactly 13 digits"}
	ErrInvalidYear           = &Error{Kind: KindInvalidYear, Message: "invalid publication year"}
	ErrInvalidCopies         = &Error{Kind: KindInvalidCopies, Message: "total copies must be at least one"}
	ErrInvalidEmail          = &Error{Kind: KindInvalidEmail, Message: "invalid email"}
	ErrItemAlreadyExists     = &Error{Kind: KindItemAlreadyExists, Message: "item already exists"}
	ErrItemNotFound          = &Error{Kind: KindItemNotFound, Message: "item not found"}
	ErrMemberNotFound        = &Error{Kind: KindMemberNotFound, Message: "member not found"}
	ErrItemUnavailable       = &Error{Kind: KindItemUnavailable, Message: "item unavailable"}
	ErrMemberOverLimit       = &Error{Kind: KindMemberOverLimit, Message: "member is not eligible for checkout"}
	ErrLoanNotFound          = &Error{Kind: KindLoanNotFound, Message: "active loan not found"}
	ErrRegistrationThrottled = &Error{Kind: KindRegistrationThrottled, Message: "registration rate limit exceeded"}
	ErrConsistencyFault      = &Error{Kind: KindConsistencyFault, Message: "consistency fault"}
)

// KindOf returns the Kind of err, or "" when err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsNotFound reports whether err is one of the not-found kinds.
func IsNotFound(err error) bool {
	switch KindOf(err) {
	case KindItemNotFound, KindMemberNotFound, KindLoanNotFound:
		return true
	}
	return false
}

// IsValidation reports whether err was raised while constructing an entity.
func IsValidation(err error) bool {
	switch KindOf(err) {
	case KindInvalidIdentifier, KindInvalidYear, KindInvalidCopies, KindInvalidEmail:
		return true
	}
	return false
}

// IsConsistencyFault reports whether err signals a broken invariant.
func IsConsistencyFault(err error) bool {
	return errors.Is(err, ErrConsistencyFault)
}
