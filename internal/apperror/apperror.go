// Package apperror carries the typed error every core operation returns.
// The HTTP boundary (errHandler) is the only place kinds become status codes.
package apperror

import (
	"errors"
	"fmt"
)

type Kind string

const (
	KindValidation      Kind = "validation"
	KindNotFound        Kind = "not_found"
	KindDuplicate       Kind = "duplicate"
	KindForbidden       Kind = "forbidden"
	KindUnauthenticated Kind = "unauthenticated"
	KindInvalidState    Kind = "invalid_state"
	KindBusinessRule    Kind = "business_rule"
	KindUpstream        Kind = "upstream"
)

type Error struct {
	Kind    Kind
	Message string
	Field   string
	Detail  string
	// Fields holds per-field messages for validation failures.
	Fields []string
	Err    error
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

// Is matches on kind so callers can write errors.Is(err, apperror.ErrNotFound).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Message == "" && t.Kind == e.Kind
}

// Sentinels for errors.Is comparisons by kind.
var (
	ErrValidation   = &Error{Kind: KindValidation}
	ErrNotFound     = &Error{Kind: KindNotFound}
	ErrDuplicate    = &Error{Kind: KindDuplicate}
	ErrForbidden    = &Error{Kind: KindForbidden}
	ErrInvalidState = &Error{Kind: KindInvalidState}
	ErrBusinessRule = &Error{Kind: KindBusinessRule}
	ErrUpstream     = &Error{Kind: KindUpstream}
)

func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

func KindOf(err error) Kind {
	if e, ok := As(err); ok {
		return e.Kind
	}
	return ""
}

func Validation(message string, fields ...string) *Error {
	return &Error{Kind: KindValidation, Message: message, Fields: fields}
}

func FieldInvalid(field, message string) *Error {
	return &Error{Kind: KindValidation, Message: message, Field: field, Fields: []string{message}}
}

func NotFound(entity string) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf("%s not found", entity)}
}

func Duplicate(message string) *Error {
	return &Error{Kind: KindDuplicate, Message: message}
}

func Forbidden(message string) *Error {
	if message == "" {
		message = "you do not have permission to perform this action"
	}
	return &Error{Kind: KindForbidden, Message: message}
}

func Unauthenticated(message string) *Error {
	return &Error{Kind: KindUnauthenticated, Message: message}
}

func InvalidState(message string) *Error {
	return &Error{Kind: KindInvalidState, Message: message}
}

// InvalidTransition is the InvalidState raised by every status machine.
func InvalidTransition(entity, from, to string) *Error {
	return &Error{
		Kind:    KindInvalidState,
		Message: fmt.Sprintf("%s cannot move from %s to %s", entity, from, to),
		Detail:  fmt.Sprintf("entity=%s from=%s to=%s", entity, from, to),
	}
}

func BusinessRule(message string) *Error {
	return &Error{Kind: KindBusinessRule, Message: message}
}

func Upstream(message string, err error) *Error {
	e := &Error{Kind: KindUpstream, Message: message, Err: err}
	if err != nil {
		e.Detail = err.Error()
	}
	return e
}
