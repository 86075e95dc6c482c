// Package apperr defines the error taxonomy shared by the identity service.
// Each kind carries a fixed HTTP status so handlers can map errors to the
// JSON envelope without inspecting messages.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

type Kind int

const (
	KindValidation Kind = iota
	KindNotFound
	KindRateLimited
	KindInvalidCredential
	KindDelivery
	KindStore
)

type Error struct {
	Kind    Kind
	Message string
	// RetryAfter is the number of seconds the caller must wait before
	// retrying. Only set for KindRateLimited.
	RetryAfter int
	err        error
}

func (e *Error) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.err }

func (e *Error) Status() int {
	switch e.Kind {
	case KindValidation, KindInvalidCredential:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

func Validation(msg string) *Error {
	return &Error{Kind: KindValidation, Message: msg}
}

func NotFound(msg string) *Error {
	return &Error{Kind: KindNotFound, Message: msg}
}

// RateLimited reports how long the caller must wait before the next resend.
func RateLimited(waitSeconds int) *Error {
	return &Error{
		Kind:       KindRateLimited,
		Message:    fmt.Sprintf("Please wait %d seconds before resending OTP.", waitSeconds),
		RetryAfter: waitSeconds,
	}
}

// InvalidCredential deliberately covers both a wrong and an expired code so
// the caller cannot tell which one happened.
func InvalidCredential() *Error {
	return &Error{Kind: KindInvalidCredential, Message: "Invalid or expired OTP"}
}

func Delivery(err error) *Error {
	return &Error{Kind: KindDelivery, Message: "Failed to send OTP email", err: err}
}

func Store(err error) *Error {
	return &Error{Kind: KindStore, Message: "Internal server error", err: err}
}

// From converts any error into an *Error, defaulting to KindStore for
// errors that did not originate in this taxonomy.
func From(err error) *Error {
	var ae *Error
	if errors.As(err, &ae) {
		return ae
	}
	return Store(err)
}
