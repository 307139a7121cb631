// Package domain provides the user-facing error type of the bot.
package domain

import (
	"errors"
	"fmt"
)

// ErrorType represents the category of a user-facing error.
type ErrorType string

const (
	// ErrorTypeExpired indicates a button whose context is gone.
	ErrorTypeExpired ErrorType = "expired"

	// ErrorTypeInvalidInput indicates text the bot could not use.
	ErrorTypeInvalidInput ErrorType = "invalid_input"

	// ErrorTypeNotFound indicates a book or listing was not found.
	ErrorTypeNotFound ErrorType = "not_found"

	// ErrorTypeForbidden indicates an admin-only action.
	ErrorTypeForbidden ErrorType = "forbidden"

	// ErrorTypeUnavailable indicates a feature that is not served.
	ErrorTypeUnavailable ErrorType = "unavailable"

	// ErrorTypeRateLimited indicates a denied rate-limit check.
	ErrorTypeRateLimited ErrorType = "rate_limited"

	// ErrorTypeServer indicates an upstream or internal failure.
	ErrorTypeServer ErrorType = "server"
)

// UserError is an error whose message is shown to the user. MessageID names
// a localized message; Data fills its template.
type UserError struct {
	Type      ErrorType
	MessageID string
	Data      map[string]any

	// Alert asks platforms that support it to show a popup rather than a
	// chat message.
	Alert bool

	// Cause is the underlying error, if any. It is logged, never shown.
	Cause error
}

// Error implements the error interface.
func (e *UserError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s (%s): %v", e.Type, e.MessageID, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.MessageID)
}

func (e *UserError) Unwrap() error { return e.Cause }

// NewUserError creates a new user error.
func NewUserError(errType ErrorType, messageID string) *UserError {
	return &UserError{
		Type:      errType,
		MessageID: messageID,
	}
}

// WithData sets the template data for the message.
func (e *UserError) WithData(data map[string]any) *UserError {
	e.Data = data
	return e
}

// WithCause attaches the underlying error.
func (e *UserError) WithCause(err error) *UserError {
	e.Cause = err
	return e
}

// AsAlert marks the error for popup display.
func (e *UserError) AsAlert() *UserError {
	e.Alert = true
	return e
}

// AsUserError returns the UserError in err's chain, if any.
func AsUserError(err error) (*UserError, bool) {
	var ue *UserError
	if errors.As(err, &ue) {
		return ue, true
	}
	return nil, false
}

// Convenience constructors for common errors

// ErrExpired creates an expired-button error.
func ErrExpired(cause error) *UserError {
	return NewUserError(ErrorTypeExpired, "ExpiredButton").WithCause(cause).AsAlert()
}

// ErrInvalidInput creates an invalid input error.
func ErrInvalidInput(messageID string) *UserError {
	return NewUserError(ErrorTypeInvalidInput, messageID)
}

// ErrNotFoundMsg creates a not found error.
func ErrNotFoundMsg(messageID string) *UserError {
	return NewUserError(ErrorTypeNotFound, messageID)
}

// ErrForbidden creates an admin-only error.
func ErrForbidden() *UserError {
	return NewUserError(ErrorTypeForbidden, "AdminOnly").AsAlert()
}

// ErrUnavailable creates a not-served error.
func ErrUnavailable() *UserError {
	return NewUserError(ErrorTypeUnavailable, "Unavailable").AsAlert()
}

// ErrRateLimited creates a slow-down error for a wait of seconds. Waits of a
// minute or more are expressed in whole minutes, rounded up.
func ErrRateLimited(seconds int) *UserError {
	if seconds >= 60 {
		return NewUserError(ErrorTypeRateLimited, "WaitMinutes").
			WithData(map[string]any{"Minutes": (seconds + 59) / 60}).AsAlert()
	}
	return NewUserError(ErrorTypeRateLimited, "WaitSeconds").
		WithData(map[string]any{"Seconds": seconds}).AsAlert()
}

// ErrServer creates an upstream failure error.
func ErrServer(cause error) *UserError {
	return NewUserError(ErrorTypeServer, "ServerError").WithCause(cause)
}
