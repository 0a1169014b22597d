// SPDX-FileCopyrightText: Copyright 2025 LiftCV Authors
// SPDX-License-Identifier: Apache-2.0

// Package errors defines the typed errors shared across the LiftCV client.
package errors

import (
	"errors"
	"fmt"
)

// Error types
const (
	// ErrInvalidArgument is returned when an invalid argument is provided
	ErrInvalidArgument = "invalid_argument"

	// ErrNoSession is returned when the identity provider reports that no
	// authenticated user exists. Callers treat this as a benign outcome.
	ErrNoSession = "no_session"

	// ErrAdditionalStepsRequired is returned when a sign-in attempt requires
	// a verification step this client does not recognize as terminal
	ErrAdditionalStepsRequired = "additional_steps_required"

	// ErrOAuthRedirect is returned when resolving a hosted-UI redirect
	// callback fails (code exchange, state mismatch, token verification)
	ErrOAuthRedirect = "oauth_redirect"

	// ErrProvider is returned when the identity provider rejects an operation
	ErrProvider = "provider"

	// ErrOperationInFlight is returned when a mutating auth operation is
	// invoked while another one is still running
	ErrOperationInFlight = "operation_in_flight"

	// ErrInternal is returned when there is an internal error
	ErrInternal = "internal"
)

// Error represents an error in the application
type Error struct {
	// Type is the error type
	Type string

	// Message is the error message
	Message string

	// Cause is the underlying error
	Cause error
}

// Error returns the error message
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %s", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new error
func NewError(errorType, message string, cause error) *Error {
	return &Error{
		Type:    errorType,
		Message: message,
		Cause:   cause,
	}
}

// NewInvalidArgumentError creates a new invalid argument error
func NewInvalidArgumentError(message string, cause error) *Error {
	return NewError(ErrInvalidArgument, message, cause)
}

// NewNoSessionError creates a new no session error
func NewNoSessionError(message string, cause error) *Error {
	return NewError(ErrNoSession, message, cause)
}

// NewAdditionalStepsRequiredError creates a new additional steps required error
func NewAdditionalStepsRequiredError(message string, cause error) *Error {
	return NewError(ErrAdditionalStepsRequired, message, cause)
}

// NewOAuthRedirectError creates a new OAuth redirect error
func NewOAuthRedirectError(message string, cause error) *Error {
	return NewError(ErrOAuthRedirect, message, cause)
}

// NewProviderError creates a new provider error
func NewProviderError(message string, cause error) *Error {
	return NewError(ErrProvider, message, cause)
}

// NewOperationInFlightError creates a new operation in flight error
func NewOperationInFlightError(message string) *Error {
	return NewError(ErrOperationInFlight, message, nil)
}

// NewInternalError creates a new internal error
func NewInternalError(message string, cause error) *Error {
	return NewError(ErrInternal, message, cause)
}

func isType(err error, errorType string) bool {
	var e *Error
	return errors.As(err, &e) && e.Type == errorType
}

// IsInvalidArgument checks if the error is an invalid argument error
func IsInvalidArgument(err error) bool {
	return isType(err, ErrInvalidArgument)
}

// IsNoSession checks if the error is a no session error
func IsNoSession(err error) bool {
	return isType(err, ErrNoSession)
}

// IsAdditionalStepsRequired checks if the error is an additional steps required error
func IsAdditionalStepsRequired(err error) bool {
	return isType(err, ErrAdditionalStepsRequired)
}

// IsOAuthRedirect checks if the error is an OAuth redirect error
func IsOAuthRedirect(err error) bool {
	return isType(err, ErrOAuthRedirect)
}

// IsProvider checks if the error is a provider error
func IsProvider(err error) bool {
	return isType(err, ErrProvider)
}

// IsOperationInFlight checks if the error is an operation in flight error
func IsOperationInFlight(err error) bool {
	return isType(err, ErrOperationInFlight)
}

// IsInternal checks if the error is an internal error
func IsInternal(err error) bool {
	return isType(err, ErrInternal)
}
