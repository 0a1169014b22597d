// SPDX-FileCopyrightText: Copyright 2025 LiftCV Authors
// SPDX-License-Identifier: Apache-2.0

// Package provider defines the boundary to the external identity provider
// and ships the AWS Cognito implementation of it.
//
// Everything above this package (gateway, session manager, CLI) talks to the
// Provider interface only. The concrete provider is responsible for token
// handling, the hosted-UI authorization-code exchange, and publishing
// lifecycle events on its hub.
package provider

import (
	"context"
	"time"

	"github.com/liftcv/liftcv/pkg/auth/hub"
)

//go:generate mockgen -destination=mocks/mock_provider.go -package=mocks -source=provider.go Provider

// NextStepDone is the terminal next-step reported when a sign-in is complete.
const NextStepDone = "DONE"

// SignInResult reports the outcome of a credential sign-in attempt.
type SignInResult struct {
	// IsSignedIn is true when the provider established a session.
	IsSignedIn bool

	// NextStep names the provider's required follow-up step, for example a
	// confirmation or MFA challenge. NextStepDone when no step remains.
	NextStep string
}

// User is the provider's representation of the authenticated principal.
// Normalization into the application-facing shape happens in the gateway.
type User struct {
	// ID is the provider's stable subject identifier.
	ID string

	// Username is the login identifier as known to the provider.
	Username string

	// LoginID is the identifier the user actually signed in with, when the
	// provider recorded one. May be empty for redirect-based sessions.
	LoginID string
}

// TokenBundle holds the token material backing a session.
type TokenBundle struct {
	AccessToken  string
	IDToken      string
	RefreshToken string
	Expiry       time.Time
}

// Session is the provider's view of the current session.
// Tokens is nil when no session exists.
type Session struct {
	Tokens *TokenBundle
}

// Provider is the identity provider capability consumed by the gateway.
// Implementations must be safe for concurrent use.
type Provider interface {
	// SignIn attempts a credential sign-in. A nil error with
	// SignInResult.IsSignedIn == false means the provider demands a further
	// step identified by NextStep.
	SignIn(ctx context.Context, username, password string) (SignInResult, error)

	// SignUp registers a new account. attributes carries optional profile
	// attributes (email, name, phone_number); empty values must not be sent.
	SignUp(ctx context.Context, username, password string, attributes map[string]string) error

	// ConfirmSignUp completes registration with the emailed confirmation code.
	ConfirmSignUp(ctx context.Context, username, code string) error

	// ResendSignUpCode requests a fresh confirmation code.
	ResendSignUpCode(ctx context.Context, username string) error

	// SignOut terminates the provider session and drops local token state.
	SignOut(ctx context.Context) error

	// ForgetSession discards local credentials, cached ones included,
	// without contacting the provider and without publishing an event.
	ForgetSession(ctx context.Context) error

	// ResetPassword starts the forgot-password flow.
	ResetPassword(ctx context.Context, username string) error

	// ConfirmResetPassword completes the forgot-password flow.
	ConfirmResetPassword(ctx context.Context, username, code, newPassword string) error

	// GetCurrentUser returns the authenticated principal. It fails with a
	// no-session typed error when no session exists.
	GetCurrentUser(ctx context.Context) (*User, error)

	// FetchUserAttributes returns the provider's attribute map for the
	// current user.
	FetchUserAttributes(ctx context.Context) (map[string]string, error)

	// FetchSession returns the current session. Session.Tokens is nil when
	// no session exists; that is not an error.
	FetchSession(ctx context.Context) (*Session, error)

	// ExchangeAuthorizationCode resolves a hosted-UI redirect by exchanging
	// the authorization code for tokens. verifier is the PKCE code verifier
	// captured when the flow started, empty if PKCE was not used.
	// Publishes signInWithRedirect or signInWithRedirect_failure.
	ExchangeAuthorizationCode(ctx context.Context, code, verifier string) (*Session, error)

	// Events returns the provider's lifecycle event hub.
	Events() *hub.Hub
}
