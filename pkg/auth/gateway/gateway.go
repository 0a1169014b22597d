// SPDX-FileCopyrightText: Copyright 2025 LiftCV Authors
// SPDX-License-Identifier: Apache-2.0

// Package gateway normalizes all identity-provider interaction behind
// operations with uniform error semantics. It is the only place that builds
// the application-facing user representation.
package gateway

import (
	"context"
	"fmt"
	"sync"

	"github.com/liftcv/liftcv/pkg/auth/hub"
	"github.com/liftcv/liftcv/pkg/auth/provider"
	"github.com/liftcv/liftcv/pkg/errors"
	"github.com/liftcv/liftcv/pkg/logger"
)

// AuthUser is the normalized, application-facing representation of the
// signed-in principal. Immutable once constructed; a refresh produces a new
// value.
type AuthUser struct {
	// ID is the provider's stable opaque identifier, never reused.
	ID string

	// Username is the login identifier as presented by the provider.
	Username string

	// Email is best effort: the sign-in login identifier when recorded,
	// otherwise the provider's email attribute.
	Email string

	// Name is best effort, from the provider's attribute map.
	Name string

	// Attributes holds the raw provider attributes. Nil when the attribute
	// fetch failed; the user is still valid.
	Attributes map[string]string
}

// Gateway adapts the identity provider to the session layer.
type Gateway struct {
	provider  provider.Provider
	configure func(ctx context.Context) error

	configureOnce sync.Once
	configureErr  error
}

// Option customizes a Gateway.
type Option func(*Gateway)

// WithConfigure sets the one-time configuration step run by EnsureConfigured.
func WithConfigure(fn func(ctx context.Context) error) Option {
	return func(g *Gateway) { g.configure = fn }
}

// New creates a Gateway in front of the given provider.
func New(p provider.Provider, opts ...Option) *Gateway {
	g := &Gateway{provider: p}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// EnsureConfigured runs the provider configuration step exactly once per
// process. Calling it again is a no-op returning the first outcome.
func (g *Gateway) EnsureConfigured(ctx context.Context) error {
	g.configureOnce.Do(func() {
		if g.configure == nil {
			return
		}
		g.configureErr = g.configure(ctx)
	})
	return g.configureErr
}

// Events returns the provider's lifecycle event hub.
func (g *Gateway) Events() *hub.Hub {
	return g.provider.Events()
}

// SignIn authenticates with credentials and returns the normalized current
// user. When the provider demands a step this client does not recognize as
// terminal, the call fails with an additional-steps-required error.
func (g *Gateway) SignIn(ctx context.Context, email, password string) (*AuthUser, error) {
	if err := g.EnsureConfigured(ctx); err != nil {
		return nil, err
	}

	result, err := g.provider.SignIn(ctx, email, password)
	if err != nil {
		return nil, err
	}
	if !result.IsSignedIn {
		return nil, errors.NewAdditionalStepsRequiredError(
			fmt.Sprintf("sign-in requires an additional step: %s", result.NextStep), nil)
	}

	user, err := g.GetCurrentUser(ctx)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, errors.NewProviderError("sign-in succeeded but no session was established", nil)
	}
	return user, nil
}

// SignUp registers a new account. Optional attributes are forwarded only
// when present.
func (g *Gateway) SignUp(ctx context.Context, email, password, name, phone string) error {
	if err := g.EnsureConfigured(ctx); err != nil {
		return err
	}

	attributes := map[string]string{"email": email}
	if name != "" {
		attributes["name"] = name
	}
	if phone != "" {
		attributes["phone_number"] = phone
	}
	return g.provider.SignUp(ctx, email, password, attributes)
}

// ConfirmSignUp completes registration with the emailed confirmation code.
func (g *Gateway) ConfirmSignUp(ctx context.Context, email, code string) error {
	if err := g.EnsureConfigured(ctx); err != nil {
		return err
	}
	return g.provider.ConfirmSignUp(ctx, email, code)
}

// ResendSignUpCode requests a fresh confirmation code.
func (g *Gateway) ResendSignUpCode(ctx context.Context, email string) error {
	if err := g.EnsureConfigured(ctx); err != nil {
		return err
	}
	return g.provider.ResendSignUpCode(ctx, email)
}

// SignOut terminates the provider session.
func (g *Gateway) SignOut(ctx context.Context) error {
	if err := g.EnsureConfigured(ctx); err != nil {
		return err
	}
	return g.provider.SignOut(ctx)
}

// ForgetSession drops local credentials without contacting the provider.
func (g *Gateway) ForgetSession(ctx context.Context) error {
	if err := g.EnsureConfigured(ctx); err != nil {
		return err
	}
	return g.provider.ForgetSession(ctx)
}

// ForgotPassword starts the password reset flow for the given account.
func (g *Gateway) ForgotPassword(ctx context.Context, email string) error {
	if err := g.EnsureConfigured(ctx); err != nil {
		return err
	}
	return g.provider.ResetPassword(ctx, email)
}

// ResetPassword completes the password reset flow with the emailed code.
func (g *Gateway) ResetPassword(ctx context.Context, email, code, newPassword string) error {
	if err := g.EnsureConfigured(ctx); err != nil {
		return err
	}
	return g.provider.ConfirmResetPassword(ctx, email, code, newPassword)
}

// GetCurrentUser returns the normalized current user, or nil when no session
// exists. The provider's "no authenticated user" error kinds are a normal,
// expected outcome here, not a failure; any other error propagates.
func (g *Gateway) GetCurrentUser(ctx context.Context) (*AuthUser, error) {
	if err := g.EnsureConfigured(ctx); err != nil {
		return nil, err
	}

	raw, err := g.provider.GetCurrentUser(ctx)
	if err != nil {
		if errors.IsNoSession(err) {
			return nil, nil
		}
		return nil, err
	}

	return g.normalize(ctx, raw), nil
}

// ResolveRedirect exchanges a hosted-UI authorization code for a session and
// returns the resulting user.
func (g *Gateway) ResolveRedirect(ctx context.Context, code, verifier string) (*AuthUser, error) {
	if err := g.EnsureConfigured(ctx); err != nil {
		return nil, err
	}

	if _, err := g.provider.ExchangeAuthorizationCode(ctx, code, verifier); err != nil {
		return nil, err
	}

	user, err := g.GetCurrentUser(ctx)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, errors.NewOAuthRedirectError("redirect resolved but no session was established", nil)
	}
	return user, nil
}

// normalize builds the application-facing user. The attribute fetch is best
// effort: a failure degrades to Attributes == nil rather than failing the
// whole operation.
func (g *Gateway) normalize(ctx context.Context, raw *provider.User) *AuthUser {
	user := &AuthUser{
		ID:       raw.ID,
		Username: raw.Username,
		Email:    raw.LoginID,
	}

	attributes, err := g.provider.FetchUserAttributes(ctx)
	if err != nil {
		logger.Debugf("failed to fetch user attributes, continuing without them: %v", err)
		return user
	}

	user.Attributes = attributes
	if user.Email == "" {
		user.Email = attributes["email"]
	}
	user.Name = attributes["name"]
	return user
}
