// SPDX-FileCopyrightText: Copyright 2025 LiftCV Authors
// SPDX-License-Identifier: Apache-2.0

// Package environment wraps the ambient state the session layer depends on:
// the persisted session facts ("remember me", last login) and the OAuth
// redirect parameters left behind by a hosted-UI sign-in. Hiding both behind
// an interface keeps the session manager unit-testable without a real
// filesystem or browser flow.
package environment

import (
	"context"
	"time"
)

//go:generate mockgen -destination=mocks/mock_environment.go -package=mocks -source=environment.go Environment

// RedirectParams are the OAuth callback parameters deposited by a hosted-UI
// redirect: an authorization code on success or an error marker on failure,
// plus the PKCE verifier captured when the flow started.
type RedirectParams struct {
	Code     string `yaml:"code,omitempty"`
	Err      string `yaml:"error,omitempty"`
	Verifier string `yaml:"verifier,omitempty"`
}

// Facts are the persisted session-policy inputs. They are a flag store, not
// a general-purpose cache.
type Facts struct {
	// RememberMe records whether the user asked to stay signed in.
	RememberMe bool `yaml:"remember_me"`

	// LastLoginMillis is the epoch-millisecond timestamp of the last explicit
	// sign-in. Zero when never recorded.
	LastLoginMillis int64 `yaml:"last_login_ms,omitempty"`
}

// LastLogin returns the last-login timestamp, zero when never recorded.
func (f Facts) LastLogin() time.Time {
	if f.LastLoginMillis == 0 {
		return time.Time{}
	}
	return time.UnixMilli(f.LastLoginMillis)
}

// Environment is the ambient-state boundary consumed by the session manager.
type Environment interface {
	// RedirectParams returns the pending OAuth callback parameters, or nil
	// when no redirect is pending.
	RedirectParams(ctx context.Context) (*RedirectParams, error)

	// ClearRedirectParams removes the pending parameters so a later startup
	// does not re-trigger the exchange.
	ClearRedirectParams(ctx context.Context) error

	// Facts returns the persisted session facts. A missing store reads as
	// the zero value.
	Facts(ctx context.Context) (Facts, error)

	// SetFacts persists the session facts, replacing any previous value.
	SetFacts(ctx context.Context, facts Facts) error

	// ClearFacts removes the persisted session facts.
	ClearFacts(ctx context.Context) error
}
