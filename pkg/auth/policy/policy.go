// SPDX-FileCopyrightText: Copyright 2025 LiftCV Authors
// SPDX-License-Identifier: Apache-2.0

// Package policy decides, from persisted facts alone, whether a previously
// authenticated session should be treated as expired. The decision is pure:
// no network calls, no provider round-trips. It exists so that application
// startup can skip contacting the identity provider when the local session
// window has clearly lapsed.
package policy

import "time"

const (
	// MaxSessionAge is the session window when the user did not ask to be remembered.
	MaxSessionAge = 24 * time.Hour

	// MaxRememberedSessionAge is the session window when "remember me" was set.
	MaxRememberedSessionAge = 7 * 24 * time.Hour
)

// Verdict is the result of a session expiry decision.
type Verdict struct {
	// Expired reports whether the persisted session window has lapsed.
	Expired bool
}

// Decide evaluates the session window against the persisted facts.
// A zero lastLogin means there is nothing to judge against; the caller should
// defer to a network check instead of short-circuiting.
func Decide(now time.Time, rememberMe bool, lastLogin time.Time) Verdict {
	if lastLogin.IsZero() {
		return Verdict{Expired: false}
	}

	age := now.Sub(lastLogin)
	if !rememberMe && age > MaxSessionAge {
		return Verdict{Expired: true}
	}
	if rememberMe && age > MaxRememberedSessionAge {
		return Verdict{Expired: true}
	}
	return Verdict{Expired: false}
}
