// SPDX-FileCopyrightText: Copyright 2025 LiftCV Authors
// SPDX-License-Identifier: Apache-2.0

// Package middleware guards HTTP routes behind the session state.
package middleware

import (
	"context"
	"net/http"
	"net/url"

	"github.com/liftcv/liftcv/pkg/auth/gateway"
	"github.com/liftcv/liftcv/pkg/logger"
)

// SessionReader is the slice of the session manager the guard needs.
type SessionReader interface {
	Identity() (*gateway.AuthUser, bool)
	IsInitializing() bool
}

type contextKey struct{}

var userKey contextKey

// UserFromContext returns the authenticated user stored by RequireAuth, or
// nil when the request did not pass through the guard.
func UserFromContext(ctx context.Context) *gateway.AuthUser {
	user, _ := ctx.Value(userKey).(*gateway.AuthUser)
	return user
}

// RequireAuth blocks requests until the session has settled and redirects
// unauthenticated requests to loginPath with the original URI in return_to.
// While the bootstrap is still running it answers 503 with a Retry-After
// hint rather than guessing at the outcome.
func RequireAuth(sessions SessionReader, loginPath string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if sessions.IsInitializing() {
				w.Header().Set("Retry-After", "1")
				http.Error(w, "session is initializing", http.StatusServiceUnavailable)
				return
			}

			user, authenticated := sessions.Identity()
			if !authenticated {
				logger.Debugf("unauthenticated request to %s", r.URL.Path)
				target := loginPath + "?return_to=" + url.QueryEscape(r.URL.RequestURI())
				http.Redirect(w, r, target, http.StatusFound)
				return
			}

			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userKey, user)))
		})
	}
}
