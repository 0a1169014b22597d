// SPDX-FileCopyrightText: Copyright 2025 LiftCV Authors
// SPDX-License-Identifier: Apache-2.0

// Package session owns the authenticated-session lifecycle: it bootstraps
// the session at startup, reconciles pending OAuth redirects, applies the
// remember-me expiry policy, tracks identity-provider events, and exposes a
// single consistent view of the current user.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/liftcv/liftcv/pkg/auth/gateway"
	"github.com/liftcv/liftcv/pkg/auth/hub"
	"github.com/liftcv/liftcv/pkg/auth/policy"
	"github.com/liftcv/liftcv/pkg/environment"
	"github.com/liftcv/liftcv/pkg/errors"
	"github.com/liftcv/liftcv/pkg/logger"
)

//go:generate mockgen -destination mocks/mock_authenticator.go -package mocks -source manager.go Authenticator

// Authenticator is the slice of the auth gateway the session manager needs.
// *gateway.Gateway satisfies it.
type Authenticator interface {
	EnsureConfigured(ctx context.Context) error
	SignIn(ctx context.Context, email, password string) (*gateway.AuthUser, error)
	SignUp(ctx context.Context, email, password, name, phone string) error
	ConfirmSignUp(ctx context.Context, email, code string) error
	ResendSignUpCode(ctx context.Context, email string) error
	SignOut(ctx context.Context) error
	ForgotPassword(ctx context.Context, email string) error
	ResetPassword(ctx context.Context, email, code, newPassword string) error
	ForgetSession(ctx context.Context) error
	GetCurrentUser(ctx context.Context) (*gateway.AuthUser, error)
	ResolveRedirect(ctx context.Context, code, verifier string) (*gateway.AuthUser, error)
	Events() *hub.Hub
}

// State is the externally visible session state. User and IsAuthenticated
// always agree: IsAuthenticated is true exactly when User is non-nil.
type State struct {
	User            *gateway.AuthUser
	IsAuthenticated bool
	IsInitializing  bool
	IsProcessing    bool
	Err             error
}

// Manager orchestrates the session lifecycle. All state transitions happen
// under a single mutex, so observers always see a consistent snapshot.
type Manager struct {
	auth Authenticator
	env  environment.Environment
	now  func() time.Time

	mu        sync.Mutex
	state     State
	listeners map[string]func(State)

	initOnce sync.Once
	sf       singleflight.Group

	sub    *hub.Subscription
	cancel context.CancelFunc
	done   chan struct{}
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithClock overrides the time source. Used in tests.
func WithClock(now func() time.Time) ManagerOption {
	return func(m *Manager) {
		m.now = now
	}
}

// NewManager creates a session manager. Call Start to begin the bootstrap
// sequence and event tracking.
func NewManager(auth Authenticator, env environment.Environment, opts ...ManagerOption) *Manager {
	m := &Manager{
		auth:      auth,
		env:       env,
		now:       time.Now,
		listeners: make(map[string]func(State)),
		state:     State{IsInitializing: true},
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start subscribes to provider events and launches the bootstrap sequence.
// The subscription is established before bootstrap begins so that events
// fired during startup are not lost.
func (m *Manager) Start(ctx context.Context) {
	ctx, m.cancel = context.WithCancel(ctx)
	m.sub = m.auth.Events().Subscribe()

	go m.run(ctx)
}

// Close cancels the bootstrap, stops event tracking, and waits for the
// manager's goroutine to exit. No state is written after Close returns.
func (m *Manager) Close() {
	if m.cancel == nil {
		return
	}
	m.cancel()
	m.sub.Unsubscribe()
	<-m.done
}

func (m *Manager) run(ctx context.Context) {
	defer close(m.done)

	m.bootstrap(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-m.sub.C():
			if !ok {
				return
			}
			m.handleEvent(ctx, ev)
		}
	}
}

// bootstrap determines the initial session state: configure the provider,
// reconcile any pending OAuth redirect, apply the expiry policy, and finally
// ask the provider for the current user. IsInitializing flips to false
// exactly once, whatever path the bootstrap takes.
func (m *Manager) bootstrap(ctx context.Context) {
	defer m.finishInitializing(ctx)

	if err := m.auth.EnsureConfigured(ctx); err != nil {
		logger.Errorf("auth configuration failed: %v", err)
		m.updateIfActive(ctx, func(s *State) {
			s.User = nil
			s.IsAuthenticated = false
			s.Err = err
		})
		return
	}

	if m.reconcileRedirect(ctx) {
		return
	}

	expired, err := m.sessionExpired(ctx)
	if err != nil {
		logger.Warnf("failed to read session facts: %v", err)
	} else if expired {
		logger.Debug("stored session is past its allowed age, discarding it")
		if err := m.env.ClearFacts(ctx); err != nil {
			logger.Warnf("failed to clear session facts: %v", err)
		}
		// Drop cached credentials too, or the session would come back on
		// the next startup once the facts are gone.
		if err := m.auth.ForgetSession(ctx); err != nil {
			logger.Warnf("failed to discard expired credentials: %v", err)
		}
		m.updateIfActive(ctx, func(s *State) {
			s.User = nil
			s.IsAuthenticated = false
		})
		return
	}

	user, err := m.auth.GetCurrentUser(ctx)
	if err != nil {
		// Startup must settle to a definite state; a failed lookup means
		// signed out, not an error the caller has to handle.
		logger.Debugf("no current user at startup: %v", err)
		user = nil
	}
	m.updateIfActive(ctx, func(s *State) {
		s.User = user
		s.IsAuthenticated = user != nil
	})
}

// reconcileRedirect consumes a deposited OAuth callback, if any. It returns
// true when the redirect fully determined the session state and the rest of
// the bootstrap should be skipped.
func (m *Manager) reconcileRedirect(ctx context.Context) bool {
	params, err := m.env.RedirectParams(ctx)
	if err != nil {
		logger.Warnf("failed to read redirect parameters: %v", err)
		return false
	}
	if params == nil {
		return false
	}

	// The deposit is single-use: consumed on success and on failure alike.
	defer func() {
		if err := m.env.ClearRedirectParams(ctx); err != nil {
			logger.Warnf("failed to clear redirect parameters: %v", err)
		}
	}()

	if params.Err != "" {
		logger.Infof("sign-in redirect returned an error: %s", params.Err)
		m.updateIfActive(ctx, func(s *State) {
			s.Err = errors.NewOAuthRedirectError("sign-in redirect failed: "+params.Err, nil)
		})
		return false
	}

	user, err := m.auth.ResolveRedirect(ctx, params.Code, params.Verifier)
	if err != nil {
		logger.Warnf("failed to resolve sign-in redirect: %v", err)
		m.updateIfActive(ctx, func(s *State) {
			s.Err = err
		})
		return false
	}

	m.refreshFacts(ctx)
	m.updateIfActive(ctx, func(s *State) {
		s.User = user
		s.IsAuthenticated = true
	})
	return true
}

func (m *Manager) sessionExpired(ctx context.Context) (bool, error) {
	facts, err := m.env.Facts(ctx)
	if err != nil {
		return false, err
	}
	verdict := policy.Decide(m.now(), facts.RememberMe, facts.LastLogin())
	return verdict.Expired, nil
}

// refreshFacts stamps a fresh last-login time, preserving the stored
// remember-me choice.
func (m *Manager) refreshFacts(ctx context.Context) {
	facts, err := m.env.Facts(ctx)
	if err != nil {
		logger.Warnf("failed to read session facts: %v", err)
		facts = environment.Facts{}
	}
	facts.LastLoginMillis = m.now().UnixMilli()
	if err := m.env.SetFacts(ctx, facts); err != nil {
		logger.Warnf("failed to persist session facts: %v", err)
	}
}

func (m *Manager) finishInitializing(ctx context.Context) {
	m.initOnce.Do(func() {
		m.updateIfActive(ctx, func(s *State) {
			s.IsInitializing = false
		})
	})
}

func (m *Manager) handleEvent(ctx context.Context, ev hub.Event) {
	logger.Debugw("auth event", "kind", ev.Kind)

	switch ev.Kind {
	case hub.SignedIn, hub.SignInWithRedirect:
		// A mutating action in flight stamps the facts itself, with the
		// caller's remember-me choice; don't race it here.
		if !m.Snapshot().IsProcessing {
			m.refreshFacts(ctx)
		}
		if err := m.env.ClearRedirectParams(ctx); err != nil {
			logger.Warnf("failed to clear redirect parameters: %v", err)
		}
		m.adoptCurrentUser(ctx)

	case hub.SignInWithRedirectFailure:
		if err := m.env.ClearRedirectParams(ctx); err != nil {
			logger.Warnf("failed to clear redirect parameters: %v", err)
		}
		m.updateIfActive(ctx, func(s *State) {
			s.User = nil
			s.IsAuthenticated = false
			s.Err = errors.NewOAuthRedirectError("sign-in redirect failed: "+ev.Message, nil)
		})

	case hub.SignedOut:
		// The stored facts survive sign-out: they describe the last login,
		// not the current session.
		m.updateIfActive(ctx, func(s *State) {
			s.User = nil
			s.IsAuthenticated = false
		})
	}
}

func (m *Manager) adoptCurrentUser(ctx context.Context) {
	user, err := m.auth.GetCurrentUser(ctx)
	if err != nil {
		logger.Warnf("failed to fetch user after sign-in event: %v", err)
		return
	}
	m.updateIfActive(ctx, func(s *State) {
		s.User = user
		s.IsAuthenticated = user != nil
	})
}

// SignIn authenticates with an email and password. rememberMe controls how
// long the session survives without a fresh login.
func (m *Manager) SignIn(ctx context.Context, email, password string, rememberMe bool) error {
	return m.mutate(ctx, func(ctx context.Context) error {
		user, err := m.auth.SignIn(ctx, email, password)
		if err != nil {
			return err
		}
		if err := m.env.SetFacts(ctx, environment.Facts{
			RememberMe:      rememberMe,
			LastLoginMillis: m.now().UnixMilli(),
		}); err != nil {
			logger.Warnf("failed to persist session facts: %v", err)
		}
		m.update(func(s *State) {
			s.User = user
			s.IsAuthenticated = true
		})
		return nil
	})
}

// ResolveRedirect completes a hosted-UI sign-in with the authorization code
// and PKCE verifier received on the callback.
func (m *Manager) ResolveRedirect(ctx context.Context, code, verifier string, rememberMe bool) error {
	return m.mutate(ctx, func(ctx context.Context) error {
		user, err := m.auth.ResolveRedirect(ctx, code, verifier)
		if err != nil {
			return err
		}
		if err := m.env.SetFacts(ctx, environment.Facts{
			RememberMe:      rememberMe,
			LastLoginMillis: m.now().UnixMilli(),
		}); err != nil {
			logger.Warnf("failed to persist session facts: %v", err)
		}
		if err := m.env.ClearRedirectParams(ctx); err != nil {
			logger.Warnf("failed to clear redirect parameters: %v", err)
		}
		m.update(func(s *State) {
			s.User = user
			s.IsAuthenticated = true
		})
		return nil
	})
}

// SignUp registers a new account. The account must be confirmed before it
// can sign in.
func (m *Manager) SignUp(ctx context.Context, email, password, name, phone string) error {
	return m.mutate(ctx, func(ctx context.Context) error {
		return m.auth.SignUp(ctx, email, password, name, phone)
	})
}

// ConfirmSignUp confirms a new account with the emailed code.
func (m *Manager) ConfirmSignUp(ctx context.Context, email, code string) error {
	return m.mutate(ctx, func(ctx context.Context) error {
		return m.auth.ConfirmSignUp(ctx, email, code)
	})
}

// ResendSignUpCode requests a fresh confirmation code.
func (m *Manager) ResendSignUpCode(ctx context.Context, email string) error {
	return m.mutate(ctx, func(ctx context.Context) error {
		return m.auth.ResendSignUpCode(ctx, email)
	})
}

// SignOut ends the current session and forgets the stored login facts.
func (m *Manager) SignOut(ctx context.Context) error {
	return m.mutate(ctx, func(ctx context.Context) error {
		if err := m.auth.SignOut(ctx); err != nil {
			return err
		}
		if err := m.env.ClearFacts(ctx); err != nil {
			logger.Warnf("failed to clear session facts: %v", err)
		}
		m.update(func(s *State) {
			s.User = nil
			s.IsAuthenticated = false
		})
		return nil
	})
}

// ForgotPassword starts the password reset flow.
func (m *Manager) ForgotPassword(ctx context.Context, email string) error {
	return m.mutate(ctx, func(ctx context.Context) error {
		return m.auth.ForgotPassword(ctx, email)
	})
}

// ResetPassword completes the password reset flow with the emailed code.
func (m *Manager) ResetPassword(ctx context.Context, email, code, newPassword string) error {
	return m.mutate(ctx, func(ctx context.Context) error {
		return m.auth.ResetPassword(ctx, email, code, newPassword)
	})
}

// RefreshCurrentUser re-reads the current user from the provider and folds
// the answer into the session state. Concurrent calls are collapsed into a
// single provider round trip. It does not touch IsProcessing or Err.
func (m *Manager) RefreshCurrentUser(ctx context.Context) (*gateway.AuthUser, error) {
	v, err, _ := m.sf.Do("current-user", func() (any, error) {
		// Detached from the initiating caller: collapsed callers must not
		// fail because the first one cancelled.
		return m.auth.GetCurrentUser(context.WithoutCancel(ctx))
	})
	if err != nil {
		return nil, err
	}
	user, _ := v.(*gateway.AuthUser)
	m.update(func(s *State) {
		s.User = user
		s.IsAuthenticated = user != nil
	})
	return user, nil
}

// mutate runs op under the mutating-action contract: at most one mutating
// action runs at a time, the previous error is cleared when the action
// starts, a failure is both recorded and returned, and IsProcessing resets
// even when the action fails.
func (m *Manager) mutate(ctx context.Context, op func(context.Context) error) error {
	m.mu.Lock()
	if m.state.IsProcessing {
		m.mu.Unlock()
		return errors.NewOperationInFlightError("another account operation is already running")
	}
	m.state.IsProcessing = true
	m.state.Err = nil
	snapshot := m.state
	m.mu.Unlock()
	m.notify(snapshot)

	defer m.update(func(s *State) {
		s.IsProcessing = false
	})

	if err := op(ctx); err != nil {
		m.update(func(s *State) {
			s.Err = err
		})
		return err
	}
	return nil
}

// Snapshot returns the current session state.
func (m *Manager) Snapshot() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Identity returns the current user and whether the session is
// authenticated.
func (m *Manager) Identity() (*gateway.AuthUser, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.User, m.state.IsAuthenticated
}

// IsInitializing reports whether the startup bootstrap is still running.
func (m *Manager) IsInitializing() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.IsInitializing
}

// OnChange registers a listener invoked with a state snapshot after every
// transition. The returned function removes the listener.
func (m *Manager) OnChange(fn func(State)) func() {
	id := uuid.NewString()
	m.mu.Lock()
	m.listeners[id] = fn
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		delete(m.listeners, id)
		m.mu.Unlock()
	}
}

func (m *Manager) update(fn func(*State)) {
	m.mu.Lock()
	fn(&m.state)
	snapshot := m.state
	m.mu.Unlock()
	m.notify(snapshot)
}

// updateIfActive applies fn unless ctx was cancelled. Bootstrap and event
// handling use it so a closed manager never writes state.
func (m *Manager) updateIfActive(ctx context.Context, fn func(*State)) {
	if ctx.Err() != nil {
		return
	}
	m.update(fn)
}

func (m *Manager) notify(s State) {
	m.mu.Lock()
	fns := make([]func(State), 0, len(m.listeners))
	for _, fn := range m.listeners {
		fns = append(fns, fn)
	}
	m.mu.Unlock()

	for _, fn := range fns {
		fn(s)
	}
}
