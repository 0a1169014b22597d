// SPDX-FileCopyrightText: Copyright 2025 LiftCV Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/liftcv/liftcv/pkg/auth/gateway"
	"github.com/liftcv/liftcv/pkg/auth/hub"
	"github.com/liftcv/liftcv/pkg/auth/session/mocks"
	"github.com/liftcv/liftcv/pkg/environment"
	envmocks "github.com/liftcv/liftcv/pkg/environment/mocks"
	"github.com/liftcv/liftcv/pkg/errors"
)

const waitFor = 2 * time.Second
const tick = 5 * time.Millisecond

var testNow = time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

type fixture struct {
	auth *mocks.MockAuthenticator
	env  *envmocks.MockEnvironment
	hub  *hub.Hub
	m    *Manager
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctrl := gomock.NewController(t)
	f := &fixture{
		auth: mocks.NewMockAuthenticator(ctrl),
		env:  envmocks.NewMockEnvironment(ctrl),
		hub:  hub.New(),
	}
	f.auth.EXPECT().Events().Return(f.hub).AnyTimes()
	f.m = NewManager(f.auth, f.env, WithClock(func() time.Time { return testNow }))
	return f
}

// expectQuietBootstrap wires the happy "nothing stored, nobody signed in"
// startup path.
func (f *fixture) expectQuietBootstrap() {
	f.auth.EXPECT().EnsureConfigured(gomock.Any()).Return(nil)
	f.env.EXPECT().RedirectParams(gomock.Any()).Return(nil, nil)
	f.env.EXPECT().Facts(gomock.Any()).Return(environment.Facts{}, nil)
	f.auth.EXPECT().GetCurrentUser(gomock.Any()).Return(nil, nil)
}

func (f *fixture) start(t *testing.T) {
	t.Helper()
	f.m.Start(context.Background())
	t.Cleanup(f.m.Close)
	require.Eventually(t, func() bool {
		return !f.m.Snapshot().IsInitializing
	}, waitFor, tick, "bootstrap did not finish")
}

func factsAgo(age time.Duration, rememberMe bool) environment.Facts {
	return environment.Facts{
		RememberMe:      rememberMe,
		LastLoginMillis: testNow.Add(-age).UnixMilli(),
	}
}

func TestBootstrapNoStoredSession(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.expectQuietBootstrap()

	f.start(t)

	s := f.m.Snapshot()
	assert.Nil(t, s.User)
	assert.False(t, s.IsAuthenticated)
	assert.NoError(t, s.Err)
}

func TestBootstrapRestoresRecentSession(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	user := &gateway.AuthUser{ID: "u-1", Email: "a@b.com"}
	f.auth.EXPECT().EnsureConfigured(gomock.Any()).Return(nil)
	f.env.EXPECT().RedirectParams(gomock.Any()).Return(nil, nil)
	f.env.EXPECT().Facts(gomock.Any()).Return(factsAgo(2*time.Hour, false), nil)
	f.auth.EXPECT().GetCurrentUser(gomock.Any()).Return(user, nil)

	f.start(t)

	got, authenticated := f.m.Identity()
	assert.True(t, authenticated)
	assert.Equal(t, user, got)
}

func TestBootstrapDiscardsExpiredSession(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.auth.EXPECT().EnsureConfigured(gomock.Any()).Return(nil)
	f.env.EXPECT().RedirectParams(gomock.Any()).Return(nil, nil)
	f.env.EXPECT().Facts(gomock.Any()).Return(factsAgo(25*time.Hour, false), nil)
	// No GetCurrentUser expectation: an expired session must not reach the
	// network.
	f.env.EXPECT().ClearFacts(gomock.Any()).Return(nil)
	f.auth.EXPECT().ForgetSession(gomock.Any()).Return(nil)

	f.start(t)

	s := f.m.Snapshot()
	assert.False(t, s.IsAuthenticated)
	assert.NoError(t, s.Err)
}

func TestBootstrapRememberedSessionSurvivesDays(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	user := &gateway.AuthUser{ID: "u-1"}
	f.auth.EXPECT().EnsureConfigured(gomock.Any()).Return(nil)
	f.env.EXPECT().RedirectParams(gomock.Any()).Return(nil, nil)
	f.env.EXPECT().Facts(gomock.Any()).Return(factsAgo(72*time.Hour, true), nil)
	f.auth.EXPECT().GetCurrentUser(gomock.Any()).Return(user, nil)

	f.start(t)

	_, authenticated := f.m.Identity()
	assert.True(t, authenticated)
}

func TestBootstrapRememberedSessionExpiresAfterWeek(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.auth.EXPECT().EnsureConfigured(gomock.Any()).Return(nil)
	f.env.EXPECT().RedirectParams(gomock.Any()).Return(nil, nil)
	f.env.EXPECT().Facts(gomock.Any()).Return(factsAgo(8*24*time.Hour, true), nil)
	f.env.EXPECT().ClearFacts(gomock.Any()).Return(nil)
	f.auth.EXPECT().ForgetSession(gomock.Any()).Return(nil)

	f.start(t)

	_, authenticated := f.m.Identity()
	assert.False(t, authenticated)
}

func TestBootstrapResolvesPendingRedirect(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	user := &gateway.AuthUser{ID: "u-1", Email: "a@b.com"}
	f.auth.EXPECT().EnsureConfigured(gomock.Any()).Return(nil)
	f.env.EXPECT().RedirectParams(gomock.Any()).
		Return(&environment.RedirectParams{Code: "code", Verifier: "ver"}, nil)
	f.auth.EXPECT().ResolveRedirect(gomock.Any(), "code", "ver").Return(user, nil)
	f.env.EXPECT().Facts(gomock.Any()).Return(factsAgo(time.Hour, true), nil)
	f.env.EXPECT().SetFacts(gomock.Any(), environment.Facts{
		RememberMe:      true,
		LastLoginMillis: testNow.UnixMilli(),
	}).Return(nil)
	f.env.EXPECT().ClearRedirectParams(gomock.Any()).Return(nil)

	f.start(t)

	got, authenticated := f.m.Identity()
	assert.True(t, authenticated)
	assert.Equal(t, user, got)
	assert.NoError(t, f.m.Snapshot().Err)
}

func TestBootstrapRedirectFailureFallsThrough(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	exchangeErr := errors.NewOAuthRedirectError("token exchange failed", nil)
	f.auth.EXPECT().EnsureConfigured(gomock.Any()).Return(nil)
	f.env.EXPECT().RedirectParams(gomock.Any()).
		Return(&environment.RedirectParams{Code: "bad", Verifier: "ver"}, nil)
	f.auth.EXPECT().ResolveRedirect(gomock.Any(), "bad", "ver").Return(nil, exchangeErr)
	f.env.EXPECT().ClearRedirectParams(gomock.Any()).Return(nil)
	f.env.EXPECT().Facts(gomock.Any()).Return(environment.Facts{}, nil)
	f.auth.EXPECT().GetCurrentUser(gomock.Any()).Return(nil, nil)

	f.start(t)

	s := f.m.Snapshot()
	assert.False(t, s.IsAuthenticated)
	assert.True(t, errors.IsOAuthRedirect(s.Err))
}

func TestBootstrapRedirectErrorParameter(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.auth.EXPECT().EnsureConfigured(gomock.Any()).Return(nil)
	f.env.EXPECT().RedirectParams(gomock.Any()).
		Return(&environment.RedirectParams{Err: "access_denied"}, nil)
	f.env.EXPECT().ClearRedirectParams(gomock.Any()).Return(nil)
	f.env.EXPECT().Facts(gomock.Any()).Return(environment.Facts{}, nil)
	f.auth.EXPECT().GetCurrentUser(gomock.Any()).Return(nil, nil)

	f.start(t)

	s := f.m.Snapshot()
	assert.False(t, s.IsAuthenticated)
	require.Error(t, s.Err)
	assert.True(t, errors.IsOAuthRedirect(s.Err))
	assert.Contains(t, s.Err.Error(), "access_denied")
}

func TestBootstrapConfigureFailure(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	cfgErr := errors.NewProviderError("bad provider config", nil)
	f.auth.EXPECT().EnsureConfigured(gomock.Any()).Return(cfgErr)

	f.start(t)

	s := f.m.Snapshot()
	assert.False(t, s.IsAuthenticated)
	assert.Equal(t, cfgErr, s.Err)
}

func TestBootstrapSwallowsCurrentUserError(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.auth.EXPECT().EnsureConfigured(gomock.Any()).Return(nil)
	f.env.EXPECT().RedirectParams(gomock.Any()).Return(nil, nil)
	f.env.EXPECT().Facts(gomock.Any()).Return(environment.Facts{}, nil)
	f.auth.EXPECT().GetCurrentUser(gomock.Any()).
		Return(nil, errors.NewProviderError("network down", nil))

	f.start(t)

	s := f.m.Snapshot()
	assert.False(t, s.IsAuthenticated)
	assert.NoError(t, s.Err)
}

func TestIsInitializingFlipsExactlyOnce(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.expectQuietBootstrap()

	var mu sync.Mutex
	flips := 0
	wasInitializing := true
	f.m.OnChange(func(s State) {
		mu.Lock()
		defer mu.Unlock()
		if wasInitializing && !s.IsInitializing {
			flips++
		}
		wasInitializing = s.IsInitializing
	})

	f.start(t)

	// Drive a few more transitions and make sure none of them flips the
	// flag again.
	f.env.EXPECT().Facts(gomock.Any()).Return(environment.Facts{}, nil)
	f.env.EXPECT().SetFacts(gomock.Any(), gomock.Any()).Return(nil)
	f.env.EXPECT().ClearRedirectParams(gomock.Any()).Return(nil)
	f.auth.EXPECT().GetCurrentUser(gomock.Any()).Return(&gateway.AuthUser{ID: "u"}, nil)
	f.hub.Publish(hub.Event{Kind: hub.SignedIn})
	require.Eventually(t, func() bool {
		_, authenticated := f.m.Identity()
		return authenticated
	}, waitFor, tick)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, flips)
}

func TestSignInPersistsFacts(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	user := &gateway.AuthUser{ID: "u-1", Email: "a@b.com"}
	f.auth.EXPECT().SignIn(ctx, "a@b.com", "pw").Return(user, nil)
	f.env.EXPECT().SetFacts(ctx, environment.Facts{
		RememberMe:      true,
		LastLoginMillis: testNow.UnixMilli(),
	}).Return(nil)

	require.NoError(t, f.m.SignIn(ctx, "a@b.com", "pw", true))

	s := f.m.Snapshot()
	assert.True(t, s.IsAuthenticated)
	assert.Equal(t, user, s.User)
	assert.False(t, s.IsProcessing)
	assert.NoError(t, s.Err)
}

func TestSignInFailureRecordedAndReturned(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	signInErr := errors.NewProviderError("wrong password", nil)
	f.auth.EXPECT().SignIn(ctx, "a@b.com", "pw").Return(nil, signInErr)

	err := f.m.SignIn(ctx, "a@b.com", "pw", false)
	require.Error(t, err)
	assert.Equal(t, signInErr, err)

	s := f.m.Snapshot()
	assert.Equal(t, signInErr, s.Err)
	assert.False(t, s.IsAuthenticated)
	assert.False(t, s.IsProcessing, "IsProcessing must reset after a failure")
}

func TestMutatingActionGuard(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)

	entered := make(chan struct{})
	release := make(chan struct{})
	f.auth.EXPECT().SignOut(ctx).DoAndReturn(func(context.Context) error {
		close(entered)
		<-release
		return nil
	})
	f.env.EXPECT().ClearFacts(ctx).Return(nil)

	done := make(chan error, 1)
	go func() {
		done <- f.m.SignOut(ctx)
	}()
	<-entered

	err := f.m.ForgotPassword(ctx, "a@b.com")
	require.Error(t, err)
	assert.True(t, errors.IsOperationInFlight(err))
	assert.True(t, f.m.Snapshot().IsProcessing)

	close(release)
	require.NoError(t, <-done)
	assert.False(t, f.m.Snapshot().IsProcessing)
}

func TestMutatingActionClearsPreviousError(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)

	f.auth.EXPECT().ForgotPassword(ctx, "a@b.com").
		Return(errors.NewProviderError("throttled", nil))
	err := f.m.ForgotPassword(ctx, "a@b.com")
	require.Error(t, err)
	require.Error(t, f.m.Snapshot().Err)

	f.auth.EXPECT().ForgotPassword(ctx, "a@b.com").Return(nil)
	require.NoError(t, f.m.ForgotPassword(ctx, "a@b.com"))
	assert.NoError(t, f.m.Snapshot().Err)
}

func TestSignOutForgetsFacts(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	f.auth.EXPECT().SignOut(ctx).Return(nil)
	f.env.EXPECT().ClearFacts(ctx).Return(nil)

	require.NoError(t, f.m.SignOut(ctx))

	s := f.m.Snapshot()
	assert.Nil(t, s.User)
	assert.False(t, s.IsAuthenticated)
}

func TestSignedOutEventKeepsFacts(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	user := &gateway.AuthUser{ID: "u-1"}
	f.auth.EXPECT().EnsureConfigured(gomock.Any()).Return(nil)
	f.env.EXPECT().RedirectParams(gomock.Any()).Return(nil, nil)
	f.env.EXPECT().Facts(gomock.Any()).Return(factsAgo(time.Hour, true), nil)
	f.auth.EXPECT().GetCurrentUser(gomock.Any()).Return(user, nil)

	f.start(t)
	_, authenticated := f.m.Identity()
	require.True(t, authenticated)

	// No ClearFacts expectation: the event must not touch the stored facts.
	f.hub.Publish(hub.Event{Kind: hub.SignedOut})

	require.Eventually(t, func() bool {
		_, authenticated := f.m.Identity()
		return !authenticated
	}, waitFor, tick)
	assert.Nil(t, f.m.Snapshot().User)
}

func TestSignedInEventAdoptsUser(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.expectQuietBootstrap()
	f.start(t)

	user := &gateway.AuthUser{ID: "u-2", Email: "c@d.com"}
	f.env.EXPECT().Facts(gomock.Any()).Return(environment.Facts{RememberMe: true}, nil)
	f.env.EXPECT().SetFacts(gomock.Any(), environment.Facts{
		RememberMe:      true,
		LastLoginMillis: testNow.UnixMilli(),
	}).Return(nil)
	f.env.EXPECT().ClearRedirectParams(gomock.Any()).Return(nil)
	f.auth.EXPECT().GetCurrentUser(gomock.Any()).Return(user, nil)
	f.hub.Publish(hub.Event{Kind: hub.SignedIn})

	require.Eventually(t, func() bool {
		got, authenticated := f.m.Identity()
		return authenticated && got == user
	}, waitFor, tick)
}

func TestRedirectFailureEventRecordsError(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.expectQuietBootstrap()
	f.start(t)

	f.env.EXPECT().ClearRedirectParams(gomock.Any()).Return(nil)
	f.hub.Publish(hub.Event{Kind: hub.SignInWithRedirectFailure, Message: "exchange failed"})

	require.Eventually(t, func() bool {
		return f.m.Snapshot().Err != nil
	}, waitFor, tick)
	s := f.m.Snapshot()
	assert.True(t, errors.IsOAuthRedirect(s.Err))
	assert.False(t, s.IsAuthenticated)
}

func TestRedirectSuccessEventRefreshesFacts(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.expectQuietBootstrap()
	f.start(t)

	user := &gateway.AuthUser{ID: "u-3"}
	f.env.EXPECT().Facts(gomock.Any()).Return(factsAgo(time.Hour, true), nil)
	f.env.EXPECT().SetFacts(gomock.Any(), environment.Facts{
		RememberMe:      true,
		LastLoginMillis: testNow.UnixMilli(),
	}).Return(nil)
	f.env.EXPECT().ClearRedirectParams(gomock.Any()).Return(nil)
	f.auth.EXPECT().GetCurrentUser(gomock.Any()).Return(user, nil)

	f.hub.Publish(hub.Event{Kind: hub.SignInWithRedirect})

	require.Eventually(t, func() bool {
		got, authenticated := f.m.Identity()
		return authenticated && got == user
	}, waitFor, tick)
}

func TestRefreshCurrentUserCollapsesConcurrentCalls(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	user := &gateway.AuthUser{ID: "u-1"}

	entered := make(chan struct{})
	release := make(chan struct{})
	f.auth.EXPECT().GetCurrentUser(gomock.Any()).DoAndReturn(
		func(context.Context) (*gateway.AuthUser, error) {
			close(entered)
			<-release
			return user, nil
		}).Times(1)

	results := make(chan *gateway.AuthUser, 2)
	go func() {
		u, err := f.m.RefreshCurrentUser(ctx)
		assert.NoError(t, err)
		results <- u
	}()
	<-entered
	go func() {
		u, err := f.m.RefreshCurrentUser(ctx)
		assert.NoError(t, err)
		results <- u
	}()
	// Give the second caller time to join the in-flight call.
	time.Sleep(20 * time.Millisecond)
	close(release)

	assert.Equal(t, user, <-results)
	assert.Equal(t, user, <-results)

	_, authenticated := f.m.Identity()
	assert.True(t, authenticated)
}

func TestRefreshCurrentUserSurvivesFirstCallerCancel(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	user := &gateway.AuthUser{ID: "u-1"}

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	entered := make(chan struct{})
	release := make(chan struct{})
	f.auth.EXPECT().GetCurrentUser(gomock.Any()).DoAndReturn(
		func(ctx context.Context) (*gateway.AuthUser, error) {
			close(entered)
			<-release
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			return user, nil
		}).Times(1)

	results := make(chan *gateway.AuthUser, 2)
	go func() {
		u, err := f.m.RefreshCurrentUser(firstCtx)
		assert.NoError(t, err)
		results <- u
	}()
	<-entered
	go func() {
		u, err := f.m.RefreshCurrentUser(context.Background())
		assert.NoError(t, err)
		results <- u
	}()
	// Give the second caller time to join, then cancel the caller that
	// started the round trip. The joined caller must still get an answer.
	time.Sleep(20 * time.Millisecond)
	cancelFirst()
	close(release)

	assert.Equal(t, user, <-results)
	assert.Equal(t, user, <-results)
}

func TestRefreshCurrentUserLeavesProcessingAlone(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	f.auth.EXPECT().GetCurrentUser(gomock.Any()).
		Return(nil, errors.NewProviderError("offline", nil))

	_, err := f.m.RefreshCurrentUser(ctx)
	require.Error(t, err)

	s := f.m.Snapshot()
	assert.False(t, s.IsProcessing)
	assert.NoError(t, s.Err, "a refresh failure is returned, not recorded")
}

func TestCloseStopsEventHandling(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.expectQuietBootstrap()

	f.m.Start(context.Background())
	require.Eventually(t, func() bool {
		return !f.m.Snapshot().IsInitializing
	}, waitFor, tick)
	f.m.Close()

	// No GetCurrentUser expectation: a closed manager must ignore events.
	f.hub.Publish(hub.Event{Kind: hub.SignedIn})
	time.Sleep(20 * time.Millisecond)

	_, authenticated := f.m.Identity()
	assert.False(t, authenticated)
}

func TestOnChangeUnsubscribe(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)

	var mu sync.Mutex
	calls := 0
	remove := f.m.OnChange(func(State) {
		mu.Lock()
		calls++
		mu.Unlock()
	})

	f.auth.EXPECT().ForgotPassword(ctx, "a@b.com").Return(nil).Times(2)
	require.NoError(t, f.m.ForgotPassword(ctx, "a@b.com"))

	mu.Lock()
	seen := calls
	mu.Unlock()
	require.Positive(t, seen)

	remove()
	require.NoError(t, f.m.ForgotPassword(ctx, "a@b.com"))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, seen, calls)
}

func TestIdentityMatchesUserPresence(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newFixture(t)
	user := &gateway.AuthUser{ID: "u-1"}

	f.m.OnChange(func(s State) {
		assert.Equal(t, s.User != nil, s.IsAuthenticated)
	})

	f.auth.EXPECT().SignIn(ctx, "a@b.com", "pw").Return(user, nil)
	f.env.EXPECT().SetFacts(ctx, gomock.Any()).Return(nil)
	require.NoError(t, f.m.SignIn(ctx, "a@b.com", "pw", false))

	f.auth.EXPECT().SignOut(ctx).Return(nil)
	f.env.EXPECT().ClearFacts(ctx).Return(nil)
	require.NoError(t, f.m.SignOut(ctx))
}
