// SPDX-FileCopyrightText: Copyright 2025 LiftCV Authors
// SPDX-License-Identifier: Apache-2.0

package provider

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	cip "github.com/aws/aws-sdk-go-v2/service/cognitoidentityprovider"
	ciptypes "github.com/aws/aws-sdk-go-v2/service/cognitoidentityprovider/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liftcv/liftcv/pkg/auth/hub"
	liftcverrors "github.com/liftcv/liftcv/pkg/errors"
)

// fakeCognitoAPI is a configurable stub of the Cognito service client.
type fakeCognitoAPI struct {
	initiateAuth          func(*cip.InitiateAuthInput) (*cip.InitiateAuthOutput, error)
	signUp                func(*cip.SignUpInput) (*cip.SignUpOutput, error)
	confirmSignUp         func(*cip.ConfirmSignUpInput) (*cip.ConfirmSignUpOutput, error)
	resendCode            func(*cip.ResendConfirmationCodeInput) (*cip.ResendConfirmationCodeOutput, error)
	globalSignOut         func(*cip.GlobalSignOutInput) (*cip.GlobalSignOutOutput, error)
	forgotPassword        func(*cip.ForgotPasswordInput) (*cip.ForgotPasswordOutput, error)
	confirmForgotPassword func(*cip.ConfirmForgotPasswordInput) (*cip.ConfirmForgotPasswordOutput, error)
	getUser               func(*cip.GetUserInput) (*cip.GetUserOutput, error)
}

func (f *fakeCognitoAPI) InitiateAuth(_ context.Context, in *cip.InitiateAuthInput, _ ...func(*cip.Options)) (*cip.InitiateAuthOutput, error) {
	return f.initiateAuth(in)
}

func (f *fakeCognitoAPI) SignUp(_ context.Context, in *cip.SignUpInput, _ ...func(*cip.Options)) (*cip.SignUpOutput, error) {
	return f.signUp(in)
}

func (f *fakeCognitoAPI) ConfirmSignUp(_ context.Context, in *cip.ConfirmSignUpInput, _ ...func(*cip.Options)) (*cip.ConfirmSignUpOutput, error) {
	return f.confirmSignUp(in)
}

func (f *fakeCognitoAPI) ResendConfirmationCode(_ context.Context, in *cip.ResendConfirmationCodeInput, _ ...func(*cip.Options)) (*cip.ResendConfirmationCodeOutput, error) {
	return f.resendCode(in)
}

func (f *fakeCognitoAPI) GlobalSignOut(_ context.Context, in *cip.GlobalSignOutInput, _ ...func(*cip.Options)) (*cip.GlobalSignOutOutput, error) {
	return f.globalSignOut(in)
}

func (f *fakeCognitoAPI) ForgotPassword(_ context.Context, in *cip.ForgotPasswordInput, _ ...func(*cip.Options)) (*cip.ForgotPasswordOutput, error) {
	return f.forgotPassword(in)
}

func (f *fakeCognitoAPI) ConfirmForgotPassword(_ context.Context, in *cip.ConfirmForgotPasswordInput, _ ...func(*cip.Options)) (*cip.ConfirmForgotPasswordOutput, error) {
	return f.confirmForgotPassword(in)
}

func (f *fakeCognitoAPI) GetUser(_ context.Context, in *cip.GetUserInput, _ ...func(*cip.Options)) (*cip.GetUserOutput, error) {
	return f.getUser(in)
}

func newTestCognito(t *testing.T, api cognitoAPI, opts ...CognitoOption) *Cognito {
	t.Helper()
	opts = append([]CognitoOption{WithAPI(api)}, opts...)
	c, err := NewCognito(context.Background(), CognitoConfig{ClientID: "client-1"}, opts...)
	require.NoError(t, err)
	return c
}

func authResult(access, id, refresh string) *ciptypes.AuthenticationResultType {
	return &ciptypes.AuthenticationResultType{
		AccessToken:  aws.String(access),
		IdToken:      aws.String(id),
		RefreshToken: aws.String(refresh),
		ExpiresIn:    3600,
	}
}

func TestNewCognitoRequiresClientID(t *testing.T) {
	t.Parallel()

	_, err := NewCognito(context.Background(), CognitoConfig{}, WithAPI(&fakeCognitoAPI{}))
	require.Error(t, err)
	assert.True(t, liftcverrors.IsInvalidArgument(err))
}

func TestSignInSuccessPublishesSignedIn(t *testing.T) {
	t.Parallel()

	api := &fakeCognitoAPI{
		initiateAuth: func(in *cip.InitiateAuthInput) (*cip.InitiateAuthOutput, error) {
			assert.Equal(t, ciptypes.AuthFlowTypeUserPasswordAuth, in.AuthFlow)
			assert.Equal(t, "a@b.com", in.AuthParameters["USERNAME"])
			return &cip.InitiateAuthOutput{AuthenticationResult: authResult("access", "id", "refresh")}, nil
		},
	}
	c := newTestCognito(t, api)
	sub := c.Events().Subscribe(hub.SignedIn)
	defer sub.Unsubscribe()

	result, err := c.SignIn(context.Background(), "a@b.com", "pw")
	require.NoError(t, err)
	assert.True(t, result.IsSignedIn)
	assert.Equal(t, NextStepDone, result.NextStep)

	select {
	case ev := <-sub.C():
		assert.Equal(t, hub.SignedIn, ev.Kind)
	case <-time.After(time.Second):
		t.Fatal("expected a signedIn event")
	}
}

func TestSignInChallengeReportsNextStep(t *testing.T) {
	t.Parallel()

	api := &fakeCognitoAPI{
		initiateAuth: func(*cip.InitiateAuthInput) (*cip.InitiateAuthOutput, error) {
			return &cip.InitiateAuthOutput{ChallengeName: ciptypes.ChallengeNameTypeSmsMfa}, nil
		},
	}
	c := newTestCognito(t, api)

	result, err := c.SignIn(context.Background(), "a@b.com", "pw")
	require.NoError(t, err)
	assert.False(t, result.IsSignedIn)
	assert.Equal(t, "SMS_MFA", result.NextStep)
}

func TestSignInFailureIsTyped(t *testing.T) {
	t.Parallel()

	api := &fakeCognitoAPI{
		initiateAuth: func(*cip.InitiateAuthInput) (*cip.InitiateAuthOutput, error) {
			return nil, &ciptypes.NotAuthorizedException{Message: aws.String("Incorrect username or password.")}
		},
	}
	c := newTestCognito(t, api)

	_, err := c.SignIn(context.Background(), "a@b.com", "wrong")
	require.Error(t, err)
	assert.True(t, liftcverrors.IsProvider(err))
}

func TestSignUpForwardsOnlyNonEmptyAttributes(t *testing.T) {
	t.Parallel()

	var captured *cip.SignUpInput
	api := &fakeCognitoAPI{
		signUp: func(in *cip.SignUpInput) (*cip.SignUpOutput, error) {
			captured = in
			return &cip.SignUpOutput{}, nil
		},
	}
	c := newTestCognito(t, api)

	err := c.SignUp(context.Background(), "a@b.com", "pw", map[string]string{
		"email":        "a@b.com",
		"name":         "Ada",
		"phone_number": "",
	})
	require.NoError(t, err)
	require.NotNil(t, captured)

	names := make([]string, 0, len(captured.UserAttributes))
	for _, attr := range captured.UserAttributes {
		names = append(names, aws.ToString(attr.Name))
	}
	assert.ElementsMatch(t, []string{"email", "name"}, names, "empty attributes must not be sent")
}

func TestGetCurrentUserWithoutSession(t *testing.T) {
	t.Parallel()

	c := newTestCognito(t, &fakeCognitoAPI{})

	_, err := c.GetCurrentUser(context.Background())
	require.Error(t, err)
	assert.True(t, liftcverrors.IsNoSession(err))
}

func TestGetCurrentUserMapsUnauthenticatedToNoSession(t *testing.T) {
	t.Parallel()

	api := &fakeCognitoAPI{
		initiateAuth: func(*cip.InitiateAuthInput) (*cip.InitiateAuthOutput, error) {
			return &cip.InitiateAuthOutput{AuthenticationResult: authResult("access", "id", "refresh")}, nil
		},
		getUser: func(*cip.GetUserInput) (*cip.GetUserOutput, error) {
			return nil, &ciptypes.NotAuthorizedException{Message: aws.String("Access Token has been revoked")}
		},
	}
	c := newTestCognito(t, api)
	_, err := c.SignIn(context.Background(), "a@b.com", "pw")
	require.NoError(t, err)

	_, err = c.GetCurrentUser(context.Background())
	require.Error(t, err)
	assert.True(t, liftcverrors.IsNoSession(err))
}

func TestGetCurrentUserReturnsNormalizedIdentifiers(t *testing.T) {
	t.Parallel()

	api := &fakeCognitoAPI{
		initiateAuth: func(*cip.InitiateAuthInput) (*cip.InitiateAuthOutput, error) {
			return &cip.InitiateAuthOutput{AuthenticationResult: authResult("access", "id", "refresh")}, nil
		},
		getUser: func(in *cip.GetUserInput) (*cip.GetUserOutput, error) {
			assert.Equal(t, "access", aws.ToString(in.AccessToken))
			return &cip.GetUserOutput{
				Username: aws.String("a-b-c"),
				UserAttributes: []ciptypes.AttributeType{
					{Name: aws.String("sub"), Value: aws.String("sub-123")},
					{Name: aws.String("email"), Value: aws.String("a@b.com")},
				},
			}, nil
		},
	}
	c := newTestCognito(t, api)
	_, err := c.SignIn(context.Background(), "a@b.com", "pw")
	require.NoError(t, err)

	user, err := c.GetCurrentUser(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "sub-123", user.ID)
	assert.Equal(t, "a-b-c", user.Username)
	assert.Equal(t, "a@b.com", user.LoginID, "login ID should be the sign-in identifier")
}

func TestExpiredAccessTokenTriggersRefresh(t *testing.T) {
	t.Parallel()

	refreshed := false
	api := &fakeCognitoAPI{
		initiateAuth: func(in *cip.InitiateAuthInput) (*cip.InitiateAuthOutput, error) {
			if in.AuthFlow == ciptypes.AuthFlowTypeRefreshTokenAuth {
				refreshed = true
				assert.Equal(t, "refresh", in.AuthParameters["REFRESH_TOKEN"])
				// Refresh responses carry no rotated refresh token.
				return &cip.InitiateAuthOutput{
					AuthenticationResult: &ciptypes.AuthenticationResultType{
						AccessToken: aws.String("access-2"),
						IdToken:     aws.String("id-2"),
						ExpiresIn:   3600,
					},
				}, nil
			}
			return &cip.InitiateAuthOutput{
				AuthenticationResult: &ciptypes.AuthenticationResultType{
					AccessToken:  aws.String("access-1"),
					IdToken:      aws.String("id-1"),
					RefreshToken: aws.String("refresh"),
					ExpiresIn:    0,
				},
			}, nil
		},
	}
	c := newTestCognito(t, api)
	_, err := c.SignIn(context.Background(), "a@b.com", "pw")
	require.NoError(t, err)

	// Force the access token to look expired.
	c.mu.Lock()
	c.tokens.Expiry = time.Now().Add(-time.Minute)
	c.mu.Unlock()

	session, err := c.FetchSession(context.Background())
	require.NoError(t, err)
	require.NotNil(t, session.Tokens)
	assert.True(t, refreshed)
	assert.Equal(t, "access-2", session.Tokens.AccessToken)
	assert.Equal(t, "refresh", session.Tokens.RefreshToken, "original refresh token must be retained")
}

func TestFetchSessionWithoutSessionReturnsNilTokens(t *testing.T) {
	t.Parallel()

	c := newTestCognito(t, &fakeCognitoAPI{})

	session, err := c.FetchSession(context.Background())
	require.NoError(t, err, "absence of a session is not an error")
	assert.Nil(t, session.Tokens)
}

func TestSignOutClearsStateAndPublishes(t *testing.T) {
	t.Parallel()

	signedOutRemotely := false
	api := &fakeCognitoAPI{
		initiateAuth: func(*cip.InitiateAuthInput) (*cip.InitiateAuthOutput, error) {
			return &cip.InitiateAuthOutput{AuthenticationResult: authResult("access", "id", "refresh")}, nil
		},
		globalSignOut: func(in *cip.GlobalSignOutInput) (*cip.GlobalSignOutOutput, error) {
			signedOutRemotely = true
			assert.Equal(t, "access", aws.ToString(in.AccessToken))
			return &cip.GlobalSignOutOutput{}, nil
		},
	}
	c := newTestCognito(t, api)
	_, err := c.SignIn(context.Background(), "a@b.com", "pw")
	require.NoError(t, err)

	sub := c.Events().Subscribe(hub.SignedOut)
	defer sub.Unsubscribe()

	require.NoError(t, c.SignOut(context.Background()))
	assert.True(t, signedOutRemotely)

	select {
	case ev := <-sub.C():
		assert.Equal(t, hub.SignedOut, ev.Kind)
	case <-time.After(time.Second):
		t.Fatal("expected a signedOut event")
	}

	_, err = c.GetCurrentUser(context.Background())
	assert.True(t, liftcverrors.IsNoSession(err))
}

func TestSignOutToleratesAlreadyRevokedToken(t *testing.T) {
	t.Parallel()

	api := &fakeCognitoAPI{
		initiateAuth: func(*cip.InitiateAuthInput) (*cip.InitiateAuthOutput, error) {
			return &cip.InitiateAuthOutput{AuthenticationResult: authResult("access", "id", "refresh")}, nil
		},
		globalSignOut: func(*cip.GlobalSignOutInput) (*cip.GlobalSignOutOutput, error) {
			return nil, &ciptypes.NotAuthorizedException{Message: aws.String("Access Token has been revoked")}
		},
	}
	c := newTestCognito(t, api)
	_, err := c.SignIn(context.Background(), "a@b.com", "pw")
	require.NoError(t, err)

	assert.NoError(t, c.SignOut(context.Background()))
}

func TestPasswordResetFlow(t *testing.T) {
	t.Parallel()

	api := &fakeCognitoAPI{
		forgotPassword: func(in *cip.ForgotPasswordInput) (*cip.ForgotPasswordOutput, error) {
			assert.Equal(t, "a@b.com", aws.ToString(in.Username))
			return &cip.ForgotPasswordOutput{}, nil
		},
		confirmForgotPassword: func(in *cip.ConfirmForgotPasswordInput) (*cip.ConfirmForgotPasswordOutput, error) {
			assert.Equal(t, "123456", aws.ToString(in.ConfirmationCode))
			assert.Equal(t, "new-pw", aws.ToString(in.Password))
			return &cip.ConfirmForgotPasswordOutput{}, nil
		},
	}
	c := newTestCognito(t, api)

	require.NoError(t, c.ResetPassword(context.Background(), "a@b.com"))
	require.NoError(t, c.ConfirmResetPassword(context.Background(), "a@b.com", "123456", "new-pw"))
}

func TestSignInRestoredFromTokenCache(t *testing.T) {
	t.Parallel()

	cachePath := t.TempDir() + "/tokens.yaml"
	cache := NewFileTokenCache(cachePath)
	require.NoError(t, cache.Save(context.Background(), &CachedSession{
		RefreshToken: "cached-refresh",
		LoginID:      "a@b.com",
	}))

	api := &fakeCognitoAPI{
		initiateAuth: func(in *cip.InitiateAuthInput) (*cip.InitiateAuthOutput, error) {
			require.Equal(t, ciptypes.AuthFlowTypeRefreshTokenAuth, in.AuthFlow)
			assert.Equal(t, "cached-refresh", in.AuthParameters["REFRESH_TOKEN"])
			return &cip.InitiateAuthOutput{
				AuthenticationResult: &ciptypes.AuthenticationResultType{
					AccessToken: aws.String("restored-access"),
					ExpiresIn:   3600,
				},
			}, nil
		},
		getUser: func(*cip.GetUserInput) (*cip.GetUserOutput, error) {
			return &cip.GetUserOutput{
				Username: aws.String("a-b-c"),
				UserAttributes: []ciptypes.AttributeType{
					{Name: aws.String("sub"), Value: aws.String("sub-123")},
				},
			}, nil
		},
	}
	c := newTestCognito(t, api, WithTokenCache(cache))

	user, err := c.GetCurrentUser(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "a@b.com", user.LoginID, "login ID should be restored from the cache")
}

func TestSessionSurvivesAcrossProviderInstances(t *testing.T) {
	t.Parallel()

	cachePath := t.TempDir() + "/tokens.yaml"

	api := &fakeCognitoAPI{
		initiateAuth: func(in *cip.InitiateAuthInput) (*cip.InitiateAuthOutput, error) {
			return &cip.InitiateAuthOutput{AuthenticationResult: authResult("access", "id", "refresh")}, nil
		},
	}
	first := newTestCognito(t, api, WithTokenCache(NewFileTokenCache(cachePath)))
	_, err := first.SignIn(context.Background(), "a@b.com", "pw")
	require.NoError(t, err)

	// A second instance over the same cache stands in for a new process.
	restoreAPI := &fakeCognitoAPI{
		initiateAuth: func(in *cip.InitiateAuthInput) (*cip.InitiateAuthOutput, error) {
			require.Equal(t, ciptypes.AuthFlowTypeRefreshTokenAuth, in.AuthFlow)
			assert.Equal(t, "refresh", in.AuthParameters["REFRESH_TOKEN"])
			return &cip.InitiateAuthOutput{
				AuthenticationResult: &ciptypes.AuthenticationResultType{
					AccessToken: aws.String("restored-access"),
					ExpiresIn:   3600,
				},
			}, nil
		},
		getUser: func(*cip.GetUserInput) (*cip.GetUserOutput, error) {
			return &cip.GetUserOutput{
				Username: aws.String("a-b-c"),
				UserAttributes: []ciptypes.AttributeType{
					{Name: aws.String("sub"), Value: aws.String("sub-123")},
				},
			}, nil
		},
	}
	second := newTestCognito(t, restoreAPI, WithTokenCache(NewFileTokenCache(cachePath)))

	user, err := second.GetCurrentUser(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "sub-123", user.ID)
	assert.Equal(t, "a@b.com", user.LoginID)
}

func TestForgetSessionDropsCachedCredentials(t *testing.T) {
	t.Parallel()

	cachePath := t.TempDir() + "/tokens.yaml"
	cache := NewFileTokenCache(cachePath)

	api := &fakeCognitoAPI{
		initiateAuth: func(*cip.InitiateAuthInput) (*cip.InitiateAuthOutput, error) {
			return &cip.InitiateAuthOutput{AuthenticationResult: authResult("access", "id", "refresh")}, nil
		},
	}
	c := newTestCognito(t, api, WithTokenCache(cache))
	_, err := c.SignIn(context.Background(), "a@b.com", "pw")
	require.NoError(t, err)

	sub := c.Events().Subscribe(hub.SignedOut)
	defer sub.Unsubscribe()

	require.NoError(t, c.ForgetSession(context.Background()))

	_, err = c.GetCurrentUser(context.Background())
	require.Error(t, err)
	assert.True(t, liftcverrors.IsNoSession(err))

	cached, err := cache.Load(context.Background())
	require.NoError(t, err)
	assert.Nil(t, cached, "the cache should be empty after ForgetSession")

	// Unlike SignOut, ForgetSession is a local cleanup, not a lifecycle
	// transition.
	select {
	case ev := <-sub.C():
		t.Fatalf("unexpected %s event", ev.Kind)
	case <-time.After(50 * time.Millisecond):
	}
}

// newTokenEndpoint serves a hosted-UI style token response.
func newTokenEndpoint(t *testing.T, status int, body map[string]any) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/oauth2/token", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		require.NoError(t, json.NewEncoder(w).Encode(body))
	}))
}

func TestExchangeAuthorizationCodeSuccess(t *testing.T) {
	t.Parallel()

	srv := newTokenEndpoint(t, http.StatusOK, map[string]any{
		"access_token":  "hosted-access",
		"id_token":      "hosted-id",
		"refresh_token": "hosted-refresh",
		"token_type":    "Bearer",
		"expires_in":    3600,
	})
	defer srv.Close()

	verify := func(_ context.Context, raw string) (map[string]any, error) {
		assert.Equal(t, "hosted-id", raw)
		return map[string]any{"email": "a@b.com", "sub": "sub-123"}, nil
	}

	c, err := NewCognito(context.Background(),
		CognitoConfig{ClientID: "client-1", HostedUIDomain: srv.URL},
		WithAPI(&fakeCognitoAPI{}), WithIDTokenVerifier(verify))
	require.NoError(t, err)

	sub := c.Events().Subscribe(hub.SignInWithRedirect)
	defer sub.Unsubscribe()

	session, err := c.ExchangeAuthorizationCode(context.Background(), "abc123", "pkce-verifier")
	require.NoError(t, err)
	require.NotNil(t, session.Tokens)
	assert.Equal(t, "hosted-access", session.Tokens.AccessToken)
	assert.Equal(t, "hosted-refresh", session.Tokens.RefreshToken)

	select {
	case ev := <-sub.C():
		assert.Equal(t, hub.SignInWithRedirect, ev.Kind)
	case <-time.After(time.Second):
		t.Fatal("expected a signInWithRedirect event")
	}
}

func TestExchangeAuthorizationCodeFailurePublishesFailureEvent(t *testing.T) {
	t.Parallel()

	srv := newTokenEndpoint(t, http.StatusBadRequest, map[string]any{"error": "invalid_grant"})
	defer srv.Close()

	c, err := NewCognito(context.Background(),
		CognitoConfig{ClientID: "client-1", HostedUIDomain: srv.URL},
		WithAPI(&fakeCognitoAPI{}))
	require.NoError(t, err)

	sub := c.Events().Subscribe(hub.SignInWithRedirectFailure)
	defer sub.Unsubscribe()

	_, err = c.ExchangeAuthorizationCode(context.Background(), "bad-code", "")
	require.Error(t, err)
	assert.True(t, liftcverrors.IsOAuthRedirect(err))

	select {
	case ev := <-sub.C():
		assert.Equal(t, hub.SignInWithRedirectFailure, ev.Kind)
	case <-time.After(time.Second):
		t.Fatal("expected a signInWithRedirect_failure event")
	}
}

func TestExchangeRejectsMissingIDToken(t *testing.T) {
	t.Parallel()

	srv := newTokenEndpoint(t, http.StatusOK, map[string]any{
		"access_token": "hosted-access",
		"token_type":   "Bearer",
	})
	defer srv.Close()

	c, err := NewCognito(context.Background(),
		CognitoConfig{ClientID: "client-1", HostedUIDomain: srv.URL},
		WithAPI(&fakeCognitoAPI{}))
	require.NoError(t, err)

	_, err = c.ExchangeAuthorizationCode(context.Background(), "abc123", "")
	require.Error(t, err)
	assert.True(t, liftcverrors.IsOAuthRedirect(err))
}

func TestHostedUIAuthCodeURLCarriesPKCEChallenge(t *testing.T) {
	t.Parallel()

	c, err := NewCognito(context.Background(),
		CognitoConfig{ClientID: "client-1", HostedUIDomain: "https://auth.example.com", RedirectURL: "http://localhost:8787/callback"},
		WithAPI(&fakeCognitoAPI{}))
	require.NoError(t, err)

	u := c.HostedUIAuthCodeURL("state-1", "challenge-1")
	assert.Contains(t, u, "https://auth.example.com/oauth2/authorize")
	assert.Contains(t, u, "state=state-1")
	assert.Contains(t, u, "code_challenge=challenge-1")
	assert.Contains(t, u, "code_challenge_method=S256")
}

func TestIsUnauthenticatedCoversCognitoErrorKinds(t *testing.T) {
	t.Parallel()

	assert.True(t, isUnauthenticated(&ciptypes.NotAuthorizedException{}))
	assert.True(t, isUnauthenticated(&ciptypes.UserNotFoundException{}))
	assert.True(t, isUnauthenticated(&ciptypes.PasswordResetRequiredException{}))
	assert.True(t, isUnauthenticated(&ciptypes.UserNotConfirmedException{}))
	assert.False(t, isUnauthenticated(errors.New("network down")))
}
