// SPDX-FileCopyrightText: Copyright 2025 LiftCV Authors
// SPDX-License-Identifier: Apache-2.0

package provider

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	cip "github.com/aws/aws-sdk-go-v2/service/cognitoidentityprovider"
	ciptypes "github.com/aws/aws-sdk-go-v2/service/cognitoidentityprovider/types"
	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"

	"github.com/liftcv/liftcv/pkg/auth/hub"
	liftcverrors "github.com/liftcv/liftcv/pkg/errors"
	"github.com/liftcv/liftcv/pkg/logger"
)

// cognitoAPI is the subset of the Cognito IDP client used by this provider.
// Narrowed for testability.
type cognitoAPI interface {
	InitiateAuth(ctx context.Context, in *cip.InitiateAuthInput, optFns ...func(*cip.Options)) (*cip.InitiateAuthOutput, error)
	SignUp(ctx context.Context, in *cip.SignUpInput, optFns ...func(*cip.Options)) (*cip.SignUpOutput, error)
	ConfirmSignUp(ctx context.Context, in *cip.ConfirmSignUpInput, optFns ...func(*cip.Options)) (*cip.ConfirmSignUpOutput, error)
	ResendConfirmationCode(ctx context.Context, in *cip.ResendConfirmationCodeInput, optFns ...func(*cip.Options)) (*cip.ResendConfirmationCodeOutput, error)
	GlobalSignOut(ctx context.Context, in *cip.GlobalSignOutInput, optFns ...func(*cip.Options)) (*cip.GlobalSignOutOutput, error)
	ForgotPassword(ctx context.Context, in *cip.ForgotPasswordInput, optFns ...func(*cip.Options)) (*cip.ForgotPasswordOutput, error)
	ConfirmForgotPassword(ctx context.Context, in *cip.ConfirmForgotPasswordInput, optFns ...func(*cip.Options)) (*cip.ConfirmForgotPasswordOutput, error)
	GetUser(ctx context.Context, in *cip.GetUserInput, optFns ...func(*cip.Options)) (*cip.GetUserOutput, error)
}

// CognitoConfig configures the Cognito-backed provider.
type CognitoConfig struct {
	// Region is the AWS region hosting the user pool.
	Region string

	// UserPoolID identifies the Cognito user pool.
	UserPoolID string

	// ClientID is the app client ID registered with the user pool.
	ClientID string

	// ClientSecret is the app client secret, empty for public clients.
	ClientSecret string

	// Issuer is the OIDC issuer for ID-token verification. Derived from
	// Region and UserPoolID when empty; overridable for tests.
	Issuer string

	// HostedUIDomain is the base URL of the Cognito hosted UI, for example
	// https://auth.liftcv.io. Required only for redirect-based sign-in.
	HostedUIDomain string

	// RedirectURL is the registered hosted-UI callback URL.
	RedirectURL string

	// Scopes requested in the hosted-UI flow. Defaults to openid profile email.
	Scopes []string
}

// issuerURL returns the configured or derived OIDC issuer.
func (c *CognitoConfig) issuerURL() string {
	if c.Issuer != "" {
		return c.Issuer
	}
	return fmt.Sprintf("https://cognito-idp.%s.amazonaws.com/%s", c.Region, c.UserPoolID)
}

// Cognito implements Provider on top of the AWS Cognito Identity Provider
// service plus the Cognito hosted UI for redirect-based sign-in.
type Cognito struct {
	cfg    CognitoConfig
	api    cognitoAPI
	cache  TokenCache
	events *hub.Hub

	// verifyIDToken validates a hosted-UI ID token and returns its claims.
	// Replaceable in tests.
	verifyIDToken func(ctx context.Context, rawIDToken string) (map[string]any, error)

	mu          sync.Mutex
	tokens      *TokenBundle
	loginID     string
	cacheLoaded bool
}

// CognitoOption customizes a Cognito provider.
type CognitoOption func(*Cognito)

// WithAPI replaces the Cognito service client. Used in tests.
func WithAPI(api cognitoAPI) CognitoOption {
	return func(c *Cognito) { c.api = api }
}

// WithTokenCache enables persistence of refresh tokens across process restarts.
func WithTokenCache(cache TokenCache) CognitoOption {
	return func(c *Cognito) { c.cache = cache }
}

// WithIDTokenVerifier replaces the ID-token verification step. Used in tests.
func WithIDTokenVerifier(verify func(ctx context.Context, rawIDToken string) (map[string]any, error)) CognitoOption {
	return func(c *Cognito) { c.verifyIDToken = verify }
}

// NewCognito creates a Cognito-backed provider. The AWS SDK configuration is
// resolved from the environment unless WithAPI supplies a client.
func NewCognito(ctx context.Context, cfg CognitoConfig, opts ...CognitoOption) (*Cognito, error) {
	if cfg.ClientID == "" {
		return nil, liftcverrors.NewInvalidArgumentError("cognito client ID is required", nil)
	}

	c := &Cognito{
		cfg:    cfg,
		events: hub.New(),
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.api == nil {
		if cfg.Region == "" {
			return nil, liftcverrors.NewInvalidArgumentError("cognito region is required", nil)
		}
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
		if err != nil {
			return nil, fmt.Errorf("failed to load AWS config: %w", err)
		}
		c.api = cip.NewFromConfig(awsCfg)
	}

	if c.verifyIDToken == nil {
		c.verifyIDToken = c.oidcVerify
	}

	return c, nil
}

// Events returns the provider's lifecycle event hub.
func (c *Cognito) Events() *hub.Hub {
	return c.events
}

// SignIn attempts a USER_PASSWORD_AUTH sign-in against the user pool.
func (c *Cognito) SignIn(ctx context.Context, username, password string) (SignInResult, error) {
	out, err := c.api.InitiateAuth(ctx, &cip.InitiateAuthInput{
		AuthFlow: ciptypes.AuthFlowTypeUserPasswordAuth,
		ClientId: aws.String(c.cfg.ClientID),
		AuthParameters: map[string]string{
			"USERNAME": username,
			"PASSWORD": password,
		},
	})
	if err != nil {
		return SignInResult{}, liftcverrors.NewProviderError("sign-in failed", err)
	}

	if out.AuthenticationResult == nil {
		// The pool demands a challenge (MFA, new password, etc.) before a
		// session exists.
		return SignInResult{IsSignedIn: false, NextStep: string(out.ChallengeName)}, nil
	}

	c.storeAuthResult(ctx, out.AuthenticationResult, username)
	c.events.Publish(hub.Event{Kind: hub.SignedIn})
	return SignInResult{IsSignedIn: true, NextStep: NextStepDone}, nil
}

// SignUp registers a new account. Only non-empty attributes are forwarded.
func (c *Cognito) SignUp(ctx context.Context, username, password string, attributes map[string]string) error {
	in := &cip.SignUpInput{
		ClientId: aws.String(c.cfg.ClientID),
		Username: aws.String(username),
		Password: aws.String(password),
	}
	for name, value := range attributes {
		if value == "" {
			continue
		}
		in.UserAttributes = append(in.UserAttributes, ciptypes.AttributeType{
			Name:  aws.String(name),
			Value: aws.String(value),
		})
	}

	if _, err := c.api.SignUp(ctx, in); err != nil {
		return liftcverrors.NewProviderError("sign-up failed", err)
	}
	return nil
}

// ConfirmSignUp completes registration with the emailed confirmation code.
func (c *Cognito) ConfirmSignUp(ctx context.Context, username, code string) error {
	_, err := c.api.ConfirmSignUp(ctx, &cip.ConfirmSignUpInput{
		ClientId:         aws.String(c.cfg.ClientID),
		Username:         aws.String(username),
		ConfirmationCode: aws.String(code),
	})
	if err != nil {
		return liftcverrors.NewProviderError("confirmation failed", err)
	}
	return nil
}

// ResendSignUpCode requests a fresh confirmation code.
func (c *Cognito) ResendSignUpCode(ctx context.Context, username string) error {
	_, err := c.api.ResendConfirmationCode(ctx, &cip.ResendConfirmationCodeInput{
		ClientId: aws.String(c.cfg.ClientID),
		Username: aws.String(username),
	})
	if err != nil {
		return liftcverrors.NewProviderError("resending confirmation code failed", err)
	}
	return nil
}

// SignOut revokes the session with the pool and drops local token state.
// The remote revocation is best effort; local state is always cleared.
func (c *Cognito) SignOut(ctx context.Context) error {
	c.mu.Lock()
	tokens := c.tokens
	c.tokens = nil
	c.loginID = ""
	c.mu.Unlock()

	if c.cache != nil {
		if err := c.cache.Clear(ctx); err != nil {
			logger.Warnf("failed to clear cached tokens: %v", err)
		}
	}

	if tokens != nil && tokens.AccessToken != "" {
		if _, err := c.api.GlobalSignOut(ctx, &cip.GlobalSignOutInput{
			AccessToken: aws.String(tokens.AccessToken),
		}); err != nil {
			var notAuth *ciptypes.NotAuthorizedException
			if !errors.As(err, &notAuth) {
				c.events.Publish(hub.Event{Kind: hub.SignedOut})
				return liftcverrors.NewProviderError("sign-out failed", err)
			}
			// Token already invalid remotely; local sign-out stands.
		}
	}

	c.events.Publish(hub.Event{Kind: hub.SignedOut})
	return nil
}

// ForgetSession discards local credentials without contacting the pool
// and without publishing an event. Used when a stored session is judged
// too old to keep.
func (c *Cognito) ForgetSession(ctx context.Context) error {
	c.mu.Lock()
	c.tokens = nil
	c.loginID = ""
	c.cacheLoaded = true
	c.mu.Unlock()

	if c.cache != nil {
		if err := c.cache.Clear(ctx); err != nil {
			return liftcverrors.NewProviderError("failed to clear cached tokens", err)
		}
	}
	return nil
}

// ResetPassword starts the forgot-password flow.
func (c *Cognito) ResetPassword(ctx context.Context, username string) error {
	_, err := c.api.ForgotPassword(ctx, &cip.ForgotPasswordInput{
		ClientId: aws.String(c.cfg.ClientID),
		Username: aws.String(username),
	})
	if err != nil {
		return liftcverrors.NewProviderError("password reset request failed", err)
	}
	return nil
}

// ConfirmResetPassword completes the forgot-password flow.
func (c *Cognito) ConfirmResetPassword(ctx context.Context, username, code, newPassword string) error {
	_, err := c.api.ConfirmForgotPassword(ctx, &cip.ConfirmForgotPasswordInput{
		ClientId:         aws.String(c.cfg.ClientID),
		Username:         aws.String(username),
		ConfirmationCode: aws.String(code),
		Password:         aws.String(newPassword),
	})
	if err != nil {
		return liftcverrors.NewProviderError("password reset confirmation failed", err)
	}
	return nil
}

// GetCurrentUser returns the authenticated principal, refreshing the access
// token from the cached refresh token if needed.
func (c *Cognito) GetCurrentUser(ctx context.Context) (*User, error) {
	out, err := c.getUser(ctx)
	if err != nil {
		return nil, err
	}

	user := &User{
		Username: aws.ToString(out.Username),
	}
	for _, attr := range out.UserAttributes {
		if aws.ToString(attr.Name) == "sub" {
			user.ID = aws.ToString(attr.Value)
		}
	}
	if user.ID == "" {
		user.ID = user.Username
	}

	c.mu.Lock()
	user.LoginID = c.loginID
	c.mu.Unlock()

	return user, nil
}

// FetchUserAttributes returns the provider's attribute map for the current user.
func (c *Cognito) FetchUserAttributes(ctx context.Context) (map[string]string, error) {
	out, err := c.getUser(ctx)
	if err != nil {
		return nil, err
	}

	attrs := make(map[string]string, len(out.UserAttributes))
	for _, attr := range out.UserAttributes {
		attrs[aws.ToString(attr.Name)] = aws.ToString(attr.Value)
	}
	return attrs, nil
}

// FetchSession returns the current session. Tokens is nil when no session exists.
func (c *Cognito) FetchSession(ctx context.Context) (*Session, error) {
	tokens, err := c.ensureFreshTokens(ctx)
	if err != nil {
		if liftcverrors.IsNoSession(err) {
			return &Session{}, nil
		}
		return nil, err
	}
	copied := *tokens
	return &Session{Tokens: &copied}, nil
}

// ExchangeAuthorizationCode resolves a hosted-UI redirect callback.
func (c *Cognito) ExchangeAuthorizationCode(ctx context.Context, code, verifier string) (*Session, error) {
	oauthCfg := c.oauthConfig()

	var opts []oauth2.AuthCodeOption
	if verifier != "" {
		opts = append(opts, oauth2.SetAuthURLParam("code_verifier", verifier))
	}

	token, err := oauthCfg.Exchange(ctx, code, opts...)
	if err != nil {
		c.events.Publish(hub.Event{Kind: hub.SignInWithRedirectFailure, Message: "authorization code exchange failed"})
		return nil, liftcverrors.NewOAuthRedirectError("authorization code exchange failed", err)
	}

	rawIDToken, _ := token.Extra("id_token").(string)
	if rawIDToken == "" {
		c.events.Publish(hub.Event{Kind: hub.SignInWithRedirectFailure, Message: "token response is missing an ID token"})
		return nil, liftcverrors.NewOAuthRedirectError("token response is missing an ID token", nil)
	}

	claims, err := c.verifyIDToken(ctx, rawIDToken)
	if err != nil {
		c.events.Publish(hub.Event{Kind: hub.SignInWithRedirectFailure, Message: "ID token verification failed"})
		return nil, liftcverrors.NewOAuthRedirectError("ID token verification failed", err)
	}

	bundle := &TokenBundle{
		AccessToken:  token.AccessToken,
		IDToken:      rawIDToken,
		RefreshToken: token.RefreshToken,
		Expiry:       token.Expiry,
	}

	loginID := claimString(claims, "email")
	if loginID == "" {
		loginID = claimString(claims, "cognito:username")
	}

	c.mu.Lock()
	c.tokens = bundle
	c.loginID = loginID
	c.cacheLoaded = true
	c.mu.Unlock()
	c.persistTokens(ctx, bundle, loginID)

	c.events.Publish(hub.Event{Kind: hub.SignInWithRedirect})

	copied := *bundle
	return &Session{Tokens: &copied}, nil
}

// HostedUIAuthCodeURL builds the hosted-UI authorization URL for a
// redirect-based sign-in with PKCE.
func (c *Cognito) HostedUIAuthCodeURL(state, challenge string) string {
	opts := []oauth2.AuthCodeOption{}
	if challenge != "" {
		opts = append(opts,
			oauth2.SetAuthURLParam("code_challenge", challenge),
			oauth2.SetAuthURLParam("code_challenge_method", "S256"),
		)
	}
	return c.oauthConfig().AuthCodeURL(state, opts...)
}

func (c *Cognito) oauthConfig() *oauth2.Config {
	scopes := c.cfg.Scopes
	if len(scopes) == 0 {
		scopes = []string{oidc.ScopeOpenID, "profile", "email"}
	}
	return &oauth2.Config{
		ClientID:     c.cfg.ClientID,
		ClientSecret: c.cfg.ClientSecret,
		RedirectURL:  c.cfg.RedirectURL,
		Scopes:       scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:  c.cfg.HostedUIDomain + "/oauth2/authorize",
			TokenURL: c.cfg.HostedUIDomain + "/oauth2/token",
		},
	}
}

// oidcVerify validates the ID token against the user pool issuer.
func (c *Cognito) oidcVerify(ctx context.Context, rawIDToken string) (map[string]any, error) {
	oidcProvider, err := oidc.NewProvider(ctx, c.cfg.issuerURL())
	if err != nil {
		return nil, fmt.Errorf("failed to query issuer metadata: %w", err)
	}

	idToken, err := oidcProvider.Verifier(&oidc.Config{ClientID: c.cfg.ClientID}).Verify(ctx, rawIDToken)
	if err != nil {
		return nil, err
	}

	var claims map[string]any
	if err := idToken.Claims(&claims); err != nil {
		return nil, fmt.Errorf("failed to decode ID token claims: %w", err)
	}
	return claims, nil
}

// getUser calls GetUser with a fresh access token, mapping the provider's
// unauthenticated error kinds to a no-session error.
func (c *Cognito) getUser(ctx context.Context) (*cip.GetUserOutput, error) {
	tokens, err := c.ensureFreshTokens(ctx)
	if err != nil {
		return nil, err
	}

	out, err := c.api.GetUser(ctx, &cip.GetUserInput{
		AccessToken: aws.String(tokens.AccessToken),
	})
	if err != nil {
		if isUnauthenticated(err) {
			return nil, liftcverrors.NewNoSessionError("no authenticated user", err)
		}
		return nil, liftcverrors.NewProviderError("failed to fetch current user", err)
	}
	return out, nil
}

// ensureFreshTokens returns a usable token bundle, loading the cache and
// refreshing through REFRESH_TOKEN_AUTH as needed.
func (c *Cognito) ensureFreshTokens(ctx context.Context) (*TokenBundle, error) {
	c.mu.Lock()
	if !c.cacheLoaded {
		c.cacheLoaded = true
		c.loadCacheLocked(ctx)
	}
	tokens := c.tokens
	c.mu.Unlock()

	if tokens == nil {
		return nil, liftcverrors.NewNoSessionError("no authenticated user", nil)
	}

	if tokens.AccessToken != "" && (tokens.Expiry.IsZero() || time.Now().Before(tokens.Expiry)) {
		return tokens, nil
	}
	if tokens.RefreshToken == "" {
		return nil, liftcverrors.NewNoSessionError("session expired and no refresh token available", nil)
	}

	out, err := c.api.InitiateAuth(ctx, &cip.InitiateAuthInput{
		AuthFlow: ciptypes.AuthFlowTypeRefreshTokenAuth,
		ClientId: aws.String(c.cfg.ClientID),
		AuthParameters: map[string]string{
			"REFRESH_TOKEN": tokens.RefreshToken,
		},
	})
	if err != nil {
		if isUnauthenticated(err) {
			return nil, liftcverrors.NewNoSessionError("refresh token rejected", err)
		}
		return nil, liftcverrors.NewProviderError("token refresh failed", err)
	}
	if out.AuthenticationResult == nil {
		return nil, liftcverrors.NewProviderError("token refresh returned no result", nil)
	}

	refreshed := bundleFromAuthResult(out.AuthenticationResult)
	if refreshed.RefreshToken == "" {
		// Cognito does not rotate refresh tokens on this flow.
		refreshed.RefreshToken = tokens.RefreshToken
	}

	c.mu.Lock()
	c.tokens = refreshed
	loginID := c.loginID
	c.mu.Unlock()
	c.persistTokens(ctx, refreshed, loginID)

	return refreshed, nil
}

// storeAuthResult records tokens from a successful credential sign-in.
func (c *Cognito) storeAuthResult(ctx context.Context, result *ciptypes.AuthenticationResultType, loginID string) {
	bundle := bundleFromAuthResult(result)

	if claims, err := ExtractClaims(bundle.IDToken); err == nil {
		logger.Debugw("sign-in issued tokens", "sub", claims["sub"])
	}

	c.mu.Lock()
	c.tokens = bundle
	c.loginID = loginID
	c.cacheLoaded = true
	c.mu.Unlock()
	c.persistTokens(ctx, bundle, loginID)
}

func (c *Cognito) loadCacheLocked(ctx context.Context) {
	if c.cache == nil {
		return
	}
	cached, err := c.cache.Load(ctx)
	if err != nil {
		logger.Warnf("failed to load cached tokens: %v", err)
		return
	}
	if cached == nil || cached.RefreshToken == "" {
		return
	}
	// Access token is intentionally absent; the first use triggers a refresh.
	c.tokens = &TokenBundle{
		RefreshToken: cached.RefreshToken,
		Expiry:       cached.Expiry,
	}
	c.loginID = cached.LoginID
}

func (c *Cognito) persistTokens(ctx context.Context, bundle *TokenBundle, loginID string) {
	if c.cache == nil || bundle.RefreshToken == "" {
		return
	}
	err := c.cache.Save(ctx, &CachedSession{
		RefreshToken: bundle.RefreshToken,
		LoginID:      loginID,
		Expiry:       bundle.Expiry,
	})
	if err != nil {
		// Persistence is an optimization; the session still works in-process.
		logger.Warnf("failed to persist refresh token: %v", err)
	}
}

func bundleFromAuthResult(result *ciptypes.AuthenticationResultType) *TokenBundle {
	bundle := &TokenBundle{
		AccessToken:  aws.ToString(result.AccessToken),
		IDToken:      aws.ToString(result.IdToken),
		RefreshToken: aws.ToString(result.RefreshToken),
	}
	if result.ExpiresIn > 0 {
		bundle.Expiry = time.Now().Add(time.Duration(result.ExpiresIn) * time.Second)
	}
	return bundle
}

// isUnauthenticated reports whether err is one of Cognito's
// "no authenticated user" error kinds.
func isUnauthenticated(err error) bool {
	var notAuth *ciptypes.NotAuthorizedException
	var notFound *ciptypes.UserNotFoundException
	var reset *ciptypes.PasswordResetRequiredException
	var unconfirmed *ciptypes.UserNotConfirmedException
	return errors.As(err, &notAuth) ||
		errors.As(err, &notFound) ||
		errors.As(err, &reset) ||
		errors.As(err, &unconfirmed)
}

// claimString reads a string claim, tolerating absent or non-string values.
func claimString(claims map[string]any, name string) string {
	if v, ok := claims[name].(string); ok {
		return v
	}
	return ""
}

// ExtractClaims parses a JWT's claims without validating the signature.
// Used for tokens received directly from the token endpoint over TLS, where
// signature validation is redundant for claim inspection.
func ExtractClaims(tokenString string) (jwt.MapClaims, error) {
	parser := jwt.NewParser(jwt.WithoutClaimsValidation())
	token, _, err := parser.ParseUnverified(tokenString, jwt.MapClaims{})
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, errors.New("failed to extract claims")
	}
	return claims, nil
}
