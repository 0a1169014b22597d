// SPDX-FileCopyrightText: Copyright 2025 LiftCV Authors
// SPDX-License-Identifier: Apache-2.0

package app

import (
	"context"
	"fmt"

	"github.com/pkg/browser"
	"github.com/spf13/cobra"

	"github.com/liftcv/liftcv/pkg/auth/provider"
	"github.com/liftcv/liftcv/pkg/environment"
	"github.com/liftcv/liftcv/pkg/logger"
)

var (
	loginEmail     string
	loginRemember  bool
	loginSSO       bool
	loginNoBrowser bool
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Sign in to LiftCV",
	Long: `Sign in with an email and password, or with --sso through the hosted
sign-in page in your browser. With --remember the session survives up to a
week without a fresh login instead of a day.`,
	RunE: loginCmdFunc,
}

func init() {
	loginCmd.Flags().StringVar(&loginEmail, "email", "", "Account email address")
	loginCmd.Flags().BoolVar(&loginRemember, "remember", false, "Keep the session for up to a week")
	loginCmd.Flags().BoolVar(&loginSSO, "sso", false, "Sign in through the hosted sign-in page")
	loginCmd.Flags().BoolVar(&loginNoBrowser, "no-browser", false, "Print the sign-in URL instead of opening a browser")
}

func loginCmdFunc(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	a, err := newAppEnv(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if _, authenticated := a.sessions.Identity(); authenticated {
		fmt.Println("Already signed in. Run 'liftcv logout' first to switch accounts.")
		return nil
	}

	if loginSSO {
		if err := ssoLogin(ctx, a); err != nil {
			return err
		}
	} else {
		if err := passwordLogin(ctx, a); err != nil {
			return err
		}
	}

	user, _ := a.sessions.Identity()
	if user != nil {
		fmt.Printf("Signed in as %s\n", user.Email)
	}
	return nil
}

func passwordLogin(ctx context.Context, a *appEnv) error {
	email := loginEmail
	if email == "" {
		var err error
		email, err = promptLine("Email: ")
		if err != nil {
			return err
		}
	}
	password, err := promptPassword("Password: ")
	if err != nil {
		return err
	}

	return a.sessions.SignIn(ctx, email, password, loginRemember)
}

func ssoLogin(ctx context.Context, a *appEnv) error {
	pkce, err := provider.GeneratePKCE()
	if err != nil {
		return err
	}
	state, err := provider.GenerateState()
	if err != nil {
		return err
	}

	listener := environment.NewCallbackListener(a.env, a.cfg.CallbackPort(), state, pkce.Verifier)
	redirectURL, err := listener.Start(ctx)
	if err != nil {
		return err
	}
	logger.Debugf("waiting for sign-in callback on %s", redirectURL)

	authURL := a.provider.HostedUIAuthCodeURL(state, pkce.Challenge)
	if loginNoBrowser {
		fmt.Printf("Open the following URL in your browser to sign in:\n\n%s\n\n", authURL)
	} else {
		fmt.Println("Opening your browser to complete the sign-in...")
		if err := browser.OpenURL(authURL); err != nil {
			logger.Warnf("failed to open browser: %v", err)
			fmt.Printf("Open the following URL in your browser to sign in:\n\n%s\n\n", authURL)
		}
	}

	params, err := listener.Wait(ctx)
	if err != nil {
		return err
	}
	if params.Err != "" {
		return fmt.Errorf("sign-in was rejected: %s", params.Err)
	}

	return a.sessions.ResolveRedirect(ctx, params.Code, params.Verifier, loginRemember)
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Sign out and forget the stored session",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		a, err := newAppEnv(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.sessions.SignOut(ctx); err != nil {
			return err
		}
		fmt.Println("Signed out.")
		return nil
	},
}
