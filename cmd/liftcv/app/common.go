// SPDX-FileCopyrightText: Copyright 2025 LiftCV Authors
// SPDX-License-Identifier: Apache-2.0

package app

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"golang.org/x/term"

	"github.com/liftcv/liftcv/pkg/api"
	"github.com/liftcv/liftcv/pkg/auth/gateway"
	"github.com/liftcv/liftcv/pkg/auth/provider"
	"github.com/liftcv/liftcv/pkg/auth/session"
	"github.com/liftcv/liftcv/pkg/config"
	"github.com/liftcv/liftcv/pkg/environment"
)

// appEnv bundles the wired-up application services a command needs.
type appEnv struct {
	cfg      *config.Config
	provider *provider.Cognito
	gateway  *gateway.Gateway
	env      *environment.Local
	sessions *session.Manager
}

// newAppEnv loads the config, builds the auth stack, and starts the session
// manager. The caller must Close the returned appEnv.
func newAppEnv(ctx context.Context) (*appEnv, error) {
	cfg, err := config.LoadOrCreateConfig()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	cachePath, err := provider.DefaultTokenCachePath()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve token cache path: %w", err)
	}
	p, err := provider.NewCognito(ctx, cfg.CognitoConfig(),
		provider.WithTokenCache(provider.NewFileTokenCache(cachePath)))
	if err != nil {
		return nil, fmt.Errorf("failed to create auth provider: %w", err)
	}

	env, err := environment.NewDefaultLocal()
	if err != nil {
		return nil, fmt.Errorf("failed to open local state: %w", err)
	}

	gw := gateway.New(p)
	sessions := session.NewManager(gw, env)
	sessions.Start(ctx)

	a := &appEnv{
		cfg:      cfg,
		provider: p,
		gateway:  gw,
		env:      env,
		sessions: sessions,
	}
	if err := a.waitReady(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

// Close stops the session manager.
func (a *appEnv) Close() {
	a.sessions.Close()
}

// apiClient builds the backend client on top of the provider's session.
func (a *appEnv) apiClient() *api.Client {
	return api.NewClient(a.cfg.APIBaseURL(), a.provider)
}

// waitReady blocks until the session bootstrap settles.
func (a *appEnv) waitReady(ctx context.Context) error {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for a.sessions.IsInitializing() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}

func promptLine(prompt string) (string, error) {
	fmt.Print(prompt)
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("failed to read input: %w", err)
	}
	return strings.TrimSpace(line), nil
}

func promptPassword(prompt string) (string, error) {
	fmt.Print(prompt)
	byteValue, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	return string(byteValue), nil
}
