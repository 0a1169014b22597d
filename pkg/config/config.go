// SPDX-FileCopyrightText: Copyright 2025 LiftCV Authors
// SPDX-License-Identifier: Apache-2.0

// Package config contains the definition of the application config structure
// and logic required to load and update it.
package config

import (
	"fmt"

	"github.com/adrg/xdg"

	"github.com/liftcv/liftcv/pkg/auth/provider"
)

// Config represents the configuration of the application.
type Config struct {
	Auth AuthConfig `yaml:"auth"`
	API  APIConfig  `yaml:"api,omitempty"`
}

// AuthConfig holds the Cognito user pool settings and the local callback
// port for the hosted-UI sign-in flow.
type AuthConfig struct {
	Region         string `yaml:"region"`
	UserPoolID     string `yaml:"user_pool_id"`
	ClientID       string `yaml:"client_id"`
	ClientSecret   string `yaml:"client_secret,omitempty"`
	HostedUIDomain string `yaml:"hosted_ui_domain,omitempty"`
	CallbackPort   int    `yaml:"callback_port,omitempty"`
}

// APIConfig holds the LiftCV backend settings.
type APIConfig struct {
	BaseURL string `yaml:"base_url,omitempty"`
}

const (
	defaultCallbackPort = 8085
	defaultAPIBaseURL   = "https://api.liftcv.app"
)

// defaultPathGenerator generates the default config path using xdg
var defaultPathGenerator = func() (string, error) {
	return xdg.ConfigFile("liftcv/config.yaml")
}

// getConfigPath is the current path generator, can be replaced in tests
var getConfigPath = defaultPathGenerator

func createNewConfigWithDefaults() Config {
	return Config{
		Auth: AuthConfig{
			CallbackPort: defaultCallbackPort,
		},
		API: APIConfig{
			BaseURL: defaultAPIBaseURL,
		},
	}
}

// Validate reports whether the config carries everything the auth provider
// needs.
func (c *Config) Validate() error {
	if c.Auth.ClientID == "" {
		return fmt.Errorf("auth.client_id is required; run 'liftcv configure' first")
	}
	if c.Auth.Region == "" {
		return fmt.Errorf("auth.region is required; run 'liftcv configure' first")
	}
	return nil
}

// CognitoConfig translates the stored settings into the provider's form.
func (c *Config) CognitoConfig() provider.CognitoConfig {
	return provider.CognitoConfig{
		Region:         c.Auth.Region,
		UserPoolID:     c.Auth.UserPoolID,
		ClientID:       c.Auth.ClientID,
		ClientSecret:   c.Auth.ClientSecret,
		HostedUIDomain: c.Auth.HostedUIDomain,
		RedirectURL:    fmt.Sprintf("http://127.0.0.1:%d/callback", c.CallbackPort()),
	}
}

// CallbackPort returns the configured loopback port, or the default.
func (c *Config) CallbackPort() int {
	if c.Auth.CallbackPort == 0 {
		return defaultCallbackPort
	}
	return c.Auth.CallbackPort
}

// APIBaseURL returns the configured backend URL, or the default.
func (c *Config) APIBaseURL() string {
	if c.API.BaseURL == "" {
		return defaultAPIBaseURL
	}
	return c.API.BaseURL
}

// LoadOrCreateConfig fetches the application configuration.
// If it does not already exist - it will create a new config file with default values.
func LoadOrCreateConfig() (*Config, error) {
	store, err := NewConfigStore()
	if err != nil {
		return nil, fmt.Errorf("failed to create config store: %w", err)
	}
	return store.Load()
}

// UpdateConfig loads the config, applies changes, and saves it back under a
// file lock.
func UpdateConfig(updateFn func(*Config)) error {
	store, err := NewConfigStore()
	if err != nil {
		return fmt.Errorf("failed to create config store: %w", err)
	}
	return store.Update(updateFn)
}
