// SPDX-FileCopyrightText: Copyright 2025 LiftCV Authors
// SPDX-License-Identifier: Apache-2.0

package app

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/liftcv/liftcv/pkg/config"
)

func newConfigureCmd() *cobra.Command {
	var (
		region         string
		userPoolID     string
		clientID       string
		hostedUIDomain string
		callbackPort   int
		apiBaseURL     string
	)

	configureCmd := &cobra.Command{
		Use:   "configure",
		Short: "Store the identity provider and backend settings",
		RunE: func(_ *cobra.Command, _ []string) error {
			err := config.UpdateConfig(func(c *config.Config) {
				if region != "" {
					c.Auth.Region = region
				}
				if userPoolID != "" {
					c.Auth.UserPoolID = userPoolID
				}
				if clientID != "" {
					c.Auth.ClientID = clientID
				}
				if hostedUIDomain != "" {
					c.Auth.HostedUIDomain = hostedUIDomain
				}
				if callbackPort != 0 {
					c.Auth.CallbackPort = callbackPort
				}
				if apiBaseURL != "" {
					c.API.BaseURL = apiBaseURL
				}
			})
			if err != nil {
				return err
			}
			fmt.Println("Configuration saved.")
			return nil
		},
	}

	configureCmd.Flags().StringVar(&region, "region", "", "AWS region of the user pool")
	configureCmd.Flags().StringVar(&userPoolID, "user-pool-id", "", "Cognito user pool ID")
	configureCmd.Flags().StringVar(&clientID, "client-id", "", "Cognito app client ID")
	configureCmd.Flags().StringVar(&hostedUIDomain, "hosted-ui-domain", "", "Hosted sign-in page domain")
	configureCmd.Flags().IntVar(&callbackPort, "callback-port", 0, "Loopback port for the sign-in callback")
	configureCmd.Flags().StringVar(&apiBaseURL, "api-url", "", "LiftCV backend base URL")

	return configureCmd
}
