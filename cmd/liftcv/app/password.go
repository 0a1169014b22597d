// SPDX-FileCopyrightText: Copyright 2025 LiftCV Authors
// SPDX-License-Identifier: Apache-2.0

package app

import (
	"fmt"

	"github.com/spf13/cobra"
)

var forgotPasswordCmd = &cobra.Command{
	Use:   "forgot-password",
	Short: "Start a password reset",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		a, err := newAppEnv(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		email, err := cmd.Flags().GetString("email")
		if err != nil {
			return err
		}
		if email == "" {
			if email, err = promptLine("Email: "); err != nil {
				return err
			}
		}

		if err := a.sessions.ForgotPassword(ctx, email); err != nil {
			return err
		}
		fmt.Printf("A reset code was sent to %s. Finish with 'liftcv reset-password --email %s'.\n", email, email)
		return nil
	},
}

var resetPasswordCmd = &cobra.Command{
	Use:   "reset-password",
	Short: "Complete a password reset with the emailed code",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		a, err := newAppEnv(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		email, err := cmd.Flags().GetString("email")
		if err != nil {
			return err
		}
		if email == "" {
			if email, err = promptLine("Email: "); err != nil {
				return err
			}
		}
		code, err := promptLine("Reset code: ")
		if err != nil {
			return err
		}
		password, err := promptPassword("New password: ")
		if err != nil {
			return err
		}

		if err := a.sessions.ResetPassword(ctx, email, code, password); err != nil {
			return err
		}
		fmt.Println("Password updated. You can now sign in with 'liftcv login'.")
		return nil
	},
}

func init() {
	forgotPasswordCmd.Flags().String("email", "", "Account email address")
	resetPasswordCmd.Flags().String("email", "", "Account email address")
}
