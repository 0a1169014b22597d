// SPDX-FileCopyrightText: Copyright 2025 LiftCV Authors
// SPDX-License-Identifier: Apache-2.0

package app

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	signupEmail string
	signupName  string
	signupPhone string
)

var signupCmd = &cobra.Command{
	Use:   "signup",
	Short: "Create a LiftCV account",
	Long: `Create a LiftCV account. A confirmation code is sent to the given email
address; confirm the account with 'liftcv confirm' before signing in.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		a, err := newAppEnv(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		email := signupEmail
		if email == "" {
			if email, err = promptLine("Email: "); err != nil {
				return err
			}
		}
		password, err := promptPassword("Password: ")
		if err != nil {
			return err
		}
		confirm, err := promptPassword("Confirm password: ")
		if err != nil {
			return err
		}
		if password != confirm {
			return fmt.Errorf("passwords do not match")
		}

		if err := a.sessions.SignUp(ctx, email, password, signupName, signupPhone); err != nil {
			return err
		}
		fmt.Printf("Account created. Check %s for a confirmation code, then run 'liftcv confirm --email %s'.\n", email, email)
		return nil
	},
}

var confirmResend bool

var confirmCmd = &cobra.Command{
	Use:   "confirm",
	Short: "Confirm a new account with the emailed code",
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

		if confirmResend {
			if err := a.sessions.ResendSignUpCode(ctx, email); err != nil {
				return err
			}
			fmt.Printf("A new confirmation code was sent to %s.\n", email)
			return nil
		}

		code, err := promptLine("Confirmation code: ")
		if err != nil {
			return err
		}
		if err := a.sessions.ConfirmSignUp(ctx, email, code); err != nil {
			return err
		}
		fmt.Println("Account confirmed. You can now sign in with 'liftcv login'.")
		return nil
	},
}

func init() {
	signupCmd.Flags().StringVar(&signupEmail, "email", "", "Account email address")
	signupCmd.Flags().StringVar(&signupName, "name", "", "Full name shown on your profile")
	signupCmd.Flags().StringVar(&signupPhone, "phone", "", "Phone number (optional)")

	confirmCmd.Flags().String("email", "", "Account email address")
	confirmCmd.Flags().BoolVar(&confirmResend, "resend", false, "Resend the confirmation code instead of confirming")
}
