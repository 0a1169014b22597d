// SPDX-FileCopyrightText: Copyright 2025 LiftCV Authors
// SPDX-License-Identifier: Apache-2.0

// Package app provides the entry point for the liftcv command-line application.
package app

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/liftcv/liftcv/pkg/logger"
)

var rootCmd = &cobra.Command{
	Use:               "liftcv",
	DisableAutoGenTag: true,
	Short:             "LiftCV optimizes resumes and LinkedIn profiles",
	Long: `LiftCV is a command-line client for the LiftCV service. It signs you in
against the LiftCV identity provider, keeps the session alive between runs,
and submits resumes and LinkedIn profiles for optimization.`,
	Run: func(cmd *cobra.Command, _ []string) {
		// If no subcommand is provided, print help
		if err := cmd.Help(); err != nil {
			logger.Errorf("Error displaying help: %v", err)
		}
	},
	PersistentPreRun: func(_ *cobra.Command, _ []string) {
		logger.Initialize()
	},
}

// NewRootCmd creates a new root command for the LiftCV CLI.
func NewRootCmd() *cobra.Command {
	// Add persistent flags
	rootCmd.PersistentFlags().Bool("debug", false, "Enable debug mode")
	if err := viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug")); err != nil {
		logger.Errorf("Error binding debug flag: %v", err)
	}

	// Add subcommands
	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(logoutCmd)
	rootCmd.AddCommand(whoamiCmd)
	rootCmd.AddCommand(signupCmd)
	rootCmd.AddCommand(confirmCmd)
	rootCmd.AddCommand(forgotPasswordCmd)
	rootCmd.AddCommand(resetPasswordCmd)
	rootCmd.AddCommand(newResumeCmd())
	rootCmd.AddCommand(newLinkedInCmd())
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(newConfigureCmd())

	return rootCmd
}
