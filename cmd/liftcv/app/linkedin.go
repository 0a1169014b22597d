// SPDX-FileCopyrightText: Copyright 2025 LiftCV Authors
// SPDX-License-Identifier: Apache-2.0

package app

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newLinkedInCmd() *cobra.Command {
	linkedinCmd := &cobra.Command{
		Use:   "linkedin",
		Short: "Work with LinkedIn profiles",
	}

	analyzeCmd := &cobra.Command{
		Use:   "analyze <profile-url>",
		Short: "Analyze a LinkedIn profile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			a, err := newAppEnv(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			analysis, err := a.apiClient().AnalyzeLinkedInProfile(ctx, args[0])
			if err != nil {
				return err
			}

			if analysis.Headline != "" {
				fmt.Printf("Headline: %s\n", analysis.Headline)
			}
			fmt.Printf("Score: %d/100\n", analysis.Score)
			for _, s := range analysis.Suggestions {
				fmt.Printf("  - %s\n", s)
			}
			return nil
		},
	}

	linkedinCmd.AddCommand(analyzeCmd)
	return linkedinCmd
}
