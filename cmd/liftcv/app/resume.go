// SPDX-FileCopyrightText: Copyright 2025 LiftCV Authors
// SPDX-License-Identifier: Apache-2.0

package app

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/liftcv/liftcv/pkg/api"
)

func newResumeCmd() *cobra.Command {
	resumeCmd := &cobra.Command{
		Use:   "resume",
		Short: "Work with resumes",
	}

	var jobDescriptionFile string
	optimizeCmd := &cobra.Command{
		Use:   "optimize <resume-file>",
		Short: "Optimize a resume, optionally against a job description",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			a, err := newAppEnv(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			resumeText, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("failed to read resume: %w", err)
			}

			req := &api.OptimizeResumeRequest{ResumeText: string(resumeText)}
			if jobDescriptionFile != "" {
				jd, err := os.ReadFile(jobDescriptionFile)
				if err != nil {
					return fmt.Errorf("failed to read job description: %w", err)
				}
				req.JobDescription = string(jd)
			}

			result, err := a.apiClient().OptimizeResume(ctx, req)
			if err != nil {
				return err
			}

			fmt.Printf("Score: %d/100\n", result.Score)
			for _, s := range result.Suggestions {
				fmt.Printf("  - %s\n", s)
			}
			if result.OptimizedText != "" {
				fmt.Printf("\n%s\n", result.OptimizedText)
			}
			return nil
		},
	}
	optimizeCmd.Flags().StringVar(&jobDescriptionFile, "job-description", "", "File with the job description to tailor the resume to")

	resumeCmd.AddCommand(optimizeCmd)
	return resumeCmd
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List past optimization and analysis runs",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		a, err := newAppEnv(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		entries, err := a.apiClient().GetHistory(ctx)
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			fmt.Println("No runs yet.")
			return nil
		}

		for _, e := range entries {
			fmt.Printf("%s  %-8s  %3d/100  %s\n",
				e.CreatedAt.Format("2006-01-02 15:04"), e.Kind, e.Score, e.ID)
		}
		return nil
	},
}
