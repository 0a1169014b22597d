// SPDX-FileCopyrightText: Copyright 2025 LiftCV Authors
// SPDX-License-Identifier: Apache-2.0

package app

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"
)

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show the signed-in account",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		a, err := newAppEnv(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		user, authenticated := a.sessions.Identity()
		if !authenticated {
			fmt.Println("Not signed in. Run 'liftcv login' first.")
			return nil
		}

		fmt.Printf("Signed in as %s\n", user.Email)
		if user.Name != "" {
			fmt.Printf("Name:    %s\n", user.Name)
		}
		fmt.Printf("User ID: %s\n", user.ID)

		if len(user.Attributes) > 0 {
			keys := make([]string, 0, len(user.Attributes))
			for k := range user.Attributes {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			fmt.Println("Attributes:")
			for _, k := range keys {
				fmt.Printf("  %s: %s\n", k, user.Attributes[k])
			}
		}
		return nil
	},
}
