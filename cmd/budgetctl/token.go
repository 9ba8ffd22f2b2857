package main

import (
	"fmt"

	"bitbucket.org/mmdatafocus/budget_backend/utils"
	"github.com/spf13/cobra"
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Sign a bearer token for --as/--role (local runs only)",
	RunE: func(cmd *cobra.Command, _ []string) error {
		actor, err := currentActor()
		if err != nil {
			return err
		}
		token, err := utils.JwtGenerate(actor.Name, string(actor.Role))
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(tokenCmd)
}
