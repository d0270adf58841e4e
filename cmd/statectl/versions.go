package main

import (
	"github.com/spf13/cobra"

	"github.com/edvin/statekeeper/internal/model"
)

func (c *cli) versionsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "versions <environment>",
		Short: "List the versions the remote state store keeps for an environment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := model.ParseEnvironment(args[0])
			if err != nil {
				return err
			}
			versions, err := c.backends.Store.ListVersions(cmd.Context(), env)
			if err != nil {
				return err
			}
			if c.output == "json" {
				return writeJSON(c.out, versions)
			}
			printVersions(c.out, c.backends.Store.Location(env), versions)
			return nil
		},
	}
}
