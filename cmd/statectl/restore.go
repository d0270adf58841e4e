package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/edvin/statekeeper/internal/model"
)

func (c *cli) restoreCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "restore <backup-reference> <environment>",
		Short: "Overwrite an environment's remote state with an archived backup",
		Long: `Restore resolves the backup reference (a record ID, an ID prefix of at least
eight characters, an artifact name, or "latest"), verifies it, asks for
confirmation, snapshots the current remote state as a pre-restore backup and
only then writes the backup to the remote store.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := model.ParseEnvironment(args[1])
			if err != nil {
				return err
			}

			res, err := c.svc.Restore.Restore(cmd.Context(), env, args[0])
			if err != nil {
				return err
			}
			for _, w := range res.Warnings {
				fmt.Fprintf(c.errOut, "Warning: %s\n", w)
			}

			if c.output == "json" {
				return writeJSON(c.out, res)
			}
			fmt.Fprintf(c.out, "Restored %s from backup %s\n", env, res.Source.ID)
			pre := res.PreRestore
			if pre.IsEmpty() {
				fmt.Fprintf(c.out, "  pre-restore backup: %s (%s)\n", pre.ID, pre.Note)
			} else {
				fmt.Fprintf(c.out, "  pre-restore backup: %s (%s)\n", pre.ID, c.backends.Archive.URI(pre.ArtifactLocation))
			}
			fmt.Fprintf(c.out, "  restore record:     %s\n", res.Record.ID)
			fmt.Fprintf(c.out, "  resources:          %d\n", res.Record.ResourceCount)
			if !pre.IsEmpty() {
				fmt.Fprintf(c.out, "Undo with: statectl restore %s %s\n", pre.ID, env)
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&c.yes, "yes", "y", false, "confirm non-interactively")
	return cmd
}
