package main

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/edvin/statekeeper/internal/model"
)

func (c *cli) backupCommand() *cobra.Command {
	var scheduled bool
	cmd := &cobra.Command{
		Use:   "backup <environment>",
		Short: "Capture the current remote state of an environment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := model.ParseEnvironment(args[0])
			if err != nil {
				return err
			}
			kind := model.KindManual
			if scheduled {
				kind = model.KindScheduled
			}

			res, err := c.svc.Backup.Backup(cmd.Context(), env, kind)
			if res == nil {
				return err
			}
			for _, w := range res.Warnings {
				fmt.Fprintf(c.errOut, "Warning: %s\n", w)
			}

			if c.output == "json" {
				if jerr := writeJSON(c.out, res); jerr != nil {
					return jerr
				}
				return err
			}
			rec := res.Record
			if rec.IsEmpty() {
				fmt.Fprintf(c.out, "Backup %s of %s recorded with no artifact: %s\n", rec.ID, env, rec.Note)
			} else {
				fmt.Fprintf(c.out, "Backup %s of %s\n", rec.ID, env)
				fmt.Fprintf(c.out, "  artifact:  %s\n", res.URI)
				fmt.Fprintf(c.out, "  resources: %d\n", rec.ResourceCount)
				fmt.Fprintf(c.out, "  size:      %s\n", humanize.IBytes(uint64(rec.ByteSize)))
				fmt.Fprintf(c.out, "  tool:      %s\n", orDash(rec.ToolVersion))
			}
			if res.Pruned > 0 {
				fmt.Fprintf(c.out, "Pruned %d old %s.\n", res.Pruned, plural(res.Pruned, "backup", "backups"))
			}
			return err
		},
	}
	cmd.Flags().BoolVar(&scheduled, "scheduled", false, "record the backup as scheduled instead of manual")
	return cmd
}
