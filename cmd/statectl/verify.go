package main

import (
	"github.com/spf13/cobra"

	"github.com/edvin/statekeeper/internal/model"
)

func (c *cli) verifyAllCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "verify-all [environment]",
		Short: "Re-verify every cataloged backup against its archived artifact",
		Long: `verify-all re-reads each cataloged artifact, re-verifies it and compares it
with the catalog. The latest restore of each environment is checked against
the current remote state. Exits non-zero when any record is INVALID or MISSING.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			envs := model.AllEnvironments
			if len(args) == 1 {
				var err error
				if envs, err = model.ParseEnvironmentScope(args[0]); err != nil {
					return err
				}
			}
			return c.verify(cmd, envs)
		},
	}
}

func (c *cli) verify(cmd *cobra.Command, envs []model.Environment) error {
	results, err := c.svc.Sweep.VerifyAll(cmd.Context(), envs)
	if err != nil {
		return err
	}
	summary := model.Summarize(results)

	if c.output == "json" {
		if err := writeJSON(c.out, struct {
			Summary model.SweepSummary  `json:"summary"`
			Results []model.SweepResult `json:"results"`
		}{summary, results}); err != nil {
			return err
		}
	} else {
		printSweep(c.out, results, summary)
	}

	if !summary.Healthy() {
		return &sweepError{summary: summary}
	}
	return nil
}
