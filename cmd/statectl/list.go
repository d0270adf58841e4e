package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/edvin/statekeeper/internal/catalog"
	"github.com/edvin/statekeeper/internal/model"
)

const (
	actionList   = "list"
	actionStats  = "stats"
	actionVerify = "verify"
	actionClean  = "clean"
)

func (c *cli) listCommand() *cobra.Command {
	var (
		kinds []string
		since string
		until string
		limit int
	)
	cmd := &cobra.Command{
		Use:   "list <environment|all> [list|stats|verify|clean]",
		Short: "Query the catalog, or prune it with clean",
		Long: `list shows catalog records, most recent first.
stats summarizes the catalog per environment.
verify is the same as verify-all for the given environments.
clean applies the retention policy now; it needs a single environment.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			envs, err := model.ParseEnvironmentScope(args[0])
			if err != nil {
				return err
			}
			action := actionList
			if len(args) == 2 {
				action = args[1]
			}

			switch action {
			case actionList:
				f := catalog.Filter{Environments: envs, Limit: limit}
				if f.Kinds, err = parseKinds(kinds); err != nil {
					return err
				}
				now := time.Now()
				if f.Since, err = parseTimeFlag("since", since, now); err != nil {
					return err
				}
				if f.Until, err = parseTimeFlag("until", until, now); err != nil {
					return err
				}
				recs, err := c.backends.Catalog.Records(cmd.Context(), f)
				if err != nil {
					return err
				}
				if c.output == "json" {
					if recs == nil {
						recs = []model.Record{}
					}
					return writeJSON(c.out, recs)
				}
				printRecords(c.out, recs)
				return nil

			case actionStats:
				stats := make([]model.CatalogStats, 0, len(envs))
				for _, env := range envs {
					s, err := c.backends.Catalog.Stats(cmd.Context(), env)
					if err != nil {
						return err
					}
					stats = append(stats, s)
				}
				if c.output == "json" {
					return writeJSON(c.out, stats)
				}
				printStats(c.out, stats)
				return nil

			case actionVerify:
				return c.verify(cmd, envs)

			case actionClean:
				if len(envs) != 1 {
					return usageErrorf("clean needs a single environment, not %q", args[0])
				}
				env := envs[0]
				n, err := c.svc.Retention.Apply(cmd.Context(), env)
				policy := c.svc.Retention.Policy(env)
				fmt.Fprintf(c.out, "Pruned %d %s from %s (keep %d, pre-restore keep %d).\n",
					n, plural(n, "record", "records"), env, policy.KeepCount, policy.PreRestoreKeep)
				return err
			}
			return usageErrorf("unknown list action %q (want %s)", action,
				strings.Join([]string{actionList, actionStats, actionVerify, actionClean}, ", "))
		},
	}
	cmd.Flags().StringSliceVar(&kinds, "kind", nil, "only these kinds: manual, scheduled, pre-restore, restore")
	cmd.Flags().StringVar(&since, "since", "", "only records at or after this time (RFC 3339, YYYY-MM-DD or a duration like 72h)")
	cmd.Flags().StringVar(&until, "until", "", "only records at or before this time")
	cmd.Flags().IntVar(&limit, "limit", 0, "at most this many records (0 for all)")
	return cmd
}

func parseKinds(names []string) ([]model.Kind, error) {
	var kinds []model.Kind
	for _, n := range names {
		k, ok := model.ParseKind(strings.TrimSpace(n))
		if !ok {
			return nil, usageErrorf("unknown kind %q", n)
		}
		kinds = append(kinds, k)
	}
	return kinds, nil
}

// parseTimeFlag accepts RFC 3339, a date, or a duration meaning "that long before now".
func parseTimeFlag(name, s string, now time.Time) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t, nil
	}
	if d, err := time.ParseDuration(s); err == nil && d > 0 {
		return now.Add(-d).UTC(), nil
	}
	return time.Time{}, usageErrorf("invalid --%s %q", name, s)
}
