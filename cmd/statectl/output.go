package main

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gosuri/uitable"

	"github.com/edvin/statekeeper/internal/model"
)

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newTable() *uitable.Table {
	t := uitable.New()
	t.MaxColWidth = 60
	t.Wrap = true
	return t
}

func printRecords(w io.Writer, recs []model.Record) {
	if len(recs) == 0 {
		fmt.Fprintln(w, "No records.")
		return
	}
	t := newTable()
	t.AddRow("ID", "ENVIRONMENT", "KIND", "CREATED", "SIZE", "RESOURCES", "TOOL", "OPERATOR", "DETAIL")
	for _, r := range recs {
		size := "-"
		if r.IsBackup() && !r.IsEmpty() {
			size = humanize.IBytes(uint64(r.ByteSize))
		}
		t.AddRow(r.ShortID(), r.Environment, r.Kind, ago(r.Timestamp), size, r.ResourceCount,
			orDash(r.ToolVersion), orDash(r.Operator), detail(r))
	}
	fmt.Fprintln(w, t)
}

func detail(r model.Record) string {
	if r.IsRestore() {
		return fmt.Sprintf("from %s, pre-restore %s", short(r.SourceBackupRef), short(r.PreRestoreBackupRef))
	}
	if r.Note != "" {
		return r.Note
	}
	return r.ArtifactLocation
}

func printStats(w io.Writer, stats []model.CatalogStats) {
	t := newTable()
	t.AddRow("ENVIRONMENT", "MANUAL", "SCHEDULED", "PRE-RESTORE", "RESTORES", "SIZE", "NEWEST", "OLDEST", "LAST RESTORE")
	for _, s := range stats {
		t.AddRow(s.Environment,
			s.Counts[model.KindManual], s.Counts[model.KindScheduled], s.Counts[model.KindPreRestore], s.Counts[model.KindRestore],
			humanize.IBytes(uint64(s.TotalBytes)), agoPtr(s.NewestBackup), agoPtr(s.OldestBackup), agoPtr(s.LastRestore))
	}
	fmt.Fprintln(w, t)
}

func printSweep(w io.Writer, results []model.SweepResult, summary model.SweepSummary) {
	if len(results) > 0 {
		t := newTable()
		t.AddRow("STATUS", "ID", "ENVIRONMENT", "KIND", "CREATED", "DETAIL")
		for _, r := range results {
			t.AddRow(r.Status, r.Record.ShortID(), r.Record.Environment, r.Record.Kind, ago(r.Record.Timestamp), r.Detail)
		}
		fmt.Fprintln(w, t)
		fmt.Fprintln(w)
	}
	fmt.Fprintf(w, "valid: %d  invalid: %d  missing: %d\n", summary.Valid, summary.Invalid, summary.Missing)
}

func printVersions(w io.Writer, location string, versions []model.BlobRef) {
	fmt.Fprintf(w, "%s\n", location)
	if len(versions) == 0 {
		fmt.Fprintln(w, "No versions.")
		return
	}
	t := newTable()
	t.AddRow("VERSION", "MODIFIED", "SIZE", "LATEST")
	for _, v := range versions {
		latest := ""
		if v.IsLatest {
			latest = "*"
		}
		t.AddRow(v.VersionID, ago(v.LastModified), humanize.IBytes(uint64(v.Size)), latest)
	}
	fmt.Fprintln(w, t)
}

func ago(t time.Time) string {
	return fmt.Sprintf("%s (%s)", t.UTC().Format(time.RFC3339), humanize.Time(t))
}

func agoPtr(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return ago(*t)
}

func short(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return orDash(id)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
