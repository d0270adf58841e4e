package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/edvin/statekeeper/internal/model"
)

const (
	resultSuccess = "success"
	resultFailure = "failure"
)

var (
	backupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "statekeeper_backups_total",
			Help: "Backup runs by environment, kind and result",
		},
		[]string{"environment", "kind", "result"},
	)

	restoresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "statekeeper_restores_total",
			Help: "Restore runs by environment and result",
		},
		[]string{"environment", "result"},
	)

	prunedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "statekeeper_pruned_total",
			Help: "Backup records removed by retention",
		},
		[]string{"environment"},
	)

	sweepRecords = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "statekeeper_sweep_records",
			Help: "Records by status in the most recent verification sweep",
		},
		[]string{"environment", "status"},
	)

	lastBackupTimestamp = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "statekeeper_last_backup_timestamp_seconds",
			Help: "Unix time of the most recent successful backup",
		},
		[]string{"environment"},
	)

	lastBackupBytes = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "statekeeper_last_backup_bytes",
			Help: "Size of the most recent successful backup",
		},
		[]string{"environment"},
	)

	lastBackupResources = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "statekeeper_last_backup_resources",
			Help: "Managed resources in the most recent successful backup",
		},
		[]string{"environment"},
	)
)

func result(err error) string {
	if err != nil {
		return resultFailure
	}
	return resultSuccess
}

// ObserveBackup records the outcome of a backup run. rec is ignored on failure.
func ObserveBackup(env model.Environment, kind model.Kind, rec model.Record, err error) {
	backupsTotal.WithLabelValues(string(env), string(kind), result(err)).Inc()
	if err != nil {
		return
	}
	lastBackupTimestamp.WithLabelValues(string(env)).Set(float64(rec.Timestamp.Unix()))
	lastBackupBytes.WithLabelValues(string(env)).Set(float64(rec.ByteSize))
	lastBackupResources.WithLabelValues(string(env)).Set(float64(rec.ResourceCount))
}

// ObserveRestore records the outcome of a restore run.
func ObserveRestore(env model.Environment, err error) {
	restoresTotal.WithLabelValues(string(env), result(err)).Inc()
}

// ObservePruned adds n pruned records for env.
func ObservePruned(env model.Environment, n int) {
	if n > 0 {
		prunedTotal.WithLabelValues(string(env)).Add(float64(n))
	}
}

// ObserveSweep publishes per-environment status counts of a sweep.
func ObserveSweep(envs []model.Environment, results []model.SweepResult) {
	counts := make(map[model.Environment]map[model.SweepStatus]int, len(envs))
	for _, env := range envs {
		counts[env] = map[model.SweepStatus]int{}
	}
	for _, r := range results {
		if c, ok := counts[r.Record.Environment]; ok {
			c[r.Status]++
		}
	}
	for env, c := range counts {
		for _, status := range []model.SweepStatus{model.SweepOK, model.SweepInvalid, model.SweepMissing} {
			sweepRecords.WithLabelValues(string(env), string(status)).Set(float64(c[status]))
		}
	}
}

// WriteTextfile writes the default registry in the node-exporter textfile format.
func WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, prometheus.DefaultGatherer); err != nil {
		return fmt.Errorf("write metrics textfile %s: %w", path, err)
	}
	return nil
}
