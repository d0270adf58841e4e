package metrics

import (
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
)

// poolCollector exports pgx pool statistics of the postgres catalog.
type poolCollector struct {
	pool *pgxpool.Pool

	acquired *prometheus.Desc
	idle     *prometheus.Desc
	total    *prometheus.Desc
	max      *prometheus.Desc
	waits    *prometheus.Desc
}

// RegisterCatalogPool registers a collector for pool on the default registry.
func RegisterCatalogPool(pool *pgxpool.Pool) error {
	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc("statekeeper_catalog_pool_"+name, help, nil, nil)
	}
	return prometheus.Register(&poolCollector{
		pool:     pool,
		acquired: desc("acquired_conns", "Connections currently in use"),
		idle:     desc("idle_conns", "Idle connections"),
		total:    desc("total_conns", "Open connections"),
		max:      desc("max_conns", "Configured connection limit"),
		waits:    desc("empty_acquire_total", "Acquires that had to wait for a connection"),
	})
}

func (c *poolCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.acquired
	ch <- c.idle
	ch <- c.total
	ch <- c.max
	ch <- c.waits
}

func (c *poolCollector) Collect(ch chan<- prometheus.Metric) {
	s := c.pool.Stat()
	ch <- prometheus.MustNewConstMetric(c.acquired, prometheus.GaugeValue, float64(s.AcquiredConns()))
	ch <- prometheus.MustNewConstMetric(c.idle, prometheus.GaugeValue, float64(s.IdleConns()))
	ch <- prometheus.MustNewConstMetric(c.total, prometheus.GaugeValue, float64(s.TotalConns()))
	ch <- prometheus.MustNewConstMetric(c.max, prometheus.GaugeValue, float64(s.MaxConns()))
	ch <- prometheus.MustNewConstMetric(c.waits, prometheus.CounterValue, float64(s.EmptyAcquireCount()))
}
