package maintenance

import "github.com/prometheus/client_golang/prometheus"

var (
	integrityRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "querypilot_integrity_runs_total",
			Help: "Total number of warehouse integrity check runs by status.",
		},
		[]string{"status"},
	)
	integrityTablesCheckedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "querypilot_integrity_tables_checked_total",
			Help: "Total number of catalog tables checked against the object store.",
		},
	)
	integrityMissingTablesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "querypilot_integrity_missing_tables_total",
			Help: "Total number of catalog tables found without parquet data.",
		},
	)
	warehouseTableBytes = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "querypilot_warehouse_table_bytes",
			Help: "Parquet bytes stored per warehouse table at the last integrity check.",
		},
		[]string{"table"},
	)
)

func init() {
	prometheus.MustRegister(
		integrityRunsTotal,
		integrityTablesCheckedTotal,
		integrityMissingTablesTotal,
		warehouseTableBytes,
	)
}
