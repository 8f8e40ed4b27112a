package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	TokensAllocated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "opdflow_tokens_allocated_total",
		Help: "Visit tokens successfully allocated.",
	})

	AllocationConflicts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "opdflow_token_allocation_conflicts_total",
		Help: "Conditional counter updates retried due to contention.",
	})

	PatientsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "opdflow_patients_created_total",
		Help: "Patient records registered into the active queue.",
	})

	StatusUpdates = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "opdflow_status_updates_total",
		Help: "Patient status transitions applied, by target status.",
	}, []string{"status"})

	PrescriptionsSaved = promauto.NewCounter(prometheus.CounterOpts{
		Name: "opdflow_prescriptions_saved_total",
		Help: "Prescription snapshots written with a history append.",
	})

	PatientsArchived = promauto.NewCounter(prometheus.CounterOpts{
		Name: "opdflow_patients_archived_total",
		Help: "Patient records moved out of the active queue.",
	})

	HistoryReads = promauto.NewCounter(prometheus.CounterOpts{
		Name: "opdflow_history_reads_total",
		Help: "History listings served.",
	})

	LiveViewers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "opdflow_live_viewers",
		Help: "Currently registered live-view subscribers.",
	})
)

func Handler() http.Handler {
	return promhttp.Handler()
}
