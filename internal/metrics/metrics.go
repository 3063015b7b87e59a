package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	slotsTotal = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "examslots_slots",
		Help: "Number of slots in the database",
	}, []string{"state"})

	slotChangesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "examslots_slot_changes_total",
		Help: "Slots inserted, updated or swept stale by reconciliation",
	}, []string{"kind"})

	cyclesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "examslots_cycles_total",
		Help: "Scrape cycles by outcome",
	}, []string{"result"})

	cycleDurationSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "examslots_cycle_duration_seconds",
		Help:    "Duration of scrape cycles in seconds",
		Buckets: []float64{1, 5, 15, 30, 60, 120, 300},
	})

	notificationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "examslots_notifications_total",
		Help: "Notification emails by status",
	}, []string{"status"})

	errorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "examslots_errors_total",
		Help: "Total number of errors",
	}, []string{"type"})
)

func init() {
	prometheus.MustRegister(slotsTotal)
	prometheus.MustRegister(slotChangesTotal)
	prometheus.MustRegister(cyclesTotal)
	prometheus.MustRegister(cycleDurationSeconds)
	prometheus.MustRegister(notificationsTotal)
	prometheus.MustRegister(errorsTotal)
}

// SetSlotCounts updates the slot gauges
func SetSlotCounts(total, available int64) {
	slotsTotal.WithLabelValues("all").Set(float64(total))
	slotsTotal.WithLabelValues("available").Set(float64(available))
}

// RecordSlotChanges adds reconciliation counts
func RecordSlotChanges(opened, updated int, swept int64) {
	slotChangesTotal.WithLabelValues("opened").Add(float64(opened))
	slotChangesTotal.WithLabelValues("updated").Add(float64(updated))
	slotChangesTotal.WithLabelValues("swept").Add(float64(swept))
}

// RecordCycle records the outcome and duration of one scrape cycle
func RecordCycle(result string, duration time.Duration) {
	cyclesTotal.WithLabelValues(result).Inc()
	cycleDurationSeconds.Observe(duration.Seconds())
}

// RecordNotification records one notification send
func RecordNotification(status string) {
	notificationsTotal.WithLabelValues(status).Inc()
}

// RecordError records an error metric
func RecordError(errorType string) {
	errorsTotal.WithLabelValues(errorType).Inc()
}
