package activity

import "github.com/prometheus/client_golang/prometheus"

// Metrics instruments the activity service.
type Metrics struct {
	SessionsCreated  prometheus.Counter
	EntriesWritten   prometheus.Counter
	CommandsRecorded prometheus.Counter
	OpenConnections  prometheus.Gauge
}

// NewMetrics creates and registers the activity collectors. Registration
// is explicit so tests can use a private registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		SessionsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "drover_activity_sessions_created_total",
			Help: "Total number of activity sessions created.",
		}),
		EntriesWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "drover_activity_entries_written_total",
			Help: "Total number of activity log entries persisted.",
		}),
		CommandsRecorded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "drover_commands_recorded_total",
			Help: "Total number of fleet command results recorded.",
		}),
		OpenConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "drover_activity_open_connections",
			Help: "Number of currently open activity client connections.",
		}),
	}
	reg.MustRegister(m.SessionsCreated, m.EntriesWritten, m.CommandsRecorded, m.OpenConnections)
	return m
}
