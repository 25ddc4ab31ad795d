package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type ReminderMetrics struct {
	attempts     *prometheus.CounterVec
	skipped      *prometheus.CounterVec
	runDuration  prometheus.Histogram
	lastRunUnix  prometheus.Gauge
	sendDuration *prometheus.HistogramVec
}

var (
	reminderMetricsOnce sync.Once
	reminderMetrics     *ReminderMetrics
)

// Reminders returns the process-wide metrics registered on the default registerer.
func Reminders() *ReminderMetrics {
	reminderMetricsOnce.Do(func() {
		reminderMetrics = NewReminderMetrics(prometheus.DefaultRegisterer)
	})
	return reminderMetrics
}

func NewReminderMetrics(registerer prometheus.Registerer) *ReminderMetrics {
	m := &ReminderMetrics{
		attempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dunning_reminder_attempts_total",
				Help: "Reminder send attempts by level, status and trigger.",
			},
			[]string{"level", "status", "trigger"}, // trigger: automatic | manual
		),
		skipped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dunning_reminder_skipped_total",
				Help: "Invoices skipped by the automatic run.",
			},
			[]string{"reason"},
		),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "dunning_automatic_run_duration_seconds",
			Help:    "Duration of one automatic reminder run.",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300},
		}),
		lastRunUnix: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dunning_automatic_run_last_timestamp_seconds",
			Help: "Unix time of the last finished automatic run.",
		}),
		sendDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "dunning_mail_send_duration_seconds",
				Help:    "Time spent handing a reminder to the mail transport.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"transport"},
		),
	}

	if registerer != nil {
		registerer.MustRegister(m.attempts, m.skipped, m.runDuration, m.lastRunUnix, m.sendDuration)
	}
	return m
}

func (m *ReminderMetrics) Attempt(level, status string, manual bool) {
	if m == nil {
		return
	}
	trigger := "automatic"
	if manual {
		trigger = "manual"
	}
	m.attempts.WithLabelValues(level, status, trigger).Inc()
}

func (m *ReminderMetrics) Skipped(reason string) {
	if m == nil {
		return
	}
	m.skipped.WithLabelValues(reason).Inc()
}

func (m *ReminderMetrics) RunFinished(started, finished time.Time) {
	if m == nil {
		return
	}
	m.runDuration.Observe(finished.Sub(started).Seconds())
	m.lastRunUnix.Set(float64(finished.Unix()))
}

func (m *ReminderMetrics) MailSent(transport string, d time.Duration) {
	if m == nil {
		return
	}
	m.sendDuration.WithLabelValues(transport).Observe(d.Seconds())
}
