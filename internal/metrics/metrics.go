package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	EmailsSent = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "emails_sent_total",
			Help: "Total emails sent",
		},
	)

	EmailFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "email_failures_total",
			Help: "Total failed emails",
		},
	)

	ScheduledJobs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scheduled_jobs_total",
			Help: "Scheduled email jobs by lifecycle status",
		},
		[]string{"status"},
	)

	ArmedTimers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "armed_timers",
			Help: "Scheduled email jobs waiting on an in-memory timer",
		},
	)

	MissedJobs = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "missed_jobs",
			Help: "Pending jobs whose scheduled time passed without a timer",
		},
	)

	FiringDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "job_firing_duration_seconds",
			Help:    "Time spent delivering one scheduled email job",
			Buckets: prometheus.DefBuckets,
		},
	)
)

func Init() {
	prometheus.MustRegister(EmailsSent)
	prometheus.MustRegister(EmailFailures)
	prometheus.MustRegister(ScheduledJobs)
	prometheus.MustRegister(ArmedTimers)
	prometheus.MustRegister(MissedJobs)
	prometheus.MustRegister(FiringDuration)
}
