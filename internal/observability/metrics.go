package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	streakUpdatesCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gamification",
		Subsystem: "streaks",
		Name:      "updates_total",
		Help:      "Number of recorded activities grouped by streak outcome.",
	}, []string{"outcome"})

	unlocksCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gamification",
		Subsystem: "achievements",
		Name:      "unlocked_total",
		Help:      "Number of achievements unlocked, labeled by category.",
	}, []string{"category"})

	unlockFailuresCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "gamification",
		Subsystem: "achievements",
		Name:      "unlock_failures_total",
		Help:      "Number of unlock writes that failed and were left out of an evaluation result.",
	})

	invalidRequirementCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "gamification",
		Subsystem: "achievements",
		Name:      "invalid_requirement_total",
		Help:      "Catalog entries skipped because their requirement type has no evaluator.",
	}, []string{"requirement_type"})

	evaluationDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "gamification",
		Subsystem: "achievements",
		Name:      "evaluation_duration_seconds",
		Help:      "Time spent evaluating the catalog for one user.",
		Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
	})

	activityLoggedGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "gamification",
		Subsystem: "activities",
		Name:      "last_activity_logged_timestamp_seconds",
		Help:      "Unix timestamp of the most recent activity appended to the log.",
	})
)

func init() {
	prometheus.MustRegister(streakUpdatesCounter, unlocksCounter, unlockFailuresCounter, invalidRequirementCounter, evaluationDuration, activityLoggedGauge)
}

// RecordStreakUpdate counts one recorded activity by outcome.
func RecordStreakUpdate(outcome string) {
	streakUpdatesCounter.WithLabelValues(outcome).Inc()
}

// RecordUnlock counts an unlocked achievement.
func RecordUnlock(category string) {
	unlocksCounter.WithLabelValues(category).Inc()
}

func RecordUnlockFailure() {
	unlockFailuresCounter.Inc()
}

// RecordInvalidRequirement counts a catalog entry with an unknown requirement type.
func RecordInvalidRequirement(requirementType string) {
	invalidRequirementCounter.WithLabelValues(requirementType).Inc()
}

func ObserveEvaluation(d time.Duration) {
	evaluationDuration.Observe(d.Seconds())
}

// RecordActivityLogged updates the activity log watermark gauge.
func RecordActivityLogged(ts time.Time) {
	if ts.IsZero() {
		return
	}
	activityLoggedGauge.Set(float64(ts.Unix()))
}

// StreakUpdates exposes the outcome counter for assertions.
func StreakUpdates(outcome string) prometheus.Counter {
	return streakUpdatesCounter.WithLabelValues(outcome)
}

// InvalidRequirements exposes the invalid requirement counter for assertions.
func InvalidRequirements(requirementType string) prometheus.Counter {
	return invalidRequirementCounter.WithLabelValues(requirementType)
}
