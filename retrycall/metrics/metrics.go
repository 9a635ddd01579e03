package metrics

import (
	"github.com/agglayer/callkit/log"
	"github.com/agglayer/callkit/prometheus"
	"github.com/agglayer/callkit/retrycall"
	prometheusClient "github.com/prometheus/client_golang/prometheus"
	"google.golang.org/grpc/status"
)

const (
	prefix             = "retrycall_"
	attemptsStarted    = prefix + "attempts_started_total"
	attemptsFinished   = prefix + "attempts_finished_total"
	retriesScheduled   = prefix + "retries_scheduled_total"
	callsCommitted     = prefix + "calls_committed_total"
	throttlingActive   = prefix + "throttling_active"
	maxAttemptsLimited = prefix + "max_attempts_limited_total"
)

// Register the metrics for the retrycall package
func Register() {
	counters := []prometheusClient.CounterOpts{
		{
			Name: attemptsStarted,
			Help: "[RETRYCALL] number of call attempts handed to the transport",
		},
		{
			Name: attemptsFinished,
			Help: "[RETRYCALL] number of call attempts that reached a terminal outcome",
		},
		{
			Name: retriesScheduled,
			Help: "[RETRYCALL] number of failed attempts that were retried or hedged again",
		},
		{
			Name: maxAttemptsLimited,
			Help: "[RETRYCALL] number of calls whose configured attempt limit was clamped",
		},
	}
	prometheus.RegisterCounters(counters...)
	prometheus.RegisterCounterVecs(prometheus.CounterVecOpts{
		CounterOpts: prometheusClient.CounterOpts{
			Name: callsCommitted,
			Help: "[RETRYCALL] number of committed calls, by commit reason",
		},
		Labels: []string{"reason"},
	})
	prometheus.RegisterGauges(prometheusClient.GaugeOpts{
		Name: throttlingActive,
		Help: "[RETRYCALL] whether channel-wide retry throttling is active (0/1)",
	})
	log.Info("Registered prometheus retrycall metrics")
}

// Events is a retrycall.Events sink that feeds the registered metrics.
type Events struct{}

var _ retrycall.Events = Events{}

// AttemptStarted increments the counter for started attempts
func (Events) AttemptStarted(string, int) {
	prometheus.CounterInc(attemptsStarted)
}

// AttemptFinished increments the counter for finished attempts
func (Events) AttemptFinished(string, int, *status.Status) {
	prometheus.CounterInc(attemptsFinished)
}

// RetryEvaluated increments the retry counter when another attempt follows
func (Events) RetryEvaluated(_ string, _ int, willRetry bool) {
	if willRetry {
		prometheus.CounterInc(retriesScheduled)
	}
}

// CallCommitted increments the commit counter for the given reason
func (Events) CallCommitted(_ string, reason retrycall.CommitReason) {
	prometheus.CounterVecInc(callsCommitted, reason.String())
}

// ThrottlingStateChanged sets the throttling gauge
func (Events) ThrottlingStateChanged(active bool) {
	if active {
		prometheus.GaugeSet(throttlingActive, 1)
	} else {
		prometheus.GaugeSet(throttlingActive, 0)
	}
}

// MaxAttemptsClamped increments the clamp counter
func (Events) MaxAttemptsClamped(string, int, int) {
	prometheus.CounterInc(maxAttemptsLimited)
}
