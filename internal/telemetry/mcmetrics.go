package telemetry

import "github.com/prometheus/client_golang/prometheus"

// MailboxDepth tracks current mailbox depth by actor type.
var MailboxDepth = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: "darktower",
		Subsystem: "mc",
		Name:      "mailbox_depth",
		Help:      "Current mailbox depth, by actor type.",
	},
	[]string{"actor_type"},
)

// MessagesDroppedTotal counts messages dropped due to backpressure, by actor type.
var MessagesDroppedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "darktower",
		Subsystem: "mc",
		Name:      "messages_dropped_total",
		Help:      "Total number of mailbox messages dropped, by actor type.",
	},
	[]string{"actor_type"},
)

// ActorPanicsTotal counts actor panics, by actor type.
var ActorPanicsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "darktower",
		Subsystem: "mc",
		Name:      "actor_panics_total",
		Help:      "Total number of actor panics, by actor type.",
	},
	[]string{"actor_type"},
)

// FencedOutTotal counts fencing rejections, by reason.
var FencedOutTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "darktower",
		Subsystem: "mc",
		Name:      "fenced_out_total",
		Help:      "Total number of times this MC was fenced out of a meeting, by reason.",
	},
	[]string{"reason"},
)

// RedisLatency records Redis operation latency, by operation.
var RedisLatency = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "darktower",
		Subsystem: "mc",
		Name:      "redis_latency_seconds",
		Help:      "Redis operation latency in seconds, by operation.",
		Buckets:   prometheus.DefBuckets,
	},
	[]string{"operation"},
)

// BindingVerificationsTotal counts binding token verification outcomes.
var BindingVerificationsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "darktower",
		Subsystem: "mc",
		Name:      "binding_verifications_total",
		Help:      "Total number of session binding verifications, by outcome.",
	},
	[]string{"outcome"},
)

// MCCollectors returns all MC-specific collectors for registration.
func MCCollectors() []prometheus.Collector {
	return []prometheus.Collector{
		MailboxDepth,
		MessagesDroppedTotal,
		ActorPanicsTotal,
		FencedOutTotal,
		RedisLatency,
		BindingVerificationsTotal,
	}
}
