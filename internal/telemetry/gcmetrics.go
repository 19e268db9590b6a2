package telemetry

import "github.com/prometheus/client_golang/prometheus"

// PlacementAttemptsTotal counts placement attempts by outcome status.
var PlacementAttemptsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "darktower",
		Subsystem: "gc",
		Name:      "placement_attempts_total",
		Help:      "Total number of meeting placement attempts, by status.",
	},
	[]string{"status"},
)

// PlacementRejectionsTotal counts placement rejections by reason.
var PlacementRejectionsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "darktower",
		Subsystem: "gc",
		Name:      "placement_rejections_total",
		Help:      "Total number of placement rejections, by reason.",
	},
	[]string{"reason"},
)

// MCHeartbeatsTotal counts heartbeats received by kind (fast/comprehensive).
var MCHeartbeatsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "darktower",
		Subsystem: "gc",
		Name:      "mc_heartbeats_total",
		Help:      "Total number of MC heartbeats ingested, by kind.",
	},
	[]string{"kind"},
)

// MCStaleTransitionsTotal counts staleness-sweeper transitions to unhealthy.
var MCStaleTransitionsTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "darktower",
		Subsystem: "gc",
		Name:      "mc_stale_transitions_total",
		Help:      "Total number of MC registrations marked unhealthy by the staleness sweeper.",
	},
)

// AssignmentsCleanedTotal counts assignments ended/purged by the cleanup task.
var AssignmentsCleanedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "darktower",
		Subsystem: "gc",
		Name:      "assignments_cleaned_total",
		Help:      "Total number of assignment rows ended or purged, by action.",
	},
	[]string{"action"},
)

// GCCollectors returns all GC-specific collectors for registration.
func GCCollectors() []prometheus.Collector {
	return []prometheus.Collector{
		PlacementAttemptsTotal,
		PlacementRejectionsTotal,
		MCHeartbeatsTotal,
		MCStaleTransitionsTotal,
		AssignmentsCleanedTotal,
	}
}
