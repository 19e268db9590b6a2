package telemetry

import "github.com/prometheus/client_golang/prometheus"

// AuthTokensIssuedTotal counts successful token issuances by grant type.
var AuthTokensIssuedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "darktower",
		Subsystem: "ac",
		Name:      "tokens_issued_total",
		Help:      "Total number of tokens issued, by grant type.",
	},
	[]string{"grant_type"},
)

// AuthFailuresTotal counts authentication failures by reason class.
var AuthFailuresTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "darktower",
		Subsystem: "ac",
		Name:      "auth_failures_total",
		Help:      "Total number of authentication failures, by reason.",
	},
	[]string{"reason"},
)

// KeyRotationsTotal counts signing key rotations.
var KeyRotationsTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "darktower",
		Subsystem: "ac",
		Name:      "key_rotations_total",
		Help:      "Total number of signing key rotations performed.",
	},
)

// ACCollectors returns all AC-specific collectors for registration.
func ACCollectors() []prometheus.Collector {
	return []prometheus.Collector{
		AuthTokensIssuedTotal,
		AuthFailuresTotal,
		KeyRotationsTotal,
	}
}
