package obs

import "github.com/prometheus/client_golang/prometheus"

// AuthzDecisions exposes the decision counter to the package tests.
var AuthzDecisions *prometheus.CounterVec = authzDecisions
