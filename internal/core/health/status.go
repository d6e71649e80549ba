package health

import "time"

// Overall states of the service.
const (
	StatusUp       = "UP"
	StatusDegraded = "DEGRADED"
	StatusDown     = "DOWN"
)

// Status captures the state of the service at a moment in time.
type Status struct {
	Service     string    `json:"service"`
	Version     string    `json:"version"`
	Environment string    `json:"environment"`
	Status      string    `json:"status"`
	StartedAt   time.Time `json:"startedAt"`
	Uptime      string    `json:"uptime"`
	UptimeSecs  int64     `json:"uptimeSeconds"`
	Checks      []Check   `json:"checks,omitempty"`
}

// Check is the outcome of probing one dependency.
type Check struct {
	Name      string `json:"name"`
	Critical  bool   `json:"critical"`
	Healthy   bool   `json:"healthy"`
	Error     string `json:"error,omitempty"`
	LatencyMs int64  `json:"latencyMs"`
}
