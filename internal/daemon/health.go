package daemon

import (
	"time"

	"git.home.luguber.info/inful/cifuzz/internal/version"
)

// HealthStatus represents the overall health of the daemon
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusDegraded  HealthStatus = "degraded"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
)

// HealthCheck represents a single health check
type HealthCheck struct {
	Name    string       `json:"name"`
	Status  HealthStatus `json:"status"`
	Message string       `json:"message,omitempty"`
}

// HealthResponse represents the complete health check response
type HealthResponse struct {
	Status    HealthStatus  `json:"status"`
	Timestamp time.Time     `json:"timestamp"`
	Version   string        `json:"version"`
	Checks    []HealthCheck `json:"checks"`
}

// Health evaluates the daemon state and the workers of the active session.
func (o *Orchestrator) Health() HealthResponse {
	snap := o.Status()
	checks := []HealthCheck{o.checkState(snap), checkWorkers(snap)}

	overall := HealthStatusHealthy
	for _, c := range checks {
		switch {
		case c.Status == HealthStatusUnhealthy:
			overall = HealthStatusUnhealthy
		case c.Status == HealthStatusDegraded && overall == HealthStatusHealthy:
			overall = HealthStatusDegraded
		}
	}
	return HealthResponse{Status: overall, Timestamp: time.Now(), Version: version.Version, Checks: checks}
}

func (o *Orchestrator) checkState(snap StatusSnapshot) HealthCheck {
	check := HealthCheck{Name: "daemon_state"}
	switch snap.State {
	case StateFuzzing:
		check.Status = HealthStatusHealthy
		check.Message = "Fuzzing session active"
	case StateIdle:
		check.Status = HealthStatusDegraded
		check.Message = "No active session"
		if snap.LastError != "" {
			check.Message = snap.LastError
		}
	default:
		check.Status = HealthStatusUnhealthy
		check.Message = "Daemon stopped"
	}
	return check
}

func checkWorkers(snap StatusSnapshot) HealthCheck {
	check := HealthCheck{Name: "workers", Status: HealthStatusHealthy}
	if snap.State != StateFuzzing {
		check.Message = "No workers expected"
		return check
	}
	switch {
	case snap.RunningWorkers == 0:
		check.Status = HealthStatusUnhealthy
		check.Message = "All workers exited"
	case snap.RunningWorkers < len(snap.Workers):
		check.Status = HealthStatusDegraded
		check.Message = "Some workers exited"
	default:
		check.Message = "All workers running"
	}
	return check
}
