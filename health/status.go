package health

import "fmt"

// State classifies a health status.
type State string

const (
	StateHealthy   State = "healthy"
	StateDegraded  State = "degraded"
	StateUnhealthy State = "unhealthy"
)

// Status is the result of one health check.
type Status struct {
	State   State          `json:"state"`
	Message string         `json:"message,omitempty"`
	Details map[string]any `json:"details,omitempty"`
}

// Healthy builds a healthy status.
func Healthy(message string) Status {
	return Status{State: StateHealthy, Message: message}
}

// Degraded builds a degraded status: usable, but impaired.
func Degraded(message string, details map[string]any) Status {
	return Status{State: StateDegraded, Message: message, Details: details}
}

// Unhealthy builds an unhealthy status.
func Unhealthy(message string, details map[string]any) Status {
	return Status{State: StateUnhealthy, Message: message, Details: details}
}

// IsHealthy reports whether the status is healthy.
func (s Status) IsHealthy() bool { return s.State == StateHealthy }

// IsDegraded reports whether the status is degraded.
func (s Status) IsDegraded() bool { return s.State == StateDegraded }

// IsUnhealthy reports whether the status is unhealthy.
func (s Status) IsUnhealthy() bool { return s.State == StateUnhealthy }

// Combine aggregates multiple statuses into one. Any unhealthy status
// makes the result unhealthy; otherwise any degraded status makes it
// degraded.
func Combine(statuses ...Status) Status {
	if len(statuses) == 0 {
		return Healthy("no checks provided")
	}

	var unhealthy, degraded []string
	healthy := 0
	for _, st := range statuses {
		msg := st.Message
		if msg == "" {
			msg = "unnamed check"
		}
		switch st.State {
		case StateUnhealthy:
			unhealthy = append(unhealthy, msg)
		case StateDegraded:
			degraded = append(degraded, msg)
		default:
			healthy++
		}
	}

	if len(unhealthy) > 0 {
		return Unhealthy(fmt.Sprintf("%d check(s) failed", len(unhealthy)), map[string]any{
			"total":         len(statuses),
			"unhealthy":     len(unhealthy),
			"degraded":      len(degraded),
			"healthy":       healthy,
			"failed_checks": unhealthy,
		})
	}
	if len(degraded) > 0 {
		return Degraded(fmt.Sprintf("%d check(s) degraded", len(degraded)), map[string]any{
			"total":           len(statuses),
			"degraded":        len(degraded),
			"healthy":         healthy,
			"degraded_checks": degraded,
		})
	}
	return Healthy(fmt.Sprintf("all %d check(s) passed", len(statuses)))
}
