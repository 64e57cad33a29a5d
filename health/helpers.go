package health

import (
	"cmp"
	"slices"
	"time"
)

func newStatus(component, state, message string) Status {
	return Status{
		Component: component,
		Healthy:   state == StateHealthy,
		Status:    state,
		Message:   message,
		Timestamp: time.Now(),
	}
}

// NewHealthy creates a healthy status.
func NewHealthy(component, message string) Status {
	return newStatus(component, StateHealthy, message)
}

// NewDegraded creates a degraded status.
func NewDegraded(component, message string) Status {
	return newStatus(component, StateDegraded, message)
}

// NewUnhealthy creates an unhealthy status.
func NewUnhealthy(component, message string) Status {
	return newStatus(component, StateUnhealthy, message)
}

// New creates a status in the given state. Unknown states become unhealthy.
func New(component, state, message string) Status {
	switch state {
	case StateHealthy, StateDegraded:
	default:
		state = StateUnhealthy
	}
	return newStatus(component, state, message)
}

// Aggregate rolls sub-statuses up into one status carrying the worst state.
// Sub-statuses are kept sorted by component name.
func Aggregate(component string, subs []Status) Status {
	if len(subs) == 0 {
		return NewHealthy(component, "No extensions observed")
	}

	worst := StateHealthy
	for _, sub := range subs {
		worst = Worse(worst, sub.Status)
	}

	var status Status
	switch worst {
	case StateHealthy:
		status = NewHealthy(component, "All extensions are healthy")
	case StateDegraded:
		status = NewDegraded(component, "One or more extensions are degraded")
	default:
		status = NewUnhealthy(component, "One or more extensions are unhealthy")
	}

	status.SubStatuses = slices.Clone(subs)
	slices.SortFunc(status.SubStatuses, func(a, b Status) int { return cmp.Compare(a.Component, b.Component) })
	return status
}
