package enums

import "fmt"

// JobStatus is the saga runner state of an outbox job.
type JobStatus string

const (
	JobStatusPending      JobStatus = "pending"
	JobStatusRetrying     JobStatus = "retrying"
	JobStatusProcessing   JobStatus = "processing"
	JobStatusSucceeded    JobStatus = "succeeded"
	JobStatusFailed       JobStatus = "failed"
	JobStatusCompensating JobStatus = "compensating"
	JobStatusCompensated  JobStatus = "compensated"
	JobStatusOnHold       JobStatus = "on_hold"
)

var validJobStatuses = []JobStatus{
	JobStatusPending,
	JobStatusRetrying,
	JobStatusProcessing,
	JobStatusSucceeded,
	JobStatusFailed,
	JobStatusCompensating,
	JobStatusCompensated,
	JobStatusOnHold,
}

// AllJobStatuses returns every status in declaration order.
func AllJobStatuses() []JobStatus {
	out := make([]JobStatus, len(validJobStatuses))
	copy(out, validJobStatuses)
	return out
}

// IsValid reports whether the value is a known JobStatus.
func (s JobStatus) IsValid() bool {
	for _, candidate := range validJobStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no automatic transition leaves this status.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusSucceeded || s == JobStatusFailed || s == JobStatusCompensated
}

// ParseJobStatus converts raw input into a JobStatus.
func ParseJobStatus(value string) (JobStatus, error) {
	for _, candidate := range validJobStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid job status %q", value)
}

// SagaStep names one step of the confirmation saga.
type SagaStep string

const (
	SagaStepAnchor       SagaStep = "anchor"
	SagaStepAuditConfirm SagaStep = "auditConfirm"
)

// DefaultSagaSteps is the fixed step order for every outbox job.
func DefaultSagaSteps() []SagaStep {
	return []SagaStep{SagaStepAnchor, SagaStepAuditConfirm}
}

// IsValid reports whether the value is a known SagaStep.
func (s SagaStep) IsValid() bool {
	return s == SagaStepAnchor || s == SagaStepAuditConfirm
}

// Simulation forces a simulated step outcome; empty means no override.
type Simulation string

const (
	SimulationNone Simulation = ""
	SimulationOK   Simulation = "ok"
	SimulationFail Simulation = "fail"
)

// ParseSimulation accepts "", "ok" and "fail".
func ParseSimulation(value string) (Simulation, error) {
	switch Simulation(value) {
	case SimulationNone, SimulationOK, SimulationFail:
		return Simulation(value), nil
	}
	return "", fmt.Errorf("invalid simulation %q", value)
}
