// Package outbox persists confirmation jobs and drives them through the anchor/auditConfirm saga.
package outbox

import (
	"strings"

	"github.com/nextmed-labs/trustledger/internal/reeval"
	"github.com/nextmed-labs/trustledger/pkg/enums"
	pkgerrors "github.com/nextmed-labs/trustledger/pkg/errors"
)

// Payload is the immutable request context a job was created for.
type Payload struct {
	TrackingID  string `json:"trackingId"`
	RequesterID string `json:"requesterId"`
	ConsentID   string `json:"consentId"`
	DataType    string `json:"dataType"`
	Recipient   string `json:"recipient"`
	Purpose     string `json:"purpose"`
}

// Validate rejects payloads with any blank field.
func (p Payload) Validate() error {
	var missing []string
	for _, f := range []struct{ name, value string }{
		{"trackingId", p.TrackingID},
		{"requesterId", p.RequesterID},
		{"consentId", p.ConsentID},
		{"dataType", p.DataType},
		{"recipient", p.Recipient},
		{"purpose", p.Purpose},
	} {
		if strings.TrimSpace(f.value) == "" {
			missing = append(missing, f.name)
		}
	}
	if len(missing) > 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "payload fields are required").
			WithDetails(map[string]any{"missing": missing})
	}
	return nil
}

// Subject projects the payload onto the re-evaluation input.
func (p Payload) Subject() reeval.Subject {
	return reeval.Subject{
		RequesterID: p.RequesterID,
		ConsentID:   p.ConsentID,
		DataType:    p.DataType,
		Recipient:   p.Recipient,
		Purpose:     p.Purpose,
	}
}

// StepError is one entry of a job's append-only failure log.
type StepError struct {
	Step        enums.SagaStep `json:"step"`
	Message     string         `json:"message"`
	TimestampMs int64          `json:"timestampMs"`
}

// Job is the unit of asynchronous confirmation work.
type Job struct {
	ID              string           `json:"id"`
	Payload         Payload          `json:"payload"`
	Status          enums.JobStatus  `json:"status"`
	Steps           []enums.SagaStep `json:"steps"`
	StepIndex       int              `json:"stepIndex"`
	Attempts        int              `json:"attempts"`
	MaxAttempts     int              `json:"maxAttempts"`
	NextAttemptAtMs int64            `json:"nextAttemptAtMs"`
	BackoffBaseMs   int64            `json:"backoffBaseMs"`
	SimulateAnchor  enums.Simulation `json:"simulateAnchor,omitempty"`
	SimulateAudit   enums.Simulation `json:"simulateAudit,omitempty"`
	AnchorReceipt   *string          `json:"anchorReceipt,omitempty"`
	Errors          []StepError      `json:"errors"`
	CreatedAtMs     int64            `json:"createdAtMs"`
	UpdatedAtMs     int64            `json:"updatedAtMs"`
	// Revision counts stored writes. Save only succeeds against the revision it was read at.
	Revision        int64            `json:"revision"`
}

// CurrentStep returns the step under the cursor, or false once every step is done.
func (j Job) CurrentStep() (enums.SagaStep, bool) {
	if j.StepIndex < 0 || j.StepIndex >= len(j.Steps) {
		return "", false
	}
	return j.Steps[j.StepIndex], true
}

// Due reports whether a tick at nowMs should pick the job up.
func (j Job) Due(nowMs int64) bool {
	return (j.Status == enums.JobStatusPending || j.Status == enums.JobStatusRetrying) && j.NextAttemptAtMs <= nowMs
}

// EnqueueOptions force simulated step outcomes.
type EnqueueOptions struct {
	SimulateAnchor enums.Simulation
	SimulateAudit  enums.Simulation
}

// Stats summarizes the job table for the ops dashboard.
type Stats struct {
	Total    int            `json:"total"`
	ByStatus map[string]int `json:"byStatus"`
}

func cloneJob(j Job) Job {
	out := j
	out.Steps = append([]enums.SagaStep(nil), j.Steps...)
	out.Errors = make([]StepError, len(j.Errors))
	copy(out.Errors, j.Errors)
	if j.AnchorReceipt != nil {
		receipt := *j.AnchorReceipt
		out.AnchorReceipt = &receipt
	}
	return out
}
