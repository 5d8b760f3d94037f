package outbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nextmed-labs/trustledger/internal/audit"
	"github.com/nextmed-labs/trustledger/pkg/enums"
)

// Simulated failure messages recorded on the job error log.
const (
	ErrMsgAnchorSimulated = "ANCHOR_SIMULATED_FAILURE"
	ErrMsgAuditSimulated  = "AUDIT_SIMULATED_FAILURE"
	ErrMsgAnchorFailed    = "ANCHOR_FAILED"
	ErrMsgAuditFailed     = "AUDIT_FAILED"
	ErrMsgStepTimeout     = "STEP_TIMEOUT"
)

// Anchorer publishes an external proof for a job and returns its receipt.
type Anchorer interface {
	Anchor(ctx context.Context, job Job) (string, error)
}

// Confirmer commits the anchored receipt to the audit trail.
type Confirmer interface {
	Confirm(ctx context.Context, job Job) error
}

// Compensator reverses a successful anchor after a later step failed.
type Compensator interface {
	Compensate(ctx context.Context, job Job) error
}

// SimulatedAnchorer returns a synthetic receipt unless the job forces a failure.
type SimulatedAnchorer struct {
	Clock func() time.Time
}

func (a SimulatedAnchorer) Anchor(_ context.Context, job Job) (string, error) {
	if job.SimulateAnchor == enums.SimulationFail {
		return "", errors.New(ErrMsgAnchorSimulated)
	}
	clock := a.Clock
	if clock == nil {
		clock = time.Now
	}
	return fmt.Sprintf("anchr-%s-%d", job.Payload.TrackingID, clock().UnixMilli()), nil
}

// LedgerSteps confirms and compensates by writing to the audit ledger.
type LedgerSteps struct {
	Recorder audit.Recorder
}

// Confirm records anchor.confirm unless the job forces a failure.
func (l LedgerSteps) Confirm(ctx context.Context, job Job) error {
	if job.SimulateAudit == enums.SimulationFail {
		return errors.New(ErrMsgAuditSimulated)
	}
	_, err := l.Recorder.RecordEvent(ctx, anchorEvent(audit.ActionAnchorConfirm, job))
	return err
}

// Compensate records anchor.rollback for the receipt being discarded.
func (l LedgerSteps) Compensate(ctx context.Context, job Job) error {
	_, err := l.Recorder.RecordEvent(ctx, anchorEvent(audit.ActionAnchorRollback, job))
	return err
}

func anchorEvent(action string, job Job) audit.RecordInput {
	var receipt any
	if job.AnchorReceipt != nil {
		receipt = *job.AnchorReceipt
	}
	return audit.RecordInput{
		ActorRole:  enums.RoleSystem,
		Action:     action,
		TargetType: enums.AuditTargetRequest,
		TargetID:   job.Payload.TrackingID,
		Result:     enums.AuditResultOK,
		Detail:     map[string]any{"receipt": receipt},
	}
}
