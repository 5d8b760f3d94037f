// Package reeval decides whether parked work may still proceed under current participant and consent state.
package reeval

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nextmed-labs/trustledger/internal/consents"
	"github.com/nextmed-labs/trustledger/internal/participants"
	"github.com/nextmed-labs/trustledger/pkg/enums"
)

const (
	ReasonParticipantNotFound = "PARTICIPANT_NOT_FOUND"
	ReasonParticipantInactive = "PARTICIPANT_INACTIVE"
	ReasonTrustLevelLow       = "TRUST_LEVEL_LOW"
)

// Subject is the authorization-relevant part of a data request.
type Subject struct {
	RequesterID string
	ConsentID   string
	DataType    string
	Recipient   string
	Purpose     string
}

// Result is the predicate verdict. Reason is empty when Allowed.
type Result struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
}

// ParticipantReader exposes participant state snapshots.
type ParticipantReader interface {
	Snapshot(ctx context.Context, id string) (participants.Snapshot, bool, error)
}

// ConsentEvaluator checks a data flow against consent terms.
type ConsentEvaluator interface {
	Evaluate(ctx context.Context, input consents.EvaluateInput) (consents.Evaluation, error)
}

// Predicate reads collaborator snapshots and never mutates them.
type Predicate struct {
	participants ParticipantReader
	consents     ConsentEvaluator
	clock        func() time.Time
}

// NewPredicate wires the predicate to its readers.
func NewPredicate(p ParticipantReader, c ConsentEvaluator, clock func() time.Time) (*Predicate, error) {
	if p == nil {
		return nil, errors.New("participant reader is required")
	}
	if c == nil {
		return nil, errors.New("consent evaluator is required")
	}
	if clock == nil {
		clock = time.Now
	}
	return &Predicate{participants: p, consents: c, clock: clock}, nil
}

// Evaluate checks existence, then status, then trust, then consent at the current time.
// A non-nil error means state could not be read and no verdict was reached.
func (p *Predicate) Evaluate(ctx context.Context, s Subject) (Result, error) {
	return p.EvaluateAt(ctx, s, p.clock().UnixMilli())
}

// EvaluateAt is Evaluate with consent validity checked at atMs.
func (p *Predicate) EvaluateAt(ctx context.Context, s Subject, atMs int64) (Result, error) {
	snap, ok, err := p.participants.Snapshot(ctx, s.RequesterID)
	if err != nil {
		return Result{}, fmt.Errorf("reading participant %s: %w", s.RequesterID, err)
	}
	if !ok {
		return Result{Reason: ReasonParticipantNotFound}, nil
	}
	if snap.Status != enums.ParticipantStatusActive {
		return Result{Reason: ReasonParticipantInactive}, nil
	}
	if !snap.TrustLevel.Permits() {
		return Result{Reason: ReasonTrustLevelLow}, nil
	}
	eval, err := p.consents.Evaluate(ctx, consents.EvaluateInput{
		ConsentID:   s.ConsentID,
		DataType:    s.DataType,
		Recipient:   s.Recipient,
		Purpose:     s.Purpose,
		TimestampMs: &atMs,
	})
	if err != nil {
		return Result{}, fmt.Errorf("reading consent %s: %w", s.ConsentID, err)
	}
	if !eval.Allowed {
		return Result{Reason: eval.Reason}, nil
	}
	return Result{Allowed: true}, nil
}
