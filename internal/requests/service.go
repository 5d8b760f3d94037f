// Package requests evaluates incoming data requests and hands approved ones to the outbox.
package requests

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nextmed-labs/trustledger/internal/audit"
	"github.com/nextmed-labs/trustledger/internal/outbox"
	"github.com/nextmed-labs/trustledger/internal/reeval"
	"github.com/nextmed-labs/trustledger/pkg/enums"
	pkgerrors "github.com/nextmed-labs/trustledger/pkg/errors"
	"github.com/nextmed-labs/trustledger/pkg/logger"
)

const (
	StatusApproved = "approved"
	StatusRejected = "rejected"

	ReasonRequesterNotFound = "REQUESTER_NOT_FOUND"
)

// Evaluator is the authorization predicate used at submit time.
type Evaluator interface {
	EvaluateAt(ctx context.Context, s reeval.Subject, atMs int64) (reeval.Result, error)
}

// Enqueuer schedules the confirmation saga for an approved request.
type Enqueuer interface {
	Enqueue(ctx context.Context, payload outbox.Payload, opts outbox.EnqueueOptions) (outbox.Job, error)
}

// SubmitInput is a data request. TimestampMs, when set, is the instant consent is checked at.
type SubmitInput struct {
	RequesterID    string
	ConsentID      string
	DataType       string
	Recipient      string
	Purpose        string
	TimestampMs    *int64
	SimulateAnchor enums.Simulation
	SimulateAudit  enums.Simulation
}

// Request is the stored outcome of a submission.
type Request struct {
	TrackingID  string `json:"trackingId"`
	RequesterID string `json:"requesterId"`
	ConsentID   string `json:"consentId"`
	DataType    string `json:"dataType"`
	Recipient   string `json:"recipient"`
	Purpose     string `json:"purpose"`
	TimestampMs int64  `json:"timestampMs"`
	Status      string `json:"status"`
	Reason      string `json:"reason,omitempty"`
	JobID       string `json:"jobId,omitempty"`
	CreatedAtMs int64  `json:"createdAtMs"`
}

// Issue is one invalid submit field.
type Issue struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ServiceParams wires the request service. Clock and NewID are optional.
type ServiceParams struct {
	Evaluator Evaluator
	Enqueuer  Enqueuer
	Recorder  audit.Recorder
	Logger    *logger.Logger
	Clock     func() time.Time
	NewID     func() string
}

type Service struct {
	evaluator Evaluator
	enqueuer  Enqueuer
	recorder  audit.Recorder
	logg      *logger.Logger
	now       func() time.Time
	newID     func() string

	mu   sync.RWMutex
	byID map[string]Request
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Evaluator == nil {
		return nil, errors.New("evaluator is required")
	}
	if params.Enqueuer == nil {
		return nil, errors.New("outbox enqueuer is required")
	}
	if params.Recorder == nil {
		return nil, errors.New("audit recorder is required")
	}
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	svc := &Service{
		evaluator: params.Evaluator,
		enqueuer:  params.Enqueuer,
		recorder:  params.Recorder,
		logg:      params.Logger,
		now:       params.Clock,
		newID:     params.NewID,
		byID:      map[string]Request{},
	}
	if svc.now == nil {
		svc.now = time.Now
	}
	if svc.newID == nil {
		svc.newID = func() string { return "req-" + uuid.NewString() }
	}
	return svc, nil
}

// Submit evaluates the requester and the consent, records request.submit, and enqueues the
// confirmation saga when approved.
func (s *Service) Submit(ctx context.Context, in SubmitInput, actor enums.Role) (Request, error) {
	in = trimInput(in)
	if issues := validateSubmit(in); len(issues) > 0 {
		return Request{}, pkgerrors.New(pkgerrors.CodeValidation, "invalid request").
			WithDetails(map[string]any{"issues": issues})
	}
	if !actor.IsValid() {
		actor = enums.RoleExternal
	}

	nowMs := s.now().UnixMilli()
	atMs := nowMs
	if in.TimestampMs != nil {
		atMs = *in.TimestampMs
	}
	subject := reeval.Subject{
		RequesterID: in.RequesterID,
		ConsentID:   in.ConsentID,
		DataType:    in.DataType,
		Recipient:   in.Recipient,
		Purpose:     in.Purpose,
	}
	verdict, err := s.evaluator.EvaluateAt(ctx, subject, atMs)
	if err != nil {
		return Request{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "authorization state unavailable")
	}

	req := Request{
		TrackingID:  s.newID(),
		RequesterID: in.RequesterID,
		ConsentID:   in.ConsentID,
		DataType:    in.DataType,
		Recipient:   in.Recipient,
		Purpose:     in.Purpose,
		TimestampMs: atMs,
		Status:      StatusApproved,
		CreatedAtMs: nowMs,
	}
	result := enums.AuditResultOK
	if !verdict.Allowed {
		req.Status = StatusRejected
		req.Reason = rejectionReason(verdict.Reason)
		result = enums.AuditResultError
	}

	ctx = s.logg.WithFields(ctx, map[string]any{"tracking_id": req.TrackingID, "status": req.Status})
	detail := map[string]any{}
	if req.Reason != "" {
		detail["reason"] = req.Reason
	}
	if _, err := s.recorder.RecordEvent(ctx, audit.RecordInput{
		ActorRole:  actor,
		Action:     audit.ActionRequestSubmit,
		TargetType: enums.AuditTargetRequest,
		TargetID:   req.TrackingID,
		Result:     result,
		Detail:     detail,
	}); err != nil {
		return Request{}, err
	}

	if req.Status == StatusApproved {
		job, err := s.enqueueOutboxForRequest(ctx, req, in)
		if err != nil {
			s.store(req)
			s.logg.Error(ctx, "requests.enqueue_failed", err)
			return req, err
		}
		req.JobID = job.ID
	}
	s.store(req)
	s.logg.Info(ctx, "requests.evaluated")
	return req, nil
}

func (s *Service) enqueueOutboxForRequest(ctx context.Context, req Request, in SubmitInput) (outbox.Job, error) {
	return s.enqueuer.Enqueue(ctx, outbox.Payload{
		TrackingID:  req.TrackingID,
		RequesterID: req.RequesterID,
		ConsentID:   req.ConsentID,
		DataType:    req.DataType,
		Recipient:   req.Recipient,
		Purpose:     req.Purpose,
	}, outbox.EnqueueOptions{SimulateAnchor: in.SimulateAnchor, SimulateAudit: in.SimulateAudit})
}

// Get returns a stored request or NOT_FOUND.
func (s *Service) Get(_ context.Context, trackingID string) (Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	req, ok := s.byID[trackingID]
	if !ok {
		return Request{}, pkgerrors.New(pkgerrors.CodeNotFound, fmt.Sprintf("request %s not found", trackingID))
	}
	return req, nil
}

// List returns stored requests, oldest first.
func (s *Service) List(_ context.Context) []Request {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Request, 0, len(s.byID))
	for _, req := range s.byID {
		out = append(out, req)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAtMs != out[j].CreatedAtMs {
			return out[i].CreatedAtMs < out[j].CreatedAtMs
		}
		return out[i].TrackingID < out[j].TrackingID
	})
	return out
}

func (s *Service) store(req Request) {
	s.mu.Lock()
	s.byID[req.TrackingID] = req
	s.mu.Unlock()
}

func rejectionReason(reason string) string {
	switch reason {
	case reeval.ReasonParticipantNotFound:
		return ReasonRequesterNotFound
	case "":
		return "CONSENT_DENIED"
	}
	return reason
}

func trimInput(in SubmitInput) SubmitInput {
	in.RequesterID = strings.TrimSpace(in.RequesterID)
	in.ConsentID = strings.TrimSpace(in.ConsentID)
	in.DataType = strings.TrimSpace(in.DataType)
	in.Recipient = strings.TrimSpace(in.Recipient)
	in.Purpose = strings.TrimSpace(in.Purpose)
	return in
}

func validateSubmit(in SubmitInput) []Issue {
	var issues []Issue
	if len(in.RequesterID) < 3 {
		issues = append(issues, Issue{Field: "requesterId", Message: "must be at least 3 characters"})
	}
	if len(in.ConsentID) < 3 {
		issues = append(issues, Issue{Field: "consentId", Message: "must be at least 3 characters"})
	}
	for _, f := range []struct{ name, value string }{
		{"dataType", in.DataType},
		{"recipient", in.Recipient},
		{"purpose", in.Purpose},
	} {
		if f.value == "" {
			issues = append(issues, Issue{Field: f.name, Message: "is required"})
		}
	}
	return issues
}
