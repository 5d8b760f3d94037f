// Package audit is the append-only, hash-chained audit ledger.
package audit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nextmed-labs/trustledger/pkg/enums"
	pkgerrors "github.com/nextmed-labs/trustledger/pkg/errors"
	"github.com/nextmed-labs/trustledger/pkg/logger"
)

// appendAttempts bounds retries when another process claims the same seq first.
const appendAttempts = 3

var errSeqTaken = errors.New("audit seq already taken")

// Recorder is the narrow write surface other packages depend on.
type Recorder interface {
	RecordEvent(ctx context.Context, input RecordInput) (Event, error)
}

// Reader is the read surface used by exports and the ops dashboard.
type Reader interface {
	Search(ctx context.Context, f Filter) ([]Event, error)
	Get(ctx context.Context, seq int64) (*Event, error)
}

// ServiceParams wires the ledger.
type ServiceParams struct {
	Repository Repository
	Logger     *logger.Logger
	Clock      func() time.Time
}

// Service owns seq assignment and hash chaining. All appends go through mu.
type Service struct {
	mu   sync.Mutex
	repo Repository
	logg *logger.Logger
	now  func() time.Time
}

// NewService validates the dependencies and returns the ledger.
func NewService(params ServiceParams) (*Service, error) {
	if params.Repository == nil {
		return nil, errors.New("audit repository is required")
	}
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	clock := params.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Service{repo: params.Repository, logg: params.Logger, now: clock}, nil
}

// RecordEvent appends a new event at the head of the chain.
func (s *Service) RecordEvent(ctx context.Context, input RecordInput) (Event, error) {
	if err := validateInput(input); err != nil {
		return Event{}, err
	}
	detail, err := normalizeDetail(input.Detail)
	if err != nil {
		return Event{}, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "serializing audit detail")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ts := s.now().UnixMilli()
	if input.TimestampMs != nil {
		ts = *input.TimestampMs
	}

	for attempt := 1; ; attempt++ {
		last, err := s.repo.Last(ctx)
		if err != nil {
			return Event{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reading audit head")
		}

		event := Event{
			Seq:         1,
			TimestampMs: ts,
			ActorRole:   input.ActorRole,
			Action:      input.Action,
			TargetType:  input.TargetType,
			TargetID:    input.TargetID,
			Result:      input.Result,
			Detail:      detail,
			PrevHash:    GenesisHash,
		}
		if last != nil {
			event.Seq = last.Seq + 1
			event.PrevHash = last.Hash
		}

		hash, err := ComputeHash(event)
		if err != nil {
			return Event{}, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "hashing audit event")
		}
		event.Hash = hash

		err = s.repo.Append(ctx, event)
		if err == nil {
			return event, nil
		}
		if errors.Is(err, errSeqTaken) && attempt < appendAttempts {
			s.logg.Warn(s.logg.WithField(ctx, "seq", event.Seq), "audit.append.seq_conflict")
			continue
		}
		return Event{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "appending audit event")
	}
}

// Search returns matching events in seq order.
func (s *Service) Search(ctx context.Context, f Filter) ([]Event, error) {
	events, err := s.repo.List(ctx, f)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "searching audit events")
	}
	return events, nil
}

// Get returns the event with the given seq or NOT_FOUND.
func (s *Service) Get(ctx context.Context, seq int64) (*Event, error) {
	e, err := s.repo.Get(ctx, seq)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "loading audit event")
	}
	if e == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, fmt.Sprintf("audit event %d not found", seq))
	}
	return e, nil
}

// Recent returns up to n newest events in seq order.
func (s *Service) Recent(ctx context.Context, n int) ([]Event, error) {
	events, err := s.repo.Tail(ctx, n)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "loading recent audit events")
	}
	return events, nil
}

// Stats aggregates counts by action and result.
func (s *Service) Stats(ctx context.Context) (Stats, error) {
	events, err := s.Search(ctx, Filter{})
	if err != nil {
		return Stats{}, err
	}
	stats := Stats{
		Total:    len(events),
		ByAction: map[string]int{},
		ByResult: map[string]int{},
	}
	for _, e := range events {
		stats.ByAction[e.Action]++
		stats.ByResult[string(e.Result)]++
	}
	if n := len(events); n > 0 {
		stats.HeadSeq = events[n-1].Seq
		stats.HeadHash = events[n-1].Hash
	}
	return stats, nil
}

// VerifyChain walks every event and reports all discrepancies. When any are found, an
// integrity alert attributed to actor is appended after the walk; that alert is therefore
// outside the scan that produced it and is covered by the next verification like any other event.
func (s *Service) VerifyChain(ctx context.Context, actor enums.Role) (VerifyResult, error) {
	events, err := s.repo.List(ctx, Filter{})
	if err != nil {
		return VerifyResult{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "loading audit chain")
	}

	result := VerifyResult{OK: true, Issues: CheckChain(events)}
	if len(result.Issues) == 0 {
		return result, nil
	}
	result.OK = false

	fields := map[string]any{"issue_count": len(result.Issues), "events": len(events)}
	s.logg.Warn(s.logg.WithFields(ctx, fields), "audit.chain.verification_failed")

	if !actor.IsValid() {
		actor = enums.RoleExternal
	}
	if _, err := s.RecordEvent(ctx, RecordInput{
		ActorRole:  actor,
		Action:     ActionIntegrityAlert,
		TargetType: enums.AuditTargetAudit,
		TargetID:   "chain",
		Result:     enums.AuditResultError,
		Detail:     map[string]any{"issues": result.Issues},
	}); err != nil {
		return result, err
	}
	return result, nil
}

// CheckChain checks seq continuity, prevHash linkage and stored hashes for a run of events
// that starts at seq 1. It never stops at the first failure.
func CheckChain(events []Event) []Issue {
	issues := []Issue{}
	expectedPrev := GenesisHash
	expectedSeq := int64(1)
	for _, e := range events {
		if e.Seq != expectedSeq {
			issues = append(issues, Issue{Seq: e.Seq, Reason: IssueSeqMismatch})
		}
		if e.PrevHash != expectedPrev {
			issues = append(issues, Issue{Seq: e.Seq, Reason: IssuePrevHashMismatch})
		}
		if recomputed, err := ComputeHash(e); err != nil || recomputed != e.Hash {
			issues = append(issues, Issue{Seq: e.Seq, Reason: IssueHashMismatch})
		}
		expectedPrev = e.Hash
		expectedSeq++
	}
	return issues
}

func validateInput(input RecordInput) error {
	var problems []string
	if !input.ActorRole.IsValid() {
		problems = append(problems, fmt.Sprintf("actorRole %q is not a known role", input.ActorRole))
	}
	if strings.TrimSpace(input.Action) == "" {
		problems = append(problems, "action is required")
	}
	if !input.TargetType.IsValid() {
		problems = append(problems, fmt.Sprintf("targetType %q is not supported", input.TargetType))
	}
	if strings.TrimSpace(input.TargetID) == "" {
		problems = append(problems, "targetId is required")
	}
	if !input.Result.IsValid() {
		problems = append(problems, fmt.Sprintf("result %q is not supported", input.Result))
	}
	if len(problems) > 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "invalid audit event").WithDetails(problems)
	}
	return nil
}
