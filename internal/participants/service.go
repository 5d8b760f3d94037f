// Package participants keeps the registry of data-sharing participants and their trust state.
package participants

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

// Transition is one entry of a participant's history.
type Transition struct {
	Action      enums.ParticipantAction `json:"action"`
	FromStatus  enums.ParticipantStatus `json:"fromStatus,omitempty"`
	ToStatus    enums.ParticipantStatus `json:"toStatus,omitempty"`
	FromTrust   enums.TrustLevel        `json:"fromTrust,omitempty"`
	ToTrust     enums.TrustLevel        `json:"toTrust,omitempty"`
	TimestampMs int64                   `json:"timestampMs"`
	ActorRole   enums.Role              `json:"actorRole"`
	Reason      string                  `json:"reason,omitempty"`
}

// Participant is a registered requester or provider.
type Participant struct {
	ID          string                  `json:"id"`
	Name        string                  `json:"name"`
	Status      enums.ParticipantStatus `json:"status"`
	TrustLevel  enums.TrustLevel        `json:"trustLevel"`
	CreatedAtMs int64                   `json:"createdAtMs"`
	UpdatedAtMs int64                   `json:"updatedAtMs"`
	History     []Transition            `json:"history"`
}

// Snapshot is the read-only view the re-evaluation predicate consults.
type Snapshot struct {
	Status     enums.ParticipantStatus
	TrustLevel enums.TrustLevel
}

// RegisterInput describes a new participant.
type RegisterInput struct {
	ID         string           `json:"id" validate:"required,min=3"`
	Name       string           `json:"name" validate:"required"`
	TrustLevel enums.TrustLevel `json:"trustLevel" validate:"omitempty,oneof=low medium high"`
}

// StateAction is an operator-driven status change.
type StateAction string

const (
	StateActionActivate StateAction = "activate"
	StateActionSuspend  StateAction = "suspend"
	StateActionResume   StateAction = "resume"
)

// UpdateStateInput changes status and/or trust. Empty fields are left alone.
type UpdateStateInput struct {
	Action     StateAction      `json:"action" validate:"omitempty,oneof=activate suspend resume"`
	TrustLevel enums.TrustLevel `json:"trustLevel" validate:"omitempty,oneof=low medium high"`
	Reason     string           `json:"reason"`
}

// Service is the participant registry. Writes are serialized within the process.
type Service struct {
	mu    sync.Mutex
	repo  Repository
	logg  *logger.Logger
	clock func() time.Time
}

// NewService returns a registry over repo. A nil repo keeps participants in memory.
func NewService(repo Repository, logg *logger.Logger, clock func() time.Time) (*Service, error) {
	if logg == nil {
		return nil, errors.New("logger is required")
	}
	if repo == nil {
		repo = NewMemoryRepository()
	}
	if clock == nil {
		clock = time.Now
	}
	return &Service{repo: repo, logg: logg, clock: clock}, nil
}

// Register adds a participant in active status. Trust defaults to medium.
func (s *Service) Register(ctx context.Context, input RegisterInput, actor enums.Role) (Participant, error) {
	id := strings.TrimSpace(input.ID)
	if len(id) < 3 {
		return Participant{}, pkgerrors.New(pkgerrors.CodeValidation, "id must be at least 3 characters")
	}
	trust := input.TrustLevel
	if trust == "" {
		trust = enums.TrustLevelMedium
	}
	if !trust.IsValid() {
		return Participant{}, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid trust level %q", trust))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock().UnixMilli()
	p := Participant{
		ID:          id,
		Name:        strings.TrimSpace(input.Name),
		Status:      enums.ParticipantStatusActive,
		TrustLevel:  trust,
		CreatedAtMs: now,
		UpdatedAtMs: now,
		History: []Transition{{
			Action:      enums.ParticipantActionRegister,
			ToStatus:    enums.ParticipantStatusActive,
			ToTrust:     trust,
			TimestampMs: now,
			ActorRole:   actor,
		}},
	}
	if err := s.repo.Create(ctx, p); err != nil {
		if errors.Is(err, ErrExists) {
			return Participant{}, pkgerrors.New(pkgerrors.CodeConflict, fmt.Sprintf("participant %s already exists", id))
		}
		return Participant{}, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "storing participant")
	}
	s.logg.Info(s.logg.WithField(ctx, "participant_id", id), "participant.registered")
	return p, nil
}

// UpdateState applies a status action and/or trust change. No-op changes leave no history.
func (s *Service) UpdateState(ctx context.Context, id string, input UpdateStateInput, actor enums.Role) (Participant, error) {
	if input.TrustLevel != "" && !input.TrustLevel.IsValid() {
		return Participant{}, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid trust level %q", input.TrustLevel))
	}

	var target enums.ParticipantStatus
	switch input.Action {
	case "":
	case StateActionSuspend:
		target = enums.ParticipantStatusSuspended
	case StateActionActivate, StateActionResume:
		target = enums.ParticipantStatusActive
	default:
		return Participant{}, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid action %q", input.Action))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	p, err := s.load(ctx, id)
	if err != nil {
		return Participant{}, err
	}

	now := s.clock().UnixMilli()
	changed := false
	if target != "" && p.Status != target {
		p.History = append(p.History, Transition{
			Action:      enums.ParticipantAction(input.Action),
			FromStatus:  p.Status,
			ToStatus:    target,
			TimestampMs: now,
			ActorRole:   actor,
			Reason:      input.Reason,
		})
		p.Status = target
		changed = true
	}

	if input.TrustLevel != "" && p.TrustLevel != input.TrustLevel {
		p.History = append(p.History, Transition{
			Action:      enums.ParticipantActionTrustUpdate,
			FromTrust:   p.TrustLevel,
			ToTrust:     input.TrustLevel,
			TimestampMs: now,
			ActorRole:   actor,
			Reason:      input.Reason,
		})
		p.TrustLevel = input.TrustLevel
		changed = true
	}

	if !changed {
		return p, nil
	}
	p.UpdatedAtMs = now
	if err := s.repo.Save(ctx, p); err != nil {
		return Participant{}, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "storing participant")
	}
	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"participant_id": id,
		"status":         string(p.Status),
		"trust_level":    string(p.TrustLevel),
	}), "participant.state_changed")
	return p, nil
}

// Suspend is shorthand for UpdateState with the suspend action.
func (s *Service) Suspend(ctx context.Context, id, reason string, actor enums.Role) (Participant, error) {
	return s.UpdateState(ctx, id, UpdateStateInput{Action: StateActionSuspend, Reason: reason}, actor)
}

// Resume is shorthand for UpdateState with the resume action.
func (s *Service) Resume(ctx context.Context, id, reason string, actor enums.Role) (Participant, error) {
	return s.UpdateState(ctx, id, UpdateStateInput{Action: StateActionResume, Reason: reason}, actor)
}

// Get returns the participant or NOT_FOUND.
func (s *Service) Get(ctx context.Context, id string) (Participant, error) {
	return s.load(ctx, id)
}

// List returns all participants ordered by id.
func (s *Service) List(ctx context.Context) ([]Participant, error) {
	out, err := s.repo.List(ctx)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "listing participants")
	}
	return out, nil
}

// Snapshot returns the current status and trust of a participant. ok is false for unknown ids.
func (s *Service) Snapshot(ctx context.Context, id string) (snap Snapshot, ok bool, err error) {
	p, err := s.repo.Get(ctx, strings.TrimSpace(id))
	if err != nil || p == nil {
		return Snapshot{}, false, err
	}
	return Snapshot{Status: p.Status, TrustLevel: p.TrustLevel}, true, nil
}

func (s *Service) load(ctx context.Context, id string) (Participant, error) {
	p, err := s.repo.Get(ctx, id)
	if err != nil {
		return Participant{}, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading participant")
	}
	if p == nil {
		return Participant{}, pkgerrors.New(pkgerrors.CodeNotFound, fmt.Sprintf("participant %s not found", id))
	}
	return *p, nil
}

func clone(p Participant) Participant {
	p.History = append([]Transition(nil), p.History...)
	return p
}
