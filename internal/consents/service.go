// Package consents holds versioned data-sharing consents and evaluates requests against them.
package consents

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

// Evaluation reasons, checked in declaration order.
const (
	ReasonNotFound            = "CONSENT_NOT_FOUND"
	ReasonOutOfValidity       = "OUT_OF_VALIDITY"
	ReasonDataTypeNotAllowed  = "DATA_TYPE_NOT_ALLOWED"
	ReasonRecipientNotAllowed = "RECIPIENT_NOT_ALLOWED"
	ReasonPurposeNotAllowed   = "PURPOSE_NOT_ALLOWED"
)

// Version is one immutable revision of a consent.
type Version struct {
	Version     int                      `json:"version"`
	DataTypes   []string                 `json:"dataTypes"`
	Recipients  []string                 `json:"recipients"`
	Purposes    []string                 `json:"purposes"`
	ValidFromMs int64                    `json:"validFromMs"`
	ValidToMs   int64                    `json:"validToMs"`
	TimestampMs int64                    `json:"timestampMs"`
	ActorRole   enums.Role               `json:"actorRole"`
	Kind        enums.ConsentVersionKind `json:"kind"`
	Reason      string                   `json:"reason,omitempty"`
}

// Consent is the full version history of one grant.
type Consent struct {
	ID             string    `json:"id"`
	OwnerID        string    `json:"ownerId,omitempty"`
	CreatedAtMs    int64     `json:"createdAtMs"`
	UpdatedAtMs    int64     `json:"updatedAtMs"`
	CurrentVersion int       `json:"currentVersion"`
	Versions       []Version `json:"versions"`
}

// Latest returns the current version.
func (c Consent) Latest() Version {
	return c.Versions[len(c.Versions)-1]
}

// Terms are the grant fields shared by register and update.
type Terms struct {
	DataTypes   []string `json:"dataTypes"`
	Recipients  []string `json:"recipients"`
	Purposes    []string `json:"purposes"`
	ValidFromMs int64    `json:"validFromMs"`
	ValidToMs   int64    `json:"validToMs"`
}

// RegisterInput creates a consent at version 1.
type RegisterInput struct {
	ID      string `json:"id"`
	OwnerID string `json:"ownerId"`
	Terms
}

// UpdateInput replaces the terms with a new version.
type UpdateInput struct {
	Terms
	Reason string `json:"reason"`
}

// PartialRevokeInput lists entries to drop from the latest version. Empty lists are ignored.
type PartialRevokeInput struct {
	DataTypes  []string `json:"dataTypes"`
	Recipients []string `json:"recipients"`
	Purposes   []string `json:"purposes"`
	Reason     string   `json:"reason"`
}

// EvaluateInput asks whether a single data flow is covered. Nil TimestampMs means now.
type EvaluateInput struct {
	ConsentID   string `json:"consentId"`
	DataType    string `json:"dataType"`
	Recipient   string `json:"recipient"`
	Purpose     string `json:"purpose"`
	TimestampMs *int64 `json:"timestampMs,omitempty"`
}

// Evaluation is the verdict for an EvaluateInput.
type Evaluation struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
	Version int    `json:"version,omitempty"`
}

// Service manages consents over a Repository. Writes are serialized within the process.
type Service struct {
	mu    sync.Mutex
	repo  Repository
	logg  *logger.Logger
	clock func() time.Time
}

// NewService returns a consent service over repo. A nil repo keeps consents in memory.
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

// Register validates and stores a new consent.
func (s *Service) Register(ctx context.Context, input RegisterInput, actor enums.Role) (Consent, error) {
	id := strings.TrimSpace(input.ID)
	issues := validateTerms(input.Terms)
	if len(id) < 3 {
		issues = append([]Issue{{Field: "id", Message: "id must be at least 3 characters"}}, issues...)
	}
	if len(issues) > 0 {
		return Consent{}, validationError(issues)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock().UnixMilli()
	c := Consent{
		ID:             id,
		OwnerID:        strings.TrimSpace(input.OwnerID),
		CreatedAtMs:    now,
		UpdatedAtMs:    now,
		CurrentVersion: 1,
		Versions:       []Version{newVersion(1, input.Terms, now, actor, enums.ConsentVersionRegister, "")},
	}
	if err := s.repo.Create(ctx, c); err != nil {
		if errors.Is(err, ErrExists) {
			return Consent{}, pkgerrors.New(pkgerrors.CodeConflict, fmt.Sprintf("consent %s already exists", id))
		}
		return Consent{}, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "storing consent")
	}
	s.logg.Info(s.logg.WithField(ctx, "consent_id", id), "consent.registered")
	return c, nil
}

// Update appends a version with replacement terms.
func (s *Service) Update(ctx context.Context, id string, input UpdateInput, actor enums.Role) (Consent, error) {
	if issues := validateTerms(input.Terms); len(issues) > 0 {
		return Consent{}, validationError(issues)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	c, err := s.load(ctx, id)
	if err != nil {
		return Consent{}, err
	}
	v := newVersion(c.CurrentVersion+1, input.Terms, s.clock().UnixMilli(), actor, enums.ConsentVersionUpdate, input.Reason)
	if err := s.push(ctx, &c, v); err != nil {
		return Consent{}, err
	}
	s.logg.Info(s.logg.WithFields(ctx, map[string]any{"consent_id": id, "version": v.Version}), "consent.updated")
	return c, nil
}

// PartialRevoke appends a version with the listed entries removed. Validity is carried over.
func (s *Service) PartialRevoke(ctx context.Context, id string, input PartialRevokeInput, actor enums.Role) (Consent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, err := s.load(ctx, id)
	if err != nil {
		return Consent{}, err
	}
	prev := c.Latest()
	v := Version{
		Version:     c.CurrentVersion + 1,
		DataTypes:   without(prev.DataTypes, input.DataTypes),
		Recipients:  without(prev.Recipients, input.Recipients),
		Purposes:    without(prev.Purposes, input.Purposes),
		ValidFromMs: prev.ValidFromMs,
		ValidToMs:   prev.ValidToMs,
		TimestampMs: s.clock().UnixMilli(),
		ActorRole:   actor,
		Kind:        enums.ConsentVersionPartialRevoke,
		Reason:      input.Reason,
	}
	if err := s.push(ctx, &c, v); err != nil {
		return Consent{}, err
	}
	s.logg.Info(s.logg.WithFields(ctx, map[string]any{"consent_id": id, "version": v.Version}), "consent.partially_revoked")
	return c, nil
}

// Get returns the consent or NOT_FOUND.
func (s *Service) Get(ctx context.Context, id string) (Consent, error) {
	return s.load(ctx, id)
}

// Evaluate checks a data flow against the latest version of a consent. The error is
// reserved for storage failures; an unknown consent is a CONSENT_NOT_FOUND verdict.
func (s *Service) Evaluate(ctx context.Context, input EvaluateInput) (Evaluation, error) {
	c, err := s.repo.Get(ctx, input.ConsentID)
	if err != nil {
		return Evaluation{}, err
	}
	if c == nil {
		return Evaluation{Reason: ReasonNotFound}, nil
	}
	v := c.Latest()
	now := s.clock().UnixMilli()
	if input.TimestampMs != nil {
		now = *input.TimestampMs
	}
	switch {
	case now < v.ValidFromMs || now > v.ValidToMs:
		return Evaluation{Reason: ReasonOutOfValidity}, nil
	case !contains(v.DataTypes, input.DataType):
		return Evaluation{Reason: ReasonDataTypeNotAllowed}, nil
	case !contains(v.Recipients, input.Recipient):
		return Evaluation{Reason: ReasonRecipientNotAllowed}, nil
	case !contains(v.Purposes, input.Purpose):
		return Evaluation{Reason: ReasonPurposeNotAllowed}, nil
	}
	return Evaluation{Allowed: true, Version: v.Version}, nil
}

func (s *Service) load(ctx context.Context, id string) (Consent, error) {
	c, err := s.repo.Get(ctx, id)
	if err != nil {
		return Consent{}, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading consent")
	}
	if c == nil {
		return Consent{}, notFound(id)
	}
	return *c, nil
}

func (s *Service) push(ctx context.Context, c *Consent, v Version) error {
	c.Versions = append(c.Versions, v)
	c.CurrentVersion = v.Version
	c.UpdatedAtMs = v.TimestampMs
	if err := s.repo.Save(ctx, *c); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "storing consent")
	}
	return nil
}

func newVersion(n int, t Terms, now int64, actor enums.Role, kind enums.ConsentVersionKind, reason string) Version {
	return Version{
		Version:     n,
		DataTypes:   normalize(t.DataTypes),
		Recipients:  normalize(t.Recipients),
		Purposes:    normalize(t.Purposes),
		ValidFromMs: t.ValidFromMs,
		ValidToMs:   t.ValidToMs,
		TimestampMs: now,
		ActorRole:   actor,
		Kind:        kind,
		Reason:      reason,
	}
}

func notFound(id string) error {
	return pkgerrors.New(pkgerrors.CodeNotFound, fmt.Sprintf("consent %s not found", id))
}

func clone(c Consent) Consent {
	out := c
	out.Versions = make([]Version, len(c.Versions))
	for i, v := range c.Versions {
		v.DataTypes = append([]string(nil), v.DataTypes...)
		v.Recipients = append([]string(nil), v.Recipients...)
		v.Purposes = append([]string(nil), v.Purposes...)
		out.Versions[i] = v
	}
	return out
}

// normalize trims and de-duplicates, preserving first-seen order.
func normalize(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

func without(values, drop []string) []string {
	if len(drop) == 0 {
		return append([]string(nil), values...)
	}
	out := make([]string, 0, len(values))
	for _, v := range values {
		if !contains(drop, v) {
			out = append(out, v)
		}
	}
	return out
}

func contains(values []string, target string) bool {
	for _, v := range values {
		if v == target {
			return true
		}
	}
	return false
}
