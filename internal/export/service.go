package export

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nextmed-labs/trustledger/internal/audit"
	"github.com/nextmed-labs/trustledger/pkg/enums"
	pkgerrors "github.com/nextmed-labs/trustledger/pkg/errors"
	"github.com/nextmed-labs/trustledger/pkg/idgen"
	"github.com/nextmed-labs/trustledger/pkg/logger"
)

// Ledger is the audit surface an export needs: read the slice, then record the export.
type Ledger interface {
	audit.Recorder
	audit.Reader
}

// ServiceParams wires the export service. Publisher, Clock, Random and MaxRange are optional.
type ServiceParams struct {
	Ledger     Ledger
	Repository Repository
	Publisher  Publisher
	Logger     *logger.Logger
	Clock      func() time.Time
	Random     idgen.Random
	MaxRange   time.Duration
}

// Service creates and serves sealed export jobs.
type Service struct {
	ledger     Ledger
	repo       Repository
	publisher  Publisher
	logg       *logger.Logger
	now        func() time.Time
	rnd        idgen.Random
	maxRangeMs int64
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Ledger == nil {
		return nil, errors.New("audit ledger is required")
	}
	if params.Repository == nil {
		return nil, errors.New("export repository is required")
	}
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	svc := &Service{
		ledger:     params.Ledger,
		repo:       params.Repository,
		publisher:  params.Publisher,
		logg:       params.Logger,
		now:        params.Clock,
		rnd:        params.Random,
		maxRangeMs: params.MaxRange.Milliseconds(),
	}
	if svc.publisher == nil {
		svc.publisher = NopPublisher{}
	}
	if svc.now == nil {
		svc.now = time.Now
	}
	if svc.rnd == nil {
		svc.rnd = idgen.Locked()
	}
	if svc.maxRangeMs <= 0 {
		svc.maxRangeMs = MaxRangeMs
	}
	return svc, nil
}

// MaxRangeMs reports the widest window accepted by Create.
func (s *Service) MaxRangeMs() int64 {
	return s.maxRangeMs
}

// Create seals the events in [fromMs, toMs] and records audit.export. Range checks run
// before any read or write. A job is only left stored once its audit.export event exists.
func (s *Service) Create(ctx context.Context, req Request) (Job, []audit.Event, error) {
	nowMs := s.now().UnixMilli()
	fromMs := nowMs - s.maxRangeMs
	if req.FromMs != nil {
		fromMs = *req.FromMs
	}
	toMs := nowMs
	if req.ToMs != nil {
		toMs = *req.ToMs
	}
	if toMs < fromMs {
		return Job{}, nil, pkgerrors.New(pkgerrors.CodeValidation, "toMs must not be before fromMs").
			WithDetails(map[string]any{"fromMs": fromMs, "toMs": toMs})
	}
	if toMs-fromMs > s.maxRangeMs {
		return Job{}, nil, pkgerrors.New(pkgerrors.CodeRangeTooLarge, "export range exceeds the maximum window").
			WithDetails(map[string]any{"maxMs": s.maxRangeMs})
	}

	role := req.RequesterRole
	if !role.IsValid() {
		role = enums.RoleExternal
	}

	events, err := s.ledger.Search(ctx, audit.Filter{FromMs: &fromMs, ToMs: &toMs})
	if err != nil {
		return Job{}, nil, err
	}

	job := seal(idgen.New("audit-exp", nowMs, s.rnd), role, fromMs, toMs, nowMs, events)
	if err := s.repo.Create(ctx, job); err != nil {
		return Job{}, nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "storing export job")
	}

	jobCtx := s.logg.WithFields(ctx, map[string]any{
		"export_id":   job.JobID,
		"event_count": job.EventCount,
	})
	if _, err := s.ledger.RecordEvent(ctx, audit.RecordInput{
		ActorRole:  role,
		Action:     audit.ActionExport,
		TargetType: enums.AuditTargetAudit,
		TargetID:   job.JobID,
		Result:     enums.AuditResultOK,
		Detail:     map[string]any{"fromMs": fromMs, "toMs": toMs, "count": len(events)},
	}); err != nil {
		if delErr := s.repo.Delete(ctx, job.JobID); delErr != nil {
			s.logg.Error(jobCtx, "audit.export.withdraw_failed", delErr)
		}
		return Job{}, nil, err
	}

	s.logg.Info(jobCtx, "audit.export.created")
	if err := s.publisher.Publish(ctx, job); err != nil {
		s.logg.Error(jobCtx, "audit.export.publish_failed", err)
	}
	return job, events, nil
}

// Get returns a previously created export or NOT_FOUND.
func (s *Service) Get(ctx context.Context, jobID string) (Job, error) {
	job, err := s.repo.Get(ctx, jobID)
	if err != nil {
		return Job{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "loading export job")
	}
	if job == nil {
		return Job{}, pkgerrors.New(pkgerrors.CodeNotFound, fmt.Sprintf("export %s not found", jobID))
	}
	return *job, nil
}

// VerifyExport loads a stored export and checks its slice against the live ledger.
func (s *Service) VerifyExport(ctx context.Context, jobID string) (Job, bool, error) {
	job, err := s.Get(ctx, jobID)
	if err != nil {
		return Job{}, false, err
	}
	ok, err := s.VerifySlice(ctx, job)
	if err != nil {
		return Job{}, false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reading audit ledger")
	}
	if !ok {
		s.logg.Warn(s.logg.WithField(ctx, "export_id", jobID), "audit.export.verify_failed")
	}
	return job, ok, nil
}

// VerifySlice reports whether the live ledger still holds the sealed slice as a contiguous,
// correctly linked run of events with the sealed boundary hashes.
func (s *Service) VerifySlice(ctx context.Context, job Job) (bool, error) {
	if job.EventCount == 0 {
		return job.HeadSeq == nil && job.TailSeq == nil, nil
	}
	if job.HeadSeq == nil || job.TailSeq == nil || job.HeadHash == nil || job.TailHash == nil {
		return false, nil
	}
	var prev *audit.Event
	for seq := *job.HeadSeq; seq <= *job.TailSeq; seq++ {
		e, err := s.ledger.Get(ctx, seq)
		if err != nil {
			if pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
				return false, nil
			}
			return false, err
		}
		if hash, err := audit.ComputeHash(*e); err != nil || hash != e.Hash {
			return false, nil
		}
		if prev != nil && e.PrevHash != prev.Hash {
			return false, nil
		}
		prev = e
	}
	head, err := s.ledger.Get(ctx, *job.HeadSeq)
	if err != nil {
		return false, err
	}
	return head.Hash == *job.HeadHash && prev.Hash == *job.TailHash, nil
}

func seal(jobID string, role enums.Role, fromMs, toMs, nowMs int64, events []audit.Event) Job {
	job := Job{
		JobID:         jobID,
		RequesterRole: role,
		FromMs:        fromMs,
		ToMs:          toMs,
		CreatedAtMs:   nowMs,
		Status:        StatusCompleted,
		EventCount:    len(events),
	}
	if len(events) == 0 {
		return job
	}
	head, tail := events[0], events[len(events)-1]
	job.HeadSeq = &head.Seq
	job.TailSeq = &tail.Seq
	job.HeadHash = &head.Hash
	job.TailHash = &tail.Hash
	return job
}
