package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/nextmed-labs/trustledger/pkg/enums"
)

// JobRow is the outbox_jobs table layout. Payload, steps and errors are JSON documents.
type JobRow struct {
	ID              string          `gorm:"column:id;primaryKey"`
	TrackingID      string          `gorm:"column:tracking_id;not null;index"`
	Status          string          `gorm:"column:status;not null;index:idx_outbox_jobs_due,priority:1"`
	Payload         json.RawMessage `gorm:"column:payload;type:jsonb;not null"`
	Steps           json.RawMessage `gorm:"column:steps;type:jsonb;not null"`
	StepIndex       int             `gorm:"column:step_index;not null"`
	Attempts        int             `gorm:"column:attempts;not null"`
	MaxAttempts     int             `gorm:"column:max_attempts;not null"`
	NextAttemptAtMs int64           `gorm:"column:next_attempt_at_ms;not null;index:idx_outbox_jobs_due,priority:2"`
	BackoffBaseMs   int64           `gorm:"column:backoff_base_ms;not null"`
	SimulateAnchor  string          `gorm:"column:simulate_anchor"`
	SimulateAudit   string          `gorm:"column:simulate_audit"`
	AnchorReceipt   *string         `gorm:"column:anchor_receipt"`
	Errors          json.RawMessage `gorm:"column:errors;type:jsonb;not null"`
	CreatedAtMs     int64           `gorm:"column:created_at_ms;not null"`
	UpdatedAtMs     int64           `gorm:"column:updated_at_ms;not null"`
	Revision        int64           `gorm:"column:revision;not null;default:0"`
}

func (JobRow) TableName() string { return "outbox_jobs" }

// GormStore persists jobs through GORM.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore returns a job store bound to the provided database.
func NewGormStore(conn *gorm.DB) *GormStore {
	return &GormStore{db: conn}
}

func (s *GormStore) Create(ctx context.Context, job Job) error {
	row, err := toJobRow(job)
	if err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("inserting outbox job %s: %w", job.ID, err)
	}
	return nil
}

func (s *GormStore) Get(ctx context.Context, id string) (Job, error) {
	var row JobRow
	err := s.db.WithContext(ctx).Where("id = ?", id).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Job{}, ErrJobNotFound
	}
	if err != nil {
		return Job{}, fmt.Errorf("loading outbox job %s: %w", id, err)
	}
	return fromJobRow(row)
}

func (s *GormStore) Save(ctx context.Context, job Job) error {
	row, err := toJobRow(job)
	if err != nil {
		return err
	}
	row.Revision = job.Revision + 1
	res := s.db.WithContext(ctx).Model(&JobRow{}).
		Where("id = ? AND revision = ?", job.ID, job.Revision).
		Select("*").Updates(&row)
	if res.Error != nil {
		return fmt.Errorf("saving outbox job %s: %w", job.ID, res.Error)
	}
	if res.RowsAffected > 0 {
		return nil
	}
	var count int64
	if err := s.db.WithContext(ctx).Model(&JobRow{}).Where("id = ?", job.ID).Count(&count).Error; err != nil {
		return fmt.Errorf("saving outbox job %s: %w", job.ID, err)
	}
	if count == 0 {
		return ErrJobNotFound
	}
	return ErrJobChanged
}

func (s *GormStore) List(ctx context.Context) ([]Job, error) {
	return s.find(ctx, s.db.WithContext(ctx))
}

func (s *GormStore) Due(ctx context.Context, nowMs int64) ([]Job, error) {
	q := s.db.WithContext(ctx).
		Where("status IN ?", []string{string(enums.JobStatusPending), string(enums.JobStatusRetrying)}).
		Where("next_attempt_at_ms <= ?", nowMs)
	return s.find(ctx, q)
}

func (s *GormStore) CountByStatus(ctx context.Context) (map[enums.JobStatus]int, error) {
	var rows []struct {
		Status string
		Count  int
	}
	err := s.db.WithContext(ctx).Model(&JobRow{}).
		Select("status, COUNT(*) AS count").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("counting outbox jobs: %w", err)
	}
	out := make(map[enums.JobStatus]int, len(rows))
	for _, r := range rows {
		out[enums.JobStatus(r.Status)] = r.Count
	}
	return out, nil
}

func (s *GormStore) FindLive(ctx context.Context, trackingID string) (*Job, error) {
	terminal := []string{
		string(enums.JobStatusSucceeded),
		string(enums.JobStatusFailed),
		string(enums.JobStatusCompensated),
	}
	jobs, err := s.find(ctx, s.db.WithContext(ctx).
		Where("tracking_id = ?", trackingID).
		Where("status NOT IN ?", terminal).
		Limit(1))
	if err != nil || len(jobs) == 0 {
		return nil, err
	}
	return &jobs[0], nil
}

func (s *GormStore) find(_ context.Context, q *gorm.DB) ([]Job, error) {
	var rows []JobRow
	if err := q.Order("created_at_ms ASC").Order("id ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("listing outbox jobs: %w", err)
	}
	out := make([]Job, 0, len(rows))
	for _, row := range rows {
		job, err := fromJobRow(row)
		if err != nil {
			return nil, err
		}
		out = append(out, job)
	}
	return out, nil
}

func toJobRow(job Job) (JobRow, error) {
	payload, err := json.Marshal(job.Payload)
	if err != nil {
		return JobRow{}, fmt.Errorf("encoding payload for %s: %w", job.ID, err)
	}
	steps, err := json.Marshal(job.Steps)
	if err != nil {
		return JobRow{}, fmt.Errorf("encoding steps for %s: %w", job.ID, err)
	}
	stepErrors := job.Errors
	if stepErrors == nil {
		stepErrors = []StepError{}
	}
	errs, err := json.Marshal(stepErrors)
	if err != nil {
		return JobRow{}, fmt.Errorf("encoding errors for %s: %w", job.ID, err)
	}
	return JobRow{
		ID:              job.ID,
		TrackingID:      job.Payload.TrackingID,
		Status:          string(job.Status),
		Payload:         payload,
		Steps:           steps,
		StepIndex:       job.StepIndex,
		Attempts:        job.Attempts,
		MaxAttempts:     job.MaxAttempts,
		NextAttemptAtMs: job.NextAttemptAtMs,
		BackoffBaseMs:   job.BackoffBaseMs,
		SimulateAnchor:  string(job.SimulateAnchor),
		SimulateAudit:   string(job.SimulateAudit),
		AnchorReceipt:   job.AnchorReceipt,
		Errors:          errs,
		CreatedAtMs:     job.CreatedAtMs,
		UpdatedAtMs:     job.UpdatedAtMs,
		Revision:        job.Revision,
	}, nil
}

func fromJobRow(row JobRow) (Job, error) {
	job := Job{
		ID:              row.ID,
		Status:          enums.JobStatus(row.Status),
		StepIndex:       row.StepIndex,
		Attempts:        row.Attempts,
		MaxAttempts:     row.MaxAttempts,
		NextAttemptAtMs: row.NextAttemptAtMs,
		BackoffBaseMs:   row.BackoffBaseMs,
		SimulateAnchor:  enums.Simulation(row.SimulateAnchor),
		SimulateAudit:   enums.Simulation(row.SimulateAudit),
		AnchorReceipt:   row.AnchorReceipt,
		CreatedAtMs:     row.CreatedAtMs,
		UpdatedAtMs:     row.UpdatedAtMs,
		Revision:        row.Revision,
	}
	if err := json.Unmarshal(row.Payload, &job.Payload); err != nil {
		return Job{}, fmt.Errorf("decoding payload for %s: %w", row.ID, err)
	}
	if err := json.Unmarshal(row.Steps, &job.Steps); err != nil {
		return Job{}, fmt.Errorf("decoding steps for %s: %w", row.ID, err)
	}
	if len(row.Errors) > 0 {
		if err := json.Unmarshal(row.Errors, &job.Errors); err != nil {
			return Job{}, fmt.Errorf("decoding errors for %s: %w", row.ID, err)
		}
	}
	return job, nil
}
