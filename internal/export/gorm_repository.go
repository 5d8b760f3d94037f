package export

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/nextmed-labs/trustledger/pkg/enums"
)

// JobRow maps the audit_exports table.
type JobRow struct {
	JobID         string  `gorm:"column:job_id;primaryKey"`
	RequesterRole string  `gorm:"column:requester_role;not null"`
	FromMs        int64   `gorm:"column:from_ms;not null"`
	ToMs          int64   `gorm:"column:to_ms;not null"`
	CreatedAtMs   int64   `gorm:"column:created_at_ms;not null"`
	Status        string  `gorm:"column:status;not null"`
	EventCount    int     `gorm:"column:event_count;not null"`
	HeadSeq       *int64  `gorm:"column:head_seq"`
	TailSeq       *int64  `gorm:"column:tail_seq"`
	HeadHash      *string `gorm:"column:head_hash"`
	TailHash      *string `gorm:"column:tail_hash"`
}

func (JobRow) TableName() string { return "audit_exports" }

// GormRepository persists export jobs through GORM.
type GormRepository struct {
	db *gorm.DB
}

func NewGormRepository(conn *gorm.DB) *GormRepository {
	return &GormRepository{db: conn}
}

func (r *GormRepository) Create(ctx context.Context, job Job) error {
	row := JobRow{
		JobID:         job.JobID,
		RequesterRole: string(job.RequesterRole),
		FromMs:        job.FromMs,
		ToMs:          job.ToMs,
		CreatedAtMs:   job.CreatedAtMs,
		Status:        job.Status,
		EventCount:    job.EventCount,
		HeadSeq:       job.HeadSeq,
		TailSeq:       job.TailSeq,
		HeadHash:      job.HeadHash,
		TailHash:      job.TailHash,
	}
	if err := r.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("inserting export %s: %w", job.JobID, err)
	}
	return nil
}

func (r *GormRepository) Get(ctx context.Context, jobID string) (*Job, error) {
	var row JobRow
	err := r.db.WithContext(ctx).Where("job_id = ?", jobID).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading export %s: %w", jobID, err)
	}
	return &Job{
		JobID:         row.JobID,
		RequesterRole: enums.Role(row.RequesterRole),
		FromMs:        row.FromMs,
		ToMs:          row.ToMs,
		CreatedAtMs:   row.CreatedAtMs,
		Status:        row.Status,
		EventCount:    row.EventCount,
		HeadSeq:       row.HeadSeq,
		TailSeq:       row.TailSeq,
		HeadHash:      row.HeadHash,
		TailHash:      row.TailHash,
	}, nil
}

func (r *GormRepository) Delete(ctx context.Context, jobID string) error {
	if err := r.db.WithContext(ctx).Where("job_id = ?", jobID).Delete(&JobRow{}).Error; err != nil {
		return fmt.Errorf("deleting export %s: %w", jobID, err)
	}
	return nil
}
