package consents

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Row maps the consents table. Versions is a JSON array, oldest first.
type Row struct {
	ID             string          `gorm:"column:id;primaryKey"`
	OwnerID        string          `gorm:"column:owner_id"`
	CurrentVersion int             `gorm:"column:current_version;not null"`
	Versions       json.RawMessage `gorm:"column:versions;type:jsonb;not null"`
	CreatedAtMs    int64           `gorm:"column:created_at_ms;not null"`
	UpdatedAtMs    int64           `gorm:"column:updated_at_ms;not null"`
}

func (Row) TableName() string { return "consents" }

// GormRepository persists consents through GORM.
type GormRepository struct {
	db *gorm.DB
}

func NewGormRepository(conn *gorm.DB) *GormRepository {
	return &GormRepository{db: conn}
}

func (r *GormRepository) Create(ctx context.Context, c Consent) error {
	row, err := toRow(c)
	if err != nil {
		return err
	}
	res := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&row)
	if res.Error != nil {
		return fmt.Errorf("inserting consent %s: %w", c.ID, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrExists
	}
	return nil
}

func (r *GormRepository) Get(ctx context.Context, id string) (*Consent, error) {
	var row Row
	err := r.db.WithContext(ctx).Where("id = ?", id).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading consent %s: %w", id, err)
	}
	c := Consent{
		ID:             row.ID,
		OwnerID:        row.OwnerID,
		CurrentVersion: row.CurrentVersion,
		CreatedAtMs:    row.CreatedAtMs,
		UpdatedAtMs:    row.UpdatedAtMs,
	}
	if err := json.Unmarshal(row.Versions, &c.Versions); err != nil {
		return nil, fmt.Errorf("decoding versions for %s: %w", row.ID, err)
	}
	if len(c.Versions) == 0 {
		return nil, fmt.Errorf("consent %s has no versions", row.ID)
	}
	return &c, nil
}

// Save rewrites the row only if CurrentVersion moved forward, so concurrent writers
// cannot both claim the same version number.
func (r *GormRepository) Save(ctx context.Context, c Consent) error {
	row, err := toRow(c)
	if err != nil {
		return err
	}
	res := r.db.WithContext(ctx).Model(&Row{}).
		Where("id = ? AND current_version = ?", c.ID, c.CurrentVersion-1).
		Select("*").Updates(&row)
	if res.Error != nil {
		return fmt.Errorf("saving consent %s: %w", c.ID, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("saving consent %s: version %d is stale", c.ID, c.CurrentVersion)
	}
	return nil
}

func toRow(c Consent) (Row, error) {
	raw, err := json.Marshal(c.Versions)
	if err != nil {
		return Row{}, fmt.Errorf("encoding versions for %s: %w", c.ID, err)
	}
	return Row{
		ID:             c.ID,
		OwnerID:        c.OwnerID,
		CurrentVersion: c.CurrentVersion,
		Versions:       raw,
		CreatedAtMs:    c.CreatedAtMs,
		UpdatedAtMs:    c.UpdatedAtMs,
	}, nil
}
