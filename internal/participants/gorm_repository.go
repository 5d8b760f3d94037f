package participants

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/nextmed-labs/trustledger/pkg/enums"
)

// Row maps the participants table. History is a JSON array of transitions.
type Row struct {
	ID          string          `gorm:"column:id;primaryKey"`
	Name        string          `gorm:"column:name;not null"`
	Status      string          `gorm:"column:status;not null"`
	TrustLevel  string          `gorm:"column:trust_level;not null"`
	History     json.RawMessage `gorm:"column:history;type:jsonb;not null"`
	CreatedAtMs int64           `gorm:"column:created_at_ms;not null"`
	UpdatedAtMs int64           `gorm:"column:updated_at_ms;not null"`
}

func (Row) TableName() string { return "participants" }

// GormRepository persists participants through GORM.
type GormRepository struct {
	db *gorm.DB
}

func NewGormRepository(conn *gorm.DB) *GormRepository {
	return &GormRepository{db: conn}
}

func (r *GormRepository) Create(ctx context.Context, p Participant) error {
	row, err := toRow(p)
	if err != nil {
		return err
	}
	res := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&row)
	if res.Error != nil {
		return fmt.Errorf("inserting participant %s: %w", p.ID, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrExists
	}
	return nil
}

func (r *GormRepository) Get(ctx context.Context, id string) (*Participant, error) {
	var row Row
	err := r.db.WithContext(ctx).Where("id = ?", id).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading participant %s: %w", id, err)
	}
	p, err := fromRow(row)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *GormRepository) Save(ctx context.Context, p Participant) error {
	row, err := toRow(p)
	if err != nil {
		return err
	}
	res := r.db.WithContext(ctx).Model(&Row{}).Where("id = ?", p.ID).Select("*").Updates(&row)
	if res.Error != nil {
		return fmt.Errorf("saving participant %s: %w", p.ID, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("saving participant %s: no such row", p.ID)
	}
	return nil
}

func (r *GormRepository) List(ctx context.Context) ([]Participant, error) {
	var rows []Row
	if err := r.db.WithContext(ctx).Order("id ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("listing participants: %w", err)
	}
	out := make([]Participant, 0, len(rows))
	for _, row := range rows {
		p, err := fromRow(row)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func toRow(p Participant) (Row, error) {
	history := p.History
	if history == nil {
		history = []Transition{}
	}
	raw, err := json.Marshal(history)
	if err != nil {
		return Row{}, fmt.Errorf("encoding history for %s: %w", p.ID, err)
	}
	return Row{
		ID:          p.ID,
		Name:        p.Name,
		Status:      string(p.Status),
		TrustLevel:  string(p.TrustLevel),
		History:     raw,
		CreatedAtMs: p.CreatedAtMs,
		UpdatedAtMs: p.UpdatedAtMs,
	}, nil
}

func fromRow(row Row) (Participant, error) {
	p := Participant{
		ID:          row.ID,
		Name:        row.Name,
		Status:      enums.ParticipantStatus(row.Status),
		TrustLevel:  enums.TrustLevel(row.TrustLevel),
		CreatedAtMs: row.CreatedAtMs,
		UpdatedAtMs: row.UpdatedAtMs,
	}
	if len(row.History) > 0 {
		if err := json.Unmarshal(row.History, &p.History); err != nil {
			return Participant{}, fmt.Errorf("decoding history for %s: %w", row.ID, err)
		}
	}
	return p, nil
}
