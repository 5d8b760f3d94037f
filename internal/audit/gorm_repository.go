package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/nextmed-labs/trustledger/pkg/db"
	"github.com/nextmed-labs/trustledger/pkg/enums"
	"gorm.io/gorm"
)

// EventRow maps the audit_events table.
type EventRow struct {
	Seq         int64   `gorm:"column:seq;primaryKey;autoIncrement:false"`
	TimestampMs int64   `gorm:"column:timestamp_ms;not null;index"`
	ActorRole   string  `gorm:"column:actor_role;not null"`
	Action      string  `gorm:"column:action;not null;index"`
	TargetType  string  `gorm:"column:target_type;not null"`
	TargetID    string  `gorm:"column:target_id;not null"`
	Result      string  `gorm:"column:result;not null"`
	Detail      *string `gorm:"column:detail"`
	PrevHash    string  `gorm:"column:prev_hash;not null"`
	Hash        string  `gorm:"column:hash;not null"`
}

func (EventRow) TableName() string { return "audit_events" }

// GormRepository persists the ledger through GORM.
type GormRepository struct {
	client *db.Client
	db     *gorm.DB
}

// NewGormRepository returns a ledger repository bound to the provided database.
func NewGormRepository(conn *gorm.DB) *GormRepository {
	return &GormRepository{client: db.NewFromGorm(conn), db: conn}
}

// Append inserts e only if it extends the current head. The head read and the
// insert share a transaction; the seq primary key catches concurrent writers.
func (r *GormRepository) Append(ctx context.Context, e Event) error {
	row, err := toRow(e)
	if err != nil {
		return err
	}
	return r.client.WithTx(ctx, func(tx *gorm.DB) error {
		var head int64
		if err := tx.Model(&EventRow{}).Select("COALESCE(MAX(seq), 0)").Scan(&head).Error; err != nil {
			return fmt.Errorf("reading audit head: %w", err)
		}
		if head >= e.Seq {
			return errSeqTaken
		}
		if err := tx.Create(&row).Error; err != nil {
			if db.IsUniqueViolation(err, "") {
				return errSeqTaken
			}
			return fmt.Errorf("inserting audit event %d: %w", e.Seq, err)
		}
		return nil
	})
}

func (r *GormRepository) Last(ctx context.Context) (*Event, error) {
	var row EventRow
	err := r.db.WithContext(ctx).Order("seq DESC").Limit(1).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading last audit event: %w", err)
	}
	e, err := fromRow(row)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (r *GormRepository) List(ctx context.Context, f Filter) ([]Event, error) {
	q := r.db.WithContext(ctx).Model(&EventRow{})
	if f.FromMs != nil {
		q = q.Where("timestamp_ms >= ?", *f.FromMs)
	}
	if f.ToMs != nil {
		q = q.Where("timestamp_ms <= ?", *f.ToMs)
	}
	if f.ActorRole != "" {
		q = q.Where("actor_role = ?", string(f.ActorRole))
	}
	if f.TargetType != "" {
		q = q.Where("target_type = ?", string(f.TargetType))
	}
	if f.TargetID != "" {
		q = q.Where("target_id = ?", f.TargetID)
	}
	if f.Action != "" {
		q = q.Where("action = ?", f.Action)
	}
	if f.Result != "" {
		q = q.Where("result = ?", string(f.Result))
	}

	var rows []EventRow
	if err := q.Order("seq ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("listing audit events: %w", err)
	}
	return fromRows(rows)
}

func (r *GormRepository) Get(ctx context.Context, seq int64) (*Event, error) {
	var row EventRow
	err := r.db.WithContext(ctx).Where("seq = ?", seq).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading audit event %d: %w", seq, err)
	}
	e, err := fromRow(row)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (r *GormRepository) Tail(ctx context.Context, n int) ([]Event, error) {
	if n <= 0 {
		return []Event{}, nil
	}
	var rows []EventRow
	if err := r.db.WithContext(ctx).Order("seq DESC").Limit(n).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("listing recent audit events: %w", err)
	}
	for i, j := 0, len(rows)-1; i < j; i, j = i+1, j-1 {
		rows[i], rows[j] = rows[j], rows[i]
	}
	return fromRows(rows)
}

func toRow(e Event) (EventRow, error) {
	row := EventRow{
		Seq:         e.Seq,
		TimestampMs: e.TimestampMs,
		ActorRole:   string(e.ActorRole),
		Action:      e.Action,
		TargetType:  string(e.TargetType),
		TargetID:    e.TargetID,
		Result:      string(e.Result),
		PrevHash:    e.PrevHash,
		Hash:        e.Hash,
	}
	if len(e.Detail) > 0 {
		raw, err := json.Marshal(e.Detail)
		if err != nil {
			return EventRow{}, fmt.Errorf("encoding audit detail: %w", err)
		}
		s := string(raw)
		row.Detail = &s
	}
	return row, nil
}

func fromRow(row EventRow) (Event, error) {
	e := Event{
		Seq:         row.Seq,
		TimestampMs: row.TimestampMs,
		ActorRole:   enums.Role(row.ActorRole),
		Action:      row.Action,
		TargetType:  enums.AuditTargetType(row.TargetType),
		TargetID:    row.TargetID,
		Result:      enums.AuditResult(row.Result),
		PrevHash:    row.PrevHash,
		Hash:        row.Hash,
	}
	if row.Detail != nil && *row.Detail != "" {
		if err := json.Unmarshal([]byte(*row.Detail), &e.Detail); err != nil {
			return Event{}, fmt.Errorf("decoding audit detail %d: %w", row.Seq, err)
		}
	}
	return e, nil
}

func fromRows(rows []EventRow) ([]Event, error) {
	out := make([]Event, 0, len(rows))
	for _, row := range rows {
		e, err := fromRow(row)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}
