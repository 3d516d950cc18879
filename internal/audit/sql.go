package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// EventModel is the audit_events row.
type EventModel struct {
	ID       string    `gorm:"column:id;type:varchar(36);primaryKey"`
	Kind     string    `gorm:"column:kind;type:varchar(40);not null;index"`
	Asset    string    `gorm:"column:asset;type:varchar(20);index"`
	OptionID uint64    `gorm:"column:option_id;index"`
	Actor    string    `gorm:"column:actor;type:varchar(128);not null"`
	Detail   string    `gorm:"column:detail;type:text"`
	At       time.Time `gorm:"column:at;not null;index"`
}

// TableName implements gorm's tabler.
func (EventModel) TableName() string { return "audit_events" }

func fromEvent(e Event) (*EventModel, error) {
	detail, err := json.Marshal(e.Detail)
	if err != nil {
		return nil, err
	}
	return &EventModel{
		ID:       e.ID,
		Kind:     string(e.Kind),
		Asset:    e.Asset,
		OptionID: e.OptionID,
		Actor:    e.Actor,
		Detail:   string(detail),
		At:       e.At,
	}, nil
}

func (m *EventModel) toEvent() Event {
	e := Event{
		ID:       m.ID,
		Kind:     Kind(m.Kind),
		Asset:    m.Asset,
		OptionID: m.OptionID,
		Actor:    m.Actor,
		Detail:   make(map[string]string),
		At:       m.At,
	}
	_ = json.Unmarshal([]byte(m.Detail), &e.Detail)
	return e
}

// SQL persists events through gorm.
type SQL struct {
	db *gorm.DB
}

// OpenSQL connects with the postgres or mysql driver and migrates the table.
func OpenSQL(dialect, dsn string) (*SQL, error) {
	var dial gorm.Dialector
	switch dialect {
	case "postgres":
		dial = postgres.Open(dsn)
	case "mysql":
		dial = mysql.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported audit dialect %q", dialect)
	}

	db, err := gorm.Open(dial, &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("connect audit database: %w", err)
	}
	return NewSQL(db)
}

// NewSQL migrates the events table on db.
func NewSQL(db *gorm.DB) (*SQL, error) {
	if err := db.AutoMigrate(&EventModel{}); err != nil {
		return nil, fmt.Errorf("migrate audit_events: %w", err)
	}
	return &SQL{db: db}, nil
}

// Record inserts e.
func (s *SQL) Record(ctx context.Context, e Event) error {
	m, err := fromEvent(e)
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).Create(m).Error
}

// Recent returns the newest events first, optionally filtered by kind.
func (s *SQL) Recent(ctx context.Context, kind Kind, limit int) ([]Event, error) {
	q := s.db.WithContext(ctx).Order("at desc").Limit(limit)
	if kind != "" {
		q = q.Where("kind = ?", string(kind))
	}
	var rows []EventModel
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]Event, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toEvent())
	}
	return out, nil
}

// Close closes the underlying connection pool.
func (s *SQL) Close() error {
	db, err := s.db.DB()
	if err != nil {
		return err
	}
	return db.Close()
}
