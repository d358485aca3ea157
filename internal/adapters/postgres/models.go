package postgres

import "time"

type eventRecordModel struct {
	Stream    string    `gorm:"column:stream;primaryKey"`
	EntryMS   int64     `gorm:"column:entry_ms;primaryKey"`
	EntrySeq  int64     `gorm:"column:entry_seq;primaryKey"`
	Fields    string    `gorm:"column:fields;type:jsonb"`
	CreatedAt time.Time `gorm:"column:created_at"`
}

func (eventRecordModel) TableName() string { return "event_log" }
