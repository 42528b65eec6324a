package models

import (
	"time"

	"gorm.io/datatypes"
)

// DeadLetter keeps an event a consumer rejected, for manual reprocessing.
type DeadLetter struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"`

	Topic      string `gorm:"type:varchar(120);not null;index"`
	Consumer   string `gorm:"type:varchar(80);not null"`
	EventID    string `gorm:"type:varchar(64);index"`
	EventType  string `gorm:"type:varchar(60);index"`
	MessageKey string `gorm:"type:varchar(128)"`

	Payload datatypes.JSON `gorm:"type:jsonb"`
	Error   string         `gorm:"type:text;not null"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime;index"`
}

func (DeadLetter) TableName() string {
	return "dead_letters"
}
