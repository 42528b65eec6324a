package models

import (
	"time"

	"gorm.io/datatypes"
)

// SystemSetting holds operator-controlled switches, e.g. whether the
// cooling-off sweep or the payment poller runs on this deployment.
type SystemSetting struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"`

	Key   string         `gorm:"type:varchar(120);not null;uniqueIndex"`
	Value datatypes.JSON `gorm:"type:jsonb;not null"`

	Description string    `gorm:"type:text"`
	UpdatedBy   string    `gorm:"type:varchar(80)"`
	CreatedAt   time.Time `gorm:"type:timestamptz;autoCreateTime"`
	UpdatedAt   time.Time `gorm:"type:timestamptz;autoUpdateTime;index"`
}

func (SystemSetting) TableName() string {
	return "system_settings"
}
