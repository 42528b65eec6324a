package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	CampaignStatusDraft  = "DRAFT"
	CampaignStatusLive   = "LIVE"
	CampaignStatusFunded = "FUNDED"
	CampaignStatusClosed = "CLOSED"
)

// Campaign is the capacity-relevant slice of a fundraising campaign. The
// campaign service owns the rest of the record; this service only moves the
// raised/sold counters, always through a version-checked update.
type Campaign struct {
	ID     uuid.UUID `gorm:"type:uuid;primaryKey"`
	Title  string    `gorm:"type:varchar(200)"`
	Status string    `gorm:"type:varchar(20);not null;default:'DRAFT';index"`

	TargetAmount decimal.Decimal `gorm:"type:numeric(30,10);not null"`
	RaisedAmount decimal.Decimal `gorm:"type:numeric(30,10);not null;default:0"`
	SharePrice   decimal.Decimal `gorm:"type:numeric(30,10);not null"`

	TotalShares   int64 `gorm:"not null"`
	SoldShares    int64 `gorm:"not null;default:0"`
	InvestorCount int64 `gorm:"not null;default:0"`

	MinInvestment *decimal.Decimal `gorm:"type:numeric(30,10)"`
	MaxInvestment *decimal.Decimal `gorm:"type:numeric(30,10)"`

	EndDate *time.Time `gorm:"type:timestamptz"`
	Version int64      `gorm:"not null;default:0"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime"`
	UpdatedAt time.Time `gorm:"type:timestamptz;autoUpdateTime"`
}

func (Campaign) TableName() string {
	return "campaigns"
}
