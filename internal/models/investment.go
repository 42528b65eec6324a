package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	InvestmentStatusPending          = "PENDING"
	InvestmentStatusPaymentInitiated = "PAYMENT_INITIATED"
	InvestmentStatusCoolingOff       = "COOLING_OFF"
	InvestmentStatusCompleted        = "COMPLETED"
	InvestmentStatusCancelled        = "CANCELLED"
	InvestmentStatusRefunded         = "REFUNDED"
)

// Investment is an investor's commitment to a campaign. Amount always equals
// Shares x SharePrice. The partial unique index keeps one non-cancelled
// investment per (investor, campaign).
type Investment struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey"`
	InvestorID uuid.UUID `gorm:"type:uuid;not null;index:idx_investments_active_pair,unique,where:status <> 'CANCELLED'"`
	CampaignID uuid.UUID `gorm:"type:uuid;not null;index:idx_investments_active_pair,unique,where:status <> 'CANCELLED'"`

	Amount     decimal.Decimal `gorm:"type:numeric(30,10);not null"`
	Shares     int64           `gorm:"not null"`
	SharePrice decimal.Decimal `gorm:"type:numeric(30,10);not null"`

	Status string `gorm:"type:varchar(20);not null;default:'PENDING';index"`

	CoolingOffExpiresAt *time.Time `gorm:"type:timestamptz;index"`
	PaymentInitiatedAt  *time.Time `gorm:"type:timestamptz"`
	CompletedAt         *time.Time `gorm:"type:timestamptz"`
	CancelledAt         *time.Time `gorm:"type:timestamptz"`
	RefundedAt          *time.Time `gorm:"type:timestamptz"`
	CancellationReason  string     `gorm:"type:text"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime"`
	UpdatedAt time.Time `gorm:"type:timestamptz;autoUpdateTime"`
}

func (Investment) TableName() string {
	return "investments"
}
