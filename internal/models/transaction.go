package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

const (
	TransactionStatusPending   = "PENDING"
	TransactionStatusCompleted = "COMPLETED"
	TransactionStatusFailed    = "FAILED"
	TransactionStatusRefunded  = "REFUNDED"

	TransactionTypeInvestment = "INVESTMENT"
	TransactionTypePayment    = "PAYMENT"
)

// Transaction records one attempted money movement through a payment provider.
// Once COMPLETED it only changes by moving to REFUNDED.
type Transaction struct {
	ID           uuid.UUID  `gorm:"type:uuid;primaryKey"`
	InvestmentID *uuid.UUID `gorm:"type:uuid;index"`
	PayerID      uuid.UUID  `gorm:"type:uuid;not null;index"`

	Type     string          `gorm:"type:varchar(20);not null;default:'PAYMENT'"`
	Amount   decimal.Decimal `gorm:"type:numeric(30,10);not null"`
	Currency string          `gorm:"type:varchar(3);not null;default:'KES'"`
	Status   string          `gorm:"type:varchar(20);not null;default:'PENDING';index"`

	PaymentMethod string `gorm:"type:varchar(20);not null"`
	Provider      string `gorm:"type:varchar(30);index"`
	// Null until the provider accepts the request; unique across providers.
	ProviderRef   *string `gorm:"type:varchar(128);uniqueIndex"`
	RedirectURL   string  `gorm:"type:text"`
	FailureReason string  `gorm:"type:text"`
	RefundRef     *string `gorm:"type:varchar(128)"`

	ProviderMetadata datatypes.JSON `gorm:"type:jsonb"`

	CompletedAt *time.Time `gorm:"type:timestamptz"`
	CreatedAt   time.Time  `gorm:"type:timestamptz;autoCreateTime;index"`
	UpdatedAt   time.Time  `gorm:"type:timestamptz;autoUpdateTime"`
}

func (Transaction) TableName() string {
	return "transactions"
}
