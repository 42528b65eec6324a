package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	ListingStatusActive    = "ACTIVE"
	ListingStatusCancelled = "CANCELLED"
	ListingStatusSold      = "SOLD"
	ListingStatusExpired   = "EXPIRED"

	MarketTxStatusPending   = "PENDING"
	MarketTxStatusEscrow    = "ESCROW"
	MarketTxStatusCompleted = "COMPLETED"
	MarketTxStatusFailed    = "FAILED"
	MarketTxStatusCancelled = "CANCELLED"
)

// MarketplaceListing offers shares from one completed investment for resale.
type MarketplaceListing struct {
	ID           uuid.UUID `gorm:"type:uuid;primaryKey"`
	SellerID     uuid.UUID `gorm:"type:uuid;not null;index"`
	InvestmentID uuid.UUID `gorm:"type:uuid;not null;index:idx_listings_active_investment,unique,where:status = 'ACTIVE'"`
	CampaignID   uuid.UUID `gorm:"type:uuid;not null;index"`

	SharesListed  int64           `gorm:"not null"`
	PricePerShare decimal.Decimal `gorm:"type:numeric(30,10);not null"`
	TotalPrice    decimal.Decimal `gorm:"type:numeric(30,10);not null"`
	SellerFee     decimal.Decimal `gorm:"type:numeric(30,10);not null"`

	Status         string `gorm:"type:varchar(20);not null;default:'ACTIVE';index"`
	CompanyConsent bool   `gorm:"not null;default:false"`

	BuyerID     *uuid.UUID `gorm:"type:uuid"`
	SoldAt      *time.Time `gorm:"type:timestamptz"`
	CancelledAt *time.Time `gorm:"type:timestamptz"`
	ExpiresAt   time.Time  `gorm:"type:timestamptz;not null;index"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime"`
	UpdatedAt time.Time `gorm:"type:timestamptz;autoUpdateTime"`
}

func (MarketplaceListing) TableName() string {
	return "marketplace_listings"
}

// MarketplaceTransaction settles one purchase. It is written in ESCROW and
// advanced to COMPLETED together with the listing's SOLD transition.
type MarketplaceTransaction struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	ListingID uuid.UUID `gorm:"type:uuid;not null;index"`
	BuyerID   uuid.UUID `gorm:"type:uuid;not null;index"`
	SellerID  uuid.UUID `gorm:"type:uuid;not null;index"`
	// BuyerInvestmentID is the holding created for the buyer.
	BuyerInvestmentID *uuid.UUID `gorm:"type:uuid;index"`

	Shares        int64           `gorm:"not null"`
	PricePerShare decimal.Decimal `gorm:"type:numeric(30,10);not null"`
	TotalAmount   decimal.Decimal `gorm:"type:numeric(30,10);not null"`
	SellerFee     decimal.Decimal `gorm:"type:numeric(30,10);not null"`
	NetAmount     decimal.Decimal `gorm:"type:numeric(30,10);not null"`

	Status      string     `gorm:"type:varchar(20);not null;default:'PENDING';index"`
	EscrowedAt  *time.Time `gorm:"type:timestamptz"`
	CompletedAt *time.Time `gorm:"type:timestamptz"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime"`
	UpdatedAt time.Time `gorm:"type:timestamptz;autoUpdateTime"`
}

func (MarketplaceTransaction) TableName() string {
	return "marketplace_transactions"
}
