package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	KYCStatusPending  = "PENDING"
	KYCStatusApproved = "APPROVED"
	KYCStatusRejected = "REJECTED"
)

// InvestorProfile is the KYC snapshot replicated from the user service.
type InvestorProfile struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	KYCStatus string    `gorm:"type:varchar(20);not null;default:'PENDING'"`
	UpdatedAt time.Time `gorm:"type:timestamptz;autoUpdateTime"`
}

func (InvestorProfile) TableName() string {
	return "investor_profiles"
}
