package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"fundflow/internal/models"
)

type PaymentRepository interface {
	InsertTransaction(ctx context.Context, item *models.Transaction) error
	GetTransactionByID(ctx context.Context, id uuid.UUID) (*models.Transaction, error)
	GetTransactionByProviderRef(ctx context.Context, providerRef string) (*models.Transaction, error)
	// UpdateTransaction applies patch only while the row is in one of from
	// and reports the number of rows changed.
	UpdateTransaction(ctx context.Context, id uuid.UUID, from []string, patch TransactionPatch) (int64, error)
	ListTransactions(ctx context.Context, params ListTransactionsParams) ([]models.Transaction, error)
	CountTransactions(ctx context.Context, params ListTransactionsParams) (int64, error)
	ListStalePendingTransactions(ctx context.Context, before time.Time, limit int) ([]models.Transaction, error)
}

type CampaignRepository interface {
	GetInvestorProfile(ctx context.Context, id uuid.UUID) (*models.InvestorProfile, error)
	UpsertInvestorProfile(ctx context.Context, item *models.InvestorProfile) error
	GetCampaignByID(ctx context.Context, id uuid.UUID) (*models.Campaign, error)
	UpsertCampaign(ctx context.Context, item *models.Campaign) error
	// ApplyCampaignCapacity is a compare-and-swap on the campaign version.
	// Zero affected rows means the version moved or the delta would break
	// the raised/target or sold/total bounds.
	ApplyCampaignCapacity(ctx context.Context, delta CapacityDelta) (int64, error)
}

type InvestmentRepository interface {
	InsertInvestment(ctx context.Context, item *models.Investment) error
	GetInvestmentByID(ctx context.Context, id uuid.UUID) (*models.Investment, error)
	FindOpenInvestment(ctx context.Context, investorID, campaignID uuid.UUID) (*models.Investment, error)
	UpdateInvestment(ctx context.Context, id uuid.UUID, from []string, patch InvestmentPatch) (int64, error)
	ListInvestments(ctx context.Context, params ListInvestmentsParams) ([]models.Investment, error)
	CountInvestments(ctx context.Context, params ListInvestmentsParams) (int64, error)
	ListDueCoolingOff(ctx context.Context, now time.Time, limit int) ([]models.Investment, error)
}

type MarketplaceRepository interface {
	InsertListing(ctx context.Context, item *models.MarketplaceListing) error
	GetListingByID(ctx context.Context, id uuid.UUID) (*models.MarketplaceListing, error)
	// LockListing reads the listing with a row lock; only meaningful in InTx.
	LockListing(ctx context.Context, id uuid.UUID) (*models.MarketplaceListing, error)
	FindActiveListingByInvestment(ctx context.Context, investmentID uuid.UUID) (*models.MarketplaceListing, error)
	UpdateListing(ctx context.Context, id uuid.UUID, from []string, patch ListingPatch) (int64, error)
	ExpireListings(ctx context.Context, now time.Time) (int64, error)
	SumSoldShares(ctx context.Context, investmentID uuid.UUID) (int64, error)
	ListListings(ctx context.Context, params ListListingsParams) ([]models.MarketplaceListing, error)
	CountListings(ctx context.Context, params ListListingsParams) (int64, error)

	InsertMarketplaceTransaction(ctx context.Context, item *models.MarketplaceTransaction) error
	GetMarketplaceTransactionByID(ctx context.Context, id uuid.UUID) (*models.MarketplaceTransaction, error)
	UpdateMarketplaceTransaction(ctx context.Context, id uuid.UUID, from []string, status string, at time.Time) (int64, error)
}

type OpsRepository interface {
	InsertDeadLetter(ctx context.Context, item *models.DeadLetter) error
	ListDeadLetters(ctx context.Context, params ListDeadLettersParams) ([]models.DeadLetter, error)
	CountDeadLetters(ctx context.Context, params ListDeadLettersParams) (int64, error)

	UpsertSystemSetting(ctx context.Context, item *models.SystemSetting) error
	GetSystemSettingByKey(ctx context.Context, key string) (*models.SystemSetting, error)
	ListSystemSettings(ctx context.Context, params ListSystemSettingsParams) ([]models.SystemSetting, error)
	CountSystemSettings(ctx context.Context, params ListSystemSettingsParams) (int64, error)
}

type Repository interface {
	// InTx runs fn against a repository bound to one database transaction.
	// Returning an error from fn rolls every write back.
	InTx(ctx context.Context, fn func(tx Repository) error) error

	PaymentRepository
	CampaignRepository
	InvestmentRepository
	MarketplaceRepository
	OpsRepository
}

// CapacityDelta is a signed increment against one campaign version.
type CapacityDelta struct {
	CampaignID      uuid.UUID
	Amount          decimal.Decimal
	Shares          int64
	Investors       int64
	ExpectedVersion int64
}

// TransactionPatch lists the columns a status change may touch. Nil fields
// are left as they are.
type TransactionPatch struct {
	Status        string
	Provider      *string
	ProviderRef   *string
	RedirectURL   *string
	FailureReason *string
	RefundRef     *string
	Metadata      []byte
	CompletedAt   *time.Time
}

type InvestmentPatch struct {
	Status              string
	CoolingOffExpiresAt *time.Time
	PaymentInitiatedAt  *time.Time
	CompletedAt         *time.Time
	CancelledAt         *time.Time
	RefundedAt          *time.Time
	CancellationReason  *string
}

type ListingPatch struct {
	Status      string
	BuyerID     *uuid.UUID
	SoldAt      *time.Time
	CancelledAt *time.Time
}

type ListTransactionsParams struct {
	Limit        int
	Offset       int
	Status       *string
	PayerID      *uuid.UUID
	InvestmentID *uuid.UUID
	OrderBy      string
	Asc          *bool
}

type ListInvestmentsParams struct {
	Limit      int
	Offset     int
	Status     *string
	InvestorID *uuid.UUID
	CampaignID *uuid.UUID
	OrderBy    string
	Asc        *bool
}

type ListListingsParams struct {
	Limit      int
	Offset     int
	Status     *string
	SellerID   *uuid.UUID
	CampaignID *uuid.UUID
	OrderBy    string
	Asc        *bool
}

type ListDeadLettersParams struct {
	Limit   int
	Offset  int
	Topic   *string
	OrderBy string
	Asc     *bool
}

type ListSystemSettingsParams struct {
	Limit   int
	Offset  int
	Prefix  *string
	OrderBy string
	Asc     *bool
}

// ErrDuplicate is returned by inserts that hit a unique constraint, such as
// the one-open-investment-per-campaign or one-active-listing indexes.
var ErrDuplicate = errors.New("repository: duplicate key")
