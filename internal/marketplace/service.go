// Package marketplace settles secondary-market resales of completed
// investments through escrow.
package marketplace

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"fundflow/internal/apperr"
	"fundflow/internal/events"
	"fundflow/internal/models"
	"fundflow/internal/repository"
)

const (
	DefaultHoldingPeriodDays = 365
	DefaultListingTTL        = 30 * 24 * time.Hour
)

var DefaultSellerFeeRate = decimal.RequireFromString("0.02")

// CalculateSellerFee is the platform fee on a sale: 2% of total, rounded
// half-up to two decimal places.
func CalculateSellerFee(total decimal.Decimal) decimal.Decimal {
	return sellerFee(total, DefaultSellerFeeRate)
}

func sellerFee(total, rate decimal.Decimal) decimal.Decimal {
	return total.Mul(rate).Round(2)
}

type Service struct {
	Repo      repository.Repository
	Publisher events.Publisher
	Topic     string
	Logger    *zap.Logger

	HoldingPeriodDays int
	FeeRate           decimal.Decimal
	ListingTTL        time.Duration

	now func() time.Time
}

func NewService(repo repository.Repository, pub events.Publisher, topic string, logger *zap.Logger) *Service {
	return &Service{
		Repo:              repo,
		Publisher:         pub,
		Topic:             topic,
		Logger:            logger,
		HoldingPeriodDays: DefaultHoldingPeriodDays,
		FeeRate:           DefaultSellerFeeRate,
		ListingTTL:        DefaultListingTTL,
	}
}

type CreateListingInput struct {
	SellerID       uuid.UUID
	InvestmentID   uuid.UUID
	Shares         int64
	PricePerShare  decimal.Decimal
	CompanyConsent bool
}

// CreateListing offers shares of a completed investment for resale.
func (s *Service) CreateListing(ctx context.Context, in CreateListingInput) (*models.MarketplaceListing, error) {
	inv, err := s.Repo.GetInvestmentByID(ctx, in.InvestmentID)
	if err != nil {
		return nil, fmt.Errorf("load investment: %w", err)
	}
	if inv == nil {
		return nil, apperr.ErrInvestmentNotFound
	}
	if inv.InvestorID != in.SellerID {
		return nil, apperr.ErrNotInvestmentOwner
	}
	if inv.Status != models.InvestmentStatusCompleted || inv.CompletedAt == nil {
		return nil, apperr.ErrInvestmentNotCompleted
	}
	now := s.clock().UTC()
	if remaining := s.holdingDaysRemaining(*inv.CompletedAt, now); remaining > 0 {
		return nil, apperr.Validation(apperr.CodeHoldingPeriodNotMet, "%d days remaining", remaining)
	}
	if !in.CompanyConsent {
		return nil, apperr.ErrConsentRequired
	}
	sold, err := s.Repo.SumSoldShares(ctx, inv.ID)
	if err != nil {
		return nil, fmt.Errorf("sum sold shares: %w", err)
	}
	available := inv.Shares - sold
	if in.Shares <= 0 || in.Shares > available {
		return nil, apperr.Validation(apperr.CodeInsufficientShares, "%d shares available to list", available)
	}
	if !in.PricePerShare.IsPositive() {
		return nil, apperr.ErrInvalidPrice
	}

	active, err := s.Repo.FindActiveListingByInvestment(ctx, inv.ID)
	if err != nil {
		return nil, fmt.Errorf("find active listing: %w", err)
	}
	if active != nil {
		if !now.After(active.ExpiresAt) {
			return nil, apperr.ErrDuplicateListing
		}
		// Stale listing the sweep has not reached yet.
		if _, err := s.Repo.UpdateListing(ctx, active.ID, []string{models.ListingStatusActive}, repository.ListingPatch{
			Status: models.ListingStatusExpired,
		}); err != nil {
			return nil, fmt.Errorf("expire stale listing: %w", err)
		}
		s.emit(ctx, events.TypeListingExpired, active, nil)
	}

	total := in.PricePerShare.Mul(decimal.NewFromInt(in.Shares))
	l := &models.MarketplaceListing{
		ID:             uuid.New(),
		SellerID:       in.SellerID,
		InvestmentID:   inv.ID,
		CampaignID:     inv.CampaignID,
		SharesListed:   in.Shares,
		PricePerShare:  in.PricePerShare,
		TotalPrice:     total,
		SellerFee:      sellerFee(total, s.feeRate()),
		Status:         models.ListingStatusActive,
		CompanyConsent: true,
		ExpiresAt:      now.Add(s.listingTTL()),
	}
	if err := s.Repo.InsertListing(ctx, l); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, apperr.ErrDuplicateListing
		}
		return nil, fmt.Errorf("insert listing: %w", err)
	}
	s.emit(ctx, events.TypeListingCreated, l, nil)
	return l, nil
}

// BuyListing settles a purchase: the buyer's holding, escrow transaction,
// listing SOLD and escrow release all commit together. A listing found past
// its expiry is flipped to EXPIRED and the purchase refused. The buyer's
// holding is a COMPLETED investment dated at the sale, so the holding period
// restarts before it can be listed again.
func (s *Service) BuyListing(ctx context.Context, listingID, buyerID uuid.UUID) (*models.MarketplaceTransaction, error) {
	var (
		bought  *models.MarketplaceTransaction
		listing *models.MarketplaceListing
		expired bool
	)
	err := s.Repo.InTx(ctx, func(tx repository.Repository) error {
		l, err := tx.LockListing(ctx, listingID)
		if err != nil {
			return fmt.Errorf("lock listing: %w", err)
		}
		if l == nil {
			return apperr.ErrListingNotFound
		}
		if l.Status != models.ListingStatusActive {
			return apperr.ErrListingNotActive
		}
		now := s.clock().UTC()
		if now.After(l.ExpiresAt) {
			if _, err := tx.UpdateListing(ctx, l.ID, []string{models.ListingStatusActive}, repository.ListingPatch{
				Status: models.ListingStatusExpired,
			}); err != nil {
				return fmt.Errorf("expire listing: %w", err)
			}
			l.Status = models.ListingStatusExpired
			listing, expired = l, true
			return nil
		}
		if l.SellerID == buyerID {
			return apperr.ErrSelfPurchase
		}

		holding := &models.Investment{
			ID:          uuid.New(),
			InvestorID:  buyerID,
			CampaignID:  l.CampaignID,
			Amount:      l.TotalPrice,
			Shares:      l.SharesListed,
			SharePrice:  l.PricePerShare,
			Status:      models.InvestmentStatusCompleted,
			CompletedAt: &now,
		}
		if err := tx.InsertInvestment(ctx, holding); err != nil {
			if errors.Is(err, repository.ErrDuplicate) {
				return apperr.Conflict(apperr.CodeDuplicateInvestment, "buyer already holds an investment in campaign %s", l.CampaignID)
			}
			return fmt.Errorf("insert buyer holding: %w", err)
		}

		mtx := &models.MarketplaceTransaction{
			ID:                uuid.New(),
			ListingID:         l.ID,
			BuyerID:           buyerID,
			SellerID:          l.SellerID,
			BuyerInvestmentID: &holding.ID,
			Shares:            l.SharesListed,
			PricePerShare:     l.PricePerShare,
			TotalAmount:       l.TotalPrice,
			SellerFee:         l.SellerFee,
			NetAmount:         l.TotalPrice.Sub(l.SellerFee),
			Status:            models.MarketTxStatusEscrow,
			EscrowedAt:        &now,
		}
		if err := tx.InsertMarketplaceTransaction(ctx, mtx); err != nil {
			return fmt.Errorf("insert marketplace transaction: %w", err)
		}
		rows, err := tx.UpdateListing(ctx, l.ID, []string{models.ListingStatusActive}, repository.ListingPatch{
			Status:  models.ListingStatusSold,
			BuyerID: &buyerID,
			SoldAt:  &now,
		})
		if err != nil {
			return fmt.Errorf("mark listing sold: %w", err)
		}
		if rows == 0 {
			return apperr.ErrListingNotActive
		}
		rows, err = tx.UpdateMarketplaceTransaction(ctx, mtx.ID, []string{models.MarketTxStatusEscrow}, models.MarketTxStatusCompleted, now)
		if err != nil {
			return fmt.Errorf("release escrow: %w", err)
		}
		if rows == 0 {
			return fmt.Errorf("marketplace transaction %s left escrow early", mtx.ID)
		}
		mtx.Status = models.MarketTxStatusCompleted
		mtx.CompletedAt = &now
		l.Status = models.ListingStatusSold
		l.BuyerID = &buyerID
		l.SoldAt = &now
		bought, listing = mtx, l
		return nil
	})
	if err != nil {
		return nil, err
	}
	if expired {
		s.emit(ctx, events.TypeListingExpired, listing, nil)
		return nil, apperr.ErrListingExpired
	}
	s.emit(ctx, events.TypeListingSold, listing, bought)
	s.logger().Info("listing sold",
		zap.String("listing_id", listing.ID.String()),
		zap.String("transaction_id", bought.ID.String()),
		zap.String("buyer_investment_id", bought.BuyerInvestmentID.String()),
		zap.String("total", bought.TotalAmount.String()),
	)
	return bought, nil
}

func (s *Service) CancelListing(ctx context.Context, listingID, sellerID uuid.UUID) (*models.MarketplaceListing, error) {
	l, err := s.Repo.GetListingByID(ctx, listingID)
	if err != nil {
		return nil, fmt.Errorf("load listing: %w", err)
	}
	if l == nil {
		return nil, apperr.ErrListingNotFound
	}
	if l.SellerID != sellerID {
		return nil, apperr.Forbidden(apperr.CodeNotInvestmentOwner, "only the seller can cancel a listing")
	}
	now := s.clock().UTC()
	rows, err := s.Repo.UpdateListing(ctx, l.ID, []string{models.ListingStatusActive}, repository.ListingPatch{
		Status:      models.ListingStatusCancelled,
		CancelledAt: &now,
	})
	if err != nil {
		return nil, fmt.Errorf("cancel listing: %w", err)
	}
	if rows == 0 {
		return nil, apperr.ErrListingNotActive
	}
	l.Status = models.ListingStatusCancelled
	l.CancelledAt = &now
	s.emit(ctx, events.TypeListingCancelled, l, nil)
	return l, nil
}

// ExpireListings flips every ACTIVE listing past its expiry to EXPIRED.
func (s *Service) ExpireListings(ctx context.Context, now time.Time) (int64, error) {
	n, err := s.Repo.ExpireListings(ctx, now.UTC())
	if err != nil {
		return 0, fmt.Errorf("expire listings: %w", err)
	}
	if n > 0 {
		s.logger().Info("listings expired", zap.Int64("count", n))
	}
	return n, nil
}

func (s *Service) GetListing(ctx context.Context, id uuid.UUID) (*models.MarketplaceListing, error) {
	l, err := s.Repo.GetListingByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if l == nil {
		return nil, apperr.ErrListingNotFound
	}
	return l, nil
}

func (s *Service) ListListings(ctx context.Context, params repository.ListListingsParams) ([]models.MarketplaceListing, int64, error) {
	items, err := s.Repo.ListListings(ctx, params)
	if err != nil {
		return nil, 0, err
	}
	total, err := s.Repo.CountListings(ctx, params)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

func (s *Service) holdingDaysRemaining(completedAt, now time.Time) int {
	days := s.HoldingPeriodDays
	if days <= 0 {
		days = DefaultHoldingPeriodDays
	}
	held := int(now.Sub(completedAt) / (24 * time.Hour))
	if held >= days {
		return 0
	}
	return days - held
}

func (s *Service) emit(ctx context.Context, eventType string, l *models.MarketplaceListing, mtx *models.MarketplaceTransaction) {
	evt := events.ListingEvent{
		ListingID:    l.ID.String(),
		InvestmentID: l.InvestmentID.String(),
		CampaignID:   l.CampaignID.String(),
		SellerID:     l.SellerID.String(),
		Status:       l.Status,
		Shares:       l.SharesListed,
		TotalPrice:   l.TotalPrice.StringFixed(2),
		SellerFee:    l.SellerFee.StringFixed(2),
		At:           s.clock().UTC(),
	}
	if l.BuyerID != nil {
		evt.BuyerID = l.BuyerID.String()
	}
	if mtx != nil {
		evt.TransactionID = mtx.ID.String()
	}
	if err := events.Emit(ctx, s.Publisher, s.Topic, eventType, l.ID.String(), evt); err != nil {
		s.logger().Warn("listing event publish failed",
			zap.String("listing_id", l.ID.String()),
			zap.String("event_type", eventType),
			zap.Error(err),
		)
	}
}

// SellerFee is the fee this service charges on a sale of total.
func (s *Service) SellerFee(total decimal.Decimal) decimal.Decimal {
	return sellerFee(total, s.feeRate())
}

func (s *Service) feeRate() decimal.Decimal {
	if s.FeeRate.IsZero() {
		return DefaultSellerFeeRate
	}
	return s.FeeRate
}

func (s *Service) listingTTL() time.Duration {
	if s.ListingTTL <= 0 {
		return DefaultListingTTL
	}
	return s.ListingTTL
}

func (s *Service) clock() time.Time {
	if s.now != nil {
		return s.now()
	}
	return time.Now()
}

func (s *Service) logger() *zap.Logger {
	if s == nil || s.Logger == nil {
		return zap.NewNop()
	}
	return s.Logger
}
