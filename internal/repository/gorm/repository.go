package gormrepository

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"fundflow/internal/models"
	"fundflow/internal/repository"
)

type Store struct {
	db *gorm.DB
}

var _ repository.Repository = (*Store)(nil)

func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

func (s *Store) InTx(ctx context.Context, fn func(tx repository.Repository) error) error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Store{db: tx})
	})
}

// --- transactions -----------------------------------------------------------

func (s *Store) InsertTransaction(ctx context.Context, item *models.Transaction) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	return translate(s.db.WithContext(ctx).Create(item).Error)
}

func (s *Store) GetTransactionByID(ctx context.Context, id uuid.UUID) (*models.Transaction, error) {
	if s == nil || s.db == nil || id == uuid.Nil {
		return nil, nil
	}
	return first[models.Transaction](s.db.WithContext(ctx).Where("id = ?", id))
}

func (s *Store) GetTransactionByProviderRef(ctx context.Context, providerRef string) (*models.Transaction, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	providerRef = strings.TrimSpace(providerRef)
	if providerRef == "" {
		return nil, nil
	}
	return first[models.Transaction](s.db.WithContext(ctx).Where("provider_ref = ?", providerRef))
}

func (s *Store) UpdateTransaction(ctx context.Context, id uuid.UUID, from []string, patch repository.TransactionPatch) (int64, error) {
	if s == nil || s.db == nil || id == uuid.Nil {
		return 0, nil
	}
	updates := map[string]any{"updated_at": time.Now().UTC()}
	if patch.Status != "" {
		updates["status"] = patch.Status
	}
	if patch.Provider != nil {
		updates["provider"] = *patch.Provider
	}
	if patch.ProviderRef != nil {
		updates["provider_ref"] = *patch.ProviderRef
	}
	if patch.RedirectURL != nil {
		updates["redirect_url"] = *patch.RedirectURL
	}
	if patch.FailureReason != nil {
		updates["failure_reason"] = *patch.FailureReason
	}
	if patch.RefundRef != nil {
		updates["refund_ref"] = *patch.RefundRef
	}
	if len(patch.Metadata) > 0 {
		updates["provider_metadata"] = datatypes.JSON(patch.Metadata)
	}
	if patch.CompletedAt != nil {
		updates["completed_at"] = *patch.CompletedAt
	}
	return conditionalUpdate(s.db.WithContext(ctx).Model(&models.Transaction{}), id, from, updates)
}

func (s *Store) ListTransactions(ctx context.Context, params repository.ListTransactionsParams) ([]models.Transaction, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := transactionFilters(s.db.WithContext(ctx).Model(&models.Transaction{}), params)
	query = applyOrder(query, params.OrderBy, params.Asc, "created_at")
	var items []models.Transaction
	if err := query.Limit(normalizeLimit(params.Limit, 100)).Offset(normalizeOffset(params.Offset)).Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) CountTransactions(ctx context.Context, params repository.ListTransactionsParams) (int64, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	var total int64
	err := transactionFilters(s.db.WithContext(ctx).Model(&models.Transaction{}), params).Count(&total).Error
	return total, err
}

func transactionFilters(query *gorm.DB, params repository.ListTransactionsParams) *gorm.DB {
	if params.Status != nil && strings.TrimSpace(*params.Status) != "" {
		query = query.Where("status = ?", strings.TrimSpace(*params.Status))
	}
	if params.PayerID != nil {
		query = query.Where("payer_id = ?", *params.PayerID)
	}
	if params.InvestmentID != nil {
		query = query.Where("investment_id = ?", *params.InvestmentID)
	}
	return query
}

func (s *Store) ListStalePendingTransactions(ctx context.Context, before time.Time, limit int) ([]models.Transaction, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var items []models.Transaction
	err := s.db.WithContext(ctx).
		Model(&models.Transaction{}).
		Where("status = ? AND provider_ref IS NOT NULL AND created_at < ?", models.TransactionStatusPending, before).
		Order("created_at asc").
		Limit(normalizeLimit(limit, 100)).
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

// --- investors & campaigns --------------------------------------------------

func (s *Store) GetInvestorProfile(ctx context.Context, id uuid.UUID) (*models.InvestorProfile, error) {
	if s == nil || s.db == nil || id == uuid.Nil {
		return nil, nil
	}
	return first[models.InvestorProfile](s.db.WithContext(ctx).Where("id = ?", id))
}

func (s *Store) UpsertInvestorProfile(ctx context.Context, item *models.InvestorProfile) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"kyc_status", "updated_at"}),
	}).Create(item).Error
}

func (s *Store) GetCampaignByID(ctx context.Context, id uuid.UUID) (*models.Campaign, error) {
	if s == nil || s.db == nil || id == uuid.Nil {
		return nil, nil
	}
	return first[models.Campaign](s.db.WithContext(ctx).Where("id = ?", id))
}

// UpsertCampaign syncs the descriptive columns from the campaign service.
// Raised, sold, investor count and version are never overwritten here.
func (s *Store) UpsertCampaign(ctx context.Context, item *models.Campaign) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"title",
			"status",
			"target_amount",
			"share_price",
			"total_shares",
			"min_investment",
			"max_investment",
			"end_date",
			"updated_at",
		}),
	}).Create(item).Error
}

func (s *Store) ApplyCampaignCapacity(ctx context.Context, delta repository.CapacityDelta) (int64, error) {
	if s == nil || s.db == nil || delta.CampaignID == uuid.Nil {
		return 0, nil
	}
	res := s.db.WithContext(ctx).
		Model(&models.Campaign{}).
		Where("id = ? AND version = ?", delta.CampaignID, delta.ExpectedVersion).
		Where("raised_amount + ? <= target_amount AND sold_shares + ? <= total_shares", delta.Amount, delta.Shares).
		Where("raised_amount + ? >= 0 AND sold_shares + ? >= 0", delta.Amount, delta.Shares).
		Updates(map[string]any{
			"raised_amount":  gorm.Expr("raised_amount + ?", delta.Amount),
			"sold_shares":    gorm.Expr("sold_shares + ?", delta.Shares),
			"investor_count": gorm.Expr("GREATEST(investor_count + ?, 0)", delta.Investors),
			"version":        gorm.Expr("version + 1"),
			"updated_at":     time.Now().UTC(),
		})
	return res.RowsAffected, res.Error
}

// --- investments ------------------------------------------------------------

func (s *Store) InsertInvestment(ctx context.Context, item *models.Investment) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	return translate(s.db.WithContext(ctx).Create(item).Error)
}

func (s *Store) GetInvestmentByID(ctx context.Context, id uuid.UUID) (*models.Investment, error) {
	if s == nil || s.db == nil || id == uuid.Nil {
		return nil, nil
	}
	return first[models.Investment](s.db.WithContext(ctx).Where("id = ?", id))
}

func (s *Store) FindOpenInvestment(ctx context.Context, investorID, campaignID uuid.UUID) (*models.Investment, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	return first[models.Investment](s.db.WithContext(ctx).
		Where("investor_id = ? AND campaign_id = ? AND status <> ?", investorID, campaignID, models.InvestmentStatusCancelled))
}

func (s *Store) UpdateInvestment(ctx context.Context, id uuid.UUID, from []string, patch repository.InvestmentPatch) (int64, error) {
	if s == nil || s.db == nil || id == uuid.Nil {
		return 0, nil
	}
	updates := map[string]any{"updated_at": time.Now().UTC()}
	if patch.Status != "" {
		updates["status"] = patch.Status
	}
	if patch.CoolingOffExpiresAt != nil {
		updates["cooling_off_expires_at"] = *patch.CoolingOffExpiresAt
	}
	if patch.PaymentInitiatedAt != nil {
		updates["payment_initiated_at"] = *patch.PaymentInitiatedAt
	}
	if patch.CompletedAt != nil {
		updates["completed_at"] = *patch.CompletedAt
	}
	if patch.CancelledAt != nil {
		updates["cancelled_at"] = *patch.CancelledAt
	}
	if patch.RefundedAt != nil {
		updates["refunded_at"] = *patch.RefundedAt
	}
	if patch.CancellationReason != nil {
		updates["cancellation_reason"] = *patch.CancellationReason
	}
	return conditionalUpdate(s.db.WithContext(ctx).Model(&models.Investment{}), id, from, updates)
}

func (s *Store) ListInvestments(ctx context.Context, params repository.ListInvestmentsParams) ([]models.Investment, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := investmentFilters(s.db.WithContext(ctx).Model(&models.Investment{}), params)
	query = applyOrder(query, params.OrderBy, params.Asc, "created_at")
	var items []models.Investment
	if err := query.Limit(normalizeLimit(params.Limit, 100)).Offset(normalizeOffset(params.Offset)).Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) CountInvestments(ctx context.Context, params repository.ListInvestmentsParams) (int64, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	var total int64
	err := investmentFilters(s.db.WithContext(ctx).Model(&models.Investment{}), params).Count(&total).Error
	return total, err
}

func investmentFilters(query *gorm.DB, params repository.ListInvestmentsParams) *gorm.DB {
	if params.Status != nil && strings.TrimSpace(*params.Status) != "" {
		query = query.Where("status = ?", strings.TrimSpace(*params.Status))
	}
	if params.InvestorID != nil {
		query = query.Where("investor_id = ?", *params.InvestorID)
	}
	if params.CampaignID != nil {
		query = query.Where("campaign_id = ?", *params.CampaignID)
	}
	return query
}

func (s *Store) ListDueCoolingOff(ctx context.Context, now time.Time, limit int) ([]models.Investment, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var items []models.Investment
	err := s.db.WithContext(ctx).
		Model(&models.Investment{}).
		Where("status = ? AND cooling_off_expires_at <= ?", models.InvestmentStatusCoolingOff, now).
		Order("cooling_off_expires_at asc").
		Limit(normalizeLimit(limit, 100)).
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

// --- marketplace ------------------------------------------------------------

func (s *Store) InsertListing(ctx context.Context, item *models.MarketplaceListing) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	return translate(s.db.WithContext(ctx).Create(item).Error)
}

func (s *Store) GetListingByID(ctx context.Context, id uuid.UUID) (*models.MarketplaceListing, error) {
	if s == nil || s.db == nil || id == uuid.Nil {
		return nil, nil
	}
	return first[models.MarketplaceListing](s.db.WithContext(ctx).Where("id = ?", id))
}

func (s *Store) LockListing(ctx context.Context, id uuid.UUID) (*models.MarketplaceListing, error) {
	if s == nil || s.db == nil || id == uuid.Nil {
		return nil, nil
	}
	return first[models.MarketplaceListing](s.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id))
}

func (s *Store) FindActiveListingByInvestment(ctx context.Context, investmentID uuid.UUID) (*models.MarketplaceListing, error) {
	if s == nil || s.db == nil || investmentID == uuid.Nil {
		return nil, nil
	}
	return first[models.MarketplaceListing](s.db.WithContext(ctx).
		Where("investment_id = ? AND status = ?", investmentID, models.ListingStatusActive))
}

func (s *Store) UpdateListing(ctx context.Context, id uuid.UUID, from []string, patch repository.ListingPatch) (int64, error) {
	if s == nil || s.db == nil || id == uuid.Nil {
		return 0, nil
	}
	updates := map[string]any{"updated_at": time.Now().UTC()}
	if patch.Status != "" {
		updates["status"] = patch.Status
	}
	if patch.BuyerID != nil {
		updates["buyer_id"] = *patch.BuyerID
	}
	if patch.SoldAt != nil {
		updates["sold_at"] = *patch.SoldAt
	}
	if patch.CancelledAt != nil {
		updates["cancelled_at"] = *patch.CancelledAt
	}
	return conditionalUpdate(s.db.WithContext(ctx).Model(&models.MarketplaceListing{}), id, from, updates)
}

func (s *Store) ExpireListings(ctx context.Context, now time.Time) (int64, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	res := s.db.WithContext(ctx).
		Model(&models.MarketplaceListing{}).
		Where("status = ? AND expires_at <= ?", models.ListingStatusActive, now).
		Updates(map[string]any{"status": models.ListingStatusExpired, "updated_at": now})
	return res.RowsAffected, res.Error
}

func (s *Store) SumSoldShares(ctx context.Context, investmentID uuid.UUID) (int64, error) {
	if s == nil || s.db == nil || investmentID == uuid.Nil {
		return 0, nil
	}
	var total int64
	err := s.db.WithContext(ctx).
		Model(&models.MarketplaceListing{}).
		Select("COALESCE(SUM(shares_listed), 0)").
		Where("investment_id = ? AND status = ?", investmentID, models.ListingStatusSold).
		Scan(&total).Error
	return total, err
}

func (s *Store) ListListings(ctx context.Context, params repository.ListListingsParams) ([]models.MarketplaceListing, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := listingFilters(s.db.WithContext(ctx).Model(&models.MarketplaceListing{}), params)
	query = applyOrder(query, params.OrderBy, params.Asc, "created_at")
	var items []models.MarketplaceListing
	if err := query.Limit(normalizeLimit(params.Limit, 100)).Offset(normalizeOffset(params.Offset)).Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) CountListings(ctx context.Context, params repository.ListListingsParams) (int64, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	var total int64
	err := listingFilters(s.db.WithContext(ctx).Model(&models.MarketplaceListing{}), params).Count(&total).Error
	return total, err
}

func listingFilters(query *gorm.DB, params repository.ListListingsParams) *gorm.DB {
	if params.Status != nil && strings.TrimSpace(*params.Status) != "" {
		query = query.Where("status = ?", strings.TrimSpace(*params.Status))
	}
	if params.SellerID != nil {
		query = query.Where("seller_id = ?", *params.SellerID)
	}
	if params.CampaignID != nil {
		query = query.Where("campaign_id = ?", *params.CampaignID)
	}
	return query
}

func (s *Store) InsertMarketplaceTransaction(ctx context.Context, item *models.MarketplaceTransaction) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	return translate(s.db.WithContext(ctx).Create(item).Error)
}

func (s *Store) GetMarketplaceTransactionByID(ctx context.Context, id uuid.UUID) (*models.MarketplaceTransaction, error) {
	if s == nil || s.db == nil || id == uuid.Nil {
		return nil, nil
	}
	return first[models.MarketplaceTransaction](s.db.WithContext(ctx).Where("id = ?", id))
}

func (s *Store) UpdateMarketplaceTransaction(ctx context.Context, id uuid.UUID, from []string, status string, at time.Time) (int64, error) {
	if s == nil || s.db == nil || id == uuid.Nil || strings.TrimSpace(status) == "" {
		return 0, nil
	}
	updates := map[string]any{"status": status, "updated_at": at}
	if status == models.MarketTxStatusCompleted {
		updates["completed_at"] = at
	}
	return conditionalUpdate(s.db.WithContext(ctx).Model(&models.MarketplaceTransaction{}), id, from, updates)
}

// --- ops --------------------------------------------------------------------

func (s *Store) InsertDeadLetter(ctx context.Context, item *models.DeadLetter) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	return s.db.WithContext(ctx).Create(item).Error
}

func (s *Store) ListDeadLetters(ctx context.Context, params repository.ListDeadLettersParams) ([]models.DeadLetter, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := s.db.WithContext(ctx).Model(&models.DeadLetter{})
	if params.Topic != nil && strings.TrimSpace(*params.Topic) != "" {
		query = query.Where("topic = ?", strings.TrimSpace(*params.Topic))
	}
	query = applyOrder(query, params.OrderBy, params.Asc, "created_at")
	var items []models.DeadLetter
	if err := query.Limit(normalizeLimit(params.Limit, 100)).Offset(normalizeOffset(params.Offset)).Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) CountDeadLetters(ctx context.Context, params repository.ListDeadLettersParams) (int64, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	query := s.db.WithContext(ctx).Model(&models.DeadLetter{})
	if params.Topic != nil && strings.TrimSpace(*params.Topic) != "" {
		query = query.Where("topic = ?", strings.TrimSpace(*params.Topic))
	}
	var total int64
	err := query.Count(&total).Error
	return total, err
}

func (s *Store) UpsertSystemSetting(ctx context.Context, item *models.SystemSetting) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	item.Key = strings.TrimSpace(item.Key)
	if item.Key == "" {
		return nil
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"value",
			"description",
			"updated_by",
			"updated_at",
		}),
	}).Create(item).Error
}

func (s *Store) GetSystemSettingByKey(ctx context.Context, key string) (*models.SystemSetting, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, nil
	}
	return first[models.SystemSetting](s.db.WithContext(ctx).Where("key = ?", key))
}

func (s *Store) ListSystemSettings(ctx context.Context, params repository.ListSystemSettingsParams) ([]models.SystemSetting, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := s.db.WithContext(ctx).Model(&models.SystemSetting{})
	if params.Prefix != nil && strings.TrimSpace(*params.Prefix) != "" {
		query = query.Where("key LIKE ?", strings.TrimSpace(*params.Prefix)+"%")
	}
	query = applyOrder(query, params.OrderBy, params.Asc, "key")
	var items []models.SystemSetting
	if err := query.Limit(normalizeLimit(params.Limit, 500)).Offset(normalizeOffset(params.Offset)).Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) CountSystemSettings(ctx context.Context, params repository.ListSystemSettingsParams) (int64, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	query := s.db.WithContext(ctx).Model(&models.SystemSetting{})
	if params.Prefix != nil && strings.TrimSpace(*params.Prefix) != "" {
		query = query.Where("key LIKE ?", strings.TrimSpace(*params.Prefix)+"%")
	}
	var total int64
	err := query.Count(&total).Error
	return total, err
}

// --- helpers ----------------------------------------------------------------

func first[T any](query *gorm.DB) (*T, error) {
	var item T
	err := query.First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func conditionalUpdate(query *gorm.DB, id uuid.UUID, from []string, updates map[string]any) (int64, error) {
	query = query.Where("id = ?", id)
	if from = cleanStrings(from); len(from) > 0 {
		query = query.Where("status IN ?", from)
	}
	res := query.Updates(updates)
	return res.RowsAffected, res.Error
}

func translate(err error) error {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return repository.ErrDuplicate
	}
	return err
}

func applyOrder(query *gorm.DB, orderBy string, asc *bool, fallback string) *gorm.DB {
	column := strings.TrimSpace(orderBy)
	if column == "" {
		column = fallback
	}
	direction := "desc"
	if asc != nil && *asc {
		direction = "asc"
	}
	return query.Order(column + " " + direction)
}

func normalizeLimit(limit, fallback int) int {
	if limit <= 0 {
		return fallback
	}
	if limit > 500 {
		return 500
	}
	return limit
}

func normalizeOffset(offset int) int {
	if offset < 0 {
		return 0
	}
	return offset
}

func cleanStrings(items []string) []string {
	out := make([]string, 0, len(items))
	seen := map[string]struct{}{}
	for _, raw := range items {
		val := strings.TrimSpace(raw)
		if val == "" {
			continue
		}
		if _, ok := seen[val]; ok {
			continue
		}
		seen[val] = struct{}{}
		out = append(out, val)
	}
	return out
}
