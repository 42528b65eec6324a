// Package memory is an in-process implementation of repository.Repository.
// It backs tests and single-node development runs; InTx serialises writers
// and restores a snapshot when the callback fails.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"fundflow/internal/models"
	"fundflow/internal/repository"
)

type state struct {
	transactions map[uuid.UUID]models.Transaction
	investors    map[uuid.UUID]models.InvestorProfile
	campaigns    map[uuid.UUID]models.Campaign
	investments  map[uuid.UUID]models.Investment
	listings     map[uuid.UUID]models.MarketplaceListing
	marketTxs    map[uuid.UUID]models.MarketplaceTransaction
	settings     map[string]models.SystemSetting
	deadLetters  []models.DeadLetter
	nextDLID     uint64
}

func newState() *state {
	return &state{
		transactions: map[uuid.UUID]models.Transaction{},
		investors:    map[uuid.UUID]models.InvestorProfile{},
		campaigns:    map[uuid.UUID]models.Campaign{},
		investments:  map[uuid.UUID]models.Investment{},
		listings:     map[uuid.UUID]models.MarketplaceListing{},
		marketTxs:    map[uuid.UUID]models.MarketplaceTransaction{},
		settings:     map[string]models.SystemSetting{},
	}
}

func (st *state) clone() *state {
	out := &state{
		transactions: cloneMap(st.transactions),
		investors:    cloneMap(st.investors),
		campaigns:    cloneMap(st.campaigns),
		investments:  cloneMap(st.investments),
		listings:     cloneMap(st.listings),
		marketTxs:    cloneMap(st.marketTxs),
		settings:     cloneMap(st.settings),
		deadLetters:  append([]models.DeadLetter(nil), st.deadLetters...),
		nextDLID:     st.nextDLID,
	}
	return out
}

func cloneMap[K comparable, V any](in map[K]V) map[K]V {
	out := make(map[K]V, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

type Store struct {
	mu   *sync.Mutex
	st   *state
	inTx bool
}

var _ repository.Repository = (*Store)(nil)

func New() *Store {
	return &Store{mu: &sync.Mutex{}, st: newState()}
}

func (s *Store) lock() func() {
	if s.inTx {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

func (s *Store) InTx(ctx context.Context, fn func(tx repository.Repository) error) error {
	if s.inTx {
		return fn(s)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	snapshot := s.st.clone()
	if err := fn(&Store{mu: s.mu, st: s.st, inTx: true}); err != nil {
		*s.st = *snapshot
		return err
	}
	return nil
}

// --- transactions -----------------------------------------------------------

func (s *Store) InsertTransaction(_ context.Context, item *models.Transaction) error {
	if item == nil {
		return nil
	}
	defer s.lock()()
	if _, ok := s.st.transactions[item.ID]; ok {
		return repository.ErrDuplicate
	}
	if item.ProviderRef != nil && s.providerRefTaken(*item.ProviderRef, item.ID) {
		return repository.ErrDuplicate
	}
	stamp(&item.CreatedAt, &item.UpdatedAt)
	s.st.transactions[item.ID] = *item
	return nil
}

func (s *Store) providerRefTaken(ref string, except uuid.UUID) bool {
	for id, tx := range s.st.transactions {
		if id != except && tx.ProviderRef != nil && *tx.ProviderRef == ref {
			return true
		}
	}
	return false
}

func (s *Store) GetTransactionByID(_ context.Context, id uuid.UUID) (*models.Transaction, error) {
	defer s.lock()()
	if item, ok := s.st.transactions[id]; ok {
		return &item, nil
	}
	return nil, nil
}

func (s *Store) GetTransactionByProviderRef(_ context.Context, providerRef string) (*models.Transaction, error) {
	providerRef = strings.TrimSpace(providerRef)
	if providerRef == "" {
		return nil, nil
	}
	defer s.lock()()
	for _, item := range s.st.transactions {
		if item.ProviderRef != nil && *item.ProviderRef == providerRef {
			return &item, nil
		}
	}
	return nil, nil
}

func (s *Store) UpdateTransaction(_ context.Context, id uuid.UUID, from []string, patch repository.TransactionPatch) (int64, error) {
	defer s.lock()()
	item, ok := s.st.transactions[id]
	if !ok || !statusIn(item.Status, from) {
		return 0, nil
	}
	if patch.ProviderRef != nil && s.providerRefTaken(*patch.ProviderRef, id) {
		return 0, repository.ErrDuplicate
	}
	if patch.Status != "" {
		item.Status = patch.Status
	}
	if patch.Provider != nil {
		item.Provider = *patch.Provider
	}
	if patch.ProviderRef != nil {
		ref := *patch.ProviderRef
		item.ProviderRef = &ref
	}
	if patch.RedirectURL != nil {
		item.RedirectURL = *patch.RedirectURL
	}
	if patch.FailureReason != nil {
		item.FailureReason = *patch.FailureReason
	}
	if patch.RefundRef != nil {
		ref := *patch.RefundRef
		item.RefundRef = &ref
	}
	if len(patch.Metadata) > 0 {
		item.ProviderMetadata = append([]byte(nil), patch.Metadata...)
	}
	if patch.CompletedAt != nil {
		at := *patch.CompletedAt
		item.CompletedAt = &at
	}
	item.UpdatedAt = time.Now().UTC()
	s.st.transactions[id] = item
	return 1, nil
}

func (s *Store) ListTransactions(ctx context.Context, params repository.ListTransactionsParams) ([]models.Transaction, error) {
	items := s.filterTransactions(params)
	sortByCreated(items, func(t models.Transaction) time.Time { return t.CreatedAt }, params.Asc)
	return page(items, params.Limit, params.Offset), nil
}

func (s *Store) CountTransactions(_ context.Context, params repository.ListTransactionsParams) (int64, error) {
	return int64(len(s.filterTransactions(params))), nil
}

func (s *Store) filterTransactions(params repository.ListTransactionsParams) []models.Transaction {
	defer s.lock()()
	out := make([]models.Transaction, 0)
	for _, item := range s.st.transactions {
		if params.Status != nil && item.Status != strings.TrimSpace(*params.Status) {
			continue
		}
		if params.PayerID != nil && item.PayerID != *params.PayerID {
			continue
		}
		if params.InvestmentID != nil && (item.InvestmentID == nil || *item.InvestmentID != *params.InvestmentID) {
			continue
		}
		out = append(out, item)
	}
	return out
}

func (s *Store) ListStalePendingTransactions(_ context.Context, before time.Time, limit int) ([]models.Transaction, error) {
	defer s.lock()()
	out := make([]models.Transaction, 0)
	for _, item := range s.st.transactions {
		if item.Status == models.TransactionStatusPending && item.ProviderRef != nil && item.CreatedAt.Before(before) {
			out = append(out, item)
		}
	}
	asc := true
	sortByCreated(out, func(t models.Transaction) time.Time { return t.CreatedAt }, &asc)
	return page(out, limit, 0), nil
}

// --- investors & campaigns --------------------------------------------------

func (s *Store) GetInvestorProfile(_ context.Context, id uuid.UUID) (*models.InvestorProfile, error) {
	defer s.lock()()
	if item, ok := s.st.investors[id]; ok {
		return &item, nil
	}
	return nil, nil
}

func (s *Store) UpsertInvestorProfile(_ context.Context, item *models.InvestorProfile) error {
	if item == nil {
		return nil
	}
	defer s.lock()()
	item.UpdatedAt = time.Now().UTC()
	s.st.investors[item.ID] = *item
	return nil
}

func (s *Store) GetCampaignByID(_ context.Context, id uuid.UUID) (*models.Campaign, error) {
	defer s.lock()()
	if item, ok := s.st.campaigns[id]; ok {
		return &item, nil
	}
	return nil, nil
}

func (s *Store) UpsertCampaign(_ context.Context, item *models.Campaign) error {
	if item == nil {
		return nil
	}
	defer s.lock()()
	next := *item
	if existing, ok := s.st.campaigns[item.ID]; ok {
		next.RaisedAmount = existing.RaisedAmount
		next.SoldShares = existing.SoldShares
		next.InvestorCount = existing.InvestorCount
		next.Version = existing.Version
		next.CreatedAt = existing.CreatedAt
	}
	stamp(&next.CreatedAt, &next.UpdatedAt)
	s.st.campaigns[item.ID] = next
	return nil
}

func (s *Store) ApplyCampaignCapacity(_ context.Context, delta repository.CapacityDelta) (int64, error) {
	defer s.lock()()
	item, ok := s.st.campaigns[delta.CampaignID]
	if !ok || item.Version != delta.ExpectedVersion {
		return 0, nil
	}
	raised := item.RaisedAmount.Add(delta.Amount)
	sold := item.SoldShares + delta.Shares
	if raised.GreaterThan(item.TargetAmount) || sold > item.TotalShares || raised.IsNegative() || sold < 0 {
		return 0, nil
	}
	item.RaisedAmount = raised
	item.SoldShares = sold
	item.InvestorCount += delta.Investors
	if item.InvestorCount < 0 {
		item.InvestorCount = 0
	}
	item.Version++
	item.UpdatedAt = time.Now().UTC()
	s.st.campaigns[item.ID] = item
	return 1, nil
}

// --- investments ------------------------------------------------------------

func (s *Store) InsertInvestment(_ context.Context, item *models.Investment) error {
	if item == nil {
		return nil
	}
	defer s.lock()()
	if _, ok := s.st.investments[item.ID]; ok {
		return repository.ErrDuplicate
	}
	if item.Status != models.InvestmentStatusCancelled {
		for _, existing := range s.st.investments {
			if existing.InvestorID == item.InvestorID && existing.CampaignID == item.CampaignID &&
				existing.Status != models.InvestmentStatusCancelled {
				return repository.ErrDuplicate
			}
		}
	}
	stamp(&item.CreatedAt, &item.UpdatedAt)
	s.st.investments[item.ID] = *item
	return nil
}

func (s *Store) GetInvestmentByID(_ context.Context, id uuid.UUID) (*models.Investment, error) {
	defer s.lock()()
	if item, ok := s.st.investments[id]; ok {
		return &item, nil
	}
	return nil, nil
}

func (s *Store) FindOpenInvestment(_ context.Context, investorID, campaignID uuid.UUID) (*models.Investment, error) {
	defer s.lock()()
	for _, item := range s.st.investments {
		if item.InvestorID == investorID && item.CampaignID == campaignID && item.Status != models.InvestmentStatusCancelled {
			return &item, nil
		}
	}
	return nil, nil
}

func (s *Store) UpdateInvestment(_ context.Context, id uuid.UUID, from []string, patch repository.InvestmentPatch) (int64, error) {
	defer s.lock()()
	item, ok := s.st.investments[id]
	if !ok || !statusIn(item.Status, from) {
		return 0, nil
	}
	if patch.Status != "" {
		item.Status = patch.Status
	}
	item.CoolingOffExpiresAt = pickTime(patch.CoolingOffExpiresAt, item.CoolingOffExpiresAt)
	item.PaymentInitiatedAt = pickTime(patch.PaymentInitiatedAt, item.PaymentInitiatedAt)
	item.CompletedAt = pickTime(patch.CompletedAt, item.CompletedAt)
	item.CancelledAt = pickTime(patch.CancelledAt, item.CancelledAt)
	item.RefundedAt = pickTime(patch.RefundedAt, item.RefundedAt)
	if patch.CancellationReason != nil {
		item.CancellationReason = *patch.CancellationReason
	}
	item.UpdatedAt = time.Now().UTC()
	s.st.investments[id] = item
	return 1, nil
}

func (s *Store) ListInvestments(_ context.Context, params repository.ListInvestmentsParams) ([]models.Investment, error) {
	items := s.filterInvestments(params)
	sortByCreated(items, func(i models.Investment) time.Time { return i.CreatedAt }, params.Asc)
	return page(items, params.Limit, params.Offset), nil
}

func (s *Store) CountInvestments(_ context.Context, params repository.ListInvestmentsParams) (int64, error) {
	return int64(len(s.filterInvestments(params))), nil
}

func (s *Store) filterInvestments(params repository.ListInvestmentsParams) []models.Investment {
	defer s.lock()()
	out := make([]models.Investment, 0)
	for _, item := range s.st.investments {
		if params.Status != nil && item.Status != strings.TrimSpace(*params.Status) {
			continue
		}
		if params.InvestorID != nil && item.InvestorID != *params.InvestorID {
			continue
		}
		if params.CampaignID != nil && item.CampaignID != *params.CampaignID {
			continue
		}
		out = append(out, item)
	}
	return out
}

func (s *Store) ListDueCoolingOff(_ context.Context, now time.Time, limit int) ([]models.Investment, error) {
	defer s.lock()()
	out := make([]models.Investment, 0)
	for _, item := range s.st.investments {
		if item.Status == models.InvestmentStatusCoolingOff && item.CoolingOffExpiresAt != nil && !item.CoolingOffExpiresAt.After(now) {
			out = append(out, item)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CoolingOffExpiresAt.Before(*out[j].CoolingOffExpiresAt) })
	return page(out, limit, 0), nil
}

// --- marketplace ------------------------------------------------------------

func (s *Store) InsertListing(_ context.Context, item *models.MarketplaceListing) error {
	if item == nil {
		return nil
	}
	defer s.lock()()
	if _, ok := s.st.listings[item.ID]; ok {
		return repository.ErrDuplicate
	}
	if item.Status == models.ListingStatusActive {
		for _, existing := range s.st.listings {
			if existing.InvestmentID == item.InvestmentID && existing.Status == models.ListingStatusActive {
				return repository.ErrDuplicate
			}
		}
	}
	stamp(&item.CreatedAt, &item.UpdatedAt)
	s.st.listings[item.ID] = *item
	return nil
}

func (s *Store) GetListingByID(_ context.Context, id uuid.UUID) (*models.MarketplaceListing, error) {
	defer s.lock()()
	if item, ok := s.st.listings[id]; ok {
		return &item, nil
	}
	return nil, nil
}

func (s *Store) LockListing(ctx context.Context, id uuid.UUID) (*models.MarketplaceListing, error) {
	return s.GetListingByID(ctx, id)
}

func (s *Store) FindActiveListingByInvestment(_ context.Context, investmentID uuid.UUID) (*models.MarketplaceListing, error) {
	defer s.lock()()
	for _, item := range s.st.listings {
		if item.InvestmentID == investmentID && item.Status == models.ListingStatusActive {
			return &item, nil
		}
	}
	return nil, nil
}

func (s *Store) UpdateListing(_ context.Context, id uuid.UUID, from []string, patch repository.ListingPatch) (int64, error) {
	defer s.lock()()
	item, ok := s.st.listings[id]
	if !ok || !statusIn(item.Status, from) {
		return 0, nil
	}
	if patch.Status != "" {
		item.Status = patch.Status
	}
	if patch.BuyerID != nil {
		buyer := *patch.BuyerID
		item.BuyerID = &buyer
	}
	item.SoldAt = pickTime(patch.SoldAt, item.SoldAt)
	item.CancelledAt = pickTime(patch.CancelledAt, item.CancelledAt)
	item.UpdatedAt = time.Now().UTC()
	s.st.listings[id] = item
	return 1, nil
}

func (s *Store) ExpireListings(_ context.Context, now time.Time) (int64, error) {
	defer s.lock()()
	var n int64
	for id, item := range s.st.listings {
		if item.Status == models.ListingStatusActive && !item.ExpiresAt.After(now) {
			item.Status = models.ListingStatusExpired
			item.UpdatedAt = now
			s.st.listings[id] = item
			n++
		}
	}
	return n, nil
}

func (s *Store) SumSoldShares(_ context.Context, investmentID uuid.UUID) (int64, error) {
	defer s.lock()()
	var total int64
	for _, item := range s.st.listings {
		if item.InvestmentID == investmentID && item.Status == models.ListingStatusSold {
			total += item.SharesListed
		}
	}
	return total, nil
}

func (s *Store) ListListings(_ context.Context, params repository.ListListingsParams) ([]models.MarketplaceListing, error) {
	items := s.filterListings(params)
	sortByCreated(items, func(l models.MarketplaceListing) time.Time { return l.CreatedAt }, params.Asc)
	return page(items, params.Limit, params.Offset), nil
}

func (s *Store) CountListings(_ context.Context, params repository.ListListingsParams) (int64, error) {
	return int64(len(s.filterListings(params))), nil
}

func (s *Store) filterListings(params repository.ListListingsParams) []models.MarketplaceListing {
	defer s.lock()()
	out := make([]models.MarketplaceListing, 0)
	for _, item := range s.st.listings {
		if params.Status != nil && item.Status != strings.TrimSpace(*params.Status) {
			continue
		}
		if params.SellerID != nil && item.SellerID != *params.SellerID {
			continue
		}
		if params.CampaignID != nil && item.CampaignID != *params.CampaignID {
			continue
		}
		out = append(out, item)
	}
	return out
}

func (s *Store) InsertMarketplaceTransaction(_ context.Context, item *models.MarketplaceTransaction) error {
	if item == nil {
		return nil
	}
	defer s.lock()()
	if _, ok := s.st.marketTxs[item.ID]; ok {
		return repository.ErrDuplicate
	}
	stamp(&item.CreatedAt, &item.UpdatedAt)
	s.st.marketTxs[item.ID] = *item
	return nil
}

func (s *Store) GetMarketplaceTransactionByID(_ context.Context, id uuid.UUID) (*models.MarketplaceTransaction, error) {
	defer s.lock()()
	if item, ok := s.st.marketTxs[id]; ok {
		return &item, nil
	}
	return nil, nil
}

func (s *Store) UpdateMarketplaceTransaction(_ context.Context, id uuid.UUID, from []string, status string, at time.Time) (int64, error) {
	defer s.lock()()
	item, ok := s.st.marketTxs[id]
	if !ok || !statusIn(item.Status, from) || status == "" {
		return 0, nil
	}
	item.Status = status
	if status == models.MarketTxStatusCompleted {
		item.CompletedAt = &at
	}
	item.UpdatedAt = at
	s.st.marketTxs[id] = item
	return 1, nil
}

// --- ops --------------------------------------------------------------------

func (s *Store) InsertDeadLetter(_ context.Context, item *models.DeadLetter) error {
	if item == nil {
		return nil
	}
	defer s.lock()()
	s.st.nextDLID++
	item.ID = s.st.nextDLID
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now().UTC()
	}
	s.st.deadLetters = append(s.st.deadLetters, *item)
	return nil
}

func (s *Store) ListDeadLetters(_ context.Context, params repository.ListDeadLettersParams) ([]models.DeadLetter, error) {
	items := s.filterDeadLetters(params)
	sortByCreated(items, func(d models.DeadLetter) time.Time { return d.CreatedAt }, params.Asc)
	return page(items, params.Limit, params.Offset), nil
}

func (s *Store) CountDeadLetters(_ context.Context, params repository.ListDeadLettersParams) (int64, error) {
	return int64(len(s.filterDeadLetters(params))), nil
}

func (s *Store) filterDeadLetters(params repository.ListDeadLettersParams) []models.DeadLetter {
	defer s.lock()()
	out := make([]models.DeadLetter, 0, len(s.st.deadLetters))
	for _, item := range s.st.deadLetters {
		if params.Topic != nil && item.Topic != strings.TrimSpace(*params.Topic) {
			continue
		}
		out = append(out, item)
	}
	return out
}

func (s *Store) UpsertSystemSetting(_ context.Context, item *models.SystemSetting) error {
	if item == nil {
		return nil
	}
	item.Key = strings.TrimSpace(item.Key)
	if item.Key == "" {
		return nil
	}
	defer s.lock()()
	next := *item
	if existing, ok := s.st.settings[item.Key]; ok {
		next.ID = existing.ID
		next.CreatedAt = existing.CreatedAt
	} else {
		next.ID = uint64(len(s.st.settings) + 1)
	}
	stamp(&next.CreatedAt, &next.UpdatedAt)
	s.st.settings[item.Key] = next
	return nil
}

func (s *Store) GetSystemSettingByKey(_ context.Context, key string) (*models.SystemSetting, error) {
	defer s.lock()()
	if item, ok := s.st.settings[strings.TrimSpace(key)]; ok {
		return &item, nil
	}
	return nil, nil
}

func (s *Store) ListSystemSettings(_ context.Context, params repository.ListSystemSettingsParams) ([]models.SystemSetting, error) {
	items := s.filterSettings(params)
	sort.Slice(items, func(i, j int) bool { return items[i].Key < items[j].Key })
	return page(items, params.Limit, params.Offset), nil
}

func (s *Store) CountSystemSettings(_ context.Context, params repository.ListSystemSettingsParams) (int64, error) {
	return int64(len(s.filterSettings(params))), nil
}

func (s *Store) filterSettings(params repository.ListSystemSettingsParams) []models.SystemSetting {
	defer s.lock()()
	out := make([]models.SystemSetting, 0, len(s.st.settings))
	for _, item := range s.st.settings {
		if params.Prefix != nil && !strings.HasPrefix(item.Key, strings.TrimSpace(*params.Prefix)) {
			continue
		}
		out = append(out, item)
	}
	return out
}

// --- helpers ----------------------------------------------------------------

func statusIn(status string, from []string) bool {
	if len(from) == 0 {
		return true
	}
	for _, s := range from {
		if strings.TrimSpace(s) == status {
			return true
		}
	}
	return false
}

func pickTime(next, current *time.Time) *time.Time {
	if next == nil {
		return current
	}
	at := *next
	return &at
}

func stamp(created, updated *time.Time) {
	now := time.Now().UTC()
	if created.IsZero() {
		*created = now
	}
	*updated = now
}

func sortByCreated[T any](items []T, key func(T) time.Time, asc *bool) {
	ascending := asc != nil && *asc
	sort.SliceStable(items, func(i, j int) bool {
		if ascending {
			return key(items[i]).Before(key(items[j]))
		}
		return key(items[i]).After(key(items[j]))
	})
}

func page[T any](items []T, limit, offset int) []T {
	if offset < 0 {
		offset = 0
	}
	if limit <= 0 {
		limit = 100
	}
	if limit > 500 {
		limit = 500
	}
	if offset >= len(items) {
		return []T{}
	}
	end := offset + limit
	if end > len(items) {
		end = len(items)
	}
	return items[offset:end]
}
