package marketplace

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"fundflow/internal/apperr"
	"fundflow/internal/models"
	"fundflow/internal/repository/memory"
)

var epoch = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

func newService(t *testing.T) (*Service, *memory.Store) {
	t.Helper()
	repo := memory.New()
	svc := NewService(repo, nil, "marketplace.events", nil)
	svc.now = func() time.Time { return epoch }
	return svc, repo
}

func seedInvestment(t *testing.T, repo *memory.Store, heldDays int, status string) *models.Investment {
	t.Helper()
	completed := epoch.Add(-time.Duration(heldDays) * 24 * time.Hour)
	inv := &models.Investment{
		ID:          uuid.New(),
		InvestorID:  uuid.New(),
		CampaignID:  uuid.New(),
		Amount:      decimal.NewFromInt(1000),
		Shares:      100,
		SharePrice:  decimal.NewFromInt(10),
		Status:      status,
		CompletedAt: &completed,
	}
	if err := repo.InsertInvestment(context.Background(), inv); err != nil {
		t.Fatalf("seed investment: %v", err)
	}
	return inv
}

func listingInput(inv *models.Investment, shares int64) CreateListingInput {
	return CreateListingInput{
		SellerID:       inv.InvestorID,
		InvestmentID:   inv.ID,
		Shares:         shares,
		PricePerShare:  decimal.NewFromInt(12),
		CompanyConsent: true,
	}
}

func TestCalculateSellerFee(t *testing.T) {
	cases := map[string]string{
		"100000": "2000",
		"33333":  "666.66",
		"0":      "0",
		"0.25":   "0.01",
		"12.5":   "0.25",
	}
	for in, want := range cases {
		got := CalculateSellerFee(decimal.RequireFromString(in))
		if !got.Equal(decimal.RequireFromString(want)) {
			t.Fatalf("fee(%s)=%s want=%s", in, got, want)
		}
	}
}

func TestCreateListingHoldingPeriodBoundary(t *testing.T) {
	svc, repo := newService(t)
	ctx := context.Background()

	young := seedInvestment(t, repo, 100, models.InvestmentStatusCompleted)
	_, err := svc.CreateListing(ctx, listingInput(young, 10))
	if !errors.Is(err, apperr.ErrHoldingPeriodNotMet) || !strings.Contains(err.Error(), "265 days remaining") {
		t.Fatalf("err=%v", err)
	}

	ripe := seedInvestment(t, repo, 365, models.InvestmentStatusCompleted)
	l, err := svc.CreateListing(ctx, listingInput(ripe, 10))
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if !l.TotalPrice.Equal(decimal.NewFromInt(120)) || !l.SellerFee.Equal(decimal.RequireFromString("2.4")) {
		t.Fatalf("listing=%+v", l)
	}
	if !l.ExpiresAt.Equal(epoch.Add(30 * 24 * time.Hour)) {
		t.Fatalf("expires=%s", l.ExpiresAt)
	}
}

func TestCreateListingChecks(t *testing.T) {
	svc, repo := newService(t)
	ctx := context.Background()
	inv := seedInvestment(t, repo, 400, models.InvestmentStatusCompleted)
	pending := seedInvestment(t, repo, 400, models.InvestmentStatusCoolingOff)

	cases := []struct {
		name string
		in   CreateListingInput
		want error
	}{
		{"missing investment", CreateListingInput{SellerID: inv.InvestorID, InvestmentID: uuid.New(), Shares: 1, PricePerShare: decimal.NewFromInt(1), CompanyConsent: true}, apperr.ErrInvestmentNotFound},
		{"not owner", CreateListingInput{SellerID: uuid.New(), InvestmentID: inv.ID, Shares: 1, PricePerShare: decimal.NewFromInt(1), CompanyConsent: true}, apperr.ErrNotInvestmentOwner},
		{"not completed", listingInput(pending, 1), apperr.ErrInvestmentNotCompleted},
		{"no consent", CreateListingInput{SellerID: inv.InvestorID, InvestmentID: inv.ID, Shares: 1, PricePerShare: decimal.NewFromInt(1)}, apperr.ErrConsentRequired},
		{"zero shares", listingInput(inv, 0), apperr.ErrInsufficientShares},
		{"too many shares", listingInput(inv, 101), apperr.ErrInsufficientShares},
		{"bad price", CreateListingInput{SellerID: inv.InvestorID, InvestmentID: inv.ID, Shares: 1, PricePerShare: decimal.Zero, CompanyConsent: true}, apperr.ErrInvalidPrice},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := svc.CreateListing(ctx, tc.in); !errors.Is(err, tc.want) {
				t.Fatalf("err=%v want=%v", err, tc.want)
			}
		})
	}

	if _, err := svc.CreateListing(ctx, listingInput(inv, 10)); err != nil {
		t.Fatalf("first listing: %v", err)
	}
	if _, err := svc.CreateListing(ctx, listingInput(inv, 10)); !errors.Is(err, apperr.ErrDuplicateListing) {
		t.Fatalf("duplicate err=%v", err)
	}
}

func TestBuyListingSettlesEscrow(t *testing.T) {
	svc, repo := newService(t)
	ctx := context.Background()
	inv := seedInvestment(t, repo, 400, models.InvestmentStatusCompleted)
	l, err := svc.CreateListing(ctx, listingInput(inv, 40))
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if _, err := svc.BuyListing(ctx, l.ID, inv.InvestorID); !errors.Is(err, apperr.ErrSelfPurchase) {
		t.Fatalf("self purchase err=%v", err)
	}

	buyer := uuid.New()
	mtx, err := svc.BuyListing(ctx, l.ID, buyer)
	if err != nil {
		t.Fatalf("buy: %v", err)
	}
	if mtx.Status != models.MarketTxStatusCompleted || !mtx.NetAmount.Equal(mtx.TotalAmount.Sub(mtx.SellerFee)) || mtx.Shares != 40 {
		t.Fatalf("mtx=%+v", mtx)
	}
	stored, _ := repo.GetMarketplaceTransactionByID(ctx, mtx.ID)
	if stored.Status != models.MarketTxStatusCompleted || stored.CompletedAt == nil || stored.EscrowedAt == nil {
		t.Fatalf("stored=%+v", stored)
	}
	got, _ := svc.GetListing(ctx, l.ID)
	if got.Status != models.ListingStatusSold || got.BuyerID == nil || *got.BuyerID != buyer {
		t.Fatalf("listing=%+v", got)
	}

	// The seller's investment row is untouched; later listings see fewer shares.
	after, _ := repo.GetInvestmentByID(ctx, inv.ID)
	if after.Shares != 100 || after.Status != models.InvestmentStatusCompleted {
		t.Fatalf("investment mutated: %+v", after)
	}
	if _, err := svc.CreateListing(ctx, listingInput(inv, 61)); !errors.Is(err, apperr.ErrInsufficientShares) {
		t.Fatalf("err=%v", err)
	}
	if _, err := svc.CreateListing(ctx, listingInput(inv, 60)); err != nil {
		t.Fatalf("relist remaining: %v", err)
	}

	if _, err := svc.BuyListing(ctx, l.ID, uuid.New()); !errors.Is(err, apperr.ErrListingNotActive) {
		t.Fatalf("second buy err=%v", err)
	}
}

func TestBuyerHoldingCanBeResoldAfterHoldingPeriod(t *testing.T) {
	svc, repo := newService(t)
	ctx := context.Background()
	inv := seedInvestment(t, repo, 400, models.InvestmentStatusCompleted)
	l, err := svc.CreateListing(ctx, listingInput(inv, 40))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	buyer := uuid.New()
	mtx, err := svc.BuyListing(ctx, l.ID, buyer)
	if err != nil {
		t.Fatalf("buy: %v", err)
	}
	if mtx.BuyerInvestmentID == nil {
		t.Fatalf("no holding on %+v", mtx)
	}

	holding, _ := repo.GetInvestmentByID(ctx, *mtx.BuyerInvestmentID)
	if holding == nil || holding.InvestorID != buyer || holding.CampaignID != inv.CampaignID {
		t.Fatalf("holding=%+v", holding)
	}
	if holding.Status != models.InvestmentStatusCompleted || holding.Shares != 40 ||
		!holding.SharePrice.Equal(decimal.NewFromInt(12)) || !holding.Amount.Equal(decimal.NewFromInt(480)) ||
		holding.CompletedAt == nil || !holding.CompletedAt.Equal(epoch) {
		t.Fatalf("holding=%+v", holding)
	}

	resale := CreateListingInput{
		SellerID:       buyer,
		InvestmentID:   holding.ID,
		Shares:         40,
		PricePerShare:  decimal.NewFromInt(15),
		CompanyConsent: true,
	}
	if _, err := svc.CreateListing(ctx, resale); !errors.Is(err, apperr.ErrHoldingPeriodNotMet) {
		t.Fatalf("early resale err=%v", err)
	}
	svc.now = func() time.Time { return epoch.Add(365 * 24 * time.Hour) }
	if _, err := svc.CreateListing(ctx, resale); err != nil {
		t.Fatalf("resale: %v", err)
	}
}

func TestBuyListingBuyerAlreadyInCampaign(t *testing.T) {
	svc, repo := newService(t)
	ctx := context.Background()
	inv := seedInvestment(t, repo, 400, models.InvestmentStatusCompleted)
	l, err := svc.CreateListing(ctx, listingInput(inv, 10))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	buyer := uuid.New()
	if err := repo.InsertInvestment(ctx, &models.Investment{
		ID:         uuid.New(),
		InvestorID: buyer,
		CampaignID: inv.CampaignID,
		Amount:     decimal.NewFromInt(100),
		Shares:     10,
		SharePrice: decimal.NewFromInt(10),
		Status:     models.InvestmentStatusPending,
	}); err != nil {
		t.Fatalf("seed buyer investment: %v", err)
	}

	if _, err := svc.BuyListing(ctx, l.ID, buyer); !errors.Is(err, apperr.ErrDuplicateInvestment) {
		t.Fatalf("err=%v", err)
	}
	got, _ := svc.GetListing(ctx, l.ID)
	if got.Status != models.ListingStatusActive || got.BuyerID != nil {
		t.Fatalf("listing=%+v", got)
	}
}

func TestBuyListingConcurrentBuyersOneWins(t *testing.T) {
	svc, repo := newService(t)
	ctx := context.Background()
	inv := seedInvestment(t, repo, 400, models.InvestmentStatusCompleted)
	l, err := svc.CreateListing(ctx, listingInput(inv, 10))
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	const buyers = 8
	var wg sync.WaitGroup
	var mu sync.Mutex
	wins, losses := 0, 0
	for i := 0; i < buyers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.BuyListing(ctx, l.ID, uuid.New())
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case errors.Is(err, apperr.ErrListingNotActive):
				losses++
			default:
				t.Errorf("unexpected err=%v", err)
			}
		}()
	}
	wg.Wait()
	if wins != 1 || losses != buyers-1 {
		t.Fatalf("wins=%d losses=%d", wins, losses)
	}
}

func TestBuyExpiredListingFlipsStatus(t *testing.T) {
	svc, repo := newService(t)
	ctx := context.Background()
	inv := seedInvestment(t, repo, 400, models.InvestmentStatusCompleted)
	l, err := svc.CreateListing(ctx, listingInput(inv, 10))
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	svc.now = func() time.Time { return epoch.Add(31 * 24 * time.Hour) }
	if _, err := svc.BuyListing(ctx, l.ID, uuid.New()); !errors.Is(err, apperr.ErrListingExpired) {
		t.Fatalf("err=%v", err)
	}
	got, _ := svc.GetListing(ctx, l.ID)
	if got.Status != models.ListingStatusExpired {
		t.Fatalf("status=%s", got.Status)
	}
	if _, err := svc.BuyListing(ctx, l.ID, uuid.New()); !errors.Is(err, apperr.ErrListingNotActive) {
		t.Fatalf("err=%v", err)
	}
}

func TestCancelAndExpireListings(t *testing.T) {
	svc, repo := newService(t)
	ctx := context.Background()
	a := seedInvestment(t, repo, 400, models.InvestmentStatusCompleted)
	b := seedInvestment(t, repo, 400, models.InvestmentStatusCompleted)
	la, _ := svc.CreateListing(ctx, listingInput(a, 10))
	lb, _ := svc.CreateListing(ctx, listingInput(b, 10))

	if _, err := svc.CancelListing(ctx, la.ID, uuid.New()); !errors.Is(err, apperr.ErrNotInvestmentOwner) {
		t.Fatalf("err=%v", err)
	}
	if _, err := svc.CancelListing(ctx, la.ID, a.InvestorID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if _, err := svc.CancelListing(ctx, la.ID, a.InvestorID); !errors.Is(err, apperr.ErrListingNotActive) {
		t.Fatalf("second cancel err=%v", err)
	}

	n, err := svc.ExpireListings(ctx, epoch.Add(31*24*time.Hour))
	if err != nil || n != 1 {
		t.Fatalf("n=%d err=%v", n, err)
	}
	got, _ := svc.GetListing(ctx, lb.ID)
	if got.Status != models.ListingStatusExpired {
		t.Fatalf("status=%s", got.Status)
	}
}
