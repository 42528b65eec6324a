package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"fundflow/internal/models"
	"fundflow/internal/repository"
)

func seedCampaign(t *testing.T, s *Store) models.Campaign {
	t.Helper()
	c := models.Campaign{
		ID:           uuid.New(),
		Status:       models.CampaignStatusLive,
		TargetAmount: decimal.NewFromInt(10000),
		SharePrice:   decimal.NewFromInt(100),
		TotalShares:  100,
	}
	if err := s.UpsertCampaign(context.Background(), &c); err != nil {
		t.Fatalf("seed: %v", err)
	}
	return c
}

func TestApplyCampaignCapacityCompareAndSwap(t *testing.T) {
	ctx := context.Background()
	s := New()
	c := seedCampaign(t, s)

	rows, err := s.ApplyCampaignCapacity(ctx, repository.CapacityDelta{
		CampaignID: c.ID, Amount: decimal.NewFromInt(500), Shares: 5, Investors: 1, ExpectedVersion: 0,
	})
	if err != nil || rows != 1 {
		t.Fatalf("rows=%d err=%v want 1", rows, err)
	}
	rows, _ = s.ApplyCampaignCapacity(ctx, repository.CapacityDelta{
		CampaignID: c.ID, Amount: decimal.NewFromInt(500), Shares: 5, Investors: 1, ExpectedVersion: 0,
	})
	if rows != 0 {
		t.Fatalf("stale version applied rows=%d", rows)
	}
	rows, _ = s.ApplyCampaignCapacity(ctx, repository.CapacityDelta{
		CampaignID: c.ID, Amount: decimal.NewFromInt(9501), Shares: 5, Investors: 1, ExpectedVersion: 1,
	})
	if rows != 0 {
		t.Fatalf("oversell applied rows=%d", rows)
	}

	got, _ := s.GetCampaignByID(ctx, c.ID)
	if got.Version != 1 || !got.RaisedAmount.Equal(decimal.NewFromInt(500)) || got.SoldShares != 5 || got.InvestorCount != 1 {
		t.Fatalf("campaign=%+v", got)
	}
}

func TestUpsertCampaignKeepsCounters(t *testing.T) {
	ctx := context.Background()
	s := New()
	c := seedCampaign(t, s)
	_, _ = s.ApplyCampaignCapacity(ctx, repository.CapacityDelta{
		CampaignID: c.ID, Amount: decimal.NewFromInt(100), Shares: 1, Investors: 1,
	})
	c.Title = "renamed"
	if err := s.UpsertCampaign(ctx, &c); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	got, _ := s.GetCampaignByID(ctx, c.ID)
	if got.Title != "renamed" || got.Version != 1 || got.SoldShares != 1 {
		t.Fatalf("campaign=%+v", got)
	}
}

func TestInTxRollsBackOnError(t *testing.T) {
	ctx := context.Background()
	s := New()
	c := seedCampaign(t, s)
	boom := errors.New("boom")

	err := s.InTx(ctx, func(tx repository.Repository) error {
		if _, err := tx.ApplyCampaignCapacity(ctx, repository.CapacityDelta{
			CampaignID: c.ID, Amount: decimal.NewFromInt(100), Shares: 1, Investors: 1,
		}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("err=%v want boom", err)
	}
	got, _ := s.GetCampaignByID(ctx, c.ID)
	if got.Version != 0 || !got.RaisedAmount.IsZero() {
		t.Fatalf("rollback failed: %+v", got)
	}
}

func TestInsertInvestmentDuplicatePair(t *testing.T) {
	ctx := context.Background()
	s := New()
	investor, campaign := uuid.New(), uuid.New()
	first := &models.Investment{ID: uuid.New(), InvestorID: investor, CampaignID: campaign, Status: models.InvestmentStatusPending}
	if err := s.InsertInvestment(ctx, first); err != nil {
		t.Fatalf("insert: %v", err)
	}
	second := &models.Investment{ID: uuid.New(), InvestorID: investor, CampaignID: campaign, Status: models.InvestmentStatusPending}
	if err := s.InsertInvestment(ctx, second); !errors.Is(err, repository.ErrDuplicate) {
		t.Fatalf("err=%v want duplicate", err)
	}
	if _, err := s.UpdateInvestment(ctx, first.ID, nil, repository.InvestmentPatch{Status: models.InvestmentStatusCancelled}); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if err := s.InsertInvestment(ctx, second); err != nil {
		t.Fatalf("insert after cancel: %v", err)
	}
}

func TestUpdateRespectsFromStatuses(t *testing.T) {
	ctx := context.Background()
	s := New()
	inv := &models.Investment{ID: uuid.New(), InvestorID: uuid.New(), CampaignID: uuid.New(), Status: models.InvestmentStatusCancelled}
	_ = s.InsertInvestment(ctx, inv)
	rows, err := s.UpdateInvestment(ctx, inv.ID, []string{models.InvestmentStatusCoolingOff}, repository.InvestmentPatch{Status: models.InvestmentStatusCompleted})
	if err != nil || rows != 0 {
		t.Fatalf("rows=%d err=%v", rows, err)
	}
}

func TestExpireListings(t *testing.T) {
	ctx := context.Background()
	s := New()
	now := time.Now().UTC()
	past := &models.MarketplaceListing{ID: uuid.New(), InvestmentID: uuid.New(), Status: models.ListingStatusActive, ExpiresAt: now.Add(-time.Minute)}
	future := &models.MarketplaceListing{ID: uuid.New(), InvestmentID: uuid.New(), Status: models.ListingStatusActive, ExpiresAt: now.Add(time.Hour)}
	_ = s.InsertListing(ctx, past)
	_ = s.InsertListing(ctx, future)

	n, err := s.ExpireListings(ctx, now)
	if err != nil || n != 1 {
		t.Fatalf("n=%d err=%v", n, err)
	}
	got, _ := s.GetListingByID(ctx, past.ID)
	if got.Status != models.ListingStatusExpired {
		t.Fatalf("status=%s", got.Status)
	}
}

func TestProviderRefUnique(t *testing.T) {
	ctx := context.Background()
	s := New()
	ref := "ws_CO_1"
	a := &models.Transaction{ID: uuid.New(), Status: models.TransactionStatusPending, ProviderRef: &ref}
	b := &models.Transaction{ID: uuid.New(), Status: models.TransactionStatusPending, ProviderRef: &ref}
	if err := s.InsertTransaction(ctx, a); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := s.InsertTransaction(ctx, b); !errors.Is(err, repository.ErrDuplicate) {
		t.Fatalf("err=%v want duplicate", err)
	}
	got, _ := s.GetTransactionByProviderRef(ctx, ref)
	if got == nil || got.ID != a.ID {
		t.Fatalf("lookup=%+v", got)
	}
}
