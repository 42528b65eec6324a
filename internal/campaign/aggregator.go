// Package campaign moves the raised-amount and sold-share counters of a
// campaign under optimistic concurrency.
package campaign

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"fundflow/internal/models"
	"fundflow/internal/repository"
)

// Aggregator applies capacity deltas as a single version-checked update.
// It never retries; callers own the retry loop and re-read state between
// attempts.
type Aggregator struct {
	Repo   repository.CampaignRepository
	Logger *zap.Logger
}

func NewAggregator(repo repository.CampaignRepository, logger *zap.Logger) *Aggregator {
	return &Aggregator{Repo: repo, Logger: logger}
}

// ApplyCapacity adds amountDelta and sharesDelta to the campaign when its
// version still equals expectedVersion and the result stays within the
// target and total shares. It returns the affected row count: 0 means the
// caller lost the race (or the bounds would break) and must re-read.
func (a *Aggregator) ApplyCapacity(ctx context.Context, campaignID uuid.UUID, amountDelta decimal.Decimal, sharesDelta, expectedVersion int64) (int64, error) {
	if a == nil || a.Repo == nil {
		return 0, fmt.Errorf("campaign aggregator not configured")
	}
	investors := int64(0)
	switch {
	case amountDelta.IsPositive() || sharesDelta > 0:
		investors = 1
	case amountDelta.IsNegative() || sharesDelta < 0:
		investors = -1
	}
	rows, err := a.Repo.ApplyCampaignCapacity(ctx, repository.CapacityDelta{
		CampaignID:      campaignID,
		Amount:          amountDelta,
		Shares:          sharesDelta,
		Investors:       investors,
		ExpectedVersion: expectedVersion,
	})
	if err != nil {
		return 0, fmt.Errorf("apply capacity %s: %w", campaignID, err)
	}
	if rows == 0 && a.Logger != nil {
		a.Logger.Debug("capacity update lost version race",
			zap.String("campaign_id", campaignID.String()),
			zap.Int64("expected_version", expectedVersion),
		)
	}
	return rows, nil
}

// Remaining returns the amount and shares still available on c.
func (a *Aggregator) Remaining(c *models.Campaign) (decimal.Decimal, int64) {
	return Remaining(c)
}

func Remaining(c *models.Campaign) (decimal.Decimal, int64) {
	if c == nil {
		return decimal.Zero, 0
	}
	amount := c.TargetAmount.Sub(c.RaisedAmount)
	if amount.IsNegative() {
		amount = decimal.Zero
	}
	shares := c.TotalShares - c.SoldShares
	if shares < 0 {
		shares = 0
	}
	return amount, shares
}
