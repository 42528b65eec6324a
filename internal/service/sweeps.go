package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"fundflow/internal/apperr"
	"fundflow/internal/investment"
	"fundflow/internal/marketplace"
	"fundflow/internal/models"
	"fundflow/internal/payment"
	"fundflow/internal/repository"
)

const capacityExhaustedReason = "campaign capacity exhausted"

// Sweeps holds the periodic jobs. Each job checks its feature switch first
// so operators can pause it without a deploy.
type Sweeps struct {
	Repo        repository.Repository
	Settings    *SystemSettingsService
	Investments *investment.Service
	Payments    *payment.Service
	Marketplace *marketplace.Service
	Logger      *zap.Logger
	Batch       int

	now func() time.Time
}

type CoolingOffResult struct {
	Completed int
	Cancelled int
	Deferred  int
}

// CoolingOff completes investments whose cooling-off window has passed.
// An investment that no longer fits the campaign is cancelled and its
// payment refunded; a lost capacity race is left for the next run.
func (s *Sweeps) CoolingOff(ctx context.Context) (CoolingOffResult, error) {
	var res CoolingOffResult
	if !s.Settings.IsEnabled(ctx, FeatureCoolingOffSweep, true) {
		return res, nil
	}
	due, err := s.Repo.ListDueCoolingOff(ctx, s.clock().UTC(), s.batch())
	if err != nil {
		return res, fmt.Errorf("list due cooling-off: %w", err)
	}
	for _, inv := range due {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		err := s.Investments.Complete(ctx, inv.ID)
		switch {
		case err == nil:
			res.Completed++
		case errors.Is(err, apperr.ErrExceedsTarget):
			if err := s.cancelAndRefund(ctx, inv); err != nil {
				s.logger().Error("cancel after capacity exhausted failed",
					zap.String("investment_id", inv.ID.String()),
					zap.Error(err),
				)
				continue
			}
			res.Cancelled++
		case apperr.IsRetryable(err):
			res.Deferred++
		default:
			s.logger().Warn("cooling-off completion failed", zap.String("investment_id", inv.ID.String()), zap.Error(err))
		}
	}
	if len(due) > 0 {
		s.logger().Info("cooling-off sweep",
			zap.Int("due", len(due)),
			zap.Int("completed", res.Completed),
			zap.Int("cancelled", res.Cancelled),
			zap.Int("deferred", res.Deferred),
		)
	}
	return res, nil
}

func (s *Sweeps) cancelAndRefund(ctx context.Context, inv models.Investment) error {
	c := &Cancellations{Repo: s.Repo, Investments: s.Investments, Payments: s.Payments, Logger: s.Logger}
	return c.CancelAndRefund(ctx, inv.ID, capacityExhaustedReason)
}

func (s *Sweeps) ExpireListings(ctx context.Context) (int64, error) {
	if !s.Settings.IsEnabled(ctx, FeatureListingExpiry, true) {
		return 0, nil
	}
	return s.Marketplace.ExpireListings(ctx, s.clock())
}

func (s *Sweeps) PollPayments(ctx context.Context) (int, error) {
	if !s.Settings.IsEnabled(ctx, FeaturePaymentPoll, true) {
		return 0, nil
	}
	return s.Payments.Poll(ctx)
}

func (s *Sweeps) batch() int {
	if s.Batch <= 0 {
		return 100
	}
	return s.Batch
}

func (s *Sweeps) clock() time.Time {
	if s.now != nil {
		return s.now()
	}
	return time.Now()
}

func (s *Sweeps) logger() *zap.Logger {
	if s == nil || s.Logger == nil {
		return zap.NewNop()
	}
	return s.Logger
}
