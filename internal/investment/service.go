// Package investment owns the investment lifecycle: validation of new
// investments, the status state machine and completion against campaign
// capacity.
package investment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"fundflow/internal/apperr"
	"fundflow/internal/campaign"
	"fundflow/internal/events"
	"fundflow/internal/models"
	"fundflow/internal/repository"
)

const (
	DefaultMaxRetries   = 5
	DefaultRetryBackoff = 50 * time.Millisecond
)

// errCapacityRace marks an attempt that lost the campaign version race or
// saw the investment move underneath it; the next attempt re-reads state.
var errCapacityRace = errors.New("capacity version race")

type Service struct {
	Repo      repository.Repository
	Validator *Validator
	Publisher events.Publisher
	Topic     string
	Logger    *zap.Logger

	CoolingOff      time.Duration
	MaxRetries      int
	RetryBackoff    time.Duration
	ReleaseOnRefund bool

	now func() time.Time
}

func NewService(repo repository.Repository, pub events.Publisher, topic string, logger *zap.Logger) *Service {
	return &Service{
		Repo:         repo,
		Validator:    NewValidator(repo),
		Publisher:    pub,
		Topic:        topic,
		Logger:       logger,
		MaxRetries:   DefaultMaxRetries,
		RetryBackoff: DefaultRetryBackoff,
	}
}

type CreateInput struct {
	InvestorID uuid.UUID
	CampaignID uuid.UUID
	Amount     decimal.Decimal
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*models.Investment, error) {
	if s == nil || s.Repo == nil {
		return nil, fmt.Errorf("investment service not configured")
	}
	return s.Repo.GetInvestmentByID(ctx, id)
}

func (s *Service) List(ctx context.Context, params repository.ListInvestmentsParams) ([]models.Investment, int64, error) {
	items, err := s.Repo.ListInvestments(ctx, params)
	if err != nil {
		return nil, 0, err
	}
	total, err := s.Repo.CountInvestments(ctx, params)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

func (s *Service) CoolingOffWindow() time.Duration {
	if s == nil || s.CoolingOff < 0 {
		return 0
	}
	return s.CoolingOff
}

// Create validates the request and records a PENDING investment. The amount
// must buy a whole number of shares.
func (s *Service) Create(ctx context.Context, in CreateInput) (*models.Investment, error) {
	investor, err := s.Repo.GetInvestorProfile(ctx, in.InvestorID)
	if err != nil {
		return nil, fmt.Errorf("load investor: %w", err)
	}
	c, err := s.Repo.GetCampaignByID(ctx, in.CampaignID)
	if err != nil {
		return nil, fmt.Errorf("load campaign: %w", err)
	}
	if investor != nil && c == nil {
		return nil, apperr.ErrCampaignNotFound
	}
	if err := s.Validator.Validate(ctx, investor, c, in.Amount); err != nil {
		return nil, err
	}

	if !c.SharePrice.IsPositive() {
		return nil, apperr.Validation(apperr.CodeInvalidAmount, "campaign has no share price")
	}
	if !in.Amount.Mod(c.SharePrice).IsZero() {
		return nil, apperr.Validation(apperr.CodeInvalidAmount, "amount must be a multiple of the share price %s", c.SharePrice.String())
	}
	shares := in.Amount.Div(c.SharePrice).IntPart()
	if _, left := campaign.Remaining(c); shares > left {
		return nil, apperr.Validation(apperr.CodeExceedsTarget, "only %d shares left", left)
	}

	inv := &models.Investment{
		ID:         uuid.New(),
		InvestorID: in.InvestorID,
		CampaignID: in.CampaignID,
		Amount:     in.Amount,
		Shares:     shares,
		SharePrice: c.SharePrice,
		Status:     models.InvestmentStatusPending,
	}
	if err := s.Repo.InsertInvestment(ctx, inv); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, apperr.ErrDuplicateInvestment
		}
		return nil, fmt.Errorf("insert investment: %w", err)
	}
	s.emit(ctx, events.TypeInvestmentCreated, inv, "")
	return inv, nil
}

func (s *Service) MarkPaymentInitiated(ctx context.Context, id uuid.UUID) error {
	now := s.clock().UTC()
	_, err := s.move(ctx, id, models.InvestmentStatusPaymentInitiated, repository.InvestmentPatch{
		PaymentInitiatedAt: &now,
	}, events.TypeInvestmentPaymentInitiated, "")
	return err
}

// EnterCoolingOff starts the cooling-off window at now.
func (s *Service) EnterCoolingOff(ctx context.Context, id uuid.UUID, now time.Time) error {
	expires := now.UTC().Add(s.CoolingOffWindow())
	_, err := s.move(ctx, id, models.InvestmentStatusCoolingOff, repository.InvestmentPatch{
		CoolingOffExpiresAt: &expires,
	}, events.TypeInvestmentCoolingOff, "")
	return err
}

func (s *Service) Cancel(ctx context.Context, id uuid.UUID, reason string) error {
	now := s.clock().UTC()
	_, err := s.move(ctx, id, models.InvestmentStatusCancelled, repository.InvestmentPatch{
		CancelledAt:        &now,
		CancellationReason: &reason,
	}, events.TypeInvestmentCancelled, reason)
	return err
}

// Refund moves a COMPLETED investment to REFUNDED. Campaign capacity is
// only released when ReleaseOnRefund is set.
func (s *Service) Refund(ctx context.Context, id uuid.UUID, reason string) error {
	if !s.ReleaseOnRefund {
		now := s.clock().UTC()
		_, err := s.move(ctx, id, models.InvestmentStatusRefunded, repository.InvestmentPatch{
			RefundedAt: &now,
		}, events.TypeInvestmentRefunded, reason)
		return err
	}

	var refunded *models.Investment
	err := s.retry(ctx, func(inv *models.Investment, c *models.Campaign) (bool, error) {
		if inv.Status == models.InvestmentStatusRefunded {
			return true, nil
		}
		if err := checkTransition(inv.Status, models.InvestmentStatusRefunded); err != nil {
			return false, backoff.Permanent(err)
		}
		now := s.clock().UTC()
		err := s.Repo.InTx(ctx, func(tx repository.Repository) error {
			rows, err := campaign.NewAggregator(tx, s.Logger).ApplyCapacity(ctx, c.ID, inv.Amount.Neg(), -inv.Shares, c.Version)
			if err != nil {
				return err
			}
			if rows == 0 {
				return errCapacityRace
			}
			rows, err = tx.UpdateInvestment(ctx, inv.ID, []string{models.InvestmentStatusCompleted}, repository.InvestmentPatch{
				Status:     models.InvestmentStatusRefunded,
				RefundedAt: &now,
			})
			if err != nil {
				return err
			}
			if rows == 0 {
				return errCapacityRace
			}
			return nil
		})
		if err != nil {
			return false, err
		}
		inv.Status = models.InvestmentStatusRefunded
		refunded = inv
		return true, nil
	}, id)
	if err != nil {
		return err
	}
	if refunded != nil {
		s.emit(ctx, events.TypeInvestmentRefunded, refunded, reason)
	}
	return nil
}

// Complete applies the investment to campaign capacity and moves it from
// COOLING_OFF to COMPLETED in one transaction. Lost version races are
// retried with backoff; an already completed investment is a success.
func (s *Service) Complete(ctx context.Context, id uuid.UUID) error {
	var completed *models.Investment
	err := s.retry(ctx, func(inv *models.Investment, c *models.Campaign) (bool, error) {
		if inv.Status == models.InvestmentStatusCompleted {
			return true, nil
		}
		if err := checkTransition(inv.Status, models.InvestmentStatusCompleted); err != nil {
			return false, backoff.Permanent(err)
		}
		amountLeft, sharesLeft := campaign.Remaining(c)
		if inv.Amount.GreaterThan(amountLeft) || inv.Shares > sharesLeft {
			return false, backoff.Permanent(apperr.Validation(apperr.CodeExceedsTarget,
				"campaign has %s (%d shares) left", amountLeft.String(), sharesLeft))
		}

		now := s.clock().UTC()
		err := s.Repo.InTx(ctx, func(tx repository.Repository) error {
			rows, err := campaign.NewAggregator(tx, s.Logger).ApplyCapacity(ctx, c.ID, inv.Amount, inv.Shares, c.Version)
			if err != nil {
				return err
			}
			if rows == 0 {
				return errCapacityRace
			}
			rows, err = tx.UpdateInvestment(ctx, inv.ID, []string{models.InvestmentStatusCoolingOff}, repository.InvestmentPatch{
				Status:      models.InvestmentStatusCompleted,
				CompletedAt: &now,
			})
			if err != nil {
				return err
			}
			if rows == 0 {
				return errCapacityRace
			}
			return nil
		})
		if err != nil {
			return false, err
		}
		inv.Status = models.InvestmentStatusCompleted
		inv.CompletedAt = &now
		completed = inv
		return true, nil
	}, id)
	if err != nil {
		return err
	}
	if completed != nil {
		s.emit(ctx, events.TypeInvestmentCompleted, completed, "")
	}
	return nil
}

// retry runs attempt with fresh investment and campaign state until it
// succeeds, fails permanently or runs out of tries. Exhausted races surface
// as CAPACITY_CONFLICT.
func (s *Service) retry(ctx context.Context, attempt func(inv *models.Investment, c *models.Campaign) (bool, error), id uuid.UUID) error {
	op := func() (bool, error) {
		inv, err := s.Repo.GetInvestmentByID(ctx, id)
		if err != nil {
			return false, backoff.Permanent(fmt.Errorf("load investment: %w", err))
		}
		if inv == nil {
			return false, backoff.Permanent(apperr.ErrInvestmentNotFound)
		}
		c, err := s.Repo.GetCampaignByID(ctx, inv.CampaignID)
		if err != nil {
			return false, backoff.Permanent(fmt.Errorf("load campaign: %w", err))
		}
		if c == nil {
			return false, backoff.Permanent(apperr.ErrCampaignNotFound)
		}
		ok, err := attempt(inv, c)
		if err != nil && !errors.Is(err, errCapacityRace) {
			var permanent *backoff.PermanentError
			if !errors.As(err, &permanent) {
				err = backoff.Permanent(err)
			}
		}
		return ok, err
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.retryBackoff()
	b.MaxInterval = 20 * s.retryBackoff()

	_, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(s.maxRetries())),
	)
	if errors.Is(err, errCapacityRace) {
		s.logger().Warn("capacity retries exhausted",
			zap.String("investment_id", id.String()),
			zap.Int("max_retries", s.maxRetries()),
		)
		return apperr.Transient(apperr.CodeCapacityConflict, err, "capacity update for investment %s kept conflicting", id)
	}
	return err
}

// move asserts from→to against the stored status and applies patch only if
// the row has not changed status since it was read.
func (s *Service) move(ctx context.Context, id uuid.UUID, to string, patch repository.InvestmentPatch, eventType, reason string) (*models.Investment, error) {
	inv, err := s.Repo.GetInvestmentByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load investment: %w", err)
	}
	if inv == nil {
		return nil, apperr.ErrInvestmentNotFound
	}
	if err := checkTransition(inv.Status, to); err != nil {
		return nil, err
	}
	patch.Status = to
	rows, err := s.Repo.UpdateInvestment(ctx, id, []string{inv.Status}, patch)
	if err != nil {
		return nil, fmt.Errorf("update investment: %w", err)
	}
	if rows == 0 {
		current, err := s.Repo.GetInvestmentByID(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("reload investment: %w", err)
		}
		from := ""
		if current != nil {
			from = current.Status
		}
		return nil, apperr.Conflict(apperr.CodeInvalidTransition, "cannot move investment from %s to %s", from, to)
	}
	inv.Status = to
	s.emit(ctx, eventType, inv, reason)
	return inv, nil
}

func (s *Service) emit(ctx context.Context, eventType string, inv *models.Investment, reason string) {
	err := events.Emit(ctx, s.Publisher, s.Topic, eventType, inv.ID.String(), events.InvestmentEvent{
		InvestmentID: inv.ID.String(),
		InvestorID:   inv.InvestorID.String(),
		CampaignID:   inv.CampaignID.String(),
		Status:       inv.Status,
		Amount:       inv.Amount.String(),
		Shares:       inv.Shares,
		Reason:       reason,
		At:           s.clock().UTC(),
	})
	if err != nil {
		s.logger().Warn("investment event publish failed",
			zap.String("investment_id", inv.ID.String()),
			zap.String("event_type", eventType),
			zap.Error(err),
		)
	}
}

func (s *Service) maxRetries() int {
	if s.MaxRetries <= 0 {
		return DefaultMaxRetries
	}
	return s.MaxRetries
}

func (s *Service) retryBackoff() time.Duration {
	if s.RetryBackoff <= 0 {
		return DefaultRetryBackoff
	}
	return s.RetryBackoff
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
