package investment

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"fundflow/internal/apperr"
	"fundflow/internal/campaign"
	"fundflow/internal/models"
	"fundflow/internal/repository"
)

// Validator gates new investments. Checks run in a fixed order and the
// first failure wins.
type Validator struct {
	Repo repository.InvestmentRepository

	now func() time.Time
}

func NewValidator(repo repository.InvestmentRepository) *Validator {
	return &Validator{Repo: repo}
}

func (v *Validator) Validate(ctx context.Context, investor *models.InvestorProfile, c *models.Campaign, amount decimal.Decimal) error {
	if investor == nil || investor.KYCStatus != models.KYCStatusApproved {
		return apperr.ErrKYCNotApproved
	}
	if c == nil {
		return apperr.ErrCampaignNotFound
	}
	if c.Status != models.CampaignStatusLive {
		return apperr.Validation(apperr.CodeCampaignNotLive, "campaign is %s", c.Status)
	}
	if c.EndDate != nil && v.clock().After(*c.EndDate) {
		return apperr.ErrCampaignExpired
	}
	if v.Repo != nil {
		open, err := v.Repo.FindOpenInvestment(ctx, investor.ID, c.ID)
		if err != nil {
			return fmt.Errorf("find open investment: %w", err)
		}
		if open != nil {
			return apperr.ErrDuplicateInvestment
		}
	}
	if !amount.IsPositive() {
		return apperr.ErrInvalidAmount
	}
	if c.MinInvestment != nil && amount.LessThan(*c.MinInvestment) {
		return apperr.Validation(apperr.CodeBelowMinimum, "minimum investment is %s", c.MinInvestment.String())
	}
	if c.MaxInvestment != nil && amount.GreaterThan(*c.MaxInvestment) {
		return apperr.Validation(apperr.CodeAboveMaximum, "maximum investment is %s", c.MaxInvestment.String())
	}
	remaining, _ := campaign.Remaining(c)
	if amount.GreaterThan(remaining) {
		return apperr.Validation(apperr.CodeExceedsTarget, "only %s left to raise", remaining.String())
	}
	return nil
}

func (v *Validator) clock() time.Time {
	if v != nil && v.now != nil {
		return v.now()
	}
	return time.Now()
}
