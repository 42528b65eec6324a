package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"fundflow/internal/apperr"
	"fundflow/internal/investment"
	"fundflow/internal/models"
	"fundflow/internal/payment"
	"fundflow/internal/repository"
)

// Cancellations cancels investments before completion and hands any
// settled payment back through the provider. Investor cancels and the
// cooling-off sweep share it.
type Cancellations struct {
	Repo        repository.Repository
	Investments *investment.Service
	Payments    *payment.Service
	Logger      *zap.Logger
}

// CancelAndRefund cancels the investment and refunds its COMPLETED
// transactions. An already cancelled investment is not moved again, so a
// call that failed at the refund step can be repeated.
func (c *Cancellations) CancelAndRefund(ctx context.Context, id uuid.UUID, reason string) error {
	inv, err := c.Investments.Get(ctx, id)
	if err != nil {
		return err
	}
	if inv == nil {
		return apperr.ErrInvestmentNotFound
	}
	if inv.Status != models.InvestmentStatusCancelled {
		if err := c.Investments.Cancel(ctx, id, reason); err != nil {
			return err
		}
	}
	return c.refundPaid(ctx, id)
}

func (c *Cancellations) refundPaid(ctx context.Context, id uuid.UUID) error {
	if c.Payments == nil {
		return nil
	}
	status := models.TransactionStatusCompleted
	txs, err := c.Repo.ListTransactions(ctx, repository.ListTransactionsParams{
		InvestmentID: &id,
		Status:       &status,
		Limit:        10,
	})
	if err != nil {
		return fmt.Errorf("list paid transactions: %w", err)
	}
	for _, tx := range txs {
		res, err := c.Payments.Refund(ctx, payment.RefundInput{TransactionID: tx.ID, Amount: tx.Amount})
		if err != nil {
			return fmt.Errorf("refund transaction %s: %w", tx.ID, err)
		}
		if !res.Success {
			c.logger().Error("provider declined refund",
				zap.String("investment_id", id.String()),
				zap.String("transaction_id", tx.ID.String()),
				zap.String("message", res.Message),
			)
			continue
		}
		c.logger().Info("cancelled investment refunded",
			zap.String("investment_id", id.String()),
			zap.String("transaction_id", tx.ID.String()),
			zap.String("refund_ref", res.RefundRef),
		)
	}
	return nil
}

func (c *Cancellations) logger() *zap.Logger {
	if c == nil || c.Logger == nil {
		return zap.NewNop()
	}
	return c.Logger
}
