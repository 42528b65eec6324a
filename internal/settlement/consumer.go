package settlement

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"fundflow/internal/apperr"
	"fundflow/internal/events"
	"fundflow/internal/models"
	"fundflow/internal/repository"
)

// Investments is the slice of the investment lifecycle the consumer drives.
type Investments interface {
	Get(ctx context.Context, id uuid.UUID) (*models.Investment, error)
	MarkPaymentInitiated(ctx context.Context, id uuid.UUID) error
	EnterCoolingOff(ctx context.Context, id uuid.UUID, now time.Time) error
	Complete(ctx context.Context, id uuid.UUID) error
	Cancel(ctx context.Context, id uuid.UUID, reason string) error
	Refund(ctx context.Context, id uuid.UUID, reason string) error
	CoolingOffWindow() time.Duration
}

// Consumer applies settlement events to the transaction and its investment.
// A returned error rejects the message to the dead-letter path.
type Consumer struct {
	Repo        repository.PaymentRepository
	Investments Investments
	Logger      *zap.Logger

	now func() time.Time
}

func NewConsumer(repo repository.PaymentRepository, investments Investments, logger *zap.Logger) *Consumer {
	return &Consumer{Repo: repo, Investments: investments, Logger: logger}
}

var transactionMoves = map[string]struct {
	target string
	from   []string
}{
	events.TypePaymentCompleted: {models.TransactionStatusCompleted, []string{models.TransactionStatusPending}},
	events.TypePaymentFailed:    {models.TransactionStatusFailed, []string{models.TransactionStatusPending}},
	events.TypePaymentRefunded:  {models.TransactionStatusRefunded, []string{models.TransactionStatusCompleted}},
}

// Handle is an events.Handler for the settlement topic.
func (c *Consumer) Handle(ctx context.Context, env events.Envelope) error {
	var evt events.SettlementEvent
	if err := env.Decode(&evt); err != nil {
		return fmt.Errorf("decode settlement event %s: %w", env.ID, err)
	}
	if evt.EventType == "" {
		evt.EventType = env.Type
	}
	return c.Apply(ctx, evt)
}

func (c *Consumer) Apply(ctx context.Context, evt events.SettlementEvent) error {
	logger := c.logger().With(
		zap.String("provider_ref", evt.ProviderRef),
		zap.String("event_type", evt.EventType),
	)
	move, ok := transactionMoves[evt.EventType]
	if !ok {
		return fmt.Errorf("unknown settlement event type %q", evt.EventType)
	}

	tx, err := c.Repo.GetTransactionByProviderRef(ctx, evt.ProviderRef)
	if err != nil {
		return fmt.Errorf("load transaction %s: %w", evt.ProviderRef, err)
	}
	if tx == nil {
		logger.Warn("settlement event for unknown provider reference")
		return nil
	}

	if tx.Status != move.target {
		now := c.clock().UTC()
		patch := repository.TransactionPatch{Status: move.target}
		switch move.target {
		case models.TransactionStatusCompleted:
			patch.CompletedAt = &now
		case models.TransactionStatusFailed:
			reason := evt.FailureReason
			if reason == "" {
				reason = "payment failed"
			}
			patch.FailureReason = &reason
		case models.TransactionStatusRefunded:
			if evt.RefundRef != "" {
				patch.RefundRef = &evt.RefundRef
			}
		}
		if len(evt.Metadata) > 0 {
			merged, err := mergeMetadata(tx.ProviderMetadata, evt.Metadata)
			if err != nil {
				logger.Warn("stored provider metadata unreadable, replacing it", zap.Error(err))
			}
			patch.Metadata = merged
		}
		rows, err := c.Repo.UpdateTransaction(ctx, tx.ID, move.from, patch)
		if err != nil {
			return fmt.Errorf("update transaction %s: %w", tx.ID, err)
		}
		if rows == 0 {
			current, err := c.Repo.GetTransactionByID(ctx, tx.ID)
			if err != nil {
				return fmt.Errorf("reload transaction %s: %w", tx.ID, err)
			}
			if current == nil || current.Status != move.target {
				status := ""
				if current != nil {
					status = current.Status
				}
				return fmt.Errorf("transaction %s in %s cannot move to %s: %w", tx.ID, status, move.target, apperr.ErrInvalidTransition)
			}
		}
	}

	investmentID, ok := resolveInvestmentID(tx)
	if !ok || c.Investments == nil {
		logger.Debug("settlement applied to transaction only", zap.String("transaction_id", tx.ID.String()))
		return nil
	}
	if err := c.driveInvestment(ctx, evt, investmentID); err != nil {
		return fmt.Errorf("investment %s: %w", investmentID, err)
	}
	return nil
}

func (c *Consumer) driveInvestment(ctx context.Context, evt events.SettlementEvent, id uuid.UUID) error {
	inv, err := c.Investments.Get(ctx, id)
	if err != nil {
		return err
	}
	if inv == nil {
		c.logger().Warn("settlement event for unknown investment", zap.String("investment_id", id.String()))
		return nil
	}

	switch evt.EventType {
	case events.TypePaymentCompleted:
		switch inv.Status {
		case models.InvestmentStatusPending:
			if err := c.Investments.MarkPaymentInitiated(ctx, id); err != nil {
				return err
			}
			fallthrough
		case models.InvestmentStatusPaymentInitiated:
			if err := c.Investments.EnterCoolingOff(ctx, id, c.clock()); err != nil {
				return err
			}
			fallthrough
		case models.InvestmentStatusCoolingOff:
			if c.Investments.CoolingOffWindow() <= 0 {
				return c.Investments.Complete(ctx, id)
			}
		}
		return nil
	case events.TypePaymentFailed:
		if isPreCompletion(inv.Status) {
			return c.Investments.Cancel(ctx, id, "payment failed")
		}
		return nil
	case events.TypePaymentRefunded:
		switch {
		case inv.Status == models.InvestmentStatusCompleted:
			return c.Investments.Refund(ctx, id, "payment refunded")
		case isPreCompletion(inv.Status):
			return c.Investments.Cancel(ctx, id, "payment refunded")
		}
		return nil
	}
	return nil
}

func isPreCompletion(status string) bool {
	switch status {
	case models.InvestmentStatusPending, models.InvestmentStatusPaymentInitiated, models.InvestmentStatusCoolingOff:
		return true
	}
	return false
}

// resolveInvestmentID trusts only the stored transaction. Event metadata is
// provider supplied and must not pick which investment moves.
func resolveInvestmentID(tx *models.Transaction) (uuid.UUID, bool) {
	if tx != nil && tx.InvestmentID != nil && *tx.InvestmentID != uuid.Nil {
		return *tx.InvestmentID, true
	}
	return uuid.Nil, false
}

// mergeMetadata layers the event's provider fields over what is already
// stored, so a refund keeps the receipt recorded at settlement.
func mergeMetadata(stored []byte, add map[string]string) ([]byte, error) {
	merged := map[string]any{}
	var readErr error
	if len(stored) > 0 {
		if err := json.Unmarshal(stored, &merged); err != nil {
			merged = map[string]any{}
			readErr = err
		}
	}
	for k, v := range add {
		merged[k] = v
	}
	b, err := json.Marshal(merged)
	if err != nil {
		return nil, err
	}
	return b, readErr
}

func (c *Consumer) clock() time.Time {
	if c.now != nil {
		return c.now()
	}
	return time.Now()
}

func (c *Consumer) logger() *zap.Logger {
	if c == nil || c.Logger == nil {
		return zap.NewNop()
	}
	return c.Logger
}
