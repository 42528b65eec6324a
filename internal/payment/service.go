package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"fundflow/internal/apperr"
	"fundflow/internal/models"
	"fundflow/internal/repository"
)

const DefaultCurrency = "KES"

// InvestmentTracker is told when an investment's payment reached a provider.
type InvestmentTracker interface {
	MarkPaymentInitiated(ctx context.Context, id uuid.UUID) error
}

// Callbacks receives provider outcomes learned outside the webhook path
// (refund responses, status polling). Implementations deduplicate per
// provider reference.
type Callbacks interface {
	HandleCallback(ctx context.Context, providerRef string, success bool, metadata map[string]string) (bool, error)
	HandleRefund(ctx context.Context, providerRef, refundRef string, metadata map[string]string) (bool, error)
}

type Service struct {
	Repo        repository.PaymentRepository
	Router      *Router
	Investments InvestmentTracker
	Callbacks   Callbacks
	Logger      *zap.Logger

	DefaultCurrency string
	StaleAfter      time.Duration
	PollBatch       int

	now func() time.Time
}

func NewService(repo repository.PaymentRepository, router *Router, logger *zap.Logger) *Service {
	return &Service{
		Repo:            repo,
		Router:          router,
		Logger:          logger,
		DefaultCurrency: DefaultCurrency,
		StaleAfter:      10 * time.Minute,
		PollBatch:       100,
	}
}

type InitiateInput struct {
	// TransactionID resumes an existing PENDING transaction; uuid.Nil
	// creates a new one.
	TransactionID uuid.UUID
	InvestmentID  *uuid.UUID
	PayerID       uuid.UUID
	Method        Method
	Metadata      map[string]string
}

type InitiateOutput struct {
	Success       bool   `json:"success"`
	TransactionID string `json:"transactionId"`
	ProviderRef   string `json:"providerReference,omitempty"`
	RedirectURL   string `json:"redirectUrl,omitempty"`
	ClientSecret  string `json:"clientSecret,omitempty"`
	Message       string `json:"message,omitempty"`
}

// Initiate routes the payment, records it as a PENDING transaction and asks
// the provider to collect it. The transaction always ends in a defined
// status: PENDING with a provider reference, or FAILED.
func (s *Service) Initiate(ctx context.Context, in InitiateInput) (InitiateOutput, error) {
	gw, err := s.Router.Route(in.Method)
	if err != nil {
		return InitiateOutput{}, err
	}
	amount, err := parseAmount(in.Metadata["amount"])
	if err != nil {
		return InitiateOutput{}, err
	}
	if ac, ok := gw.(AmountChecker); ok {
		if err := ac.CheckAmount(amount); err != nil {
			return InitiateOutput{}, err
		}
	}
	currency := strings.ToUpper(strings.TrimSpace(in.Metadata["currency"]))
	if currency == "" {
		currency = s.currency()
	}

	tx, err := s.loadOrCreate(ctx, in, gw.Name(), amount, currency)
	if err != nil {
		return InitiateOutput{}, err
	}
	out := InitiateOutput{TransactionID: tx.ID.String()}
	logger := s.logger().With(
		zap.String("transaction_id", tx.ID.String()),
		zap.String("provider", gw.Name()),
	)

	meta := make(map[string]string, len(in.Metadata)+2)
	for k, v := range in.Metadata {
		meta[k] = v
	}
	meta["transactionId"] = tx.ID.String()
	if in.InvestmentID != nil {
		meta["investmentId"] = in.InvestmentID.String()
	}

	callCtx, cancel := context.WithTimeout(ctx, gatewayTimeout(gw))
	res, callErr := gw.Initiate(callCtx, InitiateRequest{
		TransactionID: tx.ID.String(),
		Amount:        amount,
		Currency:      currency,
		Metadata:      meta,
	})
	cancel()

	if callErr != nil || !res.Success || strings.TrimSpace(res.ProviderRef) == "" {
		reason := res.Message
		if callErr != nil {
			reason = callErr.Error()
		}
		if reason == "" {
			reason = "provider rejected the payment"
		}
		logger.Warn("payment initiation failed", zap.String("reason", reason), zap.Error(callErr))
		if _, err := s.Repo.UpdateTransaction(ctx, tx.ID, []string{models.TransactionStatusPending}, repository.TransactionPatch{
			Status:        models.TransactionStatusFailed,
			FailureReason: &reason,
		}); err != nil {
			return out, fmt.Errorf("mark transaction failed: %w", err)
		}
		out.Message = reason
		return out, callErr
	}

	ref := strings.TrimSpace(res.ProviderRef)
	provider := gw.Name()
	rows, err := s.Repo.UpdateTransaction(ctx, tx.ID, []string{models.TransactionStatusPending}, repository.TransactionPatch{
		Status:      models.TransactionStatusPending,
		Provider:    &provider,
		ProviderRef: &ref,
		RedirectURL: &res.RedirectURL,
	})
	if err != nil {
		return out, fmt.Errorf("store provider reference: %w", err)
	}
	if rows == 0 {
		logger.Warn("transaction left PENDING before provider reference was stored", zap.String("provider_ref", ref))
	}

	if in.InvestmentID != nil && s.Investments != nil {
		if err := s.Investments.MarkPaymentInitiated(ctx, *in.InvestmentID); err != nil {
			logger.Warn("investment not moved to PAYMENT_INITIATED",
				zap.String("investment_id", in.InvestmentID.String()),
				zap.Error(err),
			)
		}
	}

	logger.Info("payment initiated", zap.String("provider_ref", ref))
	out.Success = true
	out.ProviderRef = ref
	out.RedirectURL = res.RedirectURL
	out.ClientSecret = res.ClientSecret
	out.Message = res.Message
	return out, nil
}

func (s *Service) loadOrCreate(ctx context.Context, in InitiateInput, provider string, amount decimal.Decimal, currency string) (*models.Transaction, error) {
	if in.TransactionID != uuid.Nil {
		existing, err := s.Repo.GetTransactionByID(ctx, in.TransactionID)
		if err != nil {
			return nil, fmt.Errorf("load transaction: %w", err)
		}
		if existing != nil {
			if existing.Status != models.TransactionStatusPending || existing.ProviderRef != nil {
				return nil, apperr.Conflict(apperr.CodeInvalidTransition, "transaction %s was already submitted (%s)", existing.ID, existing.Status)
			}
			return existing, nil
		}
	}
	id := in.TransactionID
	if id == uuid.Nil {
		id = uuid.New()
	}
	txType := models.TransactionTypePayment
	if in.InvestmentID != nil {
		txType = models.TransactionTypeInvestment
	}
	tx := &models.Transaction{
		ID:            id,
		InvestmentID:  in.InvestmentID,
		PayerID:       in.PayerID,
		Type:          txType,
		Amount:        amount,
		Currency:      currency,
		Status:        models.TransactionStatusPending,
		PaymentMethod: strings.ToUpper(string(in.Method)),
		Provider:      provider,
	}
	if err := s.Repo.InsertTransaction(ctx, tx); err != nil {
		return nil, fmt.Errorf("insert transaction: %w", err)
	}
	return tx, nil
}

type RefundInput struct {
	TransactionID uuid.UUID
	ProviderRef   string
	Method        Method
	Amount        decimal.Decimal
}

type RefundOutput struct {
	Success   bool   `json:"success"`
	RefundRef string `json:"refundReference,omitempty"`
	Message   string `json:"message,omitempty"`
}

// Refund asks the provider to return amount and, when it agrees, records
// the refund through the callback path so a later provider webhook for the
// same refund is dropped.
func (s *Service) Refund(ctx context.Context, in RefundInput) (RefundOutput, error) {
	meta := map[string]string{}
	settled := map[string]string{}
	ref, method := strings.TrimSpace(in.ProviderRef), in.Method
	if in.TransactionID != uuid.Nil || ref != "" {
		var (
			tx  *models.Transaction
			err error
		)
		if in.TransactionID != uuid.Nil {
			tx, err = s.Repo.GetTransactionByID(ctx, in.TransactionID)
		} else {
			tx, err = s.Repo.GetTransactionByProviderRef(ctx, ref)
		}
		if err != nil {
			return RefundOutput{}, fmt.Errorf("load transaction: %w", err)
		}
		if tx == nil && in.TransactionID != uuid.Nil {
			return RefundOutput{}, apperr.ErrTransactionNotFound
		}
		if tx != nil {
			if tx.ProviderRef != nil {
				ref = *tx.ProviderRef
			}
			if method == "" {
				method = Method(tx.PaymentMethod)
			}
			meta["transactionId"] = tx.ID.String()
			if tx.InvestmentID != nil {
				meta["investmentId"] = tx.InvestmentID.String()
			}
			if len(tx.ProviderMetadata) > 0 {
				if err := json.Unmarshal(tx.ProviderMetadata, &settled); err != nil {
					s.logger().Warn("provider metadata unreadable", zap.String("transaction_id", tx.ID.String()), zap.Error(err))
				}
			}
		}
	}
	if ref == "" {
		return RefundOutput{}, apperr.Validation(apperr.CodeTransactionNotFound, "refund needs a provider reference")
	}

	gw, err := s.Router.Route(method)
	if err != nil {
		return RefundOutput{}, err
	}
	if !in.Amount.IsPositive() {
		return RefundOutput{}, apperr.ErrInvalidAmount
	}
	if ac, ok := gw.(AmountChecker); ok {
		if err := ac.CheckAmount(in.Amount); err != nil {
			return RefundOutput{}, err
		}
	}

	// The callback below stays keyed on ref; only the provider call may need
	// a different reference.
	gwRef := ref
	if rr, ok := gw.(RefundReferencer); ok {
		gwRef = rr.RefundReference(ref, settled)
		if gwRef == "" {
			return RefundOutput{Message: "no provider receipt recorded for " + ref}, nil
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, gatewayTimeout(gw))
	res, err := gw.Refund(callCtx, gwRef, in.Amount)
	cancel()
	if err != nil {
		s.logger().Warn("refund failed", zap.String("provider_ref", ref), zap.String("provider", gw.Name()), zap.Error(err))
		return RefundOutput{Message: err.Error()}, err
	}
	out := RefundOutput{Success: res.Success, RefundRef: res.RefundRef, Message: res.Message}
	if !res.Success {
		return out, nil
	}
	if s.Callbacks != nil {
		if _, err := s.Callbacks.HandleRefund(ctx, ref, res.RefundRef, meta); err != nil {
			return out, fmt.Errorf("record refund: %w", err)
		}
	}
	return out, nil
}

// Poll asks providers about PENDING transactions older than StaleAfter and
// feeds terminal outcomes to the callback path. It returns how many
// transactions reached a terminal outcome.
func (s *Service) Poll(ctx context.Context) (int, error) {
	if s.Callbacks == nil {
		return 0, errors.New("payment poller needs a callback processor")
	}
	stale := s.StaleAfter
	if stale <= 0 {
		stale = 10 * time.Minute
	}
	batch := s.PollBatch
	if batch <= 0 {
		batch = 100
	}
	items, err := s.Repo.ListStalePendingTransactions(ctx, s.clock().Add(-stale), batch)
	if err != nil {
		return 0, fmt.Errorf("list stale transactions: %w", err)
	}

	settled := 0
	for _, tx := range items {
		if ctx.Err() != nil {
			return settled, ctx.Err()
		}
		if tx.ProviderRef == nil || *tx.ProviderRef == "" {
			continue
		}
		gw, err := s.Router.Route(Method(tx.PaymentMethod))
		if err != nil {
			continue
		}
		callCtx, cancel := context.WithTimeout(ctx, gatewayTimeout(gw))
		st, err := gw.CheckStatus(callCtx, *tx.ProviderRef)
		cancel()
		if err != nil {
			s.logger().Debug("status check failed", zap.String("provider_ref", *tx.ProviderRef), zap.Error(err))
			continue
		}
		if st.Status != StatusCompleted && st.Status != StatusFailed {
			continue
		}
		meta := map[string]string{"transactionId": tx.ID.String(), "source": "poller"}
		if tx.InvestmentID != nil {
			meta["investmentId"] = tx.InvestmentID.String()
		}
		for k, v := range st.Metadata {
			meta[k] = v
		}
		if _, err := s.Callbacks.HandleCallback(ctx, *tx.ProviderRef, st.Status == StatusCompleted, meta); err != nil {
			s.logger().Warn("polled outcome not recorded", zap.String("provider_ref", *tx.ProviderRef), zap.Error(err))
			continue
		}
		settled++
	}
	return settled, nil
}

func (s *Service) GetTransaction(ctx context.Context, id uuid.UUID) (*models.Transaction, error) {
	tx, err := s.Repo.GetTransactionByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if tx == nil {
		return nil, apperr.ErrTransactionNotFound
	}
	return tx, nil
}

func (s *Service) ListTransactions(ctx context.Context, params repository.ListTransactionsParams) ([]models.Transaction, int64, error) {
	items, err := s.Repo.ListTransactions(ctx, params)
	if err != nil {
		return nil, 0, err
	}
	total, err := s.Repo.CountTransactions(ctx, params)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

func parseAmount(raw string) (decimal.Decimal, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return decimal.Zero, apperr.Validation(apperr.CodeInvalidAmount, "amount is required")
	}
	amount, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, apperr.Validation(apperr.CodeInvalidAmount, "amount %q is not a number", raw)
	}
	if !amount.IsPositive() {
		return decimal.Zero, apperr.Validation(apperr.CodeInvalidAmount, "amount must be positive")
	}
	return amount, nil
}

func gatewayTimeout(g Gateway) time.Duration {
	if t, ok := g.(Timeouter); ok && t.Timeout() > 0 {
		return t.Timeout()
	}
	return defaultGatewayTimeout
}

func (s *Service) currency() string {
	if c := strings.TrimSpace(s.DefaultCurrency); c != "" {
		return strings.ToUpper(c)
	}
	return DefaultCurrency
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
