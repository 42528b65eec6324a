// Package settlement turns provider callbacks into settlement events exactly
// once per provider reference, and applies those events to transactions and
// investments.
package settlement

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"fundflow/internal/events"
	"fundflow/internal/models"
)

// Callback is a provider notification after normalisation.
type Callback struct {
	ProviderRef   string
	Outcome       string
	FailureReason string
	RefundRef     string
	Metadata      map[string]string
}

type CallbackProcessor struct {
	Store     Store
	Publisher events.Publisher
	Topic     string
	KeyPrefix string
	TTL       time.Duration
	Logger    *zap.Logger

	now func() time.Time
}

func NewCallbackProcessor(store Store, pub events.Publisher, topic string, logger *zap.Logger) *CallbackProcessor {
	return &CallbackProcessor{
		Store:     store,
		Publisher: pub,
		Topic:     topic,
		KeyPrefix: DefaultKeyPrefix,
		TTL:       DefaultTTL,
		Logger:    logger,
	}
}

// Handle dispatches a normalised callback to the payment or refund path.
func (p *CallbackProcessor) Handle(ctx context.Context, cb Callback) (bool, error) {
	meta := cb.Metadata
	if cb.FailureReason != "" {
		meta = withValue(meta, "failureReason", cb.FailureReason)
	}
	if cb.Outcome == OutcomeRefund {
		return p.HandleRefund(ctx, cb.ProviderRef, cb.RefundRef, meta)
	}
	return p.HandleCallback(ctx, cb.ProviderRef, cb.Outcome == OutcomeSuccess, meta)
}

// HandleCallback records the outcome for providerRef and publishes one
// PAYMENT_COMPLETED or PAYMENT_FAILED event. Later callbacks for the same
// reference are dropped; the returned bool reports whether an event went out.
func (p *CallbackProcessor) HandleCallback(ctx context.Context, providerRef string, success bool, metadata map[string]string) (bool, error) {
	outcome, eventType, status := OutcomeFailed, events.TypePaymentFailed, models.TransactionStatusFailed
	if success {
		outcome, eventType, status = OutcomeSuccess, events.TypePaymentCompleted, models.TransactionStatusCompleted
	}
	return p.process(ctx, p.prefix()+strings.TrimSpace(providerRef), outcome, events.SettlementEvent{
		EventType:   eventType,
		ProviderRef: strings.TrimSpace(providerRef),
		Status:      status,
		Metadata:    metadata,
	})
}

// HandleRefund is HandleCallback for refund confirmations; it uses its own
// key space so a refund is never mistaken for the original payment callback.
func (p *CallbackProcessor) HandleRefund(ctx context.Context, providerRef, refundRef string, metadata map[string]string) (bool, error) {
	ref := strings.TrimSpace(providerRef)
	return p.process(ctx, p.prefix()+"refund:"+ref, OutcomeRefund, events.SettlementEvent{
		EventType:   events.TypePaymentRefunded,
		ProviderRef: ref,
		Status:      models.TransactionStatusRefunded,
		RefundRef:   strings.TrimSpace(refundRef),
		Metadata:    metadata,
	})
}

func (p *CallbackProcessor) process(ctx context.Context, key, outcome string, evt events.SettlementEvent) (bool, error) {
	logger := p.logger()
	if evt.ProviderRef == "" {
		logger.Debug("callback without provider reference dropped", zap.String("event_type", evt.EventType))
		return false, nil
	}
	if p.Store == nil {
		return false, fmt.Errorf("settlement: idempotency store not configured")
	}

	created, err := p.Store.Claim(ctx, key, outcome, p.ttl())
	if err != nil {
		return false, fmt.Errorf("claim %s: %w", key, err)
	}
	if !created {
		logger.Debug("duplicate callback dropped",
			zap.String("provider_ref", evt.ProviderRef),
			zap.String("event_type", evt.EventType),
		)
		return false, nil
	}

	evt.Timestamp = p.clock().UTC()
	evt.InvestmentID = evt.Metadata["investmentId"]
	evt.TransactionID = evt.Metadata["transactionId"]
	if evt.FailureReason == "" {
		evt.FailureReason = evt.Metadata["failureReason"]
	}
	if err := events.Emit(ctx, p.Publisher, p.Topic, evt.EventType, evt.ProviderRef, evt); err != nil {
		// The key is already claimed, so this event is lost for the callback
		// path; the pending-payment poller is the recovery route.
		logger.Error("settlement event publish failed",
			zap.String("provider_ref", evt.ProviderRef),
			zap.String("event_type", evt.EventType),
			zap.Error(err),
		)
		return false, fmt.Errorf("publish %s: %w", evt.EventType, err)
	}
	logger.Info("settlement event published",
		zap.String("provider_ref", evt.ProviderRef),
		zap.String("event_type", evt.EventType),
	)
	return true, nil
}

func (p *CallbackProcessor) prefix() string {
	if p.KeyPrefix == "" {
		return DefaultKeyPrefix
	}
	return p.KeyPrefix
}

func (p *CallbackProcessor) ttl() time.Duration {
	if p.TTL <= 0 {
		return DefaultTTL
	}
	return p.TTL
}

func (p *CallbackProcessor) clock() time.Time {
	if p.now != nil {
		return p.now()
	}
	return time.Now()
}

func (p *CallbackProcessor) logger() *zap.Logger {
	if p == nil || p.Logger == nil {
		return zap.NewNop()
	}
	return p.Logger
}

func withValue(in map[string]string, key, value string) map[string]string {
	out := make(map[string]string, len(in)+1)
	for k, v := range in {
		out[k] = v
	}
	out[key] = value
	return out
}
