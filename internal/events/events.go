// Package events defines the domain events exchanged between the payment,
// investment and marketplace components and the transports that carry them.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	TypePaymentCompleted = "PAYMENT_COMPLETED"
	TypePaymentFailed    = "PAYMENT_FAILED"
	TypePaymentRefunded  = "PAYMENT_REFUNDED"

	TypeInvestmentCreated          = "INVESTMENT_CREATED"
	TypeInvestmentPaymentInitiated = "INVESTMENT_PAYMENT_INITIATED"
	TypeInvestmentCoolingOff       = "INVESTMENT_COOLING_OFF"
	TypeInvestmentCompleted        = "INVESTMENT_COMPLETED"
	TypeInvestmentCancelled        = "INVESTMENT_CANCELLED"
	TypeInvestmentRefunded         = "INVESTMENT_REFUNDED"

	TypeListingCreated   = "LISTING_CREATED"
	TypeListingSold      = "LISTING_SOLD"
	TypeListingCancelled = "LISTING_CANCELLED"
	TypeListingExpired   = "LISTING_EXPIRED"
)

// Topics names the three streams and the dead-letter naming rule.
type Topics struct {
	Settlement       string
	Investment       string
	Market           string
	DeadLetterSuffix string
}

func DefaultTopics() Topics {
	return Topics{
		Settlement:       "payments.settlement",
		Investment:       "investments.events",
		Market:           "marketplace.events",
		DeadLetterSuffix: ".dlq",
	}
}

func (t Topics) DeadLetter(topic string) string {
	suffix := t.DeadLetterSuffix
	if suffix == "" {
		suffix = ".dlq"
	}
	return topic + suffix
}

// Envelope is the transport-level wrapper of every event.
type Envelope struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	Key        string          `json:"key"`
	OccurredAt time.Time       `json:"occurredAt"`
	Payload    json.RawMessage `json:"payload"`
}

func NewEnvelope(eventType, key string, payload any) (Envelope, error) {
	eventType = strings.TrimSpace(eventType)
	if eventType == "" {
		return Envelope{}, errors.New("event type is empty")
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{
		ID:         uuid.NewString(),
		Type:       eventType,
		Key:        key,
		OccurredAt: time.Now().UTC(),
		Payload:    raw,
	}, nil
}

func (e Envelope) Decode(v any) error {
	if len(e.Payload) == 0 {
		return errors.New("event payload is empty")
	}
	return json.Unmarshal(e.Payload, v)
}

// SettlementEvent records that a payment reached a terminal provider-side
// outcome.
type SettlementEvent struct {
	EventType     string            `json:"eventType"`
	ProviderRef   string            `json:"providerReference"`
	Status        string            `json:"status"`
	InvestmentID  string            `json:"investmentId,omitempty"`
	TransactionID string            `json:"transactionId,omitempty"`
	RefundRef     string            `json:"refundReference,omitempty"`
	FailureReason string            `json:"failureReason,omitempty"`
	Timestamp     time.Time         `json:"timestamp"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

type InvestmentEvent struct {
	InvestmentID string    `json:"investmentId"`
	InvestorID   string    `json:"investorId"`
	CampaignID   string    `json:"campaignId"`
	Status       string    `json:"status"`
	Amount       string    `json:"amount"`
	Shares       int64     `json:"shares"`
	Reason       string    `json:"reason,omitempty"`
	At           time.Time `json:"at"`
}

type ListingEvent struct {
	ListingID     string    `json:"listingId"`
	InvestmentID  string    `json:"investmentId"`
	CampaignID    string    `json:"campaignId"`
	SellerID      string    `json:"sellerId"`
	BuyerID       string    `json:"buyerId,omitempty"`
	TransactionID string    `json:"transactionId,omitempty"`
	Status        string    `json:"status"`
	Shares        int64     `json:"shares"`
	TotalPrice    string    `json:"totalPrice"`
	SellerFee     string    `json:"sellerFee"`
	At            time.Time `json:"at"`
}

// Handler consumes one envelope. A returned error (or panic) rejects the
// message to the dead-letter path; it is never redelivered.
type Handler func(ctx context.Context, env Envelope) error

type Publisher interface {
	Publish(ctx context.Context, topic string, env Envelope) error
}

type Transport interface {
	Publisher
	// Consume blocks, feeding topic messages for the consumer group to h
	// until ctx is cancelled.
	Consume(ctx context.Context, topic, group string, h Handler) error
	Close() error
}

// DeadLetterSink is told about every rejected message.
type DeadLetterSink func(ctx context.Context, topic, group string, env Envelope, cause error)

// Emit builds an envelope and publishes it. A nil publisher is a no-op so
// components can run without a bridge in tests.
func Emit(ctx context.Context, pub Publisher, topic, eventType, key string, payload any) error {
	if pub == nil || strings.TrimSpace(topic) == "" {
		return nil
	}
	env, err := NewEnvelope(eventType, key, payload)
	if err != nil {
		return err
	}
	return pub.Publish(ctx, topic, env)
}
