package payment

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v82"

	"fundflow/internal/apperr"
	"fundflow/internal/config"
)

// StripeGateway takes card payments through PaymentIntents.
type StripeGateway struct {
	sc  *stripe.Client
	cfg config.StripeConfig
}

func NewStripeGateway(cfg config.StripeConfig) *StripeGateway {
	return &StripeGateway{sc: stripe.NewClient(cfg.SecretKey), cfg: cfg}
}

// NewStripeGatewayWithClient lets callers point the gateway at a prepared
// client (test backends, custom HTTP transport).
func NewStripeGatewayWithClient(sc *stripe.Client, cfg config.StripeConfig) *StripeGateway {
	return &StripeGateway{sc: sc, cfg: cfg}
}

func (g *StripeGateway) Name() string { return "stripe" }

func (g *StripeGateway) Timeout() time.Duration { return g.cfg.Timeout }

func (g *StripeGateway) Initiate(ctx context.Context, req InitiateRequest) (InitiateResult, error) {
	params := &stripe.PaymentIntentCreateParams{
		Amount:   stripe.Int64(minorUnits(req.Amount)),
		Currency: stripe.String(strings.ToLower(req.Currency)),
		AutomaticPaymentMethods: &stripe.PaymentIntentCreateAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	params.SetIdempotencyKey(req.TransactionID)
	params.AddMetadata("transactionId", req.TransactionID)
	for k, v := range req.Metadata {
		if k == "amount" || k == "currency" {
			continue
		}
		params.AddMetadata(k, v)
	}

	pi, err := g.sc.V1PaymentIntents.Create(ctx, params)
	if err != nil {
		return g.declined(err)
	}
	// The client confirms the intent with its secret.
	res := InitiateResult{Success: true, ProviderRef: pi.ID, ClientSecret: pi.ClientSecret, Message: string(pi.Status)}
	if pi.NextAction != nil && pi.NextAction.RedirectToURL != nil {
		res.RedirectURL = pi.NextAction.RedirectToURL.URL
	}
	return res, nil
}

func (g *StripeGateway) CheckStatus(ctx context.Context, providerRef string) (StatusResult, error) {
	pi, err := g.sc.V1PaymentIntents.Retrieve(ctx, providerRef, nil)
	if err != nil {
		return StatusResult{Status: StatusPending}, wrapStripe(err)
	}
	meta := map[string]string{"stripeStatus": string(pi.Status)}
	switch pi.Status {
	case stripe.PaymentIntentStatusSucceeded:
		return StatusResult{Status: StatusCompleted, Metadata: meta}, nil
	case stripe.PaymentIntentStatusCanceled:
		if pi.LastPaymentError != nil {
			meta["failureReason"] = pi.LastPaymentError.Msg
		}
		return StatusResult{Status: StatusFailed, Metadata: meta}, nil
	default:
		// requires_payment_method after a decline still lets the client retry
		// with another card.
		if pi.LastPaymentError != nil {
			meta["lastPaymentError"] = pi.LastPaymentError.Msg
		}
		return StatusResult{Status: StatusPending, Metadata: meta}, nil
	}
}

func (g *StripeGateway) Refund(ctx context.Context, providerRef string, amount decimal.Decimal) (RefundResult, error) {
	params := &stripe.RefundCreateParams{
		PaymentIntent: stripe.String(providerRef),
		Amount:        stripe.Int64(minorUnits(amount)),
	}
	r, err := g.sc.V1Refunds.Create(ctx, params)
	if err != nil {
		var se *stripe.Error
		if errors.As(err, &se) && se.HTTPStatusCode < 500 && se.HTTPStatusCode != 0 {
			return RefundResult{Success: false, Message: se.Msg}, nil
		}
		return RefundResult{}, wrapStripe(err)
	}
	switch r.Status {
	case stripe.RefundStatusFailed, stripe.RefundStatusCanceled:
		return RefundResult{Success: false, RefundRef: r.ID, Message: string(r.Status)}, nil
	}
	return RefundResult{Success: true, RefundRef: r.ID, Message: string(r.Status)}, nil
}

// declined turns card errors into an unsuccessful result and everything
// else into an error.
func (g *StripeGateway) declined(err error) (InitiateResult, error) {
	var se *stripe.Error
	if errors.As(err, &se) && se.HTTPStatusCode < 500 && se.HTTPStatusCode != 0 {
		return InitiateResult{Success: false, Message: se.Msg}, nil
	}
	return InitiateResult{}, wrapStripe(err)
}

func wrapStripe(err error) error {
	return apperr.Transient(apperr.CodeGatewayUnavailable, err, "stripe request failed")
}

// minorUnits converts an amount to the provider's smallest currency unit.
func minorUnits(amount decimal.Decimal) int64 {
	return amount.Mul(decimal.NewFromInt(100)).Round(0).IntPart()
}
