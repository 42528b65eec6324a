package payment

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"fundflow/internal/config"
)

// BankGateway talks to a bank-transfer partner's transfer API. The escrow
// partner exposes the same API, so a second instance named "escrow" serves
// ESCROW payments.
type BankGateway struct {
	name string
	cfg  config.BankConfig
	HTTP *http.Client
}

func NewBankGateway(name string, cfg config.BankConfig) *BankGateway {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		name = "bank"
	}
	return &BankGateway{name: name, cfg: cfg}
}

func (g *BankGateway) Name() string { return g.name }

func (g *BankGateway) Timeout() time.Duration { return g.cfg.Timeout }

func (g *BankGateway) endpoint(path string) (string, error) {
	base := strings.TrimRight(strings.TrimSpace(g.cfg.BaseURL), "/")
	if base == "" {
		return "", errors.New(g.name + " base url is empty")
	}
	return base + path, nil
}

func (g *BankGateway) headers() map[string]string {
	h := map[string]string{}
	if key := strings.TrimSpace(g.cfg.APIKey); key != "" {
		h["Authorization"] = "Bearer " + key
	}
	return h
}

func (g *BankGateway) Initiate(ctx context.Context, req InitiateRequest) (InitiateResult, error) {
	u, err := g.endpoint("/transfers")
	if err != nil {
		return InitiateResult{}, err
	}
	res, err := restCall(ctx, g.client(), http.MethodPost, u, g.headers(), map[string]any{
		"reference": req.TransactionID,
		"amount":    req.Amount.StringFixed(2),
		"currency":  req.Currency,
		"account":   g.cfg.Account,
		"metadata":  req.Metadata,
	})
	if err != nil {
		if msg := res.Get("message").String(); msg != "" {
			return InitiateResult{Success: false, Message: msg}, nil
		}
		return InitiateResult{}, err
	}
	ref := res.Get("id").String()
	if ref == "" {
		return InitiateResult{Success: false, Message: "transfer accepted without reference"}, nil
	}
	return InitiateResult{
		Success:     true,
		ProviderRef: ref,
		RedirectURL: res.Get("redirectUrl").String(),
		Message:     res.Get("status").String(),
	}, nil
}

func (g *BankGateway) CheckStatus(ctx context.Context, providerRef string) (StatusResult, error) {
	u, err := g.endpoint("/transfers/" + url.PathEscape(providerRef))
	if err != nil {
		return StatusResult{Status: StatusPending}, err
	}
	res, err := restCall(ctx, g.client(), http.MethodGet, u, g.headers(), nil)
	if err != nil {
		return StatusResult{Status: StatusPending}, err
	}
	meta := map[string]string{"partnerStatus": res.Get("status").String()}
	if reason := res.Get("failureReason").String(); reason != "" {
		meta["failureReason"] = reason
	}
	switch strings.ToUpper(res.Get("status").String()) {
	case "COMPLETED", "SETTLED", "SUCCEEDED":
		return StatusResult{Status: StatusCompleted, Metadata: meta}, nil
	case "FAILED", "REJECTED", "CANCELLED":
		return StatusResult{Status: StatusFailed, Metadata: meta}, nil
	default:
		return StatusResult{Status: StatusPending, Metadata: meta}, nil
	}
}

func (g *BankGateway) Refund(ctx context.Context, providerRef string, amount decimal.Decimal) (RefundResult, error) {
	u, err := g.endpoint("/transfers/" + url.PathEscape(providerRef) + "/reversals")
	if err != nil {
		return RefundResult{}, err
	}
	res, err := restCall(ctx, g.client(), http.MethodPost, u, g.headers(), map[string]any{
		"amount": amount.StringFixed(2),
	})
	if err != nil {
		if msg := res.Get("message").String(); msg != "" {
			return RefundResult{Success: false, Message: msg}, nil
		}
		return RefundResult{}, err
	}
	return RefundResult{
		Success:   true,
		RefundRef: res.Get("id").String(),
		Message:   res.Get("status").String(),
	}, nil
}

func (g *BankGateway) client() *http.Client {
	return httpClientOr(g.HTTP, g.cfg.Timeout)
}
