// Package payment routes payment requests to provider gateways and records
// each attempt as a Transaction.
package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"

	"fundflow/internal/apperr"
)

type Method string

const (
	MethodMobileMoney  Method = "MOBILE_MONEY"
	MethodCard         Method = "CARD"
	MethodBankTransfer Method = "BANK_TRANSFER"
	MethodEscrow       Method = "ESCROW"
)

func Methods() []Method {
	return []Method{MethodMobileMoney, MethodCard, MethodBankTransfer, MethodEscrow}
}

// Provider-side payment states reported by CheckStatus.
const (
	StatusPending   = "PENDING"
	StatusCompleted = "COMPLETED"
	StatusFailed    = "FAILED"
)

type InitiateRequest struct {
	TransactionID string
	Amount        decimal.Decimal
	Currency      string
	Metadata      map[string]string
}

type InitiateResult struct {
	Success      bool
	ProviderRef  string
	RedirectURL  string
	ClientSecret string
	Message      string
}

type StatusResult struct {
	Status   string
	Metadata map[string]string
}

type RefundResult struct {
	Success   bool
	RefundRef string
	Message   string
}

// Gateway is one payment provider. Implementations must not retain ctx.
type Gateway interface {
	Name() string
	Initiate(ctx context.Context, req InitiateRequest) (InitiateResult, error)
	CheckStatus(ctx context.Context, providerRef string) (StatusResult, error)
	Refund(ctx context.Context, providerRef string, amount decimal.Decimal) (RefundResult, error)
}

// Timeouter is implemented by gateways that carry their own call budget.
type Timeouter interface {
	Timeout() time.Duration
}

// AmountChecker is implemented by gateways that can only move some amounts.
type AmountChecker interface {
	CheckAmount(amount decimal.Decimal) error
}

// RefundReferencer is implemented by gateways that reverse a payment by a
// reference other than the one returned from Initiate. metadata is what the
// settlement recorded on the transaction.
type RefundReferencer interface {
	RefundReference(providerRef string, metadata map[string]string) string
}

const defaultGatewayTimeout = 30 * time.Second

// restCall is the JSON-over-HTTP exchange shared by the REST gateways.
// Non-2xx responses become GATEWAY_UNAVAILABLE for 5xx and a plain error
// carrying the body otherwise.
func restCall(ctx context.Context, client *http.Client, method, url string, headers map[string]string, payload any) (gjson.Result, error) {
	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return gjson.Result{}, err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return gjson.Result{}, err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return gjson.Result{}, apperr.Transient(apperr.CodeGatewayUnavailable, err, "%s %s", method, url)
	}
	defer func() { _ = resp.Body.Close() }()
	b, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return gjson.Result{}, err
	}
	if resp.StatusCode >= 500 {
		return gjson.Result{}, apperr.Transient(apperr.CodeGatewayUnavailable, nil, "%s %s http %d: %s", method, url, resp.StatusCode, strings.TrimSpace(string(b)))
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return gjson.ParseBytes(b), fmt.Errorf("%s %s http %d: %s", method, url, resp.StatusCode, strings.TrimSpace(string(b)))
	}
	if len(bytes.TrimSpace(b)) == 0 {
		return gjson.Result{}, nil
	}
	if !gjson.ValidBytes(b) {
		return gjson.Result{}, fmt.Errorf("%s %s: response is not json", method, url)
	}
	return gjson.ParseBytes(b), nil
}

func httpClientOr(c *http.Client, timeout time.Duration) *http.Client {
	if c != nil {
		return c
	}
	if timeout <= 0 {
		timeout = defaultGatewayTimeout
	}
	return &http.Client{Timeout: timeout}
}
