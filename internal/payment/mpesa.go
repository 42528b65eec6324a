package payment

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"fundflow/internal/apperr"
	"fundflow/internal/config"
)

// mpesaReceiptKey is the settlement metadata key holding the receipt that
// Daraja reversals are keyed on.
const mpesaReceiptKey = "mpesaReceiptNumber"

var eat = time.FixedZone("EAT", 3*60*60)

// MpesaGateway speaks the Daraja STK push API for mobile money.
type MpesaGateway struct {
	cfg  config.MpesaConfig
	HTTP *http.Client

	mu        sync.RWMutex
	token     string
	expiresAt time.Time

	now func() time.Time
}

func NewMpesaGateway(cfg config.MpesaConfig) *MpesaGateway {
	return &MpesaGateway{cfg: cfg}
}

func (g *MpesaGateway) Name() string { return "mpesa" }

func (g *MpesaGateway) Timeout() time.Duration { return g.cfg.Timeout }

// CheckAmount accepts whole shillings only.
func (g *MpesaGateway) CheckAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return apperr.Validation(apperr.CodeInvalidAmount, "amount must be positive")
	}
	if !amount.Equal(amount.Truncate(0)) {
		return apperr.Validation(apperr.CodeInvalidAmount, "mobile money amount %s is not a whole number", amount)
	}
	return nil
}

func (g *MpesaGateway) RefundReference(_ string, metadata map[string]string) string {
	return strings.TrimSpace(metadata[mpesaReceiptKey])
}

func (g *MpesaGateway) base() string {
	return strings.TrimRight(strings.TrimSpace(g.cfg.BaseURL), "/")
}

func (g *MpesaGateway) login(ctx context.Context) error {
	if g.base() == "" {
		return errors.New("mpesa base url is empty")
	}
	if g.cfg.ConsumerKey == "" || g.cfg.ConsumerSecret == "" {
		return errors.New("mpesa consumer credentials are empty")
	}
	basic := base64.StdEncoding.EncodeToString([]byte(g.cfg.ConsumerKey + ":" + g.cfg.ConsumerSecret))
	res, err := restCall(ctx, g.client(), http.MethodGet, g.base()+"/oauth/v1/generate?grant_type=client_credentials",
		map[string]string{"Authorization": "Basic " + basic}, nil)
	if err != nil {
		return err
	}
	tok := strings.TrimSpace(res.Get("access_token").String())
	if tok == "" {
		return errors.New("mpesa oauth returned no access token")
	}
	ttl := time.Duration(res.Get("expires_in").Int()) * time.Second
	if ttl <= 0 {
		ttl = time.Hour
	}
	g.mu.Lock()
	g.token = tok
	g.expiresAt = g.clock().Add(ttl)
	g.mu.Unlock()
	return nil
}

func (g *MpesaGateway) ensureToken(ctx context.Context) (string, error) {
	g.mu.RLock()
	tok, exp := g.token, g.expiresAt
	g.mu.RUnlock()
	if tok == "" || exp.Sub(g.clock()) < time.Minute {
		if err := g.login(ctx); err != nil {
			return "", err
		}
		g.mu.RLock()
		tok = g.token
		g.mu.RUnlock()
	}
	return tok, nil
}

// password is base64(shortcode + passkey + timestamp).
func (g *MpesaGateway) password(ts string) string {
	return base64.StdEncoding.EncodeToString([]byte(g.cfg.ShortCode + g.cfg.Passkey + ts))
}

func (g *MpesaGateway) timestamp() string {
	return g.clock().In(eat).Format("20060102150405")
}

func (g *MpesaGateway) Initiate(ctx context.Context, req InitiateRequest) (InitiateResult, error) {
	phone := normalizeMSISDN(req.Metadata["phone"])
	if phone == "" {
		return InitiateResult{Success: false, Message: "phone number is required for mobile money"}, nil
	}
	if err := g.CheckAmount(req.Amount); err != nil {
		return InitiateResult{}, err
	}
	tok, err := g.ensureToken(ctx)
	if err != nil {
		return InitiateResult{}, err
	}
	ts := g.timestamp()
	payload := map[string]any{
		"BusinessShortCode": g.cfg.ShortCode,
		"Password":          g.password(ts),
		"Timestamp":         ts,
		"TransactionType":   "CustomerPayBillOnline",
		"Amount":            req.Amount.IntPart(),
		"PartyA":            phone,
		"PartyB":            g.cfg.ShortCode,
		"PhoneNumber":       phone,
		"CallBackURL":       g.cfg.CallbackURL,
		"AccountReference":  accountReference(req.TransactionID),
		"TransactionDesc":   "Investment payment",
	}
	res, err := restCall(ctx, g.client(), http.MethodPost, g.base()+"/mpesa/stkpush/v1/processrequest",
		map[string]string{"Authorization": "Bearer " + tok}, payload)
	if err != nil {
		if msg := res.Get("errorMessage").String(); msg != "" {
			return InitiateResult{Success: false, Message: msg}, nil
		}
		return InitiateResult{}, err
	}
	if res.Get("ResponseCode").String() != "0" {
		return InitiateResult{Success: false, Message: res.Get("ResponseDescription").String()}, nil
	}
	return InitiateResult{
		Success:     true,
		ProviderRef: res.Get("CheckoutRequestID").String(),
		Message:     res.Get("CustomerMessage").String(),
	}, nil
}

func (g *MpesaGateway) CheckStatus(ctx context.Context, providerRef string) (StatusResult, error) {
	tok, err := g.ensureToken(ctx)
	if err != nil {
		return StatusResult{Status: StatusPending}, err
	}
	ts := g.timestamp()
	res, err := restCall(ctx, g.client(), http.MethodPost, g.base()+"/mpesa/stkpushquery/v1/query",
		map[string]string{"Authorization": "Bearer " + tok}, map[string]any{
			"BusinessShortCode": g.cfg.ShortCode,
			"Password":          g.password(ts),
			"Timestamp":         ts,
			"CheckoutRequestID": providerRef,
		})
	if err != nil {
		// Daraja answers queries for in-flight requests with an error body.
		return StatusResult{Status: StatusPending}, err
	}
	meta := map[string]string{
		"resultCode": res.Get("ResultCode").String(),
		"resultDesc": res.Get("ResultDesc").String(),
	}
	switch res.Get("ResultCode").String() {
	case "0":
		return StatusResult{Status: StatusCompleted, Metadata: meta}, nil
	case "":
		return StatusResult{Status: StatusPending, Metadata: meta}, nil
	default:
		return StatusResult{Status: StatusFailed, Metadata: meta}, nil
	}
}

// Refund reverses a receipt. providerRef is the M-Pesa receipt number, not
// the CheckoutRequestID.
func (g *MpesaGateway) Refund(ctx context.Context, providerRef string, amount decimal.Decimal) (RefundResult, error) {
	if err := g.CheckAmount(amount); err != nil {
		return RefundResult{}, err
	}
	tok, err := g.ensureToken(ctx)
	if err != nil {
		return RefundResult{}, err
	}
	res, err := restCall(ctx, g.client(), http.MethodPost, g.base()+"/mpesa/reversal/v1/request",
		map[string]string{"Authorization": "Bearer " + tok}, map[string]any{
			"Initiator":              g.cfg.Initiator,
			"SecurityCredential":     g.cfg.SecurityCredential,
			"CommandID":              "TransactionReversal",
			"TransactionID":          providerRef,
			"Amount":                 amount.IntPart(),
			"ReceiverParty":          g.cfg.ShortCode,
			"RecieverIdentifierType": "11",
			"ResultURL":              g.cfg.CallbackURL,
			"QueueTimeOutURL":        g.cfg.CallbackURL,
			"Remarks":                "Investment refund",
		})
	if err != nil {
		if msg := res.Get("errorMessage").String(); msg != "" {
			return RefundResult{Success: false, Message: msg}, nil
		}
		return RefundResult{}, err
	}
	if res.Get("ResponseCode").String() != "0" {
		return RefundResult{Success: false, Message: res.Get("ResponseDescription").String()}, nil
	}
	return RefundResult{
		Success:   true,
		RefundRef: res.Get("ConversationID").String(),
		Message:   res.Get("ResponseDescription").String(),
	}, nil
}

func (g *MpesaGateway) client() *http.Client {
	return httpClientOr(g.HTTP, g.cfg.Timeout)
}

func (g *MpesaGateway) clock() time.Time {
	if g.now != nil {
		return g.now()
	}
	return time.Now()
}

// normalizeMSISDN turns 07XXXXXXXX and +2547XXXXXXXX into 2547XXXXXXXX.
func normalizeMSISDN(phone string) string {
	phone = strings.TrimSpace(phone)
	phone = strings.TrimPrefix(phone, "+")
	phone = strings.ReplaceAll(phone, " ", "")
	if strings.HasPrefix(phone, "0") && len(phone) == 10 {
		phone = "254" + phone[1:]
	}
	for _, r := range phone {
		if r < '0' || r > '9' {
			return ""
		}
	}
	return phone
}

func accountReference(id string) string {
	id = strings.ReplaceAll(id, "-", "")
	if len(id) > 12 {
		id = id[:12]
	}
	return id
}
