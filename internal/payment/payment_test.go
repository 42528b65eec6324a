package payment

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v82"

	"fundflow/internal/apperr"
	"fundflow/internal/config"
	"fundflow/internal/models"
	"fundflow/internal/repository"
	"fundflow/internal/repository/memory"
)

type fakeGateway struct {
	name    string
	result  InitiateResult
	err     error
	status  StatusResult
	refund  RefundResult
	calls   int
	lastReq InitiateRequest
	delay   time.Duration
}

func (g *fakeGateway) Name() string { return g.name }

func (g *fakeGateway) Timeout() time.Duration { return 50 * time.Millisecond }

func (g *fakeGateway) Initiate(ctx context.Context, req InitiateRequest) (InitiateResult, error) {
	g.calls++
	g.lastReq = req
	if g.delay > 0 {
		select {
		case <-time.After(g.delay):
		case <-ctx.Done():
			return InitiateResult{}, apperr.Transient(apperr.CodeGatewayUnavailable, ctx.Err(), "timeout")
		}
	}
	return g.result, g.err
}

func (g *fakeGateway) CheckStatus(context.Context, string) (StatusResult, error) {
	return g.status, nil
}

func (g *fakeGateway) Refund(context.Context, string, decimal.Decimal) (RefundResult, error) {
	return g.refund, nil
}

type fakeTracker struct{ ids []uuid.UUID }

func (f *fakeTracker) MarkPaymentInitiated(_ context.Context, id uuid.UUID) error {
	f.ids = append(f.ids, id)
	return nil
}

type fakeCallbacks struct {
	mu       sync.Mutex
	payments map[string]bool
	refunds  map[string]string
}

func (f *fakeCallbacks) HandleCallback(_ context.Context, ref string, success bool, _ map[string]string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.payments == nil {
		f.payments = map[string]bool{}
	}
	f.payments[ref] = success
	return true, nil
}

func (f *fakeCallbacks) HandleRefund(_ context.Context, ref, refundRef string, _ map[string]string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.refunds == nil {
		f.refunds = map[string]string{}
	}
	f.refunds[ref] = refundRef
	return true, nil
}

func TestRouter(t *testing.T) {
	mpesa := &fakeGateway{name: "mpesa"}
	stripeGW := &fakeGateway{name: "stripe"}
	// Viper lowercases map keys.
	r, err := NewRouter([]Gateway{mpesa, stripeGW}, map[string]string{"mobile_money": "mpesa", "card": "STRIPE"})
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	if g, err := r.Route(MethodMobileMoney); err != nil || g != mpesa {
		t.Fatalf("mobile money g=%v err=%v", g, err)
	}
	if g, err := r.Route("card"); err != nil || g != stripeGW {
		t.Fatalf("card g=%v err=%v", g, err)
	}
	if _, err := r.Route(MethodEscrow); !errors.Is(err, apperr.ErrUnsupportedPaymentMethod) || apperr.IsRetryable(err) {
		t.Fatalf("escrow err=%v", err)
	}
	if _, err := NewRouter([]Gateway{mpesa}, map[string]string{"CARD": "stripe"}); err == nil {
		t.Fatalf("expected unknown provider error")
	}
	if got := r.Supported(); len(got) != 2 || got[0] != MethodCard {
		t.Fatalf("supported=%v", got)
	}
}

func newTestService(t *testing.T, gw *fakeGateway) (*Service, *memory.Store, *fakeTracker, *fakeCallbacks) {
	t.Helper()
	r, err := NewRouter([]Gateway{gw}, map[string]string{string(MethodMobileMoney): gw.name})
	if err != nil {
		t.Fatalf("router: %v", err)
	}
	repo := memory.New()
	svc := NewService(repo, r, nil)
	tracker := &fakeTracker{}
	cbs := &fakeCallbacks{}
	svc.Investments = tracker
	svc.Callbacks = cbs
	return svc, repo, tracker, cbs
}

func TestInitiateOrderOfChecks(t *testing.T) {
	gw := &fakeGateway{name: "mpesa"}
	svc, _, _, _ := newTestService(t, gw)
	ctx := context.Background()

	// Unsupported method wins over a bad amount.
	_, err := svc.Initiate(ctx, InitiateInput{PayerID: uuid.New(), Method: MethodCard, Metadata: map[string]string{"amount": "abc"}})
	if !errors.Is(err, apperr.ErrUnsupportedPaymentMethod) {
		t.Fatalf("err=%v", err)
	}
	for _, raw := range []string{"", "abc", "0", "-5"} {
		_, err := svc.Initiate(ctx, InitiateInput{PayerID: uuid.New(), Method: MethodMobileMoney, Metadata: map[string]string{"amount": raw}})
		if !errors.Is(err, apperr.ErrInvalidAmount) {
			t.Fatalf("amount %q err=%v", raw, err)
		}
	}
	if gw.calls != 0 {
		t.Fatalf("gateway called %d times", gw.calls)
	}
}

func TestInitiateSuccess(t *testing.T) {
	gw := &fakeGateway{name: "mpesa", result: InitiateResult{Success: true, ProviderRef: "ws_CO_9", Message: "accepted"}}
	svc, repo, tracker, _ := newTestService(t, gw)
	invID := uuid.New()

	out, err := svc.Initiate(context.Background(), InitiateInput{
		InvestmentID: &invID,
		PayerID:      uuid.New(),
		Method:       MethodMobileMoney,
		Metadata:     map[string]string{"amount": "1500.00", "phone": "0712345678"},
	})
	if err != nil || !out.Success || out.ProviderRef != "ws_CO_9" {
		t.Fatalf("out=%+v err=%v", out, err)
	}
	if gw.lastReq.Currency != "KES" || !gw.lastReq.Amount.Equal(decimal.NewFromInt(1500)) || gw.lastReq.Metadata["investmentId"] != invID.String() {
		t.Fatalf("req=%+v", gw.lastReq)
	}
	tx, _ := repo.GetTransactionByProviderRef(context.Background(), "ws_CO_9")
	if tx == nil || tx.Status != models.TransactionStatusPending || tx.Type != models.TransactionTypeInvestment || tx.Provider != "mpesa" {
		t.Fatalf("tx=%+v", tx)
	}
	if len(tracker.ids) != 1 || tracker.ids[0] != invID {
		t.Fatalf("tracker=%v", tracker.ids)
	}
}

func TestInitiateFailureMarksTransactionFailed(t *testing.T) {
	gw := &fakeGateway{name: "mpesa", result: InitiateResult{Success: false, Message: "insufficient funds"}}
	svc, repo, tracker, _ := newTestService(t, gw)

	out, err := svc.Initiate(context.Background(), InitiateInput{
		PayerID:  uuid.New(),
		Method:   MethodMobileMoney,
		Metadata: map[string]string{"amount": "10", "currency": "ugx"},
	})
	if err != nil || out.Success || out.Message != "insufficient funds" {
		t.Fatalf("out=%+v err=%v", out, err)
	}
	tx, _ := repo.GetTransactionByID(context.Background(), uuid.MustParse(out.TransactionID))
	if tx.Status != models.TransactionStatusFailed || tx.FailureReason != "insufficient funds" || tx.Currency != "UGX" || tx.Type != models.TransactionTypePayment {
		t.Fatalf("tx=%+v", tx)
	}
	if len(tracker.ids) != 0 {
		t.Fatalf("tracker=%v", tracker.ids)
	}
}

func TestInitiateSlowGatewayTimesOut(t *testing.T) {
	gw := &fakeGateway{name: "mpesa", delay: time.Second}
	svc, repo, _, _ := newTestService(t, gw)
	out, err := svc.Initiate(context.Background(), InitiateInput{
		PayerID:  uuid.New(),
		Method:   MethodMobileMoney,
		Metadata: map[string]string{"amount": "10"},
	})
	if !errors.Is(err, apperr.ErrGatewayUnavailable) {
		t.Fatalf("err=%v", err)
	}
	tx, _ := repo.GetTransactionByID(context.Background(), uuid.MustParse(out.TransactionID))
	if tx.Status != models.TransactionStatusFailed {
		t.Fatalf("status=%s", tx.Status)
	}
}

func TestRefundRecordsThroughCallbacks(t *testing.T) {
	gw := &fakeGateway{
		name:   "mpesa",
		result: InitiateResult{Success: true, ProviderRef: "ws_CO_r"},
		refund: RefundResult{Success: true, RefundRef: "rev-1"},
	}
	svc, _, _, cbs := newTestService(t, gw)
	ctx := context.Background()
	out, err := svc.Initiate(ctx, InitiateInput{PayerID: uuid.New(), Method: MethodMobileMoney, Metadata: map[string]string{"amount": "10"}})
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}

	if _, err := svc.Refund(ctx, RefundInput{TransactionID: uuid.MustParse(out.TransactionID), Amount: decimal.Zero}); !errors.Is(err, apperr.ErrInvalidAmount) {
		t.Fatalf("zero amount err=%v", err)
	}
	res, err := svc.Refund(ctx, RefundInput{TransactionID: uuid.MustParse(out.TransactionID), Amount: decimal.NewFromInt(10)})
	if err != nil || !res.Success || res.RefundRef != "rev-1" {
		t.Fatalf("res=%+v err=%v", res, err)
	}
	if cbs.refunds["ws_CO_r"] != "rev-1" {
		t.Fatalf("refunds=%v", cbs.refunds)
	}
}

func TestPollFeedsTerminalOutcomes(t *testing.T) {
	gw := &fakeGateway{
		name:   "mpesa",
		result: InitiateResult{Success: true, ProviderRef: "ws_CO_p"},
		status: StatusResult{Status: StatusCompleted},
	}
	svc, _, _, cbs := newTestService(t, gw)
	ctx := context.Background()
	if _, err := svc.Initiate(ctx, InitiateInput{PayerID: uuid.New(), Method: MethodMobileMoney, Metadata: map[string]string{"amount": "10"}}); err != nil {
		t.Fatalf("initiate: %v", err)
	}

	svc.now = func() time.Time { return time.Now().Add(time.Hour) }
	n, err := svc.Poll(ctx)
	if err != nil || n != 1 {
		t.Fatalf("n=%d err=%v", n, err)
	}
	if success, ok := cbs.payments["ws_CO_p"]; !ok || !success {
		t.Fatalf("payments=%v", cbs.payments)
	}
}

func TestMpesaGateway(t *testing.T) {
	var stkBody, reversalBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/oauth/v1/generate":
			user, pass, ok := r.BasicAuth()
			if !ok || user != "key" || pass != "secret" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			_, _ = w.Write([]byte(`{"access_token":"tok","expires_in":"3599"}`))
		case "/mpesa/stkpush/v1/processrequest":
			if r.Header.Get("Authorization") != "Bearer tok" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			_ = json.NewDecoder(r.Body).Decode(&stkBody)
			_, _ = w.Write([]byte(`{"MerchantRequestID":"m-1","CheckoutRequestID":"ws_CO_1","ResponseCode":"0","CustomerMessage":"Success. Request accepted for processing"}`))
		case "/mpesa/stkpushquery/v1/query":
			_, _ = w.Write([]byte(`{"ResponseCode":"0","ResultCode":"1032","ResultDesc":"Request cancelled by user"}`))
		case "/mpesa/reversal/v1/request":
			_ = json.NewDecoder(r.Body).Decode(&reversalBody)
			_, _ = w.Write([]byte(`{"ConversationID":"AG_1","ResponseCode":"0","ResponseDescription":"Accept the service request successfully."}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	g := NewMpesaGateway(config.MpesaConfig{
		BaseURL:        srv.URL,
		ConsumerKey:    "key",
		ConsumerSecret: "secret",
		ShortCode:      "174379",
		Passkey:        "pk",
		CallbackURL:    "https://example.test/callbacks/mpesa",
		Timeout:        time.Second,
	})
	g.now = func() time.Time { return time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC) }

	res, err := g.Initiate(context.Background(), InitiateRequest{
		TransactionID: "7f1c2d3e-0000-0000-0000-000000000000",
		Amount:        decimal.NewFromInt(100),
		Metadata:      map[string]string{"phone": "0712345678"},
	})
	if err != nil || !res.Success || res.ProviderRef != "ws_CO_1" {
		t.Fatalf("res=%+v err=%v", res, err)
	}
	if stkBody["PhoneNumber"] != "254712345678" || stkBody["Timestamp"] != "20260301120000" || stkBody["Amount"] != float64(100) {
		t.Fatalf("stk body=%v", stkBody)
	}
	if stkBody["Password"] != g.password("20260301120000") {
		t.Fatalf("password=%v", stkBody["Password"])
	}

	st, err := g.CheckStatus(context.Background(), "ws_CO_1")
	if err != nil || st.Status != StatusFailed {
		t.Fatalf("status=%+v err=%v", st, err)
	}

	res, err = g.Initiate(context.Background(), InitiateRequest{TransactionID: "x", Amount: decimal.NewFromInt(1)})
	if err != nil || res.Success {
		t.Fatalf("missing phone res=%+v err=%v", res, err)
	}

	stkBody = nil
	_, err = g.Initiate(context.Background(), InitiateRequest{
		TransactionID: "y",
		Amount:        decimal.RequireFromString("99.50"),
		Metadata:      map[string]string{"phone": "0712345678"},
	})
	if apperr.CodeOf(err) != apperr.CodeInvalidAmount || stkBody != nil {
		t.Fatalf("fractional amount err=%v body=%v", err, stkBody)
	}

	rf, err := g.Refund(context.Background(), "QK1", decimal.NewFromInt(100))
	if err != nil || !rf.Success || rf.RefundRef != "AG_1" {
		t.Fatalf("refund=%+v err=%v", rf, err)
	}
	if reversalBody["TransactionID"] != "QK1" || reversalBody["Amount"] != float64(100) {
		t.Fatalf("reversal body=%v", reversalBody)
	}
	if _, err := g.Refund(context.Background(), "QK1", decimal.RequireFromString("0.5")); apperr.CodeOf(err) != apperr.CodeInvalidAmount {
		t.Fatalf("fractional refund err=%v", err)
	}
}

func TestMobileMoneyRejectsFractionalShillings(t *testing.T) {
	r, err := NewRouter([]Gateway{NewMpesaGateway(config.MpesaConfig{})}, map[string]string{string(MethodMobileMoney): "mpesa"})
	if err != nil {
		t.Fatalf("router: %v", err)
	}
	repo := memory.New()
	svc := NewService(repo, r, nil)
	ctx := context.Background()

	_, err = svc.Initiate(ctx, InitiateInput{PayerID: uuid.New(), Method: MethodMobileMoney, Metadata: map[string]string{"amount": "99.50", "phone": "0712345678"}})
	if apperr.CodeOf(err) != apperr.CodeInvalidAmount || apperr.KindOf(err) != apperr.KindValidation {
		t.Fatalf("err=%v", err)
	}
	if n, _ := repo.CountTransactions(ctx, repository.ListTransactionsParams{}); n != 0 {
		t.Fatalf("transactions=%d", n)
	}
}

// M-Pesa reverses by receipt number; the CheckoutRequestID only identifies
// the STK push.
func TestMpesaRefundUsesSettledReceipt(t *testing.T) {
	var reversals []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/oauth/v1/generate":
			_, _ = w.Write([]byte(`{"access_token":"tok","expires_in":"3599"}`))
		case "/mpesa/reversal/v1/request":
			var body map[string]any
			_ = json.NewDecoder(r.Body).Decode(&body)
			reversals = append(reversals, body["TransactionID"].(string))
			_, _ = w.Write([]byte(`{"ConversationID":"AG_9","ResponseCode":"0","ResponseDescription":"ok"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	g := NewMpesaGateway(config.MpesaConfig{BaseURL: srv.URL, ConsumerKey: "key", ConsumerSecret: "secret", Timeout: time.Second})
	r, err := NewRouter([]Gateway{g}, map[string]string{string(MethodMobileMoney): "mpesa"})
	if err != nil {
		t.Fatalf("router: %v", err)
	}
	repo := memory.New()
	svc := NewService(repo, r, nil)
	cbs := &fakeCallbacks{}
	svc.Callbacks = cbs
	ctx := context.Background()

	seed := func(ref string, meta string) uuid.UUID {
		t.Helper()
		tx := &models.Transaction{
			ID:            uuid.New(),
			PayerID:       uuid.New(),
			Type:          models.TransactionTypePayment,
			Amount:        decimal.NewFromInt(500),
			Currency:      "KES",
			Status:        models.TransactionStatusCompleted,
			PaymentMethod: string(MethodMobileMoney),
			Provider:      "mpesa",
			ProviderRef:   &ref,
		}
		if meta != "" {
			tx.ProviderMetadata = []byte(meta)
		}
		if err := repo.InsertTransaction(ctx, tx); err != nil {
			t.Fatalf("seed: %v", err)
		}
		return tx.ID
	}

	paid := seed("ws_CO_7", `{"mpesaReceiptNumber":"QK7","resultCode":"0"}`)
	res, err := svc.Refund(ctx, RefundInput{TransactionID: paid, Amount: decimal.NewFromInt(500)})
	if err != nil || !res.Success || res.RefundRef != "AG_9" {
		t.Fatalf("res=%+v err=%v", res, err)
	}
	if len(reversals) != 1 || reversals[0] != "QK7" {
		t.Fatalf("reversals=%v", reversals)
	}
	if cbs.refunds["ws_CO_7"] != "AG_9" {
		t.Fatalf("refunds=%v", cbs.refunds)
	}

	bare := seed("ws_CO_8", "")
	res, err = svc.Refund(ctx, RefundInput{TransactionID: bare, Amount: decimal.NewFromInt(500)})
	if err != nil || res.Success {
		t.Fatalf("no receipt res=%+v err=%v", res, err)
	}
	if len(reversals) != 1 {
		t.Fatalf("reversal sent without receipt: %v", reversals)
	}
}

func newStripeTestGateway(t *testing.T, h http.HandlerFunc) *StripeGateway {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	sc := stripe.NewClient("sk_test_123", stripe.WithBackends(stripe.NewBackendsWithConfig(&stripe.BackendConfig{
		URL:               stripe.String(srv.URL),
		HTTPClient:        srv.Client(),
		MaxNetworkRetries: stripe.Int64(0),
		LeveledLogger:     &stripe.LeveledLogger{Level: stripe.LevelNull},
	})))
	return NewStripeGatewayWithClient(sc, config.StripeConfig{Timeout: time.Second})
}

func TestStripeGatewayInitiate(t *testing.T) {
	var form url.Values
	g := newStripeTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/payment_intents" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_ = r.ParseForm()
		form = r.PostForm
		w.Header().Set("Content-Type", "application/json")
		if form.Get("amount") == "999900" {
			w.WriteHeader(http.StatusPaymentRequired)
			_, _ = w.Write([]byte(`{"error":{"type":"card_error","code":"card_declined","message":"Your card was declined."}}`))
			return
		}
		_, _ = w.Write([]byte(`{"id":"pi_1","object":"payment_intent","status":"requires_payment_method","client_secret":"pi_1_secret_abc"}`))
	})
	ctx := context.Background()

	res, err := g.Initiate(ctx, InitiateRequest{
		TransactionID: "tx-1",
		Amount:        decimal.RequireFromString("12.50"),
		Currency:      "KES",
		Metadata:      map[string]string{"amount": "12.50", "investmentId": "inv-1"},
	})
	if err != nil || !res.Success || res.ProviderRef != "pi_1" {
		t.Fatalf("res=%+v err=%v", res, err)
	}
	if res.ClientSecret != "pi_1_secret_abc" || res.RedirectURL != "" {
		t.Fatalf("secret=%q redirect=%q", res.ClientSecret, res.RedirectURL)
	}
	if form.Get("amount") != "1250" || form.Get("currency") != "kes" || form.Get("metadata[investmentId]") != "inv-1" || form.Get("metadata[amount]") != "" {
		t.Fatalf("form=%v", form)
	}

	res, err = g.Initiate(ctx, InitiateRequest{TransactionID: "tx-2", Amount: decimal.NewFromInt(9999), Currency: "KES"})
	if err != nil || res.Success || res.Message != "Your card was declined." {
		t.Fatalf("declined res=%+v err=%v", res, err)
	}
}

func TestStripeGatewayCheckStatus(t *testing.T) {
	cases := []struct {
		stripeStatus string
		want         string
	}{
		{"succeeded", StatusCompleted},
		{"canceled", StatusFailed},
		{"requires_payment_method", StatusPending},
		{"requires_confirmation", StatusPending},
		{"requires_action", StatusPending},
		{"processing", StatusPending},
		{"requires_capture", StatusPending},
	}
	for _, tc := range cases {
		t.Run(tc.stripeStatus, func(t *testing.T) {
			g := newStripeTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
				if r.Method != http.MethodGet || r.URL.Path != "/v1/payment_intents/pi_1" {
					w.WriteHeader(http.StatusNotFound)
					return
				}
				w.Header().Set("Content-Type", "application/json")
				_, _ = w.Write([]byte(`{"id":"pi_1","object":"payment_intent","status":"` + tc.stripeStatus + `"}`))
			})
			st, err := g.CheckStatus(context.Background(), "pi_1")
			if err != nil || st.Status != tc.want || st.Metadata["stripeStatus"] != tc.stripeStatus {
				t.Fatalf("st=%+v err=%v", st, err)
			}
		})
	}

	g := newStripeTestGateway(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"error":{"type":"api_error","message":"try later"}}`))
	})
	st, err := g.CheckStatus(context.Background(), "pi_1")
	if !errors.Is(err, apperr.ErrGatewayUnavailable) || st.Status != StatusPending {
		t.Fatalf("st=%+v err=%v", st, err)
	}
}

func TestStripeGatewayRefund(t *testing.T) {
	var form url.Values
	g := newStripeTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/refunds" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_ = r.ParseForm()
		form = r.PostForm
		w.Header().Set("Content-Type", "application/json")
		switch form.Get("payment_intent") {
		case "pi_gone":
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":{"type":"invalid_request_error","message":"Charge already refunded."}}`))
		case "pi_fail":
			_, _ = w.Write([]byte(`{"id":"re_2","object":"refund","status":"failed"}`))
		default:
			_, _ = w.Write([]byte(`{"id":"re_1","object":"refund","status":"succeeded"}`))
		}
	})
	ctx := context.Background()

	rf, err := g.Refund(ctx, "pi_1", decimal.RequireFromString("10.25"))
	if err != nil || !rf.Success || rf.RefundRef != "re_1" {
		t.Fatalf("rf=%+v err=%v", rf, err)
	}
	if form.Get("amount") != "1025" || form.Get("payment_intent") != "pi_1" {
		t.Fatalf("form=%v", form)
	}
	rf, err = g.Refund(ctx, "pi_fail", decimal.NewFromInt(1))
	if err != nil || rf.Success || rf.RefundRef != "re_2" {
		t.Fatalf("failed rf=%+v err=%v", rf, err)
	}
	rf, err = g.Refund(ctx, "pi_gone", decimal.NewFromInt(1))
	if err != nil || rf.Success || rf.Message != "Charge already refunded." {
		t.Fatalf("rejected rf=%+v err=%v", rf, err)
	}
}

func TestInitiateReturnsClientSecret(t *testing.T) {
	gw := &fakeGateway{name: "mpesa", result: InitiateResult{Success: true, ProviderRef: "pi_9", ClientSecret: "pi_9_secret"}}
	svc, _, _, _ := newTestService(t, gw)
	out, err := svc.Initiate(context.Background(), InitiateInput{PayerID: uuid.New(), Method: MethodMobileMoney, Metadata: map[string]string{"amount": "10"}})
	if err != nil || out.ClientSecret != "pi_9_secret" {
		t.Fatalf("out=%+v err=%v", out, err)
	}
}

func TestBankGateway(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer bank-key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/transfers":
			_, _ = w.Write([]byte(`{"id":"trf_1","status":"PENDING","redirectUrl":"https://bank.test/approve/trf_1"}`))
		case r.Method == http.MethodGet && r.URL.Path == "/transfers/trf_1":
			_, _ = w.Write([]byte(`{"id":"trf_1","status":"SETTLED"}`))
		case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/reversals"):
			_, _ = w.Write([]byte(`{"id":"rev_1","status":"ACCEPTED"}`))
		case r.URL.Path == "/transfers/down":
			w.WriteHeader(http.StatusBadGateway)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	g := NewBankGateway("escrow", config.BankConfig{BaseURL: srv.URL, APIKey: "bank-key", Timeout: time.Second})
	if g.Name() != "escrow" {
		t.Fatalf("name=%s", g.Name())
	}
	ctx := context.Background()
	res, err := g.Initiate(ctx, InitiateRequest{TransactionID: "t1", Amount: decimal.NewFromInt(10), Currency: "KES"})
	if err != nil || !res.Success || res.ProviderRef != "trf_1" || res.RedirectURL == "" {
		t.Fatalf("res=%+v err=%v", res, err)
	}
	st, err := g.CheckStatus(ctx, "trf_1")
	if err != nil || st.Status != StatusCompleted {
		t.Fatalf("st=%+v err=%v", st, err)
	}
	rf, err := g.Refund(ctx, "trf_1", decimal.NewFromInt(10))
	if err != nil || !rf.Success || rf.RefundRef != "rev_1" {
		t.Fatalf("rf=%+v err=%v", rf, err)
	}
	if _, err := g.CheckStatus(ctx, "down"); !errors.Is(err, apperr.ErrGatewayUnavailable) {
		t.Fatalf("err=%v", err)
	}
}

func TestMinorUnits(t *testing.T) {
	cases := map[string]int64{"10": 1000, "10.5": 1050, "0.015": 2, "1234.56": 123456}
	for in, want := range cases {
		if got := minorUnits(decimal.RequireFromString(in)); got != want {
			t.Fatalf("minorUnits(%s)=%d want=%d", in, got, want)
		}
	}
}
