package settlement

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"
	"github.com/tidwall/gjson"
)

var (
	ErrMalformedCallback = errors.New("malformed callback payload")
	// ErrIgnoredEvent marks provider notifications that carry no settlement
	// outcome; callers acknowledge them and move on.
	ErrIgnoredEvent = errors.New("callback carries no settlement outcome")
	ErrBadSignature = errors.New("callback signature verification failed")
)

// ParseMpesaCallback reads a Daraja STK push result. ResultCode 0 is the
// only success code.
func ParseMpesaCallback(body []byte) (Callback, error) {
	if !gjson.ValidBytes(body) {
		return Callback{}, ErrMalformedCallback
	}
	stk := gjson.GetBytes(body, "Body.stkCallback")
	if !stk.Exists() {
		return Callback{}, ErrMalformedCallback
	}
	cb := Callback{
		ProviderRef: strings.TrimSpace(stk.Get("CheckoutRequestID").String()),
		Metadata: map[string]string{
			"merchantRequestId": stk.Get("MerchantRequestID").String(),
			"resultCode":        stk.Get("ResultCode").String(),
		},
	}
	stk.Get("CallbackMetadata.Item").ForEach(func(_, item gjson.Result) bool {
		name := item.Get("Name").String()
		if name != "" && item.Get("Value").Exists() {
			cb.Metadata[lowerFirst(name)] = item.Get("Value").String()
		}
		return true
	})
	if stk.Get("ResultCode").Int() == 0 && stk.Get("ResultCode").Exists() {
		cb.Outcome = OutcomeSuccess
	} else {
		cb.Outcome = OutcomeFailed
		cb.FailureReason = stk.Get("ResultDesc").String()
	}
	return cb, nil
}

// ParseStripeEvent verifies the webhook signature and maps payment intent
// and charge events to a callback.
func ParseStripeEvent(payload []byte, signature, secret string) (Callback, error) {
	event, err := webhook.ConstructEvent(payload, signature, secret)
	if err != nil {
		return Callback{}, fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	switch event.Type {
	case "payment_intent.succeeded", "payment_intent.canceled":
		var pi stripe.PaymentIntent
		if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
			return Callback{}, fmt.Errorf("%w: %v", ErrMalformedCallback, err)
		}
		cb := Callback{
			ProviderRef: pi.ID,
			Outcome:     OutcomeSuccess,
			Metadata:    copyMetadata(pi.Metadata),
		}
		if event.Type == "payment_intent.canceled" {
			cb.Outcome = OutcomeFailed
			cb.FailureReason = "payment canceled"
			if pi.LastPaymentError != nil && pi.LastPaymentError.Msg != "" {
				cb.FailureReason = pi.LastPaymentError.Msg
			} else if pi.CancellationReason != "" {
				cb.FailureReason = string(pi.CancellationReason)
			}
		}
		return cb, nil
	case "payment_intent.payment_failed":
		// The intent returns to requires_payment_method and the client may
		// retry with another card.
		return Callback{}, ErrIgnoredEvent
	case "charge.refunded":
		var ch stripe.Charge
		if err := json.Unmarshal(event.Data.Raw, &ch); err != nil {
			return Callback{}, fmt.Errorf("%w: %v", ErrMalformedCallback, err)
		}
		if ch.PaymentIntent == nil || ch.PaymentIntent.ID == "" {
			return Callback{}, ErrMalformedCallback
		}
		cb := Callback{
			ProviderRef: ch.PaymentIntent.ID,
			Outcome:     OutcomeRefund,
			Metadata:    copyMetadata(ch.Metadata),
		}
		if ch.Refunds != nil && len(ch.Refunds.Data) > 0 && ch.Refunds.Data[0] != nil {
			cb.RefundRef = ch.Refunds.Data[0].ID
		}
		return cb, nil
	default:
		return Callback{}, ErrIgnoredEvent
	}
}

// ParseGenericCallback reads the webhook shape used by the bank and escrow
// partners:
//
//	{"providerReference": "...", "success": true, "failureReason": "...",
//	 "refundReference": "...", "metadata": {"investmentId": "..."}}
//
// "reference" is accepted for "providerReference", and "status" for
// "success".
func ParseGenericCallback(body []byte) (Callback, error) {
	if !gjson.ValidBytes(body) {
		return Callback{}, ErrMalformedCallback
	}
	root := gjson.ParseBytes(body)
	ref := root.Get("providerReference").String()
	if ref == "" {
		ref = root.Get("reference").String()
	}
	cb := Callback{
		ProviderRef:   strings.TrimSpace(ref),
		FailureReason: root.Get("failureReason").String(),
		RefundRef:     root.Get("refundReference").String(),
		Metadata:      map[string]string{},
	}
	root.Get("metadata").ForEach(func(k, v gjson.Result) bool {
		cb.Metadata[k.String()] = v.String()
		return true
	})

	switch {
	case cb.RefundRef != "":
		cb.Outcome = OutcomeRefund
	case root.Get("success").Exists():
		cb.Outcome = OutcomeFailed
		if root.Get("success").Bool() {
			cb.Outcome = OutcomeSuccess
		}
	default:
		switch strings.ToUpper(strings.TrimSpace(root.Get("status").String())) {
		case "SUCCESS", "SUCCEEDED", "COMPLETED":
			cb.Outcome = OutcomeSuccess
		case "FAILED", "FAILURE", "DECLINED":
			cb.Outcome = OutcomeFailed
		case "REFUNDED":
			cb.Outcome = OutcomeRefund
		default:
			return Callback{}, ErrIgnoredEvent
		}
	}
	return cb, nil
}

func copyMetadata(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToLower(s[:1]) + s[1:]
}
