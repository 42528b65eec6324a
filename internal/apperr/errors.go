// Package apperr carries the stable, caller-facing error codes of the
// settlement core together with their kind and retry semantics.
package apperr

import (
	"errors"
	"fmt"
)

type Kind int

const (
	KindValidation Kind = iota + 1
	KindConflict
	KindNotFound
	KindForbidden
	KindTransient
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindConflict:
		return "conflict"
	case KindNotFound:
		return "not_found"
	case KindForbidden:
		return "forbidden"
	case KindTransient:
		return "transient"
	default:
		return "unknown"
	}
}

const (
	CodeUnsupportedPaymentMethod = "UNSUPPORTED_PAYMENT_METHOD"
	CodeInvalidAmount            = "INVALID_AMOUNT"
	CodeKYCNotApproved           = "KYC_NOT_APPROVED"
	CodeCampaignNotLive          = "CAMPAIGN_NOT_LIVE"
	CodeCampaignExpired          = "CAMPAIGN_EXPIRED"
	CodeDuplicateInvestment      = "DUPLICATE_INVESTMENT"
	CodeBelowMinimum             = "BELOW_MINIMUM"
	CodeAboveMaximum             = "ABOVE_MAXIMUM"
	CodeExceedsTarget            = "EXCEEDS_TARGET"
	CodeInvalidTransition        = "INVALID_STATE_TRANSITION"
	CodeCapacityConflict         = "CAPACITY_CONFLICT"
	CodeInvestmentNotFound       = "INVESTMENT_NOT_FOUND"
	CodeCampaignNotFound         = "CAMPAIGN_NOT_FOUND"
	CodeInvestorNotFound         = "INVESTOR_NOT_FOUND"
	CodeTransactionNotFound      = "TRANSACTION_NOT_FOUND"
	CodeNotInvestmentOwner       = "NOT_INVESTMENT_OWNER"
	CodeInvestmentNotCompleted   = "INVESTMENT_NOT_COMPLETED"
	CodeHoldingPeriodNotMet      = "HOLDING_PERIOD_NOT_MET"
	CodeConsentRequired          = "CONSENT_REQUIRED"
	CodeInsufficientShares       = "INSUFFICIENT_SHARES"
	CodeInvalidPrice             = "INVALID_PRICE"
	CodeDuplicateListing         = "DUPLICATE_LISTING"
	CodeListingNotFound          = "LISTING_NOT_FOUND"
	CodeListingNotActive         = "LISTING_NOT_ACTIVE"
	CodeListingExpired           = "LISTING_EXPIRED"
	CodeSelfPurchase             = "SELF_PURCHASE"
	CodeGatewayUnavailable       = "GATEWAY_UNAVAILABLE"
)

// Error is a domain error with a stable code. Two errors are considered
// equal by errors.Is when their codes match, so callers can compare against
// the sentinels below regardless of the message.
type Error struct {
	Kind      Kind
	Code      string
	Message   string
	Retryable bool
	Err       error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return e.Code + ": " + e.Message
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func (e *Error) Is(target error) bool {
	var other *Error
	if !errors.As(target, &other) || e == nil || other == nil {
		return false
	}
	return e.Code == other.Code
}

func New(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message, Retryable: kind == KindTransient}
}

func Validation(code, format string, args ...any) *Error {
	return New(KindValidation, code, fmt.Sprintf(format, args...))
}

func Conflict(code, format string, args ...any) *Error {
	return New(KindConflict, code, fmt.Sprintf(format, args...))
}

func NotFound(code, format string, args ...any) *Error {
	return New(KindNotFound, code, fmt.Sprintf(format, args...))
}

func Forbidden(code, format string, args ...any) *Error {
	return New(KindForbidden, code, fmt.Sprintf(format, args...))
}

func Transient(code string, err error, format string, args ...any) *Error {
	e := New(KindTransient, code, fmt.Sprintf(format, args...))
	e.Err = err
	return e
}

// Sentinels for errors.Is comparisons.
var (
	ErrUnsupportedPaymentMethod = New(KindValidation, CodeUnsupportedPaymentMethod, "payment method not supported")
	ErrInvalidAmount            = New(KindValidation, CodeInvalidAmount, "amount must be a positive decimal")
	ErrKYCNotApproved           = New(KindValidation, CodeKYCNotApproved, "investor kyc is not approved")
	ErrCampaignNotLive          = New(KindValidation, CodeCampaignNotLive, "campaign is not live")
	ErrCampaignExpired          = New(KindValidation, CodeCampaignExpired, "campaign has ended")
	ErrDuplicateInvestment      = New(KindConflict, CodeDuplicateInvestment, "investor already holds an investment in this campaign")
	ErrBelowMinimum             = New(KindValidation, CodeBelowMinimum, "amount below campaign minimum")
	ErrAboveMaximum             = New(KindValidation, CodeAboveMaximum, "amount above campaign maximum")
	ErrExceedsTarget            = New(KindValidation, CodeExceedsTarget, "amount exceeds remaining campaign capacity")
	ErrInvalidTransition        = New(KindConflict, CodeInvalidTransition, "transition not allowed")
	ErrCapacityConflict         = New(KindTransient, CodeCapacityConflict, "campaign capacity update kept conflicting")
	ErrInvestmentNotFound       = New(KindNotFound, CodeInvestmentNotFound, "investment not found")
	ErrCampaignNotFound         = New(KindNotFound, CodeCampaignNotFound, "campaign not found")
	ErrInvestorNotFound         = New(KindNotFound, CodeInvestorNotFound, "investor not found")
	ErrTransactionNotFound      = New(KindNotFound, CodeTransactionNotFound, "transaction not found")
	ErrNotInvestmentOwner       = New(KindForbidden, CodeNotInvestmentOwner, "caller does not own the investment")
	ErrInvestmentNotCompleted   = New(KindConflict, CodeInvestmentNotCompleted, "investment is not completed")
	ErrHoldingPeriodNotMet      = New(KindValidation, CodeHoldingPeriodNotMet, "holding period not met")
	ErrConsentRequired          = New(KindValidation, CodeConsentRequired, "company consent is required")
	ErrInsufficientShares       = New(KindValidation, CodeInsufficientShares, "not enough shares to list")
	ErrInvalidPrice             = New(KindValidation, CodeInvalidPrice, "price per share must be positive")
	ErrDuplicateListing         = New(KindConflict, CodeDuplicateListing, "investment already has an active listing")
	ErrListingNotFound          = New(KindNotFound, CodeListingNotFound, "listing not found")
	ErrListingNotActive         = New(KindConflict, CodeListingNotActive, "listing is not active")
	ErrListingExpired           = New(KindConflict, CodeListingExpired, "listing has expired")
	ErrSelfPurchase             = New(KindValidation, CodeSelfPurchase, "sellers cannot buy their own listing")
	ErrGatewayUnavailable       = New(KindTransient, CodeGatewayUnavailable, "payment gateway unavailable")
)

// CodeOf returns the code of the first *Error in err's chain.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// KindOf returns the kind of the first *Error in err's chain, or 0.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable
	}
	return false
}
