package apperr

import (
	"errors"
	"fmt"
	"testing"
)

func TestIsMatchesByCode(t *testing.T) {
	err := Validation(CodeHoldingPeriodNotMet, "%d days remaining", 265)
	if !errors.Is(err, ErrHoldingPeriodNotMet) {
		t.Fatalf("expected errors.Is to match by code")
	}
	if errors.Is(err, ErrConsentRequired) {
		t.Fatalf("different codes must not match")
	}
	wrapped := fmt.Errorf("create listing: %w", err)
	if CodeOf(wrapped) != CodeHoldingPeriodNotMet {
		t.Fatalf("code=%q", CodeOf(wrapped))
	}
	if KindOf(wrapped) != KindValidation {
		t.Fatalf("kind=%v", KindOf(wrapped))
	}
}

func TestRetryable(t *testing.T) {
	if !IsRetryable(ErrCapacityConflict) {
		t.Fatalf("capacity conflict should be retryable")
	}
	if IsRetryable(ErrExceedsTarget) {
		t.Fatalf("exceeds target should not be retryable")
	}
	if IsRetryable(errors.New("plain")) {
		t.Fatalf("plain errors are not retryable")
	}
	te := Transient(CodeGatewayUnavailable, errors.New("dial tcp"), "provider %s", "mpesa")
	if !IsRetryable(te) || te.Unwrap() == nil {
		t.Fatalf("transient=%v", te)
	}
}
