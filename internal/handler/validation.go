package handler

import (
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

// decimalOrZero parses a request amount. Anything unparseable becomes zero
// so the domain checks report INVALID_AMOUNT in their own order.
func decimalOrZero(raw string) decimal.Decimal {
	d, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return decimal.Zero
	}
	return d
}

func bindError(err error) string {
	if errs, ok := err.(validator.ValidationErrors); ok && len(errs) > 0 {
		fe := errs[0]
		return "invalid field " + fe.Field() + ": " + fe.Tag()
	}
	return "invalid body"
}
