package investment

import (
	"fundflow/internal/apperr"
	"fundflow/internal/models"
)

var transitions = map[string][]string{
	models.InvestmentStatusPending: {
		models.InvestmentStatusPaymentInitiated,
		models.InvestmentStatusCancelled,
	},
	models.InvestmentStatusPaymentInitiated: {
		models.InvestmentStatusCoolingOff,
		models.InvestmentStatusCancelled,
	},
	models.InvestmentStatusCoolingOff: {
		models.InvestmentStatusCompleted,
		models.InvestmentStatusCancelled,
	},
	models.InvestmentStatusCompleted: {
		models.InvestmentStatusRefunded,
	},
	models.InvestmentStatusCancelled: nil,
	models.InvestmentStatusRefunded:  nil,
}

// States lists every investment status.
func States() []string {
	return []string{
		models.InvestmentStatusPending,
		models.InvestmentStatusPaymentInitiated,
		models.InvestmentStatusCoolingOff,
		models.InvestmentStatusCompleted,
		models.InvestmentStatusCancelled,
		models.InvestmentStatusRefunded,
	}
}

func CanTransition(from, to string) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func IsTerminal(status string) bool {
	next, ok := transitions[status]
	return ok && len(next) == 0
}

func checkTransition(from, to string) error {
	if CanTransition(from, to) {
		return nil
	}
	return apperr.Conflict(apperr.CodeInvalidTransition, "cannot move investment from %s to %s", from, to)
}
