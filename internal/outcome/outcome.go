package outcome

import (
	"github.com/shopspring/decimal"

	"updown/internal/models"
)

// Result is the final resolution of a trade.
type Result string

const (
	Win  Result = "win"
	Lose Result = "lose"
	Void Result = "void"
)

// Natural derives the market outcome from entry/exit prices and direction:
// "up" wins if exit > entry, "down" wins if exit < entry, equal price is a
// push and resolves void.
func Natural(entry, exit decimal.Decimal, direction string) Result {
	cmp := exit.Cmp(entry)
	if cmp == 0 {
		return Void
	}
	switch direction {
	case models.DirectionUp:
		if cmp > 0 {
			return Win
		}
		return Lose
	case models.DirectionDown:
		if cmp < 0 {
			return Win
		}
		return Lose
	}
	return Void
}

// Decide applies the user's override mode to the natural market result. This
// is the single place override precedence lives: forced modes win over the
// market, including on a push — the override is a guarantee, not a market
// reflection.
func Decide(natural Result, mode string) Result {
	switch mode {
	case models.OverrideModeForcedWin:
		return Win
	case models.OverrideModeForcedLose:
		return Lose
	default:
		return natural
	}
}

// StatusFor maps a result to the trade's terminal lifecycle status.
func StatusFor(r Result) string {
	switch r {
	case Win:
		return models.TradeStatusResolvedWin
	case Lose:
		return models.TradeStatusResolvedLose
	default:
		return models.TradeStatusResolvedVoid
	}
}

// Payout computes the settlement credit for a stake that was deducted at
// placement: a win returns the stake plus stake*ratio, a void returns the
// stake, a loss returns nothing.
func Payout(stake decimal.Decimal, r Result, ratio decimal.Decimal) decimal.Decimal {
	switch r {
	case Win:
		return stake.Add(stake.Mul(ratio))
	case Void:
		return stake
	default:
		return decimal.Zero
	}
}
