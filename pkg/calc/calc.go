// Package calc holds the pure price/size arithmetic shared by strategies
// and the exchange adapters.
package calc

import (
	"math"
	"strconv"
	"strings"
)

// Amount sizes a position so that a move from entryPrice to stopLoss loses
// exactly riskCapital in quote currency, independent of leverage. The result
// is rounded to 8 decimals. No clamp is applied for stops very close to the
// entry; the exchange margin limit is the backstop.
func Amount(riskCapital, stopLoss, entryPrice float64) float64 {
	return Round(math.Abs(riskCapital/(1-stopLoss/entryPrice)/entryPrice), 8)
}

// Round rounds value to the given number of decimal places.
func Round(value float64, digits int) float64 {
	if digits < 0 {
		digits = 0
	}
	pow := math.Pow(10, float64(digits))
	return math.Round(value*pow) / pow
}

// Digits returns the number of decimal places of value, capped at 8. It is
// used to derive a symbol's tick precision from its last traded price.
func Digits(value float64) int {
	s := strconv.FormatFloat(value, 'f', -1, 64)
	i := strings.IndexByte(s, '.')
	if i < 0 {
		return 0
	}
	d := len(s) - i - 1
	if d > 8 {
		d = 8
	}
	return d
}

// PnL computes the realized profit of a closed position in quote currency,
// signed by direction.
func PnL(quantity, entryPrice, exitPrice float64, isShort bool) float64 {
	pnl := quantity * (exitPrice - entryPrice)
	if isShort {
		pnl = -pnl
	}
	return pnl
}
