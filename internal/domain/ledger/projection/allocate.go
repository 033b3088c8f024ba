package projection

import "github.com/shopspring/decimal"

// MoneyPlaces is the rounding precision of allocated amounts
const MoneyPlaces = 2

// Allocate splits total across weights in proportion to each weight's share
// of their sum, rounded to MoneyPlaces. The rounding remainder goes to the
// last non-zero weight so the parts always sum to total exactly. When the
// weights sum to zero the total is split equally and the remainder goes to
// the last part.
func Allocate(total decimal.Decimal, weights []decimal.Decimal) []decimal.Decimal {
	n := len(weights)
	if n == 0 {
		return nil
	}
	total = total.Round(MoneyPlaces)

	base := decimal.Zero
	for _, w := range weights {
		base = base.Add(w)
	}
	if base.IsZero() {
		return AllocateEvenly(total, n)
	}

	parts := make([]decimal.Decimal, n)
	allocated := decimal.Zero
	last := -1
	for i, w := range weights {
		if w.IsZero() {
			parts[i] = decimal.Zero
			continue
		}
		parts[i] = total.Mul(w).DivRound(base, MoneyPlaces+4).Round(MoneyPlaces)
		allocated = allocated.Add(parts[i])
		last = i
	}
	parts[last] = parts[last].Add(total.Sub(allocated))
	return parts
}

// AllocateEvenly splits total into n equal parts; the last part absorbs rounding.
func AllocateEvenly(total decimal.Decimal, n int) []decimal.Decimal {
	if n <= 0 {
		return nil
	}
	total = total.Round(MoneyPlaces)
	share := total.DivRound(decimal.NewFromInt(int64(n)), MoneyPlaces+4).Round(MoneyPlaces)

	parts := make([]decimal.Decimal, n)
	allocated := decimal.Zero
	for i := range parts {
		parts[i] = share
		allocated = allocated.Add(share)
	}
	parts[n-1] = parts[n-1].Add(total.Sub(allocated))
	return parts
}
