package projection

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func sum(parts []decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, p := range parts {
		total = total.Add(p)
	}
	return total
}

func strings2(parts []decimal.Decimal) []string {
	out := make([]string, len(parts))
	for i, p := range parts {
		out[i] = p.StringFixed(2)
	}
	return out
}

func TestAllocate_Proportional(t *testing.T) {
	parts := Allocate(d("300.00"), []decimal.Decimal{d("50"), d("30"), d("20")})

	assert.Equal(t, []string{"150.00", "90.00", "60.00"}, strings2(parts))
	assert.True(t, sum(parts).Equal(d("300")))
}

func TestAllocate_RemainderToLastNonZero(t *testing.T) {
	parts := Allocate(d("100"), []decimal.Decimal{d("1"), d("1"), d("1"), d("0")})

	assert.Equal(t, []string{"33.33", "33.33", "33.34", "0.00"}, strings2(parts))
	assert.True(t, sum(parts).Equal(d("100")))
}

func TestAllocate_ZeroBaseFallsBackToEqualSplit(t *testing.T) {
	parts := Allocate(d("100"), []decimal.Decimal{decimal.Zero, decimal.Zero, decimal.Zero})

	assert.Equal(t, []string{"33.33", "33.33", "33.34"}, strings2(parts))
	assert.True(t, sum(parts).Equal(d("100")))
}

func TestAllocate_EvenTotal(t *testing.T) {
	parts := Allocate(d("90"), []decimal.Decimal{decimal.Zero, decimal.Zero, decimal.Zero})

	assert.Equal(t, []string{"30.00", "30.00", "30.00"}, strings2(parts))
}

func TestAllocate_NegativeTotal(t *testing.T) {
	parts := Allocate(d("-10"), []decimal.Decimal{d("2"), d("1")})

	assert.Equal(t, []string{"-6.67", "-3.33"}, strings2(parts))
	assert.True(t, sum(parts).Equal(d("-10")))
}

func TestAllocate_Empty(t *testing.T) {
	assert.Nil(t, Allocate(d("10"), nil))
	assert.Nil(t, AllocateEvenly(d("10"), 0))
}

func TestAllocate_SumsExactlyForManyShapes(t *testing.T) {
	totals := []string{"0.01", "1", "99.99", "1234.57", "1000000"}
	weightSets := [][]string{
		{"1"},
		{"3", "3", "3"},
		{"0.01", "999.99"},
		{"7", "0", "11", "13", "0"},
		{"19.99", "5.01", "0.33", "74.67"},
	}

	for _, total := range totals {
		for _, ws := range weightSets {
			weights := make([]decimal.Decimal, len(ws))
			for i, w := range ws {
				weights[i] = d(w)
			}
			parts := Allocate(d(total), weights)
			require.Len(t, parts, len(weights))
			assert.True(t, sum(parts).Equal(d(total)), "total %s weights %v gave %v", total, ws, strings2(parts))
		}
	}
}
