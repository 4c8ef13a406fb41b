package papertrading

import (
	"github.com/shopspring/decimal"
)

var (
	hundred = decimal.NewFromInt(100)
	tenK    = decimal.NewFromInt(10000)
	half    = decimal.NewFromFloat(0.5)
)

// Summarize aggregates positions.
// Counts follow the sign of each position's profit rate.
// TotalProfitRate = round(totalProfit/totalInvested*10000)/100 (half rounds up), or 0 without investment.
func Summarize(positions []Position) Summary {
	var s Summary
	invested := decimal.Zero
	value := decimal.Zero

	for _, p := range positions {
		s.TotalStocks++
		switch {
		case p.ProfitRate > 0:
			s.ProfitCount++
		case p.ProfitRate < 0:
			s.LossCount++
		default:
			s.FlatCount++
		}

		invested = invested.Add(decimal.NewFromFloat(p.BuyPrice))
		value = value.Add(decimal.NewFromFloat(p.SellPrice))
	}

	profit := value.Sub(invested)

	s.TotalInvested = invested.InexactFloat64()
	s.TotalValue = value.InexactFloat64()
	s.TotalProfit = profit.InexactFloat64()
	s.TotalProfitRate = profitRate(profit, invested)

	return s
}

// profitRate returns profit/invested as a percent with two decimals
func profitRate(profit, invested decimal.Decimal) float64 {
	if !invested.IsPositive() {
		return 0
	}
	// 반올림은 +0.5 후 내림 (음수도 동일하게 위쪽으로)
	scaled := profit.Div(invested).Mul(tenK).Add(half).Floor()
	return scaled.Div(hundred).InexactFloat64()
}

// rateOf computes the profit rate of one position
func rateOf(buy, sell float64) float64 {
	return profitRate(decimal.NewFromFloat(sell).Sub(decimal.NewFromFloat(buy)), decimal.NewFromFloat(buy))
}
