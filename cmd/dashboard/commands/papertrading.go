package commands

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/wonny/stocktop/internal/clock"
	"github.com/wonny/stocktop/internal/papertrading"
	"github.com/wonny/stocktop/internal/staticdata"
	"github.com/wonny/stocktop/pkg/httputil"
)

// papertradingCmd represents the papertrading command
var papertradingCmd = &cobra.Command{
	Use:   "papertrading",
	Short: "모의투자 집계 출력",
	Long: `모의투자 인덱스와 일별 파일을 읽어 선택 기준 집계를 출력합니다.

Example:
  go run ./cmd/dashboard papertrading --base data
  go run ./cmd/dashboard papertrading --base https://example.github.io/stock-data --sell-at-high
  go run ./cmd/dashboard papertrading --base data --exclude 2025-03-10:005930 --date 2025-03-10`,
	RunE: runPaperTrading,
}

var (
	ptBase       string
	ptExclude    []string
	ptSellAtHigh bool
	ptDate       string
)

func init() {
	rootCmd.AddCommand(papertradingCmd)

	papertradingCmd.Flags().StringVar(&ptBase, "base", "", "데이터 루트 (디렉터리 또는 URL)")
	papertradingCmd.Flags().StringSliceVar(&ptExclude, "exclude", nil, "제외할 종목 (date:code, 반복 가능)")
	papertradingCmd.Flags().BoolVar(&ptSellAtHigh, "sell-at-high", false, "장중 고가 매도 기준으로 평가")
	papertradingCmd.Flags().StringVar(&ptDate, "date", "", "종목별 내역을 출력할 거래일")
	_ = papertradingCmd.MarkFlagRequired("base")
}

type exclusion struct {
	Date string
	Code string
}

func parseExclusions(values []string) ([]exclusion, error) {
	out := make([]exclusion, 0, len(values))
	for _, v := range values {
		date, code, ok := strings.Cut(v, ":")
		date, code = strings.TrimSpace(date), strings.TrimSpace(code)
		if !ok || date == "" || code == "" {
			return nil, fmt.Errorf("invalid --exclude %q: want date:code", v)
		}
		out = append(out, exclusion{Date: date, Code: code})
	}
	return out, nil
}

func runPaperTrading(cmd *cobra.Command, args []string) error {
	exclusions, err := parseExclusions(ptExclude)
	if err != nil {
		return err
	}

	log := cliLogger()
	files := staticdata.New(ptBase, httputil.New(nil, log), clock.NewReal())

	agg := papertrading.NewAggregator()
	loaded, err := papertrading.NewLoader(files, log).LoadAll(context.Background(), agg)
	if err != nil {
		return err
	}
	if loaded == 0 {
		PrintInfo("모의투자 데이터가 없습니다")
		return nil
	}

	for _, ex := range exclusions {
		if !agg.IsStockExcluded(ex.Date, ex.Code) {
			agg.ToggleStock(ex.Date, ex.Code)
		}
	}
	agg.SetSellAtHigh(ptSellAtHigh)

	valuation := "종가"
	if ptSellAtHigh {
		valuation = "장중 고가"
	}
	PrintHeader(fmt.Sprintf("Paper Trading  %d days, 매도 기준: %s", loaded, valuation))

	widths := []int{12, 8, 8, 8, 18, 10}
	PrintTableHeader([]string{"Date", "Stocks", "Profit", "Loss", "Profit (KRW)", "Rate"}, widths)
	for _, date := range agg.Dates() {
		s, err := agg.DaySummary(date)
		if err != nil {
			continue
		}
		PrintTableRow([]string{
			date,
			strconv.Itoa(s.TotalStocks),
			strconv.Itoa(s.ProfitCount),
			strconv.Itoa(s.LossCount),
			formatWon(s.TotalProfit),
			formatRate(s.TotalProfitRate),
		}, widths)
	}

	total := agg.Summary()
	fmt.Println()
	PrintKeyValue("Stocks", strconv.Itoa(total.TotalStocks), 10)
	PrintKeyValue("Excluded", strconv.Itoa(agg.ExcludedCount()), 10)
	PrintKeyValue("Invested", formatWon(total.TotalInvested), 10)
	PrintKeyValue("Value", formatWon(total.TotalValue), 10)
	PrintKeyValue("Profit", formatWon(total.TotalProfit), 10)
	PrintKeyValue("Rate", formatRate(total.TotalProfitRate), 10)

	if ptDate == "" {
		return nil
	}

	positions, err := agg.DayPositions(ptDate)
	if err != nil {
		return err
	}

	fmt.Println()
	fmt.Printf("📊 %s\n", ptDate)
	posWidths := []int{8, 16, 12, 12, 10, 9}
	PrintTableHeader([]string{"Code", "Name", "Buy", "Sell", "Rate", "Excluded"}, posWidths)
	for _, p := range positions {
		excluded := ""
		if p.Excluded {
			excluded = "yes"
		}
		PrintTableRow([]string{
			p.Code,
			p.Name,
			formatWon(p.BuyPrice),
			formatWon(p.SellPrice),
			formatRate(p.ProfitRate),
			excluded,
		}, posWidths)
	}

	return nil
}
