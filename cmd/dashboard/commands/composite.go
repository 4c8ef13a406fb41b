package commands

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/wonny/stocktop/internal/composite"
	"github.com/wonny/stocktop/internal/market"
)

// compositeCmd represents the composite command
var compositeCmd = &cobra.Command{
	Use:   "composite",
	Short: "복합 필터 결과 출력",
	Long: `스냅샷 파일에 복합 필터를 적용해 상승/하락 목록을 출력합니다.

Modes:
  all             거래대금 ∩ 거래량 ∩ 등락률
  trading_volume  거래대금 ∩ 거래량
  trading_fluc    거래대금 ∩ 등락률
  volume_fluc     거래량 ∩ 등락률

Sources:
  recomputed  거래량 목록에서 재계산한 등락률 (기본값)
  direct      수집 시점의 등락률 순위

Example:
  go run ./cmd/dashboard composite --file data/latest.json
  go run ./cmd/dashboard composite --file data/latest.json --mode volume_fluc --source direct`,
	RunE: runComposite,
}

var (
	compositeFile   string
	compositeMode   string
	compositeSource string
)

func init() {
	rootCmd.AddCommand(compositeCmd)

	compositeCmd.Flags().StringVar(&compositeFile, "file", "", "스냅샷 JSON 파일 경로")
	compositeCmd.Flags().StringVar(&compositeMode, "mode", string(composite.ModeAll), "필터 모드")
	compositeCmd.Flags().StringVar(&compositeSource, "source", string(composite.SourceRecomputed), "등락률 출처")
	_ = compositeCmd.MarkFlagRequired("file")
}

func runComposite(cmd *cobra.Command, args []string) error {
	mode, err := composite.ParseMode(compositeMode)
	if err != nil {
		return err
	}
	src, err := composite.ParseSource(compositeSource)
	if err != nil {
		return err
	}

	data, err := os.ReadFile(compositeFile)
	if err != nil {
		return fmt.Errorf("read snapshot: %w", err)
	}
	snap, err := market.Decode(data)
	if err != nil {
		return err
	}

	view := composite.Select(snap, mode, src)

	PrintHeader(fmt.Sprintf("Composite  %s / %s", view.Mode, view.Source))
	PrintKeyValue("Timestamp", snap.Timestamp, 10)
	PrintKeyValue("Schema", string(snap.Schema), 10)
	if !view.Composite {
		PrintWarning("구버전 스냅샷: 필터 없이 원본 목록을 표시합니다")
	}

	printStockTable("KOSPI 상승", view.Rising.Kospi)
	printStockTable("KOSDAQ 상승", view.Rising.Kosdaq)
	printStockTable("KOSPI 하락", view.Falling.Kospi)
	printStockTable("KOSDAQ 하락", view.Falling.Kosdaq)

	return nil
}

func printStockTable(title string, stocks []market.Stock) {
	fmt.Println()
	fmt.Printf("📊 %s (%d)\n", title, len(stocks))
	if len(stocks) == 0 {
		return
	}

	widths := []int{4, 8, 16, 12, 9, 14, 20}
	PrintTableHeader([]string{"#", "Code", "Name", "Price", "Change", "Volume", "Trading Value"}, widths)
	for _, st := range stocks {
		PrintTableRow([]string{
			strconv.Itoa(st.Rank),
			st.Code,
			st.Name,
			formatWon(st.CurrentPrice),
			formatRate(st.ChangeRate),
			formatWon(st.Volume),
			formatWon(st.TradingValue),
		}, widths)
	}
}
