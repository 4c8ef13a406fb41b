package commands

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/wonny/stocktop/internal/clock"
	"github.com/wonny/stocktop/internal/market"
	"github.com/wonny/stocktop/internal/staticdata"
	"github.com/wonny/stocktop/pkg/config"
	"github.com/wonny/stocktop/pkg/httputil"
)

// historyCmd represents the history command
var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "과거 스냅샷 목록",
	Long: `history/index.json 의 과거 스냅샷 목록을 출력합니다.
--show 로 한 파일을 지정하면 해당 스냅샷의 요약을 출력합니다.

Example:
  go run ./cmd/dashboard history --base data
  go run ./cmd/dashboard history --base data --show 2025-03-10_0930.json`,
	RunE: runHistory,
}

var (
	historyBase string
	historyShow string
)

func init() {
	rootCmd.AddCommand(historyCmd)

	historyCmd.Flags().StringVar(&historyBase, "base", "", "데이터 루트 (디렉터리 또는 URL)")
	historyCmd.Flags().StringVar(&historyShow, "show", "", "요약을 출력할 스냅샷 파일명")
	_ = historyCmd.MarkFlagRequired("base")
}

func runHistory(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	log := cliLogger()
	clk := clock.NewReal()

	files := staticdata.New(historyBase, httputil.New(nil, log), clk)
	fetcher := market.NewFetcher(files, nil, config.DataConfig{}, clk, log)

	idx, err := fetcher.FetchHistoryIndex(ctx)
	if err != nil {
		return err
	}

	if historyShow == "" {
		PrintHeader(fmt.Sprintf("History  %d snapshots", len(idx.Entries)))
		if idx.UpdatedAt != "" {
			PrintKeyValue("Updated", idx.UpdatedAt, 8)
			fmt.Println()
		}
		widths := []int{28, 12, 8}
		PrintTableHeader([]string{"Filename", "Date", "Time"}, widths)
		for _, e := range idx.Entries {
			PrintTableRow([]string{e.Filename, e.Date, e.Time}, widths)
		}
		return nil
	}

	entry, ok := idx.Find(historyShow)
	if !ok {
		return fmt.Errorf("snapshot %q not in history index", historyShow)
	}
	snap, err := fetcher.FetchHistory(ctx, entry)
	if err != nil {
		return err
	}

	PrintHeader("Snapshot  " + entry.Filename)
	PrintKeyValue("Timestamp", snap.Timestamp, 10)
	PrintKeyValue("Schema", string(snap.Schema), 10)
	PrintKeyValue("Rising", strconv.Itoa(len(snap.Rising.Kospi)+len(snap.Rising.Kosdaq)), 10)
	PrintKeyValue("Falling", strconv.Itoa(len(snap.Falling.Kospi)+len(snap.Falling.Kosdaq)), 10)
	PrintKeyValue("News", strconv.Itoa(len(snap.News)), 10)
	return nil
}
