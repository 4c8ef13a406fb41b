package commands

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/wonny/stocktop/pkg/logger"
)

var (
	// Global flags
	verbose bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "dashboard",
	Short: "StockTop - 주식 순위 대시보드",
	Long: `StockTop Dashboard CLI

수집 작업이 만든 JSON 스냅샷을 제공하는 대시보드 서버.
로그인, 비활성 자동 로그아웃, 복합 필터, 모의투자 집계를 포함.

Usage:
  go run ./cmd/dashboard [command]

Examples:
  go run ./cmd/dashboard serve
  go run ./cmd/dashboard composite --file data/latest.json --mode trading_fluc
  go run ./cmd/dashboard papertrading --base data --sell-at-high
  go run ./cmd/dashboard history --base https://example.github.io/stock-data`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}

// cliLogger logs to stderr so table output on stdout stays clean
func cliLogger() *logger.Logger {
	level := "warn"
	if verbose {
		level = "debug"
	}
	return logger.NewWithWriter(os.Stderr, level, "cli")
}
