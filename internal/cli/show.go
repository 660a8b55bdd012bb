package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	showLimit  int
	showSymbol string
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Display recent alert events, or snapshots for a symbol",
	RunE: func(cmd *cobra.Command, args []string) error {
		if showLimit <= 0 {
			return fmt.Errorf("--limit must be greater than zero")
		}

		if showSymbol != "" {
			return getApp().ShowSnapshots(cmd.Context(), showSymbol, showLimit)
		}
		return getApp().ShowEvents(cmd.Context(), showLimit)
	},
}

func init() {
	showCmd.Flags().IntVar(&showLimit, "limit", 20, "Number of rows to display")
	showCmd.Flags().StringVar(&showSymbol, "symbol", "", "Show price snapshots for this symbol instead of alert events")
}
