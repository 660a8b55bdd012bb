package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/playgude2/stock-sentinel/internal/app"
)

var (
	backfillSymbol   string
	backfillFrom     string
	backfillTo       string
	backfillInterval time.Duration
	backfillDryRun   bool
)

var backfillCmd = &cobra.Command{
	Use:   "backfill",
	Short: "Backfill historical price snapshots from the feed",
	RunE: func(cmd *cobra.Command, args []string) error {
		if backfillFrom == "" || backfillTo == "" {
			return fmt.Errorf("--from and --to must be provided")
		}

		from, err := time.Parse(time.RFC3339, backfillFrom)
		if err != nil {
			return fmt.Errorf("invalid --from value: %w", err)
		}

		to, err := time.Parse(time.RFC3339, backfillTo)
		if err != nil {
			return fmt.Errorf("invalid --to value: %w", err)
		}

		if !from.Before(to) {
			return fmt.Errorf("--from must be before --to")
		}

		return getApp().Backfill(cmd.Context(), app.BackfillOptions{
			Symbol:   backfillSymbol,
			From:     from,
			To:       to,
			Interval: backfillInterval,
			DryRun:   backfillDryRun,
		})
	},
}

func init() {
	backfillCmd.Flags().StringVar(&backfillSymbol, "symbol", "", "Stock symbol to backfill")
	backfillCmd.Flags().StringVar(&backfillFrom, "from", "", "Start timestamp (RFC3339, inclusive)")
	backfillCmd.Flags().StringVar(&backfillTo, "to", "", "End timestamp (RFC3339, exclusive)")
	backfillCmd.Flags().DurationVar(&backfillInterval, "interval", 0, "Point spacing (defaults to scheduler interval)")
	backfillCmd.Flags().BoolVar(&backfillDryRun, "dry-run", false, "Run without writing to storage")
}
