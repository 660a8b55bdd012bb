package cli

import (
	"errors"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/playgude2/stock-sentinel/internal/app"
)

var (
	simulateSymbol    string
	simulateKind      string
	simulateThreshold float64
	simulateRef       float64
	simulatePrice     float64
	simulateNotify    bool
)

var simulateCmd = &cobra.Command{
	Use:   "simulate-alert",
	Short: "Evaluate one alert condition against the live quote",
	RunE: func(cmd *cobra.Command, args []string) error {
		if simulateSymbol == "" {
			return errors.New("--symbol is required")
		}
		if simulateThreshold <= 0 {
			return errors.New("--threshold must be greater than zero")
		}

		return getApp().Simulate(cmd.Context(), app.SimulateRequest{
			Symbol:           simulateSymbol,
			Kind:             simulateKind,
			ThresholdPercent: decimal.NewFromFloat(simulateThreshold),
			RefPrice:         decimal.NewFromFloat(simulateRef),
			Price:            decimal.NewFromFloat(simulatePrice),
			Notify:           simulateNotify,
		})
	},
}

func init() {
	simulateCmd.Flags().StringVar(&simulateSymbol, "symbol", "", "Stock symbol, e.g. RELIANCE")
	simulateCmd.Flags().StringVar(&simulateKind, "kind", "gap_up", "Alert kind: gap_up, gap_down, drop_window, spike_window")
	simulateCmd.Flags().Float64Var(&simulateThreshold, "threshold", 0, "Threshold percent")
	simulateCmd.Flags().Float64Var(&simulateRef, "ref", 0, "Reference price (defaults to previous close for gap kinds)")
	simulateCmd.Flags().Float64Var(&simulatePrice, "price", 0, "Current price (defaults to live quote)")
	simulateCmd.Flags().BoolVar(&simulateNotify, "notify", false, "Send through configured channels when the condition fires")
}
