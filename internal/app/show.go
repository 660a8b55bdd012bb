package app

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
)

// ShowEvents prints the most recent alert events as a table.
func (a *App) ShowEvents(ctx context.Context, limit int) error {
	store, err := a.openStore(ctx)
	if err != nil {
		return err
	}

	events, err := store.ListRecentEvents(ctx, limit)
	if err != nil {
		return err
	}
	if len(events) == 0 {
		fmt.Println("no alert events recorded")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TRIGGERED AT\tSYMBOL\tKIND\tTHRESHOLD\tMOVE\tPRICE\tREF\tSENT")
	for _, ev := range events {
		sent := "yes"
		if !ev.NotificationSent {
			sent = "no"
			if ev.Error != nil {
				sent = "no (" + truncate(*ev.Error, 40) + ")"
			}
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s%%\t%s%%\t%s\t%s\t%s\n",
			ev.TriggeredAt.Format("2006-01-02 15:04:05"),
			ev.Symbol,
			ev.Kind,
			ev.ThresholdPercent.StringFixed(2),
			ev.MovePercent.StringFixed(2),
			ev.Price.StringFixed(2),
			ev.RefPrice.StringFixed(2),
			sent,
		)
	}
	return w.Flush()
}

// ShowSnapshots prints the most recent persisted prices for one symbol.
func (a *App) ShowSnapshots(ctx context.Context, symbol string, limit int) error {
	store, err := a.openStore(ctx)
	if err != nil {
		return err
	}

	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	snaps, err := store.ListRecentSnapshots(ctx, symbol, limit)
	if err != nil {
		return err
	}
	if len(snaps) == 0 {
		fmt.Printf("no snapshots recorded for %s\n", symbol)
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TAKEN AT\tSYMBOL\tPRICE\tOPEN\tPREV CLOSE\tPHASE")
	for _, snap := range snaps {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			snap.TakenAt.Format("2006-01-02 15:04:05"),
			snap.Symbol,
			snap.Price.StringFixed(2),
			snap.Open.StringFixed(2),
			snap.PrevClose.StringFixed(2),
			snap.MarketPhase,
		)
	}
	return w.Flush()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
