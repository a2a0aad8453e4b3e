package app

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"

	"reward-anomaly-engine/internal/anomaly"
)

// Report computes one report and prints it as tables or JSON.
func (a *App) Report(ctx context.Context, opts ReportOptions) error {
	if _, err := anomaly.ParseTimeframe(opts.Timeframe); err != nil {
		return err
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if closeStore != nil {
		defer closeStore()
	}

	report, err := a.newEngine(store).Report(ctx, opts.Timeframe)
	if err != nil {
		return err
	}

	if opts.JSON {
		enc := json.NewEncoder(a.Out)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}
	return writeReportTables(a.Out, report)
}

func writeReportTables(out io.Writer, report *anomaly.Report) error {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)

	fmt.Fprintf(w, "Window\t%s\t%s .. %s UTC\n", report.Timeframe,
		report.Since.UTC().Format(time.RFC3339), report.Until().UTC().Format(time.RFC3339))
	fmt.Fprintf(w, "Actions\t%d\t(%d pending)\n", report.Stats.TotalActions, report.Stats.PendingConfirmations)
	fmt.Fprintf(w, "Amount\t%s\n", formatDecimal(report.Stats.TotalAmount, 2))
	fmt.Fprintf(w, "Users / Posts\t%d / %d\n", report.Stats.UniqueUsers, report.Stats.UniquePosts)

	fmt.Fprintln(w)
	fmt.Fprintln(w, "TOP EARNERS")
	fmt.Fprintln(w, "#\tUser\tUsername\tTotal\tActions")
	for i, e := range report.TopEarners {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%d\n", i+1, e.UserID, orDash(e.Username), formatDecimal(e.TotalEarned, 2), e.ActionCount)
	}
	if len(report.TopEarners) == 0 {
		fmt.Fprintln(w, "-\tnone\t\t\t")
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, "DUPLICATE CONTENT")
	fmt.Fprintln(w, "Hash\tCount\tTotal\tSample user\tExcerpt")
	for _, g := range report.DuplicateHashes {
		fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%s\n", shortHash(g.Fingerprint), g.OccurrenceCount, formatDecimal(g.TotalAmount, 2), g.SampleUserID, sanitizeInline(g.SampleExcerpt))
	}
	if len(report.DuplicateHashes) == 0 {
		fmt.Fprintln(w, "none\t\t\t\t")
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, "SPIKES")
	fmt.Fprintln(w, "Date\tUser\tUsername\tCount\tAmount")
	for _, s := range report.Spikes {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n", s.ActionDate, s.UserID, orDash(s.Username), s.DailyCount, formatDecimal(s.DailyAmount, 2))
	}
	if len(report.Spikes) == 0 {
		fmt.Fprintln(w, "none\t\t\t\t")
	}

	return w.Flush()
}

func formatDecimal(d decimal.Decimal, places int32) string {
	return d.StringFixed(places)
}

func orDash(v string) string {
	if v == "" {
		return "-"
	}
	return v
}

func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}
