package app

import (
	"context"
	"encoding/csv"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"time"

	chart "github.com/wcharczuk/go-chart/v2"

	"reward-anomaly-engine/internal/anomaly"
)

// Export renders one report window as CSV and/or a PNG chart of daily payouts.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}
	if _, err := anomaly.ParseTimeframe(opts.Timeframe); err != nil {
		return err
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot export")
	}
	defer closeStore()

	engine := a.newEngine(store)
	window, snap, err := engine.Snapshot(ctx, opts.Timeframe)
	if err != nil {
		return err
	}
	report, err := anomaly.Assemble(window, snap, a.engineOptions())
	if err != nil {
		return err
	}

	a.Logger.Info().Str("timeframe", opts.Timeframe).Int("events", len(snap.Events)).Msg("exporting report window")

	if opts.CSVPath != "" {
		if err := writeReportCSV(opts.CSVPath, report); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		series := anomaly.DailyTotals(window, snap.Events, a.Config.Location())
		if err := writeDailyPNG(opts.PNGPath, report.Timeframe, series, a.Config.Export.ChartWidth, a.Config.Export.ChartHeight); err != nil {
			return err
		}
	}

	return nil
}

// writeReportCSV writes every report section as rows tagged by section so one
// file can be loaded into a spreadsheet and filtered.
func writeReportCSV(path string, report *anomaly.Report) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)

	header := []string{"section", "key", "user_id", "username", "date", "count", "amount", "detail"}
	if err := writer.Write(header); err != nil {
		return err
	}

	s := report.Stats
	rows := [][]string{
		{"stats", "total_actions", "", "", "", strconv.Itoa(s.TotalActions), "", ""},
		{"stats", "total_amount", "", "", "", "", s.TotalAmount.String(), ""},
		{"stats", "unique_users", "", "", "", strconv.Itoa(s.UniqueUsers), "", ""},
		{"stats", "unique_posts", "", "", "", strconv.Itoa(s.UniquePosts), "", ""},
		{"stats", "pending_confirmations", "", "", "", strconv.Itoa(s.PendingConfirmations), "", ""},
	}
	for i, e := range report.TopEarners {
		rows = append(rows, []string{"top_earner", strconv.Itoa(i + 1), e.UserID, e.Username, "", strconv.Itoa(e.ActionCount), e.TotalEarned.String(), e.DisplayName})
	}
	for _, g := range report.DuplicateHashes {
		rows = append(rows, []string{"duplicate", g.Fingerprint, g.SampleUserID, "", "", strconv.Itoa(g.OccurrenceCount), g.TotalAmount.String(), sanitizeInline(g.SampleExcerpt)})
	}
	for _, sp := range report.Spikes {
		rows = append(rows, []string{"spike", sp.UserID + ":" + sp.ActionDate, sp.UserID, sp.Username, sp.ActionDate, strconv.Itoa(sp.DailyCount), sp.DailyAmount.String(), sp.DisplayName})
	}

	if err := writer.WriteAll(rows); err != nil {
		return err
	}
	return writer.Error()
}

func writeDailyPNG(path string, tf anomaly.Timeframe, series []anomaly.DailyTotal, width, height int) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	x := make([]time.Time, len(series))
	amount := make([]float64, len(series))
	count := make([]float64, len(series))
	for i, point := range series {
		x[i] = point.Day
		amount[i] = point.Amount.InexactFloat64()
		count[i] = float64(point.Count)
	}

	// go-chart needs at least two points to draw a line.
	if len(series) == 1 {
		x = append(x, x[0].AddDate(0, 0, 1))
		amount = append(amount, amount[0])
		count = append(count, count[0])
	}

	amountFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.2f")
	}
	countFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.0f")
	}
	graph := chart.Chart{
		Title:  "Daily rewards (" + string(tf) + ")",
		Width:  width,
		Height: height,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeDateValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           "Amount",
			ValueFormatter: amountFormatter,
			Range:          flatRange(amount),
		},
		YAxisSecondary: chart.YAxis{
			Name:           "Rewards",
			ValueFormatter: countFormatter,
			Range:          flatRange(count),
		},
		Series: []chart.Series{
			chart.TimeSeries{
				Name:    "Amount",
				XValues: x,
				YValues: amount,
			},
			chart.TimeSeries{
				Name:    "Rewards",
				XValues: x,
				YValues: count,
				YAxis:   chart.YAxisSecondary,
			},
		},
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

// flatRange pins the axis when every value is equal; go-chart refuses to
// render a zero-height range.
func flatRange(values []float64) chart.Range {
	if len(values) == 0 {
		return nil
	}
	for _, v := range values[1:] {
		if v != values[0] {
			return nil
		}
	}
	return &chart.ContinuousRange{Min: values[0], Max: values[0] + 1}
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
