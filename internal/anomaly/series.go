package anomaly

import (
	"time"

	"github.com/shopspring/decimal"

	"reward-anomaly-engine/internal/storage"
)

// DailyTotal is one point of the per-day payout series.
type DailyTotal struct {
	Day     time.Time
	Count   int
	Amount  decimal.Decimal
	Pending int
}

// DailyTotals buckets events by calendar day in loc and returns one point per
// day touched by the window, including days without rewards.
func DailyTotals(window Window, events []storage.RewardEvent, loc *time.Location) []DailyTotal {
	if loc == nil {
		loc = time.UTC
	}
	first := floorDay(window.Since, loc)
	last := floorDay(window.Until.Add(-time.Nanosecond), loc)

	index := make(map[string]int)
	series := make([]DailyTotal, 0)
	for day := first; !day.After(last); day = day.AddDate(0, 0, 1) {
		index[day.Format(dateLayout)] = len(series)
		series = append(series, DailyTotal{Day: day, Amount: decimal.Zero})
	}

	for _, e := range events {
		if !window.Contains(e.OccurredAt) {
			continue
		}
		i, ok := index[floorDay(e.OccurredAt, loc).Format(dateLayout)]
		if !ok {
			continue
		}
		series[i].Count++
		series[i].Amount = series[i].Amount.Add(e.Amount)
		if !e.Confirmed {
			series[i].Pending++
		}
	}
	return series
}
