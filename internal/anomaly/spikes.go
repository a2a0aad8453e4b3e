package anomaly

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"reward-anomaly-engine/internal/storage"
)

const dateLayout = "2006-01-02"

// SpikeRecord is a (user, day) bucket whose reward velocity crossed a threshold.
type SpikeRecord struct {
	UserID      string          `json:"user_id"`
	Username    string          `json:"username"`
	DisplayName string          `json:"display_name"`
	ActionDate  string          `json:"action_date"`
	DailyCount  int             `json:"daily_count"`
	DailyAmount decimal.Decimal `json:"daily_amount"`

	Day time.Time `json:"-"`
}

// SpikeDetector flags per-user daily velocity anomalies.
type SpikeDetector struct {
	settings SpikeSettings
	loc      *time.Location
}

// NewSpikeDetector validates settings; there are no fallback thresholds.
func NewSpikeDetector(settings SpikeSettings, loc *time.Location) (*SpikeDetector, error) {
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	if loc == nil {
		loc = time.UTC
	}
	return &SpikeDetector{settings: settings, loc: loc}, nil
}

type dayBucket struct {
	day    time.Time
	count  int
	amount decimal.Decimal
}

// Detect buckets events by user and calendar day. A bucket is reported when
// its count exceeds the absolute threshold, or exceeds the multiplier times
// the user's mean count over earlier active days in the same input. The
// relative rule needs at least one earlier day.
func (d *SpikeDetector) Detect(events []storage.RewardEvent, profiles map[string]storage.UserProfile) []SpikeRecord {
	byUser := make(map[string]map[string]*dayBucket)
	for _, e := range events {
		day := d.floorDay(e.OccurredAt)
		key := day.Format(dateLayout)
		days, ok := byUser[e.UserID]
		if !ok {
			days = make(map[string]*dayBucket)
			byUser[e.UserID] = days
		}
		b, ok := days[key]
		if !ok {
			b = &dayBucket{day: day, amount: decimal.Zero}
			days[key] = b
		}
		b.count++
		b.amount = b.amount.Add(e.Amount)
	}

	threshold := d.settings.CountThreshold
	result := make([]SpikeRecord, 0)
	for userID, days := range byUser {
		ordered := make([]*dayBucket, 0, len(days))
		for _, b := range days {
			ordered = append(ordered, b)
		}
		sort.Slice(ordered, func(i, j int) bool { return ordered[i].day.Before(ordered[j].day) })

		priorCount := 0
		for i, b := range ordered {
			spike := b.count > threshold
			if !spike && i > 0 {
				trailing := float64(priorCount) / float64(i)
				spike = float64(b.count) > d.settings.Multiplier*trailing
			}
			priorCount += b.count
			if !spike {
				continue
			}
			profile := profiles[userID]
			result = append(result, SpikeRecord{
				UserID:      userID,
				Username:    profile.Username,
				DisplayName: profile.DisplayName,
				ActionDate:  b.day.Format(dateLayout),
				DailyCount:  b.count,
				DailyAmount: b.amount,
				Day:         b.day,
			})
		}
	}

	sort.Slice(result, func(i, j int) bool {
		a, b := result[i], result[j]
		if c := a.DailyAmount.Cmp(b.DailyAmount); c != 0 {
			return c > 0
		}
		if a.DailyCount != b.DailyCount {
			return a.DailyCount > b.DailyCount
		}
		if a.UserID != b.UserID {
			return a.UserID < b.UserID
		}
		return a.Day.Before(b.Day)
	})
	return result
}

func (d *SpikeDetector) floorDay(t time.Time) time.Time {
	return floorDay(t, d.loc)
}

func floorDay(t time.Time, loc *time.Location) time.Time {
	local := t.In(loc)
	y, m, day := local.Date()
	return time.Date(y, m, day, 0, 0, 0, 0, loc)
}
