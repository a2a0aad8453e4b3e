package anomaly

import (
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"reward-anomaly-engine/internal/storage"
)

var baseTime = time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)

func strPtr(s string) *string { return &s }

func event(id, user string, amount int64, at time.Time) storage.RewardEvent {
	return storage.RewardEvent{
		ID:         id,
		UserID:     user,
		Amount:     decimal.NewFromInt(amount),
		OccurredAt: at,
		Confirmed:  true,
	}
}

func withFingerprint(e storage.RewardEvent, fp, excerpt string) storage.RewardEvent {
	e.ContentFingerprint = strPtr(fp)
	e.ContentExcerpt = strPtr(excerpt)
	return e
}

func TestAggregate(t *testing.T) {
	e1 := event("e1", "u1", 5, baseTime)
	e1.PostID = strPtr("p1")
	e2 := event("e2", "u1", 3, baseTime.Add(time.Hour))
	e2.PostID = strPtr("p1")
	e2.Confirmed = false
	e3 := event("e3", "u2", 2, baseTime.Add(2*time.Hour))

	stats := Aggregate([]storage.RewardEvent{e1, e2, e3})

	require.Equal(t, 3, stats.TotalActions)
	require.True(t, stats.TotalAmount.Equal(decimal.NewFromInt(10)))
	require.Equal(t, 2, stats.UniqueUsers)
	require.Equal(t, 1, stats.UniquePosts)
	require.Equal(t, 1, stats.PendingConfirmations)
}

func TestAggregateEmpty(t *testing.T) {
	stats := Aggregate(nil)
	require.Zero(t, stats.TotalActions)
	require.True(t, stats.TotalAmount.IsZero())
	require.Zero(t, stats.UniqueUsers)
	require.Zero(t, stats.UniquePosts)
	require.Zero(t, stats.PendingConfirmations)
}

func TestDetectDuplicatesKeepsGroupsOfTwoOrMore(t *testing.T) {
	events := []storage.RewardEvent{
		withFingerprint(event("e1", "u1", 1, baseTime), "a", "hello"),
		withFingerprint(event("e2", "u2", 2, baseTime.Add(time.Minute)), "a", "hello"),
		withFingerprint(event("e3", "u3", 4, baseTime), "b", "other"),
		event("e4", "u4", 9, baseTime),
		event("e5", "u5", 9, baseTime),
	}

	groups := DetectDuplicates(events)

	require.Len(t, groups, 1)
	require.Equal(t, "a", groups[0].Fingerprint)
	require.Equal(t, 2, groups[0].OccurrenceCount)
	require.True(t, groups[0].TotalAmount.Equal(decimal.NewFromInt(3)))
}

func TestDetectDuplicatesSampleIsEarliest(t *testing.T) {
	events := []storage.RewardEvent{
		withFingerprint(event("e3", "late", 1, baseTime.Add(time.Hour)), "a", "third"),
		withFingerprint(event("e2", "tie-b", 1, baseTime), "a", "second"),
		withFingerprint(event("e1", "tie-a", 1, baseTime), "a", "first"),
	}

	groups := DetectDuplicates(events)

	require.Len(t, groups, 1)
	require.Equal(t, "tie-a", groups[0].SampleUserID)
	require.Equal(t, "first", groups[0].SampleExcerpt)
}

func TestDetectDuplicatesOrdering(t *testing.T) {
	var events []storage.RewardEvent
	add := func(fp string, n int, amount int64) {
		for i := 0; i < n; i++ {
			events = append(events, withFingerprint(event(fmt.Sprintf("%s-%d", fp, i), "u", amount, baseTime), fp, fp))
		}
	}
	add("small-count", 2, 100)
	add("big-count", 3, 1)
	add("tie-rich", 2, 200)
	add("tie-z", 2, 50)
	add("tie-y", 2, 50)

	groups := DetectDuplicates(events)

	var order []string
	for _, g := range groups {
		order = append(order, g.Fingerprint)
	}
	require.Equal(t, []string{"big-count", "tie-rich", "small-count", "tie-y", "tie-z"}, order)
}

func TestDetectDuplicatesEmpty(t *testing.T) {
	groups := DetectDuplicates(nil)
	require.NotNil(t, groups)
	require.Empty(t, groups)
}

func TestSpikeDetectorRequiresSettings(t *testing.T) {
	_, err := NewSpikeDetector(SpikeSettings{}, nil)
	require.ErrorIs(t, err, ErrInvalidConfiguration)

	_, err = NewSpikeDetector(SpikeSettings{CountThreshold: 20}, nil)
	require.ErrorIs(t, err, ErrInvalidConfiguration)

	_, err = NewSpikeDetector(SpikeSettings{CountThreshold: -1, Multiplier: 2}, nil)
	require.ErrorIs(t, err, ErrInvalidConfiguration)
}

func TestSpikeDetectorAbsoluteThreshold(t *testing.T) {
	detector, err := NewSpikeDetector(SpikeSettings{CountThreshold: 20, Multiplier: 3}, time.UTC)
	require.NoError(t, err)

	var events []storage.RewardEvent
	for i := 0; i < 50; i++ {
		events = append(events, event(fmt.Sprintf("s%02d", i), "farmer", 2, baseTime.Add(time.Duration(i)*time.Minute)))
	}
	for i := 0; i < 5; i++ {
		events = append(events, event(fmt.Sprintf("q%02d", i), "quiet", 1, baseTime.Add(time.Duration(i)*time.Minute)))
	}

	profiles := map[string]storage.UserProfile{
		"farmer": {ID: "farmer", Username: "farmer01", DisplayName: "Farmer"},
	}
	spikes := detector.Detect(events, profiles)

	require.Len(t, spikes, 1)
	require.Equal(t, "farmer", spikes[0].UserID)
	require.Equal(t, "farmer01", spikes[0].Username)
	require.Equal(t, "Farmer", spikes[0].DisplayName)
	require.Equal(t, "2026-03-10", spikes[0].ActionDate)
	require.Equal(t, 50, spikes[0].DailyCount)
	require.True(t, spikes[0].DailyAmount.Equal(decimal.NewFromInt(100)))
}

func TestSpikeDetectorRelativeToTrailingAverage(t *testing.T) {
	detector, err := NewSpikeDetector(SpikeSettings{CountThreshold: 100, Multiplier: 3}, time.UTC)
	require.NoError(t, err)

	var events []storage.RewardEvent
	perDay := []int{2, 2, 10}
	for day, n := range perDay {
		for i := 0; i < n; i++ {
			at := baseTime.AddDate(0, 0, day).Add(time.Duration(i) * time.Minute)
			events = append(events, event(fmt.Sprintf("d%d-%d", day, i), "u1", 1, at))
		}
	}

	spikes := detector.Detect(events, nil)

	require.Len(t, spikes, 1)
	require.Equal(t, "2026-03-12", spikes[0].ActionDate)
	require.Equal(t, 10, spikes[0].DailyCount)
	require.Empty(t, spikes[0].Username)
}

func TestSpikeDetectorFirstDayNeedsAbsoluteThreshold(t *testing.T) {
	detector, err := NewSpikeDetector(SpikeSettings{CountThreshold: 10, Multiplier: 1}, time.UTC)
	require.NoError(t, err)

	events := []storage.RewardEvent{
		event("e1", "u1", 1, baseTime),
		event("e2", "u1", 1, baseTime.Add(time.Minute)),
	}
	require.Empty(t, detector.Detect(events, nil))
}

func TestSpikeDetectorUsesLocationForDays(t *testing.T) {
	plus2 := time.FixedZone("UTC+2", 2*3600)
	detector, err := NewSpikeDetector(SpikeSettings{CountThreshold: 1, Multiplier: 100}, plus2)
	require.NoError(t, err)

	// 22:30 and 23:30 UTC on the 10th are 00:30 and 01:30 on the 11th in UTC+2.
	events := []storage.RewardEvent{
		event("e1", "u1", 1, baseTime.Add(22*time.Hour+30*time.Minute)),
		event("e2", "u1", 1, baseTime.Add(23*time.Hour+30*time.Minute)),
	}
	spikes := detector.Detect(events, nil)

	require.Len(t, spikes, 1)
	require.Equal(t, "2026-03-11", spikes[0].ActionDate)
	require.Equal(t, 2, spikes[0].DailyCount)
}

func TestSpikeDetectorOrdering(t *testing.T) {
	detector, err := NewSpikeDetector(SpikeSettings{CountThreshold: 1, Multiplier: 100}, time.UTC)
	require.NoError(t, err)

	events := []storage.RewardEvent{
		event("a1", "alice", 5, baseTime),
		event("a2", "alice", 5, baseTime),
		event("b1", "bob", 50, baseTime),
		event("b2", "bob", 50, baseTime),
		event("c1", "carol", 5, baseTime),
		event("c2", "carol", 5, baseTime),
	}
	spikes := detector.Detect(events, nil)

	require.Len(t, spikes, 3)
	require.Equal(t, "bob", spikes[0].UserID)
	require.Equal(t, "alice", spikes[1].UserID)
	require.Equal(t, "carol", spikes[2].UserID)
}

func TestRankEarners(t *testing.T) {
	events := []storage.RewardEvent{
		event("e1", "u2", 10, baseTime),
		event("e2", "u1", 10, baseTime),
		event("e3", "u3", 4, baseTime),
		event("e4", "u3", 4, baseTime),
		event("e5", "u4", 1, baseTime),
	}
	profiles := map[string]storage.UserProfile{"u3": {ID: "u3", Username: "three", DisplayName: "Three"}}

	ranked := RankEarners(events, profiles, RankingSettings{TopN: 3})

	require.Len(t, ranked, 3)
	require.Equal(t, "u1", ranked[0].UserID)
	require.Equal(t, "u2", ranked[1].UserID)
	require.Equal(t, "u3", ranked[2].UserID)
	require.Equal(t, 2, ranked[2].ActionCount)
	require.Equal(t, "three", ranked[2].Username)
	require.True(t, ranked[2].TotalEarned.Equal(decimal.NewFromInt(8)))
}

func TestRankEarnersConfirmedOnly(t *testing.T) {
	pending := event("e2", "whale", 100, baseTime)
	pending.Confirmed = false
	events := []storage.RewardEvent{
		event("e1", "steady", 5, baseTime),
		pending,
	}

	all := RankEarners(events, nil, RankingSettings{TopN: 10})
	require.Len(t, all, 2)
	require.Equal(t, "whale", all[0].UserID)

	confirmed := RankEarners(events, nil, RankingSettings{TopN: 10, ConfirmedOnly: true})
	require.Len(t, confirmed, 1)
	require.Equal(t, "steady", confirmed[0].UserID)
}

func TestDailyTotalsFillsGaps(t *testing.T) {
	w, err := ResolveWindow("7d", baseTime.Add(12*time.Hour))
	require.NoError(t, err)

	pending := event("e2", "u1", 3, baseTime.AddDate(0, 0, -5))
	pending.Confirmed = false
	events := []storage.RewardEvent{
		event("e1", "u1", 2, baseTime.AddDate(0, 0, -5)),
		pending,
		event("e3", "u1", 7, baseTime.Add(time.Hour)),
		event("out", "u1", 100, baseTime.AddDate(0, 0, -30)),
	}

	series := DailyTotals(w, events, time.UTC)

	// 2026-03-03T12:00 .. 2026-03-10T12:00 touches eight calendar days.
	require.Len(t, series, 8)
	require.Equal(t, "2026-03-03", series[0].Day.Format(dateLayout))
	require.Equal(t, "2026-03-10", series[7].Day.Format(dateLayout))
	require.Equal(t, 2, series[2].Count)
	require.Equal(t, 1, series[2].Pending)
	require.True(t, series[2].Amount.Equal(decimal.NewFromInt(5)))
	require.Equal(t, 1, series[7].Count)
	require.Zero(t, series[1].Count)
}
