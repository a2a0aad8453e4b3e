package anomaly

import (
	"sort"

	"github.com/shopspring/decimal"

	"reward-anomaly-engine/internal/storage"
)

// DuplicateGroup is a set of at least two rewards earned with the same content.
type DuplicateGroup struct {
	Fingerprint     string          `json:"hash"`
	OccurrenceCount int             `json:"occurrence_count"`
	TotalAmount     decimal.Decimal `json:"total_amount"`
	SampleUserID    string          `json:"sample_user"`
	SampleExcerpt   string          `json:"sample_excerpt"`
}

type duplicateAcc struct {
	count  int
	amount decimal.Decimal
	sample storage.RewardEvent
}

// DetectDuplicates groups fingerprinted events and keeps groups of two or
// more. Events without a fingerprint are ignored. The sample is the earliest
// event of the group, so repeated runs pick the same one.
func DetectDuplicates(events []storage.RewardEvent) []DuplicateGroup {
	groups := make(map[string]*duplicateAcc)
	for _, e := range events {
		if e.ContentFingerprint == nil || *e.ContentFingerprint == "" {
			continue
		}
		fp := *e.ContentFingerprint
		acc, ok := groups[fp]
		if !ok {
			groups[fp] = &duplicateAcc{count: 1, amount: e.Amount, sample: e}
			continue
		}
		acc.count++
		acc.amount = acc.amount.Add(e.Amount)
		if earlier(e, acc.sample) {
			acc.sample = e
		}
	}

	result := make([]DuplicateGroup, 0)
	for fp, acc := range groups {
		if acc.count < 2 {
			continue
		}
		group := DuplicateGroup{
			Fingerprint:     fp,
			OccurrenceCount: acc.count,
			TotalAmount:     acc.amount,
			SampleUserID:    acc.sample.UserID,
		}
		if acc.sample.ContentExcerpt != nil {
			group.SampleExcerpt = *acc.sample.ContentExcerpt
		}
		result = append(result, group)
	}

	sort.Slice(result, func(i, j int) bool {
		a, b := result[i], result[j]
		if a.OccurrenceCount != b.OccurrenceCount {
			return a.OccurrenceCount > b.OccurrenceCount
		}
		if c := a.TotalAmount.Cmp(b.TotalAmount); c != 0 {
			return c > 0
		}
		return a.Fingerprint < b.Fingerprint
	})
	return result
}

func earlier(a, b storage.RewardEvent) bool {
	if !a.OccurredAt.Equal(b.OccurredAt) {
		return a.OccurredAt.Before(b.OccurredAt)
	}
	return a.ID < b.ID
}
