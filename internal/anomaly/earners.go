package anomaly

import (
	"sort"

	"github.com/shopspring/decimal"

	"reward-anomaly-engine/internal/storage"
)

// TopEarner is one row of the earner ranking.
type TopEarner struct {
	UserID      string          `json:"user_id"`
	Username    string          `json:"username"`
	DisplayName string          `json:"display_name"`
	TotalEarned decimal.Decimal `json:"total_earned"`
	ActionCount int             `json:"action_count"`
}

// RankEarners sums rewards per user and returns the top N by amount, ties
// broken by user id. In confirmed-only mode provisional rewards are ignored,
// which drops users without a confirmed reward.
func RankEarners(events []storage.RewardEvent, profiles map[string]storage.UserProfile, settings RankingSettings) []TopEarner {
	totals := make(map[string]*TopEarner)
	for _, e := range events {
		if settings.ConfirmedOnly && !e.Confirmed {
			continue
		}
		row, ok := totals[e.UserID]
		if !ok {
			row = &TopEarner{UserID: e.UserID, TotalEarned: decimal.Zero}
			totals[e.UserID] = row
		}
		row.TotalEarned = row.TotalEarned.Add(e.Amount)
		row.ActionCount++
	}

	ranked := make([]TopEarner, 0, len(totals))
	for userID, row := range totals {
		profile := profiles[userID]
		row.Username = profile.Username
		row.DisplayName = profile.DisplayName
		ranked = append(ranked, *row)
	}

	sort.Slice(ranked, func(i, j int) bool {
		if c := ranked[i].TotalEarned.Cmp(ranked[j].TotalEarned); c != 0 {
			return c > 0
		}
		return ranked[i].UserID < ranked[j].UserID
	})

	if settings.TopN > 0 && len(ranked) > settings.TopN {
		ranked = ranked[:settings.TopN]
	}
	return ranked
}
