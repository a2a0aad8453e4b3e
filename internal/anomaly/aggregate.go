package anomaly

import (
	"github.com/shopspring/decimal"

	"reward-anomaly-engine/internal/storage"
)

// Stats are the scalar totals of a window.
type Stats struct {
	TotalActions         int             `json:"total_actions"`
	TotalAmount          decimal.Decimal `json:"total_amount"`
	UniqueUsers          int             `json:"unique_users"`
	UniquePosts          int             `json:"unique_posts"`
	PendingConfirmations int             `json:"pending_confirmations"`
}

// Aggregate computes Stats in one pass. Confirmed and provisional rewards both
// count toward the amount; posts are counted only when present.
func Aggregate(events []storage.RewardEvent) Stats {
	stats := Stats{TotalAmount: decimal.Zero}
	users := make(map[string]struct{})
	posts := make(map[string]struct{})

	for _, e := range events {
		stats.TotalActions++
		stats.TotalAmount = stats.TotalAmount.Add(e.Amount)
		users[e.UserID] = struct{}{}
		if e.PostID != nil {
			posts[*e.PostID] = struct{}{}
		}
		if !e.Confirmed {
			stats.PendingConfirmations++
		}
	}

	stats.UniqueUsers = len(users)
	stats.UniquePosts = len(posts)
	return stats
}
