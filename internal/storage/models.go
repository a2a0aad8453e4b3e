package storage

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// RewardEvent is one rewarded engagement. Rows are append-only.
type RewardEvent struct {
	ID                 string
	UserID             string
	PostID             *string
	Amount             decimal.Decimal
	OccurredAt         time.Time
	ContentFingerprint *string
	ContentExcerpt     *string
	Confirmed          bool
}

// UserProfile carries the names rendered next to user ids.
type UserProfile struct {
	ID          string
	Username    string
	DisplayName string
}

// Snapshot is a consistent read of the events in a window together with the
// profiles of every user they reference.
type Snapshot struct {
	Events   []RewardEvent
	Profiles map[string]UserProfile
}

// AlertRecord captures a pushed anomaly for de-duplication and auditing.
type AlertRecord struct {
	ID        int64
	AlertKey  string
	Kind      string
	Timeframe string
	Payload   json.RawMessage
	CreatedAt time.Time
}
