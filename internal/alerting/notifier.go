package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"reward-anomaly-engine/internal/anomaly"
)

// Alert kinds, also persisted in anomaly_alerts.kind.
const (
	KindSpike     = "spike"
	KindDuplicate = "duplicate"
)

// Notification carries one anomaly to operators. Exactly one of Spike and
// Duplicate is set, matching Kind.
type Notification struct {
	Kind          string
	Key           string
	Timeframe     anomaly.Timeframe
	DetectedAt    time.Time
	Spike         *anomaly.SpikeRecord
	Duplicate     *anomaly.DuplicateGroup
	Channels      []string
	AdditionalMsg string
}

// SpikeNotification wraps a spike record.
func SpikeNotification(tf anomaly.Timeframe, rec anomaly.SpikeRecord, at time.Time) Notification {
	return Notification{
		Kind:       KindSpike,
		Key:        SpikeKey(rec),
		Timeframe:  tf,
		DetectedAt: at,
		Spike:      &rec,
	}
}

// DuplicateNotification wraps a duplicate group.
func DuplicateNotification(tf anomaly.Timeframe, group anomaly.DuplicateGroup, at time.Time) Notification {
	return Notification{
		Kind:       KindDuplicate,
		Key:        DuplicateKey(group),
		Timeframe:  tf,
		DetectedAt: at,
		Duplicate:  &group,
	}
}

// SpikeKey identifies a (user, day) spike across watcher runs.
func SpikeKey(rec anomaly.SpikeRecord) string {
	return KindSpike + ":" + rec.UserID + ":" + rec.ActionDate
}

// DuplicateKey identifies a duplicate group across watcher runs.
func DuplicateKey(group anomaly.DuplicateGroup) string {
	return KindDuplicate + ":" + group.Fingerprint
}

// Notifier delivers notifications.
type Notifier interface {
	Notify(ctx context.Context, notification Notification) error
}

// TelegramNotifier pushes messages through the Telegram Bot API.
type TelegramNotifier struct {
	botToken string
	chatID   string
	baseURL  string
	client   *http.Client
	logger   zerolog.Logger
}

// NewTelegramNotifier constructs a Telegram notifier.
func NewTelegramNotifier(botToken, chatID, baseURL string, timeout time.Duration, logger zerolog.Logger) *TelegramNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}

	return &TelegramNotifier{
		botToken: botToken,
		chatID:   chatID,
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   &http.Client{Timeout: timeout},
		logger:   logger.With().Str("component", "alert_telegram").Logger(),
	}
}

// Notify calls sendMessage with the rendered text.
func (n *TelegramNotifier) Notify(ctx context.Context, note Notification) error {
	payload := map[string]string{
		"chat_id": n.chatID,
		"text":    RenderMessage(note),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal telegram payload: %w", err)
	}

	endpoint := fmt.Sprintf("%s/bot%s/sendMessage", n.baseURL, n.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		// The request URL embeds the bot token; keep it out of the error.
		var urlErr *url.Error
		if errors.As(err, &urlErr) {
			err = urlErr.Err
		}
		return fmt.Errorf("send telegram request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("telegram returned status %d", resp.StatusCode)
	}

	var result struct {
		OK          bool   `json:"ok"`
		Description string `json:"description"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err == nil {
		if !result.OK {
			return fmt.Errorf("telegram returned ok=false: %s", result.Description)
		}
	}

	n.logger.Info().Str("kind", note.Kind).
		Str("key", note.Key).
		Str("channels", strings.Join(note.Channels, ",")).
		Msg("alert sent (telegram)")
	return nil
}

// RenderMessage formats a notification as plain text.
func RenderMessage(note Notification) string {
	builder := strings.Builder{}
	builder.WriteString(fmt.Sprintf("[Reward Anomaly: %s]\n", note.Kind))
	builder.WriteString(fmt.Sprintf("Window: %s\n", note.Timeframe))
	if !note.DetectedAt.IsZero() {
		builder.WriteString(fmt.Sprintf("Detected: %s UTC\n", note.DetectedAt.UTC().Format(time.RFC3339)))
	}

	switch {
	case note.Spike != nil:
		s := note.Spike
		builder.WriteString(fmt.Sprintf("User: %s\n", displayUser(s.UserID, s.Username, s.DisplayName)))
		builder.WriteString(fmt.Sprintf("Day: %s\n", s.ActionDate))
		builder.WriteString(fmt.Sprintf("Rewards: %d totalling %s\n", s.DailyCount, s.DailyAmount.String()))
	case note.Duplicate != nil:
		d := note.Duplicate
		builder.WriteString(fmt.Sprintf("Fingerprint: %s\n", shortHash(d.Fingerprint)))
		builder.WriteString(fmt.Sprintf("Occurrences: %d totalling %s\n", d.OccurrenceCount, d.TotalAmount.String()))
		builder.WriteString(fmt.Sprintf("First seen from: %s\n", d.SampleUserID))
		if d.SampleExcerpt != "" {
			builder.WriteString(fmt.Sprintf("Excerpt: %q\n", d.SampleExcerpt))
		}
	}

	if len(note.Channels) > 0 {
		builder.WriteString(fmt.Sprintf("Channels: %s\n", strings.Join(note.Channels, ",")))
	}
	if note.AdditionalMsg != "" {
		builder.WriteString(note.AdditionalMsg)
	}
	return builder.String()
}

func displayUser(id, username, displayName string) string {
	switch {
	case username != "" && displayName != "":
		return fmt.Sprintf("%s (@%s, %s)", displayName, username, id)
	case username != "":
		return fmt.Sprintf("@%s (%s)", username, id)
	default:
		return id
	}
}

func shortHash(h string) string {
	if len(h) > 16 {
		return h[:16]
	}
	return h
}

var _ Notifier = (*TelegramNotifier)(nil)
