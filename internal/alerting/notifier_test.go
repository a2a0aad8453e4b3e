package alerting

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"reward-anomaly-engine/internal/anomaly"
)

func sampleSpike() anomaly.SpikeRecord {
	return anomaly.SpikeRecord{
		UserID:      "u-42",
		Username:    "farmer",
		DisplayName: "Farm Hand",
		ActionDate:  "2026-03-10",
		DailyCount:  50,
		DailyAmount: decimal.NewFromInt(125),
	}
}

func TestTelegramNotifierSuccess(t *testing.T) {
	received := make(map[string]string)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/bottoken/sendMessage") {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Fatalf("decode request body: %v", err)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true})
	}))
	defer srv.Close()

	notifier := NewTelegramNotifier("token", "chat", srv.URL, time.Second, testLogger())
	note := SpikeNotification(anomaly.Timeframe24h, sampleSpike(), time.Now())

	if err := notifier.Notify(context.Background(), note); err != nil {
		t.Fatalf("notify should succeed: %v", err)
	}

	if received["chat_id"] != "chat" {
		t.Fatalf("unexpected chat_id: %#v", received)
	}
	if !strings.Contains(received["text"], "Rewards: 50 totalling 125") {
		t.Fatalf("text missing spike details: %q", received["text"])
	}
}

func TestTelegramNotifierError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": false, "description": "chat not found"})
	}))
	defer srv.Close()

	notifier := NewTelegramNotifier("token", "chat", srv.URL, time.Second, testLogger())
	note := SpikeNotification(anomaly.Timeframe24h, sampleSpike(), time.Now())

	err := notifier.Notify(context.Background(), note)
	if err == nil {
		t.Fatal("ok=false should fail")
	}
	if !strings.Contains(err.Error(), "chat not found") {
		t.Fatalf("error should carry the description: %v", err)
	}
}

func TestTelegramNotifierHTTPStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	notifier := NewTelegramNotifier("token", "chat", srv.URL, time.Second, testLogger())
	if err := notifier.Notify(context.Background(), Notification{Kind: KindSpike}); err == nil {
		t.Fatal("non-2xx should fail")
	}
}

func TestTelegramNotifierTransportErrorHidesToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	base := srv.URL
	srv.Close()

	const token = "123456:secret-bot-token"
	notifier := NewTelegramNotifier(token, "chat", base, time.Second, testLogger())
	err := notifier.Notify(context.Background(), Notification{Kind: KindSpike})
	if err == nil {
		t.Fatal("closed server should fail")
	}
	if strings.Contains(err.Error(), token) {
		t.Fatalf("error leaks bot token: %v", err)
	}
	if !strings.Contains(err.Error(), "send telegram request") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestAlertKeys(t *testing.T) {
	if got := SpikeKey(sampleSpike()); got != "spike:u-42:2026-03-10" {
		t.Fatalf("unexpected spike key %q", got)
	}
	group := anomaly.DuplicateGroup{Fingerprint: "abc123"}
	if got := DuplicateKey(group); got != "duplicate:abc123" {
		t.Fatalf("unexpected duplicate key %q", got)
	}
}

func TestRenderDuplicateMessage(t *testing.T) {
	group := anomaly.DuplicateGroup{
		Fingerprint:     strings.Repeat("f", 64),
		OccurrenceCount: 7,
		TotalAmount:     decimal.RequireFromString("3.5"),
		SampleUserID:    "u-1",
		SampleExcerpt:   "great post",
	}
	note := DuplicateNotification(anomaly.Timeframe7d, group, time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC))
	note.Channels = []string{"ops"}

	text := RenderMessage(note)
	for _, want := range []string{
		"[Reward Anomaly: duplicate]",
		"Window: 7d",
		"Detected: 2026-03-10T08:00:00Z UTC",
		"Fingerprint: " + strings.Repeat("f", 16) + "\n",
		"Occurrences: 7 totalling 3.5",
		`Excerpt: "great post"`,
		"Channels: ops",
	} {
		if !strings.Contains(text, want) {
			t.Fatalf("message missing %q:\n%s", want, text)
		}
	}
}

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}
