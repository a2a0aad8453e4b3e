package app

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"reward-anomaly-engine/internal/fingerprint"
	"reward-anomaly-engine/internal/storage"
)

const ingestBatchSize = 500

// Ingest loads reward events (and optionally user profiles) from CSV files.
// Content columns are fingerprinted on the way in; raw text is not stored.
func (a *App) Ingest(ctx context.Context, opts IngestOptions) error {
	if opts.EventsPath == "" && opts.UsersPath == "" {
		return errors.New("at least one of --events or --users must be provided")
	}

	var profiles []storage.UserProfile
	if opts.UsersPath != "" {
		parsed, err := readCSVFile(opts.UsersPath, parseUsersCSV)
		if err != nil {
			return err
		}
		profiles = parsed
	}

	var events []storage.RewardEvent
	if opts.EventsPath != "" {
		parsed, err := readCSVFile(opts.EventsPath, func(r io.Reader) ([]storage.RewardEvent, error) {
			return parseEventsCSV(r, uuid.NewString)
		})
		if err != nil {
			return err
		}
		events = parsed
	}

	fingerprinted := 0
	for _, e := range events {
		if e.ContentFingerprint != nil {
			fingerprinted++
		}
	}
	a.Logger.Info().
		Int("events", len(events)).
		Int("fingerprinted", fingerprinted).
		Int("profiles", len(profiles)).
		Bool("dry_run", opts.DryRun).
		Msg("ingest parsed")

	if opts.DryRun {
		fmt.Fprintf(a.Out, "dry run: %d events (%d fingerprinted), %d profiles parsed\n", len(events), fingerprinted, len(profiles))
		return nil
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database.dsn not configured; cannot ingest")
	}
	defer closeStore()

	if len(profiles) > 0 {
		if err := store.UpsertProfiles(ctx, profiles); err != nil {
			return err
		}
	}

	var inserted int64
	for start := 0; start < len(events); start += ingestBatchSize {
		end := min(start+ingestBatchSize, len(events))
		n, err := store.InsertEvents(ctx, events[start:end])
		if err != nil {
			return fmt.Errorf("insert events %d-%d: %w", start+1, end, err)
		}
		inserted += n
	}

	a.Logger.Info().Int64("inserted", inserted).Int("skipped", len(events)-int(inserted)).Msg("ingest completed")
	fmt.Fprintf(a.Out, "inserted %d of %d events, upserted %d profiles\n", inserted, len(events), len(profiles))
	return nil
}

func readCSVFile[T any](path string, parse func(io.Reader) ([]T, error)) ([]T, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	rows, err := parse(file)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return rows, nil
}

type csvTable struct {
	reader  *csv.Reader
	columns map[string]int
	line    int
}

func newCSVTable(r io.Reader, required ...string) (*csvTable, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	columns := make(map[string]int, len(header))
	for i, name := range header {
		columns[strings.ToLower(strings.TrimSpace(name))] = i
	}
	for _, name := range required {
		if _, ok := columns[name]; !ok {
			return nil, fmt.Errorf("missing required column %q", name)
		}
	}
	return &csvTable{reader: reader, columns: columns, line: 1}, nil
}

// next returns the following record, or io.EOF.
func (t *csvTable) next() ([]string, error) {
	record, err := t.reader.Read()
	t.line++
	return record, err
}

func (t *csvTable) field(record []string, name string) string {
	i, ok := t.columns[name]
	if !ok || i >= len(record) {
		return ""
	}
	return strings.TrimSpace(record[i])
}

func parseEventsCSV(r io.Reader, newID func() string) ([]storage.RewardEvent, error) {
	table, err := newCSVTable(r, "user_id", "amount", "occurred_at")
	if err != nil {
		return nil, err
	}

	events := make([]storage.RewardEvent, 0)
	for {
		record, err := table.next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", table.line, err)
		}

		event, err := parseEventRecord(table, record, newID)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", table.line, err)
		}
		events = append(events, event)
	}
	return events, nil
}

func parseEventRecord(table *csvTable, record []string, newID func() string) (storage.RewardEvent, error) {
	event := storage.RewardEvent{
		ID:        table.field(record, "id"),
		UserID: table.field(record, "user_id"),
	}
	if event.ID == "" {
		event.ID = newID()
	}
	if event.UserID == "" {
		return storage.RewardEvent{}, errors.New("user_id is empty")
	}

	amount, err := decimal.NewFromString(table.field(record, "amount"))
	if err != nil {
		return storage.RewardEvent{}, fmt.Errorf("invalid amount: %w", err)
	}
	if !amount.IsPositive() {
		return storage.RewardEvent{}, fmt.Errorf("amount must be positive, got %s", amount)
	}
	event.Amount = amount

	occurredAt, err := time.Parse(time.RFC3339, table.field(record, "occurred_at"))
	if err != nil {
		return storage.RewardEvent{}, fmt.Errorf("invalid occurred_at: %w", err)
	}
	event.OccurredAt = occurredAt.UTC()

	if post := table.field(record, "post_id"); post != "" {
		event.PostID = &post
	}

	// Rows without an explicit confirmation stay provisional.
	if raw := table.field(record, "confirmed"); raw != "" {
		confirmed, err := strconv.ParseBool(raw)
		if err != nil {
			return storage.RewardEvent{}, fmt.Errorf("invalid confirmed: %w", err)
		}
		event.Confirmed = confirmed
	}

	content := table.field(record, "content")
	if fp, ok := fingerprint.Of(table.field(record, "action"), content); ok {
		excerpt := fingerprint.Excerpt(content)
		event.ContentFingerprint = &fp
		event.ContentExcerpt = &excerpt
	}
	return event, nil
}

func parseUsersCSV(r io.Reader) ([]storage.UserProfile, error) {
	table, err := newCSVTable(r, "id")
	if err != nil {
		return nil, err
	}

	profiles := make([]storage.UserProfile, 0)
	for {
		record, err := table.next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", table.line, err)
		}

		profile := storage.UserProfile{
			ID:          table.field(record, "id"),
			Username:    table.field(record, "username"),
			DisplayName: table.field(record, "display_name"),
		}
		if profile.ID == "" {
			return nil, fmt.Errorf("line %d: id is empty", table.line)
		}
		profiles = append(profiles, profile)
	}
	return profiles, nil
}
