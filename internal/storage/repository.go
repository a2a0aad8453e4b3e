package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
)

const (
	eventColumns = `id,
        user_id,
        post_id,
        amount::text,
        occurred_at,
        content_fingerprint,
        content_excerpt,
        confirmed`

	listEventsBetweenSQL = `SELECT ` + eventColumns + `
    FROM reward_events
    WHERE occurred_at >= $1
      AND occurred_at < $2
    ORDER BY occurred_at, id;`

	listRecentEventsSQL = `SELECT ` + eventColumns + `
    FROM reward_events
    ORDER BY occurred_at DESC, id DESC
    LIMIT $1;`

	insertEventSQL = `INSERT INTO reward_events (
        id,
        user_id,
        post_id,
        amount,
        occurred_at,
        content_fingerprint,
        content_excerpt,
        confirmed
    ) VALUES (
        $1,$2,$3,$4::numeric,$5,$6,$7,$8
    )
    ON CONFLICT (id) DO NOTHING;`

	countEventsSQL = `SELECT COUNT(*) FROM reward_events;`

	listProfilesSQL = `SELECT id, username, display_name
    FROM user_profiles
    WHERE id = ANY($1);`

	upsertProfileSQL = `INSERT INTO user_profiles (id, username, display_name, updated_at)
    VALUES ($1,$2,$3,NOW())
    ON CONFLICT (id) DO UPDATE
    SET username     = EXCLUDED.username,
        display_name = EXCLUDED.display_name,
        updated_at   = EXCLUDED.updated_at;`

	insertAlertSQL = `INSERT INTO anomaly_alerts (
        alert_key,
        kind,
        timeframe,
        payload
    ) VALUES (
        $1,$2,$3,$4
    )
    ON CONFLICT (alert_key) DO NOTHING
    RETURNING id, created_at;`

	listRecentAlertsSQL = `SELECT
        id,
        alert_key,
        kind,
        timeframe,
        payload,
        created_at
    FROM anomaly_alerts
    ORDER BY created_at DESC, id DESC
    LIMIT $1;`

	deleteAlertsBeforeSQL = `DELETE FROM anomaly_alerts WHERE created_at < $1;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// EventStore defines operations on the reward event log.
type EventStore interface {
	QueryEvents(ctx context.Context, since, until time.Time) ([]RewardEvent, error)
	ReadSnapshot(ctx context.Context, since, until time.Time) (Snapshot, error)
	ListRecentEvents(ctx context.Context, limit int) ([]RewardEvent, error)
	InsertEvents(ctx context.Context, events []RewardEvent) (int64, error)
	CountEvents(ctx context.Context) (int64, error)
}

// ProfileStore defines operations on user profiles.
type ProfileStore interface {
	LookupProfiles(ctx context.Context, userIDs []string) (map[string]UserProfile, error)
	UpsertProfiles(ctx context.Context, profiles []UserProfile) error
}

// AlertStore defines operations for alert auditing.
type AlertStore interface {
	InsertAlert(ctx context.Context, alert AlertRecord) (AlertRecord, bool, error)
	ListRecentAlerts(ctx context.Context, limit int) ([]AlertRecord, error)
	DeleteAlertsBefore(ctx context.Context, olderThan time.Time) (int64, error)
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Store aggregates access to reward events, profiles, and alerts.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	return pool.Ping(ctx)
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		// A failed unlock is released with the session anyway.
		_, _ = conn.Exec(ctxUnlock, advisoryUnlockSQL, key)
		conn.Release()
	}
	return unlock, true, nil
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// QueryEvents lists events with occurred_at in [since, until), oldest first.
func (s *Store) QueryEvents(ctx context.Context, since, until time.Time) ([]RewardEvent, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	return queryEvents(ctx, pool, since, until)
}

// ReadSnapshot reads the window's events and the profiles they reference in
// one repeatable-read transaction.
func (s *Store) ReadSnapshot(ctx context.Context, since, until time.Time) (Snapshot, error) {
	pool, err := s.getPool()
	if err != nil {
		return Snapshot{}, err
	}

	tx, err := pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return Snapshot{}, fmt.Errorf("begin snapshot: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	events, err := queryEvents(ctx, tx, since, until)
	if err != nil {
		return Snapshot{}, err
	}

	profiles, err := lookupProfiles(ctx, tx, distinctUsers(events))
	if err != nil {
		return Snapshot{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Snapshot{}, fmt.Errorf("commit snapshot: %w", err)
	}
	return Snapshot{Events: events, Profiles: profiles}, nil
}

// ListRecentEvents lists the most recent events, newest first.
func (s *Store) ListRecentEvents(ctx context.Context, limit int) ([]RewardEvent, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentEventsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent events: %w", queryErr)
	}
	defer rows.Close()

	events := make([]RewardEvent, 0, limit)
	for rows.Next() {
		event, scanErr := scanRewardEvent(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		events = append(events, event)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return events, nil
}

// InsertEvents appends events in one batch and returns how many were new.
// Events whose id already exists are left untouched.
func (s *Store) InsertEvents(ctx context.Context, events []RewardEvent) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	if len(events) == 0 {
		return 0, nil
	}

	batch := &pgx.Batch{}
	for _, event := range events {
		batch.Queue(insertEventSQL,
			event.ID,
			event.UserID,
			event.PostID,
			event.Amount.String(),
			event.OccurredAt.UTC(),
			event.ContentFingerprint,
			event.ContentExcerpt,
			event.Confirmed,
		)
	}

	results := pool.SendBatch(ctx, batch)
	defer results.Close()

	var inserted int64
	for i := range events {
		tag, execErr := results.Exec()
		if execErr != nil {
			return inserted, fmt.Errorf("insert event %s: %w", events[i].ID, execErr)
		}
		inserted += tag.RowsAffected()
	}
	return inserted, nil
}

// CountEvents counts stored events.
func (s *Store) CountEvents(ctx context.Context) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	var count int64
	if scanErr := pool.QueryRow(ctx, countEventsSQL).Scan(&count); scanErr != nil {
		return 0, fmt.Errorf("count events: %w", scanErr)
	}
	return count, nil
}

// LookupProfiles returns the profiles known for the given users.
func (s *Store) LookupProfiles(ctx context.Context, userIDs []string) (map[string]UserProfile, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	return lookupProfiles(ctx, pool, userIDs)
}

// UpsertProfiles inserts or refreshes user profiles.
func (s *Store) UpsertProfiles(ctx context.Context, profiles []UserProfile) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if len(profiles) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, p := range profiles {
		batch.Queue(upsertProfileSQL, p.ID, p.Username, p.DisplayName)
	}
	results := pool.SendBatch(ctx, batch)
	defer results.Close()

	for _, p := range profiles {
		if _, execErr := results.Exec(); execErr != nil {
			return fmt.Errorf("upsert profile %s: %w", p.ID, execErr)
		}
	}
	return nil
}

// InsertAlert records an alert. The boolean is false when the alert key was
// already recorded.
func (s *Store) InsertAlert(ctx context.Context, alert AlertRecord) (AlertRecord, bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return AlertRecord{}, false, err
	}

	payload := alert.Payload
	if len(payload) == 0 {
		payload = []byte("{}")
	}

	rec := alert
	rec.Payload = payload
	scanErr := pool.QueryRow(ctx, insertAlertSQL,
		alert.AlertKey,
		alert.Kind,
		alert.Timeframe,
		[]byte(payload),
	).Scan(&rec.ID, &rec.CreatedAt)
	if errors.Is(scanErr, pgx.ErrNoRows) {
		return alert, false, nil
	}
	if scanErr != nil {
		return AlertRecord{}, false, fmt.Errorf("insert alert: %w", scanErr)
	}
	return rec, true, nil
}

// ListRecentAlerts lists most recent alerts.
func (s *Store) ListRecentAlerts(ctx context.Context, limit int) ([]AlertRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentAlertsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent alerts: %w", queryErr)
	}
	defer rows.Close()

	alerts := make([]AlertRecord, 0, limit)
	for rows.Next() {
		var rec AlertRecord
		if err := rows.Scan(
			&rec.ID,
			&rec.AlertKey,
			&rec.Kind,
			&rec.Timeframe,
			&rec.Payload,
			&rec.CreatedAt,
		); err != nil {
			return nil, err
		}
		alerts = append(alerts, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return alerts, nil
}

// DeleteAlertsBefore deletes historical alerts.
func (s *Store) DeleteAlertsBefore(ctx context.Context, olderThan time.Time) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	tag, execErr := pool.Exec(ctx, deleteAlertsBeforeSQL, olderThan)
	if execErr != nil {
		return 0, fmt.Errorf("delete alerts before: %w", execErr)
	}
	return tag.RowsAffected(), nil
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func queryEvents(ctx context.Context, q querier, since, until time.Time) ([]RewardEvent, error) {
	rows, err := q.Query(ctx, listEventsBetweenSQL, since.UTC(), until.UTC())
	if err != nil {
		return nil, fmt.Errorf("list events between: %w", err)
	}
	defer rows.Close()

	events := make([]RewardEvent, 0)
	for rows.Next() {
		event, scanErr := scanRewardEvent(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		events = append(events, event)
	}
	if rows.Err() != nil {
		return nil, fmt.Errorf("list events between: %w", rows.Err())
	}
	return events, nil
}

func lookupProfiles(ctx context.Context, q querier, userIDs []string) (map[string]UserProfile, error) {
	profiles := make(map[string]UserProfile, len(userIDs))
	if len(userIDs) == 0 {
		return profiles, nil
	}

	rows, err := q.Query(ctx, listProfilesSQL, userIDs)
	if err != nil {
		return nil, fmt.Errorf("lookup profiles: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var p UserProfile
		if err := rows.Scan(&p.ID, &p.Username, &p.DisplayName); err != nil {
			return nil, err
		}
		profiles[p.ID] = p
	}
	if rows.Err() != nil {
		return nil, fmt.Errorf("lookup profiles: %w", rows.Err())
	}
	return profiles, nil
}

func distinctUsers(events []RewardEvent) []string {
	seen := make(map[string]struct{}, len(events))
	ids := make([]string, 0)
	for _, e := range events {
		if _, ok := seen[e.UserID]; ok {
			continue
		}
		seen[e.UserID] = struct{}{}
		ids = append(ids, e.UserID)
	}
	sort.Strings(ids)
	return ids
}

func scanRewardEvent(rows pgx.Rows) (RewardEvent, error) {
	var (
		event     RewardEvent
		amountStr string
	)

	if err := rows.Scan(
		&event.ID,
		&event.UserID,
		&event.PostID,
		&amountStr,
		&event.OccurredAt,
		&event.ContentFingerprint,
		&event.ContentExcerpt,
		&event.Confirmed,
	); err != nil {
		return RewardEvent{}, err
	}

	amount, err := decimal.NewFromString(amountStr)
	if err != nil {
		return RewardEvent{}, fmt.Errorf("parse amount for event %s: %w", event.ID, err)
	}
	event.Amount = amount
	event.OccurredAt = event.OccurredAt.UTC()

	return event, nil
}

var (
	_ EventStore     = (*Store)(nil)
	_ ProfileStore   = (*Store)(nil)
	_ AlertStore     = (*Store)(nil)
	_ AdvisoryLocker = (*Store)(nil)
)
