package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"alarmd/internal/schedule"
	logx "alarmd/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

// Open initializes the SQLite-backed store, creating the schema on first use.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("store path is required")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}
	// A single connection serializes writers, which is what makes Update()
	// a true read-modify-write: no interleaving between the read and the write.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	// Basic pragmas.
	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) Load(ctx context.Context) (Record, error) {
	rec, err := s.loadTx(ctx, s.db.QueryRowContext)
	if err != nil {
		return Record{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return rec, nil
}

// Update is the only write path for schedule state. It reads the current
// record, applies fn, and writes the full row back inside one transaction.
func (s *sqliteStore) Update(ctx context.Context, fn func(*Record) error) (Record, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Record{}, fmt.Errorf("%w: begin: %v", ErrUnavailable, err)
	}
	defer func() { _ = tx.Rollback() }()

	rec, err := s.loadTx(ctx, tx.QueryRowContext)
	if err != nil {
		return Record{}, fmt.Errorf("%w: read: %v", ErrUnavailable, err)
	}
	if err := fn(&rec); err != nil {
		return Record{}, err
	}
	if err := s.writeTx(ctx, tx, rec); err != nil {
		return Record{}, fmt.Errorf("%w: write: %v", ErrUnavailable, err)
	}
	if err := tx.Commit(); err != nil {
		return Record{}, fmt.Errorf("%w: commit: %v", ErrUnavailable, err)
	}
	return rec, nil
}

type rowQuerier func(ctx context.Context, query string, args ...any) *sql.Row

func (s *sqliteStore) loadTx(ctx context.Context, queryRow rowQuerier) (Record, error) {
	var (
		rec        Record
		enabled    int
		hour, min  sql.NullInt64
		recurrence sql.NullString
		anchor     sql.NullInt64
		nextDue    sql.NullInt64
		snoozeTo   sql.NullInt64
		consDue    sql.NullInt64
		consSnooze sql.NullInt64
	)
	err := queryRow(ctx,
		`SELECT enabled, alarm_hour, alarm_minute, recurrence, anchor_date,
		        next_due_at, snooze_until, snooze_count, snooze_limit,
		        last_consumed_due_at, last_consumed_snooze_until
		 FROM schedule_state WHERE id = 1`).
		Scan(&enabled, &hour, &min, &recurrence, &anchor,
			&nextDue, &snoozeTo, &rec.SnoozeCount, &rec.SnoozeLimit,
			&consDue, &consSnooze)
	if errors.Is(err, sql.ErrNoRows) {
		// First run: no alarm has ever been set.
		return Record{Recurrence: schedule.RecurrenceDaily, SnoozeLimit: 3}, nil
	}
	if err != nil {
		return Record{}, err
	}

	rec.Enabled = enabled != 0
	rec.AlarmHour = nullableInt(hour)
	rec.AlarmMinute = nullableInt(min)
	if recurrence.Valid && recurrence.String != "" {
		rec.Recurrence = schedule.Recurrence(recurrence.String)
	} else {
		rec.Recurrence = schedule.RecurrenceDaily
	}
	rec.AnchorDate = nullableTime(anchor)
	rec.NextDueAt = nullableTime(nextDue)
	rec.SnoozeUntil = nullableTime(snoozeTo)
	rec.LastConsumedDueAt = nullableTime(consDue)
	rec.LastConsumedSnoozeUntil = nullableTime(consSnooze)
	return rec, nil
}

func (s *sqliteStore) writeTx(ctx context.Context, tx *sql.Tx, rec Record) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO schedule_state
		   (id, enabled, alarm_hour, alarm_minute, recurrence, anchor_date,
		    next_due_at, snooze_until, snooze_count, snooze_limit,
		    last_consumed_due_at, last_consumed_snooze_until)
		 VALUES (1,?,?,?,?,?,?,?,?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET
		   enabled=excluded.enabled,
		   alarm_hour=excluded.alarm_hour,
		   alarm_minute=excluded.alarm_minute,
		   recurrence=excluded.recurrence,
		   anchor_date=excluded.anchor_date,
		   next_due_at=excluded.next_due_at,
		   snooze_until=excluded.snooze_until,
		   snooze_count=excluded.snooze_count,
		   snooze_limit=excluded.snooze_limit,
		   last_consumed_due_at=excluded.last_consumed_due_at,
		   last_consumed_snooze_until=excluded.last_consumed_snooze_until`,
		boolInt(rec.Enabled), intOrNil(rec.AlarmHour), intOrNil(rec.AlarmMinute),
		string(rec.Recurrence), msOrNil(rec.AnchorDate),
		msOrNil(rec.NextDueAt), msOrNil(rec.SnoozeUntil),
		rec.SnoozeCount, rec.SnoozeLimit,
		msOrNil(rec.LastConsumedDueAt), msOrNil(rec.LastConsumedSnoozeUntil),
	)
	return err
}

func (s *sqliteStore) AppendRing(ctx context.Context, e RingEntry) error {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO ring_log(at, event_id, reason, snooze_count) VALUES(?,?,?,?)`,
		e.At.Format(time.RFC3339Nano), e.EventID, e.Reason, e.SnoozeCount,
	)
	if err != nil {
		return fmt.Errorf("%w: ring log: %v", ErrUnavailable, err)
	}
	return nil
}

func (s *sqliteStore) RecentRings(ctx context.Context, limit int) ([]RingEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT at, event_id, reason, snooze_count FROM ring_log ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer rows.Close()

	var out []RingEntry
	for rows.Next() {
		var e RingEntry
		var at string
		if err := rows.Scan(&at, &e.EventID, &e.Reason, &e.SnoozeCount); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		if t, perr := time.Parse(time.RFC3339Nano, at); perr == nil {
			e.At = t
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *sqliteStore) Subscriptions(ctx context.Context) ([]PushSubscription, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT endpoint, p256dh, auth, created_at FROM push_subscriptions`)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer rows.Close()

	var out []PushSubscription
	for rows.Next() {
		var sub PushSubscription
		var created string
		if err := rows.Scan(&sub.Endpoint, &sub.P256dh, &sub.Auth, &created); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		if t, perr := time.Parse(time.RFC3339Nano, created); perr == nil {
			sub.CreatedAt = t
		}
		out = append(out, sub)
	}
	return out, rows.Err()
}

func (s *sqliteStore) SaveSubscription(ctx context.Context, sub PushSubscription) error {
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO push_subscriptions(endpoint, p256dh, auth, created_at) VALUES(?,?,?,?)
		 ON CONFLICT(endpoint) DO UPDATE SET p256dh=excluded.p256dh, auth=excluded.auth`,
		sub.Endpoint, sub.P256dh, sub.Auth, sub.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (s *sqliteStore) DeleteSubscription(ctx context.Context, endpoint string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM push_subscriptions WHERE endpoint = ?`, endpoint)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func intOrNil(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

func msOrNil(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixMilli()
}

func nullableInt(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	n := int(v.Int64)
	return &n
}

func nullableTime(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.UnixMilli(v.Int64)
	return &t
}
