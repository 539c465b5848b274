// Package store keeps the site's sqlite data: privacy-conscious visitor
// tracking, contact messages and per-resource embed outcomes.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	_ "modernc.org/sqlite"
)

const (
	maxWriteAttempts = 4
	maxWriteInterval = 500 * time.Millisecond
)

// Visitor is one tracked page view. The IP is stored hashed.
type Visitor struct {
	ID        int64     `json:"id"`
	HashedIP  string    `json:"hashed_ip"`
	UserAgent string    `json:"user_agent"`
	Path      string    `json:"path"`
	Timestamp time.Time `json:"timestamp"`
}

type Message struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
}

// OutcomeRow is one persisted embed outcome.
type OutcomeRow struct {
	SessionID string
	Slot      string
	Resource  string
	Kind      string
	Class     string
	Fast      bool
	Warm      bool
	Delay     time.Duration
	Reason    string
	At        time.Time
}

// ResourceStats aggregates outcomes for one embedded resource.
type ResourceStats struct {
	Resource  string        `json:"resource"`
	Mounted   int64         `json:"mounted"`
	Loaded    int64         `json:"loaded"`
	Failed    int64         `json:"failed"`
	Cancelled int64         `json:"cancelled"`
	AvgDelay  time.Duration `json:"avg_delay"`
	WarmShare float64       `json:"warm_share"`
}

type AdminStats struct {
	TotalVisitors    int64           `json:"total_visitors"`
	UniqueVisitors   int64           `json:"unique_visitors"`
	VisitorsToday    int64           `json:"visitors_today"`
	VisitorsThisWeek int64           `json:"visitors_this_week"`
	Messages         int64           `json:"messages"`
	Embeds           []ResourceStats `json:"embeds"`
	RecentVisitors   []Visitor       `json:"recent_visitors"`
	RecentMessages   []Message       `json:"recent_messages"`
}

type Store struct {
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time
}

type Option func(*Store)

func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// Open opens (creating if needed) the sqlite database at path and migrates it.
func Open(ctx context.Context, path string, opts ...Option) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	// sqlite serializes writers anyway
	db.SetMaxOpenConns(1)

	s := &Store{db: db, logger: slog.Default(), now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate(ctx context.Context) error {
	stmts := []string{
		`PRAGMA journal_mode = WAL`,
		`PRAGMA busy_timeout = 2000`,
		`CREATE TABLE IF NOT EXISTS visitors (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			hashed_ip TEXT NOT NULL,
			user_agent TEXT,
			path TEXT,
			timestamp INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS visitors_timestamp ON visitors (timestamp)`,
		`CREATE TABLE IF NOT EXISTS messages (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL,
			email TEXT NOT NULL,
			body TEXT NOT NULL,
			created_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS embed_outcomes (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL,
			slot TEXT NOT NULL,
			resource TEXT NOT NULL,
			outcome TEXT NOT NULL,
			device_class TEXT NOT NULL,
			fast INTEGER NOT NULL,
			warm INTEGER NOT NULL,
			delay_ms INTEGER NOT NULL,
			reason TEXT,
			timestamp INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS embed_outcomes_resource ON embed_outcomes (resource)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// exec runs a write, retrying transient failures such as a locked database.
func (s *Store) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 20 * time.Millisecond
	b.MaxInterval = maxWriteInterval

	var lastErr error
	for attempt := 1; attempt <= maxWriteAttempts; attempt++ {
		res, err := s.db.ExecContext(ctx, query, args...)
		if err == nil {
			return res, nil
		}
		lastErr = err
		if !retryable(err) || attempt == maxWriteAttempts {
			break
		}
		sleep := b.NextBackOff()
		if sleep == backoff.Stop {
			break
		}
		s.logger.Debug("retrying sqlite write", "attempt", attempt, "error", err)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(sleep):
		}
	}
	return nil, lastErr
}

func retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "SQLITE_BUSY")
}

func (s *Store) RecordVisit(ctx context.Context, hashedIP, userAgent, path string) error {
	_, err := s.exec(ctx, `
		INSERT INTO visitors (hashed_ip, user_agent, path, timestamp)
		VALUES (?, ?, ?, ?)
	`, hashedIP, userAgent, path, s.now().Unix())
	if err != nil {
		return fmt.Errorf("record visit: %w", err)
	}
	return nil
}

func (s *Store) SaveMessage(ctx context.Context, name, email, body string) (int64, error) {
	res, err := s.exec(ctx, `
		INSERT INTO messages (name, email, body, created_at)
		VALUES (?, ?, ?, ?)
	`, name, email, body, s.now().Unix())
	if err != nil {
		return 0, fmt.Errorf("save message: %w", err)
	}
	return res.LastInsertId()
}

func (s *Store) RecordOutcome(ctx context.Context, o OutcomeRow) error {
	_, err := s.exec(ctx, `
		INSERT INTO embed_outcomes
			(session_id, slot, resource, outcome, device_class, fast, warm, delay_ms, reason, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, o.SessionID, o.Slot, o.Resource, o.Kind, o.Class, o.Fast, o.Warm,
		o.Delay.Milliseconds(), o.Reason, o.At.Unix())
	if err != nil {
		return fmt.Errorf("record outcome: %w", err)
	}
	return nil
}

// CleanupVisitors removes visitor rows older than the retention window.
func (s *Store) CleanupVisitors(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := s.now().Add(-olderThan).Unix()
	res, err := s.exec(ctx, `DELETE FROM visitors WHERE timestamp < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("cleanup visitors: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		s.logger.Info("privacy cleanup removed old visitor records", "count", n)
	}
	return n, nil
}

func (s *Store) RecentVisitors(ctx context.Context, limit int) ([]Visitor, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, hashed_ip, COALESCE(user_agent, ''), COALESCE(path, ''), timestamp
		FROM visitors
		ORDER BY timestamp DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("recent visitors: %w", err)
	}
	defer rows.Close()

	var out []Visitor
	for rows.Next() {
		var v Visitor
		var ts int64
		if err := rows.Scan(&v.ID, &v.HashedIP, &v.UserAgent, &v.Path, &ts); err != nil {
			return nil, fmt.Errorf("scan visitor: %w", err)
		}
		v.Timestamp = time.Unix(ts, 0)
		out = append(out, v)
	}
	return out, rows.Err()
}

func (s *Store) RecentMessages(ctx context.Context, limit int) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, email, body, created_at
		FROM messages
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("recent messages: %w", err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var m Message
		var ts int64
		if err := rows.Scan(&m.ID, &m.Name, &m.Email, &m.Body, &ts); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.CreatedAt = time.Unix(ts, 0)
		out = append(out, m)
	}
	return out, rows.Err()
}

// EmbedStats aggregates outcomes per resource, most mounted first.
func (s *Store) EmbedStats(ctx context.Context) ([]ResourceStats, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT resource,
			SUM(CASE WHEN outcome = 'mounted' THEN 1 ELSE 0 END),
			SUM(CASE WHEN outcome = 'loaded' THEN 1 ELSE 0 END),
			SUM(CASE WHEN outcome = 'failed' THEN 1 ELSE 0 END),
			SUM(CASE WHEN outcome = 'cancelled' THEN 1 ELSE 0 END),
			COALESCE(AVG(CASE WHEN outcome = 'mounted' THEN delay_ms END), 0),
			COALESCE(AVG(CASE WHEN outcome = 'mounted' THEN warm END), 0)
		FROM embed_outcomes
		GROUP BY resource
		ORDER BY 2 DESC, resource
	`)
	if err != nil {
		return nil, fmt.Errorf("embed stats: %w", err)
	}
	defer rows.Close()

	var out []ResourceStats
	for rows.Next() {
		var r ResourceStats
		var avgMs float64
		if err := rows.Scan(&r.Resource, &r.Mounted, &r.Loaded, &r.Failed, &r.Cancelled, &avgMs, &r.WarmShare); err != nil {
			return nil, fmt.Errorf("scan embed stats: %w", err)
		}
		r.AvgDelay = time.Duration(avgMs * float64(time.Millisecond))
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) AdminStats(ctx context.Context) (*AdminStats, error) {
	stats := &AdminStats{}
	now := s.now()
	startOfDay := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

	counts := []struct {
		query string
		args  []any
		dst   *int64
	}{
		{`SELECT COUNT(*) FROM visitors`, nil, &stats.TotalVisitors},
		{`SELECT COUNT(DISTINCT hashed_ip) FROM visitors`, nil, &stats.UniqueVisitors},
		{`SELECT COUNT(*) FROM visitors WHERE timestamp >= ?`, []any{startOfDay.Unix()}, &stats.VisitorsToday},
		{`SELECT COUNT(*) FROM visitors WHERE timestamp >= ?`, []any{now.Add(-7 * 24 * time.Hour).Unix()}, &stats.VisitorsThisWeek},
		{`SELECT COUNT(*) FROM messages`, nil, &stats.Messages},
	}
	for _, c := range counts {
		if err := s.db.QueryRowContext(ctx, c.query, c.args...).Scan(c.dst); err != nil {
			return nil, fmt.Errorf("admin stats: %w", err)
		}
	}

	var err error
	if stats.Embeds, err = s.EmbedStats(ctx); err != nil {
		return nil, err
	}
	if stats.RecentVisitors, err = s.RecentVisitors(ctx, 50); err != nil {
		return nil, err
	}
	if stats.RecentMessages, err = s.RecentMessages(ctx, 10); err != nil {
		return nil, err
	}
	return stats, nil
}
