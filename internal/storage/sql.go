package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	logx "fcfswatch/pkg/logx"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

type dialect string

const (
	dialectSQLite   dialect = "sqlite"
	dialectPostgres dialect = "postgres"
)

// sqlStore serves both sqlite and postgres; queries are written with "?"
// placeholders and rebound for postgres.
type sqlStore struct {
	db      *sql.DB
	log     logx.Logger
	dialect dialect

	opCount    atomic.Uint64
	pruneEvery uint64
}

func openSQLite(ctx context.Context, cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for sqlite driver")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	_, _ = db.ExecContext(ctx, fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()))
	_, _ = db.ExecContext(ctx, "PRAGMA journal_mode = WAL")
	_, _ = db.ExecContext(ctx, "PRAGMA synchronous = NORMAL")

	return newSQLStore(ctx, db, dialectSQLite, log)
}

func openPostgres(ctx context.Context, cfg Config, log logx.Logger) (Store, error) {
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("storage.dsn is required for postgres driver")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(8)
	db.SetConnMaxIdleTime(5 * time.Minute)

	pctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	return newSQLStore(ctx, db, dialectPostgres, log)
}

func newSQLStore(ctx context.Context, db *sql.DB, d dialect, log logx.Logger) (*sqlStore, error) {
	st := &sqlStore{db: db, log: log, dialect: d, pruneEvery: 500}
	if err := st.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate %s: %w", d, err)
	}
	log.Info("storage ready")
	return st, nil
}

func (s *sqlStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations/" + string(s.dialect) + ".sql")
	if err != nil {
		return err
	}
	for _, stmt := range strings.Split(string(b), ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// rebind rewrites "?" placeholders to "$n" for postgres.
func rebind(d dialect, q string) string {
	if d != dialectPostgres || !strings.Contains(q, "?") {
		return q
	}
	var b strings.Builder
	b.Grow(len(q) + 8)
	n := 0
	for _, r := range q {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *sqlStore) exec(ctx context.Context, q string, args ...any) (sql.Result, error) {
	return s.db.ExecContext(ctx, rebind(s.dialect, q), args...)
}

func (s *sqlStore) query(ctx context.Context, q string, args ...any) (*sql.Rows, error) {
	return s.db.QueryContext(ctx, rebind(s.dialect, q), args...)
}

func (s *sqlStore) queryRow(ctx context.Context, q string, args ...any) *sql.Row {
	return s.db.QueryRowContext(ctx, rebind(s.dialect, q), args...)
}

func (s *sqlStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqlStore) SetMonitoring(ctx context.Context, recipient int64, active bool) error {
	_, err := s.exec(ctx,
		`INSERT INTO recipients(recipient, active, updated_at) VALUES(?,?,?)
		 ON CONFLICT(recipient) DO UPDATE SET active = excluded.active, updated_at = excluded.updated_at`,
		recipient, active, time.Now().UnixMilli(),
	)
	return err
}

func (s *sqlStore) IsMonitoring(ctx context.Context, recipient int64) (bool, error) {
	var active bool
	err := s.queryRow(ctx, `SELECT active FROM recipients WHERE recipient = ?`, recipient).Scan(&active)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return active, err
}

func (s *sqlStore) ActiveRecipients(ctx context.Context) ([]int64, error) {
	rows, err := s.query(ctx, `SELECT recipient FROM recipients WHERE active = ? ORDER BY recipient`, true)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []int64
	for rows.Next() {
		var r int64
		if err := rows.Scan(&r); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *sqlStore) AddSubscription(ctx context.Context, sub Subscription) (bool, error) {
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = time.Now()
	}
	res, err := s.exec(ctx,
		`INSERT INTO subscriptions(recipient, space_id, space_name, created_at) VALUES(?,?,?,?)
		 ON CONFLICT(recipient, space_id) DO NOTHING`,
		sub.Recipient, sub.Space.ID, sub.Space.Name, sub.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (s *sqlStore) RemoveSubscription(ctx context.Context, recipient int64, spaceID string) (bool, error) {
	res, err := s.exec(ctx, `DELETE FROM subscriptions WHERE recipient = ? AND space_id = ?`, recipient, spaceID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (s *sqlStore) scanSubs(rows *sql.Rows) ([]Subscription, error) {
	defer rows.Close()
	var out []Subscription
	for rows.Next() {
		var (
			sub Subscription
			ms  int64
		)
		if err := rows.Scan(&sub.Recipient, &sub.Space.ID, &sub.Space.Name, &ms); err != nil {
			return nil, err
		}
		sub.CreatedAt = time.UnixMilli(ms)
		out = append(out, sub)
	}
	return out, rows.Err()
}

func (s *sqlStore) ListSubscriptions(ctx context.Context, recipient int64) ([]Subscription, error) {
	rows, err := s.query(ctx,
		`SELECT recipient, space_id, space_name, created_at FROM subscriptions
		 WHERE recipient = ? ORDER BY created_at, space_id`, recipient)
	if err != nil {
		return nil, err
	}
	return s.scanSubs(rows)
}

func (s *sqlStore) Subscriptions(ctx context.Context) ([]Subscription, error) {
	rows, err := s.query(ctx,
		`SELECT recipient, space_id, space_name, created_at FROM subscriptions
		 ORDER BY recipient, created_at, space_id`)
	if err != nil {
		return nil, err
	}
	return s.scanSubs(rows)
}

func (s *sqlStore) WatchedSpaces(ctx context.Context) ([]string, error) {
	rows, err := s.query(ctx, `SELECT DISTINCT space_id FROM subscriptions ORDER BY space_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (s *sqlStore) InsertDetected(ctx context.Context, d DetectedCampaign) (bool, error) {
	if d.DetectedAt.IsZero() {
		d.DetectedAt = time.Now()
	}
	snap, err := json.Marshal(d.Campaign)
	if err != nil {
		return false, err
	}
	res, err := s.exec(ctx,
		`INSERT INTO detected(campaign_id, snapshot, detected_at) VALUES(?,?,?)
		 ON CONFLICT(campaign_id) DO NOTHING`,
		d.Campaign.ID, string(snap), d.DetectedAt.UnixMilli(),
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (s *sqlStore) IsDetected(ctx context.Context, campaignID string) (bool, error) {
	var one int
	err := s.queryRow(ctx, `SELECT 1 FROM detected WHERE campaign_id = ?`, campaignID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}

func (s *sqlStore) AppendNotification(ctx context.Context, r NotificationRecord) error {
	if r.At.IsZero() {
		r.At = time.Now()
	}
	_, err := s.exec(ctx,
		`INSERT INTO notifications(recipient, campaign_id, ok, err, at) VALUES(?,?,?,?,?)`,
		r.Recipient, r.CampaignID, r.OK, nullStr(r.Error), r.At.UnixMilli(),
	)
	return err
}

func (s *sqlStore) ListNotifications(ctx context.Context, campaignID string) ([]NotificationRecord, error) {
	rows, err := s.query(ctx,
		`SELECT recipient, campaign_id, ok, err, at FROM notifications WHERE campaign_id = ? ORDER BY id`, campaignID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []NotificationRecord
	for rows.Next() {
		var (
			r   NotificationRecord
			msg sql.NullString
			ms  int64
		)
		if err := rows.Scan(&r.Recipient, &r.CampaignID, &r.OK, &msg, &ms); err != nil {
			return nil, err
		}
		r.Error = msg.String
		r.At = time.UnixMilli(ms)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *sqlStore) Counts(ctx context.Context) (Counts, error) {
	var c Counts
	err := s.queryRow(ctx, `SELECT
		(SELECT COUNT(*) FROM recipients WHERE active = ?),
		(SELECT COUNT(DISTINCT space_id) FROM subscriptions),
		(SELECT COUNT(*) FROM detected),
		(SELECT COUNT(*) FROM notifications WHERE ok = ?)`, true, true,
	).Scan(&c.ActiveRecipients, &c.Spaces, &c.Detected, &c.Notified)
	return c, err
}

func (s *sqlStore) PutDedup(ctx context.Context, key string, until time.Time) error {
	if key == "" {
		return nil
	}
	_, err := s.exec(ctx,
		`INSERT INTO dedup(dedup_key, until_ms) VALUES(?,?)
		 ON CONFLICT(dedup_key) DO UPDATE SET until_ms = excluded.until_ms`,
		key, until.UnixMilli(),
	)
	if err == nil && s.opCount.Add(1)%s.pruneEvery == 0 {
		pctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		_ = s.pruneExpired(pctx)
		cancel()
	}
	return err
}

func (s *sqlStore) GetDedup(ctx context.Context, key string) (time.Time, bool, error) {
	if key == "" {
		return time.Time{}, false, nil
	}
	var ms int64
	err := s.queryRow(ctx, `SELECT until_ms FROM dedup WHERE dedup_key = ? AND until_ms >= ?`, key, time.Now().UnixMilli()).Scan(&ms)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	return time.UnixMilli(ms), true, nil
}

func (s *sqlStore) pruneExpired(ctx context.Context) error {
	_, err := s.exec(ctx, `DELETE FROM dedup WHERE until_ms < ?`, time.Now().UnixMilli())
	return err
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
