// Package store is the durable record store: classified offers, recipient
// subscriptions, and daily usage stats, all in a single sqlite file.
package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/denis567denis/tg-bot-cache/internal/offer"
	logx "github.com/denis567denis/tg-bot-cache/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type Config struct {
	Path        string
	BusyTimeout time.Duration // 0 means default
}

// Subscription is one (recipient, category, bucket) interest.
type Subscription struct {
	RecipientID int64
	Category    string
	Bucket      offer.RateBucket
}

type Store struct {
	db  *sql.DB
	log logx.Logger
}

func Open(cfg Config, log logx.Logger) (*Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")
	_, _ = db.Exec("PRAGMA foreign_keys = ON")

	s := &Store{db: db, log: log}
	if err := s.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// InsertOffer stores a classified offer and its category join rows.
// Returns the assigned offer ID.
func (s *Store) InsertOffer(ctx context.Context, o offer.Offer) (int64, error) {
	if o.CreatedAt.IsZero() {
		o.CreatedAt = time.Now()
	}
	cats, err := json.Marshal(o.Categories)
	if err != nil {
		return 0, fmt.Errorf("marshal categories: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO offers(provider, rate, categories, media_ref, text, created_at)
		 VALUES(?,?,?,?,?,?)`,
		o.Provider, o.RatePercent, string(cats), o.MediaRef, o.Text,
		o.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	for _, c := range o.Categories {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO offer_categories(offer_id, category) VALUES(?,?)`, id, c); err != nil {
			return 0, err
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return id, nil
}

// TopOffers returns the newest offers matching (category, bucket), newest
// first, at most limit rows. Recency is insertion order (ids are
// monotonic), which sidesteps lexicographic quirks of timestamp strings.
func (s *Store) TopOffers(ctx context.Context, category string, bucket offer.RateBucket, limit int) ([]offer.Offer, error) {
	if limit <= 0 {
		return nil, nil
	}

	low, high, exact := bucket.Range()
	var rows *sql.Rows
	var err error
	const base = `SELECT o.id, o.provider, o.rate, o.categories, o.media_ref, o.text, o.created_at
		 FROM offers o JOIN offer_categories oc ON oc.offer_id = o.id
		 WHERE oc.category = ? AND %s
		 ORDER BY o.id DESC LIMIT ?`
	if exact {
		rows, err = s.db.QueryContext(ctx, fmt.Sprintf(base, "o.rate = 100"), category, limit)
	} else {
		rows, err = s.db.QueryContext(ctx, fmt.Sprintf(base, "o.rate >= ? AND o.rate < ?"), category, low, high, limit)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []offer.Offer
	for rows.Next() {
		var o offer.Offer
		var cats, createdAt string
		if err := rows.Scan(&o.ID, &o.Provider, &o.RatePercent, &cats, &o.MediaRef, &o.Text, &createdAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(cats), &o.Categories); err != nil {
			return nil, fmt.Errorf("offer %d: bad categories json: %w", o.ID, err)
		}
		t, err := time.Parse(time.RFC3339Nano, createdAt)
		if err != nil {
			return nil, fmt.Errorf("offer %d: bad created_at: %w", o.ID, err)
		}
		o.CreatedAt = t
		out = append(out, o)
	}
	return out, rows.Err()
}

func (s *Store) UpsertSubscription(ctx context.Context, recipientID int64, category string, bucket offer.RateBucket) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO subscriptions(recipient_id, category, bucket, created_at) VALUES(?,?,?,?)`,
		recipientID, category, string(bucket), time.Now().UTC().Format(time.RFC3339Nano))
	return err
}

func (s *Store) RemoveSubscription(ctx context.Context, recipientID int64, category string, bucket offer.RateBucket) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM subscriptions WHERE recipient_id = ? AND category = ? AND bucket = ?`,
		recipientID, category, string(bucket))
	return err
}

// ListSubscriptions returns the recipient's interests in creation order.
func (s *Store) ListSubscriptions(ctx context.Context, recipientID int64) ([]Subscription, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT category, bucket FROM subscriptions WHERE recipient_id = ? ORDER BY created_at, category, bucket`,
		recipientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Subscription
	for rows.Next() {
		sub := Subscription{RecipientID: recipientID}
		var bucket string
		if err := rows.Scan(&sub.Category, &bucket); err != nil {
			return nil, err
		}
		b, ok := offer.ParseBucket(bucket)
		if !ok {
			s.log.Warn("stored subscription has unknown bucket, skipping",
				logx.Int64("recipient", recipientID), logx.String("bucket", bucket))
			continue
		}
		sub.Bucket = b
		out = append(out, sub)
	}
	return out, rows.Err()
}

// FindSubscribers returns every recipient subscribed to (category, bucket).
func (s *Store) FindSubscribers(ctx context.Context, category string, bucket offer.RateBucket) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT recipient_id FROM subscriptions WHERE category = ? AND bucket = ?`,
		category, string(bucket))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// BumpDailyStats records one recipient interaction for today.
// connection marks a first-contact interaction (e.g. /start), everything else
// counts as a request. Unique users are tracked per day.
func (s *Store) BumpDailyStats(ctx context.Context, recipientID int64, connection bool) error {
	day := time.Now().UTC().Format("2006-01-02")

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO daily_stats(day) VALUES(?)`, day); err != nil {
		return err
	}
	col := "requests"
	if connection {
		col = "connections"
	}
	if _, err := tx.ExecContext(ctx,
		fmt.Sprintf(`UPDATE daily_stats SET %s = %s + 1 WHERE day = ?`, col, col), day); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO daily_stats_users(day, recipient_id) VALUES(?,?)`, day, recipientID); err != nil {
		return err
	}
	return tx.Commit()
}

// DailyStats returns (connections, requests, uniqueUsers) for a day
// formatted as "2006-01-02". Missing days report zeros.
func (s *Store) DailyStats(ctx context.Context, day string) (int64, int64, int64, error) {
	var conns, reqs int64
	err := s.db.QueryRowContext(ctx,
		`SELECT connections, requests FROM daily_stats WHERE day = ?`, day).Scan(&conns, &reqs)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, 0, 0, nil
	}
	if err != nil {
		return 0, 0, 0, err
	}
	var users int64
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM daily_stats_users WHERE day = ?`, day).Scan(&users); err != nil {
		return 0, 0, 0, err
	}
	return conns, reqs, users, nil
}
