package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"

	"signalbot/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

// Open opens (creating if needed) the SQLite database at cfg.Path and runs
// migrations.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	if dir := filepath.Dir(cfg.Path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
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

	st := &sqliteStore{db: db, log: log}
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

func (s *sqliteStore) UpsertProfile(ctx context.Context, id int64, username, firstName string) error {
	if s == nil || s.db == nil {
		return ErrClosed
	}
	// Single statement so concurrent identical calls stay atomic; the
	// subscription flag is never touched on conflict.
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users(id, username, first_name, is_subscribed) VALUES(?,?,?,0)
		 ON CONFLICT(id) DO UPDATE SET username=excluded.username, first_name=excluded.first_name`,
		id, nullStr(username), nullStr(firstName),
	)
	if err != nil {
		return fmt.Errorf("upsert profile %d: %w", id, err)
	}
	return nil
}

func (s *sqliteStore) SetSubscribed(ctx context.Context, id int64, subscribed bool) error {
	if s == nil || s.db == nil {
		return ErrClosed
	}
	v := 0
	if subscribed {
		v = 1
	}
	res, err := s.db.ExecContext(ctx, `UPDATE users SET is_subscribed = ? WHERE id = ?`, v, id)
	if err != nil {
		return fmt.Errorf("set subscribed %d: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		// Unknown id: the normal flow upserts on /start first, so this only
		// happens for stale callbacks. Keep it quiet.
		s.log.Debug("subscribe for unknown id ignored", logx.Int64("user", id))
	}
	return nil
}

func (s *sqliteStore) ListSubscribedIDs(ctx context.Context) ([]int64, error) {
	if s == nil || s.db == nil {
		return nil, ErrClosed
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM users WHERE is_subscribed = 1`)
	if err != nil {
		return nil, fmt.Errorf("list subscribed: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *sqliteStore) CountSubscribed(ctx context.Context) (int64, error) {
	if s == nil || s.db == nil {
		return 0, ErrClosed
	}
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users WHERE is_subscribed = 1`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count subscribed: %w", err)
	}
	return n, nil
}

func (s *sqliteStore) GetSubscriber(ctx context.Context, id int64) (Subscriber, bool, error) {
	if s == nil || s.db == nil {
		return Subscriber{}, false, ErrClosed
	}
	var (
		sub       Subscriber
		username  sql.NullString
		firstName sql.NullString
		flag      int
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, username, first_name, is_subscribed FROM users WHERE id = ?`, id,
	).Scan(&sub.ID, &username, &firstName, &flag)
	if errors.Is(err, sql.ErrNoRows) {
		return Subscriber{}, false, nil
	}
	if err != nil {
		return Subscriber{}, false, fmt.Errorf("get subscriber %d: %w", id, err)
	}
	sub.Username = username.String
	sub.FirstName = firstName.String
	sub.Subscribed = flag != 0
	return sub, true, nil
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
