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
	"time"

	_ "modernc.org/sqlite"

	"github.com/bennyhartnett/instagram-poster/internal/media"
	"github.com/bennyhartnett/instagram-poster/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
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

const itemCols = `id, path, sha256, title, description, created_at, scheduled_at,
	posted_at, media_id, last_error, likes, comments, views, active`

func (s *sqliteStore) Insert(ctx context.Context, it *media.Item) error {
	if it.CreatedAt.IsZero() {
		it.CreatedAt = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO items(path, sha256, title, description, created_at, scheduled_at, active)
		 VALUES(?,?,?,?,?,?,?)`,
		it.Path, it.SHA256, it.Title, it.Description,
		it.CreatedAt.UnixMilli(), nullTime(it.ScheduledAt), boolInt(it.Active),
	)
	if err != nil {
		return err
	}
	it.ID, err = res.LastInsertId()
	return err
}

func (s *sqliteStore) Get(ctx context.Context, id int64) (*media.Item, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+itemCols+` FROM items WHERE id = ?`, id)
	return scanItem(row)
}

func (s *sqliteStore) GetBySHA256(ctx context.Context, sha string) (*media.Item, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+itemCols+` FROM items WHERE sha256 = ?`, sha)
	return scanItem(row)
}

func (s *sqliteStore) List(ctx context.Context) ([]media.Item, error) {
	return s.queryItems(ctx, `SELECT `+itemCols+` FROM items ORDER BY created_at DESC, id DESC`)
}

func (s *sqliteStore) ListDue(ctx context.Context, now time.Time) ([]media.Item, error) {
	return s.queryItems(ctx,
		`SELECT `+itemCols+` FROM items
		 WHERE active = 1 AND posted_at IS NULL
		   AND scheduled_at IS NOT NULL AND scheduled_at <= ?
		 ORDER BY scheduled_at ASC, id ASC`,
		now.UnixMilli())
}

func (s *sqliteStore) CountPostedBetween(ctx context.Context, start, end time.Time) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM items WHERE posted_at >= ? AND posted_at < ?`,
		start.UnixMilli(), end.UnixMilli()).Scan(&n)
	return n, err
}

func (s *sqliteStore) ListPublished(ctx context.Context) ([]media.Item, error) {
	return s.queryItems(ctx,
		`SELECT `+itemCols+` FROM items
		 WHERE active = 1 AND media_id IS NOT NULL AND media_id != ''
		 ORDER BY posted_at ASC, id ASC`)
}

func (s *sqliteStore) MarkPosted(ctx context.Context, id int64, mediaID string, postedAt time.Time) error {
	return s.exec(ctx,
		`UPDATE items SET media_id = ?, posted_at = ?, last_error = NULL WHERE id = ?`,
		mediaID, postedAt.UnixMilli(), id)
}

func (s *sqliteStore) RecordError(ctx context.Context, id int64, msg string) error {
	return s.exec(ctx, `UPDATE items SET last_error = ? WHERE id = ?`, nullStr(msg), id)
}

func (s *sqliteStore) UpdateEngagement(ctx context.Context, id int64, e media.Engagement) error {
	return s.exec(ctx,
		`UPDATE items SET likes = ?, comments = ?, views = ? WHERE id = ?`,
		e.Likes, e.Comments, e.Views, id)
}

func (s *sqliteStore) SetSchedule(ctx context.Context, id int64, at *time.Time) error {
	return s.exec(ctx, `UPDATE items SET scheduled_at = ? WHERE id = ?`, nullTime(at), id)
}

func (s *sqliteStore) SetMeta(ctx context.Context, id int64, title, description string) error {
	return s.exec(ctx, `UPDATE items SET title = ?, description = ? WHERE id = ?`, title, description, id)
}

func (s *sqliteStore) SetActive(ctx context.Context, id int64, active bool) error {
	return s.exec(ctx, `UPDATE items SET active = ? WHERE id = ?`, boolInt(active), id)
}

func (s *sqliteStore) exec(ctx context.Context, q string, args ...any) error {
	res, err := s.db.ExecContext(ctx, q, args...)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *sqliteStore) queryItems(ctx context.Context, q string, args ...any) ([]media.Item, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []media.Item
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *it)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(row rowScanner) (*media.Item, error) {
	var (
		it          media.Item
		createdMS   int64
		scheduledMS sql.NullInt64
		postedMS    sql.NullInt64
		mediaID     sql.NullString
		lastError   sql.NullString
		active      int
	)
	err := row.Scan(&it.ID, &it.Path, &it.SHA256, &it.Title, &it.Description,
		&createdMS, &scheduledMS, &postedMS, &mediaID, &lastError,
		&it.Likes, &it.Comments, &it.Views, &active)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	it.CreatedAt = time.UnixMilli(createdMS).UTC()
	if scheduledMS.Valid {
		t := time.UnixMilli(scheduledMS.Int64).UTC()
		it.ScheduledAt = &t
	}
	if postedMS.Valid {
		t := time.UnixMilli(postedMS.Int64).UTC()
		it.PostedAt = &t
	}
	it.MediaID = mediaID.String
	it.LastError = lastError.String
	it.Active = active != 0
	return &it, nil
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixMilli()
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
