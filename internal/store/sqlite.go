package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const (
	sqliteBusyCode          = 5
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond
)

const matchColumns = "match_id, ts_ms, map, battle_rating, game_mode, catalog_release, source, record_json, created_at, updated_at"

type sqliteBackend struct {
	db   *sql.DB
	path string
}

func openSQLite(ctx context.Context, path string) (*sqliteBackend, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("open sqlite db: path is required")
	}
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.ExecContext(ctx, pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	b := &sqliteBackend{db: db, path: path}
	if err := b.initSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return b, nil
}

// isSQLiteBusy matches SQLITE_BUSY and its extended codes.
func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code()&0xff == sqliteBusyCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func retryOnBusy(ctx context.Context, op func() error) error {
	delay := busyRetryInitialBackoff
	var lastErr error
	for attempt := 0; attempt < busyRetryAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !isSQLiteBusy(lastErr) || attempt == busyRetryAttempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		if next := delay * 2; next <= busyRetryMaxBackoff {
			delay = next
		}
	}
	return lastErr
}

func (b *sqliteBackend) execWithRetry(ctx context.Context, query string, args ...any) (sql.Result, error) {
	var (
		res     sql.Result
		execErr error
	)
	if err := retryOnBusy(ctx, func() error {
		res, execErr = b.db.ExecContext(ctx, query, args...)
		return execErr
	}); err != nil {
		return nil, err
	}
	return res, nil
}

func rowArgs(r row, now string) []any {
	return []any{r.id, r.timestamp, r.mapKey, r.battleRating, r.gameMode, r.release, r.source, string(r.payload), now, now}
}

func (b *sqliteBackend) insert(ctx context.Context, r row) (bool, error) {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := b.execWithRetry(ctx,
		"INSERT INTO matches ("+matchColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?) ON CONFLICT(match_id) DO NOTHING",
		rowArgs(r, now)...,
	)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

func (b *sqliteBackend) upsert(ctx context.Context, r row) (bool, error) {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	var replaced bool
	err := retryOnBusy(ctx, func() error {
		tx, err := b.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()

		var existing int
		if err := tx.QueryRowContext(ctx, "SELECT COUNT(1) FROM matches WHERE match_id = ?", r.id).Scan(&existing); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO matches ("+matchColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?) "+
				"ON CONFLICT(match_id) DO UPDATE SET ts_ms = excluded.ts_ms, map = excluded.map, "+
				"battle_rating = excluded.battle_rating, game_mode = excluded.game_mode, "+
				"catalog_release = excluded.catalog_release, source = excluded.source, "+
				"record_json = excluded.record_json, updated_at = excluded.updated_at",
			rowArgs(r, now)...,
		); err != nil {
			return err
		}
		if err := tx.Commit(); err != nil {
			return err
		}
		replaced = existing > 0
		return nil
	})
	return replaced, err
}

func (b *sqliteBackend) exists(ctx context.Context, id string) (bool, error) {
	var found int
	err := b.db.QueryRowContext(ctx, "SELECT COUNT(1) FROM matches WHERE match_id = ?", id).Scan(&found)
	if err != nil {
		return false, err
	}
	return found > 0, nil
}

func (b *sqliteBackend) get(ctx context.Context, id string) ([]byte, bool, error) {
	var payload string
	err := b.db.QueryRowContext(ctx, "SELECT record_json FROM matches WHERE match_id = ?", id).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return []byte(payload), true, nil
}

func (b *sqliteBackend) count(ctx context.Context) (int, error) {
	var n int
	if err := b.db.QueryRowContext(ctx, "SELECT COUNT(1) FROM matches").Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

func (b *sqliteBackend) page(ctx context.Context, after *cursor, limit int) ([]storedRow, error) {
	query := "SELECT match_id, ts_ms, record_json FROM matches"
	args := make([]any, 0, 4)
	if after != nil {
		query += " WHERE ts_ms > ? OR (ts_ms = ? AND match_id > ?)"
		args = append(args, after.timestamp, after.timestamp, after.id)
	}
	query += " ORDER BY ts_ms ASC, match_id ASC LIMIT ?"
	args = append(args, limit)

	rows, err := b.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []storedRow
	for rows.Next() {
		var (
			r       storedRow
			payload string
		)
		if err := rows.Scan(&r.id, &r.timestamp, &payload); err != nil {
			return nil, err
		}
		r.payload = []byte(payload)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (b *sqliteBackend) eachID(ctx context.Context, fn func(string)) error {
	rows, err := b.db.QueryContext(ctx, "SELECT match_id FROM matches")
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return err
		}
		fn(id)
	}
	return rows.Err()
}

func (b *sqliteBackend) ping(ctx context.Context) error {
	return b.db.PingContext(ctx)
}

func (b *sqliteBackend) close() error {
	return b.db.Close()
}
