package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"warthog/internal/services"
)

type postgresBackend struct {
	pool *pgxpool.Pool
}

func openPostgres(ctx context.Context, dsn string) (*postgresBackend, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, services.Wrap(services.ErrConfiguration, "store", "open postgres", "store.dsn is required", nil)
	}
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "store", "open postgres", "parse dsn", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	b := &postgresBackend{pool: pool}
	if err := b.initSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return b, nil
}

func (b *postgresBackend) initSchema(ctx context.Context) error {
	var tableExists bool
	if err := b.pool.QueryRow(ctx, "SELECT to_regclass('schema_version') IS NOT NULL").Scan(&tableExists); err != nil {
		return fmt.Errorf("check schema_version table: %w", err)
	}
	if !tableExists {
		return b.createSchema(ctx)
	}

	var version int
	err := b.pool.QueryRow(ctx, "SELECT version FROM schema_version LIMIT 1").Scan(&version)
	if errors.Is(err, pgx.ErrNoRows) {
		return mismatchError(0)
	}
	if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if version != schemaVersion {
		return mismatchError(version)
	}
	return nil
}

func (b *postgresBackend) createSchema(ctx context.Context) error {
	tx, err := b.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, schemaPostgresSQL); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	if _, err := tx.Exec(ctx, "INSERT INTO schema_version (version) VALUES ($1)", schemaVersion); err != nil {
		return fmt.Errorf("record schema version: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit schema: %w", err)
	}
	return nil
}

const postgresInsert = "INSERT INTO matches (match_id, ts_ms, map, battle_rating, game_mode, catalog_release, source, record_json) " +
	"VALUES ($1, $2, $3, $4, $5, $6, $7, $8)"

func postgresArgs(r row) []any {
	return []any{r.id, r.timestamp, r.mapKey, r.battleRating, r.gameMode, r.release, r.source, r.payload}
}

func (b *postgresBackend) insert(ctx context.Context, r row) (bool, error) {
	tag, err := b.pool.Exec(ctx, postgresInsert+" ON CONFLICT (match_id) DO NOTHING", postgresArgs(r)...)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// upsert reports whether a row was replaced. xmax is zero only for freshly
// inserted tuples.
func (b *postgresBackend) upsert(ctx context.Context, r row) (bool, error) {
	var replaced bool
	err := b.pool.QueryRow(ctx, postgresInsert+
		" ON CONFLICT (match_id) DO UPDATE SET ts_ms = EXCLUDED.ts_ms, map = EXCLUDED.map,"+
		" battle_rating = EXCLUDED.battle_rating, game_mode = EXCLUDED.game_mode,"+
		" catalog_release = EXCLUDED.catalog_release, source = EXCLUDED.source,"+
		" record_json = EXCLUDED.record_json, updated_at = now()"+
		" RETURNING (xmax::text <> '0')",
		postgresArgs(r)...,
	).Scan(&replaced)
	return replaced, err
}

func (b *postgresBackend) exists(ctx context.Context, id string) (bool, error) {
	var found bool
	err := b.pool.QueryRow(ctx, "SELECT EXISTS (SELECT 1 FROM matches WHERE match_id = $1)", id).Scan(&found)
	return found, err
}

func (b *postgresBackend) get(ctx context.Context, id string) ([]byte, bool, error) {
	var payload []byte
	err := b.pool.QueryRow(ctx, "SELECT record_json FROM matches WHERE match_id = $1", id).Scan(&payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return payload, true, nil
}

func (b *postgresBackend) count(ctx context.Context) (int, error) {
	var n int64
	if err := b.pool.QueryRow(ctx, "SELECT COUNT(*) FROM matches").Scan(&n); err != nil {
		return 0, err
	}
	return int(n), nil
}

func (b *postgresBackend) page(ctx context.Context, after *cursor, limit int) ([]storedRow, error) {
	var (
		rows pgx.Rows
		err  error
	)
	if after == nil {
		rows, err = b.pool.Query(ctx,
			"SELECT match_id, ts_ms, record_json FROM matches ORDER BY ts_ms ASC, match_id ASC LIMIT $1", limit)
	} else {
		rows, err = b.pool.Query(ctx,
			"SELECT match_id, ts_ms, record_json FROM matches WHERE (ts_ms, match_id) > ($1, $2) "+
				"ORDER BY ts_ms ASC, match_id ASC LIMIT $3", after.timestamp, after.id, limit)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []storedRow
	for rows.Next() {
		var r storedRow
		if err := rows.Scan(&r.id, &r.timestamp, &r.payload); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (b *postgresBackend) eachID(ctx context.Context, fn func(string)) error {
	rows, err := b.pool.Query(ctx, "SELECT match_id FROM matches")
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

func (b *postgresBackend) ping(ctx context.Context) error {
	return b.pool.Ping(ctx)
}

func (b *postgresBackend) close() error {
	b.pool.Close()
	return nil
}
