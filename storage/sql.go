package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/multierr"
)

// SQLBackend 基于 database/sql 的键值表，支持 sqlite3 与 postgres
type SQLBackend struct {
	db       *sql.DB
	driver   string
	maxBytes int64
}

// OpenSQL 打开数据库并建表；maxBytes 为 0 表示不限配额
func OpenSQL(driver, dsn string, maxBytes int64) (*SQLBackend, error) {
	if driver != "sqlite3" && driver != "postgres" {
		return nil, fmt.Errorf("unsupported storage driver %q", driver)
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	if driver == "sqlite3" {
		// sqlite 单写者
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(5)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(30 * time.Minute)
	}
	b := &SQLBackend{db: db, driver: driver, maxBytes: maxBytes}
	if err := b.ensureSchema(context.Background()); err != nil {
		return nil, multierr.Append(err, db.Close())
	}
	return b, nil
}

func (b *SQLBackend) ensureSchema(ctx context.Context) error {
	if err := b.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping %s: %w", b.driver, err)
	}
	blob := "BLOB"
	if b.driver == "postgres" {
		blob = "BYTEA"
	}
	schema := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS kv_entries (
			key TEXT PRIMARY KEY,
			value %s NOT NULL,
			updated_at BIGINT NOT NULL
		)`, blob)
	if _, err := b.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("create kv_entries: %w", err)
	}
	return nil
}

func (b *SQLBackend) Get(ctx context.Context, key string) ([]byte, error) {
	var v []byte
	err := b.db.QueryRowContext(ctx, `SELECT value FROM kv_entries WHERE key = $1`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	return v, nil
}

func (b *SQLBackend) Put(ctx context.Context, key string, value []byte) error {
	if b.maxBytes > 0 {
		var used int64
		err := b.db.QueryRowContext(ctx,
			`SELECT COALESCE(SUM(LENGTH(key) + LENGTH(value)), 0) FROM kv_entries WHERE key <> $1`, key).Scan(&used)
		if err != nil {
			return fmt.Errorf("quota check: %w", err)
		}
		if used+int64(len(key)+len(value)) > b.maxBytes {
			return ErrQuotaExceeded
		}
	}
	_, err := b.db.ExecContext(ctx, `
		INSERT INTO kv_entries (key, value, updated_at) VALUES ($1, $2, $3)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}

func (b *SQLBackend) Delete(ctx context.Context, key string) error {
	if _, err := b.db.ExecContext(ctx, `DELETE FROM kv_entries WHERE key = $1`, key); err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

func (b *SQLBackend) Keys(ctx context.Context, prefix string) ([]string, error) {
	rows, err := b.db.QueryContext(ctx, `SELECT key FROM kv_entries WHERE key LIKE $1`, prefix+"%")
	if err != nil {
		return nil, fmt.Errorf("list keys: %w", err)
	}
	defer rows.Close()
	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		// LIKE 中的 _ 是通配符，这里再精确过滤一次
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	return keys, rows.Err()
}

func (b *SQLBackend) Close() error {
	return b.db.Close()
}
