package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/sqlc-dev/pqtype"

	"mdview/internal/resource"
)

// PostgresStore persists caches in the cache_entries table created by the
// migrate package.
type PostgresStore struct {
	DB  *sql.DB
	now func() time.Time
}

// NewPostgresStore uses a shared *sql.DB opened with the pgx driver.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{DB: db, now: time.Now}
}

func (s *PostgresStore) Open(ctx context.Context, name string) (Handle, error) {
	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO caches (name) VALUES ($1) ON CONFLICT (name) DO NOTHING`, name)
	if err != nil {
		return nil, fmt.Errorf("open cache %q: %w", name, err)
	}
	return &postgresHandle{store: s, name: name}, nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.DB.PingContext(ctx)
}

func (s *PostgresStore) Close() error {
	return s.DB.Close()
}

type postgresHandle struct {
	store *PostgresStore
	name  string
}

func (h *postgresHandle) Name() string { return h.name }

func (h *postgresHandle) Match(ctx context.Context, key string) (*resource.Response, bool, error) {
	var (
		status  int
		headers pqtype.NullRawMessage
		body    []byte
	)
	err := h.store.DB.QueryRowContext(ctx,
		`SELECT status, headers, body FROM cache_entries WHERE cache_name = $1 AND key = $2`,
		h.name, key).Scan(&status, &headers, &body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("cache match %s: %w", key, err)
	}

	header := http.Header{}
	if headers.Valid && len(headers.RawMessage) > 0 {
		if err := json.Unmarshal(headers.RawMessage, &header); err != nil {
			return nil, false, fmt.Errorf("cache decode headers %s: %w", key, err)
		}
	}
	return &resource.Response{Status: status, Header: header, Body: body}, true, nil
}

func (h *postgresHandle) Put(ctx context.Context, key string, resp *resource.Response) error {
	payload, err := json.Marshal(resp.Header)
	if err != nil {
		return fmt.Errorf("cache encode headers %s: %w", key, err)
	}
	body := resp.Body
	if body == nil {
		body = []byte{}
	}
	_, err = h.store.DB.ExecContext(ctx, `
		INSERT INTO cache_entries (cache_name, key, status, headers, body, stored_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (cache_name, key) DO UPDATE SET
			status = EXCLUDED.status,
			headers = EXCLUDED.headers,
			body = EXCLUDED.body,
			stored_at = EXCLUDED.stored_at`,
		h.name, key, resp.Status,
		pqtype.NullRawMessage{RawMessage: payload, Valid: true},
		body, h.store.now().UTC())
	if err != nil {
		return fmt.Errorf("cache put %s: %w", key, err)
	}
	return nil
}

func (h *postgresHandle) Delete(ctx context.Context, key string) (bool, error) {
	res, err := h.store.DB.ExecContext(ctx,
		`DELETE FROM cache_entries WHERE cache_name = $1 AND key = $2`, h.name, key)
	if err != nil {
		return false, fmt.Errorf("cache delete %s: %w", key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (h *postgresHandle) Sweep(ctx context.Context, policy EvictionPolicy, now time.Time) (int64, error) {
	rows, err := h.store.DB.QueryContext(ctx,
		`SELECT key, stored_at, octet_length(body) FROM cache_entries WHERE cache_name = $1`, h.name)
	if err != nil {
		return 0, fmt.Errorf("cache sweep list: %w", err)
	}

	var expired []string
	for rows.Next() {
		var info EntryInfo
		if err := rows.Scan(&info.Key, &info.StoredAt, &info.Size); err != nil {
			rows.Close()
			return 0, fmt.Errorf("cache sweep scan: %w", err)
		}
		if policy.Evict(info, now) {
			expired = append(expired, info.Key)
		}
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return 0, fmt.Errorf("cache sweep rows: %w", err)
	}
	rows.Close()

	var removed int64
	for _, key := range expired {
		ok, err := h.Delete(ctx, key)
		if err != nil {
			return removed, err
		}
		if ok {
			removed++
		}
	}
	return removed, nil
}
