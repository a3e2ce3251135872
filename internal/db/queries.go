package db

import (
	"context"
	"database/sql"
)

type DBTX interface {
	ExecContext(context.Context, string, ...any) (sql.Result, error)
	QueryContext(context.Context, string, ...any) (*sql.Rows, error)
	QueryRowContext(context.Context, string, ...any) *sql.Row
}

func New(db DBTX) *Queries {
	return &Queries{db: db}
}

type Queries struct {
	db DBTX
}

func (q *Queries) WithTx(tx *sql.Tx) *Queries {
	return &Queries{db: tx}
}

type SessionField struct {
	Field string
	Value string
}

type CacheEntry struct {
	Name      string
	CreatedAt int64
	TtlHours  float64
	Data      []byte
}

const getSessionField = `select value from session where field = ?`

func (q *Queries) GetSessionField(ctx context.Context, field string) (string, error) {
	row := q.db.QueryRowContext(ctx, getSessionField, field)
	var value string
	err := row.Scan(&value)
	return value, err
}

const listSessionFields = `select field, value from session order by field`

func (q *Queries) ListSessionFields(ctx context.Context) ([]SessionField, error) {
	rows, err := q.db.QueryContext(ctx, listSessionFields)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []SessionField
	for rows.Next() {
		var i SessionField
		if err := rows.Scan(&i.Field, &i.Value); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const setSessionField = `insert into session (field, value) values (?, ?)
on conflict (field) do update set value = excluded.value`

func (q *Queries) SetSessionField(ctx context.Context, arg SessionField) error {
	_, err := q.db.ExecContext(ctx, setSessionField, arg.Field, arg.Value)
	return err
}

const deleteSessionField = `delete from session where field = ?`

func (q *Queries) DeleteSessionField(ctx context.Context, field string) error {
	_, err := q.db.ExecContext(ctx, deleteSessionField, field)
	return err
}

const deleteAllSessionFields = `delete from session`

func (q *Queries) DeleteAllSessionFields(ctx context.Context) error {
	_, err := q.db.ExecContext(ctx, deleteAllSessionFields)
	return err
}

const getCacheEntry = `select name, created_at, ttl_hours, data from cache_entry where name = ?`

func (q *Queries) GetCacheEntry(ctx context.Context, name string) (CacheEntry, error) {
	row := q.db.QueryRowContext(ctx, getCacheEntry, name)
	var i CacheEntry
	err := row.Scan(&i.Name, &i.CreatedAt, &i.TtlHours, &i.Data)
	return i, err
}

const listCacheEntries = `select name, created_at, ttl_hours, length(data) from cache_entry order by name`

type CacheEntryInfo struct {
	Name      string
	CreatedAt int64
	TtlHours  float64
	Size      int64
}

func (q *Queries) ListCacheEntries(ctx context.Context) ([]CacheEntryInfo, error) {
	rows, err := q.db.QueryContext(ctx, listCacheEntries)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []CacheEntryInfo
	for rows.Next() {
		var i CacheEntryInfo
		if err := rows.Scan(&i.Name, &i.CreatedAt, &i.TtlHours, &i.Size); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const putCacheEntry = `insert into cache_entry (name, created_at, ttl_hours, data) values (?, ?, ?, ?)
on conflict (name) do update set
    created_at = excluded.created_at,
    ttl_hours = excluded.ttl_hours,
    data = excluded.data`

func (q *Queries) PutCacheEntry(ctx context.Context, arg CacheEntry) error {
	_, err := q.db.ExecContext(ctx, putCacheEntry, arg.Name, arg.CreatedAt, arg.TtlHours, arg.Data)
	return err
}

const deleteCacheEntry = `delete from cache_entry where name = ?`

func (q *Queries) DeleteCacheEntry(ctx context.Context, name string) error {
	_, err := q.db.ExecContext(ctx, deleteCacheEntry, name)
	return err
}

const deleteAllCacheEntries = `delete from cache_entry`

func (q *Queries) DeleteAllCacheEntries(ctx context.Context) error {
	_, err := q.db.ExecContext(ctx, deleteAllCacheEntries)
	return err
}
