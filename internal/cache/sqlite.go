package cache

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"mydylms-backend/internal/db"
)

// SqliteBackend stores records in the cache_entry table.
type SqliteBackend struct {
	qry *db.Queries
}

func NewSqliteBackend(database *sql.DB) SqliteBackend {
	return SqliteBackend{qry: db.New(database)}
}

func (b SqliteBackend) Load(ctx context.Context, name string) (Record, error) {
	row, err := b.qry.GetCacheEntry(ctx, name)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, ErrMissing
	}
	if err != nil {
		return Record{}, err
	}
	return Record{
		Name:      row.Name,
		Timestamp: time.UnixMilli(row.CreatedAt),
		TtlHours:  row.TtlHours,
		Data:      row.Data,
	}, nil
}

func (b SqliteBackend) Store(ctx context.Context, record Record) error {
	return b.qry.PutCacheEntry(ctx, db.CacheEntry{
		Name:      record.Name,
		CreatedAt: record.Timestamp.UnixMilli(),
		TtlHours:  record.TtlHours,
		Data:      record.Data,
	})
}

func (b SqliteBackend) Delete(ctx context.Context, name string) error {
	return b.qry.DeleteCacheEntry(ctx, name)
}

func (b SqliteBackend) DeleteAll(ctx context.Context) error {
	return b.qry.DeleteAllCacheEntries(ctx)
}

func (b SqliteBackend) Names(ctx context.Context) ([]string, error) {
	rows, err := b.qry.ListCacheEntries(ctx)
	if err != nil {
		return nil, err
	}
	names := make([]string, len(rows))
	for i, r := range rows {
		names[i] = r.Name
	}
	return names, nil
}
