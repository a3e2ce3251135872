package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"mydylms-backend/internal/components/assert"
	"mydylms-backend/internal/components/chrono"
	"mydylms-backend/internal/components/telemetry"
)

const (
	report_cache_get        = "cache.get"
	report_cache_put        = "cache.put"
	report_cache_invalidate = "cache.invalidate"
)

// ErrMissing is returned by a Backend when no record exists under a name.
var ErrMissing = errors.New("cache entry missing")

// ErrCleared is returned by PutSince when Clear ran after the generation
// was taken, the data may belong to a session that no longer exists.
var ErrCleared = errors.New("cache cleared since generation")

// Record is a stored cache entry, Data holds the json encoded payload.
type Record struct {
	Name      string
	Timestamp time.Time
	TtlHours  float64
	Data      []byte
}

// Backend persists records. Store must replace a record atomically, a
// concurrent Load sees either the old record or the new one.
type Backend interface {
	Load(ctx context.Context, name string) (Record, error)
	Store(ctx context.Context, record Record) error
	Delete(ctx context.Context, name string) error
	DeleteAll(ctx context.Context) error
	Names(ctx context.Context) ([]string, error)
}

// Metadata describes an entry without exposing its payload.
type Metadata struct {
	Name      string
	Timestamp time.Time
	TtlHours  float64
	Age       time.Duration
	Size      int
}

// Fresh reports whether the entry is younger than ttlHours.
func (m Metadata) Fresh(ttlHours float64) bool {
	return m.Age < hoursToDuration(ttlHours)
}

func hoursToDuration(hours float64) time.Duration {
	return time.Duration(hours * float64(time.Hour))
}

// Cache is a named-entry cache with lazy ttl expiry, expired entries stay
// in the backend until overwritten, invalidated or cleared.
type Cache struct {
	backend Backend
	clock   chrono.API
	tel     telemetry.API

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
	// generation is bumped by every Clear while all name locks are held.
	generation atomic.Uint64
}

func New(backend Backend, clock chrono.API, tel telemetry.API) *Cache {
	assert.NotNil(backend)
	assert.NotNil(clock)
	assert.NotNil(tel)

	return &Cache{
		backend: backend,
		clock:   clock,
		tel:     tel,
		locks:   map[string]*sync.Mutex{},
	}
}

func (c *Cache) lock(name string) func() {
	c.locksMu.Lock()
	mu, ok := c.locks[name]
	if !ok {
		mu = &sync.Mutex{}
		c.locks[name] = mu
	}
	c.locksMu.Unlock()

	mu.Lock()
	return mu.Unlock
}

// Generation identifies the state between two Clear calls. Take it before
// starting a fetch and hand it to PutSince.
func (c *Cache) Generation() uint64 {
	return c.generation.Load()
}

// Put overwrites the named entry with data stamped at the current time.
func (c *Cache) Put(ctx context.Context, name string, data any, ttlHours float64) error {
	return c.put(ctx, name, data, ttlHours, nil)
}

// PutSince is Put that drops the write with ErrCleared when the cache was
// cleared after generation was taken.
func (c *Cache) PutSince(ctx context.Context, generation uint64, name string, data any, ttlHours float64) error {
	return c.put(ctx, name, data, ttlHours, &generation)
}

func (c *Cache) put(ctx context.Context, name string, data any, ttlHours float64, generation *uint64) error {
	encoded, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encode cache entry %s: %w", name, err)
	}

	unlock := c.lock(name)
	defer unlock()

	// Clear holds this lock while bumping the generation, so the check
	// cannot race with it.
	if generation != nil && *generation != c.generation.Load() {
		return ErrCleared
	}

	err = c.backend.Store(ctx, Record{
		Name:      name,
		Timestamp: c.clock.Now(),
		TtlHours:  ttlHours,
		Data:      encoded,
	})
	if err != nil {
		c.tel.ReportBroken(report_cache_put, err, name)
		return err
	}
	cacheWritesTotal.WithLabelValues(metricName(name)).Inc()
	return nil
}

// Get decodes the named entry into out when it is younger than ttlHours.
// Any failure to read or decode the entry counts as a miss.
func (c *Cache) Get(ctx context.Context, name string, ttlHours float64, out any) bool {
	record, err := c.backend.Load(ctx, name)
	if errors.Is(err, ErrMissing) {
		c.miss(name, "absent")
		return false
	}
	if err != nil {
		c.tel.ReportWarning(report_cache_get, err, name)
		c.miss(name, "unreadable")
		return false
	}

	meta := c.metadata(record)
	if !meta.Fresh(ttlHours) {
		c.tel.ReportDebug("cache expired", name, meta.Age.String(), ttlHours)
		c.miss(name, "expired")
		return false
	}

	err = json.Unmarshal(record.Data, out)
	if err != nil {
		c.tel.ReportWarning(report_cache_get, fmt.Errorf("decode: %w", err), name)
		c.miss(name, "corrupt")
		return false
	}

	c.tel.ReportDebug("cache hit", name, meta.Age.Round(time.Second).String(), ttlHours)
	cacheHitsTotal.WithLabelValues(metricName(name)).Inc()
	return true
}

func (c *Cache) miss(name, reason string) {
	cacheMissesTotal.WithLabelValues(metricName(name), reason).Inc()
}

func (c *Cache) metadata(record Record) Metadata {
	return Metadata{
		Name:      record.Name,
		Timestamp: record.Timestamp,
		TtlHours:  record.TtlHours,
		Age:       c.clock.Now().Sub(record.Timestamp),
		Size:      len(record.Data),
	}
}

// Metadata reports the age of an entry regardless of whether it is fresh.
func (c *Cache) Metadata(ctx context.Context, name string) (Metadata, bool) {
	record, err := c.backend.Load(ctx, name)
	if err != nil {
		return Metadata{}, false
	}
	return c.metadata(record), true
}

// Entries lists the metadata of every stored entry, fresh or not.
func (c *Cache) Entries(ctx context.Context) ([]Metadata, error) {
	names, err := c.backend.Names(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Metadata, 0, len(names))
	for _, name := range names {
		meta, ok := c.Metadata(ctx, name)
		if !ok {
			continue
		}
		out = append(out, meta)
	}
	return out, nil
}

// Invalidate deletes the named entry, deleting an absent entry is not an error.
func (c *Cache) Invalidate(ctx context.Context, name string) error {
	unlock := c.lock(name)
	defer unlock()

	err := c.backend.Delete(ctx, name)
	if err != nil {
		c.tel.ReportBroken(report_cache_invalidate, err, name)
		return err
	}
	cacheInvalidationsTotal.WithLabelValues(metricName(name)).Inc()
	return nil
}

// Clear deletes every entry. It waits for writes in progress and makes
// every generation taken before it stale.
func (c *Cache) Clear(ctx context.Context) error {
	c.locksMu.Lock()
	defer c.locksMu.Unlock()

	// lock() only needs locksMu to look up the mutex, so a writer holding a
	// name lock can always finish.
	for _, mu := range c.locks {
		mu.Lock()
		defer mu.Unlock()
	}
	c.generation.Add(1)

	err := c.backend.DeleteAll(ctx)
	if err != nil {
		c.tel.ReportBroken(report_cache_invalidate, err, "*")
		return err
	}
	return nil
}
