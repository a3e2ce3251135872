package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

const fileSuffix = ".json"

type fileRecord struct {
	Timestamp time.Time       `json:"timestamp"`
	TtlHours  float64         `json:"ttl_hours"`
	Data      json.RawMessage `json:"data"`
}

// DirBackend keeps one json file per entry in a directory.
type DirBackend struct {
	dir string
}

func NewDirBackend(dir string) (DirBackend, error) {
	err := os.MkdirAll(dir, 0o755)
	if err != nil {
		return DirBackend{}, err
	}
	return DirBackend{dir: dir}, nil
}

func (b DirBackend) path(name string) (string, error) {
	if name == "" || strings.ContainsAny(name, `/\`) || strings.HasPrefix(name, ".") {
		return "", fmt.Errorf("invalid cache entry name %q", name)
	}
	return filepath.Join(b.dir, name+fileSuffix), nil
}

func (b DirBackend) Load(_ context.Context, name string) (Record, error) {
	path, err := b.path(name)
	if err != nil {
		return Record{}, err
	}
	contents, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return Record{}, ErrMissing
	}
	if err != nil {
		return Record{}, err
	}

	var stored fileRecord
	err = json.Unmarshal(contents, &stored)
	if err != nil {
		return Record{}, fmt.Errorf("decode %s: %w", path, err)
	}
	return Record{
		Name:      name,
		Timestamp: stored.Timestamp,
		TtlHours:  stored.TtlHours,
		Data:      stored.Data,
	}, nil
}

// Store writes to a temporary file and renames it over the entry, rename
// is atomic within a directory.
func (b DirBackend) Store(_ context.Context, record Record) error {
	path, err := b.path(record.Name)
	if err != nil {
		return err
	}
	encoded, err := json.Marshal(fileRecord{
		Timestamp: record.Timestamp,
		TtlHours:  record.TtlHours,
		Data:      record.Data,
	})
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(b.dir, ".tmp-"+record.Name+"-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	_, err = tmp.Write(encoded)
	if err != nil {
		tmp.Close()
		return err
	}
	err = tmp.Close()
	if err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func (b DirBackend) Delete(_ context.Context, name string) error {
	path, err := b.path(name)
	if err != nil {
		return err
	}
	err = os.Remove(path)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

func (b DirBackend) DeleteAll(ctx context.Context) error {
	names, err := b.Names(ctx)
	if err != nil {
		return err
	}
	for _, name := range names {
		err := b.Delete(ctx, name)
		if err != nil {
			return err
		}
	}
	return nil
}

func (b DirBackend) Names(context.Context) ([]string, error) {
	entries, err := os.ReadDir(b.dir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		name, ok := strings.CutSuffix(e.Name(), fileSuffix)
		if !ok {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}
