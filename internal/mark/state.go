package mark

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// StateStore persists the last aggregated trade timestamp.
type StateStore interface {
	Load(ctx context.Context) (uint64, bool, error)
	Save(ctx context.Context, ts uint64) error
}

// ProgressStore keeps progress timestamps under names, one per aggregation
// window. The Postgres store and ProgressFile implement it.
type ProgressStore interface {
	LoadState(ctx context.Context, name string) (uint64, bool, error)
	SaveState(ctx context.Context, name string, ts uint64) error
}

// NamedState is the StateStore for one name of a ProgressStore.
type NamedState struct {
	Store ProgressStore
	Name  string
}

func (s *NamedState) Load(ctx context.Context) (uint64, bool, error) {
	if s == nil || s.Store == nil {
		return 0, false, nil
	}
	return s.Store.LoadState(ctx, s.Name)
}

func (s *NamedState) Save(ctx context.Context, ts uint64) error {
	if s == nil || s.Store == nil {
		return nil
	}
	return s.Store.SaveState(ctx, s.Name, ts)
}

// ProgressFile keeps every named entry in a single local JSON file.
type ProgressFile struct {
	Path string
	mu   sync.Mutex
}

type progressEntry struct {
	LastProcessed uint64 `json:"last_processed_ts"`
	UpdatedAt     string `json:"updated_at"`
}

func (f *ProgressFile) read() (map[string]progressEntry, error) {
	entries := make(map[string]progressEntry)
	data, err := os.ReadFile(f.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return entries, nil
		}
		return nil, fmt.Errorf("read progress: %w", err)
	}
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parse progress: %w", err)
	}
	return entries, nil
}

func (f *ProgressFile) LoadState(_ context.Context, name string) (uint64, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	entries, err := f.read()
	if err != nil {
		return 0, false, err
	}
	entry, ok := entries[name]
	return entry.LastProcessed, ok, nil
}

func (f *ProgressFile) SaveState(_ context.Context, name string, ts uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	entries, err := f.read()
	if err != nil {
		return err
	}
	entries[name] = progressEntry{
		LastProcessed: ts,
		UpdatedAt:     time.Now().UTC().Format(time.RFC3339Nano),
	}

	dir := filepath.Dir(f.Path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create progress dir: %w", err)
		}
	}
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal progress: %w", err)
	}
	tmp := f.Path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write progress tmp: %w", err)
	}
	if err := os.Rename(tmp, f.Path); err != nil {
		return fmt.Errorf("rename progress: %w", err)
	}
	return nil
}
