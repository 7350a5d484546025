package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/holiman/uint256"

	"claimCurve/internal/config"
	"claimCurve/internal/fixedpoint"
	"claimCurve/internal/pool"
	"claimCurve/internal/storage/postgres"
)

// stateStore reads and writes engine state to a JSON file, Postgres, or both.
// Reads use Postgres when a pool id is given.
type stateStore struct {
	file   string
	poolID string
	pg     *postgres.Store
}

func openStateStore(ctx context.Context, cfg config.StateConfig) (*stateStore, error) {
	s := &stateStore{file: cfg.StateFile, poolID: cfg.PoolID}
	if cfg.PGDSN != "" {
		store, err := postgres.NewStore(ctx, cfg.PGDSN)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		if err := store.EnsureSchema(ctx); err != nil {
			store.Close()
			return nil, fmt.Errorf("ensure schema: %w", err)
		}
		s.pg = store
	}
	if s.file == "" && s.pg == nil {
		return nil, fmt.Errorf("state file or pg dsn is required")
	}
	return s, nil
}

func (s *stateStore) Close() {
	if s.pg != nil {
		s.pg.Close()
	}
}

func (s *stateStore) load(ctx context.Context) (pool.State, error) {
	var data []byte
	switch {
	case s.pg != nil && s.poolID != "":
		raw, ok, err := s.pg.LoadEngineState(ctx, s.poolID)
		if err != nil {
			return pool.State{}, fmt.Errorf("load engine state: %w", err)
		}
		if !ok {
			return pool.State{}, fmt.Errorf("no engine state for pool %s", s.poolID)
		}
		data = raw
	case s.file != "":
		raw, err := os.ReadFile(s.file)
		if err != nil {
			return pool.State{}, fmt.Errorf("read state: %w", err)
		}
		data = raw
	default:
		return pool.State{}, fmt.Errorf("pool id is required to load state from postgres")
	}

	var st pool.State
	if err := json.Unmarshal(data, &st); err != nil {
		return pool.State{}, fmt.Errorf("parse state: %w", err)
	}
	return st, nil
}

func (s *stateStore) save(ctx context.Context, st pool.State) error {
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	if s.file != "" {
		if err := writeFileAtomic(s.file, data); err != nil {
			return err
		}
	}
	if s.pg != nil {
		if err := s.pg.SaveEngineState(ctx, st.Params.ID(), data); err != nil {
			return fmt.Errorf("save engine state: %w", err)
		}
	}
	return nil
}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create state dir: %w", err)
		}
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write state tmp: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename state: %w", err)
	}
	return nil
}

// timestampOr parses input, falling back to the wall clock when it is empty.
func timestampOr(input string) (uint64, error) {
	ts, err := config.ParseTimestamp(input)
	if err != nil {
		return 0, err
	}
	if ts == 0 {
		ts = uint64(time.Now().Unix())
	}
	return ts, nil
}

// parseWad parses a required human decimal.
func parseWad(name, input string) (*uint256.Int, error) {
	if input == "" {
		return nil, fmt.Errorf("%s is required", name)
	}
	v, err := fixedpoint.ParseWad(input)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", name, err)
	}
	return v, nil
}

// parseWadOptional returns nil for an empty input.
func parseWadOptional(name, input string) (*uint256.Int, error) {
	if input == "" {
		return nil, nil
	}
	return parseWad(name, input)
}

// parseNative parses a human decimal into native token units, rounding down.
func parseNative(name, input string, decimals uint8) (*uint256.Int, error) {
	wad, err := parseWad(name, input)
	if err != nil {
		return nil, err
	}
	return fixedpoint.DownscaleDown(wad, decimals)
}
