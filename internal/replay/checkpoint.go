package replay

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// ErrForeignCheckpoint is returned when the checkpoint file was written by a
// different scenario.
var ErrForeignCheckpoint = errors.New("replay: checkpoint belongs to another scenario")

// Checkpoint tracks the last journaled step of a scenario.
type Checkpoint struct {
	ScenarioID        string `json:"scenario_id"`
	LastProcessedStep uint64 `json:"last_processed_step"`
	UpdatedAt         string `json:"updated_at"`
}

// CheckpointStore keeps one scenario's progress in a JSON file. A disabled
// store loads nothing and drops saves.
type CheckpointStore struct {
	path    string
	enabled bool
	now     func() time.Time
}

func NewCheckpointStore(path string, enabled bool) *CheckpointStore {
	return &CheckpointStore{path: path, enabled: enabled && path != "", now: time.Now}
}

// Read returns the stored checkpoint whatever scenario wrote it.
func (c *CheckpointStore) Read() (Checkpoint, bool, error) {
	if !c.enabled {
		return Checkpoint{}, false, nil
	}
	data, err := os.ReadFile(c.path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return Checkpoint{}, false, nil
	case err != nil:
		return Checkpoint{}, false, fmt.Errorf("read checkpoint %s: %w", c.path, err)
	}
	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return Checkpoint{}, false, fmt.Errorf("parse checkpoint %s: %w", c.path, err)
	}
	return cp, true, nil
}

// Load returns the last processed step of scenarioID. A checkpoint from another
// scenario, or one past the scenario's last step, is an error rather than a
// fresh start.
func (c *CheckpointStore) Load(scenarioID string, steps uint64) (uint64, bool, error) {
	cp, ok, err := c.Read()
	if err != nil || !ok {
		return 0, false, err
	}
	if cp.ScenarioID != scenarioID {
		return 0, false, fmt.Errorf("%w: %s holds %s, replaying %s", ErrForeignCheckpoint, c.path, cp.ScenarioID, scenarioID)
	}
	if cp.LastProcessedStep > steps {
		return 0, false, fmt.Errorf("checkpoint at step %d but scenario %s has %d steps", cp.LastProcessedStep, scenarioID, steps)
	}
	return cp.LastProcessedStep, true, nil
}

// Save records lastProcessed for scenarioID, replacing the file atomically.
func (c *CheckpointStore) Save(scenarioID string, lastProcessed uint64) error {
	if !c.enabled {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(c.path), 0o755); err != nil {
		return fmt.Errorf("create checkpoint dir: %w", err)
	}
	data, err := json.Marshal(Checkpoint{
		ScenarioID:        scenarioID,
		LastProcessedStep: lastProcessed,
		UpdatedAt:         c.now().UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(c.path), filepath.Base(c.path)+".*")
	if err != nil {
		return fmt.Errorf("create checkpoint tmp: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write checkpoint tmp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close checkpoint tmp: %w", err)
	}
	if err := os.Rename(tmp.Name(), c.path); err != nil {
		return fmt.Errorf("rename checkpoint: %w", err)
	}
	return nil
}
