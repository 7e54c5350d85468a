package workflow

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/raphaelgruber/storyboard-go/internal/models"
)

const (
	stateFile    = "state.json"
	eventLogFile = "logs.jsonl"
	framesDir    = "frames"
	frameIndex   = "metadata.json"
)

// SaveState writes the run state snapshot atomically into dir.
func SaveState(s *models.RunState, dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create run dir: %w", err)
	}

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	path := filepath.Join(dir, stateFile)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write state: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replace state: %w", err)
	}
	return nil
}

// LoadState reads a previously persisted run state from dir.
func LoadState(dir string) (*models.RunState, error) {
	data, err := os.ReadFile(filepath.Join(dir, stateFile))
	if err != nil {
		return nil, fmt.Errorf("read state: %w", err)
	}
	var s models.RunState
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse state: %w", err)
	}
	return &s, nil
}

// appendEventLog appends one event as a JSON line to the run's log file.
func appendEventLog(dir string, ev models.LogEvent) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(filepath.Join(dir, eventLogFile), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = f.Write(append(data, '\n'))
	return err
}

// appendFrameIndex adds one accepted frame to frames/metadata.json, the
// index browsers and the report read without parsing the full state.
func appendFrameIndex(dir string, frame models.AcceptedFrame) error {
	path := filepath.Join(dir, framesDir, frameIndex)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	var frames []models.AcceptedFrame
	if data, err := os.ReadFile(path); err == nil {
		// A corrupt index is rebuilt from this frame onward.
		_ = json.Unmarshal(data, &frames)
	}
	frames = append(frames, frame)

	data, err := json.MarshalIndent(frames, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
