package index

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// fileState records what the index last saw for one note.
type fileState struct {
	MTime int64 `json:"mtime"`
	Count int   `json:"count"`
}

// indexState maps note source paths to their indexed state. It lets a
// rebuild touch only notes that changed since the last run.
type indexState struct {
	Files map[string]fileState `json:"files"`
}

func loadState(path string) indexState {
	raw, err := os.ReadFile(path)
	if err != nil {
		return indexState{Files: map[string]fileState{}}
	}
	var st indexState
	if err := json.Unmarshal(raw, &st); err != nil || st.Files == nil {
		return indexState{Files: map[string]fileState{}}
	}
	return st
}

// saveState writes atomically via a temp file rename so a crash never
// leaves a truncated state on disk.
func saveState(path string, st indexState) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating state dir: %w", err)
	}
	raw, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("encoding state: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("writing state: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replacing state: %w", err)
	}
	return nil
}

func mtimeOf(path string) (int64, bool) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, false
	}
	return info.ModTime().UnixNano(), true
}
