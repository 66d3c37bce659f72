// Package storage keeps the small on-disk status artifact a run leaves behind.
package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	json "github.com/goccy/go-json"
)

// StatusLayout is how the completion time is rendered inside the JSON string,
// e.g. "2024-03-01 at 02:03:04 UTC".
const StatusLayout = "2006-01-02 at 15:04:05 UTC"

// WriteCompletion records t (converted to UTC) as a JSON string in path. The file
// is written next to its destination and renamed into place, so readers never see
// a partial timestamp.
func WriteCompletion(path string, t time.Time) error {
	data, err := json.Marshal(t.UTC().Format(StatusLayout))
	if err != nil {
		return fmt.Errorf("failed to encode completion time: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write %s: %w", tmpPath, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", tmpPath, err)
	}
	if err := os.Chmod(tmpPath, 0644); err != nil {
		return fmt.Errorf("failed to chmod %s: %w", tmpPath, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("failed to move status file into place: %w", err)
	}
	return nil
}

// ReadCompletion returns the time recorded by WriteCompletion.
func ReadCompletion(path string) (time.Time, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return time.Time{}, err
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return time.Time{}, fmt.Errorf("failed to decode %s: %w", path, err)
	}
	t, err := time.Parse(StatusLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse completion time %q: %w", s, err)
	}
	return t, nil
}
