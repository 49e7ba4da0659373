package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// DefaultLogPath is where Append writes when no path is configured.
const DefaultLogPath = "vramprobe.json"

// Load reads the persisted log. A missing file is an empty log, not an
// error.
func Load(path string) ([]Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading log %s: %w", path, err)
	}
	var recs []Record
	if err := json.Unmarshal(data, &recs); err != nil {
		return nil, fmt.Errorf("parsing log %s: %w", path, err)
	}
	return recs, nil
}

// Append adds records to the log file, preserving existing entries. A
// corrupt existing file is set aside with a timestamped .bak suffix and a
// fresh log started; prior valid entries are never overwritten. The write
// is atomic (temp file, then rename).
func Append(path string, recs []Record) error {
	if path == "" {
		path = DefaultLogPath
	}

	existing, err := Load(path)
	if err != nil {
		bak := fmt.Sprintf("%s.bak-%d", path, time.Now().Unix())
		if renameErr := os.Rename(path, bak); renameErr != nil {
			return fmt.Errorf("log unreadable and could not be set aside: %v (original error: %w)", renameErr, err)
		}
		existing = nil
	}

	all := append(existing, recs...)
	data, err := json.MarshalIndent(all, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding log: %w", err)
	}
	data = append(data, '\n')

	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating log dir: %w", err)
		}
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing log: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replacing log: %w", err)
	}
	return nil
}

// Tail returns the last n records, newest last.
func Tail(recs []Record, n int) []Record {
	if n <= 0 || n >= len(recs) {
		return recs
	}
	return recs[len(recs)-n:]
}
