// Package snapshot persists corpus documents as indented JSON files. Every
// save keeps the previous file as a timestamped backup next to it.
package snapshot

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

// BackupLayout is the time format of the backup suffix.
const BackupLayout = "20060102_150405"

// BackupPath returns where Save moves the previous snapshot at now.
func BackupPath(path string, now time.Time) string {
	return path + ".backup_" + now.Format(BackupLayout)
}

// Load decodes the snapshot at path into v. It reports false with a nil
// error when no snapshot exists yet.
func Load(path string, v any) (bool, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("snapshot: read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("snapshot: decode %s: %w", path, err)
	}
	return true, nil
}

// Save writes v to path. The new content goes to a temporary file in the
// same directory first; the previous snapshot, if any, is then renamed to
// its backup path and the temporary file renamed over path. It returns the
// backup path, or "" on a first save. A failed write leaves the previous
// snapshot in place.
func Save(path string, v any, now time.Time) (string, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", fmt.Errorf("snapshot: encode: %w", err)
	}
	data = append(data, '\n')

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("snapshot: mkdir %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return "", fmt.Errorf("snapshot: create temp: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		cleanup()
		return "", fmt.Errorf("snapshot: write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		cleanup()
		return "", fmt.Errorf("snapshot: sync temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return "", fmt.Errorf("snapshot: close temp: %w", err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		cleanup()
		return "", fmt.Errorf("snapshot: chmod temp: %w", err)
	}

	backup := ""
	if _, err := os.Stat(path); err == nil {
		backup = BackupPath(path, now)
		if err := os.Rename(path, backup); err != nil {
			cleanup()
			return "", fmt.Errorf("snapshot: backup %s: %w", path, err)
		}
	} else if !errors.Is(err, fs.ErrNotExist) {
		cleanup()
		return "", fmt.Errorf("snapshot: stat %s: %w", path, err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		if backup != "" {
			_ = os.Rename(backup, path)
		}
		cleanup()
		return "", fmt.Errorf("snapshot: replace %s: %w", path, err)
	}
	return backup, nil
}

// Backups lists the backup files of path, oldest first.
func Backups(path string) ([]string, error) {
	matches, err := filepath.Glob(path + ".backup_*")
	if err != nil {
		return nil, fmt.Errorf("snapshot: list backups: %w", err)
	}
	return matches, nil
}
