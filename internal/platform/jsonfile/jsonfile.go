// Package jsonfile reads and atomically writes the JSON state files kept next
// to the migration: the run log, the execution ledger, and the roster files.
package jsonfile

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	json "github.com/goccy/go-json"
)

const backupLayout = "20060102150405"

// Read decodes the file at path into v. Numbers are decoded as json.Number
// when v holds interface values. A missing file yields an error that matches
// os.ErrNotExist.
func Read(path string, v any) error {
	data, err := os.ReadFile(path) //nolint:gosec // operator-configured path
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

// Write encodes v as indented JSON into a temp file in the same directory and
// renames it over path, so readers never observe a partial file.
func Write(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}
	data = append(data, '\n')

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file for %s: %w", path, err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write temp file for %s: %w", path, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("sync temp file for %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close temp file for %s: %w", path, err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename temp file to %s: %w", path, err)
	}
	return nil
}

// BackupName returns the timestamped sibling of path, e.g.
// results.json -> results_backup_20240101120000.json.
func BackupName(path string, now time.Time) string {
	ext := filepath.Ext(path)
	base := strings.TrimSuffix(path, ext)
	return fmt.Sprintf("%s_backup_%s%s", base, now.Format(backupLayout), ext)
}

// Backup copies path to its timestamped backup name and returns that name.
// It returns "" without error when path does not exist.
func Backup(path string, now time.Time) (string, error) {
	data, err := os.ReadFile(path) //nolint:gosec // operator-configured path
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read %s for backup: %w", path, err)
	}

	dst := BackupName(path, now)
	if err := os.WriteFile(dst, data, 0o600); err != nil {
		return "", fmt.Errorf("write backup %s: %w", dst, err)
	}
	return dst, nil
}

// Rotate moves path to its timestamped backup name so the next run starts
// from an empty file. It returns "" without error when path does not exist.
func Rotate(path string, now time.Time) (string, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return "", nil
	}

	dst := BackupName(path, now)
	if err := os.Rename(path, dst); err != nil {
		return "", fmt.Errorf("rotate %s: %w", path, err)
	}
	return dst, nil
}
