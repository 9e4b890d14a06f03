package store

import (
	"fmt"
	"os"
	"path/filepath"
)

const (
	DefaultDBFile = "LibraryCashier.db"
)

// CheckExists verifies if the datastore exists in the given directory.
// Returns true if the store exists, false otherwise.
func CheckExists(storePath string) (bool, error) {
	dbPath := GetDBPath(storePath)
	info, err := os.Stat(dbPath)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to check store existence: %w", err)
	}
	if info.IsDir() {
		return false, fmt.Errorf("datastore path is a directory, expected file: %s", dbPath)
	}
	return true, nil
}

// CheckDir verifies that the directory holding the database file is usable.
func CheckDir(dbPath string) error {
	dir := filepath.Dir(dbPath)
	info, err := os.Stat(dir)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrUnavailable, dir, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: %s is not a directory", ErrUnavailable, dir)
	}
	return nil
}

// GetStorePath returns the path to the datastore directory.
// An empty configured path means the current working directory.
func GetStorePath(configured string) string {
	if configured == "" {
		return "."
	}
	return configured
}

// GetDBPath returns the full path to the database file.
func GetDBPath(storePath string) string {
	return filepath.Join(storePath, DefaultDBFile)
}
