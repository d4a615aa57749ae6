// Package export serializes session artifacts to disk.
package export

import (
	"fmt"
	"os"
	"path/filepath"

	jsoniter "github.com/json-iterator/go"

	"github.com/xkilldash9x/webtrace-cli/api/schemas"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// WriteFile writes the exported session as indented JSON. The write goes
// through a temp file in the same directory so a crash never leaves a
// truncated artifact behind.
func WriteFile(path string, export *schemas.ExportedSession) error {
	data, err := json.MarshalIndent(export, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode session export: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create export directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".webtrace-export-*.json")
	if err != nil {
		return fmt.Errorf("failed to create export temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write session export: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to flush session export: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to finalize session export: %w", err)
	}
	return nil
}

// ReadFile loads a previously written session export.
func ReadFile(path string) (*schemas.ExportedSession, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read session export: %w", err)
	}
	var export schemas.ExportedSession
	if err := json.Unmarshal(data, &export); err != nil {
		return nil, fmt.Errorf("failed to decode session export: %w", err)
	}
	return &export, nil
}
