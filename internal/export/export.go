// Package export writes and reads analytics exports as JSON or YAML.
package export

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/cptspacemanspiff/battery-monitor/internal/storage"
)

type Format string

const (
	JSON Format = "json"
	YAML Format = "yaml"
)

// ParseFormat accepts json, yaml or yml in any case.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "json":
		return JSON, nil
	case "yaml", "yml":
		return YAML, nil
	}
	return "", fmt.Errorf("unknown export format %q (want json or yaml)", s)
}

// FormatFromPath picks YAML for .yaml/.yml files and JSON otherwise.
func FormatFromPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return YAML
	}
	return JSON
}

// Encode writes v to w, indented by two spaces.
func Encode(w io.Writer, v any, f Format) error {
	switch f {
	case JSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case YAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	}
	return fmt.Errorf("unknown export format %q", f)
}

// Decode reads an export written by Encode.
func Decode(r io.Reader, f Format) (*storage.Export, error) {
	var exp storage.Export
	var err error
	switch f {
	case JSON:
		err = json.NewDecoder(r).Decode(&exp)
	case YAML:
		err = yaml.NewDecoder(r).Decode(&exp)
	default:
		return nil, fmt.Errorf("unknown export format %q", f)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s export: %w", f, err)
	}
	return &exp, nil
}

// WriteFile encodes exp to path, replacing any existing file atomically.
func WriteFile(path string, exp *storage.Export, f Format) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create export directory: %w", err)
	}

	tmpFile, err := os.CreateTemp(dir, ".export-*")
	if err != nil {
		return fmt.Errorf("create temp export file: %w", err)
	}
	tmpPath := tmpFile.Name()
	defer func() {
		if tmpPath != "" {
			_ = os.Remove(tmpPath)
		}
	}()

	if err := Encode(tmpFile, exp, f); err != nil {
		_ = tmpFile.Close()
		return fmt.Errorf("encode export: %w", err)
	}
	if err := tmpFile.Chmod(0o644); err != nil {
		_ = tmpFile.Close()
		return fmt.Errorf("chmod temp export file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("close temp export file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("replace export file: %w", err)
	}
	tmpPath = ""
	return nil
}
