package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Format is a configuration encoding.
type Format string

// Supported formats.
const (
	YAML Format = "yaml"
	JSON Format = "json"
)

// ErrUnsupportedFormat is returned for files whose extension maps to no Format.
var ErrUnsupportedFormat = errors.New("unsupported config format")

// FormatOf picks the format from the file extension.
func FormatOf(path string) (Format, error) {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		return YAML, nil
	case ".json":
		return JSON, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}
}

// FromFile reads bus settings from path. ${VAR} references in the file are
// expanded from the environment before decoding, so a journal path can be
// written as ${DATA_DIR}/failures.db.
func FromFile(path string) (Config, error) {
	format, err := FormatOf(path)
	if err != nil {
		return Config{}, err
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("load bus settings: %w", err)
	}
	cfg, err := Decode(format, []byte(os.ExpandEnv(string(raw))))
	if err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Decode parses data in the given format. An empty document yields an
// empty Config; a root that is not a mapping is an error.
func Decode(format Format, data []byte) (Config, error) {
	var settings map[string]any
	switch format {
	case YAML:
		if err := yaml.Unmarshal(data, &settings); err != nil {
			return Config{}, fmt.Errorf("decode yaml settings: %w", err)
		}
	case JSON:
		if len(strings.TrimSpace(string(data))) == 0 {
			return New(nil), nil
		}
		if err := json.Unmarshal(data, &settings); err != nil {
			return Config{}, fmt.Errorf("decode json settings: %w", err)
		}
	default:
		return Config{}, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
	return New(settings), nil
}

// FromYAML is Decode(YAML, data).
func FromYAML(data []byte) (Config, error) {
	return Decode(YAML, data)
}

// FromJSON is Decode(JSON, data).
func FromJSON(data []byte) (Config, error) {
	return Decode(JSON, data)
}
