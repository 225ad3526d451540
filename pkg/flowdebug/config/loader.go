package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Sections lists the top-level keys a flowdebug config document may carry.
var Sections = []string{
	"executor",
	"flows",
	"log",
	"metrics",
	"server",
	"service",
	"sessions",
	"tracing",
}

// Parse decodes a config document. format is "json" or "yaml"; empty
// means yaml, which also accepts JSON. An empty document yields an empty
// Config. Unknown top-level sections are rejected so a misspelled section
// does not silently fall back to defaults.
func Parse(data []byte, format string) (Config, error) {
	var m map[string]any
	switch strings.ToLower(format) {
	case "json":
		if len(bytes.TrimSpace(data)) == 0 {
			return New(nil), nil
		}
		if err := json.Unmarshal(data, &m); err != nil {
			return Config{}, fmt.Errorf("parse config: %w", err)
		}
	case "", "yaml", "yml":
		if err := yaml.Unmarshal(data, &m); err != nil {
			return Config{}, fmt.Errorf("parse config: %w", err)
		}
	default:
		return Config{}, fmt.Errorf("parse config: unsupported format %q", format)
	}

	var unknown []string
	for key := range m {
		if !slices.Contains(Sections, key) {
			unknown = append(unknown, key)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return Config{}, fmt.Errorf("parse config: unknown section(s) %s", strings.Join(unknown, ", "))
	}
	return New(m), nil
}

// FromFile reads a config document from a .yaml, .yml or .json file.
// Files without an extension are read as yaml.
func FromFile(path string) (Config, error) {
	var format string
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case "", ".yaml", ".yml":
		format = "yaml"
	case ".json":
		format = "json"
	default:
		return Config{}, fmt.Errorf("%s: unsupported config file extension %q", path, ext)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("config file %s does not exist", path)
		}
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	cfg, err := Parse(data, format)
	if err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}
