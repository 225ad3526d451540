package flowdebug

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// flowFile is the document layout of a flow definition file.
type flowFile struct {
	Flows []*BusinessFlow `json:"flows" yaml:"flows"`
}

// ParseFlows decodes and validates flow definitions. format is "json" or
// "yaml"; empty means yaml, which also accepts JSON.
func ParseFlows(data []byte, format string) ([]*BusinessFlow, error) {
	var doc flowFile
	switch strings.ToLower(format) {
	case "json":
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&doc); err != nil {
			return nil, fmt.Errorf("parse flows: %w", err)
		}
	case "", "yaml", "yml":
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("parse flows: %w", err)
		}
	default:
		return nil, fmt.Errorf("parse flows: unsupported format %q", format)
	}

	var errs []error
	seen := make(map[string]bool, len(doc.Flows))
	for i, f := range doc.Flows {
		if f == nil {
			errs = append(errs, fmt.Errorf("flows[%d]: empty definition", i))
			continue
		}
		if seen[f.Name] {
			errs = append(errs, fmt.Errorf("flows[%d]: duplicate flow name %q", i, f.Name))
			continue
		}
		seen[f.Name] = true
		if err := f.Validate(); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return doc.Flows, nil
}

// LoadFlows reads flow definitions from a .yaml, .yml or .json file.
func LoadFlows(path string) ([]*BusinessFlow, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read flows: %w", err)
	}
	format := "yaml"
	if strings.EqualFold(filepath.Ext(path), ".json") {
		format = "json"
	}
	flows, err := ParseFlows(data, format)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return flows, nil
}
