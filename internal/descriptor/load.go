package descriptor

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultFile is the descriptor file looked up when none is given.
const DefaultFile = "svbundle.yaml"

// Load reads a descriptor file. Files ending in .json are parsed as JSON,
// everything else as YAML. Root is set to the directory holding the file.
func Load(path string) (*Descriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read descriptor: %w", err)
	}

	format := "yaml"
	if strings.HasSuffix(strings.ToLower(path), ".json") {
		format = "json"
	}

	d, err := Parse(data, format)
	if err != nil {
		return nil, fmt.Errorf("failed to parse descriptor %s: %w", path, err)
	}

	root, err := filepath.Abs(filepath.Dir(path))
	if err != nil {
		return nil, fmt.Errorf("failed to resolve descriptor root: %w", err)
	}
	d.Root = root

	return d, nil
}

// Parse decodes a descriptor from YAML or JSON. Unknown fields are rejected so
// typos in option names fail loudly instead of being ignored.
func Parse(data []byte, format string) (*Descriptor, error) {
	var d Descriptor

	switch format {
	case "json":
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&d); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidDescriptor, err)
		}
	case "yaml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&d); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidDescriptor, err)
		}
	default:
		return nil, fmt.Errorf("%w: unsupported descriptor format %q", ErrInvalidDescriptor, format)
	}

	return &d, nil
}

// Marshal encodes the descriptor as YAML.
func (d *Descriptor) Marshal() ([]byte, error) {
	buf := new(bytes.Buffer)
	enc := yaml.NewEncoder(buf)
	enc.SetIndent(2)
	if err := enc.Encode(d); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
