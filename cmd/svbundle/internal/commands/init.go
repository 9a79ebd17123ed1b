package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/wolfeidau/svbundle/internal/descriptor"
)

// ErrDescriptorExists is returned when init would overwrite a file.
var ErrDescriptorExists = errors.New("descriptor already exists")

// InitCmd writes the glTF Sample Viewer descriptor as a starting point.
type InitCmd struct {
	Output string `arg:"" optional:"" help:"File to write, YAML unless it ends in .json." default:"svbundle.yaml"`
	Force  bool   `help:"Overwrite an existing file."`
}

func (c *InitCmd) Run(ctx context.Context, globals *Globals) error {
	log, shutdown := globals.setup(ctx)
	defer shutdown()

	if _, err := os.Stat(c.Output); err == nil && !c.Force {
		return fmt.Errorf("%w: %s (use --force to overwrite)", ErrDescriptorExists, c.Output)
	}

	data, err := encodeDescriptor(descriptor.SampleViewer(), c.Output)
	if err != nil {
		return fmt.Errorf("failed to encode descriptor: %w", err)
	}

	if dir := filepath.Dir(c.Output); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}
	}

	if err := os.WriteFile(c.Output, data, 0o644); err != nil {
		return fmt.Errorf("failed to write descriptor: %w", err)
	}

	log.Info().Str("file", c.Output).Msg("Wrote descriptor")

	return nil
}

func encodeDescriptor(d *descriptor.Descriptor, path string) ([]byte, error) {
	if !strings.HasSuffix(strings.ToLower(path), ".json") {
		return d.Marshal()
	}

	data, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}
