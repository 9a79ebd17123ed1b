package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"
	"github.com/wolfeidau/svbundle/internal/assets"
	"github.com/wolfeidau/svbundle/internal/descriptor"
)

// ErrNondeterministic means two builds of the same sources differ.
var ErrNondeterministic = errors.New("bundle output is not deterministic")

// VerifyCmd builds the bundle twice and checks the outputs are identical.
type VerifyCmd struct {
	DescriptorFlags `embed:""`

	Keep bool `help:"Keep the temporary build directories."`
}

func (c *VerifyCmd) Run(ctx context.Context, globals *Globals) error {
	log, shutdown := globals.setup(ctx)
	defer shutdown()

	d, err := c.load(log)
	if err != nil {
		return err
	}

	return c.verify(ctx, log, d)
}

func (c *VerifyCmd) verify(ctx context.Context, log zerolog.Logger, d *descriptor.Descriptor) error {
	base, err := os.MkdirTemp("", "svbundle-verify-")
	if err != nil {
		return fmt.Errorf("failed to create verify directory: %w", err)
	}
	if c.Keep {
		log.Info().Str("dir", base).Msg("Keeping build directories")
	} else {
		defer os.RemoveAll(base)
	}

	// both runs sit at the same depth so source map paths are comparable
	var manifests [2]*assets.Manifest
	for i := range manifests {
		m, err := c.run(ctx, d, filepath.Join(base, fmt.Sprintf("run%d", i)))
		if err != nil {
			return err
		}
		manifests[i] = m
	}

	if diff := cmp.Diff(manifests[0], manifests[1]); diff != "" {
		return fmt.Errorf("%w (-first +second):\n%s", ErrNondeterministic, diff)
	}

	log.Info().Int("files", len(manifests[0].Files)).Msg("Builds are identical")

	return nil
}

// run builds into dir and returns the manifest. When the descriptor asks for
// one on disk it is read back, so the written file is what gets compared.
func (c *VerifyCmd) run(ctx context.Context, d *descriptor.Descriptor, dir string) (*assets.Manifest, error) {
	p, err := assets.New(d, assets.Config{
		OutputDir:       dir,
		SkipCopy:        true,
		TolerateMissing: c.TolerateMissing,
		Minify:          c.Minify,
	})
	if err != nil {
		return nil, err
	}
	defer p.Close()

	report, err := p.Build(ctx)
	if err != nil {
		return nil, err
	}

	if name := d.Output.Manifest; name != "" {
		return assets.ReadManifest(filepath.Join(filepath.Dir(p.OutputPath()), name))
	}

	return report.Manifest, nil
}
