package commands

import (
	"context"

	"github.com/wolfeidau/svbundle/internal/assets"
)

// BuildCmd runs a single build.
type BuildCmd struct {
	DescriptorFlags `embed:""`

	SkipCopy bool `help:"Do not copy static assets." env:"SVBUNDLE_SKIP_COPY"`
}

func (c *BuildCmd) Run(ctx context.Context, globals *Globals) error {
	log, shutdown := globals.setup(ctx)
	defer shutdown()

	p, err := c.pipeline(log, assets.Config{SkipCopy: c.SkipCopy})
	if err != nil {
		return err
	}
	defer p.Close()

	report, err := p.Build(ctx)
	if err != nil {
		return err
	}

	ev := log.Info().
		Str("bundle", p.OutputPath()).
		Int("files", len(report.Artifacts)).
		Int("warnings", len(report.Warnings))
	if report.Copy != nil {
		ev = ev.Int("copied", report.Copy.Copied).Int("skipped", report.Copy.Skipped)
	}
	ev.Msg("Bundle ready")

	return nil
}
