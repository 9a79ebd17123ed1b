package commands

import (
	"context"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/wolfeidau/svbundle/internal/assets"
	"github.com/wolfeidau/svbundle/internal/telemetry"
	"github.com/wolfeidau/svbundle/internal/watch"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// WatchCmd builds once and rebuilds whenever a source file changes.
type WatchCmd struct {
	DescriptorFlags `embed:""`

	Debounce time.Duration `help:"Quiet period before a rebuild starts." default:"300ms" env:"SVBUNDLE_DEBOUNCE"`
	Ignore   []string      `help:"Extra doublestar patterns to ignore, relative to each watched root." env:"SVBUNDLE_IGNORE"`
}

func (c *WatchCmd) Run(ctx context.Context, globals *Globals) error {
	log, shutdown := globals.setup(ctx)
	defer shutdown()

	p, err := c.pipeline(log, assets.DefaultConfig())
	if err != nil {
		return err
	}
	defer p.Close()

	w, err := newRebuilder(ctx, log, p, c.Debounce, c.Ignore)
	if err != nil {
		return err
	}

	log.Info().Msg("Watching for changes, press Ctrl+C to stop")

	return w.Run(ctx)
}

// newRebuilder runs the initial build and returns a watcher that rebuilds p
// on change. A failing initial build is logged so that fixing the source
// recovers without restarting.
func newRebuilder(ctx context.Context, log zerolog.Logger, p *assets.Pipeline, debounce time.Duration, ignore []string) (*watch.Watcher, error) {
	if _, err := p.Build(ctx); err != nil {
		log.Error().Err(err).Msg("Initial build failed")
	}

	d := p.Descriptor()

	var exclude []string
	if out := filepath.Dir(p.OutputPath()); out != d.Root {
		exclude = append(exclude, out)
	}

	return watch.New(watch.Config{
		Roots:    watchRoots(d),
		Ignore:   ignore,
		Exclude:  exclude,
		Debounce: debounce,
		OnChange: rebuild(log, p),
	})
}

// rebuild returns the change handler: it drops changes no build depends on
// and rebuilds when any remain.
func rebuild(log zerolog.Logger, p *assets.Pipeline) func(context.Context, []string) error {
	format := p.Descriptor().Output.Format

	return func(ctx context.Context, changed []string) error {
		changed = p.Relevant(changed)
		if len(changed) == 0 {
			log.Debug().Msg("No build input changed, skipping rebuild")
			return nil
		}

		telemetry.GetMetrics().RebuildsTriggered.Add(ctx, 1,
			metric.WithAttributes(attribute.String("format", format)))

		log.Info().Int("changed", len(changed)).Str("first", changed[0]).Msg("Rebuilding")

		_, err := p.Build(ctx)
		return err
	}
}
