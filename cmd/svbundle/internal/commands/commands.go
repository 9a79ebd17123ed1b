package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/rs/zerolog"
	"github.com/wolfeidau/svbundle/internal/assets"
	"github.com/wolfeidau/svbundle/internal/descriptor"
	"github.com/wolfeidau/svbundle/internal/logger"
	"github.com/wolfeidau/svbundle/internal/telemetry"
)

type Globals struct {
	Debug   bool
	Tracing bool
	Version string
}

// setup installs the process logger and, with --tracing, the OTLP exporters.
// The returned function flushes telemetry and must be deferred.
func (g *Globals) setup(ctx context.Context) (zerolog.Logger, func()) {
	log := logger.Install(logger.Setup(g.Debug))

	if !g.Tracing {
		return log, func() {}
	}

	log.Info().Msg("Tracing is enabled")
	shutdown, err := telemetry.InitTelemetry(ctx, "svbundle", g.Version)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to initialize telemetry, continuing without metrics")
		return log, func() {}
	}

	return log, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Failed to shutdown telemetry")
		}
	}
}

// DescriptorFlags selects the descriptor and the build options shared by
// every command that runs the pipeline.
type DescriptorFlags struct {
	Config          string `short:"c" help:"Descriptor file (YAML, or JSON with a .json extension). Without it the built-in glTF Sample Viewer descriptor is used." default:"svbundle.yaml" env:"SVBUNDLE_CONFIG"`
	Root            string `help:"Directory the built-in descriptor resolves paths against (default: current directory)." env:"SVBUNDLE_ROOT"`
	Sass            string `help:"Dart Sass binary used for stylesheets." env:"SVBUNDLE_SASS"`
	TolerateMissing bool   `help:"Treat every missing copy source as a warning." env:"SVBUNDLE_TOLERATE_MISSING"`
	Minify          bool   `help:"Minify the bundle." env:"SVBUNDLE_MINIFY"`
}

// load reads the descriptor file. When the default file is absent the
// built-in Sample Viewer descriptor is used instead.
func (f *DescriptorFlags) load(log zerolog.Logger) (*descriptor.Descriptor, error) {
	d, err := descriptor.Load(f.Config)
	switch {
	case err == nil:
		log.Debug().Str("config", f.Config).Str("root", d.Root).Msg("Loaded descriptor")

	case errors.Is(err, os.ErrNotExist) && filepath.Base(f.Config) == descriptor.DefaultFile:
		d = descriptor.SampleViewer()
		d.Root = f.Root
		if d.Root == "" {
			if d.Root, err = os.Getwd(); err != nil {
				return nil, fmt.Errorf("failed to get working directory: %w", err)
			}
		}
		log.Info().Str("root", d.Root).Msg("No descriptor file found, using the glTF Sample Viewer descriptor")

	default:
		return nil, err
	}

	if f.Sass != "" {
		if st := d.Styles(); st != nil {
			st.Compiler = f.Sass
		}
	}

	return d, nil
}

func (f *DescriptorFlags) pipeline(log zerolog.Logger, config assets.Config) (*assets.Pipeline, error) {
	d, err := f.load(log)
	if err != nil {
		return nil, err
	}

	config.TolerateMissing = f.TolerateMissing
	config.Minify = f.Minify

	return assets.New(d, config)
}

// watchRoots returns the directories a rebuild depends on: the descriptor
// root plus the base directories of shader globs and Sass include paths,
// which may live outside it.
func watchRoots(d *descriptor.Descriptor) []string {
	roots := []string{d.Root}

	add := func(dir string) {
		dir = filepath.Clean(dir)
		if _, err := os.Stat(dir); err != nil {
			return
		}
		if !slices.ContainsFunc(roots, func(root string) bool { return within(root, dir) }) {
			roots = append(roots, dir)
		}
	}

	if sh := d.Shaders(); sh != nil {
		for _, pat := range sh.Include {
			base, _ := doublestar.SplitPattern(filepath.ToSlash(d.Path(pat)))
			add(filepath.FromSlash(base))
		}
	}
	if st := d.Styles(); st != nil {
		for _, dir := range st.IncludePaths {
			add(d.Path(dir))
		}
	}

	return roots
}

func within(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	return err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func configureHTTPServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       time.Minute,
		WriteTimeout:      5 * time.Minute,
		IdleTimeout:       5 * time.Minute,
		MaxHeaderBytes:    8 * 1024, // 8KiB
	}
}
