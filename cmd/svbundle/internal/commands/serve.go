package commands

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"path/filepath"
	"time"

	"github.com/rs/cors"
	"github.com/rs/zerolog"
	"github.com/wolfeidau/svbundle/internal/assets"
	svhttp "github.com/wolfeidau/svbundle/internal/http"
)

// ServeCmd serves the output directory for local development, rebuilding on
// change unless --no-watch is given.
type ServeCmd struct {
	DescriptorFlags `embed:""`

	Listen      string        `help:"Address to listen on." default:"127.0.0.1:8080" env:"SVBUNDLE_LISTEN"`
	Dir         string        `help:"Directory to serve (default: the bundle's directory)." env:"SVBUNDLE_SERVE_DIR"`
	Watch       bool          `help:"Rebuild when sources change." default:"true" negatable:"" env:"SVBUNDLE_WATCH"`
	CORSOrigins []string      `help:"Allowed CORS origins." default:"*" env:"SVBUNDLE_CORS_ORIGINS"`
	Debounce    time.Duration `help:"Quiet period before a rebuild starts." default:"300ms" env:"SVBUNDLE_DEBOUNCE"`
}

func (c *ServeCmd) Run(ctx context.Context, globals *Globals) error {
	log, shutdown := globals.setup(ctx)
	defer shutdown()

	p, err := c.pipeline(log, assets.DefaultConfig())
	if err != nil {
		return err
	}
	defer p.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 2)

	if c.Watch {
		w, err := newRebuilder(ctx, log, p, c.Debounce, nil)
		if err != nil {
			return err
		}
		go func() { errCh <- w.Run(ctx) }()
	} else if _, err := p.Build(ctx); err != nil {
		return err
	}

	dir := c.Dir
	if dir == "" {
		dir = filepath.Dir(p.OutputPath())
	}

	srv := configureHTTPServer(c.Listen, c.handler(log, dir))
	srv.BaseContext = func(net.Listener) context.Context { return ctx }

	go func() {
		log.Info().Str("listen", c.Listen).Str("dir", dir).Bool("watch", c.Watch).Msg("Serving bundle")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("failed to serve: %w", err)
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
	case err = <-errCh:
		if err != nil {
			return err
		}
	}

	log.Info().Msg("Shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	return srv.Shutdown(shutdownCtx)
}

func (c *ServeCmd) handler(log zerolog.Logger, dir string) http.Handler {
	h := svhttp.Chain(http.FileServer(http.Dir(dir)), svhttp.RequestLogger(log), svhttp.NoCache())
	return withCORS(h, c.CORSOrigins)
}

func withCORS(h http.Handler, allowedOrigins []string) http.Handler {
	middleware := cors.New(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodHead, http.MethodOptions},
		AllowedHeaders: []string{"Range", "If-None-Match", "If-Modified-Since"},
		ExposedHeaders: []string{"Content-Length", "Content-Range", "ETag"},
	})
	return middleware.Handler(h)
}
