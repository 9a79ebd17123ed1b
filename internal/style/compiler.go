// Package style compiles Sass and SCSS stylesheets to CSS.
package style

import (
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/bep/godartsass/v2"
	"github.com/rs/zerolog/log"
)

// Compiler turns a stylesheet into CSS.
type Compiler interface {
	Compile(path, source string) (string, error)
	Close() error
}

// Options configures the Dart Sass compiler.
type Options struct {
	// Binary is the Dart Sass executable. When empty "sass" is looked up in $PATH.
	Binary       string
	IncludePaths []string
	// OutputStyle is "expanded" (default) or "compressed".
	OutputStyle string
	Timeout     time.Duration
}

// NeedsCompile reports whether a stylesheet has to go through Sass. Plain CSS
// is handed to the bundler untouched.
func NeedsCompile(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".scss", ".sass":
		return true
	}
	return false
}

// DartSass compiles through the embedded Dart Sass protocol. The Dart Sass
// process is started on the first Compile so builds without stylesheets never
// need the binary.
type DartSass struct {
	opts Options

	mu         sync.Mutex
	transpiler *godartsass.Transpiler
}

// NewDartSass creates a compiler; nothing is started until Compile is called.
func NewDartSass(opts Options) *DartSass {
	return &DartSass{opts: opts}
}

func (d *DartSass) Compile(path, source string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.transpiler == nil {
		t, err := godartsass.Start(godartsass.Options{
			DartSassEmbeddedFilename: d.opts.Binary,
			Timeout:                  d.opts.Timeout,
			LogEventHandler: func(e godartsass.LogEvent) {
				log.Warn().Int("type", int(e.Type)).Str("message", e.Message).Msg("Sass log event")
			},
		})
		if err != nil {
			return "", fmt.Errorf("failed to start dart sass: %w", err)
		}
		d.transpiler = t
	}

	syntax := godartsass.SourceSyntaxSCSS
	if strings.EqualFold(filepath.Ext(path), ".sass") {
		syntax = godartsass.SourceSyntaxSASS
	}

	includePaths := append([]string{filepath.Dir(path)}, d.opts.IncludePaths...)

	res, err := d.transpiler.Execute(godartsass.Args{
		Source:       source,
		URL:          (&url.URL{Scheme: "file", Path: filepath.ToSlash(path)}).String(),
		SourceSyntax: syntax,
		OutputStyle:  godartsass.ParseOutputStyle(d.opts.OutputStyle),
		IncludePaths: includePaths,
	})
	if err != nil {
		return "", fmt.Errorf("failed to compile %s: %w", path, err)
	}

	return res.CSS, nil
}

// Close stops the Dart Sass process if it was started.
func (d *DartSass) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.transpiler == nil {
		return nil
	}
	err := d.transpiler.Close()
	d.transpiler = nil
	return err
}
