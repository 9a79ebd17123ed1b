package assets

import (
	"github.com/wolfeidau/svbundle/internal/style"
)

// Config tunes a pipeline beyond what the descriptor declares.
type Config struct {
	// OutputDir, when set, redirects the bundle and its siblings into this
	// directory instead of the directory named by the descriptor.
	OutputDir string
	// SkipCopy leaves the copy directive out of the build.
	SkipCopy bool
	// TolerateMissing downgrades every missing copy source to a warning.
	TolerateMissing bool
	// Minify enables esbuild whitespace, identifier and syntax minification.
	Minify bool
	// Styles overrides the stylesheet compiler. When nil a Dart Sass compiler
	// is created from the styles directive.
	Styles style.Compiler
}

// DefaultConfig returns the configuration used by `svbundle build`.
func DefaultConfig() Config {
	return Config{}
}
