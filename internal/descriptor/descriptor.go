// Package descriptor models the build composition descriptor: the entry point,
// the output target and the ordered list of plugin directives that together
// describe how a web application is bundled.
package descriptor

import (
	"path/filepath"
	"slices"
	"strings"
)

// Output formats supported by the pipeline.
const (
	FormatUMD  = "umd"
	FormatIIFE = "iife"
	FormatESM  = "esm"
	FormatCJS  = "cjs"
)

// Precompression encodings for emitted bundles.
const (
	EncodingGzip = "gzip"
	EncodingZstd = "zstd"
)

// Descriptor is a build composition descriptor. It is read once per build and
// never mutated by the pipeline.
type Descriptor struct {
	// Input is the entry point, relative to Root.
	Input   string      `yaml:"input" json:"input"`
	Output  Output      `yaml:"output" json:"output"`
	Plugins []Directive `yaml:"plugins" json:"plugins"`

	// Root is the directory every relative path is resolved against. Load
	// sets it to the directory holding the descriptor file.
	Root string `yaml:"-" json:"-"`
}

// Output describes the single bundle produced by a build.
type Output struct {
	// Name is the global symbol exposed by umd and iife bundles.
	Name      string   `yaml:"name" json:"name"`
	File      string   `yaml:"file" json:"file"`
	Format    string   `yaml:"format" json:"format"`
	Sourcemap bool     `yaml:"sourcemap" json:"sourcemap"`
	External  []string `yaml:"external,omitempty" json:"external,omitempty"`
	// Globals maps an external module to the browser global that supplies it.
	// Missing entries default to the camel-cased module name.
	Globals  map[string]string `yaml:"globals,omitempty" json:"globals,omitempty"`
	Compress []string          `yaml:"compress,omitempty" json:"compress,omitempty"`
	Manifest string            `yaml:"manifest,omitempty" json:"manifest,omitempty"`
}

// Path resolves p against the descriptor root.
func (d *Descriptor) Path(p string) string {
	if filepath.IsAbs(p) {
		return filepath.Clean(p)
	}
	return filepath.Join(d.Root, filepath.FromSlash(p))
}

// EntryPath is the absolute path of the entry point.
func (d *Descriptor) EntryPath() string {
	return d.Path(d.Input)
}

// OutputPath is the absolute path of the bundle file.
func (d *Descriptor) OutputPath() string {
	return d.Path(d.Output.File)
}

// IsExternal reports whether an import specifier refers to an external module
// or one of its sub-paths.
func (d *Descriptor) IsExternal(specifier string) bool {
	for _, ext := range d.Externals() {
		if specifier == ext || strings.HasPrefix(specifier, ext+"/") {
			return true
		}
	}
	return false
}

// Externals returns the output externals together with the modules the
// commonjs directive leaves untouched, in declaration order without
// duplicates.
func (d *Descriptor) Externals() []string {
	out := slices.Clone(d.Output.External)
	if cjs := d.CommonJS(); cjs != nil {
		for _, name := range cjs.Ignore {
			if !slices.Contains(out, name) {
				out = append(out, name)
			}
		}
	}
	return out
}

// Global returns the browser global for an external module.
func (d *Descriptor) Global(module string) string {
	if g, ok := d.Output.Globals[module]; ok && g != "" {
		return g
	}
	return CamelCase(module)
}

// CamelCase turns a package name into an identifier the way bundlers guess
// globals: the scope is dropped and separators start a new word.
func CamelCase(module string) string {
	if strings.HasPrefix(module, "@") {
		if _, rest, ok := strings.Cut(module, "/"); ok {
			module = rest
		}
	}

	var b strings.Builder
	upper := false
	for _, r := range module {
		switch {
		case r == '-' || r == '_' || r == '.' || r == '/':
			upper = b.Len() > 0
		case upper:
			b.WriteString(strings.ToUpper(string(r)))
			upper = false
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

func (d *Descriptor) CommonJS() *CommonJSOptions {
	for _, p := range d.Plugins {
		if p.CommonJS != nil {
			return p.CommonJS
		}
	}
	return nil
}

func (d *Descriptor) Shaders() *ShaderOptions {
	for _, p := range d.Plugins {
		if p.Shaders != nil {
			return p.Shaders
		}
	}
	return nil
}

func (d *Descriptor) Resolve() *ResolveOptions {
	for _, p := range d.Plugins {
		if p.Resolve != nil {
			return p.Resolve
		}
	}
	return nil
}

func (d *Descriptor) Builtins() *BuiltinsOptions {
	for _, p := range d.Plugins {
		if p.Builtins != nil {
			return p.Builtins
		}
	}
	return nil
}

func (d *Descriptor) Styles() *StyleOptions {
	for _, p := range d.Plugins {
		if p.Styles != nil {
			return p.Styles
		}
	}
	return nil
}

func (d *Descriptor) Copy() *CopyOptions {
	for _, p := range d.Plugins {
		if p.Copy != nil {
			return p.Copy
		}
	}
	return nil
}

func (d *Descriptor) Replace() *ReplaceOptions {
	for _, p := range d.Plugins {
		if p.Replace != nil {
			return p.Replace
		}
	}
	return nil
}

func (d *Descriptor) Alias() *AliasOptions {
	for _, p := range d.Plugins {
		if p.Alias != nil {
			return p.Alias
		}
	}
	return nil
}
