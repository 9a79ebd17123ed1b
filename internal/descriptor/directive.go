package descriptor

import (
	"encoding/json"
	"fmt"
	"slices"

	"gopkg.in/yaml.v3"
)

// Directive kinds, in the order the Sample Viewer declares them.
const (
	KindCommonJS = "commonjs"
	KindShaders  = "shaders"
	KindResolve  = "resolve"
	KindBuiltins = "builtins"
	KindStyles   = "styles"
	KindCopy     = "copy"
	KindReplace  = "replace"
	KindAlias    = "alias"
)

var kinds = []string{KindCommonJS, KindShaders, KindResolve, KindBuiltins, KindStyles, KindCopy, KindReplace, KindAlias}

// Directive is one step of the plugin pipeline. Exactly one field is set; in
// a descriptor file it is written as a single-key mapping such as
// `- replace: {values: {...}}`.
type Directive struct {
	CommonJS *CommonJSOptions
	Shaders  *ShaderOptions
	Resolve  *ResolveOptions
	Builtins *BuiltinsOptions
	Styles   *StyleOptions
	Copy     *CopyOptions
	Replace  *ReplaceOptions
	Alias    *AliasOptions
}

// CommonJSOptions configures CommonJS interop. esbuild converts require()
// natively; Ignore lists modules whose require() calls stay in the output.
type CommonJSOptions struct {
	Ignore []string `yaml:"ignore,omitempty" json:"ignore,omitempty"`
}

// ShaderOptions configures shader inlining.
type ShaderOptions struct {
	// Include globs select shader files, relative to the descriptor root.
	Include  []string `yaml:"include,omitempty" json:"include,omitempty"`
	Compress bool     `yaml:"compress" json:"compress"`
}

// ResolveOptions configures node_modules resolution.
type ResolveOptions struct {
	Browser        bool     `yaml:"browser" json:"browser"`
	PreferBuiltins *bool    `yaml:"preferBuiltins,omitempty" json:"preferBuiltins,omitempty"`
	MainFields     []string `yaml:"mainFields,omitempty" json:"mainFields,omitempty"`
	Extensions     []string `yaml:"extensions,omitempty" json:"extensions,omitempty"`
}

// PrefersBuiltins defaults to true.
func (r *ResolveOptions) PrefersBuiltins() bool {
	return r == nil || r.PreferBuiltins == nil || *r.PreferBuiltins
}

// BuiltinsOptions configures how Node builtin modules are satisfied in a
// browser bundle.
type BuiltinsOptions struct {
	// Shims maps a builtin (without the node: prefix) to the module that
	// replaces it. Builtins without a shim become empty modules.
	Shims map[string]string `yaml:"shims,omitempty" json:"shims,omitempty"`
}

// StyleOptions configures stylesheet compilation.
type StyleOptions struct {
	IncludePaths []string `yaml:"includePaths,omitempty" json:"includePaths,omitempty"`
	OutputStyle  string   `yaml:"outputStyle,omitempty" json:"outputStyle,omitempty"`
	// Compiler is the Dart Sass binary; $PATH is searched when empty.
	Compiler string `yaml:"compiler,omitempty" json:"compiler,omitempty"`
}

// CopyOptions configures static asset copying.
type CopyOptions struct {
	Targets  []CopyTarget `yaml:"targets" json:"targets"`
	CopyOnce bool         `yaml:"copyOnce" json:"copyOnce"`
	Verbose  bool         `yaml:"verbose" json:"verbose"`
}

// CopyTarget copies everything matched by Src into Dest. Src entries
// starting with "!" exclude paths.
type CopyTarget struct {
	Src      StringList `yaml:"src" json:"src"`
	Dest     string     `yaml:"dest" json:"dest"`
	Optional bool       `yaml:"optional,omitempty" json:"optional,omitempty"`
}

// ReplaceOptions maps expressions to the literal text that replaces them.
type ReplaceOptions struct {
	Values map[string]string `yaml:"values" json:"values"`
}

// AliasOptions substitutes one module for another across the whole graph.
type AliasOptions struct {
	Entries map[string]string `yaml:"entries" json:"entries"`
}

// Kind returns the directive kind, or "" for an empty directive.
func (d Directive) Kind() string {
	switch {
	case d.CommonJS != nil:
		return KindCommonJS
	case d.Shaders != nil:
		return KindShaders
	case d.Resolve != nil:
		return KindResolve
	case d.Builtins != nil:
		return KindBuiltins
	case d.Styles != nil:
		return KindStyles
	case d.Copy != nil:
		return KindCopy
	case d.Replace != nil:
		return KindReplace
	case d.Alias != nil:
		return KindAlias
	}
	return ""
}

func (d Directive) options() any {
	switch d.Kind() {
	case KindCommonJS:
		return d.CommonJS
	case KindShaders:
		return d.Shaders
	case KindResolve:
		return d.Resolve
	case KindBuiltins:
		return d.Builtins
	case KindStyles:
		return d.Styles
	case KindCopy:
		return d.Copy
	case KindReplace:
		return d.Replace
	case KindAlias:
		return d.Alias
	}
	return nil
}

// target allocates the options struct for kind and returns a pointer to it.
func (d *Directive) target(kind string) (any, error) {
	switch kind {
	case KindCommonJS:
		d.CommonJS = &CommonJSOptions{}
		return d.CommonJS, nil
	case KindShaders:
		d.Shaders = &ShaderOptions{}
		return d.Shaders, nil
	case KindResolve:
		d.Resolve = &ResolveOptions{}
		return d.Resolve, nil
	case KindBuiltins:
		d.Builtins = &BuiltinsOptions{}
		return d.Builtins, nil
	case KindStyles:
		d.Styles = &StyleOptions{}
		return d.Styles, nil
	case KindCopy:
		d.Copy = &CopyOptions{}
		return d.Copy, nil
	case KindReplace:
		d.Replace = &ReplaceOptions{}
		return d.Replace, nil
	case KindAlias:
		d.Alias = &AliasOptions{}
		return d.Alias, nil
	}
	return nil, fmt.Errorf("%w: unknown plugin directive %q (want one of %v)", ErrInvalidDescriptor, kind, kinds)
}

func (d *Directive) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode || len(node.Content) != 2 {
		return fmt.Errorf("%w: line %d: plugin directive must be a mapping with exactly one key", ErrInvalidDescriptor, node.Line)
	}

	var kind string
	if err := node.Content[0].Decode(&kind); err != nil {
		return err
	}

	opts, err := d.target(kind)
	if err != nil {
		return err
	}

	value := node.Content[1]
	// `- commonjs:` and `- commonjs: {}` both mean default options
	if value.Tag == "!!null" {
		return nil
	}
	return value.Decode(opts)
}

func (d Directive) MarshalYAML() (any, error) {
	if d.Kind() == "" {
		return nil, fmt.Errorf("%w: empty plugin directive", ErrInvalidDescriptor)
	}
	return map[string]any{d.Kind(): d.options()}, nil
}

func (d *Directive) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if len(raw) != 1 {
		return fmt.Errorf("%w: plugin directive must be an object with exactly one key", ErrInvalidDescriptor)
	}

	for kind, value := range raw {
		opts, err := d.target(kind)
		if err != nil {
			return err
		}
		if string(value) == "null" {
			return nil
		}
		return json.Unmarshal(value, opts)
	}
	return nil
}

func (d Directive) MarshalJSON() ([]byte, error) {
	if d.Kind() == "" {
		return nil, fmt.Errorf("%w: empty plugin directive", ErrInvalidDescriptor)
	}
	return json.Marshal(map[string]any{d.Kind(): d.options()})
}

// StringList accepts either a single string or a list of strings.
type StringList []string

func (s *StringList) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		var one string
		if err := node.Decode(&one); err != nil {
			return err
		}
		*s = StringList{one}
		return nil
	}

	var many []string
	if err := node.Decode(&many); err != nil {
		return err
	}
	*s = many
	return nil
}

func (s *StringList) UnmarshalJSON(data []byte) error {
	var one string
	if err := json.Unmarshal(data, &one); err == nil {
		*s = StringList{one}
		return nil
	}

	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return err
	}
	*s = many
	return nil
}

// Includes returns the entries that select paths.
func (s StringList) Includes() []string {
	return slices.DeleteFunc(slices.Clone(s), isExclusion)
}

// Excludes returns the exclusion entries with the leading "!" removed.
func (s StringList) Excludes() []string {
	var out []string
	for _, p := range s {
		if isExclusion(p) {
			out = append(out, p[1:])
		}
	}
	return out
}

func isExclusion(p string) bool {
	return len(p) > 0 && p[0] == '!'
}
