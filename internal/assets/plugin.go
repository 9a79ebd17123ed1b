package assets

import (
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/evanw/esbuild/pkg/api"
	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/svbundle/internal/descriptor"
	"github.com/wolfeidau/svbundle/internal/shader"
	"github.com/wolfeidau/svbundle/internal/style"
)

const (
	pluginName     = "svbundle"
	emptyNamespace = "svbundle-empty"
)

// resolving marks a build.Resolve issued from inside the plugin so the
// nested resolution falls through to esbuild instead of looping.
type resolving struct{}

// bundlePlugin carries the descriptor directives into esbuild. Resolution
// claims externals first, then builtins. Loading runs the content
// transforms (shaders, styles, replace) as one chain in the order the
// descriptor declares them, each step seeing the previous step's output.
//
// esbuild invokes callbacks from several goroutines at once.
type bundlePlugin struct {
	desc     *descriptor.Descriptor
	resolve  *descriptor.ResolveOptions
	builtins *descriptor.BuiltinsOptions
	shaders  *descriptor.ShaderOptions
	styles   style.Compiler
	replace  *replacer

	shaderGlobs []string
	cjsIgnore   []string
	// chain holds the content transform kinds in declared order.
	chain []string

	mu         sync.Mutex
	watched    map[string]struct{}
	transforms map[string]int
	errs       []error
}

func newBundlePlugin(d *descriptor.Descriptor, styles style.Compiler) *bundlePlugin {
	bp := &bundlePlugin{
		desc:       d,
		resolve:    d.Resolve(),
		builtins:   d.Builtins(),
		shaders:    d.Shaders(),
		watched:    map[string]struct{}{},
		transforms: map[string]int{},
	}

	if d.Styles() != nil {
		bp.styles = styles
	}

	bp.shaderGlobs = shaderGlobs(d)

	if r := d.Replace(); r != nil {
		bp.replace = newReplacer(r.Values)
	}

	if cjs := d.CommonJS(); cjs != nil {
		bp.cjsIgnore = cjs.Ignore
	}

	for _, dir := range d.Plugins {
		switch kind := dir.Kind(); kind {
		case descriptor.KindShaders, descriptor.KindStyles, descriptor.KindReplace:
			bp.chain = append(bp.chain, kind)
		}
	}

	return bp
}

func (bp *bundlePlugin) plugin() api.Plugin {
	return api.Plugin{Name: pluginName, Setup: bp.setup}
}

func (bp *bundlePlugin) setup(build api.PluginBuild) {
	// bare specifiers only; relative and absolute imports are never external
	build.OnResolve(api.OnResolveOptions{Filter: `^[^./]`}, func(args api.OnResolveArgs) (api.OnResolveResult, error) {
		if _, nested := args.PluginData.(resolving); nested {
			return api.OnResolveResult{}, nil
		}

		if bp.desc.IsExternal(args.Path) {
			return api.OnResolveResult{Path: args.Path, External: true}, nil
		}

		// ignored modules stay as runtime require() calls
		if args.Kind == api.ResolveJSRequireCall && slices.Contains(bp.cjsIgnore, descriptor.PackageName(args.Path)) {
			return api.OnResolveResult{Path: args.Path, External: true}, nil
		}

		if bp.builtins != nil && descriptor.IsBuiltin(args.Path) {
			return bp.resolveBuiltin(build, args), nil
		}

		return api.OnResolveResult{}, nil
	})

	build.OnLoad(api.OnLoadOptions{Filter: `.*`, Namespace: emptyNamespace}, func(args api.OnLoadArgs) (api.OnLoadResult, error) {
		contents := "module.exports = {};\n"
		return api.OnLoadResult{Contents: &contents, Loader: api.LoaderJS}, nil
	})

	build.OnLoad(api.OnLoadOptions{Filter: `.*`, Namespace: "file"}, bp.load)
}

func (bp *bundlePlugin) resolveBuiltin(build api.PluginBuild, args api.OnResolveArgs) api.OnResolveResult {
	name := descriptor.BuiltinName(args.Path)

	// an installed package shadows the builtin unless builtins are preferred
	if !bp.resolve.PrefersBuiltins() && !strings.HasPrefix(args.Path, "node:") {
		res := build.Resolve(args.Path, api.ResolveOptions{
			Importer:   args.Importer,
			ResolveDir: args.ResolveDir,
			Kind:       args.Kind,
			PluginData: resolving{},
		})
		if len(res.Errors) == 0 {
			return api.OnResolveResult{Path: res.Path, Namespace: res.Namespace, External: res.External}
		}
	}

	if shim, ok := bp.builtins.Shims[name]; ok {
		res := build.Resolve(shim, api.ResolveOptions{
			Importer:   args.Importer,
			ResolveDir: bp.desc.Root,
			Kind:       args.Kind,
			PluginData: resolving{},
		})
		if len(res.Errors) > 0 {
			return api.OnResolveResult{Errors: res.Errors}
		}
		bp.count("builtins")
		return api.OnResolveResult{Path: res.Path, Namespace: res.Namespace, External: res.External}
	}

	bp.count("builtins")
	return api.OnResolveResult{
		Path:      name,
		Namespace: emptyNamespace,
		Warnings: []api.Message{{
			Text: fmt.Sprintf("Node builtin %q has no browser shim, an empty module is used", args.Path),
		}},
	}
}

func (bp *bundlePlugin) load(args api.OnLoadArgs) (api.OnLoadResult, error) {
	path := args.Path

	isShader := bp.isShader(path)
	isStyle := !isShader && bp.styles != nil && isStylesheet(path)
	loader, jsLike := jsLoader(path)

	if !isShader && !isStyle && (bp.replace == nil || !jsLike) {
		return api.OnLoadResult{}, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return api.OnLoadResult{}, bp.fail(fmt.Errorf("failed to read %s: %w", path, err))
	}
	contents := string(data)

	for _, kind := range bp.chain {
		switch kind {
		case descriptor.KindShaders:
			if !isShader {
				continue
			}
			res, err := shader.InlineSource(path, contents, bp.shaders.Compress)
			if err != nil {
				return api.OnLoadResult{}, bp.fail(err)
			}
			bp.watch(res.Files...)
			contents = shader.Module(res.Source)
			loader, jsLike = api.LoaderJS, true
			// stringified: later steps see a JS module
			isShader = false
			bp.count("shaders")

		case descriptor.KindStyles:
			if !isStyle {
				continue
			}
			if style.NeedsCompile(path) {
				css, err := bp.styles.Compile(path, contents)
				if err != nil {
					return api.OnLoadResult{}, bp.fail(err)
				}
				contents = css
				bp.count("styles")
			}
			loader, jsLike = api.LoaderCSS, false

		case descriptor.KindReplace:
			// raw shader text is replaced too when shaders come later
			if bp.replace == nil || !(jsLike || isShader) {
				continue
			}
			var n int
			contents, n = bp.replace.Replace(contents)
			if n > 0 {
				log.Trace().Str("path", path).Int("replacements", n).Msg("Replaced expressions")
				bp.count("replace")
			}
		}
	}

	if loader == api.LoaderNone {
		// a shader matched by no shaders step is left to esbuild
		return api.OnLoadResult{}, nil
	}

	return api.OnLoadResult{
		Contents:   &contents,
		ResolveDir: filepath.Dir(path),
		Loader:     loader,
	}, nil
}

func (bp *bundlePlugin) isShader(path string) bool {
	return matchesAny(bp.shaderGlobs, path)
}

// shaderGlobs returns the absolute, slash separated shader include globs,
// or nil without a shaders directive.
func shaderGlobs(d *descriptor.Descriptor) []string {
	sh := d.Shaders()
	if sh == nil {
		return nil
	}
	include := sh.Include
	if len(include) == 0 {
		include = shader.DefaultInclude
	}
	globs := make([]string, 0, len(include))
	for _, pat := range include {
		globs = append(globs, filepath.ToSlash(d.Path(pat)))
	}
	return globs
}

func matchesAny(globs []string, path string) bool {
	slashed := filepath.ToSlash(path)
	for _, pat := range globs {
		if doublestar.MatchUnvalidated(pat, slashed) {
			return true
		}
	}
	return false
}

// fail records err so the caller can match it with errors.Is after esbuild
// has flattened it into a message.
func (bp *bundlePlugin) fail(err error) error {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	bp.errs = append(bp.errs, err)
	return err
}

func (bp *bundlePlugin) watch(files ...string) {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	for _, f := range files {
		bp.watched[f] = struct{}{}
	}
}

func (bp *bundlePlugin) count(transform string) {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	bp.transforms[transform]++
}

func (bp *bundlePlugin) failures() []error {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	return slices.Clone(bp.errs)
}

func (bp *bundlePlugin) watchedFiles() []string {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	files := make([]string, 0, len(bp.watched))
	for f := range bp.watched {
		files = append(files, f)
	}
	return files
}

func (bp *bundlePlugin) transformCounts() map[string]int {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	return maps.Clone(bp.transforms)
}

func isStylesheet(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".css", ".scss", ".sass":
		return true
	}
	return false
}

func jsLoader(path string) (api.Loader, bool) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".js", ".mjs", ".cjs":
		return api.LoaderJS, true
	case ".jsx":
		return api.LoaderJSX, true
	case ".ts", ".mts", ".cts":
		return api.LoaderTS, true
	case ".tsx":
		return api.LoaderTSX, true
	}
	return api.LoaderNone, false
}
