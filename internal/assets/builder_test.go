package assets

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/require"
	"github.com/wolfeidau/svbundle/internal/copier"
	"github.com/wolfeidau/svbundle/internal/descriptor"
	"github.com/wolfeidau/svbundle/internal/shader"
)

const inlinedMarker = "GL_MATRIX_WAS_INLINED"

type fakeStyles struct {
	calls atomic.Int32
}

func (f *fakeStyles) Compile(path, source string) (string, error) {
	f.calls.Add(1)
	return ".viewer {\n  color: red;\n}\n", nil
}

func (f *fakeStyles) Close() error { return nil }

// newProject lays out a small viewer application: an entry importing an
// external library, a shader, a stylesheet and the NODE_ENV marker.
func newProject(t *testing.T) string {
	t.Helper()
	root := t.TempDir()

	writeFile(t, root, "src/main.js", strings.Join([]string{
		`import { vec3 } from "gl-matrix";`,
		`import fragment from "../shaders/pbr.frag";`,
		`import "./ui.scss";`,
		`export const mode = process.env.NODE_ENV;`,
		`export const shaders = { fragment };`,
		`export function origin() { return vec3.create(); }`,
		``,
	}, "\n"))
	writeFile(t, root, "src/ui.scss", "$accent: red;\n.viewer { color: $accent; }\n")
	writeFile(t, root, "shaders/pbr.frag", "precision highp float;\n#pragma glslify: import('./common.glsl')\nvoid main() {}\n")
	writeFile(t, root, "shaders/common.glsl", "const float PI = 3.14159;\n")
	writeFile(t, root, "node_modules/gl-matrix/package.json", `{"name":"gl-matrix","main":"index.js"}`)
	writeFile(t, root, "node_modules/gl-matrix/index.js", `export const vec3 = { create() { return "`+inlinedMarker+`"; } };`+"\n")
	writeFile(t, root, "public/index.html", "<html></html>\n")

	return root
}

func projectDescriptor(root string) *descriptor.Descriptor {
	return &descriptor.Descriptor{
		Input: "src/main.js",
		Output: descriptor.Output{
			Name:      "SampleViewerApp",
			File:      "dist/app.umd.js",
			Format:    descriptor.FormatUMD,
			Sourcemap: true,
			External:  []string{"gl-matrix"},
			Compress:  []string{descriptor.EncodingGzip, descriptor.EncodingZstd},
			Manifest:  "manifest.json",
		},
		Plugins: []descriptor.Directive{
			{CommonJS: &descriptor.CommonJSOptions{}},
			{Shaders: &descriptor.ShaderOptions{Include: []string{"shaders/*"}}},
			{Resolve: &descriptor.ResolveOptions{Browser: true}},
			{Builtins: &descriptor.BuiltinsOptions{}},
			{Styles: &descriptor.StyleOptions{}},
			{Copy: &descriptor.CopyOptions{
				Targets: []descriptor.CopyTarget{
					{Src: descriptor.StringList{"public/index.html"}, Dest: "dist"},
					{Src: descriptor.StringList{"../assets/models"}, Dest: "dist/assets", Optional: true},
				},
				CopyOnce: true,
			}},
			{Replace: &descriptor.ReplaceOptions{Values: map[string]string{
				"process.env.NODE_ENV": `"production"`,
			}}},
		},
		Root: root,
	}
}

func TestBuild(t *testing.T) {
	root := newProject(t)
	styles := &fakeStyles{}

	p, err := New(projectDescriptor(root), Config{Styles: styles})
	require.NoError(t, err)
	defer p.Close()

	report, err := p.Build(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, report.BuildID)

	bundle := readFile(t, filepath.Join(root, "dist", "app.umd.js"))

	// externals stay as require calls
	require.Contains(t, bundle, `require("gl-matrix")`)
	require.NotContains(t, bundle, inlinedMarker)

	// the marker expression is gone, the literal replacement is present
	require.NotContains(t, bundle, "process.env.NODE_ENV")
	require.Contains(t, bundle, `"production"`)

	// shaders are inlined with their imports expanded
	require.Contains(t, bundle, "const float PI = 3.14159;")
	require.NotContains(t, bundle, "glslify")

	// UMD wrapper
	require.True(t, strings.HasPrefix(bundle, "(function (global, factory) {"))
	require.Contains(t, bundle, `global["SampleViewerApp"] = m.exports;`)
	require.Contains(t, bundle, "sourceMappingURL=app.umd.js.map")

	require.Equal(t, int32(1), styles.calls.Load())
	require.FileExists(t, filepath.Join(root, "dist", "app.umd.js.map"))
	require.FileExists(t, filepath.Join(root, "dist", "index.html"))

	var css string
	for _, f := range report.Manifest.Files {
		if strings.HasSuffix(f.Path, ".css") {
			css = readFile(t, filepath.Join(root, "dist", filepath.FromSlash(f.Path)))
		}
	}
	require.Contains(t, css, "color: red")

	// the missing optional copy source is a warning, not an error
	require.NotEmpty(t, report.Warnings)
	require.Contains(t, report.Warnings[0], "../assets/models")
	require.Contains(t, report.Warnings[0], copier.ErrMissingSource.Error())

	require.NotNil(t, report.Copy)
	require.Equal(t, 1, report.Copy.Copied)

	require.Contains(t, report.Inputs, filepath.Join(root, "src", "main.js"))
	require.Contains(t, report.Inputs, filepath.Join(root, "shaders", "common.glsl"))
	require.Same(t, report, p.LastReport())
}

func TestBuildPrecompressedSiblings(t *testing.T) {
	root := newProject(t)

	p, err := New(projectDescriptor(root), Config{Styles: &fakeStyles{}})
	require.NoError(t, err)

	_, err = p.Build(context.Background())
	require.NoError(t, err)

	bundle, err := os.ReadFile(filepath.Join(root, "dist", "app.umd.js"))
	require.NoError(t, err)

	gz, err := os.Open(filepath.Join(root, "dist", "app.umd.js.gz"))
	require.NoError(t, err)
	defer gz.Close()
	zr, err := gzip.NewReader(gz)
	require.NoError(t, err)
	unzipped, err := io.ReadAll(zr)
	require.NoError(t, err)
	require.Equal(t, bundle, unzipped)

	zst, err := os.ReadFile(filepath.Join(root, "dist", "app.umd.js.zst"))
	require.NoError(t, err)
	dec, err := zstd.NewReader(nil)
	require.NoError(t, err)
	defer dec.Close()
	decoded, err := dec.DecodeAll(zst, nil)
	require.NoError(t, err)
	require.Equal(t, bundle, decoded)

	require.NoFileExists(t, filepath.Join(root, "dist", "app.umd.js.map.gz"))
}

func TestBuildIsDeterministic(t *testing.T) {
	root := newProject(t)
	ctx := context.Background()

	p, err := New(projectDescriptor(root), Config{Styles: &fakeStyles{}})
	require.NoError(t, err)

	first, err := p.Build(ctx)
	require.NoError(t, err)
	bundle := readFile(t, filepath.Join(root, "dist", "app.umd.js"))
	manifest := readFile(t, filepath.Join(root, "dist", "manifest.json"))

	second, err := p.Build(ctx)
	require.NoError(t, err)

	require.NotEqual(t, first.BuildID, second.BuildID)
	require.Equal(t, bundle, readFile(t, filepath.Join(root, "dist", "app.umd.js")))
	require.Equal(t, manifest, readFile(t, filepath.Join(root, "dist", "manifest.json")))

	if diff := cmp.Diff(first.Manifest, second.Manifest); diff != "" {
		t.Errorf("manifest mismatch (-first +second):\n%s", diff)
	}

	written, err := ReadManifest(filepath.Join(root, "dist", "manifest.json"))
	require.NoError(t, err)
	if diff := cmp.Diff(second.Manifest, written); diff != "" {
		t.Errorf("written manifest mismatch (-report +file):\n%s", diff)
	}

	// copy-once leaves the earlier copy in place
	require.Equal(t, 0, second.Copy.Copied)
	require.Equal(t, 1, second.Copy.Skipped)
}

func TestBuildOutputDirAndSkipCopy(t *testing.T) {
	root := newProject(t)
	out := t.TempDir()

	p, err := New(projectDescriptor(root), Config{Styles: &fakeStyles{}, OutputDir: out, SkipCopy: true})
	require.NoError(t, err)

	report, err := p.Build(context.Background())
	require.NoError(t, err)
	require.Nil(t, report.Copy)

	require.FileExists(t, filepath.Join(out, "app.umd.js"))
	require.FileExists(t, filepath.Join(out, "manifest.json"))
	require.NoDirExists(t, filepath.Join(root, "dist"))
}

func TestBuildFailures(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(t *testing.T, root string, d *descriptor.Descriptor)
		err    error
	}{
		{
			name: "missing entry point",
			mutate: func(t *testing.T, root string, d *descriptor.Descriptor) {
				d.Input = "src/nope.js"
			},
			err: descriptor.ErrEntryNotFound,
		},
		{
			name: "missing alias target",
			mutate: func(t *testing.T, root string, d *descriptor.Descriptor) {
				d.Plugins = append(d.Plugins, descriptor.Directive{
					Alias: &descriptor.AliasOptions{Entries: map[string]string{"vue": "vue/dist/vue.esm.js"}},
				})
			},
			err: descriptor.ErrAliasTargetMissing,
		},
		{
			name: "missing copy source",
			mutate: func(t *testing.T, root string, d *descriptor.Descriptor) {
				d.Copy().Targets = append(d.Copy().Targets, descriptor.CopyTarget{
					Src: descriptor.StringList{"images"}, Dest: "dist/assets",
				})
			},
			err: copier.ErrMissingSource,
		},
		{
			name: "missing shader import",
			mutate: func(t *testing.T, root string, d *descriptor.Descriptor) {
				writeFile(t, root, "shaders/pbr.frag", "#pragma glslify: import('./missing.glsl')\n")
			},
			err: shader.ErrImportNotFound,
		},
		{
			name: "unresolvable import",
			mutate: func(t *testing.T, root string, d *descriptor.Descriptor) {
				writeFile(t, root, "src/main.js", `import "./not-there.js";`+"\n")
			},
			err: ErrBuildFailed,
		},
		{
			name: "invalid descriptor",
			mutate: func(t *testing.T, root string, d *descriptor.Descriptor) {
				d.Output.Format = "amd"
			},
			err: descriptor.ErrInvalidDescriptor,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := newProject(t)
			d := projectDescriptor(root)
			tt.mutate(t, root, d)

			p, err := New(d, Config{Styles: &fakeStyles{}})
			require.NoError(t, err)

			_, err = p.Build(context.Background())
			require.ErrorIs(t, err, tt.err)

			// a failed build writes nothing
			require.NoDirExists(t, filepath.Join(root, "dist"))
			require.Nil(t, p.LastReport())
		})
	}
}

func TestBuildBuiltins(t *testing.T) {
	preferPackage := false

	tests := []struct {
		name     string
		entry    string
		builtins *descriptor.BuiltinsOptions
		resolve  *descriptor.ResolveOptions
		contains string
		warning  string
	}{
		{
			name:     "empty module with warning",
			entry:    `import * as fs from "node:fs"; export const files = fs;`,
			builtins: &descriptor.BuiltinsOptions{},
			resolve:  &descriptor.ResolveOptions{Browser: true},
			contains: "module.exports = {}",
			warning:  `"node:fs" has no browser shim`,
		},
		{
			name:     "configured shim",
			entry:    `import { join } from "path"; export const j = join;`,
			builtins: &descriptor.BuiltinsOptions{Shims: map[string]string{"path": "./shims/path.js"}},
			resolve:  &descriptor.ResolveOptions{Browser: true},
			contains: "SHIM_PATH",
		},
		{
			name:     "installed package wins without preferBuiltins",
			entry:    `import { marker } from "events"; export const m = marker;`,
			builtins: &descriptor.BuiltinsOptions{},
			resolve:  &descriptor.ResolveOptions{Browser: true, PreferBuiltins: &preferPackage},
			contains: "EVENTS_PACKAGE",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := t.TempDir()
			writeFile(t, root, "src/main.js", tt.entry+"\n")
			writeFile(t, root, "shims/path.js", `export function join() { return "SHIM_PATH"; }`+"\n")
			writeFile(t, root, "node_modules/events/package.json", `{"name":"events","main":"index.js"}`)
			writeFile(t, root, "node_modules/events/index.js", `export const marker = "EVENTS_PACKAGE";`+"\n")

			d := &descriptor.Descriptor{
				Input:  "src/main.js",
				Output: descriptor.Output{File: "dist/app.js", Format: descriptor.FormatESM},
				Plugins: []descriptor.Directive{
					{Resolve: tt.resolve},
					{Builtins: tt.builtins},
				},
				Root: root,
			}

			p, err := New(d, DefaultConfig())
			require.NoError(t, err)

			report, err := p.Build(context.Background())
			require.NoError(t, err)

			require.Contains(t, readFile(t, filepath.Join(root, "dist", "app.js")), tt.contains)

			if tt.warning == "" {
				require.Empty(t, report.Warnings)
				return
			}
			require.NotEmpty(t, report.Warnings)
			require.Contains(t, strings.Join(report.Warnings, "\n"), tt.warning)
		})
	}
}

func TestBuildAlias(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "src/main.js", `import { name } from "vue"; export const n = name;`+"\n")
	writeFile(t, root, "node_modules/vue/package.json", `{"name":"vue","main":"index.js"}`)
	writeFile(t, root, "node_modules/vue/index.js", `export const name = "VUE_RUNTIME_ONLY";`+"\n")
	writeFile(t, root, "node_modules/vue-full/package.json", `{"name":"vue-full","main":"index.js"}`)
	writeFile(t, root, "node_modules/vue-full/index.js", `export const name = "VUE_WITH_COMPILER";`+"\n")

	d := &descriptor.Descriptor{
		Input:  "src/main.js",
		Output: descriptor.Output{Name: "App", File: "dist/app.js", Format: descriptor.FormatIIFE},
		Plugins: []descriptor.Directive{
			{Alias: &descriptor.AliasOptions{Entries: map[string]string{"vue": "vue-full"}}},
		},
		Root: root,
	}

	p, err := New(d, DefaultConfig())
	require.NoError(t, err)

	_, err = p.Build(context.Background())
	require.NoError(t, err)

	bundle := readFile(t, filepath.Join(root, "dist", "app.js"))
	require.Contains(t, bundle, "VUE_WITH_COMPILER")
	require.NotContains(t, bundle, "VUE_RUNTIME_ONLY")
	require.Contains(t, bundle, "var App =")
}

func TestBuildExternalWinsOverAlias(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "src/main.js", `import { name } from "vue"; export const n = name;`+"\n")
	writeFile(t, root, "node_modules/vue-full/package.json", `{"name":"vue-full","main":"index.js"}`)
	writeFile(t, root, "node_modules/vue-full/index.js", `export const name = "VUE_WITH_COMPILER";`+"\n")

	d := &descriptor.Descriptor{
		Input:  "src/main.js",
		Output: descriptor.Output{File: "dist/app.js", Format: descriptor.FormatESM, External: []string{"vue"}},
		Plugins: []descriptor.Directive{
			{Alias: &descriptor.AliasOptions{Entries: map[string]string{"vue": "vue-full"}}},
		},
		Root: root,
	}

	p, err := New(d, DefaultConfig())
	require.NoError(t, err)

	report, err := p.Build(context.Background())
	require.NoError(t, err)
	require.Contains(t, strings.Join(report.Warnings, "\n"), `alias "vue" is ignored`)

	bundle := readFile(t, filepath.Join(root, "dist", "app.js"))
	require.Contains(t, bundle, `"vue"`)
	require.NotContains(t, bundle, "VUE_WITH_COMPILER")
}

func TestBuildTransformOrder(t *testing.T) {
	shaders := descriptor.Directive{Shaders: &descriptor.ShaderOptions{Include: []string{"shaders/*"}}}
	replace := descriptor.Directive{Replace: &descriptor.ReplaceOptions{Values: map[string]string{
		"process.env.NODE_ENV": `"production"`,
	}}}

	tests := []struct {
		name    string
		plugins []descriptor.Directive
		wantErr error
	}{
		{
			// the shader text is rewritten before it becomes a string
			name:    "replace before shaders",
			plugins: []descriptor.Directive{replace, shaders},
		},
		{
			// the quoted value lands inside the stringified module
			name:    "shaders before replace",
			plugins: []descriptor.Directive{shaders, replace},
			wantErr: ErrBuildFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := t.TempDir()
			writeFile(t, root, "src/main.js", `import frag from "../shaders/mode.frag";`+"\n"+`export const source = frag;`+"\n")
			writeFile(t, root, "shaders/mode.frag", "// mode: process.env.NODE_ENV\nvoid main() {}\n")

			d := &descriptor.Descriptor{
				Input:   "src/main.js",
				Output:  descriptor.Output{File: "dist/app.js", Format: descriptor.FormatESM},
				Plugins: tt.plugins,
				Root:    root,
			}

			p, err := New(d, DefaultConfig())
			require.NoError(t, err)

			_, err = p.Build(context.Background())
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)

			bundle := readFile(t, filepath.Join(root, "dist", "app.js"))
			require.NotContains(t, bundle, "process.env.NODE_ENV")
			require.Contains(t, bundle, "production")
			require.Contains(t, bundle, "void main()")
		})
	}
}

func TestBuildCommonJSIgnore(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "src/main.js", `const addon = require("native-addon/binding");`+"\n"+`module.exports = addon;`+"\n")

	d := &descriptor.Descriptor{
		Input:  "src/main.js",
		Output: descriptor.Output{File: "dist/app.cjs", Format: descriptor.FormatCJS},
		Plugins: []descriptor.Directive{
			{CommonJS: &descriptor.CommonJSOptions{Ignore: []string{"native-addon"}}},
		},
		Root: root,
	}

	p, err := New(d, DefaultConfig())
	require.NoError(t, err)

	_, err = p.Build(context.Background())
	require.NoError(t, err)

	require.Contains(t, readFile(t, filepath.Join(root, "dist", "app.cjs")), `require("native-addon/binding")`)
}

func TestCheckExternals(t *testing.T) {
	m := &BuildMetadata{Inputs: map[string]InputInfo{
		"src/main.js":                        {},
		"node_modules/gl-matrix-extra/a.js":  {},
		"node_modules/gl-matrix/esm/vec3.js": {},
		"node_modules/axios/index.js":        {},
	}}

	require.NoError(t, m.checkExternals([]string{"jpeg-js"}))

	err := m.checkExternals([]string{"gl-matrix", "axios"})
	require.ErrorIs(t, err, ErrExternalInlined)
	require.Contains(t, err.Error(), "node_modules/gl-matrix/esm/vec3.js")
	require.Contains(t, err.Error(), "node_modules/axios/index.js")
	require.NotContains(t, err.Error(), "gl-matrix-extra")
}

func writeFile(t *testing.T, root, name, content string) {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(name))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(bytes.TrimSpace(data))
}
