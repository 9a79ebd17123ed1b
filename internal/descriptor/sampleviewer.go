package descriptor

// SampleViewer returns the descriptor of the glTF Sample Viewer web
// application. Paths are relative to the web app directory, which sits next to
// the viewer's source/ and assets/ checkouts.
//
// The sample asset repositories are optional: a checkout without them still
// produces a working bundle, only without the bundled models and environments.
func SampleViewer() *Descriptor {
	preferBuiltins := true

	return &Descriptor{
		Input: "src/main.js",
		Output: Output{
			Name:      "SampleViewerApp",
			File:      "dist/GltfSVApp.umd.js",
			Format:    FormatUMD,
			Sourcemap: true,
			External:  []string{"gl-matrix", "axios", "jpeg-js", "fast-png"},
		},
		Plugins: []Directive{
			{CommonJS: &CommonJSOptions{}},
			{Shaders: &ShaderOptions{
				Include:  []string{"../source/Renderer/shaders/*", "../source/shaders/*"},
				Compress: false,
			}},
			{Resolve: &ResolveOptions{
				Browser:        true,
				PreferBuiltins: &preferBuiltins,
			}},
			{Builtins: &BuiltinsOptions{}},
			{Styles: &StyleOptions{}},
			{Copy: &CopyOptions{
				Targets: []CopyTarget{
					{Src: StringList{"index.html"}, Dest: "dist/"},
					{Src: StringList{"../assets/models/2.0", "!../assets/models/**/.git"}, Dest: "dist/assets/models", Optional: true},
					{Src: StringList{"../assets/environments/*.hdr", "../assets/environments/*.jpg", "!../assets/environments/.git"}, Dest: "dist/assets/environments", Optional: true},
					{Src: StringList{"ui"}, Dest: "dist/assets"},
					{Src: StringList{"images"}, Dest: "dist/assets"},
					{Src: StringList{"node_modules/@khronosgroup/gltf-viewer/dist/libs/*", "!../source/libs/hdrpng.js"}, Dest: "dist/libs"},
					{Src: StringList{"node_modules/@khronosgroup/gltf-viewer/dist/assets/*"}, Dest: "dist/assets/images"},
				},
				CopyOnce: true,
				Verbose:  true,
			}},
			{Replace: &ReplaceOptions{
				Values: map[string]string{"process.env.NODE_ENV": `"production"`},
			}},
			{Alias: &AliasOptions{
				Entries: map[string]string{"vue": "vue/dist/vue.esm.js"},
			}},
		},
	}
}
