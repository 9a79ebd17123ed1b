package assets

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/wolfeidau/svbundle/internal/descriptor"
)

// umdWrapper returns the banner and footer that turn esbuild's CommonJS
// output into a UMD bundle. The factory receives module, exports and
// require; in a browser require looks externals up on the global object.
func umdWrapper(d *descriptor.Descriptor) (banner, footer string, err error) {
	externals := d.Externals()

	globals := make(map[string]string, len(externals))
	for _, ext := range externals {
		globals[ext] = d.Global(ext)
	}
	globalsJSON, err := json.Marshal(globals)
	if err != nil {
		return "", "", fmt.Errorf("failed to encode globals: %w", err)
	}

	deps := append([]string{"module", "exports", "require"}, externals...)
	depsJSON, err := json.Marshal(deps)
	if err != nil {
		return "", "", fmt.Errorf("failed to encode dependencies: %w", err)
	}

	nameJSON, err := json.Marshal(d.Output.Name)
	if err != nil {
		return "", "", fmt.Errorf("failed to encode name: %w", err)
	}

	var b strings.Builder
	b.WriteString("(function (global, factory) {\n")
	b.WriteString("  typeof exports === 'object' && typeof module !== 'undefined' ? factory(module, exports, require) :\n")
	fmt.Fprintf(&b, "  typeof define === 'function' && define.amd ? define(%s, factory) :\n", depsJSON)
	b.WriteString("  (global = typeof globalThis !== 'undefined' ? globalThis : global || self, (function () {\n")
	fmt.Fprintf(&b, "    var globals = %s;\n", globalsJSON)
	b.WriteString("    var m = { exports: {} };\n")
	b.WriteString("    factory(m, m.exports, function (id) {\n")
	b.WriteString("      var pkg = id.charAt(0) === '@' ? id.split('/').slice(0, 2).join('/') : id.split('/')[0];\n")
	b.WriteString("      if (Object.prototype.hasOwnProperty.call(globals, id)) return global[globals[id]];\n")
	b.WriteString("      if (Object.prototype.hasOwnProperty.call(globals, pkg)) return global[globals[pkg]];\n")
	b.WriteString("      throw new Error(\"Cannot find module '\" + id + \"'\");\n")
	b.WriteString("    });\n")
	fmt.Fprintf(&b, "    global[%s] = m.exports;\n", nameJSON)
	b.WriteString("  })());\n")
	b.WriteString("})(this, (function (module, exports, require) {")

	return b.String(), "}));", nil
}
