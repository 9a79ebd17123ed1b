package descriptor

import (
	"slices"
	"strings"
)

// nodeBuiltins are the core modules of Node.js that have no meaning in a
// browser bundle unless shimmed.
var nodeBuiltins = []string{
	"assert", "async_hooks", "buffer", "child_process", "cluster", "console",
	"constants", "crypto", "dgram", "diagnostics_channel", "dns", "domain",
	"events", "fs", "http", "http2", "https", "inspector", "module", "net",
	"os", "path", "perf_hooks", "process", "punycode", "querystring",
	"readline", "repl", "stream", "string_decoder", "sys", "timers", "tls",
	"trace_events", "tty", "url", "util", "v8", "vm", "wasi",
	"worker_threads", "zlib",
}

// IsBuiltin reports whether specifier names a Node builtin, with or without
// the node: prefix. Sub-paths such as "fs/promises" count as builtins.
func IsBuiltin(specifier string) bool {
	return slices.Contains(nodeBuiltins, BuiltinName(specifier))
}

// BuiltinName strips the node: prefix and any sub-path.
func BuiltinName(specifier string) string {
	name := strings.TrimPrefix(specifier, "node:")
	name, _, _ = strings.Cut(name, "/")
	return name
}
