// Package shader inlines GLSL sources into JavaScript modules the way glslify
// does: `#pragma glslify: import(...)` directives are expanded in place and
// the result is exported as a string.
package shader

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
)

var (
	// ErrImportNotFound indicates a glslify import points at a missing file
	ErrImportNotFound = errors.New("shader import not found")
	// ErrImportCycle indicates shader imports form a cycle
	ErrImportCycle = errors.New("shader import cycle")
)

var (
	importPattern = regexp.MustCompile(`^\s*#pragma\s+glslify\s*:\s*import\s*\(\s*['"]([^'"]+)['"]\s*\)\s*;?\s*$`)
	exportPattern = regexp.MustCompile(`^\s*#pragma\s+glslify\s*:\s*export\s*\(.*\)\s*;?\s*$`)
)

// DefaultInclude selects shader files when no include globs are configured.
var DefaultInclude = []string{"**/*.{glsl,vert,frag,vs,fs}"}

// Result is an inlined shader.
type Result struct {
	Source string
	// Files lists every file read, the shader itself first.
	Files []string
}

// Inline reads the shader at path and expands its imports recursively.
// #include lines are left alone: the viewer resolves them at run time.
func Inline(path string, compress bool) (*Result, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}

	in := &inliner{}
	var b strings.Builder
	if err := in.expand(&b, abs, nil); err != nil {
		return nil, err
	}

	return in.result(b.String(), compress), nil
}

// InlineSource is Inline for a shader whose text is already in memory,
// typically the output of an earlier transform. Imports are still read
// relative to path.
func InlineSource(path, source string, compress bool) (*Result, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}

	in := &inliner{}
	var b strings.Builder
	if err := in.expandSource(&b, abs, source, nil); err != nil {
		return nil, err
	}

	return in.result(b.String(), compress), nil
}

// Module wraps shader source as an ES module exporting it as a string.
func Module(source string) string {
	// json.Marshal escapes <, > and & which is harmless in a JS string
	quoted, _ := json.Marshal(source)
	return "export default " + string(quoted) + ";\n"
}

type inliner struct {
	files []string
}

func (in *inliner) result(source string, compress bool) *Result {
	if compress {
		source = Compress(source)
	}
	return &Result{Source: source, Files: in.files}
}

func (in *inliner) expand(b *strings.Builder, path string, stack []string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return in.expandSource(b, path, string(data), stack)
}

func (in *inliner) expandSource(b *strings.Builder, path, source string, stack []string) error {
	if slices.Contains(stack, path) {
		chain := append(slices.Clone(stack), path)
		return fmt.Errorf("%w: %s", ErrImportCycle, strings.Join(chain, " -> "))
	}
	stack = append(stack, path)

	if !slices.Contains(in.files, path) {
		in.files = append(in.files, path)
	}

	scanner := bufio.NewScanner(strings.NewReader(source))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	line := 0
	for scanner.Scan() {
		line++
		text := scanner.Text()

		if exportPattern.MatchString(text) {
			continue
		}

		m := importPattern.FindStringSubmatch(text)
		if m == nil {
			b.WriteString(text)
			b.WriteByte('\n')
			continue
		}

		target := filepath.Join(filepath.Dir(path), filepath.FromSlash(m[1]))
		if _, err := os.Stat(target); err != nil {
			return fmt.Errorf("%w: %s:%d: %s", ErrImportNotFound, path, line, m[1])
		}
		if err := in.expand(b, target, stack); err != nil {
			return err
		}
	}

	return scanner.Err()
}

// Compress removes comments, indentation and blank lines. Preprocessor
// directives stay on their own lines because GLSL requires it.
func Compress(source string) string {
	source = stripComments(source)

	var out []string
	for l := range strings.SplitSeq(source, "\n") {
		l = strings.TrimSpace(l)
		if l == "" {
			continue
		}
		out = append(out, strings.Join(strings.Fields(l), " "))
	}
	if len(out) == 0 {
		return ""
	}
	return strings.Join(out, "\n") + "\n"
}

// stripComments removes // and /* */ comments, keeping line breaks inside
// block comments so line-based directives are not merged.
func stripComments(src string) string {
	var b strings.Builder
	b.Grow(len(src))

	for i := 0; i < len(src); i++ {
		switch {
		case strings.HasPrefix(src[i:], "//"):
			for i < len(src) && src[i] != '\n' {
				i++
			}
			if i < len(src) {
				b.WriteByte('\n')
			}
		case strings.HasPrefix(src[i:], "/*"):
			end := strings.Index(src[i+2:], "*/")
			if end < 0 {
				end = len(src) - i - 2
			}
			b.WriteString(strings.Repeat("\n", strings.Count(src[i:i+2+end], "\n")))
			i += 2 + end + 1
		default:
			b.WriteByte(src[i])
		}
	}
	return b.String()
}
