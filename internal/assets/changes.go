package assets

import (
	"slices"

	"github.com/wolfeidau/svbundle/internal/copier"
)

// Relevant returns the changed paths that can affect the next build: inputs
// of the last build, stylesheets (Sass partials are not tracked), files
// matched by the shader globs and copy sources, including new ones. Before
// the first successful build, or after a failed one, every change counts.
func (p *Pipeline) Relevant(changed []string) []string {
	p.mu.RLock()
	last, failed := p.last, p.failed
	p.mu.RUnlock()

	if last == nil || failed {
		return changed
	}

	globs := shaderGlobs(p.desc)
	copyOpts := p.desc.Copy()

	var out []string
	for _, path := range changed {
		switch {
		case containsSorted(last.Inputs, path),
			p.styles != nil && isStylesheet(path),
			matchesAny(globs, path),
			copyOpts != nil && !p.config.SkipCopy && copier.Covers(p.desc.Root, copyOpts.Targets, path):
			out = append(out, path)
		}
	}
	return out
}

func containsSorted(sorted []string, s string) bool {
	_, ok := slices.BinarySearch(sorted, s)
	return ok
}
