package descriptor

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Validate checks the descriptor structure without touching the filesystem.
func (d *Descriptor) Validate() error {
	var errs []error

	if d.Input == "" {
		errs = append(errs, errors.New("input is required"))
	}
	if d.Output.File == "" {
		errs = append(errs, errors.New("output.file is required"))
	}

	switch d.Output.Format {
	case FormatUMD, FormatIIFE:
		if d.Output.Name == "" {
			errs = append(errs, fmt.Errorf("output.name is required for %s bundles", d.Output.Format))
		}
	case FormatESM, FormatCJS:
	default:
		errs = append(errs, fmt.Errorf("output.format %q is not one of umd, iife, esm, cjs", d.Output.Format))
	}

	for _, enc := range d.Output.Compress {
		if enc != EncodingGzip && enc != EncodingZstd {
			errs = append(errs, fmt.Errorf("output.compress %q is not one of gzip, zstd", enc))
		}
	}

	seen := map[string]bool{}
	for i, p := range d.Plugins {
		kind := p.Kind()
		if kind == "" {
			errs = append(errs, fmt.Errorf("plugins[%d] is empty", i))
			continue
		}
		if seen[kind] {
			errs = append(errs, fmt.Errorf("plugins[%d]: %s is declared more than once", i, kind))
		}
		seen[kind] = true
	}

	if sh := d.Shaders(); sh != nil {
		for _, pat := range sh.Include {
			if !doublestar.ValidatePattern(pat) {
				errs = append(errs, fmt.Errorf("shaders: invalid include pattern %q", pat))
			}
		}
	}

	if st := d.Styles(); st != nil {
		switch st.OutputStyle {
		case "", "expanded", "compressed":
		default:
			errs = append(errs, fmt.Errorf("styles: outputStyle %q is not one of expanded, compressed", st.OutputStyle))
		}
	}

	if b := d.Builtins(); b != nil {
		for name, shim := range b.Shims {
			if !IsBuiltin(name) {
				errs = append(errs, fmt.Errorf("builtins: %q is not a node builtin", name))
			}
			if IsBuiltin(shim) {
				errs = append(errs, fmt.Errorf("builtins: shim for %q cannot be the builtin %q", name, shim))
			}
		}
	}

	if c := d.Copy(); c != nil {
		for i, t := range c.Targets {
			if len(t.Src.Includes()) == 0 {
				errs = append(errs, fmt.Errorf("copy.targets[%d]: src needs at least one non-excluding pattern", i))
			}
			if t.Dest == "" {
				errs = append(errs, fmt.Errorf("copy.targets[%d]: dest is required", i))
			}
			for _, pat := range t.Src {
				if !doublestar.ValidatePattern(strings.TrimPrefix(pat, "!")) {
					errs = append(errs, fmt.Errorf("copy.targets[%d]: invalid pattern %q", i, pat))
				}
			}
		}
	}

	if r := d.Replace(); r != nil {
		for key := range r.Values {
			if strings.TrimSpace(key) == "" {
				errs = append(errs, errors.New("replace: empty key"))
			}
		}
	}

	if a := d.Alias(); a != nil {
		for from, to := range a.Entries {
			if from == "" || to == "" {
				errs = append(errs, fmt.Errorf("alias: %q -> %q must name both modules", from, to))
			}
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidDescriptor, errors.Join(errs...))
	}
	return nil
}

// Preflight checks the filesystem conditions a build depends on: the entry
// point must exist and every alias target must be installed.
func (d *Descriptor) Preflight() error {
	entry := d.EntryPath()
	info, err := os.Stat(entry)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrEntryNotFound, entry, err)
	}
	if info.IsDir() {
		return fmt.Errorf("%w: %s is a directory", ErrEntryNotFound, entry)
	}

	if a := d.Alias(); a != nil {
		for from, to := range a.Entries {
			if d.IsExternal(from) {
				continue
			}
			if err := d.checkAliasTarget(to); err != nil {
				return fmt.Errorf("alias %q: %w", from, err)
			}
		}
	}

	return nil
}

// ShadowedAliases returns the alias keys that are also declared external,
// sorted. The external declaration wins, so these entries never apply.
func (d *Descriptor) ShadowedAliases() []string {
	a := d.Alias()
	if a == nil {
		return nil
	}
	var out []string
	for from := range a.Entries {
		if d.IsExternal(from) {
			out = append(out, from)
		}
	}
	slices.Sort(out)
	return out
}

func (d *Descriptor) checkAliasTarget(target string) error {
	if strings.HasPrefix(target, ".") || filepath.IsAbs(target) {
		if _, err := os.Stat(d.Path(target)); err != nil {
			return fmt.Errorf("%w: %s", ErrAliasTargetMissing, target)
		}
		return nil
	}

	pkg := PackageName(target)
	if _, ok := FindPackage(d.Root, pkg); !ok {
		return fmt.Errorf("%w: package %q is not installed under %s", ErrAliasTargetMissing, pkg, d.Root)
	}
	return nil
}

// PackageName returns the package part of a bare module specifier,
// e.g. "vue" for "vue/dist/vue.esm.js" and "@scope/pkg" for "@scope/pkg/x".
func PackageName(specifier string) string {
	parts := strings.Split(specifier, "/")
	if strings.HasPrefix(specifier, "@") && len(parts) > 1 {
		return parts[0] + "/" + parts[1]
	}
	return parts[0]
}

// FindPackage walks from dir towards the filesystem root looking for
// node_modules/<pkg>, the way node resolution does.
func FindPackage(dir, pkg string) (string, bool) {
	for {
		candidate := filepath.Join(dir, "node_modules", filepath.FromSlash(pkg))
		if info, err := os.Stat(candidate); err == nil && info.IsDir() {
			return candidate, true
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", false
		}
		dir = parent
	}
}
