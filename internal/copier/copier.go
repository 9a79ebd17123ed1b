// Package copier copies static assets next to a bundle. Sources are
// doublestar globs, entries prefixed with "!" exclude paths, and matched
// directories are copied recursively.
package copier

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/svbundle/internal/descriptor"
)

// ErrMissingSource indicates a copy source matched nothing
var ErrMissingSource = errors.New("copy source not found")

// Item is a single file copy.
type Item struct {
	Src  string
	Dest string
	Mode fs.FileMode
	Size int64
}

// Missing records a source pattern that matched nothing.
type Missing struct {
	Target   int
	Pattern  string
	Optional bool
}

func (m Missing) String() string {
	return fmt.Sprintf("copy.targets[%d]: %s", m.Target, m.Pattern)
}

// Plan is the resolved set of copies for a build. Items are sorted by
// destination so execution order is deterministic.
type Plan struct {
	Items   []Item
	Missing []Missing
}

// NewPlan expands the copy targets against root. Missing sources are
// recorded, not reported as errors; see Plan.Check.
func NewPlan(root string, targets []descriptor.CopyTarget) (*Plan, error) {
	plan := &Plan{}
	seen := map[string]bool{}

	for i, target := range targets {
		excludes := make([]string, 0, len(target.Src.Excludes()))
		for _, pat := range target.Src.Excludes() {
			excludes = append(excludes, absPattern(root, pat))
		}
		destDir := join(root, target.Dest)

		for _, pat := range target.Src.Includes() {
			matches, err := doublestar.FilepathGlob(absPattern(root, pat))
			if err != nil {
				return nil, fmt.Errorf("copy.targets[%d]: bad pattern %q: %w", i, pat, err)
			}
			if len(matches) == 0 {
				plan.Missing = append(plan.Missing, Missing{Target: i, Pattern: pat, Optional: target.Optional})
				continue
			}
			slices.Sort(matches)

			for _, match := range matches {
				if excluded(match, excludes) {
					continue
				}
				items, err := expand(match, filepath.Join(destDir, filepath.Base(match)), excludes)
				if err != nil {
					return nil, fmt.Errorf("copy.targets[%d]: %w", i, err)
				}
				for _, item := range items {
					// the first target that claims a destination wins
					if seen[item.Dest] {
						continue
					}
					seen[item.Dest] = true
					plan.Items = append(plan.Items, item)
				}
			}
		}
	}

	slices.SortFunc(plan.Items, func(a, b Item) int {
		return strings.Compare(a.Dest, b.Dest)
	})

	return plan, nil
}

// Check returns an error wrapping ErrMissingSource for every missing source
// that is not optional, and the remaining missing sources as warnings.
// tolerateMissing downgrades every missing source to a warning.
func (p *Plan) Check(tolerateMissing bool) (warnings []string, err error) {
	var errs []error
	for _, m := range p.Missing {
		if m.Optional || tolerateMissing {
			warnings = append(warnings, fmt.Sprintf("%s: %s", ErrMissingSource, m))
			continue
		}
		errs = append(errs, fmt.Errorf("%w: %s", ErrMissingSource, m))
	}
	return warnings, errors.Join(errs...)
}

// Covers reports whether path, absolute, is selected by one of the targets:
// matched by an include pattern or inside a matched directory, and not
// excluded. Unlike NewPlan it works for files that do not exist yet.
func Covers(root string, targets []descriptor.CopyTarget, path string) bool {
	slashed := filepath.ToSlash(path)
	for _, target := range targets {
		excludes := make([]string, 0, len(target.Src.Excludes()))
		for _, pat := range target.Src.Excludes() {
			excludes = append(excludes, absPattern(root, pat))
		}
		if excluded(path, excludes) {
			continue
		}
		for _, pat := range target.Src.Includes() {
			abs := absPattern(root, pat)
			if doublestar.MatchUnvalidated(abs, slashed) || doublestar.MatchUnvalidated(abs+"/**", slashed) {
				return true
			}
		}
	}
	return false
}

// Bytes is the total size of the planned copies.
func (p *Plan) Bytes() int64 {
	var total int64
	for _, item := range p.Items {
		total += item.Size
	}
	return total
}

// expand turns a matched path into file copies. Directories are walked and
// their excluded descendants pruned.
func expand(src, dest string, excludes []string) ([]Item, error) {
	info, err := os.Stat(src)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return []Item{{Src: src, Dest: dest, Mode: info.Mode().Perm(), Size: info.Size()}}, nil
	}

	var items []Item
	err = filepath.WalkDir(src, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if excluded(path, excludes) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}

		fi, err := os.Stat(path)
		if err != nil {
			return err
		}
		if !fi.Mode().IsRegular() {
			log.Debug().Str("path", path).Msg("Skipping non-regular file")
			return nil
		}

		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		items = append(items, Item{Src: path, Dest: filepath.Join(dest, rel), Mode: fi.Mode().Perm(), Size: fi.Size()})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk %s: %w", src, err)
	}
	return items, nil
}

// excluded reports whether path or one of its ancestors matches an
// exclusion pattern.
func excluded(path string, excludes []string) bool {
	if len(excludes) == 0 {
		return false
	}
	for p := path; ; p = filepath.Dir(p) {
		slashed := filepath.ToSlash(p)
		for _, pat := range excludes {
			if doublestar.MatchUnvalidated(pat, slashed) {
				return true
			}
		}
		if filepath.Dir(p) == p {
			return false
		}
	}
}

func absPattern(root, pattern string) string {
	return filepath.ToSlash(join(root, pattern))
}

func join(root, p string) string {
	if filepath.IsAbs(p) {
		return filepath.Clean(p)
	}
	return filepath.Join(root, filepath.FromSlash(p))
}

// Options controls plan execution.
type Options struct {
	// CopyOnce leaves destination files that already exist untouched.
	CopyOnce bool
	// Verbose logs every copy at info level instead of debug.
	Verbose bool
}

// Result summarises an execution.
type Result struct {
	Copied  int
	Skipped int
	Bytes   int64
}

// Execute performs the planned copies in order.
func Execute(ctx context.Context, plan *Plan, opts Options) (*Result, error) {
	res := &Result{}

	for _, item := range plan.Items {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		if opts.CopyOnce {
			if _, err := os.Lstat(item.Dest); err == nil {
				res.Skipped++
				log.Debug().Str("dest", item.Dest).Msg("Destination exists, skipping copy")
				continue
			}
		}

		n, err := copyFile(item)
		if err != nil {
			return res, err
		}
		res.Copied++
		res.Bytes += n

		ev := log.Debug()
		if opts.Verbose {
			ev = log.Info()
		}
		ev.Str("src", item.Src).Str("dest", item.Dest).Int64("bytes", n).Msg("Copied file")
	}

	return res, nil
}

func copyFile(item Item) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(item.Dest), 0o755); err != nil {
		return 0, fmt.Errorf("failed to create destination directory: %w", err)
	}

	src, err := os.Open(item.Src)
	if err != nil {
		return 0, fmt.Errorf("failed to open copy source: %w", err)
	}
	defer src.Close()

	mode := item.Mode
	if mode == 0 {
		mode = 0o644
	}

	dst, err := os.OpenFile(item.Dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return 0, fmt.Errorf("failed to create %s: %w", item.Dest, err)
	}

	n, err := io.Copy(dst, src)
	if err != nil {
		dst.Close()
		return n, fmt.Errorf("failed to copy %s: %w", item.Src, err)
	}

	if err := dst.Close(); err != nil {
		return n, fmt.Errorf("failed to close %s: %w", item.Dest, err)
	}

	return n, nil
}
