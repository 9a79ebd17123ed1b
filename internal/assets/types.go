package assets

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/wolfeidau/svbundle/internal/copier"
	"github.com/wolfeidau/svbundle/internal/descriptor"
	"github.com/wolfeidau/svbundle/internal/style"
)

var (
	// ErrBuildFailed wraps the errors reported by esbuild.
	ErrBuildFailed = errors.New("bundle build failed")
	// ErrExternalInlined means code from an external module ended up in the bundle.
	ErrExternalInlined = errors.New("external module inlined into bundle")
)

// BuildMetadata is the subset of the esbuild metafile the pipeline reads.
type BuildMetadata struct {
	Inputs  map[string]InputInfo  `json:"inputs"`
	Outputs map[string]OutputInfo `json:"outputs"`
}

type InputInfo struct {
	Bytes   int          `json:"bytes"`
	Imports []ImportInfo `json:"imports"`
}

type OutputInfo struct {
	Bytes      int                   `json:"bytes"`
	EntryPoint string                `json:"entryPoint"`
	Inputs     map[string]InputBytes `json:"inputs"`
	Imports    []ImportInfo          `json:"imports"`
}

type InputBytes struct {
	BytesInOutput int `json:"bytesInOutput"`
}

type ImportInfo struct {
	Path     string `json:"path"`
	Kind     string `json:"kind"`
	External bool   `json:"external"`
}

// Artifact is a file written by a build.
type Artifact struct {
	Path  string
	Bytes int64
}

// Report summarises a successful build.
type Report struct {
	BuildID   string
	Artifacts []Artifact
	Manifest  *Manifest
	Copy      *copier.Result
	Warnings  []string
	Duration  time.Duration
	// Inputs lists every source file that took part in the build, used by
	// watch mode to decide whether a change is relevant.
	Inputs []string
}

// Pipeline builds one descriptor. Builds are serialised; a pipeline can be
// reused for repeated builds in watch mode. LastReport and Relevant never
// wait for a running build.
type Pipeline struct {
	desc     *descriptor.Descriptor
	config   Config
	styles   style.Compiler
	ownStyle bool

	build sync.Mutex

	mu     sync.RWMutex // guards last and failed
	last   *Report
	failed bool
}

// New creates a pipeline for the descriptor. A descriptor without a root is
// resolved against the working directory.
func New(desc *descriptor.Descriptor, config Config) (*Pipeline, error) {
	d := *desc
	if d.Root == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get working directory: %w", err)
		}
		d.Root = wd
	}
	root, err := filepath.Abs(d.Root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve descriptor root: %w", err)
	}
	d.Root = root

	p := &Pipeline{
		desc:   &d,
		config: config,
		styles: config.Styles,
	}

	if p.styles == nil {
		if opts := d.Styles(); opts != nil {
			p.styles = style.NewDartSass(style.Options{
				Binary:       opts.Compiler,
				IncludePaths: resolvePaths(&d, opts.IncludePaths),
				OutputStyle:  opts.OutputStyle,
			})
			p.ownStyle = true
		}
	}

	return p, nil
}

// Descriptor returns the descriptor the pipeline builds, with its root resolved.
func (p *Pipeline) Descriptor() *descriptor.Descriptor {
	return p.desc
}

// OutputPath is where the bundle is written, honouring Config.OutputDir.
func (p *Pipeline) OutputPath() string {
	if p.config.OutputDir != "" {
		return filepath.Join(p.config.OutputDir, filepath.Base(p.desc.OutputPath()))
	}
	return p.desc.OutputPath()
}

// LastReport returns the report of the most recent successful build, or nil.
func (p *Pipeline) LastReport() *Report {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.last
}

// Close releases the stylesheet compiler if the pipeline started one.
func (p *Pipeline) Close() error {
	if p.ownStyle && p.styles != nil {
		return p.styles.Close()
	}
	return nil
}

func resolvePaths(d *descriptor.Descriptor, paths []string) []string {
	out := make([]string, 0, len(paths))
	for _, path := range paths {
		out = append(out, d.Path(path))
	}
	return out
}
