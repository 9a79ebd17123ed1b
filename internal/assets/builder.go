package assets

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/evanw/esbuild/pkg/api"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/svbundle/internal/copier"
	"github.com/wolfeidau/svbundle/internal/descriptor"
	"github.com/wolfeidau/svbundle/internal/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Build runs one complete pass: preflight, bundle, verify, emit and copy.
// Nothing is written unless every check before emit passes.
func (p *Pipeline) Build(ctx context.Context) (*Report, error) {
	p.build.Lock()
	defer p.build.Unlock()

	started := time.Now()
	buildID := uuid.New().String()

	logger := log.With().Str("build_id", buildID).Logger()
	ctx = logger.WithContext(ctx)

	ctx, span := telemetry.Tracer().Start(ctx, "svbundle.build", trace.WithAttributes(
		attribute.String("build.id", buildID),
		attribute.String("build.entry", p.desc.Input),
		attribute.String("build.format", p.desc.Output.Format),
	))
	defer span.End()

	metrics := telemetry.GetMetrics()

	report, err := p.run(ctx)
	duration := time.Since(started)

	metrics.BuildsTotal.Add(ctx, 1)
	metrics.BuildDuration.Record(ctx, float64(duration.Milliseconds()))

	if err != nil {
		metrics.BuildErrorsTotal.Add(ctx, 1)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Error().Err(err).Dur("duration", duration).Msg("Build failed")

		p.mu.Lock()
		p.failed = true
		p.mu.Unlock()

		return nil, err
	}

	report.BuildID = buildID
	report.Duration = duration

	p.mu.Lock()
	p.last = report
	p.failed = false
	p.mu.Unlock()

	metrics.BuildWarnings.Add(ctx, int64(len(report.Warnings)))

	logger.Info().
		Str("bundle", p.OutputPath()).
		Int("outputs", len(report.Artifacts)).
		Int("warnings", len(report.Warnings)).
		Dur("duration", duration).
		Msg("Build complete")

	return report, nil
}

func (p *Pipeline) run(ctx context.Context) (*Report, error) {
	report := &Report{}

	var plan *copier.Plan
	err := phase(ctx, "preflight", func(ctx context.Context) error {
		var err error
		plan, err = p.preflight(ctx, report)
		return err
	})
	if err != nil {
		return nil, err
	}

	bp := newBundlePlugin(p.desc, p.styles)

	var result api.BuildResult
	err = phase(ctx, "bundle", func(ctx context.Context) error {
		var err error
		result, err = p.bundle(ctx, bp, report)
		return err
	})
	if err != nil {
		return nil, err
	}

	var metadata BuildMetadata
	err = phase(ctx, "verify", func(ctx context.Context) error {
		if err := json.Unmarshal([]byte(result.Metafile), &metadata); err != nil {
			return fmt.Errorf("failed to parse metafile: %w", err)
		}
		return metadata.checkExternals(p.desc.Externals())
	})
	if err != nil {
		return nil, err
	}

	err = phase(ctx, "emit", func(ctx context.Context) error {
		return p.emit(ctx, result.OutputFiles, report)
	})
	if err != nil {
		return nil, err
	}

	if plan != nil {
		err = phase(ctx, "copy", func(ctx context.Context) error {
			return p.copy(ctx, plan, report)
		})
		if err != nil {
			return nil, err
		}
	}

	report.Inputs = p.inputs(&metadata, bp)

	counts := bp.transformCounts()
	for _, name := range slices.Sorted(maps.Keys(counts)) {
		telemetry.GetMetrics().ModulesTransforms.Add(ctx, int64(counts[name]),
			metric.WithAttributes(attribute.String("transform", name)))
	}

	return report, nil
}

func (p *Pipeline) preflight(ctx context.Context, report *Report) (*copier.Plan, error) {
	if err := p.desc.Validate(); err != nil {
		return nil, err
	}
	if err := p.desc.Preflight(); err != nil {
		return nil, err
	}

	for _, from := range p.desc.ShadowedAliases() {
		msg := fmt.Sprintf("alias %q is ignored: the module is declared external", from)
		zerolog.Ctx(ctx).Warn().Msg(msg)
		report.Warnings = append(report.Warnings, msg)
	}

	opts := p.desc.Copy()
	if opts == nil || p.config.SkipCopy {
		return nil, nil
	}

	plan, err := copier.NewPlan(p.desc.Root, opts.Targets)
	if err != nil {
		return nil, err
	}

	warnings, err := plan.Check(p.config.TolerateMissing)
	if err != nil {
		return nil, err
	}
	for _, w := range warnings {
		zerolog.Ctx(ctx).Warn().Msg(w)
	}
	report.Warnings = append(report.Warnings, warnings...)

	zerolog.Ctx(ctx).Debug().
		Int("files", len(plan.Items)).
		Int64("bytes", plan.Bytes()).
		Msg("Copy plan resolved")

	return plan, nil
}

func (p *Pipeline) bundle(ctx context.Context, bp *bundlePlugin, report *Report) (api.BuildResult, error) {
	if err := ctx.Err(); err != nil {
		return api.BuildResult{}, err
	}

	opts, err := p.buildOptions(bp)
	if err != nil {
		return api.BuildResult{}, err
	}

	zerolog.Ctx(ctx).Info().
		Str("entrypoint", p.desc.EntryPath()).
		Str("format", p.desc.Output.Format).
		Strs("external", opts.External).
		Msg("Bundling")

	result := api.Build(opts)

	for _, msg := range api.FormatMessages(result.Warnings, api.FormatMessagesOptions{Kind: api.WarningMessage}) {
		msg = strings.TrimSpace(msg)
		zerolog.Ctx(ctx).Warn().Msg(msg)
		report.Warnings = append(report.Warnings, msg)
	}

	if len(result.Errors) > 0 {
		for _, msg := range result.Errors {
			zerolog.Ctx(ctx).Error().Str("error", msg.Text).Msg("Build error")
		}
		formatted := api.FormatMessages(result.Errors, api.FormatMessagesOptions{Kind: api.ErrorMessage})
		errs := append([]error{
			fmt.Errorf("%w:\n%s", ErrBuildFailed, strings.TrimSpace(strings.Join(formatted, ""))),
		}, bp.failures()...)
		return result, errors.Join(errs...)
	}

	return result, nil
}

func (p *Pipeline) buildOptions(bp *bundlePlugin) (api.BuildOptions, error) {
	d := p.desc

	opts := api.BuildOptions{
		EntryPoints:       []string{d.EntryPath()},
		Outfile:           p.OutputPath(),
		AbsWorkingDir:     d.Root,
		Bundle:            true,
		Write:             false,
		Metafile:          true,
		LogLevel:          api.LogLevelSilent,
		External:          d.Externals(),
		TreeShaking:       api.TreeShakingTrue,
		MinifyWhitespace:  p.config.Minify,
		MinifyIdentifiers: p.config.Minify,
		MinifySyntax:      p.config.Minify,
		Sourcemap:         cond(d.Output.Sourcemap, api.SourceMapLinked, api.SourceMapNone),
		Plugins:           []api.Plugin{bp.plugin()},
	}

	switch d.Output.Format {
	case descriptor.FormatUMD:
		banner, footer, err := umdWrapper(d)
		if err != nil {
			return opts, err
		}
		opts.Format = api.FormatCommonJS
		opts.Banner = map[string]string{"js": banner}
		opts.Footer = map[string]string{"js": footer}
	case descriptor.FormatIIFE:
		opts.Format = api.FormatIIFE
		opts.GlobalName = d.Output.Name
	case descriptor.FormatESM:
		opts.Format = api.FormatESModule
	case descriptor.FormatCJS:
		opts.Format = api.FormatCommonJS
	default:
		return opts, fmt.Errorf("%w: unknown format %q", descriptor.ErrInvalidDescriptor, d.Output.Format)
	}

	resolve := d.Resolve()
	opts.Platform = cond(resolve != nil && resolve.Browser, api.PlatformBrowser, api.PlatformNeutral)
	opts.MainFields = cond(resolve != nil && resolve.Browser,
		[]string{"browser", "module", "main"},
		[]string{"module", "main"})
	if resolve != nil && len(resolve.MainFields) > 0 {
		opts.MainFields = resolve.MainFields
	}
	if resolve != nil && len(resolve.Extensions) > 0 {
		opts.ResolveExtensions = resolve.Extensions
	}

	if alias := d.Alias(); alias != nil {
		entries := maps.Clone(alias.Entries)
		for _, from := range d.ShadowedAliases() {
			delete(entries, from)
		}
		if len(entries) > 0 {
			opts.Alias = entries
		}
	}

	return opts, nil
}

func (p *Pipeline) emit(ctx context.Context, out []api.OutputFile, report *Report) error {
	files := make([]outputFile, 0, len(out))
	for _, f := range out {
		files = append(files, outputFile{path: f.Path, contents: f.Contents})
	}
	slices.SortFunc(files, func(a, b outputFile) int {
		return strings.Compare(a.path, b.path)
	})

	files, err := siblings(files, p.desc.Output.Compress)
	if err != nil {
		return err
	}

	bundle := p.OutputPath()
	manifest, err := newManifest(p.desc, bundle, files)
	if err != nil {
		return err
	}
	report.Manifest = manifest

	if name := p.desc.Output.Manifest; name != "" {
		data, err := manifest.Marshal()
		if err != nil {
			return fmt.Errorf("failed to encode manifest: %w", err)
		}
		files = append(files, outputFile{path: filepath.Join(filepath.Dir(bundle), name), contents: data})
	}

	artifacts, err := writeOutputs(files)
	report.Artifacts = artifacts
	if err != nil {
		return err
	}

	metrics := telemetry.GetMetrics()
	for _, a := range artifacts {
		metrics.OutputFilesTotal.Add(ctx, 1)
		metrics.OutputBytesTotal.Add(ctx, a.Bytes)
		zerolog.Ctx(ctx).Debug().Str("file", a.Path).Int64("bytes", a.Bytes).Msg("Wrote file")
	}

	return nil
}

func (p *Pipeline) copy(ctx context.Context, plan *copier.Plan, report *Report) error {
	opts := p.desc.Copy()

	res, err := copier.Execute(ctx, plan, copier.Options{
		CopyOnce: opts.CopyOnce,
		Verbose:  opts.Verbose,
	})
	if res != nil {
		metrics := telemetry.GetMetrics()
		metrics.FilesCopiedTotal.Add(ctx, int64(res.Copied))
		metrics.FilesSkippedTotal.Add(ctx, int64(res.Skipped))
		metrics.BytesCopiedTotal.Add(ctx, res.Bytes)
	}
	report.Copy = res
	if err != nil {
		return err
	}

	zerolog.Ctx(ctx).Info().
		Int("copied", res.Copied).
		Int("skipped", res.Skipped).
		Int64("bytes", res.Bytes).
		Msg("Copied static assets")

	return nil
}

// inputs lists the absolute paths of every file the build read.
func (p *Pipeline) inputs(m *BuildMetadata, bp *bundlePlugin) []string {
	seen := map[string]struct{}{}
	for input := range m.Inputs {
		// plugin namespaces are prefixed, e.g. svbundle-empty:fs
		if strings.Contains(input, ":") && !filepath.IsAbs(input) {
			continue
		}
		seen[p.desc.Path(input)] = struct{}{}
	}
	for _, f := range bp.watchedFiles() {
		seen[f] = struct{}{}
	}
	return slices.Sorted(maps.Keys(seen))
}

// checkExternals fails when any input lives inside an external package.
func (m *BuildMetadata) checkExternals(externals []string) error {
	var errs []error
	for _, input := range slices.Sorted(maps.Keys(m.Inputs)) {
		slashed := "/" + filepath.ToSlash(input)
		for _, ext := range externals {
			if strings.Contains(slashed, "/node_modules/"+ext+"/") {
				errs = append(errs, fmt.Errorf("%w: %s from %s", ErrExternalInlined, ext, input))
			}
		}
	}
	return errors.Join(errs...)
}

// phase runs fn inside its own span and records its duration.
func phase(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	ctx, span := telemetry.Tracer().Start(ctx, "svbundle."+name)
	defer span.End()

	started := time.Now()
	err := fn(ctx)
	elapsed := time.Since(started)

	telemetry.GetMetrics().PhaseDuration.Record(ctx, float64(elapsed.Milliseconds()),
		metric.WithAttributes(attribute.String("phase", name)))

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	zerolog.Ctx(ctx).Debug().Str("phase", name).Dur("duration", elapsed).Msg("Build phase complete")
	return nil
}

func cond[T any](condition bool, trueVal, falseVal T) T {
	if condition {
		return trueVal
	}
	return falseVal
}
