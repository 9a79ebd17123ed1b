package assets

import (
	"bytes"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/minio/crc64nvme"
	"github.com/mr-tron/base58"
	"github.com/wolfeidau/svbundle/internal/descriptor"
)

// Manifest describes the files produced by a build. It carries no
// timestamps, so identical inputs give byte-identical manifests.
type Manifest struct {
	Bundle string          `json:"bundle"`
	Format string          `json:"format"`
	Files  []ManifestEntry `json:"files"`
}

type ManifestEntry struct {
	// Path is relative to the bundle directory, slash separated.
	Path        string `json:"path"`
	Bytes       int64  `json:"bytes"`
	CRC64       string `json:"crc64nvme"`
	Fingerprint string `json:"fingerprint"`
}

// Marshal encodes the manifest as indented JSON.
func (m *Manifest) Marshal() ([]byte, error) {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

// ReadManifest loads a manifest written by a previous build.
func ReadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest %s: %w", path, err)
	}
	return &m, nil
}

type outputFile struct {
	path     string
	contents []byte
}

// siblings adds the precompressed variants of every bundle and stylesheet.
func siblings(files []outputFile, encodings []string) ([]outputFile, error) {
	if len(encodings) == 0 {
		return files, nil
	}

	out := slices.Clone(files)
	for _, f := range files {
		if !compressible(f.path) {
			continue
		}
		for _, enc := range encodings {
			data, ext, err := compress(enc, f.contents)
			if err != nil {
				return nil, fmt.Errorf("failed to compress %s: %w", f.path, err)
			}
			out = append(out, outputFile{path: f.path + ext, contents: data})
		}
	}
	return out, nil
}

func compressible(path string) bool {
	switch filepath.Ext(path) {
	case ".js", ".mjs", ".cjs", ".css":
		return true
	}
	return false
}

func compress(encoding string, data []byte) ([]byte, string, error) {
	switch encoding {
	case descriptor.EncodingGzip:
		var buf bytes.Buffer
		zw, err := gzip.NewWriterLevel(&buf, gzip.BestCompression)
		if err != nil {
			return nil, "", err
		}
		if _, err := zw.Write(data); err != nil {
			return nil, "", err
		}
		if err := zw.Close(); err != nil {
			return nil, "", err
		}
		return buf.Bytes(), ".gz", nil

	case descriptor.EncodingZstd:
		// a single encoder goroutine keeps the frame layout stable between runs
		enc, err := zstd.NewWriter(nil,
			zstd.WithEncoderLevel(zstd.SpeedBestCompression),
			zstd.WithEncoderConcurrency(1),
		)
		if err != nil {
			return nil, "", err
		}
		defer enc.Close()
		return enc.EncodeAll(data, nil), ".zst", nil
	}

	return nil, "", fmt.Errorf("unsupported encoding %q", encoding)
}

func newManifest(d *descriptor.Descriptor, bundle string, files []outputFile) (*Manifest, error) {
	dir := filepath.Dir(bundle)

	m := &Manifest{
		Bundle: filepath.Base(bundle),
		Format: d.Output.Format,
		Files:  make([]ManifestEntry, 0, len(files)),
	}

	for _, f := range files {
		rel, err := filepath.Rel(dir, f.path)
		if err != nil {
			return nil, fmt.Errorf("failed to relativise %s: %w", f.path, err)
		}

		hash := sha256.Sum256(f.contents)
		m.Files = append(m.Files, ManifestEntry{
			Path:        filepath.ToSlash(rel),
			Bytes:       int64(len(f.contents)),
			CRC64:       fmt.Sprintf("%016x", checksum(f.contents)),
			Fingerprint: base58.Encode(hash[:]),
		})
	}

	slices.SortFunc(m.Files, func(a, b ManifestEntry) int {
		return strings.Compare(a.Path, b.Path)
	})

	return m, nil
}

func checksum(data []byte) uint64 {
	h := crc64nvme.New()
	h.Write(data)
	return h.Sum64()
}

// writeOutputs writes every file, creating directories as needed.
func writeOutputs(files []outputFile) ([]Artifact, error) {
	artifacts := make([]Artifact, 0, len(files))
	for _, f := range files {
		if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
			return artifacts, fmt.Errorf("failed to create output directory: %w", err)
		}
		if err := os.WriteFile(f.path, f.contents, 0o644); err != nil { //nolint:gosec
			return artifacts, fmt.Errorf("failed to write %s: %w", f.path, err)
		}
		artifacts = append(artifacts, Artifact{Path: f.path, Bytes: int64(len(f.contents))})
	}
	return artifacts, nil
}
