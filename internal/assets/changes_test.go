package assets

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRelevant(t *testing.T) {
	root := newProject(t)

	p, err := New(projectDescriptor(root), Config{Styles: &fakeStyles{}})
	require.NoError(t, err)
	defer p.Close()

	readme := filepath.Join(root, "README.md")
	require.Equal(t, []string{readme}, p.Relevant([]string{readme}), "before any build every change counts")

	_, err = p.Build(context.Background())
	require.NoError(t, err)

	tests := []struct {
		name     string
		path     string
		expected bool
	}{
		{name: "graph input", path: filepath.Join(root, "src", "main.js"), expected: true},
		{name: "shader import", path: filepath.Join(root, "shaders", "common.glsl"), expected: true},
		{name: "new shader", path: filepath.Join(root, "shaders", "tonemap.frag"), expected: true},
		{name: "sass partial", path: filepath.Join(root, "src", "_theme.scss"), expected: true},
		{name: "copy source", path: filepath.Join(root, "public", "index.html"), expected: true},
		{name: "new file under a copied directory", path: filepath.Join(root, "..", "assets", "models", "box.glb"), expected: true},
		{name: "unreferenced script", path: filepath.Join(root, "src", "unused.js"), expected: false},
		{name: "file beside a copy source", path: filepath.Join(root, "public", "other.html"), expected: false},
		{name: "unrelated file", path: readme, expected: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := p.Relevant([]string{tt.path})
			if tt.expected {
				require.Equal(t, []string{tt.path}, got)
			} else {
				require.Empty(t, got)
			}
		})
	}

	// a failed build makes every change relevant again
	require.NoError(t, os.Remove(filepath.Join(root, "src", "main.js")))
	_, err = p.Build(context.Background())
	require.Error(t, err)
	require.Equal(t, []string{readme}, p.Relevant([]string{readme}))
}

// gatedStyles blocks Compile once gate is set, until release is closed.
type gatedStyles struct {
	gate    atomic.Bool
	entered chan struct{}
	release chan struct{}
}

func (g *gatedStyles) Compile(path, source string) (string, error) {
	if g.gate.Load() {
		g.entered <- struct{}{}
		<-g.release
	}
	return ".viewer {}\n", nil
}

func (g *gatedStyles) Close() error { return nil }

func TestLastReportDuringBuild(t *testing.T) {
	root := newProject(t)
	styles := &gatedStyles{entered: make(chan struct{}, 1), release: make(chan struct{})}

	p, err := New(projectDescriptor(root), Config{Styles: styles})
	require.NoError(t, err)
	defer p.Close()

	first, err := p.Build(context.Background())
	require.NoError(t, err)

	styles.gate.Store(true)
	done := make(chan error, 1)
	go func() {
		_, err := p.Build(context.Background())
		done <- err
	}()

	select {
	case <-styles.entered:
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for the second build to start")
	}

	got := make(chan *Report, 1)
	go func() { got <- p.LastReport() }()

	select {
	case r := <-got:
		require.Same(t, first, r)
	case <-time.After(5 * time.Second):
		t.Fatal("LastReport waited for the running build")
	}

	require.Equal(t, []string{filepath.Join(root, "src", "main.js")}, p.Relevant([]string{filepath.Join(root, "src", "main.js")}))

	close(styles.release)
	require.NoError(t, <-done)
	require.NotSame(t, first, p.LastReport())
}
