package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/require"
)

func TestSetupJSON(t *testing.T) {
	var buf bytes.Buffer
	l := setup(&buf, false)

	l.Debug().Msg("hidden")
	l.Info().Str("bundle", "dist/app.js").Msg("Build complete")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	require.Equal(t, "info", entry["level"])
	require.Equal(t, "dist/app.js", entry["bundle"])
	require.Equal(t, "Build complete", entry["message"])
	require.Contains(t, entry, "time")
	require.Contains(t, entry, "caller")
}

func TestSetupDev(t *testing.T) {
	var buf bytes.Buffer
	l := setup(&buf, true)

	require.Equal(t, zerolog.DebugLevel, l.GetLevel())

	l.Debug().Msg("Bundling")
	require.Contains(t, buf.String(), "Bundling")
	require.Contains(t, buf.String(), "DBG")
}

func TestInstall(t *testing.T) {
	prev := log.Logger
	prevCtx := zerolog.DefaultContextLogger
	t.Cleanup(func() {
		log.Logger = prev
		zerolog.DefaultContextLogger = prevCtx
	})

	var buf bytes.Buffer
	Install(setup(&buf, false))

	// a context without a logger falls back to the installed one
	zerolog.Ctx(context.Background()).Info().Msg("from context")
	require.Contains(t, buf.String(), "from context")
}
