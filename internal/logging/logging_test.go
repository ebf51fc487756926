package logging

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetLogger(t *testing.T) {
	prev := Logger()
	defer SetLogger(prev)

	var buf bytes.Buffer
	SetLogger(slog.New(slog.NewTextHandler(&buf, nil)))
	Logger().Info("frame analyzed", "seq", 3)
	assert.Contains(t, buf.String(), "seq=3")

	SetLogger(nil)
	assert.NotNil(t, Logger())
}

func TestSetup_File(t *testing.T) {
	prev := Logger()
	defer SetLogger(prev)

	path := filepath.Join(t.TempDir(), "logs", "irisguide.log")
	closer, err := Setup(Options{File: path})
	require.NoError(t, err)

	Logger().Debug("landmark lookup failed", "err", "timeout")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"landmark lookup failed"`)
}

func TestSetup_StderrLevel(t *testing.T) {
	prev := Logger()
	defer SetLogger(prev)

	closer, err := Setup(Options{})
	require.NoError(t, err)
	defer closer.Close()
	assert.False(t, Logger().Enabled(context.Background(), slog.LevelDebug))

	_, err = Setup(Options{Verbose: true})
	require.NoError(t, err)
	assert.True(t, Logger().Enabled(context.Background(), slog.LevelDebug))
}
